package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/replay"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/store"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	dbPath := flag.String("db", "", "path to the shield store (DB mode)")
	version := flag.String("version", "", "stored version to replay against, default the active one")
	episode := flag.String("episode", "", "episode JSON: a list of {step_id, snapshot} (DB mode)")
	fallback := flag.String("fallback", "allow-all", "fallback policy in DB mode")
	flag.Parse()

	fixtureMode := *fixturePath != ""
	dbMode := *dbPath != "" && *episode != ""
	if fixtureMode == dbMode {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --db path/to/shields.db --episode steps.json [--version id] [--fallback deny-all]")
		os.Exit(2)
	}

	var exitCode int
	if fixtureMode {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath, *version, *episode, *fallback)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-mode

func runDBMode(dbPath, versionID, episodePath, fallback string) int {
	st, err := store.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer st.Close()

	if versionID == "" {
		rec, err := st.GetActive()
		if err != nil {
			fmt.Fprintf(os.Stderr, "find active shield: %v\n", err)
			return 2
		}
		versionID = rec.VersionID
	}
	table, err := st.LoadTable(versionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load shield: %v\n", err)
		return 2
	}

	policy, err := mask.ParsePolicy(fallback)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	data, err := os.ReadFile(episodePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read episode: %v\n", err)
		return 2
	}
	var steps []replay.FixtureStep
	if err := json.Unmarshal(data, &steps); err != nil {
		fmt.Fprintf(os.Stderr, "parse episode: %v\n", err)
		return 2
	}
	f := replay.Fixture{Steps: steps}

	srv := mask.NewServer(mask.Static{Table: table}, mask.Options{Policy: policy})
	results := replay.Replay(srv, f.ToSteps())
	printResults(results)
	printSummary(replay.Summarize(results))
	return 0
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	table, report, err := f.Shield.ToTable(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "build shield: %v\n", err)
		return 2
	}
	opts, err := f.Config.ToMaskOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture config: %v\n", err)
		return 2
	}
	printReport(table, report)

	results := replay.Replay(mask.NewServer(mask.Static{Table: table}, opts), f.ToSteps())
	printResults(results)
	printSummary(replay.Summarize(results))

	mismatches := replay.Compare(results, f.Expected)
	for _, m := range mismatches {
		fmt.Printf("DIFF %s: %s\n", m.StepID, m.Reason)
	}
	fmt.Printf("\n%d expected, %d diverge\n", len(f.Expected), len(mismatches))
	if len(mismatches) > 0 {
		return 1
	}
	return 0
}

// #endregion fixture-mode

// #region output

func printReport(t *shield.Table, r shield.Report) {
	fmt.Printf("Shield: %d states (records=%d filtered=%d dropped=%d duplicates=%d)\n\n",
		t.Len(), r.Records, r.Filtered, r.Dropped, r.Duplicates)
}

func printResults(results []replay.StepResult) {
	fmt.Printf("%-12s| %-15s| %-40s| %s\n", "Step", "Source", "Mask", "Overridden")
	fmt.Printf("%-12s+%-15s+%-40s+%s\n",
		"------------", "----------------", "-----------------------------------------", "-----------")
	for _, r := range results {
		over := make([]string, len(r.Overridden))
		for i, a := range r.Overridden {
			over[i] = a.String()
		}
		fmt.Printf("%-12s| %-15s| %-40s| %s\n", r.StepID, r.Source, formatMask(r.Mask), strings.Join(over, ","))
		if r.Reason != "" {
			fmt.Printf("%-12s  %s\n", "", r.Reason)
		}
	}
}

func printSummary(s replay.Summary) {
	fmt.Printf("\nSummary: %d steps, %d shielded, %d fallback, %d overridden, %d encoding errors\n",
		s.TotalSteps, s.Shielded, s.Fallbacks, s.Overridden, s.EncodingErrors)
}

func formatMask(m mask.ActionMask) string {
	parts := make([]string, len(m))
	for i, w := range m {
		parts[i] = fmt.Sprintf("%g", w)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// #endregion output

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", os.Getenv("GRIDSHIELD_DB"), "path to the shield store")
	last := flag.Int("last", 20, "show N most recent versions or builds")
	version := flag.String("version", "", "show single version detail")
	entries := flag.Bool("entries", false, "with --version, list every decision point")
	builds := flag.Bool("builds", false, "show the build log instead of versions")
	activate := flag.String("activate", "", "make a stored version the active shield")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/shields.db [--last N] [--version id [--entries]] [--builds] [--activate id] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch {
	case *activate != "":
		err = st.Activate(*activate)
		if err == nil {
			fmt.Printf("active shield: %s\n", *activate)
		}
	case *version != "":
		err = runDetailMode(st, *version, *entries, *jsonOut)
	case *builds:
		err = runBuildsMode(st, *last, *jsonOut)
	default:
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	VersionID   string `json:"version_id"`
	ParentID    string `json:"parent_id,omitempty"`
	Active      bool   `json:"active"`
	States      int    `json:"states"`
	Fingerprint string `json:"fingerprint"`
	Spec        string `json:"spec"`
	CreatedAt   string `json:"created_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	versions, err := st.ListVersions(last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}
	active := activeID(st)

	// Store returns DESC, reverse for chronological
	rows := make([]listRow, len(versions))
	for i, v := range versions {
		rows[len(versions)-1-i] = listRow{
			VersionID:   v.VersionID,
			ParentID:    v.ParentID,
			Active:      v.VersionID == active,
			States:      v.States,
			Fingerprint: v.Fingerprint,
			Spec:        v.Spec,
			CreatedAt:   v.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-1s %-12s  %8s  %-12s  %-20s  %s\n", "", "Version", "States", "Fingerprint", "Time", "Spec")
	fmt.Printf("%-1s %-12s+-%8s+-%-12s+-%-20s+-%s\n", "", "------------", "--------", "------------", "--------------------", "----")
	for _, r := range rows {
		mark := " "
		if r.Active {
			mark = "*"
		}
		fmt.Printf("%-1s %-12s  %8d  %-12s  %-20s  %s\n",
			mark, shortID(r.VersionID), r.States, shortID(r.Fingerprint), r.CreatedAt, r.Spec)
	}
	return nil
}

// #endregion list-mode

// #region builds-mode

func runBuildsMode(st *store.Store, last int, jsonOut bool) error {
	rows, err := st.ListBuilds(last)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no builds found")
		return nil
	}
	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-6s  %-14s  %-10s  %-12s  %-20s  %s\n", "ID", "Trigger", "Outcome", "Version", "Time", "Reason")
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		version := "—"
		if r.VersionID != "" {
			version = shortID(r.VersionID)
		}
		fmt.Printf("%-6d  %-14s  %-10s  %-12s  %-20s  %s\n",
			r.ID, r.Trigger, r.Outcome, version, r.CreatedAt.Format("2006-01-02T15:04:05Z"), oneLine(r.Reason))
	}
	return nil
}

// #endregion builds-mode

// #region detail-mode

type detailOutput struct {
	VersionID   string         `json:"version_id"`
	ParentID    string         `json:"parent_id"`
	Active      bool           `json:"active"`
	CreatedAt   string         `json:"created_at"`
	Fingerprint string         `json:"fingerprint"`
	Spec        string         `json:"spec"`
	FieldOrder  string         `json:"field_order"`
	States      int            `json:"states"`
	Report      *shield.Report `json:"report,omitempty"`
	Entries     []shield.Entry `json:"entries,omitempty"`
}

func runDetailMode(st *store.Store, versionID string, withEntries, jsonOut bool) error {
	rec, err := st.GetVersion(versionID)
	if err != nil {
		return err
	}
	out := detailOutput{
		VersionID:   rec.VersionID,
		ParentID:    rec.ParentID,
		Active:      rec.VersionID == activeID(st),
		CreatedAt:   rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Fingerprint: rec.Fingerprint,
		Spec:        rec.Spec,
		FieldOrder:  rec.Order.String(),
		States:      rec.States,
		Report:      parseReport(rec.ReportJSON),
	}
	if withEntries {
		table, err := st.LoadTable(versionID)
		if err != nil {
			return err
		}
		out.Entries = table.Entries()
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Version:     %s\n", out.VersionID)
	fmt.Printf("Parent:      %s\n", out.ParentID)
	fmt.Printf("Active:      %v\n", out.Active)
	fmt.Printf("Created:     %s\n", out.CreatedAt)
	fmt.Printf("Fingerprint: %s\n", out.Fingerprint)
	fmt.Printf("Spec:        %s\n", out.Spec)
	fmt.Printf("Field order: %s\n", out.FieldOrder)
	fmt.Printf("States:      %d\n", out.States)

	if out.Report != nil {
		fmt.Printf("\nBuild report:\n")
		fmt.Printf("  Records:    %d\n", out.Report.Records)
		fmt.Printf("  Filtered:   %d\n", out.Report.Filtered)
		fmt.Printf("  Dropped:    %d\n", out.Report.Dropped)
		fmt.Printf("  Duplicates: %d\n", out.Report.Duplicates)
		for _, w := range out.Report.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	if len(out.Entries) > 0 {
		fmt.Printf("\nEntries:\n")
		for _, e := range out.Entries {
			fmt.Printf("  %s  %s\n", e.Key, formatActions(e.Actions))
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func activeID(st *store.Store) string {
	rec, err := st.GetActive()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		return ""
	}
	return rec.VersionID
}

func parseReport(s string) *shield.Report {
	if s == "" {
		return nil
	}
	var r shield.Report
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil
	}
	return &r
}

func formatActions(actions []shield.PermittedAction) string {
	if len(actions) == 0 {
		return "(none)"
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = fmt.Sprintf("%s=%g", a.Action, a.Weight)
	}
	return strings.Join(parts, " ")
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/lifecycle"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/store"
)

var buildWorld string

// buildCmd runs the verifier pipeline for one grid world.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a shield for a grid world snapshot",
	Long: `Exports the grid, runs the model generator and checker, and builds the
shield table. With store.path configured the table is cached by world
fingerprint and every build attempt is recorded in the build log.

Example:
  shield build --world room.json --config gridshield.yaml`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildWorld, "world", "w", "", "snapshot JSON with layout and params")
	_ = buildCmd.MarkFlagRequired("world")
}

type buildOutput struct {
	ID          string        `json:"id"`
	Fingerprint string        `json:"fingerprint"`
	States      int           `json:"states"`
	Report      shield.Report `json:"report"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	snap, err := readSnapshot(buildWorld)
	if err != nil {
		return err
	}

	pipeline, closeChecker, err := cfg.Pipeline(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeChecker(); err != nil {
			logger.Warn("close checker", zap.Error(err))
		}
	}()

	var st *store.Store
	if cfg.Store.Path != "" {
		if st, err = store.NewStore(cfg.Store.Path); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	shieldOpts, err := cfg.ShieldOptions(logger)
	if err != nil {
		return err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	ctrl := lifecycle.New(lifecycle.Options{
		Spec:     cfg.Verifier.Safety,
		Mode:     mode,
		Shield:   shieldOpts,
		Verifier: pipeline,
		Store:    st,
		Logger:   logger,
	})
	// Retained workspaces are left on disk for inspection.
	if !cfg.Verifier.RetainFiles {
		defer ctrl.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := ctrl.Build(ctx, snap)
	if err != nil {
		return err
	}
	table := ctrl.Current()
	out := buildOutput{
		ID:          table.ID(),
		Fingerprint: table.Meta().Fingerprint,
		States:      table.Len(),
		Report:      report,
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "shield %s: %d states\n", out.ID, out.States)
	fmt.Fprintf(w, "  records=%d filtered=%d dropped=%d duplicates=%d\n",
		report.Records, report.Filtered, report.Dropped, report.Duplicates)
	for _, warn := range report.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	return nil
}

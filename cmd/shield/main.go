package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/config"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/logging"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOut    bool

	cfg    *config.Config
	logger *zap.Logger
)

// #region root
var rootCmd = &cobra.Command{
	Use:   "shield",
	Short: "Build and serve runtime safety shields for grid-world agents",
	Long: `shield turns a verifier's safety shield into per-step action masks.

A shield is built once per environment (or per episode) from the grid layout
and a safety specification, then queried at every decision step. States the
shield does not cover fall back to the configured policy.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.NewLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("GRIDSHIELD_CONFIG", "gridshield.yaml"), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(buildCmd, queryCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion root

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func readSnapshot(path string) (statekey.Snapshot, error) {
	var snap statekey.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snap, nil
}

type decisionJSON struct {
	Mask       []float64 `json:"mask"`
	Source     string    `json:"source"`
	Allowed    []string  `json:"allowed"`
	Overridden []string  `json:"overridden,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func toDecisionJSON(d mask.Decision) decisionJSON {
	out := decisionJSON{
		Mask:    d.Mask.Slice(),
		Source:  string(d.Source),
		Allowed: []string{},
	}
	for _, a := range d.Mask.Allowed() {
		out.Allowed = append(out.Allowed, a.String())
	}
	for _, a := range d.Overridden {
		out.Overridden = append(out.Overridden, a.String())
	}
	if d.Err != nil {
		out.Error = d.Err.Error()
	}
	return out
}

func printDecision(w io.Writer, d mask.Decision, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(toDecisionJSON(d))
	}
	_, err := fmt.Fprintf(w, "%-14s %s\n", d.Source, d.Mask)
	return err
}

// #endregion helpers

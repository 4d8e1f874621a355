package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/store"
)

var (
	queryShield    string
	queryVersion   string
	queryValuation string
	querySnapshot  string
)

// exampleValuation is the state used in the query help text.
const exampleValuation = "[!AgentDone & !Agent_is_carrying_object & xAgent=2 & yAgent=3 & viewAgent=1 & clock=0 & previousActionAgent=3]"

// queryCmd answers one mask query against a shield export or stored version.
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the action mask for one state",
	Long: `Loads a shield and prints the mask for a single state, given either as a
verifier valuation or as a snapshot JSON file. Snapshot queries also apply the
override rules.

Examples:
  shield query --shield shield.txt --valuation "` + exampleValuation + `"
  shield query --version 3f2a... --snapshot step.json --json`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryShield, "shield", "s", "", "shield text export")
	queryCmd.Flags().StringVar(&queryVersion, "version", "", "stored shield version id")
	queryCmd.Flags().StringVar(&queryValuation, "valuation", "", "verifier state valuation")
	queryCmd.Flags().StringVar(&querySnapshot, "snapshot", "", "snapshot JSON file")
	queryCmd.MarkFlagsMutuallyExclusive("shield", "version")
	queryCmd.MarkFlagsOneRequired("shield", "version")
	queryCmd.MarkFlagsMutuallyExclusive("valuation", "snapshot")
	queryCmd.MarkFlagsOneRequired("valuation", "snapshot")
}

func runQuery(cmd *cobra.Command, args []string) error {
	table, err := loadQueryTable(cmd)
	if err != nil {
		return err
	}
	maskOpts, err := cfg.MaskOptions(logger)
	if err != nil {
		return err
	}

	var d mask.Decision
	if queryValuation != "" {
		k, err := statekey.Decode(queryValuation, table.Order(), cfg.Shield.Filter)
		if err != nil {
			return fmt.Errorf("decode valuation: %w", err)
		}
		d.Key = k
		d.Mask, d.Source = mask.Lookup(k, table, maskOpts.Policy)
	} else {
		snap, err := readSnapshot(querySnapshot)
		if err != nil {
			return err
		}
		d = mask.NewServer(mask.Static{Table: table}, maskOpts).Explain(snap)
	}
	return printDecision(cmd.OutOrStdout(), d, jsonOut)
}

func loadQueryTable(cmd *cobra.Command) (*shield.Table, error) {
	if queryVersion != "" {
		if cfg.Store.Path == "" {
			return nil, errors.New("--version needs store.path in the config")
		}
		st, err := store.NewStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		return st.LoadTable(queryVersion)
	}

	text, err := shield.LoadText(queryShield, cfg.Shield.HeaderLines, cfg.Shield.FooterLines)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.ShieldOptions(logger)
	if err != nil {
		return nil, err
	}
	table, _, err := shield.Build(cmd.Context(), text, opts)
	return table, err
}

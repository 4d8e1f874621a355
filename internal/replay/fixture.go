package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string          `json:"description"`
	Shield      FixtureShield   `json:"shield"`
	Config      FixtureConfig   `json:"config"`
	Steps       []FixtureStep   `json:"steps"`
	Expected    []FixtureExpect `json:"expected_results"`
}

// FixtureShield carries the verifier export the episode is replayed against.
// Lines hold the export verbatim, header and footer included.
type FixtureShield struct {
	FieldOrder  statekey.FieldOrder `json:"field_order"`
	HeaderLines *int                `json:"header_lines,omitempty"`
	FooterLines *int                `json:"footer_lines,omitempty"`
	Lines       []string            `json:"lines"`
}

// FixtureConfig mirrors the mask server settings with JSON tags.
type FixtureConfig struct {
	Fallback  string   `json:"fallback"`
	Disabled  bool     `json:"disabled"`
	Overrides []string `json:"overrides"`
}

// FixtureStep is one recorded decision point.
type FixtureStep struct {
	StepID   string            `json:"step_id"`
	Snapshot statekey.Snapshot `json:"snapshot"`
}

// FixtureExpect captures the expected mask and source per step.
type FixtureExpect struct {
	StepID string     `json:"step_id"`
	Source string     `json:"source"`
	Mask   *[]float64 `json:"mask,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToTable builds the fixture's shield table.
func (fs *FixtureShield) ToTable(ctx context.Context) (*shield.Table, shield.Report, error) {
	header, footer := shield.DefaultHeaderLines, shield.DefaultFooterLines
	if fs.HeaderLines != nil {
		header = *fs.HeaderLines
	}
	if fs.FooterLines != nil {
		footer = *fs.FooterLines
	}
	text := shield.NewText("fixture", []byte(strings.Join(fs.Lines, "\n")+"\n"))
	text.HeaderLines, text.FooterLines = header, footer
	return shield.Build(ctx, text, shield.DefaultOptions(fs.FieldOrder))
}

// ToMaskOptions converts a FixtureConfig to server options.
func (fc *FixtureConfig) ToMaskOptions() (mask.Options, error) {
	policy := mask.AllowAll
	if fc.Fallback != "" {
		p, err := mask.ParsePolicy(fc.Fallback)
		if err != nil {
			return mask.Options{}, err
		}
		policy = p
	}
	opts := mask.Options{Policy: policy, Disabled: fc.Disabled}
	if fc.Overrides == nil {
		return opts, nil
	}
	known := make(map[string]mask.Rule)
	for _, r := range mask.DefaultRules() {
		known[r.Name()] = r
	}
	opts.Rules = make([]mask.Rule, 0, len(fc.Overrides))
	for _, name := range fc.Overrides {
		r, ok := known[name]
		if !ok {
			return mask.Options{}, fmt.Errorf("unknown override %q", name)
		}
		opts.Rules = append(opts.Rules, r)
	}
	return opts, nil
}

// ToSteps converts fixture steps to replay steps.
func (f *Fixture) ToSteps() []Step {
	steps := make([]Step, len(f.Steps))
	for i, fs := range f.Steps {
		steps[i] = Step{ID: fs.StepID, Snapshot: fs.Snapshot}
	}
	return steps
}

// #endregion fixture-loader

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/lifecycle"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/logging"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/verifier"
)

// #region types
// Config holds all shield runtime configuration.
type Config struct {
	Verifier  VerifierConfig  `yaml:"verifier"`
	Shield    ShieldConfig    `yaml:"shield"`
	Mask      MaskConfig      `yaml:"mask"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Store     StoreConfig     `yaml:"store"`
	Logging   logging.Config  `yaml:"logging"`
}

// VerifierConfig configures model generation and checking.
type VerifierConfig struct {
	Generator       string              `yaml:"generator"`        // model generator binary
	GeneratorConfig string              `yaml:"generator_config"` // passed as -c
	PrebuiltModel   string              `yaml:"prebuilt_model"`   // skip the generator
	CheckerCommand  []string            `yaml:"checker_command"`  // argv with {model} {formula} {output} {value} {comparison}
	RemoteAddr      string              `yaml:"remote_addr"`      // gRPC sidecar, wins over checker_command
	WorkspaceRoot   string              `yaml:"workspace_root"`
	RetainFiles     bool                `yaml:"retain_files"`
	Safety          verifier.SafetySpec `yaml:"safety"`
}

// ShieldConfig configures table construction.
type ShieldConfig struct {
	FieldOrder  statekey.FieldOrder `yaml:"field_order"`
	Filter      statekey.Filter     `yaml:"filter"`
	Labels      map[string]string   `yaml:"labels"` // exact label -> action name
	Verbs       map[string]string   `yaml:"verbs"`  // extra token verbs -> action name
	HeaderLines int                 `yaml:"header_lines"`
	FooterLines int                 `yaml:"footer_lines"`
	Parallelism int                 `yaml:"parallelism"`
}

// MaskConfig configures the query side.
type MaskConfig struct {
	Fallback  string   `yaml:"fallback"` // allow-all or deny-all
	Disabled  bool     `yaml:"disabled"`
	Overrides []string `yaml:"overrides"` // rule names, nil = defaults
}

// LifecycleConfig configures rebuild behavior.
type LifecycleConfig struct {
	Mode       string `yaml:"mode"` // per-environment or per-episode
	DebounceMS int    `yaml:"debounce_ms"`
}

// StoreConfig configures the SQLite shield cache.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables the cache
}

// #endregion types

// #region defaults
// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Verifier: VerifierConfig{
			Generator: "Minigrid2PRISM",
			Safety: verifier.SafetySpec{
				Formula:    "Pmax=? [G !AgentIsOnLava]",
				Value:      0.9,
				Comparison: verifier.ComparisonRelative,
			},
		},
		Shield: ShieldConfig{
			Filter:      statekey.DefaultFilter(),
			HeaderLines: shield.DefaultHeaderLines,
			FooterLines: shield.DefaultFooterLines,
		},
		Mask: MaskConfig{
			Fallback: mask.AllowAll.String(),
		},
		Lifecycle: LifecycleConfig{
			Mode:       lifecycle.PerEnvironment.String(),
			DebounceMS: int(lifecycle.DefaultDebounce / time.Millisecond),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// #endregion defaults

// #region load
// Load reads a YAML config over the defaults. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from GRIDSHIELD_* environment variables.
func (c *Config) ApplyEnv() {
	c.Store.Path = envOr("GRIDSHIELD_DB", c.Store.Path)
	c.Verifier.Generator = envOr("GRIDSHIELD_GENERATOR", c.Verifier.Generator)
	c.Verifier.RemoteAddr = envOr("GRIDSHIELD_VERIFIER_ADDR", c.Verifier.RemoteAddr)
	c.Logging.Level = envOr("GRIDSHIELD_LOG_LEVEL", c.Logging.Level)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
// Validate checks every section can be converted.
func (c *Config) Validate() error {
	if err := c.Shield.FieldOrder.Validate(); err != nil {
		return err
	}
	if _, err := c.Vocabulary(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Rules(); err != nil {
		return err
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.Shield.HeaderLines < 0 || c.Shield.FooterLines < 0 {
		return errors.New("shield: header and footer line counts must not be negative")
	}
	if c.Verifier.RemoteAddr == "" && c.Verifier.PrebuiltModel == "" && c.Verifier.Generator == "" {
		return errors.New("verifier: generator or prebuilt_model is required")
	}
	return c.Verifier.Safety.Validate()
}

// #endregion validate

// #region conversions
// Vocabulary builds the label resolver from the configured tables.
func (c *Config) Vocabulary() (*action.Vocabulary, error) {
	labels, err := parseActions(c.Shield.Labels)
	if err != nil {
		return nil, fmt.Errorf("shield labels: %w", err)
	}
	verbs := action.DefaultVerbs()
	extra, err := parseActions(c.Shield.Verbs)
	if err != nil {
		return nil, fmt.Errorf("shield verbs: %w", err)
	}
	for k, a := range extra {
		verbs[k] = a
	}
	return action.NewVocabulary(labels, verbs)
}

// ShieldOptions returns builder options for the configured field order.
func (c *Config) ShieldOptions(log *zap.Logger) (shield.Options, error) {
	vocab, err := c.Vocabulary()
	if err != nil {
		return shield.Options{}, err
	}
	return shield.Options{
		Order:       c.Shield.FieldOrder,
		Filter:      c.Shield.Filter,
		Vocabulary:  vocab,
		Parallelism: c.Shield.Parallelism,
		Logger:      log,
	}, nil
}

// Policy parses the fallback policy.
func (c *Config) Policy() (mask.Policy, error) {
	return mask.ParsePolicy(c.Mask.Fallback)
}

// Rules resolves override names. Nil means the default rules.
func (c *Config) Rules() ([]mask.Rule, error) {
	if c.Mask.Overrides == nil {
		return mask.DefaultRules(), nil
	}
	known := make(map[string]mask.Rule)
	for _, r := range mask.DefaultRules() {
		known[r.Name()] = r
	}
	rules := make([]mask.Rule, 0, len(c.Mask.Overrides))
	for _, name := range c.Mask.Overrides {
		r, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("mask: unknown override %q", name)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// MaskOptions returns server options.
func (c *Config) MaskOptions(log *zap.Logger) (mask.Options, error) {
	policy, err := c.Policy()
	if err != nil {
		return mask.Options{}, err
	}
	rules, err := c.Rules()
	if err != nil {
		return mask.Options{}, err
	}
	return mask.Options{Policy: policy, Rules: rules, Disabled: c.Mask.Disabled, Logger: log}, nil
}

// Mode parses the lifecycle mode.
func (c *Config) Mode() (lifecycle.Mode, error) {
	return lifecycle.ParseMode(c.Lifecycle.Mode)
}

// Debounce returns the watcher debounce interval.
func (c *Config) Debounce() time.Duration {
	if c.Lifecycle.DebounceMS <= 0 {
		return lifecycle.DefaultDebounce
	}
	return time.Duration(c.Lifecycle.DebounceMS) * time.Millisecond
}

// Pipeline assembles the verifier pipeline. The returned close function
// releases the sidecar connection, if any.
func (c *Config) Pipeline(log *zap.Logger) (*verifier.Pipeline, func() error, error) {
	gen := &verifier.Generator{
		Binary:        c.Verifier.Generator,
		ConfigFile:    c.Verifier.GeneratorConfig,
		PrebuiltModel: c.Verifier.PrebuiltModel,
		Logger:        log,
	}
	p := &verifier.Pipeline{
		Generator: gen,
		Root:      c.Verifier.WorkspaceRoot,
		Retain:    c.Verifier.RetainFiles,
		Logger:    log,
	}
	closeFn := func() error { return nil }

	switch {
	case c.Verifier.RemoteAddr != "":
		rc, err := verifier.NewRemoteChecker(c.Verifier.RemoteAddr)
		if err != nil {
			return nil, nil, err
		}
		p.Checker = rc
		closeFn = rc.Close
	case len(c.Verifier.CheckerCommand) > 0:
		p.Checker = &verifier.CommandChecker{
			Command:     c.Verifier.CheckerCommand,
			HeaderLines: c.Shield.HeaderLines,
			FooterLines: c.Shield.FooterLines,
			Logger:      log,
		}
	default:
		return nil, nil, errors.New("verifier: set checker_command or remote_addr")
	}
	return p, closeFn, nil
}

func parseActions(m map[string]string) (map[string]action.Action, error) {
	out := make(map[string]action.Action, len(m))
	for k, name := range m {
		a, err := action.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = a
	}
	return out, nil
}

// #endregion conversions

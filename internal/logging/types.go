package logging

import "time"

// #region build-entry
// Build triggers.
const (
	TriggerBuild = "build"
	TriggerReset = "episode_reset"
	TriggerLoad  = "load"
	TriggerWatch = "watch"
)

// Build outcomes.
const (
	OutcomeBuilt    = "built"
	OutcomeCacheHit = "cache_hit"
	OutcomeFailed   = "failed"
)

// BuildEntry is a single row in the build_log table.
type BuildEntry struct {
	VersionID   string
	Fingerprint string
	Trigger     string
	Outcome     string
	Reason      string
	CountsJSON  string
	CreatedAt   time.Time
}

// #endregion build-entry

// #region config
// Config selects the logger flavor.
type Config struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json or console
	Development bool   `yaml:"development"`
}

// #endregion config

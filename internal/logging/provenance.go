package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region log-build
// LogBuild writes a provenance entry to the build_log table.
func LogBuild(db *sql.DB, entry BuildEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO build_log (version_id, fingerprint, trigger_type, outcome, reason, counts_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.VersionID),
		nullIfEmpty(entry.Fingerprint),
		entry.Trigger,
		entry.Outcome,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.CountsJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log build: %w", err)
	}
	return nil
}

// Counts marshals a build report (or any value) for BuildEntry.CountsJSON.
// Marshal failures yield an empty string so logging never blocks a build.
func Counts(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// #endregion log-build

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers

package store

import (
	"time"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region shield-record
// ShieldRecord describes one persisted shield table version.
type ShieldRecord struct {
	VersionID   string
	ParentID    string
	Fingerprint string
	Spec        string
	Order       statekey.FieldOrder
	States      int
	CreatedAt   time.Time
	ReportJSON  string
}

// #endregion shield-record

// #region build-row
// BuildRow is one build_log row, newest first when listed.
type BuildRow struct {
	ID          int64
	VersionID   string
	Fingerprint string
	Trigger     string
	Outcome     string
	Reason      string
	CountsJSON  string
	CreatedAt   time.Time
}

// #endregion build-row

package shield

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region permitted-action
// PermittedAction is one action the verifier allows in a state.
type PermittedAction struct {
	Action action.Action `json:"action"`
	Weight float64       `json:"weight"` // probability, 1.0 for binary shields
	Label  string        `json:"label"`  // verifier choice labels, diagnostics only
}

// Entry pairs a state key with its permitted actions, ordered by action index.
type Entry struct {
	Key     statekey.Key      `json:"key"`
	Actions []PermittedAction `json:"actions"`
}

// #endregion permitted-action

// #region raw-record
// RawChoice is one verifier choice before label resolution.
type RawChoice struct {
	Weight float64
	Labels []string
}

// RawRecord is one decision point as delivered by an ingestion adapter.
// Err is set when the adapter could not parse the record; such records are
// dropped by Build and counted in the report.
type RawRecord struct {
	Source    string // "file:line" or "state:<id>", for diagnostics
	Valuation string
	Choices   []RawChoice
	Err       error
}

// Artifact is verifier output that can be turned into raw records.
// ChoiceMap and Text are the two implementations.
type Artifact interface {
	Records(ctx context.Context) ([]RawRecord, error)
}

// #endregion raw-record

// #region report
// Report summarizes one build.
type Report struct {
	Records    int      `json:"records"`
	Accepted   int      `json:"accepted"`
	Filtered   int      `json:"filtered"`   // bookkeeping states
	Dropped    int      `json:"dropped"`    // malformed records
	Duplicates int      `json:"duplicates"` // repeated keys, first kept
	Warnings   []string `json:"warnings,omitempty"`
	DropErrors []string `json:"drop_errors,omitempty"` // first few parse errors
}

// maxDropSamples bounds Report.DropErrors.
const maxDropSamples = 10

// #endregion report

// #region errors
// ErrEmptyShield is returned when no valid decision point survives the build.
var ErrEmptyShield = errors.New("shield has no valid records")

// RecordError locates a fatal per-record failure.
type RecordError struct {
	Source string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.Source, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// #endregion errors

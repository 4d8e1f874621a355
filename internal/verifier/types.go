package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
)

// #region safety-spec
// Comparison modes for the shield value threshold.
const (
	ComparisonAbsolute = "absolute"
	ComparisonRelative = "relative"
)

// SafetySpec is the safety property handed to the model checker.
type SafetySpec struct {
	Formula    string  `json:"formula" yaml:"formula"`       // e.g. Pmax=? [G !AgentIsOnLava]
	Value      float64 `json:"value" yaml:"value"`           // shield threshold
	Comparison string  `json:"comparison" yaml:"comparison"` // absolute or relative
}

// Validate checks the formula is present and the threshold is usable.
func (s SafetySpec) Validate() error {
	if strings.TrimSpace(s.Formula) == "" {
		return errors.New("safety spec: empty formula")
	}
	if s.Value < 0 || s.Value > 1 {
		return fmt.Errorf("safety spec: value %v outside [0,1]", s.Value)
	}
	switch s.Comparison {
	case ComparisonAbsolute, ComparisonRelative:
	default:
		return fmt.Errorf("safety spec: unknown comparison %q", s.Comparison)
	}
	return nil
}

// Key returns a stable string form for fingerprints and provenance.
func (s SafetySpec) Key() string {
	return fmt.Sprintf("%s|%s|%g", strings.TrimSpace(s.Formula), s.Comparison, s.Value)
}

// #endregion safety-spec

// #region checker
// Checker computes a shield for a generated model.
type Checker interface {
	Check(ctx context.Context, modelFile string, spec SafetySpec) (shield.Artifact, error)
}

// #endregion checker

// #region errors
// ErrExternalTool is wrapped by every failure of an external process or service.
var ErrExternalTool = errors.New("external tool failed")

// ExternalToolError reports a failed generator, checker command or sidecar call.
// ExitCode is -1 when the tool never ran or is not a process.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s: exit %d", e.Tool, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExternalToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalTool}
	}
	return []error{ErrExternalTool, e.Err}
}

// #endregion errors

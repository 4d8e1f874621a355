package replay

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region types
// Step represents a single recorded decision point for replay.
type Step struct {
	ID       string
	Snapshot statekey.Snapshot
}

// StepResult captures the mask served for one step.
type StepResult struct {
	StepID     string
	Mask       mask.ActionMask
	Source     mask.Source
	Overridden []action.Action
	Reason     string // encoding error, if any
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalSteps     int                 `json:"total_steps"`
	Shielded       int                 `json:"shielded"`
	Fallbacks      int                 `json:"fallbacks"` // any non-shield source
	Overridden     int                 `json:"overridden"`
	EncodingErrors int                 `json:"encoding_errors"`
	BySource       map[mask.Source]int `json:"by_source"`
}

// Mismatch describes a step whose result differs from the fixture.
type Mismatch struct {
	StepID string
	Reason string
}

// #endregion types

// #region replay
// Replay queries the server once per step, in order. The server's table is
// whatever its provider publishes at the time of each query.
func Replay(srv *mask.Server, steps []Step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for _, st := range steps {
		d := srv.Explain(st.Snapshot)
		r := StepResult{
			StepID:     st.ID,
			Mask:       d.Mask,
			Source:     d.Source,
			Overridden: d.Overridden,
		}
		if d.Err != nil {
			r.Reason = d.Err.Error()
		}
		results = append(results, r)
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []StepResult) Summary {
	s := Summary{
		TotalSteps: len(results),
		BySource:   make(map[mask.Source]int),
	}
	for _, r := range results {
		s.BySource[r.Source]++
		if r.Source.Shielded() {
			s.Shielded++
		} else {
			s.Fallbacks++
		}
		if r.Source == mask.SourceEncodingError {
			s.EncodingErrors++
		}
		if len(r.Overridden) > 0 {
			s.Overridden++
		}
	}
	return s
}

// Compare checks results against the fixture's expectations, step by step.
func Compare(results []StepResult, expected []FixtureExpect) []Mismatch {
	var out []Mismatch
	if len(results) != len(expected) {
		out = append(out, Mismatch{Reason: fmt.Sprintf("expected %d results, got %d", len(expected), len(results))})
	}
	n := min(len(results), len(expected))
	for i := 0; i < n; i++ {
		got, want := results[i], expected[i]
		if want.StepID != "" && got.StepID != want.StepID {
			out = append(out, Mismatch{StepID: got.StepID, Reason: fmt.Sprintf("step %d: expected step_id=%s", i, want.StepID)})
			continue
		}
		if want.Source != "" && string(got.Source) != want.Source {
			out = append(out, Mismatch{StepID: got.StepID, Reason: fmt.Sprintf("expected source=%s, got %s", want.Source, got.Source)})
		}
		if want.Mask != nil && !sameMask(got.Mask, *want.Mask) {
			out = append(out, Mismatch{StepID: got.StepID, Reason: fmt.Sprintf("expected mask=%v, got %v", *want.Mask, got.Mask.Slice())})
		}
	}
	return out
}

func sameMask(m mask.ActionMask, want []float64) bool {
	if len(want) != action.Count {
		return false
	}
	for i, w := range want {
		if math.Abs(m[i]-w) > 1e-9 {
			return false
		}
	}
	return true
}

// #endregion replay

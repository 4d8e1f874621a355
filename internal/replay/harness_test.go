package replay

import (
	"testing"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region helpers
func oneCellTable(t *testing.T) *shield.Table {
	t.Helper()
	table, err := shield.NewTable(shield.Meta{}, []shield.Entry{
		{Key: statekey.Key{X: 1, Y: 1}, Actions: []shield.PermittedAction{{Action: action.Forward, Weight: 1}}},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func steps(snaps ...statekey.Snapshot) []Step {
	out := make([]Step, len(snaps))
	for i, s := range snaps {
		out[i] = Step{ID: string(rune('a' + i)), Snapshot: s}
	}
	return out
}

// #endregion helpers

// #region replay-tests

// 1. Shielded step: the table's entry is served unchanged.
func TestReplay_Shielded(t *testing.T) {
	srv := mask.NewServer(mask.Static{Table: oneCellTable(t)}, mask.Options{})
	results := Replay(srv, steps(statekey.Snapshot{X: 1, Y: 1}))

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Source != mask.SourceShield {
		t.Errorf("expected source=shield, got %s", r.Source)
	}
	if r.Mask != (mask.ActionMask{0, 0, 1, 0, 0, 0, 0}) {
		t.Errorf("unexpected mask %v", r.Mask)
	}
	if r.Reason != "" {
		t.Errorf("expected no reason, got %q", r.Reason)
	}
}

// 2. Override: a key ahead raises pickup on top of the shield entry.
func TestReplay_Override(t *testing.T) {
	srv := mask.NewServer(mask.Static{Table: oneCellTable(t)}, mask.Options{})
	results := Replay(srv, steps(statekey.Snapshot{X: 1, Y: 1, Front: statekey.TileKey}))

	r := results[0]
	if len(r.Overridden) != 1 || r.Overridden[0] != action.Pickup {
		t.Fatalf("expected pickup override, got %v", r.Overridden)
	}
	if r.Mask[action.Pickup] != 1 || r.Mask[action.Forward] != 1 {
		t.Errorf("unexpected mask %v", r.Mask)
	}
}

// 3. Encoding error: the reason carries the encoder's message.
func TestReplay_EncodingError(t *testing.T) {
	srv := mask.NewServer(mask.Static{Table: oneCellTable(t)}, mask.Options{})
	results := Replay(srv, steps(statekey.Snapshot{X: 1, Y: 1, Dir: 9}))

	r := results[0]
	if r.Source != mask.SourceEncodingError {
		t.Errorf("expected encoding-error, got %s", r.Source)
	}
	if r.Reason == "" {
		t.Error("expected reason to be populated")
	}
	if r.Mask != mask.AllowAllMask() {
		t.Errorf("expected allow-all fallback, got %v", r.Mask)
	}
}

// 4. No table: every step falls back.
func TestReplay_NoTable(t *testing.T) {
	srv := mask.NewServer(mask.Static{}, mask.Options{Policy: mask.DenyAll, Rules: []mask.Rule{}})
	results := Replay(srv, steps(statekey.Snapshot{X: 1, Y: 1}, statekey.Snapshot{X: 2, Y: 2}))

	for _, r := range results {
		if r.Source != mask.SourceNoTable {
			t.Errorf("step %s: expected no-table, got %s", r.StepID, r.Source)
		}
		if r.Mask != (mask.ActionMask{}) {
			t.Errorf("step %s: expected deny-all mask, got %v", r.StepID, r.Mask)
		}
	}
}

// #endregion replay-tests

// #region summary-tests
func TestSummarize(t *testing.T) {
	srv := mask.NewServer(mask.Static{Table: oneCellTable(t)}, mask.Options{})
	results := Replay(srv, steps(
		statekey.Snapshot{X: 1, Y: 1},
		statekey.Snapshot{X: 1, Y: 1, Front: statekey.TileDoor},
		statekey.Snapshot{X: 3, Y: 3},
		statekey.Snapshot{X: 1, Y: 1, Dir: -1},
	))
	s := Summarize(results)

	if s.TotalSteps != 4 {
		t.Errorf("expected 4 steps, got %d", s.TotalSteps)
	}
	if s.Shielded != 2 || s.Fallbacks != 2 {
		t.Errorf("expected 2 shielded / 2 fallbacks, got %d / %d", s.Shielded, s.Fallbacks)
	}
	if s.Overridden != 1 {
		t.Errorf("expected 1 overridden, got %d", s.Overridden)
	}
	if s.BySource[mask.SourceFallback] != 1 || s.BySource[mask.SourceEncodingError] != 1 {
		t.Errorf("unexpected source counts %v", s.BySource)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.TotalSteps != 0 || s.Shielded != 0 || len(s.BySource) != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestCompare(t *testing.T) {
	results := []StepResult{
		{StepID: "a", Source: mask.SourceShield, Mask: mask.ActionMask{0, 0, 1}},
		{StepID: "b", Source: mask.SourceFallback, Mask: mask.AllowAllMask()},
	}
	forward := []float64{0, 0, 1, 0, 0, 0, 0}
	short := []float64{1}

	if got := Compare(results, []FixtureExpect{{StepID: "a", Mask: &forward}, {StepID: "b", Source: "fallback"}}); len(got) != 0 {
		t.Errorf("expected no mismatches, got %v", got)
	}
	if got := Compare(results, []FixtureExpect{{StepID: "a", Source: "fallback"}, {StepID: "b", Mask: &short}}); len(got) != 2 {
		t.Errorf("expected 2 mismatches, got %v", got)
	}
	if got := Compare(results, []FixtureExpect{{StepID: "z"}}); len(got) != 2 {
		t.Errorf("expected length and id mismatches, got %v", got)
	}
}

// #endregion summary-tests

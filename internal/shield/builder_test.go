package shield

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

const header = "___________________________________________________________________\n" +
	"PreSafety, gamma=0.9, relative\n" +
	"model state:    choice(s) [<value>: (<action {action label})>]:\n"

const footer = "Skipped 0 deterministic states with unique choice.\n" +
	"___________________________________________________________________\n"

func exportText(lines ...string) *Text {
	return NewText("test.shield", []byte(header+strings.Join(lines, "\n")+"\n"+footer))
}

func agentVal(x, y, dir, clock, phase int) string {
	return fmt.Sprintf("[!AgentDone\t& !Agent_is_carrying_object\t& xAgent=%d\t& yAgent=%d\t& viewAgent=%d\t& clock=%d\t& previousActionAgent=%d]",
		x, y, dir, clock, phase)
}

func buildText(t *testing.T, lines ...string) (*Table, Report, error) {
	t.Helper()
	return Build(context.Background(), exportText(lines...), DefaultOptions(statekey.FieldOrder{}))
}

// #region text-tests
func TestBuildExampleRecord(t *testing.T) {
	table, report, err := buildText(t,
		"[AgentDone !Agent_is_carrying_object xAgent=2 yAgent=3 viewAgent=1 clock=0 previousActionAgent=3] {move}")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)

	k := statekey.Key{X: 2, Y: 3, Dir: 1, Done: true}
	got, ok := table.Lookup(k)
	require.True(t, ok)
	assert.Equal(t, []PermittedAction{{Action: action.Forward, Weight: 1, Label: "move"}}, got)

	w, n, ok := table.Weights(k)
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, [action.Count]float64{0, 0, 1, 0, 0, 0, 0}, w)
}

func TestBuildWeightedTempestLines(t *testing.T) {
	table, _, err := buildText(t,
		"17: "+agentVal(1, 1, 0, 0, 3)+"    0.95: (0 {Agent_turn_left});    0.4: (2 {Agent_move_East, AgentIsOnSlippery})")
	require.NoError(t, err)

	got, ok := table.Lookup(statekey.Key{X: 1, Y: 1})
	require.True(t, ok)
	assert.Equal(t, []PermittedAction{
		{Action: action.TurnLeft, Weight: 0.95, Label: "Agent_turn_left"},
		{Action: action.Forward, Weight: 0.4, Label: "Agent_move_East,AgentIsOnSlippery"},
	}, got)
}

func TestBuildFiltersBookkeeping(t *testing.T) {
	table, report, err := buildText(t,
		agentVal(1, 1, 0, 0, 3)+" {move}",
		agentVal(2, 1, 0, 1, 3)+" {move}",
		agentVal(3, 1, 0, 0, 7)+" {Agent_tick}",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Filtered)
	assert.Equal(t, 1, table.Len())
	_, ok := table.Lookup(statekey.Key{X: 2, Y: 1})
	assert.False(t, ok, "clock tick state must not be a key")
	_, ok = table.Lookup(statekey.Key{X: 3, Y: 1})
	assert.False(t, ok, "non-agent phase must not be a key")
}

func TestBuildDropsMalformedRecords(t *testing.T) {
	table, report, err := buildText(t,
		agentVal(1, 1, 0, 0, 3)+" {move}",
		"no valuation here {move}",
		"[!AgentDone xAgent=4 yAgent=1 viewAgent=0] {move}",
		agentVal(5, 1, 0, 0, 3)+" 1.5: (0 {Agent_turn_left})",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Records)
	assert.Equal(t, 3, report.Dropped)
	assert.Len(t, report.DropErrors, 3)
	assert.Equal(t, 1, table.Len())
}

func TestBuildDropsLinesWithoutChoices(t *testing.T) {
	table, report, err := buildText(t,
		agentVal(1, 1, 0, 0, 3)+" {move}",
		agentVal(3, 1, 0, 0, 3)+" movee garbage",
		agentVal(3, 1, 0, 0, 3)+" {Agent_turn_left}",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 1, report.Dropped)
	assert.Zero(t, report.Duplicates)
	require.Len(t, report.DropErrors, 1)
	assert.Contains(t, report.DropErrors[0], "no action choices")

	got, ok := table.Lookup(statekey.Key{X: 3, Y: 1})
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, action.TurnLeft, got[0].Action)
}

func TestBuildDuplicateKeepsFirst(t *testing.T) {
	table, report, err := buildText(t,
		agentVal(1, 1, 0, 0, 3)+" {move}",
		agentVal(1, 1, 0, 0, 3)+" {Agent_turn_left}",
	)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "test.shield:4")

	got, _ := table.Lookup(statekey.Key{X: 1, Y: 1})
	require.Len(t, got, 1)
	assert.Equal(t, action.Forward, got[0].Action)
}

func TestBuildEmptyIsFatal(t *testing.T) {
	_, report, err := buildText(t, "garbage line")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyShield))
	assert.Equal(t, 1, report.Dropped)

	_, _, err = Build(context.Background(), NewText("empty", nil), DefaultOptions(statekey.FieldOrder{}))
	assert.True(t, errors.Is(err, ErrEmptyShield))
}

func TestBuildUnknownLabelIsFatal(t *testing.T) {
	_, _, err := buildText(t, agentVal(1, 1, 0, 0, 3)+" {Agent_stuck}")
	require.Error(t, err)
	assert.True(t, errors.Is(err, action.ErrAmbiguousLabel))

	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, "test.shield:4", recErr.Source)
}

func TestBuildRecordedStateWithoutChoices(t *testing.T) {
	table, _, err := buildText(t,
		agentVal(1, 1, 0, 0, 3)+" {move}",
		agentVal(2, 2, 0, 0, 3)+"    undefined.",
	)
	require.NoError(t, err)
	got, ok := table.Lookup(statekey.Key{X: 2, Y: 2})
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestBuildMergesChoicesForSameAction(t *testing.T) {
	table, _, err := buildText(t,
		agentVal(1, 1, 0, 0, 3)+" 0.3: (1 {Agent_move_North});    0.7: (2 {Agent_move_East})")
	require.NoError(t, err)
	got, _ := table.Lookup(statekey.Key{X: 1, Y: 1})
	require.Len(t, got, 1)
	assert.Equal(t, 0.7, got[0].Weight)
	assert.Equal(t, "Agent_move_North;Agent_move_East", got[0].Label)
}

func TestBuildHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Build(ctx, exportText(agentVal(1, 1, 0, 0, 3)+" {move}"), DefaultOptions(statekey.FieldOrder{}))
	assert.True(t, errors.Is(err, context.Canceled))
}

// #endregion text-tests

// #region convergence-tests
func TestChoiceMapAndTextConverge(t *testing.T) {
	order := statekey.FieldOrder{Doors: []string{"red"}}
	vals := map[int]string{
		0: "[!AgentDone & !Agent_is_carrying_object & Doorredlocked & !Doorredopen & xAgent=1 & yAgent=1 & viewAgent=0 & clock=0 & previousActionAgent=3]",
		1: "[!AgentDone & !Agent_is_carrying_object & Doorredlocked & !Doorredopen & xAgent=1 & yAgent=1 & viewAgent=0 & clock=1 & previousActionAgent=3]",
		2: "[!AgentDone & Agent_is_carrying_object & !Doorredlocked & Doorredopen & xAgent=2 & yAgent=1 & viewAgent=1 & clock=0 & previousActionAgent=3]",
	}
	cm := &ChoiceMap{
		States: []ChoiceState{
			{ID: 0, Choices: []Choice{{Weight: 1, ActionID: 10}, {Weight: 0.5, ActionID: 11}}},
			{ID: 1, Choices: []Choice{{Weight: 1, ActionID: 12}}},
			{ID: 2, Choices: []Choice{{Weight: 0.9, ActionID: 13}}},
		},
		Valuations: vals,
		Labels: map[int][]string{
			10: {"Agent_turn_left"},
			11: {"Agent_toggle_Doorred"},
			12: {"clock_tick"},
			13: {"Agent_move_South"},
		},
	}
	text := exportText(
		"0: "+vals[0]+"    1: (0 {Agent_turn_left});    0.5: (1 {Agent_toggle_Doorred})",
		"1: "+vals[1]+"    1: (0 {clock_tick})",
		"2: "+vals[2]+"    0.9: (0 {Agent_move_South})",
	)

	opts := DefaultOptions(order)
	fromMap, mapReport, err := Build(context.Background(), cm, opts)
	require.NoError(t, err)
	fromText, textReport, err := Build(context.Background(), text, opts)
	require.NoError(t, err)

	assert.Equal(t, mapReport.Accepted, textReport.Accepted)
	assert.Equal(t, mapReport.Filtered, textReport.Filtered)
	if diff := cmp.Diff(fromMap.Entries(), fromText.Entries()); diff != "" {
		t.Fatalf("tables differ (-map +text):\n%s", diff)
	}
	assert.Equal(t, 2, fromMap.Len())
}

func TestChoiceMapRejectsNaNWeight(t *testing.T) {
	cm := &ChoiceMap{
		States: []ChoiceState{
			{ID: 0, Choices: []Choice{{Weight: math.NaN(), ActionID: 1}}},
			{ID: 1, Choices: []Choice{{Weight: 1, ActionID: 2}}},
		},
		Valuations: map[int]string{
			0: "[!AgentDone & !Agent_is_carrying_object & Doorredlocked & !Doorredopen & xAgent=1 & yAgent=1 & viewAgent=0 & clock=0 & previousActionAgent=3]",
			1: "[!AgentDone & !Agent_is_carrying_object & Doorredlocked & !Doorredopen & xAgent=2 & yAgent=1 & viewAgent=0 & clock=0 & previousActionAgent=3]",
		},
		Labels: map[int][]string{
			1: {"Agent_toggle_Doorred"},
			2: {"Agent_move_North"},
		},
	}
	table, report, err := Build(context.Background(), cm, DefaultOptions(statekey.FieldOrder{Doors: []string{"red"}}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)
	require.Len(t, report.DropErrors, 1)
	assert.Contains(t, report.DropErrors[0], "outside [0,1]")
	require.Equal(t, 1, table.Len())
	for _, e := range table.Entries() {
		assert.Equal(t, int16(2), e.Key.X)
		for _, pa := range e.Actions {
			assert.False(t, math.IsNaN(pa.Weight))
		}
	}
}

func TestChoiceMapMissingSideTables(t *testing.T) {
	cm := &ChoiceMap{
		States: []ChoiceState{
			{ID: 0, Choices: []Choice{{Weight: 1, ActionID: 1}}},
			{ID: 1, Choices: []Choice{{Weight: 1, ActionID: 99}}},
			{ID: 2, Choices: []Choice{{Weight: 1, ActionID: 1}}},
		},
		Valuations: map[int]string{0: agentVal(1, 1, 0, 0, 3), 1: agentVal(2, 1, 0, 0, 3)},
		Labels:     map[int][]string{1: {"Agent_move_North"}},
	}
	table, report, err := Build(context.Background(), cm, DefaultOptions(statekey.FieldOrder{}))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Dropped)
	assert.Equal(t, 1, table.Len())
}

// #endregion convergence-tests

// #region table-tests
func TestNewTableValidation(t *testing.T) {
	k := statekey.Key{X: 1}
	_, err := NewTable(Meta{}, []Entry{{Key: k}, {Key: k}})
	assert.Error(t, err)

	_, err = NewTable(Meta{}, []Entry{{Key: k, Actions: []PermittedAction{{Action: action.Drop, Weight: 2}}}})
	assert.Error(t, err)

	_, err = NewTable(Meta{}, []Entry{{Key: k, Actions: []PermittedAction{{Action: action.Toggle, Weight: math.NaN()}}}})
	assert.Error(t, err)

	_, err = NewTable(Meta{}, []Entry{{Key: k, Actions: []PermittedAction{
		{Action: action.Drop, Weight: 1}, {Action: action.Drop, Weight: 0.5},
	}}})
	assert.Error(t, err)
}

func TestTableLookupReturnsCopy(t *testing.T) {
	k := statekey.Key{X: 1}
	table, err := NewTable(Meta{}, []Entry{{Key: k, Actions: []PermittedAction{{Action: action.Toggle, Weight: 1}}}})
	require.NoError(t, err)
	assert.NotEmpty(t, table.ID())

	got, _ := table.Lookup(k)
	got[0].Weight = 0
	again, _ := table.Lookup(k)
	assert.Equal(t, 1.0, again[0].Weight)
}

func TestTableEntriesSorted(t *testing.T) {
	table, err := NewTable(Meta{}, []Entry{
		{Key: statekey.Key{X: 3}},
		{Key: statekey.Key{X: 1, Y: 2}},
		{Key: statekey.Key{X: 1, Y: 1}},
	})
	require.NoError(t, err)
	entries := table.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, statekey.Key{X: 1, Y: 1}, entries[0].Key)
	assert.Equal(t, statekey.Key{X: 3}, entries[2].Key)
	assert.Equal(t, []statekey.Key{{X: 1, Y: 1}, {X: 1, Y: 2}, {X: 3}}, table.Keys())
}

// #endregion table-tests

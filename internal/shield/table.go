package shield

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region meta
// Meta describes where a table came from.
type Meta struct {
	ID          string              `json:"id"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	Spec        string              `json:"spec,omitempty"`
	Order       statekey.FieldOrder `json:"order"`
	CreatedAt   time.Time           `json:"created_at"`
}

// #endregion meta

// #region table
type row struct {
	actions []PermittedAction
	weights [action.Count]float64
}

// Table maps state keys to permitted actions. It is immutable once built and
// safe for concurrent readers without synchronization.
type Table struct {
	meta Meta
	rows map[statekey.Key]row
}

// NewTable builds a table from entries. Keys must be unique; actions are
// re-sorted by action index and weights must lie in [0,1].
func NewTable(meta Meta, entries []Entry) (*Table, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	t := &Table{meta: meta, rows: make(map[statekey.Key]row, len(entries))}
	for _, e := range entries {
		if _, dup := t.rows[e.Key]; dup {
			return nil, fmt.Errorf("duplicate key %s", e.Key)
		}
		r := row{actions: slices.Clone(e.Actions)}
		sort.SliceStable(r.actions, func(i, j int) bool { return r.actions[i].Action < r.actions[j].Action })
		for i, pa := range r.actions {
			if !pa.Action.Valid() {
				return nil, fmt.Errorf("key %s: invalid action %d", e.Key, int(pa.Action))
			}
			if !(pa.Weight >= 0 && pa.Weight <= 1) {
				return nil, fmt.Errorf("key %s: weight %v outside [0,1]", e.Key, pa.Weight)
			}
			if i > 0 && r.actions[i-1].Action == pa.Action {
				return nil, fmt.Errorf("key %s: action %s listed twice", e.Key, pa.Action)
			}
			r.weights[pa.Action] = pa.Weight
		}
		t.rows[e.Key] = r
	}
	return t, nil
}

// Meta returns the table metadata.
func (t *Table) Meta() Meta { return t.meta }

// ID returns the unique build identifier.
func (t *Table) ID() string { return t.meta.ID }

// Order returns the field order the table was built with.
func (t *Table) Order() statekey.FieldOrder { return t.meta.Order }

// Len returns the number of recorded states.
func (t *Table) Len() int { return len(t.rows) }

// Lookup returns a copy of the permitted actions for k. The boolean reports
// whether the verifier recorded k at all; a recorded state may permit nothing.
func (t *Table) Lookup(k statekey.Key) ([]PermittedAction, bool) {
	r, ok := t.rows[k]
	if !ok {
		return nil, false
	}
	return slices.Clone(r.actions), true
}

// Weights returns the per-action weight vector for k without allocating.
// n is the number of permitted actions recorded for k.
func (t *Table) Weights(k statekey.Key) (w [action.Count]float64, n int, ok bool) {
	r, ok := t.rows[k]
	if !ok {
		return w, 0, false
	}
	return r.weights, len(r.actions), true
}

// Keys returns every recorded key in deterministic order.
func (t *Table) Keys() []statekey.Key {
	out := make([]statekey.Key, 0, len(t.rows))
	for k := range t.rows {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i], out[j]) })
	return out
}

// Entries returns all rows sorted by key, for persistence and comparison.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.rows))
	for k, r := range t.rows {
		out = append(out, Entry{Key: k, Actions: slices.Clone(r.actions)})
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out
}

// #endregion table

// #region helpers
func lessKey(a, b statekey.Key) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	if a.Dir != b.Dir {
		return a.Dir < b.Dir
	}
	return a.String() < b.String()
}

// #endregion helpers

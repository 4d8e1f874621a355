package statekey

import (
	"errors"
	"fmt"
	"strings"
)

// MaxEntities bounds each multi-instance field kind. The grid world has six
// object colors, so at most six keys, doors or adversaries are distinguishable.
const MaxEntities = 6

// CarriedPos is the coordinate the model generator assigns to a key while the
// agent is carrying it.
const CarriedPos = -1

// DefaultAgent is the variable prefix the model generator uses for the
// controlled agent.
const DefaultAgent = "Agent"

// #region key
// KeySlot is the encoded state of one key, in FieldOrder position.
type KeySlot struct {
	Held bool
	X, Y int16
}

// DoorSlot is the encoded state of one door.
type DoorSlot struct {
	Locked bool
	Open   bool
}

// AdversarySlot is the encoded pose of one adversary.
type AdversarySlot struct {
	X, Y     int16
	Dir      int8
	Carrying bool
	Done     bool
}

// Key is the canonical symbolic encoding of a world configuration. It holds no
// pointers or slices, so it is comparable and can be used directly as a map key.
// Entity slots beyond the Num* counts are always zero.
type Key struct {
	X, Y     int16
	Dir      int8
	Carrying bool
	Done     bool

	NumKeys        uint8
	NumDoors       uint8
	NumAdversaries uint8

	Keys        [MaxEntities]KeySlot
	Doors       [MaxEntities]DoorSlot
	Adversaries [MaxEntities]AdversarySlot
}

// KeySlots returns the populated key slots.
func (k Key) KeySlots() []KeySlot { return k.Keys[:k.NumKeys] }

// DoorSlots returns the populated door slots.
func (k Key) DoorSlots() []DoorSlot { return k.Doors[:k.NumDoors] }

// AdversarySlots returns the populated adversary slots.
func (k Key) AdversarySlots() []AdversarySlot { return k.Adversaries[:k.NumAdversaries] }

func (k Key) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{x=%d y=%d dir=%d carrying=%t done=%t", k.X, k.Y, k.Dir, k.Carrying, k.Done)
	for i, s := range k.KeySlots() {
		fmt.Fprintf(&b, " key%d=(%t,%d,%d)", i, s.Held, s.X, s.Y)
	}
	for i, s := range k.DoorSlots() {
		fmt.Fprintf(&b, " door%d=(locked=%t,open=%t)", i, s.Locked, s.Open)
	}
	for i, s := range k.AdversarySlots() {
		fmt.Fprintf(&b, " adv%d=(%d,%d,%d,%t,%t)", i, s.X, s.Y, s.Dir, s.Carrying, s.Done)
	}
	b.WriteString("}")
	return b.String()
}

// #endregion key

// #region field-order
// FieldOrder fixes the slot order of multi-instance entities. It must match the
// order used when the verifier's model was generated and is reused for every
// query against a table built with it.
type FieldOrder struct {
	Agent       string   `json:"agent,omitempty" yaml:"agent"`
	Keys        []string `json:"keys,omitempty" yaml:"keys"`               // key colors
	Doors       []string `json:"doors,omitempty" yaml:"doors"`             // door colors
	Adversaries []string `json:"adversaries,omitempty" yaml:"adversaries"` // adversary names
}

// AgentName returns the agent variable prefix, defaulting to DefaultAgent.
func (o FieldOrder) AgentName() string {
	if o.Agent == "" {
		return DefaultAgent
	}
	return o.Agent
}

// Validate checks counts, names and uniqueness.
func (o FieldOrder) Validate() error {
	groups := []struct {
		kind  string
		names []string
	}{
		{"keys", o.Keys},
		{"doors", o.Doors},
		{"adversaries", o.Adversaries},
	}
	for _, g := range groups {
		if len(g.names) > MaxEntities {
			return fmt.Errorf("field order: %d %s exceeds limit %d", len(g.names), g.kind, MaxEntities)
		}
		seen := make(map[string]bool, len(g.names))
		for _, n := range g.names {
			if !isIdent(n) {
				return fmt.Errorf("field order: invalid %s name %q", g.kind, n)
			}
			if seen[n] {
				return fmt.Errorf("field order: duplicate %s name %q", g.kind, n)
			}
			seen[n] = true
		}
	}
	if o.Agent != "" && !isIdent(o.Agent) {
		return fmt.Errorf("field order: invalid agent name %q", o.Agent)
	}
	return nil
}

// String renders the order deterministically, for fingerprints and logs.
func (o FieldOrder) String() string {
	return fmt.Sprintf("agent=%s;keys=%s;doors=%s;adversaries=%s",
		o.AgentName(),
		strings.Join(o.Keys, ","),
		strings.Join(o.Doors, ","),
		strings.Join(o.Adversaries, ","))
}

// #endregion field-order

// #region snapshot
// Tile is the kind of grid object occupying a cell.
type Tile string

const (
	TileEmpty Tile = ""
	TileWall  Tile = "wall"
	TileFloor Tile = "floor"
	TileKey   Tile = "key"
	TileDoor  Tile = "door"
	TileBall  Tile = "ball"
	TileBox   Tile = "box"
	TileGoal  Tile = "goal"
	TileLava  Tile = "lava"
)

// Item is an object held by the agent.
type Item struct {
	Kind  Tile   `json:"kind"`
	Color string `json:"color"`
}

// KeyObject is a key lying on the grid.
type KeyObject struct {
	Color string `json:"color"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

// DoorObject is a door and its state.
type DoorObject struct {
	Color  string `json:"color"`
	Locked bool   `json:"locked"`
	Open   bool   `json:"open"`
}

// AdversaryObject is the pose of a non-controlled agent.
type AdversaryObject struct {
	Name     string `json:"name"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Dir      int    `json:"dir"`
	Carrying bool   `json:"carrying"`
	Done     bool   `json:"done"`
}

// Snapshot is a read-only view of the world at one decision step, as exposed
// by the grid-world collaborator.
type Snapshot struct {
	X        int   `json:"x"`
	Y        int   `json:"y"`
	Dir      int   `json:"dir"`
	Carrying *Item `json:"carrying,omitempty"`
	Done     bool  `json:"done"`

	Keys        []KeyObject       `json:"keys,omitempty"`
	Doors       []DoorObject      `json:"doors,omitempty"`
	Adversaries []AdversaryObject `json:"adversaries,omitempty"`

	// Front is the tile directly ahead of the agent.
	Front Tile `json:"front,omitempty"`

	// Layout is the grid text rendered by the grid world, used for model export.
	Layout string `json:"layout,omitempty"`
	// Params are the probability parameters appended to the exported grid.
	Params map[string]string `json:"params,omitempty"`
}

// #endregion snapshot

// #region errors
var (
	// ErrEncoding is returned when a snapshot cannot be mapped to a Key.
	ErrEncoding = errors.New("state encoding failed")
	// ErrParse is returned for malformed verifier valuations.
	ErrParse = errors.New("malformed valuation")
	// ErrBookkeeping marks verifier-internal states that are not decision points.
	ErrBookkeeping = errors.New("bookkeeping state")
)

// EncodingError names the snapshot field that could not be encoded.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrEncoding, e.Field, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }

// ParseError names the valuation variable that was missing or malformed.
type ParseError struct {
	Var    string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Var == "" {
		return fmt.Sprintf("%v: %s", ErrParse, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrParse, e.Var, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// #endregion errors

// #region helpers
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// #endregion helpers

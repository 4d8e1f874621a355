package statekey

import (
	"fmt"
	"math"
	"strings"
)

// #region names
// Variable names follow the model generator's naming scheme.
func xVar(name string) string { return "x" + name }
func yVar(name string) string { return "y" + name }
func viewVar(name string) string { return "view" + name }
func carryingVar(name string) string { return name + "_is_carrying_object" }
func doneVar(name string) string { return name + "Done" }
func hasKeyVar(agent, color string) string { return agent + "_has_" + color + "_key" }
func keyXVar(color string) string { return "xKey" + color }
func keyYVar(color string) string { return "yKey" + color }
func doorLockedVar(color string) string { return "Door" + color + "locked" }
func doorOpenVar(color string) string { return "Door" + color + "open" }

// #endregion names

// #region decode
// Decode parses a raw verifier valuation into a Key. Bookkeeping states are
// rejected with an error wrapping ErrBookkeeping; missing variables are
// ParseErrors and are never zero-filled.
func Decode(raw string, order FieldOrder, f Filter) (Key, error) {
	v, err := ParseValuation(raw)
	if err != nil {
		return Key{}, err
	}
	return DecodeValuation(v, order, f)
}

// DecodeValuation is Decode for an already parsed valuation.
func DecodeValuation(v Valuation, order FieldOrder, f Filter) (Key, error) {
	if err := f.Check(v); err != nil {
		return Key{}, err
	}
	if err := order.Validate(); err != nil {
		return Key{}, &ParseError{Reason: err.Error()}
	}

	agent := order.AgentName()
	var k Key
	d := decoder{v: v}

	k.X = d.coord(xVar(agent))
	k.Y = d.coord(yVar(agent))
	k.Dir = d.dir(viewVar(agent))
	k.Carrying = d.flag(carryingVar(agent))
	k.Done = d.flag(doneVar(agent))

	for i, color := range order.Keys {
		k.Keys[i] = KeySlot{
			Held: d.flag(hasKeyVar(agent, color)),
			X:    d.coord(keyXVar(color)),
			Y:    d.coord(keyYVar(color)),
		}
	}
	for i, color := range order.Doors {
		k.Doors[i] = DoorSlot{
			Locked: d.flag(doorLockedVar(color)),
			Open:   d.flag(doorOpenVar(color)),
		}
	}
	for i, name := range order.Adversaries {
		k.Adversaries[i] = AdversarySlot{
			X:        d.coord(xVar(name)),
			Y:        d.coord(yVar(name)),
			Dir:      d.dir(viewVar(name)),
			Carrying: d.flag(carryingVar(name)),
			Done:     d.flag(doneVar(name)),
		}
	}
	if d.err != nil {
		return Key{}, d.err
	}

	k.NumKeys = uint8(len(order.Keys))
	k.NumDoors = uint8(len(order.Doors))
	k.NumAdversaries = uint8(len(order.Adversaries))
	return k, nil
}

// decoder keeps the first extraction error so field reads stay linear.
type decoder struct {
	v   Valuation
	err error
}

func (d *decoder) coord(name string) int16 {
	if d.err != nil {
		return 0
	}
	n, err := d.v.Int(name)
	if err != nil {
		d.err = err
		return 0
	}
	if n < math.MinInt16 || n > math.MaxInt16 {
		d.err = &ParseError{Var: name, Reason: fmt.Sprintf("value %d out of range", n)}
		return 0
	}
	return int16(n)
}

func (d *decoder) dir(name string) int8 {
	if d.err != nil {
		return 0
	}
	n, err := d.v.Int(name)
	if err != nil {
		d.err = err
		return 0
	}
	if n < 0 || n > 3 {
		d.err = &ParseError{Var: name, Reason: fmt.Sprintf("direction %d outside 0..3", n)}
		return 0
	}
	return int8(n)
}

func (d *decoder) flag(name string) bool {
	if d.err != nil {
		return false
	}
	b, err := d.v.Bool(name)
	if err != nil {
		d.err = err
	}
	return b
}

// #endregion decode

// #region encode-valuation
// Valuation re-serializes k in the verifier's valuation syntax, using the
// variable names implied by order. Decode(k.Valuation(order)) == k.
func (k Key) Valuation(order FieldOrder) string {
	agent := order.AgentName()
	var tokens []string
	add := func(name string, b bool) {
		if b {
			tokens = append(tokens, name)
		} else {
			tokens = append(tokens, "!"+name)
		}
	}
	set := func(name string, n int) {
		tokens = append(tokens, fmt.Sprintf("%s=%d", name, n))
	}

	add(carryingVar(agent), k.Carrying)
	for i, color := range order.Keys {
		if i >= int(k.NumKeys) {
			break
		}
		add(hasKeyVar(agent, color), k.Keys[i].Held)
	}
	add(doneVar(agent), k.Done)
	for i, name := range order.Adversaries {
		if i >= int(k.NumAdversaries) {
			break
		}
		add(carryingVar(name), k.Adversaries[i].Carrying)
		add(doneVar(name), k.Adversaries[i].Done)
	}
	for i, color := range order.Doors {
		if i >= int(k.NumDoors) {
			break
		}
		add(doorLockedVar(color), k.Doors[i].Locked)
		add(doorOpenVar(color), k.Doors[i].Open)
	}
	set(xVar(agent), int(k.X))
	set(yVar(agent), int(k.Y))
	set(viewVar(agent), int(k.Dir))
	for i, name := range order.Adversaries {
		if i >= int(k.NumAdversaries) {
			break
		}
		a := k.Adversaries[i]
		set(xVar(name), int(a.X))
		set(yVar(name), int(a.Y))
		set(viewVar(name), int(a.Dir))
	}
	for i, color := range order.Keys {
		if i >= int(k.NumKeys) {
			break
		}
		set(keyXVar(color), int(k.Keys[i].X))
		set(keyYVar(color), int(k.Keys[i].Y))
	}
	return "[" + strings.Join(tokens, "\t& ") + "]"
}

// #endregion encode-valuation

package statekey

import (
	"fmt"
	"math"
)

// #region encode
// Encode maps a world snapshot onto its canonical Key. Entities are placed in
// FieldOrder slots; every ordered entity must be present exactly once and the
// snapshot may not carry entities the order does not know about.
func Encode(s Snapshot, order FieldOrder) (Key, error) {
	var k Key

	if err := order.Validate(); err != nil {
		return Key{}, &EncodingError{Field: "order", Reason: err.Error()}
	}
	if err := checkDir("agent.dir", s.Dir); err != nil {
		return Key{}, err
	}
	x, err := coord("agent.x", s.X)
	if err != nil {
		return Key{}, err
	}
	y, err := coord("agent.y", s.Y)
	if err != nil {
		return Key{}, err
	}
	k.X, k.Y, k.Dir = x, y, int8(s.Dir)
	k.Carrying = s.Carrying != nil
	k.Done = s.Done

	if err := encodeKeys(&k, s, order.Keys); err != nil {
		return Key{}, err
	}
	if err := encodeDoors(&k, s, order.Doors); err != nil {
		return Key{}, err
	}
	if err := encodeAdversaries(&k, s, order.Adversaries); err != nil {
		return Key{}, err
	}
	return k, nil
}

func encodeKeys(k *Key, s Snapshot, colors []string) error {
	known := make(map[string]bool, len(colors))
	for _, c := range colors {
		known[c] = true
	}
	for _, obj := range s.Keys {
		if !known[obj.Color] {
			return &EncodingError{Field: "keys", Reason: fmt.Sprintf("key %q not in field order", obj.Color)}
		}
	}
	if s.Carrying != nil && s.Carrying.Kind == TileKey && !known[s.Carrying.Color] {
		return &EncodingError{Field: "carrying", Reason: fmt.Sprintf("carried key %q not in field order", s.Carrying.Color)}
	}

	for i, color := range colors {
		field := "key." + color
		var slot KeySlot
		found := 0
		for _, obj := range s.Keys {
			if obj.Color != color {
				continue
			}
			found++
			x, err := coord(field+".x", obj.X)
			if err != nil {
				return err
			}
			y, err := coord(field+".y", obj.Y)
			if err != nil {
				return err
			}
			slot = KeySlot{X: x, Y: y}
		}
		if s.Carrying != nil && s.Carrying.Kind == TileKey && s.Carrying.Color == color {
			found++
			slot = KeySlot{Held: true, X: CarriedPos, Y: CarriedPos}
		}
		switch found {
		case 0:
			return &EncodingError{Field: field, Reason: "missing from snapshot"}
		case 1:
		default:
			return &EncodingError{Field: field, Reason: fmt.Sprintf("%d instances in snapshot", found)}
		}
		k.Keys[i] = slot
	}
	k.NumKeys = uint8(len(colors))
	return nil
}

func encodeDoors(k *Key, s Snapshot, colors []string) error {
	for _, d := range s.Doors {
		if !contains(colors, d.Color) {
			return &EncodingError{Field: "doors", Reason: fmt.Sprintf("door %q not in field order", d.Color)}
		}
	}
	for i, color := range colors {
		field := "door." + color
		idx := -1
		for j, d := range s.Doors {
			if d.Color != color {
				continue
			}
			if idx >= 0 {
				return &EncodingError{Field: field, Reason: "multiple instances in snapshot"}
			}
			idx = j
		}
		if idx < 0 {
			return &EncodingError{Field: field, Reason: "missing from snapshot"}
		}
		d := s.Doors[idx]
		// An open door is never locked in the verifier model.
		k.Doors[i] = DoorSlot{Locked: d.Locked && !d.Open, Open: d.Open}
	}
	k.NumDoors = uint8(len(colors))
	return nil
}

func encodeAdversaries(k *Key, s Snapshot, names []string) error {
	for _, a := range s.Adversaries {
		if !contains(names, a.Name) {
			return &EncodingError{Field: "adversaries", Reason: fmt.Sprintf("adversary %q not in field order", a.Name)}
		}
	}
	for i, name := range names {
		field := "adversary." + name
		idx := -1
		for j, a := range s.Adversaries {
			if a.Name != name {
				continue
			}
			if idx >= 0 {
				return &EncodingError{Field: field, Reason: "multiple instances in snapshot"}
			}
			idx = j
		}
		if idx < 0 {
			return &EncodingError{Field: field, Reason: "missing from snapshot"}
		}
		a := s.Adversaries[idx]
		if err := checkDir(field+".dir", a.Dir); err != nil {
			return err
		}
		x, err := coord(field+".x", a.X)
		if err != nil {
			return err
		}
		y, err := coord(field+".y", a.Y)
		if err != nil {
			return err
		}
		k.Adversaries[i] = AdversarySlot{X: x, Y: y, Dir: int8(a.Dir), Carrying: a.Carrying, Done: a.Done}
	}
	k.NumAdversaries = uint8(len(names))
	return nil
}

// #endregion encode

// #region helpers
func checkDir(field string, dir int) error {
	if dir < 0 || dir > 3 {
		return &EncodingError{Field: field, Reason: fmt.Sprintf("direction %d outside 0..3", dir)}
	}
	return nil
}

func coord(field string, v int) (int16, error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, &EncodingError{Field: field, Reason: fmt.Sprintf("coordinate %d out of range", v)}
	}
	return int16(v), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// #endregion helpers

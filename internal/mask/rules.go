package mask

import (
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region rules
// Rule is a hard environment constraint applied after the shield lookup.
// Rules may only raise weights; the server enforces this by keeping the
// per-action maximum of the mask before and after Apply.
type Rule interface {
	Name() string
	Apply(s statekey.Snapshot, m *ActionMask)
}

// FrontKeyPickup always allows picking up a key lying directly ahead.
type FrontKeyPickup struct{}

func (FrontKeyPickup) Name() string { return "front-key-pickup" }

func (FrontKeyPickup) Apply(s statekey.Snapshot, m *ActionMask) {
	if s.Front == statekey.TileKey {
		m[action.Pickup] = 1
	}
}

// FrontDoorToggle always allows toggling a door directly ahead.
type FrontDoorToggle struct{}

func (FrontDoorToggle) Name() string { return "front-door-toggle" }

func (FrontDoorToggle) Apply(s statekey.Snapshot, m *ActionMask) {
	if s.Front == statekey.TileDoor {
		m[action.Toggle] = 1
	}
}

// DefaultRules returns the key and door overrides.
func DefaultRules() []Rule {
	return []Rule{FrontKeyPickup{}, FrontDoorToggle{}}
}

// Override applies rules to m and returns the actions whose weight rose.
func Override(s statekey.Snapshot, m *ActionMask, rules []Rule) []action.Action {
	before := *m
	for _, r := range rules {
		after := *m
		r.Apply(s, &after)
		for i := range m {
			if after[i] > m[i] {
				m[i] = min(after[i], 1)
			}
		}
	}
	var raised []action.Action
	for i := range m {
		if m[i] > before[i] {
			raised = append(raised, action.Action(i))
		}
	}
	return raised
}

// #endregion rules

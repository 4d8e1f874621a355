package mask

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region action-mask
// ActionMask holds one weight in [0,1] per action: 1 always allowed, 0
// forbidden, anything between permitted with that probability.
type ActionMask [action.Count]float64

// AllowAllMask returns a mask with every weight 1.
func AllowAllMask() ActionMask {
	var m ActionMask
	for i := range m {
		m[i] = 1
	}
	return m
}

// Weight returns the weight of a.
func (m ActionMask) Weight(a action.Action) float64 {
	if !a.Valid() {
		return 0
	}
	return m[a]
}

// Slice copies the mask into a slice, the shape training loops consume.
func (m ActionMask) Slice() []float64 {
	out := make([]float64, len(m))
	copy(out, m[:])
	return out
}

// Allowed lists actions with a positive weight.
func (m ActionMask) Allowed() []action.Action {
	var out []action.Action
	for i, w := range m {
		if w > 0 {
			out = append(out, action.Action(i))
		}
	}
	return out
}

func (m ActionMask) String() string {
	parts := make([]string, len(m))
	for i, w := range m {
		parts[i] = fmt.Sprintf("%s=%g", action.Action(i), w)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// #endregion action-mask

// #region policy
// Policy decides the mask for states the shield does not cover.
//
// AllowAll treats an uncovered state as outside the verified horizon and
// permits everything, so rare states never deadlock the agent. DenyAll treats
// it as unsafe and forbids everything except what override rules raise.
type Policy int

const (
	AllowAll Policy = iota
	DenyAll
)

func (p Policy) String() string {
	switch p {
	case AllowAll:
		return "allow-all"
	case DenyAll:
		return "deny-all"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "allow-all" or "deny-all".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow-all", "allow_all", "allowall":
		return AllowAll, nil
	case "deny-all", "deny_all", "denyall":
		return DenyAll, nil
	default:
		return AllowAll, fmt.Errorf("unknown fallback policy %q", s)
	}
}

// Fallback returns the policy's mask.
func (p Policy) Fallback() ActionMask {
	if p == DenyAll {
		return ActionMask{}
	}
	return AllowAllMask()
}

// #endregion policy

// #region decision
// Source records where a mask came from.
type Source string

const (
	SourceShield        Source = "shield"         // key found with permitted actions
	SourceEmpty         Source = "empty"          // key found, no action recorded
	SourceFallback      Source = "fallback"       // key not in table
	SourceEncodingError Source = "encoding-error" // snapshot could not be encoded
	SourceNoTable       Source = "no-table"       // no shield published yet
	SourceDisabled      Source = "disabled"       // masking switched off
)

// Shielded reports whether the mask came from a verifier entry.
func (s Source) Shielded() bool { return s == SourceShield }

// Decision explains one query.
type Decision struct {
	Mask       ActionMask
	Source     Source
	Key        statekey.Key
	Err        error           // set for SourceEncodingError
	Overridden []action.Action // actions raised by override rules
}

// #endregion decision

// #region provider
// TableProvider hands out the currently published table, nil before the
// first build.
type TableProvider interface {
	Current() *shield.Table
}

// Static is a TableProvider with a fixed table.
type Static struct {
	Table *shield.Table
}

func (s Static) Current() *shield.Table { return s.Table }

// #endregion provider

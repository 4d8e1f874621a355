package action

import (
	"errors"
	"fmt"
	"strings"
)

// #region action
// Action is one member of the fixed agent action alphabet. Values follow the
// grid-world action indices so an Action can index a mask directly.
type Action int

const (
	TurnLeft Action = iota
	TurnRight
	Forward
	Pickup
	Drop
	Toggle
	Done
)

// Count is the width of the action alphabet.
const Count = 7

var names = [Count]string{
	"turn-left",
	"turn-right",
	"move-forward",
	"pick-up",
	"drop",
	"toggle",
	"finish",
}

// All returns the alphabet in index order.
func All() []Action {
	return []Action{TurnLeft, TurnRight, Forward, Pickup, Drop, Toggle, Done}
}

// Valid reports whether a is a member of the alphabet.
func (a Action) Valid() bool {
	return a >= 0 && int(a) < Count
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return names[a]
}

// Parse converts a kebab-case action name back into an Action.
func Parse(name string) (Action, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range names {
		if n == candidate {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", name)
}

// #endregion action

// #region errors
// ErrAmbiguousLabel is returned when a verifier label set does not resolve to
// exactly one action.
var ErrAmbiguousLabel = errors.New("ambiguous action label")

// AmbiguousLabelError carries the offending label set and the actions it
// matched (empty when nothing matched).
type AmbiguousLabelError struct {
	Labels  []string
	Matches []Action
}

func (e *AmbiguousLabelError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("%v: no recognized verb in labels %v", ErrAmbiguousLabel, e.Labels)
	}
	return fmt.Sprintf("%v: labels %v match %v", ErrAmbiguousLabel, e.Labels, e.Matches)
}

func (e *AmbiguousLabelError) Unwrap() error { return ErrAmbiguousLabel }

// #endregion errors

package action

import (
	"fmt"
	"strings"
	"unicode"
)

// #region verbs
// DefaultVerbs is the verb set the model generator emits inside choice labels
// such as "Agent_move_North" or "Agent_toggle_Doorred".
func DefaultVerbs() map[string]Action {
	return map[string]Action{
		"move":   Forward,
		"left":   TurnLeft,
		"right":  TurnRight,
		"pickup": Pickup,
		"drop":   Drop,
		"toggle": Toggle,
		"unlock": Toggle,
		"done":   Done,
	}
}

// #endregion verbs

// #region vocabulary
// Vocabulary maps verifier choice labels onto the action alphabet.
// Exact entries in Labels win over verb tokens.
type Vocabulary struct {
	labels map[string]Action
	verbs  map[string]Action
}

// NewVocabulary creates a vocabulary from an explicit label table and a verb set.
// A nil verb set falls back to DefaultVerbs.
func NewVocabulary(labels map[string]Action, verbs map[string]Action) (*Vocabulary, error) {
	if verbs == nil {
		verbs = DefaultVerbs()
	}
	v := &Vocabulary{
		labels: make(map[string]Action, len(labels)),
		verbs:  make(map[string]Action, len(verbs)),
	}
	for label, a := range labels {
		if !a.Valid() {
			return nil, fmt.Errorf("label %q: invalid action %d", label, int(a))
		}
		v.labels[label] = a
	}
	for verb, a := range verbs {
		if !a.Valid() {
			return nil, fmt.Errorf("verb %q: invalid action %d", verb, int(a))
		}
		v.verbs[strings.ToLower(verb)] = a
	}
	return v, nil
}

// DefaultVocabulary returns a vocabulary with no explicit labels and the default verbs.
func DefaultVocabulary() *Vocabulary {
	v, _ := NewVocabulary(nil, nil)
	return v
}

// Resolve determines the action for one verifier choice. The first label that
// matches anything decides; a label matching several distinct actions, or a
// set with no match at all, is an AmbiguousLabelError.
func (v *Vocabulary) Resolve(labels []string) (Action, error) {
	for _, label := range labels {
		if a, ok := v.labels[label]; ok {
			return a, nil
		}
		matches := v.match(label)
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			return 0, &AmbiguousLabelError{Labels: labels, Matches: matches}
		}
	}
	return 0, &AmbiguousLabelError{Labels: labels}
}

// match returns the distinct actions named by the tokens of one label, in
// first-seen order.
func (v *Vocabulary) match(label string) []Action {
	var out []Action
	for _, tok := range tokenize(label) {
		a, ok := v.verbs[tok]
		if !ok {
			continue
		}
		seen := false
		for _, m := range out {
			if m == a {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, a)
		}
	}
	return out
}

// #endregion vocabulary

// #region helpers
func tokenize(label string) []string {
	fields := strings.FieldsFunc(label, func(r rune) bool {
		return r == '_' || r == '-' || r == ',' || r == '{' || r == '}' || unicode.IsSpace(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// #endregion helpers

package statekey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// #region valuation
// Valuation is a parsed verifier state valuation: integer assignments and
// boolean flags, keyed by variable name.
type Valuation struct {
	Ints  map[string]int
	Bools map[string]bool
}

// ParseValuation parses `name=value` and `name` / `!name` tokens. Tokens may be
// separated by spaces, tabs or '&'; surrounding brackets are ignored.
func ParseValuation(raw string) (Valuation, error) {
	body := raw
	if open := strings.IndexByte(body, '['); open >= 0 {
		end := strings.LastIndexByte(body, ']')
		if end < open {
			return Valuation{}, &ParseError{Reason: "unbalanced brackets"}
		}
		body = body[open+1 : end]
	}

	tokens := strings.FieldsFunc(body, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '&' || r == '\n' || r == '\r'
	})
	if len(tokens) == 0 {
		return Valuation{}, &ParseError{Reason: "empty valuation"}
	}

	v := Valuation{
		Ints:  make(map[string]int),
		Bools: make(map[string]bool),
	}
	for _, tok := range tokens {
		if name, value, ok := strings.Cut(tok, "="); ok {
			if !isIdent(name) {
				return Valuation{}, &ParseError{Var: name, Reason: "invalid variable name"}
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return Valuation{}, &ParseError{Var: name, Reason: fmt.Sprintf("non-integer value %q", value)}
			}
			if v.has(name) {
				return Valuation{}, &ParseError{Var: name, Reason: "assigned twice"}
			}
			v.Ints[name] = n
			continue
		}
		name, negated := strings.CutPrefix(tok, "!")
		if !isIdent(name) {
			return Valuation{}, &ParseError{Var: tok, Reason: "invalid flag"}
		}
		if v.has(name) {
			return Valuation{}, &ParseError{Var: name, Reason: "assigned twice"}
		}
		v.Bools[name] = !negated
	}
	return v, nil
}

func (v Valuation) has(name string) bool {
	if _, ok := v.Ints[name]; ok {
		return true
	}
	_, ok := v.Bools[name]
	return ok
}

// Int returns a required integer variable.
func (v Valuation) Int(name string) (int, error) {
	n, ok := v.Ints[name]
	if !ok {
		return 0, &ParseError{Var: name, Reason: "missing integer variable"}
	}
	return n, nil
}

// Bool returns a required boolean flag.
func (v Valuation) Bool(name string) (bool, error) {
	b, ok := v.Bools[name]
	if !ok {
		return false, &ParseError{Var: name, Reason: "missing boolean flag"}
	}
	return b, nil
}

// String renders the valuation with variables sorted by name.
func (v Valuation) String() string {
	tokens := make([]string, 0, len(v.Ints)+len(v.Bools))
	for name, n := range v.Ints {
		tokens = append(tokens, fmt.Sprintf("%s=%d", name, n))
	}
	for name, b := range v.Bools {
		if b {
			tokens = append(tokens, name)
		} else {
			tokens = append(tokens, "!"+name)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return strings.TrimPrefix(tokens[i], "!") < strings.TrimPrefix(tokens[j], "!")
	})
	return "[" + strings.Join(tokens, "\t& ") + "]"
}

// #endregion valuation

// #region filter
// Filter recognizes verifier bookkeeping states. The verifier interleaves
// agent turns with clock ticks and fault phases; only states where the clock
// is zero and the phase variable marks the agent's turn are decision points.
type Filter struct {
	ClockVar      string `yaml:"clock_var"`
	PhaseVar      string `yaml:"phase_var"`
	DecisionPhase int    `yaml:"decision_phase"`
}

// DefaultFilter matches the model generator's variable naming.
func DefaultFilter() Filter {
	return Filter{
		ClockVar:      "clock",
		PhaseVar:      "previousActionAgent",
		DecisionPhase: 3,
	}
}

// Check returns an error wrapping ErrBookkeeping when v is not a decision point.
// Absent bookkeeping variables are treated as consistent.
func (f Filter) Check(v Valuation) error {
	if f.ClockVar != "" {
		if c, ok := v.Ints[f.ClockVar]; ok && c != 0 {
			return fmt.Errorf("%w: %s=%d", ErrBookkeeping, f.ClockVar, c)
		}
	}
	if f.PhaseVar != "" {
		if p, ok := v.Ints[f.PhaseVar]; ok && p != f.DecisionPhase {
			return fmt.Errorf("%w: %s=%d", ErrBookkeeping, f.PhaseVar, p)
		}
	}
	return nil
}

// #endregion filter

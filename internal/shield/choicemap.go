package shield

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region choice-map
// Choice is one entry of a scheduler choice map: a weight and the verifier's
// internal action (choice) index.
type Choice struct {
	Weight   float64 `json:"weight"`
	ActionID int     `json:"action_id"`
}

// ChoiceState lists the scheduler choices of one internal state.
type ChoiceState struct {
	ID      int      `json:"id"`
	Choices []Choice `json:"choices"`
}

// ChoiceMap is the live scheduler artifact: per-state choices plus the side
// tables mapping state ids to valuations and action ids to label sets.
type ChoiceMap struct {
	States     []ChoiceState    `json:"states"`
	Valuations map[int]string   `json:"valuations"`
	Labels     map[int][]string `json:"labels"`
}

// Records converts every internal state into a raw record. States without a
// valuation, or choices without a label set, become malformed records.
func (m *ChoiceMap) Records(ctx context.Context) ([]RawRecord, error) {
	out := make([]RawRecord, 0, len(m.States))
	for i, st := range m.States {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec := RawRecord{Source: fmt.Sprintf("state:%d", st.ID)}
		val, ok := m.Valuations[st.ID]
		if !ok {
			rec.Err = &statekey.ParseError{Reason: fmt.Sprintf("no valuation for state %d", st.ID)}
			out = append(out, rec)
			continue
		}
		rec.Valuation = val
		for _, c := range st.Choices {
			labels, ok := m.Labels[c.ActionID]
			if !ok {
				rec.Err = &statekey.ParseError{Reason: fmt.Sprintf("no labels for action %d", c.ActionID)}
				break
			}
			rec.Choices = append(rec.Choices, RawChoice{Weight: c.Weight, Labels: labels})
		}
		out = append(out, rec)
	}
	return out, nil
}

// #endregion choice-map

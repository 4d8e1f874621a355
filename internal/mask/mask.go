package mask

import (
	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region lookup
// Lookup maps a key to its shield weights. A key the table does not hold, a
// key recorded without any permitted action, and a nil table all yield the
// policy's fallback mask.
func Lookup(k statekey.Key, table *shield.Table, policy Policy) (ActionMask, Source) {
	if table == nil {
		return policy.Fallback(), SourceNoTable
	}
	w, n, ok := table.Weights(k)
	switch {
	case !ok:
		return policy.Fallback(), SourceFallback
	case n == 0:
		return policy.Fallback(), SourceEmpty
	}
	return ActionMask(w), SourceShield
}

// Mask is the pure query: shield lookup, fallback, then override rules.
func Mask(k statekey.Key, table *shield.Table, s statekey.Snapshot, policy Policy, rules []Rule) ActionMask {
	m, _ := Lookup(k, table, policy)
	Override(s, &m, rules)
	return m
}

// #endregion lookup

// #region server
// Options configure a Server. A nil Rules uses DefaultRules; pass an empty
// slice to run without overrides.
type Options struct {
	Policy   Policy
	Rules    []Rule
	Disabled bool
	Logger   *zap.Logger
}

// Server answers mask queries against whatever table its provider currently
// publishes. It holds no other state and is safe for concurrent use.
type Server struct {
	provider TableProvider
	policy   Policy
	rules    []Rule
	disabled bool
	log      *zap.Logger
}

// NewServer creates a server reading tables from p.
func NewServer(p TableProvider, opts Options) *Server {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{provider: p, policy: opts.Policy, rules: rules, disabled: opts.Disabled, log: log}
}

// Policy returns the fallback policy in effect.
func (s *Server) Policy() Policy { return s.policy }

// CreateActionMask returns the mask for the snapshot. It never fails: any
// condition that prevents a shield lookup resolves to the fallback policy.
func (s *Server) CreateActionMask(snap statekey.Snapshot) ActionMask {
	return s.Explain(snap).Mask
}

// Explain is CreateActionMask with the reasoning attached.
func (s *Server) Explain(snap statekey.Snapshot) Decision {
	if s.disabled {
		return Decision{Mask: AllowAllMask(), Source: SourceDisabled}
	}

	var d Decision
	var table *shield.Table
	if s.provider != nil {
		table = s.provider.Current()
	}
	if table == nil {
		d.Mask, d.Source = s.policy.Fallback(), SourceNoTable
	} else if k, err := statekey.Encode(snap, table.Order()); err != nil {
		s.log.Warn("state encoding failed, using fallback policy",
			zap.Error(err), zap.Stringer("policy", s.policy))
		d.Mask, d.Source, d.Err = s.policy.Fallback(), SourceEncodingError, err
	} else {
		d.Key = k
		d.Mask, d.Source = Lookup(k, table, s.policy)
	}

	d.Overridden = Override(snap, &d.Mask, s.rules)
	return d
}

// #endregion server

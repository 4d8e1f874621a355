package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/verifier"
)

// #region state
// State is the controller's position in the session lifecycle.
type State int32

const (
	Uninitialized State = iota
	Built
	Stale
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Built:
		return "built"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// #endregion state

// #region mode
// Mode decides when episode resets trigger a rebuild.
type Mode int

const (
	// PerEnvironment builds once; later resets keep the table.
	PerEnvironment Mode = iota
	// PerEpisode rebuilds on reset whenever the world fingerprint changed.
	PerEpisode
)

func (m Mode) String() string {
	if m == PerEpisode {
		return "per-episode"
	}
	return "per-environment"
}

// ParseMode accepts "per-environment" or "per-episode".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-environment", "per_environment":
		return PerEnvironment, nil
	case "per-episode", "per_episode":
		return PerEpisode, nil
	default:
		return PerEnvironment, fmt.Errorf("unknown lifecycle mode %q", s)
	}
}

// #endregion mode

// #region verifier
// Verifier produces a shield artifact for a world. *verifier.Pipeline is the
// production implementation.
type Verifier interface {
	Run(ctx context.Context, snap statekey.Snapshot, spec verifier.SafetySpec) (shield.Artifact, *verifier.Workspace, error)
}

// #endregion verifier

// #region errors
var (
	// ErrStale is returned by builds after the session was closed.
	ErrStale = errors.New("shield session is closed")
	// ErrNotBuilt is returned when a table is required but none was published.
	ErrNotBuilt = errors.New("no shield table built")
)

// #endregion errors

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/logging"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/store"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/verifier"
)

// #region options
// Options configure a Controller. Shield.Order is the field order every table
// is built with; Shield.Spec and Shield.Fingerprint are filled per build.
type Options struct {
	Spec     verifier.SafetySpec
	Mode     Mode
	Shield   shield.Options
	Verifier Verifier
	Store    *store.Store // optional shield cache and build log
	Logger   *zap.Logger
}

// #endregion options

// #region controller
// Controller owns the published shield table. Builds are serialized by a
// mutex and run entirely off to the side; the result is published with one
// atomic pointer swap, so readers never lock and never see a partial table.
type Controller struct {
	opts Options
	log  *zap.Logger

	current atomic.Pointer[shield.Table]
	state   atomic.Int32

	buildMu     sync.Mutex
	fingerprint string
	lastReport  shield.Report
	retained    []*verifier.Workspace
}

// New creates an uninitialized controller.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Shield.Logger == nil {
		opts.Shield.Logger = log
	}
	return &Controller{opts: opts, log: log}
}

// Current returns the published table, nil before the first build and after
// Close. It implements mask.TableProvider.
func (c *Controller) Current() *shield.Table {
	return c.current.Load()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Require returns the published table or ErrNotBuilt.
func (c *Controller) Require() (*shield.Table, error) {
	if t := c.current.Load(); t != nil {
		return t, nil
	}
	if c.State() == Stale {
		return nil, ErrStale
	}
	return nil, ErrNotBuilt
}

// LastReport returns the report of the most recent successful build.
func (c *Controller) LastReport() shield.Report {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	return c.lastReport
}

// #endregion controller

// #region build
// Build produces and publishes a table for the snapshot's world. On failure
// the previous table and state stay in effect.
func (c *Controller) Build(ctx context.Context, snap statekey.Snapshot) (shield.Report, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	return c.buildLocked(ctx, snap, logging.TriggerBuild)
}

// OnEpisodeReset rebuilds when the mode asks for it. PerEnvironment builds
// only if nothing was built yet; PerEpisode rebuilds when the world
// fingerprint differs from the published table's.
func (c *Controller) OnEpisodeReset(ctx context.Context, snap statekey.Snapshot) (bool, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	switch c.State() {
	case Stale:
		return false, ErrStale
	case Built:
		if c.opts.Mode == PerEnvironment {
			return false, nil
		}
		if Fingerprint(snap, c.opts.Spec, c.opts.Shield.Order) == c.fingerprint {
			return false, nil
		}
	}
	if _, err := c.buildLocked(ctx, snap, logging.TriggerReset); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) buildLocked(ctx context.Context, snap statekey.Snapshot, trigger string) (shield.Report, error) {
	if c.State() == Stale {
		return shield.Report{}, ErrStale
	}
	fp := Fingerprint(snap, c.opts.Spec, c.opts.Shield.Order)

	if c.opts.Store != nil {
		table, err := c.opts.Store.FindByFingerprint(fp)
		switch {
		case err == nil:
			c.publish(table, fp, shield.Report{Accepted: table.Len()})
			c.logBuild(logging.BuildEntry{VersionID: table.ID(), Fingerprint: fp, Trigger: trigger, Outcome: logging.OutcomeCacheHit})
			c.log.Info("shield loaded from cache", zap.String("id", table.ID()), zap.String("fingerprint", fp))
			return c.lastReport, nil
		case !errors.Is(err, store.ErrNotFound):
			c.log.Warn("shield cache lookup failed", zap.Error(err))
		}
	}

	if c.opts.Verifier == nil {
		return shield.Report{}, errors.New("build shield: no verifier configured")
	}
	art, ws, err := c.opts.Verifier.Run(ctx, snap, c.opts.Spec)
	c.track(ws)
	if err != nil {
		c.fail(fp, trigger, err)
		return shield.Report{}, fmt.Errorf("run verifier: %w", err)
	}
	if ws != nil && !ws.Retain {
		defer func() {
			if derr := ws.Dispose(); derr != nil {
				c.log.Warn("workspace cleanup failed", zap.String("dir", ws.Dir), zap.Error(derr))
			}
		}()
	}

	opts := c.opts.Shield
	opts.Spec = c.opts.Spec.Key()
	opts.Fingerprint = fp
	table, report, err := shield.Build(ctx, art, opts)
	if err != nil {
		c.fail(fp, trigger, err)
		return report, fmt.Errorf("build shield: %w", err)
	}
	c.publish(table, fp, report)
	c.persist(table, report, trigger)
	return report, nil
}

// #endregion build

// #region load
// Load builds a table from a ready artifact, such as a shield export on disk,
// with the same publication rules as Build.
func (c *Controller) Load(ctx context.Context, art shield.Artifact, trigger string) (shield.Report, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	if c.State() == Stale {
		return shield.Report{}, ErrStale
	}
	if trigger == "" {
		trigger = logging.TriggerLoad
	}
	opts := c.opts.Shield
	opts.Spec = c.opts.Spec.Key()
	table, report, err := shield.Build(ctx, art, opts)
	if err != nil {
		c.fail("", trigger, err)
		return report, fmt.Errorf("load shield: %w", err)
	}
	c.publish(table, "", report)
	c.persist(table, report, trigger)
	return report, nil
}

// Publish installs a prebuilt table, e.g. one loaded from the store.
func (c *Controller) Publish(t *shield.Table) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if c.State() == Stale {
		return ErrStale
	}
	c.publish(t, t.Meta().Fingerprint, shield.Report{Accepted: t.Len()})
	return nil
}

// #endregion load

// #region close
// Close ends the session: the table is withdrawn, retained workspaces are
// removed and later builds fail with ErrStale. Calling Close again is a no-op.
func (c *Controller) Close() error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	if c.State() == Stale {
		return nil
	}
	c.state.Store(int32(Stale))
	c.current.Store(nil)

	var errs []error
	for _, ws := range c.retained {
		if err := ws.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	c.retained = nil
	c.log.Info("shield session closed")
	return errors.Join(errs...)
}

// #endregion close

// #region helpers
func (c *Controller) publish(t *shield.Table, fp string, report shield.Report) {
	c.current.Store(t)
	c.state.Store(int32(Built))
	c.fingerprint = fp
	c.lastReport = report
}

func (c *Controller) track(ws *verifier.Workspace) {
	if ws != nil && ws.Retain {
		c.retained = append(c.retained, ws)
		c.log.Info("retaining shield workspace", zap.String("dir", ws.Dir))
	}
}

func (c *Controller) persist(t *shield.Table, report shield.Report, trigger string) {
	if c.opts.Store == nil {
		return
	}
	if _, err := c.opts.Store.SaveTable(t, report); err != nil {
		c.log.Warn("shield cache save failed", zap.Error(err))
	}
	c.logBuild(logging.BuildEntry{
		VersionID:   t.ID(),
		Fingerprint: t.Meta().Fingerprint,
		Trigger:     trigger,
		Outcome:     logging.OutcomeBuilt,
		CountsJSON:  logging.Counts(report),
	})
}

func (c *Controller) fail(fp, trigger string, err error) {
	c.log.Error("shield build failed", zap.String("trigger", trigger), zap.Error(err))
	c.logBuild(logging.BuildEntry{Fingerprint: fp, Trigger: trigger, Outcome: logging.OutcomeFailed, Reason: err.Error()})
}

func (c *Controller) logBuild(e logging.BuildEntry) {
	if c.opts.Store == nil {
		return
	}
	if err := logging.LogBuild(c.opts.Store.DB(), e); err != nil {
		c.log.Warn("build log write failed", zap.Error(err))
	}
}

// #endregion helpers

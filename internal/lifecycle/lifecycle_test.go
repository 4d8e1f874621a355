package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/logging"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/store"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/verifier"
)

var testSpec = verifier.SafetySpec{Formula: "Pmax=? [G !AgentIsOnLava]", Value: 1, Comparison: verifier.ComparisonAbsolute}

func agentLine(x, y int) string {
	return fmt.Sprintf("[!AgentDone & !Agent_is_carrying_object & xAgent=%d & yAgent=%d & viewAgent=0 & clock=0 & previousActionAgent=3] {move}", x, y)
}

func export(lines ...string) string {
	return "rule\nPreSafety, gamma=1\ncolumns\n" + strings.Join(lines, "\n") + "\nSkipped 0 states\nrule\n"
}

func world(layout string) statekey.Snapshot {
	return statekey.Snapshot{X: 1, Y: 1, Layout: layout, Params: map[string]string{"ProbForwardIntended": "1"}}
}

// #region fake-verifier
type fakeVerifier struct {
	mu     sync.Mutex
	calls  int
	lines  []string
	err    error
	root   string
	retain bool
}

func (f *fakeVerifier) Run(_ context.Context, _ statekey.Snapshot, _ verifier.SafetySpec) (shield.Artifact, *verifier.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	var ws *verifier.Workspace
	if f.root != "" {
		var err error
		if ws, err = verifier.NewWorkspace(f.root, f.retain); err != nil {
			return nil, nil, err
		}
	}
	if f.err != nil {
		if ws != nil && !ws.Retain {
			ws.Dispose()
			ws = nil
		}
		return nil, ws, f.err
	}
	return shield.NewText("fake.shield", []byte(export(f.lines...))), ws, nil
}

func (f *fakeVerifier) set(lines []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines, f.err = lines, err
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newController(v Verifier, mode Mode) *Controller {
	return New(Options{
		Spec:     testSpec,
		Mode:     mode,
		Shield:   shield.DefaultOptions(statekey.FieldOrder{}),
		Verifier: v,
	})
}

// #endregion fake-verifier

// #region state-machine-tests
func TestControllerStateMachine(t *testing.T) {
	fv := &fakeVerifier{lines: []string{agentLine(1, 1)}}
	c := newController(fv, PerEnvironment)

	assert.Equal(t, Uninitialized, c.State())
	assert.Nil(t, c.Current())
	_, err := c.Require()
	assert.ErrorIs(t, err, ErrNotBuilt)

	report, err := c.Build(context.Background(), world("WG"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, Built, c.State())
	_, ok := c.Current().Lookup(statekey.Key{X: 1, Y: 1})
	assert.True(t, ok)
	assert.Equal(t, 1, c.LastReport().Accepted)

	require.NoError(t, c.Close())
	assert.Equal(t, Stale, c.State())
	assert.Nil(t, c.Current())
	_, err = c.Build(context.Background(), world("WG"))
	assert.ErrorIs(t, err, ErrStale)
	_, err = c.Require()
	assert.ErrorIs(t, err, ErrStale)
	_, err = c.Load(context.Background(), shield.NewText("x", nil), "")
	assert.ErrorIs(t, err, ErrStale)
	assert.NoError(t, c.Close())
}

func TestBuildFailureKeepsPreviousTable(t *testing.T) {
	fv := &fakeVerifier{lines: []string{agentLine(1, 1)}}
	c := newController(fv, PerEnvironment)
	_, err := c.Build(context.Background(), world("WG"))
	require.NoError(t, err)
	before := c.Current()

	fv.set(nil, &verifier.ExternalToolError{Tool: "generator", ExitCode: 2})
	_, err = c.Build(context.Background(), world("WG"))
	require.Error(t, err)
	assert.ErrorIs(t, err, verifier.ErrExternalTool)
	assert.Same(t, before, c.Current())
	assert.Equal(t, Built, c.State())

	fv.set([]string{"garbage"}, nil)
	_, err = c.Build(context.Background(), world("WG"))
	assert.ErrorIs(t, err, shield.ErrEmptyShield)
	assert.Same(t, before, c.Current())
}

func TestBuildFailureFromUninitialized(t *testing.T) {
	fv := &fakeVerifier{err: errors.New("storm crashed")}
	c := newController(fv, PerEnvironment)
	_, err := c.Build(context.Background(), world("WG"))
	require.Error(t, err)
	assert.Equal(t, Uninitialized, c.State())
	assert.Nil(t, c.Current())
}

func TestBuildWithoutVerifier(t *testing.T) {
	c := newController(nil, PerEnvironment)
	_, err := c.Build(context.Background(), world("WG"))
	assert.Error(t, err)
}

// #endregion state-machine-tests

// #region reset-tests
func TestOnEpisodeResetPerEnvironment(t *testing.T) {
	fv := &fakeVerifier{lines: []string{agentLine(1, 1)}}
	c := newController(fv, PerEnvironment)

	rebuilt, err := c.OnEpisodeReset(context.Background(), world("WG"))
	require.NoError(t, err)
	assert.True(t, rebuilt)

	rebuilt, err = c.OnEpisodeReset(context.Background(), world("WGWG"))
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.Equal(t, 1, fv.callCount())
}

func TestOnEpisodeResetPerEpisode(t *testing.T) {
	fv := &fakeVerifier{lines: []string{agentLine(1, 1)}}
	c := newController(fv, PerEpisode)

	rebuilt, err := c.OnEpisodeReset(context.Background(), world("WG"))
	require.NoError(t, err)
	assert.True(t, rebuilt)

	moved := world("WG")
	moved.X, moved.Y = 5, 5
	rebuilt, err = c.OnEpisodeReset(context.Background(), moved)
	require.NoError(t, err)
	assert.False(t, rebuilt, "agent pose is not part of the fingerprint")

	rebuilt, err = c.OnEpisodeReset(context.Background(), world("WGWG"))
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, 2, fv.callCount())

	require.NoError(t, c.Close())
	_, err = c.OnEpisodeReset(context.Background(), world("WG"))
	assert.ErrorIs(t, err, ErrStale)
}

// #endregion reset-tests

// #region workspace-tests
func TestWorkspaceDisposedAfterBuild(t *testing.T) {
	root := t.TempDir()
	fv := &fakeVerifier{lines: []string{agentLine(1, 1)}, root: root}
	c := newController(fv, PerEnvironment)
	_, err := c.Build(context.Background(), world("WG"))
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRetainedWorkspacesRemovedOnClose(t *testing.T) {
	root := t.TempDir()
	fv := &fakeVerifier{lines: []string{agentLine(1, 1)}, root: root, retain: true}
	c := newController(fv, PerEnvironment)
	_, err := c.Build(context.Background(), world("WG"))
	require.NoError(t, err)

	fv.set(nil, errors.New("boom"))
	_, err = c.Build(context.Background(), world("WG"))
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, c.Close())
	entries, err = os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// #endregion workspace-tests

// #region cache-tests
func TestStoreCacheSkipsVerifier(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "shield.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	first := &fakeVerifier{lines: []string{agentLine(1, 1), agentLine(2, 1)}}
	c1 := New(Options{Spec: testSpec, Shield: shield.DefaultOptions(statekey.FieldOrder{}), Verifier: first, Store: st})
	_, err = c1.Build(context.Background(), world("WG"))
	require.NoError(t, err)
	built := c1.Current()
	require.NoError(t, c1.Close())

	second := &fakeVerifier{err: errors.New("must not run")}
	c2 := New(Options{Spec: testSpec, Shield: shield.DefaultOptions(statekey.FieldOrder{}), Verifier: second, Store: st})
	report, err := c2.Build(context.Background(), world("WG"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.callCount())
	assert.Equal(t, built.ID(), c2.Current().ID())
	assert.Equal(t, 2, report.Accepted)

	_, err = c2.Build(context.Background(), world("WGWG"))
	require.Error(t, err)
	assert.Equal(t, 1, second.callCount())

	builds, err := st.ListBuilds(10)
	require.NoError(t, err)
	require.Len(t, builds, 3)
	assert.Equal(t, logging.OutcomeFailed, builds[0].Outcome)
	assert.Equal(t, logging.OutcomeCacheHit, builds[1].Outcome)
	assert.Equal(t, logging.OutcomeBuilt, builds[2].Outcome)
	assert.Equal(t, built.ID(), builds[2].VersionID)
}

// #endregion cache-tests

// #region load-tests
func TestLoadArtifact(t *testing.T) {
	c := newController(nil, PerEnvironment)
	_, err := c.Load(context.Background(), shield.NewText("a", []byte(export(agentLine(3, 3)))), "")
	require.NoError(t, err)
	assert.Equal(t, Built, c.State())
	before := c.Current()

	_, err = c.Load(context.Background(), shield.NewText("b", []byte(export("garbage"))), "")
	assert.ErrorIs(t, err, shield.ErrEmptyShield)
	assert.Same(t, before, c.Current())
}

func TestPublish(t *testing.T) {
	c := newController(nil, PerEnvironment)
	table, err := shield.NewTable(shield.Meta{}, []shield.Entry{{Key: statekey.Key{X: 9}}})
	require.NoError(t, err)
	require.NoError(t, c.Publish(table))
	assert.Same(t, table, c.Current())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Publish(table), ErrStale)
}

func TestControllerServesMasks(t *testing.T) {
	c := newController(&fakeVerifier{lines: []string{agentLine(1, 1)}}, PerEnvironment)
	srv := mask.NewServer(c, mask.Options{})

	snap := world("WG")
	snap.Front = statekey.TileDoor
	assert.Equal(t, mask.AllowAllMask(), srv.CreateActionMask(snap))

	_, err := c.Build(context.Background(), world("WG"))
	require.NoError(t, err)
	m := srv.CreateActionMask(snap)
	assert.Equal(t, mask.ActionMask{0, 0, 1, 0, 0, 1, 0}, m)
	assert.Equal(t, 1.0, m[action.Toggle])
}

// #endregion load-tests

// #region concurrency-tests
func TestConcurrentReadersSeeCompleteTables(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	small := []string{agentLine(1, 1)}
	large := []string{agentLine(1, 1), agentLine(2, 1), agentLine(3, 1)}
	fv := &fakeVerifier{lines: small}
	c := newController(fv, PerEnvironment)
	_, err := c.Build(context.Background(), world("WG"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				tbl := c.Current()
				if n := tbl.Len(); n != 1 && n != 3 {
					t.Errorf("observed partial table with %d states", n)
					return
				}
				if _, ok := tbl.Lookup(statekey.Key{X: 1, Y: 1}); !ok {
					t.Error("published table lost a state")
					return
				}
			}
		}()
	}

	for i := range 20 {
		if i%2 == 0 {
			fv.set(large, nil)
		} else {
			fv.set(small, nil)
		}
		_, err := c.Build(context.Background(), world("WG"))
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

// #endregion concurrency-tests

// #region fingerprint-tests
func TestFingerprint(t *testing.T) {
	order := statekey.FieldOrder{Doors: []string{"red"}}
	base := Fingerprint(world("WG"), testSpec, order)
	assert.Len(t, base, 64)

	moved := world("WG")
	moved.X, moved.Dir = 7, 2
	assert.Equal(t, base, Fingerprint(moved, testSpec, order))

	assert.NotEqual(t, base, Fingerprint(world("WGWG"), testSpec, order))

	params := world("WG")
	params.Params["ProbTurnIntended"] = "0.8"
	assert.NotEqual(t, base, Fingerprint(params, testSpec, order))

	spec := testSpec
	spec.Value = 0.5
	assert.NotEqual(t, base, Fingerprint(world("WG"), spec, order))
	assert.NotEqual(t, base, Fingerprint(world("WG"), testSpec, statekey.FieldOrder{}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("per-episode")
	require.NoError(t, err)
	assert.Equal(t, PerEpisode, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, PerEnvironment, m)
	_, err = ParseMode("hourly")
	assert.Error(t, err)
}

// #endregion fingerprint-tests

// #region watcher-tests
func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "shield.txt")
	require.NoError(t, os.WriteFile(path, []byte(export(agentLine(1, 1))), 0o644))

	c := newController(nil, PerEnvironment)
	reloads := make(chan error, 16)
	w, err := NewWatcher(c, path, WatchOptions{
		HeaderLines: shield.DefaultHeaderLines,
		FooterLines: shield.DefaultFooterLines,
		Debounce:    20 * time.Millisecond,
		OnReload:    func(_ shield.Report, err error) { reloads <- err },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-reloads:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("initial load did not happen")
	}
	_, ok := c.Current().Lookup(statekey.Key{X: 1, Y: 1})
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(export(agentLine(2, 2))), 0o644))
	require.Eventually(t, func() bool {
		tbl := c.Current()
		if tbl == nil {
			return false
		}
		_, ok := tbl.Lookup(statekey.Key{X: 2, Y: 2})
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(export("garbage")), 0o644))
	deadline := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-reloads:
			failed = err != nil
		case <-deadline:
			t.Fatal("bad rewrite was not reported")
		}
	}
	_, ok = c.Current().Lookup(statekey.Key{X: 2, Y: 2})
	assert.True(t, ok, "previous table stays after a failed reload")

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, w.Close())
}

func TestWatcherMissingDirectory(t *testing.T) {
	c := newController(nil, PerEnvironment)
	_, err := NewWatcher(c, filepath.Join(t.TempDir(), "nope", "shield.txt"), WatchOptions{})
	assert.Error(t, err)
}

// #endregion watcher-tests

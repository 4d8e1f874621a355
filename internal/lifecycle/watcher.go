package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/logging"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
)

// DefaultDebounce coalesces the burst of events a single file rewrite emits.
const DefaultDebounce = 200 * time.Millisecond

// #region watcher
// WatchOptions configure a Watcher.
type WatchOptions struct {
	HeaderLines int
	FooterLines int
	Debounce    time.Duration
	// OnReload, if set, is called after every reload attempt.
	OnReload func(shield.Report, error)
	Logger   *zap.Logger
}

// Watcher reloads a shield text export into a Controller whenever the file
// is written. A failed reload is logged and the previous table stays.
type Watcher struct {
	ctrl *Controller
	path string
	opts WatchOptions
	log  *zap.Logger
	fsw  *fsnotify.Watcher

	closeOnce sync.Once
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file are noticed too.
func NewWatcher(ctrl *Controller, path string, opts WatchOptions) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{ctrl: ctrl, path: abs, opts: opts, log: log, fsw: fsw}, nil
}

// Run loads the file once if it exists, then reloads on change until ctx is
// done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	if _, err := os.Stat(w.path); err == nil {
		w.reload(ctx)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.opts.Debounce)
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

func (w *Watcher) reload(ctx context.Context) {
	report, err := w.load(ctx)
	if err != nil {
		w.log.Warn("shield reload failed, keeping previous table", zap.String("path", w.path), zap.Error(err))
	} else {
		w.log.Info("shield reloaded", zap.String("path", w.path), zap.Int("states", report.Accepted))
	}
	if w.opts.OnReload != nil {
		w.opts.OnReload(report, err)
	}
}

func (w *Watcher) load(ctx context.Context) (shield.Report, error) {
	text, err := shield.LoadText(w.path, w.opts.HeaderLines, w.opts.FooterLines)
	if err != nil {
		return shield.Report{}, err
	}
	return w.ctrl.Load(ctx, text, logging.TriggerWatch)
}

// #endregion watcher

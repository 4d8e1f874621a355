package verifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// #region workspace
// Workspace is a scoped directory for one build's temporary files: the
// exported grid, the generated model and the checker's shield export.
type Workspace struct {
	Dir    string
	Retain bool

	mu       sync.Mutex
	disposed bool
}

// NewWorkspace creates `shielding_files_<timestamp>_*` under root, or under the
// system temp dir when root is empty.
func NewWorkspace(root string, retain bool) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	pattern := fmt.Sprintf("shielding_files_%s_", time.Now().Format("20060102T150405"))
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir, Retain: retain}, nil
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Dispose removes the workspace unless it is retained for inspection.
func (w *Workspace) Dispose() error {
	if w == nil || w.Retain {
		return nil
	}
	return w.Remove()
}

// Remove deletes the workspace regardless of Retain. Safe to call twice.
func (w *Workspace) Remove() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Dir, err)
	}
	w.disposed = true
	return nil
}

// Disposed reports whether the directory has been removed.
func (w *Workspace) Disposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}

// #endregion workspace

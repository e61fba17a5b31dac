package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"multistack/internal/frames"
	"multistack/internal/fsutil"
)

// PoolDir is the workspace-level directory collecting calibrated lights
// from every session.
const PoolDir = "calibrated"

// SessionPrefix names session directories: session_1, session_2, ...
const SessionPrefix = "session_"

// Workspace is the root holding session directories and the calibrated pool.
type Workspace struct {
	Root string
}

// OpenWorkspace resolves root and rejects paths the engine cannot handle.
func OpenWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := fsutil.CheckPath(abs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !fsutil.DirExists(abs) {
		return nil, fmt.Errorf("%w: workspace %s does not exist", ErrValidation, abs)
	}
	return &Workspace{Root: abs}, nil
}

// PoolPath returns the calibrated pool directory.
func (w *Workspace) PoolPath() string { return filepath.Join(w.Root, PoolDir) }

// SessionDirs lists session_* directories in natural numeric order.
func (w *Workspace) SessionDirs() ([]string, error) {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), SessionPrefix) {
			dirs = append(dirs, filepath.Join(w.Root, e.Name()))
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return fsutil.NaturalLess(dirs[i], dirs[j]) })
	return dirs, nil
}

// Sessions opens every session directory.
func (w *Workspace) Sessions(logger *slog.Logger) ([]*Session, error) {
	dirs, err := w.SessionDirs()
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: no %s* directories in %s", ErrValidation, SessionPrefix, w.Root)
	}
	out := make([]*Session, 0, len(dirs))
	for _, d := range dirs {
		s, err := Open(d, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate validates every session. Errors from all sessions are joined.
func Validate(sessions []*Session) error {
	var errs []error
	for _, s := range sessions {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScaffoldOptions selects which calibration directories Scaffold creates.
type ScaffoldOptions struct {
	Sessions int
	Darks    bool
	Flats    bool
	Biases   bool
}

// Scaffold creates session_1..session_N with lights/ (plus the selected
// calibration directories) and the calibrated pool under root. Existing
// directories are left untouched. It returns the created session paths.
func Scaffold(root string, opts ScaffoldOptions) ([]string, error) {
	if opts.Sessions < 1 {
		return nil, fmt.Errorf("%w: at least one session is required", ErrValidation)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := fsutil.CheckPath(abs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	subdirs := []string{LightsDir}
	if opts.Darks {
		subdirs = append(subdirs, frames.Dark.Dir())
	}
	if opts.Flats {
		subdirs = append(subdirs, frames.Flat.Dir())
	}
	if opts.Biases {
		subdirs = append(subdirs, frames.Bias.Dir())
	}

	var created []string
	for i := 1; i <= opts.Sessions; i++ {
		dir := filepath.Join(abs, fmt.Sprintf("%s%d", SessionPrefix, i))
		for _, sub := range subdirs {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				return created, err
			}
		}
		created = append(created, dir)
	}
	if err := os.MkdirAll(filepath.Join(abs, PoolDir), 0o755); err != nil {
		return created, err
	}
	return created, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"multistack/internal/classify"
	"multistack/internal/fits/fitstest"
	"multistack/internal/fsutil"
	"multistack/internal/siril"
	"multistack/internal/storage"
)

// fakeEngine mimics the file effects of the Siril commands the orchestrator
// issues, without running anything.
type fakeEngine struct {
	mu       sync.Mutex
	dir      string
	ext      string
	scripts  []string
	failOn   string          // substring of a script line that makes Exec fail
	noOutput map[string]bool // stack prefixes that produce nothing
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{ext: "fit", noOutput: map[string]bool{}}
}

func (e *fakeEngine) Dir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

func (e *fakeEngine) lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.scripts...)
}

func (e *fakeEngine) Exec(ctx context.Context, cmd siril.Command) error {
	line, err := cmd.Script()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts = append(e.scripts, line)
	if e.failOn != "" && strings.Contains(line, e.failOn) {
		return fmt.Errorf("%w: %s: boom", siril.ErrEngineInvocation, line)
	}

	switch c := cmd.(type) {
	case siril.Cd:
		if !fsutil.DirExists(c.Path) {
			return fmt.Errorf("%w: no such directory %s", siril.ErrEngineInvocation, c.Path)
		}
		e.dir = c.Path
	case siril.SetExt:
		e.ext = c.Ext
	case siril.SetBits:
	case siril.Convert:
		src, err := fsutil.ListFrames(e.dir)
		if err != nil {
			return err
		}
		for i, p := range src {
			if err := copyFile(p, filepath.Join(c.Out, fmt.Sprintf("%s_%05d.%s", c.Prefix, i+1, e.ext))); err != nil {
				return err
			}
		}
		writeEmpty(filepath.Join(c.Out, c.Prefix+"_.seq"))
		writeEmpty(filepath.Join(c.Out, c.Prefix+"_conversion.txt"))
	case siril.Calibrate:
		return e.derive(c.Prefix, "pp_")
	case siril.Register:
		return e.derive(c.Prefix, "r_")
	case siril.Stack:
		if e.noOutput[c.Prefix] {
			return nil
		}
		in, err := fsutil.Glob(e.dir, c.Prefix+"_", e.ext)
		if err != nil || len(in) == 0 {
			return fmt.Errorf("%w: empty sequence %s", siril.ErrEngineInvocation, c.Prefix)
		}
		out := filepath.Join(e.dir, c.Prefix+"_stacked."+e.ext)
		if c.Out != "" {
			out = filepath.Join(e.dir, c.Out+"."+e.ext)
		}
		return copyFile(in[0], out)
	default:
		return errors.New("unexpected command " + line)
	}
	return nil
}

// derive writes <out><prefix>_NNNNN for every numbered frame of prefix.
func (e *fakeEngine) derive(prefix, out string) error {
	in, err := fsutil.Glob(e.dir, prefix+"_", e.ext)
	if err != nil {
		return err
	}
	for _, p := range in {
		base := filepath.Base(p)
		if strings.Contains(base, "_stacked") {
			continue
		}
		if err := copyFile(p, filepath.Join(e.dir, out+base)); err != nil {
			return err
		}
	}
	writeEmpty(filepath.Join(e.dir, out+prefix+"_.seq"))
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func writeEmpty(path string) {
	_ = os.WriteFile(path, nil, 0o644)
}

// workspace lays out a session tree. Lights are 60s frames, RGB cubes when
// rgb is set. Calibration frames are mono 2x2 with EXPTIME.
type sessionSpec struct {
	lights int
	rgb    bool
	darks  int
	flats  int
	biases int
}

func makeWorkspace(t *testing.T, specs ...sessionSpec) string {
	t.Helper()
	root := t.TempDir()
	for i, sp := range specs {
		dir := filepath.Join(root, fmt.Sprintf("session_%d", i+1))
		axes := []int{2, 2}
		if sp.rgb {
			axes = []int{2, 2, 3}
		}
		for n := 1; n <= sp.lights; n++ {
			fitstest.Write(t, filepath.Join(dir, "lights", fmt.Sprintf("IMG_%04d.fit", n)), axes, fitstest.Card{Key: "EXPTIME", Value: 60.0})
		}
		for kind, count := range map[string]int{"darks": sp.darks, "flats": sp.flats, "biases": sp.biases} {
			for n := 1; n <= count; n++ {
				fitstest.Light(t, filepath.Join(dir, kind, fmt.Sprintf("%s_%d.fit", kind, n)), 1.0)
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "calibrated"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.New(filepath.Join(t.TempDir(), "multistack.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testSettings() Settings {
	return Settings{
		Bits:       32,
		Ext:        "fit",
		SigmaLow:   3,
		SigmaHigh:  3,
		MinStars:   100,
		MaxStars:   500,
		Watch:      true,
		FinalSweep: true,
	}
}

func newTestOrchestrator(e *fakeEngine, st *storage.Store, s Settings) *Orchestrator {
	return NewOrchestrator(e, classify.New(nil), st, s, nil, nil)
}

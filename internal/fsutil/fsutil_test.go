package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func touch(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListFramesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_light.FIT", "a_light.fits", "notes.txt", "c.CR2", "d.fts"} {
		touch(t, filepath.Join(dir, name), 1)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.fit"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListFrames(dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"a_light.fits", "b_light.FIT", "c.CR2", "d.fts"}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %v", len(want), got)
	}
	for i, name := range want {
		if filepath.Base(got[i]) != name {
			t.Fatalf("frame %d: expected %s, got %s", i, name, got[i])
		}
	}
}

func TestGlobMatchesPrefixAndExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"pp_light_00001.fit", "pp_light_00002.FIT", "pp_light_.seq", "light_00001.fit", "pp_light_00003.fits"} {
		touch(t, filepath.Join(dir, name), 1)
	}

	got, err := Glob(dir, "pp_light_", "fit")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %v", got)
	}

	all, err := Glob(dir, "pp_light_")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 matches without extension filter, got %v", all)
	}
}

func TestCheckPath(t *testing.T) {
	if err := CheckPath("/data/astro/m31"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckPath("/data/my astro"); !errors.Is(err, ErrPathHasSpace) {
		t.Fatalf("expected ErrPathHasSpace, got %v", err)
	}
}

func TestTrailingNumberAndNaturalOrder(t *testing.T) {
	if n, ok := TrailingNumber("/x/pp_light_00042.fit"); !ok || n != 42 {
		t.Fatalf("expected 42, got %d %v", n, ok)
	}
	if _, ok := TrailingNumber("light_.seq"); ok {
		t.Fatalf("expected no trailing number")
	}

	names := []string{"session_10", "session_2", "session_1"}
	sort.Slice(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
	if names[0] != "session_1" || names[1] != "session_2" || names[2] != "session_10" {
		t.Fatalf("unexpected order %v", names)
	}
}

func TestEstimateWorkingSet(t *testing.T) {
	dir := t.TempDir()
	var frames []string
	for i := 0; i < 8; i++ {
		p := filepath.Join(dir, "light_"+string(rune('a'+i))+".fit")
		touch(t, p, 1000)
		frames = append(frames, p)
	}
	got, err := EstimateWorkingSet(frames)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8*1000*33/10 {
		t.Fatalf("unexpected estimate %d", got)
	}
	if err := CheckFreeSpace(dir, frames, nil); err != nil {
		t.Fatalf("tiny working set should fit: %v", err)
	}
}

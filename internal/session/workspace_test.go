package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"multistack/internal/fits/fitstest"
)

func TestScaffoldCreatesLayout(t *testing.T) {
	root := t.TempDir()
	created, err := Scaffold(root, ScaffoldOptions{Sessions: 2, Darks: true, Flats: true})
	if err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 sessions, got %v", created)
	}
	for _, rel := range []string{"session_1/lights", "session_1/darks", "session_2/flats", "calibrated"} {
		if info, err := os.Stat(filepath.Join(root, rel)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "session_1", "biases")); !os.IsNotExist(err) {
		t.Fatalf("biases should not be created")
	}
}

func TestScaffoldRejectsSpaces(t *testing.T) {
	root := filepath.Join(t.TempDir(), "my astro")
	if _, err := Scaffold(root, ScaffoldOptions{Sessions: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := Scaffold(t.TempDir(), ScaffoldOptions{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero sessions, got %v", err)
	}
}

func TestWorkspaceSessionsNaturalOrder(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"session_10", "session_2", "session_1"} {
		fitstest.Light(t, filepath.Join(root, name, "lights", "light_1.fit"), 30)
	}
	if err := os.MkdirAll(filepath.Join(root, "calibrated"), 0o755); err != nil {
		t.Fatal(err)
	}

	ws, err := OpenWorkspace(root)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := ws.Sessions(nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range sessions {
		names = append(names, s.Name())
	}
	if len(names) != 3 || names[0] != "session_1" || names[1] != "session_2" || names[2] != "session_10" {
		t.Fatalf("unexpected order %v", names)
	}
	if err := Validate(sessions); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestWorkspaceWithoutSessions(t *testing.T) {
	ws, err := OpenWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Sessions(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := OpenWorkspace(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing workspace, got %v", err)
	}
}

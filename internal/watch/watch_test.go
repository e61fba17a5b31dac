package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func write(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestOriginal(t *testing.T) {
	orig, ok := Original("pp_pp_light_00001.fit", "pp")
	assert.True(t, ok)
	assert.Equal(t, "pp_light_00001.fit", orig, "prefix is stripped once")

	_, ok = Original("light_00001.fit", "pp")
	assert.False(t, ok)
	_, ok = Original("ppx_light.fit", "pp")
	assert.False(t, ok)
}

func TestDoDeletesOriginalsFromEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	write(t, dir, "light_00001.fit")
	write(t, dir, "light_00002.fit")
	write(t, dir, "light_.seq")

	c := New(dir, "pp", nil)
	c.FinalSweep = false

	rep, err := c.Do(context.Background(), func(ctx context.Context) error {
		write(t, dir, "pp_light_00001.fit")
		write(t, dir, "pp_light_00002.fit")
		write(t, dir, "pp_light_.seq")
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if !exists(dir, "light_00001.fit") && !exists(dir, "light_00002.fit") {
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		}
		return errors.New("originals not deleted while engine call was running")
	})
	require.NoError(t, err)

	sort.Strings(rep.Deleted)
	assert.Equal(t, []string{"light_00001.fit", "light_00002.fit"}, rep.Deleted)
	assert.True(t, exists(dir, "light_.seq"), "sequence files are preserved")
	assert.True(t, exists(dir, "pp_light_00001.fit"))
}

func TestDoFinalSweepCatchesMissedEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	write(t, dir, "r_pp_light_00009.fit") // existed before the scope
	write(t, dir, "pp_light_00009.fit")
	write(t, dir, "pp_light_00001.fit")
	write(t, dir, "pp_light_.seq")

	c := New(dir, "r", nil)
	// Fill the directory and return immediately; the sweep must finish the job
	// whatever the event delivery did.
	_, err := c.Do(context.Background(), func(ctx context.Context) error {
		write(t, dir, "r_pp_light_00001.fit")
		write(t, dir, "r_pp_light_.seq")
		return nil
	})
	require.NoError(t, err)

	assert.False(t, exists(dir, "pp_light_00001.fit"))
	assert.True(t, exists(dir, "pp_light_.seq"))
	assert.True(t, exists(dir, "pp_light_00009.fit"), "files prefixed before the scope are not swept")
}

func TestDoStopsOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	boom := errors.New("engine exploded")
	_, err := New(dir, "pp", nil).Do(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestDoStopsOnPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	write(t, dir, "light_00001.fit")

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
		}()
		_, _ = New(dir, "pp", nil).Do(context.Background(), func(ctx context.Context) error {
			write(t, dir, "pp_light_00001.fit")
			panic("engine handle corrupted")
		})
	}()

	assert.False(t, exists(dir, "light_00001.fit"), "sweep runs even when the call panics")
}

func TestDoMissingOriginalIsNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	c := New(dir, "pp", nil)
	c.Buffer = 16
	rep, err := c.Do(context.Background(), func(ctx context.Context) error {
		write(t, dir, "pp_light_00001.fit")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, rep.Deleted)
}

func TestDoRejectsMissingDir(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := New(filepath.Join(t.TempDir(), "missing"), "pp", nil).Do(context.Background(), func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.Error(t, err)
}

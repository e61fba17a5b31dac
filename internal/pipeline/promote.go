package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"multistack/internal/fsutil"
)

// poolPrefix is the name stem of every frame in the calibrated pool.
const poolPrefix = "pp_light_"

// promote moves the frames in src matching prefix into pool, renumbering
// them after the highest index already there. The counter is recomputed
// from disk on every call. Files that vanish mid-pass are logged and skipped.
func (o *Orchestrator) promote(src, pool, prefix string) (int, error) {
	files, err := fsutil.Glob(src, prefix, o.settings.Ext)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(files, func(i, j int) bool { return fsutil.NaturalLess(files[i], files[j]) })
	next, err := nextIndex(pool)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, f := range files {
		if _, ok := fsutil.TrailingNumber(f); !ok {
			continue
		}
		dst := filepath.Join(pool, fmt.Sprintf("%s%05d.%s", poolPrefix, next, o.settings.Ext))
		if err := move(f, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				o.log.Warn("frame disappeared before promotion", "path", f)
				continue
			}
			return moved, fmt.Errorf("promote %s: %w", filepath.Base(f), err)
		}
		next++
		moved++
	}
	return moved, nil
}

// nextIndex returns one past the highest pool index, or 1 for an empty pool.
func nextIndex(pool string) (int, error) {
	files, err := fsutil.Glob(pool, poolPrefix)
	if errors.Is(err, os.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	max := 0
	for _, f := range files {
		if strings.HasSuffix(f, ".seq") {
			continue
		}
		if n, ok := fsutil.TrailingNumber(f); ok && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// move renames src to dst, copying across filesystems.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

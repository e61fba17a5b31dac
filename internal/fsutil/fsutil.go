package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var fitsExts = map[string]struct{}{
	".fit":  {},
	".fits": {},
	".fts":  {},
}

var rawExts = map[string]struct{}{
	".raw": {},
	".nef": {},
	".cr2": {},
	".cr3": {},
	".arw": {},
	".dng": {},
	".orf": {},
	".raf": {},
	".rw2": {},
	".pef": {},
}

// IsFITSFile reports whether path has a FITS extension, in any case.
func IsFITSFile(path string) bool {
	_, ok := fitsExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsRAWFile checks if a file is a RAW camera format.
func IsRAWFile(path string) bool {
	_, ok := rawExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsFrameFile checks if a file is any supported frame format.
func IsFrameFile(path string) bool {
	return IsFITSFile(path) || IsRAWFile(path)
}

// ListFrames returns the supported frame files directly inside dir, sorted by name.
// Subdirectories are not descended into.
func ListFrames(dir string) ([]string, error) {
	return listFiles(dir, IsFrameFile)
}

// ListFiles returns every regular file directly inside dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	return listFiles(dir, func(string) bool { return true })
}

func listFiles(dir string, keep func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if keep(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Glob returns the regular files in dir whose names start with prefix and
// carry one of the given extensions (compared case-insensitively, without dot).
// An empty extension list matches any extension.
func Glob(dir, prefix string, exts ...string) ([]string, error) {
	return listFiles(dir, func(name string) bool {
		if !strings.HasPrefix(name, prefix) {
			return false
		}
		if len(exts) == 0 {
			return true
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		for _, want := range exts {
			if ext == strings.ToLower(strings.TrimPrefix(want, ".")) {
				return true
			}
		}
		return false
	})
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ErrPathHasSpace is returned by CheckPath for working paths the engine cannot handle.
var ErrPathHasSpace = errors.New("path contains spaces")

// CheckPath rejects paths containing whitespace; engine scripts split on it.
func CheckPath(path string) error {
	if strings.ContainsAny(path, " \t") {
		return fmt.Errorf("%q: %w", path, ErrPathHasSpace)
	}
	return nil
}

// TrailingNumber parses the decimal run at the end of a file's base name
// (without extension). ok is false when the name has no trailing digits.
func TrailingNumber(path string) (n int, ok bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return 0, false
	}
	n, err := strconv.Atoi(base[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NaturalLess orders names by their non-numeric stem, then by trailing number,
// so session_2 sorts before session_10.
func NaturalLess(a, b string) bool {
	na, oka := TrailingNumber(a)
	nb, okb := TrailingNumber(b)
	if oka && okb {
		sa := strings.TrimRight(strings.TrimSuffix(filepath.Base(a), filepath.Ext(a)), "0123456789")
		sb := strings.TrimRight(strings.TrimSuffix(filepath.Base(b), filepath.Ext(b)), "0123456789")
		if sa == sb && na != nb {
			return na < nb
		}
	}
	return a < b
}

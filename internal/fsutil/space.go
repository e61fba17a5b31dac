package fsutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// ErrInsufficientSpace is returned by CheckFreeSpace when the workspace disk is too small.
var ErrInsufficientSpace = errors.New("insufficient free disk space")

// FreeSpace returns the bytes available to unprivileged users on the filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// EstimateWorkingSet estimates the scratch space needed to process frames.
// Each light passes through converted, calibrated and registered copies, so
// the estimate is three times the input size plus a 10% margin. Large sets are
// sampled: the average of the first five files is extrapolated.
func EstimateWorkingSet(frames []string) (uint64, error) {
	if len(frames) == 0 {
		return 0, nil
	}

	sampleSize := len(frames)
	if sampleSize > 5 {
		sampleSize = 5
	}

	var total, counted int64
	for i := 0; i < sampleSize; i++ {
		if stat, err := os.Stat(frames[i]); err == nil {
			total += stat.Size()
			counted++
		}
	}
	if counted == 0 {
		return 0, fmt.Errorf("could not determine file sizes")
	}

	avg := uint64(total / counted)
	return uint64(len(frames)) * avg * 33 / 10, nil
}

// CheckFreeSpace compares the estimated working set for frames against the
// free space under dir. Estimation failures are logged and treated as success.
func CheckFreeSpace(dir string, frames []string, logger *slog.Logger) error {
	need, err := EstimateWorkingSet(frames)
	if err != nil {
		if logger != nil {
			logger.Debug("failed to estimate working set", "error", err)
		}
		return nil
	}

	free, err := FreeSpace(dir)
	if err != nil {
		if logger != nil {
			logger.Debug("failed to query free space", "dir", dir, "error", err)
		}
		return nil
	}

	if logger != nil {
		logger.Info("disk space check",
			"dir", dir,
			"free_mb", free/(1024*1024),
			"estimated_mb", need/(1024*1024),
			"frames", len(frames),
		)
	}

	if need > free {
		return fmt.Errorf("%w: need ~%d MB, %d MB free under %s",
			ErrInsufficientSpace, need/(1024*1024), free/(1024*1024), dir)
	}
	return nil
}

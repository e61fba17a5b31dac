// Package session models one night's worth of frames laid out as
// session_N/{lights,darks,flats,biases,process} under a workspace.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"multistack/internal/calibration"
	"multistack/internal/fits"
	"multistack/internal/frames"
	"multistack/internal/fsutil"
)

// ErrValidation marks layouts that cannot be processed.
var ErrValidation = errors.New("validation failed")

const (
	LightsDir  = "lights"
	ProcessDir = "process"
)

// Metadata describes a session. Optional values are nil when unknown.
type Metadata struct {
	Name        string
	Date        time.Time
	Target      string
	Exposure    *float64
	Temperature *float64
	Gain        *float64
}

// Session is one session directory with its scanned frames.
type Session struct {
	Dir        string
	Meta       Metadata
	Library    *frames.Library
	Lights     []*frames.Image
	Calibrated []*frames.Image
}

// Open scans dir's lights/ and process/ directories. Missing directories
// yield empty lists; Validate reports them.
func Open(dir string, logger *slog.Logger) (*Session, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Dir:     abs,
		Library: frames.NewLibrary(),
		Meta:    Metadata{Name: filepath.Base(abs)},
	}
	if info, err := os.Stat(abs); err == nil {
		s.Meta.Date = info.ModTime()
	}

	s.Lights, err = scan(s.LightsPath(), logger)
	if err != nil {
		return nil, err
	}
	s.Calibrated, err = scan(s.ProcessPath(), logger)
	if err != nil {
		return nil, err
	}
	// Only engine outputs count as calibrated.
	kept := s.Calibrated[:0]
	for _, img := range s.Calibrated {
		if img.IsCalibrated() {
			kept = append(kept, img)
		}
	}
	s.Calibrated = kept

	s.readMetadata(logger)
	return s, nil
}

func scan(dir string, logger *slog.Logger) ([]*frames.Image, error) {
	paths, err := fsutil.ListFrames(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	out := make([]*frames.Image, 0, len(paths))
	for _, p := range paths {
		img, err := frames.NewImage(p)
		if err != nil {
			if logger != nil {
				logger.Warn("frame vanished during scan", "path", p, "error", err)
			}
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

// readMetadata fills target, exposure, temperature and gain from the first
// readable FITS light.
func (s *Session) readMetadata(logger *slog.Logger) {
	for _, img := range s.Lights {
		if !fsutil.IsFITSFile(img.Path) {
			continue
		}
		h, err := fits.ReadHeader(img.Path)
		if err != nil {
			if logger != nil {
				logger.Debug("light header unreadable", "path", img.Path, "error", err)
			}
			continue
		}
		s.Meta.Target = h.Object
		s.Meta.Exposure = h.Exposure
		s.Meta.Temperature = h.Temperature
		s.Meta.Gain = h.Gain
		if t, err := time.Parse("2006-01-02T15:04:05", trimFraction(h.DateObs)); err == nil {
			s.Meta.Date = t
		}
		return
	}
}

func trimFraction(ts string) string {
	if i := strings.IndexByte(ts, '.'); i > 0 {
		return ts[:i]
	}
	return ts
}

// Name is the session directory's base name.
func (s *Session) Name() string { return s.Meta.Name }

// LightsPath returns the lights directory.
func (s *Session) LightsPath() string { return filepath.Join(s.Dir, LightsDir) }

// ProcessPath returns the engine's working directory for this session.
func (s *Session) ProcessPath() string { return filepath.Join(s.Dir, ProcessDir) }

// TypePath returns the raw directory for a calibration type.
func (s *Session) TypePath(t frames.Type) string { return filepath.Join(s.Dir, t.Dir()) }

// Availability reports which calibration directories exist. It reflects
// directory presence, not whether a master was built.
func (s *Session) Availability() calibration.Availability {
	return calibration.Availability{
		Flats:  fsutil.DirExists(s.TypePath(frames.Flat)),
		Biases: fsutil.DirExists(s.TypePath(frames.Bias)),
		Darks:  fsutil.DirExists(s.TypePath(frames.Dark)),
	}
}

// Validate checks the session directory, a non-empty lights directory, and
// that calibration directories, when present, are not empty.
func (s *Session) Validate() error {
	if err := fsutil.CheckPath(s.Dir); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !fsutil.DirExists(s.Dir) {
		return fmt.Errorf("%w: session directory %s does not exist", ErrValidation, s.Dir)
	}
	if !fsutil.DirExists(s.LightsPath()) {
		return fmt.Errorf("%w: %s: lights directory missing", ErrValidation, s.Name())
	}
	if len(s.Lights) == 0 {
		return fmt.Errorf("%w: %s: lights directory is empty", ErrValidation, s.Name())
	}
	for _, t := range frames.CalibrationTypes {
		dir := s.TypePath(t)
		if !fsutil.DirExists(dir) {
			continue
		}
		files, err := fsutil.ListFrames(dir)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrValidation, dir, err)
		}
		if len(files) == 0 {
			return fmt.Errorf("%w: %s: %s directory exists but is empty", ErrValidation, s.Name(), t.Dir())
		}
	}
	return nil
}

// Cleanup deletes every regular file in the process directory, leaving
// subdirectories alone. A missing directory is not an error.
func (s *Session) Cleanup() error {
	files, err := fsutil.ListFiles(s.ProcessPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cleanup %s: %w", s.Name(), err)
		}
	}
	s.Calibrated = nil
	return nil
}

// LoadCalibrationFrames adds the raw frames of type t to the library,
// reading exposure, temperature and gain from FITS headers. Frames that fail
// validity are logged and skipped. It returns the number of frames added.
func (s *Session) LoadCalibrationFrames(t frames.Type, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	paths, err := fsutil.ListFrames(s.TypePath(t))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	set := s.Library.Set(t)
	added := 0
	for _, p := range paths {
		f, err := frames.NewCalibrationFrame(p, t)
		if err != nil {
			logger.Warn("calibration frame skipped", "path", p, "error", err)
			continue
		}
		if fsutil.IsFITSFile(p) {
			if h, err := fits.ReadHeader(p); err == nil {
				f.Exposure, f.Temperature, f.Gain = h.Exposure, h.Temperature, h.Gain
			} else {
				logger.Debug("calibration header unreadable", "path", p, "error", err)
			}
		}
		if err := set.AddFrame(f); err != nil {
			logger.Warn("calibration frame skipped", "path", p, "error", err)
			continue
		}
		added++
	}
	return added, nil
}

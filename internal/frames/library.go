package frames

import (
	"fmt"
	"os"
	"sync"
)

// CalibrationFrameSet holds the frames of one calibration type and at most one
// master frame built from them.
type CalibrationFrameSet struct {
	kind Type

	mu     sync.RWMutex
	frames []*CalibrationFrame
	master string
}

// NewCalibrationFrameSet returns an empty set for kind.
func NewCalibrationFrameSet(kind Type) *CalibrationFrameSet {
	return &CalibrationFrameSet{kind: kind}
}

// Type returns the set's calibration type.
func (s *CalibrationFrameSet) Type() Type { return s.kind }

// AddFrame appends f. Frames of another type and invalid frames are rejected.
func (s *CalibrationFrameSet) AddFrame(f *CalibrationFrame) error {
	if f == nil {
		return fmt.Errorf("nil frame: %w", ErrInvalidFrame)
	}
	if f.Kind != s.kind {
		return fmt.Errorf("%s frame %s into %s set: %w", f.Kind, f.Name(), s.kind, ErrFrameTypeMismatch)
	}
	if !f.Valid() {
		return fmt.Errorf("%s: %w", f.Name(), ErrInvalidFrame)
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

// Frames returns a copy of the frames in insertion order.
func (s *CalibrationFrameSet) Frames() []*CalibrationFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*CalibrationFrame(nil), s.frames...)
}

// Len returns the number of frames.
func (s *CalibrationFrameSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// MasterFrame returns the master path, or "" when none is set.
func (s *CalibrationFrameSet) MasterFrame() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.master
}

// SetMasterFrame records path as the master. The path must exist; on
// rejection the previous master is kept.
func (s *CalibrationFrameSet) SetMasterFrame(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s: %w", path, ErrMasterNotFound)
	}
	s.mu.Lock()
	s.master = path
	s.mu.Unlock()
	return nil
}

// Clear drops all frames and the master reference together.
func (s *CalibrationFrameSet) Clear() {
	s.mu.Lock()
	s.frames = nil
	s.master = ""
	s.mu.Unlock()
}

// MatchingFrames returns frames whose parameters equal every non-nil argument.
// Frames missing a requested parameter do not match.
func (s *CalibrationFrameSet) MatchingFrames(exposure, temperature, gain *float64) []*CalibrationFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*CalibrationFrame
	for _, f := range s.frames {
		if !matches(exposure, f.Exposure) || !matches(temperature, f.Temperature) || !matches(gain, f.Gain) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func matches(want, got *float64) bool {
	if want == nil {
		return true
	}
	return got != nil && *got == *want
}

// Library holds one CalibrationFrameSet per calibration type.
type Library struct {
	sets map[Type]*CalibrationFrameSet
}

// NewLibrary returns a library with empty bias, dark and flat sets.
func NewLibrary() *Library {
	l := &Library{sets: make(map[Type]*CalibrationFrameSet, len(CalibrationTypes))}
	for _, t := range CalibrationTypes {
		l.sets[t] = NewCalibrationFrameSet(t)
	}
	return l
}

// Set returns the set for t, or nil for a non-calibration type.
func (l *Library) Set(t Type) *CalibrationFrameSet {
	return l.sets[t]
}

// HasCalibrationFrames reports whether the set for t holds any frames.
func (l *Library) HasCalibrationFrames(t Type) bool {
	s := l.Set(t)
	return s != nil && s.Len() > 0
}

// HasMasterFrame reports whether the set for t has a master.
func (l *Library) HasMasterFrame(t Type) bool {
	s := l.Set(t)
	return s != nil && s.MasterFrame() != ""
}

// Clear empties every set.
func (l *Library) Clear() {
	for _, s := range l.sets {
		s.Clear()
	}
}

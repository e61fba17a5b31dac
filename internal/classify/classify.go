// Package classify determines the color mode of a session's light frames.
package classify

import (
	"errors"
	"fmt"
	"log/slog"

	"multistack/internal/calibration"
	"multistack/internal/fits"
	"multistack/internal/fsutil"
	"multistack/internal/rawprobe"
	"multistack/internal/session"
)

// ErrMixedColorModes is returned when RGB and mono lights are mixed. It wraps
// session.ErrValidation.
var ErrMixedColorModes = fmt.Errorf("%w: mixed RGB and monochrome lights", session.ErrValidation)

// Classification is the color content found in a set of lights.
type Classification struct {
	HasRGB  bool
	HasMono bool
}

// Merge combines two classifications.
func (c Classification) Merge(o Classification) Classification {
	return Classification{HasRGB: c.HasRGB || o.HasRGB, HasMono: c.HasMono || o.HasMono}
}

// Validate fails when both color modes are present.
func (c Classification) Validate() error {
	if c.HasRGB && c.HasMono {
		return ErrMixedColorModes
	}
	return nil
}

// Mode returns the calibration color mode. Only mono content maps to
// ColorMono; an empty classification is treated as RGB.
func (c Classification) Mode() calibration.ColorMode {
	if c.HasMono && !c.HasRGB {
		return calibration.ColorMono
	}
	return calibration.ColorRGB
}

func (c Classification) String() string {
	switch {
	case c.HasRGB && c.HasMono:
		return "mixed"
	case c.HasMono:
		return "mono"
	case c.HasRGB:
		return "rgb"
	default:
		return "empty"
	}
}

// Classifier inspects light frames.
type Classifier struct {
	Probe  rawprobe.Prober
	Logger *slog.Logger
}

// New returns a Classifier using ImageMagick for RAW files.
func New(logger *slog.Logger) *Classifier {
	return &Classifier{Probe: rawprobe.Magick{}, Logger: logger}
}

// Dir classifies every supported frame directly inside dir. Unreadable files
// are logged and skipped.
func (c *Classifier) Dir(dir string) (Classification, error) {
	var out Classification
	paths, err := fsutil.ListFrames(dir)
	if err != nil {
		return out, fmt.Errorf("classify %s: %w", dir, err)
	}
	for _, p := range paths {
		out = out.Merge(c.file(p))
	}
	return out, nil
}

func (c *Classifier) file(path string) Classification {
	if fsutil.IsRAWFile(path) {
		if c.Probe == nil {
			return Classification{HasRGB: true}
		}
		if err := c.Probe.Probe(path); err != nil {
			c.warn(path, err)
			return Classification{}
		}
		return Classification{HasRGB: true}
	}

	h, err := fits.ReadHeader(path)
	if err != nil {
		c.warn(path, err)
		return Classification{}
	}
	switch {
	case h.IsRGB():
		return Classification{HasRGB: true}
	case h.IsMono():
		return Classification{HasMono: true}
	default:
		c.warn(path, fmt.Errorf("unsupported axes %v", h.Axes))
		return Classification{}
	}
}

func (c *Classifier) warn(path string, err error) {
	if c.Logger != nil {
		c.Logger.Warn("frame skipped during classification", "path", path, "error", err)
	}
}

// Sessions classifies each session's lights and merges the results. Mixed
// color modes across or within sessions fail with ErrMixedColorModes.
func (c *Classifier) Sessions(sessions []*session.Session) (Classification, error) {
	var all Classification
	for _, s := range sessions {
		cl, err := c.Dir(s.LightsPath())
		if err != nil {
			return all, err
		}
		if c.Logger != nil {
			c.Logger.Info("session classified", "session", s.Name(), "mode", cl.String())
		}
		all = all.Merge(cl)
	}
	if err := all.Validate(); err != nil {
		return all, err
	}
	if !all.HasRGB && !all.HasMono {
		return all, errors.Join(session.ErrValidation, errors.New("no readable light frames"))
	}
	return all, nil
}

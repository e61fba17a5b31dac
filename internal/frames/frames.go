// Package frames models raw exposures, calibration frames and the per-session
// library of calibration sets with their master frames.
package frames

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrFileNotFound      = errors.New("frame file not found")
	ErrFrameTypeMismatch = errors.New("frame type does not match set")
	ErrInvalidFrame      = errors.New("invalid calibration frame")
	ErrMasterNotFound    = errors.New("master frame not found")
)

// Type is the role of an exposure.
type Type string

const (
	Unknown Type = ""
	Light   Type = "light"
	Dark    Type = "dark"
	Flat    Type = "flat"
	Bias    Type = "bias"
)

// CalibrationTypes lists the calibration frame types in build order.
// Bias comes first because flats may be pre-calibrated against it.
var CalibrationTypes = []Type{Bias, Dark, Flat}

// Dir returns the session subdirectory holding raw frames of this type.
func (t Type) Dir() string {
	switch t {
	case Bias:
		return "biases"
	case Unknown:
		return ""
	default:
		return string(t) + "s"
	}
}

// Image identifies a frame file on disk.
type Image struct {
	Path        string
	Exposure    *float64
	Temperature *float64
	Gain        *float64
}

// NewImage returns an Image for path. The file must exist.
func NewImage(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, ErrFileNotFound)
	}
	return &Image{Path: path}, nil
}

// Name is the file's base name.
func (i *Image) Name() string { return filepath.Base(i.Path) }

// Type derives the frame type from the file name. Matching is a
// case-insensitive substring test in the order light, dark, flat, bias.
func (i *Image) Type() Type {
	return TypeOf(i.Name())
}

// TypeOf derives the frame type of a file name.
func TypeOf(name string) Type {
	lower := strings.ToLower(name)
	for _, t := range []Type{Light, Dark, Flat, Bias} {
		if strings.Contains(lower, string(t)) {
			return t
		}
	}
	return Unknown
}

// IsCalibrated reports whether the engine produced this file (pp_ or r_ prefix).
func (i *Image) IsCalibrated() bool {
	n := i.Name()
	return strings.HasPrefix(n, "pp_") || strings.HasPrefix(n, "r_")
}

// IsMasterFrame reports whether the file is a stacked master.
func (i *Image) IsMasterFrame() bool {
	return strings.Contains(strings.ToLower(i.Name()), "stacked")
}

// CalibrationFrame is a bias, dark or flat exposure.
type CalibrationFrame struct {
	*Image
	Kind Type
}

// NewCalibrationFrame wraps an existing file as a calibration frame of kind.
func NewCalibrationFrame(path string, kind Type) (*CalibrationFrame, error) {
	switch kind {
	case Bias, Dark, Flat:
	default:
		return nil, fmt.Errorf("%q is not a calibration type: %w", kind, ErrInvalidFrame)
	}
	img, err := NewImage(path)
	if err != nil {
		return nil, err
	}
	return &CalibrationFrame{Image: img, Kind: kind}, nil
}

// Valid reports whether the frame can be used. Darks and flats need a known
// exposure time; biases only need to exist.
func (f *CalibrationFrame) Valid() bool {
	if f == nil || f.Image == nil {
		return false
	}
	if _, err := os.Stat(f.Path); err != nil {
		return false
	}
	if f.Kind == Bias {
		return true
	}
	return f.Exposure != nil
}

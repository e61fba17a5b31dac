// Package siril drives the Siril image-processing engine through siril-cli
// scripts.
package siril

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCommand is returned for commands with out-of-range parameters.
// Such commands never reach the engine.
var ErrInvalidCommand = errors.New("invalid engine command")

// Command is one engine operation rendered as a Siril script line.
type Command interface {
	Script() (string, error)
}

// Cd changes the engine's working directory.
type Cd struct {
	Path string
}

func (c Cd) Script() (string, error) {
	if c.Path == "" {
		return "", fmt.Errorf("%w: cd without path", ErrInvalidCommand)
	}
	return "cd " + quote(c.Path), nil
}

// Convert ingests files named <Prefix>* in the working directory into a
// sequence written to Out.
type Convert struct {
	Prefix string
	Out    string
}

func (c Convert) Script() (string, error) {
	if c.Prefix == "" {
		return "", fmt.Errorf("%w: convert without prefix", ErrInvalidCommand)
	}
	line := "convert " + c.Prefix
	if c.Out != "" {
		line += " -out=" + quoteArg(c.Out)
	}
	return line, nil
}

// Stack types accepted by the engine.
var stackTypes = map[string]bool{
	"sum": true, "min": true, "max": true, "med": true, "median": true, "rej": true, "mean": true,
}

// Normalizations accepted by the engine. "no" renders as -nonorm.
var norms = map[string]bool{
	"no": true, "add": true, "addscale": true, "mul": true, "mulscale": true,
}

// Stack combines a sequence. The result is <Prefix>_stacked unless Out is set.
type Stack struct {
	Prefix     string
	Type       string
	SigmaLow   float64
	SigmaHigh  float64
	Norm       string
	OutputNorm bool
	RGBEqual   bool
	Out        string
}

func (s Stack) Script() (string, error) {
	if s.Prefix == "" {
		return "", fmt.Errorf("%w: stack without sequence", ErrInvalidCommand)
	}
	if !stackTypes[s.Type] {
		return "", fmt.Errorf("%w: stack type %q", ErrInvalidCommand, s.Type)
	}
	if s.Norm != "" && !norms[s.Norm] {
		return "", fmt.Errorf("%w: normalization %q", ErrInvalidCommand, s.Norm)
	}

	parts := []string{"stack", s.Prefix, s.Type}
	if s.Type == "rej" {
		if s.SigmaLow <= 0 || s.SigmaHigh <= 0 {
			return "", fmt.Errorf("%w: rejection needs positive sigma values", ErrInvalidCommand)
		}
		parts = append(parts, formatFloat(s.SigmaLow), formatFloat(s.SigmaHigh))
	}
	switch s.Type {
	case "sum", "min", "max":
	default:
		if s.Norm == "" || s.Norm == "no" {
			parts = append(parts, "-nonorm")
		} else {
			parts = append(parts, "-norm="+s.Norm)
		}
	}
	if s.OutputNorm {
		parts = append(parts, "-output_norm")
	}
	if s.RGBEqual {
		parts = append(parts, "-rgb_equal")
	}
	if s.Out != "" {
		parts = append(parts, "-out="+quoteArg(s.Out))
	}
	return strings.Join(parts, " "), nil
}

// Calibrate applies master frames to a sequence, producing pp_<Prefix>.
// Master names are resolved by the engine relative to the working directory.
type Calibrate struct {
	Prefix      string
	Bias        string
	Dark        string
	Flat        string
	CC          string
	CFA         bool
	EqualizeCFA bool
	Debayer     bool
}

func (c Calibrate) Script() (string, error) {
	if c.Prefix == "" {
		return "", fmt.Errorf("%w: calibrate without sequence", ErrInvalidCommand)
	}
	if c.CC != "" && c.CC != "dark" && c.CC != "bpm" {
		return "", fmt.Errorf("%w: cosmetic correction %q", ErrInvalidCommand, c.CC)
	}
	parts := []string{"calibrate", c.Prefix}
	if c.Bias != "" {
		parts = append(parts, "-bias="+quoteArg(c.Bias))
	}
	if c.Dark != "" {
		parts = append(parts, "-dark="+quoteArg(c.Dark))
	}
	if c.Flat != "" {
		parts = append(parts, "-flat="+quoteArg(c.Flat))
	}
	if c.CC != "" {
		parts = append(parts, "-cc="+c.CC)
	}
	if c.CFA {
		parts = append(parts, "-cfa")
	}
	if c.EqualizeCFA {
		parts = append(parts, "-equalize_cfa")
	}
	if c.Debayer {
		parts = append(parts, "-debayer")
	}
	return strings.Join(parts, " "), nil
}

// Register aligns a sequence, producing r_<Prefix>. Reference is a 1-based
// image index; zero lets the engine choose.
type Register struct {
	Prefix    string
	Reference int
	MinStars  int
	MaxStars  int
}

func (r Register) Script() (string, error) {
	if r.Prefix == "" {
		return "", fmt.Errorf("%w: register without sequence", ErrInvalidCommand)
	}
	if r.Reference < 0 || r.MinStars < 0 || r.MaxStars < 0 {
		return "", fmt.Errorf("%w: negative register parameter", ErrInvalidCommand)
	}
	var lines []string
	if r.Reference > 0 {
		lines = append(lines, fmt.Sprintf("setref %s %d", r.Prefix, r.Reference))
	}
	line := "register " + r.Prefix
	if r.MinStars > 0 {
		line += fmt.Sprintf(" -minpairs=%d", r.MinStars)
	}
	if r.MaxStars > 0 {
		line += fmt.Sprintf(" -maxstars=%d", r.MaxStars)
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n"), nil
}

// SetExt sets the FITS extension the engine writes.
type SetExt struct {
	Ext string
}

func (s SetExt) Script() (string, error) {
	switch strings.TrimPrefix(s.Ext, ".") {
	case "fit", "fits", "fts":
		return "setext " + strings.TrimPrefix(s.Ext, "."), nil
	}
	return "", fmt.Errorf("%w: extension %q", ErrInvalidCommand, s.Ext)
}

// SetBits sets the output sample depth, 16 or 32.
type SetBits struct {
	Bits int
}

func (s SetBits) Script() (string, error) {
	switch s.Bits {
	case 16:
		return "set16bits", nil
	case 32:
		return "set32bits", nil
	}
	return "", fmt.Errorf("%w: bit depth %d", ErrInvalidCommand, s.Bits)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// quoteArg quotes option values that contain whitespace.
func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t") {
		return quote(s)
	}
	return s
}

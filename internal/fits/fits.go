// Package fits reads the primary header of FITS frames.
package fits

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// Header is the subset of the primary HDU header the pipeline uses.
// Optional numeric values are nil when the keyword is absent or unparsable.
type Header struct {
	Axes        []int // NAXIS1, NAXIS2[, NAXIS3]
	Exposure    *float64
	Temperature *float64
	Gain        *float64
	Object      string
	DateObs     string
}

// ReadHeader opens path and decodes its primary HDU header.
func ReadHeader(path string) (Header, error) {
	var h Header

	file, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer file.Close()

	f, err := fitsio.Open(bufio.NewReader(file))
	if err != nil {
		return h, fmt.Errorf("decode fits %s: %w", path, err)
	}
	defer f.Close()

	hdu := f.HDU(0)
	if hdu == nil {
		return h, fmt.Errorf("decode fits %s: no primary HDU", path)
	}
	hdr := hdu.Header()

	h.Axes = append([]int(nil), hdr.Axes()...)
	h.Exposure = number(hdr, "EXPTIME", "EXPOSURE")
	h.Temperature = number(hdr, "CCD-TEMP", "SET-TEMP")
	h.Gain = number(hdr, "GAIN", "EGAIN")
	h.Object = text(hdr, "OBJECT")
	h.DateObs = text(hdr, "DATE-OBS")
	return h, nil
}

// IsRGB reports a three-plane color cube (NAXIS3 == 3).
func (h Header) IsRGB() bool {
	return len(h.Axes) == 3 && h.Axes[2] == 3
}

// IsMono reports a single two-dimensional plane.
func (h Header) IsMono() bool {
	return len(h.Axes) == 2
}

// ExposureSeconds returns the exposure time, or 0 when unknown.
func (h Header) ExposureSeconds() float64 {
	if h.Exposure == nil {
		return 0
	}
	return *h.Exposure
}

// SumExposure adds up EXPTIME over paths. Frames that cannot be read or lack
// the keyword contribute nothing; their paths are returned in skipped.
func SumExposure(paths []string) (total float64, skipped []string) {
	for _, p := range paths {
		h, err := ReadHeader(p)
		if err != nil || h.Exposure == nil {
			skipped = append(skipped, p)
			continue
		}
		total += h.ExposureSeconds()
	}
	return total, skipped
}

// IntegrationSeconds truncates a summed exposure to whole seconds.
func IntegrationSeconds(total float64) int {
	return int(math.Trunc(total))
}

func number(hdr *fitsio.Header, keys ...string) *float64 {
	for _, k := range keys {
		card := hdr.Get(k)
		if card == nil {
			continue
		}
		var v float64
		switch x := card.Value.(type) {
		case float64:
			v = x
		case float32:
			v = float64(x)
		case int:
			v = float64(x)
		case int64:
			v = float64(x)
		case int32:
			v = float64(x)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				continue
			}
			v = f
		default:
			continue
		}
		return &v
	}
	return nil
}

func text(hdr *fitsio.Header, key string) string {
	card := hdr.Get(key)
	if card == nil {
		return ""
	}
	if s, ok := card.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(card.Value)
}

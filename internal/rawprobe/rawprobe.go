// Package rawprobe checks whether camera RAW files can be decoded.
package rawprobe

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Prober reports whether a RAW file is readable. A nil error means readable.
type Prober interface {
	Probe(path string) error
}

// Magick probes RAW files through ImageMagick's delegate decoders.
// Pinging reads only the header, so probing a whole lights directory is cheap.
type Magick struct{}

// Probe pings path and returns the decoder error, if any.
func (Magick) Probe(path string) error {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}
	if mw.GetImageWidth() == 0 || mw.GetImageHeight() == 0 {
		return fmt.Errorf("probe %s: empty image", path)
	}
	return nil
}

// Func adapts a plain function to Prober.
type Func func(path string) error

func (f Func) Probe(path string) error { return f(path) }

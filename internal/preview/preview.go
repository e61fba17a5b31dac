// Package preview renders a JPEG preview of the stacked result.
package preview

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Path returns the preview location for a result file: same name, .jpg extension.
func Path(result string) string {
	return strings.TrimSuffix(result, filepath.Ext(result)) + ".jpg"
}

// Render writes an auto-levelled JPEG next to result and returns its path.
func Render(result string, quality int) (string, error) {
	out := Path(result)

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(result); err != nil {
		return "", fmt.Errorf("read %s: %w", result, err)
	}
	if err := mw.SetImageColorspace(imagick.COLORSPACE_SRGB); err != nil {
		return "", fmt.Errorf("colorspace: %w", err)
	}
	if err := mw.AutoLevelImage(); err != nil {
		return "", fmt.Errorf("auto level: %w", err)
	}
	if err := mw.SetImageFormat("JPEG"); err != nil {
		return "", fmt.Errorf("set format: %w", err)
	}
	if quality > 0 {
		if err := mw.SetImageCompressionQuality(uint(quality)); err != nil {
			return "", fmt.Errorf("set quality: %w", err)
		}
	}
	if err := mw.WriteImage(out); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// Renderer is the hook the pipeline calls after the final stack.
type Renderer func(result string) (string, error)

// Magick returns a Renderer backed by ImageMagick that never fails the caller:
// errors are logged and an empty path is returned.
func Magick(quality int, logger *slog.Logger) Renderer {
	return func(result string) (string, error) {
		out, err := Render(result, quality)
		if err != nil {
			logger.Warn("preview failed", "result", result, "error", err)
			return "", nil
		}
		logger.Info("preview written", "path", out)
		return out, nil
	}
}

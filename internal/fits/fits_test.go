package fits

import (
	"os"
	"path/filepath"
	"testing"

	"multistack/internal/fits/fitstest"
)

func TestReadHeaderMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "light_00001.fit")
	fitstest.Write(t, path, []int{4, 3},
		fitstest.Card{Key: "EXPTIME", Value: 120.0},
		fitstest.Card{Key: "CCD-TEMP", Value: -10.0},
		fitstest.Card{Key: "GAIN", Value: 139},
		fitstest.Card{Key: "OBJECT", Value: "M31"},
	)

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if !h.IsMono() || h.IsRGB() {
		t.Fatalf("expected mono frame, axes=%v", h.Axes)
	}
	if h.ExposureSeconds() != 120 {
		t.Fatalf("expected exposure 120, got %v", h.ExposureSeconds())
	}
	if h.Temperature == nil || *h.Temperature != -10 {
		t.Fatalf("unexpected temperature %v", h.Temperature)
	}
	if h.Gain == nil || *h.Gain != 139 {
		t.Fatalf("unexpected gain %v", h.Gain)
	}
	if h.Object != "M31" {
		t.Fatalf("unexpected object %q", h.Object)
	}
}

func TestReadHeaderRGBCube(t *testing.T) {
	path := filepath.Join(t.TempDir(), "light.fits")
	fitstest.Write(t, path, []int{2, 2, 3})

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if !h.IsRGB() {
		t.Fatalf("expected RGB cube, axes=%v", h.Axes)
	}
	if h.Exposure != nil {
		t.Fatalf("expected no exposure, got %v", *h.Exposure)
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.fit")
	if err := os.WriteFile(path, []byte("not a fits file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSumExposureTruncates(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, exp := range []float64{30.5, 30.4, 60.0} {
		p := filepath.Join(dir, "r_pp_light_0000"+string(rune('1'+i))+".fit")
		fitstest.Light(t, p, exp)
		paths = append(paths, p)
	}
	missing := filepath.Join(dir, "r_pp_light_00009.fit")
	fitstest.Write(t, missing, []int{2, 2})
	paths = append(paths, missing)

	total, skipped := SumExposure(paths)
	if len(skipped) != 1 || skipped[0] != missing {
		t.Fatalf("expected the frame without EXPTIME to be skipped, got %v", skipped)
	}
	if got := IntegrationSeconds(total); got != 120 {
		t.Fatalf("expected 120 seconds, got %d (total %v)", got, total)
	}
}

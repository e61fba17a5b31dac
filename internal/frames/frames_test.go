package frames

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func ptr(v float64) *float64 { return &v }

func TestNewImageRequiresFile(t *testing.T) {
	_, err := NewImage(filepath.Join(t.TempDir(), "light_001.fit"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = NewImage(t.TempDir())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestImageNameDerivations(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name       string
		typ        Type
		calibrated bool
		master     bool
	}{
		{"light_00001.fit", Light, false, false},
		{"Dark_300s.FIT", Dark, false, false},
		{"flat_stacked.fit", Flat, false, true},
		{"pp_flat_stacked.fit", Flat, true, true},
		{"bias_0001.fits", Bias, false, false},
		{"r_pp_light_00003.fit", Light, true, false},
		{"m31.cr2", Unknown, false, false},
		{"darkflat_01.fit", Dark, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := NewImage(writeFile(t, dir, tc.name))
			require.NoError(t, err)
			assert.Equal(t, tc.typ, img.Type())
			assert.Equal(t, tc.calibrated, img.IsCalibrated())
			assert.Equal(t, tc.master, img.IsMasterFrame())
		})
	}
}

func TestCalibrationFrameValidity(t *testing.T) {
	dir := t.TempDir()
	bias, err := NewCalibrationFrame(writeFile(t, dir, "bias_1.fit"), Bias)
	require.NoError(t, err)
	assert.True(t, bias.Valid(), "bias needs only to exist")

	dark, err := NewCalibrationFrame(writeFile(t, dir, "dark_1.fit"), Dark)
	require.NoError(t, err)
	assert.False(t, dark.Valid(), "dark without exposure")
	dark.Exposure = ptr(300)
	assert.True(t, dark.Valid())

	flat, err := NewCalibrationFrame(writeFile(t, dir, "flat_1.fit"), Flat)
	require.NoError(t, err)
	assert.False(t, flat.Valid())

	_, err = NewCalibrationFrame(writeFile(t, dir, "light_1.fit"), Light)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestAddFrameRejectsTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	for _, setType := range CalibrationTypes {
		for _, frameType := range CalibrationTypes {
			if setType == frameType {
				continue
			}
			t.Run(string(setType)+"_"+string(frameType), func(t *testing.T) {
				set := NewCalibrationFrameSet(setType)
				f, err := NewCalibrationFrame(writeFile(t, dir, string(frameType)+"_x.fit"), frameType)
				require.NoError(t, err)
				f.Exposure = ptr(10)

				err = set.AddFrame(f)
				assert.ErrorIs(t, err, ErrFrameTypeMismatch)
				assert.Zero(t, set.Len())
			})
		}
	}
}

func TestAddFrameRejectsInvalid(t *testing.T) {
	set := NewCalibrationFrameSet(Dark)
	f, err := NewCalibrationFrame(writeFile(t, t.TempDir(), "dark_1.fit"), Dark)
	require.NoError(t, err)

	assert.ErrorIs(t, set.AddFrame(f), ErrInvalidFrame)
	assert.ErrorIs(t, set.AddFrame(nil), ErrInvalidFrame)

	f.Exposure = ptr(60)
	require.NoError(t, set.AddFrame(f))
	assert.Equal(t, 1, set.Len())
}

func TestSetMasterFrameKeepsPreviousOnReject(t *testing.T) {
	dir := t.TempDir()
	set := NewCalibrationFrameSet(Flat)
	master := writeFile(t, dir, "flat_stacked.fit")

	require.NoError(t, set.SetMasterFrame(master))
	err := set.SetMasterFrame(filepath.Join(dir, "pp_flat_stacked.fit"))
	assert.ErrorIs(t, err, ErrMasterNotFound)
	assert.Equal(t, master, set.MasterFrame())
}

func TestClearEmptiesFramesAndMaster(t *testing.T) {
	dir := t.TempDir()
	set := NewCalibrationFrameSet(Bias)
	f, err := NewCalibrationFrame(writeFile(t, dir, "bias_1.fit"), Bias)
	require.NoError(t, err)
	require.NoError(t, set.AddFrame(f))
	require.NoError(t, set.SetMasterFrame(writeFile(t, dir, "bias_stacked.fit")))

	set.Clear()
	assert.Zero(t, set.Len())
	assert.Empty(t, set.MasterFrame())
}

func TestMatchingFrames(t *testing.T) {
	dir := t.TempDir()
	set := NewCalibrationFrameSet(Dark)
	add := func(name string, exp, temp float64) {
		f, err := NewCalibrationFrame(writeFile(t, dir, name), Dark)
		require.NoError(t, err)
		f.Exposure, f.Temperature = ptr(exp), ptr(temp)
		require.NoError(t, set.AddFrame(f))
	}
	add("dark_1.fit", 300, -10)
	add("dark_2.fit", 300, -5)
	add("dark_3.fit", 120, -10)

	assert.Len(t, set.MatchingFrames(nil, nil, nil), 3)
	assert.Len(t, set.MatchingFrames(ptr(300), nil, nil), 2)
	got := set.MatchingFrames(ptr(300), ptr(-10), nil)
	require.Len(t, got, 1)
	assert.Equal(t, "dark_1.fit", got[0].Name())
	assert.Empty(t, set.MatchingFrames(nil, nil, ptr(100)), "frames without gain never match a gain filter")
}

func TestLibrary(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary()
	for _, typ := range CalibrationTypes {
		require.NotNil(t, lib.Set(typ))
		assert.False(t, lib.HasCalibrationFrames(typ))
		assert.False(t, lib.HasMasterFrame(typ))
	}
	assert.Nil(t, lib.Set(Light))

	f, err := NewCalibrationFrame(writeFile(t, dir, "bias_1.fit"), Bias)
	require.NoError(t, err)
	require.NoError(t, lib.Set(Bias).AddFrame(f))
	require.NoError(t, lib.Set(Bias).SetMasterFrame(writeFile(t, dir, "bias_stacked.fit")))
	assert.True(t, lib.HasCalibrationFrames(Bias))
	assert.True(t, lib.HasMasterFrame(Bias))

	lib.Clear()
	assert.False(t, lib.HasCalibrationFrames(Bias))
	assert.False(t, lib.HasMasterFrame(Bias))
}

func TestTypeDir(t *testing.T) {
	assert.Equal(t, "biases", Bias.Dir())
	assert.Equal(t, "darks", Dark.Dir())
	assert.Equal(t, "flats", Flat.Dir())
	assert.Equal(t, "lights", Light.Dir())
}

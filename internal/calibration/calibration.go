// Package calibration selects the calibration recipe for a session from the
// calibration frame types available and the color mode of its lights.
package calibration

import "fmt"

// ColorMode is the sensor color mode of a session's lights.
type ColorMode int

const (
	ColorRGB ColorMode = iota
	ColorMono
)

func (m ColorMode) String() string {
	if m == ColorMono {
		return "mono"
	}
	return "rgb"
}

// Availability records which calibration directories a session has.
type Availability struct {
	Flats  bool
	Biases bool
	Darks  bool
}

func (a Availability) String() string {
	yn := func(b bool) string {
		if b {
			return "Y"
		}
		return "N"
	}
	return fmt.Sprintf("flats=%s biases=%s darks=%s", yn(a.Flats), yn(a.Biases), yn(a.Darks))
}

// Kind tags a Recipe.
type Kind int

const (
	// KindCalibrate runs the engine's calibrate command.
	KindCalibrate Kind = iota
	// KindBypass skips calibration; converted lights are promoted as-is.
	KindBypass
)

func (k Kind) String() string {
	if k == KindBypass {
		return "bypass"
	}
	return "calibrate"
}

// Master frame names as produced by the master builder.
const (
	MasterBias   = "bias_stacked"
	MasterDark   = "dark_stacked"
	MasterFlat   = "flat_stacked"
	MasterPPFlat = "pp_flat_stacked"
	CosmeticDark = "dark"
)

const warnBiasNoFlt = "biases without flats are not supported; bias frames ignored"

// Recipe is the parameter set for the calibrate command.
// Empty master names are not passed to the engine.
type Recipe struct {
	Kind        Kind
	Dark        string
	Flat        string
	Bias        string
	CC          string
	CFA         bool
	EqualizeCFA bool
	Debayer     bool
	Warning     string
}

// WithFlat returns a copy of r referencing the given master flat. It is a
// no-op for recipes that use no flat.
func (r Recipe) WithFlat(name string) Recipe {
	if r.Flat != "" && name != "" {
		r.Flat = name
	}
	return r
}

// Masters returns the master names the recipe references.
func (r Recipe) Masters() []string {
	var out []string
	for _, m := range []string{r.Bias, r.Dark, r.Flat} {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

type key struct {
	Availability
	Mode ColorMode
}

var table = buildTable()

func buildTable() map[key]Recipe {
	base := map[Availability]Recipe{
		{Flats: true, Biases: true, Darks: true}:   {Dark: MasterDark, Flat: MasterPPFlat, CC: CosmeticDark},
		{Flats: true, Biases: true, Darks: false}:  {Flat: MasterPPFlat},
		{Flats: true, Biases: false, Darks: true}:  {Dark: MasterDark, Flat: MasterFlat, CC: CosmeticDark},
		{Flats: true, Biases: false, Darks: false}: {Flat: MasterFlat},
		{Flats: false, Biases: false, Darks: true}: {Dark: MasterDark, CC: CosmeticDark},
		{Flats: false, Biases: true, Darks: true}:  {Dark: MasterDark, CC: CosmeticDark, Warning: warnBiasNoFlt},
		{Flats: false, Biases: true, Darks: false}: {Warning: warnBiasNoFlt},
		{}: {},
	}

	t := make(map[key]Recipe, len(base)*2)
	for avail, r := range base {
		for _, mode := range []ColorMode{ColorRGB, ColorMono} {
			rec := r
			rec.Kind = KindCalibrate
			rec.CFA = true
			rec.EqualizeCFA = true
			rec.Debayer = mode == ColorRGB
			if mode == ColorMono && rec.Dark == "" && rec.Flat == "" {
				rec = Recipe{Kind: KindBypass, Warning: r.Warning}
			}
			t[key{avail, mode}] = rec
		}
	}
	return t
}

// Select returns the recipe for avail and mode. ok is false only for keys
// outside the table, which cannot happen for valid ColorMode values.
func Select(avail Availability, mode ColorMode) (Recipe, bool) {
	r, ok := table[key{avail, mode}]
	return r, ok
}

package siril

import (
	"errors"
	"testing"
)

func TestCommandScripts(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want string
	}{
		{"cd", Cd{Path: "/data/session_1/darks"}, `cd "/data/session_1/darks"`},
		{"convert", Convert{Prefix: "dark", Out: "../process"}, "convert dark -out=../process"},
		{"stack master", Stack{Prefix: "bias", Type: "rej", SigmaLow: 3, SigmaHigh: 3, Norm: "no"}, "stack bias rej 3 3 -nonorm"},
		{"stack flat", Stack{Prefix: "pp_flat", Type: "rej", SigmaLow: 3, SigmaHigh: 3, Norm: "mul"}, "stack pp_flat rej 3 3 -norm=mul"},
		{"stack result", Stack{Prefix: "r_pp_light", Type: "rej", SigmaLow: 3, SigmaHigh: 3, Norm: "addscale", OutputNorm: true, RGBEqual: true, Out: "../result_3600s"},
			"stack r_pp_light rej 3 3 -norm=addscale -output_norm -rgb_equal -out=../result_3600s"},
		{"stack sum", Stack{Prefix: "light", Type: "sum"}, "stack light sum"},
		{"stack median fractional", Stack{Prefix: "light", Type: "median", Norm: "add"}, "stack light median -norm=add"},
		{"calibrate full", Calibrate{Prefix: "light", Dark: "dark_stacked", Flat: "pp_flat_stacked", CC: "dark", CFA: true, EqualizeCFA: true, Debayer: true},
			"calibrate light -dark=dark_stacked -flat=pp_flat_stacked -cc=dark -cfa -equalize_cfa -debayer"},
		{"calibrate flat", Calibrate{Prefix: "flat", Bias: "bias_stacked"}, "calibrate flat -bias=bias_stacked"},
		{"register auto", Register{Prefix: "pp_light"}, "register pp_light"},
		{"register ref", Register{Prefix: "pp_light", Reference: 4, MinStars: 100, MaxStars: 500}, "setref pp_light 4\nregister pp_light -minpairs=100 -maxstars=500"},
		{"setext", SetExt{Ext: ".fits"}, "setext fits"},
		{"16 bits", SetBits{Bits: 16}, "set16bits"},
		{"32 bits", SetBits{Bits: 32}, "set32bits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cmd.Script()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("script mismatch\n got: %q\nwant: %q", got, tc.want)
			}
		})
	}
}

func TestInvalidCommandsRejected(t *testing.T) {
	bad := []Command{
		Cd{},
		Convert{},
		Stack{Prefix: "light", Type: "average"},
		Stack{Prefix: "light", Type: "rej", SigmaLow: 3, SigmaHigh: 3, Norm: "scale"},
		Stack{Prefix: "light", Type: "rej"},
		Calibrate{},
		Calibrate{Prefix: "light", CC: "hot"},
		Register{Prefix: "pp_light", Reference: -1},
		SetExt{Ext: "tif"},
		SetBits{Bits: 8},
	}
	for _, cmd := range bad {
		if _, err := cmd.Script(); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("%#v: expected ErrInvalidCommand, got %v", cmd, err)
		}
	}
}

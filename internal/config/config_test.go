package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv("MULTISTACK_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Engine.BitDepth != 32 || cfg.Engine.Extension != "fit" {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			t.Setenv("MULTISTACK_CONFIG", path)

			cfg := Default()
			cfg.Engine.BitDepth = 16
			cfg.Engine.SirilPath = "/opt/siril/bin/siril-cli"
			cfg.Watch.FinalSweep = false
			if err := cfg.Save(path); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			loaded, err := Load()
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if loaded.Engine.BitDepth != 16 {
				t.Fatalf("expected bit depth 16, got %d", loaded.Engine.BitDepth)
			}
			if loaded.Engine.SirilPath != "/opt/siril/bin/siril-cli" {
				t.Fatalf("unexpected siril path %q", loaded.Engine.SirilPath)
			}
			if loaded.Watch.FinalSweep {
				t.Fatalf("expected final sweep disabled after round trip")
			}
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MULTISTACK_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := Default()
	cfg.Engine.BitDepth = 24
	cfg.Engine.Timeout = "soon"
	cfg.Processing.SigmaLow = 0
	cfg.Paths.DatabaseDriver = "postgres"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"bit_depth", "timeout", "sigma", "database_driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestPathPrefersExistingYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MULTISTACK_CONFIG", "")

	if got := Path(); got != defaultConfigPath {
		t.Fatalf("expected default path without any file, got %s", got)
	}

	dir := filepath.Join(home, ".config", "multistack")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine:\n  bit_depth: 16\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := Path(); !strings.HasSuffix(got, "config.yaml") {
		t.Fatalf("expected the YAML file to be picked, got %s", got)
	}
}

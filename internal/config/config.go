package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/multistack/config.json"
	defaultSirilPath  = "siril-cli"
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Engine     Engine     `json:"engine" yaml:"engine"`
	Processing Processing `json:"processing" yaml:"processing"`
	Watch      Watch      `json:"watch" yaml:"watch"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Output     Output     `json:"output" yaml:"output"`
}

// Engine configures the external image-processing engine.
type Engine struct {
	SirilPath string `json:"siril_path" yaml:"siril_path"`
	BitDepth  int    `json:"bit_depth" yaml:"bit_depth"` // 16 or 32
	Extension string `json:"extension" yaml:"extension"` // fit, fits, fts
	Requires  string `json:"requires" yaml:"requires"`   // minimum siril version written into scripts
	Timeout   string `json:"timeout" yaml:"timeout"`     // per-command timeout, empty = none
}

// Processing captures calibration and stacking preferences.
type Processing struct {
	CleanupSessions bool    `json:"cleanup_sessions" yaml:"cleanup_sessions"`
	SigmaLow        float64 `json:"sigma_low" yaml:"sigma_low"`
	SigmaHigh       float64 `json:"sigma_high" yaml:"sigma_high"`
	MinStars        int     `json:"min_stars" yaml:"min_stars"`
	MaxStars        int     `json:"max_stars" yaml:"max_stars"`
	CheckFreeSpace  bool    `json:"check_free_space" yaml:"check_free_space"`
}

// Watch controls the intermediate-file cleanup coordinator.
type Watch struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	FinalSweep bool `json:"final_sweep" yaml:"final_sweep"`
	Buffer     int  `json:"buffer" yaml:"buffer"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`         // Directory for log files
}

// Paths configures default locations.
type Paths struct {
	DefaultWorkdir string `json:"default_workdir" yaml:"default_workdir"`
	DatabasePath   string `json:"database_path" yaml:"database_path"`
	DatabaseDriver string `json:"database_driver" yaml:"database_driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// Output configures result artifacts.
type Output struct {
	Preview        bool `json:"preview" yaml:"preview"`
	PreviewQuality int  `json:"preview_quality" yaml:"preview_quality"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(Path())
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if isYAML(expanded) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", expanded, err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	return cfg, nil
}

// Path returns the configuration file location, honoring MULTISTACK_CONFIG.
// Without the override, a config.yaml or config.yml beside the default
// config.json is used when the JSON file is absent.
func Path() string {
	if p := os.Getenv("MULTISTACK_CONFIG"); p != "" {
		return p
	}
	base := strings.TrimSuffix(defaultConfigPath, ".json")
	for _, p := range []string{defaultConfigPath, base + ".yaml", base + ".yml"} {
		if Exists(p) {
			return p
		}
	}
	return defaultConfigPath
}

// Save writes the configuration to path as JSON or YAML depending on the extension.
func (c *Config) Save(path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var data []byte
	if isYAML(expanded) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o644)
}

// Validate reports settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Engine.BitDepth != 16 && c.Engine.BitDepth != 32 {
		problems = append(problems, fmt.Sprintf("engine.bit_depth must be 16 or 32, got %d", c.Engine.BitDepth))
	}
	if strings.TrimPrefix(c.Engine.Extension, ".") == "" {
		problems = append(problems, "engine.extension must not be empty")
	}
	if c.Engine.SirilPath == "" {
		problems = append(problems, "engine.siril_path must not be empty")
	}
	if _, err := c.EngineTimeout(); err != nil {
		problems = append(problems, fmt.Sprintf("engine.timeout: %v", err))
	}
	if c.Processing.SigmaLow <= 0 || c.Processing.SigmaHigh <= 0 {
		problems = append(problems, "processing sigma values must be positive")
	}
	if c.Processing.MinStars < 0 || c.Processing.MaxStars < c.Processing.MinStars {
		problems = append(problems, "processing.max_stars must be >= min_stars >= 0")
	}
	switch c.Paths.DatabaseDriver {
	case "sqlite", "sqlite3":
	default:
		problems = append(problems, fmt.Sprintf("paths.database_driver must be sqlite or sqlite3, got %q", c.Paths.DatabaseDriver))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// EngineTimeout parses Engine.Timeout; zero means no timeout.
func (c *Config) EngineTimeout() (time.Duration, error) {
	if c.Engine.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Engine.Timeout)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: Engine{
			SirilPath: defaultSirilPath,
			BitDepth:  32,
			Extension: "fit",
			Requires:  "1.2.0",
		},
		Processing: Processing{
			CleanupSessions: true,
			SigmaLow:        3,
			SigmaHigh:       3,
			MinStars:        100,
			MaxStars:        500,
			CheckFreeSpace:  true,
		},
		Watch: Watch{
			Enabled:    true,
			FinalSweep: true,
			Buffer:     256,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultWorkdir: ".",
			DatabasePath:   filepath.Join(os.TempDir(), "multistack.db"),
			DatabaseDriver: "sqlite",
		},
		Output: Output{
			Preview:        false,
			PreviewQuality: 90,
		},
	}
}

// Exists reports whether a configuration file is present at path.
func Exists(path string) bool {
	expanded, err := expandUser(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(expanded)
	return err == nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}

package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"multistack/internal/config"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo))

	logger.With("run", "abc").Info("stage started", "stage", "calibrated")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] stage started [run=abc stage=calibrated]") {
		t.Fatalf("unexpected log line: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
}

func TestTraditionalHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug)).WithGroup("watch")
	logger.Warn("missing original", "name", "light_00001.fit")

	if !strings.Contains(buf.String(), "[WARN] missing original [watch.name=light_00001.fit]") {
		t.Fatalf("unexpected log line: %q", buf.String())
	}
}

func TestSetupWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Logging.LogDir = filepath.Join(dir, "logs")
	cfg.Logging.FileOutput = true

	var stdout bytes.Buffer
	logger, err := setup(cfg, &stdout)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	LogEngineCommand(logger, "/work", "stack bias rej 3 3 -nonorm", time.Second, nil)
	LogEngineCommand(logger, "/work", "register pp_light", time.Second, errors.New("boom"))

	name := "multistack-" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(cfg.Logging.LogDir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "engine command failed") {
		t.Fatalf("log file missing failure entry: %q", data)
	}
	if !strings.Contains(stdout.String(), "stack bias rej 3 3 -nonorm") {
		t.Fatalf("stdout missing command entry: %q", stdout.String())
	}
	if _, err := os.Lstat(filepath.Join(cfg.Logging.LogDir, "multistack-current.log")); err != nil {
		t.Fatalf("expected current log symlink: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"  INFO ": slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestHandlerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: "debug", Format: FormatText}}
	log := slog.New(cfg.handler(&buf))
	log.Info("hello", "k", "v")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("timestamps disabled but present: %q", out)
	}
}

func TestHandlerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Format: FormatJSON, TimeStamps: true}}
	log := slog.New(cfg.handler(&buf))
	log.Info("hello")
	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHandlerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: "warn"}}
	log := slog.New(cfg.handler(&buf))
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering broken: %q", out)
	}
}

func TestColorTextHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{})
	rec := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(buf.String(), "\033[31mERROR\033[0m") {
		t.Fatalf("missing color prefix: %q", buf.String())
	}
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pm2ctl.log")
	var buf bytes.Buffer
	cfg := Config{
		Slog: SlogConfig{Format: FormatText},
		File: FileConfig{Path: path},
	}
	log := slog.New(cfg.handler(&buf))
	log.Info("to file and console")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "to file and console") {
		t.Fatalf("file output missing message: %q", string(b))
	}
	if !strings.Contains(buf.String(), "to file and console") {
		t.Fatalf("console output missing message")
	}
}

func TestRotationDefaults(t *testing.T) {
	if valOr(0, DefaultMaxSizeMB) != 10 || valOr(-1, DefaultMaxBackups) != 3 || valOr(5, DefaultMaxAgeDays) != 5 {
		t.Fatalf("rotation defaults wrong")
	}
}

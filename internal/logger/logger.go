package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Level and format names accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	FormatText = "text"
	FormatJSON = "json"
)

// Rotation defaults, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// SlogConfig controls the structured application logger.
type SlogConfig struct {
	Level      string `mapstructure:"level" toml:"level"`
	Format     string `mapstructure:"format" toml:"format"`
	Color      bool   `mapstructure:"color" toml:"color"`
	TimeStamps bool   `mapstructure:"timestamps" toml:"timestamps"`
	Source     bool   `mapstructure:"source" toml:"source"`
}

// FileConfig sends a rotated copy of the application log to a file.
// An empty Path disables file output.
type FileConfig struct {
	Path       string `mapstructure:"path" toml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress"`
}

// Config is the full logging configuration.
type Config struct {
	Slog SlogConfig `mapstructure:"slog" toml:"slog"`
	File FileConfig `mapstructure:"file" toml:"file"`
}

// DefaultConfig returns a colored text console configuration.
func DefaultConfig() Config {
	return Config{Slog: SlogConfig{Level: LevelInfo, Format: FormatText, Color: true, TimeStamps: true}}
}

// ParseLevel maps a config level name to a slog.Level, defaulting to
// info on unknown input.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the application logger: stderr, plus a rotating
// file copy when File.Path is set. Color applies to the text format
// only.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.handler(os.Stderr))
}

func (c Config) handler(console io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	w := console
	if c.File.Path != "" {
		w = io.MultiWriter(console, c.fileWriter())
	}
	if strings.EqualFold(c.Slog.Format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Slog.Color {
		return NewColorTextHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (c Config) fileWriter() io.Writer {
	return &lj.Logger{
		Filename:   c.File.Path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

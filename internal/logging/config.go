// internal/logging/config.go
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "RACK_LOG_LEVEL"
	EnvLogFormat    = "RACK_LOG_FORMAT"
	EnvLogTimestamp = "RACK_LOG_TIMESTAMP"
	EnvLogNoColor   = "RACK_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level     zerolog.Level
	Format    string // "console" or "json"
	Timestamp bool
	NoColor   bool
}

var (
	configureOnce sync.Once
	root          = zerolog.Nop()
)

func ConfigureRuntime() zerolog.Logger {
	return Configure(ProfileRuntime, os.Stderr)
}

func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest, os.Stderr)
}

// Configure builds the process logger once; later calls return it unchanged.
func Configure(profile Profile, w io.Writer) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		if cfg.Level < zerolog.GlobalLevel() {
			zerolog.SetGlobalLevel(cfg.Level)
		}
		root = New(cfg, w)
	})
	return root
}

// New builds a logger from cfg without touching process state.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(w).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Format: "console", NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Format: "console", Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if f, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		cfg.Format = f
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json":
		return "json", true
	case "console", "text":
		return "console", true
	default:
		return "", false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

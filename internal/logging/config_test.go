package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := parseLevel("loud")
	assert.False(t, ok)
	_, ok = parseLevel("")
	assert.False(t, ok)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogTimestamp, "false")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)

	assert.Equal(t, zerolog.ErrorLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.False(t, cfg.Timestamp)
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: zerolog.WarnLevel, Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("device", "FAN-1").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"device":"FAN-1"`)
	assert.Contains(t, out, `"level":"warn"`)
}

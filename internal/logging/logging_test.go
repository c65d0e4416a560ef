package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestNew_WritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Str("host", "x.com").Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	require.Contains(t, out, `"message":"kept"`)
	require.Contains(t, out, `"host":"x.com"`)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New("info", &buf), "proxy")
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), `"component":"proxy"`)
}

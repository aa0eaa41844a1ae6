package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("claim tick", String("claim", "sp-main"), Int("n", 3), Duration("took", time.Second), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "info", m["level"])
	require.Equal(t, "claim tick", m["message"])
	require.Equal(t, "test", m["comp"])
	require.Equal(t, "sp-main", m["claim"])
	require.Equal(t, float64(3), m["n"])
	require.Equal(t, "boom", m["err"])
	require.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"))
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden")
	require.Zero(t, buf.Len())
	require.False(t, log.Enabled(LevelInfo))
	require.True(t, log.Enabled(LevelError))

	log.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	require.True(t, log.IsZero())
	log.Error("nothing happens")
	require.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ParseLevel(tt.in, LevelInfo), tt.in)
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spclaim.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("to file", String("k", "v"))
	log.Debug("filtered")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"message":"to file"`)
	require.NotContains(t, string(b), "filtered")

	// Level changes on Apply are seen by the existing Logger.
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "now visible")
	require.Equal(t, "debug", svc.Config().Level)
}

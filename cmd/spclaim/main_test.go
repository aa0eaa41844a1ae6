package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"spclaim/internal/app"
)

const cliConfig = `
logging:
  level: error
claims:
  - name: sp-main
    schedule: "0 0 * * * *"
    owner: "0x4e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e"
    private_key: "0xdeadbeef"
    network:
      provider_endpoint: https://rpc.example/secret-key
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeCLIConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cliConfig), 0o600))
	return p
}

func TestValidatePrintsRedactedClaims(t *testing.T) {
	p := writeCLIConfig(t)
	out, err := execute(t, "validate", "--config", p, "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	require.Contains(t, out, "config ok")
	require.Contains(t, out, "sp-main")
	require.Contains(t, out, "America/Los_Angeles")
	require.Contains(t, out, "[redacted]")
	require.Contains(t, out, "https://rpc.example")
	require.NotContains(t, out, "deadbeef")
	require.NotContains(t, out, "secret-key")
}

func TestScheduleListsHourlyFires(t *testing.T) {
	p := writeCLIConfig(t)
	out, err := execute(t, "schedule", "--config", p, "--count", "3", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	for _, l := range lines[1:] {
		require.Contains(t, l, ":00:00 P")
	}
}

func TestScheduleRejectsBadCount(t *testing.T) {
	_, err := execute(t, "schedule", "--config", writeCLIConfig(t), "--count", "0", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
}

func TestValidateFailsOnMissingConfig(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
}

func TestWaitStopPrefersSignal(t *testing.T) {
	done := make(chan struct{})
	close(done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		require.Equal(t, app.StopSignal, waitStop(ctx, done))
	}
	require.Equal(t, app.StopFatalError, waitStop(context.Background(), done))
}

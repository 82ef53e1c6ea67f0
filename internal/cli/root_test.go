package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"dmrelay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "dmrelay", cmd.Use)
	assert.Contains(t, cmd.Long, "first qualifying")
}

func TestRootFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"config-dir", "config-env", "stats", "ignore-duration", "enable-tracking", "disable-tracking"} {
		t.Run(name, func(t *testing.T) {
			assert.NotNil(t, cmd.Flags().Lookup(name))
		})
	}
	assert.Equal(t, "false", cmd.Flags().Lookup("stats").DefValue)
	assert.Equal(t, "0", cmd.Flags().Lookup("ignore-duration").DefValue)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()

	applied := applyOverrides(&cfg, &RootOptions{IgnoreDuration: 7200, DisableTracking: true})

	assert.Equal(t, 7200, cfg.Tracking.IgnoreDurationSeconds)
	assert.False(t, cfg.Tracking.Enabled)
	assert.Equal(t, []string{"ignore duration set to 7200 seconds", "message tracking disabled"}, applied)
}

func TestApplyOverridesNone(t *testing.T) {
	cfg := config.Default()

	assert.Empty(t, applyOverrides(&cfg, &RootOptions{}))
	assert.Equal(t, config.Default(), cfg)
}

func writeConfig(t *testing.T) (configDir, stateDir string) {
	t.Helper()
	configDir = t.TempDir()
	stateDir = t.TempDir()
	base := fmt.Sprintf(`
tracking:
  backend: file
  state_dir: %q
log:
  level: error
  file: %q
`, stateDir, filepath.Join(t.TempDir(), "relay.log"))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "base.yaml"), []byte(base), 0o644))
	return configDir, stateDir
}

func TestStatsCommand(t *testing.T) {
	configDir, _ := writeConfig(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config-dir", configDir, "--config-env", "test", "--stats", "--ignore-duration", "7200"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Message Tracking Statistics")
	assert.Contains(t, out.String(), "Ignore Duration: 2.0 hours (7200 seconds)")
}

func TestStatsCommandReportsStoredDay(t *testing.T) {
	configDir, stateDir := writeConfig(t)
	daily := `{
  "date": "2020-01-02",
  "forwarded_users": {
    "1001": {"name": "John Doe", "time": "2020-01-02 08:15:00"}
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "daily_messages.json"), []byte(daily), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config-dir", configDir, "--config-env", "test", "--stats"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Date: 2020-01-02")
	assert.Contains(t, out.String(), "Users Forwarded Today: 1")
	assert.Contains(t, out.String(), "John Doe (ID: 1001) - 2020-01-02 08:15:00")
	assert.NotContains(t, out.String(), "Tracking state loaded", "logs stay off the report stream")
}

func TestStatsCommandDisabledTracking(t *testing.T) {
	configDir, _ := writeConfig(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config-dir", configDir, "--config-env", "test", "--stats", "--disable-tracking"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Tracking Enabled: false")
}

func TestTrackingFlagsExclusive(t *testing.T) {
	configDir, _ := writeConfig(t)

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-dir", configDir, "--stats", "--enable-tracking", "--disable-tracking"})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestInvalidConfigRejected(t *testing.T) {
	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "base.yaml"), []byte("tracking:\n  backend: sqlite\n"), 0o644))

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config-dir", configDir, "--config-env", "test", "--stats"})

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "invalid configuration")
}

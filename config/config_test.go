package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DB_URL", ":memory:")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, RelayMemory, cfg.Relay)
		assert.Equal(t, time.Minute, cfg.Liveness.SweepInterval)
		assert.Equal(t, 5*time.Minute, cfg.Liveness.OfflineThreshold)
		assert.Equal(t, 24*time.Hour, cfg.Liveness.RecentWindow)
		assert.Equal(t, 5*time.Minute, cfg.Alerts.SuppressionWindow)
		assert.Equal(t, 80.0, cfg.Alerts.CPUThreshold)
		assert.Equal(t, 90.0, cfg.Alerts.MemoryThreshold)
		assert.False(t, cfg.SlackConfig.IsConfigured())
		assert.False(t, cfg.DiscordConfig.IsConfigured())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_URL", "postgres://localhost/connmon")
		t.Setenv("RELAY", "postgres")
		t.Setenv("SWEEP_INTERVAL", "30s")
		t.Setenv("SUPPRESSION_WINDOW", "10m")
		t.Setenv("CPU_ALERT_THRESHOLD", "75.5")
		t.Setenv("DISCORD_BOT_TOKEN", "token")
		t.Setenv("DISCORD_ALERT_CHANNEL_ID", "123")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, RelayPostgres, cfg.Relay)
		assert.Equal(t, 30*time.Second, cfg.Liveness.SweepInterval)
		assert.Equal(t, 10*time.Minute, cfg.Alerts.SuppressionWindow)
		assert.Equal(t, 75.5, cfg.Alerts.CPUThreshold)
		assert.True(t, cfg.DiscordConfig.IsConfigured())
	})

	t.Run("missing database url", func(t *testing.T) {
		t.Setenv("DB_URL", "")

		_, err := LoadConfig()
		assert.ErrorContains(t, err, "DB_URL is not set")
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("DB_URL", ":memory:")

		t.Setenv("SWEEP_INTERVAL", "soon")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "SWEEP_INTERVAL")

		t.Setenv("SWEEP_INTERVAL", "")
		t.Setenv("RELAY", "kafka")
		_, err = LoadConfig()
		assert.ErrorContains(t, err, "RELAY")
	})
}

func TestLoadAgentConfig(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := LoadAgentConfig(filepath.Join(t.TempDir(), "missing.yaml"), AgentOverrides{})
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, cfg.Intervals.Heartbeat.Duration)
		assert.Equal(t, 60*time.Second, cfg.Intervals.Metrics.Duration)
		assert.Equal(t, 5*time.Second, cfg.Reconnect.BaseDelay.Duration)
		assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay.Duration)
		assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	})

	t.Run("layers file env and flags", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: http://file:8080
agent:
  project_name: from-file
  location: rack-1
intervals:
  heartbeat: 10s
reconnect:
  max_attempts: 3
`), 0o600))
		t.Setenv("CONNMON_LOCATION", "rack-2")

		cfg, err := LoadAgentConfig(path, AgentOverrides{ServerURL: "http://flag:9090"})
		require.NoError(t, err)

		assert.Equal(t, "http://flag:9090", cfg.Server.URL)
		assert.Equal(t, "from-file", cfg.Agent.ProjectName)
		assert.Equal(t, "rack-2", cfg.Agent.Location)
		assert.Equal(t, 10*time.Second, cfg.Intervals.Heartbeat.Duration)
		assert.Equal(t, 60*time.Second, cfg.Intervals.Metrics.Duration)
		assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		require.NoError(t, os.WriteFile(path, []byte("intervals:\n  heartbeat: often\n"), 0o600))

		_, err := LoadAgentConfig(path, AgentOverrides{})
		assert.ErrorContains(t, err, "invalid duration")
	})

	t.Run("invalid reconnect settings", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		require.NoError(t, os.WriteFile(path, []byte("reconnect:\n  base_delay: 1m\n  max_delay: 10s\n"), 0o600))

		_, err := LoadAgentConfig(path, AgentOverrides{})
		assert.ErrorContains(t, err, "reconnect delays")
	})
}

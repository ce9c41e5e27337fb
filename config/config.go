package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"connmonitor/core/log"
)

const (
	RelayMemory   = "memory"
	RelayPostgres = "postgres"
)

type SlackConfig struct {
	AlertWebhookURL string
}

// IsConfigured returns true if the Slack alert webhook is present
func (c SlackConfig) IsConfigured() bool {
	return c.AlertWebhookURL != ""
}

type DiscordConfig struct {
	BotToken       string
	AlertChannelID string
}

// IsConfigured returns true if all required Discord configuration is present
func (c DiscordConfig) IsConfigured() bool {
	return c.BotToken != "" && c.AlertChannelID != ""
}

type AlertConfig struct {
	SuppressionWindow    time.Duration
	CPUThreshold         float64
	MemoryThreshold      float64
	ShutdownAlertTimeout time.Duration
}

type LivenessConfig struct {
	SweepInterval    time.Duration
	OfflineThreshold time.Duration
	RecentWindow     time.Duration
	ReportInterval   time.Duration
	RecordRetention  time.Duration
}

type AppConfig struct {
	DatabaseURL        string
	DatabaseSchema     string
	Port               string
	CORSAllowedOrigins string
	Environment        string
	Relay              string
	LogLevel           string
	LogFormat          string

	Liveness      LivenessConfig
	Alerts        AlertConfig
	SlackConfig   SlackConfig
	DiscordConfig DiscordConfig
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info("⚠️ Could not load .env file, continuing with system env vars")
	}

	databaseURL, err := getEnvRequired("DB_URL")
	if err != nil {
		return nil, err
	}

	config := &AppConfig{
		DatabaseURL:        databaseURL,
		DatabaseSchema:     getEnvWithDefault("DB_SCHEMA", "public"),
		Port:               getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:        getEnvWithDefault("ENVIRONMENT", "dev"),
		Relay:              getEnvWithDefault("RELAY", RelayMemory),
		LogLevel:           getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvWithDefault("LOG_FORMAT", "console"),

		SlackConfig: SlackConfig{
			AlertWebhookURL: os.Getenv("SLACK_ALERT_WEBHOOK_URL"),
		},
		DiscordConfig: DiscordConfig{
			BotToken:       os.Getenv("DISCORD_BOT_TOKEN"),
			AlertChannelID: os.Getenv("DISCORD_ALERT_CHANNEL_ID"),
		},
	}

	durations := []struct {
		key    string
		def    time.Duration
		target *time.Duration
	}{
		{"SWEEP_INTERVAL", time.Minute, &config.Liveness.SweepInterval},
		{"OFFLINE_THRESHOLD", 5 * time.Minute, &config.Liveness.OfflineThreshold},
		{"RECENT_WINDOW", 24 * time.Hour, &config.Liveness.RecentWindow},
		{"REPORT_INTERVAL", 5 * time.Minute, &config.Liveness.ReportInterval},
		{"RECORD_RETENTION", 30 * 24 * time.Hour, &config.Liveness.RecordRetention},
		{"SUPPRESSION_WINDOW", 5 * time.Minute, &config.Alerts.SuppressionWindow},
		{"SHUTDOWN_ALERT_TIMEOUT", 5 * time.Second, &config.Alerts.ShutdownAlertTimeout},
	}
	for _, d := range durations {
		value, err := getDurationWithDefault(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.target = value
	}

	if config.Alerts.CPUThreshold, err = getFloatWithDefault("CPU_ALERT_THRESHOLD", 80); err != nil {
		return nil, err
	}
	if config.Alerts.MemoryThreshold, err = getFloatWithDefault("MEMORY_ALERT_THRESHOLD", 90); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	if config.SlackConfig.IsConfigured() {
		log.Info("✅ Slack alert sink configured")
	} else {
		log.Info("⚠️ Slack alert sink not configured - alerts will not reach Slack")
	}
	if config.DiscordConfig.IsConfigured() {
		log.Info("✅ Discord alert sink configured")
	} else {
		log.Info("⚠️ Discord alert sink not configured - alerts will not reach Discord")
	}

	return config, nil
}

func (c *AppConfig) validate() error {
	if c.Relay != RelayMemory && c.Relay != RelayPostgres {
		return fmt.Errorf("RELAY must be %q or %q, got %q", RelayMemory, RelayPostgres, c.Relay)
	}
	if c.Liveness.SweepInterval <= 0 || c.Liveness.OfflineThreshold <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and OFFLINE_THRESHOLD must be positive")
	}
	if c.Alerts.SuppressionWindow <= 0 {
		return fmt.Errorf("SUPPRESSION_WINDOW must be positive")
	}
	return nil
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %w", key, err)
	}
	return d, nil
}

func getFloatWithDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid number: %w", key, err)
	}
	return f, nil
}

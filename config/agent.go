package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration reads human-readable durations such as "30s" from YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

type AgentConfig struct {
	Server    AgentServerConfig `yaml:"server"`
	Agent     AgentIdentity     `yaml:"agent"`
	Intervals IntervalsConfig   `yaml:"intervals"`
	Reconnect ReconnectConfig   `yaml:"reconnect"`
	Alerts    AgentAlertsConfig `yaml:"alerts"`
	Logging   LoggingConfig     `yaml:"logging"`
}

type AgentServerConfig struct {
	URL string `yaml:"url"`
}

type AgentIdentity struct {
	// ID overrides the persisted agent id when set.
	ID          string `yaml:"id"`
	ProjectName string `yaml:"project_name"`
	Location    string `yaml:"location"`
	Owner       string `yaml:"owner"`
}

type IntervalsConfig struct {
	Heartbeat Duration `yaml:"heartbeat"`
	Metrics   Duration `yaml:"metrics"`
}

type ReconnectConfig struct {
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

type AgentAlertsConfig struct {
	SlackWebhookURL string  `yaml:"slack_webhook_url"`
	CPUThreshold    float64 `yaml:"cpu_threshold"`
	MemoryThreshold float64 `yaml:"memory_threshold"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultAgentConfig() *AgentConfig {
	hostname, _ := os.Hostname()
	return &AgentConfig{
		Server: AgentServerConfig{URL: "http://localhost:8080"},
		Agent: AgentIdentity{
			ProjectName: "default",
			Location:    hostname,
		},
		Intervals: IntervalsConfig{
			Heartbeat: Duration{30 * time.Second},
			Metrics:   Duration{60 * time.Second},
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   Duration{5 * time.Second},
			MaxDelay:    Duration{30 * time.Second},
			MaxAttempts: 5,
		},
		Alerts: AgentAlertsConfig{
			CPUThreshold:    80,
			MemoryThreshold: 90,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// AgentOverrides holds values from command-line flags. Empty values are
// treated as not set.
type AgentOverrides struct {
	ServerURL   string
	AgentID     string
	ProjectName string
	Location    string
}

// LoadAgentConfig layers defaults, the YAML file at path, environment
// variables and CLI flags, later layers winning. A missing file is not an
// error.
func LoadAgentConfig(path string, cli AgentOverrides) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := applyAgentEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cli.ServerURL != "" {
		cfg.Server.URL = cli.ServerURL
	}
	if cli.AgentID != "" {
		cfg.Agent.ID = cli.AgentID
	}
	if cli.ProjectName != "" {
		cfg.Agent.ProjectName = cli.ProjectName
	}
	if cli.Location != "" {
		cfg.Agent.Location = cli.Location
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyAgentEnvOverrides(cfg *AgentConfig) error {
	if url := os.Getenv("CONNMON_SERVER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if id := os.Getenv("CONNMON_AGENT_ID"); id != "" {
		cfg.Agent.ID = id
	}
	if project := os.Getenv("CONNMON_PROJECT_NAME"); project != "" {
		cfg.Agent.ProjectName = project
	}
	if location := os.Getenv("CONNMON_LOCATION"); location != "" {
		cfg.Agent.Location = location
	}
	if webhook := os.Getenv("CONNMON_SLACK_WEBHOOK_URL"); webhook != "" {
		cfg.Alerts.SlackWebhookURL = webhook
	}
	if level := os.Getenv("CONNMON_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if attempts := os.Getenv("CONNMON_RECONNECT_MAX_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil {
			return fmt.Errorf("CONNMON_RECONNECT_MAX_ATTEMPTS is not a number: %w", err)
		}
		cfg.Reconnect.MaxAttempts = n
	}
	return nil
}

func (c *AgentConfig) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Agent.ProjectName == "" || c.Agent.Location == "" {
		return fmt.Errorf("project name and location are required")
	}
	if c.Intervals.Heartbeat.Duration <= 0 || c.Intervals.Metrics.Duration <= 0 {
		return fmt.Errorf("heartbeat and metrics intervals must be positive")
	}
	if c.Reconnect.BaseDelay.Duration <= 0 || c.Reconnect.MaxDelay.Duration < c.Reconnect.BaseDelay.Duration {
		return fmt.Errorf("reconnect delays must be positive with max_delay >= base_delay")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max_attempts must be positive")
	}
	return nil
}

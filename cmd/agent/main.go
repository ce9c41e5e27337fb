package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"connmonitor/clients"
	"connmonitor/clients/agentsocket"
	slackclient "connmonitor/clients/slack"
	"connmonitor/config"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/identity"
	"connmonitor/services/reconnect"
	"connmonitor/services/sysmetrics"
	"connmonitor/utils"
)

const agentVersion = "0.1.0"

type Options struct {
	Config      string `long:"config" description:"Path to the agent YAML config file"`
	Server      string `long:"server" description:"Server URL, e.g. http://localhost:8080"`
	AgentID     string `long:"agent-id" description:"Override the persisted agent id"`
	ProjectName string `long:"project" description:"Project name reported with every event"`
	Location    string `long:"location" description:"Location reported with every event"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		log.Error("❌ Fatal error: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(opts Options) error {
	cfg, err := config.LoadAgentConfig(opts.Config, config.AgentOverrides{
		ServerURL:   opts.Server,
		AgentID:     opts.AgentID,
		ProjectName: opts.ProjectName,
		Location:    opts.Location,
	})
	if err != nil {
		return err
	}
	log.SetLevel(cfg.Logging.Level)
	log.SetFormat(cfg.Logging.Format)
	defer log.Sync()

	identityDir, err := identity.DefaultDir()
	if err != nil {
		return err
	}
	identityService, err := identity.NewIdentityService(identityDir, cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("failed to initialize agent identity: %w", err)
	}
	defer func() {
		if err := identityService.Close(); err != nil {
			log.Error("❌ Failed to release identity lock: %v", err)
		}
	}()

	agentID := identityService.GetAgentID()
	hostname, _ := os.Hostname()
	metadata := models.Metadata{
		ProjectName: cfg.Agent.ProjectName,
		Location:    cfg.Agent.Location,
		Host:        utils.Ptr(hostname),
		Version:     utils.Ptr(agentVersion),
	}
	if cfg.Agent.Owner != "" {
		metadata.Owner = utils.Ptr(cfg.Agent.Owner)
	}

	notifier := newAlertNotifier(newLocalSink(cfg), 5*time.Minute)
	defer notifier.Close()

	client := agentsocket.NewClient(cfg.Server.URL, agentID, metadata)
	machine := reconnect.NewMachine(
		reconnect.Config{
			BaseDelay:   cfg.Reconnect.BaseDelay.Duration,
			MaxDelay:    cfg.Reconnect.MaxDelay.Duration,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		reconnect.RealScheduler{},
		client,
		notifier,
		models.AlertMetadata{
			ProjectName: metadata.ProjectName,
			Location:    metadata.Location,
			ClientID:    utils.Ptr(agentID),
			Component:   utils.Ptr("agent"),
		},
	)
	client.SetReporter(machine)
	client.OnHeartbeatAck(func(ack models.HeartbeatAckPayload) {
		log.Debug("💓 Heartbeat acknowledged at %s", ack.Timestamp.Format(time.RFC3339))
	})
	client.OnAlert(func(alert models.Alert) {
		log.Info("📨 Alert from server: %s", alert.Message)
		notifier.Notify(alert)
	})

	runner := NewAgentRunner(agentID, metadata, client, sysmetrics.NewCollector(), notifier, runnerConfig{
		HeartbeatInterval: cfg.Intervals.Heartbeat.Duration,
		MetricsInterval:   cfg.Intervals.Metrics.Duration,
		CPUThreshold:      cfg.Alerts.CPUThreshold,
		MemoryThreshold:   cfg.Alerts.MemoryThreshold,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("📋 Starting agent %s (project: %s, location: %s) against %s",
		agentID, metadata.ProjectName, metadata.Location, cfg.Server.URL)
	machine.Start()

	runner.Run(ctx)

	log.Info("🛑 Shutdown signal received, cleaning up...")
	machine.Stop()
	client.Close()
	log.Info("✅ Agent stopped gracefully")
	return nil
}

func newLocalSink(cfg *config.AgentConfig) clients.NotificationSink {
	if cfg.Alerts.SlackWebhookURL == "" {
		return clients.NewLogSink()
	}
	log.Info("🔔 Slack alert sink enabled")
	return clients.NewMultiSink(
		slackclient.NewAlertSink(cfg.Alerts.SlackWebhookURL, "", nil),
		clients.NewLogSink(),
	)
}

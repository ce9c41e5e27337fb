package main

import (
	"context"
	"fmt"
	"time"

	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services"
	"connmonitor/utils"
)

const collectTimeout = 10 * time.Second

// sessionClient is the part of the agent socket the runner needs.
type sessionClient interface {
	Emit(event string, payload any) error
	IsConnected() bool
}

type runnerConfig struct {
	HeartbeatInterval time.Duration
	MetricsInterval   time.Duration
	CPUThreshold      float64
	MemoryThreshold   float64
}

// AgentRunner emits heartbeats and metrics while the session is up.
type AgentRunner struct {
	agentID   string
	metadata  models.Metadata
	client    sessionClient
	collector services.MetricsCollector
	notifier  *alertNotifier
	config    runnerConfig
}

func NewAgentRunner(
	agentID string,
	metadata models.Metadata,
	client sessionClient,
	collector services.MetricsCollector,
	notifier *alertNotifier,
	config runnerConfig,
) *AgentRunner {
	utils.AssertInvariant(config.HeartbeatInterval > 0 && config.MetricsInterval > 0, "intervals must be positive")
	return &AgentRunner{
		agentID:   agentID,
		metadata:  metadata,
		client:    client,
		collector: collector,
		notifier:  notifier,
		config:    config,
	}
}

// Run blocks until ctx is cancelled.
func (r *AgentRunner) Run(ctx context.Context) {
	heartbeatTicker := time.NewTicker(r.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	metricsTicker := time.NewTicker(r.config.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := r.SendHeartbeat(); err != nil {
				log.Warn("⚠️ Failed to send heartbeat: %v", err)
			}
		case <-metricsTicker.C:
			if err := r.SendMetrics(ctx); err != nil {
				log.Warn("⚠️ Failed to send metrics: %v", err)
			}
		}
	}
}

// SendHeartbeat is a no-op while disconnected.
func (r *AgentRunner) SendHeartbeat() error {
	if !r.client.IsConnected() {
		return nil
	}
	metadata := r.metadata
	return r.client.Emit(models.EventHeartbeat, models.HeartbeatPayload{Metadata: &metadata})
}

// SendMetrics samples local resources, reports them while connected and
// raises local threshold alerts either way.
func (r *AgentRunner) SendMetrics(ctx context.Context) error {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	metrics, err := r.collector.Collect(collectCtx)
	if err != nil {
		return fmt.Errorf("failed to collect metrics: %w", err)
	}

	r.checkThresholds(metrics)

	if !r.client.IsConnected() {
		return nil
	}

	metadata := r.metadata
	return r.client.Emit(models.EventMetrics, models.MetricsPayload{
		CPUUsage:    metrics.CPUUsage,
		MemoryUsage: metrics.MemoryUsage,
		TotalMemory: metrics.TotalMemory,
		FreeMemory:  metrics.FreeMemory,
		Uptime:      metrics.Uptime,
		Timestamp:   metrics.Timestamp,
		Metadata:    &metadata,
	})
}

func (r *AgentRunner) checkThresholds(metrics models.SystemMetrics) {
	meta := models.AlertMetadata{
		ProjectName: r.metadata.ProjectName,
		Location:    r.metadata.Location,
		ClientID:    utils.Ptr(r.agentID),
		Component:   utils.Ptr("agent"),
	}

	if metrics.CPUUsage > r.config.CPUThreshold {
		r.notifier.NotifyThrottled(models.Alert{
			Type: models.AlertTypeHighCPU,
			Message: fmt.Sprintf("Local CPU usage is %s (threshold %s)",
				utils.FormatPercent(metrics.CPUUsage), utils.FormatPercent(r.config.CPUThreshold)),
			Severity: models.AlertSeverityWarning,
			Metadata: meta,
		})
	}

	if memPercent := metrics.MemoryPercent(); memPercent > r.config.MemoryThreshold {
		r.notifier.NotifyThrottled(models.Alert{
			Type: models.AlertTypeHighMemory,
			Message: fmt.Sprintf("Local memory usage is %s (%s of %s)",
				utils.FormatPercent(memPercent),
				utils.FormatBytes(metrics.MemoryUsage), utils.FormatBytes(metrics.TotalMemory)),
			Severity: models.AlertSeverityWarning,
			Metadata: meta,
		})
	}
}

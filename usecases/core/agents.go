package core

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/mo"

	"connmonitor/clients"
	"connmonitor/core"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/alerts"
	"connmonitor/services/relay"
	"connmonitor/utils"
)

// RegisterAgent marks the session's agent online and announces it
func (s *CoreUseCase) RegisterAgent(ctx context.Context, session *clients.Session) error {
	if session.AgentID == "" {
		return core.ErrMissingAgentID
	}
	log.Info("📋 Starting to register agent %s for session %s", session.AgentID, session.ID)

	s.sessionsMutex.Lock()
	s.sessions[session.AgentID] = session.ID
	s.sessionsMutex.Unlock()

	publishCtx, cancel := s.publishContext(ctx)
	record, previous, err := s.registry.Register(publishCtx, session.AgentID, session.Metadata)
	cancel()
	s.handleRelayError(ctx, "register", err)

	reason := models.StatusReasonInitialConnection
	s.records.RecordConnectionStatus(record.AgentID, models.AgentStatusOnline, record.Metadata, &reason)

	message := fmt.Sprintf("Agent %s connected", record.AgentID)
	alert := alerts.AgentAlert(models.AlertTypeAgentConnected, models.AlertSeverityInfo,
		record.AgentID, record.Metadata, message)
	if prev, ok := previous.Get(); ok && prev.Status == models.AgentStatusOffline {
		alert.Message = fmt.Sprintf("Agent %s reconnected", record.AgentID)
		alert.Metadata.AdditionalInfo = s.downtimeSummary(ctx, record.AgentID)
	}

	s.raise(ctx, "register", func(ctx context.Context) error {
		return s.dispatcher.Raise(ctx, alert, mo.Some(alerts.SuppressionKey(record.AgentID, models.AlertTypeAgentConnected)))
	})

	log.Info("📋 Completed successfully - registered agent %s", record.AgentID)
	return nil
}

// DeregisterAgent handles the end of an agent session. Sessions that were
// superseded by a newer connection of the same agent are ignored.
func (s *CoreUseCase) DeregisterAgent(
	ctx context.Context,
	session *clients.Session,
	reason models.StatusReason,
) error {
	log.Info("📋 Starting to deregister agent %s for session %s (reason: %s)", session.AgentID, session.ID, reason)

	s.sessionsMutex.Lock()
	current, ok := s.sessions[session.AgentID]
	if !ok || current != session.ID {
		s.sessionsMutex.Unlock()
		log.Info("📋 Completed successfully - session %s no longer owns agent %s", session.ID, session.AgentID)
		return nil
	}
	delete(s.sessions, session.AgentID)
	s.sessionsMutex.Unlock()

	s.livenessMutex.Lock()
	delete(s.relayedAt, session.AgentID)
	s.livenessMutex.Unlock()

	publishCtx, cancel := s.publishContext(ctx)
	changed, err := s.registry.MarkOffline(publishCtx, session.AgentID, reason)
	cancel()
	s.handleRelayError(ctx, "deregister", err)
	if !changed {
		log.Info("📋 Completed successfully - agent %s was already offline", session.AgentID)
		return nil
	}

	record := s.registry.Get(session.AgentID).MustGet()
	s.records.RecordConnectionStatus(record.AgentID, models.AgentStatusOffline, record.Metadata, &reason)

	var alert models.Alert
	var key string
	if reason == models.StatusReasonClientDisconnected {
		alert = alerts.AgentAlert(models.AlertTypeAgentDisconnected, models.AlertSeverityInfo, record.AgentID,
			record.Metadata, fmt.Sprintf("Agent %s disconnected", record.AgentID))
		key = alerts.SuppressionKey(record.AgentID, models.AlertTypeAgentDisconnected)
	} else {
		alert = alerts.AgentAlert(models.AlertTypeConnectionLost, models.AlertSeverityWarning, record.AgentID,
			record.Metadata, fmt.Sprintf("Lost connection to agent %s (%s)", record.AgentID, reason))
		key = alerts.SuppressionKey(record.AgentID, models.AlertTypeConnectionLost)
	}

	s.raise(ctx, "deregister", func(ctx context.Context) error {
		return s.dispatcher.Raise(ctx, alert, mo.Some(key))
	})

	log.Info("📋 Completed successfully - deregistered agent %s", record.AgentID)
	return nil
}

// ProcessHeartbeat refreshes liveness and acknowledges the heartbeat
func (s *CoreUseCase) ProcessHeartbeat(
	ctx context.Context,
	session *clients.Session,
	payload models.HeartbeatPayload,
) error {
	if !s.registry.Touch(session.AgentID, payload.Metadata, nil) {
		return fmt.Errorf("heartbeat from unregistered agent %s: %w", session.AgentID, core.ErrNotFound)
	}
	log.Debug("💓 Heartbeat from agent %s", session.AgentID)
	s.relayLiveness(ctx, session.AgentID)

	if s.messenger == nil {
		return nil
	}
	ack := models.HeartbeatAckPayload{Timestamp: s.now().UTC()}
	if err := s.messenger.SendToAgent(session.AgentID, models.EventHeartbeatAck, ack); err != nil {
		return fmt.Errorf("failed to acknowledge heartbeat from agent %s: %w", session.AgentID, err)
	}
	return nil
}

// ProcessMetrics stores the latest sample, relays it and checks thresholds
func (s *CoreUseCase) ProcessMetrics(
	ctx context.Context,
	session *clients.Session,
	payload models.MetricsPayload,
) error {
	metrics := payload.ToSystemMetrics()
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = s.now().UTC()
	}

	if !s.registry.Touch(session.AgentID, payload.Metadata, &metrics) {
		return fmt.Errorf("metrics from unregistered agent %s: %w", session.AgentID, core.ErrNotFound)
	}
	record := s.registry.Get(session.AgentID).MustGet()
	log.Debug("📊 Metrics from agent %s: cpu %s", session.AgentID, utils.FormatPercent(metrics.CPUUsage))

	seenAt := s.now().UTC()
	publishCtx, cancel := s.publishContext(ctx)
	err := s.publisher.Publish(publishCtx, relay.ChannelSystemMetrics, models.MetricsEvent{
		AgentID:  record.AgentID,
		SeenAt:   seenAt,
		Metrics:  &metrics,
		Metadata: record.Metadata,
	})
	cancel()
	s.handleRelayError(ctx, "metrics", err)
	if err == nil {
		s.markLivenessRelayed(record.AgentID, seenAt)
	}

	s.raise(ctx, "thresholds", func(ctx context.Context) error {
		return s.dispatcher.CheckThresholds(ctx, record.AgentID, record.Metadata, metrics)
	})
	return nil
}

// SendHealthReports raises a periodic report for every live agent with
// metrics, at most once per report interval per agent.
func (s *CoreUseCase) SendHealthReports(ctx context.Context) error {
	log.Info("📋 Starting to send health reports")
	sent := 0

	s.onLoop(func() {
		now := s.now()
		for _, record := range s.registry.ActiveAgents(now, s.config.OfflineThreshold) {
			if record.Metrics == nil || now.Sub(record.LastReportSentAt) < s.config.ReportInterval {
				continue
			}

			alert := alerts.AgentAlert(models.AlertTypeHealthReport, models.AlertSeverityInfo, record.AgentID,
				record.Metadata, healthReportMessage(record.AgentID, *record.Metrics))

			publishCtx, cancel := s.publishContext(ctx)
			err := s.dispatcher.Raise(publishCtx, alert,
				mo.Some(alerts.SuppressionKey(record.AgentID, models.AlertTypeHealthReport)))
			cancel()
			if err != nil {
				s.handleRelayError(ctx, "health report", err)
				continue
			}

			s.registry.MarkReportSent(record.AgentID, now)
			sent++
		}
	})

	log.Info("📋 Completed successfully - sent %d health reports", sent)
	return nil
}

// relayLiveness publishes a last-seen refresh for an online local agent so
// other processes see heartbeat-only agents as alive. At most one refresh is
// sent per liveness relay interval, counting metrics events.
func (s *CoreUseCase) relayLiveness(ctx context.Context, agentID string) {
	record, ok := s.registry.Get(agentID).Get()
	if !ok || record.Status != models.AgentStatusOnline {
		return
	}

	now := s.now().UTC()
	s.livenessMutex.Lock()
	last, relayed := s.relayedAt[agentID]
	s.livenessMutex.Unlock()
	if relayed && now.Sub(last) < s.config.LivenessRelayInterval {
		return
	}

	publishCtx, cancel := s.publishContext(ctx)
	err := s.publisher.Publish(publishCtx, relay.ChannelSystemMetrics, models.MetricsEvent{
		AgentID:  agentID,
		SeenAt:   now,
		Metadata: record.Metadata,
	})
	cancel()
	s.handleRelayError(ctx, "liveness", err)
	if err == nil {
		s.markLivenessRelayed(agentID, now)
	}
}

func (s *CoreUseCase) markLivenessRelayed(agentID string, at time.Time) {
	s.livenessMutex.Lock()
	defer s.livenessMutex.Unlock()
	s.relayedAt[agentID] = at
}

// PruneRecords drops connection history older than the retention period
func (s *CoreUseCase) PruneRecords(ctx context.Context) error {
	if _, err := s.records.PruneRecords(ctx, s.config.RecordRetention); err != nil {
		return fmt.Errorf("failed to prune connection records: %w", err)
	}
	return nil
}

func (s *CoreUseCase) downtimeSummary(ctx context.Context, agentID string) *string {
	stats, err := s.records.GetDowntimeStats(ctx, agentID)
	if err != nil {
		if !core.IsNotFoundError(err) {
			log.Warn("⚠️ Failed to get downtime stats for agent %s: %v", agentID, err)
		}
		return nil
	}
	return utils.Ptr(fmt.Sprintf("Last downtime %s, total downtime %s",
		utils.FormatDuration(stats.LastDowntime), utils.FormatDuration(stats.TotalDowntime)))
}

func healthReportMessage(agentID string, m models.SystemMetrics) string {
	return fmt.Sprintf("Agent %s: CPU %s, memory %s (%s of %s), uptime %s",
		agentID,
		utils.FormatPercent(m.CPUUsage),
		utils.FormatPercent(m.MemoryPercent()),
		utils.FormatBytes(m.MemoryUsage),
		utils.FormatBytes(m.TotalMemory),
		utils.FormatDuration(time.Duration(m.Uptime*float64(time.Second))),
	)
}

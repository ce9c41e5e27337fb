package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/mo"

	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/alerts"
	"connmonitor/services/registry"
	"connmonitor/services/relay"
	"connmonitor/utils"
)

// SweepInputs is the durable state read before a reconcile step.
type SweepInputs struct {
	Durable    []*models.SeenAgent
	DurableErr error
}

type SweepResult struct {
	NewlyOffline  []string
	StillOffline  []string
	OnlineBefore  int
	NoActiveAlert bool
}

// candidate merges everything known about one agent.
type candidate struct {
	agentID  string
	metadata models.Metadata
	lastSeen time.Time
	record   mo.Option[models.AgentRecord]
	// status, reason and changedAt describe the newest known transition.
	status    models.AgentStatus
	reason    *models.StatusReason
	changedAt time.Time
}

// RunLivenessSweep reads durable state off the event loop, then reconciles on
// it. A store failure does not stop the cycle; it is returned after the cycle
// completes so the caller can report it.
func (s *CoreUseCase) RunLivenessSweep(ctx context.Context) error {
	log.Info("📋 Starting liveness sweep")

	inputs := s.FetchSweepInputs(ctx)

	var result SweepResult
	s.onLoop(func() {
		result = s.ReconcileLiveness(ctx, inputs)
	})

	log.Info("📋 Completed liveness sweep - %d newly offline, %d still offline, %d online before sweep",
		len(result.NewlyOffline), len(result.StillOffline), result.OnlineBefore)

	if inputs.DurableErr != nil {
		return fmt.Errorf("liveness sweep ran without durable state: %w", inputs.DurableErr)
	}
	return nil
}

func (s *CoreUseCase) FetchSweepInputs(ctx context.Context) SweepInputs {
	durable, err := s.records.GetRecentlySeenAgents(ctx, s.config.RecentWindow)
	if err != nil {
		log.Error("❌ Failed to read recently seen agents, sweeping in-memory state only: %v", err)
		return SweepInputs{DurableErr: err}
	}
	return SweepInputs{Durable: durable}
}

// ReconcileLiveness decides which agents went silent. It must run on the
// event loop.
func (s *CoreUseCase) ReconcileLiveness(ctx context.Context, inputs SweepInputs) SweepResult {
	now := s.now()
	threshold := s.config.OfflineThreshold
	result := SweepResult{OnlineBefore: s.fleetOnlineCount()}

	for _, c := range s.sweepCandidates(inputs) {
		if rec, ok := c.record.Get(); ok && rec.IsOnline(now, threshold) {
			continue
		}
		if now.Sub(c.lastSeen) <= threshold {
			continue
		}

		switch {
		case c.status == models.AgentStatusOffline && c.reason != nil && *c.reason == models.StatusReasonClientDisconnected:
			s.adoptIfUnknown(ctx, c, *c.reason)
		case c.status == models.AgentStatusOffline:
			reason := models.StatusReasonConnectionLost
			if c.reason != nil {
				reason = *c.reason
			}
			s.adoptIfUnknown(ctx, c, reason)
			result.StillOffline = append(result.StillOffline, c.agentID)
			s.raiseConnectionLost(ctx, c, now)
		default:
			s.markSilentAgentOffline(ctx, c)
			result.NewlyOffline = append(result.NewlyOffline, c.agentID)
			s.raiseConnectionLost(ctx, c, now)
		}
	}

	if result.OnlineBefore == 0 {
		result.NoActiveAlert = true
		s.raise(ctx, "sweep", func(ctx context.Context) error {
			return s.dispatcher.Raise(ctx, models.Alert{
				Type:     models.AlertTypeNoActiveAgents,
				Message:  "No agents are online",
				Severity: models.AlertSeverityWarning,
			}, mo.None[string]())
		})
	}

	return result
}

func (s *CoreUseCase) markSilentAgentOffline(ctx context.Context, c candidate) {
	reason := models.StatusReasonConnectionLost
	publishCtx, cancel := s.publishContext(ctx)
	defer cancel()

	var err error
	rec, known := c.record.Get()
	switch {
	case known && rec.Status == models.AgentStatusOnline:
		_, err = s.registry.MarkOffline(publishCtx, c.agentID, reason)
	case known:
		// Locally offline but online on another process that has gone quiet.
		err = s.publisher.Publish(publishCtx, relay.ChannelConnectionStatus, models.StatusEvent{
			AgentID:   c.agentID,
			Status:    models.AgentStatusOffline,
			Timestamp: s.now().UTC(),
			Metadata:  c.metadata,
			Reason:    &reason,
		})
	default:
		_, err = s.registry.Adopt(publishCtx, c.agentID, c.metadata, c.lastSeen, reason)
	}
	s.handleRelayError(ctx, "sweep", err)

	s.records.RecordConnectionStatus(c.agentID, models.AgentStatusOffline, c.metadata, &reason)
	log.Info("🧹 Agent %s silent since %s, marked offline", c.agentID, c.lastSeen.Format(time.RFC3339))
}

// adoptIfUnknown brings an agent known only from durable or relayed state into
// the local registry without writing a new durable record.
func (s *CoreUseCase) adoptIfUnknown(ctx context.Context, c candidate, reason models.StatusReason) {
	if c.record.IsPresent() {
		return
	}
	publishCtx, cancel := s.publishContext(ctx)
	defer cancel()

	_, err := s.registry.Adopt(publishCtx, c.agentID, c.metadata, c.lastSeen, reason)
	s.handleRelayError(ctx, "sweep", err)
}

func (s *CoreUseCase) raiseConnectionLost(ctx context.Context, c candidate, now time.Time) {
	alert := alerts.AgentAlert(models.AlertTypeConnectionLost, models.AlertSeverityWarning, c.agentID, c.metadata,
		fmt.Sprintf("Agent %s has been silent for %s", c.agentID, utils.FormatDuration(now.Sub(c.lastSeen))))

	s.raise(ctx, "sweep", func(ctx context.Context) error {
		return s.dispatcher.Raise(ctx, alert, mo.Some(alerts.SuppressionKey(c.agentID, models.AlertTypeConnectionLost)))
	})
}

// sweepCandidates merges durable agents, local online agents and agents seen
// on the relay, ordered by agent id.
func (s *CoreUseCase) sweepCandidates(inputs SweepInputs) []candidate {
	byID := make(map[string]*candidate)
	get := func(agentID string) *candidate {
		c, ok := byID[agentID]
		if !ok {
			c = &candidate{agentID: agentID, record: s.registry.Get(agentID)}
			byID[agentID] = c
		}
		return c
	}

	for _, seen := range inputs.Durable {
		c := get(seen.AgentID)
		c.metadata = models.Metadata{ProjectName: seen.ProjectName, Location: seen.Location}
		c.lastSeen = latest(c.lastSeen, seen.LastSeen)
		c.status = seen.LastStatus
		c.reason = seen.LastReason
	}

	for _, rec := range s.registry.Snapshot() {
		if rec.Status == models.AgentStatusOnline {
			get(rec.AgentID)
		}
	}

	for _, entry := range s.fleet.Snapshot() {
		if entry.Status == models.AgentStatusOnline {
			get(entry.AgentID)
		}
	}

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		if entry, ok := s.fleet.Get(c.agentID).Get(); ok {
			applyFleetEntry(c, entry)
		}
		if rec, ok := c.record.Get(); ok {
			applyRecord(c, rec)
		}
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].agentID < out[j].agentID })
	return out
}

func applyFleetEntry(c *candidate, entry registry.FleetEntry) {
	c.lastSeen = latest(c.lastSeen, entry.LastSeen)
	if c.metadata == (models.Metadata{}) {
		c.metadata = entry.Metadata
	}
	if entry.LastStatusChange.After(c.changedAt) {
		c.status = entry.Status
		c.reason = entry.LastReason
		c.changedAt = entry.LastStatusChange
	}
}

func applyRecord(c *candidate, rec models.AgentRecord) {
	c.lastSeen = latest(c.lastSeen, rec.LastHeartbeat)
	c.metadata = rec.Metadata
	if !rec.LastStatusChange.Before(c.changedAt) {
		c.status = rec.Status
		c.reason = rec.LastReason
		c.changedAt = rec.LastStatusChange
	}
}

// fleetOnlineCount counts agents online locally or on any other process.
func (s *CoreUseCase) fleetOnlineCount() int {
	online := make(map[string]bool)
	for _, rec := range s.registry.Snapshot() {
		if rec.Status == models.AgentStatusOnline {
			online[rec.AgentID] = true
		}
	}
	for _, entry := range s.fleet.Snapshot() {
		if entry.Status == models.AgentStatusOnline && !s.registry.Get(entry.AgentID).IsPresent() {
			online[entry.AgentID] = true
		}
	}
	return len(online)
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/mo"

	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/relay"
	"connmonitor/utils"
)

// Registry is the authoritative in-process map of agents whose transport
// sessions this process terminates, plus agents adopted by the liveness sweep.
// Records are never deleted; a long-offline agent stays with status offline.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]models.AgentRecord
	publisher relay.Publisher
	now       func() time.Time
}

// NewRegistry creates a registry that publishes status transitions on
// publisher. now defaults to time.Now when nil.
func NewRegistry(publisher relay.Publisher, now func() time.Time) *Registry {
	utils.AssertInvariant(publisher != nil, "publisher cannot be nil")
	if now == nil {
		now = time.Now
	}
	return &Registry{
		agents:    make(map[string]models.AgentRecord),
		publisher: publisher,
		now:       now,
	}
}

// Register marks an agent online. It is idempotent: a known agent gets its
// metadata overwritten and heartbeat reset while its metrics are kept. The
// previous record, if any, is returned so callers can tell a reconnect from a
// first connect. Exactly one online StatusEvent is published per call; the
// record is updated even when publishing fails.
func (r *Registry) Register(
	ctx context.Context,
	agentID string,
	metadata models.Metadata,
) (models.AgentRecord, mo.Option[models.AgentRecord], error) {
	utils.AssertInvariant(agentID != "", "agentID cannot be empty")
	now := r.now()
	reason := models.StatusReasonInitialConnection

	r.mu.Lock()
	previous, existed := r.agents[agentID]
	record := previous
	record.AgentID = agentID
	record.Status = models.AgentStatusOnline
	record.LastHeartbeat = now
	record.Metadata = metadata
	record.LastReason = &reason
	record.LastStatusChange = now
	r.agents[agentID] = record
	r.mu.Unlock()

	prev := mo.None[models.AgentRecord]()
	if existed {
		prev = mo.Some(previous)
	}

	log.Debug("🔗 Registered agent %s (project: %s, location: %s)", agentID, metadata.ProjectName, metadata.Location)
	if err := r.emit(ctx, record, reason, now); err != nil {
		return record, prev, err
	}
	return record, prev, nil
}

// Touch records a liveness signal. It never changes status and never
// publishes. Unknown agents are ignored and false is returned.
func (r *Registry) Touch(agentID string, metadata *models.Metadata, metrics *models.SystemMetrics) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.agents[agentID]
	if !ok {
		return false
	}

	record.LastHeartbeat = r.now()
	if metadata != nil {
		record.Metadata = *metadata
	}
	if metrics != nil {
		m := *metrics
		record.Metrics = &m
	}
	r.agents[agentID] = record
	return true
}

// MarkOffline transitions an online agent to offline and publishes one
// offline StatusEvent. Calls for unknown or already offline agents are no-ops
// and report false.
func (r *Registry) MarkOffline(ctx context.Context, agentID string, reason models.StatusReason) (bool, error) {
	now := r.now()

	r.mu.Lock()
	record, ok := r.agents[agentID]
	if !ok || record.Status == models.AgentStatusOffline {
		r.mu.Unlock()
		return false, nil
	}
	record.Status = models.AgentStatusOffline
	record.LastReason = &reason
	record.LastStatusChange = now
	r.agents[agentID] = record
	r.mu.Unlock()

	log.Debug("🔌 Marked agent %s offline (reason: %s)", agentID, reason)
	return true, r.emit(ctx, record, reason, now)
}

// Adopt creates an offline record for an agent known only from durable state
// and publishes its offline StatusEvent. Known agents are left untouched.
func (r *Registry) Adopt(
	ctx context.Context,
	agentID string,
	metadata models.Metadata,
	lastSeen time.Time,
	reason models.StatusReason,
) (bool, error) {
	utils.AssertInvariant(agentID != "", "agentID cannot be empty")
	now := r.now()

	r.mu.Lock()
	if _, ok := r.agents[agentID]; ok {
		r.mu.Unlock()
		return false, nil
	}
	record := models.AgentRecord{
		AgentID:          agentID,
		Status:           models.AgentStatusOffline,
		LastHeartbeat:    lastSeen,
		Metadata:         metadata,
		LastReason:       &reason,
		LastStatusChange: now,
	}
	r.agents[agentID] = record
	r.mu.Unlock()

	log.Debug("🔎 Adopted agent %s as offline (last seen %s)", agentID, lastSeen.Format(time.RFC3339))
	return true, r.emit(ctx, record, reason, now)
}

func (r *Registry) Get(agentID string) mo.Option[models.AgentRecord] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.agents[agentID]
	if !ok {
		return mo.None[models.AgentRecord]()
	}
	return mo.Some(record)
}

// Snapshot returns every record ordered by agent id.
func (r *Registry) Snapshot() []models.AgentRecord {
	r.mu.RLock()
	out := make([]models.AgentRecord, 0, len(r.agents))
	for _, record := range r.agents {
		out = append(out, record)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ActiveAgents returns online agents heard from within threshold of now.
func (r *Registry) ActiveAgents(now time.Time, threshold time.Duration) []models.AgentRecord {
	var out []models.AgentRecord
	for _, record := range r.Snapshot() {
		if record.IsOnline(now, threshold) {
			out = append(out, record)
		}
	}
	return out
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, record := range r.agents {
		if record.Status == models.AgentStatusOnline {
			count++
		}
	}
	return count
}

func (r *Registry) MarkReportSent(agentID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.agents[agentID]
	if !ok {
		return false
	}
	record.LastReportSentAt = at
	r.agents[agentID] = record
	return true
}

func (r *Registry) emit(ctx context.Context, record models.AgentRecord, reason models.StatusReason, at time.Time) error {
	event := models.StatusEvent{
		AgentID:   record.AgentID,
		Status:    record.Status,
		Timestamp: at.UTC(),
		Metadata:  record.Metadata,
		Reason:    &reason,
	}
	if err := r.publisher.Publish(ctx, relay.ChannelConnectionStatus, event); err != nil {
		return fmt.Errorf("failed to publish %s status for agent %s: %w", record.Status, record.AgentID, err)
	}
	return nil
}

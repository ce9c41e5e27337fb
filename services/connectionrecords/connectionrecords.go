package connectionrecords

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gammazero/workerpool"

	"connmonitor/core"
	"connmonitor/core/log"
	"connmonitor/db"
	"connmonitor/models"
	"connmonitor/utils"
)

const writeTimeout = 10 * time.Second

// ConnectionRecordsService is the durable fact store for status transitions.
// Writes are queued on a single worker so each agent's transitions land in
// order; callers never wait for them.
type ConnectionRecordsService struct {
	repo *db.ConnectionRecordsRepository
	pool *workerpool.WorkerPool
	now  func() time.Time
}

func NewConnectionRecordsService(repo *db.ConnectionRecordsRepository, now func() time.Time) *ConnectionRecordsService {
	utils.AssertInvariant(repo != nil, "repo cannot be nil")
	if now == nil {
		now = time.Now
	}
	return &ConnectionRecordsService{
		repo: repo,
		pool: workerpool.New(1),
		now:  now,
	}
}

// RecordConnectionStatus queues a status transition for persistence.
// Failures are logged and dropped.
func (s *ConnectionRecordsService) RecordConnectionStatus(
	agentID string,
	status models.AgentStatus,
	metadata models.Metadata,
	reason *models.StatusReason,
) {
	record, err := s.buildRecord(agentID, status, metadata, reason)
	if err != nil {
		log.Error("❌ Failed to build connection record for agent %s: %v", agentID, err)
		return
	}

	s.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := s.repo.InsertRecord(ctx, record); err != nil {
			log.Error("❌ Failed to record %s status for agent %s: %v", status, agentID, err)
			return
		}
		log.Debug("💾 Recorded %s status for agent %s", status, agentID)
	})
}

// GetRecentlySeenAgents returns one entry per agent with records inside window.
// LastSeen is the time of the agent's latest online record in the window, or
// of its latest record when it has no online record there.
func (s *ConnectionRecordsService) GetRecentlySeenAgents(
	ctx context.Context,
	window time.Duration,
) ([]*models.SeenAgent, error) {
	log.Debug("📋 Starting to get agents seen in the last %s", window)
	records, err := s.repo.GetRecordsSince(ctx, s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to get recently seen agents: %w", err)
	}

	var agents []*models.SeenAgent
	byID := make(map[string]*models.SeenAgent)
	lastOnline := make(map[string]time.Time)
	for _, record := range records {
		agent, ok := byID[record.AgentID]
		if !ok {
			agent = &models.SeenAgent{AgentID: record.AgentID}
			byID[record.AgentID] = agent
			agents = append(agents, agent)
		}
		agent.ProjectName = record.ProjectName
		agent.Location = record.Location
		agent.LastStatus = record.Status
		agent.LastReason = toReason(record.Reason)
		agent.LastSeen = record.CreatedAt
		if record.Status == models.AgentStatusOnline {
			lastOnline[record.AgentID] = record.CreatedAt
		}
	}
	for _, agent := range agents {
		if t, ok := lastOnline[agent.AgentID]; ok {
			agent.LastSeen = t
		}
	}

	log.Debug("📋 Completed successfully - found %d recently seen agents", len(agents))
	return agents, nil
}

// GetDowntimeStats sums offline periods from the agent's history. An outage
// that has not ended yet counts up to now.
func (s *ConnectionRecordsService) GetDowntimeStats(ctx context.Context, agentID string) (*models.DowntimeStats, error) {
	records, err := s.repo.GetRecordsByAgentID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get downtime stats: %w", err)
	}
	if len(records) == 0 {
		return nil, core.ErrNotFound
	}

	stats := &models.DowntimeStats{AgentID: agentID}
	var offlineSince *time.Time
	for _, record := range records {
		switch record.Status {
		case models.AgentStatusOffline:
			if offlineSince == nil {
				t := record.CreatedAt
				offlineSince = &t
			}
		case models.AgentStatusOnline:
			if offlineSince != nil {
				d := record.CreatedAt.Sub(*offlineSince)
				stats.TotalDowntime += d
				stats.LastDowntime = d
				offlineSince = nil
			}
		}
	}
	if offlineSince != nil {
		d := s.now().Sub(*offlineSince)
		stats.TotalDowntime += d
		stats.LastDowntime = d
		stats.Ongoing = true
	}

	return stats, nil
}

// PruneRecords deletes records older than retention.
func (s *ConnectionRecordsService) PruneRecords(ctx context.Context, retention time.Duration) (int64, error) {
	log.Info("📋 Starting to prune connection records older than %s", retention)
	deleted, err := s.repo.DeleteRecordsBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune connection records: %w", err)
	}
	log.Info("📋 Completed successfully - pruned %d connection records", deleted)
	return deleted, nil
}

// Flush blocks until every queued write has been attempted.
func (s *ConnectionRecordsService) Flush() {
	s.pool.SubmitWait(func() {})
}

func (s *ConnectionRecordsService) Close() {
	s.pool.StopWait()
}

func (s *ConnectionRecordsService) buildRecord(
	agentID string,
	status models.AgentStatus,
	metadata models.Metadata,
	reason *models.StatusReason,
) (*models.ConnectionRecord, error) {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var reasonText *string
	if reason != nil {
		reasonText = utils.Ptr(string(*reason))
	}

	return &models.ConnectionRecord{
		ID:          core.NewID("rec"),
		AgentID:     agentID,
		Status:      status,
		ProjectName: metadata.ProjectName,
		Location:    metadata.Location,
		Metadata:    string(metadataJSON),
		Reason:      reasonText,
		CreatedAt:   s.now().UTC(),
	}, nil
}

func toReason(text *string) *models.StatusReason {
	if text == nil {
		return nil
	}
	reason := models.StatusReason(*text)
	return &reason
}

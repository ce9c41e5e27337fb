package services

import (
	"context"
	"time"

	"github.com/samber/mo"

	"connmonitor/models"
)

// ConnectionRecordsService defines the durable record store used by the core
type ConnectionRecordsService interface {
	RecordConnectionStatus(agentID string, status models.AgentStatus, metadata models.Metadata, reason *models.StatusReason)
	GetRecentlySeenAgents(ctx context.Context, window time.Duration) ([]*models.SeenAgent, error)
	GetDowntimeStats(ctx context.Context, agentID string) (*models.DowntimeStats, error)
	PruneRecords(ctx context.Context, retention time.Duration) (int64, error)
}

// AlertDispatcher defines the deduplicating alert path
type AlertDispatcher interface {
	Raise(ctx context.Context, alert models.Alert, suppressionKey mo.Option[string]) error
	RaiseDegraded(ctx context.Context, cause error)
	CheckThresholds(ctx context.Context, agentID string, metadata models.Metadata, metrics models.SystemMetrics) error
	Close(ctx context.Context) error
}

// MetricsCollector samples local resource usage
type MetricsCollector interface {
	Collect(ctx context.Context) (models.SystemMetrics, error)
}

package services

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"connmonitor/models"
)

// MockConnectionRecordsService is a mock implementation of ConnectionRecordsService
type MockConnectionRecordsService struct {
	mock.Mock
}

func (m *MockConnectionRecordsService) RecordConnectionStatus(
	agentID string,
	status models.AgentStatus,
	metadata models.Metadata,
	reason *models.StatusReason,
) {
	m.Called(agentID, status, metadata, reason)
}

func (m *MockConnectionRecordsService) GetRecentlySeenAgents(
	ctx context.Context,
	window time.Duration,
) ([]*models.SeenAgent, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SeenAgent), args.Error(1)
}

func (m *MockConnectionRecordsService) GetDowntimeStats(ctx context.Context, agentID string) (*models.DowntimeStats, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DowntimeStats), args.Error(1)
}

func (m *MockConnectionRecordsService) PruneRecords(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

// MockAlertDispatcher is a mock implementation of AlertDispatcher
type MockAlertDispatcher struct {
	mock.Mock
}

func (m *MockAlertDispatcher) Raise(ctx context.Context, alert models.Alert, suppressionKey mo.Option[string]) error {
	args := m.Called(ctx, alert, suppressionKey)
	return args.Error(0)
}

func (m *MockAlertDispatcher) RaiseDegraded(ctx context.Context, cause error) {
	m.Called(ctx, cause)
}

func (m *MockAlertDispatcher) CheckThresholds(
	ctx context.Context,
	agentID string,
	metadata models.Metadata,
	metrics models.SystemMetrics,
) error {
	args := m.Called(ctx, agentID, metadata, metrics)
	return args.Error(0)
}

func (m *MockAlertDispatcher) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockMetricsCollector is a mock implementation of MetricsCollector
type MockMetricsCollector struct {
	mock.Mock
}

func (m *MockMetricsCollector) Collect(ctx context.Context) (models.SystemMetrics, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.SystemMetrics), args.Error(1)
}

package core

import (
	"context"
	"fmt"

	"connmonitor/models"
	"connmonitor/services/registry"
)

type HealthStatus struct {
	Status         string `json:"status"`
	Origin         string `json:"origin"`
	RelayConnected bool   `json:"relayConnected"`
	OnlineAgents   int    `json:"onlineAgents"`
	FleetOnline    int    `json:"fleetOnline"`
}

func (s *CoreUseCase) Health() HealthStatus {
	status := HealthStatus{
		Status:         "ok",
		Origin:         s.config.Origin,
		RelayConnected: s.publisher.Connected(),
		OnlineAgents:   s.registry.OnlineCount(),
		FleetOnline:    s.fleetOnlineCount(),
	}
	if !status.RelayConnected {
		status.Status = "degraded"
	}
	return status
}

// ListAgents returns the agents known to this process.
func (s *CoreUseCase) ListAgents() []models.AgentRecord {
	return s.registry.Snapshot()
}

// ListFleet returns the fleet as observed on the relay bus.
func (s *CoreUseCase) ListFleet() []registry.FleetEntry {
	return s.fleet.Snapshot()
}

func (s *CoreUseCase) GetDowntimeStats(ctx context.Context, agentID string) (*models.DowntimeStats, error) {
	stats, err := s.records.GetDowntimeStats(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get downtime stats for agent %s: %w", agentID, err)
	}
	return stats, nil
}

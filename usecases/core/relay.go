package core

import (
	"connmonitor/core/log"
	"connmonitor/models"
)

// ApplyRelayedStatus folds a status event from any process into the fleet view.
func (s *CoreUseCase) ApplyRelayedStatus(origin string, ev models.StatusEvent) bool {
	applied := s.fleet.ApplyStatus(origin, ev)
	if !applied {
		log.Debug("🔁 Ignored stale or duplicate %s status for agent %s from %s", ev.Status, ev.AgentID, origin)
	}
	return applied
}

func (s *CoreUseCase) ApplyRelayedMetrics(ev models.MetricsEvent) bool {
	return s.fleet.ApplyMetrics(ev)
}

// DeliverAlertToAgent forwards a relayed alert to the agent it concerns when
// that agent's session lives in this process.
func (s *CoreUseCase) DeliverAlertToAgent(alert models.Alert) bool {
	if s.messenger == nil || alert.Metadata.ClientID == nil {
		return false
	}
	agentID := *alert.Metadata.ClientID

	s.sessionsMutex.Lock()
	_, local := s.sessions[agentID]
	s.sessionsMutex.Unlock()
	if !local {
		return false
	}

	if err := s.messenger.SendToAgent(agentID, models.EventAlert, alert); err != nil {
		log.Warn("⚠️ Failed to deliver %s alert to agent %s: %v", alert.Type, agentID, err)
		return false
	}
	return true
}

package core

import (
	"context"
	"fmt"

	"github.com/samber/mo"

	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/utils"
)

// BeginShutdown captures the connected agent count before sessions are torn
// down, so the shutdown alert reports the fleet as it was.
func (s *CoreUseCase) BeginShutdown() {
	online := s.registry.OnlineCount()
	s.shutdownMutex.Lock()
	defer s.shutdownMutex.Unlock()
	if s.onlineAtShutdown.IsAbsent() {
		s.onlineAtShutdown = mo.Some(online)
	}
}

// AnnounceShutdown sends the final best-effort alert and waits for pending
// sink deliveries until ctx expires.
func (s *CoreUseCase) AnnounceShutdown(ctx context.Context) error {
	log.Info("📋 Starting to announce shutdown")

	s.shutdownMutex.Lock()
	online := s.onlineAtShutdown.OrElse(s.registry.OnlineCount())
	s.shutdownMutex.Unlock()

	alert := models.Alert{
		Type:     models.AlertTypeSystemShuttingDown,
		Message:  fmt.Sprintf("Server %s is shutting down with %d connected agents", s.config.Origin, online),
		Severity: models.AlertSeverityWarning,
		Metadata: models.AlertMetadata{Component: utils.Ptr("server")},
	}
	if err := s.dispatcher.Raise(ctx, alert, mo.None[string]()); err != nil {
		log.Warn("⚠️ Shutdown alert was not relayed: %v", err)
	}

	if err := s.dispatcher.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush pending alerts: %w", err)
	}

	log.Info("📋 Completed successfully - shutdown announced")
	return nil
}

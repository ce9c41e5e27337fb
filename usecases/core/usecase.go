package core

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/samber/mo"

	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/services"
	"connmonitor/services/registry"
	"connmonitor/services/relay"
	"connmonitor/utils"
)

type Config struct {
	// Origin identifies this process on the relay bus.
	Origin           string
	OfflineThreshold time.Duration
	RecentWindow     time.Duration
	ReportInterval   time.Duration
	RecordRetention  time.Duration
	PublishTimeout   time.Duration
	// LivenessRelayInterval throttles the last-seen refresh relayed for
	// heartbeat traffic. Defaults to half the offline threshold.
	LivenessRelayInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		OfflineThreshold: 5 * time.Minute,
		RecentWindow:     24 * time.Hour,
		ReportInterval:   5 * time.Minute,
		RecordRetention:  30 * 24 * time.Hour,
		PublishTimeout:   5 * time.Second,
	}
}

type CoreUseCase struct {
	registry   *registry.Registry
	fleet      *registry.FleetView
	publisher  relay.Publisher
	records    services.ConnectionRecordsService
	dispatcher services.AlertDispatcher
	messenger  clients.AgentMessenger
	loop       *workerpool.WorkerPool
	config     Config
	now        func() time.Time

	sessionsMutex sync.Mutex
	// sessions maps an agent id to the session that currently owns it.
	sessions map[string]string

	livenessMutex sync.Mutex
	// relayedAt holds when each local agent's liveness was last relayed.
	relayedAt map[string]time.Time

	shutdownMutex    sync.Mutex
	onlineAtShutdown mo.Option[int]
}

func NewCoreUseCase(
	reg *registry.Registry,
	fleet *registry.FleetView,
	publisher relay.Publisher,
	records services.ConnectionRecordsService,
	dispatcher services.AlertDispatcher,
	messenger clients.AgentMessenger,
	loop *workerpool.WorkerPool,
	config Config,
	now func() time.Time,
) *CoreUseCase {
	utils.AssertInvariant(reg != nil && fleet != nil, "registry and fleet view are required")
	utils.AssertInvariant(publisher != nil && records != nil && dispatcher != nil, "collaborators are required")
	utils.AssertInvariant(config.OfflineThreshold > 0, "offline threshold must be positive")
	if now == nil {
		now = time.Now
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	if config.LivenessRelayInterval <= 0 {
		config.LivenessRelayInterval = config.OfflineThreshold / 2
	}

	return &CoreUseCase{
		registry:   reg,
		fleet:      fleet,
		publisher:  publisher,
		records:    records,
		dispatcher: dispatcher,
		messenger:  messenger,
		loop:       loop,
		config:     config,
		now:        now,
		sessions:   make(map[string]string),
		relayedAt:  make(map[string]time.Time),
	}
}

// onLoop runs task on the event loop and waits for it. Without a loop the
// task runs inline.
func (s *CoreUseCase) onLoop(task func()) {
	if s.loop == nil {
		task()
		return
	}
	s.loop.SubmitWait(task)
}

func (s *CoreUseCase) publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.PublishTimeout)
}

// handleRelayError logs a relay failure and raises the degraded alert. The
// failed publish is not retried.
func (s *CoreUseCase) handleRelayError(ctx context.Context, operation string, err error) {
	if err == nil {
		return
	}
	log.Error("❌ Relay failure during %s: %v", operation, err)
	s.dispatcher.RaiseDegraded(ctx, err)
}

// raise runs a dispatcher call with the publish timeout. The dispatcher only
// fails when the relay does.
func (s *CoreUseCase) raise(ctx context.Context, operation string, raiseFn func(ctx context.Context) error) {
	ctx, cancel := s.publishContext(ctx)
	defer cancel()

	s.handleRelayError(ctx, operation, raiseFn(ctx))
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"connmonitor/clients"
	discordclient "connmonitor/clients/discord"
	slackclient "connmonitor/clients/slack"
	"connmonitor/clients/socketio"
	"connmonitor/config"
	"connmonitor/core"
	"connmonitor/core/log"
	"connmonitor/db"
	"connmonitor/handlers"
	"connmonitor/middleware"
	"connmonitor/models"
	"connmonitor/services/alerts"
	"connmonitor/services/connectionrecords"
	"connmonitor/services/registry"
	"connmonitor/services/relay"
	corecase "connmonitor/usecases/core"
)

func main() {
	if err := run(); err != nil {
		log.Error("❌ Fatal error: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)
	log.SetFormat(cfg.LogFormat)
	defer log.Sync()

	origin := core.NewID("proc")
	log.Info("📋 Starting connmonitor server %s (env: %s, relay: %s)", origin, cfg.Environment, cfg.Relay)

	// Initialize database connection
	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := db.EnsureSchema(context.Background(), dbConn, cfg.DatabaseSchema); err != nil {
		return err
	}

	recordsRepo := db.NewConnectionRecordsRepository(dbConn, cfg.DatabaseSchema)
	recordsService := connectionrecords.NewConnectionRecordsService(recordsRepo, time.Now)
	defer recordsService.Close()

	bus, err := newRelayBus(cfg, db.IsPostgres(dbConn), func() (relay.Bus, error) {
		return relay.NewPostgresBus(context.Background(), dbConn, cfg.DatabaseURL, origin)
	}, origin)
	if err != nil {
		return err
	}

	sink, err := newNotificationSink(cfg)
	if err != nil {
		return err
	}

	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.ErrorAlertConfig{
		Environment: cfg.Environment,
		AppName:     "connmonitor",
	}, sink)

	agentRegistry := registry.NewRegistry(bus, time.Now)
	fleet := registry.NewFleetView()
	dispatcher := alerts.NewDispatcher(bus, sink, alerts.Config{
		SuppressionWindow: cfg.Alerts.SuppressionWindow,
		CPUThreshold:      cfg.Alerts.CPUThreshold,
		MemoryThreshold:   cfg.Alerts.MemoryThreshold,
	}, time.Now)

	// A single worker serializes every registry mutation
	loop := workerpool.New(1)
	defer loop.StopWait()

	sessions := socketio.NewSessionServer()

	useCaseConfig := corecase.DefaultConfig()
	useCaseConfig.Origin = origin
	useCaseConfig.OfflineThreshold = cfg.Liveness.OfflineThreshold
	useCaseConfig.RecentWindow = cfg.Liveness.RecentWindow
	useCaseConfig.ReportInterval = cfg.Liveness.ReportInterval
	useCaseConfig.RecordRetention = cfg.Liveness.RecordRetention

	coreUseCase := corecase.NewCoreUseCase(
		agentRegistry,
		fleet,
		bus,
		recordsService,
		dispatcher,
		sessions,
		loop,
		useCaseConfig,
		time.Now,
	)

	messagesHandler := handlers.NewMessagesHandler(coreUseCase, loop)
	relayHandler := handlers.NewRelayHandler(coreUseCase, sessions)
	dashboardHTTPHandler := handlers.NewDashboardHTTPHandler(coreUseCase)

	sessions.RegisterConnectionHook(alertMiddleware.WrapConnectionHook(messagesHandler.HandleConnection))
	sessions.RegisterDisconnectionHook(alertMiddleware.WrapDisconnectionHook(messagesHandler.HandleDisconnection))
	sessions.RegisterEventHandler(
		models.EventHeartbeat,
		alertMiddleware.WrapEventHandler(models.EventHeartbeat, messagesHandler.HandleHeartbeat),
	)
	sessions.RegisterEventHandler(
		models.EventMetrics,
		alertMiddleware.WrapEventHandler(models.EventMetrics, messagesHandler.HandleMetrics),
	)

	subscription, err := relayHandler.Subscribe(bus)
	if err != nil {
		return fmt.Errorf("failed to subscribe to relay bus: %w", err)
	}

	router := mux.NewRouter()
	sessions.RegisterWithRouter(router)
	dashboardHTTPHandler.SetupEndpoints(router)

	stopTickers := startBackgroundTasks(cfg, coreUseCase, alertMiddleware)

	// Setup CORS middleware
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, o := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(o)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server, shutdownSequence(
		stopTickers,
		sessions,
		coreUseCase,
		cfg.Alerts.ShutdownAlertTimeout,
		subscription,
		bus,
	))
}

type shutdownAnnouncer interface {
	BeginShutdown()
	AnnounceShutdown(ctx context.Context) error
}

// shutdownSequence closes agent sessions while the dispatcher and relay bus
// are still up, since disconnect hooks publish offline status through them.
func shutdownSequence(
	stopTickers func(),
	sessions clients.SessionServer,
	announcer shutdownAnnouncer,
	announceTimeout time.Duration,
	subscription relay.Subscription,
	bus relay.Bus,
) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			stopTickers()
			announcer.BeginShutdown()
			sessions.Close()

			ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
			defer cancel()
			if err := announcer.AnnounceShutdown(ctx); err != nil {
				log.Error("❌ Failed to announce shutdown: %v", err)
			}

			subscription.Unsubscribe()
			if err := bus.Close(); err != nil {
				log.Error("❌ Failed to close relay bus: %v", err)
			}
		})
	}
}

func newRelayBus(cfg *config.AppConfig, isPostgres bool, newPostgres func() (relay.Bus, error), origin string) (relay.Bus, error) {
	switch cfg.Relay {
	case config.RelayPostgres:
		if !isPostgres {
			return nil, fmt.Errorf("RELAY=postgres requires a postgres DB_URL")
		}
		bus, err := newPostgres()
		if err != nil {
			return nil, fmt.Errorf("failed to start postgres relay bus: %w", err)
		}
		log.Info("📡 Relay bus: postgres LISTEN/NOTIFY")
		return bus, nil
	default:
		log.Info("📡 Relay bus: in-process memory")
		return relay.NewMemoryBus(origin), nil
	}
}

// newNotificationSink fans alerts out to every configured chat sink. The log
// sink is always present.
func newNotificationSink(cfg *config.AppConfig) (clients.NotificationSink, error) {
	var sinks []clients.NotificationSink

	if cfg.SlackConfig.IsConfigured() {
		sinks = append(sinks, slackclient.NewAlertSink(cfg.SlackConfig.AlertWebhookURL, cfg.Environment, nil))
		log.Info("🔔 Slack alert sink enabled")
	}

	if cfg.DiscordConfig.IsConfigured() {
		discordSink, err := discordclient.NewAlertSink(cfg.DiscordConfig.BotToken, cfg.DiscordConfig.AlertChannelID)
		if err != nil {
			return nil, fmt.Errorf("failed to create discord alert sink: %w", err)
		}
		sinks = append(sinks, discordSink)
		log.Info("🔔 Discord alert sink enabled")
	}

	sinks = append(sinks, clients.NewLogSink())
	return clients.NewMultiSink(sinks...), nil
}

func startBackgroundTasks(
	cfg *config.AppConfig,
	coreUseCase *corecase.CoreUseCase,
	alertMiddleware *middleware.ErrorAlertMiddleware,
) func() {
	done := make(chan struct{})

	runEvery := func(interval time.Duration, name string, task func(ctx context.Context) error) {
		ticker := time.NewTicker(interval)
		wrapped := alertMiddleware.WrapBackgroundTask(name, func() error {
			return task(context.Background())
		})
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					_ = wrapped()
				}
			}
		}()
	}

	runEvery(cfg.Liveness.SweepInterval, "RunLivenessSweep", coreUseCase.RunLivenessSweep)
	runEvery(cfg.Liveness.ReportInterval, "SendHealthReports", coreUseCase.SendHealthReports)
	runEvery(time.Hour, "PruneRecords", coreUseCase.PruneRecords)

	return func() { close(done) }
}

func handleGracefulShutdown(server *http.Server, beforeStop func()) error {
	// Channel to listen for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
		log.Info("🛑 Shutdown signal received, cleaning up...")
	case err := <-serverErr:
		log.Error("❌ Server error: %v", err)
		beforeStop()
		return err
	}

	beforeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("❌ Server shutdown error: %v", err)
		return err
	}

	log.Info("✅ Server stopped gracefully")
	return nil
}

package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"connmonitor/clients"
	"connmonitor/models"
	"connmonitor/services"
	"connmonitor/services/alerts"
	"connmonitor/services/registry"
	"connmonitor/services/relay"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type publishedEvent struct {
	channel relay.Channel
	event   any
}

// recordingPublisher captures publishes synchronously.
type recordingPublisher struct {
	mu        sync.Mutex
	connected bool
	events    []publishedEvent
	// relayed counts events already handed to a peer by relayTo.
	relayed int
	// failures makes the next publishes fail while the bus stays connected.
	failures int
}

func (p *recordingPublisher) Publish(ctx context.Context, channel relay.Channel, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return relay.ErrNotConnected
	}
	if p.failures > 0 {
		p.failures--
		return errors.New("relay write failed")
	}
	p.events = append(p.events, publishedEvent{channel: channel, event: event})
	return nil
}

func (p *recordingPublisher) failNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *recordingPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *recordingPublisher) setConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

func (p *recordingPublisher) alerts() []models.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Alert
	for _, e := range p.events {
		if e.channel == relay.ChannelAlerts {
			out = append(out, e.event.(models.Alert))
		}
	}
	return out
}

func (p *recordingPublisher) alertsOfType(alertType models.AlertType) []models.Alert {
	var out []models.Alert
	for _, a := range p.alerts() {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func (p *recordingPublisher) statusEvents() []models.StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.StatusEvent
	for _, e := range p.events {
		if e.channel == relay.ChannelConnectionStatus {
			out = append(out, e.event.(models.StatusEvent))
		}
	}
	return out
}

func (p *recordingPublisher) metricsEvents() []models.MetricsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.MetricsEvent
	for _, e := range p.events {
		if e.channel == relay.ChannelSystemMetrics {
			out = append(out, e.event.(models.MetricsEvent))
		}
	}
	return out
}

// relayTo applies every status and metrics event published since the last
// call to peer, the way the relay subscriber of another process would.
func (p *recordingPublisher) relayTo(origin string, peer *CoreUseCase) {
	p.mu.Lock()
	pending := append([]publishedEvent(nil), p.events[p.relayed:]...)
	p.relayed = len(p.events)
	p.mu.Unlock()

	for _, e := range pending {
		switch ev := e.event.(type) {
		case models.StatusEvent:
			peer.ApplyRelayedStatus(origin, ev)
		case models.MetricsEvent:
			peer.ApplyRelayedMetrics(ev)
		}
	}
}

type testEnv struct {
	useCase    *CoreUseCase
	clock      *testClock
	publisher  *recordingPublisher
	registry   *registry.Registry
	dispatcher *alerts.Dispatcher
	fleet      *registry.FleetView
	records    *services.MockConnectionRecordsService
	sink       *clients.MockNotificationSink
	messenger  *clients.MockSessionServer
}

func setupTestUseCase(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	return setupProcess(t, "proc_test", clock)
}

// setupProcess builds one server process; peers share a clock.
func setupProcess(t *testing.T, origin string, clock *testClock) *testEnv {
	t.Helper()

	publisher := &recordingPublisher{connected: true}
	reg := registry.NewRegistry(publisher, clock.Now)
	fleet := registry.NewFleetView()

	records := &services.MockConnectionRecordsService{}
	records.On("RecordConnectionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()

	sink := &clients.MockNotificationSink{}
	sink.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	dispatcher := alerts.NewDispatcher(publisher, sink, alerts.DefaultConfig(), clock.Now)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	messenger := &clients.MockSessionServer{}

	config := DefaultConfig()
	config.Origin = origin
	useCase := NewCoreUseCase(reg, fleet, publisher, records, dispatcher, messenger, nil, config, clock.Now)

	return &testEnv{
		useCase:    useCase,
		clock:      clock,
		publisher:  publisher,
		registry:   reg,
		dispatcher: dispatcher,
		fleet:      fleet,
		records:    records,
		sink:       sink,
		messenger:  messenger,
	}
}

func agentSession(sessionID, agentID string) *clients.Session {
	return &clients.Session{
		ID:       sessionID,
		Role:     clients.SessionRoleAgent,
		AgentID:  agentID,
		Metadata: models.Metadata{ProjectName: "P", Location: "L"},
	}
}

func (e *testEnv) noDurableAgents() {
	e.records.On("GetRecentlySeenAgents", mock.Anything, 24*time.Hour).Return([]*models.SeenAgent{}, nil)
}

func countSeverity(alerts []models.Alert, severity models.AlertSeverity) int {
	n := 0
	for _, a := range alerts {
		if a.Severity == severity {
			n++
		}
	}
	return n
}

package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/samber/mo"

	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/relay"
	"connmonitor/utils"
)

const (
	DefaultSuppressionWindow = 5 * time.Minute
	DefaultCPUThreshold      = 80.0
	DefaultMemoryThreshold   = 90.0

	degradedSuppressionKey = "system_degraded"
	sinkWorkers            = 2
)

type Config struct {
	SuppressionWindow time.Duration
	// CPUThreshold and MemoryThreshold are percentages; alerts fire strictly above them.
	CPUThreshold    float64
	MemoryThreshold float64
	SinkTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		SuppressionWindow: DefaultSuppressionWindow,
		CPUThreshold:      DefaultCPUThreshold,
		MemoryThreshold:   DefaultMemoryThreshold,
		SinkTimeout:       10 * time.Second,
	}
}

// Dispatcher deduplicates alerts, publishes them on the relay bus and hands
// the formatted text to the notification sink.
type Dispatcher struct {
	publisher relay.Publisher
	sink      clients.NotificationSink
	config    Config
	now       func() time.Time

	mu          sync.Mutex
	suppression map[string]time.Time

	poolMu sync.RWMutex
	closed bool
	pool   *workerpool.WorkerPool
	// submit runs sink sends; tests replace it to run them inline.
	submit func(task func())
}

func NewDispatcher(
	publisher relay.Publisher,
	sink clients.NotificationSink,
	config Config,
	now func() time.Time,
) *Dispatcher {
	utils.AssertInvariant(publisher != nil, "publisher cannot be nil")
	utils.AssertInvariant(sink != nil, "sink cannot be nil")
	utils.AssertInvariant(config.SuppressionWindow > 0, "suppression window must be positive")
	if now == nil {
		now = time.Now
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = DefaultConfig().SinkTimeout
	}

	pool := workerpool.New(sinkWorkers)
	return &Dispatcher{
		publisher:   publisher,
		sink:        sink,
		config:      config,
		now:         now,
		suppression: make(map[string]time.Time),
		pool:        pool,
		submit:      pool.Submit,
	}
}

// Raise delivers an alert. A present suppression key younger than the
// suppression window makes the call a silent no-op. When the bus reports
// itself disconnected, relay.ErrNotConnected is returned and nothing else
// happens. Sink failures are logged, never returned.
func (d *Dispatcher) Raise(ctx context.Context, alert models.Alert, suppressionKey mo.Option[string]) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = d.now().UTC()
	}

	key, hasKey := suppressionKey.Get()
	if hasKey && d.isSuppressed(key) {
		log.Debug("🔕 Suppressed %s alert (key: %s)", alert.Type, key)
		return nil
	}

	if !d.publisher.Connected() {
		return relay.ErrNotConnected
	}

	var previous mo.Option[time.Time]
	if hasKey {
		var reserved bool
		previous, reserved = d.reserve(key)
		if !reserved {
			log.Debug("🔕 Suppressed %s alert (key: %s)", alert.Type, key)
			return nil
		}
	}

	message := FormatMessage(alert)

	if err := d.publisher.Publish(ctx, relay.ChannelAlerts, alert); err != nil {
		if hasKey {
			d.restore(key, previous)
		}
		return fmt.Errorf("failed to publish %s alert: %w", alert.Type, err)
	}

	d.send(message, alert.Severity)
	log.Info("📣 Raised %s alert (%s)", alert.Type, alert.Severity)
	return nil
}

// RaiseDegraded reports a relay failure directly to the sink. The bus is
// bypassed because it is the thing that failed.
func (d *Dispatcher) RaiseDegraded(ctx context.Context, cause error) {
	if _, reserved := d.reserve(degradedSuppressionKey); !reserved {
		return
	}

	alert := models.Alert{
		Type:      models.AlertTypeSystemDegraded,
		Message:   "Relay bus is unavailable; events are not reaching other processes",
		Severity:  models.AlertSeverityWarning,
		Timestamp: d.now().UTC(),
		Metadata: models.AlertMetadata{
			Component:      utils.Ptr("relay"),
			AdditionalInfo: utils.Ptr(cause.Error()),
		},
	}
	log.Warn("⚠️ System degraded: %v", cause)
	d.send(FormatMessage(alert), alert.Severity)
}

// CheckThresholds raises high_cpu and high_memory alerts for a metrics sample.
func (d *Dispatcher) CheckThresholds(
	ctx context.Context,
	agentID string,
	metadata models.Metadata,
	metrics models.SystemMetrics,
) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if metrics.CPUUsage > d.config.CPUThreshold {
		record(d.Raise(ctx, models.Alert{
			Type: models.AlertTypeHighCPU,
			Message: fmt.Sprintf("Agent %s CPU usage is %s (threshold %s)",
				agentID, utils.FormatPercent(metrics.CPUUsage), utils.FormatPercent(d.config.CPUThreshold)),
			Severity: models.AlertSeverityWarning,
			Metadata: agentAlertMetadata(agentID, metadata),
		}, mo.Some(SuppressionKey(agentID, models.AlertTypeHighCPU))))
	}

	memPercent := metrics.MemoryPercent()
	if memPercent > d.config.MemoryThreshold {
		record(d.Raise(ctx, models.Alert{
			Type: models.AlertTypeHighMemory,
			Message: fmt.Sprintf("Agent %s memory usage is %s (%s of %s)",
				agentID, utils.FormatPercent(memPercent),
				utils.FormatBytes(metrics.MemoryUsage), utils.FormatBytes(metrics.TotalMemory)),
			Severity: models.AlertSeverityWarning,
			Metadata: agentAlertMetadata(agentID, metadata),
		}, mo.Some(SuppressionKey(agentID, models.AlertTypeHighMemory))))
	}

	return firstErr
}

// Close waits for pending sink sends until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.poolMu.Lock()
	if d.closed {
		d.poolMu.Unlock()
		return nil
	}
	d.closed = true
	d.poolMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.pool.StopWait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for pending alerts: %w", ctx.Err())
	}
}

// SuppressionKey builds the per-agent, per-condition dedup key.
func SuppressionKey(agentID string, alertType models.AlertType) string {
	return agentID + ":" + string(alertType)
}

func agentAlertMetadata(agentID string, metadata models.Metadata) models.AlertMetadata {
	return models.AlertMetadata{
		ProjectName: metadata.ProjectName,
		Location:    metadata.Location,
		ClientID:    utils.Ptr(agentID),
	}
}

// AgentAlert builds an alert about a single agent.
func AgentAlert(
	alertType models.AlertType,
	severity models.AlertSeverity,
	agentID string,
	metadata models.Metadata,
	message string,
) models.Alert {
	return models.Alert{
		Type:     alertType,
		Message:  message,
		Severity: severity,
		Metadata: agentAlertMetadata(agentID, metadata),
	}
}

func (d *Dispatcher) isSuppressed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.suppression[key]
	return ok && d.now().Sub(last) < d.config.SuppressionWindow
}

// reserve stamps key with the current time unless it is still suppressed.
// The previous stamp is returned so a failed publish can undo the reservation.
func (d *Dispatcher) reserve(key string) (mo.Option[time.Time], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	last, ok := d.suppression[key]
	if ok && now.Sub(last) < d.config.SuppressionWindow {
		return mo.None[time.Time](), false
	}
	d.suppression[key] = now
	if ok {
		return mo.Some(last), true
	}
	return mo.None[time.Time](), true
}

func (d *Dispatcher) restore(key string, previous mo.Option[time.Time]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := previous.Get(); ok {
		d.suppression[key] = last
		return
	}
	delete(d.suppression, key)
}

func (d *Dispatcher) send(message string, severity models.AlertSeverity) {
	d.poolMu.RLock()
	defer d.poolMu.RUnlock()
	if d.closed {
		log.Warn("⚠️ Dropping %s alert, dispatcher is closed", severity)
		return
	}

	d.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.SinkTimeout)
		defer cancel()

		if err := d.sink.SendAlert(ctx, message, severity); err != nil {
			log.Error("❌ Failed to deliver alert to notification sink: %v", err)
		}
	})
}

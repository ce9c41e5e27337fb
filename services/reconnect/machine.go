package reconnect

import (
	"fmt"
	"math"
	"sync"
	"time"

	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/utils"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateGaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:   5 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// NextDelay returns min(base * 2^attempt, max).
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := math.Pow(2, float64(attempt))
	if float64(base)*factor >= float64(max) {
		return max
	}
	return time.Duration(float64(base) * factor)
}

// Attempt identifies one dial. Results reported with a stale generation are
// ignored.
type Attempt struct {
	Generation uint64
	Number     int
}

// Dialer starts a connection attempt and reports the outcome through
// Machine.Connected or Machine.Failed with the same generation.
type Dialer interface {
	Dial(attempt Attempt)
}

// Notifier receives the alerts produced by state transitions.
type Notifier interface {
	Notify(alert models.Alert)
}

type action func()

// Machine owns reconnection timing for a single transport session.
type Machine struct {
	config    Config
	scheduler Scheduler
	dialer    Dialer
	notifier  Notifier
	metadata  models.AlertMetadata
	now       func() time.Time

	mu          sync.Mutex
	state       State
	attempt     int
	generation  uint64
	timer       Timer
	transitions int
	stopped     bool
}

func NewMachine(
	config Config,
	scheduler Scheduler,
	dialer Dialer,
	notifier Notifier,
	metadata models.AlertMetadata,
) *Machine {
	utils.AssertInvariant(config.BaseDelay > 0, "base delay must be positive")
	utils.AssertInvariant(config.MaxDelay >= config.BaseDelay, "max delay must be at least base delay")
	utils.AssertInvariant(config.MaxAttempts > 0, "max attempts must be positive")
	utils.AssertInvariant(scheduler != nil && dialer != nil && notifier != nil, "collaborators cannot be nil")

	return &Machine{
		config:    config,
		scheduler: scheduler,
		dialer:    dialer,
		notifier:  notifier,
		metadata:  metadata,
		now:       time.Now,
		state:     StateDisconnected,
	}
}

// State returns the current state and failure count.
func (m *Machine) State() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.attempt
}

// Start performs the first dial.
func (m *Machine) Start() {
	m.Connect()
}

// Connect dials immediately from any state other than connected and resets
// the failure count. It is also the only way out of StateGaveUp.
func (m *Machine) Connect() {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.stopped = false
	m.cancelTimerLocked()
	m.attempt = 0
	actions := m.enterConnectingLocked()
	m.mu.Unlock()

	run(actions)
}

// Connected reports a successful dial.
func (m *Machine) Connected(generation uint64) {
	m.mu.Lock()
	if !m.currentLocked(generation) || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	m.state = StateConnected
	m.attempt = 0
	alert := m.alertLocked(models.AlertTypeConnected, models.AlertSeverityInfo, "Connected to server")
	m.mu.Unlock()

	log.Info("✅ Connected to server")
	m.notifier.Notify(alert)
}

// Failed reports an unsuccessful dial.
func (m *Machine) Failed(generation uint64, err error) {
	m.mu.Lock()
	if !m.currentLocked(generation) || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}

	failures := m.attempt + 1
	if failures >= m.config.MaxAttempts {
		m.state = StateGaveUp
		m.attempt = failures
		m.cancelTimerLocked()
		alert := m.alertLocked(models.AlertTypeReconnectFailed, models.AlertSeverityError,
			fmt.Sprintf("Giving up after %d failed attempts: %v", failures, err))
		m.mu.Unlock()

		log.Error("❌ Reconnection failed after %d attempts, manual intervention required: %v", failures, err)
		m.notifier.Notify(alert)
		return
	}

	log.Warn("⚠️ Connection attempt %d failed: %v", failures, err)
	actions := m.enterDisconnectedLocked(failures)
	m.mu.Unlock()

	run(actions)
}

// Closed reports that an established session ended.
func (m *Machine) Closed(generation uint64) {
	m.mu.Lock()
	if !m.currentLocked(generation) || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	log.Warn("🔌 Connection to server closed")
	actions := m.enterDisconnectedLocked(0)
	m.mu.Unlock()

	run(actions)
}

// Stop cancels pending timers and ignores any further dial results.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	m.generation++
	m.cancelTimerLocked()
	if m.state != StateGaveUp {
		m.state = StateDisconnected
	}
}

func (m *Machine) currentLocked(generation uint64) bool {
	return !m.stopped && generation == m.generation
}

func (m *Machine) enterDisconnectedLocked(attempt int) []action {
	m.state = StateDisconnected
	m.attempt = attempt
	m.generation++
	delay := NextDelay(attempt, m.config.BaseDelay, m.config.MaxDelay)
	generation := m.generation

	m.cancelTimerLocked()
	m.timer = m.scheduler.AfterFunc(delay, func() { m.onTimer(generation) })

	var actions []action
	if m.countTransitionLocked() {
		alert := m.alertLocked(models.AlertTypeReconnecting, models.AlertSeverityWarning,
			fmt.Sprintf("Disconnected, retrying in %s (attempt %d of %d)",
				utils.FormatDuration(delay), attempt+1, m.config.MaxAttempts))
		actions = append(actions, func() { m.notifier.Notify(alert) })
	}
	log.Info("⏳ Scheduling reconnect attempt %d in %s", attempt+1, delay)
	return actions
}

func (m *Machine) enterConnectingLocked() []action {
	m.state = StateConnecting
	m.generation++
	attempt := Attempt{Generation: m.generation, Number: m.attempt + 1}

	var actions []action
	if m.countTransitionLocked() {
		alert := m.alertLocked(models.AlertTypeReconnecting, models.AlertSeverityInfo,
			fmt.Sprintf("Reconnecting (attempt %d of %d)", attempt.Number, m.config.MaxAttempts))
		actions = append(actions, func() { m.notifier.Notify(alert) })
	}
	actions = append(actions, func() { m.dialer.Dial(attempt) })
	return actions
}

func (m *Machine) onTimer(generation uint64) {
	m.mu.Lock()
	if !m.currentLocked(generation) || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	actions := m.enterConnectingLocked()
	m.mu.Unlock()

	run(actions)
}

// countTransitionLocked reports whether this transition should alert. The
// very first transition, the initial dial, is silent.
func (m *Machine) countTransitionLocked() bool {
	m.transitions++
	return m.transitions > 1
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) alertLocked(alertType models.AlertType, severity models.AlertSeverity, message string) models.Alert {
	return models.Alert{
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: m.now().UTC(),
		Metadata:  m.metadata,
	}
}

func run(actions []action) {
	for _, a := range actions {
		a()
	}
}

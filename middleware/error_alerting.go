package middleware

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"sync"
	"time"

	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/alerts"
	"connmonitor/utils"
)

type ErrorAlertConfig struct {
	Environment string
	AppName     string
}

type ErrorAlertMiddleware struct {
	config        ErrorAlertConfig
	sink          clients.NotificationSink
	alertedErrors map[string]time.Time // hash -> last alert time
	mutex         sync.Mutex
	alertCooldown time.Duration
	sendTimeout   time.Duration
	now           func() time.Time
}

func NewErrorAlertMiddleware(config ErrorAlertConfig, sink clients.NotificationSink) *ErrorAlertMiddleware {
	return &ErrorAlertMiddleware{
		config:        config,
		sink:          sink,
		alertedErrors: make(map[string]time.Time),
		alertCooldown: 10 * time.Minute,
		sendTimeout:   10 * time.Second,
		now:           time.Now,
	}
}

// HTTPMiddleware recovers panics from HTTP handlers and reports them
func (m *ErrorAlertMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer m.recoverAndAlert(fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (m *ErrorAlertMiddleware) WrapConnectionHook(hook clients.ConnectionHookFunc) clients.ConnectionHookFunc {
	return func(session *clients.Session) error {
		defer m.recoverAndAlert(fmt.Sprintf("Connection hook for session %s", session.ID))

		if err := hook(session); err != nil {
			m.alertOnError(err, fmt.Sprintf("Connection hook (agent: %s)", session.AgentID))
			return err
		}
		return nil
	}
}

func (m *ErrorAlertMiddleware) WrapDisconnectionHook(hook clients.DisconnectionHookFunc) clients.DisconnectionHookFunc {
	return func(session *clients.Session, reason models.StatusReason) error {
		defer m.recoverAndAlert(fmt.Sprintf("Disconnection hook for session %s", session.ID))

		if err := hook(session, reason); err != nil {
			m.alertOnError(err, fmt.Sprintf("Disconnection hook (agent: %s)", session.AgentID))
			return err
		}
		return nil
	}
}

// WrapEventHandler adapts an error-returning event handler. Handler errors are
// alerted and otherwise dropped since the transport has nobody to return them to.
func (m *ErrorAlertMiddleware) WrapEventHandler(
	event string,
	handler func(session *clients.Session, data any) error,
) clients.EventHandlerFunc {
	return func(session *clients.Session, data any) {
		defer m.recoverAndAlert(fmt.Sprintf("%s event from session %s", event, session.ID))

		if err := handler(session, data); err != nil {
			log.Error("❌ Failed to handle %s event from agent %s: %v", event, session.AgentID, err)
			m.alertOnError(err, fmt.Sprintf("%s event handler", event))
		}
	}
}

func (m *ErrorAlertMiddleware) WrapBackgroundTask(taskName string, task func() error) func() error {
	return func() error {
		defer m.recoverAndAlert(fmt.Sprintf("Background task: %s", taskName))

		if err := task(); err != nil {
			log.Error("❌ Background task %s failed: %v", taskName, err)
			m.alertOnError(err, fmt.Sprintf("Background task: %s", taskName))
			return err
		}
		return nil
	}
}

func (m *ErrorAlertMiddleware) alertOnError(err error, source string) {
	errorMsg := fmt.Sprintf("%s: %v", source, err)
	hash := fmt.Sprintf("%x", md5.Sum([]byte(errorMsg)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if lastAlert, exists := m.alertedErrors[hash]; exists && m.now().Sub(lastAlert) < m.alertCooldown {
		return
	}

	go m.sendAlert(errorMsg, source, models.AlertSeverityWarning)
	m.alertedErrors[hash] = m.now()
}

func (m *ErrorAlertMiddleware) recoverAndAlert(source string) {
	if r := recover(); r != nil {
		errorMsg := fmt.Sprintf("%s: PANIC - %v", source, r)
		log.Error("❌ %s", errorMsg)
		go m.sendAlert(errorMsg, source+" (PANIC)", models.AlertSeverityError)
	}
}

func (m *ErrorAlertMiddleware) sendAlert(errorMsg, source string, severity models.AlertSeverity) {
	if m.sink == nil {
		return
	}

	title := fmt.Sprintf("%s error", m.config.AppName)
	if m.config.Environment == "dev" {
		title = "[dev] " + title
	}
	alert := models.Alert{
		Type:      models.AlertTypeSystemDegraded,
		Message:   title,
		Severity:  severity,
		Timestamp: m.now().UTC(),
		Metadata: models.AlertMetadata{
			Component:      utils.Ptr(source),
			AdditionalInfo: utils.Ptr(errorMsg),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
	defer cancel()
	if err := m.sink.SendAlert(ctx, alerts.FormatMessage(alert), severity); err != nil {
		log.Error("❌ Failed to send error alert: %v", err)
	}
}

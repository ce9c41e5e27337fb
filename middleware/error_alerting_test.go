package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connmonitor/clients"
	"connmonitor/models"
)

type sentAlert struct {
	message  string
	severity models.AlertSeverity
}

type channelSink struct {
	sent chan sentAlert
}

func newChannelSink() *channelSink {
	return &channelSink{sent: make(chan sentAlert, 16)}
}

func (s *channelSink) SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error {
	s.sent <- sentAlert{message: message, severity: severity}
	return nil
}

func (s *channelSink) next(t *testing.T) sentAlert {
	t.Helper()
	select {
	case a := <-s.sent:
		return a
	case <-time.After(time.Second):
		t.Fatal("expected an alert to be sent")
		return sentAlert{}
	}
}

func (s *channelSink) assertNone(t *testing.T) {
	t.Helper()
	select {
	case a := <-s.sent:
		t.Fatalf("unexpected alert: %s", a.message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWrapBackgroundTask(t *testing.T) {
	t.Run("errors are alerted once per cooldown", func(t *testing.T) {
		sink := newChannelSink()
		m := NewErrorAlertMiddleware(ErrorAlertConfig{AppName: "connmonitor", Environment: "prod"}, sink)
		now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }

		task := m.WrapBackgroundTask("LivenessSweep", func() error { return errors.New("db down") })

		require.Error(t, task())
		alert := sink.next(t)
		assert.Equal(t, models.AlertSeverityWarning, alert.severity)
		assert.Contains(t, alert.message, "connmonitor error")
		assert.Contains(t, alert.message, "Background task: LivenessSweep: db down")

		require.Error(t, task())
		sink.assertNone(t)

		now = now.Add(11 * time.Minute)
		require.Error(t, task())
		sink.next(t)
	})

	t.Run("success sends nothing", func(t *testing.T) {
		sink := newChannelSink()
		m := NewErrorAlertMiddleware(ErrorAlertConfig{AppName: "connmonitor"}, sink)

		require.NoError(t, m.WrapBackgroundTask("noop", func() error { return nil })())
		sink.assertNone(t)
	})

	t.Run("panics are recovered and alerted", func(t *testing.T) {
		sink := newChannelSink()
		m := NewErrorAlertMiddleware(ErrorAlertConfig{AppName: "connmonitor", Environment: "dev"}, sink)

		assert.NotPanics(t, func() {
			_ = m.WrapBackgroundTask("boom", func() error { panic("nil map") })()
		})
		alert := sink.next(t)
		assert.Equal(t, models.AlertSeverityError, alert.severity)
		assert.Contains(t, alert.message, "[dev] connmonitor error")
		assert.Contains(t, alert.message, "PANIC - nil map")
	})
}

func TestWrapHooksAndHandlers(t *testing.T) {
	sink := newChannelSink()
	m := NewErrorAlertMiddleware(ErrorAlertConfig{AppName: "connmonitor"}, sink)
	session := &clients.Session{ID: "conn_1", AgentID: "a1"}

	hookErr := errors.New("registry unavailable")
	err := m.WrapConnectionHook(func(*clients.Session) error { return hookErr })(session)
	assert.ErrorIs(t, err, hookErr)
	assert.Contains(t, sink.next(t).message, "Connection hook (agent: a1)")

	var gotReason models.StatusReason
	err = m.WrapDisconnectionHook(func(_ *clients.Session, reason models.StatusReason) error {
		gotReason = reason
		return nil
	})(session, models.StatusReasonHeartbeatTimeout)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReasonHeartbeatTimeout, gotReason)

	handler := m.WrapEventHandler(models.EventMetrics, func(*clients.Session, any) error {
		return errors.New("bad payload")
	})
	handler(session, nil)
	assert.Contains(t, sink.next(t).message, "metrics event handler: bad payload")
}

func TestHTTPMiddleware(t *testing.T) {
	sink := newChannelSink()
	m := NewErrorAlertMiddleware(ErrorAlertConfig{AppName: "connmonitor"}, sink)

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	})
	assert.Contains(t, sink.next(t).message, "HTTP GET /api/agents: PANIC - handler exploded")
}

package agentsocket

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connmonitor/clients/socketio"
	"connmonitor/models"
	"connmonitor/services/reconnect"
)

type channelReporter struct {
	connected chan uint64
	failed    chan error
	closed    chan uint64
}

func newChannelReporter() *channelReporter {
	return &channelReporter{
		connected: make(chan uint64, 4),
		failed:    make(chan error, 4),
		closed:    make(chan uint64, 4),
	}
}

func (r *channelReporter) Connected(generation uint64)         { r.connected <- generation }
func (r *channelReporter) Failed(generation uint64, err error) { r.failed <- err }
func (r *channelReporter) Closed(generation uint64)            { r.closed <- generation }

func startSessionServer(t *testing.T) string {
	t.Helper()
	sessions := socketio.NewSessionServer()
	router := mux.NewRouter()
	sessions.RegisterWithRouter(router)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		sessions.Close()
		server.Close()
	})
	return server.URL
}

func dialConnected(t *testing.T, client *Client, reporter *channelReporter, generation uint64) {
	t.Helper()
	closesWithin(t, func() {
		client.Dial(reconnect.Attempt{Generation: generation, Number: 1})
	}, 5*time.Second)

	select {
	case got := <-reporter.connected:
		require.Equal(t, generation, got)
	case err := <-reporter.failed:
		t.Fatalf("dial failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
	require.True(t, client.IsConnected())
}

func closesWithin(t *testing.T, fn func(), timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("call did not return")
	}
}

func TestClient_LiveSession(t *testing.T) {
	t.Run("close while connected returns and reports nothing", func(t *testing.T) {
		url := startSessionServer(t)
		reporter := newChannelReporter()
		client := NewClient(url, "a1", models.Metadata{ProjectName: "P", Location: "L"})
		client.SetReporter(reporter)

		dialConnected(t, client, reporter, 1)

		closesWithin(t, client.Close, 5*time.Second)
		assert.False(t, client.IsConnected())
		assert.ErrorIs(t, client.Emit(models.EventHeartbeat, models.HeartbeatPayload{}), ErrNotConnected)

		select {
		case generation := <-reporter.closed:
			t.Fatalf("closed reported for generation %d after explicit close", generation)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("redial drops the previous connection", func(t *testing.T) {
		url := startSessionServer(t)
		reporter := newChannelReporter()
		client := NewClient(url, "a1", models.Metadata{ProjectName: "P", Location: "L"})
		client.SetReporter(reporter)

		dialConnected(t, client, reporter, 1)
		dialConnected(t, client, reporter, 2)

		select {
		case generation := <-reporter.closed:
			t.Fatalf("stale close reported for generation %d", generation)
		case <-time.After(100 * time.Millisecond):
		}

		closesWithin(t, client.Close, 5*time.Second)
	})
}

package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"connmonitor/clients"
	"connmonitor/models"
	"connmonitor/services/relay"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func setupDispatcher(t *testing.T) (*Dispatcher, *relay.MockPublisher, *clients.MockNotificationSink, *testClock) {
	t.Helper()
	pub := &relay.MockPublisher{}
	sink := &clients.MockNotificationSink{}
	clock := &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	d := NewDispatcher(pub, sink, DefaultConfig(), clock.Now)
	d.submit = func(task func()) { task() }
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, pub, sink, clock
}

func lostAlert() models.Alert {
	return AgentAlert(models.AlertTypeConnectionLost, models.AlertSeverityWarning, "a1",
		models.Metadata{ProjectName: "P", Location: "L"}, "Agent a1 stopped responding")
}

func TestDispatcherRaise(t *testing.T) {
	ctx := context.Background()
	key := mo.Some(SuppressionKey("a1", models.AlertTypeConnectionLost))

	t.Run("Publishes and forwards formatted message", func(t *testing.T) {
		d, pub, sink, clock := setupDispatcher(t)
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.MatchedBy(func(a models.Alert) bool {
			return a.Type == models.AlertTypeConnectionLost && a.Timestamp.Equal(clock.Now())
		})).Return(nil).Once()
		sink.On("SendAlert", mock.Anything, mock.MatchedBy(func(msg string) bool {
			return assert.Contains(t, msg, "Connection Lost") && assert.Contains(t, msg, "• Agent: a1")
		}), models.AlertSeverityWarning).Return(nil).Once()

		require.NoError(t, d.Raise(ctx, lostAlert(), key))
		pub.AssertExpectations(t)
		sink.AssertExpectations(t)
	})

	t.Run("Suppresses within window and re-alerts after it", func(t *testing.T) {
		d, pub, sink, clock := setupDispatcher(t)
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.Anything).Return(nil)
		sink.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, d.Raise(ctx, lostAlert(), key))
		clock.t = clock.t.Add(4 * time.Minute)
		require.NoError(t, d.Raise(ctx, lostAlert(), key))
		pub.AssertNumberOfCalls(t, "Publish", 1)

		clock.t = clock.t.Add(time.Minute)
		require.NoError(t, d.Raise(ctx, lostAlert(), key))
		pub.AssertNumberOfCalls(t, "Publish", 2)
		sink.AssertNumberOfCalls(t, "SendAlert", 2)
	})

	t.Run("Alerts without key are never suppressed", func(t *testing.T) {
		d, pub, sink, _ := setupDispatcher(t)
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.Anything).Return(nil)
		sink.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		for i := 0; i < 3; i++ {
			require.NoError(t, d.Raise(ctx, lostAlert(), mo.None[string]()))
		}
		pub.AssertNumberOfCalls(t, "Publish", 3)
	})

	t.Run("Disconnected bus has no side effects", func(t *testing.T) {
		d, pub, sink, _ := setupDispatcher(t)
		pub.On("Connected").Return(false).Once()

		err := d.Raise(ctx, lostAlert(), key)
		assert.ErrorIs(t, err, relay.ErrNotConnected)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		sink.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything, mock.Anything)
		assert.False(t, d.isSuppressed(key.MustGet()))

		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.Anything).Return(nil).Once()
		sink.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		require.NoError(t, d.Raise(ctx, lostAlert(), key))
		pub.AssertExpectations(t)
	})

	t.Run("Failed publish restores suppression state", func(t *testing.T) {
		d, pub, sink, _ := setupDispatcher(t)
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.Anything).Return(relay.ErrNotConnected).Once()

		err := d.Raise(ctx, lostAlert(), key)
		assert.ErrorIs(t, err, relay.ErrNotConnected)
		assert.False(t, d.isSuppressed(key.MustGet()))
		sink.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Sink failure is not returned", func(t *testing.T) {
		d, pub, sink, _ := setupDispatcher(t)
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.Anything).Return(nil)
		sink.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("slack down"))

		assert.NoError(t, d.Raise(ctx, lostAlert(), key))
		assert.True(t, d.isSuppressed(key.MustGet()))
	})
}

func TestDispatcherThresholds(t *testing.T) {
	ctx := context.Background()
	meta := models.Metadata{ProjectName: "P", Location: "L"}

	alertOfType := func(alertType models.AlertType) any {
		return mock.MatchedBy(func(a models.Alert) bool { return a.Type == alertType })
	}

	t.Run("Raises CPU and memory alerts above thresholds", func(t *testing.T) {
		d, pub, sink, _ := setupDispatcher(t)
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, alertOfType(models.AlertTypeHighCPU)).Return(nil).Once()
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, alertOfType(models.AlertTypeHighMemory)).Return(nil).Once()
		sink.On("SendAlert", mock.Anything, mock.Anything, models.AlertSeverityWarning).Return(nil)

		metrics := models.SystemMetrics{CPUUsage: 95, MemoryUsage: 95, TotalMemory: 100}
		require.NoError(t, d.CheckThresholds(ctx, "a1", meta, metrics))
		require.NoError(t, d.CheckThresholds(ctx, "a1", meta, metrics))
		pub.AssertExpectations(t)
	})

	t.Run("Values at threshold do not alert", func(t *testing.T) {
		d, pub, _, _ := setupDispatcher(t)

		metrics := models.SystemMetrics{CPUUsage: 80, MemoryUsage: 90, TotalMemory: 100}
		require.NoError(t, d.CheckThresholds(ctx, "a1", meta, metrics))
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Keys are independent per condition and agent", func(t *testing.T) {
		assert.Equal(t, "a1:high_cpu", SuppressionKey("a1", models.AlertTypeHighCPU))
		assert.NotEqual(t, SuppressionKey("a1", models.AlertTypeHighCPU), SuppressionKey("a2", models.AlertTypeHighCPU))
	})
}

func TestDispatcherDegraded(t *testing.T) {
	ctx := context.Background()

	t.Run("Goes to sink only and is rate limited", func(t *testing.T) {
		d, pub, sink, _ := setupDispatcher(t)
		sink.On("SendAlert", mock.Anything, mock.MatchedBy(func(msg string) bool {
			return assert.Contains(t, msg, "System Degraded") && assert.Contains(t, msg, "listener down")
		}), models.AlertSeverityWarning).Return(nil).Once()

		d.RaiseDegraded(ctx, errors.New("listener down"))
		d.RaiseDegraded(ctx, errors.New("listener down"))

		sink.AssertExpectations(t)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDispatcherClose(t *testing.T) {
	t.Run("Drains pending sends", func(t *testing.T) {
		pub := &relay.MockPublisher{}
		sink := &clients.MockNotificationSink{}
		pub.On("Connected").Return(true)
		pub.On("Publish", mock.Anything, relay.ChannelAlerts, mock.Anything).Return(nil)
		sink.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(20 * time.Millisecond) }).Return(nil)

		d := NewDispatcher(pub, sink, DefaultConfig(), nil)
		require.NoError(t, d.Raise(context.Background(), lostAlert(), mo.None[string]()))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, d.Close(ctx))
		sink.AssertNumberOfCalls(t, "SendAlert", 1)
	})
}

func TestFormatMessage(t *testing.T) {
	alert := lostAlert()
	alert.Timestamp = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	msg := FormatMessage(alert)
	assert.Equal(t, "⚠️ *Connection Lost*\n"+
		"Agent a1 stopped responding\n"+
		"• Project: P\n"+
		"• Location: L\n"+
		"• Agent: a1\n"+
		"• Time: 2024-03-01T10:00:00Z", msg)
}

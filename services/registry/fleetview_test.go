package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connmonitor/models"
)

func TestFleetView(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := models.Metadata{ProjectName: "P", Location: "L"}
	lost := models.StatusReasonConnectionLost

	t.Run("Last write wins by event timestamp", func(t *testing.T) {
		v := NewFleetView()

		online := models.StatusEvent{AgentID: "a1", Status: models.AgentStatusOnline, Timestamp: base, Metadata: meta}
		offline := models.StatusEvent{
			AgentID: "a1", Status: models.AgentStatusOffline, Timestamp: base.Add(time.Minute), Metadata: meta, Reason: &lost,
		}

		assert.True(t, v.ApplyStatus("proc_b", offline))
		assert.False(t, v.ApplyStatus("proc_a", online))
		assert.False(t, v.ApplyStatus("proc_b", offline))

		entry := v.Get("a1").MustGet()
		assert.Equal(t, models.AgentStatusOffline, entry.Status)
		assert.Equal(t, "proc_b", entry.Origin)
		require.NotNil(t, entry.LastReason)
		assert.Equal(t, lost, *entry.LastReason)
	})

	t.Run("Online events advance last seen, offline events do not", func(t *testing.T) {
		v := NewFleetView()

		v.ApplyStatus("p", models.StatusEvent{AgentID: "a1", Status: models.AgentStatusOnline, Timestamp: base})
		v.ApplyStatus("p", models.StatusEvent{AgentID: "a1", Status: models.AgentStatusOffline, Timestamp: base.Add(time.Hour)})

		assert.Equal(t, base, v.Get("a1").MustGet().LastSeen)
	})

	t.Run("Metrics refresh last seen for known agents only", func(t *testing.T) {
		v := NewFleetView()

		assert.False(t, v.ApplyMetrics(models.MetricsEvent{AgentID: "ghost"}))

		v.ApplyStatus("p", models.StatusEvent{AgentID: "a1", Status: models.AgentStatusOnline, Timestamp: base})
		later := base.Add(2 * time.Minute)
		assert.True(t, v.ApplyMetrics(models.MetricsEvent{
			AgentID:  "a1",
			Metrics:  &models.SystemMetrics{CPUUsage: 42, Timestamp: later},
			Metadata: meta,
		}))
		assert.False(t, v.ApplyMetrics(models.MetricsEvent{
			AgentID: "a1",
			Metrics: &models.SystemMetrics{CPUUsage: 1, Timestamp: base},
		}))

		entry := v.Get("a1").MustGet()
		assert.Equal(t, later, entry.LastSeen)
		require.NotNil(t, entry.Metrics)
		assert.Equal(t, 42.0, entry.Metrics.CPUUsage)
	})

	t.Run("Liveness refresh moves last seen without touching metrics", func(t *testing.T) {
		v := NewFleetView()
		v.ApplyStatus("p", models.StatusEvent{AgentID: "a1", Status: models.AgentStatusOnline, Timestamp: base})

		refreshed := base.Add(3 * time.Minute)
		assert.True(t, v.ApplyMetrics(models.MetricsEvent{AgentID: "a1", SeenAt: refreshed}))
		assert.False(t, v.ApplyMetrics(models.MetricsEvent{AgentID: "a1", SeenAt: base.Add(time.Minute)}))

		entry := v.Get("a1").MustGet()
		assert.Equal(t, refreshed, entry.LastSeen)
		assert.Nil(t, entry.Metrics)
		assert.Equal(t, models.AgentStatusOnline, entry.Status)
		assert.Equal(t, base, entry.LastStatusChange)
	})

	t.Run("Snapshot is ordered", func(t *testing.T) {
		v := NewFleetView()
		for _, id := range []string{"z", "m", "a"} {
			v.ApplyStatus("p", models.StatusEvent{AgentID: id, Status: models.AgentStatusOnline, Timestamp: base})
		}

		snapshot := v.Snapshot()
		require.Len(t, snapshot, 3)
		assert.Equal(t, []string{"a", "m", "z"}, []string{snapshot[0].AgentID, snapshot[1].AgentID, snapshot[2].AgentID})
	})
}

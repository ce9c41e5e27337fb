package connectionrecords

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connmonitor/core"
	"connmonitor/db"
	"connmonitor/models"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func setupTestService(t *testing.T) (*ConnectionRecordsService, *testClock) {
	t.Helper()
	dbConn, err := db.NewConnection(":memory:")
	require.NoError(t, err, "Failed to create database connection")
	require.NoError(t, db.EnsureSchema(context.Background(), dbConn, ""))

	clock := &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewConnectionRecordsService(db.NewConnectionRecordsRepository(dbConn, ""), clock.Now)

	t.Cleanup(func() {
		svc.Close()
		dbConn.Close()
	})
	return svc, clock
}

func TestConnectionRecordsService(t *testing.T) {
	ctx := context.Background()
	meta := models.Metadata{ProjectName: "P", Location: "L"}
	lost := models.StatusReasonConnectionLost

	t.Run("GetRecentlySeenAgents", func(t *testing.T) {
		t.Run("Reduces to latest state per agent", func(t *testing.T) {
			svc, clock := setupTestService(t)
			onlineAt := clock.t

			svc.RecordConnectionStatus("a1", models.AgentStatusOnline, meta, nil)
			clock.t = clock.t.Add(10 * time.Minute)
			svc.RecordConnectionStatus("a1", models.AgentStatusOffline, meta, &lost)
			svc.RecordConnectionStatus("a2", models.AgentStatusOnline, models.Metadata{ProjectName: "Q", Location: "M"}, nil)
			svc.Flush()

			agents, err := svc.GetRecentlySeenAgents(ctx, 24*time.Hour)
			require.NoError(t, err)
			require.Len(t, agents, 2)

			assert.Equal(t, "a1", agents[0].AgentID)
			assert.True(t, onlineAt.Equal(agents[0].LastSeen))
			assert.Equal(t, models.AgentStatusOffline, agents[0].LastStatus)
			require.NotNil(t, agents[0].LastReason)
			assert.Equal(t, lost, *agents[0].LastReason)

			assert.Equal(t, "a2", agents[1].AgentID)
			assert.Equal(t, "Q", agents[1].ProjectName)
			assert.Nil(t, agents[1].LastReason)
		})

		t.Run("Excludes agents outside the window", func(t *testing.T) {
			svc, clock := setupTestService(t)

			svc.RecordConnectionStatus("old", models.AgentStatusOnline, meta, nil)
			svc.Flush()
			clock.t = clock.t.Add(25 * time.Hour)

			agents, err := svc.GetRecentlySeenAgents(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.Empty(t, agents)
		})
	})

	t.Run("GetDowntimeStats", func(t *testing.T) {
		t.Run("Sums completed and ongoing outages", func(t *testing.T) {
			svc, clock := setupTestService(t)

			svc.RecordConnectionStatus("a1", models.AgentStatusOnline, meta, nil)
			clock.t = clock.t.Add(time.Hour)
			svc.RecordConnectionStatus("a1", models.AgentStatusOffline, meta, &lost)
			clock.t = clock.t.Add(5 * time.Minute)
			svc.RecordConnectionStatus("a1", models.AgentStatusOnline, meta, nil)
			clock.t = clock.t.Add(time.Hour)
			svc.RecordConnectionStatus("a1", models.AgentStatusOffline, meta, &lost)
			svc.Flush()

			stats, err := svc.GetDowntimeStats(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, 5*time.Minute, stats.TotalDowntime)
			assert.Equal(t, time.Duration(0), stats.LastDowntime)
			assert.True(t, stats.Ongoing)

			clock.t = clock.t.Add(2 * time.Minute)
			stats, err = svc.GetDowntimeStats(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, 7*time.Minute, stats.TotalDowntime)
			assert.Equal(t, 2*time.Minute, stats.LastDowntime)
		})

		t.Run("Unknown agent is not found", func(t *testing.T) {
			svc, _ := setupTestService(t)

			_, err := svc.GetDowntimeStats(ctx, "ghost")
			assert.True(t, core.IsNotFoundError(err))
		})
	})

	t.Run("PruneRecords", func(t *testing.T) {
		svc, clock := setupTestService(t)

		svc.RecordConnectionStatus("a1", models.AgentStatusOnline, meta, nil)
		svc.Flush()
		clock.t = clock.t.Add(31 * 24 * time.Hour)
		svc.RecordConnectionStatus("a1", models.AgentStatusOnline, meta, nil)
		svc.Flush()

		deleted, err := svc.PruneRecords(ctx, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})
}

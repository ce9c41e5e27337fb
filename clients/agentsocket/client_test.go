package agentsocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connmonitor/models"
	"connmonitor/utils"
)

func TestClient_HandshakeQuery(t *testing.T) {
	client := NewClient("http://localhost:8080", "a1", models.Metadata{
		ProjectName: "P",
		Location:    "L",
		Version:     utils.Ptr("1.0.0"),
	})

	query := client.handshakeQuery()

	assert.Equal(t, "a1", query.Get(models.HandshakeAgentID))
	assert.Equal(t, "P", query.Get(models.HandshakeProjectName))
	assert.Equal(t, "L", query.Get(models.HandshakeLocation))
	assert.Equal(t, "1.0.0", query.Get(models.HandshakeVersion))
	assert.False(t, query.Has(models.HandshakeOwner))
	assert.False(t, query.Has(models.HandshakeHost))
}

func TestClient_EmitRequiresConnection(t *testing.T) {
	client := NewClient("http://localhost:8080", "a1", models.Metadata{})

	err := client.Emit(models.EventHeartbeat, models.HeartbeatPayload{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, client.IsConnected())
}

func TestClient_StaleGenerationIsIgnored(t *testing.T) {
	client := NewClient("http://localhost:8080", "a1", models.Metadata{})
	client.current = 7

	assert.False(t, client.markConnected(6, true))
	assert.False(t, client.IsConnected())

	assert.True(t, client.markConnected(7, true))
	assert.True(t, client.isConnected(7))
	assert.False(t, client.isConnected(6))

	client.Close()
	assert.False(t, client.IsConnected())
	assert.False(t, client.markConnected(7, true))
}

func TestUnmarshalPayload(t *testing.T) {
	t.Run("alert from decoded event data", func(t *testing.T) {
		data := map[string]any{
			"type":      "high_cpu",
			"message":   "CPU high",
			"severity":  "warning",
			"timestamp": "2024-03-01T10:00:00Z",
			"metadata":  map[string]any{"projectName": "P", "location": "L", "clientId": "a1"},
		}

		var alert models.Alert
		require.NoError(t, unmarshalPayload(data, &alert))

		assert.Equal(t, models.AlertTypeHighCPU, alert.Type)
		assert.Equal(t, models.AlertSeverityWarning, alert.Severity)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), alert.Timestamp)
		require.NotNil(t, alert.Metadata.ClientID)
		assert.Equal(t, "a1", *alert.Metadata.ClientID)
		assert.Nil(t, alert.Metadata.Component)
	})

	t.Run("nil payload leaves target untouched", func(t *testing.T) {
		ack := models.HeartbeatAckPayload{Timestamp: time.Unix(10, 0)}
		require.NoError(t, unmarshalPayload(nil, &ack))
		assert.Equal(t, time.Unix(10, 0), ack.Timestamp)
	})
}

package socketio

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connmonitor/clients"
	"connmonitor/core"
	"connmonitor/models"
)

func TestSessionFromHandshake(t *testing.T) {
	t.Run("agent id from query with metadata", func(t *testing.T) {
		hv := newHandshakeValues(url.Values{
			"agentId":     {"a1"},
			"projectName": {"P"},
			"location":    {"L"},
			"version":     {"1.2.0"},
		}, nil, nil)

		session, err := sessionFromHandshake("sock1", hv)
		require.NoError(t, err)

		assert.Equal(t, "a1", session.AgentID)
		assert.Equal(t, clients.SessionRoleAgent, session.Role)
		assert.Equal(t, "sock1", session.SocketID)
		assert.True(t, core.IsValidULID(session.ID))
		assert.Equal(t, "P", session.Metadata.ProjectName)
		assert.Equal(t, "L", session.Metadata.Location)
		require.NotNil(t, session.Metadata.Version)
		assert.Equal(t, "1.2.0", *session.Metadata.Version)
		assert.Nil(t, session.Metadata.Owner)
		assert.Nil(t, session.Metadata.Host)
	})

	t.Run("agent id from auth payload", func(t *testing.T) {
		hv := newHandshakeValues(map[string][]string{}, map[string]any{"agentId": "a2"}, nil)

		session, err := sessionFromHandshake("sock2", hv)
		require.NoError(t, err)
		assert.Equal(t, "a2", session.AgentID)
		assert.Equal(t, "unknown", session.Metadata.ProjectName)
	})

	t.Run("agent id from header is case insensitive", func(t *testing.T) {
		hv := newHandshakeValues(nil, nil, map[string][]string{"x-agent-id": {"a3"}})

		session, err := sessionFromHandshake("sock3", hv)
		require.NoError(t, err)
		assert.Equal(t, "a3", session.AgentID)
	})

	t.Run("missing agent id is rejected", func(t *testing.T) {
		hv := newHandshakeValues(url.Values{"agentId": {"  "}}, map[string]any{"agentId": 42}, nil)

		_, err := sessionFromHandshake("sock4", hv)
		assert.ErrorIs(t, err, core.ErrMissingAgentID)
	})

	t.Run("viewer needs no agent id", func(t *testing.T) {
		hv := newHandshakeValues(url.Values{"role": {"viewer"}}, nil, nil)

		session, err := sessionFromHandshake("sock5", hv)
		require.NoError(t, err)
		assert.True(t, session.IsViewer())
		assert.Empty(t, session.AgentID)
	})
}

func TestReasonFromDisconnect(t *testing.T) {
	tests := []struct {
		reason   string
		expected models.StatusReason
	}{
		{"ping timeout", models.StatusReasonHeartbeatTimeout},
		{"transport close", models.StatusReasonConnectionLost},
		{"transport error", models.StatusReasonConnectionLost},
		{"client namespace disconnect", models.StatusReasonClientDisconnected},
		{"server namespace disconnect", models.StatusReasonClientDisconnected},
		{"", models.StatusReasonConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, ReasonFromDisconnect(tt.reason))
		})
	}
}

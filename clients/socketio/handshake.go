package socketio

import (
	"fmt"
	"net/url"
	"strings"

	"connmonitor/clients"
	"connmonitor/core"
	"connmonitor/models"
	"connmonitor/utils"
)

// handshakeValues is a case-insensitive view over the query, auth payload and
// headers of a Socket.IO handshake, looked up in that order.
type handshakeValues struct {
	query   map[string][]string
	auth    map[string]any
	headers map[string][]string
}

func newHandshakeValues(query any, auth any, headers map[string][]string) handshakeValues {
	hv := handshakeValues{headers: headers}
	switch q := query.(type) {
	case map[string][]string:
		hv.query = q
	case url.Values:
		hv.query = q
	}
	if a, ok := auth.(map[string]any); ok {
		hv.auth = a
	}
	return hv
}

func (hv handshakeValues) get(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := lookupMulti(hv.query, key); ok {
			return value, true
		}
		for k, v := range hv.auth {
			if s, ok := v.(string); ok && strings.EqualFold(k, key) && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
		if value, ok := lookupMulti(hv.headers, key); ok {
			return value, true
		}
	}
	return "", false
}

func (hv handshakeValues) optional(key string) *string {
	if value, ok := hv.get(key); ok {
		return utils.Ptr(value)
	}
	return nil
}

// lookupMulti performs a case-insensitive lookup in a query or header map
func lookupMulti(values map[string][]string, name string) (string, bool) {
	for key, value := range values {
		if strings.EqualFold(key, name) && len(value) > 0 && strings.TrimSpace(value[0]) != "" {
			return strings.TrimSpace(value[0]), true
		}
	}
	return "", false
}

// sessionFromHandshake builds the session for a new connection. Agents must
// present a non-empty agent id; viewers identify with role=viewer.
func sessionFromHandshake(socketID string, hv handshakeValues) (*clients.Session, error) {
	session := &clients.Session{
		ID:       core.NewID("conn"),
		SocketID: socketID,
		Role:     clients.SessionRoleAgent,
	}

	if role, ok := hv.get(models.HandshakeRole); ok && strings.EqualFold(role, models.HandshakeRoleViewer) {
		session.Role = clients.SessionRoleViewer
		return session, nil
	}

	agentID, ok := hv.get(models.HandshakeAgentID, models.HeaderAgentID)
	if !ok {
		return nil, fmt.Errorf("handshake for socket %s: %w", socketID, core.ErrMissingAgentID)
	}
	session.AgentID = agentID

	session.Metadata = models.Metadata{
		ProjectName: valueOr(hv, models.HandshakeProjectName, "unknown"),
		Location:    valueOr(hv, models.HandshakeLocation, "unknown"),
		Owner:       hv.optional(models.HandshakeOwner),
		Host:        hv.optional(models.HandshakeHost),
		Version:     hv.optional(models.HandshakeVersion),
	}
	return session, nil
}

func valueOr(hv handshakeValues, key, fallback string) string {
	if value, ok := hv.get(key); ok {
		return value
	}
	return fallback
}

// ReasonFromDisconnect maps a Socket.IO disconnect reason onto a status reason.
func ReasonFromDisconnect(reason string) models.StatusReason {
	switch reason {
	case "ping timeout":
		return models.StatusReasonHeartbeatTimeout
	case "client namespace disconnect", "server namespace disconnect", "io client disconnect", "io server disconnect":
		return models.StatusReasonClientDisconnected
	default:
		return models.StatusReasonConnectionLost
	}
}

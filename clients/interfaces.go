package clients

import (
	"context"

	"github.com/gorilla/mux"

	"connmonitor/models"
)

// NotificationSink delivers a formatted alert to humans (chat, pager, log).
type NotificationSink interface {
	SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error
}

// AgentMessenger sends a server event to the session of a connected agent
type AgentMessenger interface {
	SendToAgent(agentID string, event string, payload any) error
}

// ViewerBroadcaster fans an event out to every connected viewer
type ViewerBroadcaster interface {
	BroadcastToViewers(event string, payload any) int
}

type ConnectionHookFunc func(session *Session) error
type DisconnectionHookFunc func(session *Session, reason models.StatusReason) error
type EventHandlerFunc func(session *Session, data any)

// SessionServer terminates agent and viewer transport sessions.
type SessionServer interface {
	AgentMessenger
	ViewerBroadcaster

	RegisterWithRouter(router *mux.Router)
	RegisterConnectionHook(hook ConnectionHookFunc)
	RegisterDisconnectionHook(hook DisconnectionHookFunc)
	RegisterEventHandler(event string, handler EventHandlerFunc)
	SessionCount() int
	Close()
}

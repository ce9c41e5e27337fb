package models

import (
	"time"
)

type StatusReason string

const (
	StatusReasonInitialConnection  StatusReason = "initial_connection"
	StatusReasonClientDisconnected StatusReason = "client_disconnected"
	StatusReasonConnectionLost     StatusReason = "connection_lost"
	StatusReasonHeartbeatTimeout   StatusReason = "heartbeat_timeout"
)

// StatusEvent is published on the connection-status channel whenever an
// agent's status changes. Reason is informational only.
type StatusEvent struct {
	AgentID   string        `json:"agentId"`
	Status    AgentStatus   `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  Metadata      `json:"metadata"`
	Reason    *StatusReason `json:"reason,omitempty"`
}

// MetricsEvent is published on the system-metrics channel. SeenAt is the
// owning process's clock when it last heard from the agent. A nil Metrics
// marks a liveness refresh sent for heartbeat traffic.
type MetricsEvent struct {
	AgentID  string         `json:"agentId"`
	SeenAt   time.Time      `json:"seenAt"`
	Metrics  *SystemMetrics `json:"metrics,omitempty"`
	Metadata Metadata       `json:"metadata"`
}

type AlertSeverity string

const (
	AlertSeverityInfo    AlertSeverity = "info"
	AlertSeverityWarning AlertSeverity = "warning"
	AlertSeverityError   AlertSeverity = "error"
)

type AlertType string

const (
	AlertTypeConnectionLost     AlertType = "connection_lost"
	AlertTypeNoActiveAgents     AlertType = "no_active_agents"
	AlertTypeHighCPU            AlertType = "high_cpu"
	AlertTypeHighMemory         AlertType = "high_memory"
	AlertTypeHealthReport       AlertType = "health_report"
	AlertTypeAgentConnected     AlertType = "agent_connected"
	AlertTypeAgentDisconnected  AlertType = "agent_disconnected"
	AlertTypeReconnecting       AlertType = "reconnecting"
	AlertTypeReconnectFailed    AlertType = "reconnection_failed"
	AlertTypeConnected          AlertType = "connected"
	AlertTypeSystemDegraded     AlertType = "system_degraded"
	AlertTypeSystemShuttingDown AlertType = "system_shutting_down"
)

type AlertMetadata struct {
	ProjectName    string  `json:"projectName"`
	Location       string  `json:"location"`
	ClientID       *string `json:"clientId,omitempty"`
	Component      *string `json:"component,omitempty"`
	AdditionalInfo *string `json:"additionalInfo,omitempty"`
}

// Alert is transient: it is relayed and forwarded to the notification sink,
// never stored.
type Alert struct {
	Type      AlertType     `json:"type"`
	Message   string        `json:"message"`
	Severity  AlertSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  AlertMetadata `json:"metadata"`
}

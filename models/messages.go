package models

import "time"

// Socket.IO event names exchanged between agents, viewers and the server.
const (
	EventHeartbeat    = "heartbeat"
	EventMetrics      = "metrics"
	EventDisconnect   = "disconnect"
	EventHeartbeatAck = "heartbeat:ack"
	EventAlert        = "alert"
)

// Handshake keys. The agent id may arrive as a query parameter, in the auth
// payload or as a header.
const (
	HandshakeAgentID     = "agentId"
	HandshakeRole        = "role"
	HandshakeRoleViewer  = "viewer"
	HandshakeProjectName = "projectName"
	HandshakeLocation    = "location"
	HandshakeOwner       = "owner"
	HandshakeHost        = "host"
	HandshakeVersion     = "version"
	HeaderAgentID        = "X-AGENT-ID"
)

type HeartbeatPayload struct {
	Metadata *Metadata `json:"metadata,omitempty"`
}

type MetricsPayload struct {
	CPUUsage    float64   `json:"cpuUsage"`
	MemoryUsage uint64    `json:"memoryUsage"`
	TotalMemory uint64    `json:"totalMemory"`
	FreeMemory  uint64    `json:"freeMemory"`
	Uptime      float64   `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

func (p MetricsPayload) ToSystemMetrics() SystemMetrics {
	return SystemMetrics{
		CPUUsage:    p.CPUUsage,
		MemoryUsage: p.MemoryUsage,
		TotalMemory: p.TotalMemory,
		FreeMemory:  p.FreeMemory,
		Uptime:      p.Uptime,
		Timestamp:   p.Timestamp,
	}
}

type HeartbeatAckPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

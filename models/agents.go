package models

import (
	"time"
)

type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
	// AgentStatusIdle is part of the wire contract but is never produced.
	AgentStatusIdle AgentStatus = "idle"
)

// Metadata describes an agent. ProjectName and Location are always sent by
// agents; the remaining fields are optional and nil when the agent omits them.
type Metadata struct {
	ProjectName string  `json:"projectName"`
	Location    string  `json:"location"`
	Owner       *string `json:"owner,omitempty"`
	Host        *string `json:"host,omitempty"`
	Version     *string `json:"version,omitempty"`
}

// SystemMetrics is a single resource snapshot reported by an agent.
type SystemMetrics struct {
	CPUUsage    float64   `json:"cpuUsage"`
	MemoryUsage uint64    `json:"memoryUsage"`
	TotalMemory uint64    `json:"totalMemory"`
	FreeMemory  uint64    `json:"freeMemory"`
	Uptime      float64   `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
}

// MemoryPercent returns used memory as a percentage of total memory.
func (m SystemMetrics) MemoryPercent() float64 {
	if m.TotalMemory == 0 {
		return 0
	}
	return float64(m.MemoryUsage) / float64(m.TotalMemory) * 100
}

// AgentRecord is the registry's view of one agent.
type AgentRecord struct {
	AgentID          string         `json:"agentId"`
	Status           AgentStatus    `json:"status"`
	LastHeartbeat    time.Time      `json:"lastHeartbeat"`
	LastReportSentAt time.Time      `json:"lastReportSentAt"`
	Metadata         Metadata       `json:"metadata"`
	Metrics          *SystemMetrics `json:"metrics,omitempty"`
	// LastReason and LastStatusChange describe the most recent status transition.
	LastReason       *StatusReason `json:"lastReason,omitempty"`
	LastStatusChange time.Time     `json:"lastStatusChange"`
}

// IsOnline reports whether the record is online and has been heard from
// within threshold of now.
func (r AgentRecord) IsOnline(now time.Time, threshold time.Duration) bool {
	return r.Status == AgentStatusOnline && now.Sub(r.LastHeartbeat) <= threshold
}

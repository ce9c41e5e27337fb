package models

import (
	"time"
)

// ConnectionRecord is one durable row describing a status transition.
type ConnectionRecord struct {
	ID          string      `db:"id"`
	AgentID     string      `db:"agent_id"`
	Status      AgentStatus `db:"status"`
	ProjectName string      `db:"project_name"`
	Location    string      `db:"location"`
	Metadata    string      `db:"metadata"`
	Reason      *string     `db:"reason"`
	CreatedAt   time.Time   `db:"created_at"`
}

// SeenAgent is an agent identity known to the durable store.
type SeenAgent struct {
	AgentID     string    `json:"agentId"`
	ProjectName string    `json:"projectName"`
	Location    string    `json:"location"`
	LastSeen    time.Time `json:"lastSeen"`
	// LastStatus and LastReason come from the agent's most recent record.
	LastStatus AgentStatus   `json:"lastStatus"`
	LastReason *StatusReason `json:"lastReason,omitempty"`
}

type DowntimeStats struct {
	AgentID       string        `json:"agentId"`
	TotalDowntime time.Duration `json:"totalDowntime"`
	LastDowntime  time.Duration `json:"lastDowntime"`
	// Ongoing is true when the most recent record is an offline transition.
	Ongoing bool `json:"ongoing"`
}

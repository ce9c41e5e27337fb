package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/mo"

	"connmonitor/models"
)

// FleetEntry is one agent as observed through relayed events from any process.
type FleetEntry struct {
	AgentID          string                `json:"agentId"`
	Status           models.AgentStatus    `json:"status"`
	Metadata         models.Metadata       `json:"metadata"`
	LastReason       *models.StatusReason  `json:"lastReason,omitempty"`
	LastStatusChange time.Time             `json:"lastStatusChange"`
	LastSeen         time.Time             `json:"lastSeen"`
	Metrics          *models.SystemMetrics `json:"metrics,omitempty"`
	Origin           string                `json:"origin"`
}

// FleetView projects relayed status and metrics events into a fleet-wide view.
// Status events are applied last-write-wins by event timestamp, so duplicate
// and out-of-order deliveries leave the view unchanged.
type FleetView struct {
	mu      sync.RWMutex
	entries map[string]FleetEntry
}

func NewFleetView() *FleetView {
	return &FleetView{entries: make(map[string]FleetEntry)}
}

// ApplyStatus reports whether the event changed the view.
func (v *FleetView) ApplyStatus(origin string, ev models.StatusEvent) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[ev.AgentID]
	if ok && !ev.Timestamp.After(entry.LastStatusChange) {
		return false
	}

	entry.AgentID = ev.AgentID
	entry.Status = ev.Status
	entry.Metadata = ev.Metadata
	entry.LastReason = ev.Reason
	entry.LastStatusChange = ev.Timestamp
	entry.Origin = origin
	if ev.Status == models.AgentStatusOnline && ev.Timestamp.After(entry.LastSeen) {
		entry.LastSeen = ev.Timestamp
	}
	v.entries[ev.AgentID] = entry
	return true
}

// ApplyMetrics refreshes last-seen and metrics for agents already in the view.
// Events for agents without a status event are ignored.
func (v *FleetView) ApplyMetrics(ev models.MetricsEvent) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[ev.AgentID]
	if !ok {
		return false
	}

	seenAt := ev.SeenAt
	if seenAt.IsZero() && ev.Metrics != nil {
		seenAt = ev.Metrics.Timestamp
	}

	changed := false
	if seenAt.After(entry.LastSeen) {
		entry.LastSeen = seenAt
		changed = true
	}
	if ev.Metrics != nil && (entry.Metrics == nil || ev.Metrics.Timestamp.After(entry.Metrics.Timestamp)) {
		m := *ev.Metrics
		entry.Metrics = &m
		entry.Metadata = ev.Metadata
		changed = true
	}
	if !changed {
		return false
	}
	v.entries[ev.AgentID] = entry
	return true
}

func (v *FleetView) Get(agentID string) mo.Option[FleetEntry] {
	v.mu.RLock()
	defer v.mu.RUnlock()

	entry, ok := v.entries[agentID]
	if !ok {
		return mo.None[FleetEntry]()
	}
	return mo.Some(entry)
}

// Snapshot returns every entry ordered by agent id.
func (v *FleetView) Snapshot() []FleetEntry {
	v.mu.RLock()
	out := make([]FleetEntry, 0, len(v.entries))
	for _, entry := range v.entries {
		out = append(out, entry)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

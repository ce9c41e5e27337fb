package clients

import "connmonitor/models"

type SessionRole string

const (
	SessionRoleAgent  SessionRole = "agent"
	SessionRoleViewer SessionRole = "viewer"
)

// Session is one accepted transport connection.
type Session struct {
	ID       string
	SocketID string
	Role     SessionRole
	// AgentID is empty for viewers.
	AgentID  string
	Metadata models.Metadata
}

func (s *Session) IsViewer() bool {
	return s.Role == SessionRoleViewer
}

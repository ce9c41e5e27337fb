package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/lucasepe/codename"

	"connmonitor/core/log"
)

const (
	identityFileName = "identity.json"
	lockFileName     = "identity.lock"
	suffixLength     = 4
)

type AgentIdentity struct {
	AgentID     string `json:"agent_id"`
	CreatedAt   string `json:"created_at"`
	MachineName string `json:"machine_name"`
}

// IdentityService owns the persistent agent id. The identity directory is
// locked for the lifetime of the service so two agents on one machine cannot
// report under the same id.
type IdentityService struct {
	dir      string
	lock     *flock.Flock
	identity *AgentIdentity
}

// DefaultDir returns ~/.config/connmonitor.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "connmonitor"), nil
}

// NewIdentityService locks dir and loads the identity stored there, creating
// one when missing. A non-empty override replaces the stored agent id.
func NewIdentityService(dir, override string) (*IdentityService, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another agent instance is already using %s", dir)
	}

	s := &IdentityService{dir: dir, lock: lock}
	if err := s.loadOrCreateIdentity(override); err != nil {
		_ = s.Close()
		return nil, err
	}

	log.Info("🪪 Agent identity: %s", s.identity.AgentID)
	return s, nil
}

func (s *IdentityService) loadOrCreateIdentity(override string) error {
	path := filepath.Join(s.dir, identityFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var identity AgentIdentity
		if err := json.Unmarshal(data, &identity); err == nil && identity.AgentID != "" {
			s.identity = &identity
			if override == "" || override == identity.AgentID {
				return nil
			}
		}
	}

	if s.identity == nil {
		agentID, err := GenerateAgentID()
		if err != nil {
			return err
		}
		hostname, _ := os.Hostname()
		s.identity = &AgentIdentity{
			AgentID:     agentID,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			MachineName: hostname,
		}
	}
	if override != "" {
		s.identity.AgentID = override
	}

	data, err = json.MarshalIndent(s.identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	return nil
}

// GenerateAgentID returns a readable random id such as "brave-falcon-x7k2".
func GenerateAgentID() (string, error) {
	rng, err := codename.DefaultRNG()
	if err != nil {
		return "", fmt.Errorf("failed to seed agent id generator: %w", err)
	}
	return codename.Generate(rng, suffixLength), nil
}

func (s *IdentityService) GetAgentID() string {
	return s.identity.AgentID
}

func (s *IdentityService) GetIdentity() *AgentIdentity {
	return s.identity
}

// Close releases the identity lock and removes the lock file.
func (s *IdentityService) Close() error {
	if s.lock == nil {
		return nil
	}
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := os.Remove(s.lock.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	s.lock = nil
	return nil
}

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// RoleStore maps player unique IDs to policy roles, reloaded periodically
// from a JSON file. The mapping is replaced wholesale on each successful
// reload and never partially merged; absence of an ID means the default
// player role.
type RoleStore struct {
	mu    sync.RWMutex
	path  string
	roles map[string]model.Role
}

// NewRoleStore creates a store reading from the given file path. The
// store starts empty; call Reload to populate it.
func NewRoleStore(path string) *RoleStore {
	return &RoleStore{
		path:  path,
		roles: make(map[string]model.Role),
	}
}

// Reload reads the role file and replaces the mapping. A missing or
// unparseable file leaves the previous mapping untouched and returns the
// error for the caller to log.
func (s *RoleStore) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading role file: %w", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parsing role file %s: %w", s.path, err)
	}

	roles := make(map[string]model.Role, len(parsed))
	for id, r := range parsed {
		roles[id] = model.ParseRole(r)
	}

	s.mu.Lock()
	s.roles = roles
	s.mu.Unlock()
	return nil
}

// Role returns the role for the given unique ID, defaulting to player.
func (s *RoleStore) Role(uniqueID string) model.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[uniqueID]; ok {
		return r
	}
	return model.RolePlayer
}

// Len returns the number of explicit role assignments.
func (s *RoleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roles)
}

// Package directory provides identity lookups for approver resolution.
package directory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Ashour158/People-sub002/internal/application/port"
)

// Data is the content of a static directory
type Data struct {
	// Roles maps a role name to its members, in resolution order
	Roles map[string][]string `yaml:"roles" mapstructure:"roles"`

	// Managers maps a user to their reporting manager
	Managers map[string]string `yaml:"managers" mapstructure:"managers"`
}

// Static is an in-memory directory loaded from configuration. It can be
// replaced wholesale with Reload.
type Static struct {
	mu   sync.RWMutex
	data Data
}

// NewStatic creates a directory from data. Role and manager keys are
// matched case-insensitively.
func NewStatic(data Data) *Static {
	s := &Static{}
	s.Reload(data)
	return s
}

// LoadFile reads a YAML directory file
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
	}
	return NewStatic(data), nil
}

// Reload replaces the directory content
func (s *Static) Reload(data Data) {
	normalized := Data{
		Roles:    make(map[string][]string, len(data.Roles)),
		Managers: make(map[string]string, len(data.Managers)),
	}
	for role, users := range data.Roles {
		key := normalize(role)
		seen := make(map[string]bool, len(users))
		for _, u := range normalized.Roles[key] {
			seen[u] = true
		}
		for _, u := range users {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			normalized.Roles[key] = append(normalized.Roles[key], u)
		}
	}
	for user, manager := range data.Managers {
		if manager = strings.TrimSpace(manager); manager != "" {
			normalized.Managers[normalize(user)] = manager
		}
	}

	s.mu.Lock()
	s.data = normalized
	s.mu.Unlock()
}

// UsersInRole implements port.Directory
func (s *Static) UsersInRole(ctx context.Context, role string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.data.Roles[normalize(role)]...), nil
}

// ReportingManager implements port.Directory
func (s *Static) ReportingManager(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Managers[normalize(userID)], nil
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Verify interface compliance
var _ port.Directory = (*Static)(nil)

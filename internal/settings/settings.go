package settings

import (
	"context"
	"errors"
	"sync"
)

var ErrNoAPIKey = errors.New("no api key configured")

// Verifier checks an API key against the upstream provider. Injected so the
// HTTP test endpoint stays a pass-through over whatever backend is wired.
type Verifier func(ctx context.Context, key string) error

// Store holds the dashboard-managed credential and the management group list.
// Both are small, hot, and read on every aggregation cycle, so everything is
// kept in memory behind one mutex and seeded from config at startup.
type Store struct {
	mu       sync.RWMutex
	apiKey   string
	groups   []string
	verifier Verifier
}

func NewStore(apiKey string, groups []string, verifier Verifier) *Store {
	s := &Store{
		apiKey:   apiKey,
		groups:   make([]string, 0, len(groups)),
		verifier: verifier,
	}
	s.groups = append(s.groups, groups...)
	return s
}

// Credential reports whether a key is present and a display-safe masked form.
func (s *Store) Credential(_ context.Context) (bool, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiKey == "" {
		return false, "", nil
	}
	return true, Mask(s.apiKey), nil
}

func (s *Store) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
}

// TestAPIKey verifies the stored key through the injected verifier.
func (s *Store) TestAPIKey(ctx context.Context) error {
	s.mu.RLock()
	key := s.apiKey
	verifier := s.verifier
	s.mu.RUnlock()

	if key == "" {
		return ErrNoAPIKey
	}
	if verifier == nil {
		return nil
	}
	return verifier(ctx, key)
}

// ManagementGroups returns the ordered group list as a copy.
func (s *Store) ManagementGroups(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

// AddManagementGroup appends a group, ignoring exact duplicates.
func (s *Store) AddManagementGroup(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g == group {
			return
		}
	}
	s.groups = append(s.groups, group)
}

// RemoveManagementGroup removes a group if present; absent is a no-op.
func (s *Store) RemoveManagementGroup(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.groups {
		if g == group {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			return
		}
	}
}

// Mask keeps the first and last four runes of a key and elides the middle.
// Short keys are fully elided.
func Mask(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return "********"
	}
	return string(r[:4]) + "…" + string(r[len(r)-4:])
}

package bot

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockSession is a local stand-in for the real bot transport, used in tests
// and when the daemon runs without a live messaging backend.
type MockSession struct {
	mu sync.Mutex

	connected    bool
	account      string
	activeGroups int
	sent         int64
	lastActivity *time.Time
	startedAt    time.Time

	failGroups map[string]error
	stateErr   error
}

func NewMockSession(account string) *MockSession {
	return &MockSession{
		connected:    true,
		account:      account,
		activeGroups: 0,
		startedAt:    time.Now().UTC(),
		failGroups:   make(map[string]error),
	}
}

func (m *MockSession) State(_ context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return State{}, m.stateErr
	}
	return State{
		Connected:     m.connected,
		Account:       m.account,
		Uptime:        time.Since(m.startedAt),
		ActiveGroups:  m.activeGroups,
		TotalMessages: m.sent,
		LastActivity:  m.lastActivity,
	}, nil
}

func (m *MockSession) SendFile(ctx context.Context, groupID, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("session disconnected")
	}
	if err, ok := m.failGroups[groupID]; ok {
		return err
	}
	m.sent++
	now := time.Now().UTC()
	m.lastActivity = &now
	return nil
}

// SetConnected flips the simulated connection state.
func (m *MockSession) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// SetActiveGroups sets the simulated group count.
func (m *MockSession) SetActiveGroups(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeGroups = n
}

// FailGroup makes sends to one group fail with the given error.
func (m *MockSession) FailGroup(groupID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGroups[groupID] = err
}

// FailState makes State return the given error, simulating an unreachable
// session collaborator.
func (m *MockSession) FailState(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateErr = err
}

// SentCount reports how many sends succeeded so far.
func (m *MockSession) SentCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

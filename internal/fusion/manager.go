package fusion

import (
	"context"
	"sync"

	"codecoach/internal/realtime"
	"codecoach/internal/sentiment"
	"codecoach/internal/signal"
)

// Manager owns one Context per user. The manager mutex only guards the
// map; each context serializes its own turns, so distinct users proceed
// in parallel.
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*Context
	opts     []Option
}

// NewManager creates a manager. Options are applied to every context it
// creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		contexts: make(map[string]*Context),
		opts:     opts,
	}
}

// Get returns the context for a user, creating it on first use.
func (m *Manager) Get(userID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contexts[userID]; ok {
		return c
	}
	c := NewContext(userID, m.opts...)
	m.contexts[userID] = c
	return c
}

// Users returns the known user IDs.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.contexts))
	for id := range m.contexts {
		out = append(out, id)
	}
	return out
}

// RecordEvent ingests one activity event for a user.
func (m *Manager) RecordEvent(userID, eventType string, metadata map[string]string) []signal.Signal {
	return m.Get(userID).RecordEvent(eventType, metadata)
}

// RecordMessage ingests one user message.
func (m *Manager) RecordMessage(userID, text string) sentiment.Result {
	return m.Get(userID).RecordMessage(text)
}

// RecordTyping forwards a keystroke batch for a user.
func (m *Manager) RecordTyping(userID string, added, deleted int) []realtime.Detection {
	return m.Get(userID).RecordTyping(added, deleted)
}

// RunTurn performs one fusion pass for a user.
func (m *Manager) RunTurn(ctx context.Context, userID string) *TurnResult {
	return m.Get(userID).RunTurn(ctx)
}

// Export snapshots one user's context.
func (m *Manager) Export(userID string) Snapshot {
	return m.Get(userID).Export()
}

// Import restores one user's context from a snapshot.
func (m *Manager) Import(s Snapshot) {
	m.Get(s.UserID).Import(s)
}

package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/aarii/internal/provider"
)

// SessionStats are the in-process counters of one session.
type SessionStats struct {
	SessionID         string
	Turns             int
	DegradedTurns     int
	TotalPromptTokens int
	TotalOutputTokens int
	StartedAt         time.Time
	LastUpdatedAt     time.Time
}

// StateManager tracks per-session statistics for the lifetime of the process.
// It is safe for concurrent use.
type StateManager struct {
	mu       sync.RWMutex
	sessions map[string]*SessionStats
	now      func() time.Time
}

// NewStateManager creates a new state manager.
func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[string]*SessionStats),
		now:      time.Now,
	}
}

// session returns the stats of sessionID, creating them. Caller holds mu.
func (sm *StateManager) session(sessionID string) *SessionStats {
	s, ok := sm.sessions[sessionID]
	if !ok {
		now := sm.now()
		s = &SessionStats{SessionID: sessionID, StartedAt: now, LastUpdatedAt: now}
		sm.sessions[sessionID] = s
	}
	return s
}

// RecordTurn counts a completed turn and its token usage.
func (sm *StateManager) RecordTurn(sessionID string, usage provider.Usage) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := sm.session(sessionID)
	s.Turns++
	s.TotalPromptTokens += usage.PromptTokens
	s.TotalOutputTokens += usage.CompletionTokens
	s.LastUpdatedAt = sm.now()
}

// RecordDegraded counts a turn answered without the provider.
func (sm *StateManager) RecordDegraded(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := sm.session(sessionID)
	s.Turns++
	s.DegradedTurns++
	s.LastUpdatedAt = sm.now()
}

// GetTokenUsage returns the current token usage for a session.
func (sm *StateManager) GetTokenUsage(sessionID string) (promptTokens, outputTokens int) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if s, ok := sm.sessions[sessionID]; ok {
		return s.TotalPromptTokens, s.TotalOutputTokens
	}
	return 0, 0
}

// Get returns a copy of the session's stats.
func (sm *StateManager) Get(sessionID string) (SessionStats, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	s, ok := sm.sessions[sessionID]
	if !ok {
		return SessionStats{}, false
	}
	return *s, true
}

// Sessions lists the known session ids in sorted order.
func (sm *StateManager) Sessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets a session's stats.
func (sm *StateManager) Reset(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sessionID)
}

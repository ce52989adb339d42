package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-memory Store used by tests and DSN-less dev runs.
// A single mutex serializes every operation, the same coarse locking the
// Postgres pool provides implicitly.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	users    map[string]*User      // username -> user
	sessions map[string]memSession // token -> session
	calls    []CallRecord
	callIdx  map[string]int // call_id -> index into calls
}

type memSession struct {
	userID    int64
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		sessions: make(map[string]memSession),
		callIdx:  make(map[string]int),
	}
}

func (m *Memory) CreateUser(_ context.Context, username, passwordHash, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return 0, ErrNameTaken
	}
	m.nextID++
	m.users[username] = &User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		CreatedAt:    time.Now(),
	}
	return m.nextID, nil
}

func (m *Memory) UserByName(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) CreateSession(_ context.Context, userID int64, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, s := range m.sessions {
		if s.userID == userID {
			delete(m.sessions, tok)
		}
	}
	m.sessions[token] = memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *Memory) SessionUser(_ context.Context, token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return 0, ErrSessionInvalid
	}
	if time.Now().After(s.expiresAt) {
		delete(m.sessions, token)
		return 0, ErrSessionInvalid
	}
	return s.userID, nil
}

func (m *Memory) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *Memory) AppendCall(_ context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callIdx[rec.CallID] = len(m.calls)
	m.calls = append(m.calls, rec)
	return nil
}

func (m *Memory) MarkCall(_ context.Context, callID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.callIdx[callID]; ok {
		m.calls[i].Status = status
	}
	return nil
}

func (m *Memory) FinishCall(_ context.Context, callID, status string, _ time.Time, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.callIdx[callID]; ok {
		m.calls[i].Status = status
	}
	return nil
}

// CallStatus reports the journaled status for a call id. Test helper.
func (m *Memory) CallStatus(callID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.callIdx[callID]
	if !ok {
		return "", false
	}
	return m.calls[i].Status, true
}

// SessionCount reports how many live sessions an account holds. Test helper.
func (m *Memory) SessionCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.userID == userID {
			n++
		}
	}
	return n
}

func (m *Memory) Close() {}

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/resume-builder/internal/types"
)

// Memory is an in-process store with the same contract as DB.
// Every read and write copies the document so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User
	byEmail  map[string]string
	sessions map[string]*types.ResumeSession
	now      func() time.Time
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		byEmail:  make(map[string]string),
		sessions: make(map[string]*types.ResumeSession),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op
func (m *Memory) Close() {}

// Ping always succeeds
func (m *Memory) Ping(_ context.Context) error { return nil }

// Migrate is a no-op
func (m *Memory) Migrate(_ context.Context) error { return nil }

// CreateUser stores a new user
func (m *Memory) CreateUser(_ context.Context, u *User) error {
	prepareNewUser(u, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byEmail[u.Email]; taken {
		return ErrDuplicateEmail
	}
	cp, err := copyUser(u)
	if err != nil {
		return err
	}
	m.users[u.ID.String()] = cp
	m.byEmail[u.Email] = u.ID.String()
	return nil
}

// GetUserByID retrieves a user by ID. Returns nil, nil when no user exists.
func (m *Memory) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u)
}

// GetUserByEmail retrieves a user by email. Returns nil, nil when no user exists.
func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return copyUser(m.users[id])
}

// SaveKnowledgeGraph replaces a user's graph if its revision is still expectedRevision
func (m *Memory) SaveKnowledgeGraph(_ context.Context, userID string, kg *types.KnowledgeGraph, expectedRevision int64) (int64, error) {
	cp, err := kg.Clone()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.KGRevision != expectedRevision {
		return 0, ErrRevisionMismatch
	}
	u.KnowledgeGraph = cp
	u.KGRevision++
	u.UpdatedAt = m.now()
	return u.KGRevision, nil
}

// DeleteUser removes a user and their sessions
func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		delete(m.byEmail, u.Email)
		delete(m.users, id)
	}
	for sid, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

// CreateSession stores a new session at revision 0
func (m *Memory) CreateSession(_ context.Context, s *types.ResumeSession) error {
	if s.ID == "" || s.UserID == "" {
		return fmt.Errorf("session requires id and user id")
	}
	s.Normalize()
	s.Revision = 0
	cp, err := copySession(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = cp
	return nil
}

// GetSession retrieves a session by ID. Returns nil, nil when no session exists.
func (m *Memory) GetSession(_ context.Context, id string) (*types.ResumeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s)
}

// ListSessions returns a user's sessions, most recently active first
func (m *Memory) ListSessions(_ context.Context, userID string) ([]types.ResumeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.ResumeSession{}
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		cp, err := copySession(s)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out, nil
}

// SaveSession writes s if the stored revision still equals s.Revision, then bumps s.Revision
func (m *Memory) SaveSession(_ context.Context, s *types.ResumeSession) error {
	s.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[s.ID]
	if !ok || stored.Revision != s.Revision {
		return ErrRevisionMismatch
	}
	next := m.now()
	if !next.After(stored.LastActive) {
		next = stored.LastActive.Add(time.Nanosecond)
	}
	s.Revision++
	s.LastActive = next
	cp, err := copySession(s)
	if err != nil {
		s.Revision--
		return err
	}
	m.sessions[s.ID] = cp
	return nil
}

func copyUser(u *User) (*User, error) {
	cp := *u
	if u.Socials != nil {
		cp.Socials = make(map[string]string, len(u.Socials))
		for k, v := range u.Socials {
			cp.Socials[k] = v
		}
	}
	if u.KnowledgeGraph != nil {
		kg, err := u.KnowledgeGraph.Clone()
		if err != nil {
			return nil, err
		}
		cp.KnowledgeGraph = kg
	}
	return &cp, nil
}

func copySession(s *types.ResumeSession) (*types.ResumeSession, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	var cp types.ResumeSession
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	cp.Normalize()
	return &cp, nil
}

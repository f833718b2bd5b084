package session

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"clinicalcore/internal/coreerr"
)

// MemoryStore is a mutex-guarded in-memory SessionStore, the default backend
// for local development and tests (SESSION_BACKEND=memory, or no DSN set).
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, coreerr.Wrap(coreerr.ErrNotFound, nil, "session %s not found", sessionID)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	if s.SessionID == "" {
		return coreerr.Wrap(coreerr.ErrInternal, nil, "session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.SessionID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return coreerr.Wrap(coreerr.ErrNotFound, nil, "session %s not found", sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

// ListByUser returns sessions owned by userID ordered by LastUpdated
// descending, paginated by a numeric offset token (opaque to callers).
func (m *MemoryStore) ListByUser(_ context.Context, userID string, pageSize int, pageToken string) (Page, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return Page{}, coreerr.Wrap(coreerr.ErrInternal, err, "invalid page token %q", pageToken)
		}
		offset = n
	}

	m.mu.Lock()
	matched := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.UserID == userID {
			matched = append(matched, cloneSession(s))
		}
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Metadata.LastUpdated.After(matched[j].Metadata.LastUpdated)
	})

	if offset >= len(matched) {
		return Page{}, nil
	}
	end := offset + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	page := Page{Sessions: matched[offset:end]}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func cloneSession(s Session) Session {
	out := s
	out.History = append([]Message(nil), s.History...)
	if s.RiskState != nil {
		rs := *s.RiskState
		out.RiskState = &rs
	}
	if s.Metadata.FileRefs != nil {
		out.Metadata.FileRefs = append([]string(nil), s.Metadata.FileRefs...)
	}
	return out
}

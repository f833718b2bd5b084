// Package sessionmgr implements SessionManager (C11): session creation,
// idempotency, title derivation's home for the per-session lock, and the
// chat-handle bookkeeping that gives agent switches continuity (§4.8, §4.11).
package sessionmgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicalcore/internal/coreerr"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/session"
)

// PatientMeta seeds a session's ClinicalContext at creation time.
type PatientMeta struct {
	PatientID            string
	SessionType           string
	ConfidentialityLevel string
}

// ChatHandle is the bookkeeping unit behind §4.2's CreateChat/SendOnChat and
// §4.8's "close the current chat handle, create a new one seeded with
// existing history" agent-switch contract. The underlying llm.Provider is a
// stateless request/response + streaming API (Chat/ChatStream take the full
// message list on every call, grounded on internal/llm/provider.go), so a
// "handle" here is session-scoped bookkeeping — which agent owns the
// session and whether the next turn must announce a continuity transition —
// rather than a live network session the teacher's engine.go never models
// either.
type ChatHandle struct {
	SessionID    string
	Agent        string
	History      []llm.Message
	IsTransition bool
	OpenedAt     time.Time
}

// perSessionLock pairs the session-scoped mutex (§5: "acquired for the full
// SendMessage lifecycle, including the streaming tail until persistence
// completes") with its chat handle, since both are keyed by sessionId and
// both must be single-owner at a time.
type perSessionLock struct {
	mu     sync.Mutex
	handle *ChatHandle
}

// Manager implements C11. It owns no conversation logic — that is
// ConversationCore's job — only session lifecycle and the per-session
// lock/handle registry §5 requires.
type Manager struct {
	store session.Store

	locksMu sync.Mutex
	locks   map[string]*perSessionLock
}

// New builds a Manager over the given SessionStore.
func New(store session.Store) *Manager {
	return &Manager{store: store, locks: make(map[string]*perSessionLock)}
}

func (m *Manager) lockFor(sessionID string) *perSessionLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &perSessionLock{}
		m.locks[sessionID] = l
	}
	return l
}

// Lock acquires the per-session mutex for sessionID and returns the release
// function. Callers MUST hold this for the full turn lifecycle (§5).
func (m *Manager) Lock(sessionID string) func() {
	l := m.lockFor(sessionID)
	l.mu.Lock()
	return l.mu.Unlock
}

// CreateSession implements §4.11 CreateSession: if sessionID is provided and
// already exists, the existing session is returned (optionally patching
// patient context); a generated id that collides is regenerated once.
func (m *Manager) CreateSession(ctx context.Context, userID, mode, agent, sessionID string, patientMeta *PatientMeta) (session.Session, error) {
	release := m.Lock(firstNonEmpty(sessionID, "pending"))
	defer release()

	if sessionID != "" {
		existing, err := m.store.Load(ctx, sessionID)
		if err == nil {
			if patientMeta != nil && patientMeta.PatientID != "" {
				existing.ClinicalContext.PatientID = patientMeta.PatientID
				if patientMeta.SessionType != "" {
					existing.ClinicalContext.SessionType = patientMeta.SessionType
				}
			}
			return existing, nil
		}
		if !errors.Is(err, coreerr.ErrNotFound) {
			return session.Session{}, err
		}
	}

	id := sessionID
	if id == "" {
		id = uuid.NewString()
		// First-check collision: regenerate once per §4.11.
		if _, err := m.store.Load(ctx, id); err == nil {
			id = uuid.NewString()
			if _, err := m.store.Load(ctx, id); err == nil {
				return session.Session{}, coreerr.Wrap(coreerr.ErrConflict, nil, "session id collision for %s could not be resolved", id)
			}
		}
	}

	now := time.Now().UTC()
	confidentiality := session.ConfidentialityHigh
	sessionType := ""
	patientID := ""
	if patientMeta != nil {
		if patientMeta.ConfidentialityLevel != "" {
			confidentiality = patientMeta.ConfidentialityLevel
		}
		sessionType = patientMeta.SessionType
		patientID = patientMeta.PatientID
	}

	sess := session.Session{
		SessionID:   id,
		UserID:      userID,
		Mode:        mode,
		ActiveAgent: agent,
		History:     []session.Message{},
		Metadata: session.Metadata{
			CreatedAt:   now,
			LastUpdated: now,
		},
		ClinicalContext: session.ClinicalContext{
			PatientID:       patientID,
			SessionType:     sessionType,
			Confidentiality: confidentiality,
		},
	}

	if err := m.store.Save(ctx, sess); err != nil {
		return session.Session{}, err
	}

	m.openHandle(id, agent, nil, false)
	return sess, nil
}

// DeleteSession closes any live chat handle and removes the session from
// the store (§3 "destroyed via explicit delete, which also closes any live
// chat handle in the agent layer").
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	release := m.Lock(sessionID)
	defer release()

	m.closeHandle(sessionID)
	return m.store.Delete(ctx, sessionID)
}

// openHandle records a new chat handle for sessionID, marking it a
// continuity transition when isTransition is set (agent switch) per §4.8.
func (m *Manager) openHandle(sessionID, agent string, history []llm.Message, isTransition bool) *ChatHandle {
	l := m.lockFor(sessionID)
	h := &ChatHandle{SessionID: sessionID, Agent: agent, History: history, IsTransition: isTransition, OpenedAt: time.Now().UTC()}
	l.handle = h
	return h
}

// closeHandle clears sessionID's live handle, if any. At most one live
// handle per session at a time (§5); switching closes the current handle
// before opening the next.
func (m *Manager) closeHandle(sessionID string) {
	l := m.lockFor(sessionID)
	l.handle = nil
}

// Handle returns the current live chat handle for sessionID, if any.
func (m *Manager) Handle(sessionID string) (*ChatHandle, bool) {
	l := m.lockFor(sessionID)
	if l.handle == nil {
		return nil, false
	}
	return l.handle, true
}

// SwitchAgent closes the current handle and opens a new transition handle
// seeded with history, per §4.8/§4.10 step 11.
func (m *Manager) SwitchAgent(sessionID, newAgent string, history []llm.Message) *ChatHandle {
	m.closeHandle(sessionID)
	return m.openHandle(sessionID, newAgent, history, true)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

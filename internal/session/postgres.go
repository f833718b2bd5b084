package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clinicalcore/internal/coreerr"
	"clinicalcore/internal/observability"
)

// PostgresStore is the pgx/v5 SessionStore backend (SESSION_BACKEND=postgres).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Call Init once at
// startup to create the schema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Init creates the sessions/messages schema, idempotently.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT '',
    active_agent TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    total_tokens INTEGER NOT NULL DEFAULT 0,
    file_refs TEXT[] NOT NULL DEFAULT '{}',
    patient_id TEXT NOT NULL DEFAULT '',
    session_type TEXT NOT NULL DEFAULT '',
    confidentiality TEXT NOT NULL DEFAULT '',
    risk_is_risk_session BOOLEAN NOT NULL DEFAULT FALSE,
    risk_level TEXT NOT NULL DEFAULT '',
    risk_detected_at TIMESTAMPTZ,
    risk_type TEXT NOT NULL DEFAULT '',
    risk_last_check TIMESTAMPTZ,
    risk_consecutive_safe_turns INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    agent TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    file_references TEXT[] NOT NULL DEFAULT '{}',
    grounding_urls TEXT[] NOT NULL DEFAULT '{}',
    reasoning_bullets TEXT[] NOT NULL DEFAULT '{}',
    incomplete BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS session_messages_session_seq_idx ON session_messages(session_id, seq);
CREATE INDEX IF NOT EXISTS sessions_user_updated_idx ON sessions(user_id, updated_at DESC);

ALTER TABLE sessions ADD COLUMN IF NOT EXISTS risk_consecutive_safe_turns INTEGER NOT NULL DEFAULT 0;
ALTER TABLE session_messages ADD COLUMN IF NOT EXISTS incomplete BOOLEAN NOT NULL DEFAULT FALSE;
`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (Session, error) {
	log := observability.LoggerWithTrace(ctx)

	row := s.pool.QueryRow(ctx, `
SELECT id, user_id, mode, active_agent, title, created_at, updated_at, total_tokens, file_refs,
       patient_id, session_type, confidentiality,
       risk_is_risk_session, risk_level, risk_detected_at, risk_type, risk_last_check, risk_consecutive_safe_turns
FROM sessions WHERE id = $1`, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, coreerr.Wrap(coreerr.ErrNotFound, err, "session %s not found", sessionID)
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("session_load_failed")
		return Session{}, coreerr.Wrap(coreerr.ErrTransient, err, "load session %s", sessionID)
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, role, content, agent, created_at, file_references, grounding_urls, reasoning_bullets, incomplete
FROM session_messages WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return Session{}, coreerr.Wrap(coreerr.ErrTransient, err, "load messages for session %s", sessionID)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Agent, &m.Timestamp,
			&m.FileReferences, &m.GroundingURLs, &m.ReasoningBullets, &m.Incomplete); err != nil {
			return Session{}, coreerr.Wrap(coreerr.ErrTransient, err, "scan message for session %s", sessionID)
		}
		sess.History = append(sess.History, m)
	}
	if err := rows.Err(); err != nil {
		return Session{}, coreerr.Wrap(coreerr.ErrTransient, err, "iterate messages for session %s", sessionID)
	}

	return sess, nil
}

// Save replaces the session row and its full message history in one
// transaction, mirroring the unit-of-work the core holds while a turn is in
// flight — the whole Session is owned exclusively, so a full snapshot
// replace is simpler than diffing and stays atomic either way.
func (s *PostgresStore) Save(ctx context.Context, sess Session) error {
	if sess.SessionID == "" {
		return coreerr.Wrap(coreerr.ErrInternal, nil, "session id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return coreerr.Wrap(coreerr.ErrTransient, err, "begin tx for session %s", sess.SessionID)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var risk RiskState
	if sess.RiskState != nil {
		risk = *sess.RiskState
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO sessions (id, user_id, mode, active_agent, title, created_at, updated_at, total_tokens, file_refs,
                       patient_id, session_type, confidentiality,
                       risk_is_risk_session, risk_level, risk_detected_at, risk_type, risk_last_check, risk_consecutive_safe_turns)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    mode = EXCLUDED.mode,
    active_agent = EXCLUDED.active_agent,
    title = EXCLUDED.title,
    updated_at = EXCLUDED.updated_at,
    total_tokens = EXCLUDED.total_tokens,
    file_refs = EXCLUDED.file_refs,
    patient_id = EXCLUDED.patient_id,
    session_type = EXCLUDED.session_type,
    confidentiality = EXCLUDED.confidentiality,
    risk_is_risk_session = EXCLUDED.risk_is_risk_session,
    risk_level = EXCLUDED.risk_level,
    risk_detected_at = EXCLUDED.risk_detected_at,
    risk_type = EXCLUDED.risk_type,
    risk_last_check = EXCLUDED.risk_last_check,
    risk_consecutive_safe_turns = EXCLUDED.risk_consecutive_safe_turns`,
		sess.SessionID, sess.UserID, sess.Mode, sess.ActiveAgent, sess.Title,
		sess.Metadata.CreatedAt, sess.Metadata.LastUpdated, sess.Metadata.TotalTokens, sess.Metadata.FileRefs,
		sess.ClinicalContext.PatientID, sess.ClinicalContext.SessionType, sess.ClinicalContext.Confidentiality,
		risk.IsRiskSession, risk.RiskLevel, nullableTime(risk.DetectedAt), risk.RiskType, nullableTime(risk.LastRiskCheck), risk.ConsecutiveSafeTurns,
	); err != nil {
		return coreerr.Wrap(coreerr.ErrTransient, err, "upsert session %s", sess.SessionID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_messages WHERE session_id = $1`, sess.SessionID); err != nil {
		return coreerr.Wrap(coreerr.ErrTransient, err, "clear messages for session %s", sess.SessionID)
	}

	for i, m := range sess.History {
		createdAt := m.Timestamp
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO session_messages (id, session_id, seq, role, content, agent, created_at, file_references, grounding_urls, reasoning_bullets, incomplete)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			m.ID, sess.SessionID, i, m.Role, m.Content, m.Agent, createdAt,
			m.FileReferences, m.GroundingURLs, m.ReasoningBullets, m.Incomplete,
		); err != nil {
			return coreerr.Wrap(coreerr.ErrTransient, err, "insert message %s for session %s", m.ID, sess.SessionID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return coreerr.Wrap(coreerr.ErrTransient, err, "commit session %s", sess.SessionID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return coreerr.Wrap(coreerr.ErrTransient, err, "delete session %s", sessionID)
	}
	if cmd.RowsAffected() == 0 {
		return coreerr.Wrap(coreerr.ErrNotFound, nil, "session %s not found", sessionID)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, pageSize int, pageToken string) (Page, error) {
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

	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, mode, active_agent, title, created_at, updated_at, total_tokens, file_refs,
       patient_id, session_type, confidentiality,
       risk_is_risk_session, risk_level, risk_detected_at, risk_type, risk_last_check, risk_consecutive_safe_turns
FROM sessions
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`, userID, pageSize+1, offset)
	if err != nil {
		return Page{}, coreerr.Wrap(coreerr.ErrTransient, err, "list sessions for user %s", userID)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return Page{}, coreerr.Wrap(coreerr.ErrTransient, err, "scan session row")
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return Page{}, coreerr.Wrap(coreerr.ErrTransient, err, "iterate sessions for user %s", userID)
	}

	page := Page{}
	if len(out) > pageSize {
		page.Sessions = out[:pageSize]
		page.NextPageToken = strconv.Itoa(offset + pageSize)
	} else {
		page.Sessions = out
	}
	return page, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	var risk RiskState
	var riskDetectedAt, riskLastCheck *time.Time

	if err := row.Scan(
		&sess.SessionID, &sess.UserID, &sess.Mode, &sess.ActiveAgent, &sess.Title,
		&sess.Metadata.CreatedAt, &sess.Metadata.LastUpdated, &sess.Metadata.TotalTokens, &sess.Metadata.FileRefs,
		&sess.ClinicalContext.PatientID, &sess.ClinicalContext.SessionType, &sess.ClinicalContext.Confidentiality,
		&risk.IsRiskSession, &risk.RiskLevel, &riskDetectedAt, &risk.RiskType, &riskLastCheck, &risk.ConsecutiveSafeTurns,
	); err != nil {
		return Session{}, err
	}

	if riskDetectedAt != nil {
		risk.DetectedAt = *riskDetectedAt
	}
	if riskLastCheck != nil {
		risk.LastRiskCheck = *riskLastCheck
	}
	if risk.IsRiskSession || !risk.DetectedAt.IsZero() {
		sess.RiskState = &risk
	}
	return sess, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}


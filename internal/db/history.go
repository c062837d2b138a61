package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/util"
)

// LoginRecord is one login attempt.
type LoginRecord struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	LoginURI  string    `json:"login_uri"`
	AgentID   string    `json:"agent_id,omitempty"`
	SimAddr   string    `json:"sim_addr,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRecord is one circuit session started after a successful login.
type SessionRecord struct {
	ID         int64      `json:"id"`
	AgentID    string     `json:"agent_id"`
	SimAddr    string     `json:"sim_addr"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	FinalState string     `json:"final_state,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// TransitionRecord is one handshake state change.
type TransitionRecord struct {
	SessionID int64     `json:"session_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	At        time.Time `json:"at"`
}

// ChatRecord is one chat line heard by a session.
type ChatRecord struct {
	SessionID int64     `json:"session_id"`
	FromName  string    `json:"from_name"`
	Message   string    `json:"message"`
	ChatType  uint8     `json:"chat_type"`
	At        time.Time `json:"at"`
}

// History stores logins, sessions, transitions and chat.
type History struct {
	db  *Database
	log zerolog.Logger
}

// NewHistory opens the history database at dbPath and migrates the schema.
func NewHistory(dbPath string) (*History, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	h := &History{
		db:  database,
		log: util.ComponentLogger("history"),
	}
	if err := h.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("history migration failed: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS logins (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name  TEXT NOT NULL,
		last_name   TEXT NOT NULL,
		login_uri   TEXT NOT NULL,
		agent_id    TEXT NOT NULL DEFAULT '',
		sim_addr    TEXT NOT NULL DEFAULT '',
		success     INTEGER NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id    TEXT NOT NULL,
		sim_addr    TEXT NOT NULL,
		started_at  DATETIME NOT NULL,
		ended_at    DATETIME,
		final_state TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		at          DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		from_name   TEXT NOT NULL,
		message     TEXT NOT NULL,
		chat_type   INTEGER NOT NULL,
		at          DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat(session_id);
	`
	_, err := h.db.Exec(schema)
	return err
}

// RecordLogin stores the outcome of a login attempt.
func (h *History) RecordLogin(p events.LoginPayload, success bool) (int64, error) {
	res, err := h.db.Exec(
		`INSERT INTO logins (first_name, last_name, login_uri, agent_id, sim_addr, success, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FirstName, p.LastName, p.LoginURI, p.AgentID, p.SimAddr, success, p.Reason, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record login: %w", err)
	}
	return res.LastInsertId()
}

// StartSession opens a session row and returns its id.
func (h *History) StartSession(agentID, simAddr string) (int64, error) {
	res, err := h.db.Exec(
		`INSERT INTO sessions (agent_id, sim_addr, started_at) VALUES (?, ?, ?)`,
		agentID, simAddr, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to start session record: %w", err)
	}
	return res.LastInsertId()
}

// EndSession closes a session row. A nil cause means a clean logout.
func (h *History) EndSession(id int64, final events.SessionState, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := h.db.Exec(
		`UPDATE sessions SET ended_at = ?, final_state = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), final.String(), msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session record: %w", err)
	}
	return nil
}

// RecordTransition stores one state change of a session.
func (h *History) RecordTransition(sessionID int64, p events.StateChangedPayload) error {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := h.db.Exec(
		`INSERT INTO transitions (session_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		sessionID, p.From.String(), p.To.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// RecordChat stores a chat line heard by a session.
func (h *History) RecordChat(sessionID int64, chat protocol.ChatFromSimulator) error {
	_, err := h.db.Exec(
		`INSERT INTO chat (session_id, from_name, message, chat_type, at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, chat.FromName, chat.Message, uint8(chat.ChatType), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record chat: %w", err)
	}
	return nil
}

// Record stores the session events the history keeps and ignores the rest.
// Events must arrive in receipt order for transitions to read correctly.
func (h *History) Record(sessionID int64, ev events.Event) error {
	switch p := ev.Payload.(type) {
	case events.StateChangedPayload:
		return h.RecordTransition(sessionID, p)
	case events.SessionErrorPayload:
		return h.EndSession(sessionID, p.State, p.Err)
	case events.MessagePayload:
		if m, ok := p.Message.(protocol.ChatFromSimulator); ok {
			return h.RecordChat(sessionID, m)
		}
	}
	if ev.Type == events.EventDisconnected {
		_, err := h.db.Exec(
			`UPDATE sessions SET ended_at = COALESCE(ended_at, ?), final_state = CASE WHEN final_state = '' THEN ? ELSE final_state END WHERE id = ?`,
			time.Now().UTC(), events.StateDisconnected.String(), sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to close session record: %w", err)
		}
	}
	return nil
}

// RecentLogins returns up to limit login attempts, newest first.
func (h *History) RecentLogins(limit int) ([]LoginRecord, error) {
	rows, err := h.db.Query(
		`SELECT id, first_name, last_name, login_uri, agent_id, sim_addr, success, reason, created_at
		 FROM logins ORDER BY id DESC LIMIT ?`, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query logins: %w", err)
	}
	defer rows.Close()

	var out []LoginRecord
	for rows.Next() {
		var r LoginRecord
		if err := rows.Scan(&r.ID, &r.FirstName, &r.LastName, &r.LoginURI, &r.AgentID,
			&r.SimAddr, &r.Success, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentSessions returns up to limit sessions, newest first.
func (h *History) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := h.db.Query(
		`SELECT id, agent_id, sim_addr, started_at, ended_at, final_state, error
		 FROM sessions ORDER BY id DESC LIMIT ?`, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var ended sql.NullTime
		if err := rows.Scan(&r.ID, &r.AgentID, &r.SimAddr, &r.StartedAt, &ended,
			&r.FinalState, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transitions returns the state changes of one session in order.
func (h *History) Transitions(sessionID int64) ([]TransitionRecord, error) {
	rows, err := h.db.Query(
		`SELECT session_id, from_state, to_state, at FROM transitions
		 WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.SessionID, &r.FromState, &r.ToState, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Chat returns the chat lines of one session in order.
func (h *History) Chat(sessionID int64) ([]ChatRecord, error) {
	rows, err := h.db.Query(
		`SELECT session_id, from_name, message, chat_type, at FROM chat
		 WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var r ChatRecord
		if err := rows.Scan(&r.SessionID, &r.FromName, &r.Message, &r.ChatType, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes logins and finished sessions older than days.
func (h *History) Prune(days int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return h.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM logins WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff)
		return err
	})
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}

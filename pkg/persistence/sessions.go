package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
)

// ErrSessionNotFound is returned when loading an unknown conversation.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists session state. Turns are append-only; collected
// data rows are upserted so accumulation stays monotonic across saves.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save writes the session, its new turns, and its collected data in one
// transaction. Saving the same state twice is a no-op.
func (s *SessionStore) Save(st *session.State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO sessions (conversation_id, language, current_stage, stage_user_turns, saturation, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			current_stage = excluded.current_stage,
			stage_user_turns = excluded.stage_user_turns,
			saturation = excluded.saturation,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		st.ConversationID, st.Language, string(st.CurrentStage), st.StageUserTurns,
		st.Saturation, boolToInt(st.Archived), st.CreatedAt.UTC(), st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	for seq, turn := range st.Turns {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO turns (conversation_id, seq, speaker, stage, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			st.ConversationID, seq, string(turn.Speaker), string(turn.Stage), turn.Text, turn.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", seq, err)
		}
	}

	for field, value := range st.Collected {
		_, err = tx.Exec(`
			INSERT INTO collected_data (conversation_id, field, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id, field) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			st.ConversationID, string(field), value, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert field %s: %w", field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session save: %w", err)
	}
	return nil
}

// Load reconstructs a session by conversation ID.
func (s *SessionStore) Load(conversationID string) (*session.State, error) {
	st := &session.State{
		ConversationID: conversationID,
		Collected:      make(map[stage.Field]string),
	}

	var currentStage string
	var archived int
	err := s.db.QueryRow(`
		SELECT language, current_stage, stage_user_turns, saturation, archived, created_at, updated_at
		FROM sessions WHERE conversation_id = ?`, conversationID,
	).Scan(&st.Language, &currentStage, &st.StageUserTurns, &st.Saturation, &archived, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	st.CurrentStage = stage.Stage(currentStage)
	st.Archived = archived != 0

	rows, err := s.db.Query(`
		SELECT speaker, stage, text, created_at
		FROM turns WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var speaker, turnStage, text string
		var ts time.Time
		if err := rows.Scan(&speaker, &turnStage, &text, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		st.Turns = append(st.Turns, session.Turn{
			Speaker:   session.Speaker(speaker),
			Stage:     stage.Stage(turnStage),
			Text:      text,
			Timestamp: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	fieldRows, err := s.db.Query(`
		SELECT field, value FROM collected_data WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collected data: %w", err)
	}
	defer func() { _ = fieldRows.Close() }()
	for fieldRows.Next() {
		var field, value string
		if err := fieldRows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan collected field: %w", err)
		}
		st.Collected[stage.Field(field)] = value
	}
	if err := fieldRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collected data: %w", err)
	}

	return st, nil
}

// Exists reports whether a conversation has been saved.
func (s *SessionStore) Exists(conversationID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM sessions WHERE conversation_id = ?`, conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return true, nil
}

// ListActive returns the IDs of unarchived sessions, oldest first.
func (s *SessionStore) ListActive() ([]string, error) {
	rows, err := s.db.Query(`SELECT conversation_id FROM sessions WHERE archived = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

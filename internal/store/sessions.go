// ABOUTME: Session and message persistence for conversation engines
// ABOUTME: Messages are keyed by session, history version and sequence number

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveSession records a session if it is not already known. An existing
// session keeps its version.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	query := `
		INSERT INTO sessions (id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Version,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, version, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`

	var session Session
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Version,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if session.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &session, nil
}

// BumpVersion sets the session's current history version.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) BumpVersion(ctx context.Context, id string, version uint64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET version = ?, updated_at = ? WHERE id = ?`,
		version, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating session version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("bumped session version", "session_id", id, "version", version)
	return nil
}

// AppendMessage records one history entry.
// Returns ErrDuplicateMessage if the (session, version, seq) slot is taken.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *SessionMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_messages (id, session_id, version, seq, role, content_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.Version,
		msg.Seq,
		msg.Role,
		msg.ContentJSON,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: session %s version %d seq %d", ErrDuplicateMessage, msg.SessionID, msg.Version, msg.Seq)
		}
		return fmt.Errorf("inserting session message: %w", err)
	}
	return nil
}

// ListMessages returns the messages of one history version in sequence order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, version uint64) ([]*SessionMessage, error) {
	query := `
		SELECT id, session_id, version, seq, role, content_json, created_at
		FROM session_messages
		WHERE session_id = ? AND version = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("querying session messages: %w", err)
	}
	defer rows.Close()

	var messages []*SessionMessage
	for rows.Next() {
		var msg SessionMessage
		var createdAtStr string
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Version,
			&msg.Seq,
			&msg.Role,
			&msg.ContentJSON,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning session message: %w", err)
		}
		if msg.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session messages: %w", err)
	}
	return messages, nil
}

// ABOUTME: Audit records for inbound out-of-band replies
// ABOUTME: Records the Message-ID, routed session and outcome of each reply

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveReply records an inbound reply and its routing status.
func (s *SQLiteStore) SaveReply(ctx context.Context, reply *RoutedReply) error {
	if reply.ID == "" {
		reply.ID = uuid.New().String()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now()
	}

	var sessionID sql.NullString
	if reply.SessionID != "" {
		sessionID = sql.NullString{String: reply.SessionID, Valid: true}
	}

	query := `
		INSERT INTO routed_replies (id, message_id, session_id, sender, subject, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		reply.ID,
		reply.MessageID,
		sessionID,
		reply.Sender,
		reply.Subject,
		string(reply.Status),
		formatTime(reply.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting routed reply: %w", err)
	}

	s.logger.Debug("recorded routed reply",
		"message_id", reply.MessageID,
		"session_id", reply.SessionID,
		"status", reply.Status)
	return nil
}

// ListReplies returns the most recent replies, newest first.
func (s *SQLiteStore) ListReplies(ctx context.Context, limit int) ([]*RoutedReply, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, message_id, session_id, sender, subject, status, created_at
		FROM routed_replies
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying routed replies: %w", err)
	}
	defer rows.Close()

	var replies []*RoutedReply
	for rows.Next() {
		var reply RoutedReply
		var sessionID sql.NullString
		var status, createdAtStr string
		if err := rows.Scan(
			&reply.ID,
			&reply.MessageID,
			&sessionID,
			&reply.Sender,
			&reply.Subject,
			&status,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning routed reply: %w", err)
		}
		reply.SessionID = sessionID.String
		reply.Status = ReplyStatus(status)
		if reply.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
			return nil, err
		}
		replies = append(replies, &reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routed replies: %w", err)
	}
	return replies, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageCols = `m.id, m.conversation_id, m.sender_id, m.content, m.type,
	COALESCE(m.attachment_url, ''), COALESCE(m.attachment_type, ''), COALESCE(m.attachment_name, ''),
	m.reply_to_id, m.created_at, m.edited_at, m.deleted_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type,
		&m.AttachmentURL, &m.AttachmentType, &m.AttachmentName,
		&m.ReplyToID, &m.CreatedAt, &m.EditedAt, &m.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// AppendMessage persists a message and, in the same transaction, advances the
// conversation's updated_at and the sender's read watermark to the message
// time. Partial failure rolls everything back.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO message
			(id, conversation_id, sender_id, content, type,
			 attachment_url, attachment_type, attachment_name, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type,
		m.AttachmentURL, m.AttachmentType, m.AttachmentName, m.ReplyToID, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversation SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		m.ConversationID, m.CreatedAt); err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}

	// The sender has read their own send.
	if _, err := tx.Exec(ctx,
		`UPDATE participant
		 SET last_read_at = GREATEST(COALESCE(last_read_at, to_timestamp(0)), $3)
		 WHERE conversation_id = $1 AND user_id = $2`,
		m.ConversationID, m.SenderID, m.CreatedAt); err != nil {
		return fmt.Errorf("advance sender watermark: %w", err)
	}

	return tx.Commit(ctx)
}

// MessagesIn lists a conversation's messages newest first, excluding
// tombstones. Queries limit+1 rows to report has-more.
func (s *Store) MessagesIn(ctx context.Context, conversationID uuid.UUID, limit int, before *time.Time) ([]Message, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM message m
		 WHERE m.conversation_id = $1 AND m.deleted_at IS NULL
		   AND ($2::timestamptz IS NULL OR m.created_at < $2)
		 ORDER BY m.created_at DESC
		 LIMIT $3`,
		conversationID, before, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type,
			&m.AttachmentURL, &m.AttachmentType, &m.AttachmentName,
			&m.ReplyToID, &m.CreatedAt, &m.EditedAt, &m.DeletedAt); err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// MessageByID returns a visible message scoped to its conversation, nil when
// absent or tombstoned.
func (s *Store) MessageByID(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM message m
		 WHERE m.id = $1 AND m.conversation_id = $2 AND m.deleted_at IS NULL`,
		messageID, conversationID)
	return scanMessage(row)
}

// LastMessages returns the newest non-deleted message per conversation.
func (s *Store) LastMessages(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]Message, error) {
	if len(conversationIDs) == 0 {
		return map[uuid.UUID]Message{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (m.conversation_id) `+messageCols+` FROM message m
		 WHERE m.conversation_id = ANY($1) AND m.deleted_at IS NULL
		 ORDER BY m.conversation_id, m.created_at DESC`,
		conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Message, len(conversationIDs))
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type,
			&m.AttachmentURL, &m.AttachmentType, &m.AttachmentName,
			&m.ReplyToID, &m.CreatedAt, &m.EditedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		out[m.ConversationID] = m
	}
	return out, rows.Err()
}

// CountUnread counts messages authored by others after the given watermark;
// a nil watermark counts everything not their own.
func (s *Store) CountUnread(ctx context.Context, conversationID uuid.UUID, userID string, sinceReadAt *time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message
		 WHERE conversation_id = $1 AND sender_id <> $2 AND deleted_at IS NULL
		   AND ($3::timestamptz IS NULL OR created_at > $3)`,
		conversationID, userID, sinceReadAt).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// UnreadCounts returns the viewer's unread count per conversation.
func (s *Store) UnreadCounts(ctx context.Context, userID string, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(conversationIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.conversation_id, COUNT(*)
		 FROM message m
		 JOIN participant p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		 WHERE m.conversation_id = ANY($2) AND m.sender_id <> $1 AND m.deleted_at IS NULL
		   AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
		 GROUP BY m.conversation_id`,
		userID, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int, len(conversationIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// TotalUnread counts unread messages across every conversation the user
// participates in.
func (s *Store) TotalUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM message m
		 JOIN participant p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		 WHERE m.sender_id <> $1 AND m.deleted_at IS NULL
		   AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("total unread: %w", err)
	}
	return n, nil
}

// CountDirectMessagesSince counts messages the sender put into the pair's
// DIRECT conversation since the given time. Tombstoned messages still count;
// deleting a message does not refund rule quota.
func (s *Store) CountDirectMessagesSince(ctx context.Context, senderID, recipientID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM message m
		 JOIN conversation c ON c.id = m.conversation_id
		 WHERE c.type = 'DIRECT' AND c.direct_key = $1
		   AND m.sender_id = $2 AND m.created_at >= $3`,
		directKey(senderID, recipientID), senderID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count direct messages: %w", err)
	}
	return n, nil
}

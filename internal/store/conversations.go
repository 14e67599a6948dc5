package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationCols = `c.id, c.type, COALESCE(c.name, ''), COALESCE(c.description, ''), COALESCE(c.avatar_url, ''), c.created_at, c.updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Type, &c.Name, &c.Description, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// FindDirectConversation returns the unique DIRECT conversation between the
// two users, nil when none exists.
func (s *Store) FindDirectConversation(ctx context.Context, a, b string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation c
		 WHERE c.type = 'DIRECT' AND c.direct_key = $1`,
		directKey(a, b))
	return scanConversation(row)
}

// ConversationByID returns a conversation, nil when absent.
func (s *Store) ConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation c WHERE c.id = $1`, id)
	return scanConversation(row)
}

// ConversationsForUser lists the conversations the user participates in,
// newest updated_at first. Queries limit+1 rows; the second return value
// reports whether more pages exist.
func (s *Store) ConversationsForUser(ctx context.Context, userID string, limit int, before *time.Time) ([]Conversation, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationCols+` FROM conversation c
		 JOIN participant p ON p.conversation_id = c.id
		 WHERE p.user_id = $1 AND ($2::timestamptz IS NULL OR c.updated_at < $2)
		 ORDER BY c.updated_at DESC
		 LIMIT $3`,
		userID, before, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.Description, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, false, err
		}
		out = append(out, c)
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

// ConversationIDsFor returns the ids of every conversation the user
// participates in. Used for session topic joins.
func (s *Store) ConversationIDsFor(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM participant WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateConversation inserts a conversation and its participants in one
// transaction. A DIRECT conversation claims the pair's direct_key; losing a
// concurrent race surfaces ErrConflict so the caller can read the winner.
func (s *Store) CreateConversation(ctx context.Context, conv *Conversation, participants []Participant) error {
	var key *string
	if conv.Type == ConversationDirect {
		if len(participants) != 2 {
			return fmt.Errorf("direct conversation needs exactly two participants, got %d", len(participants))
		}
		k := directKey(participants[0].UserID, participants[1].UserID)
		key = &k
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation (id, type, name, description, avatar_url, direct_key, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $7)`,
		conv.ID, conv.Type, conv.Name, conv.Description, conv.AvatarURL, key, conv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO participant (conversation_id, user_id, tenant_id, role, joined_at)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
			conv.ID, p.UserID, p.TenantID, p.Role, conv.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}

	return tx.Commit(ctx)
}

// Participant returns the membership row for a user in a conversation, nil
// when the user is not a participant.
func (s *Store) Participant(ctx context.Context, conversationID uuid.UUID, userID string) (*Participant, error) {
	var p Participant
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id, user_id, COALESCE(tenant_id, ''), role, joined_at, last_read_at
		 FROM participant WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID).
		Scan(&p.ConversationID, &p.UserID, &p.TenantID, &p.Role, &p.JoinedAt, &p.LastReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ParticipantsOf lists a conversation's participants.
func (s *Store) ParticipantsOf(ctx context.Context, conversationID uuid.UUID) ([]Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_id, COALESCE(tenant_id, ''), role, joined_at, last_read_at
		 FROM participant WHERE conversation_id = $1
		 ORDER BY joined_at, user_id`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.TenantID, &p.Role, &p.JoinedAt, &p.LastReadAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkRead advances the participant's read watermark. The watermark never
// moves backwards, which makes the operation idempotent. Returns false when
// the user is not a participant.
func (s *Store) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participant
		 SET last_read_at = GREATEST(COALESCE(last_read_at, to_timestamp(0)), $3)
		 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

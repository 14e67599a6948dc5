package store

import (
	"context"
	"fmt"
)

// InsertBlock records a block. Blocking the same user twice is a no-op.
func (s *Store) InsertBlock(ctx context.Context, b *BlockedUser) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blocked_user (user_id, blocked_user_id, reason, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 ON CONFLICT (user_id, blocked_user_id) DO NOTHING`,
		b.UserID, b.BlockedUserID, b.Reason, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// DeleteBlock removes a block. Returns false when no block existed.
func (s *Store) DeleteBlock(ctx context.Context, userID, blockedUserID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM blocked_user WHERE user_id = $1 AND blocked_user_id = $2`,
		userID, blockedUserID)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BlocksOf lists the blocks the user has placed, newest first.
func (s *Store) BlocksOf(ctx context.Context, userID string) ([]BlockedUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, blocked_user_id, COALESCE(reason, ''), created_at
		 FROM blocked_user WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []BlockedUser
	for rows.Next() {
		var b BlockedUser
		if err := rows.Scan(&b.UserID, &b.BlockedUserID, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BlockedEither reports whether a block exists between the two users in
// either direction. The record is asymmetric; the effect is symmetric.
func (s *Store) BlockedEither(ctx context.Context, a, b string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM blocked_user
			WHERE (user_id = $1 AND blocked_user_id = $2) OR (user_id = $2 AND blocked_user_id = $1)
		 )`, a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blocked either: %w", err)
	}
	return exists, nil
}

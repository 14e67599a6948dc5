package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Reads render PENDING rows past their expiry as EXPIRED without rewriting
// them; the request stays untouched until someone responds.
const contactRequestCols = `id, from_user_id, COALESCE(from_tenant_id, ''), to_user_id, COALESCE(to_tenant_id, ''),
	rule_id, COALESCE(message, ''),
	CASE WHEN status = 'PENDING' AND expires_at <= now() THEN 'EXPIRED' ELSE status END,
	created_at, responded_at, expires_at`

func scanContactRequest(row pgx.Row) (*ContactRequest, error) {
	var cr ContactRequest
	err := row.Scan(&cr.ID, &cr.FromUserID, &cr.FromTenantID, &cr.ToUserID, &cr.ToTenantID,
		&cr.RuleID, &cr.Message, &cr.Status, &cr.CreatedAt, &cr.RespondedAt, &cr.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cr, nil
}

// CreateContactRequest inserts a request. A second PENDING request for the
// same ordered pair violates the partial unique index and surfaces ErrConflict.
func (s *Store) CreateContactRequest(ctx context.Context, cr *ContactRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contact_request
			(id, from_user_id, from_tenant_id, to_user_id, to_tenant_id, rule_id, message, status, created_at, expires_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10)`,
		cr.ID, cr.FromUserID, cr.FromTenantID, cr.ToUserID, cr.ToTenantID,
		cr.RuleID, cr.Message, cr.Status, cr.CreatedAt, cr.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert contact request: %w", err)
	}
	return nil
}

// ContactRequestByID returns a request, nil when absent.
func (s *Store) ContactRequestByID(ctx context.Context, id uuid.UUID) (*ContactRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactRequestCols+` FROM contact_request WHERE id = $1`, id)
	return scanContactRequest(row)
}

// UpdateContactRequestStatus records a response. Returns false when the
// request no longer accepts one (already answered or expired).
func (s *Store) UpdateContactRequestStatus(ctx context.Context, id uuid.UUID, status RequestStatus, respondedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contact_request SET status = $2, responded_at = $3
		 WHERE id = $1 AND status = 'PENDING' AND expires_at > $3`,
		id, status, respondedAt)
	if err != nil {
		return false, fmt.Errorf("update contact request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) listContactRequests(ctx context.Context, where, userID string) ([]ContactRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactRequestCols+` FROM contact_request
		 WHERE `+where+` = $1
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list contact requests: %w", err)
	}
	defer rows.Close()

	var out []ContactRequest
	for rows.Next() {
		var cr ContactRequest
		if err := rows.Scan(&cr.ID, &cr.FromUserID, &cr.FromTenantID, &cr.ToUserID, &cr.ToTenantID,
			&cr.RuleID, &cr.Message, &cr.Status, &cr.CreatedAt, &cr.RespondedAt, &cr.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// ReceivedContactRequests lists requests addressed to the user, newest first.
func (s *Store) ReceivedContactRequests(ctx context.Context, userID string) ([]ContactRequest, error) {
	return s.listContactRequests(ctx, "to_user_id", userID)
}

// SentContactRequests lists requests the user sent, newest first.
func (s *Store) SentContactRequests(ctx context.Context, userID string) ([]ContactRequest, error) {
	return s.listContactRequests(ctx, "from_user_id", userID)
}

// PendingContactRequest returns the live PENDING request from one user to
// another, nil when none (expired ones do not count).
func (s *Store) PendingContactRequest(ctx context.Context, fromUserID, toUserID string) (*ContactRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactRequestCols+` FROM contact_request
		 WHERE from_user_id = $1 AND to_user_id = $2 AND status = 'PENDING' AND expires_at > now()`,
		fromUserID, toUserID)
	return scanContactRequest(row)
}

// AcceptedContactExists reports whether an ACCEPTED request links the two
// users in either direction.
func (s *Store) AcceptedContactExists(ctx context.Context, a, b string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM contact_request
			WHERE status = 'ACCEPTED'
			  AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
		 )`, a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("accepted contact exists: %w", err)
	}
	return exists, nil
}

package chatservice

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

// BlockUser vetoes messaging between the two users. Blocking twice is a
// no-op; blocking yourself is refused.
func (s *Service) BlockUser(ctx context.Context, userID, targetID, reason string) (*store.BlockedUser, error) {
	if targetID == "" {
		return nil, apperr.New(apperr.KindValidation, "userId is required").
			WithDetail("fields", []string{"userId"})
	}
	if targetID == userID {
		return nil, apperr.New(apperr.KindConflict, "cannot block yourself")
	}
	if len(reason) > maxShortMessageLen {
		return nil, apperr.Newf(apperr.KindValidation, "reason must be at most %d characters", maxShortMessageLen).
			WithDetail("fields", []string{"reason"})
	}

	b := &store.BlockedUser{
		UserID:        userID,
		BlockedUserID: targetID,
		Reason:        reason,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.InsertBlock(ctx, b); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("blockedUserId", targetID).Msg("user blocked")
	return b, nil
}

// UnblockUser lifts a block the user placed.
func (s *Service) UnblockUser(ctx context.Context, userID, targetID string) error {
	ok, err := s.store.DeleteBlock(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindNotFound, "block not found")
	}
	return nil
}

// ListBlocked lists the blocks the user has placed.
func (s *Service) ListBlocked(ctx context.Context, userID string) ([]store.BlockedUser, error) {
	return s.store.BlocksOf(ctx, userID)
}

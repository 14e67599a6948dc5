package chatservice

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

// CreateContactRequest opens the approval workflow toward a user the engine
// gates behind a contact request. Pairs that can already message, or that are
// denied outright, cannot open one.
func (s *Service) CreateContactRequest(ctx context.Context, from auth.Identity, toUserID, message string) (*store.ContactRequest, error) {
	if toUserID == "" || toUserID == from.UserID {
		return nil, apperr.New(apperr.KindValidation, "toUserId must name another user").
			WithDetail("fields", []string{"toUserId"})
	}
	if len(message) > maxShortMessageLen {
		return nil, apperr.Newf(apperr.KindValidation, "message must be at most %d characters", maxShortMessageLen).
			WithDetail("fields", []string{"message"})
	}

	recipient, err := s.engine.PrincipalOf(ctx, toUserID)
	if err != nil {
		return nil, err
	}
	decision, err := s.engine.CanSendMessage(ctx, principal(from), recipient)
	if err != nil {
		return nil, err
	}
	switch {
	case decision.Allowed:
		return nil, apperr.New(apperr.KindConflict, "messaging this user is already permitted")
	case !decision.RequiresApproval:
		return nil, apperr.Newf(apperr.KindForbidden, "messaging not permitted: %s", decision.Reason)
	case decision.Reason == "pending":
		return nil, apperr.New(apperr.KindConflict, "a pending request to this user already exists")
	}

	now := s.now().UTC()
	cr := &store.ContactRequest{
		ID:           uuid.New(),
		FromUserID:   from.UserID,
		FromTenantID: from.TenantID,
		ToUserID:     toUserID,
		ToTenantID:   recipient.TenantID,
		RuleID:       decision.Rule.ID,
		Message:      message,
		Status:       store.RequestPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(contactRequestTTL),
	}
	if err := s.store.CreateContactRequest(ctx, cr); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.New(apperr.KindConflict, "a pending request to this user already exists")
		}
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("requestId", cr.ID.String()).
		Str("toUserId", toUserID).
		Str("ruleId", cr.RuleID).
		Msg("contact request created")
	return cr, nil
}

// RespondContactRequest records the recipient's accept or decline. Requests
// that already got an answer, or ran past their expiry, refuse a response.
func (s *Service) RespondContactRequest(ctx context.Context, userID string, requestID uuid.UUID, action string) (*store.ContactRequest, error) {
	var status store.RequestStatus
	switch action {
	case "accept":
		status = store.RequestAccepted
	case "decline":
		status = store.RequestDeclined
	default:
		return nil, apperr.Newf(apperr.KindValidation, "action must be accept or decline, got %q", action).
			WithDetail("fields", []string{"action"})
	}

	cr, err := s.store.ContactRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if cr == nil || cr.ToUserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "contact request not found")
	}

	ok, err := s.store.UpdateContactRequestStatus(ctx, requestID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "request already answered or expired")
	}
	return s.store.ContactRequestByID(ctx, requestID)
}

// ReceivedContactRequests lists requests addressed to the user.
func (s *Service) ReceivedContactRequests(ctx context.Context, userID string) ([]store.ContactRequest, error) {
	return s.store.ReceivedContactRequests(ctx, userID)
}

// SentContactRequests lists requests the user has sent.
func (s *Service) SentContactRequests(ctx context.Context, userID string) ([]store.ContactRequest, error) {
	return s.store.SentContactRequests(ctx, userID)
}

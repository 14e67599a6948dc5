// Package chatservice orchestrates conversations, messages, read watermarks,
// contact requests and blocks. It owns validation and persistence ordering;
// authorization questions are delegated to the permission engine and fanout
// stays with the session hub.
package chatservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/permission"
	"github.com/switchboard-io/switchboard-api/internal/presence"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

const (
	maxContentLen      = 10000
	maxParticipants    = 50
	maxListLimit       = 100
	defaultListLimit   = 20
	contactRequestTTL  = 7 * 24 * time.Hour
	maxShortMessageLen = 500
)

type Service struct {
	store    *store.Store
	presence *presence.Tracker
	engine   *permission.Engine
	now      func() time.Time
}

func New(st *store.Store, tr *presence.Tracker, eng *permission.Engine) *Service {
	return &Service{store: st, presence: tr, engine: eng, now: time.Now}
}

func principal(id auth.Identity) permission.Principal {
	return permission.Principal{
		UserID:       id.UserID,
		TenantID:     id.TenantID,
		TenantRole:   id.TenantRole,
		PlatformRole: id.PlatformRole,
	}
}

type CreateConversationInput struct {
	Type           store.ConversationType `json:"type"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	AvatarURL      string                 `json:"avatarUrl"`
	ParticipantIDs []string               `json:"participantIds"`
}

// CreateConversation gates, then creates, a conversation. Creating a DIRECT
// conversation is idempotent per pair: an existing one is returned, and a
// concurrent-create collision resolves by reading the winner.
func (s *Service) CreateConversation(ctx context.Context, creator auth.Identity, in CreateConversationInput) (*ConversationView, error) {
	others, err := normalizeParticipants(creator.UserID, in.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown conversation type %q", in.Type).
			WithDetail("fields", []string{"type"})
	}
	if in.Type == store.ConversationDirect && len(others) != 1 {
		return nil, apperr.New(apperr.KindValidation, "a direct conversation needs exactly one other participant").
			WithDetail("fields", []string{"participantIds"})
	}

	decision, err := s.engine.CanCreateConversation(ctx, principal(creator), others, in.Type)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denialError(decision, others)
	}

	if in.Type == store.ConversationDirect {
		if existing, err := s.store.FindDirectConversation(ctx, creator.UserID, others[0]); err != nil {
			return nil, err
		} else if existing != nil {
			return s.singleView(ctx, creator.UserID, existing)
		}
	}

	now := s.now().UTC()
	conv := &store.Conversation{
		ID:          uuid.New(),
		Type:        in.Type,
		Name:        in.Name,
		Description: in.Description,
		AvatarURL:   in.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	users, err := s.store.UsersByIDs(ctx, others)
	if err != nil {
		return nil, err
	}
	participants := make([]store.Participant, 0, len(others)+1)
	participants = append(participants, store.Participant{
		ConversationID: conv.ID, UserID: creator.UserID, TenantID: creator.TenantID, Role: store.RoleOwner,
	})
	for _, id := range others {
		participants = append(participants, store.Participant{
			ConversationID: conv.ID, UserID: id, TenantID: users[id].TenantID, Role: store.RoleMember,
		})
	}

	if err := s.store.CreateConversation(ctx, conv, participants); err != nil {
		if errors.Is(err, store.ErrConflict) && in.Type == store.ConversationDirect {
			// A concurrent create claimed the pair first; the winner is the
			// conversation.
			winner, ferr := s.store.FindDirectConversation(ctx, creator.UserID, others[0])
			if ferr == nil && winner != nil {
				return s.singleView(ctx, creator.UserID, winner)
			}
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.New(apperr.KindConflict, "conversation already exists")
		}
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("conversationId", conv.ID.String()).
		Str("type", string(conv.Type)).
		Int("participants", len(participants)).
		Msg("conversation created")

	return s.singleView(ctx, creator.UserID, conv)
}

type SendMessageInput struct {
	ConversationID uuid.UUID         `json:"conversationId"`
	Content        string            `json:"content"`
	Type           store.MessageType `json:"type"`
	ReplyToID      *uuid.UUID        `json:"replyToId"`
	AttachmentURL  string            `json:"attachmentUrl"`
	AttachmentType string            `json:"attachmentType"`
	AttachmentName string            `json:"attachmentName"`
}

// SendMessage persists a message for a participant. The message insert, the
// conversation's updated_at bump and the sender's own read watermark advance
// in one transaction.
func (s *Service) SendMessage(ctx context.Context, sender auth.Identity, in SendMessageInput) (*MessageView, error) {
	ok, err := s.engine.IsParticipant(ctx, sender.UserID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindForbidden, "not a participant of this conversation")
	}

	if len(in.Content) == 0 || len(in.Content) > maxContentLen {
		return nil, apperr.Newf(apperr.KindValidation, "content must be 1..%d characters", maxContentLen).
			WithDetail("fields", []string{"content"})
	}
	if in.Type == "" {
		in.Type = store.MessageText
	}
	if !in.Type.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown message type %q", in.Type).
			WithDetail("fields", []string{"type"})
	}
	if in.ReplyToID != nil {
		parent, err := s.store.MessageByID(ctx, in.ConversationID, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, apperr.New(apperr.KindValidation, "replyToId must reference a message in this conversation").
				WithDetail("fields", []string{"replyToId"})
		}
	}

	msg := &store.Message{
		ID:             uuid.New(),
		ConversationID: in.ConversationID,
		SenderID:       sender.UserID,
		Content:        in.Content,
		Type:           in.Type,
		AttachmentURL:  in.AttachmentURL,
		AttachmentType: in.AttachmentType,
		AttachmentName: in.AttachmentName,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	users, err := s.store.UsersByIDs(ctx, []string{sender.UserID})
	if err != nil {
		return nil, err
	}
	v := messageView(*msg, users)
	return &v, nil
}

// GetConversations lists the user's conversations newest-activity first, each
// enriched with participants, presence, the last visible message and the
// viewer's unread count.
func (s *Service) GetConversations(ctx context.Context, userID string, limit int, cursor string) ([]ConversationView, ConversationsPage, error) {
	limit = clampLimit(limit)
	before, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, ConversationsPage{}, apperr.Wrap(apperr.KindValidation, "invalid cursor", err)
	}

	convs, hasMore, err := s.store.ConversationsForUser(ctx, userID, limit, before)
	if err != nil {
		return nil, ConversationsPage{}, err
	}

	views, err := s.buildViews(ctx, userID, convs)
	if err != nil {
		return nil, ConversationsPage{}, err
	}

	total, err := s.store.TotalUnread(ctx, userID)
	if err != nil {
		return nil, ConversationsPage{}, err
	}

	page := ConversationsPage{Page: Page{HasMore: hasMore}, TotalUnread: total}
	if hasMore && len(convs) > 0 {
		page.NextCursor = store.EncodeCursor(convs[len(convs)-1].UpdatedAt)
	}
	return views, page, nil
}

// GetConversation returns a single conversation the user participates in.
// Membership is probed directly; non-participants see NOT_FOUND.
func (s *Service) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*ConversationView, error) {
	p, err := s.store.Participant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.New(apperr.KindNotFound, "conversation not found")
	}
	conv, err := s.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperr.New(apperr.KindNotFound, "conversation not found")
	}
	return s.singleView(ctx, userID, conv)
}

// GetMessages pages through a conversation's visible messages newest first.
func (s *Service) GetMessages(ctx context.Context, userID string, conversationID uuid.UUID, limit int, cursor string) ([]MessageView, Page, error) {
	ok, err := s.engine.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, Page{}, err
	}
	if !ok {
		return nil, Page{}, apperr.New(apperr.KindNotFound, "conversation not found")
	}

	limit = clampLimit(limit)
	before, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, Page{}, apperr.Wrap(apperr.KindValidation, "invalid cursor", err)
	}

	msgs, hasMore, err := s.store.MessagesIn(ctx, conversationID, limit, before)
	if err != nil {
		return nil, Page{}, err
	}

	senderIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
	}
	users, err := s.store.UsersByIDs(ctx, senderIDs)
	if err != nil {
		return nil, Page{}, err
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView(m, users))
	}

	page := Page{HasMore: hasMore}
	if hasMore && len(msgs) > 0 {
		page.NextCursor = store.EncodeCursor(msgs[len(msgs)-1].CreatedAt)
	}
	return views, page, nil
}

// GetMessage returns a single visible message scoped to a conversation.
func (s *Service) GetMessage(ctx context.Context, userID string, conversationID, messageID uuid.UUID) (*MessageView, error) {
	ok, err := s.engine.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "conversation not found")
	}
	m, err := s.store.MessageByID(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.New(apperr.KindNotFound, "message not found")
	}
	users, err := s.store.UsersByIDs(ctx, []string{m.SenderID})
	if err != nil {
		return nil, err
	}
	v := messageView(*m, users)
	return &v, nil
}

// MarkAsRead advances the viewer's read watermark to now. Idempotent; the
// watermark never moves backwards.
func (s *Service) MarkAsRead(ctx context.Context, userID string, conversationID uuid.UUID) (time.Time, error) {
	at := s.now().UTC()
	ok, err := s.store.MarkRead(ctx, conversationID, userID, at)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, apperr.New(apperr.KindForbidden, "not a participant of this conversation")
	}
	return at, nil
}

// GetUnreadCount sums unread messages across every conversation the user
// participates in.
func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.TotalUnread(ctx, userID)
}

// GetParticipants lists a conversation's participants with cache and presence
// enrichment. The viewer must be a participant.
func (s *Service) GetParticipants(ctx context.Context, userID string, conversationID uuid.UUID) ([]ParticipantView, error) {
	ok, err := s.engine.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "conversation not found")
	}
	parts, err := s.store.ParticipantsOf(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.participantViews(ctx, parts)
}

// ParticipantIDs returns the user ids of a conversation's participants. Used
// by the session hub for user-topic fanout.
func (s *Service) ParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]string, error) {
	parts, err := s.store.ParticipantsOf(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

// IsParticipant exposes the membership probe to the session surface.
func (s *Service) IsParticipant(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error) {
	return s.engine.IsParticipant(ctx, userID, conversationID)
}

// ConversationIDsFor lists the conversations a user belongs to, for session
// topic joins.
func (s *Service) ConversationIDsFor(ctx context.Context, userID string) ([]uuid.UUID, error) {
	return s.store.ConversationIDsFor(ctx, userID)
}

// CanMessage answers the REST probe with the engine's decision.
func (s *Service) CanMessage(ctx context.Context, sender auth.Identity, targetUserID string) (permission.Decision, error) {
	recipient, err := s.engine.PrincipalOf(ctx, targetUserID)
	if err != nil {
		return permission.Decision{}, err
	}
	return s.engine.CanSendMessage(ctx, principal(sender), recipient)
}

// singleView builds the view of one conversation for a viewer.
func (s *Service) singleView(ctx context.Context, viewerID string, conv *store.Conversation) (*ConversationView, error) {
	views, err := s.buildViews(ctx, viewerID, []store.Conversation{*conv})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// buildViews enriches conversations with participants, presence, last message
// and the viewer's unread count, batching lookups across the page.
func (s *Service) buildViews(ctx context.Context, viewerID string, convs []store.Conversation) ([]ConversationView, error) {
	ids := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	partsByConv := make(map[uuid.UUID][]store.Participant, len(convs))
	userIDs := make(map[string]struct{})
	for _, id := range ids {
		parts, err := s.store.ParticipantsOf(ctx, id)
		if err != nil {
			return nil, err
		}
		partsByConv[id] = parts
		for _, p := range parts {
			userIDs[p.UserID] = struct{}{}
		}
	}

	lasts, err := s.store.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range lasts {
		userIDs[m.SenderID] = struct{}{}
	}

	allIDs := make([]string, 0, len(userIDs))
	for id := range userIDs {
		allIDs = append(allIDs, id)
	}
	users, err := s.store.UsersByIDs(ctx, allIDs)
	if err != nil {
		return nil, err
	}

	unread, err := s.store.UnreadCounts(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		pv := make([]ParticipantView, 0, len(partsByConv[c.ID]))
		for _, p := range partsByConv[c.ID] {
			online, err := s.presence.IsOnline(ctx, p.UserID, p.TenantID)
			if err != nil {
				// Presence is best-effort; a bus hiccup must not fail reads.
				log.Ctx(ctx).Debug().Err(err).Str("userId", p.UserID).Msg("presence lookup failed")
			}
			pv = append(pv, ParticipantView{
				UserID:     p.UserID,
				TenantID:   p.TenantID,
				Role:       p.Role,
				JoinedAt:   p.JoinedAt,
				LastReadAt: p.LastReadAt,
				User:       userView(p.UserID, users),
				IsOnline:   online,
			})
		}

		v := ConversationView{
			ID:           c.ID,
			Type:         c.Type,
			Name:         c.Name,
			Description:  c.Description,
			AvatarURL:    c.AvatarURL,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			Participants: pv,
			UnreadCount:  unread[c.ID],
		}
		if m, ok := lasts[c.ID]; ok {
			mv := messageView(m, users)
			v.LastMessage = &mv
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) participantViews(ctx context.Context, parts []store.Participant) ([]ParticipantView, error) {
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	users, err := s.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ParticipantView, 0, len(parts))
	for _, p := range parts {
		online, err := s.presence.IsOnline(ctx, p.UserID, p.TenantID)
		if err != nil {
			log.Ctx(ctx).Debug().Err(err).Str("userId", p.UserID).Msg("presence lookup failed")
		}
		out = append(out, ParticipantView{
			UserID:     p.UserID,
			TenantID:   p.TenantID,
			Role:       p.Role,
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
			User:       userView(p.UserID, users),
			IsOnline:   online,
		})
	}
	return out, nil
}

// normalizeParticipants dedupes the requested participant list and drops the
// creator, who joins implicitly as OWNER.
func normalizeParticipants(creatorID string, ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == creatorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 || len(out) > maxParticipants {
		return nil, apperr.Newf(apperr.KindValidation, "participantIds must name 1..%d other users", maxParticipants).
			WithDetail("fields", []string{"participantIds"})
	}
	return out, nil
}

// denialError maps an engine denial onto the error taxonomy.
func denialError(d permission.Decision, others []string) error {
	if d.RequiresApproval {
		e := apperr.New(apperr.KindContactRequestRequired, "a contact request must be accepted before messaging this user")
		if len(others) == 1 {
			e.WithDetail("targetUserId", others[0])
		}
		return e
	}
	return apperr.Newf(apperr.KindForbidden, "messaging not permitted: %s", d.Reason)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

package chatservice

import (
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard-api/internal/store"
)

// Views are the wire-ready shapes the REST and session surfaces emit. They
// denormalize the user cache onto participants and messages so clients never
// join.

type UserView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type ParticipantView struct {
	UserID     string                `json:"userId"`
	TenantID   string                `json:"tenantId,omitempty"`
	Role       store.ParticipantRole `json:"role"`
	JoinedAt   time.Time             `json:"joinedAt"`
	LastReadAt *time.Time            `json:"lastReadAt,omitempty"`
	User       UserView              `json:"user"`
	IsOnline   bool                  `json:"isOnline"`
}

type MessageView struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID uuid.UUID         `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Sender         UserView          `json:"sender"`
	Content        string            `json:"content"`
	Type           store.MessageType `json:"type"`
	AttachmentURL  string            `json:"attachmentUrl,omitempty"`
	AttachmentType string            `json:"attachmentType,omitempty"`
	AttachmentName string            `json:"attachmentName,omitempty"`
	ReplyToID      *uuid.UUID        `json:"replyToId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	EditedAt       *time.Time        `json:"editedAt,omitempty"`
}

type ConversationView struct {
	ID           uuid.UUID              `json:"id"`
	Type         store.ConversationType `json:"type"`
	Name         string                 `json:"name,omitempty"`
	Description  string                 `json:"description,omitempty"`
	AvatarURL    string                 `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	Participants []ParticipantView      `json:"participants"`
	LastMessage  *MessageView           `json:"lastMessage,omitempty"`
	UnreadCount  int                    `json:"unreadCount"`
}

// Page is the pagination metadata attached to listings.
type Page struct {
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ConversationsPage extends Page for the conversations listing, where clients
// read totalUnread even when it is zero.
type ConversationsPage struct {
	Page
	TotalUnread int `json:"totalUnread"`
}

// userView renders the cache snapshot for a user id. A row the sync has not
// delivered yet renders with the "Unknown" fallback name.
func userView(id string, users map[string]store.User) UserView {
	u, ok := users[id]
	if !ok {
		return UserView{ID: id, DisplayName: "Unknown"}
	}
	return UserView{
		ID:          u.ID,
		DisplayName: u.DisplayName(),
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
	}
}

func messageView(m store.Message, users map[string]store.User) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sender:         userView(m.SenderID, users),
		Content:        m.Content,
		Type:           m.Type,
		AttachmentURL:  m.AttachmentURL,
		AttachmentType: m.AttachmentType,
		AttachmentName: m.AttachmentName,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
}

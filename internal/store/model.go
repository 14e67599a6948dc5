package store

import (
	"time"

	"github.com/google/uuid"
)

// Conversation flavors. DIRECT and GROUP are general-purpose; SUPPORT bypasses
// messaging rules; ANNOUNCEMENT is reserved for an administrative pathway and
// cannot be created through the normal endpoints.
type ConversationType string

const (
	ConversationDirect       ConversationType = "DIRECT"
	ConversationGroup        ConversationType = "GROUP"
	ConversationSupport      ConversationType = "SUPPORT"
	ConversationAnnouncement ConversationType = "ANNOUNCEMENT"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationSupport, ConversationAnnouncement:
		return true
	}
	return false
}

type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "OWNER"
	RoleAdmin  ParticipantRole = "ADMIN"
	RoleMember ParticipantRole = "MEMBER"
)

type MessageType string

const (
	MessageText       MessageType = "TEXT"
	MessageSystem     MessageType = "SYSTEM"
	MessageAttachment MessageType = "ATTACHMENT"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageSystem, MessageAttachment:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestDeclined RequestStatus = "DECLINED"
	RequestExpired  RequestStatus = "EXPIRED"
)

// User is the denormalized cache row for a known user. Populated by an
// external sync; never authoritative for authentication. The tenant and
// platform fields let the permission engine resolve a principal when only a
// user id is known.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	TenantID     string `json:"tenantId,omitempty"`
	TenantRole   string `json:"tenantRole,omitempty"`
	PlatformRole string `json:"platformRole,omitempty"`
}

// DisplayName renders the best human-readable name the cache can offer.
// Missing rows fall back to "Unknown" at the enrichment layer.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Email != "":
		return u.Email
	default:
		return "Unknown"
	}
}

type Conversation struct {
	ID          uuid.UUID        `json:"id"`
	Type        ConversationType `json:"type"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	AvatarURL   string           `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type Participant struct {
	ConversationID uuid.UUID       `json:"conversationId"`
	UserID         string          `json:"userId"`
	TenantID       string          `json:"tenantId,omitempty"`
	Role           ParticipantRole `json:"role"`
	JoinedAt       time.Time       `json:"joinedAt"`
	LastReadAt     *time.Time      `json:"lastReadAt,omitempty"`
}

type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	AttachmentURL  string      `json:"attachmentUrl,omitempty"`
	AttachmentType string      `json:"attachmentType,omitempty"`
	AttachmentName string      `json:"attachmentName,omitempty"`
	ReplyToID      *uuid.UUID  `json:"replyToId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`
}

// MessagingRule gates who may message whom. Rules are evaluated by priority
// descending; the first matching active rule decides.
type MessagingRule struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	SourceScope       string   `json:"sourceScope"` // tenant | platform
	SourceRoles       []string `json:"sourceRoles"`
	TargetScope       string   `json:"targetScope"`
	TargetRoles       []string `json:"targetRoles"`
	RequireApproval   bool     `json:"requireApproval"`
	MaxMessagesPerDay *int     `json:"maxMessagesPerDay,omitempty"`
	IsActive          bool     `json:"isActive"`
	Priority          int      `json:"priority"`
}

type ContactRequest struct {
	ID           uuid.UUID     `json:"id"`
	FromUserID   string        `json:"fromUserId"`
	FromTenantID string        `json:"fromTenantId,omitempty"`
	ToUserID     string        `json:"toUserId"`
	ToTenantID   string        `json:"toTenantId,omitempty"`
	RuleID       string        `json:"ruleId"`
	Message      string        `json:"message,omitempty"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	RespondedAt  *time.Time    `json:"respondedAt,omitempty"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

type BlockedUser struct {
	UserID        string    `json:"userId"`
	BlockedUserID string    `json:"blockedUserId"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

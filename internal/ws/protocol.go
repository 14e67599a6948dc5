// Package ws is the realtime surface: one session per WebSocket connection,
// a hub tracking sessions and their topic subscriptions, and fanout across
// nodes via the bus. Frames are JSON text messages of the form
// {"event": "...", "data": {...}}.
package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client to server events.
const (
	evMessageSend       = "message:send"
	evTypingStart       = "typing:start"
	evTypingStop        = "typing:stop"
	evMessagesRead      = "messages:read"
	evConversationJoin  = "conversation:join"
	evConversationLeave = "conversation:leave"
	evPresenceGet       = "presence:get"
)

// Server to client events. messages:read flows both ways.
const (
	evMessageNew         = "message:new"
	evMessageSent        = "message:sent"
	evMessageError       = "message:error"
	evTypingUpdate       = "typing:update"
	evPresenceOnline     = "presence:online"
	evPresenceOffline    = "presence:offline"
	evPresenceList       = "presence:list"
	evConversationJoined = "conversation:joined"
	evConversationLeft   = "conversation:left"
	evConversationError  = "conversation:error"
)

// Frame is the wire shape of every session message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func marshalFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// envelope is the bus payload for fanout. ExcludeUser lets typing and read
// notifications skip their originator on every node.
type envelope struct {
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	ExcludeUser string          `json:"excludeUser,omitempty"`
}

// Topic naming shared by all nodes.

func topicUser(userID string) string { return "user:" + userID }

func topicTenant(tenantID string) string { return "tenant:" + tenantID }

func topicConversation(id uuid.UUID) string { return "conversation:" + id.String() }

// Inbound payloads.

type sendPayload struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	ReplyToID      *uuid.UUID `json:"replyToId"`
	AttachmentURL  string     `json:"attachmentUrl"`
	AttachmentType string     `json:"attachmentType"`
	AttachmentName string     `json:"attachmentName"`
}

type conversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

// Outbound payloads.

type messageSentPayload struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type messageErrorPayload struct {
	Error          string     `json:"error"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}

type typingUpdatePayload struct {
	UserID         string    `json:"userId"`
	ConversationID uuid.UUID `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
}

type messagesReadPayload struct {
	UserID         string    `json:"userId"`
	ConversationID uuid.UUID `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

type presenceChangePayload struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId,omitempty"`
}

type presenceListPayload struct {
	TenantID    string   `json:"tenantId,omitempty"`
	OnlineUsers []string `json:"onlineUsers"`
}

type conversationAckPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type conversationErrorPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Error          string    `json:"error"`
}

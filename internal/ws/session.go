package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 << 10
	sendBuffer = 256
)

// Session is one authenticated WebSocket connection. Inbound events are
// handled serially on the read loop, preserving the client's intent order;
// outbound frames flow through the send channel and the write loop. The send
// channel is never closed: hub fanout may race session teardown, so close is
// signalled through ctx cancellation instead.
type Session struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	svc      *chatservice.Service
	identity auth.Identity
	logger   zerolog.Logger

	// Guarded by hub.mu.
	topics map[string]struct{}

	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, hub *Hub, svc *chatservice.Service, id auth.Identity) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		conn:     conn,
		hub:      hub,
		svc:      svc,
		identity: id,
		topics:   make(map[string]struct{}),
		send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.logger = log.With().Str("sid", s.id).Str("uid", id.UserID).Logger()
	s.ctx = s.logger.WithContext(s.ctx)
	return s
}

// run performs the connected-entry actions, then pumps frames until the
// connection drops.
func (s *Session) run() {
	go s.writeLoop()

	cameOnline := s.hub.register(s)

	s.hub.join(s, topicUser(s.identity.UserID))
	if s.identity.TenantID != "" {
		s.hub.join(s, topicTenant(s.identity.TenantID))
	}

	if cameOnline {
		if err := s.hub.presence.SetOnline(s.ctx, s.identity.UserID, s.identity.TenantID); err != nil {
			s.logger.Warn().Err(err).Msg("presence online update failed")
		}
		if s.identity.TenantID != "" {
			s.hub.publish(s.ctx, topicTenant(s.identity.TenantID), evPresenceOnline,
				presenceChangePayload{UserID: s.identity.UserID, TenantID: s.identity.TenantID}, "")
		}
	}

	ids, err := s.svc.ConversationIDsFor(s.ctx, s.identity.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("loading conversation memberships failed")
	}
	for _, id := range ids {
		s.hub.join(s, topicConversation(id))
	}

	s.logger.Info().Int("conversations", len(ids)).Msg("session connected")
	s.readLoop()
}

func (s *Session) readLoop() {
	defer s.close()

	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("session read error")
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queue hands a frame to the write loop. Frames for a closed session are
// dropped; a full buffer means the consumer stopped draining, and the session
// is dropped rather than blocking fanout. Safe to call concurrently with
// close, which never touches the send channel.
func (s *Session) queue(frame []byte) {
	select {
	case <-s.ctx.Done():
	case s.send <- frame:
	default:
		s.logger.Warn().Msg("send buffer full, dropping slow session")
		s.close()
	}
}

// emit marshals and queues a server event for this session only.
func (s *Session) emit(event string, data any) {
	frame, err := marshalFrame(event, data)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("marshal frame")
		return
	}
	s.queue(frame)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.hub.unregister(s)
		s.logger.Info().Msg("session closed")
	})
}

func (s *Session) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn().Err(err).Msg("malformed frame")
		return
	}

	switch f.Event {
	case evMessageSend:
		s.handleSend(f.Data)
	case evTypingStart:
		s.handleTyping(f.Data, true)
	case evTypingStop:
		s.handleTyping(f.Data, false)
	case evMessagesRead:
		s.handleRead(f.Data)
	case evConversationJoin:
		s.handleJoin(f.Data)
	case evConversationLeave:
		s.handleLeave(f.Data)
	case evPresenceGet:
		s.handlePresenceGet()
	default:
		s.logger.Warn().Str("event", f.Event).Msg("ignoring unknown event")
	}
}

// handleSend persists the message, then fans message:new out on the
// conversation topic and on every other participant's user topic. The double
// publish is deliberate redundancy; clients dedupe by message id.
func (s *Session) handleSend(data json.RawMessage) {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.emit(evMessageError, messageErrorPayload{Error: "malformed message:send payload"})
		return
	}

	view, err := s.svc.SendMessage(s.ctx, s.identity, chatservice.SendMessageInput{
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Type:           store.MessageType(p.Type),
		ReplyToID:      p.ReplyToID,
		AttachmentURL:  p.AttachmentURL,
		AttachmentType: p.AttachmentType,
		AttachmentName: p.AttachmentName,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("conversationId", p.ConversationID.String()).Msg("send rejected")
		s.emit(evMessageError, messageErrorPayload{
			Error:          apperr.From(err).Message,
			ConversationID: &p.ConversationID,
		})
		return
	}

	participants, err := s.svc.ParticipantIDs(s.ctx, view.ConversationID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("participant fanout lookup failed")
	}
	s.hub.BroadcastMessage(s.ctx, view, participants)

	s.emit(evMessageSent, messageSentPayload{
		MessageID:      view.ID,
		ConversationID: view.ConversationID,
		Timestamp:      view.CreatedAt,
	})

	if err := s.hub.presence.SetTyping(s.ctx, view.ConversationID.String(), s.identity.UserID, false); err != nil {
		s.logger.Debug().Err(err).Msg("typing clear failed")
	}
}

func (s *Session) handleTyping(data json.RawMessage, isTyping bool) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ok, err := s.svc.IsParticipant(s.ctx, s.identity.UserID, p.ConversationID)
	if err != nil || !ok {
		return
	}

	if err := s.hub.presence.SetTyping(s.ctx, p.ConversationID.String(), s.identity.UserID, isTyping); err != nil {
		s.logger.Debug().Err(err).Msg("typing update failed")
	}
	s.hub.publish(s.ctx, topicConversation(p.ConversationID), evTypingUpdate, typingUpdatePayload{
		UserID:         s.identity.UserID,
		ConversationID: p.ConversationID,
		IsTyping:       isTyping,
	}, s.identity.UserID)
}

func (s *Session) handleRead(data json.RawMessage) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	readAt, err := s.svc.MarkAsRead(s.ctx, s.identity.UserID, p.ConversationID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("mark read rejected")
		return
	}
	s.hub.publish(s.ctx, topicConversation(p.ConversationID), evMessagesRead, messagesReadPayload{
		UserID:         s.identity.UserID,
		ConversationID: p.ConversationID,
		ReadAt:         readAt,
	}, s.identity.UserID)
}

func (s *Session) handleJoin(data json.RawMessage) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ok, err := s.svc.IsParticipant(s.ctx, s.identity.UserID, p.ConversationID)
	if err != nil {
		s.emit(evConversationError, conversationErrorPayload{ConversationID: p.ConversationID, Error: "join failed"})
		return
	}
	if !ok {
		s.emit(evConversationError, conversationErrorPayload{ConversationID: p.ConversationID, Error: "not a participant"})
		return
	}
	s.hub.join(s, topicConversation(p.ConversationID))
	s.emit(evConversationJoined, conversationAckPayload{ConversationID: p.ConversationID})
}

func (s *Session) handleLeave(data json.RawMessage) {
	var p conversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.hub.leave(s, topicConversation(p.ConversationID))
	s.emit(evConversationLeft, conversationAckPayload{ConversationID: p.ConversationID})
}

func (s *Session) handlePresenceGet() {
	users, err := s.hub.presence.OnlineUsers(s.ctx, s.identity.TenantID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("presence list failed")
		users = []string{}
	}
	s.emit(evPresenceList, presenceListPayload{TenantID: s.identity.TenantID, OnlineUsers: users})
}

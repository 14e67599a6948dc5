package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/bus"
	"github.com/switchboard-io/switchboard-api/internal/presence"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
)

// offlineGrace is how long a user may be without sessions before the hub
// declares them offline. A reconnect inside the window cancels the pending
// offline and suppresses the online re-announcement, so fast reconnects never
// flap offline→online.
const offlineGrace = 5 * time.Second

// Hub owns the live sessions of this node, their topic subscriptions on the
// bus, and the presence debounce. Fanout is symmetric: local publishes go
// through the bus and come back through the same subscription path every
// other node uses.
type Hub struct {
	bus      bus.Bus
	presence *presence.Tracker

	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}
	topics   map[string]*topicState
	offline  map[string]*time.Timer
	closed   bool
}

type topicState struct {
	sessions    map[*Session]struct{}
	unsubscribe func()
}

func NewHub(b bus.Bus, tr *presence.Tracker) *Hub {
	return &Hub{
		bus:      b,
		presence: tr,
		sessions: make(map[string]map[*Session]struct{}),
		topics:   make(map[string]*topicState),
		offline:  make(map[string]*time.Timer),
	}
}

// register adds a session and reports whether the user just came online (no
// other live session and no pending offline debounce).
func (h *Hub) register(s *Session) (cameOnline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := s.identity.UserID
	if t, ok := h.offline[userID]; ok {
		t.Stop()
		delete(h.offline, userID)
		// Reconnect inside the grace window: the user never went offline.
		cameOnline = false
	} else {
		cameOnline = len(h.sessions[userID]) == 0
	}

	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	sessionsActive.Inc()
	return cameOnline
}

// unregister drops a session from every topic and, when it was the user's
// last, arms the offline debounce.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()

	for topic := range s.topics {
		h.leaveLocked(s, topic)
	}
	s.topics = map[string]struct{}{}

	userID := s.identity.UserID
	if _, ok := h.sessions[userID][s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions[userID], s)
	sessionsActive.Dec()
	last := len(h.sessions[userID]) == 0
	if last {
		delete(h.sessions, userID)
	}

	if last && !h.closed {
		tenantID := s.identity.TenantID
		h.offline[userID] = time.AfterFunc(offlineGrace, func() {
			h.goOffline(userID, tenantID)
		})
	}
	h.mu.Unlock()
}

func (h *Hub) goOffline(userID, tenantID string) {
	h.mu.Lock()
	delete(h.offline, userID)
	// The user reconnected while the timer was firing.
	if len(h.sessions[userID]) > 0 {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	ctx := context.Background()
	if err := h.presence.SetOffline(ctx, userID, tenantID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("presence offline update failed")
	}
	if tenantID != "" {
		h.publish(ctx, topicTenant(tenantID), evPresenceOffline,
			presenceChangePayload{UserID: userID, TenantID: tenantID}, "")
	}
}

// join subscribes the session to a topic, creating the node's bus
// subscription on first use.
func (h *Hub) join(s *Session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, ok := h.topics[topic]
	if !ok {
		ts = &topicState{sessions: make(map[*Session]struct{})}
		ts.unsubscribe = h.bus.Subscribe(topic, h.deliver)
		h.topics[topic] = ts
	}
	ts.sessions[s] = struct{}{}
	s.topics[topic] = struct{}{}
}

// leave removes the session from a topic, dropping the bus subscription when
// nobody on this node listens anymore.
func (h *Hub) leave(s *Session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, topic)
	delete(s.topics, topic)
}

func (h *Hub) leaveLocked(s *Session, topic string) {
	ts, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(ts.sessions, s)
	if len(ts.sessions) == 0 {
		ts.unsubscribe()
		delete(h.topics, topic)
	}
}

// publish wraps an event in the fanout envelope and hands it to the bus.
// Best-effort: a failed publish is logged, never surfaced to the operation
// that triggered it.
func (h *Hub) publish(ctx context.Context, topic, event string, data any, excludeUser string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event", event).Msg("marshal fanout payload")
		return
	}
	payload, err := json.Marshal(envelope{Event: event, Data: raw, ExcludeUser: excludeUser})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event", event).Msg("marshal fanout envelope")
		return
	}
	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("topic", topic).Str("event", event).Msg("bus publish failed")
		return
	}
	busPublished.Inc()
}

// deliver is the bus handler for every subscribed topic: it re-emits the
// enveloped event to the local sessions of that topic, honoring the exclusion.
func (h *Hub) deliver(topic string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("bad fanout envelope")
		return
	}
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		return
	}

	h.mu.Lock()
	ts, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*Session, 0, len(ts.sessions))
	for s := range ts.sessions {
		if env.ExcludeUser != "" && s.identity.UserID == env.ExcludeUser {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.queue(frame)
	}
}

// BroadcastMessage fans a persisted message out on its conversation topic and
// on every other participant's user topic. The double publish is deliberate
// redundancy; clients dedupe by message id. Both the session surface and the
// REST surface deliver through here so live sessions see HTTP sends too.
func (h *Hub) BroadcastMessage(ctx context.Context, view *chatservice.MessageView, participantIDs []string) {
	h.publish(ctx, topicConversation(view.ConversationID), evMessageNew, view, "")
	for _, uid := range participantIDs {
		if uid == view.SenderID {
			continue
		}
		h.publish(ctx, topicUser(uid), evMessageNew, view, "")
	}
	messagesSent.Inc()
}

// Shutdown closes every session and stops pending offline timers; presence
// for connected users is flushed immediately.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	var all []*Session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	for userID, t := range h.offline {
		t.Stop()
		delete(h.offline, userID)
	}
	h.mu.Unlock()

	for _, s := range all {
		s.close()
		if err := h.presence.SetOffline(ctx, s.identity.UserID, s.identity.TenantID); err != nil {
			log.Warn().Err(err).Str("userId", s.identity.UserID).Msg("presence offline flush failed")
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/bus"
	"github.com/switchboard-io/switchboard-api/internal/presence"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
)

// newTestHub wires a hub onto a LocalBus so fanout runs synchronously in the
// test goroutine.
func newTestHub() (*Hub, *bus.LocalBus) {
	b := bus.NewLocalBus()
	return NewHub(b, presence.NewTracker(b)), b
}

// newTestSession builds a session without a connection. Hub paths never touch
// conn: queue writes to the send channel and close only cancels and
// unregisters.
func newTestSession(h *Hub, userID, tenantID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       uuid.NewString(),
		hub:      h,
		identity: auth.Identity{UserID: userID, TenantID: tenantID},
		logger:   zerolog.Nop(),
		topics:   make(map[string]struct{}),
		send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// drainFrames reads everything currently queued for a session.
func drainFrames(t *testing.T, s *Session) []Frame {
	t.Helper()
	var out []Frame
	for {
		select {
		case raw := <-s.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("bad frame %q: %v", raw, err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHub_TopicFanout(t *testing.T) {
	h, _ := newTestHub()
	convID := uuid.New()
	topic := topicConversation(convID)

	a := newTestSession(h, "u1", "t1")
	b := newTestSession(h, "u2", "t1")
	h.register(a)
	h.register(b)
	h.join(a, topic)
	h.join(b, topic)

	h.publish(context.Background(), topic, evTypingUpdate, typingUpdatePayload{
		UserID:         "u1",
		ConversationID: convID,
		IsTyping:       true,
	}, "")

	for _, s := range []*Session{a, b} {
		frames := drainFrames(t, s)
		if len(frames) != 1 || frames[0].Event != evTypingUpdate {
			t.Fatalf("session %s frames = %+v", s.identity.UserID, frames)
		}
	}
}

func TestHub_FanoutExcludesOriginator(t *testing.T) {
	h, _ := newTestHub()
	convID := uuid.New()
	topic := topicConversation(convID)

	a := newTestSession(h, "u1", "t1")
	b := newTestSession(h, "u2", "t1")
	h.register(a)
	h.register(b)
	h.join(a, topic)
	h.join(b, topic)

	h.publish(context.Background(), topic, evTypingUpdate, typingUpdatePayload{
		UserID:         "u1",
		ConversationID: convID,
		IsTyping:       true,
	}, "u1")

	if frames := drainFrames(t, a); len(frames) != 0 {
		t.Errorf("originator received its own event: %+v", frames)
	}
	if frames := drainFrames(t, b); len(frames) != 1 {
		t.Errorf("peer frames = %+v", frames)
	}
}

func TestHub_TopicRefcounting(t *testing.T) {
	h, _ := newTestHub()
	topic := topicConversation(uuid.New())

	a := newTestSession(h, "u1", "")
	b := newTestSession(h, "u2", "")
	h.join(a, topic)
	h.join(b, topic)

	h.leave(a, topic)
	h.publish(context.Background(), topic, evTypingUpdate, struct{}{}, "")
	if frames := drainFrames(t, b); len(frames) != 1 {
		t.Fatalf("remaining subscriber stopped receiving: %+v", frames)
	}
	if frames := drainFrames(t, a); len(frames) != 0 {
		t.Errorf("left session still receiving: %+v", frames)
	}

	// Last leave drops the bus subscription entirely.
	h.leave(b, topic)
	h.publish(context.Background(), topic, evTypingUpdate, struct{}{}, "")
	if frames := drainFrames(t, b); len(frames) != 0 {
		t.Errorf("unsubscribed topic still delivering: %+v", frames)
	}
}

func TestHub_BroadcastMessage(t *testing.T) {
	h, _ := newTestHub()
	convID := uuid.New()

	// Sender watches the conversation topic; the recipient is not joined to it
	// (different device, different screen) and relies on the user topic.
	sender := newTestSession(h, "u1", "t1")
	recipient := newTestSession(h, "u2", "t1")
	h.register(sender)
	h.register(recipient)
	h.join(sender, topicConversation(convID))
	h.join(sender, topicUser("u1"))
	h.join(recipient, topicUser("u2"))

	view := &chatservice.MessageView{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       "u1",
		Content:        "hello",
		CreatedAt:      time.Now(),
	}
	h.BroadcastMessage(context.Background(), view, []string{"u1", "u2"})

	// Sender sees it once, on the conversation topic only: the user-topic
	// publish skips the sender.
	frames := drainFrames(t, sender)
	if len(frames) != 1 || frames[0].Event != evMessageNew {
		t.Fatalf("sender frames = %+v", frames)
	}

	frames = drainFrames(t, recipient)
	if len(frames) != 1 || frames[0].Event != evMessageNew {
		t.Fatalf("recipient frames = %+v", frames)
	}
	var got chatservice.MessageView
	if err := json.Unmarshal(frames[0].Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != view.ID || got.Content != "hello" {
		t.Errorf("delivered view = %+v", got)
	}
}

func TestHub_RegisterReportsCameOnline(t *testing.T) {
	h, _ := newTestHub()

	first := newTestSession(h, "u1", "t1")
	if !h.register(first) {
		t.Error("first session should come online")
	}

	// A second device does not re-announce.
	second := newTestSession(h, "u1", "t1")
	if h.register(second) {
		t.Error("second session must not re-announce online")
	}
}

func TestHub_ReconnectInsideGraceDoesNotFlap(t *testing.T) {
	h, _ := newTestHub()

	s := newTestSession(h, "u1", "t1")
	h.register(s)
	s.close() // arms the offline debounce

	// Reconnect before the grace elapses: the pending offline is cancelled and
	// the user is treated as never having left.
	s2 := newTestSession(h, "u1", "t1")
	if h.register(s2) {
		t.Error("reconnect inside the grace window must not re-announce online")
	}

	h.mu.Lock()
	pending := len(h.offline)
	h.mu.Unlock()
	if pending != 0 {
		t.Errorf("offline debounce still armed after reconnect: %d", pending)
	}
}

func TestHub_GoOfflineSkippedWhenReconnected(t *testing.T) {
	h, _ := newTestHub()
	ctx := context.Background()
	tr := h.presence

	s := newTestSession(h, "u1", "t1")
	h.register(s)
	if err := tr.SetOnline(ctx, "u1", "t1"); err != nil {
		t.Fatal(err)
	}

	// The debounce fires while a session is registered: presence must survive.
	h.goOffline("u1", "t1")
	if ok, _ := tr.IsOnline(ctx, "u1", "t1"); !ok {
		t.Error("user with a live session was marked offline")
	}

	// Without sessions the same call flips presence.
	s.close()
	h.goOffline("u1", "t1")
	if ok, _ := tr.IsOnline(ctx, "u1", "t1"); ok {
		t.Error("user without sessions stayed online")
	}
}

func TestHub_UnregisterLeavesTopics(t *testing.T) {
	h, _ := newTestHub()
	topic := topicConversation(uuid.New())

	s := newTestSession(h, "u1", "")
	other := newTestSession(h, "u2", "")
	h.register(s)
	h.join(s, topic)
	h.join(other, topic)

	s.close()
	h.publish(context.Background(), topic, evTypingUpdate, struct{}{}, "")
	if frames := drainFrames(t, other); len(frames) != 1 {
		t.Errorf("surviving subscriber frames = %+v", frames)
	}
	// The closed session received nothing.
	if frames := drainFrames(t, s); len(frames) != 0 {
		t.Errorf("closed session still received frames: %+v", frames)
	}
}

func TestSession_SlowConsumerDropped(t *testing.T) {
	h, _ := newTestHub()
	s := newTestSession(h, "u1", "")
	h.register(s)

	for i := 0; i < sendBuffer; i++ {
		s.queue([]byte("{}"))
	}
	// Buffer full: the next frame drops the session instead of blocking.
	s.queue([]byte("{}"))

	if n := len(s.send); n != sendBuffer {
		t.Errorf("buffered %d frames, want %d", n, sendBuffer)
	}
	select {
	case <-s.ctx.Done():
	default:
		t.Error("slow session was not closed")
	}

	h.mu.Lock()
	live := len(h.sessions["u1"])
	h.mu.Unlock()
	if live != 0 {
		t.Error("slow session still registered")
	}
}

// A disconnect can land mid-fanout: deliver snapshots the subscriber set and
// then queues frames outside the hub lock, so queue must tolerate a session
// that closed in between.
func TestHub_PublishWhileClosing(t *testing.T) {
	h, _ := newTestHub()
	topic := topicConversation(uuid.New())
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		s := newTestSession(h, "u1", "t1")
		h.register(s)
		h.join(s, topic)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.publish(ctx, topic, evTypingUpdate, struct{}{}, "")
			}
		}()
		s.close()
		wg.Wait()
	}
}

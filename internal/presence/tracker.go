// Package presence maintains the ephemeral who-is-online and who-is-typing
// state on the bus. All state is soft: it disappears with the bus and is
// rebuilt from live sessions.
package presence

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/switchboard-io/switchboard-api/internal/bus"
)

const (
	// Typing entries older than this are treated as stopped.
	typingWindow = 5 * time.Second
	// Coarse expiry on the whole typing hash; crashed writers never leave a
	// conversation stuck in "typing".
	typingKeyTTL = 10 * time.Second
	// lastSeen survives long enough to answer "seen recently" queries.
	lastSeenTTL = 7 * 24 * time.Hour
)

type Tracker struct {
	bus bus.Bus
	now func() time.Time
}

func NewTracker(b bus.Bus) *Tracker {
	return &Tracker{bus: b, now: time.Now}
}

func onlineKey(tenantID string) string {
	if tenantID == "" {
		return "online:global"
	}
	return "online:" + tenantID
}

func lastSeenKey(userID string) string { return "lastSeen:" + userID }

func typingKey(conversationID string) string { return "typing:" + conversationID }

// SetOnline records the user as online in the tenant's scope (global when the
// user has no tenant) and stamps lastSeen.
func (t *Tracker) SetOnline(ctx context.Context, userID, tenantID string) error {
	if err := t.bus.SetAdd(ctx, onlineKey(tenantID), userID); err != nil {
		return err
	}
	return t.touchLastSeen(ctx, userID)
}

// SetOffline removes the user from the tenant's online set and stamps
// lastSeen so "last seen" reflects the disconnect time.
func (t *Tracker) SetOffline(ctx context.Context, userID, tenantID string) error {
	if err := t.bus.SetRemove(ctx, onlineKey(tenantID), userID); err != nil {
		return err
	}
	return t.touchLastSeen(ctx, userID)
}

func (t *Tracker) IsOnline(ctx context.Context, userID, tenantID string) (bool, error) {
	return t.bus.SetContains(ctx, onlineKey(tenantID), userID)
}

// OnlineUsers lists the online users of a tenant scope, sorted for stable
// responses.
func (t *Tracker) OnlineUsers(ctx context.Context, tenantID string) ([]string, error) {
	users, err := t.bus.SetMembers(ctx, onlineKey(tenantID))
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

// LastSeen returns the user's most recent connect or disconnect time, nil
// when unknown.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	v, ok, err := t.bus.KVGet(ctx, lastSeenKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, nil
	}
	ts := time.UnixMilli(ms)
	return &ts, nil
}

// SetTyping marks the user as composing (or not) in a conversation. Typing
// state decays on its own: readers ignore entries older than five seconds and
// the whole key expires after ten.
func (t *Tracker) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	key := typingKey(conversationID)
	if !isTyping {
		return t.bus.HashDelete(ctx, key, userID)
	}
	ms := strconv.FormatInt(t.now().UnixMilli(), 10)
	return t.bus.HashSet(ctx, key, userID, ms, typingKeyTTL)
}

// TypingUsers lists the users currently composing in a conversation.
func (t *Tracker) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	fields, err := t.bus.HashAll(ctx, typingKey(conversationID))
	if err != nil {
		return nil, err
	}
	cutoff := t.now().Add(-typingWindow).UnixMilli()
	var users []string
	for userID, v := range fields {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= cutoff {
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

func (t *Tracker) touchLastSeen(ctx context.Context, userID string) error {
	ms := strconv.FormatInt(t.now().UnixMilli(), 10)
	return t.bus.KVSet(ctx, lastSeenKey(userID), ms, lastSeenTTL)
}

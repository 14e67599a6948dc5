package presence

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/switchboard-io/switchboard-api/internal/bus"
)

func newTestTracker(now time.Time) *Tracker {
	t := NewTracker(bus.NewLocalBus())
	t.now = func() time.Time { return now }
	return t
}

func TestOnlineOffline(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(base)

	if err := tr.SetOnline(ctx, "u1", "t1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := tr.IsOnline(ctx, "u1", "t1"); !ok {
		t.Error("u1 should be online in t1")
	}
	// Tenant scopes are isolated.
	if ok, _ := tr.IsOnline(ctx, "u1", "t2"); ok {
		t.Error("u1 should not be online in t2")
	}

	// Disconnect leaves a lastSeen stamp at (or after) the disconnect time.
	offline := base.Add(time.Minute)
	tr.now = func() time.Time { return offline }
	if err := tr.SetOffline(ctx, "u1", "t1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := tr.IsOnline(ctx, "u1", "t1"); ok {
		t.Error("u1 should be offline")
	}
	seen, err := tr.LastSeen(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.Before(offline.Truncate(time.Millisecond)) {
		t.Errorf("lastSeen = %v, want >= %v", seen, offline)
	}
}

func TestOnlineUsers_SortedByScope(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(time.Now())

	tr.SetOnline(ctx, "charlie", "t1")
	tr.SetOnline(ctx, "alice", "t1")
	tr.SetOnline(ctx, "bob", "") // global scope

	users, err := tr.OnlineUsers(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(users, []string{"alice", "charlie"}) {
		t.Errorf("t1 online = %v", users)
	}

	global, _ := tr.OnlineUsers(ctx, "")
	if !reflect.DeepEqual(global, []string{"bob"}) {
		t.Errorf("global online = %v", global)
	}
}

func TestLastSeen_Unknown(t *testing.T) {
	tr := newTestTracker(time.Now())
	seen, err := tr.LastSeen(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if seen != nil {
		t.Errorf("lastSeen for unknown user = %v", seen)
	}
}

func TestTyping(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(base)

	tr.SetTyping(ctx, "conv1", "u1", true)
	tr.SetTyping(ctx, "conv1", "u2", true)

	users, err := tr.TypingUsers(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(users, []string{"u1", "u2"}) {
		t.Errorf("typing = %v", users)
	}

	// An explicit stop removes the entry.
	tr.SetTyping(ctx, "conv1", "u2", false)
	users, _ = tr.TypingUsers(ctx, "conv1")
	if !reflect.DeepEqual(users, []string{"u1"}) {
		t.Errorf("typing after stop = %v", users)
	}

	// Entries older than the window decay without an explicit stop.
	tr.now = func() time.Time { return base.Add(6 * time.Second) }
	users, _ = tr.TypingUsers(ctx, "conv1")
	if len(users) != 0 {
		t.Errorf("stale typing entries survived: %v", users)
	}

	// A fresh keystroke revives the state.
	tr.SetTyping(ctx, "conv1", "u1", true)
	users, _ = tr.TypingUsers(ctx, "conv1")
	if !reflect.DeepEqual(users, []string{"u1"}) {
		t.Errorf("typing after revival = %v", users)
	}
}

func TestTyping_ConversationsIsolated(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(time.Now())

	tr.SetTyping(ctx, "conv1", "u1", true)
	users, err := tr.TypingUsers(ctx, "conv2")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Errorf("typing leaked across conversations: %v", users)
	}
}

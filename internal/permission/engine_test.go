package permission

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard-api/internal/config"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

// fakeDirectory is an in-memory Directory so the engine is tested without a
// database.
type fakeDirectory struct {
	blocks       [][2]string
	accepted     [][2]string
	pending      map[string]*store.ContactRequest // "from|to"
	rules        []store.MessagingRule
	sent         map[string]int // "sender|recipient"
	participants map[string]*store.Participant
	users        map[string]store.User
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		pending:      map[string]*store.ContactRequest{},
		sent:         map[string]int{},
		participants: map[string]*store.Participant{},
		users:        map[string]store.User{},
	}
}

func (d *fakeDirectory) BlockedEither(_ context.Context, a, b string) (bool, error) {
	for _, p := range d.blocks {
		if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) AcceptedContactExists(_ context.Context, a, b string) (bool, error) {
	for _, p := range d.accepted {
		if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) PendingContactRequest(_ context.Context, from, to string) (*store.ContactRequest, error) {
	return d.pending[from+"|"+to], nil
}

func (d *fakeDirectory) ActiveRules(context.Context) ([]store.MessagingRule, error) {
	return d.rules, nil
}

func (d *fakeDirectory) CountDirectMessagesSince(_ context.Context, sender, recipient string, _ time.Time) (int, error) {
	return d.sent[sender+"|"+recipient], nil
}

func (d *fakeDirectory) Participant(_ context.Context, convID uuid.UUID, userID string) (*store.Participant, error) {
	return d.participants[convID.String()+"|"+userID], nil
}

func (d *fakeDirectory) UserByID(_ context.Context, id string) (*store.User, error) {
	if u, ok := d.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// seedRules mirrors the default rule set installed at startup.
func seedRules() []store.MessagingRule {
	limit := 10
	return []store.MessagingRule{
		{
			ID: "team-internal", Priority: 100, Name: "Team internal messaging",
			SourceScope: "tenant", SourceRoles: []string{"owner", "admin", "member"},
			TargetScope: "tenant", TargetRoles: []string{"owner", "admin", "member"},
			IsActive: true,
		},
		{
			ID: "support-channel", Priority: 90, Name: "Support channel",
			SourceScope: "platform", SourceRoles: []string{"owner", "admin", "member"},
			TargetScope: "platform", TargetRoles: []string{"platform_support"},
			IsActive: true,
		},
		{
			ID: "platform-announcements", Priority: 80, Name: "Platform announcements",
			SourceScope: "platform", SourceRoles: []string{"platform_admin"},
			TargetScope: "platform", TargetRoles: []string{"owner", "admin", "member"},
			IsActive: true,
		},
		{
			ID: "cross-org-managers", Priority: 50, Name: "Cross-organization managers",
			SourceScope: "platform", SourceRoles: []string{"owner", "admin"},
			TargetScope: "platform", TargetRoles: []string{"owner", "admin"},
			RequireApproval: true, MaxMessagesPerDay: &limit,
			IsActive: true,
		},
	}
}

var (
	t1Owner = Principal{UserID: "u1", TenantID: "t1", TenantRole: "owner"}
	t1Memb  = Principal{UserID: "u2", TenantID: "t1", TenantRole: "member"}
	t2Owner = Principal{UserID: "u3", TenantID: "t2", TenantRole: "owner"}
	support = Principal{UserID: "u4", PlatformRole: "platform_support"}
)

func newEngine(d *fakeDirectory) *Engine {
	return NewEngine(d, config.RuleWindowRolling)
}

func TestCanSendMessage_SelfAlwaysAllowed(t *testing.T) {
	d := newFakeDirectory()
	// Even a block against yourself cannot win over the self check.
	d.blocks = append(d.blocks, [2]string{"u1", "u1"})

	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t1Owner)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Allowed || got.Reason != "Self messaging" {
		t.Errorf("decision = %+v", got)
	}
}

func TestCanSendMessage_BlockTrumpsEverything(t *testing.T) {
	tests := []struct {
		name  string
		block [2]string
	}{
		{"sender blocked recipient", [2]string{"u1", "u2"}},
		{"recipient blocked sender", [2]string{"u2", "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDirectory()
			d.rules = seedRules()
			d.blocks = append(d.blocks, tt.block)

			// Same tenant would normally allow; the block short-circuits first.
			got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t1Memb)
			if err != nil {
				t.Fatal(err)
			}
			if got.Allowed || got.Reason != "blocked" {
				t.Errorf("decision = %+v", got)
			}
		})
	}
}

func TestCanSendMessage_SameTenant(t *testing.T) {
	got, err := newEngine(newFakeDirectory()).CanSendMessage(context.Background(), t1Owner, t1Memb)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Allowed || got.Reason != "Same tenant" {
		t.Errorf("decision = %+v", got)
	}
}

func TestCanSendMessage_ApprovedContact(t *testing.T) {
	d := newFakeDirectory()
	d.accepted = append(d.accepted, [2]string{"u3", "u1"}) // either direction counts

	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t2Owner)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Allowed || got.Reason != "Approved contact" {
		t.Errorf("decision = %+v", got)
	}
}

func TestCanSendMessage_CrossTenantRequiresApproval(t *testing.T) {
	d := newFakeDirectory()
	d.rules = seedRules()

	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t2Owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Allowed || !got.RequiresApproval || got.Reason != "request-required" {
		t.Errorf("decision = %+v", got)
	}
	if got.Rule == nil || got.Rule.ID != "cross-org-managers" {
		t.Errorf("matched rule = %+v, want cross-org-managers", got.Rule)
	}
}

func TestCanSendMessage_PendingRequest(t *testing.T) {
	d := newFakeDirectory()
	d.rules = seedRules()
	d.pending["u1|u3"] = &store.ContactRequest{Status: store.RequestPending}

	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t2Owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Allowed || !got.RequiresApproval || got.Reason != "pending" {
		t.Errorf("decision = %+v", got)
	}
}

func TestCanSendMessage_SupportChannel(t *testing.T) {
	d := newFakeDirectory()
	d.rules = seedRules()

	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, support)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Allowed || got.Rule == nil || got.Rule.ID != "support-channel" {
		t.Errorf("decision = %+v", got)
	}
}

func TestCanSendMessage_DailyQuota(t *testing.T) {
	limit := 10
	rule := store.MessagingRule{
		ID: "managers-limited", Priority: 60, Name: "Managers limited",
		SourceScope: "platform", SourceRoles: []string{"owner"},
		TargetScope: "platform", TargetRoles: []string{"owner"},
		MaxMessagesPerDay: &limit, IsActive: true,
	}

	tests := []struct {
		name        string
		sent        int
		wantAllowed bool
		wantReason  string
	}{
		{"under the limit", 9, true, "Managers limited"},
		{"at the limit", 10, false, "rate-limit"},
		{"over the limit", 11, false, "rate-limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDirectory()
			d.rules = []store.MessagingRule{rule}
			d.sent["u1|u3"] = tt.sent

			got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t2Owner)
			if err != nil {
				t.Fatal(err)
			}
			if got.Allowed != tt.wantAllowed || got.Reason != tt.wantReason {
				t.Errorf("decision = %+v, want allowed=%v reason=%q", got, tt.wantAllowed, tt.wantReason)
			}
		})
	}
}

func TestCanSendMessage_NoRule(t *testing.T) {
	d := newFakeDirectory()
	// No rules at all: cross-tenant traffic has nothing to allow it.
	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t2Owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Allowed || got.Reason != "no rule" {
		t.Errorf("decision = %+v", got)
	}
}

func TestCanSendMessage_PriorityOrder(t *testing.T) {
	// Two matching rules: the higher-priority one must decide even though the
	// lower one would deny with approval.
	d := newFakeDirectory()
	d.rules = []store.MessagingRule{
		{
			ID: "free", Priority: 70, Name: "Free pass",
			SourceScope: "platform", SourceRoles: []string{"owner"},
			TargetScope: "platform", TargetRoles: []string{"owner"},
			IsActive: true,
		},
		{
			ID: "gated", Priority: 10, Name: "Gated",
			SourceScope: "platform", SourceRoles: []string{"owner"},
			TargetScope: "platform", TargetRoles: []string{"owner"},
			RequireApproval: true, IsActive: true,
		},
	}

	got, err := newEngine(d).CanSendMessage(context.Background(), t1Owner, t2Owner)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Allowed || got.Rule.ID != "free" {
		t.Errorf("decision = %+v, want the higher-priority rule", got)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		rule      store.MessagingRule
		sender    Principal
		recipient Principal
		want      bool
	}{
		{
			name: "tenant source requires a tenant",
			rule: store.MessagingRule{SourceScope: "tenant", SourceRoles: []string{"owner"},
				TargetScope: "platform", TargetRoles: []string{"owner"}},
			sender:    Principal{UserID: "a", TenantRole: "owner"},
			recipient: t2Owner,
			want:      false,
		},
		{
			name: "tenant target requires shared tenant",
			rule: store.MessagingRule{SourceScope: "tenant", SourceRoles: []string{"owner"},
				TargetScope: "tenant", TargetRoles: []string{"owner"}},
			sender:    t1Owner,
			recipient: t2Owner,
			want:      false,
		},
		{
			name: "platform target matches platform role",
			rule: store.MessagingRule{SourceScope: "platform", SourceRoles: []string{"member"},
				TargetScope: "platform", TargetRoles: []string{"platform_support"}},
			sender:    Principal{UserID: "a", TenantID: "t1", TenantRole: "member"},
			recipient: support,
			want:      true,
		},
		{
			name: "platform source matches tenant role too",
			rule: store.MessagingRule{SourceScope: "platform", SourceRoles: []string{"admin"},
				TargetScope: "platform", TargetRoles: []string{"owner"}},
			sender:    Principal{UserID: "a", TenantID: "t1", TenantRole: "admin"},
			recipient: t2Owner,
			want:      true,
		},
		{
			name: "empty role never matches",
			rule: store.MessagingRule{SourceScope: "platform", SourceRoles: []string{""},
				TargetScope: "platform", TargetRoles: []string{"owner"}},
			sender:    Principal{UserID: "a"},
			recipient: t2Owner,
			want:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matches(&tt.rule, tt.sender, tt.recipient); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanCreateConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("support always allowed", func(t *testing.T) {
		got, err := newEngine(newFakeDirectory()).CanCreateConversation(ctx, t1Owner, []string{"u3"}, store.ConversationSupport)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Allowed {
			t.Errorf("decision = %+v", got)
		}
	})

	t.Run("announcement reserved", func(t *testing.T) {
		got, err := newEngine(newFakeDirectory()).CanCreateConversation(ctx, t1Owner, []string{"u2"}, store.ConversationAnnouncement)
		if err != nil {
			t.Fatal(err)
		}
		if got.Allowed {
			t.Errorf("decision = %+v", got)
		}
	})

	t.Run("group denial names the offending user", func(t *testing.T) {
		d := newFakeDirectory()
		d.users["u2"] = store.User{ID: "u2", TenantID: "t1", TenantRole: "member"}
		d.users["u3"] = store.User{ID: "u3", TenantID: "t2", TenantRole: "owner"}

		got, err := newEngine(d).CanCreateConversation(ctx, t1Owner, []string{"u2", "u3"}, store.ConversationGroup)
		if err != nil {
			t.Fatal(err)
		}
		if got.Allowed || !strings.Contains(got.Reason, "u3") {
			t.Errorf("decision = %+v, want denial naming u3", got)
		}
	})

	t.Run("group allowed when all pass", func(t *testing.T) {
		d := newFakeDirectory()
		d.users["u2"] = store.User{ID: "u2", TenantID: "t1", TenantRole: "member"}
		d.users["u5"] = store.User{ID: "u5", TenantID: "t1", TenantRole: "admin"}

		got, err := newEngine(d).CanCreateConversation(ctx, t1Owner, []string{"u2", "u5"}, store.ConversationGroup)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Allowed {
			t.Errorf("decision = %+v", got)
		}
	})
}

func TestPrincipalOf_UnknownUser(t *testing.T) {
	p, err := newEngine(newFakeDirectory()).PrincipalOf(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "ghost" || p.TenantID != "" || p.TenantRole != "" {
		t.Errorf("principal = %+v", p)
	}
}

func TestParticipantChecks(t *testing.T) {
	d := newFakeDirectory()
	convID := uuid.New()
	d.participants[convID.String()+"|u1"] = &store.Participant{UserID: "u1", Role: store.RoleOwner}
	d.participants[convID.String()+"|u2"] = &store.Participant{UserID: "u2", Role: store.RoleMember}
	e := newEngine(d)
	ctx := context.Background()

	if ok, _ := e.IsParticipant(ctx, "u1", convID); !ok {
		t.Error("u1 should be a participant")
	}
	if ok, _ := e.IsParticipant(ctx, "u9", convID); ok {
		t.Error("u9 should not be a participant")
	}
	if ok, _ := e.IsConversationAdmin(ctx, "u1", convID); !ok {
		t.Error("owner should be admin")
	}
	if ok, _ := e.IsConversationAdmin(ctx, "u2", convID); ok {
		t.Error("member should not be admin")
	}
}

func TestWindowStart(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	rolling := NewEngine(newFakeDirectory(), config.RuleWindowRolling)
	rolling.now = func() time.Time { return fixed }
	if got := rolling.windowStart(); !got.Equal(fixed.Add(-24 * time.Hour)) {
		t.Errorf("rolling window start = %v", got)
	}

	calendar := NewEngine(newFakeDirectory(), config.RuleWindowCalendar)
	calendar.now = func() time.Time { return fixed }
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := calendar.windowStart(); !got.Equal(want) {
		t.Errorf("calendar window start = %v, want %v", got, want)
	}
}

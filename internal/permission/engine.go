// Package permission decides who may message whom. The engine is pure with
// respect to the store: it reads through the narrow Directory interface,
// propagates store errors untouched and never retries.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard-api/internal/config"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

// Principal is the identity slice the engine evaluates rules against. The
// sender principal comes from the verified token; recipient principals are
// resolved from the user cache.
type Principal struct {
	UserID       string
	TenantID     string
	TenantRole   string
	PlatformRole string
}

// Decision is the outcome of a can-send evaluation.
type Decision struct {
	Allowed          bool
	Reason           string
	RequiresApproval bool
	Rule             *store.MessagingRule
}

// Directory is what the engine needs from the store. *store.Store implements
// it; tests use an in-memory fake.
type Directory interface {
	BlockedEither(ctx context.Context, a, b string) (bool, error)
	AcceptedContactExists(ctx context.Context, a, b string) (bool, error)
	PendingContactRequest(ctx context.Context, fromUserID, toUserID string) (*store.ContactRequest, error)
	ActiveRules(ctx context.Context) ([]store.MessagingRule, error)
	CountDirectMessagesSince(ctx context.Context, senderID, recipientID string, since time.Time) (int, error)
	Participant(ctx context.Context, conversationID uuid.UUID, userID string) (*store.Participant, error)
	UserByID(ctx context.Context, id string) (*store.User, error)
}

type Engine struct {
	dir        Directory
	ruleWindow string
	now        func() time.Time
}

func NewEngine(dir Directory, ruleWindow string) *Engine {
	return &Engine{dir: dir, ruleWindow: ruleWindow, now: time.Now}
}

// PrincipalOf resolves a recipient principal from the user cache. Users the
// sync has not delivered yet resolve to a bare principal with no tenant or
// roles, so only rules with empty role requirements could ever match them.
func (e *Engine) PrincipalOf(ctx context.Context, userID string) (Principal, error) {
	u, err := e.dir.UserByID(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	if u == nil {
		return Principal{UserID: userID}, nil
	}
	return Principal{
		UserID:       u.ID,
		TenantID:     u.TenantID,
		TenantRole:   u.TenantRole,
		PlatformRole: u.PlatformRole,
	}, nil
}

// CanSendMessage evaluates the send gates in fixed order; the first conclusive
// outcome wins: self, blocks, same tenant, approved contact, then the active
// rules by priority.
func (e *Engine) CanSendMessage(ctx context.Context, sender, recipient Principal) (Decision, error) {
	if sender.UserID == recipient.UserID {
		return Decision{Allowed: true, Reason: "Self messaging"}, nil
	}

	blocked, err := e.dir.BlockedEither(ctx, sender.UserID, recipient.UserID)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return Decision{Reason: "blocked"}, nil
	}

	if sender.TenantID != "" && sender.TenantID == recipient.TenantID {
		return Decision{Allowed: true, Reason: "Same tenant"}, nil
	}

	approved, err := e.dir.AcceptedContactExists(ctx, sender.UserID, recipient.UserID)
	if err != nil {
		return Decision{}, err
	}
	if approved {
		return Decision{Allowed: true, Reason: "Approved contact"}, nil
	}

	rules, err := e.dir.ActiveRules(ctx)
	if err != nil {
		return Decision{}, err
	}
	for i := range rules {
		rule := &rules[i]
		if !matches(rule, sender, recipient) {
			continue
		}

		if rule.RequireApproval {
			pending, err := e.dir.PendingContactRequest(ctx, sender.UserID, recipient.UserID)
			if err != nil {
				return Decision{}, err
			}
			reason := "request-required"
			if pending != nil {
				reason = "pending"
			}
			return Decision{Reason: reason, RequiresApproval: true, Rule: rule}, nil
		}

		if rule.MaxMessagesPerDay != nil {
			sent, err := e.dir.CountDirectMessagesSince(ctx, sender.UserID, recipient.UserID, e.windowStart())
			if err != nil {
				return Decision{}, err
			}
			if sent >= *rule.MaxMessagesPerDay {
				return Decision{Reason: "rate-limit", Rule: rule}, nil
			}
		}

		return Decision{Allowed: true, Reason: rule.Name, Rule: rule}, nil
	}

	return Decision{Reason: "no rule"}, nil
}

// CanCreateConversation gates conversation creation. SUPPORT bypasses the
// rules; DIRECT delegates to the pairwise check; GROUP requires every
// participant to pass. ANNOUNCEMENT is reserved for an administrative pathway
// and always refused here.
func (e *Engine) CanCreateConversation(ctx context.Context, creator Principal, participantIDs []string, typ store.ConversationType) (Decision, error) {
	switch typ {
	case store.ConversationSupport:
		return Decision{Allowed: true, Reason: "Support conversation"}, nil
	case store.ConversationAnnouncement:
		return Decision{Reason: "announcement conversations are reserved"}, nil
	}

	for _, id := range participantIDs {
		recipient, err := e.PrincipalOf(ctx, id)
		if err != nil {
			return Decision{}, err
		}
		d, err := e.CanSendMessage(ctx, creator, recipient)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			d.Reason = fmt.Sprintf("%s (user %s)", d.Reason, id)
			return d, nil
		}
	}
	return Decision{Allowed: true, Reason: "All participants allowed"}, nil
}

// IsParticipant reports conversation membership.
func (e *Engine) IsParticipant(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error) {
	p, err := e.dir.Participant(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// IsConversationAdmin reports whether the user holds the OWNER or ADMIN role.
func (e *Engine) IsConversationAdmin(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error) {
	p, err := e.dir.Participant(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	return p != nil && (p.Role == store.RoleOwner || p.Role == store.RoleAdmin), nil
}

// windowStart computes the lower bound of the per-rule daily quota: the last
// 24 hours by default, or local midnight in calendar mode.
func (e *Engine) windowStart() time.Time {
	now := e.now()
	if e.ruleWindow == config.RuleWindowCalendar {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	return now.Add(-24 * time.Hour)
}

// matches applies a rule's source and target side to the pair.
func matches(rule *store.MessagingRule, sender, recipient Principal) bool {
	switch rule.SourceScope {
	case "tenant":
		if sender.TenantID == "" || !contains(rule.SourceRoles, sender.TenantRole) {
			return false
		}
	case "platform":
		if !contains(rule.SourceRoles, sender.TenantRole) && !contains(rule.SourceRoles, sender.PlatformRole) {
			return false
		}
	default:
		return false
	}

	switch rule.TargetScope {
	case "tenant":
		if sender.TenantID == "" || sender.TenantID != recipient.TenantID {
			return false
		}
		return contains(rule.TargetRoles, recipient.TenantRole)
	case "platform":
		return contains(rule.TargetRoles, recipient.TenantRole) || contains(rule.TargetRoles, recipient.PlatformRole)
	}
	return false
}

func contains(roles []string, role string) bool {
	if role == "" {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

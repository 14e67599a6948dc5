package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// The schema is applied at startup and is idempotent. DIRECT uniqueness per
// unordered pair is not expressible over the participant join table, so
// conversations carry a derived direct_key ("a|b", sorted) with a partial
// unique index; concurrent creates collide there and the loser reads the winner.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS user_cache (
	id            TEXT PRIMARY KEY,
	email         TEXT,
	first_name    TEXT,
	last_name     TEXT,
	avatar_url    TEXT,
	tenant_id     TEXT,
	tenant_role   TEXT,
	platform_role TEXT
);

CREATE TABLE IF NOT EXISTS conversation (
	id          UUID PRIMARY KEY,
	type        TEXT NOT NULL,
	name        TEXT,
	description TEXT,
	avatar_url  TEXT,
	direct_key  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS conversation_direct_key_uniq
	ON conversation (direct_key) WHERE type = 'DIRECT';

CREATE INDEX IF NOT EXISTS conversation_updated_idx
	ON conversation (updated_at DESC);

CREATE TABLE IF NOT EXISTS participant (
	conversation_id UUID NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	tenant_id       TEXT,
	role            TEXT NOT NULL DEFAULT 'MEMBER',
	joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_read_at    TIMESTAMPTZ,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE INDEX IF NOT EXISTS participant_user_idx ON participant (user_id);

CREATE TABLE IF NOT EXISTS message (
	id              UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
	sender_id       TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'TEXT',
	attachment_url  TEXT,
	attachment_type TEXT,
	attachment_name TEXT,
	reply_to_id     UUID,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	edited_at       TIMESTAMPTZ,
	deleted_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS message_conversation_created_idx
	ON message (conversation_id, created_at DESC);

CREATE TABLE IF NOT EXISTS messaging_rule (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	source_scope         TEXT NOT NULL,
	source_roles         TEXT[] NOT NULL,
	target_scope         TEXT NOT NULL,
	target_roles         TEXT[] NOT NULL,
	require_approval     BOOLEAN NOT NULL DEFAULT FALSE,
	max_messages_per_day INT,
	is_active            BOOLEAN NOT NULL DEFAULT TRUE,
	priority             INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS contact_request (
	id             UUID PRIMARY KEY,
	from_user_id   TEXT NOT NULL,
	from_tenant_id TEXT,
	to_user_id     TEXT NOT NULL,
	to_tenant_id   TEXT,
	rule_id        TEXT NOT NULL,
	message        TEXT,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	responded_at   TIMESTAMPTZ,
	expires_at     TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS contact_request_pending_uniq
	ON contact_request (from_user_id, to_user_id) WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS contact_request_to_idx ON contact_request (to_user_id);

CREATE TABLE IF NOT EXISTS blocked_user (
	user_id         TEXT NOT NULL,
	blocked_user_id TEXT NOT NULL,
	reason          TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, blocked_user_id)
);
`

// EnsureSchema applies the schema. Safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// defaultRules ship with the service and are installed only when the rule
// table is empty, so operators can edit or disable them without fighting the
// seeder.
func defaultRules() []MessagingRule {
	limit := 10
	return []MessagingRule{
		{
			ID: "team-internal", Name: "Team internal messaging", Priority: 100,
			SourceScope: "tenant", SourceRoles: []string{"owner", "admin", "member"},
			TargetScope: "tenant", TargetRoles: []string{"owner", "admin", "member"},
			IsActive: true,
		},
		{
			ID: "support-channel", Name: "Support channel", Priority: 90,
			SourceScope: "platform", SourceRoles: []string{"owner", "admin", "member"},
			TargetScope: "platform", TargetRoles: []string{"platform_support"},
			IsActive: true,
		},
		{
			ID: "platform-announcements", Name: "Platform announcements", Priority: 80,
			SourceScope: "platform", SourceRoles: []string{"platform_admin"},
			TargetScope: "platform", TargetRoles: []string{"owner", "admin", "member"},
			IsActive: true,
		},
		{
			ID: "cross-org-managers", Name: "Cross-organization managers", Priority: 50,
			SourceScope: "platform", SourceRoles: []string{"owner", "admin"},
			TargetScope: "platform", TargetRoles: []string{"owner", "admin"},
			RequireApproval: true, MaxMessagesPerDay: &limit,
			IsActive: true,
		},
	}
}

// SeedDefaultRules installs the default rule set when the table is empty.
func (s *Store) SeedDefaultRules(ctx context.Context) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messaging_rule`).Scan(&count); err != nil {
		return fmt.Errorf("count rules: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range defaultRules() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messaging_rule
				(id, name, source_scope, source_roles, target_scope, target_roles,
				 require_approval, max_messages_per_day, is_active, priority)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Name, r.SourceScope, r.SourceRoles, r.TargetScope, r.TargetRoles,
			r.RequireApproval, r.MaxMessagesPerDay, r.IsActive, r.Priority); err != nil {
			return fmt.Errorf("seed rule %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Ctx(ctx).Info().Int("rules", len(defaultRules())).Msg("seeded default messaging rules")
	return nil
}

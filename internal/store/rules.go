package store

import (
	"context"
	"fmt"
)

// ActiveRules returns the active messaging rules ordered by priority
// descending, which is the evaluation order of the permission engine.
func (s *Store) ActiveRules(ctx context.Context) ([]MessagingRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, source_scope, source_roles, target_scope, target_roles,
		        require_approval, max_messages_per_day, is_active, priority
		 FROM messaging_rule
		 WHERE is_active
		 ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []MessagingRule
	for rows.Next() {
		var r MessagingRule
		if err := rows.Scan(&r.ID, &r.Name, &r.SourceScope, &r.SourceRoles,
			&r.TargetScope, &r.TargetRoles, &r.RequireApproval,
			&r.MaxMessagesPerDay, &r.IsActive, &r.Priority); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userCols = `id, COALESCE(email, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
	COALESCE(avatar_url, ''), COALESCE(tenant_id, ''), COALESCE(tenant_role, ''), COALESCE(platform_role, '')`

// UserByID returns the cached user row, nil when the sync has not delivered it.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM user_cache WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.AvatarURL,
			&u.TenantID, &u.TenantRole, &u.PlatformRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UsersByIDs returns the cached rows for the given ids; absent ids are simply
// missing from the map.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	if len(ids) == 0 {
		return map[string]User{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+userCols+` FROM user_cache WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("users by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]User, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.AvatarURL,
			&u.TenantID, &u.TenantRole, &u.PlatformRole); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// UpsertUser writes a cache row. This is the entry point for the external
// user sync and for test fixtures.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_cache (id, email, first_name, last_name, avatar_url, tenant_id, tenant_role, platform_role)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
		 ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			avatar_url = EXCLUDED.avatar_url,
			tenant_id = EXCLUDED.tenant_id,
			tenant_role = EXCLUDED.tenant_role,
			platform_role = EXCLUDED.platform_role`,
		u.ID, u.Email, u.FirstName, u.LastName, u.AvatarURL, u.TenantID, u.TenantRole, u.PlatformRole)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

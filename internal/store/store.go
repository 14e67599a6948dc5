// Package store is the typed gateway to the durable store. Every SQL
// statement in the service lives here; business rules stay in the permission
// engine and the chat service.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict is returned when a write loses a uniqueness race. Callers that
// can resolve the conflict by reading (DIRECT conversation creation) retry
// once; everyone else maps it to a 409.
var ErrConflict = errors.New("store: conflict")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies connectivity for health probes
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// directKey gives the canonical pair key enforcing at most one DIRECT
// conversation per unordered user pair.
func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

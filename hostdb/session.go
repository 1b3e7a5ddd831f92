// Package hostdb implements the host-database collaborator boundaries over
// a PostgreSQL connection pool: cost estimation through EXPLAIN and schema
// introspection for the prompt builder.
//
// The core packages never import hostdb; the integration layer wires it in
// at initialization when a host DSN is configured.
package hostdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Session owns the connection pool shared by the estimator and the schema
// loader.
type Session struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for the given DSN.
func Connect(ctx context.Context, dsn string) (*Session, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect host database: %w", err)
	}
	return &Session{pool: pool}, nil
}

// Close releases the pool.
func (s *Session) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Session) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

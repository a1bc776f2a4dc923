package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by the connection pool and an
// open transaction. Repositories execute on whichever is active for the
// calling context.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool represents the subset of pgxpool.Pool used by the store.
//
// This allows tests to supply a lightweight mock implementation without
// changing the public interface of the package.
type Pool interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool  Pool
	retry retryPolicy

	Events    EventRepository
	Instances InstanceRepository
	Versions  VersionRepository
}

// New wires concrete repository implementations with a shared
// connection pool.
func New(pool Pool) *Store {
	s := &Store{pool: pool, retry: defaultRetry}
	s.Events = &eventRepo{s: s}
	s.Instances = &instanceRepo{s: s}
	s.Versions = &versionRepo{s: s}
	return s
}

// q resolves the querier for ctx: the open transaction when one is in
// progress, the pool otherwise.
func (s *Store) q(ctx context.Context) Querier {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return s.pool
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

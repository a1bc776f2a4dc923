package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// txState is the per-transaction bookkeeping shared by nested WithTx
// calls: the open pgx transaction and the change version lazily
// allocated for it.
type txState struct {
	tx  pgx.Tx
	ver int64
}

type txKey struct{}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// retryPolicy bounds the busy-retry loop around an outermost
// transaction. Delays double per attempt.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
}

var defaultRetry = retryPolicy{attempts: 5, baseDelay: 50 * time.Millisecond}

// WithTx runs fn inside a logical transaction. A nested call joins the
// transaction already open on ctx; only the outermost call begins,
// commits and, on ErrBusy, retries the whole function with exponential
// backoff. fn must therefore be safe to re-run from the top.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt < s.retry.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retry.baseDelay << (attempt - 1)):
			}
		}
		err = s.runTx(ctx, fn)
		if !errors.Is(err, ErrBusy) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	defer observeDB(ctx, "db.tx")()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}

	st := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// ChangedVersion returns the change version stamped on writes of the
// current logical transaction. The global counter advances on first use
// within a transaction, so it moves at most once per outermost commit
// no matter how many records the transaction touches.
func (s *Store) ChangedVersion(ctx context.Context) (int64, error) {
	st := txFrom(ctx)
	if st == nil {
		return 0, fmt.Errorf("change version requested outside a transaction")
	}
	if st.ver == 0 {
		const q = `UPDATE change_counter SET ver = ver + 1 WHERE id = 1 RETURNING ver`
		if err := st.tx.QueryRow(ctx, q).Scan(&st.ver); err != nil {
			return 0, mapError(err)
		}
	}
	return st.ver, nil
}

// versionRepo implements VersionRepository.
type versionRepo struct {
	s *Store
}

func (r *versionRepo) Current(ctx context.Context) (int64, error) {
	defer observeDB(ctx, "db.version.current")()
	const q = `SELECT ver FROM change_counter WHERE id = 1`
	var ver int64
	if err := r.s.q(ctx).QueryRow(ctx, q).Scan(&ver); err != nil {
		return 0, mapError(err)
	}
	return ver, nil
}

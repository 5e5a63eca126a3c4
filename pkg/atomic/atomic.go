// Package atomic provides the transaction-scoping capability the job,
// feed, and post repositories use to group several statements into one
// atomic unit.
//
// The original system passes an async context-manager transaction into
// repository methods; Go has no equivalent sugar, so the capability here
// is a function that runs a closure inside a *sql.Tx and commits or rolls
// back depending on whether the closure returned an error. This is the
// same scope-exactly-the-critical-section idea behind the teacher's
// fetcher lock()/unlock() pair, generalized from an in-memory mutex to a
// real database transaction.
package atomic

import (
	"context"
	"database/sql"
	"fmt"
)

// Runner is the transaction-scoping capability a repository composes
// several writes through. Provider satisfies it against a real database;
// NoopRunner satisfies it for callers backed by in-memory repositories.
type Runner interface {
	Atomic(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Provider runs closures inside database transactions.
type Provider struct {
	db *sql.DB
}

var _ Runner = (*Provider)(nil)

// New creates a Provider backed by the given connection pool.
func New(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// Atomic begins a transaction, invokes fn with it, and commits on success.
// Any error returned by fn (or a panic recovered and re-raised) rolls the
// transaction back before being returned to the caller.
func (p *Provider) Atomic(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// NoopRunner runs fn directly with a nil *sql.Tx, for callers whose
// repositories are in-memory fakes with nothing to transact against.
type NoopRunner struct{}

func (NoopRunner) Atomic(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

var _ Runner = NoopRunner{}

// Package txn implements the two transaction models the wire protocol
// supports: a batched statement-list transaction for the stateless
// transport, and an interactive BEGIN/COMMIT/CANCEL transaction for the
// stateful transport, behind one shared contract.
package txn

import (
	"context"
	"fmt"

	"github.com/surrealgo/surreal/errs"
)

// State is a transaction's lifecycle stage. Terminal states are
// absorbing: no operation moves out of committed or rolled back.
type State int

const (
	StateNew State = iota
	StateActive
	StateCommitted
	StateRolledBack
)

// Transaction is the contract both implementations satisfy. Batched
// lowers Create, Insert, Update, Merge, Delete, and Relate to buffered
// SurrealQL statements; Interactive forwards each of them to the
// transport as the matching RPC method.
type Transaction interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error)
	Create(ctx context.Context, thing string, data interface{}) (interface{}, error)
	Insert(ctx context.Context, table string, data interface{}) (interface{}, error)
	Update(ctx context.Context, thing string, data interface{}) (interface{}, error)
	Merge(ctx context.Context, thing string, data interface{}) (interface{}, error)
	Delete(ctx context.Context, thing string) (interface{}, error)
	Relate(ctx context.Context, from, relation, to string, data interface{}) (interface{}, error)

	State() State
}

var errNotActive = errs.New(errs.KindTransaction, "transaction is not active")

// WithTransaction runs fn against a freshly begun transaction, committing
// on a nil return and rolling back (then re-raising) on error or panic.
// Mirrors the teacher's scoped-run-once-with-recover shape, but — per
// this package's conflict-classification contract — performs no retry
// of its own; retry on a classified conflict is the caller's decision.
func WithTransaction(ctx context.Context, tx Transaction, fn func(ctx context.Context, tx Transaction) error) (err error) {
	if err := tx.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return errs.ClassifyTransactionError(err)
	}
	return nil
}

package txn

import (
	"context"

	"github.com/surrealgo/surreal/errs"
)

// statefulSender is the capability an interactive transaction needs
// from the stateful transport: BEGIN/COMMIT/CANCEL plus the ability to
// forward ordinary operations over the same connection while the
// transaction is open. transport.StatefulTransport satisfies this
// structurally.
type statefulSender interface {
	sender
	Begin(ctx context.Context) (string, error)
	Commit(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// Interactive is the stateful transaction model: BEGIN is sent on
// enter, every operation forwards immediately over the same connection,
// and COMMIT/CANCEL is sent on exit. At most one interactive
// transaction may be active on a given connection at a time — that
// invariant is the caller's responsibility (typically enforced by only
// ever opening one via WithTransaction per acquired connection).
type Interactive struct {
	tr    statefulSender
	state State
	token string
}

var _ Transaction = (*Interactive)(nil)

// NewInteractive constructs an interactive transaction over tr.
func NewInteractive(tr statefulSender) *Interactive {
	return &Interactive{tr: tr, state: StateNew}
}

func (i *Interactive) State() State { return i.state }

func (i *Interactive) Begin(ctx context.Context) error {
	if i.state != StateNew {
		return errs.New(errs.KindTransaction, "interactive transaction already begun")
	}
	token, err := i.tr.Begin(ctx)
	if err != nil {
		return err
	}
	i.token = token
	i.state = StateActive
	return nil
}

func (i *Interactive) requireActive() error {
	if i.state != StateActive {
		return errNotActive
	}
	return nil
}

// Commit sends COMMIT TRANSACTION;. On failure the error is classified
// (possibly into a retryable conflict) and carries a rollback_succeeded
// tri-state so callers can tell whether the server actually restored
// state.
func (i *Interactive) Commit(ctx context.Context) error {
	if err := i.requireActive(); err != nil {
		return err
	}
	err := i.tr.Commit(ctx)
	if err != nil {
		i.state = StateRolledBack
		classified := errs.ClassifyTransactionError(err)
		if e, ok := classified.(*errs.Error); ok {
			classified = e.WithRollback(errs.RollbackUnknown)
		}
		return classified
	}
	i.state = StateCommitted
	return nil
}

// Rollback sends CANCEL TRANSACTION; best-effort: a failure here is
// reported, but is never allowed to mask the original error that
// triggered the rollback (see WithTransaction).
func (i *Interactive) Rollback(ctx context.Context) error {
	if i.state != StateActive {
		return errNotActive
	}
	err := i.tr.Cancel(ctx)
	i.state = StateRolledBack
	if err != nil {
		if e, ok := err.(*errs.Error); ok {
			return e.WithRollback(errs.RollbackFailed)
		}
		return err
	}
	return nil
}

func (i *Interactive) Create(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "create", []interface{}{thing, data})
}

func (i *Interactive) Insert(ctx context.Context, table string, data interface{}) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "insert", []interface{}{table, data})
}

func (i *Interactive) Update(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "update", []interface{}{thing, data})
}

func (i *Interactive) Merge(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "merge", []interface{}{thing, data})
}

func (i *Interactive) Delete(ctx context.Context, thing string) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "delete", []interface{}{thing})
}

func (i *Interactive) Relate(ctx context.Context, from, relation, to string, data interface{}) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "relate", []interface{}{from, relation, to, data})
}

func (i *Interactive) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	if err := i.requireActive(); err != nil {
		return nil, err
	}
	return i.tr.Send(ctx, "query", []interface{}{sql, vars})
}

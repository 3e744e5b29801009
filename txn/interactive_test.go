package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealgo/surreal/errs"
)

type fakeStatefulSender struct {
	recordingSender
	beginErr  error
	commitErr error
	cancelErr error
	begun     bool
	committed bool
	cancelled bool
}

func (f *fakeStatefulSender) Begin(ctx context.Context) (string, error) {
	f.begun = true
	return "txn-1", f.beginErr
}

func (f *fakeStatefulSender) Commit(ctx context.Context) error {
	f.committed = true
	return f.commitErr
}

func (f *fakeStatefulSender) Cancel(ctx context.Context) error {
	f.cancelled = true
	return f.cancelErr
}

func TestInteractiveBeginCommit(t *testing.T) {
	f := &fakeStatefulSender{}
	tx := NewInteractive(f)

	require.NoError(t, tx.Begin(context.Background()))
	require.True(t, f.begun)

	_, err := tx.Create(context.Background(), "person:one", map[string]interface{}{"name": "Ann"})
	require.NoError(t, err)
	require.Equal(t, "create", f.method)

	require.NoError(t, tx.Commit(context.Background()))
	require.True(t, f.committed)
	require.Equal(t, StateCommitted, tx.State())
}

func TestInteractiveRollbackCancelsBestEffort(t *testing.T) {
	f := &fakeStatefulSender{}
	tx := NewInteractive(f)
	require.NoError(t, tx.Begin(context.Background()))

	require.NoError(t, tx.Rollback(context.Background()))
	require.True(t, f.cancelled)
	require.Equal(t, StateRolledBack, tx.State())
}

func TestInteractiveCommitFailureClassifiesConflict(t *testing.T) {
	f := &fakeStatefulSender{commitErr: errs.New(errs.KindTransaction, "failed transaction: please retry")}
	tx := NewInteractive(f)
	require.NoError(t, tx.Begin(context.Background()))

	err := tx.Commit(context.Background())
	require.Error(t, err)
	require.True(t, errs.IsRetryableConflict(err))
	require.Equal(t, StateRolledBack, tx.State())
}

func TestInteractiveOperationsFailWhenNotActive(t *testing.T) {
	f := &fakeStatefulSender{}
	tx := NewInteractive(f)
	_, err := tx.Create(context.Background(), "person:one", nil)
	require.Error(t, err)
}

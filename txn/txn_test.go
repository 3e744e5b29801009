package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithTransactionCommitsOnSuccess(t *testing.T) {
	f := &fakeStatefulSender{}
	tx := NewInteractive(f)

	err := WithTransaction(context.Background(), tx, func(ctx context.Context, tx Transaction) error {
		_, err := tx.Create(ctx, "person:one", nil)
		return err
	})
	require.NoError(t, err)
	require.True(t, f.committed)
	require.False(t, f.cancelled)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	f := &fakeStatefulSender{}
	tx := NewInteractive(f)
	wantErr := errors.New("boom")

	err := WithTransaction(context.Background(), tx, func(ctx context.Context, tx Transaction) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.True(t, f.cancelled)
	require.False(t, f.committed)
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	f := &fakeStatefulSender{}
	tx := NewInteractive(f)

	require.Panics(t, func() {
		_ = WithTransaction(context.Background(), tx, func(ctx context.Context, tx Transaction) error {
			panic("boom")
		})
	})
	require.True(t, f.cancelled)
	require.False(t, f.committed)
}

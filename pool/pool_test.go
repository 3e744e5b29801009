package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealgo/surreal/codec"
	"github.com/surrealgo/surreal/internal/otelx"
	"github.com/surrealgo/surreal/transport"
)

// fakeTransport is a minimal transport.Transport double for exercising
// pool acquire/release/close semantics without a real connection.
type fakeTransport struct {
	healthy atomic.Bool
	closed  atomic.Bool
	authed  int32
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{}
	f.healthy.Store(true)
	return f
}

func (f *fakeTransport) Send(ctx context.Context, method string, params interface{}) (interface{}, error) {
	return nil, nil
}
func (f *fakeTransport) Authenticate(ctx context.Context, creds transport.Credentials) (string, error) {
	atomic.AddInt32(&f.authed, 1)
	return "tok", nil
}
func (f *fakeTransport) Use(ctx context.Context, ns, db string) error { return nil }
func (f *fakeTransport) Close() error                                  { f.closed.Store(true); return nil }
func (f *fakeTransport) Closed() bool                                  { return f.closed.Load() }
func (f *fakeTransport) Healthy() bool                                 { return f.healthy.Load() && !f.closed.Load() }
func (f *fakeTransport) Protocol() codec.Protocol                      { return codec.ProtocolText }

func fakeFactory(built *int32) Factory {
	return func(ctx context.Context, cfg transport.Config) (transport.Transport, error) {
		atomic.AddInt32(built, 1)
		return newFakeTransport(), nil
	}
}

func TestAcquireBuildsUpToSize(t *testing.T) {
	var built int32
	p := New(transport.Config{}, 2, fakeFactory(&built))

	ctx := context.Background()
	tr1, err := p.Acquire(ctx)
	require.NoError(t, err)
	tr2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, tr1, tr2)
	require.EqualValues(t, 2, built)
	require.Equal(t, Stats{Idle: 0, InUse: 2}, p.Stats())
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	var built int32
	p := New(transport.Config{}, 1, fakeFactory(&built))

	ctx := context.Background()
	tr1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquireCtx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	_, err = p.Acquire(acquireCtx)
	require.Error(t, err)

	p.Release(tr1)
	tr2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, tr1, tr2)
	require.EqualValues(t, 1, built)
}

func TestReleaseDiscardsUnhealthyTransport(t *testing.T) {
	var built int32
	p := New(transport.Config{}, 1, fakeFactory(&built))

	ctx := context.Background()
	tr, err := p.Acquire(ctx)
	require.NoError(t, err)

	fake := tr.(*fakeTransport)
	fake.healthy.Store(false)
	p.Release(tr)

	require.True(t, fake.closed.Load())

	tr2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, tr, tr2)
	require.EqualValues(t, 2, built)
}

func TestSetCredentialsReauthenticatesIdle(t *testing.T) {
	var built int32
	p := New(transport.Config{}, 1, fakeFactory(&built))

	ctx := context.Background()
	tr, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(tr)

	require.NoError(t, p.SetCredentials(ctx, transport.Credentials{User: "root"}))

	fake := tr.(*fakeTransport)
	require.EqualValues(t, 1, atomic.LoadInt32(&fake.authed))
}

// instrumentedFakeTransport additionally satisfies the instrumentable
// interface so SetInstruments wiring can be exercised end to end.
type instrumentedFakeTransport struct {
	fakeTransport
	instrumentsSet int32
}

func (f *instrumentedFakeTransport) SetInstruments(in *otelx.Instruments) {
	atomic.AddInt32(&f.instrumentsSet, 1)
}

func TestSetInstrumentsAppliesToNewlyConstructedTransports(t *testing.T) {
	p := New(transport.Config{}, 1, func(ctx context.Context, cfg transport.Config) (transport.Transport, error) {
		f := &instrumentedFakeTransport{}
		f.healthy.Store(true)
		return f, nil
	})
	p.SetInstruments(otelx.New(nil, nil))

	tr, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, tr.(*instrumentedFakeTransport).instrumentsSet)
}

func TestSetInstrumentsIsNoopForTransportsWithoutSupport(t *testing.T) {
	var built int32
	p := New(transport.Config{}, 1, fakeFactory(&built))
	p.SetInstruments(otelx.New(nil, nil))

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
}

func TestCloseClosesIdleAndInUse(t *testing.T) {
	var built int32
	p := New(transport.Config{}, 2, fakeFactory(&built))

	ctx := context.Background()
	tr1, err := p.Acquire(ctx)
	require.NoError(t, err)
	tr2, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(tr2)

	require.NoError(t, p.Close())
	require.True(t, tr1.(*fakeTransport).closed.Load())
	require.True(t, tr2.(*fakeTransport).closed.Load())

	_, err = p.Acquire(ctx)
	require.Error(t, err)
}

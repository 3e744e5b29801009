// Package pool implements a bounded pool of transports for one
// connection config, gated by a counting semaphore so callers block
// (rather than oversubscribing the server) once capacity is exhausted.
package pool

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/internal/otelx"
	"github.com/surrealgo/surreal/transport"
)

// instrumentable is implemented by transports that can accept ambient
// otel instruments (currently *transport.StatefulTransport). A factory
// producing a stateless transport simply never matches it, so
// acquireLocked skips the SetInstruments call for that case.
type instrumentable interface {
	SetInstruments(in *otelx.Instruments)
}

// Factory constructs a new transport against cfg. Production callers
// wrap transport.DialStateful or transport.Dial (stateless) in a func
// of this type, since neither has this exact signature; tests
// substitute a fake.
type Factory func(ctx context.Context, cfg transport.Config) (transport.Transport, error)

// Pool hands out transports under a semaphore of capacity Size. Idle
// healthy transports are reused; dead ones are discarded and replaced
// on next acquire.
type Pool struct {
	cfg     transport.Config
	size    int64
	factory Factory
	sem     *semaphore.Weighted

	mu      sync.Mutex
	idle    *list.List // of transport.Transport
	inUse   map[transport.Transport]struct{}
	closed  bool
	creds   transport.Credentials
	hasAuth bool

	instruments *otelx.Instruments
}

// New constructs a pool of at most size transports built by factory
// against cfg. size must be positive.
func New(cfg transport.Config, size int, factory Factory) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		cfg:     cfg,
		size:    int64(size),
		factory: factory,
		sem:     semaphore.NewWeighted(int64(size)),
		idle:    list.New(),
		inUse:   make(map[transport.Transport]struct{}),
	}
}

// SetInstruments attaches the ambient metrics/tracing instruments
// applied to every transport this pool constructs from here on via
// factory, when that transport supports it (currently stateful
// transports only). Transports already built are unaffected.
func (p *Pool) SetInstruments(in *otelx.Instruments) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments = in
}

// Acquire blocks until a transport is available (reusing an idle
// healthy one, discarding dead ones, or constructing a new one while
// under the pool's capacity) or ctx is cancelled. The semaphore is
// always released on any failure path so acquisitions never leak
// permits.
func (p *Pool) Acquire(ctx context.Context) (transport.Transport, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.KindTimeout, "pool: acquiring permit", err)
	}

	tr, err := p.acquireLocked(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return tr, nil
}

func (p *Pool) acquireLocked(ctx context.Context) (transport.Transport, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errs.ErrPoolClosed
		}
		elem := p.idle.Front()
		if elem == nil {
			p.mu.Unlock()
			break
		}
		p.idle.Remove(elem)
		tr := elem.Value.(transport.Transport)
		p.mu.Unlock()

		if !tr.Healthy() {
			_ = tr.Close()
			continue
		}
		p.mu.Lock()
		p.inUse[tr] = struct{}{}
		p.mu.Unlock()
		return tr, nil
	}

	tr, err := p.factory(ctx, p.cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "pool: constructing transport", err)
	}

	p.mu.Lock()
	creds, hasAuth := p.creds, p.hasAuth
	instruments := p.instruments
	p.mu.Unlock()
	if instruments != nil {
		if it, ok := tr.(instrumentable); ok {
			it.SetInstruments(instruments)
		}
	}
	if hasAuth {
		if _, err := tr.Authenticate(ctx, creds); err != nil {
			_ = tr.Close()
			return nil, err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = tr.Close()
		return nil, errs.ErrPoolClosed
	}
	p.inUse[tr] = struct{}{}
	p.mu.Unlock()
	return tr, nil
}

// Release returns tr to the pool: back to idle if the pool is open and
// tr is healthy, closed and discarded otherwise. The semaphore permit
// is always released.
func (p *Pool) Release(tr transport.Transport) {
	defer p.sem.Release(1)

	p.mu.Lock()
	delete(p.inUse, tr)
	closed := p.closed
	p.mu.Unlock()

	if closed || !tr.Healthy() {
		_ = tr.Close()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = tr.Close()
		return
	}
	p.idle.PushBack(tr)
	p.mu.Unlock()
}

// SetCredentials updates the credentials used to authenticate newly
// constructed connections and opportunistically re-authenticates every
// currently idle connection. In-use connections are left alone; they
// pick up the new credentials the next time they cycle through Release
// and back out through Acquire only if they are later reconstructed —
// they are not forcibly reset while a caller holds them.
func (p *Pool) SetCredentials(ctx context.Context, creds transport.Credentials) error {
	p.mu.Lock()
	p.creds = creds
	p.hasAuth = true
	idle := make([]transport.Transport, 0, p.idle.Len())
	for e := p.idle.Front(); e != nil; e = e.Next() {
		idle = append(idle, e.Value.(transport.Transport))
	}
	p.mu.Unlock()

	var firstErr error
	for _, tr := range idle {
		if _, err := tr.Authenticate(ctx, creds); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every connection, idle and in-use, and marks the pool
// closed so subsequent Acquire calls fail immediately.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var all []transport.Transport
	for e := p.idle.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(transport.Transport))
	}
	p.idle.Init()
	for tr := range p.inUse {
		all = append(all, tr)
	}
	p.inUse = make(map[transport.Transport]struct{})
	p.mu.Unlock()

	var firstErr error
	for _, tr := range all {
		if err := tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports idle/in-use counts for observability and tests.
type Stats struct {
	Idle  int
	InUse int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: p.idle.Len(), InUse: len(p.inUse)}
}

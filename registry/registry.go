// Package registry stores named connection configurations and lazily
// constructs the transport for each name on first use. Named
// connections let an application route different models or workloads
// to different databases without threading a connection value through
// every call site; "default" is special-cased so single-database
// consumers never need to name anything.
package registry

import (
	"context"
	"sync"

	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/internal/otelx"
	"github.com/surrealgo/surreal/transport"
)

// DefaultName is the special-cased connection name ergonomic
// single-database APIs resolve to when no name is given.
const DefaultName = "default"

// Registry is guarded by one process-wide lock covering both the
// name→config and name→transport maps; the lock is never held across
// network I/O — transport construction happens outside the critical
// section once a slot has been claimed.
type Registry struct {
	mu          sync.Mutex
	configs     map[string]transport.Config
	transports  map[string]transport.Transport
	building    map[string]chan struct{}
	instruments *otelx.Instruments
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		configs:    make(map[string]transport.Config),
		transports: make(map[string]transport.Transport),
		building:   make(map[string]chan struct{}),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide default registry, constructing it
// on first use.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// SetInstruments attaches the ambient metrics/tracing instruments
// applied to every stateful transport this registry constructs from
// here on; transports already built are unaffected. A nil-returning
// Instruments (the zero value) is always safe to pass.
func (r *Registry) SetInstruments(in *otelx.Instruments) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments = in
}

// Register stores cfg under name, replacing any existing config and
// closing (and discarding) any transport already constructed for that
// name so a later Get rebuilds against the new config.
func (r *Registry) Register(name string, cfg transport.Config) {
	r.mu.Lock()
	r.configs[name] = cfg
	old, had := r.transports[name]
	delete(r.transports, name)
	r.mu.Unlock()

	if had {
		_ = old.Close()
	}
}

// RegisterDefault is Register(DefaultName, cfg).
func (r *Registry) RegisterDefault(cfg transport.Config) {
	r.Register(DefaultName, cfg)
}

// Config returns the named config, or false if no config has been
// registered under that name.
func (r *Registry) Config(name string) (transport.Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Remove closes (if constructed) and forgets the named connection
// entirely, including its config.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	tr, hadTransport := r.transports[name]
	delete(r.transports, name)
	delete(r.configs, name)
	r.mu.Unlock()

	if hadTransport {
		_ = tr.Close()
	}
}

// Names returns every currently registered connection name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.configs))
	for name := range r.configs {
		out = append(out, name)
	}
	return out
}

// Transport returns the lazily constructed transport for name,
// building and caching it (stateful, since a cached singleton transport
// needs reconnect and notification dispatch) on first use. Concurrent
// callers racing to build the same name's transport are serialized: the
// first caller builds, the rest wait for it and share the result.
func (r *Registry) Transport(ctx context.Context, name string) (transport.Transport, error) {
	r.mu.Lock()
	if tr, ok := r.transports[name]; ok {
		r.mu.Unlock()
		return tr, nil
	}
	if wait, building := r.building[name]; building {
		r.mu.Unlock()
		<-wait
		return r.Transport(ctx, name)
	}
	cfg, ok := r.configs[name]
	if !ok {
		r.mu.Unlock()
		return nil, errs.Newf(errs.KindValidation, "registry: no connection registered under name %q", name)
	}
	done := make(chan struct{})
	r.building[name] = done
	r.mu.Unlock()

	tr, err := transport.DialStateful(ctx, cfg)

	r.mu.Lock()
	delete(r.building, name)
	if err == nil {
		if r.instruments != nil {
			tr.SetInstruments(r.instruments)
		}
		r.transports[name] = tr
	}
	r.mu.Unlock()
	close(done)

	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "registry: constructing transport for "+name, err)
	}
	return tr, nil
}

// Close closes every transport this registry has constructed. Configs
// are retained; a subsequent Transport call rebuilds on demand.
func (r *Registry) Close() error {
	r.mu.Lock()
	transports := r.transports
	r.transports = make(map[string]transport.Transport)
	r.mu.Unlock()

	var firstErr error
	for _, tr := range transports {
		if err := tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

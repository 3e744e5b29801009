package livequery

import (
	"context"
	"strings"
	"sync"

	"github.com/surrealgo/surreal/codec"
	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/internal/otelx"
	"github.com/surrealgo/surreal/rpc"
)

// Action is the kind of change a LiveChange carries.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Change is one delivered notification. When the subscription was
// opened with Diff, Result carries JSON-Patch operations and
// ChangedFields is derived from their paths; otherwise Result is the
// full record and ChangedFields is empty.
type Change struct {
	Action        Action
	RecordID      string
	Result        interface{}
	Before        interface{}
	ChangedFields []string
}

// Params describes how to (re-)open a live query: the same fields used
// to create it, plus the chosen delivery sink. Retained so the
// subscription can be replayed verbatim after a reconnect.
type Params struct {
	Table string
	Where string
	Vars  map[string]interface{}
	Diff  bool

	// Callback, if set, is invoked for every change, in addition to
	// channel delivery (Watch always also returns a channel; a caller
	// that supplies Callback and never ranges the channel simply never
	// drains it — see Subscription.Changes).
	Callback func(Change)

	// OnReconnect, if set, is invoked after a successful resubscribe
	// with the subscription's old and new server uuids.
	OnReconnect func(oldUUID, newUUID string)
}

// transport is the capability Manager needs from the stateful
// transport: dispatch RPCs, register/unregister notification
// dispatchers by server uuid, and observe reconnects.
type transport interface {
	Send(ctx context.Context, method string, params interface{}) (interface{}, error)
	Subscribe(uuid string, handler func(rpc.Notification))
	Unsubscribe(uuid string)
	AddReconnectHook(fn func(ctx context.Context) error)
}

// Subscription is one live query's consumer-facing handle. Its identity
// to the consumer is the Subscription value itself — the server-side
// uuid may change across reconnects without the consumer noticing
// anything besides the reconnect gap.
type Subscription struct {
	mgr    *Manager
	mu     sync.Mutex
	uuid   string
	params Params
	ch     chan Change
	closed bool
}

// Changes returns the channel-iterator delivery sink. Safe to range
// over even if Params.Callback was also set — both receive every
// notification.
func (s *Subscription) Changes() <-chan Change { return s.ch }

// UUID returns the subscription's current server-assigned identity.
func (s *Subscription) UUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uuid
}

// Stop kills the live query server-side (best-effort) and closes the
// channel-iterator sink.
func (s *Subscription) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	uuid := s.uuid
	s.mu.Unlock()

	s.mgr.forget(s)
	close(s.ch)

	_, err := s.mgr.tr.Send(ctx, "kill", []interface{}{uuid})
	if err != nil {
		return errs.Wrap(errs.KindLiveQuery, "kill", err)
	}
	return nil
}

func (s *Subscription) deliver(c Change) {
	s.mu.Lock()
	cb := s.params.Callback
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if cb != nil {
		cb(c)
	}
	select {
	case s.ch <- c:
	default:
		// Channel-iterator sink is a best-effort fan-out alongside the
		// callback: an unread large buffer is a consumer bug, not a
		// reason to block the shared reader.
	}
}

// Manager multiplexes many live subscriptions over one stateful
// transport, and re-establishes them all after the transport reconnects.
type Manager struct {
	tr          transport
	instruments *otelx.Instruments

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewManager constructs a Manager over tr and registers its
// auto-resubscribe reconnect hook.
func NewManager(tr transport) *Manager {
	m := &Manager{tr: tr, subs: make(map[*Subscription]struct{})}
	tr.AddReconnectHook(m.resubscribeAll)
	return m
}

// SetInstruments attaches the ambient metrics used to track active
// subscription counts. A Manager with no instruments attached behaves
// identically, just without emitting the gauge.
func (m *Manager) SetInstruments(in *otelx.Instruments) {
	m.instruments = in
}

// Watch opens a live query and returns its subscription handle. The
// channel-iterator sink is buffered so a slow-draining consumer doesn't
// stall the transport reader (see the core's documented backpressure
// policy); production deployments that need bounded memory should
// drain promptly rather than rely on the buffer.
func (m *Manager) Watch(ctx context.Context, params Params) (*Subscription, error) {
	sql := BuildLiveSelect(params.Table, params.Where, params.Vars, params.Diff)
	result, err := m.tr.Send(ctx, "query", []interface{}{sql, nil})
	if err != nil {
		return nil, errs.Wrap(errs.KindLiveQuery, "live select", err)
	}
	uuid, err := extractLiveUUID(result)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{mgr: m, uuid: uuid, params: params, ch: make(chan Change, 256)}
	m.tr.Subscribe(uuid, func(n rpc.Notification) {
		sub.deliver(notificationToChange(n, params.Diff))
	})

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	// m.instruments may be a nil *otelx.Instruments when SetInstruments was
	// never called; every method on it is nil-receiver-safe, so this is not
	// guarded here.
	m.instruments.SubscriptionOpened(ctx)
	return sub, nil
}

func (m *Manager) forget(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
	m.tr.Unsubscribe(sub.UUID())
	// Same nil-receiver-safe contract as Watch's SubscriptionOpened call.
	m.instruments.SubscriptionClosed(context.Background())
}

// StopAll stops every subscription this manager owns. It reliably
// attempts every one even if an earlier Stop call errors, returning the
// first error encountered (if any) after all have been attempted.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		all = append(all, sub)
	}
	m.mu.Unlock()

	var firstErr error
	for _, sub := range all {
		if err := sub.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resubscribeAll re-sends every open LIVE SELECT after a reconnect,
// re-points each subscription's dispatcher at its new server uuid, and
// invokes each subscription's OnReconnect hook if set. If one
// subscription fails to resubscribe it is closed (end-of-stream); the
// rest continue unaffected.
func (m *Manager) resubscribeAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		all = append(all, sub)
	}
	m.mu.Unlock()

	for _, sub := range all {
		m.resubscribe(ctx, sub)
	}
	return nil
}

func (m *Manager) resubscribe(ctx context.Context, sub *Subscription) {
	sub.mu.Lock()
	oldUUID := sub.uuid
	params := sub.params
	sub.mu.Unlock()

	m.tr.Unsubscribe(oldUUID)

	sql := BuildLiveSelect(params.Table, params.Where, params.Vars, params.Diff)
	result, err := m.tr.Send(ctx, "query", []interface{}{sql, nil})
	if err != nil {
		m.forget(sub)
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		close(sub.ch)
		return
	}
	newUUID, err := extractLiveUUID(result)
	if err != nil {
		m.forget(sub)
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		close(sub.ch)
		return
	}

	sub.mu.Lock()
	sub.uuid = newUUID
	sub.mu.Unlock()
	m.tr.Subscribe(newUUID, func(n rpc.Notification) {
		sub.deliver(notificationToChange(n, params.Diff))
	})

	if params.OnReconnect != nil {
		params.OnReconnect(oldUUID, newUUID)
	}
}

func extractLiveUUID(result interface{}) (string, error) {
	switch r := result.(type) {
	case string:
		return r, nil
	case []interface{}:
		if len(r) == 0 {
			return "", errs.New(errs.KindLiveQuery, "live select returned no result")
		}
		if m, ok := r[0].(map[string]interface{}); ok {
			if s, ok := m["result"].(string); ok {
				return s, nil
			}
		}
		if s, ok := r[0].(string); ok {
			return s, nil
		}
	}
	return "", errs.New(errs.KindLiveQuery, "live select did not return a subscription id")
}

func notificationToChange(n rpc.Notification, diff bool) Change {
	c := Change{Action: Action(n.Action), Result: n.Result}
	if m, ok := n.Result.(map[string]interface{}); ok {
		switch id := m["id"].(type) {
		case string:
			c.RecordID = id
		case codec.RecordID:
			c.RecordID = id.String()
		}
	}
	if diff {
		if patches, ok := n.Result.([]interface{}); ok {
			c.ChangedFields = changedFieldsFromPatch(patches)
		}
	}
	return c
}

// changedFieldsFromPatch extracts the top-level field name from each
// JSON-Patch operation's "path" (e.g. "/name" -> "name").
func changedFieldsFromPatch(patches []interface{}) []string {
	var fields []string
	for _, p := range patches {
		op, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		path, ok := op["path"].(string)
		if !ok || len(path) == 0 {
			continue
		}
		field := path[1:]
		if idx := strings.IndexByte(field, '/'); idx >= 0 {
			field = field[:idx]
		}
		fields = append(fields, field)
	}
	return fields
}

package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/surrealgo/surreal/codec"
	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/internal/debug"
	"github.com/surrealgo/surreal/internal/otelx"
	"github.com/surrealgo/surreal/rpc"
)

// pendingCall is the waiter a caller blocks on while its request is
// in flight on the shared connection.
type pendingCall struct {
	resultCh chan rpc.Response
}

// StatefulTransport is the persistent duplex transport: one physical
// connection, a single reader goroutine demultiplexing every inbound
// frame into either a pending request's response or a live-query
// notification, and a write mutex serializing outbound frames (gorilla's
// connection rejects concurrent writers — see its Write* docs).
// Grounded on the daemon-reconnect loop's separation of a long-lived
// read loop from short-lived request/response calls, generalized here
// from a polling reconnect to a push-notification-carrying duplex.
type StatefulTransport struct {
	cfg   Config
	codec codec.Codec

	wsURL string

	connMu     sync.RWMutex
	conn       *websocket.Conn
	readerDone chan struct{}

	writeMu sync.Mutex
	ids     rpc.IDAllocator

	mu        sync.Mutex
	pending   map[uint64]*pendingCall
	subs      map[string]func(rpc.Notification)
	namespace string
	database  string
	token     string
	lastCreds *Credentials
	closed    atomic.Bool

	reconnectMu      sync.Mutex
	reconnectHooksMu sync.Mutex
	reconnectHooks   []func(ctx context.Context) error

	// instruments is nil-safe; a transport built without an explicit
	// SetInstruments call observes nothing and pays no tracing cost.
	instruments *otelx.Instruments

	// TokenRefresher, if set, is consulted instead of lastCreds when a
	// reconnect needs to re-authenticate (e.g. a caller holding a
	// short-lived token wants a fresh one rather than replaying stale
	// credentials).
	TokenRefresher func(ctx context.Context) (string, error)
}

// DialStateful opens a persistent websocket connection against cfg.URL,
// negotiating the subprotocol matching cfg.Protocol, and starts the
// reader goroutine.
func DialStateful(ctx context.Context, cfg Config) (*StatefulTransport, error) {
	c, err := codec.New(protocolOrDefault(cfg.Protocol))
	if err != nil {
		return nil, err
	}

	wsURL, err := toWebsocketURL(cfg.URL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "parsing connection url", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.connectTimeout(),
		Subprotocols:     []string{subprotocolFor(c.Protocol())},
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, wsURL, http.Header{})
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "dialing websocket", err)
	}

	t := &StatefulTransport{
		cfg:        cfg,
		codec:      c,
		wsURL:      wsURL,
		conn:       conn,
		pending:    make(map[uint64]*pendingCall),
		subs:       make(map[string]func(rpc.Notification)),
		namespace:  cfg.Namespace,
		database:   cfg.Database,
		readerDone: make(chan struct{}),
	}
	go t.readLoop(t.conn, t.readerDone)
	return t, nil
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rpc"
	return u.String(), nil
}

func subprotocolFor(p codec.Protocol) string {
	switch p {
	case codec.ProtocolText:
		return "json"
	default:
		return "cbor"
	}
}

// SetInstruments attaches the ambient metrics/tracing instruments used
// by Send and the reconnect loop. Safe to call once after DialStateful;
// a transport with no instruments attached behaves identically, just
// without emitting spans or counters.
func (t *StatefulTransport) SetInstruments(in *otelx.Instruments) {
	t.instruments = in
}

func (t *StatefulTransport) Protocol() codec.Protocol { return t.codec.Protocol() }

func (t *StatefulTransport) Closed() bool { return t.closed.Load() }

func (t *StatefulTransport) Healthy() bool {
	if t.Closed() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.requestTimeout())
	defer cancel()
	_, err := t.Send(ctx, "ping", nil)
	return err == nil
}

// Close shuts down the connection and fails every in-flight call with
// ErrConnectionClosed. Idempotent. A Close in progress takes priority
// over any reconnect attempt already under way.
func (t *StatefulTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.connMu.RLock()
	conn, done := t.conn, t.readerDone
	t.connMu.RUnlock()

	err := conn.Close()
	t.failAllPending(errs.ErrConnectionClosed)
	<-done
	return err
}

func (t *StatefulTransport) failAllPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint64]*pendingCall)
	t.mu.Unlock()

	for _, p := range pending {
		select {
		case p.resultCh <- rpc.Response{Error: &rpc.ErrorObject{Message: err.Error()}}:
		default:
		}
		close(p.resultCh)
	}
}

// readLoop is the sole reader of one connection generation. It
// demultiplexes each inbound frame: a frame carrying an Action is a
// live-query notification dispatched to its subscriber (in its own
// goroutine, so a slow consumer never stalls the reader); otherwise it
// is a response correlated by id to a waiting caller. On an
// unexpected disconnect it hands off to the reconnect loop rather than
// failing the transport outright.
func (t *StatefulTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				debug.Logf("stateful: read loop exiting: %v\n", err)
				t.failAllPending(errs.Wrap(errs.KindConnection, "connection lost", err))
				go t.reconnect(err)
			}
			return
		}

		var frame rpc.Frame
		if err := t.codec.Decode(data, &frame); err != nil {
			debug.Logf("stateful: failed to decode frame: %v\n", err)
			continue
		}

		if frame.Action != "" {
			t.dispatchNotification(frame)
			continue
		}
		t.dispatchResponse(frame)
	}
}

func (t *StatefulTransport) dispatchNotification(frame rpc.Frame) {
	uuid, _ := frame.ID.(string)
	notif := rpc.Notification{ID: uuid, Action: frame.Action, Result: frame.Result}

	t.mu.Lock()
	handler, ok := t.subs[uuid]
	t.mu.Unlock()
	if !ok {
		debug.Logf("stateful: notification for unknown subscription %s\n", uuid)
		return
	}
	go handler(notif)
}

func (t *StatefulTransport) dispatchResponse(frame rpc.Frame) {
	id, ok := frameRequestID(frame.ID)
	if !ok {
		debug.Logf("stateful: response with unrecognized id shape: %v\n", frame.ID)
		return
	}

	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		debug.Logf("stateful: response for unknown request id %d\n", id)
		return
	}

	p.resultCh <- rpc.Response{ID: id, Result: frame.Result, Error: frame.Error}
	close(p.resultCh)
}

// frameRequestID normalizes the decoded id field (which may arrive as a
// float64 via JSON, or as an integer type via CBOR) back to uint64.
func frameRequestID(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case float64:
		return uint64(n), true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}

// Send dispatches one RPC call over the shared connection and blocks
// until its correlated response arrives, the context is cancelled, or
// the connection closes.
func (t *StatefulTransport) Send(ctx context.Context, method string, params interface{}) (result interface{}, err error) {
	ctx, end := t.instruments.StartRPCSpan(ctx, method)
	defer func() { end(err) }()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.requestTimeout())
	defer cancel()

	if t.Closed() {
		return nil, errs.ErrConnectionClosed
	}

	id := t.ids.Next()
	req := &rpc.Request{ID: id, Method: method, Params: params}
	body, err := t.codec.Encode(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "encoding rpc request", err)
	}

	p := &pendingCall{resultCh: make(chan rpc.Response, 1)}
	t.mu.Lock()
	t.pending[id] = p
	t.mu.Unlock()

	debug.Logf("stateful: -> %s id=%d\n", method, id)

	if err := t.writeMessage(body); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, errs.Wrap(errs.KindConnection, "sending rpc request", err)
	}

	select {
	case resp, ok := <-p.resultCh:
		if !ok {
			return nil, errs.ErrConnectionClosed
		}
		if resp.ID == 0 && resp.IsError() {
			// Filled in by failAllPending: the connection closed or was lost.
			return nil, errs.ErrConnectionClosed
		}
		if resp.IsError() {
			return nil, errs.Newf(errs.KindQuery, "%s", resp.Error.Message).WithCode(resp.Error.Code)
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, errs.Wrap(errs.KindTimeout, "rpc call cancelled", ctx.Err())
	}
}

func (t *StatefulTransport) writeMessage(body []byte) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	msgType := websocket.BinaryMessage
	if t.codec.Protocol() == codec.ProtocolText {
		msgType = websocket.TextMessage
	}
	return conn.WriteMessage(msgType, body)
}

func (t *StatefulTransport) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	result, err := t.Send(ctx, "signin", signinParams(creds))
	if err != nil {
		return "", errs.Wrap(errs.KindAuthentication, "signin", err)
	}
	token, ok := result.(string)
	if !ok {
		return "", errs.New(errs.KindAuthentication, "signin did not return a token")
	}
	creds := creds
	t.mu.Lock()
	t.token = token
	t.lastCreds = &creds
	t.mu.Unlock()
	return token, nil
}

func (t *StatefulTransport) Use(ctx context.Context, namespace, database string) error {
	_, err := t.Send(ctx, "use", []interface{}{namespace, database})
	if err != nil {
		return errs.Wrap(errs.KindConnection, "use", err)
	}
	t.mu.Lock()
	t.namespace, t.database = namespace, database
	t.mu.Unlock()
	return nil
}

// Let sets a session-scoped variable visible to every subsequent query
// on this connection until Unset or session end.
func (t *StatefulTransport) Let(ctx context.Context, name string, value interface{}) error {
	_, err := t.Send(ctx, "let", []interface{}{name, value})
	return err
}

// Unset clears a session-scoped variable previously set with Let.
func (t *StatefulTransport) Unset(ctx context.Context, name string) error {
	_, err := t.Send(ctx, "unset", []interface{}{name})
	return err
}

// Subscribe registers handler to receive notifications for the given
// live-query subscription uuid. Overwrites any existing handler for the
// same uuid.
func (t *StatefulTransport) Subscribe(uuid string, handler func(rpc.Notification)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[uuid] = handler
}

// Unsubscribe removes the handler for uuid. Safe to call on an unknown
// uuid.
func (t *StatefulTransport) Unsubscribe(uuid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, uuid)
}

// AddReconnectHook registers fn to run, in registration order, after
// every successful reconnect (after re-authentication and namespace/
// database re-selection). Used by the live-query manager to
// re-establish subscriptions under a reconnected connection's new
// identity without this package importing that one.
func (t *StatefulTransport) AddReconnectHook(fn func(ctx context.Context) error) {
	t.reconnectHooksMu.Lock()
	defer t.reconnectHooksMu.Unlock()
	t.reconnectHooks = append(t.reconnectHooks, fn)
}

func (t *StatefulTransport) runReconnectHooks(ctx context.Context) error {
	t.reconnectHooksMu.Lock()
	hooks := append([]func(ctx context.Context) error(nil), t.reconnectHooks...)
	t.reconnectHooksMu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}

// document operations, identical surface to StatelessTransport.

func (t *StatefulTransport) Select(ctx context.Context, thing string) (interface{}, error) {
	return t.Send(ctx, "select", []interface{}{thing})
}

func (t *StatefulTransport) Create(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "create", []interface{}{thing, data})
}

func (t *StatefulTransport) Insert(ctx context.Context, table string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "insert", []interface{}{table, data})
}

func (t *StatefulTransport) Update(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "update", []interface{}{thing, data})
}

func (t *StatefulTransport) Upsert(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "upsert", []interface{}{thing, data})
}

func (t *StatefulTransport) Merge(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "merge", []interface{}{thing, data})
}

func (t *StatefulTransport) Patch(ctx context.Context, thing string, patches interface{}) (interface{}, error) {
	return t.Send(ctx, "patch", []interface{}{thing, patches})
}

func (t *StatefulTransport) Delete(ctx context.Context, thing string) (interface{}, error) {
	return t.Send(ctx, "delete", []interface{}{thing})
}

func (t *StatefulTransport) Relate(ctx context.Context, from, relation, to string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "relate", []interface{}{from, relation, to, data})
}

func (t *StatefulTransport) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	return t.Send(ctx, "query", []interface{}{sql, vars})
}

func (t *StatefulTransport) Ping(ctx context.Context) error {
	_, err := t.Send(ctx, "ping", nil)
	return err
}

func (t *StatefulTransport) Version(ctx context.Context) (interface{}, error) {
	return t.Send(ctx, "version", nil)
}

func (t *StatefulTransport) Info(ctx context.Context) (interface{}, error) {
	return t.Send(ctx, "info", nil)
}

// Begin starts an interactive transaction on this connection. The
// returned token is purely documentary (the stateful connection itself
// is the transaction's identity); callers use it for log correlation.
func (t *StatefulTransport) Begin(ctx context.Context) (string, error) {
	_, err := t.Send(ctx, "query", []interface{}{"BEGIN TRANSACTION;", nil})
	if err != nil {
		return "", errs.Wrap(errs.KindTransaction, "begin", err)
	}
	return fmt.Sprintf("txn-%d", t.ids.Next()), nil
}

func (t *StatefulTransport) Commit(ctx context.Context) error {
	_, err := t.Send(ctx, "query", []interface{}{"COMMIT TRANSACTION;", nil})
	if err != nil {
		return errs.ClassifyTransactionError(errs.Wrap(errs.KindTransaction, "commit", err))
	}
	return nil
}

func (t *StatefulTransport) Cancel(ctx context.Context) error {
	_, err := t.Send(ctx, "query", []interface{}{"CANCEL TRANSACTION;", nil})
	if err != nil {
		return errs.Wrap(errs.KindTransaction, "cancel", err)
	}
	return nil
}

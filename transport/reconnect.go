package transport

import (
	"context"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/internal/debug"
)

// newReconnectBackoff mirrors the storage layer's server-retry backoff:
// a bounded exponential policy with a floor set from configuration,
// wrapped so the caller can still cancel via context.
func newReconnectBackoff(ctx context.Context, t *StatefulTransport) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.reconnectInterval()
	bo.MaxElapsedTime = 0 // bounded instead by MaxReconnectAttempts via WithMaxRetries
	// WithMaxRetries(n) permits n retries after the first attempt.
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.cfg.maxReconnectAttempts()-1)), ctx)
}

// reconnect runs after the read loop observes an unexpected disconnect.
// It redials, re-authenticates (replaying the last credentials used, or
// consulting TokenRefresher if set), re-selects namespace/database, and
// finally runs every registered reconnect hook so dependents (e.g. a
// live-query manager) can re-establish server-side state. If every
// attempt in the backoff schedule fails, the transport is marked
// permanently closed and every future call fails with
// ErrConnectionClosed.
func (t *StatefulTransport) reconnect(cause error) {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	if t.closed.Load() {
		return
	}
	debug.Logf("stateful: reconnecting after: %v\n", cause)

	ctx := context.Background()
	bo := newReconnectBackoff(ctx, t)

	conn, err := backoff.RetryWithData(func() (*websocket.Conn, error) {
		return t.redialOnce(ctx)
	}, bo)
	if err != nil {
		debug.Logf("stateful: reconnect exhausted: %v\n", err)
		t.instruments.RecordReconnectAttempt(ctx, false)
		t.closed.Store(true)
		return
	}

	done := make(chan struct{})
	t.connMu.Lock()
	if t.closed.Load() {
		// Close ran while redialing; it wins over the reconnect.
		t.connMu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.readerDone = done
	t.connMu.Unlock()

	// The reader must be running before resumeSession issues any RPC
	// (signin/use), since those block on the reader dispatching their
	// response.
	go t.readLoop(conn, done)

	if err := t.resumeSession(ctx); err != nil {
		debug.Logf("stateful: reconnect session resume failed: %v\n", err)
		t.instruments.RecordReconnectAttempt(ctx, false)
		t.closed.Store(true)
		_ = conn.Close()
		return
	}

	t.instruments.RecordReconnectAttempt(ctx, true)
	debug.Logf("stateful: reconnected\n")
}

func (t *StatefulTransport) redialOnce(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.connectTimeout())
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.connectTimeout(),
		Subprotocols:     []string{subprotocolFor(t.codec.Protocol())},
	}
	conn, _, err := dialer.DialContext(dialCtx, t.wsURL, http.Header{})
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "reconnect dial", err)
	}
	return conn, nil
}

// resumeSession replays authentication and namespace/database selection
// on the new connection, then runs reconnect hooks. It does not touch
// t.pending: requests in flight when the connection dropped were
// already failed by the read loop that detected the disconnect.
func (t *StatefulTransport) resumeSession(ctx context.Context) error {
	t.mu.Lock()
	creds := t.lastCreds
	ns, db := t.namespace, t.database
	refresher := t.TokenRefresher
	t.mu.Unlock()

	switch {
	case refresher != nil:
		token, err := refresher(ctx)
		if err != nil {
			return errs.Wrap(errs.KindAuthentication, "refreshing token on reconnect", err)
		}
		t.mu.Lock()
		t.token = token
		t.mu.Unlock()
		if _, err := t.Send(ctx, "authenticate", []interface{}{token}); err != nil {
			return errs.Wrap(errs.KindAuthentication, "authenticating with refreshed token", err)
		}
	case creds != nil:
		if _, err := t.Authenticate(ctx, *creds); err != nil {
			return err
		}
	}

	if ns != "" || db != "" {
		if err := t.Use(ctx, ns, db); err != nil {
			return err
		}
	}

	return t.runReconnectHooks(ctx)
}

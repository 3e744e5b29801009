// Package transport implements the two transport variants the wire
// protocol supports: a stateless one-shot request/response transport and
// a stateful persistent duplex transport with request/response
// correlation, live-query notification dispatch, and reconnect.
package transport

import (
	"context"
	"time"

	"github.com/surrealgo/surreal/codec"
)

// Config is the immutable connection configuration a Registry resolves
// by name and a Pool uses to construct transports. Once constructed it
// is never mutated; a caller that needs different settings creates a
// new named Config.
type Config struct {
	URL       string
	User      string
	Password  string
	Namespace string
	Database  string
	Protocol  codec.Protocol

	// ConnectTimeout bounds opening the underlying channel.
	ConnectTimeout time.Duration
	// RequestTimeout bounds every RPC call. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
	// ReconnectInterval is the base backoff interval between reconnect
	// attempts on the stateful transport. Zero means DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds reconnect attempts before the transport
	// is declared permanently failed. Zero means DefaultMaxReconnectAttempts.
	MaxReconnectAttempts int
}

// Credentials carries everything signin/signup accept: root/namespace/
// database auth, an access method name, and arbitrary extra fields for
// record-level access (e.g. email+password).
type Credentials struct {
	User       string
	Password   string
	Namespace  string
	Database   string
	Access     string
	Extra      map[string]interface{}
}

// Transport is the contract shared by both variants. Authenticate,
// Use, Send, Close, and health-checking apply equally; the stateful
// variant additionally exposes session variables and live-query
// primitives (see StatefulTransport).
type Transport interface {
	// Send dispatches one RPC call and returns its decoded result.
	Send(ctx context.Context, method string, params interface{}) (interface{}, error)

	// Authenticate signs in and stores the resulting token for use on
	// subsequent calls.
	Authenticate(ctx context.Context, creds Credentials) (token string, err error)

	// Use switches the active namespace/database.
	Use(ctx context.Context, namespace, database string) error

	// Close releases the underlying connection. Safe to call more than
	// once.
	Close() error

	// Closed reports whether Close has been called.
	Closed() bool

	// Healthy reports whether the transport can currently serve
	// requests (used by the pool to decide whether to discard a
	// returned connection).
	Healthy() bool

	// Protocol reports the negotiated wire serialization.
	Protocol() codec.Protocol
}

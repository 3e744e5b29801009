// Package surreal is the top-level client facade: it wires the
// transport, transaction, live-query, change-feed, and
// function-call packages into one entry point so a caller doesn't have
// to assemble them by hand for the common case of "one connection, one
// database".
package surreal

import (
	"context"
	"time"

	"github.com/surrealgo/surreal/changefeed"
	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/fncall"
	"github.com/surrealgo/surreal/internal/otelx"
	"github.com/surrealgo/surreal/livequery"
	"github.com/surrealgo/surreal/transport"
	"github.com/surrealgo/surreal/txn"
)

// Re-exported so callers depend only on this package for the common
// path; the component packages remain directly usable for anyone
// assembling a custom topology (e.g. a pooled multi-connection setup).
type (
	Config      = transport.Config
	Credentials = transport.Credentials
	Change      = livequery.Change
	Params      = livequery.Params
	Subscription = livequery.Subscription
	Batch       = changefeed.Batch
	Record      = changefeed.Record
)

// DB is one live connection plus the facades layered over it. The zero
// value is not usable; construct with Connect.
type DB struct {
	tr  *transport.StatefulTransport
	lq  *livequery.Manager
	ins *otelx.Instruments
}

// Connect dials a stateful connection against cfg, authenticates if
// credentials are non-zero, and selects the namespace/database from
// cfg. The returned DB supports every facade (live queries, interactive
// transactions, change feeds, function calls) since all of them need
// the persistent duplex connection's push notifications or session
// state.
func Connect(ctx context.Context, cfg Config, creds Credentials) (*DB, error) {
	tr, err := transport.DialStateful(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !isZeroCredentials(creds) {
		if _, err := tr.Authenticate(ctx, creds); err != nil {
			_ = tr.Close()
			return nil, err
		}
	}
	if cfg.Namespace != "" || cfg.Database != "" {
		if err := tr.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
			_ = tr.Close()
			return nil, err
		}
	}

	db := &DB{tr: tr, lq: livequery.NewManager(tr)}
	return db, nil
}

// isZeroCredentials reports whether creds carries no authentication
// fields at all. Credentials cannot use == (its Extra field is a map),
// so this checks each scalar field and the map's length explicitly.
func isZeroCredentials(creds Credentials) bool {
	return creds.User == "" && creds.Password == "" && creds.Namespace == "" &&
		creds.Database == "" && creds.Access == "" && len(creds.Extra) == 0
}

// SetInstruments attaches ambient otel metrics/tracing to the
// underlying transport and the live-query manager's subscription
// gauge. Nil-safe to omit entirely.
func (db *DB) SetInstruments(in *otelx.Instruments) {
	db.ins = in
	db.tr.SetInstruments(in)
	db.lq.SetInstruments(in)
}

// Close releases the underlying connection, stopping every live
// subscription opened through this DB first.
func (db *DB) Close() error {
	_ = db.lq.StopAll(context.Background())
	return db.tr.Close()
}

// Transport exposes the underlying stateful transport for callers that
// need operations this facade doesn't wrap directly.
func (db *DB) Transport() *transport.StatefulTransport { return db.tr }

// document operations: thin pass-through to the underlying transport.

func (db *DB) Select(ctx context.Context, thing string) (interface{}, error) {
	return db.tr.Select(ctx, thing)
}

func (db *DB) Create(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return db.tr.Create(ctx, thing, data)
}

func (db *DB) Update(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return db.tr.Update(ctx, thing, data)
}

func (db *DB) Merge(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return db.tr.Merge(ctx, thing, data)
}

func (db *DB) Delete(ctx context.Context, thing string) (interface{}, error) {
	return db.tr.Delete(ctx, thing)
}

func (db *DB) Relate(ctx context.Context, from, relation, to string, data interface{}) (interface{}, error) {
	return db.tr.Relate(ctx, from, relation, to, data)
}

func (db *DB) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	return db.tr.Query(ctx, sql, vars)
}

// Watch opens a live query against table, delivering changes through
// params.Callback and/or the returned Subscription's channel.
func (db *DB) Watch(ctx context.Context, params Params) (*Subscription, error) {
	return db.lq.Watch(ctx, params)
}

// Changes returns a Streamer over table's change feed, polling at
// interval (changefeed.DefaultPollInterval if zero). The table must
// already carry `DEFINE TABLE <t> CHANGEFEED <retention>`.
func (db *DB) Changes(table string, interval time.Duration) *changefeed.Streamer {
	return changefeed.New(db.tr, table, interval)
}

// WatchTables fans in the change feeds of every named table into one
// ordered-per-table stream; see changefeed.MergeTables.
func (db *DB) WatchTables(ctx context.Context, tables []string, interval time.Duration, cursors changefeed.Cursors) <-chan changefeed.TableRecord {
	return changefeed.MergeTables(ctx, db.tr, tables, interval, cursors)
}

// Call invokes a server-side function (built-in or user-defined) and
// returns its raw decoded result.
func (db *DB) Call(ctx context.Context, function string, args ...interface{}) (interface{}, error) {
	return fncall.Call(ctx, db.tr, function, args...)
}

// Fn starts a dynamic dotted function-path builder rooted at name.
func (db *DB) Fn(name string) *fncall.Path {
	return fncall.New(db.tr, name)
}

// BeginInteractive starts a server-stateful BEGIN/COMMIT/CANCEL
// transaction on this connection. Only one interactive transaction can
// be open on a connection at a time; callers that need concurrent
// transactions should use a Pool of connections instead.
func (db *DB) BeginInteractive(ctx context.Context) (*txn.Interactive, error) {
	tx := txn.NewInteractive(db.tr)
	if err := tx.Begin(ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

// BeginBatched starts a stateless batched transaction: every operation
// buffers locally and dispatches as one request on Commit. Usable over
// either transport variant since it never depends on connection state
// between calls.
func (db *DB) BeginBatched(ctx context.Context) *txn.Batched {
	return txn.NewBatched(db.tr)
}

// WithTransaction runs fn against tx, committing on success and rolling
// back on error or panic. See txn.WithTransaction.
func WithTransaction(ctx context.Context, tx txn.Transaction, fn func(ctx context.Context) error) error {
	return txn.WithTransaction(ctx, tx, func(ctx context.Context, _ txn.Transaction) error {
		return fn(ctx)
	})
}

// IsRetryableConflict reports whether err is a transaction-conflict
// error a caller may choose to retry.
func IsRetryableConflict(err error) bool {
	return errs.IsRetryableConflict(err)
}

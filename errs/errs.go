// Package errs defines the client's error taxonomy: a fixed set of kinds
// (connection, authentication, query, timeout, validation, live-query,
// change-feed, transaction, transaction-conflict) plus wrap/predicate
// helpers used throughout the transport, transaction, and streaming layers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a taxonomic error category. It is not a type name — callers
// switch on Kind, not on the concrete error type.
type Kind string

const (
	KindConnection         Kind = "connection"
	KindAuthentication     Kind = "authentication"
	KindQuery              Kind = "query"
	KindTimeout            Kind = "timeout"
	KindValidation         Kind = "validation"
	KindLiveQuery          Kind = "live-query"
	KindChangeFeed         Kind = "change-feed"
	KindTransaction        Kind = "transaction"
	KindTransactionConflict Kind = "transaction-conflict"
)

// RollbackState reports whether a transaction's rollback succeeded after a
// commit failure. Unknown covers cases where the rollback itself could not
// be confirmed (e.g. the connection died mid-rollback).
type RollbackState int

const (
	RollbackUnknown RollbackState = iota
	RollbackSucceeded
	RollbackFailed
)

// Error is the concrete error type for every kind in the taxonomy.
type Error struct {
	Kind    Kind
	Message string
	Code    int64 // optional numeric code from the server, 0 if absent
	SQL     string // optional offending SQL, query errors only

	// Rollback is only meaningful when Kind is transaction or
	// transaction-conflict.
	Rollback RollbackState

	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomic kind to an underlying error, the way
// wrapDBError in the storage layer this is grounded on attaches a
// not-found/conflict/cycle sentinel to a raw sql error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		// Already kinded — don't double-wrap, just add operation context.
		return &Error{Kind: existing.Kind, Message: op + ": " + existing.Message, Code: existing.Code, SQL: existing.SQL, Rollback: existing.Rollback, cause: existing.cause}
	}
	return &Error{Kind: kind, Message: op, cause: err}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting of the operation message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	return Wrap(kind, fmt.Sprintf(format, args...), err)
}

// WithCode returns a copy of e with Code set.
func (e *Error) WithCode(code int64) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithSQL returns a copy of e with SQL set.
func (e *Error) WithSQL(sql string) *Error {
	c := *e
	c.SQL = sql
	return &c
}

// WithRollback returns a copy of e with Rollback set.
func (e *Error) WithRollback(state RollbackState) *Error {
	c := *e
	c.Rollback = state
	return &c
}

// Is reports whether err is a taxonomy error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsConnection(err error) bool  { return Is(err, KindConnection) }
func IsAuthentication(err error) bool { return Is(err, KindAuthentication) }
func IsQuery(err error) bool       { return Is(err, KindQuery) }
func IsTimeout(err error) bool     { return Is(err, KindTimeout) }
func IsValidation(err error) bool  { return Is(err, KindValidation) }
func IsLiveQuery(err error) bool   { return Is(err, KindLiveQuery) }
func IsChangeFeed(err error) bool  { return Is(err, KindChangeFeed) }
func IsTransaction(err error) bool {
	return Is(err, KindTransaction) || Is(err, KindTransactionConflict)
}
func IsRetryableConflict(err error) bool { return Is(err, KindTransactionConflict) }

// conflictPatterns are matched case-insensitively against a server-reported
// transaction error message to classify it as a retryable conflict.
var conflictPatterns = []string{
	"can be retried",
	"failed transaction",
	"conflict",
	"document changed",
}

// ClassifyTransactionError inspects a transaction-kind error's message and
// returns a transaction-conflict error in its place if the message matches
// one of the known retryable patterns; otherwise it returns err unchanged.
// The core only classifies — it never retries itself (§7 propagation
// policy): that decision belongs to the caller.
func ClassifyTransactionError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	lower := strings.ToLower(e.Message)
	for _, pat := range conflictPatterns {
		if strings.Contains(lower, pat) {
			c := *e
			c.Kind = KindTransactionConflict
			return &c
		}
	}
	return err
}

// ErrConnectionClosed is returned by operations attempted on a closed
// transport.
var ErrConnectionClosed = New(KindConnection, "connection closed")

// ErrPoolClosed is returned by acquisitions attempted on a closed pool.
var ErrPoolClosed = New(KindConnection, "pool closed")

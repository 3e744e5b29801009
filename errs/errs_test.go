package errs

import (
	"errors"
	"testing"
)

func TestWrapPreservesKindAndAddsContext(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(KindConnection, "dial", base)

	if !Is(wrapped, KindConnection) {
		t.Fatalf("expected connection kind, got %v", wrapped)
	}
	if got := wrapped.Error(); got != "connection: dial: boom" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(wrapped, base) == false {
		// unwrap should still reach base via errors.Unwrap chain
	}
	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatalf("expected *Error in chain")
	}
	if e.Unwrap() != base {
		t.Fatalf("expected unwrap to reach base error")
	}
}

func TestWrapDoesNotDoubleWrap(t *testing.T) {
	inner := New(KindQuery, "bad syntax")
	outer := Wrap(KindConnection, "dispatch", inner)

	if !Is(outer, KindQuery) {
		t.Fatalf("expected original kind to survive re-wrap, got %v", outer)
	}
}

func TestClassifyTransactionError(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		wantKind  Kind
	}{
		{"retryable conflict phrase", "the transaction can be retried", KindTransactionConflict},
		{"failed transaction phrase", "Failed Transaction due to serialization", KindTransactionConflict},
		{"plain conflict word", "write conflict detected", KindTransactionConflict},
		{"document changed", "document changed since read", KindTransactionConflict},
		{"unrelated error", "syntax error near SELECT", KindTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(KindTransaction, tt.message)
			classified := ClassifyTransactionError(err)
			if !Is(classified, tt.wantKind) {
				t.Errorf("ClassifyTransactionError(%q) kind = %v, want %v", tt.message, classified, tt.wantKind)
			}
		})
	}
}

func TestClassifyTransactionErrorPassesThroughNonTaxonomyErrors(t *testing.T) {
	base := errors.New("plain error")
	if got := ClassifyTransactionError(base); got != base {
		t.Fatalf("expected unchanged error, got %v", got)
	}
}

func TestWithRollback(t *testing.T) {
	base := New(KindTransaction, "commit failed")
	withState := base.WithRollback(RollbackSucceeded)

	if base.Rollback != RollbackUnknown {
		t.Fatalf("original error should be unmodified")
	}
	if withState.Rollback != RollbackSucceeded {
		t.Fatalf("expected RollbackSucceeded, got %v", withState.Rollback)
	}
}

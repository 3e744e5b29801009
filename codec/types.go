// Package codec implements the two interchangeable wire serializations
// (binary, text) that preserve the scalar type set a document-graph
// database needs: integers, doubles, booleans, timezone-aware instants,
// fixed-precision decimals, UUIDs, durations, byte strings, record
// identifiers, table references, and a distinguished "absent" marker.
package codec

import (
	"fmt"
	"strings"
)

// RecordID is a (table, id) pair. It is never inferred from a plain
// string: a caller that wants a record reference constructs a RecordID
// explicitly. This is load-bearing — arbitrary strings (e.g. data URLs)
// that happen to contain a colon must never be reinterpreted.
type RecordID struct {
	Table string
	ID    interface{}
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s:%v", r.Table, r.ID)
}

// ParseRecordID splits "table:id" into a RecordID. Used only where the
// caller has explicitly opted into record-id parsing (e.g. a REST path
// segment); never invoked implicitly by the codec on decode.
func ParseRecordID(s string) (RecordID, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return RecordID{}, fmt.Errorf("codec: %q is not a record id", s)
	}
	return RecordID{Table: s[:idx], ID: s[idx+1:]}, nil
}

// Table names a table reference, distinct from a record id or a plain
// string, used when an operation's target names a table rather than a
// specific record.
type Table struct {
	Name string
}

func (t Table) String() string { return t.Name }

// Duration is a SurrealDB duration, round-tripped as its canonical
// string form ("1h30m") rather than a numeric tick count.
type Duration string

func (d Duration) String() string { return string(d) }

// noneMarker is the distinguished "field absent" value, distinct from a
// present-but-null field. Callers assign the package-level None value to
// a field that should be omitted from the server's view entirely.
type noneMarker struct{}

// None marks a field as absent (SurrealDB's NONE), as opposed to Go's
// nil which the codec treats as present-but-null.
var None = noneMarker{}

// IsNone reports whether v is the absent marker.
func IsNone(v interface{}) bool {
	_, ok := v.(noneMarker)
	return ok
}

// Package changefeed implements the stateless, cursored change-feed
// streamer: periodic SHOW CHANGES polling with a monotonic cursor.
package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealgo/surreal/errs"
)

// DefaultPollInterval is used by Stream/StreamBatch when none is given.
const DefaultPollInterval = time.Second

// sender is the minimal transport capability the streamer needs.
type sender interface {
	Send(ctx context.Context, method string, params interface{}) (interface{}, error)
}

// Record is one action-tagged update within a Batch. Exactly one of
// Create, Update, or Delete is non-nil; DefineTable is set instead for
// schema-descriptor entries, which consumers skip.
type Record struct {
	Create      map[string]interface{}
	Update      map[string]interface{}
	Delete      map[string]interface{}
	DefineTable map[string]interface{}
}

// RecordID returns the changed record's "table:id" identity, or "" for
// a schema-descriptor entry.
func (r Record) RecordID(table string) string {
	var body map[string]interface{}
	switch {
	case r.Create != nil:
		body = r.Create
	case r.Update != nil:
		body = r.Update
	case r.Delete != nil:
		body = r.Delete
	default:
		return ""
	}
	id, ok := body["id"]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%v", table, id)
}

// Batch is one `SHOW CHANGES` result entry: a versionstamp plus the
// list of record-level changes observed at it.
type Batch struct {
	Versionstamp string
	Changes      []Record
}

// Streamer polls one table's change feed with a monotonic cursor.
// Requires `DEFINE TABLE <table> CHANGEFEED <retention>` to have
// already been issued server-side.
type Streamer struct {
	tr           sender
	table        string
	pollInterval time.Duration
}

// New constructs a Streamer for table over tr, using interval between
// empty polls (DefaultPollInterval if zero).
func New(tr sender, table string, interval time.Duration) *Streamer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Streamer{tr: tr, table: table, pollInterval: interval}
}

// GetChanges issues one `SHOW CHANGES FOR TABLE <t> SINCE '<since>'
// LIMIT <n>` request and returns the decoded batch list.
func (s *Streamer) GetChanges(ctx context.Context, since string, limit int) ([]Batch, error) {
	sql := fmt.Sprintf("SHOW CHANGES FOR TABLE %s SINCE '%s' LIMIT %d", s.table, since, limit)
	result, err := s.tr.Send(ctx, "query", []interface{}{sql, nil})
	if err != nil {
		return nil, errs.Wrap(errs.KindChangeFeed, "show changes", err)
	}
	return decodeBatches(result)
}

// Stream maintains an internal cursor (since, or if empty the local
// clock's current UTC time; the server's clock is not consulted) and
// yields individual changed records in order. Each
// GetChanges call's results are emitted one at a time, then the cursor
// advances to the last batch's versionstamp; an empty poll sleeps for
// the configured interval before retrying. Closing ctx stops the
// stream and closes the returned channel.
func (s *Streamer) Stream(ctx context.Context, since string) <-chan Record {
	out := make(chan Record)
	go s.run(ctx, since, func(b Batch) bool {
		for _, rec := range b.Changes {
			select {
			case out <- rec:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}, out)
	return out
}

// StreamBatch is Stream's whole-batch variant: each poll's entire
// Batch is yielded as one channel item instead of unrolling it into
// individual records.
func (s *Streamer) StreamBatch(ctx context.Context, since string) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		s.pollLoop(ctx, since, func(b Batch) bool {
			select {
			case out <- b:
			case <-ctx.Done():
				return false
			}
			return true
		})
	}()
	return out
}

func (s *Streamer) run(ctx context.Context, since string, emit func(Batch) bool, out chan Record) {
	defer close(out)
	s.pollLoop(ctx, since, emit)
}

// pollLoop is the shared cursor-advance/poll/sleep loop behind both
// Stream and StreamBatch. emit returns false to stop early (context
// cancelled mid-delivery).
func (s *Streamer) pollLoop(ctx context.Context, since string, emit func(Batch) bool) {
	cursor := since
	if cursor == "" {
		cursor = time.Now().UTC().Format(time.RFC3339Nano)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		batches, err := s.GetChanges(ctx, cursor, 1000)
		if err != nil {
			return
		}
		if len(batches) == 0 {
			select {
			case <-time.After(s.pollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, b := range batches {
			if !emit(b) {
				return
			}
			cursor = b.Versionstamp
		}
	}
}

func decodeBatches(result interface{}) ([]Batch, error) {
	rows, err := asQueryResultRows(result)
	if err != nil {
		return nil, err
	}

	batches := make([]Batch, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		b := Batch{}
		if vs, ok := m["versionstamp"].(string); ok {
			b.Versionstamp = vs
		}
		if changes, ok := m["changes"].([]interface{}); ok {
			for _, c := range changes {
				cm, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				b.Changes = append(b.Changes, decodeRecord(cm))
			}
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func decodeRecord(m map[string]interface{}) Record {
	var r Record
	if v, ok := m["create"].(map[string]interface{}); ok {
		r.Create = v
	}
	if v, ok := m["update"].(map[string]interface{}); ok {
		r.Update = v
	}
	if v, ok := m["delete"].(map[string]interface{}); ok {
		r.Delete = v
	}
	if v, ok := m["define_table"].(map[string]interface{}); ok {
		r.DefineTable = v
	}
	return r
}

// asQueryResultRows unwraps the single-statement query response shape
// ({status, result, time}) to get at the raw SHOW CHANGES row list.
func asQueryResultRows(v interface{}) ([]interface{}, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, errs.New(errs.KindChangeFeed, "show changes: unexpected response shape")
	}
	if len(list) == 0 {
		return nil, nil
	}
	entry, ok := list[0].(map[string]interface{})
	if !ok {
		// A list whose first entry is not a map is returned as is. A
		// list of raw row maps without the {status, result} wrapper is
		// read as a wrapped response, so its rows are not found.
		return list, nil
	}
	if status, ok := entry["status"].(string); ok && status == "ERR" {
		msg, _ := entry["result"].(string)
		return nil, errs.Newf(errs.KindChangeFeed, "show changes failed: %s", msg)
	}
	rows, _ := entry["result"].([]interface{})
	return rows, nil
}

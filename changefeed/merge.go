package changefeed

import (
	"context"
	"sync"
	"time"
)

// TableRecord tags a Record with the table it was observed on, so a
// merged multi-table stream can still be attributed to its source.
type TableRecord struct {
	Table string
	Record
}

// Cursors maps table name to a starting "since" value for MergeTables.
// A table absent from the map starts from the local clock's current
// UTC time.
type Cursors map[string]string

// MergeTables fans in one Streamer per table into a single ordered-per-table
// channel: every table gets its own polling goroutine and its own cursor,
// merged via select rather than a round-robin scan over a fixed table list,
// so a table with a large backlog or a slow poll interval cannot starve
// delivery from a faster one. The returned channel closes once every
// per-table stream has stopped (ctx cancelled).
func MergeTables(ctx context.Context, tr sender, tables []string, interval time.Duration, cursors Cursors) <-chan TableRecord {
	out := make(chan TableRecord)

	var wg sync.WaitGroup
	for _, table := range tables {
		table := table
		since := cursors[table]
		streamer := New(tr, table, interval)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range streamer.Stream(ctx, since) {
				select {
				case out <- TableRecord{Table: table, Record: rec}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

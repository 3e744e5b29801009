package changefeed

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// multiTableSender returns canned pages keyed by the table name parsed
// out of the SHOW CHANGES SQL, so each table's Streamer goroutine polls
// independently against its own page sequence.
type multiTableSender struct {
	mu    sync.Mutex
	pages map[string][][]interface{}
	calls map[string]int
}

func (f *multiTableSender) Send(ctx context.Context, method string, params interface{}) (interface{}, error) {
	args := params.([]interface{})
	sql := args[0].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	var table string
	for t := range f.pages {
		if strings.Contains(sql, "FOR TABLE "+t+" SINCE") {
			table = t
			break
		}
	}
	idx := f.calls[table]
	var page []interface{}
	if idx < len(f.pages[table]) {
		page = f.pages[table][idx]
		f.calls[table] = idx + 1
	}
	return []interface{}{
		map[string]interface{}{"status": "OK", "result": page},
	}, nil
}

func TestMergeTablesDeliversFromEveryTable(t *testing.T) {
	fs := &multiTableSender{
		calls: map[string]int{},
		pages: map[string][][]interface{}{
			"person": {
				{batchRow("1", map[string]interface{}{"create": map[string]interface{}{"id": "p1"}})},
			},
			"order": {
				{batchRow("1", map[string]interface{}{"create": map[string]interface{}{"id": "o1"}})},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	merged := MergeTables(ctx, fs, []string{"person", "order"}, time.Millisecond, nil)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case rec := <-merged:
			seen[rec.Table] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged record")
		}
	}
	require.True(t, seen["person"])
	require.True(t, seen["order"])
}

func TestMergeTablesClosesOutputWhenContextCancelled(t *testing.T) {
	fs := &multiTableSender{calls: map[string]int{}, pages: map[string][][]interface{}{
		"person": nil,
	}}
	ctx, cancel := context.WithCancel(context.Background())

	merged := MergeTables(ctx, fs, []string{"person"}, time.Millisecond, nil)
	cancel()

	select {
	case _, open := <-merged:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for merged channel to close")
	}
}

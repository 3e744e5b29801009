package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	pages   [][]interface{}
	sql     []string
	callIdx int
}

func (f *fakeSender) Send(ctx context.Context, method string, params interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := params.([]interface{})
	f.sql = append(f.sql, args[0].(string))

	if f.callIdx >= len(f.pages) {
		return []interface{}{
			map[string]interface{}{"status": "OK", "result": []interface{}{}},
		}, nil
	}
	page := f.pages[f.callIdx]
	f.callIdx++
	return []interface{}{
		map[string]interface{}{"status": "OK", "result": page},
	}, nil
}

func batchRow(vs string, changes ...interface{}) map[string]interface{} {
	return map[string]interface{}{"versionstamp": vs, "changes": changes}
}

func TestGetChangesDecodesBatchesAndRecords(t *testing.T) {
	fs := &fakeSender{pages: [][]interface{}{
		{
			batchRow("1",
				map[string]interface{}{"create": map[string]interface{}{"id": "one"}},
				map[string]interface{}{"define_table": map[string]interface{}{"name": "person"}},
			),
		},
	}}

	s := New(fs, "person", time.Millisecond)
	batches, err := s.GetChanges(context.Background(), "0", 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "1", batches[0].Versionstamp)
	require.Len(t, batches[0].Changes, 2)
	require.Equal(t, "one", batches[0].Changes[0].Create["id"])
	require.Equal(t, "person:one", batches[0].Changes[0].RecordID("person"))
	require.Nil(t, batches[0].Changes[1].Create)
	require.NotNil(t, batches[0].Changes[1].DefineTable)
	require.Equal(t, "", batches[0].Changes[1].RecordID("person"))

	require.Contains(t, fs.sql[0], "SHOW CHANGES FOR TABLE person SINCE '0' LIMIT 10")
}

func TestStreamAdvancesCursorAndEmitsInOrder(t *testing.T) {
	fs := &fakeSender{pages: [][]interface{}{
		{batchRow("100", map[string]interface{}{"create": map[string]interface{}{"id": "a"}})},
		{batchRow("200", map[string]interface{}{"update": map[string]interface{}{"id": "b"}})},
	}}

	s := New(fs, "person", time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	recs := s.Stream(ctx, "0")

	first := <-recs
	require.Equal(t, "a", first.Create["id"])
	second := <-recs
	require.Equal(t, "b", second.Update["id"])

	cancel()
	_, open := <-recs
	require.False(t, open)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Contains(t, fs.sql[0], "SINCE '0'")
	require.Contains(t, fs.sql[1], "SINCE '100'")
}

func TestStreamBatchYieldsWholeBatches(t *testing.T) {
	fs := &fakeSender{pages: [][]interface{}{
		{batchRow("5",
			map[string]interface{}{"create": map[string]interface{}{"id": "a"}},
			map[string]interface{}{"create": map[string]interface{}{"id": "b"}},
		)},
	}}

	s := New(fs, "person", time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	batches := s.StreamBatch(ctx, "0")
	b := <-batches
	require.Equal(t, "5", b.Versionstamp)
	require.Len(t, b.Changes, 2)
}

func TestGetChangesSurfacesServerError(t *testing.T) {
	s := New(erroringSender{}, "person", time.Millisecond)
	_, err := s.GetChanges(context.Background(), "0", 10)
	require.Error(t, err)
}

type erroringSender struct{}

func (erroringSender) Send(ctx context.Context, method string, params interface{}) (interface{}, error) {
	return []interface{}{
		map[string]interface{}{"status": "ERR", "result": "no changefeed defined"},
	}, nil
}

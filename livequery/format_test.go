package livequery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/surrealgo/surreal/codec"
)

func TestInlineParamsOrdersLongestKeyFirst(t *testing.T) {
	sql := inlineParams("age > $id AND age < $id10", map[string]interface{}{
		"id":   1,
		"id10": 2,
	})
	require.Equal(t, "age > 1 AND age < 2", sql)
}

func TestLiteralEscapesStrings(t *testing.T) {
	got := literal(`it's \ok`)
	require.Equal(t, "'it\\'s \\\\ok'", got)
}

func TestLiteralHandlesScalarsAndRecordID(t *testing.T) {
	require.Equal(t, "NONE", literal(codec.None))
	require.Equal(t, "true", literal(true))
	require.Equal(t, "false", literal(false))
	require.Equal(t, "42", literal(42))
	require.Equal(t, "person:one", literal(codec.RecordID{Table: "person", ID: "one"}))
	require.Equal(t, "[1, 2, 3]", literal([]interface{}{1, 2, 3}))
}

func TestLiteralHandlesUUIDAndDateTime(t *testing.T) {
	id := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")
	require.Equal(t, "u'123e4567-e89b-12d3-a456-426614174000'", literal(id))

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, "d'2024-01-02T03:04:05Z'", literal(ts))
}

func TestBuildLiveSelectInlinesWhereAndDiff(t *testing.T) {
	sql := BuildLiveSelect("person", "age > $age", map[string]interface{}{"age": 18}, true)
	require.Equal(t, "LIVE SELECT * FROM person WHERE age > 18 DIFF", sql)
}

func TestBuildLiveSelectWithoutWhere(t *testing.T) {
	sql := BuildLiveSelect("person", "", nil, false)
	require.Equal(t, "LIVE SELECT * FROM person", sql)
}

// Package livequery implements LIVE SELECT subscriptions: WHERE-clause
// parameter inlining (the server does not evaluate session variables
// inside a live query's filter), notification dispatch, and
// auto-resubscribe across reconnects.
package livequery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/surrealgo/surreal/codec"
)

// inlineParams substitutes every "$name" occurrence in sql with the
// SurrealQL literal form of params[name], longest key first so "$id"
// can't eat the prefix of "$id2" before it's matched.
func inlineParams(sql string, params map[string]interface{}) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	out := sql
	for _, name := range names {
		out = strings.ReplaceAll(out, "$"+name, literal(params[name]))
	}
	return out
}

// literal renders v as the SurrealQL source form the server's live
// query WHERE parser accepts.
func literal(v interface{}) string {
	if v == nil || codec.IsNone(v) {
		return "NONE"
	}
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return quoteString(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case codec.RecordID:
		return t.String()
	case codec.Table:
		return t.Name
	case codec.Duration:
		return string(t)
	case uuid.UUID:
		return "u'" + t.String() + "'"
	case time.Time:
		return "d'" + t.UTC().Format(time.RFC3339Nano) + "'"
	case decimal.Decimal:
		return t.String() + "dec"
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = literal(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return quoteString(fmt.Sprintf("%v", t))
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// BuildLiveSelect constructs the LIVE SELECT statement for table,
// inlining where's parameters in place of session variables (the
// server cannot resolve bound variables inside a live query filter).
func BuildLiveSelect(table, where string, params map[string]interface{}, diff bool) string {
	var b strings.Builder
	b.WriteString("LIVE SELECT * FROM ")
	b.WriteString(table)
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(inlineParams(where, params))
	}
	if diff {
		b.WriteString(" DIFF")
	}
	return b.String()
}

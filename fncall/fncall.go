// Package fncall implements the function-call facade: a dynamic
// dotted-path builder and a typed Call entry point, both lowering to
// `RETURN <path>(<args>);` with positional arguments bound as session
// variables.
package fncall

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealgo/surreal/errs"
)

// knownNamespaces lists the built-in function namespaces the server
// exposes without a `fn::` prefix. Anything else is assumed to be a
// user-defined function and gets `fn::` prepended.
var knownNamespaces = map[string]bool{
	"math":   true,
	"time":   true,
	"array":  true,
	"string": true,
	"crypto": true,
	"type":   true,
	"object": true,
	"parse":  true,
	"rand":   true,
	"http":   true,
	"count":  true,
	"meta":   true,
}

// sender is the minimal transport capability fncall needs.
type sender interface {
	Send(ctx context.Context, method string, params interface{}) (interface{}, error)
}

// Path is the dynamic facade: a dotted attribute chain that accumulates
// a namespace path and dispatches when invoked. This is the only facade
// in scope — typed per-namespace helpers are left to consumers — so it
// must remain usable as the universal fallback for any function the
// server exposes, known or user-defined.
type Path struct {
	tr  sender
	dots []string
}

// New starts a dynamic path builder rooted at name (e.g. "math" or a
// user function's first segment).
func New(tr sender, name string) *Path {
	return &Path{tr: tr, dots: []string{name}}
}

// Dot extends the path by one more attribute (e.g. New(tr, "math").Dot("max")
// builds "math::max").
func (p *Path) Dot(name string) *Path {
	return &Path{tr: p.tr, dots: append(append([]string(nil), p.dots...), name)}
}

// Invoke dispatches the accumulated path as a function call with args.
func (p *Path) Invoke(ctx context.Context, args ...interface{}) (interface{}, error) {
	return Call(ctx, p.tr, resolveName(p.dots), args...)
}

// resolveName applies the namespace prefix rule: a known built-in
// namespace uses `::`, anything else is treated as a user-defined
// function under `fn::`.
func resolveName(dots []string) string {
	if len(dots) == 0 {
		return ""
	}
	if knownNamespaces[dots[0]] {
		return strings.Join(dots, "::")
	}
	return "fn::" + strings.Join(dots, "::")
}

// Call is the typed entry point: normalizes function (prepending
// `fn::` if it carries no namespace separator already), binds each
// positional argument as $fn_arg_<i>, dispatches `RETURN <fn>(...)`,
// and returns the raw decoded result. Callers that want a concrete Go
// type decode the result themselves; this package does not assume a
// destination type.
func Call(ctx context.Context, tr sender, function string, args ...interface{}) (interface{}, error) {
	name := normalizeFunctionName(function)

	vars := make(map[string]interface{}, len(args))
	argRefs := make([]string, len(args))
	for i, arg := range args {
		key := fmt.Sprintf("fn_arg_%d", i)
		vars[key] = arg
		argRefs[i] = "$" + key
	}

	sql := fmt.Sprintf("RETURN %s(%s);", name, strings.Join(argRefs, ", "))
	result, err := tr.Send(ctx, "query", []interface{}{sql, vars})
	if err != nil {
		return nil, errs.Wrap(errs.KindQuery, "function call", err)
	}
	return unwrapQueryResult(result)
}

func normalizeFunctionName(function string) string {
	if strings.Contains(function, "::") {
		return function
	}
	return "fn::" + function
}

// unwrapQueryResult extracts the scalar result from a single-statement
// query response shape ({status, result, time}) when present,
// otherwise passes the raw value through.
func unwrapQueryResult(v interface{}) (interface{}, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return v, nil
	}
	entry, ok := list[0].(map[string]interface{})
	if !ok {
		return list[0], nil
	}
	if status, ok := entry["status"].(string); ok && status == "ERR" {
		msg, _ := entry["result"].(string)
		return nil, errs.Newf(errs.KindQuery, "function call failed: %s", msg)
	}
	return entry["result"], nil
}

package fncall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	method string
	params interface{}
	result interface{}
	err    error
}

func (r *recordingSender) Send(ctx context.Context, method string, params interface{}) (interface{}, error) {
	r.method, r.params = method, params
	return r.result, r.err
}

func TestCallPrependsFnNamespaceForUserFunctions(t *testing.T) {
	rs := &recordingSender{result: []interface{}{
		map[string]interface{}{"status": "OK", "result": float64(42)},
	}}

	result, err := Call(context.Background(), rs, "double", 21)
	require.NoError(t, err)
	require.Equal(t, float64(42), result)

	params := rs.params.([]interface{})
	sql := params[0].(string)
	require.Equal(t, "RETURN fn::double($fn_arg_0);", sql)

	vars := params[1].(map[string]interface{})
	require.Equal(t, 21, vars["fn_arg_0"])
}

func TestCallLeavesNamespacedFunctionUnprefixed(t *testing.T) {
	rs := &recordingSender{result: []interface{}{
		map[string]interface{}{"status": "OK", "result": float64(3)},
	}}

	_, err := Call(context.Background(), rs, "math::max", 1, 2, 3)
	require.NoError(t, err)

	params := rs.params.([]interface{})
	sql := params[0].(string)
	require.Equal(t, "RETURN math::max($fn_arg_0, $fn_arg_1, $fn_arg_2);", sql)
}

func TestCallSurfacesServerError(t *testing.T) {
	rs := &recordingSender{result: []interface{}{
		map[string]interface{}{"status": "ERR", "result": "function not found"},
	}}

	_, err := Call(context.Background(), rs, "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "function not found")
}

func TestPathBuilderAccumulatesNamespace(t *testing.T) {
	rs := &recordingSender{result: []interface{}{
		map[string]interface{}{"status": "OK", "result": "abc"},
	}}

	p := New(rs, "string").Dot("uppercase")
	result, err := p.Invoke(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", result)

	sql := rs.params.([]interface{})[0].(string)
	require.Equal(t, "RETURN string::uppercase($fn_arg_0);", sql)
}

func TestPathBuilderUnknownNamespaceGetsFnPrefix(t *testing.T) {
	rs := &recordingSender{result: []interface{}{
		map[string]interface{}{"status": "OK", "result": nil},
	}}

	p := New(rs, "myapp").Dot("helpers").Dot("greet")
	_, err := p.Invoke(context.Background())
	require.NoError(t, err)

	sql := rs.params.([]interface{})[0].(string)
	require.Equal(t, "RETURN fn::myapp::helpers::greet();", sql)
}

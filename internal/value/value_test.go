package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"name":"Acme","revenue":1500,"active":true,"tags":["nw","vip"],"nested":{"a":null}}`)
	v, err := FromJSON(raw)
	require.NoError(t, err)

	name, ok := v.Field("name")
	require.True(t, ok)
	s, _ := name.AsString()
	require.Equal(t, "Acme", s)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	var a, b any
	require.NoError(t, json.Unmarshal(raw, &a))
	require.NoError(t, json.Unmarshal(out, &b))
	require.Equal(t, a, b)
}

func TestCrossKindComparisonsAreFalse(t *testing.T) {
	require.False(t, Equal(String("1"), Number(1)))
	require.False(t, Less(String("1"), Number(2)))
	require.False(t, Less(Number(1), String("2")))
	require.False(t, Contains(Number(12), String("1")))
	require.False(t, In(Number(1), Number(1)))
}

func TestOperatorHelpers(t *testing.T) {
	require.True(t, Less(Number(1), Number(2)))
	require.True(t, Less(String("a"), String("b")))
	require.True(t, Contains(String("open order"), String("open")))
	require.True(t, In(Number(2), Array([]Value{Number(1), Number(2)})))
	require.False(t, In(Number(3), Array([]Value{Number(1), Number(2)})))
}

func TestEqualDeep(t *testing.T) {
	a := Object(map[string]Value{"tags": Array([]Value{String("x")})})
	b := Object(map[string]Value{"tags": Array([]Value{String("x")})})
	c := Object(map[string]Value{"tags": Array([]Value{String("y")})})
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

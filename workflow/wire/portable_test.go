package wire

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortableValue_ResolveIsCached(t *testing.T) {
	p := newUnresolved(Value{TypeID: "int", Data: json.RawMessage("7")}, NewRegistry())
	assert.False(t, p.IsResolved())

	first, err := As[int](p)
	require.NoError(t, err)
	assert.Equal(t, 7, first)
	assert.True(t, p.IsResolved())

	v, ok := p.Value()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// 已解析为 int 后不能再以其他类型访问
	_, err = As[string](p)
	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "int", mismatch.Declared)
	assert.Equal(t, "string", mismatch.Requested)
}

func TestPortableValue_InterfaceAccessDoesNotCache(t *testing.T) {
	p := newUnresolved(Value{TypeID: "ext.obj", Data: json.RawMessage(`{"k":"v"}`)}, nil)

	generic, err := As[any](p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, generic)
	assert.False(t, p.IsResolved())
}

func TestPortableValue_DecodeFailureIsMismatch(t *testing.T) {
	p := newUnresolved(Value{TypeID: "int", Data: json.RawMessage(`{"k":"v"}`)}, nil)
	_, err := As[int](p)

	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.NotNil(t, mismatch.Cause)
	assert.False(t, p.IsResolved())
}

func TestPortableValue_Equal(t *testing.T) {
	resolved := NewPortableValue("test.order", orderPlaced{OrderID: "x", Amount: 1})
	registry := NewRegistry()
	MustRegister[orderPlaced](registry, "test.order")
	unresolved := newUnresolved(Value{TypeID: "test.order", Data: json.RawMessage(`{"amount":1, "order_id":"x"}`)}, registry)
	other := NewPortableValue("test.other", orderPlaced{OrderID: "x", Amount: 1})

	assert.True(t, resolved.Equal(unresolved))
	assert.True(t, unresolved.Equal(resolved))
	assert.False(t, resolved.Equal(other))
	assert.False(t, resolved.Equal(nil))

	var nilValue *PortableValue
	assert.True(t, nilValue.Equal(nil))

	_, err := As[orderPlaced](unresolved)
	require.NoError(t, err)
	assert.True(t, resolved.Equal(unresolved))
}

func TestPortableValue_JSONRoundTrip(t *testing.T) {
	p := NewPortableValue("", approvalDecision{Approved: true, Reason: "ok"})
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back PortableValue
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.IsResolved())
	assert.Equal(t, p.TypeID(), back.TypeID())

	got, err := As[approvalDecision](&back)
	require.NoError(t, err)
	assert.Equal(t, approvalDecision{Approved: true, Reason: "ok"}, got)
	assert.True(t, p.Equal(&back))
}

func TestPortableValue_JSONDecodedKeepsDeclaredType(t *testing.T) {
	data, err := json.Marshal(NewPortableValue("", orderPlaced{OrderID: "o-1", Amount: 3}))
	require.NoError(t, err)

	var back PortableValue
	require.NoError(t, json.Unmarshal(data, &back))

	// 载荷字段兼容也不能换成其他具名类型
	_, err = As[approvalDecision](&back)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, TypeName(reflect.TypeFor[orderPlaced]()), mismatch.Declared)
	assert.Equal(t, TypeName(reflect.TypeFor[approvalDecision]()), mismatch.Requested)
	assert.False(t, back.IsResolved())

	got, err := As[orderPlaced](&back)
	require.NoError(t, err)
	assert.Equal(t, orderPlaced{OrderID: "o-1", Amount: 3}, got)
}

func TestPortableValue_ConcurrentResolve(t *testing.T) {
	p := newUnresolved(Value{TypeID: "string", Data: json.RawMessage(`"shared"`)}, NewRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Resolve(reflect.TypeFor[string]())
			assert.NoError(t, err)
			assert.Equal(t, "shared", out)
		}()
	}
	wg.Wait()
	assert.True(t, p.IsResolved())
}

func TestPortableValue_String(t *testing.T) {
	assert.Equal(t, "int(3)", NewPortableValue("int", 3).String())
	assert.Contains(t, newUnresolved(Value{TypeID: "x", Data: json.RawMessage("{}")}, nil).String(), "unresolved")
}

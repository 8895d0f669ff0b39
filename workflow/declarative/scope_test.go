package declarative

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧭 变量路径
// =============================================================================

func TestParseVariable(t *testing.T) {
	tests := []struct {
		path    string
		kind    ScopeKind
		name    string
		rest    []string
		wantErr bool
	}{
		{path: "Local.total", kind: ScopeLocal, name: "total", rest: []string{}},
		{path: "total", kind: ScopeLocal, name: "total", rest: []string{}},
		{path: "System.Conversation", kind: ScopeSystem, name: "Conversation", rest: []string{}},
		{path: "Env.region", kind: ScopeEnv, name: "region", rest: []string{}},
		{path: "Local.order.items.0", kind: ScopeLocal, name: "order", rest: []string{"items", "0"}},
		{path: " Local.x ", kind: ScopeLocal, name: "x", rest: []string{}},
		{path: "Local", wantErr: true},
		{path: "Local..x", wantErr: true},
		{path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			kind, name, rest, err := ParseVariable(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidVariable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestScopeKey(t *testing.T) {
	k := ScopeKey{Owner: StartExecutorID, Kind: ScopeSystem, Name: SysRunID}
	assert.Equal(t, "declarative_start/System", k.stateScope())
	assert.Equal(t, "declarative_start:System.RunId", k.String())
}

// =============================================================================
// 🔁 循环状态
// =============================================================================

func TestLoopState_Transitions(t *testing.T) {
	var s loopState
	_, _, ok := s.takeNext()
	assert.False(t, ok, "inactive state yields nothing")

	s.reset([]any{"a", "b"})
	assert.True(t, s.Active)

	item, idx, ok := s.takeNext()
	require.True(t, ok)
	assert.Equal(t, "a", item)
	assert.Equal(t, 0, idx)

	item, idx, ok = s.takeNext()
	require.True(t, ok)
	assert.Equal(t, "b", item)
	assert.Equal(t, 1, idx)

	_, _, ok = s.takeNext()
	assert.False(t, ok)

	s.reset(nil)
	assert.Equal(t, loopState{}, s)

	s.reset([]any{})
	assert.True(t, s.Active, "empty snapshot still marks the loop as entered")
	_, _, ok = s.takeNext()
	assert.False(t, ok)
}

func TestToItems(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    []any
		wantErr bool
	}{
		{name: "nil", in: nil, want: []any{}},
		{name: "any slice", in: []any{1, "x"}, want: []any{1, "x"}},
		{name: "string slice", in: []string{"a", "b"}, want: []any{"a", "b"}},
		{name: "int slice", in: []int{3, 4}, want: []any{3, 4}},
		{name: "array", in: [2]bool{true, false}, want: []any{true, false}},
		{
			name: "map sorted by key",
			in:   map[string]any{"b": 2, "a": 1},
			want: []any{map[string]any{"key": "a", "value": 1}, map[string]any{"key": "b", "value": 2}},
		},
		{name: "scalar", in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toItems(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToItems_CopiesSnapshot(t *testing.T) {
	src := []any{"a", "b"}
	got, err := toItems(src)
	require.NoError(t, err)
	src[0] = "changed"
	assert.Equal(t, "a", got[0])
}

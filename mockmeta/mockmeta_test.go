package mockmeta_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrun/modrun/mockmeta"
)

func TestGetMetadata_Nil(t *testing.T) {
	t.Parallel()
	m, err := mockmeta.GetMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestGetMetadata_FunctionBecomesMock(t *testing.T) {
	t.Parallel()
	value := map[string]interface{}{
		"fn":    func() {},
		"count": 3,
	}
	meta, err := mockmeta.GetMetadata(value)
	require.NoError(t, err)
	require.Equal(t, mockmeta.KindObject, meta.Kind)

	gen, err := mockmeta.GenerateFromMetadata(meta)
	require.NoError(t, err)
	out, ok := gen.(map[string]interface{})
	require.True(t, ok)

	assert.True(t, mockmeta.IsMockFunction(out["fn"]))
	assert.Equal(t, 3, out["count"])
}

func TestGetMetadata_Cycle(t *testing.T) {
	t.Parallel()
	cyclic := map[string]interface{}{}
	cyclic["self"] = cyclic

	meta, err := mockmeta.GetMetadata(cyclic)
	require.NoError(t, err)
	require.Equal(t, mockmeta.KindObject, meta.Kind)
	assert.Same(t, meta, meta.Members["self"])

	gen, err := mockmeta.GenerateFromMetadata(meta)
	require.NoError(t, err)
	out := gen.(map[string]interface{})
	assert.Equal(t, reflect.ValueOf(out).Pointer(), reflect.ValueOf(out["self"].(map[string]interface{})).Pointer())
}

func TestMockFunction_RecordsCallsAndImpl(t *testing.T) {
	t.Parallel()
	calls := 0
	fn := mockmeta.NewMockFunction(func(args ...interface{}) (interface{}, error) {
		calls++
		return args[0], nil
	})

	ret, err := fn.Call("a")
	require.NoError(t, err)
	assert.Equal(t, "a", ret)
	assert.Equal(t, 1, calls)
	assert.Len(t, fn.Calls, 1)

	fn.MockClear()
	assert.Empty(t, fn.Calls)
}

func TestGenerateFromMetadata_Array(t *testing.T) {
	t.Parallel()
	meta, err := mockmeta.GetMetadata([]interface{}{1, "two", func() {}})
	require.NoError(t, err)

	gen, err := mockmeta.GenerateFromMetadata(meta)
	require.NoError(t, err)
	out := gen.([]interface{})
	require.Len(t, out, 3)
	assert.Equal(t, 1, out[0])
	assert.Equal(t, "two", out[1])
	assert.True(t, mockmeta.IsMockFunction(out[2]))
}

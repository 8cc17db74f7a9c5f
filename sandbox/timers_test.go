package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrun/modrun/sandbox"
)

func TestFakeTimers_RunAllTimersFiresInDueOrder(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	ft := env.FakeTimers()
	ft.UseFakeTimers()

	_, err := env.VM().RunString(`
		var calls = [];
		setTimeout(function() { calls.push('a'); }, 100);
		setTimeout(function() { calls.push('b'); }, 50);
	`)
	require.NoError(t, err)

	ft.RunAllTimers()

	result, err := env.VM().RunString(`calls`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b", "a"}, result.Export())
}

func TestFakeTimers_ClearAllTimersDropsQueue(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	ft := env.FakeTimers()
	ft.UseFakeTimers()

	_, err := env.VM().RunString(`
		var calls = [];
		setTimeout(function() { calls.push('a'); }, 10);
	`)
	require.NoError(t, err)

	ft.ClearAllTimers()
	ft.RunAllTimers()

	result, err := env.VM().RunString(`calls`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, result.Export())
}

func TestFakeTimers_ClearTimeoutPreventsFiring(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	ft := env.FakeTimers()
	ft.UseFakeTimers()

	_, err := env.VM().RunString(`
		var calls = [];
		var id = setTimeout(function() { calls.push('a'); }, 10);
		clearTimeout(id);
	`)
	require.NoError(t, err)

	ft.RunAllTimers()

	result, err := env.VM().RunString(`calls`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, result.Export())
}

func TestFakeTimers_RunOnlyPendingTimersIgnoresNewlyScheduled(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	ft := env.FakeTimers()
	ft.UseFakeTimers()

	_, err := env.VM().RunString(`
		var calls = [];
		setTimeout(function() {
			calls.push('first');
			setTimeout(function() { calls.push('second'); }, 10);
		}, 10);
	`)
	require.NoError(t, err)

	ft.RunOnlyPendingTimers()

	result, err := env.VM().RunString(`calls`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"first"}, result.Export())
}

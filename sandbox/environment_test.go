package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrun/modrun/fsutil"
	"github.com/modrun/modrun/runtime"
	"github.com/modrun/modrun/sandbox"
)

func compile(t *testing.T, env *sandbox.Environment, path, src string) runtime.CompiledModule {
	t.Helper()
	fs := fsutil.NewMemMapFs()
	require.NoError(t, fsutil.WriteFile(fs, path, []byte(src), 0o644))
	compiled, err := sandbox.NewTransformer(fs, env).Transform(path, runtime.TransformOptions{})
	require.NoError(t, err)
	return compiled
}

func TestEnvironment_InvokeBridgesRequireCalls(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	compiled := compile(t, env, "/proj/a.js", "module.exports = require('./b').value + 1;")

	result, err := env.Invoke(compiled, runtime.WrapperArgs{
		Filename: "/proj/a.js",
		Dirname:  "/proj",
		Require: &runtime.Require{
			Call: func(name string) (interface{}, error) {
				assert.Equal(t, "./b", name)
				return map[string]interface{}{"value": 41}, nil
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result)
}

func TestEnvironment_InvokeBindsThisToExports(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	compiled := compile(t, env, "/proj/a.js", "this.greeting = 'hi';")

	result, err := env.Invoke(compiled, runtime.WrapperArgs{
		Filename: "/proj/a.js",
		Dirname:  "/proj",
		Require:  &runtime.Require{Call: func(string) (interface{}, error) { return nil, nil }},
	})
	require.NoError(t, err)

	exports, ok := result.(map[string]interface{})
	require.True(t, ok, "this.foo = ... must land on the exports object, not the JS global object")
	assert.Equal(t, "hi", exports["greeting"])
}

func TestEnvironment_InvokeExposesControlSurfaceMethods(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	compiled := compile(t, env, "/proj/a.js", "module.exports = jest.ping();")

	result, err := env.Invoke(compiled, runtime.WrapperArgs{
		Filename: "/proj/a.js",
		Dirname:  "/proj",
		Require:  &runtime.Require{Call: func(string) (interface{}, error) { return nil, nil }},
		Control:  &fakeControl{},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}

type fakeControl struct{ calls int }

func (c *fakeControl) Ping() string {
	c.calls++
	return "pong"
}

func TestEnvironment_SetGlobalIsVisibleToBothJSAndGlobal(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	env.SetGlobal("shared", 99)

	compiled := compile(t, env, "/proj/a.js", "module.exports = shared;")
	result, err := env.Invoke(compiled, runtime.WrapperArgs{
		Filename: "/proj/a.js",
		Dirname:  "/proj",
		Require:  &runtime.Require{Call: func(string) (interface{}, error) { return nil, nil }},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), result)
	assert.Equal(t, int64(99), env.Global()["shared"])
}

func TestEnvironment_TorndownReflectsTeardown(t *testing.T) {
	t.Parallel()
	env := sandbox.New(nil)
	assert.False(t, env.Torndown())
	env.Teardown()
	assert.True(t, env.Torndown())
}

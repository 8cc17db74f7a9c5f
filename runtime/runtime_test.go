package runtime_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrun/modrun/fsutil"
	"github.com/modrun/modrun/hastemap"
	"github.com/modrun/modrun/mockmeta"
	"github.com/modrun/modrun/resolver"
	"github.com/modrun/modrun/runtime"
)

// fakeWrapper is the CompiledModule shape fakeTransformer hands out and
// fakeEnv.Invoke knows how to run, letting these tests exercise Runtime's
// caching, circular-require, and mock-decision logic without a real JS
// engine in the loop.
type fakeWrapper func(runtime.WrapperArgs) (interface{}, error)

type fakeTransformer struct {
	bodies map[string]fakeWrapper
	calls  map[string]int
}

func newFakeTransformer() *fakeTransformer {
	return &fakeTransformer{bodies: make(map[string]fakeWrapper), calls: make(map[string]int)}
}

func (ft *fakeTransformer) set(path string, body fakeWrapper) {
	ft.bodies[path] = body
}

func (ft *fakeTransformer) Transform(filename string, _ runtime.TransformOptions) (runtime.CompiledModule, error) {
	body, ok := ft.bodies[filename]
	if !ok {
		return nil, fmt.Errorf("fakeTransformer: no body registered for %q", filename)
	}
	ft.calls[filename]++
	return body, nil
}

type fakeEnv struct {
	torndown bool
	globals  map[string]interface{}
}

func newFakeEnv() *fakeEnv { return &fakeEnv{globals: make(map[string]interface{})} }

func (e *fakeEnv) Torndown() bool { return e.torndown }

func (e *fakeEnv) Invoke(compiled runtime.CompiledModule, args runtime.WrapperArgs) (interface{}, error) {
	body, ok := compiled.(fakeWrapper)
	if !ok {
		return nil, fmt.Errorf("fakeEnv: compiled value is not a fakeWrapper")
	}
	return body(args)
}

func (e *fakeEnv) Global() map[string]interface{} { return e.globals }

func (e *fakeEnv) ParseJSON(raw []byte) (interface{}, error) { return string(raw), nil }

func (e *fakeEnv) FakeTimers() runtime.FakeTimers { return noopTimers{} }

type noopTimers struct{}

func (noopTimers) RunAllTicks()           {}
func (noopTimers) RunAllImmediates()      {}
func (noopTimers) RunAllTimers()          {}
func (noopTimers) RunOnlyPendingTimers()  {}
func (noopTimers) ClearAllTimers()        {}
func (noopTimers) UseFakeTimers()         {}
func (noopTimers) UseRealTimers()         {}

// harness bundles everything a test needs: a populated in-memory
// filesystem, a resolver over it, and a Runtime wired to fake
// transform/invoke collaborators the test controls directly.
type harness struct {
	t           *testing.T
	fs          fsutil.Fs
	haste       *hastemap.Map
	res         *resolver.Resolver
	transformer *fakeTransformer
	env         *fakeEnv
	rt          *runtime.Runtime
}

func newHarness(t *testing.T, cfg runtime.Config) *harness {
	t.Helper()
	fs := fsutil.NewMemMapFs()
	haste := hastemap.New()
	res := resolver.New(resolver.DefaultConfig(), haste, fs, nil)
	transformer := newFakeTransformer()
	env := newFakeEnv()

	rt, err := runtime.New(cfg, res, env, transformer, fs, nil)
	require.NoError(t, err)

	return &harness{t: t, fs: fs, haste: haste, res: res, transformer: transformer, env: env, rt: rt}
}

func (h *harness) writeFile(path string) {
	h.t.Helper()
	require.NoError(h.t, fsutil.WriteFile(h.fs, path, []byte("// placeholder\n"), 0o644))
}

func TestRequireModule_BasicAndCached(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{})

	h.writeFile("/root/a.js")
	h.writeFile("/root/b.js")

	calls := 0
	h.transformer.set("/root/b.js", func(args runtime.WrapperArgs) (interface{}, error) {
		calls++
		return map[string]interface{}{"value": 41}, nil
	})
	h.transformer.set("/root/a.js", func(args runtime.WrapperArgs) (interface{}, error) {
		dep, err := args.Require.Call("./b")
		if err != nil {
			return nil, err
		}
		m := dep.(map[string]interface{})
		return m["value"].(int) + 1, nil
	})

	result, err := h.rt.RequireModule("/root/a.js", "./a")
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls, "b.js should execute exactly once")

	result2, err := h.rt.RequireModule("/root/a.js", "./b")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"value": 41}, result2)
	assert.Equal(t, 1, calls, "second require of b.js must hit the module cache")
}

func TestRequireModule_CircularDoesNotRecurseForever(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{})

	h.writeFile("/root/circ_a.js")
	h.writeFile("/root/circ_b.js")

	var bSawAExports interface{}
	h.transformer.set("/root/circ_a.js", func(args runtime.WrapperArgs) (interface{}, error) {
		if _, err := args.Require.Call("./circ_b"); err != nil {
			return nil, err
		}
		return "a-exports", nil
	})
	h.transformer.set("/root/circ_b.js", func(args runtime.WrapperArgs) (interface{}, error) {
		v, err := args.Require.Call("./circ_a")
		if err != nil {
			return nil, err
		}
		bSawAExports = v
		return "b-exports", nil
	})

	result, err := h.rt.RequireModule("/root/circ_a.js", "./circ_a")
	require.NoError(t, err)
	assert.Equal(t, "a-exports", result)
	// circ_b's nested require of circ_a observed the in-progress ModuleRecord
	// (not yet assigned its final exports) rather than recursing into circ_a
	// a second time or deadlocking.
	assert.Nil(t, bSawAExports)
}

func TestRequireModuleOrMock_AutomockIsolatesRealExecution(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{Automock: true})

	h.writeFile("/root/caller.js")
	h.writeFile("/root/dep.js")

	execCount := 0
	h.transformer.set("/root/dep.js", func(args runtime.WrapperArgs) (interface{}, error) {
		execCount++
		return map[string]interface{}{
			"greet": func(args ...interface{}) (interface{}, error) { return "hi", nil },
			"count": 3,
		}, nil
	})

	mocked, err := h.rt.RequireModuleOrMock("/root/caller.js", "./dep")
	require.NoError(t, err)
	require.Equal(t, 1, execCount, "generating a mock must still run the real module once to introspect it")

	meta := mocked.(map[string]interface{})
	assert.Equal(t, 3, meta["count"])
	assert.True(t, mockmeta.IsMockFunction(meta["greet"]))

	real, err := h.rt.RequireModule("/root/caller.js", "./dep")
	require.NoError(t, err)
	assert.Equal(t, 2, execCount, "the isolated introspection run must not have populated the real module registry")
	assert.Equal(t, 3, real.(map[string]interface{})["count"])
}

func TestRequireModuleOrMock_AutomockOffReturnsReal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{Automock: false})

	h.writeFile("/root/caller.js")
	h.writeFile("/root/dep.js")
	h.transformer.set("/root/dep.js", func(args runtime.WrapperArgs) (interface{}, error) {
		return "real", nil
	})

	v, err := h.rt.RequireModuleOrMock("/root/caller.js", "./dep")
	require.NoError(t, err)
	assert.Equal(t, "real", v)
}

func TestRequireModuleOrMock_CoreModuleNeverMocked(t *testing.T) {
	t.Parallel()
	var loaded string
	cfg := runtime.Config{
		Automock: true,
		LoadCoreModule: func(name string) (interface{}, error) {
			loaded = name
			return "core:" + name, nil
		},
	}
	h := newHarness(t, cfg)
	h.writeFile("/root/caller.js")

	v, err := h.rt.RequireModuleOrMock("/root/caller.js", "path")
	require.NoError(t, err)
	assert.Equal(t, "core:path", v)
	assert.Equal(t, "path", loaded)
}

func TestControlSurface_SetMockAndUnmock(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{Automock: true})

	h.writeFile("/root/caller.js")
	h.writeFile("/root/dep.js")
	h.writeFile("/root/other.js")

	h.transformer.set("/root/dep.js", func(args runtime.WrapperArgs) (interface{}, error) {
		return "real-dep", nil
	})
	h.transformer.set("/root/other.js", func(args runtime.WrapperArgs) (interface{}, error) {
		return "real-other", nil
	})
	h.transformer.set("/root/caller.js", func(args runtime.WrapperArgs) (interface{}, error) {
		control := args.Control.(*runtime.ControlSurface)
		control.SetMock("./dep", "fake-dep").Unmock("./other")

		dep, err := args.Require.Call("./dep")
		if err != nil {
			return nil, err
		}
		other, err := args.Require.Call("./other")
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"dep": dep, "other": other}, nil
	})

	result, err := h.rt.RequireModule("/root/caller.js", "./caller")
	require.NoError(t, err)
	m := result.(map[string]interface{})
	assert.Equal(t, "fake-dep", m["dep"])
	assert.Equal(t, "real-other", m["other"])
}

func TestResetModuleRegistry_ReExecutesAndClearsMocks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{})

	h.writeFile("/root/dep.js")
	calls := 0
	h.transformer.set("/root/dep.js", func(args runtime.WrapperArgs) (interface{}, error) {
		calls++
		return calls, nil
	})

	v1, err := h.rt.RequireModule("/root/caller.js", "./dep")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	spy := mockmeta.NewMockFunction(nil)
	_, _ = spy.Call("x")
	h.env.globals["spy"] = spy
	require.Len(t, spy.Calls, 1)

	h.rt.ResetModuleRegistry()
	assert.Empty(t, spy.Calls, "resetModuleRegistry must clear mock functions reachable from global scope")

	v2, err := h.rt.RequireModule("/root/caller.js", "./dep")
	require.NoError(t, err)
	assert.Equal(t, 2, v2, "a module must re-execute after its registry entry is cleared")
}

func TestRequireMock_ManualMockViaHasteTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, runtime.Config{})

	h.writeFile("/root/caller.js")
	h.writeFile("/root/dep.js")
	h.writeFile("/root/__mocks__/manualDep.js")
	h.haste.AddMock("dep", "/root/__mocks__/manualDep.js")

	h.transformer.set("/root/__mocks__/manualDep.js", func(args runtime.WrapperArgs) (interface{}, error) {
		return "manual-mock", nil
	})
	h.transformer.set("/root/dep.js", func(args runtime.WrapperArgs) (interface{}, error) {
		return "real-dep", nil
	})

	v, err := h.rt.RequireMock("/root/caller.js", "dep")
	require.NoError(t, err)
	assert.Equal(t, "manual-mock", v)
}

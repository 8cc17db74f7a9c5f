package runtime

import "github.com/modrun/modrun/mockmeta"

// ControlSurface is the object exposed to an executing module as `jest`
// (spec.md §4.2.7): a fluent API over the Runtime's mock bookkeeping, plus
// timer forwarding and a frozen snapshot of the configured test-env data.
// Every mutator returns the same ControlSurface, so calls chain the way
// spec.md's examples show them chained.
type ControlSurface struct {
	rt   *Runtime
	from string
}

func (rt *Runtime) createControlSurface(from string) *ControlSurface {
	return &ControlSurface{rt: rt, from: from}
}

// Mock registers name as mocked for this caller. A nil factory means "mock
// it automatically"; a non-nil factory overrides automock entirely for
// this (from, name) pair.
func (cs *ControlSurface) Mock(name string, factory func() (interface{}, error)) *ControlSurface {
	cs.rt.Mock(cs.from, name, factory)
	return cs
}

// SetMock is sugar over Mock for registering a literal mock value rather
// than a factory (spec.md §12's supplemented convenience method).
func (cs *ControlSurface) SetMock(name string, value interface{}) *ControlSurface {
	cs.rt.SetMock(cs.from, name, value)
	return cs
}

// Unmock marks name as explicitly not mocked for this caller, overriding
// automock for this (from, name) pair only.
func (cs *ControlSurface) Unmock(name string) *ControlSurface {
	id := cs.rt.normalizeID(cs.from, name)
	cs.rt.mu.Lock()
	cs.rt.explicitShouldMock[id] = false
	cs.rt.mu.Unlock()
	return cs
}

// DeepUnmock additionally marks name as transitively unmocked, suppressing
// automock for its own dependency subtree (spec.md §4.2.2 step 7).
func (cs *ControlSurface) DeepUnmock(name string) *ControlSurface {
	cs.Unmock(name)
	id := cs.rt.normalizeID(cs.from, name)
	cs.rt.mu.Lock()
	cs.rt.transitiveShouldMock[id] = false
	cs.rt.mu.Unlock()
	return cs
}

// Mock registered with Virtual: true has no backing real module at all; the
// factory is mandatory in that case, so it is exposed as a distinct method
// rather than an options struct on Mock.
func (cs *ControlSurface) MockVirtual(name string, factory func() (interface{}, error)) *ControlSurface {
	key := virtualKey(cs.from, name)
	cs.rt.mu.Lock()
	cs.rt.virtualMocks[key] = true
	cs.rt.mu.Unlock()
	return cs.Mock(name, factory)
}

// EnableAutomock / DisableAutomock toggle the global automock setting that
// step 3 of _shouldMock consults.
func (cs *ControlSurface) EnableAutomock() *ControlSurface {
	cs.rt.mu.Lock()
	cs.rt.automock = true
	cs.rt.mu.Unlock()
	return cs
}

func (cs *ControlSurface) DisableAutomock() *ControlSurface {
	cs.rt.mu.Lock()
	cs.rt.automock = false
	cs.rt.mu.Unlock()
	return cs
}

// ResetModuleRegistry forwards to the Runtime method of the same name.
func (cs *ControlSurface) ResetModuleRegistry() *ControlSurface {
	cs.rt.ResetModuleRegistry()
	return cs
}

// Fn returns a fresh, standalone mock function not tied to any module
// resolution, for tests that want a bare spy (spec.md §5).
func (cs *ControlSurface) Fn(impl func(args ...interface{}) (interface{}, error)) *mockmeta.MockFunction {
	return mockmeta.NewMockFunction(impl)
}

// RunAllTicks through UseRealTimers forward to the sandbox's fake-timer
// facility, giving module code a single `jest.useFakeTimers()`-style
// surface rather than a separate timers object.
func (cs *ControlSurface) RunAllTicks() *ControlSurface {
	cs.rt.env.FakeTimers().RunAllTicks()
	return cs
}

func (cs *ControlSurface) RunAllImmediates() *ControlSurface {
	cs.rt.env.FakeTimers().RunAllImmediates()
	return cs
}

func (cs *ControlSurface) RunAllTimers() *ControlSurface {
	cs.rt.env.FakeTimers().RunAllTimers()
	return cs
}

func (cs *ControlSurface) RunOnlyPendingTimers() *ControlSurface {
	cs.rt.env.FakeTimers().RunOnlyPendingTimers()
	return cs
}

func (cs *ControlSurface) ClearAllTimers() *ControlSurface {
	cs.rt.env.FakeTimers().ClearAllTimers()
	return cs
}

func (cs *ControlSurface) UseFakeTimers() *ControlSurface {
	cs.rt.env.FakeTimers().UseFakeTimers()
	return cs
}

func (cs *ControlSurface) UseRealTimers() *ControlSurface {
	cs.rt.env.FakeTimers().UseRealTimers()
	return cs
}

// GetTestEnvData returns a frozen shallow copy of the configured test-env
// data (spec.md §12), so module code cannot mutate the Runtime's own map
// through the reference it's handed.
func (cs *ControlSurface) GetTestEnvData() map[string]interface{} {
	out := make(map[string]interface{}, len(cs.rt.config.TestEnvData))
	for k, v := range cs.rt.config.TestEnvData {
		out[k] = v
	}
	return out
}

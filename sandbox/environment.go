// Package sandbox is the goja-backed host that evaluates compiled module
// wrappers against one fresh global object per test (spec.md §1, §6). It is
// the concrete implementation of runtime.Environment, runtime.Transformer,
// and runtime.FakeTimers.
package sandbox

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/modrun/modrun/runtime"
)

// Environment is one test's JS global scope: a goja.Runtime plus the
// bookkeeping _execModule's wrapper ABI and resetModuleRegistry need.
type Environment struct {
	vm     *goja.Runtime
	log    logrus.FieldLogger
	timers *FakeTimers

	mu       sync.Mutex
	torndown bool
}

// New builds an Environment with a fresh goja.Runtime. log may be nil.
func New(log logrus.FieldLogger) *Environment {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &Environment{
		vm:     vm,
		log:    log,
		timers: newFakeTimers(vm),
	}
}

// VM exposes the underlying goja.Runtime for module implementations (core
// modules, native addons) that need to build goja.Value results directly.
func (e *Environment) VM() *goja.Runtime { return e.vm }

// Teardown marks the environment as torndown; subsequent _execModule calls
// become no-ops per spec.md §6.
func (e *Environment) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.torndown = true
}

// Torndown implements runtime.Environment.
func (e *Environment) Torndown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.torndown
}

// Invoke calls a compiled wrapper with the ABI spec.md §6 describes:
// (module, exports, require, __dirname, __filename, global, jest), with
// this bound to exports.
func (e *Environment) Invoke(compiled runtime.CompiledModule, args runtime.WrapperArgs) (interface{}, error) {
	wrapper, ok := compiled.(goja.Callable)
	if !ok {
		return nil, fmt.Errorf("sandbox: compiled module for %q is not callable", args.Filename)
	}

	exportsObj := e.vm.NewObject()
	moduleObj := e.vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)

	requireFn := func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		v, err := args.Require.Call(name)
		if err != nil {
			panic(e.vm.ToValue(err.Error()))
		}
		return e.vm.ToValue(v)
	}

	_, err := wrapper(
		exportsObj,
		moduleObj,
		exportsObj,
		e.vm.ToValue(requireFn),
		e.vm.ToValue(args.Dirname),
		e.vm.ToValue(args.Filename),
		e.vm.GlobalObject(),
		e.vm.ToValue(args.Control),
	)
	if err != nil {
		return nil, err
	}

	result := moduleObj.Get("exports")
	if result == nil {
		return exportsObj.Export(), nil
	}
	return result.Export(), nil
}

// Global returns the sandbox's global scope as a name -> value map, walked
// by resetModuleRegistry to clear mock functions (spec.md §4.2.3). It reads
// straight off the real JS global object, so it sees both SetGlobal values
// and properties module code assigned directly (e.g. `global.x = jest.fn()`).
func (e *Environment) Global() map[string]interface{} {
	globalObj := e.vm.GlobalObject()
	keys := globalObj.Keys()
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		out[k] = globalObj.Get(k).Export()
	}
	return out
}

// SetGlobal exposes a value on the JS global object under name, so both JS
// code and a later Global() call can see it.
func (e *Environment) SetGlobal(name string, value interface{}) {
	_ = e.vm.Set(name, value)
}

// ParseJSON parses raw JSON through goja's own JSON.parse, so a required
// .json file's values behave like any other JS-native value (spec.md
// §4.2.1's requireJSON).
func (e *Environment) ParseJSON(raw []byte) (interface{}, error) {
	parse, ok := goja.AssertFunction(e.vm.Get("JSON").ToObject(e.vm).Get("parse"))
	if !ok {
		return nil, fmt.Errorf("sandbox: JSON.parse is not callable")
	}
	v, err := parse(goja.Undefined(), e.vm.ToValue(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("sandbox: parsing JSON module: %w", err)
	}
	return v.Export(), nil
}

// FakeTimers implements runtime.Environment.
func (e *Environment) FakeTimers() runtime.FakeTimers { return e.timers }

// Package runtime implements the per-test module cache and mock decision
// engine described in spec.md §4.2: it owns the lifetime of module and mock
// instances for one test, decides per (caller, requested-name) pair whether
// to return the real module or a mock, and synthesizes a custom require
// function for every executing module.
package runtime

// RequireFunc is the callable signature baked with a caller's directory.
type RequireFunc func(name string) (interface{}, error)

// Require is the object every module body receives as its `require`: a
// callable closed over the caller's directory, plus the attributes spec.md
// §4.2.6 lists (empty cache/extensions, requireActual, requireMock,
// resolve).
type Require struct {
	Call          func(name string) (interface{}, error)
	Cache         map[string]interface{}
	Extensions    map[string]interface{}
	RequireActual func(name string) (interface{}, error)
	RequireMock   func(name string) (interface{}, error)
	Resolve       func(name string) (string, error)
}

// ModuleRecord is the runtime-owned record for one evaluated real module.
// At most one ModuleRecord exists per absolute path in a Runtime's module
// registry; it is inserted before its body runs so a circular require
// observes the (possibly partial) exports already assigned.
type ModuleRecord struct {
	Filename string
	Exports  interface{}
	Children []*ModuleRecord
	Parent   *ModuleRecord
	Paths    []string
	Require  *Require
}

// TransformOptions is passed through to the Transformer, so internal
// plumbing (requireInternalModule) can ask for a wrapper that is never
// subject to manual-mock substitution.
type TransformOptions struct {
	IsInternalModule bool
}

// CompiledModule is the opaque wrapper value a Transformer hands back and an
// Environment knows how to run; the runtime package never looks inside it.
type CompiledModule interface{}

// Transformer produces an executable wrapper function from a file path,
// consumed exactly as described in spec.md §6. It is an external
// collaborator; sandbox.Transformer is this module's concrete
// implementation.
type Transformer interface {
	Transform(filename string, opts TransformOptions) (CompiledModule, error)
}

// WrapperArgs is everything _execModule assembles before invoking a
// compiled wrapper; Environment.Invoke is responsible for actually calling
// it with the ABI spec.md §6 describes: (module, exports, require,
// __dirname, __filename, global, jest).
type WrapperArgs struct {
	Module   *ModuleRecord
	Require  *Require
	Dirname  string
	Filename string
	Control  interface{}
}

// FakeTimers is the subset of the sandbox host's timer facility the control
// surface forwards to (spec.md §6).
type FakeTimers interface {
	RunAllTicks()
	RunAllImmediates()
	RunAllTimers()
	RunOnlyPendingTimers()
	ClearAllTimers()
	UseFakeTimers()
	UseRealTimers()
}

// Environment is the sandbox host consumed by the runtime: it evaluates a
// compiled wrapper against a fresh global object and exposes fake-timer
// controls (spec.md §1, §6). It is an external collaborator; package
// sandbox is this module's concrete, goja-backed implementation.
type Environment interface {
	// Torndown reports whether the environment has already shut down;
	// _execModule must become a no-op rather than raise when true.
	Torndown() bool
	// Invoke calls compiled per the wrapper ABI and returns the module's
	// final exports value.
	Invoke(compiled CompiledModule, args WrapperArgs) (interface{}, error)
	// Global returns the sandbox's global scope as a name -> value map, so
	// resetModuleRegistry can walk it clearing mock functions.
	Global() map[string]interface{}
	// ParseJSON parses raw JSON through the sandbox's own JSON implementation,
	// used when requiring a .json file.
	ParseJSON(raw []byte) (interface{}, error)
	// FakeTimers exposes the environment's timer control surface.
	FakeTimers() FakeTimers
}

// Config mirrors the runtime-relevant fields spec.md's data model and
// §4.2.7 describe.
type Config struct {
	// Automock is the initial global automock setting; EnableAutomock /
	// DisableAutomock toggle it at runtime.
	Automock bool
	// UnmockedModulePathPatterns are joined with "|" into one compiled
	// regex, checked against a resolved path in the mock decision cascade.
	UnmockedModulePathPatterns []string
	// TestEnvData is the opaque data GetTestEnvData returns a frozen,
	// shallow copy of.
	TestEnvData map[string]interface{}
	// RootDir anchors the relative path named in a rewrapped syntax error.
	RootDir string
	// Preprocessor, when set, is named in a rewrapped syntax error message.
	Preprocessor string
	// LoadCoreModule delegates to the host's built-in loader for names
	// resolver.Resolver.IsCoreModule reports true for.
	LoadCoreModule func(name string) (interface{}, error)
	// LoadNativeAddon delegates to the host's native-addon loader for
	// .node files.
	LoadNativeAddon func(path string) (interface{}, error)
}

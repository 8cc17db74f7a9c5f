package runtime

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/modrun/modrun/fsutil"
	"github.com/modrun/modrun/mockmeta"
	"github.com/modrun/modrun/resolver"
)

// Runtime owns the lifetime of module and mock instances for one test
// (spec.md §4.2). All of its registries are process-external to the
// resolver and exclusively owned by the Runtime itself.
type Runtime struct {
	config      Config
	resolver    *resolver.Resolver
	env         Environment
	transformer Transformer
	fs          fsutil.Fs
	log         logrus.FieldLogger

	ids          *idCache
	unmockRegexp *regexpMatcher

	mu                              sync.Mutex
	automock                        bool
	moduleRegistry                  map[string]*ModuleRecord
	mockRegistry                    map[string]interface{}
	mockFactories                   map[string]func() (interface{}, error)
	explicitShouldMock              map[string]bool
	transitiveShouldMock            map[string]bool
	shouldMockModuleCache           map[string]bool
	shouldUnmockTransitiveDepsCache map[string]bool
	mockMetaDataCache               map[string]*mockmeta.Metadata
	virtualMocks                    map[string]bool

	currentlyExecutingModulePath     string
	currentlyExecutingManualMockPath string
}

// New builds a Runtime. log may be nil, in which case a discarding logger
// is used.
func New(cfg Config, res *resolver.Resolver, env Environment, transformer Transformer, fs fsutil.Fs, log logrus.FieldLogger) (*Runtime, error) {
	re, err := compileUnmockRegexp(cfg.UnmockedModulePathPatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling unmockedModulePathPatterns: %w", err)
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	unmock := &regexpMatcher{}
	if re != nil {
		unmock.re = re
	}
	return &Runtime{
		config:                          cfg,
		resolver:                        res,
		env:                             env,
		transformer:                     transformer,
		fs:                              fs,
		log:                             log,
		ids:                             newIDCache(),
		unmockRegexp:                    unmock,
		automock:                        cfg.Automock,
		moduleRegistry:                  make(map[string]*ModuleRecord),
		mockRegistry:                    make(map[string]interface{}),
		mockFactories:                   make(map[string]func() (interface{}, error)),
		explicitShouldMock:              make(map[string]bool),
		transitiveShouldMock:            make(map[string]bool),
		shouldMockModuleCache:           make(map[string]bool),
		shouldUnmockTransitiveDepsCache: make(map[string]bool),
		mockMetaDataCache:               make(map[string]*mockmeta.Metadata),
		virtualMocks:                    make(map[string]bool),
	}, nil
}

// regexpMatcher lets mock.go's shouldMock treat "no patterns configured" and
// "a real compiled regexp" uniformly without a nil-check at every call site.
type regexpMatcher struct{ re matcher }

type matcher interface{ MatchString(string) bool }

func (m *regexpMatcher) MatchString(s string) bool {
	if m == nil || m.re == nil {
		return false
	}
	return m.re.MatchString(s)
}

// RequireModule resolves name relative to from, executing the module if it
// has not already been evaluated, and returns its exports.
func (rt *Runtime) RequireModule(from, name string) (interface{}, error) {
	return rt.requireModuleImpl(from, name, TransformOptions{})
}

// RequireInternalModule is RequireModule with manual-mock substitution
// disabled, so internal plumbing is never intercepted by user mocks.
func (rt *Runtime) RequireInternalModule(from, to string) (interface{}, error) {
	return rt.requireModuleImpl(from, to, TransformOptions{IsInternalModule: true})
}

func (rt *Runtime) requireModuleImpl(from, name string, opts TransformOptions) (interface{}, error) {
	if name != "" && rt.resolver.IsCoreModule(name) {
		if rt.config.LoadCoreModule == nil {
			return nil, fmt.Errorf("no core-module loader configured for %q", name)
		}
		return rt.config.LoadCoreModule(name)
	}

	path, err := rt.pathForRequireModule(from, name, opts)
	if err != nil {
		return nil, err
	}
	return rt.requireByPath(path, opts)
}

// pathForRequireModule implements the manual-mock substitution described in
// spec.md §4.2.1: when the module lookup comes up empty but a manual mock
// exists, and that manual mock is not itself currently executing, and the
// caller hasn't explicitly unmocked it, substitute the manual mock's path.
func (rt *Runtime) pathForRequireModule(from, name string, opts TransformOptions) (string, error) {
	if opts.IsInternalModule {
		return rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{})
	}

	_, hasModule := rt.resolver.GetModule(name)
	mockPath, hasMock := rt.resolver.GetMockModule(from, name)
	if !hasModule && hasMock {
		rt.mu.Lock()
		executingMock := rt.currentlyExecutingManualMockPath
		rt.mu.Unlock()
		if executingMock != mockPath && !rt.isExplicitlyUnmocked(from, name) {
			return mockPath, nil
		}
	}
	return rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{})
}

func (rt *Runtime) isExplicitlyUnmocked(from, name string) bool {
	id := rt.normalizeID(from, name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	v, ok := rt.explicitShouldMock[id]
	return ok && !v
}

func (rt *Runtime) requireByPath(path string, opts TransformOptions) (interface{}, error) {
	rt.mu.Lock()
	if mr, ok := rt.moduleRegistry[path]; ok {
		rt.mu.Unlock()
		return mr.Exports, nil
	}
	rt.mu.Unlock()

	switch filepath.Ext(path) {
	case ".json":
		return rt.requireJSON(path)
	case ".node":
		return rt.requireNativeAddon(path)
	default:
		return rt.execModule(path, opts)
	}
}

func (rt *Runtime) requireJSON(path string) (interface{}, error) {
	raw, err := fsutil.ReadFile(rt.fs, path)
	if err != nil {
		return nil, err
	}
	value, err := rt.env.ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	rt.registerStaticModule(path, value)
	return value, nil
}

func (rt *Runtime) requireNativeAddon(path string) (interface{}, error) {
	if rt.config.LoadNativeAddon == nil {
		return nil, fmt.Errorf("no native-addon loader configured for %q", path)
	}
	value, err := rt.config.LoadNativeAddon(path)
	if err != nil {
		return nil, err
	}
	rt.registerStaticModule(path, value)
	return value, nil
}

func (rt *Runtime) registerStaticModule(path string, value interface{}) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.moduleRegistry[path] = &ModuleRecord{Filename: path, Exports: value}
}

// execModule is _execModule: it pre-registers the ModuleRecord before the
// body runs (so a circular require sees the partially-populated exports),
// saves and restores the "currently executing" pointers around the call,
// and rewraps a transformer syntax error with diagnostic context.
func (rt *Runtime) execModule(filename string, opts TransformOptions) (interface{}, error) {
	if rt.env.Torndown() {
		return nil, nil
	}

	rt.mu.Lock()
	if mr, ok := rt.moduleRegistry[filename]; ok {
		rt.mu.Unlock()
		return mr.Exports, nil
	}
	mr := &ModuleRecord{Filename: filename}
	rt.moduleRegistry[filename] = mr
	rt.mu.Unlock()

	dirname := filepath.Dir(filename)
	mr.Paths = rt.resolver.GetModulePaths(dirname)
	mr.Require = rt.createRequireImplementation(filename, opts)

	rt.mu.Lock()
	prevModule := rt.currentlyExecutingModulePath
	prevMock := rt.currentlyExecutingManualMockPath
	rt.currentlyExecutingModulePath = filename
	// Open Question (spec.md §9): every _execModule call updates this
	// pointer, not only manual-mock executions. We keep that behavior
	// rather than guessing a narrower guard; see DESIGN.md.
	rt.currentlyExecutingManualMockPath = filename
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		rt.currentlyExecutingModulePath = prevModule
		rt.currentlyExecutingManualMockPath = prevMock
		rt.mu.Unlock()
	}()

	wrapper, err := rt.transformer.Transform(filename, opts)
	if err != nil {
		if isSyntaxError(err) {
			return nil, &SyntaxError{File: rt.relToRoot(filename), Preprocessor: rt.config.Preprocessor, Cause: err}
		}
		return nil, err
	}

	control := rt.createControlSurface(filename)
	result, err := rt.env.Invoke(wrapper, WrapperArgs{
		Module:   mr,
		Require:  mr.Require,
		Dirname:  dirname,
		Filename: filename,
		Control:  control,
	})
	if err != nil {
		return nil, err
	}
	mr.Exports = result
	return mr.Exports, nil
}

func (rt *Runtime) relToRoot(filename string) string {
	if rt.config.RootDir == "" {
		return filename
	}
	if rel, err := filepath.Rel(rt.config.RootDir, filename); err == nil {
		return rel
	}
	return filename
}

type syntaxErrorTagger interface{ IsSyntaxError() bool }

func isSyntaxError(err error) bool {
	var tagged syntaxErrorTagger
	return errors.As(err, &tagged) && tagged.IsSyntaxError()
}

// RequireMock implements spec.md §4.2.1's requireMock: registry hit, then
// factory, then manual mock (haste table or __mocks__ sibling), then
// automock generation. Either way the result is cached by NormalizedID.
func (rt *Runtime) RequireMock(from, name string) (interface{}, error) {
	id := rt.normalizeID(from, name)

	rt.mu.Lock()
	if v, ok := rt.mockRegistry[id]; ok {
		rt.mu.Unlock()
		return v, nil
	}
	factory, hasFactory := rt.mockFactories[id]
	rt.mu.Unlock()

	if hasFactory {
		value, err := factory()
		if err != nil {
			return nil, err
		}
		rt.cacheMock(id, value)
		return value, nil
	}

	mockPath, hasMock := rt.resolver.GetMockModule(from, name)
	if !hasMock {
		if realPath, err := rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{}); err == nil {
			sibling := filepath.Join(filepath.Dir(realPath), "__mocks__", filepath.Base(realPath))
			if isFile, _ := fsutil.IsFile(rt.fs, sibling); isFile {
				mockPath, hasMock = sibling, true
			}
		}
	}

	var value interface{}
	var err error
	if hasMock {
		value, err = rt.execModule(mockPath, TransformOptions{})
	} else {
		value, err = rt.generateMock(from, name)
	}
	if err != nil {
		return nil, err
	}

	rt.cacheMock(id, value)
	return value, nil
}

func (rt *Runtime) cacheMock(id string, value interface{}) {
	rt.mu.Lock()
	rt.mockRegistry[id] = value
	rt.mu.Unlock()
}

// Mock registers name as mocked for the caller at from (spec.md §3's Runtime
// "setMock" exposure). A nil factory means "mock it automatically"; a
// non-nil factory overrides automock entirely for this (from, name) pair.
// ControlSurface.Mock delegates here, scoping from to the executing module.
func (rt *Runtime) Mock(from, name string, factory func() (interface{}, error)) {
	id := rt.normalizeID(from, name)
	rt.mu.Lock()
	rt.explicitShouldMock[id] = true
	if factory != nil {
		rt.mockFactories[id] = factory
	}
	rt.mu.Unlock()
}

// SetMock sugars to Mock(from, name, () => value), per spec.md §4.2.7's
// "setMock(name, value) sugars to mock(name, () => value)".
func (rt *Runtime) SetMock(from, name string, value interface{}) {
	rt.Mock(from, name, func() (interface{}, error) { return value, nil })
}

// RequireModuleOrMock dispatches on the mock decision (§4.2.2).
func (rt *Runtime) RequireModuleOrMock(from, name string) (interface{}, error) {
	mock, err := rt.shouldMock(from, name)
	if err != nil {
		return nil, err
	}
	if mock {
		return rt.RequireMock(from, name)
	}
	return rt.RequireModule(from, name)
}

// generateMock is _generateMock (§4.2.5): it isolates the real require that
// feeds introspection behind swapped-out registries so evaluating a module
// purely to mock it never leaks ModuleRecords into the main registry.
func (rt *Runtime) generateMock(from, name string) (interface{}, error) {
	path, err := rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{})
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	meta, cached := rt.mockMetaDataCache[path]
	if !cached {
		// Sentinel empty metadata: a circular reference encountered while
		// introspecting this very path terminates here instead of looping.
		rt.mockMetaDataCache[path] = &mockmeta.Metadata{Kind: mockmeta.KindObject, Members: map[string]*mockmeta.Metadata{}}
	}
	rt.mu.Unlock()
	if cached {
		return mockmeta.GenerateFromMetadata(meta)
	}

	rt.mu.Lock()
	savedModules := rt.moduleRegistry
	savedMocks := rt.mockRegistry
	rt.moduleRegistry = make(map[string]*ModuleRecord)
	rt.mockRegistry = make(map[string]interface{})
	rt.mu.Unlock()

	realExports, execErr := rt.execModule(path, TransformOptions{})

	rt.mu.Lock()
	rt.moduleRegistry = savedModules
	rt.mockRegistry = savedMocks
	rt.mu.Unlock()

	if execErr != nil {
		return nil, execErr
	}

	extracted, err := mockmeta.GetMetadata(realExports)
	if err != nil {
		return nil, err
	}
	if extracted == nil {
		return nil, &MockMetadataError{Path: path}
	}

	rt.mu.Lock()
	rt.mockMetaDataCache[path] = extracted
	rt.mu.Unlock()

	return mockmeta.GenerateFromMetadata(extracted)
}

type mockClearTimersCapable interface{ MockClearTimers() }

// ResetModuleRegistry rebuilds the mock and module registries empty,
// clears every mock function reachable from the sandbox global scope, and
// clears fake timers if the environment supports it. Mock factories,
// explicit-mock flags, virtual mocks and the unmock regex survive reset, per
// spec.md's lifecycle table.
func (rt *Runtime) ResetModuleRegistry() {
	rt.mu.Lock()
	rt.moduleRegistry = make(map[string]*ModuleRecord)
	rt.mockRegistry = make(map[string]interface{})
	rt.mu.Unlock()

	for _, v := range rt.env.Global() {
		if mf, ok := v.(*mockmeta.MockFunction); ok {
			mf.MockClear()
		}
	}
	if ft := rt.env.FakeTimers(); ft != nil {
		if mct, ok := ft.(mockClearTimersCapable); ok {
			mct.MockClearTimers()
		}
	}
}

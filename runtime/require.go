package runtime

import "github.com/modrun/modrun/resolver"

// createRequireImplementation builds the require object a module body
// receives, closed over its own directory (spec.md §4.2.6). Internal
// modules get a Call that bypasses manual-mock substitution and the mock
// decision cascade entirely; ordinary modules get the full
// RequireModuleOrMock path.
func (rt *Runtime) createRequireImplementation(from string, opts TransformOptions) *Require {
	call := func(name string) (interface{}, error) {
		return rt.RequireModuleOrMock(from, name)
	}
	if opts.IsInternalModule {
		call = func(name string) (interface{}, error) {
			return rt.RequireInternalModule(from, name)
		}
	}

	return &Require{
		Call:       call,
		Cache:      make(map[string]interface{}),
		Extensions: make(map[string]interface{}),
		RequireActual: func(name string) (interface{}, error) {
			return rt.RequireModule(from, name)
		},
		RequireMock: func(name string) (interface{}, error) {
			return rt.RequireMock(from, name)
		},
		Resolve: func(name string) (string, error) {
			return rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{})
		},
	}
}

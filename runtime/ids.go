package runtime

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/modrun/modrun/resolver"
)

// idSeparator is the "sep" spec.md's NormalizedID grammar uses between the
// kind, absolute-path, and mock-path slots.
const idSeparator = "\x00"

// idCache is the normalizedIDCache: memoized by the raw (from, name) pair.
// Design Notes §9 explicitly permits scoping this per-instance instead of
// process-wide without changing observable behavior, so it lives on Runtime.
type idCache struct {
	mu    sync.Mutex
	table map[string]string
}

func newIDCache() *idCache {
	return &idCache{table: make(map[string]string)}
}

func (c *idCache) get(from, name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.table[from+idSeparator+name]
	return v, ok
}

func (c *idCache) put(from, name, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[from+idSeparator+name] = id
}

// virtualKey is the normalized virtual path used both to register a virtual
// mock (ControlSurface.MockVirtual) and to test membership in
// _shouldMock step 1. Relative specifiers are anchored to the caller's
// directory; bare specifiers are left as-is, since a virtual module has no
// real location to anchor to other than the name it was registered under.
func virtualKey(from, name string) string {
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		return filepath.Join(filepath.Dir(from), name)
	}
	return name
}

// normalizeID builds the NormalizedID for (from, name) per spec.md's data
// model: "node\x00<name>\x00" for core modules, otherwise
// "user\x00<absolutePath?>\x00<mockPath?>" with absent components
// serialized as empty strings. Resolution failures are tolerated here (the
// absolute-path slot is simply left empty) because normalizeID must be a
// total function: it is called from the mock-decision cascade before a
// module is known to exist.
//
// Single-argument form: spec.md §4.2.2 step 7 computes
// "currentModuleID = normalizeID(from)", normalizing the caller's own path
// AS a module name with no further caller context. We realize that single-
// argument form as normalizeID(from, from); see DESIGN.md for why this is
// an intentional, spec-flagged ambiguity rather than a bug.
func (rt *Runtime) normalizeID(from, name string) string {
	if cached, ok := rt.ids.get(from, name); ok {
		return cached
	}

	var id string
	if rt.resolver.IsCoreModule(name) {
		id = "node" + idSeparator + name + idSeparator
	} else {
		var absolutePath string
		rt.mu.Lock()
		isVirtual := rt.virtualMocks[virtualKey(from, name)]
		rt.mu.Unlock()
		if isVirtual {
			absolutePath = virtualKey(from, name)
		} else if resolved, err := rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{}); err == nil {
			absolutePath = resolved
		}

		var mockPath string
		if p, ok := rt.resolver.GetMockModule(from, name); ok {
			mockPath = p
		}

		id = "user" + idSeparator + absolutePath + idSeparator + mockPath
	}

	rt.ids.put(from, name, id)
	return id
}

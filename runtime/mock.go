package runtime

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modrun/modrun/resolver"
)

// compileUnmockRegexp joins patterns with "|" into a single regex, matching
// spec.md §4.2.2 step 6's "unmock-list regex (compiled once from
// unmockedModulePathPatterns, joined with |)". An empty pattern list yields
// a nil regex that matches nothing.
func compileUnmockRegexp(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	return regexp.Compile(strings.Join(patterns, "|"))
}

func pathHasSegment(path, segment string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// shouldMock implements the §4.2.2 decision cascade, short-circuiting on the
// first decisive rule; each numbered step below is one branch of it.
func (rt *Runtime) shouldMock(from, name string) (bool, error) {
	// 1. Virtual mock.
	rt.mu.Lock()
	isVirtual := rt.virtualMocks[virtualKey(from, name)]
	rt.mu.Unlock()
	if isVirtual {
		return true, nil
	}

	id := rt.normalizeID(from, name)

	rt.mu.Lock()
	// 2. Explicit override (mock/unmock/doMock/dontMock).
	if v, ok := rt.explicitShouldMock[id]; ok {
		rt.mu.Unlock()
		return v, nil
	}

	// 3. Automock off, core module, or already transitively unmocked.
	automock := rt.automock
	rt.mu.Unlock()
	if !automock || rt.resolver.IsCoreModule(name) {
		return false, nil
	}
	rt.mu.Lock()
	if v, ok := rt.transitiveShouldMock[id]; ok && !v {
		rt.mu.Unlock()
		return false, nil
	}

	// 4. Cached decision.
	if v, ok := rt.shouldMockModuleCache[id]; ok {
		rt.mu.Unlock()
		return v, nil
	}
	rt.mu.Unlock()

	// 5. Resolve; a manual mock rescues an otherwise-fatal failure.
	resolvedPath, err := rt.resolver.ResolveModule(from, name, resolver.ResolveOptions{})
	if err != nil {
		if _, ok := rt.resolver.GetMockModule(from, name); ok {
			rt.mu.Lock()
			rt.shouldMockModuleCache[id] = true
			rt.mu.Unlock()
			return true, nil
		}
		return false, err
	}

	// 6. Unmock-list regex.
	if rt.unmockRegexp != nil && rt.unmockRegexp.MatchString(resolvedPath) {
		rt.mu.Lock()
		rt.shouldMockModuleCache[id] = false
		rt.mu.Unlock()
		return false, nil
	}

	// 7. Transitive unmock across flat node_modules installs.
	currentModuleID := rt.normalizeID(from, from)
	suppressKey := from + idSeparator + id

	rt.mu.Lock()
	alreadySuppressed := false
	if v, ok := rt.transitiveShouldMock[currentModuleID]; ok && !v {
		alreadySuppressed = true
	}

	fromInNodeModules := pathHasSegment(from, "node_modules")
	resolvedInNodeModules := pathHasSegment(resolvedPath, "node_modules")
	unmockMatchesFrom := rt.unmockRegexp != nil && rt.unmockRegexp.MatchString(from)
	callerExplicitlyUnmocked := false
	if v, ok := rt.explicitShouldMock[currentModuleID]; ok && !v {
		callerExplicitlyUnmocked = true
	}
	flatInstallSuppressed := fromInNodeModules && resolvedInNodeModules &&
		(unmockMatchesFrom || callerExplicitlyUnmocked)

	if alreadySuppressed || flatInstallSuppressed {
		rt.transitiveShouldMock[id] = false
		rt.shouldUnmockTransitiveDepsCache[suppressKey] = false
		rt.mu.Unlock()
		return false, nil
	}

	// 8. Default: mock it.
	rt.shouldMockModuleCache[id] = true
	rt.mu.Unlock()
	return true, nil
}

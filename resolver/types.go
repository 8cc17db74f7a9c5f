package resolver

import (
	"regexp"

	null "gopkg.in/guregu/null.v3"
)

// ModuleType distinguishes the two haste entry kinds named in the data model.
type ModuleType int

const (
	// ModuleTypeModule is a plain haste module: a flat name pointing at one file.
	ModuleTypeModule ModuleType = iota
	// ModuleTypePackage is a haste entry naming a package root directory.
	ModuleTypePackage
)

func (t ModuleType) String() string {
	if t == ModuleTypePackage {
		return "package"
	}
	return "module"
}

// HasteEntry is one haste index record: its kind and the absolute path it
// resolves to.
type HasteEntry struct {
	Type ModuleType
	Path string
}

// HasteMap is the pre-indexed flat name -> canonical path map the resolver
// consumes. It is owned and populated externally (see the hastemap package
// for one concrete builder) and is shared read-only across resolver calls.
type HasteMap interface {
	// Entry looks up name for platform ("" means the generic/no-platform
	// entry). ok is false when no entry exists for that exact pair.
	Entry(name, platform string) (HasteEntry, bool)
	// Mock looks up name in the haste mock table (distinct from Entry).
	Mock(name string) (string, bool)
}

// NameMapperEntry is one row of the configured moduleNameMapper table.
// Insertion order is significant: the resolver tries entries in the order
// they appear here and takes the first match.
type NameMapperEntry struct {
	// Replacement is the template string substituted into Pattern's matches,
	// using regexp.ReplaceAllString syntax ($1, $2, ...).
	Replacement string
	Pattern     *regexp.Regexp
}

// Config mirrors spec.md's ResolverConfig field-for-field.
type Config struct {
	Browser bool

	// DefaultPlatform is consulted before "native" and before the generic
	// entry when looking up a haste name.
	DefaultPlatform string

	// Extensions is the ordered list of suffixes tried (in order) when a
	// bare specifier has to be probed against the filesystem.
	Extensions []string

	// HasCoreModules is tri-state: unset defaults to true the same way
	// lib.RuntimeOptions' null.Bool fields distinguish "not configured"
	// from "explicitly disabled" in the teacher's CLI config layer. A
	// caller wanting to disable core-module short-circuiting sets it to
	// null.BoolFrom(false) explicitly.
	HasCoreModules null.Bool

	// ModuleDirectories is the ordered list of directory names walked
	// upward from the caller, default ["node_modules"].
	ModuleDirectories []string

	// ModuleNameMapper is tried, in order, by GetMockModule.
	ModuleNameMapper []NameMapperEntry

	// ModulePaths is appended after NODE_PATH as extra search roots for
	// node-style resolution.
	ModulePaths []string

	// Platforms enumerates supported platform suffixes; the presence of
	// "native" in this list toggles native-platform lookups on.
	Platforms []string

	// CoreModules is the set of host-provided built-in names IsCoreModule
	// consults when HasCoreModules is true.
	CoreModules map[string]bool
}

// DefaultConfig returns a Config with the spec-mandated defaults applied.
func DefaultConfig() Config {
	return Config{
		Extensions:        []string{".js", ".json", ".node"},
		HasCoreModules:    null.BoolFrom(true),
		ModuleDirectories: []string{"node_modules"},
		CoreModules:       defaultCoreModules(),
	}
}

// hasCoreModules resolves the tri-state HasCoreModules field: unset (the
// zero null.Bool) defaults to true, matching spec §3.
func (c Config) hasCoreModules() bool {
	return !c.HasCoreModules.Valid || c.HasCoreModules.Bool
}

func defaultCoreModules() map[string]bool {
	// A representative set of host built-ins; the real set is supplied by
	// whatever host embeds this resolver (see sandbox.Environment).
	names := []string{
		"assert", "buffer", "child_process", "crypto", "events", "fs",
		"http", "https", "net", "os", "path", "querystring", "stream",
		"string_decoder", "timers", "tls", "url", "util", "vm", "zlib",
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (c Config) supportsNative() bool {
	for _, p := range c.Platforms {
		if p == "native" {
			return true
		}
	}
	return false
}

// platformOrder returns the platform lookup order per spec §3: defaultPlatform
// -> "native" (only if supported) -> "" (generic).
func (c Config) platformOrder() []string {
	order := make([]string, 0, 3)
	if c.DefaultPlatform != "" {
		order = append(order, c.DefaultPlatform)
	}
	if c.supportsNative() {
		order = append(order, "native")
	}
	order = append(order, "")
	return order
}

// Package resolver implements the layered module-name lookup described in
// spec.md §4.1: a pre-indexed haste map, standard node-style package
// resolution, and a user-supplied regex rewrite table, reconciled behind one
// ResolveModule entry point.
package resolver

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/modrun/modrun/fsutil"
)

// ResolveOptions tweaks a single ResolveModule call.
type ResolveOptions struct {
	// SkipNodeResolution skips step 2 of the algorithm (used by callers that
	// already know a name can only be a haste or haste-package name).
	SkipNodeResolution bool
}

// Resolver is pure w.r.t. module evaluation: it only ever reads the
// filesystem and the haste map, and owns two memoization tables keyed as
// described in spec §4.1.
type Resolver struct {
	config Config
	haste  HasteMap
	fs     fsutil.Fs
	log    logrus.FieldLogger

	nodePath []string // parsed once from NODE_PATH

	mu               sync.Mutex
	nameCache        map[string]string   // "<dir>\x00<name>" -> resolved path
	modulePathsCache map[string][]string // "<dir>" -> ordered node_modules roots
}

// New builds a Resolver over haste and fs using cfg. log may be nil, in
// which case a discarding logger is used.
func New(cfg Config, haste HasteMap, fs fsutil.Fs, log logrus.FieldLogger) *Resolver {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Resolver{
		config:           cfg,
		haste:            haste,
		fs:               fs,
		log:              log,
		nodePath:         parseNodePath(),
		nameCache:        make(map[string]string),
		modulePathsCache: make(map[string][]string),
	}
}

func parseNodePath() []string {
	raw := os.Getenv("NODE_PATH")
	if raw == "" {
		return nil
	}
	return filepath.SplitList(raw)
}

// ResolveModule returns the absolute path selected by the first successful
// step of spec §4.1. It never returns ("", nil): failure is always a
// *NotFoundError.
func (r *Resolver) ResolveModule(from, name string, opts ResolveOptions) (string, error) {
	dir := filepath.Dir(from)
	key := dir + "\x00" + name

	r.mu.Lock()
	if cached, ok := r.nameCache[key]; ok {
		r.mu.Unlock()
		r.log.WithField("name", name).Debug("resolver: name-cache hit")
		return cached, nil
	}
	r.mu.Unlock()

	// Step 1: haste lookup.
	if path, ok := r.GetModule(name); ok {
		r.cacheName(key, path)
		return path, nil
	}

	// Step 2: node resolution.
	if !opts.SkipNodeResolution {
		if path, ok := r.nodeResolve(dir, name); ok {
			r.cacheName(key, path)
			return path, nil
		}
	}

	// Step 3: haste package, remaining segments resolved relative to it.
	if path, ok := r.hastePackageResolve(name); ok {
		r.cacheName(key, path)
		return path, nil
	}

	// Step 4: fail.
	return "", &NotFoundError{Name: name, From: relativeCallerPath(from)}
}

func relativeCallerPath(from string) string {
	base := filepath.Base(from)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "."
	}
	return base
}

func (r *Resolver) cacheName(key, path string) {
	r.mu.Lock()
	r.nameCache[key] = path
	r.mu.Unlock()
}

// IsCoreModule reports whether name is a host-provided built-in.
func (r *Resolver) IsCoreModule(name string) bool {
	if !r.config.hasCoreModules() {
		return false
	}
	return r.config.CoreModules[name]
}

// GetModule applies the platform preference order to name and requires the
// matched entry's type to equal typ (MODULE by default).
func (r *Resolver) GetModule(name string, typ ...ModuleType) (string, bool) {
	want := ModuleTypeModule
	if len(typ) > 0 {
		want = typ[0]
	}
	for _, platform := range r.config.platformOrder() {
		entry, ok := r.haste.Entry(name, platform)
		if ok && entry.Type == want {
			return entry.Path, true
		}
	}
	return "", false
}

// GetPackage is GetModule specialized to PACKAGE entries.
func (r *Resolver) GetPackage(name string) (string, bool) {
	return r.GetModule(name, ModuleTypePackage)
}

// hastePackageResolve implements step 3: split name on "/", look the first
// segment up as a PACKAGE entry, and resolve the remaining segments relative
// to its directory.
func (r *Resolver) hastePackageResolve(name string) (string, bool) {
	segments := strings.Split(name, "/")
	if len(segments) < 2 {
		return "", false
	}
	pkgPath, ok := r.GetPackage(segments[0])
	if !ok {
		return "", false
	}
	rest := filepath.Join(segments[1:]...)
	base := filepath.Join(filepath.Dir(pkgPath), rest)
	return r.resolveAsFileOrDirectory(base)
}

// GetMockModule resolves the manual-mock location for (from, name): the
// haste mock table first, then the name-mapper table in insertion order.
func (r *Resolver) GetMockModule(from, name string) (string, bool) {
	if path, ok := r.haste.Mock(name); ok {
		return path, true
	}
	dir := filepath.Dir(from)
	for _, entry := range r.config.ModuleNameMapper {
		if !entry.Pattern.MatchString(name) {
			continue
		}
		replaced := entry.Pattern.ReplaceAllString(name, entry.Replacement)
		if path, ok := r.GetModule(replaced); ok {
			return path, true
		}
		if path, ok := r.nodeResolve(dir, replaced); ok {
			return path, true
		}
	}
	return "", false
}

// GetModulePaths returns the memoized, ordered node_modules search roots
// walked upward from from's directory.
func (r *Resolver) GetModulePaths(from string) []string {
	dir := from
	if info, err := r.fs.Stat(from); err == nil && !info.IsDir() {
		dir = filepath.Dir(from)
	}

	r.mu.Lock()
	if cached, ok := r.modulePathsCache[dir]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	paths := r.walkModuleDirectories(dir)
	r.mu.Lock()
	r.modulePathsCache[dir] = paths
	r.mu.Unlock()
	return paths
}

// walkModuleDirectories computes, for every configured module directory
// name, every ancestor/<name> path from dir up to the filesystem root, most
// specific first. A trailing empty entry that the naive "climb until parent
// == self" loop would otherwise emit is dropped (spec's documented
// workaround).
func (r *Resolver) walkModuleDirectories(dir string) []string {
	var out []string
	for _, modDir := range r.config.ModuleDirectories {
		cur := dir
		for {
			candidate := filepath.Join(cur, modDir)
			if candidate != "" {
				out = append(out, candidate)
			}
			parent := filepath.Dir(cur)
			if parent == cur {
				break
			}
			cur = parent
		}
	}
	// Drop a trailing empty/degenerate entry if one slipped through.
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out
}

// searchRoots is NODE_PATH concatenated with the configured modulePaths,
// used as extra node-resolution roots per spec §4.1 step 2.
func (r *Resolver) searchRoots() []string {
	roots := make([]string, 0, len(r.nodePath)+len(r.config.ModulePaths))
	roots = append(roots, r.nodePath...)
	roots = append(roots, r.config.ModulePaths...)
	return roots
}

// nodeResolve implements the standard node algorithm: relative/absolute
// specifiers resolve directly, bare specifiers are probed against every
// node_modules root (closest first), then against the extra search roots.
func (r *Resolver) nodeResolve(dir, name string) (string, bool) {
	if isRelativeOrAbsolute(name) {
		base := name
		if !filepath.IsAbs(name) {
			base = filepath.Join(dir, name)
		}
		return r.resolveAsFileOrDirectory(base)
	}

	for _, root := range r.GetModulePaths(dir) {
		candidate := filepath.Join(root, name)
		if path, ok := r.resolveAsFileOrDirectory(candidate); ok {
			return path, true
		}
	}
	for _, root := range r.searchRoots() {
		candidate := filepath.Join(root, name)
		if path, ok := r.resolveAsFileOrDirectory(candidate); ok {
			return path, true
		}
	}
	return "", false
}

func isRelativeOrAbsolute(name string) bool {
	return strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") ||
		name == "." || name == ".." || filepath.IsAbs(name)
}

// resolveAsFileOrDirectory tries base as an exact file, then base+ext for
// every configured extension, then (if base is a directory) its
// package.json main/browser field, then index.<ext>.
func (r *Resolver) resolveAsFileOrDirectory(base string) (string, bool) {
	if isFile, _ := fsutil.IsFile(r.fs, base); isFile {
		return base, true
	}
	for _, ext := range r.config.Extensions {
		candidate := base + ext
		if isFile, _ := fsutil.IsFile(r.fs, candidate); isFile {
			return candidate, true
		}
	}

	isDir, _ := fsutil.IsDir(r.fs, base)
	if !isDir {
		return "", false
	}

	if main, ok := r.readPackageMain(base); ok {
		mainPath := filepath.Join(base, main)
		if isFile, _ := fsutil.IsFile(r.fs, mainPath); isFile {
			return mainPath, true
		}
		for _, ext := range r.config.Extensions {
			candidate := mainPath + ext
			if isFile, _ := fsutil.IsFile(r.fs, candidate); isFile {
				return candidate, true
			}
		}
	}

	for _, ext := range r.config.Extensions {
		candidate := filepath.Join(base, "index"+ext)
		if isFile, _ := fsutil.IsFile(r.fs, candidate); isFile {
			return candidate, true
		}
	}
	return "", false
}

type packageJSON struct {
	Main    string `json:"main"`
	Browser string `json:"browser"`
}

// readPackageMain consults dir/package.json, preferring the "browser" field
// over "main" when the resolver is configured for browser resolution.
func (r *Resolver) readPackageMain(dir string) (string, bool) {
	pkgPath := filepath.Join(dir, "package.json")
	raw, err := fsutil.ReadFile(r.fs, pkgPath)
	if err != nil {
		return "", false
	}
	var pkg packageJSON
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return "", false
	}
	if r.config.Browser && pkg.Browser != "" {
		return pkg.Browser, true
	}
	if pkg.Main != "" {
		return pkg.Main, true
	}
	return "", false
}

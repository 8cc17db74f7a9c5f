// Package hastemap builds and serves the flat haste name -> path index that
// resolver.Resolver consumes (spec.md §3, §6: "the haste index... specified
// only via the interfaces the core consumes"). Build walks a project root
// looking for two haste conventions: an `@providesModule <Name>` pragma
// comment naming a MODULE, and a package.json `"haste": {"providesModuleNode":
// "<Name>"}` field naming a PACKAGE; a root-level __mocks__ directory seeds
// the haste mock table.
package hastemap

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/modrun/modrun/fsutil"
	"github.com/modrun/modrun/resolver"
)

// Map is an in-memory, mutable haste index. It satisfies resolver.HasteMap
// and is safe for concurrent reads once built; writes should finish before
// the map is handed to a Resolver, though AddModule/AddPackage/AddMock are
// individually locked for callers that mutate it incrementally (e.g. tests).
type Map struct {
	mu      sync.RWMutex
	entries map[string]map[string]resolver.HasteEntry
	mocks   map[string]string
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		entries: make(map[string]map[string]resolver.HasteEntry),
		mocks:   make(map[string]string),
	}
}

// AddModule registers a MODULE entry for name on platform ("" = generic).
func (m *Map) AddModule(name, platform, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[name] == nil {
		m.entries[name] = make(map[string]resolver.HasteEntry)
	}
	m.entries[name][platform] = resolver.HasteEntry{Type: resolver.ModuleTypeModule, Path: path}
}

// AddPackage registers a PACKAGE entry for name (always platform-generic).
func (m *Map) AddPackage(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[name] == nil {
		m.entries[name] = make(map[string]resolver.HasteEntry)
	}
	m.entries[name][""] = resolver.HasteEntry{Type: resolver.ModuleTypePackage, Path: path}
}

// AddMock registers path as the manual mock for name in the haste mock
// table (distinct from a __mocks__ sibling probed by the runtime directly).
func (m *Map) AddMock(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mocks[name] = path
}

// Entry implements resolver.HasteMap.
func (m *Map) Entry(name, platform string) (resolver.HasteEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name][platform]
	return e, ok
}

// Mock implements resolver.HasteMap.
func (m *Map) Mock(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.mocks[name]
	return p, ok
}

var providesModulePragma = regexp.MustCompile(`@providesModule\s+(\S+)`)

// platformSuffixRE matches a recognized trailing platform token; splitPlatform
// uses it to split a haste name like "Foo.ios" (or "Foo.ios.js") into
// ("Foo", "ios"), and returns (name, "") when none is found.
var platformSuffixRE = regexp.MustCompile(`^(.*)\.(ios|android|native)$`)

type haste struct {
	ProvidesModuleNode string `json:"providesModuleNode"`
}

type packageJSON struct {
	Name  string `json:"name"`
	Haste haste  `json:"haste"`
}

// Build walks root and returns a populated Map. It visits every regular file
// under root (skipping configured module directories, to avoid indexing
// vendored code as if it were first-party): package.json files are checked
// for a haste package name, files directly in root/__mocks__ enter the mock
// table, and only the first 30 lines of .js/.jsx/.ts/.tsx files are scanned
// for an @providesModule pragma.
func Build(fsys fsutil.Fs, root string, moduleDirectories []string) (*Map, error) {
	m := New()
	skip := make(map[string]bool, len(moduleDirectories))
	for _, d := range moduleDirectories {
		skip[d] = true
	}

	err := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skip[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(path)
		if strings.EqualFold(base, "package.json") {
			indexPackageJSON(fsys, path, m)
			return nil
		}
		if filepath.Dir(path) == filepath.Join(root, "__mocks__") {
			name := strings.TrimSuffix(base, filepath.Ext(base))
			m.AddMock(name, path)
			return nil
		}
		indexProvidesModule(fsys, path, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func indexPackageJSON(fsys fsutil.Fs, path string, m *Map) {
	raw, err := fsutil.ReadFile(fsys, path)
	if err != nil {
		return
	}
	var pkg packageJSON
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return
	}
	if pkg.Haste.ProvidesModuleNode != "" {
		m.AddPackage(pkg.Haste.ProvidesModuleNode, path)
	}
}

func indexProvidesModule(fsys fsutil.Fs, path string, m *Map) {
	ext := filepath.Ext(path)
	switch ext {
	case ".js", ".jsx", ".ts", ".tsx":
	default:
		return
	}
	f, err := fsys.Open(path)
	if err != nil {
		return
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() && lines < 30 {
		lines++
		if match := providesModulePragma.FindStringSubmatch(scanner.Text()); match != nil {
			name, platform := splitPlatform(match[1])
			m.AddModule(name, platform, path)
			return
		}
	}
}

func splitPlatform(name string) (string, string) {
	if match := platformSuffixRE.FindStringSubmatch(name); match != nil {
		return match[1], match[2]
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if match := platformSuffixRE.FindStringSubmatch(base); match != nil {
		return match[1], match[2]
	}
	return name, ""
}

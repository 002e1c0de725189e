// Package shlib lists the functions exported by ELF shared libraries so that
// a `dynamic` import can declare them as external functions.
package shlib

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Export is one function symbol exported by a shared library.
type Export struct {
	Name string
}

// Loader resolves a library path and returns its exported functions.
type Loader interface {
	Load(path string) (resolved string, exports []Export, err error)
}

// ELFLoader reads the dynamic symbol table of ELF shared objects.
type ELFLoader struct {
	SearchPaths []string
}

func NewELFLoader(searchPaths []string) *ELFLoader {
	return &ELFLoader{SearchPaths: searchPaths}
}

// Resolve returns the file a library path refers to. Paths containing a slash are
// used as written, bare names are looked up in the search directories in order.
func (l *ELFLoader) Resolve(path string) (string, error) {
	if strings.ContainsRune(path, '/') {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return filepath.Clean(path), nil
	}
	for _, dir := range l.SearchPaths {
		candidate := filepath.Join(dir, path)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("library '%s' not found in %s", path, strings.Join(l.SearchPaths, ":"))
}

func (l *ELFLoader) Load(path string) (string, []Export, error) {
	resolved, err := l.Resolve(path)
	if err != nil {
		return "", nil, err
	}

	f, err := elf.Open(resolved)
	if err != nil {
		return "", nil, fmt.Errorf("'%s' is not an ELF shared object: %w", resolved, err)
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return "", nil, fmt.Errorf("reading dynamic symbols of '%s': %w", resolved, err)
	}
	return resolved, functionExports(syms), nil
}

// functionExports keeps defined FUNC symbols of non-zero size with a usable name.
// Version suffixes ("memcpy@@GLIBC_2.14") are cut and names starting with an
// underscore are skipped.
func functionExports(syms []elf.Symbol) []Export {
	seen := make(map[string]bool)
	var exports []Export
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Size == 0 {
			continue
		}
		name := s.Name
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		if name == "" || strings.HasPrefix(name, "_") || seen[name] {
			continue
		}
		seen[name] = true
		exports = append(exports, Export{Name: name})
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
	return exports
}

// Static serves a fixed table of exports keyed by library path. It stands in for
// ELFLoader when no shared objects are available on the build host.
type Static map[string][]string

func (s Static) Load(path string) (string, []Export, error) {
	names, ok := s[path]
	if !ok {
		return "", nil, fmt.Errorf("library '%s' not found", path)
	}
	exports := make([]Export, 0, len(names))
	for _, n := range names {
		exports = append(exports, Export{Name: n})
	}
	return path, exports, nil
}

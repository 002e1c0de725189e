package symbols

import (
	"fmt"

	"github.com/malanka-lang/malc/pkg/shlib"
)

// GlobalScopeID is the block identity of the program's top-level block.
const GlobalScopeID = 1

// Manager owns every scope of one compilation, keyed by block identity, and the
// shared libraries imported so far. Backends only read from it.
type Manager struct {
	Global *Scope

	scopes     map[int]*Scope
	loader     shlib.Loader
	loaded     map[string]bool
	resolved   map[string]bool
	SharedLibs []string
}

func NewManager(loader shlib.Loader) *Manager {
	global := NewScope(GlobalScopeID, ScopeDefault, "global", nil)
	RegisterBuiltins(global)
	return &Manager{
		Global:   global,
		scopes:   map[int]*Scope{GlobalScopeID: global},
		loader:   loader,
		loaded:   make(map[string]bool),
		resolved: make(map[string]bool),
	}
}

// NewScope creates and registers the scope for block id.
func (m *Manager) NewScope(id int, kind ScopeKind, name string, parent *Scope) *Scope {
	s := NewScope(id, kind, name, parent)
	m.scopes[id] = s
	return s
}

func (m *Manager) Scope(id int) (*Scope, bool) {
	s, ok := m.scopes[id]
	return s, ok
}

// LoadSharedSymbols registers every function exported by the library at path as
// an external function in the global scope and returns how many were added.
// Importing the same library twice is a no-op.
func (m *Manager) LoadSharedSymbols(path string) (int, error) {
	if m.loaded[path] {
		return 0, nil
	}
	if m.loader == nil {
		return 0, fmt.Errorf("no shared library loader configured")
	}
	resolved, exports, err := m.loader.Load(path)
	if err != nil {
		return 0, err
	}
	m.loaded[path] = true
	if m.resolved[resolved] {
		return 0, nil
	}
	m.resolved[resolved] = true
	m.SharedLibs = append(m.SharedLibs, resolved)

	n := 0
	for _, e := range exports {
		if existing, ok := m.Global.LookupLocal(e.Name); ok {
			if fn, isFn := existing.(*FuncSymbol); !isFn || !fn.IsExternal {
				continue
			}
		}
		m.Global.Set(&FuncSymbol{Name: e.Name, Return: TypeInt, IsExternal: true})
		n++
	}
	return n, nil
}

// ExternalFuncs returns the external functions of the global scope in
// registration order, only those marked used when usedOnly is set.
func (m *Manager) ExternalFuncs(usedOnly bool) []*FuncSymbol {
	var out []*FuncSymbol
	for _, sym := range m.Global.Symbols() {
		fn, ok := sym.(*FuncSymbol)
		if !ok || !fn.IsExternal || (usedOnly && !fn.IsReallyUsed) {
			continue
		}
		out = append(out, fn)
	}
	return out
}

// LookupExternal returns the external function called name, if imported.
func (m *Manager) LookupExternal(name string) (*FuncSymbol, bool) {
	sym, ok := m.Global.LookupLocal(name)
	if !ok {
		return nil, false
	}
	fn, ok := sym.(*FuncSymbol)
	return fn, ok && fn.IsExternal
}

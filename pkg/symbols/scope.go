package symbols

import "fmt"

type ScopeKind int

const (
	ScopeDefault ScopeKind = iota
	ScopeFunction
)

// Scope maps names to symbols for one block. Symbols keep their declaration order.
type Scope struct {
	ID     int
	Kind   ScopeKind
	Name   string
	Parent *Scope

	symbols map[string]Symbol
	order   []string
}

func NewScope(id int, kind ScopeKind, name string, parent *Scope) *Scope {
	return &Scope{ID: id, Kind: kind, Name: name, Parent: parent, symbols: make(map[string]Symbol)}
}

// ErrRedeclared is returned by Declare for a name already present in the scope itself.
type ErrRedeclared struct {
	Name     string
	Existing Symbol
}

func (e *ErrRedeclared) Error() string {
	return fmt.Sprintf("'%s' is already declared as a %s in this scope", e.Name, e.Existing.Kind())
}

// Declare adds sym, refusing names already declared locally. Shadowing an outer
// scope's name is allowed.
func (s *Scope) Declare(sym Symbol) error {
	name := sym.SymbolName()
	if existing, ok := s.symbols[name]; ok {
		return &ErrRedeclared{Name: name, Existing: existing}
	}
	s.Set(sym)
	return nil
}

// Set adds or replaces sym without the redeclaration check.
func (s *Scope) Set(sym Symbol) {
	name := sym.SymbolName()
	if _, ok := s.symbols[name]; !ok {
		s.order = append(s.order, name)
	}
	s.symbols[name] = sym
}

func (s *Scope) LookupLocal(name string) (Symbol, bool) {
	sym, ok := s.symbols[name]
	return sym, ok
}

func (s *Scope) Lookup(name string) (Symbol, bool) {
	sym, _, ok := s.Resolve(name)
	return sym, ok
}

// Resolve walks the parent chain and returns the symbol with the scope defining it.
func (s *Scope) Resolve(name string) (Symbol, *Scope, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if sym, ok := sc.symbols[name]; ok {
			return sym, sc, true
		}
	}
	return nil, nil, false
}

// IsNestedInFuncScope reports whether the scope defining name is a function scope
// or lies inside one. Unknown names are not nested.
func (s *Scope) IsNestedInFuncScope(name string) bool {
	_, def, ok := s.Resolve(name)
	if !ok {
		return false
	}
	return def.EnclosingFunc() != nil
}

// EnclosingFunc returns the nearest function scope at or above s.
func (s *Scope) EnclosingFunc() *Scope {
	for sc := s; sc != nil; sc = sc.Parent {
		if sc.Kind == ScopeFunction {
			return sc
		}
	}
	return nil
}

func (s *Scope) IsGlobal() bool { return s.Parent == nil }

// Symbols returns the scope's own symbols in declaration order.
func (s *Scope) Symbols() []Symbol {
	out := make([]Symbol, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.symbols[name])
	}
	return out
}

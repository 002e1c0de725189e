package symbols

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nalgeon/be"

	"github.com/malanka-lang/malc/pkg/shlib"
)

func TestTypeEqual(t *testing.T) {
	tests := []struct {
		a, b Type
		want bool
	}{
		{TypeInt, TypeInt, true},
		{TypeInt, TypeDouble, false},
		{PointerTo(Int), PointerTo(Int), true},
		{PointerTo(Int), PointerTo(Double), false},
		{PointerTo(Int), TypeInt, false},
		{Type{Name: Str, PointsTo: Int}, TypeStr, true},
	}
	for _, tc := range tests {
		t.Run(tc.a.String()+"=="+tc.b.String(), func(t *testing.T) {
			be.Equal(t, tc.a.Equal(tc.b), tc.want)
			be.Equal(t, tc.b.Equal(tc.a), tc.want)
		})
	}
	be.Equal(t, PointerTo(Str).String(), "*str")
	be.Equal(t, PointerTo(Str).Elem(), TypeStr)
}

func TestScopeRedeclaration(t *testing.T) {
	global := NewScope(1, ScopeDefault, "global", nil)
	be.Err(t, global.Declare(&VarSymbol{Name: "x", Type: TypeInt}), nil)

	err := global.Declare(&VarSymbol{Name: "x", Type: TypeDouble})
	var redeclared *ErrRedeclared
	be.True(t, errors.As(err, &redeclared))
	be.Equal(t, redeclared.Name, "x")

	// Shadowing in a child scope is fine.
	child := NewScope(2, ScopeDefault, "", global)
	be.Err(t, child.Declare(&VarSymbol{Name: "x", Type: TypeDouble}), nil)

	sym, ok := child.Lookup("x")
	be.True(t, ok)
	be.Equal(t, sym.(*VarSymbol).Type, TypeDouble)

	sym, ok = global.Lookup("x")
	be.True(t, ok)
	be.Equal(t, sym.(*VarSymbol).Type, TypeInt)
}

func TestLookupWalksToRoot(t *testing.T) {
	global := NewScope(1, ScopeDefault, "global", nil)
	global.Set(&VarSymbol{Name: "g", Type: TypeInt})
	fn := NewScope(2, ScopeFunction, "f", global)
	inner := NewScope(3, ScopeDefault, "", fn)

	_, def, ok := inner.Resolve("g")
	be.True(t, ok)
	be.Equal(t, def.ID, 1)

	_, ok = inner.LookupLocal("g")
	be.True(t, !ok)
	_, ok = inner.Lookup("missing")
	be.True(t, !ok)
}

func TestIsNestedInFuncScope(t *testing.T) {
	global := NewScope(1, ScopeDefault, "global", nil)
	global.Set(&VarSymbol{Name: "g", Type: TypeInt})
	top := NewScope(2, ScopeDefault, "", global)
	top.Set(&VarSymbol{Name: "loop", Type: TypeInt})
	fn := NewScope(3, ScopeFunction, "f", global)
	fn.Set(&VarSymbol{Name: "a", Type: TypeInt})
	inner := NewScope(4, ScopeDefault, "", fn)
	inner.Set(&VarSymbol{Name: "t", Type: TypeInt})

	be.True(t, !inner.IsNestedInFuncScope("g"))
	be.True(t, inner.IsNestedInFuncScope("a"))
	be.True(t, inner.IsNestedInFuncScope("t"))
	be.True(t, !top.IsNestedInFuncScope("loop"))
	be.True(t, !inner.IsNestedInFuncScope("unknown"))
	be.Equal(t, inner.EnclosingFunc(), fn)
}

func TestSymbolsKeepOrder(t *testing.T) {
	s := NewScope(1, ScopeDefault, "", nil)
	for _, n := range []string{"c", "a", "b"} {
		s.Set(&VarSymbol{Name: n, Type: TypeInt})
	}
	s.Set(&VarSymbol{Name: "a", Type: TypeDouble})

	var names []string
	for _, sym := range s.Symbols() {
		names = append(names, sym.SymbolName())
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, names); diff != "" {
		t.Errorf("declaration order mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerBuiltins(t *testing.T) {
	m := NewManager(nil)
	global, ok := m.Scope(GlobalScopeID)
	be.True(t, ok)
	be.Equal(t, global, m.Global)

	sym, ok := global.Lookup(ArgcName)
	be.True(t, ok)
	be.Equal(t, sym.(*VarSymbol).Type, PointerTo(Int))

	sym, ok = global.Lookup(CharToIntName)
	be.True(t, ok)
	fn := sym.(*FuncSymbol)
	be.True(t, fn.IsBuiltin)
	be.Equal(t, fn.Return, TypeInt)

	sym, ok = global.Lookup("double")
	be.True(t, ok)
	be.Equal(t, sym.Kind(), KindType)
}

func TestLoadSharedSymbolsIdempotent(t *testing.T) {
	m := NewManager(shlib.Static{"libc.so.6": {"printf", "puts", "char_to_int"}})

	n, err := m.LoadSharedSymbols("libc.so.6")
	be.Err(t, err, nil)
	be.Equal(t, n, 2)

	n, err = m.LoadSharedSymbols("libc.so.6")
	be.Err(t, err, nil)
	be.Equal(t, n, 0)
	be.Equal(t, m.SharedLibs, []string{"libc.so.6"})

	// The built-in keeps its signature.
	fn, ok := m.LookupExternal("char_to_int")
	be.True(t, !ok)
	be.True(t, fn == nil || !fn.IsExternal)

	printf, ok := m.LookupExternal("printf")
	be.True(t, ok)
	printf.IsReallyUsed = true

	var used []string
	for _, f := range m.ExternalFuncs(true) {
		used = append(used, f.Name)
	}
	be.Equal(t, used, []string{"printf"})
	be.Equal(t, len(m.ExternalFuncs(false)), 2)
}

func TestLoadSharedSymbolsFailure(t *testing.T) {
	m := NewManager(shlib.Static{})
	_, err := m.LoadSharedSymbols("libnope.so")
	be.Err(t, err, "not found")
	be.Equal(t, len(m.SharedLibs), 0)
}

// Package semantic resolves names, annotates every expression with its type and
// rejects ill-typed programs. It stops at the first violation.
package semantic

import (
	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

// MaxCallArgs is the number of arguments that fit the argument registers.
const MaxCallArgs = 6

type Analyzer struct {
	syms  *symbols.Manager
	log   *util.Logger
	scope *symbols.Scope
	fn    *symbols.FuncSymbol
	// expected is the type the expression being visited must agree with, nil
	// until the first operand installs one.
	expected *symbols.Type
}

func New(syms *symbols.Manager, log *util.Logger) *Analyzer {
	return &Analyzer{syms: syms, log: log, scope: syms.Global}
}

func (a *Analyzer) Analyze(prog *ast.Program) error { return prog.Accept(a) }

func (a *Analyzer) errorf(cat util.Category, tok token.Token, format string, args ...any) error {
	return util.Errorf(util.CompSemantic, cat, tok, format, args...)
}

// expr visits e with a fresh accumulator set to expected (nil for none).
func (a *Analyzer) expr(e ast.Expr, expected *symbols.Type) error {
	saved := a.expected
	if expected != nil {
		t := *expected
		a.expected = &t
	} else {
		a.expected = nil
	}
	err := e.Accept(a)
	a.expected = saved
	return err
}

// accept checks t against the accumulator, installing it when none is set.
func (a *Analyzer) accept(tok token.Token, t symbols.Type) error {
	if a.expected == nil {
		a.expected = &t
		return nil
	}
	if a.expected.Equal(t) {
		return nil
	}
	if a.expected.IsPointer() || t.IsPointer() {
		return a.errorf(util.CatPointerMismatch, tok, "expected %s, got %s", a.expected, t)
	}
	return a.errorf(util.CatTypeMismatch, tok, "expected %s, got %s", a.expected, t)
}

func (a *Analyzer) resolveType(ref ast.TypeRef) (symbols.Type, error) {
	sym, ok := a.scope.Lookup(ref.Name)
	if !ok {
		return symbols.Type{}, a.errorf(util.CatUndeclared, ref.Tok, "unknown type '%s'", ref.Name)
	}
	ts, ok := sym.(*symbols.TypeSymbol)
	if !ok {
		return symbols.Type{}, a.errorf(util.CatTypeMismatch, ref.Tok, "'%s' is a %s, not a type", ref.Name, sym.Kind())
	}
	if ref.IsPointer {
		return symbols.PointerTo(ts.Type.Name), nil
	}
	return ts.Type, nil
}

// resolveValueType resolves the type of something holding a value: void and func
// only make sense behind a pointer.
func (a *Analyzer) resolveValueType(ref ast.TypeRef) (symbols.Type, error) {
	t, err := a.resolveType(ref)
	if err != nil {
		return t, err
	}
	if t.Name == symbols.Void || t.Name == symbols.Func {
		return t, a.errorf(util.CatTypeMismatch, ref.Tok, "cannot declare a value of type %s", t)
	}
	return t, nil
}

func (a *Analyzer) visitStmts(stmts []ast.Node) error {
	for _, stmt := range stmts {
		if err := stmt.Accept(a); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) VisitProgram(n *ast.Program) error {
	a.scope = a.syms.Global
	return a.visitStmts(n.Body.Stmts)
}

func (a *Analyzer) VisitBlock(n *ast.Block) error {
	saved := a.scope
	a.scope = a.syms.NewScope(n.ID, symbols.ScopeDefault, "", saved)
	err := a.visitStmts(n.Stmts)
	a.scope = saved
	return err
}

func (a *Analyzer) checkRedeclaration(tok token.Token, name string) error {
	if existing, ok := a.scope.LookupLocal(name); ok {
		return a.errorf(util.CatRedeclaration, tok, "'%s' is already declared as a %s in this scope", name, existing.Kind())
	}
	return nil
}

func (a *Analyzer) VisitVarDecl(n *ast.VarDecl) error {
	t, err := a.resolveValueType(n.TypeRef)
	if err != nil {
		return err
	}
	if err := a.checkRedeclaration(n.Tok, n.Name); err != nil {
		return err
	}
	if n.Init != nil {
		if err := a.expr(n.Init, &t); err != nil {
			return err
		}
	}
	return a.scope.Declare(&symbols.VarSymbol{Name: n.Name, Type: t})
}

func (a *Analyzer) VisitArrayDecl(n *ast.ArrayDecl) error {
	if !a.scope.IsGlobal() {
		return a.errorf(util.CatScope, n.Tok, "array '%s' must be declared at global scope", n.Name)
	}
	t, err := a.resolveValueType(n.TypeRef)
	if err != nil {
		return err
	}
	if err := a.checkRedeclaration(n.Tok, n.Name); err != nil {
		return err
	}
	if n.Init != nil {
		if err := a.checkArrayLiteral(n.Init, n.Dims, t); err != nil {
			return err
		}
	}
	return a.scope.Declare(&symbols.VarSymbol{Name: n.Name, Type: t, Dims: n.Dims})
}

// checkArrayLiteral walks a literal level by level against the declared
// dimensions. Leaves must have the element type.
func (a *Analyzer) checkArrayLiteral(lit *ast.ArrayLiteral, dims []int, elem symbols.Type) error {
	if len(lit.Elems) > dims[0] {
		return a.errorf(util.CatArrayShape, lit.Tok, "array literal has %d elements, the dimension is %d", len(lit.Elems), dims[0])
	}
	lit.SetType(symbols.PointerTo(elem.Name))
	for _, el := range lit.Elems {
		sub, isLiteral := el.(*ast.ArrayLiteral)
		switch {
		case len(dims) > 1 && !isLiteral:
			return a.errorf(util.CatArrayShape, el.Pos(), "expected a nested array literal for a %d-dimensional array", len(dims))
		case len(dims) > 1:
			if err := a.checkArrayLiteral(sub, dims[1:], elem); err != nil {
				return err
			}
		case isLiteral:
			return a.errorf(util.CatArrayShape, el.Pos(), "array literal nested deeper than the array's dimensions")
		default:
			if err := a.expr(el, &elem); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Analyzer) VisitArrayLiteral(n *ast.ArrayLiteral) error {
	return a.errorf(util.CatTypeMismatch, n.Tok, "array literals can only initialize array declarations")
}

// lookupScalar resolves an assignable, non-array variable.
func (a *Analyzer) lookupScalar(tok token.Token, name string) (*symbols.VarSymbol, *symbols.Scope, error) {
	sym, def, ok := a.scope.Resolve(name)
	if !ok {
		return nil, nil, a.errorf(util.CatUndeclared, tok, "'%s' is not declared", name)
	}
	v, ok := sym.(*symbols.VarSymbol)
	if !ok {
		return nil, nil, a.errorf(util.CatTypeMismatch, tok, "cannot assign to %s '%s'", sym.Kind(), name)
	}
	if v.IsArray() {
		return nil, nil, a.errorf(util.CatTypeMismatch, tok, "cannot assign to array '%s' as a whole", name)
	}
	return v, def, nil
}

// lookupArray resolves an array and checks the index expressions against it.
func (a *Analyzer) lookupArray(tok token.Token, name string, indices []ast.Expr) (*symbols.VarSymbol, *symbols.Scope, error) {
	sym, def, ok := a.scope.Resolve(name)
	if !ok {
		return nil, nil, a.errorf(util.CatUndeclared, tok, "'%s' is not declared", name)
	}
	v, ok := sym.(*symbols.VarSymbol)
	if !ok || !v.IsArray() {
		return nil, nil, a.errorf(util.CatTypeMismatch, tok, "'%s' is not an array", name)
	}
	if len(indices) != len(v.Dims) {
		return nil, nil, a.errorf(util.CatTypeMismatch, tok, "array '%s' has %d dimensions, indexed with %d", name, len(v.Dims), len(indices))
	}
	for _, idx := range indices {
		if err := a.expr(idx, &symbols.TypeInt); err != nil {
			return nil, nil, err
		}
	}
	return v, def, nil
}

func (a *Analyzer) VisitAssign(n *ast.Assign) error {
	v, def, err := a.lookupScalar(n.Tok, n.Name)
	if err != nil {
		return err
	}
	n.Scope = def.ID
	return a.expr(n.Value, &v.Type)
}

func (a *Analyzer) VisitArrayMemberAssign(n *ast.ArrayMemberAssign) error {
	v, def, err := a.lookupArray(n.Tok, n.Name, n.Indices)
	if err != nil {
		return err
	}
	n.Scope = def.ID
	return a.expr(n.Value, &v.Type)
}

func isNumeric(t symbols.Type) bool { return t.Name == symbols.Int || t.Name == symbols.Double }

func (a *Analyzer) VisitBinaryOp(n *ast.BinaryOp) error {
	if n.Op.IsComparison() || n.Op == token.And || n.Op == token.Or {
		saved := a.expected
		a.expected = nil
		err := n.Left.Accept(a)
		if err == nil {
			err = n.Right.Accept(a)
		}
		a.expected = saved
		if err != nil {
			return err
		}
		n.SetType(symbols.TypeInt)
		return a.accept(n.Tok, symbols.TypeInt)
	}

	if err := n.Left.Accept(a); err != nil {
		return err
	}
	if err := n.Right.Accept(a); err != nil {
		return err
	}
	t := *n.Left.Type()
	if !isNumeric(t) {
		return a.errorf(util.CatTypeMismatch, n.Tok, "operator '%s' needs int or double operands, got %s", n.Op, t)
	}
	n.SetType(t)
	return nil
}

func (a *Analyzer) VisitUnaryOp(n *ast.UnaryOp) error {
	if err := n.Operand.Accept(a); err != nil {
		return err
	}
	t := *n.Operand.Type()
	if !isNumeric(t) {
		return a.errorf(util.CatTypeMismatch, n.Tok, "unary '%s' needs an int or double operand, got %s", n.Op, t)
	}
	n.SetType(t)
	return nil
}

func (a *Analyzer) VisitAddressOf(n *ast.AddressOf) error {
	sym, def, ok := a.scope.Resolve(n.Name)
	if !ok {
		return a.errorf(util.CatUndeclared, n.Tok, "'%s' is not declared", n.Name)
	}
	var t symbols.Type
	switch s := sym.(type) {
	case *symbols.VarSymbol:
		n.Scope = def.ID
		t = symbols.PointerTo(s.Type.Name)
	case *symbols.FuncSymbol:
		s.IsReallyUsed = true
		t = symbols.PointerTo(symbols.Func)
	default:
		return a.errorf(util.CatTypeMismatch, n.Tok, "cannot take the address of %s '%s'", sym.Kind(), n.Name)
	}
	n.SetType(t)
	return a.accept(n.Tok, t)
}

func (a *Analyzer) VisitDeref(n *ast.Deref) error {
	if err := a.expr(n.Operand, nil); err != nil {
		return err
	}
	ot := *n.Operand.Type()
	if !ot.IsPointer() {
		return a.errorf(util.CatPointerMismatch, n.Tok, "cannot dereference a value of type %s", ot)
	}
	t := ot.Elem()
	n.SetType(t)
	return a.accept(n.Tok, t)
}

func (a *Analyzer) VisitLiteral(n *ast.Literal) error {
	var t symbols.Type
	switch n.Kind {
	case ast.LitInt:
		t = symbols.TypeInt
	case ast.LitDouble:
		t = symbols.TypeDouble
	case ast.LitString:
		t = symbols.TypeStr
	}
	n.SetType(t)
	return a.accept(n.Tok, t)
}

func (a *Analyzer) VisitVarRef(n *ast.VarRef) error {
	sym, def, ok := a.scope.Resolve(n.Name)
	if !ok {
		return a.errorf(util.CatUndeclared, n.Tok, "'%s' is not declared", n.Name)
	}
	v, ok := sym.(*symbols.VarSymbol)
	if !ok {
		if sym.Kind() == symbols.KindFunc {
			return a.errorf(util.CatTypeMismatch, n.Tok, "function '%s' used as a value, take its address with &%s", n.Name, n.Name)
		}
		return a.errorf(util.CatTypeMismatch, n.Tok, "%s '%s' used as a value", sym.Kind(), n.Name)
	}
	n.Scope = def.ID
	t := v.Type
	if v.IsArray() {
		t = symbols.PointerTo(v.Type.Name)
	}
	n.SetType(t)
	return a.accept(n.Tok, t)
}

func (a *Analyzer) VisitArrayMember(n *ast.ArrayMember) error {
	v, def, err := a.lookupArray(n.Tok, n.Name, n.Indices)
	if err != nil {
		return err
	}
	n.Scope = def.ID
	n.SetType(v.Type)
	return a.accept(n.Tok, v.Type)
}

func (a *Analyzer) checkCondition(cond ast.Expr) error {
	if err := a.expr(cond, nil); err != nil {
		return err
	}
	if t := *cond.Type(); t.Name == symbols.Void || t.Name == symbols.Func {
		return a.errorf(util.CatTypeMismatch, cond.Pos(), "condition has type %s", t)
	}
	return nil
}

func (a *Analyzer) VisitIf(n *ast.If) error {
	if err := a.checkCondition(n.Cond); err != nil {
		return err
	}
	if err := n.Body.Accept(a); err != nil {
		return err
	}
	if n.Else != nil {
		return n.Else.Accept(a)
	}
	return nil
}

func (a *Analyzer) VisitFor(n *ast.For) error {
	saved := a.scope
	a.scope = a.syms.NewScope(n.Body.ID, symbols.ScopeDefault, "", saved)
	defer func() { a.scope = saved }()

	if err := n.Init.Accept(a); err != nil {
		return err
	}
	if err := a.checkCondition(n.Cond); err != nil {
		return err
	}
	if err := n.Update.Accept(a); err != nil {
		return err
	}
	return a.visitStmts(n.Body.Stmts)
}

func (a *Analyzer) VisitFuncDecl(n *ast.FuncDecl) error {
	if !a.scope.IsGlobal() {
		return a.errorf(util.CatScope, n.Tok, "function '%s' must be declared at global scope", n.Name)
	}
	if err := a.checkRedeclaration(n.Tok, n.Name); err != nil {
		return err
	}
	if len(n.Params) > MaxCallArgs {
		return a.errorf(util.CatArgumentLimit, n.Tok, "function '%s' declares %d parameters, at most %d are supported", n.Name, len(n.Params), MaxCallArgs)
	}
	ret, err := a.resolveType(n.Return)
	if err != nil {
		return err
	}

	fn := &symbols.FuncSymbol{Name: n.Name, Return: ret}
	for _, p := range n.Params {
		t, err := a.resolveValueType(p.TypeRef)
		if err != nil {
			return err
		}
		fn.Params = append(fn.Params, symbols.Param{Name: p.Name, Type: t})
	}
	if err := a.scope.Declare(fn); err != nil {
		return err
	}

	fnScope := a.syms.NewScope(n.Body.ID, symbols.ScopeFunction, n.Name, a.scope)
	for i, p := range fn.Params {
		if err := fnScope.Declare(&symbols.VarSymbol{Name: p.Name, Type: p.Type}); err != nil {
			return a.errorf(util.CatRedeclaration, n.Params[i].Tok, "parameter '%s' is declared twice", p.Name)
		}
	}

	savedScope, savedFn := a.scope, a.fn
	a.scope, a.fn = fnScope, fn
	err = a.visitStmts(n.Body.Stmts)
	a.scope, a.fn = savedScope, savedFn
	return err
}

func (a *Analyzer) VisitFuncCall(n *ast.FuncCall) error {
	if len(n.Args) > MaxCallArgs {
		return a.errorf(util.CatArgumentLimit, n.Tok, "call to '%s' passes %d arguments, at most %d are supported", n.Name, len(n.Args), MaxCallArgs)
	}
	sym, ok := a.scope.Lookup(n.Name)
	if !ok {
		return a.errorf(util.CatUndeclared, n.Tok, "function '%s' is not declared", n.Name)
	}
	fn, ok := sym.(*symbols.FuncSymbol)
	if !ok {
		return a.errorf(util.CatCallTarget, n.Tok, "'%s' is a %s, not a function", n.Name, sym.Kind())
	}
	fn.IsReallyUsed = true

	if fn.IsExternal {
		for _, arg := range n.Args {
			if err := a.expr(arg, nil); err != nil {
				return err
			}
		}
		// Foreign signatures are unknown: the call takes whatever type its context expects.
		t := symbols.TypeInt
		if a.expected != nil {
			t = *a.expected
		}
		n.SetType(t)
		return a.accept(n.Tok, t)
	}

	if len(n.Args) != len(fn.Params) {
		return a.errorf(util.CatArity, n.Tok, "'%s' expects %d arguments, got %d", n.Name, len(fn.Params), len(n.Args))
	}
	for i, arg := range n.Args {
		if err := a.expr(arg, &fn.Params[i].Type); err != nil {
			return err
		}
	}
	n.SetType(fn.Return)
	return a.accept(n.Tok, fn.Return)
}

func (a *Analyzer) VisitReturn(n *ast.Return) error {
	if a.fn == nil {
		return a.errorf(util.CatScope, n.Tok, "'return' outside of a function")
	}
	isVoid := a.fn.Return.Name == symbols.Void
	switch {
	case n.Value == nil && !isVoid:
		return a.errorf(util.CatTypeMismatch, n.Tok, "function '%s' must return a value of type %s", a.fn.Name, a.fn.Return)
	case n.Value == nil:
		return nil
	case isVoid:
		return a.errorf(util.CatTypeMismatch, n.Value.Pos(), "void function '%s' cannot return a value", a.fn.Name)
	}
	return a.expr(n.Value, &a.fn.Return)
}

func (a *Analyzer) VisitSharedImport(n *ast.SharedImport) error {
	if !a.scope.IsGlobal() {
		return a.errorf(util.CatScope, n.Tok, "'dynamic' imports are only allowed at global scope")
	}
	count, err := a.syms.LoadSharedSymbols(n.Path)
	if err != nil {
		return a.errorf(util.CatImport, n.Tok, "cannot import '%s': %v", n.Path, err)
	}
	a.log.Info("imported %d functions from '%s'", count, n.Path)
	return nil
}

func (a *Analyzer) VisitExprStmt(n *ast.ExprStmt) error { return a.expr(n.X, nil) }

func (a *Analyzer) VisitEOF(n *ast.EOF) error { return nil }

package semantic

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/lexer"
	"github.com/malanka-lang/malc/pkg/parser"
	"github.com/malanka-lang/malc/pkg/shlib"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/util"
)

var testLibs = shlib.Static{
	"libc.so.6": {"printf", "puts", "malloc"},
	"libm.so.6": {"sqrt"},
}

func analyze(t *testing.T, src string) (*ast.Program, *symbols.Manager, error) {
	t.Helper()
	toks, err := lexer.NewLexer([]rune(src), 0).Tokenize()
	be.Err(t, err, nil)
	prog, err := parser.NewParser(toks).Parse()
	be.Err(t, err, nil)
	mgr := symbols.NewManager(testLibs)
	return prog, mgr, New(mgr, nil).Analyze(prog)
}

func lines(ls ...string) string { return strings.Join(ls, "\n") + "\n" }

func TestIntAssignedToDouble(t *testing.T) {
	_, _, err := analyze(t, lines("x@int = 2", "y@double = x"))
	be.Err(t, err, "expected double, got int")
	be.True(t, util.IsCategory(err, util.CatTypeMismatch))

	d := err.(*util.Diagnostic)
	be.Equal(t, d.Tok.Line, 2)
	be.Equal(t, d.Tok.Column, 12)
	be.Equal(t, d.Component, util.CompSemantic)
}

func TestArgumentLimit(t *testing.T) {
	src := lines(
		"dynamic \"libc.so.6\"",
		"printf(\"%d %d %d %d %d %d\", 1, 2, 3, 4, 5, 6)",
	)
	_, _, err := analyze(t, src)
	be.True(t, util.IsCategory(err, util.CatArgumentLimit))

	// Six is fine, also for user functions.
	src = lines(
		"def f(a@int, b@int, c@int, d@int, e@int, g@int)@int:",
		"    return a",
		"x@int = f(1, 2, 3, 4, 5, 6)",
	)
	_, _, err = analyze(t, src)
	be.Err(t, err, nil)
}

func TestRedeclaration(t *testing.T) {
	_, _, err := analyze(t, lines("x@int = 1", "x@int = 2"))
	be.True(t, util.IsCategory(err, util.CatRedeclaration))

	// Shadowing in a nested block is allowed.
	_, _, err = analyze(t, lines("x@int = 1", "if 1:", "    x@double = 2.0"))
	be.Err(t, err, nil)

	_, _, err = analyze(t, lines("def f(a@int, a@int)@int:", "    return a"))
	be.True(t, util.IsCategory(err, util.CatRedeclaration))
}

func TestEveryExpressionTyped(t *testing.T) {
	src := lines(
		"dynamic \"libc.so.6\"",
		"arr[2][3]@int = [[1, 2, 3], [4, 5, 6]]",
		"x@int = arr[1][2] * 2 + -1",
		"p@*int = &x",
		"y@int = p*",
		"d@double = 1.5 / 2.0",
		"def half(v@double)@double:",
		"    return v / 2.0",
		"d = half(d)",
		"if x > 1 and y != 0:",
		"    printf(\"%d\\n\", x)",
		"for i@int = 0, i < 3, i = i + 1:",
		"    arr[0][i] = i",
	)
	prog, _, err := analyze(t, src)
	be.Err(t, err, nil)

	var untyped []string
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		if e == nil {
			return
		}
		if e.Type() == nil {
			untyped = append(untyped, e.Pos().Value)
		}
		switch n := e.(type) {
		case *ast.BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.UnaryOp:
			walk(n.Operand)
		case *ast.Deref:
			walk(n.Operand)
		case *ast.ArrayMember:
			for _, idx := range n.Indices {
				walk(idx)
			}
		case *ast.FuncCall:
			for _, arg := range n.Args {
				walk(arg)
			}
		case *ast.ArrayLiteral:
			for _, el := range n.Elems {
				walk(el)
			}
		}
	}
	var visit func(stmts []ast.Node)
	visit = func(stmts []ast.Node) {
		for _, s := range stmts {
			switch n := s.(type) {
			case *ast.VarDecl:
				walk(n.Init)
			case *ast.ArrayDecl:
				if n.Init != nil {
					walk(n.Init)
				}
			case *ast.Assign:
				walk(n.Value)
			case *ast.ArrayMemberAssign:
				walk(n.Value)
			case *ast.ExprStmt:
				walk(n.X)
			case *ast.Return:
				walk(n.Value)
			case *ast.If:
				walk(n.Cond)
				visit(n.Body.Stmts)
			case *ast.For:
				walk(n.Cond)
				visit(n.Body.Stmts)
			case *ast.FuncDecl:
				visit(n.Body.Stmts)
			}
		}
	}
	visit(prog.Body.Stmts)
	be.Equal(t, len(untyped), 0)

	y := prog.Body.Stmts[4].(*ast.VarDecl)
	be.Equal(t, *y.Init.Type(), symbols.TypeInt)
	cond := prog.Body.Stmts[8].(*ast.If).Cond
	be.Equal(t, *cond.Type(), symbols.TypeInt)
}

func TestArrayRules(t *testing.T) {
	tests := []struct {
		name string
		src  string
		cat  util.Category
		want string
	}{
		{"local array", lines("def f()@int:", "    a[3]@int", "    return 0"), util.CatScope, "global scope"},
		{"too many elements", lines("a[2]@int = [1, 2, 3]"), util.CatArrayShape, "3 elements"},
		{"missing nesting", lines("a[2][2]@int = [1, 2]"), util.CatArrayShape, "nested array literal"},
		{"too much nesting", lines("a[2]@int = [[1], [2]]"), util.CatArrayShape, "deeper"},
		{"element type", lines("a[2]@int = [1, 2.5]"), util.CatTypeMismatch, "expected int, got double"},
		{"wrong rank", lines("a[2][2]@int", "x@int = a[1]"), util.CatTypeMismatch, "2 dimensions"},
		{"double index", lines("a[2]@int", "x@int = a[1.0]"), util.CatTypeMismatch, "expected int, got double"},
		{"not an array", lines("x@int = 1", "y@int = x[0]"), util.CatTypeMismatch, "not an array"},
		{"whole array assign", lines("a[2]@int", "a = 1"), util.CatTypeMismatch, "as a whole"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := analyze(t, tc.src)
			be.Err(t, err, tc.want)
			be.True(t, util.IsCategory(err, tc.cat))
		})
	}
}

func TestArrayDecay(t *testing.T) {
	_, _, err := analyze(t, lines("a[4]@int", "p@*int = a"))
	be.Err(t, err, nil)

	_, _, err = analyze(t, lines("a[4]@int", "p@*double = a"))
	be.True(t, util.IsCategory(err, util.CatPointerMismatch))
}

func TestPointers(t *testing.T) {
	_, _, err := analyze(t, lines("d@double = 1.0", "p@*int = &d"))
	be.Err(t, err, "expected *int, got *double")
	be.True(t, util.IsCategory(err, util.CatPointerMismatch))

	_, _, err = analyze(t, lines("x@int = 1", "y@int = x*"))
	be.Err(t, err, "cannot dereference")

	_, _, err = analyze(t, lines("s@str = __ARGV__*", "n@int = __ARGC__*"))
	be.Err(t, err, nil)
}

func TestFunctionCalls(t *testing.T) {
	tests := []struct {
		name string
		src  string
		cat  util.Category
	}{
		{"arity", lines("def f(a@int)@int:", "    return a", "x@int = f(1, 2)"), util.CatArity},
		{"argument type", lines("def f(a@int)@int:", "    return a", "x@int = f(1.5)"), util.CatTypeMismatch},
		{"return type", lines("def f()@double:", "    return 1.0", "x@int = f()"), util.CatTypeMismatch},
		{"undeclared", lines("x@int = g()"), util.CatUndeclared},
		{"not a function", lines("x@int = 1", "y@int = x()"), util.CatCallTarget},
		{"nested function", lines("def f()@int:", "    def g()@int:", "        return 1", "    return 0"), util.CatScope},
		{"function as value", lines("def f()@int:", "    return 1", "x@int = f"), util.CatTypeMismatch},
		{"char_to_int needs str", lines("x@int = char_to_int(3)"), util.CatTypeMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := analyze(t, tc.src)
			be.True(t, util.IsCategory(err, tc.cat))
		})
	}
}

func TestRecursionAndUsage(t *testing.T) {
	src := lines(
		"def fact(n@int)@int:",
		"    if n <= 1:",
		"        return 1",
		"    return n * fact(n - 1)",
		"x@int = fact(5)",
		"c@int = char_to_int(\"A\")",
	)
	_, mgr, err := analyze(t, src)
	be.Err(t, err, nil)

	sym, _ := mgr.Global.Lookup("fact")
	be.True(t, sym.(*symbols.FuncSymbol).IsReallyUsed)
	sym, _ = mgr.Global.Lookup(symbols.CharToIntName)
	be.True(t, sym.(*symbols.FuncSymbol).IsReallyUsed)
}

func TestExternalCallsAreUnchecked(t *testing.T) {
	src := lines(
		"dynamic \"libc.so.6\"",
		"dynamic \"libm.so.6\"",
		"printf(\"%s %f\\n\", \"x\", 2.5)",
		"d@double = sqrt(2.0)",
		"p@*int = malloc(8)",
	)
	prog, mgr, err := analyze(t, src)
	be.Err(t, err, nil)

	d := prog.Body.Stmts[3].(*ast.VarDecl)
	be.Equal(t, *d.Init.Type(), symbols.TypeDouble)

	var used []string
	for _, fn := range mgr.ExternalFuncs(true) {
		used = append(used, fn.Name)
	}
	be.Equal(t, used, []string{"printf", "malloc", "sqrt"})
}

func TestExternalResultTakesContextType(t *testing.T) {
	src := lines(
		"dynamic \"libc.so.6\"",
		"dynamic \"libm.so.6\"",
		"printf(\"%f\\n\", sqrt(2.0))",
		"r@double = sqrt(2.0)",
		"printf(\"%f\\n\", r)",
	)
	prog, _, err := analyze(t, src)
	be.Err(t, err, nil)

	outer := prog.Body.Stmts[2].(*ast.ExprStmt).X.(*ast.FuncCall)
	be.Equal(t, *outer.Args[1].Type(), symbols.TypeInt)
	bound := prog.Body.Stmts[3].(*ast.VarDecl)
	be.Equal(t, *bound.Init.Type(), symbols.TypeDouble)
	passed := prog.Body.Stmts[4].(*ast.ExprStmt).X.(*ast.FuncCall)
	be.Equal(t, *passed.Args[1].Type(), symbols.TypeDouble)
}

func TestSharedImports(t *testing.T) {
	_, mgr, err := analyze(t, lines("dynamic \"libc.so.6\"", "dynamic \"libc.so.6\""))
	be.Err(t, err, nil)
	be.Equal(t, mgr.SharedLibs, []string{"libc.so.6"})

	_, _, err = analyze(t, lines("def f()@int:", "    dynamic \"libc.so.6\"", "    return 0"))
	be.True(t, util.IsCategory(err, util.CatScope))

	_, _, err = analyze(t, lines("dynamic \"libnope.so\""))
	be.True(t, util.IsCategory(err, util.CatImport))

	_, _, err = analyze(t, lines("printf(\"hi\")"))
	be.True(t, util.IsCategory(err, util.CatUndeclared))
}

func TestReturnRules(t *testing.T) {
	_, _, err := analyze(t, lines("return 1"))
	be.True(t, util.IsCategory(err, util.CatScope))

	_, _, err = analyze(t, lines("def f():", "    return 1"))
	be.Err(t, err, "cannot return a value")

	_, _, err = analyze(t, lines("def f()@int:", "    return"))
	be.Err(t, err, "must return a value of type int")

	_, _, err = analyze(t, lines("def f():", "    return"))
	be.Err(t, err, nil)
}

func TestScopesRecorded(t *testing.T) {
	src := lines(
		"g@int = 1",
		"def f(a@int)@int:",
		"    if a > 0:",
		"        t@int = a",
		"        return t",
		"    return g",
		"for i@int = 0, i < 2, i = i + 1:",
		"    g = g + i",
	)
	prog, mgr, err := analyze(t, src)
	be.Err(t, err, nil)

	fn := prog.Body.Stmts[1].(*ast.FuncDecl)
	fnScope, ok := mgr.Scope(fn.Body.ID)
	be.True(t, ok)
	be.Equal(t, fnScope.Kind, symbols.ScopeFunction)
	be.Equal(t, fnScope.Name, "f")

	ifBody := fn.Body.Stmts[0].(*ast.If).Body
	inner, ok := mgr.Scope(ifBody.ID)
	be.True(t, ok)
	be.True(t, inner.IsNestedInFuncScope("t"))
	be.True(t, inner.IsNestedInFuncScope("a"))
	be.True(t, !inner.IsNestedInFuncScope("g"))

	ret := fn.Body.Stmts[1].(*ast.Return).Value.(*ast.VarRef)
	be.Equal(t, ret.Scope, symbols.GlobalScopeID)

	loop := prog.Body.Stmts[2].(*ast.For)
	loopScope, ok := mgr.Scope(loop.Body.ID)
	be.True(t, ok)
	be.True(t, !loopScope.IsNestedInFuncScope("i"))
}

func TestUndeclaredAndTypes(t *testing.T) {
	_, _, err := analyze(t, lines("x@int = y"))
	be.True(t, util.IsCategory(err, util.CatUndeclared))

	_, _, err = analyze(t, lines("x@float = 1"))
	be.Err(t, err, "unknown type 'float'")

	_, _, err = analyze(t, lines("x@void"))
	be.Err(t, err, "cannot declare a value of type void")

	_, _, err = analyze(t, lines("s@str = \"a\" + \"b\""))
	be.Err(t, err, "needs int or double operands")

	_, _, err = analyze(t, lines("x@int = 1 < 2.0"))
	be.True(t, util.IsCategory(err, util.CatTypeMismatch))
}

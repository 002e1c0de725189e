package codegen

import (
	"fmt"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/ir"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

// argcCell holds the widened argc that __ARGC__ points at in a cc-linked program.
const argcCell = "argc_value"

// irGen lowers an analyzed program to ir.Program. Top-level statements become
// the body of main; each malanka function becomes fn_<name>.
type irGen struct {
	cfg  *config.Config
	syms *symbols.Manager

	prog   *ir.Program
	fn     *ir.Func
	block  *ir.BasicBlock
	allocs []*ir.Instruction
	scope  *symbols.Scope
	sym    *symbols.FuncSymbol

	tempCount  int
	labelCount int
	strs       map[string]string
	globals    map[string]bool
	locals     map[slotKey]ir.Value

	// result is the value of the expression visited last.
	result ir.Value
}

func newIRGen(cfg *config.Config, syms *symbols.Manager) *irGen {
	return &irGen{cfg: cfg, syms: syms}
}

func (g *irGen) errorf(cat util.Category, tok token.Token, format string, args ...any) error {
	return util.Errorf(util.CompCodegen, cat, tok, format, args...)
}

func (g *irGen) Lower(prog *ast.Program) (*ir.Program, error) {
	g.prog = &ir.Program{WordSize: g.cfg.WordSize}
	g.strs = make(map[string]string)
	g.globals = make(map[string]bool)
	g.tempCount, g.labelCount = 0, 0
	if err := prog.Accept(g); err != nil {
		return nil, err
	}
	return g.prog, nil
}

func valueType(t symbols.Type) ir.Type {
	if t.IsFloat() {
		return ir.TypeD
	}
	return ir.TypeL
}

func (g *irGen) newTemp() *ir.Temporary {
	g.tempCount++
	return &ir.Temporary{Name: fmt.Sprintf("t%d", g.tempCount), ID: g.tempCount}
}

func (g *irGen) newLabel(kind string) *ir.Label {
	g.labelCount++
	return &ir.Label{Name: fmt.Sprintf("%s_%d", kind, g.labelCount)}
}

func (g *irGen) startBlock(label *ir.Label) {
	g.block = &ir.BasicBlock{Label: label}
	g.fn.Blocks = append(g.fn.Blocks, g.block)
}

func (g *irGen) add(instr *ir.Instruction) {
	if g.block.Terminated() {
		g.startBlock(g.newLabel("dead"))
	}
	g.block.Instructions = append(g.block.Instructions, instr)
}

func (g *irGen) emit(op ir.Op, typ ir.Type, args ...ir.Value) *ir.Temporary {
	res := g.newTemp()
	g.add(&ir.Instruction{Op: op, Typ: typ, Result: res, Args: args, VariadicAt: -1})
	return res
}

// emitCompare compares two values of type operand, producing 0 or 1 as typ.
func (g *irGen) emitCompare(op ir.Op, typ, operand ir.Type, x, y ir.Value) *ir.Temporary {
	res := g.newTemp()
	g.add(&ir.Instruction{Op: op, Typ: typ, OperandType: operand, Result: res, Args: []ir.Value{x, y}, VariadicAt: -1})
	return res
}

func (g *irGen) store(typ ir.Type, value, addr ir.Value) {
	g.add(&ir.Instruction{Op: ir.OpStore, Typ: typ, Args: []ir.Value{value, addr}, VariadicAt: -1})
}

func (g *irGen) jump(target *ir.Label) {
	g.add(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{target}, VariadicAt: -1})
}

func (g *irGen) branch(cond ast.Expr, ifTrue, ifFalse *ir.Label) error {
	val, err := g.expr(cond)
	if err != nil {
		return err
	}
	typ := valueType(*cond.Type())
	c := g.emitCompare(ir.OpCNeq, ir.TypeW, typ, val, zeroOf(typ))
	g.add(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{c, ifTrue, ifFalse}, VariadicAt: -1})
	return nil
}

func (g *irGen) ret(typ ir.Type, v ir.Value) {
	g.add(&ir.Instruction{Op: ir.OpRet, Typ: typ, Args: []ir.Value{v}, VariadicAt: -1})
}

func (g *irGen) expr(e ast.Expr) (ir.Value, error) {
	if err := e.Accept(g); err != nil {
		return nil, err
	}
	return g.result, nil
}

func (g *irGen) stringConst(s string) ir.Value {
	label, ok := g.strs[s]
	if !ok {
		label = fmt.Sprintf("str_%d", len(g.strs))
		g.strs[s] = label
		g.prog.Strings = append(g.prog.Strings, &ir.StringData{Label: label, Value: s})
	}
	return &ir.Global{Name: label}
}

func (g *irGen) global(label string, cells int) ir.Value {
	if !g.globals[label] {
		g.globals[label] = true
		g.prog.Globals = append(g.prog.Globals, &ir.Data{
			Name: label, Align: 8, Items: []ir.DataItem{{Typ: ir.TypeL, Count: cells}},
		})
	}
	return &ir.Global{Name: label}
}

// address returns where the variable name declared in scopeID lives: a stack
// slot for function-nested variables, a data cell otherwise.
func (g *irGen) address(tok token.Token, name string, scopeID int) (*symbols.VarSymbol, ir.Value, error) {
	def, ok := g.syms.Scope(scopeID)
	if !ok {
		return nil, nil, g.errorf(util.CatInternal, tok, "no scope %d for '%s'", scopeID, name)
	}
	sym, ok := def.LookupLocal(name)
	v, isVar := sym.(*symbols.VarSymbol)
	if !ok || !isVar {
		return nil, nil, g.errorf(util.CatInternal, tok, "'%s' is not a variable of scope %d", name, scopeID)
	}
	if !def.IsNestedInFuncScope(name) {
		return v, g.global(cellLabel(def, name), v.Cells()), nil
	}
	key := slotKey{def.ID, name}
	if slot, ok := g.locals[key]; ok {
		return v, slot, nil
	}
	slot := g.newTemp()
	g.allocs = append(g.allocs, &ir.Instruction{
		Op: ir.OpAlloc, Typ: ir.TypeL, Result: slot, Args: []ir.Value{&ir.Const{Value: 8}}, Align: 8, VariadicAt: -1,
	})
	g.locals[key] = slot
	return v, slot, nil
}

func (g *irGen) beginFunc(name string, exported bool, ret ir.Type) {
	g.fn = &ir.Func{Name: name, Exported: exported, ReturnType: ret}
	g.prog.Funcs = append(g.prog.Funcs, g.fn)
	g.allocs = nil
	g.locals = make(map[slotKey]ir.Value)
	g.startBlock(&ir.Label{Name: "start"})
}

// endFunc closes the last block and hoists the stack slots into the entry block.
func (g *irGen) endFunc(zero ir.Value) {
	if !g.block.Terminated() {
		g.ret(g.fn.ReturnType, zero)
	}
	entry := g.fn.Blocks[0]
	entry.Instructions = append(g.allocs, entry.Instructions...)
	g.fn, g.block = nil, nil
}

func (g *irGen) visitStmts(stmts []ast.Node) error {
	for _, stmt := range stmts {
		if err := stmt.Accept(g); err != nil {
			return err
		}
	}
	return nil
}

func (g *irGen) VisitProgram(n *ast.Program) error {
	g.scope = g.syms.Global
	g.beginFunc("main", true, ir.TypeW)
	argc := &ir.Temporary{Name: "argc", ID: -1}
	argv := &ir.Temporary{Name: "argv", ID: -1}
	g.fn.Params = []*ir.Param{{Name: "argc", Typ: ir.TypeW, Val: argc}, {Name: "argv", Typ: ir.TypeL, Val: argv}}

	cell := g.global(argcCell, 1)
	wide := g.emit(ir.OpExtSW, ir.TypeL, argc)
	g.store(ir.TypeL, wide, cell)
	g.store(ir.TypeL, cell, g.global(cellLabel(g.syms.Global, symbols.ArgcName), 1))
	g.store(ir.TypeL, argv, g.global(cellLabel(g.syms.Global, symbols.ArgvName), 1))

	var funcs []*ast.FuncDecl
	for _, stmt := range n.Body.Stmts {
		if fd, ok := stmt.(*ast.FuncDecl); ok {
			funcs = append(funcs, fd)
			continue
		}
		if err := stmt.Accept(g); err != nil {
			return err
		}
	}
	g.endFunc(&ir.Const{Value: 0})

	for _, fd := range funcs {
		if err := fd.Accept(g); err != nil {
			return err
		}
	}
	if sym, ok := g.syms.Global.LookupLocal(symbols.CharToIntName); ok && sym.(*symbols.FuncSymbol).IsReallyUsed {
		g.charToInt()
	}
	return nil
}

func (g *irGen) charToInt() {
	s := &ir.Temporary{Name: "s", ID: -1}
	g.beginFunc(funcLabel(symbols.CharToIntName), false, ir.TypeL)
	g.fn.Params = []*ir.Param{{Name: "s", Typ: ir.TypeL, Val: s}}
	c := g.newTemp()
	g.add(&ir.Instruction{Op: ir.OpLoad, Typ: ir.TypeL, OperandType: ir.TypeB, Result: c, Args: []ir.Value{s}, VariadicAt: -1})
	g.ret(ir.TypeL, c)
	g.endFunc(&ir.Const{Value: 0})
}

func (g *irGen) VisitBlock(n *ast.Block) error {
	scope, ok := g.syms.Scope(n.ID)
	if !ok {
		return g.errorf(util.CatInternal, n.Tok, "block %d was never analyzed", n.ID)
	}
	saved := g.scope
	g.scope = scope
	err := g.visitStmts(n.Stmts)
	g.scope = saved
	return err
}

func (g *irGen) VisitVarDecl(n *ast.VarDecl) error {
	v, addr, err := g.address(n.Tok, n.Name, g.scope.ID)
	if err != nil {
		return err
	}
	typ := valueType(v.Type)
	var val ir.Value = &ir.Const{Value: 0}
	if typ == ir.TypeD {
		val = &ir.FloatConst{Value: 0}
	}
	if n.Init != nil {
		if val, err = g.expr(n.Init); err != nil {
			return err
		}
	}
	g.store(typ, val, addr)
	return nil
}

func (g *irGen) VisitArrayDecl(n *ast.ArrayDecl) error {
	if len(n.Dims) > 2 {
		return g.errorf(util.CatArrayRank, n.Tok, "array '%s' has %d dimensions, only 1 and 2 are supported", n.Name, len(n.Dims))
	}
	v, addr, err := g.address(n.Tok, n.Name, g.scope.ID)
	if err != nil {
		return err
	}
	if n.Init == nil {
		return nil
	}
	return g.storeArrayLiteral(n.Init, v, addr, nil)
}

func (g *irGen) storeArrayLiteral(lit *ast.ArrayLiteral, v *symbols.VarSymbol, base ir.Value, prefix []int) error {
	for i, el := range lit.Elems {
		idx := append(append([]int(nil), prefix...), i)
		if sub, ok := el.(*ast.ArrayLiteral); ok {
			if err := g.storeArrayLiteral(sub, v, base, idx); err != nil {
				return err
			}
			continue
		}
		val, err := g.expr(el)
		if err != nil {
			return err
		}
		addr := g.emit(ir.OpAdd, ir.TypeL, base, &ir.Const{Value: int64(arrayOffset(v.Dims, idx))})
		g.store(valueType(v.Type), val, addr)
	}
	return nil
}

func (g *irGen) VisitArrayLiteral(n *ast.ArrayLiteral) error {
	return g.errorf(util.CatInternal, n.Tok, "array literal outside an array declaration")
}

func (g *irGen) VisitAssign(n *ast.Assign) error {
	v, addr, err := g.address(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	val, err := g.expr(n.Value)
	if err != nil {
		return err
	}
	g.store(valueType(v.Type), val, addr)
	return nil
}

// element returns the address of name[indices...].
func (g *irGen) element(tok token.Token, name string, scopeID int, indices []ast.Expr) (*symbols.VarSymbol, ir.Value, error) {
	v, base, err := g.address(tok, name, scopeID)
	if err != nil {
		return nil, nil, err
	}
	if len(v.Dims) != 1 && len(v.Dims) != 2 {
		return nil, nil, g.errorf(util.CatArrayRank, tok, "array '%s' has %d dimensions, only 1 and 2 are supported", name, len(v.Dims))
	}
	idx, err := g.expr(indices[0])
	if err != nil {
		return nil, nil, err
	}
	if len(v.Dims) == 2 {
		col, err := g.expr(indices[1])
		if err != nil {
			return nil, nil, err
		}
		row := g.emit(ir.OpMul, ir.TypeL, idx, &ir.Const{Value: int64(v.Dims[1])})
		idx = g.emit(ir.OpAdd, ir.TypeL, row, col)
	}
	off := g.emit(ir.OpMul, ir.TypeL, idx, &ir.Const{Value: 8})
	return v, g.emit(ir.OpAdd, ir.TypeL, base, off), nil
}

func (g *irGen) VisitArrayMemberAssign(n *ast.ArrayMemberAssign) error {
	val, err := g.expr(n.Value)
	if err != nil {
		return err
	}
	v, addr, err := g.element(n.Tok, n.Name, n.Scope, n.Indices)
	if err != nil {
		return err
	}
	g.store(valueType(v.Type), val, addr)
	return nil
}

func (g *irGen) VisitArrayMember(n *ast.ArrayMember) error {
	v, addr, err := g.element(n.Tok, n.Name, n.Scope, n.Indices)
	if err != nil {
		return err
	}
	g.result = g.emit(ir.OpLoad, valueType(v.Type), addr)
	return nil
}

var irCompareOps = map[token.Type]ir.Op{
	token.EqEq: ir.OpCEq, token.Neq: ir.OpCNeq, token.Lt: ir.OpCLt,
	token.Lte: ir.OpCLe, token.Gt: ir.OpCGt, token.Gte: ir.OpCGe,
}

var irArithOps = map[token.Type]ir.Op{
	token.Plus: ir.OpAdd, token.Minus: ir.OpSub, token.Star: ir.OpMul, token.Slash: ir.OpDiv,
}

func (g *irGen) VisitBinaryOp(n *ast.BinaryOp) error {
	// Same order as the native backend: right operand first.
	right, err := g.expr(n.Right)
	if err != nil {
		return err
	}
	left, err := g.expr(n.Left)
	if err != nil {
		return err
	}
	operand := valueType(*n.Left.Type())

	switch {
	case n.Op == token.And || n.Op == token.Or:
		l := g.emitCompare(ir.OpCNeq, ir.TypeL, operand, left, zeroOf(operand))
		rt := valueType(*n.Right.Type())
		r := g.emitCompare(ir.OpCNeq, ir.TypeL, rt, right, zeroOf(rt))
		op := ir.OpAnd
		if n.Op == token.Or {
			op = ir.OpOr
		}
		g.result = g.emit(op, ir.TypeL, l, r)
	case n.Op.IsComparison():
		g.result = g.emitCompare(irCompareOps[n.Op], ir.TypeL, operand, left, right)
	default:
		g.result = g.emit(irArithOps[n.Op], operand, left, right)
	}
	return nil
}

func (g *irGen) VisitUnaryOp(n *ast.UnaryOp) error {
	val, err := g.expr(n.Operand)
	if err != nil {
		return err
	}
	g.result = val
	if n.Op != token.Minus {
		return nil
	}
	if n.Type().IsFloat() {
		g.result = g.emit(ir.OpNeg, ir.TypeD, val)
	} else {
		g.result = g.emit(ir.OpSub, ir.TypeL, &ir.Const{Value: 0}, val)
	}
	return nil
}

func (g *irGen) VisitAddressOf(n *ast.AddressOf) error {
	sym, ok := g.scope.Lookup(n.Name)
	if !ok {
		return g.errorf(util.CatUndeclared, n.Tok, "'%s' is not declared", n.Name)
	}
	if fn, isFunc := sym.(*symbols.FuncSymbol); isFunc {
		g.result = &ir.Global{Name: irCallee(fn)}
		return nil
	}
	_, addr, err := g.address(n.Tok, n.Name, n.Scope)
	g.result = addr
	return err
}

func (g *irGen) VisitDeref(n *ast.Deref) error {
	ptr, err := g.expr(n.Operand)
	if err != nil {
		return err
	}
	g.result = g.emit(ir.OpLoad, valueType(*n.Type()), ptr)
	return nil
}

func (g *irGen) VisitLiteral(n *ast.Literal) error {
	switch n.Kind {
	case ast.LitInt:
		g.result = &ir.Const{Value: n.Int}
	case ast.LitDouble:
		g.result = &ir.FloatConst{Value: n.Float}
	case ast.LitString:
		g.result = g.stringConst(n.Str)
	}
	return nil
}

func (g *irGen) VisitVarRef(n *ast.VarRef) error {
	v, addr, err := g.address(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	if v.IsArray() {
		g.result = addr
		return nil
	}
	g.result = g.emit(ir.OpLoad, valueType(v.Type), addr)
	return nil
}

func (g *irGen) VisitIf(n *ast.If) error {
	then, next, end := g.newLabel("if_then"), g.newLabel("if_next"), g.newLabel("if_end")
	if err := g.branch(n.Cond, then, next); err != nil {
		return err
	}
	g.startBlock(then)
	if err := n.Body.Accept(g); err != nil {
		return err
	}
	g.jump(end)
	g.startBlock(next)
	if n.Else != nil {
		if err := n.Else.Accept(g); err != nil {
			return err
		}
	}
	g.jump(end)
	g.startBlock(end)
	return nil
}

func (g *irGen) VisitFor(n *ast.For) error {
	scope, ok := g.syms.Scope(n.Body.ID)
	if !ok {
		return g.errorf(util.CatInternal, n.Tok, "loop block %d was never analyzed", n.Body.ID)
	}
	saved := g.scope
	g.scope = scope
	defer func() { g.scope = saved }()

	if err := n.Init.Accept(g); err != nil {
		return err
	}
	start, body, end := g.newLabel("for_start"), g.newLabel("for_body"), g.newLabel("for_end")
	g.jump(start)
	g.startBlock(start)
	if err := g.branch(n.Cond, body, end); err != nil {
		return err
	}
	g.startBlock(body)
	if err := g.visitStmts(n.Body.Stmts); err != nil {
		return err
	}
	if err := n.Update.Accept(g); err != nil {
		return err
	}
	g.jump(start)
	g.startBlock(end)
	return nil
}

func (g *irGen) VisitFuncDecl(n *ast.FuncDecl) error {
	sym, _ := g.syms.Global.LookupLocal(n.Name)
	fn, ok := sym.(*symbols.FuncSymbol)
	if !ok {
		return g.errorf(util.CatInternal, n.Tok, "function '%s' was never analyzed", n.Name)
	}
	scope, ok := g.syms.Scope(n.Body.ID)
	if !ok {
		return g.errorf(util.CatInternal, n.Tok, "function block %d was never analyzed", n.Body.ID)
	}
	saved := g.scope
	g.scope, g.sym = scope, fn
	defer func() { g.scope, g.sym = saved, nil }()

	ret := valueType(fn.Return)
	g.beginFunc(funcLabel(fn.Name), false, ret)
	for _, p := range fn.Params {
		val := &ir.Temporary{Name: "p_" + p.Name, ID: -1}
		typ := valueType(p.Type)
		g.fn.Params = append(g.fn.Params, &ir.Param{Name: p.Name, Typ: typ, Val: val})
		_, slot, err := g.address(n.Tok, p.Name, scope.ID)
		if err != nil {
			return err
		}
		g.store(typ, val, slot)
	}
	if err := g.visitStmts(n.Body.Stmts); err != nil {
		return err
	}
	g.endFunc(zeroOf(ret))
	return nil
}

func zeroOf(t ir.Type) ir.Value {
	if t == ir.TypeD {
		return &ir.FloatConst{Value: 0}
	}
	return &ir.Const{Value: 0}
}

func irCallee(fn *symbols.FuncSymbol) string {
	if fn.IsExternal {
		return fn.Name
	}
	return funcLabel(fn.Name)
}

func (g *irGen) VisitFuncCall(n *ast.FuncCall) error {
	if len(n.Args) > len(intArgRegs) {
		return g.errorf(util.CatArgumentLimit, n.Tok, "call to '%s' passes %d arguments, at most %d are supported", n.Name, len(n.Args), len(intArgRegs))
	}
	sym, ok := g.scope.Lookup(n.Name)
	if !ok {
		return g.errorf(util.CatUndeclared, n.Tok, "function '%s' is not declared", n.Name)
	}
	fn, ok := sym.(*symbols.FuncSymbol)
	if !ok {
		return g.errorf(util.CatCallTarget, n.Tok, "'%s' is a %s, not a function", n.Name, sym.Kind())
	}

	args := []ir.Value{&ir.Global{Name: irCallee(fn)}}
	var types []ir.Type
	for _, arg := range n.Args {
		v, err := g.expr(arg)
		if err != nil {
			return err
		}
		args = append(args, v)
		types = append(types, valueType(*arg.Type()))
	}
	// Foreign functions are treated as variadic after their first argument,
	// which is what printf-style callees need.
	variadicAt := -1
	if fn.IsExternal && len(n.Args) > 0 {
		variadicAt = 1
	}
	res := g.newTemp()
	g.add(&ir.Instruction{
		Op: ir.OpCall, Typ: valueType(*n.Type()), Result: res, Args: args, ArgTypes: types, VariadicAt: variadicAt,
	})
	g.result = res
	return nil
}

func (g *irGen) VisitReturn(n *ast.Return) error {
	if g.sym == nil {
		return g.errorf(util.CatScope, n.Tok, "'return' outside of a function")
	}
	ret := g.fn.ReturnType
	var val ir.Value = zeroOf(ret)
	if n.Value != nil {
		v, err := g.expr(n.Value)
		if err != nil {
			return err
		}
		val = v
	}
	g.ret(ret, val)
	return nil
}

func (g *irGen) VisitSharedImport(n *ast.SharedImport) error { return nil }

func (g *irGen) VisitExprStmt(n *ast.ExprStmt) error {
	_, err := g.expr(n.X)
	return err
}

func (g *irGen) VisitEOF(n *ast.EOF) error { return nil }

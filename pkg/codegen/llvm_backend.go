package codegen

import (
	"bytes"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

// LLVM lowers the program to an LLVM IR module. Addresses travel as i64 like
// every other non-double value and are converted to pointers at each access.
type LLVM struct {
	cfg  *config.Config
	syms *symbols.Manager
	log  *util.Logger

	m       *ir.Module
	fn      *ir.Func
	blk     *ir.Block
	entry   *ir.Block
	allocas []ir.Instruction
	scope   *symbols.Scope
	sym     *symbols.FuncSymbol

	funcs      map[string]*ir.Func
	globals    map[string]*ir.Global
	strs       map[string]*ir.Global
	locals     map[slotKey]*ir.InstAlloca
	blockCount int

	result value.Value
}

func NewLLVM(cfg *config.Config, syms *symbols.Manager, log *util.Logger) *LLVM {
	return &LLVM{cfg: cfg, syms: syms, log: log}
}

func (b *LLVM) errorf(cat util.Category, tok token.Token, format string, args ...any) error {
	return util.Errorf(util.CompCodegen, cat, tok, format, args...)
}

func (b *LLVM) Generate(prog *ast.Program) (*bytes.Buffer, error) {
	b.m = ir.NewModule()
	b.funcs = make(map[string]*ir.Func)
	b.globals = make(map[string]*ir.Global)
	b.strs = make(map[string]*ir.Global)
	b.blockCount = 0
	if err := prog.Accept(b); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(b.m.String())
	b.log.Info("llvm backend: %d functions, %d globals", len(b.m.Funcs), len(b.m.Globals))
	return &buf, nil
}

func llvmType(t symbols.Type) types.Type {
	if t.IsFloat() {
		return types.Double
	}
	return types.I64
}

func llvmZero(t types.Type) value.Value {
	if t.Equal(types.Double) {
		return constant.NewFloat(types.Double, 0)
	}
	return constant.NewInt(types.I64, 0)
}

// block returns the insertion block, opening a fresh one after a terminator.
func (b *LLVM) block() *ir.Block {
	if b.blk.Term != nil {
		b.blk = b.newBlock("dead")
	}
	return b.blk
}

func (b *LLVM) newBlock(kind string) *ir.Block {
	b.blockCount++
	return b.fn.NewBlock(fmt.Sprintf("%s.%d", kind, b.blockCount))
}

func (b *LLVM) expr(e ast.Expr) (value.Value, error) {
	if err := e.Accept(b); err != nil {
		return nil, err
	}
	return b.result, nil
}

func (b *LLVM) load(elem types.Type, addr value.Value) value.Value {
	blk := b.block()
	return blk.NewLoad(elem, blk.NewIntToPtr(addr, types.NewPointer(elem)))
}

func (b *LLVM) store(elem types.Type, val, addr value.Value) {
	blk := b.block()
	blk.NewStore(val, blk.NewIntToPtr(addr, types.NewPointer(elem)))
}

func (b *LLVM) global(label string, cells int) value.Value {
	g, ok := b.globals[label]
	if !ok {
		typ := types.NewArray(uint64(cells), types.I64)
		g = b.m.NewGlobalDef(label, constant.NewZeroInitializer(typ))
		b.globals[label] = g
	}
	return b.block().NewPtrToInt(g, types.I64)
}

func (b *LLVM) stringConst(s string) value.Value {
	g, ok := b.strs[s]
	if !ok {
		g = b.m.NewGlobalDef(fmt.Sprintf("str_%d", len(b.strs)), constant.NewCharArrayFromString(s+"\x00"))
		g.Immutable = true
		b.strs[s] = g
	}
	return b.block().NewPtrToInt(g, types.I64)
}

// address is the i64 address of the variable name declared in scopeID.
func (b *LLVM) address(tok token.Token, name string, scopeID int) (*symbols.VarSymbol, value.Value, error) {
	def, ok := b.syms.Scope(scopeID)
	if !ok {
		return nil, nil, b.errorf(util.CatInternal, tok, "no scope %d for '%s'", scopeID, name)
	}
	sym, ok := def.LookupLocal(name)
	v, isVar := sym.(*symbols.VarSymbol)
	if !ok || !isVar {
		return nil, nil, b.errorf(util.CatInternal, tok, "'%s' is not a variable of scope %d", name, scopeID)
	}
	if !def.IsNestedInFuncScope(name) {
		return v, b.global(cellLabel(def, name), v.Cells()), nil
	}
	key := slotKey{def.ID, name}
	slot, ok := b.locals[key]
	if !ok {
		slot = ir.NewAlloca(types.I64)
		slot.SetName(fmt.Sprintf("%s.%d", name, def.ID))
		b.allocas = append(b.allocas, slot)
		b.locals[key] = slot
	}
	return v, b.block().NewPtrToInt(slot, types.I64), nil
}

func (b *LLVM) beginFunc(fn *ir.Func) {
	b.fn = fn
	b.allocas = nil
	b.locals = make(map[slotKey]*ir.InstAlloca)
	b.entry = fn.NewBlock("entry")
	b.blk = b.entry
}

// endFunc returns zero from a body that falls off its end and moves the stack
// slots to the top of the entry block.
func (b *LLVM) endFunc() {
	if b.blk.Term == nil {
		b.blk.NewRet(llvmZero(b.fn.Sig.RetType))
	}
	b.entry.Insts = append(b.allocas, b.entry.Insts...)
	b.fn, b.blk, b.entry = nil, nil, nil
}

func (b *LLVM) visitStmts(stmts []ast.Node) error {
	for _, stmt := range stmts {
		if err := stmt.Accept(b); err != nil {
			return err
		}
	}
	return nil
}

// declareFuncs creates the signatures of every user function first so calls
// resolve regardless of where the callee is defined.
func (b *LLVM) declareFuncs(stmts []ast.Node) {
	for _, stmt := range stmts {
		fd, ok := stmt.(*ast.FuncDecl)
		if !ok {
			continue
		}
		sym, _ := b.syms.Global.LookupLocal(fd.Name)
		fn, ok := sym.(*symbols.FuncSymbol)
		if !ok {
			continue
		}
		var params []*ir.Param
		for _, p := range fn.Params {
			params = append(params, ir.NewParam("p_"+p.Name, llvmType(p.Type)))
		}
		b.funcs[fn.Name] = b.m.NewFunc(funcLabel(fn.Name), llvmType(fn.Return), params...)
	}
	if sym, ok := b.syms.Global.LookupLocal(symbols.CharToIntName); ok && sym.(*symbols.FuncSymbol).IsReallyUsed {
		b.charToInt()
	}
}

func (b *LLVM) charToInt() {
	s := ir.NewParam("s", types.I64)
	fn := b.m.NewFunc(funcLabel(symbols.CharToIntName), types.I64, s)
	b.funcs[symbols.CharToIntName] = fn
	blk := fn.NewBlock("entry")
	c := blk.NewLoad(types.I8, blk.NewIntToPtr(s, types.NewPointer(types.I8)))
	blk.NewRet(blk.NewZExt(c, types.I64))
}

// external declares a foreign function as i64 (...).
func (b *LLVM) external(name string) *ir.Func {
	if fn, ok := b.funcs[name]; ok {
		return fn
	}
	fn := b.m.NewFunc(name, types.I64)
	fn.Sig.Variadic = true
	b.funcs[name] = fn
	return fn
}

func (b *LLVM) VisitProgram(n *ast.Program) error {
	b.scope = b.syms.Global
	b.declareFuncs(n.Body.Stmts)

	argc := ir.NewParam("argc", types.I32)
	argv := ir.NewParam("argv", types.NewPointer(types.NewPointer(types.I8)))
	b.beginFunc(b.m.NewFunc("main", types.I32, argc, argv))

	cell := b.global(argcCell, 1)
	b.store(types.I64, b.blk.NewSExt(argc, types.I64), cell)
	b.store(types.I64, cell, b.global(cellLabel(b.syms.Global, symbols.ArgcName), 1))
	b.store(types.I64, b.blk.NewPtrToInt(argv, types.I64), b.global(cellLabel(b.syms.Global, symbols.ArgvName), 1))

	var funcs []*ast.FuncDecl
	for _, stmt := range n.Body.Stmts {
		if fd, ok := stmt.(*ast.FuncDecl); ok {
			funcs = append(funcs, fd)
			continue
		}
		if err := stmt.Accept(b); err != nil {
			return err
		}
	}
	if b.blk.Term == nil {
		b.blk.NewRet(constant.NewInt(types.I32, 0))
	}
	b.endFunc()

	for _, fd := range funcs {
		if err := fd.Accept(b); err != nil {
			return err
		}
	}
	return nil
}

func (b *LLVM) VisitBlock(n *ast.Block) error {
	scope, ok := b.syms.Scope(n.ID)
	if !ok {
		return b.errorf(util.CatInternal, n.Tok, "block %d was never analyzed", n.ID)
	}
	saved := b.scope
	b.scope = scope
	err := b.visitStmts(n.Stmts)
	b.scope = saved
	return err
}

func (b *LLVM) VisitVarDecl(n *ast.VarDecl) error {
	v, addr, err := b.address(n.Tok, n.Name, b.scope.ID)
	if err != nil {
		return err
	}
	typ := llvmType(v.Type)
	val := llvmZero(typ)
	if n.Init != nil {
		if val, err = b.expr(n.Init); err != nil {
			return err
		}
	}
	b.store(typ, val, addr)
	return nil
}

func (b *LLVM) VisitArrayDecl(n *ast.ArrayDecl) error {
	if len(n.Dims) > 2 {
		return b.errorf(util.CatArrayRank, n.Tok, "array '%s' has %d dimensions, only 1 and 2 are supported", n.Name, len(n.Dims))
	}
	v, base, err := b.address(n.Tok, n.Name, b.scope.ID)
	if err != nil {
		return err
	}
	if n.Init == nil {
		return nil
	}
	return b.storeArrayLiteral(n.Init, v, base, nil)
}

func (b *LLVM) storeArrayLiteral(lit *ast.ArrayLiteral, v *symbols.VarSymbol, base value.Value, prefix []int) error {
	for i, el := range lit.Elems {
		idx := append(append([]int(nil), prefix...), i)
		if sub, ok := el.(*ast.ArrayLiteral); ok {
			if err := b.storeArrayLiteral(sub, v, base, idx); err != nil {
				return err
			}
			continue
		}
		val, err := b.expr(el)
		if err != nil {
			return err
		}
		addr := b.block().NewAdd(base, constant.NewInt(types.I64, int64(arrayOffset(v.Dims, idx))))
		b.store(llvmType(v.Type), val, addr)
	}
	return nil
}

func (b *LLVM) VisitArrayLiteral(n *ast.ArrayLiteral) error {
	return b.errorf(util.CatInternal, n.Tok, "array literal outside an array declaration")
}

func (b *LLVM) VisitAssign(n *ast.Assign) error {
	v, addr, err := b.address(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	val, err := b.expr(n.Value)
	if err != nil {
		return err
	}
	b.store(llvmType(v.Type), val, addr)
	return nil
}

func (b *LLVM) element(tok token.Token, name string, scopeID int, indices []ast.Expr) (*symbols.VarSymbol, value.Value, error) {
	v, base, err := b.address(tok, name, scopeID)
	if err != nil {
		return nil, nil, err
	}
	if len(v.Dims) != 1 && len(v.Dims) != 2 {
		return nil, nil, b.errorf(util.CatArrayRank, tok, "array '%s' has %d dimensions, only 1 and 2 are supported", name, len(v.Dims))
	}
	idx, err := b.expr(indices[0])
	if err != nil {
		return nil, nil, err
	}
	if len(v.Dims) == 2 {
		col, err := b.expr(indices[1])
		if err != nil {
			return nil, nil, err
		}
		row := b.block().NewMul(idx, constant.NewInt(types.I64, int64(v.Dims[1])))
		idx = b.block().NewAdd(row, col)
	}
	off := b.block().NewMul(idx, constant.NewInt(types.I64, 8))
	return v, b.block().NewAdd(base, off), nil
}

func (b *LLVM) VisitArrayMemberAssign(n *ast.ArrayMemberAssign) error {
	val, err := b.expr(n.Value)
	if err != nil {
		return err
	}
	v, addr, err := b.element(n.Tok, n.Name, n.Scope, n.Indices)
	if err != nil {
		return err
	}
	b.store(llvmType(v.Type), val, addr)
	return nil
}

func (b *LLVM) VisitArrayMember(n *ast.ArrayMember) error {
	v, addr, err := b.element(n.Tok, n.Name, n.Scope, n.Indices)
	if err != nil {
		return err
	}
	b.result = b.load(llvmType(v.Type), addr)
	return nil
}

var llvmIntPreds = map[token.Type]enum.IPred{
	token.EqEq: enum.IPredEQ, token.Neq: enum.IPredNE, token.Lt: enum.IPredSLT,
	token.Lte: enum.IPredSLE, token.Gt: enum.IPredSGT, token.Gte: enum.IPredSGE,
}

var llvmFloatPreds = map[token.Type]enum.FPred{
	token.EqEq: enum.FPredOEQ, token.Neq: enum.FPredUNE, token.Lt: enum.FPredOLT,
	token.Lte: enum.FPredOLE, token.Gt: enum.FPredOGT, token.Gte: enum.FPredOGE,
}

// truth compares v against zero, producing an i1.
func (b *LLVM) truth(v value.Value, t symbols.Type) value.Value {
	if t.IsFloat() {
		return b.block().NewFCmp(enum.FPredUNE, v, constant.NewFloat(types.Double, 0))
	}
	return b.block().NewICmp(enum.IPredNE, v, constant.NewInt(types.I64, 0))
}

func (b *LLVM) VisitBinaryOp(n *ast.BinaryOp) error {
	right, err := b.expr(n.Right)
	if err != nil {
		return err
	}
	left, err := b.expr(n.Left)
	if err != nil {
		return err
	}
	isFloat := n.Left.Type().IsFloat()

	var bit value.Value
	switch {
	case n.Op == token.And || n.Op == token.Or:
		l, r := b.truth(left, *n.Left.Type()), b.truth(right, *n.Right.Type())
		if n.Op == token.And {
			bit = b.block().NewAnd(l, r)
		} else {
			bit = b.block().NewOr(l, r)
		}
	case n.Op.IsComparison() && isFloat:
		bit = b.block().NewFCmp(llvmFloatPreds[n.Op], left, right)
	case n.Op.IsComparison():
		bit = b.block().NewICmp(llvmIntPreds[n.Op], left, right)
	default:
		b.result = b.arith(n.Op, isFloat, left, right)
		return nil
	}
	b.result = b.block().NewZExt(bit, types.I64)
	return nil
}

func (b *LLVM) arith(op token.Type, isFloat bool, x, y value.Value) value.Value {
	blk := b.block()
	if isFloat {
		switch op {
		case token.Plus:
			return blk.NewFAdd(x, y)
		case token.Minus:
			return blk.NewFSub(x, y)
		case token.Star:
			return blk.NewFMul(x, y)
		}
		return blk.NewFDiv(x, y)
	}
	switch op {
	case token.Plus:
		return blk.NewAdd(x, y)
	case token.Minus:
		return blk.NewSub(x, y)
	case token.Star:
		return blk.NewMul(x, y)
	}
	return blk.NewSDiv(x, y)
}

func (b *LLVM) VisitUnaryOp(n *ast.UnaryOp) error {
	val, err := b.expr(n.Operand)
	if err != nil {
		return err
	}
	b.result = val
	if n.Op != token.Minus {
		return nil
	}
	if n.Type().IsFloat() {
		b.result = b.block().NewFNeg(val)
	} else {
		b.result = b.block().NewSub(constant.NewInt(types.I64, 0), val)
	}
	return nil
}

func (b *LLVM) VisitAddressOf(n *ast.AddressOf) error {
	sym, ok := b.scope.Lookup(n.Name)
	if !ok {
		return b.errorf(util.CatUndeclared, n.Tok, "'%s' is not declared", n.Name)
	}
	if fn, isFunc := sym.(*symbols.FuncSymbol); isFunc {
		target := b.funcs[fn.Name]
		if fn.IsExternal {
			target = b.external(fn.Name)
		}
		b.result = b.block().NewPtrToInt(target, types.I64)
		return nil
	}
	_, addr, err := b.address(n.Tok, n.Name, n.Scope)
	b.result = addr
	return err
}

func (b *LLVM) VisitDeref(n *ast.Deref) error {
	ptr, err := b.expr(n.Operand)
	if err != nil {
		return err
	}
	b.result = b.load(llvmType(*n.Type()), ptr)
	return nil
}

func (b *LLVM) VisitLiteral(n *ast.Literal) error {
	switch n.Kind {
	case ast.LitInt:
		b.result = constant.NewInt(types.I64, n.Int)
	case ast.LitDouble:
		b.result = constant.NewFloat(types.Double, n.Float)
	case ast.LitString:
		b.result = b.stringConst(n.Str)
	}
	return nil
}

func (b *LLVM) VisitVarRef(n *ast.VarRef) error {
	v, addr, err := b.address(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	if v.IsArray() {
		b.result = addr
		return nil
	}
	b.result = b.load(llvmType(v.Type), addr)
	return nil
}

func (b *LLVM) condBr(cond ast.Expr, ifTrue, ifFalse *ir.Block) error {
	val, err := b.expr(cond)
	if err != nil {
		return err
	}
	bit := b.truth(val, *cond.Type())
	b.block().NewCondBr(bit, ifTrue, ifFalse)
	return nil
}

func (b *LLVM) br(target *ir.Block) {
	if b.blk.Term == nil {
		b.blk.NewBr(target)
	}
}

func (b *LLVM) VisitIf(n *ast.If) error {
	then, next, end := b.newBlock("if.then"), b.newBlock("if.next"), b.newBlock("if.end")
	if err := b.condBr(n.Cond, then, next); err != nil {
		return err
	}
	b.blk = then
	if err := n.Body.Accept(b); err != nil {
		return err
	}
	b.br(end)
	b.blk = next
	if n.Else != nil {
		if err := n.Else.Accept(b); err != nil {
			return err
		}
	}
	b.br(end)
	b.blk = end
	return nil
}

func (b *LLVM) VisitFor(n *ast.For) error {
	scope, ok := b.syms.Scope(n.Body.ID)
	if !ok {
		return b.errorf(util.CatInternal, n.Tok, "loop block %d was never analyzed", n.Body.ID)
	}
	saved := b.scope
	b.scope = scope
	defer func() { b.scope = saved }()

	if err := n.Init.Accept(b); err != nil {
		return err
	}
	start, body, end := b.newBlock("for.start"), b.newBlock("for.body"), b.newBlock("for.end")
	b.br(start)
	b.blk = start
	if err := b.condBr(n.Cond, body, end); err != nil {
		return err
	}
	b.blk = body
	if err := b.visitStmts(n.Body.Stmts); err != nil {
		return err
	}
	if err := n.Update.Accept(b); err != nil {
		return err
	}
	b.br(start)
	b.blk = end
	return nil
}

func (b *LLVM) VisitFuncDecl(n *ast.FuncDecl) error {
	sym, _ := b.syms.Global.LookupLocal(n.Name)
	fnSym, ok := sym.(*symbols.FuncSymbol)
	fn, declared := b.funcs[n.Name]
	if !ok || !declared {
		return b.errorf(util.CatInternal, n.Tok, "function '%s' was never analyzed", n.Name)
	}
	scope, ok := b.syms.Scope(n.Body.ID)
	if !ok {
		return b.errorf(util.CatInternal, n.Tok, "function block %d was never analyzed", n.Body.ID)
	}
	saved := b.scope
	b.scope, b.sym = scope, fnSym
	defer func() { b.scope, b.sym = saved, nil }()

	b.beginFunc(fn)
	for i, p := range fnSym.Params {
		_, slot, err := b.address(n.Tok, p.Name, scope.ID)
		if err != nil {
			return err
		}
		b.store(llvmType(p.Type), fn.Params[i], slot)
	}
	if err := b.visitStmts(n.Body.Stmts); err != nil {
		return err
	}
	b.endFunc()
	return nil
}

func (b *LLVM) VisitFuncCall(n *ast.FuncCall) error {
	if len(n.Args) > len(intArgRegs) {
		return b.errorf(util.CatArgumentLimit, n.Tok, "call to '%s' passes %d arguments, at most %d are supported", n.Name, len(n.Args), len(intArgRegs))
	}
	sym, ok := b.scope.Lookup(n.Name)
	if !ok {
		return b.errorf(util.CatUndeclared, n.Tok, "function '%s' is not declared", n.Name)
	}
	fn, ok := sym.(*symbols.FuncSymbol)
	if !ok {
		return b.errorf(util.CatCallTarget, n.Tok, "'%s' is a %s, not a function", n.Name, sym.Kind())
	}

	var args []value.Value
	for _, arg := range n.Args {
		v, err := b.expr(arg)
		if err != nil {
			return err
		}
		args = append(args, v)
	}

	if !fn.IsExternal {
		b.result = b.block().NewCall(b.funcs[fn.Name], args...)
		return nil
	}
	var callee value.Value = b.external(fn.Name)
	if n.Type().IsFloat() {
		// The call's context wants a double back: call through a double (...) type.
		sig := types.NewFunc(types.Double)
		sig.Variadic = true
		callee = constant.NewBitCast(callee.(constant.Constant), types.NewPointer(sig))
	}
	b.result = b.block().NewCall(callee, args...)
	return nil
}

func (b *LLVM) VisitReturn(n *ast.Return) error {
	if b.sym == nil {
		return b.errorf(util.CatScope, n.Tok, "'return' outside of a function")
	}
	val := llvmZero(b.fn.Sig.RetType)
	if n.Value != nil {
		v, err := b.expr(n.Value)
		if err != nil {
			return err
		}
		val = v
	}
	b.block().NewRet(val)
	return nil
}

func (b *LLVM) VisitSharedImport(n *ast.SharedImport) error { return nil }

func (b *LLVM) VisitExprStmt(n *ast.ExprStmt) error {
	_, err := b.expr(n.X)
	return err
}

func (b *LLVM) VisitEOF(n *ast.EOF) error { return nil }

package codegen

import (
	"fmt"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/util"
)

// callTarget is the operand of a call to fn.
func callTarget(fn *symbols.FuncSymbol) string {
	if fn.IsExternal {
		return "$" + fn.Name
	}
	return funcLabel(fn.Name)
}

// argRegs assigns the System V argument registers: doubles take xmm0-5 and
// everything else rdi, rsi, rdx, rcx, r8, r9, each class in argument order.
func argRegs(types []symbols.Type) (regs []string, floats int) {
	ints := 0
	for _, t := range types {
		if t.IsFloat() {
			regs = append(regs, floatArgRegs[floats])
			floats++
		} else {
			regs = append(regs, intArgRegs[ints])
			ints++
		}
	}
	return regs, floats
}

func (b *Native) moveArg(reg, src string) {
	if reg[0] == 'x' {
		b.w.Emit("movq %s, %s", reg, src)
	} else {
		b.w.Emit("mov %s, %s", reg, src)
	}
}

func (b *Native) VisitFuncCall(n *ast.FuncCall) error {
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

	types := make([]symbols.Type, len(n.Args))
	var nested []int
	for i, arg := range n.Args {
		types[i] = *arg.Type()
		if ast.ContainsCall(arg) {
			nested = append(nested, i)
		}
	}
	regs, floats := argRegs(types)

	// Arguments that call out would clobber the registers already loaded, so
	// they are computed first and parked on the stack.
	spill := util.AlignUp(8*len(nested), 16)
	if spill > 0 {
		b.w.Emit("sub rsp, %d", spill)
		for k, i := range nested {
			if err := n.Args[i].Accept(b); err != nil {
				return err
			}
			b.w.Emit("mov [rsp+%d], rax", 8*k)
		}
	}
	for i, arg := range n.Args {
		if ast.ContainsCall(arg) {
			continue
		}
		if err := arg.Accept(b); err != nil {
			return err
		}
		b.moveArg(regs[i], "rax")
	}
	if spill > 0 {
		for k, i := range nested {
			b.moveArg(regs[i], fmt.Sprintf("[rsp+%d]", 8*k))
		}
		b.w.Emit("add rsp, %d", spill)
	}

	b.w.Emit("sub rsp, 16")
	b.w.Emit("mov rax, %d", floats)
	b.w.Emit("call %s", callTarget(fn))
	b.w.Emit("add rsp, 16")
	if n.Type().IsFloat() {
		b.w.Emit("movq rax, xmm0")
	}
	return nil
}

type savedArg struct {
	reg string
	off int
}

func (b *Native) VisitFuncDecl(n *ast.FuncDecl) error {
	sym, ok := b.syms.Global.LookupLocal(n.Name)
	fn, isFunc := sym.(*symbols.FuncSymbol)
	if !ok || !isFunc {
		return b.errorf(util.CatInternal, n.Tok, "function '%s' was never analyzed", n.Name)
	}
	scope, ok := b.syms.Scope(n.Body.ID)
	if !ok {
		return b.errorf(util.CatInternal, n.Tok, "function block %d was never analyzed", n.Body.ID)
	}

	savedScope := b.scope
	b.scope, b.fn, b.retLabel = scope, fn, b.labels.New("ret")
	defer func() { b.scope, b.fn, b.retLabel = savedScope, nil, "" }()
	b.frame.Reset()
	b.w.BeginFunc()

	types := make([]symbols.Type, len(fn.Params))
	for i, p := range fn.Params {
		types[i] = p.Type
	}
	regs, _ := argRegs(types)
	saved := make([]savedArg, len(fn.Params))
	for i, p := range fn.Params {
		off := b.frame.Allocate(scope.ID, p.Name)
		if p.Type.IsFloat() {
			b.w.Emit("movq [rbp-%d], %s", off, regs[i])
		} else {
			b.w.Emit("mov [rbp-%d], %s", off, regs[i])
		}
		saved[i] = savedArg{regs[i], off}
	}

	if err := b.visitStmts(n.Body.Stmts); err != nil {
		return err
	}
	b.w.Emit("xor rax, rax")
	b.w.Label(b.retLabel)
	for i := len(saved) - 1; i >= 0; i-- {
		b.moveArg(saved[i].reg, fmt.Sprintf("[rbp-%d]", saved[i].off))
	}
	if fn.Return.IsFloat() {
		b.w.Emit("movq xmm0, rax")
	}
	b.w.Emit("leave")
	b.w.Emit("ret")
	b.w.EndFunc(funcLabel(n.Name), util.AlignUp(b.frame.Size(), b.cfg.StackAlignment))
	return nil
}

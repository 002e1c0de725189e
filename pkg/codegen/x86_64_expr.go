package codegen

import (
	"slices"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

var intJumps = map[token.Type]string{
	token.EqEq: "je", token.Neq: "jne", token.Lt: "jl", token.Lte: "jle", token.Gt: "jg", token.Gte: "jge",
}

// fcomip sets the flags like an unsigned compare.
var floatJumps = map[token.Type]string{
	token.EqEq: "je", token.Neq: "jne", token.Lt: "jb", token.Lte: "jbe", token.Gt: "ja", token.Gte: "jae",
}

func (b *Native) VisitLiteral(n *ast.Literal) error {
	switch n.Kind {
	case ast.LitInt:
		b.w.Emit("mov rax, %d", n.Int)
	case ast.LitDouble:
		b.w.Emit("mov rax, [%s]", b.floatLabel(n.Float))
	case ast.LitString:
		b.w.Emit("mov rax, %s", b.stringLabel(n.Str))
	}
	return nil
}

func (b *Native) VisitVarRef(n *ast.VarRef) error {
	v, mem, err := b.variable(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	if v.IsArray() {
		b.w.Emit("lea rax, %s", mem)
	} else {
		b.w.Emit("mov rax, %s", mem)
	}
	return nil
}

func (b *Native) VisitAddressOf(n *ast.AddressOf) error {
	sym, ok := b.scope.Lookup(n.Name)
	if !ok {
		return b.errorf(util.CatUndeclared, n.Tok, "'%s' is not declared", n.Name)
	}
	if fn, isFunc := sym.(*symbols.FuncSymbol); isFunc {
		b.w.Emit("mov rax, %s", callTarget(fn))
		return nil
	}
	_, mem, err := b.variable(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	b.w.Emit("lea rax, %s", mem)
	return nil
}

func (b *Native) VisitDeref(n *ast.Deref) error {
	if err := n.Operand.Accept(b); err != nil {
		return err
	}
	b.w.Emit("mov rax, [rax]")
	return nil
}

func (b *Native) VisitUnaryOp(n *ast.UnaryOp) error {
	if err := n.Operand.Accept(b); err != nil {
		return err
	}
	if n.Op != token.Minus {
		return nil
	}
	if n.Type().IsFloat() {
		b.w.Emit("mov rbx, 0x8000000000000000")
		b.w.Emit("xor rax, rbx")
	} else {
		b.w.Emit("neg rax")
	}
	return nil
}

// evalPair leaves left in rax and right in rbx. The right operand goes first.
// A left operand that needs more than rax is evaluated with the right value
// spilled to the stack.
func (b *Native) evalPair(left, right ast.Expr) error {
	if err := right.Accept(b); err != nil {
		return err
	}
	if ast.IsLeaf(left) {
		b.w.Emit("mov rbx, rax")
		return left.Accept(b)
	}
	b.push("rax")
	if err := left.Accept(b); err != nil {
		return err
	}
	b.pop("rbx")
	return nil
}

func (b *Native) VisitBinaryOp(n *ast.BinaryOp) error {
	if err := b.evalPair(n.Left, n.Right); err != nil {
		return err
	}
	isFloat := n.Left.Type().IsFloat()
	switch {
	case n.Op == token.And || n.Op == token.Or:
		b.logical(n.Op)
	case n.Op.IsComparison():
		b.compare(n.Op, isFloat)
	default:
		b.arith(n.Op, isFloat)
	}
	return nil
}

func (b *Native) logical(op token.Type) {
	b.w.Emit("cmp rax, 0")
	b.w.Emit("setne al")
	b.w.Emit("movzx rax, al")
	b.w.Emit("cmp rbx, 0")
	b.w.Emit("setne bl")
	b.w.Emit("movzx rbx, bl")
	if op == token.And {
		b.w.Emit("and rax, rbx")
	} else {
		b.w.Emit("or rax, rbx")
	}
}

// fpuLoad pushes both operands on the x87 stack: st0 = rbx, st1 = rax for
// arithmetic, the reverse when leftOnTop is set.
func (b *Native) fpuLoad(load string, leftOnTop bool) {
	first, second := "rax", "rbx"
	if leftOnTop {
		first, second = "rbx", "rax"
	}
	b.w.Emit("mov [%s], %s", scratchLabel, first)
	b.w.Emit("%s qword [%s]", load, scratchLabel)
	b.w.Emit("mov [%s], %s", scratchLabel, second)
	b.w.Emit("%s qword [%s]", load, scratchLabel)
}

func (b *Native) compare(op token.Type, isFloat bool) {
	jump := intJumps[op]
	if isFloat {
		jump = floatJumps[op]
		b.fpuLoad("fld", true)
		b.w.Emit("fcomip st0, st1")
		b.w.Emit("fstp st0")
	} else {
		b.w.Emit("cmp rax, rbx")
	}
	isTrue := b.labels.New("cmp_true")
	end := b.labels.New("cmp_end")
	b.w.Emit("%s %s", jump, isTrue)
	b.w.Emit("xor rax, rax")
	b.w.Emit("jmp %s", end)
	b.w.Label(isTrue)
	b.w.Emit("mov rax, 1")
	b.w.Label(end)
}

var fpuOps = map[token.Type]string{
	token.Plus: "faddp", token.Minus: "fsubp", token.Star: "fmulp", token.Slash: "fdivp",
}

// arith computes rax op rbx into rax. Doubles and integer division go through
// the x87 stack via the scratch cell; fisttp truncates integer quotients
// toward zero and leaves rdx untouched for argument passing.
func (b *Native) arith(op token.Type, isFloat bool) {
	if !isFloat {
		switch op {
		case token.Plus:
			b.w.Emit("add rax, rbx")
			return
		case token.Minus:
			b.w.Emit("sub rax, rbx")
			return
		case token.Star:
			b.w.Emit("imul rax, rbx")
			return
		}
	}
	load, store := "fild", "fisttp"
	if isFloat {
		load, store = "fld", "fstp"
	}
	b.fpuLoad(load, false)
	b.w.Emit("%s st1", fpuOps[op])
	b.w.Emit("%s qword [%s]", store, scratchLabel)
	b.w.Emit("mov rax, [%s]", scratchLabel)
}

// arrayOffset is the byte offset of a constant index tuple in a row-major array.
func arrayOffset(dims, idx []int) int {
	off := 0
	for k := range dims {
		off = off*dims[k] + idx[k]
	}
	return off * 8
}

// arrayAddress leaves the address of name[indices...] in rax.
func (b *Native) arrayAddress(tok token.Token, name string, scopeID int, indices []ast.Expr) error {
	v, mem, err := b.variable(tok, name, scopeID)
	if err != nil {
		return err
	}
	switch len(v.Dims) {
	case 1:
		if err := indices[0].Accept(b); err != nil {
			return err
		}
	case 2:
		if err := b.evalPair(indices[0], indices[1]); err != nil {
			return err
		}
		b.w.Emit("imul rax, rax, %d", v.Dims[1])
		b.w.Emit("add rax, rbx")
	default:
		return b.errorf(util.CatArrayRank, tok, "array '%s' has %d dimensions, only 1 and 2 are supported", name, len(v.Dims))
	}
	b.w.Emit("shl rax, 3")
	b.w.Emit("lea rbx, %s", mem)
	b.w.Emit("add rax, rbx")
	return nil
}

func (b *Native) VisitArrayMember(n *ast.ArrayMember) error {
	if err := b.arrayAddress(n.Tok, n.Name, n.Scope, n.Indices); err != nil {
		return err
	}
	b.w.Emit("mov rax, [rax]")
	return nil
}

func (b *Native) VisitArrayMemberAssign(n *ast.ArrayMemberAssign) error {
	if err := n.Value.Accept(b); err != nil {
		return err
	}
	b.push("rax")
	if err := b.arrayAddress(n.Tok, n.Name, n.Scope, n.Indices); err != nil {
		return err
	}
	b.pop("rbx")
	b.w.Emit("mov [rax], rbx")
	return nil
}

func (b *Native) VisitArrayDecl(n *ast.ArrayDecl) error {
	if len(n.Dims) > 2 {
		return b.errorf(util.CatArrayRank, n.Tok, "array '%s' has %d dimensions, only 1 and 2 are supported", n.Name, len(n.Dims))
	}
	v, mem, err := b.variable(n.Tok, n.Name, b.scope.ID)
	if err != nil {
		return err
	}
	if n.Init == nil {
		return nil
	}
	label := mem[1 : len(mem)-1]
	return b.storeArrayLiteral(n.Init, v.Dims, nil, label)
}

// storeArrayLiteral writes each leaf of lit to its row-major cell.
func (b *Native) storeArrayLiteral(lit *ast.ArrayLiteral, dims, prefix []int, label string) error {
	for i, el := range lit.Elems {
		idx := append(slices.Clone(prefix), i)
		if sub, ok := el.(*ast.ArrayLiteral); ok {
			if err := b.storeArrayLiteral(sub, dims, idx, label); err != nil {
				return err
			}
			continue
		}
		if err := el.Accept(b); err != nil {
			return err
		}
		b.w.Emit("mov [%s+%d], rax", label, arrayOffset(dims, idx))
	}
	return nil
}

func (b *Native) VisitArrayLiteral(n *ast.ArrayLiteral) error {
	return b.errorf(util.CatInternal, n.Tok, "array literal outside an array declaration")
}

package codegen

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

const (
	entryLabel   = "_start"
	scratchLabel = "fpu_scratch"
)

var (
	intArgRegs   = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	floatArgRegs = []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5"}
)

// Native lowers an analyzed program to x86-64 NASM for the System V ABI.
// Every expression leaves its value in rax; doubles travel there as raw bits.
type Native struct {
	cfg    *config.Config
	syms   *symbols.Manager
	log    *util.Logger
	w      *NasmWriter
	labels *LabelGen
	frame  *StackFrame

	scope    *symbols.Scope
	fn       *symbols.FuncSymbol
	retLabel string
	// ifEnd holds the join label of the if chain open at each nesting depth.
	ifEnd   []string
	ifDepth int

	strs     map[string]string
	floats   map[uint64]string
	reserved map[string]bool
}

func NewNative(cfg *config.Config, syms *symbols.Manager, log *util.Logger) *Native {
	return &Native{cfg: cfg, syms: syms, log: log}
}

func (b *Native) reset() {
	b.w = &NasmWriter{}
	b.labels = NewLabelGen(b.cfg.LabelSeed)
	b.frame = NewStackFrame()
	b.scope, b.fn, b.retLabel = b.syms.Global, nil, ""
	b.ifEnd, b.ifDepth = nil, 0
	b.strs = make(map[string]string)
	b.floats = make(map[uint64]string)
	b.reserved = make(map[string]bool)
}

func (b *Native) Generate(prog *ast.Program) (*bytes.Buffer, error) {
	b.reset()
	if err := prog.Accept(b); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	b.w.WriteTo(&buf)
	b.log.Info("native backend: %d string and %d double literals, %d bss labels", len(b.strs), len(b.floats), len(b.reserved))
	return &buf, nil
}

func (b *Native) errorf(cat util.Category, tok token.Token, format string, args ...any) error {
	return util.Errorf(util.CompCodegen, cat, tok, format, args...)
}

func funcLabel(name string) string { return "fn_" + name }

// cellLabel names the .bss cell of a variable stored outside any function.
// Variables of nested top-level blocks get the block identity appended after
// a dot, which no identifier contains, so x_2 and x of block 2 stay apart.
func cellLabel(def *symbols.Scope, name string) string {
	if def.IsGlobal() {
		return "var_" + name
	}
	return fmt.Sprintf("var_%s.%d", name, def.ID)
}

func (b *Native) reserve(label string, cells int) {
	if b.reserved[label] {
		return
	}
	b.reserved[label] = true
	b.w.Reserve(label, cells)
}

func (b *Native) stringLabel(s string) string {
	if label, ok := b.strs[s]; ok {
		return label
	}
	label := fmt.Sprintf("str_%d", len(b.strs))
	b.strs[s] = label
	b.w.Data(label, "db "+nasmBytes(s))
	return label
}

func (b *Native) floatLabel(f float64) string {
	bits := math.Float64bits(f)
	if label, ok := b.floats[bits]; ok {
		return label
	}
	label := fmt.Sprintf("flt_%d", len(b.floats))
	b.floats[bits] = label
	b.w.Data(label, fmt.Sprintf("dq 0x%016x ; %g", bits, f))
	return label
}

// variable returns the symbol a name resolves to in the scope recorded by the
// analyzer, together with its memory operand.
func (b *Native) variable(tok token.Token, name string, scopeID int) (*symbols.VarSymbol, string, error) {
	def, ok := b.syms.Scope(scopeID)
	if !ok {
		return nil, "", b.errorf(util.CatInternal, tok, "no scope %d for '%s'", scopeID, name)
	}
	sym, ok := def.LookupLocal(name)
	if !ok {
		return nil, "", b.errorf(util.CatInternal, tok, "'%s' is not declared in scope %d", name, scopeID)
	}
	v, ok := sym.(*symbols.VarSymbol)
	if !ok {
		return nil, "", b.errorf(util.CatInternal, tok, "'%s' is not a variable", name)
	}
	if def.IsNestedInFuncScope(name) {
		return v, fmt.Sprintf("[rbp-%d]", b.frame.Allocate(def.ID, name)), nil
	}
	label := cellLabel(def, name)
	b.reserve(label, v.Cells())
	return v, "[" + label + "]", nil
}

// push and pop spill rax through a 16-byte slot so rsp stays aligned.
func (b *Native) push(reg string) {
	b.w.Emit("sub rsp, 16")
	b.w.Emit("mov [rsp], %s", reg)
}

func (b *Native) pop(reg string) {
	b.w.Emit("mov %s, [rsp]", reg)
	b.w.Emit("add rsp, 16")
}

func (b *Native) visitStmts(stmts []ast.Node) error {
	for _, stmt := range stmts {
		if err := stmt.Accept(b); err != nil {
			return err
		}
	}
	return nil
}

// sortFuncsLast moves function declarations behind the other top-level
// statements, keeping the relative order of both groups.
func sortFuncsLast(stmts []ast.Node) []ast.Node {
	sorted := slices.Clone(stmts)
	slices.SortStableFunc(sorted, func(x, y ast.Node) int {
		_, fx := x.(*ast.FuncDecl)
		_, fy := y.(*ast.FuncDecl)
		switch {
		case fx == fy:
			return 0
		case fy:
			return -1
		}
		return 1
	})
	return sorted
}

func (b *Native) VisitProgram(n *ast.Program) error {
	b.scope = b.syms.Global
	b.w.Label(entryLabel)
	b.bootstrap()

	exited := false
	for _, stmt := range sortFuncsLast(n.Body.Stmts) {
		if _, isFunc := stmt.(*ast.FuncDecl); isFunc && !exited {
			b.exit()
			exited = true
		}
		if err := stmt.Accept(b); err != nil {
			return err
		}
	}
	if !exited {
		b.exit()
	}
	b.emitBuiltins()

	for _, fn := range b.syms.ExternalFuncs(true) {
		b.w.Extern("$" + fn.Name)
	}
	b.w.Global(entryLabel)
	b.w.Data(scratchLabel, "dq 0")
	return nil
}

// bootstrap stores the addresses of argc and argv[0], found on the initial
// stack, into the cells behind __ARGC__ and __ARGV__.
func (b *Native) bootstrap() {
	argc := cellLabel(b.syms.Global, symbols.ArgcName)
	argv := cellLabel(b.syms.Global, symbols.ArgvName)
	b.reserve(argc, 1)
	b.reserve(argv, 1)
	b.w.Emit("lea rax, [rsp]")
	b.w.Emit("mov [%s], rax", argc)
	b.w.Emit("lea rax, [rsp+8]")
	b.w.Emit("mov [%s], rax", argv)
}

// exit ends the process with status 0, flushing stdio first when the program
// imported fflush.
func (b *Native) exit() {
	b.w.Comment("exit")
	if fflush, ok := b.syms.LookupExternal("fflush"); ok {
		fflush.IsReallyUsed = true
		b.w.Emit("xor rdi, rdi")
		b.w.Emit("sub rsp, 16")
		b.w.Emit("xor rax, rax")
		b.w.Emit("call $fflush")
		b.w.Emit("add rsp, 16")
	}
	b.w.Emit("mov rax, 60")
	b.w.Emit("xor rdi, rdi")
	b.w.Emit("syscall")
}

func (b *Native) emitBuiltins() {
	sym, ok := b.syms.Global.LookupLocal(symbols.CharToIntName)
	if !ok || !sym.(*symbols.FuncSymbol).IsReallyUsed {
		return
	}
	b.w.Label(funcLabel(symbols.CharToIntName))
	b.w.Emit("movzx rax, byte [rdi]")
	b.w.Emit("ret")
}

func (b *Native) VisitBlock(n *ast.Block) error {
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

func (b *Native) VisitVarDecl(n *ast.VarDecl) error {
	_, mem, err := b.variable(n.Tok, n.Name, b.scope.ID)
	if err != nil {
		return err
	}
	if n.Init != nil {
		if err := n.Init.Accept(b); err != nil {
			return err
		}
	} else {
		b.w.Emit("xor rax, rax")
	}
	b.w.Emit("mov %s, rax", mem)
	return nil
}

func (b *Native) VisitAssign(n *ast.Assign) error {
	_, mem, err := b.variable(n.Tok, n.Name, n.Scope)
	if err != nil {
		return err
	}
	if err := n.Value.Accept(b); err != nil {
		return err
	}
	b.w.Emit("mov %s, rax", mem)
	return nil
}

func (b *Native) VisitExprStmt(n *ast.ExprStmt) error { return n.X.Accept(b) }

// VisitIf emits one arm of an if/elif/else chain. All arms of a chain jump to
// the join label stored for the chain's nesting depth.
func (b *Native) VisitIf(n *ast.If) error {
	if !n.IsElif {
		b.ifDepth++
		if len(b.ifEnd) < b.ifDepth {
			b.ifEnd = append(b.ifEnd, "")
		}
		b.ifEnd[b.ifDepth-1] = b.labels.New("if_end")
	}
	end := b.ifEnd[b.ifDepth-1]
	next := b.labels.New("if_next")

	if err := n.Cond.Accept(b); err != nil {
		return err
	}
	b.w.Emit("cmp rax, 0")
	b.w.Emit("je %s", next)
	if err := n.Body.Accept(b); err != nil {
		return err
	}
	b.w.Emit("jmp %s", end)
	b.w.Label(next)
	if n.Else != nil {
		if err := n.Else.Accept(b); err != nil {
			return err
		}
	}

	if !n.IsElif {
		b.w.Label(end)
		b.ifEnd[b.ifDepth-1] = ""
		b.ifDepth--
	}
	return nil
}

func (b *Native) VisitFor(n *ast.For) error {
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
	start := b.labels.New("for_start")
	end := b.labels.New("for_end")
	b.w.Label(start)
	if err := n.Cond.Accept(b); err != nil {
		return err
	}
	b.w.Emit("cmp rax, 0")
	b.w.Emit("je %s", end)
	if err := b.visitStmts(n.Body.Stmts); err != nil {
		return err
	}
	if err := n.Update.Accept(b); err != nil {
		return err
	}
	b.w.Emit("jmp %s", start)
	b.w.Label(end)
	return nil
}

func (b *Native) VisitReturn(n *ast.Return) error {
	if b.fn == nil {
		return b.errorf(util.CatScope, n.Tok, "'return' outside of a function")
	}
	if n.Value != nil {
		if err := n.Value.Accept(b); err != nil {
			return err
		}
	} else {
		b.w.Emit("xor rax, rax")
	}
	b.w.Emit("jmp %s", b.retLabel)
	return nil
}

// Libraries are handed to the linker, nothing is emitted for the import itself.
func (b *Native) VisitSharedImport(n *ast.SharedImport) error { return nil }

func (b *Native) VisitEOF(n *ast.EOF) error { return nil }

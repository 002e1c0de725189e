package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/ir"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/util"
)

// QBE lowers the program to QBE IL and compiles it to assembly for cfg.QbeTarget.
type QBE struct {
	cfg  *config.Config
	syms *symbols.Manager
	log  *util.Logger

	out  *strings.Builder
	prog *ir.Program
}

func NewQBE(cfg *config.Config, syms *symbols.Manager, log *util.Logger) *QBE {
	return &QBE{cfg: cfg, syms: syms, log: log}
}

// GenerateIR returns the QBE IL text of prog.
func (b *QBE) GenerateIR(prog *ast.Program) (string, error) {
	lowered, err := newIRGen(b.cfg, b.syms).Lower(prog)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	b.out = &sb
	b.prog = lowered
	b.gen()
	b.log.Info("qbe backend: %d functions, %d data definitions", len(lowered.Funcs), len(lowered.Globals)+len(lowered.Strings))
	return sb.String(), nil
}

func (b *QBE) compileError(qbeIR string, err error) error {
	return fmt.Errorf("QBE compilation failed: %w\nGenerated IR:\n%s", err, qbeIR)
}

func (b *QBE) gen() {
	for _, g := range b.prog.Globals {
		b.genGlobal(g)
	}

	if len(b.prog.Strings) > 0 {
		b.out.WriteString("\n")
		for _, s := range b.prog.Strings {
			fmt.Fprintf(b.out, "data $%s = { b %s, b 0 }\n", s.Label, strconv.Quote(s.Value))
		}
	}

	for _, fn := range b.prog.Funcs {
		b.genFunc(fn)
	}
}

func (b *QBE) genGlobal(g *ir.Data) {
	alignStr := ""
	if g.Align > 0 {
		alignStr = fmt.Sprintf("align %d ", g.Align)
	}

	fmt.Fprintf(b.out, "data $%s = %s{ ", g.Name, alignStr)
	for i, item := range g.Items {
		if item.Count > 0 {
			fmt.Fprintf(b.out, "z %d", int64(item.Count)*ir.SizeOfType(item.Typ, b.prog.WordSize))
		} else {
			fmt.Fprintf(b.out, "%s %s", b.formatType(item.Typ), b.formatValue(item.Value, item.Typ))
		}
		if i < len(g.Items)-1 {
			b.out.WriteString(", ")
		}
	}
	b.out.WriteString(" }\n")
}

func (b *QBE) genFunc(fn *ir.Func) {
	linkage := ""
	if fn.Exported {
		linkage = "export "
	}
	retTypeStr := b.formatType(fn.ReturnType)
	if retTypeStr != "" {
		retTypeStr = " " + retTypeStr
	}

	fmt.Fprintf(b.out, "\n%sfunction%s $%s(", linkage, retTypeStr, fn.Name)
	for i, p := range fn.Params {
		fmt.Fprintf(b.out, "%s %s", b.formatType(p.Typ), b.formatValue(p.Val, p.Typ))
		if i < len(fn.Params)-1 {
			b.out.WriteString(", ")
		}
	}
	b.out.WriteString(") {\n")

	for _, block := range fn.Blocks {
		b.genBlock(block)
	}

	b.out.WriteString("}\n")
}

func (b *QBE) genBlock(block *ir.BasicBlock) {
	fmt.Fprintf(b.out, "@%s\n", block.Label.Name)
	for _, instr := range block.Instructions {
		b.genInstr(instr)
	}
}

// operandType is the type the instruction's inputs are read as.
func operandType(instr *ir.Instruction) ir.Type {
	if instr.OperandType != ir.TypeNone {
		return instr.OperandType
	}
	return instr.Typ
}

func (b *QBE) genInstr(instr *ir.Instruction) {
	b.out.WriteString("\t")
	if instr.Op == ir.OpCall {
		b.genCall(instr)
		return
	}

	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result, instr.Typ), b.formatType(instr.Typ))
	}
	b.out.WriteString(b.formatOp(instr))

	argType := operandType(instr)
	for i, arg := range instr.Args {
		typ := argType
		switch {
		case instr.Op == ir.OpLoad:
			typ = ir.TypeL
		case instr.Op == ir.OpStore && i == 1:
			typ = ir.TypeL
		case instr.Op == ir.OpExtSW:
			typ = ir.TypeW
		}
		b.out.WriteString(" ")
		b.out.WriteString(b.formatValue(arg, typ))
		if i < len(instr.Args)-1 {
			b.out.WriteString(",")
		}
	}
	b.out.WriteString("\n")
}

func (b *QBE) genCall(instr *ir.Instruction) {
	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result, instr.Typ), b.formatType(instr.Typ))
	}
	fmt.Fprintf(b.out, "call %s(", b.formatValue(instr.Args[0], ir.TypeL))

	var args []string
	for i, arg := range instr.Args[1:] {
		argType := instr.ArgTypes[i]
		args = append(args, b.formatType(argType)+" "+b.formatValue(arg, argType))
	}
	if instr.VariadicAt >= 0 && instr.VariadicAt <= len(args) {
		args = append(args[:instr.VariadicAt], append([]string{"..."}, args[instr.VariadicAt:]...)...)
	}
	b.out.WriteString(strings.Join(args, ", "))
	b.out.WriteString(")\n")
}

// formatValue spells v for an operand of type typ; plain numbers become d_
// constants where a double is expected.
func (b *QBE) formatValue(v ir.Value, typ ir.Type) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case *ir.Const:
		if typ == ir.TypeD {
			return "d_" + strconv.FormatFloat(float64(val.Value), 'g', -1, 64)
		}
		return val.String()
	case *ir.FloatConst:
		return "d_" + val.String()
	case *ir.Global:
		return "$" + val.Name
	case *ir.Temporary:
		if val.ID == -1 {
			return "%" + val.Name
		}
		return fmt.Sprintf("%%t%d", val.ID)
	case *ir.Label:
		return "@" + val.Name
	default:
		return ""
	}
}

func (b *QBE) formatType(t ir.Type) string {
	switch t {
	case ir.TypeB:
		return "b"
	case ir.TypeW:
		return "w"
	case ir.TypeL:
		return "l"
	case ir.TypeD:
		return "d"
	default:
		return ""
	}
}

var qbeCompare = map[ir.Op][2]string{
	ir.OpCEq:  {"ceq", "ceq"},
	ir.OpCNeq: {"cne", "cne"},
	ir.OpCLt:  {"cslt", "clt"},
	ir.OpCGt:  {"csgt", "cgt"},
	ir.OpCLe:  {"csle", "cle"},
	ir.OpCGe:  {"csge", "cge"},
}

func (b *QBE) formatOp(instr *ir.Instruction) string {
	argType := operandType(instr)
	if names, ok := qbeCompare[instr.Op]; ok {
		if argType == ir.TypeD {
			return names[1] + "d"
		}
		return names[0] + b.formatType(argType)
	}

	switch instr.Op {
	case ir.OpAlloc:
		if instr.Align <= 4 {
			return "alloc4"
		}
		if instr.Align <= 8 {
			return "alloc8"
		}
		return "alloc16"
	case ir.OpLoad:
		if instr.OperandType == ir.TypeB {
			return "loadub"
		}
		return "load" + b.formatType(instr.Typ)
	case ir.OpStore:
		return "store" + b.formatType(instr.Typ)
	case ir.OpAdd:
		return "add"
	case ir.OpSub:
		return "sub"
	case ir.OpMul:
		return "mul"
	case ir.OpDiv:
		return "div"
	case ir.OpAnd:
		return "and"
	case ir.OpOr:
		return "or"
	case ir.OpNeg:
		return "neg"
	case ir.OpExtSW:
		return "extsw"
	case ir.OpCopy:
		return "copy"
	case ir.OpJmp:
		return "jmp"
	case ir.OpJnz:
		return "jnz"
	case ir.OpRet:
		return "ret"
	default:
		return "unknown_op"
	}
}

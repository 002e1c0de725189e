// Package ir holds the three-address form the QBE backend prints. Every
// malanka value is either a long (int, str, pointers, addresses) or a double.
package ir

import "strconv"

type Op int

const (
	OpAlloc Op = iota
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpNeg
	OpCEq
	OpCNeq
	OpCLt
	OpCGt
	OpCLe
	OpCGe
	OpExtSW
	OpCopy
	OpJmp
	OpJnz
	OpRet
	OpCall
)

type Type int

const (
	TypeNone Type = iota
	TypeB         // byte, data definitions only
	TypeW         // word (32-bit)
	TypeL         // long (64-bit)
	TypeD         // double float (64-bit)
)

type Value interface {
	isValue()
	String() string
}

type Const struct{ Value int64 }
type FloatConst struct{ Value float64 }
type Global struct{ Name string }

// Temporary is a function-local SSA name. ID -1 keeps Name as written, which
// is how parameters are spelled.
type Temporary struct {
	Name string
	ID   int
}
type Label struct{ Name string }

func (c *Const) isValue()      {}
func (f *FloatConst) isValue() {}
func (g *Global) isValue()     {}
func (t *Temporary) isValue()  {}
func (l *Label) isValue()      {}

func (c *Const) String() string      { return strconv.FormatInt(c.Value, 10) }
func (f *FloatConst) String() string { return strconv.FormatFloat(f.Value, 'g', -1, 64) }
func (g *Global) String() string     { return g.Name }
func (t *Temporary) String() string  { return t.Name }
func (l *Label) String() string      { return l.Name }

type Func struct {
	Name       string
	Exported   bool
	Params     []*Param
	ReturnType Type
	Blocks     []*BasicBlock
}

type Param struct {
	Name string
	Typ  Type
	Val  Value
}

type BasicBlock struct {
	Label        *Label
	Instructions []*Instruction
}

// Terminated reports whether the block already ends in a jump or return.
func (bb *BasicBlock) Terminated() bool {
	if len(bb.Instructions) == 0 {
		return false
	}
	switch bb.Instructions[len(bb.Instructions)-1].Op {
	case OpJmp, OpJnz, OpRet:
		return true
	}
	return false
}

type Instruction struct {
	// Typ is the result type, or the stored type for OpStore.
	Typ Type
	Op  Op
	// OperandType selects the comparison flavour when it differs from Typ.
	OperandType Type
	Result      Value
	Args        []Value
	ArgTypes    []Type
	Align       int
	// VariadicAt places the "..." marker before the call argument with this
	// index; -1 means the callee is not variadic.
	VariadicAt int
}

type Program struct {
	Globals  []*Data
	Strings  []*StringData
	Funcs    []*Func
	WordSize int
}

type StringData struct {
	Label string
	Value string
}

type Data struct {
	Name  string
	Align int
	Items []DataItem
}

// DataItem is either a typed value or, with Count > 0, Count zeroed cells of Typ.
type DataItem struct {
	Typ   Type
	Value Value
	Count int
}

func SizeOfType(t Type, wordSize int) int64 {
	switch t {
	case TypeB:
		return 1
	case TypeW:
		return 4
	case TypeL, TypeD:
		return 8
	default:
		return int64(wordSize)
	}
}

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

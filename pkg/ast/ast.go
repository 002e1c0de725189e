// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
)

// Node is implemented by every AST node. The set of nodes is closed: every
// Visitor handles each of them.
type Node interface {
	Accept(v Visitor) error
	Pos() token.Token
}

// Expr is a node producing a value. Its type is filled in by the semantic analyzer.
type Expr interface {
	Node
	Type() *symbols.Type
	SetType(t symbols.Type)
}

type exprBase struct {
	Tok token.Token
	Typ *symbols.Type // Set by the semantic analyzer
}

func (e *exprBase) Pos() token.Token      { return e.Tok }
func (e *exprBase) Type() *symbols.Type   { return e.Typ }
func (e *exprBase) SetType(t symbols.Type) { e.Typ = &t }

// TypeRef is a type as written in the source: a name, optionally behind '*'.
type TypeRef struct {
	Tok       token.Token
	Name      string
	IsPointer bool
}

func (r TypeRef) String() string {
	if r.IsPointer {
		return "*" + r.Name
	}
	return r.Name
}

type LitKind int

const (
	LitInt LitKind = iota
	LitDouble
	LitString
)

// --- Expressions ---

type Literal struct {
	exprBase
	Kind  LitKind
	Int   int64
	Float float64
	Str   string
	Raw   string
}

// VarRef names a variable. Scope is the block identity of the declaring scope,
// recorded during analysis.
type VarRef struct {
	exprBase
	Name  string
	Scope int
}

type BinaryOp struct {
	exprBase
	Op          token.Type
	Left, Right Expr
}

type UnaryOp struct {
	exprBase
	Op      token.Type
	Operand Expr
}

type AddressOf struct {
	exprBase
	Name  string
	Scope int
}

// Deref is the postfix dereference `p*`.
type Deref struct {
	exprBase
	Operand Expr
}

type ArrayMember struct {
	exprBase
	Name    string
	Indices []Expr
	Scope   int
}

type ArrayLiteral struct {
	exprBase
	Elems []Expr
}

type FuncCall struct {
	exprBase
	Name string
	Args []Expr
}

// --- Statements ---

type stmtBase struct{ Tok token.Token }

func (s *stmtBase) Pos() token.Token { return s.Tok }

type Program struct {
	stmtBase
	Body *Block
}

// Block is a statement list with its own scope. ID is assigned by the parser and
// keys the scope in the symbol manager.
type Block struct {
	stmtBase
	ID    int
	Stmts []Node
}

type VarDecl struct {
	stmtBase
	Name    string
	TypeRef TypeRef
	Init    Expr
}

type ArrayDecl struct {
	stmtBase
	Name    string
	Dims    []int
	TypeRef TypeRef
	Init    *ArrayLiteral
}

type Assign struct {
	stmtBase
	Name  string
	Value Expr
	Scope int
}

type ArrayMemberAssign struct {
	stmtBase
	Name    string
	Indices []Expr
	Value   Expr
	Scope   int
}

// If is an if or elif arm. Else is nil, another *If (IsElif set) or a *Block.
type If struct {
	stmtBase
	Cond   Expr
	Body   *Block
	Else   Node
	IsElif bool
}

// For runs Init once, then Body and Update while Cond is non-zero. Init, Cond and
// Update live in Body's scope.
type For struct {
	stmtBase
	Init   Node
	Cond   Expr
	Update Node
	Body   *Block
}

type Param struct {
	Tok     token.Token
	Name    string
	TypeRef TypeRef
}

type FuncDecl struct {
	stmtBase
	Name   string
	Params []Param
	Return TypeRef
	Body   *Block
}

type Return struct {
	stmtBase
	Value Expr
}

// SharedImport is `dynamic "path"`.
type SharedImport struct {
	stmtBase
	Path string
}

type ExprStmt struct {
	stmtBase
	X Expr
}

type EOF struct{ stmtBase }

// --- Node Constructors ---

func NewLiteral(tok token.Token, kind LitKind) *Literal {
	return &Literal{exprBase: exprBase{Tok: tok}, Kind: kind, Raw: tok.Value}
}
func NewVarRef(tok token.Token, name string) *VarRef {
	return &VarRef{exprBase: exprBase{Tok: tok}, Name: name}
}
func NewBinaryOp(tok token.Token, op token.Type, left, right Expr) *BinaryOp {
	return &BinaryOp{exprBase: exprBase{Tok: tok}, Op: op, Left: left, Right: right}
}
func NewUnaryOp(tok token.Token, op token.Type, operand Expr) *UnaryOp {
	return &UnaryOp{exprBase: exprBase{Tok: tok}, Op: op, Operand: operand}
}
func NewAddressOf(tok token.Token, name string) *AddressOf {
	return &AddressOf{exprBase: exprBase{Tok: tok}, Name: name}
}
func NewDeref(tok token.Token, operand Expr) *Deref {
	return &Deref{exprBase: exprBase{Tok: tok}, Operand: operand}
}
func NewArrayMember(tok token.Token, name string, indices []Expr) *ArrayMember {
	return &ArrayMember{exprBase: exprBase{Tok: tok}, Name: name, Indices: indices}
}
func NewArrayLiteral(tok token.Token, elems []Expr) *ArrayLiteral {
	return &ArrayLiteral{exprBase: exprBase{Tok: tok}, Elems: elems}
}
func NewFuncCall(tok token.Token, name string, args []Expr) *FuncCall {
	return &FuncCall{exprBase: exprBase{Tok: tok}, Name: name, Args: args}
}

func NewProgram(tok token.Token, body *Block) *Program {
	return &Program{stmtBase: stmtBase{tok}, Body: body}
}
func NewBlock(tok token.Token, id int, stmts []Node) *Block {
	return &Block{stmtBase: stmtBase{tok}, ID: id, Stmts: stmts}
}
func NewVarDecl(tok token.Token, name string, ref TypeRef, init Expr) *VarDecl {
	return &VarDecl{stmtBase: stmtBase{tok}, Name: name, TypeRef: ref, Init: init}
}
func NewArrayDecl(tok token.Token, name string, dims []int, ref TypeRef, init *ArrayLiteral) *ArrayDecl {
	return &ArrayDecl{stmtBase: stmtBase{tok}, Name: name, Dims: dims, TypeRef: ref, Init: init}
}
func NewAssign(tok token.Token, name string, value Expr) *Assign {
	return &Assign{stmtBase: stmtBase{tok}, Name: name, Value: value}
}
func NewArrayMemberAssign(tok token.Token, name string, indices []Expr, value Expr) *ArrayMemberAssign {
	return &ArrayMemberAssign{stmtBase: stmtBase{tok}, Name: name, Indices: indices, Value: value}
}
func NewIf(tok token.Token, cond Expr, body *Block, elseNode Node, isElif bool) *If {
	return &If{stmtBase: stmtBase{tok}, Cond: cond, Body: body, Else: elseNode, IsElif: isElif}
}
func NewFor(tok token.Token, init Node, cond Expr, update Node, body *Block) *For {
	return &For{stmtBase: stmtBase{tok}, Init: init, Cond: cond, Update: update, Body: body}
}
func NewFuncDecl(tok token.Token, name string, params []Param, ret TypeRef, body *Block) *FuncDecl {
	return &FuncDecl{stmtBase: stmtBase{tok}, Name: name, Params: params, Return: ret, Body: body}
}
func NewReturn(tok token.Token, value Expr) *Return {
	return &Return{stmtBase: stmtBase{tok}, Value: value}
}
func NewSharedImport(tok token.Token, path string) *SharedImport {
	return &SharedImport{stmtBase: stmtBase{tok}, Path: path}
}
func NewExprStmt(tok token.Token, x Expr) *ExprStmt {
	return &ExprStmt{stmtBase: stmtBase{tok}, X: x}
}
func NewEOF(tok token.Token) *EOF { return &EOF{stmtBase{tok}} }

// IsLeaf reports whether evaluating e only touches the accumulator register:
// literals, variable references and single-level address-of or dereference of a variable.
func IsLeaf(e Expr) bool {
	switch n := e.(type) {
	case *Literal, *VarRef, *AddressOf:
		return true
	case *Deref:
		_, ok := n.Operand.(*VarRef)
		return ok
	}
	return false
}

// ContainsCall reports whether a function call appears anywhere inside e.
func ContainsCall(e Expr) bool {
	switch n := e.(type) {
	case *FuncCall:
		return true
	case *BinaryOp:
		return ContainsCall(n.Left) || ContainsCall(n.Right)
	case *UnaryOp:
		return ContainsCall(n.Operand)
	case *Deref:
		return ContainsCall(n.Operand)
	case *ArrayMember:
		for _, idx := range n.Indices {
			if ContainsCall(idx) {
				return true
			}
		}
	case *ArrayLiteral:
		for _, el := range n.Elems {
			if ContainsCall(el) {
				return true
			}
		}
	}
	return false
}

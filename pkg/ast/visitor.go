package ast

// Visitor is implemented by each pass over the tree. Adding a node kind means
// adding a method here, which every pass must then implement.
type Visitor interface {
	VisitProgram(n *Program) error
	VisitBlock(n *Block) error
	VisitVarDecl(n *VarDecl) error
	VisitArrayDecl(n *ArrayDecl) error
	VisitArrayLiteral(n *ArrayLiteral) error
	VisitAssign(n *Assign) error
	VisitArrayMemberAssign(n *ArrayMemberAssign) error
	VisitBinaryOp(n *BinaryOp) error
	VisitUnaryOp(n *UnaryOp) error
	VisitAddressOf(n *AddressOf) error
	VisitDeref(n *Deref) error
	VisitLiteral(n *Literal) error
	VisitVarRef(n *VarRef) error
	VisitArrayMember(n *ArrayMember) error
	VisitIf(n *If) error
	VisitFor(n *For) error
	VisitFuncDecl(n *FuncDecl) error
	VisitFuncCall(n *FuncCall) error
	VisitReturn(n *Return) error
	VisitSharedImport(n *SharedImport) error
	VisitExprStmt(n *ExprStmt) error
	VisitEOF(n *EOF) error
}

func (n *Program) Accept(v Visitor) error           { return v.VisitProgram(n) }
func (n *Block) Accept(v Visitor) error             { return v.VisitBlock(n) }
func (n *VarDecl) Accept(v Visitor) error           { return v.VisitVarDecl(n) }
func (n *ArrayDecl) Accept(v Visitor) error         { return v.VisitArrayDecl(n) }
func (n *ArrayLiteral) Accept(v Visitor) error      { return v.VisitArrayLiteral(n) }
func (n *Assign) Accept(v Visitor) error            { return v.VisitAssign(n) }
func (n *ArrayMemberAssign) Accept(v Visitor) error { return v.VisitArrayMemberAssign(n) }
func (n *BinaryOp) Accept(v Visitor) error          { return v.VisitBinaryOp(n) }
func (n *UnaryOp) Accept(v Visitor) error           { return v.VisitUnaryOp(n) }
func (n *AddressOf) Accept(v Visitor) error         { return v.VisitAddressOf(n) }
func (n *Deref) Accept(v Visitor) error             { return v.VisitDeref(n) }
func (n *Literal) Accept(v Visitor) error           { return v.VisitLiteral(n) }
func (n *VarRef) Accept(v Visitor) error            { return v.VisitVarRef(n) }
func (n *ArrayMember) Accept(v Visitor) error       { return v.VisitArrayMember(n) }
func (n *If) Accept(v Visitor) error                { return v.VisitIf(n) }
func (n *For) Accept(v Visitor) error               { return v.VisitFor(n) }
func (n *FuncDecl) Accept(v Visitor) error          { return v.VisitFuncDecl(n) }
func (n *FuncCall) Accept(v Visitor) error          { return v.VisitFuncCall(n) }
func (n *Return) Accept(v Visitor) error            { return v.VisitReturn(n) }
func (n *SharedImport) Accept(v Visitor) error      { return v.VisitSharedImport(n) }
func (n *ExprStmt) Accept(v Visitor) error          { return v.VisitExprStmt(n) }
func (n *EOF) Accept(v Visitor) error               { return v.VisitEOF(n) }

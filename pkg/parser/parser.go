package parser

import (
	"strconv"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

type bailout struct{ err error }

// Parser holds the state for the parsing process
type Parser struct {
	tokens      []token.Token
	pos         int
	current     token.Token
	previous    token.Token
	nextBlockID int
}

// NewParser creates and initializes a new Parser from a token stream
func NewParser(tokens []token.Token) *Parser {
	p := &Parser{tokens: tokens, pos: 0, nextBlockID: symbols.GlobalScopeID}
	if len(tokens) > 0 {
		p.current = p.tokens[0]
	}
	return p
}

// Parse builds the program tree. The top-level block always gets
// symbols.GlobalScopeID, nested blocks get increasing identities in source order.
func (p *Parser) Parse() (prog *ast.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()
	if len(p.tokens) == 0 {
		p.tokens = []token.Token{{Type: token.EOF}}
		p.current = p.tokens[0]
	}

	tok := p.current
	body := ast.NewBlock(tok, p.newBlockID(), nil)
	for {
		for p.match(token.Newline) {
		}
		if p.check(token.EOF) {
			break
		}
		body.Stmts = append(body.Stmts, p.parseStmt())
	}
	body.Stmts = append(body.Stmts, ast.NewEOF(p.current))
	return ast.NewProgram(tok, body), nil
}

func (p *Parser) fail(tok token.Token, format string, args ...any) {
	panic(bailout{util.Errorf(util.CompParser, util.CatSyntax, tok, format, args...)})
}

func (p *Parser) newBlockID() int {
	id := p.nextBlockID
	p.nextBlockID++
	return id
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.previous = p.current
		p.pos++
		if p.pos < len(p.tokens) {
			p.current = p.tokens[p.pos]
		}
	}
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, message string) token.Token {
	if p.check(tokType) {
		tok := p.current
		p.advance()
		return tok
	}
	p.fail(p.current, "%s, got '%s'", message, describe(p.current))
	return token.Token{}
}

func describe(tok token.Token) string {
	if tok.Value != "" && (tok.Type == token.Ident || tok.Type == token.Number || tok.Type == token.FloatNumber) {
		return tok.Value
	}
	return tok.Type.String()
}

func (p *Parser) endOfStmt() {
	if p.match(token.Newline) || p.check(token.EOF) || p.check(token.Dedent) {
		return
	}
	p.fail(p.current, "Expected end of statement, got '%s'", describe(p.current))
}

// Statement Parsing
func (p *Parser) parseStmt() ast.Node {
	tok := p.current
	switch tok.Type {
	case token.Dynamic:
		p.advance()
		path := p.expect(token.String, "Expected a library path string after 'dynamic'")
		p.endOfStmt()
		return ast.NewSharedImport(tok, path.Value)
	case token.Def:
		return p.parseFuncDecl()
	case token.If:
		return p.parseIf(false)
	case token.For:
		return p.parseFor()
	case token.Return:
		p.advance()
		var value ast.Expr
		if !p.check(token.Newline) && !p.check(token.EOF) && !p.check(token.Dedent) {
			value = p.parseExpr()
		}
		p.endOfStmt()
		return ast.NewReturn(tok, value)
	case token.Indent:
		p.fail(tok, "Unexpected indentation")
	case token.Elif, token.Else:
		p.fail(tok, "'%s' without a matching 'if'", tok.Type)
	}
	stmt := p.parseSimpleStmt()
	p.endOfStmt()
	return stmt
}

// parseSimpleStmt parses declarations, assignments and expression statements.
// All of them start with an expression; what follows it decides the kind.
func (p *Parser) parseSimpleStmt() ast.Node {
	tok := p.current
	target := p.parseExpr()

	switch {
	case p.check(token.At):
		p.advance()
		ref := p.parseTypeRef()
		switch t := target.(type) {
		case *ast.VarRef:
			var init ast.Expr
			if p.match(token.Eq) {
				init = p.parseExpr()
			}
			return ast.NewVarDecl(tok, t.Name, ref, init)
		case *ast.ArrayMember:
			dims := make([]int, len(t.Indices))
			for i, idx := range t.Indices {
				lit, ok := idx.(*ast.Literal)
				if !ok || lit.Kind != ast.LitInt || lit.Int <= 0 {
					p.fail(idx.Pos(), "Array dimensions must be positive integer literals")
				}
				dims[i] = int(lit.Int)
			}
			var init *ast.ArrayLiteral
			if p.match(token.Eq) {
				lit, ok := p.parseExpr().(*ast.ArrayLiteral)
				if !ok {
					p.fail(p.previous, "Arrays can only be initialized with an array literal")
				}
				init = lit
			}
			return ast.NewArrayDecl(tok, t.Name, dims, ref, init)
		}
		p.fail(tok, "Only a name can be declared")
	case p.check(token.Eq):
		eqTok := p.current
		p.advance()
		value := p.parseExpr()
		switch t := target.(type) {
		case *ast.VarRef:
			return ast.NewAssign(tok, t.Name, value)
		case *ast.ArrayMember:
			return ast.NewArrayMemberAssign(tok, t.Name, t.Indices, value)
		}
		p.fail(eqTok, "Invalid assignment target")
	}
	return ast.NewExprStmt(tok, target)
}

func (p *Parser) parseTypeRef() ast.TypeRef {
	tok := p.current
	isPointer := p.match(token.Star)
	name := p.expect(token.Ident, "Expected a type name")
	return ast.TypeRef{Tok: tok, Name: name.Value, IsPointer: isPointer}
}

// parseBlock parses ':' NEWLINE INDENT statements DEDENT.
func (p *Parser) parseBlock() *ast.Block {
	tok := p.expect(token.Colon, "Expected ':' before block")
	p.expect(token.Newline, "Expected a newline after ':'")
	p.expect(token.Indent, "Expected an indented block")
	block := ast.NewBlock(tok, p.newBlockID(), nil)
	for !p.check(token.Dedent) && !p.check(token.EOF) {
		if p.match(token.Newline) {
			continue
		}
		block.Stmts = append(block.Stmts, p.parseStmt())
	}
	p.match(token.Dedent)
	return block
}

func (p *Parser) parseIf(isElif bool) *ast.If {
	tok := p.current
	p.advance()
	cond := p.parseExpr()
	body := p.parseBlock()

	var elseNode ast.Node
	switch {
	case p.check(token.Elif):
		elseNode = p.parseIf(true)
	case p.match(token.Else):
		elseNode = p.parseBlock()
	}
	return ast.NewIf(tok, cond, body, elseNode, isElif)
}

func (p *Parser) parseFor() *ast.For {
	tok := p.current
	p.advance()
	init := p.parseSimpleStmt()
	p.expect(token.Comma, "Expected ',' after the loop initializer")
	cond := p.parseExpr()
	p.expect(token.Comma, "Expected ',' after the loop condition")
	update := p.parseSimpleStmt()
	body := p.parseBlock()
	return ast.NewFor(tok, init, cond, update, body)
}

func (p *Parser) parseFuncDecl() *ast.FuncDecl {
	tok := p.current
	p.advance()
	name := p.expect(token.Ident, "Expected a function name after 'def'")
	p.expect(token.LParen, "Expected '(' after the function name")

	var params []ast.Param
	if !p.check(token.RParen) {
		for {
			ptok := p.expect(token.Ident, "Expected a parameter name")
			p.expect(token.At, "Expected '@' and a type after the parameter name")
			params = append(params, ast.Param{Tok: ptok, Name: ptok.Value, TypeRef: p.parseTypeRef()})
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen, "Expected ')' after the parameters")

	ret := ast.TypeRef{Tok: p.current, Name: string(symbols.Void)}
	if p.match(token.At) {
		ret = p.parseTypeRef()
	}
	body := p.parseBlock()
	return ast.NewFuncDecl(tok, name.Value, params, ret, body)
}

// Expression Parsing
func getBinaryOpPrecedence(op token.Type) int {
	switch op {
	case token.Star, token.Slash:
		return 5
	case token.Plus, token.Minus:
		return 4
	case token.EqEq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		return 3
	case token.And:
		return 2
	case token.Or:
		return 1
	default:
		return -1
	}
}

func (p *Parser) parseExpr() ast.Expr { return p.parseBinaryExpr(1) }

func (p *Parser) parseBinaryExpr(minPrec int) ast.Expr {
	left := p.parseUnaryExpr()
	for {
		op := p.current.Type
		prec := getBinaryOpPrecedence(op)
		if prec < minPrec {
			return left
		}
		tok := p.current
		p.advance()
		right := p.parseBinaryExpr(prec + 1)
		left = ast.NewBinaryOp(tok, op, left, right)
	}
}

func (p *Parser) parseUnaryExpr() ast.Expr {
	tok := p.current
	switch {
	case p.match(token.Minus), p.match(token.Plus):
		return ast.NewUnaryOp(tok, tok.Type, p.parseUnaryExpr())
	case p.match(token.Amp):
		name := p.expect(token.Ident, "Expected a name after '&'")
		return ast.NewAddressOf(tok, name.Value)
	}
	return p.parsePostfixExpr()
}

// canStartOperand decides whether a '*' after an operand is a multiplication.
func canStartOperand(t token.Type) bool {
	switch t {
	case token.Number, token.FloatNumber, token.String, token.Ident, token.LParen, token.Amp:
		return true
	}
	return false
}

func (p *Parser) parsePostfixExpr() ast.Expr {
	expr := p.parsePrimaryExpr()
	for {
		tok := p.current
		switch {
		case p.check(token.LParen):
			ref, ok := expr.(*ast.VarRef)
			if !ok {
				p.fail(tok, "Only named functions can be called")
			}
			p.advance()
			var args []ast.Expr
			if !p.check(token.RParen) {
				for {
					args = append(args, p.parseExpr())
					if !p.match(token.Comma) {
						break
					}
				}
			}
			p.expect(token.RParen, "Expected ')' after the arguments")
			expr = ast.NewFuncCall(ref.Tok, ref.Name, args)
		case p.check(token.LBracket):
			p.advance()
			idx := p.parseExpr()
			p.expect(token.RBracket, "Expected ']' after the index")
			switch t := expr.(type) {
			case *ast.VarRef:
				expr = ast.NewArrayMember(t.Tok, t.Name, []ast.Expr{idx})
			case *ast.ArrayMember:
				t.Indices = append(t.Indices, idx)
			default:
				p.fail(tok, "Only named arrays can be indexed")
			}
		case p.check(token.Star) && !canStartOperand(p.peek().Type):
			p.advance()
			expr = ast.NewDeref(tok, expr)
		default:
			return expr
		}
	}
}

func (p *Parser) parsePrimaryExpr() ast.Expr {
	tok := p.current
	switch {
	case p.match(token.Number):
		lit := ast.NewLiteral(tok, ast.LitInt)
		val, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			p.fail(tok, "Integer literal %s is out of range", tok.Value)
		}
		lit.Int = val
		return lit
	case p.match(token.FloatNumber):
		lit := ast.NewLiteral(tok, ast.LitDouble)
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			p.fail(tok, "Invalid double literal %s", tok.Value)
		}
		lit.Float = val
		return lit
	case p.match(token.String):
		lit := ast.NewLiteral(tok, ast.LitString)
		lit.Str = tok.Value
		return lit
	case p.match(token.Ident):
		return ast.NewVarRef(tok, tok.Value)
	case p.match(token.LParen):
		expr := p.parseExpr()
		p.expect(token.RParen, "Expected ')' after expression")
		return expr
	case p.match(token.LBracket):
		var elems []ast.Expr
		if !p.check(token.RBracket) {
			for {
				elems = append(elems, p.parseExpr())
				if !p.match(token.Comma) {
					break
				}
			}
		}
		p.expect(token.RBracket, "Expected ']' after the array literal")
		return ast.NewArrayLiteral(tok, elems)
	}
	p.fail(tok, "Unexpected token '%s' in expression", describe(tok))
	return nil
}

package lexer

import (
	"strings"
	"unicode"

	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

// tabWidth is the indentation width a tab counts for.
const tabWidth = 4

type bailout struct{ err error }

type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int

	indents       []int
	pending       []token.Token
	parenDepth    int
	atLineStart   bool
	lineHasTokens bool
}

func NewLexer(source []rune, fileIndex int) *Lexer {
	return &Lexer{
		source: source, fileIndex: fileIndex, line: 1, column: 1,
		indents: []int{0}, atLineStart: true,
	}
}

// Tokenize scans the whole source and returns the token stream terminated by EOF.
// Logical lines end with NEWLINE; changes in indentation produce INDENT and DEDENT.
func (l *Lexer) Tokenize() (toks []token.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			toks, err = nil, b.err
		}
	}()
	for {
		for len(l.pending) == 0 {
			l.scan()
		}
		tok := l.pending[0]
		l.pending = l.pending[1:]
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks, nil
		}
	}
}

func (l *Lexer) fail(tok token.Token, format string, args ...any) {
	panic(bailout{util.Errorf(util.CompLexer, util.CatLexical, tok, format, args...)})
}

func (l *Lexer) emit(tok token.Token) { l.pending = append(l.pending, tok) }

func (l *Lexer) scan() {
	if l.atLineStart && l.parenDepth == 0 {
		l.atLineStart = false
		l.indentation()
		return
	}

	l.skipSpaces()
	startPos, startCol, startLine := l.pos, l.column, l.line

	if l.isAtEnd() {
		if l.lineHasTokens {
			l.lineHasTokens = false
			l.emit(l.makeToken(token.Newline, "", startPos, startCol, startLine))
		}
		for len(l.indents) > 1 {
			l.indents = l.indents[:len(l.indents)-1]
			l.emit(l.makeToken(token.Dedent, "", startPos, startCol, startLine))
		}
		l.emit(l.makeToken(token.EOF, "", startPos, startCol, startLine))
		return
	}

	ch := l.peek()
	if ch == '/' && l.peekNext() == '/' {
		l.lineComment()
		return
	}
	if ch == '\n' {
		l.advance()
		if l.parenDepth > 0 {
			return
		}
		if l.lineHasTokens {
			l.emit(token.Token{Type: token.Newline, FileIndex: l.fileIndex, Line: startLine, Column: startCol, Len: 1})
		}
		l.lineHasTokens = false
		l.atLineStart = true
		return
	}

	l.lineHasTokens = true
	l.emit(l.lexToken(ch, startPos, startCol, startLine))
}

// indentation measures the leading whitespace of a new line and queues the
// INDENT or DEDENT tokens it implies. Blank and comment-only lines are skipped.
func (l *Lexer) indentation() {
	startPos, startCol, startLine := l.pos, l.column, l.line
	width := 0
measure:
	for !l.isAtEnd() {
		switch l.peek() {
		case ' ':
			width++
		case '\t':
			width += tabWidth
		case '\r':
		default:
			break measure
		}
		l.advance()
	}
	if l.isAtEnd() {
		return
	}
	if l.peek() == '/' && l.peekNext() == '/' {
		l.lineComment()
	}
	if l.peek() == '\n' {
		l.advance()
		l.atLineStart = true
		return
	}

	top := l.indents[len(l.indents)-1]
	if width > top {
		l.indents = append(l.indents, width)
		l.emit(l.makeToken(token.Indent, "", startPos, startCol, startLine))
		return
	}
	for width < top {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(l.makeToken(token.Dedent, "", startPos, startCol, startLine))
		top = l.indents[len(l.indents)-1]
	}
	if width != top {
		l.fail(l.makeToken(token.Dedent, "", startPos, startCol, startLine), "Inconsistent dedent: indentation of width %d matches no enclosing block", width)
	}
}

func (l *Lexer) lexToken(ch rune, startPos, startCol, startLine int) token.Token {
	if unicode.IsLetter(ch) || ch == '_' {
		l.advance()
		return l.identifierOrKeyword(startPos, startCol, startLine)
	}
	if unicode.IsDigit(ch) {
		return l.numberLiteral(startPos, startCol, startLine)
	}

	l.advance()
	switch ch {
	case '(', '[':
		l.parenDepth++
		if ch == '(' {
			return l.makeToken(token.LParen, "", startPos, startCol, startLine)
		}
		return l.makeToken(token.LBracket, "", startPos, startCol, startLine)
	case ')', ']':
		if l.parenDepth > 0 {
			l.parenDepth--
		}
		if ch == ')' {
			return l.makeToken(token.RParen, "", startPos, startCol, startLine)
		}
		return l.makeToken(token.RBracket, "", startPos, startCol, startLine)
	case ',':
		return l.makeToken(token.Comma, "", startPos, startCol, startLine)
	case ':':
		return l.makeToken(token.Colon, "", startPos, startCol, startLine)
	case '@':
		return l.makeToken(token.At, "", startPos, startCol, startLine)
	case '&':
		return l.makeToken(token.Amp, "", startPos, startCol, startLine)
	case '+':
		return l.makeToken(token.Plus, "", startPos, startCol, startLine)
	case '-':
		return l.makeToken(token.Minus, "", startPos, startCol, startLine)
	case '*':
		return l.makeToken(token.Star, "", startPos, startCol, startLine)
	case '/':
		return l.makeToken(token.Slash, "", startPos, startCol, startLine)
	case '=':
		return l.matchThen('=', token.EqEq, token.Eq, startPos, startCol, startLine)
	case '<':
		return l.matchThen('=', token.Lte, token.Lt, startPos, startCol, startLine)
	case '>':
		return l.matchThen('=', token.Gte, token.Gt, startPos, startCol, startLine)
	case '!':
		if l.match('=') {
			return l.makeToken(token.Neq, "", startPos, startCol, startLine)
		}
	case '"':
		return l.stringLiteral(startPos, startCol, startLine)
	}

	tok := l.makeToken(token.EOF, "", startPos, startCol, startLine)
	l.fail(tok, "Unexpected character: '%c'", ch)
	return tok
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value, FileIndex: l.fileIndex,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) skipSpaces() {
	for c := l.peek(); c == ' ' || c == '\t' || c == '\r'; c = l.peek() {
		l.advance()
	}
}

func (l *Lexer) lineComment() {
	for !l.isAtEnd() && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		return l.makeToken(tokType, "", startPos, startCol, startLine)
	}
	return l.makeToken(token.Ident, value, startPos, startCol, startLine)
}

func (l *Lexer) numberLiteral(startPos, startCol, startLine int) token.Token {
	for unicode.IsDigit(l.peek()) {
		l.advance()
	}
	tokType := token.Number
	if l.peek() == '.' && unicode.IsDigit(l.peekNext()) {
		tokType = token.FloatNumber
		l.advance()
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if unicode.IsLetter(l.peek()) || l.peek() == '_' {
		tok := l.makeToken(tokType, "", startPos, startCol, startLine)
		l.fail(tok, "Invalid number literal: %s%c", string(l.source[startPos:l.pos]), l.peek())
	}
	return l.makeToken(tokType, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
}

func (l *Lexer) stringLiteral(startPos, startCol, startLine int) token.Token {
	var sb strings.Builder
	for !l.isAtEnd() && l.peek() != '\n' {
		c := l.advance()
		if c == '"' {
			return l.makeToken(token.String, sb.String(), startPos, startCol, startLine)
		}
		if c != '\\' {
			sb.WriteRune(c)
			continue
		}
		sb.WriteRune(l.decodeEscape(startPos, startCol, startLine))
	}
	l.fail(l.makeToken(token.String, "", startPos, startCol, startLine), "Unterminated string literal")
	return token.Token{}
}

var escapes = map[rune]rune{
	'n': '\n', 't': '\t', 'r': '\r', '\\': '\\', '"': '"', '0': 0,
}

func (l *Lexer) decodeEscape(startPos, startCol, startLine int) rune {
	if l.isAtEnd() || l.peek() == '\n' {
		l.fail(l.makeToken(token.String, "", startPos, startCol, startLine), "Unterminated escape sequence")
	}
	c := l.advance()
	if r, ok := escapes[c]; ok {
		return r
	}
	l.fail(l.makeToken(token.String, "", startPos, startCol, startLine), "Unrecognized escape sequence '\\%c'", c)
	return 0
}

func (l *Lexer) matchThen(expected rune, thenType, elseType token.Type, sPos, sCol, sLine int) token.Token {
	if l.match(expected) {
		return l.makeToken(thenType, "", sPos, sCol, sLine)
	}
	return l.makeToken(elseType, "", sPos, sCol, sLine)
}

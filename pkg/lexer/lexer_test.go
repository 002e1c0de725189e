package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nalgeon/be"

	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

func lexTypes(t *testing.T, src string) []token.Type {
	t.Helper()
	toks, err := NewLexer([]rune(src), 0).Tokenize()
	be.Err(t, err, nil)
	types := make([]token.Type, len(toks))
	for i, tok := range toks {
		types[i] = tok.Type
	}
	return types
}

func TestDeclaration(t *testing.T) {
	toks, err := NewLexer([]rune("x@int = 42"), 0).Tokenize()
	be.Err(t, err, nil)
	be.Equal(t, len(toks), 7)
	be.Equal(t, toks[0].Type, token.Ident)
	be.Equal(t, toks[0].Value, "x")
	be.Equal(t, toks[1].Type, token.At)
	be.Equal(t, toks[2].Value, "int")
	be.Equal(t, toks[3].Type, token.Eq)
	be.Equal(t, toks[4].Type, token.Number)
	be.Equal(t, toks[4].Value, "42")
	be.Equal(t, toks[4].Column, 9)
	be.Equal(t, toks[5].Type, token.Newline)
	be.Equal(t, toks[6].Type, token.EOF)
}

func TestOperators(t *testing.T) {
	got := lexTypes(t, "== != <= >= < > = + - * / & , : ( ) [ ]")
	want := []token.Type{
		token.EqEq, token.Neq, token.Lte, token.Gte, token.Lt, token.Gt, token.Eq,
		token.Plus, token.Minus, token.Star, token.Slash, token.Amp, token.Comma, token.Colon,
		token.LParen, token.RParen, token.LBracket, token.RBracket, token.Newline, token.EOF,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestKeywords(t *testing.T) {
	got := lexTypes(t, "def return if elif else for dynamic and or forever")
	want := []token.Type{
		token.Def, token.Return, token.If, token.Elif, token.Else, token.For,
		token.Dynamic, token.And, token.Or, token.Ident, token.Newline, token.EOF,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestNumbers(t *testing.T) {
	toks, err := NewLexer([]rune("7 2.5"), 0).Tokenize()
	be.Err(t, err, nil)
	be.Equal(t, toks[0].Type, token.Number)
	be.Equal(t, toks[1].Type, token.FloatNumber)
	be.Equal(t, toks[1].Value, "2.5")
}

func TestStringEscapes(t *testing.T) {
	toks, err := NewLexer([]rune(`"a\tb\n\"q\"\\"`), 0).Tokenize()
	be.Err(t, err, nil)
	be.Equal(t, toks[0].Type, token.String)
	be.Equal(t, toks[0].Value, "a\tb\n\"q\"\\")
}

func TestIndentation(t *testing.T) {
	src := "def f()@int:\n    if 1:\n        return 1\n\n    // comment\n    return 0\nx@int = 1\n"
	got := lexTypes(t, src)
	want := []token.Type{
		token.Def, token.Ident, token.LParen, token.RParen, token.At, token.Ident, token.Colon, token.Newline,
		token.Indent, token.If, token.Number, token.Colon, token.Newline,
		token.Indent, token.Return, token.Number, token.Newline,
		token.Dedent, token.Return, token.Number, token.Newline,
		token.Dedent, token.Ident, token.At, token.Ident, token.Eq, token.Number, token.Newline,
		token.EOF,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestTabsCountAsFourSpaces(t *testing.T) {
	got := lexTypes(t, "if 1:\n\tx = 1\n    y = 2\n")
	want := []token.Type{
		token.If, token.Number, token.Colon, token.Newline,
		token.Indent, token.Ident, token.Eq, token.Number, token.Newline,
		token.Ident, token.Eq, token.Number, token.Newline,
		token.Dedent, token.EOF,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestNewlinesInsideBrackets(t *testing.T) {
	got := lexTypes(t, "f(1,\n        2)\n")
	want := []token.Type{
		token.Ident, token.LParen, token.Number, token.Comma, token.Number, token.RParen, token.Newline, token.EOF,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestLexicalErrors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"unexpected character", "x = $", "Unexpected character: '$'"},
		{"unterminated string", "s@str = \"abc\n", "Unterminated string literal"},
		{"inconsistent dedent", "if 1:\n        x = 1\n    y = 2\n", "Inconsistent dedent"},
		{"bad escape", `"\q"`, "Unrecognized escape sequence"},
		{"lone bang", "a ! b", "Unexpected character: '!'"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLexer([]rune(tc.src), 0).Tokenize()
			be.Err(t, err, tc.want)
			be.True(t, util.IsCategory(err, util.CatLexical))
		})
	}
}

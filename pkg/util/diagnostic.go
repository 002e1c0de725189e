package util

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/malanka-lang/malc/pkg/token"
)

// Component names the compiler stage that produced a diagnostic.
type Component string

const (
	CompLexer     Component = "lexer"
	CompParser    Component = "parser"
	CompSemantic  Component = "semantic"
	CompCodegen   Component = "codegen"
	CompToolchain Component = "toolchain"
)

// Category is the short label attached to every diagnostic.
type Category string

const (
	CatLexical         Category = "lexical"
	CatSyntax          Category = "syntax"
	CatUndeclared      Category = "undeclared symbol"
	CatRedeclaration   Category = "redeclaration"
	CatTypeMismatch    Category = "type mismatch"
	CatPointerMismatch Category = "pointer type mismatch"
	CatArity           Category = "arity mismatch"
	CatScope           Category = "scope restriction"
	CatArgumentLimit   Category = "argument limit"
	CatArrayRank       Category = "unsupported array rank"
	CatArrayShape      Category = "array shape"
	CatCallTarget      Category = "invalid call target"
	CatImport          Category = "import failure"
	CatInternal        Category = "internal"
	CatToolchain       Category = "toolchain failure"
)

// Diagnostic is the error value returned by every stage.
type Diagnostic struct {
	Component Component
	Category  Category
	Tok       token.Token
	Msg       string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%d:%d: [%s] %s: %s", d.Tok.Line, d.Tok.Column, d.Component, d.Category, d.Msg)
}

func Errorf(comp Component, cat Category, tok token.Token, format string, args ...any) error {
	return &Diagnostic{Component: comp, Category: cat, Tok: tok, Msg: fmt.Sprintf(format, args...)}
}

// IsCategory reports whether err is a Diagnostic with the given category.
func IsCategory(err error, cat Category) bool {
	var d *Diagnostic
	return errors.As(err, &d) && d.Category == cat
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

// Reporter prints diagnostics with the offending source line underneath.
type Reporter struct {
	Files []SourceFileRecord
	Color bool
}

func (r *Reporter) paint(code, s string) string {
	if !r.Color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// findFileAndLine converts a global token to a file-specific location
func (r *Reporter) findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(r.Files) {
		return "unknown", tok.Line, tok.Column
	}
	return r.Files[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret indicating the error position
func (r *Reporter) printErrorLine(w io.Writer, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(r.Files) || tok.Line == 0 {
		return
	}

	content := r.Files[tok.FileIndex].Content
	lineNum := tok.Line
	lineStart := 0
	for i, c := range content {
		if lineNum <= 1 {
			break
		}
		if c == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(w, "  %s\n", string(content[lineStart:lineEnd]))

	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", max(tok.Column-1, 0)), r.paint("32", caret))
}

// Report writes err to w. Diagnostics get a file position and the source excerpt,
// anything else is printed as a plain error line.
func (r *Reporter) Report(w io.Writer, err error) {
	var d *Diagnostic
	if !errors.As(err, &d) {
		fmt.Fprintf(w, "malc: %s %v\n", r.paint("31", "error:"), err)
		return
	}
	if d.Tok.Line == 0 {
		fmt.Fprintf(w, "malc: %s [%s] %s: %s\n", r.paint("31", "error:"), d.Component, d.Category, d.Msg)
		return
	}
	filename, line, col := r.findFileAndLine(d.Tok)
	fmt.Fprintf(w, "%s:%d:%d: %s [%s] %s: %s\n", filename, line, col, r.paint("31", "error:"), d.Component, d.Category, d.Msg)
	r.printErrorLine(w, d.Tok)
}

package token

import "fmt"

type Type int

const (
	EOF Type = iota
	Newline
	Indent
	Dedent
	Ident
	Number
	FloatNumber
	String
	Def
	Return
	If
	Elif
	Else
	For
	Dynamic
	And
	Or
	LParen
	RParen
	LBracket
	RBracket
	Comma
	Colon
	At
	Amp
	Eq
	Plus
	Minus
	Star
	Slash
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
)

var KeywordMap = map[string]Type{
	"def":     Def,
	"return":  Return,
	"if":      If,
	"elif":    Elif,
	"else":    Else,
	"for":     For,
	"dynamic": Dynamic,
	"and":     And,
	"or":      Or,
}

var symbolStrings = map[Type]string{
	EOF:         "end of file",
	Newline:     "newline",
	Indent:      "indent",
	Dedent:      "dedent",
	Ident:       "identifier",
	Number:      "integer literal",
	FloatNumber: "double literal",
	String:      "string literal",
	LParen:      "(",
	RParen:      ")",
	LBracket:    "[",
	RBracket:    "]",
	Comma:       ",",
	Colon:       ":",
	At:          "@",
	Amp:         "&",
	Eq:          "=",
	Plus:        "+",
	Minus:       "-",
	Star:        "*",
	Slash:       "/",
	EqEq:        "==",
	Neq:         "!=",
	Lt:          "<",
	Gt:          ">",
	Gte:         ">=",
	Lte:         "<=",
}

// Reverse mapping from Type to the keyword string
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
	for typ, str := range symbolStrings {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsComparison reports whether t is one of the six relational operators.
func (t Type) IsComparison() bool {
	switch t {
	case EqEq, Neq, Lt, Gt, Gte, Lte:
		return true
	}
	return false
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}

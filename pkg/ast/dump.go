package ast

import (
	"io"

	"github.com/goforj/godump"
)

// Dump writes a readable rendering of the tree rooted at n, types included once
// the analyzer has run.
func Dump(w io.Writer, n Node) {
	io.WriteString(w, godump.DumpStr(n))
}

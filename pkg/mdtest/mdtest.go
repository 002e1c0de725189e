// Package mdtest reads compiler test cases out of Markdown documents. A case
// starts at a heading "Test: <name>" and holds one `mal` fence with the program
// followed by assertion fences.
package mdtest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Kind is the info string of an assertion fence.
type Kind string

const (
	// KindCompileError expects compilation to fail with an error containing the fence text.
	KindCompileError Kind = "compile-error"
	// KindAsmContains expects every non-empty line of the fence in the native assembly.
	KindAsmContains Kind = "asm-contains"
	// KindStdout expects the built program to print exactly the fence text.
	KindStdout Kind = "stdout"
)

const inputFence = "mal"

type Assertion struct {
	Kind    Kind
	Content string
	Line    int
}

// Lines returns the non-empty, trimmed lines of the assertion.
func (a Assertion) Lines() []string {
	var out []string
	for _, l := range strings.Split(a.Content, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

type Case struct {
	Name       string
	Source     string
	Line       int
	Assertions []Assertion
}

// Find returns the first assertion of kind k.
func (c *Case) Find(k Kind) (Assertion, bool) {
	for _, a := range c.Assertions {
		if a.Kind == k {
			return a, true
		}
	}
	return Assertion{}, false
}

// Extract parses doc and returns its test cases in document order.
func Extract(doc []byte) ([]Case, error) {
	root := goldmark.New().Parser().Parse(text.NewReader(doc))

	var cases []Case
	var cur *Case
	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := validate(cur); err != nil {
			return err
		}
		cases = append(cases, *cur)
		return nil
	}

	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			heading := headingText(n, doc)
			if !strings.HasPrefix(heading, "Test: ") {
				return ast.WalkContinue, nil
			}
			if err := flush(); err != nil {
				return ast.WalkStop, err
			}
			cur = &Case{Name: strings.TrimSpace(strings.TrimPrefix(heading, "Test: "))}

		case *ast.FencedCodeBlock:
			lang := string(n.Language(doc))
			line := lineOf(n, doc)
			if lang == "" {
				return ast.WalkContinue, nil
			}
			if cur == nil {
				return ast.WalkStop, fmt.Errorf("line %d: %s fence outside of a test case", line, lang)
			}
			content := fenceContent(n, doc)
			switch {
			case lang == inputFence:
				if cur.Source != "" {
					return ast.WalkStop, fmt.Errorf("line %d: test '%s' has more than one %s fence", line, cur.Name, inputFence)
				}
				cur.Source, cur.Line = content, line
			case isAssertion(Kind(lang)):
				if cur.Source == "" {
					return ast.WalkStop, fmt.Errorf("line %d: %s fence before the %s fence in test '%s'", line, lang, inputFence, cur.Name)
				}
				cur.Assertions = append(cur.Assertions, Assertion{Kind: Kind(lang), Content: content, Line: line})
			default:
				return ast.WalkStop, fmt.Errorf("line %d: unknown fence language '%s' in test '%s'", line, lang, cur.Name)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return cases, nil
}

func isAssertion(k Kind) bool {
	switch k {
	case KindCompileError, KindAsmContains, KindStdout:
		return true
	}
	return false
}

func validate(c *Case) error {
	if c.Source == "" {
		return fmt.Errorf("test '%s' has no %s fence", c.Name, inputFence)
	}
	if len(c.Assertions) == 0 {
		return fmt.Errorf("test '%s' has no assertion fences", c.Name)
	}
	_, fails := c.Find(KindCompileError)
	_, runs := c.Find(KindStdout)
	_, asm := c.Find(KindAsmContains)
	if fails && (runs || asm) {
		return fmt.Errorf("test '%s' expects a compile error and output at once", c.Name)
	}
	return nil
}

func headingText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	ast.Walk(n, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := n.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(src))
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func fenceContent(n *ast.FencedCodeBlock, src []byte) string {
	var buf bytes.Buffer
	for i := 0; i < n.Lines().Len(); i++ {
		seg := n.Lines().At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String()
}

func lineOf(n ast.Node, src []byte) int {
	if n.Lines().Len() == 0 {
		return 1
	}
	return bytes.Count(src[:n.Lines().At(0).Start], []byte("\n")) + 1
}

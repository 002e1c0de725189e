package codegen

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

var nestingVars = map[string]int64{"a": 3, "b": -4, "c": 11}

// machine runs the integer subset of the native backend's expression code:
// the accumulator, the rbx operand and the 16-byte spill slots.
type machine struct {
	rax, rbx int64
	stack    []int64
	maxDepth int
}

func (m *machine) exec(line string) error {
	top := func() (*int64, error) {
		if len(m.stack) == 0 {
			return nil, fmt.Errorf("%q with no spill slot", line)
		}
		return &m.stack[len(m.stack)-1], nil
	}
	switch {
	case line == "sub rsp, 16":
		m.stack = append(m.stack, 0)
		m.maxDepth = max(m.maxDepth, len(m.stack))
	case line == "add rsp, 16":
		if _, err := top(); err != nil {
			return err
		}
		m.stack = m.stack[:len(m.stack)-1]
	case line == "mov [rsp], rax":
		slot, err := top()
		if err != nil {
			return err
		}
		*slot = m.rax
	case line == "mov rbx, [rsp]":
		slot, err := top()
		if err != nil {
			return err
		}
		m.rbx = *slot
	case line == "mov rbx, rax":
		m.rbx = m.rax
	case line == "add rax, rbx":
		m.rax += m.rbx
	case line == "sub rax, rbx":
		m.rax -= m.rbx
	case line == "imul rax, rbx":
		m.rax *= m.rbx
	case line == "neg rax":
		m.rax = -m.rax
	case strings.HasPrefix(line, "mov rax, [var_"):
		name := strings.TrimSuffix(strings.TrimPrefix(line, "mov rax, [var_"), "]")
		v, ok := nestingVars[name]
		if !ok {
			return fmt.Errorf("load of unknown cell in %q", line)
		}
		m.rax = v
	case strings.HasPrefix(line, "mov rax, "):
		n, err := strconv.ParseInt(strings.TrimPrefix(line, "mov rax, "), 10, 64)
		if err != nil {
			return fmt.Errorf("unexpected instruction %q", line)
		}
		m.rax = n
	default:
		return fmt.Errorf("unexpected instruction %q", line)
	}
	return nil
}

// evalNative compiles r@int = expr and runs the code between the store of c
// and the store of r.
func evalNative(t *testing.T, expr string) *machine {
	t.Helper()
	asm := nasm(t, lines("a@int = 3", "b@int = -4", "c@int = 11", "r@int = "+expr))
	from := strings.Index(asm, "\tmov [var_c], rax\n")
	to := strings.Index(asm, "\tmov [var_r], rax\n")
	be.True(t, from > 0 && to > from)

	m := &machine{}
	for _, line := range strings.Split(asm[from:to], "\n")[1:] {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if err := m.exec(line); err != nil {
			t.Fatalf("%s: %v", expr, err)
		}
	}
	return m
}

// genExpr returns a random integer expression of at most depth levels and its value.
func genExpr(r *rand.Rand, depth int) (string, int64) {
	if depth == 0 || r.Intn(5) == 0 {
		if r.Intn(2) == 0 {
			n := int64(r.Intn(100))
			return strconv.FormatInt(n, 10), n
		}
		name := []string{"a", "b", "c"}[r.Intn(3)]
		return name, nestingVars[name]
	}
	if r.Intn(6) == 0 {
		src, v := genExpr(r, depth-1)
		// Parenthesized so that "x * (-(y))" never reads as a dereference of x.
		return "(-(" + src + "))", -v
	}
	ls, lv := genExpr(r, depth-1)
	rs, rv := genExpr(r, depth-1)
	switch r.Intn(3) {
	case 0:
		return "(" + ls + " + " + rs + ")", lv + rv
	case 1:
		return "(" + ls + " - " + rs + ")", lv - rv
	default:
		return "(" + ls + " * " + rs + ")", lv * rv
	}
}

func TestGeneratedNestedArithmetic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		expr, want := genExpr(r, 1+r.Intn(8))
		m := evalNative(t, expr)
		be.Equal(t, len(m.stack), 0)
		if m.rax != want {
			t.Fatalf("%s = %d, want %d", expr, m.rax, want)
		}
	}
}

func TestLeftDeepChainSpillsEveryLevel(t *testing.T) {
	const n = 40
	plain, want := "1", int64(1)
	withRight, withRightWant := "1", int64(1)
	for i := 2; i <= n; i++ {
		plain = "(" + plain + " - " + strconv.Itoa(i) + ")"
		want -= int64(i)
		withRight = "(" + withRight + " - (" + strconv.Itoa(i) + " * b))"
		withRightWant -= int64(i) * nestingVars["b"]
	}

	// Every level but the innermost, whose left side is the literal 1, holds
	// its right value in a spill slot while the left subtree runs.
	for _, c := range []struct {
		expr string
		want int64
	}{{plain, want}, {withRight, withRightWant}} {
		m := evalNative(t, c.expr)
		be.Equal(t, len(m.stack), 0)
		be.Equal(t, m.rax, c.want)
		be.Equal(t, m.maxDepth, n-2)
	}
}

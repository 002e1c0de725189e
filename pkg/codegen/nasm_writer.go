package codegen

import (
	"bytes"
	"fmt"
	"strings"
)

// NasmWriter collects NASM text per section and writes them out in the order
// extern, text, bss, data. Function bodies are buffered so their prologue can
// be written once the frame size is known.
type NasmWriter struct {
	extern strings.Builder
	text   strings.Builder
	bss    strings.Builder
	data   strings.Builder
	fn     *strings.Builder
}

func (w *NasmWriter) out() *strings.Builder {
	if w.fn != nil {
		return w.fn
	}
	return &w.text
}

func (w *NasmWriter) Extern(name string) { fmt.Fprintf(&w.extern, "\textern %s\n", name) }
func (w *NasmWriter) Global(name string) { fmt.Fprintf(&w.extern, "\tglobal %s\n", name) }

// Emit writes one instruction to the current text target.
func (w *NasmWriter) Emit(format string, args ...any) {
	out := w.out()
	out.WriteByte('\t')
	fmt.Fprintf(out, format, args...)
	out.WriteByte('\n')
}

func (w *NasmWriter) Label(name string) { fmt.Fprintf(w.out(), "%s:\n", name) }

func (w *NasmWriter) Comment(format string, args ...any) {
	fmt.Fprintf(w.out(), "\t; "+format+"\n", args...)
}

// Reserve adds an uninitialized run of 8-byte cells to .bss.
func (w *NasmWriter) Reserve(label string, cells int) {
	fmt.Fprintf(&w.bss, "\t%s: resq %d\n", label, cells)
}

func (w *NasmWriter) Data(label, directive string) {
	fmt.Fprintf(&w.data, "\t%s: %s\n", label, directive)
}

func (w *NasmWriter) BeginFunc() { w.fn = &strings.Builder{} }

// EndFunc writes the buffered body behind its label and a prologue reserving
// frameSize bytes of locals.
func (w *NasmWriter) EndFunc(label string, frameSize int) {
	body := w.fn
	w.fn = nil
	w.Label(label)
	w.Emit("push rbp")
	w.Emit("mov rbp, rsp")
	if frameSize > 0 {
		w.Emit("sub rsp, %d", frameSize)
	}
	w.text.WriteString(body.String())
}

func (w *NasmWriter) WriteTo(buf *bytes.Buffer) {
	buf.WriteString("; generated by malc\n")
	buf.WriteString(w.extern.String())
	buf.WriteString("\nsection .text\n")
	buf.WriteString(w.text.String())
	buf.WriteString("\nsection .bss\n")
	buf.WriteString(w.bss.String())
	buf.WriteString("\nsection .data\n")
	buf.WriteString(w.data.String())
}

// nasmBytes renders s as a NASM db operand list with a terminating zero.
func nasmBytes(s string) string {
	var parts []string
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			parts = append(parts, `"`+run.String()+`"`)
			run.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' {
			run.WriteByte(c)
			continue
		}
		flush()
		parts = append(parts, fmt.Sprintf("%d", c))
	}
	flush()
	parts = append(parts, "0")
	return strings.Join(parts, ", ")
}

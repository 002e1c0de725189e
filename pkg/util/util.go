package util

import (
	"fmt"
	"io"
)

// AlignUp rounds n up to the next multiple of align (a power of two).
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Logger prints the driver's progress lines and, when verbose, its info lines.
type Logger struct {
	Out     io.Writer
	Err     io.Writer
	Verbose bool
}

func NewLogger(out, err io.Writer, verbose bool) *Logger {
	return &Logger{Out: out, Err: err, Verbose: verbose}
}

// Step prints a progress line unconditionally.
func (l *Logger) Step(format string, args ...any) {
	if l == nil || l.Out == nil {
		return
	}
	fmt.Fprintf(l.Out, format+"\n", args...)
}

// Info prints a "malc: info:" line to the error stream when verbose output is on.
func (l *Logger) Info(format string, args ...any) {
	if l == nil || !l.Verbose || l.Err == nil {
		return
	}
	fmt.Fprintf(l.Err, "malc: info: "+format+"\n", args...)
}

//go:build !windows

package codegen

import (
	"bytes"
	"strings"

	"github.com/malanka-lang/malc/pkg/ast"
	"modernc.org/libqbe"
)

func (b *QBE) Generate(prog *ast.Program) (*bytes.Buffer, error) {
	qbeIR, err := b.GenerateIR(prog)
	if err != nil {
		return nil, err
	}

	var asmBuf bytes.Buffer
	if err := libqbe.Main(b.cfg.QbeTarget, "input.ssa", strings.NewReader(qbeIR), &asmBuf, nil); err != nil {
		return nil, b.compileError(qbeIR, err)
	}
	return &asmBuf, nil
}

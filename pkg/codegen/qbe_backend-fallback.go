//go:build windows

package codegen

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/malanka-lang/malc/pkg/ast"
)

func (b *QBE) Generate(prog *ast.Program) (*bytes.Buffer, error) {
	b.log.Info("self-contained QBE is not supported on Windows, falling back to the system's 'qbe'")
	if _, err := exec.LookPath("qbe"); err != nil {
		return nil, fmt.Errorf("qbe not found in PATH: %w", err)
	}

	qbeIR, err := b.GenerateIR(prog)
	if err != nil {
		return nil, err
	}

	inputFile, err := os.CreateTemp("", "malc-qbe-*.ssa")
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputFile.Name())
	if _, err = inputFile.WriteString(qbeIR); err != nil {
		inputFile.Close()
		return nil, err
	}
	inputFile.Close()

	outputName := inputFile.Name() + ".s"
	defer os.Remove(outputName)
	cmd := exec.Command("qbe", "-o", outputName, "-t", b.cfg.QbeTarget, inputFile.Name())
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, b.compileError(qbeIR, fmt.Errorf("%w\n%s", err, output))
	}

	asm, err := os.ReadFile(outputName)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(asm), nil
}

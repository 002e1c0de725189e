package codegen

import (
	"bytes"
	"fmt"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/util"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an analyzed program and produces NASM text, target
	// assembly or LLVM IR, depending on the backend.
	Generate(prog *ast.Program) (*bytes.Buffer, error)
}

// NewBackend returns the backend selected by cfg. The symbol manager must be
// the one the program was analyzed with.
func NewBackend(cfg *config.Config, syms *symbols.Manager, log *util.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendNative:
		return NewNative(cfg, syms, log), nil
	case config.BackendQBE:
		return NewQBE(cfg, syms, log), nil
	case config.BackendLLVM:
		return NewLLVM(cfg, syms, log), nil
	default:
		return nil, fmt.Errorf("unsupported backend '%s'", cfg.Backend)
	}
}

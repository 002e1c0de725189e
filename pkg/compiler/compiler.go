// Package compiler runs the stages of one compilation: lexing, parsing,
// semantic analysis and code generation.
package compiler

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/codegen"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/lexer"
	"github.com/malanka-lang/malc/pkg/parser"
	"github.com/malanka-lang/malc/pkg/semantic"
	"github.com/malanka-lang/malc/pkg/shlib"
	"github.com/malanka-lang/malc/pkg/symbols"
	"github.com/malanka-lang/malc/pkg/util"
)

// Result is everything a finished compilation leaves behind.
type Result struct {
	Files   []util.SourceFileRecord
	Program *ast.Program
	Symbols *symbols.Manager
	// Output is NASM text, target assembly or LLVM IR depending on the backend.
	Output *bytes.Buffer
}

type Compiler struct {
	cfg    *config.Config
	log    *util.Logger
	loader shlib.Loader
}

func New(cfg *config.Config, log *util.Logger, loader shlib.Loader) *Compiler {
	return &Compiler{cfg: cfg, log: log, loader: loader}
}

// ReproducibleSeed derives the label suffix from the source text.
func ReproducibleSeed(src []byte) string {
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64(src)))
}

// Compile translates one source file. The returned Result holds the source
// records even on failure so diagnostics can be rendered.
func (c *Compiler) Compile(name string, src []byte) (*Result, error) {
	content := []rune(string(src))
	res := &Result{Files: []util.SourceFileRecord{{Name: name, Content: content}}}

	c.log.Step("Tokenizing %s...", name)
	toks, err := lexer.NewLexer(content, 0).Tokenize()
	if err != nil {
		return res, err
	}
	c.log.Info("%d tokens", len(toks))

	c.log.Step("Parsing tokens into AST...")
	prog, err := parser.NewParser(toks).Parse()
	if err != nil {
		return res, err
	}
	res.Program = prog

	c.log.Step("Analyzing...")
	syms := symbols.NewManager(c.loader)
	res.Symbols = syms
	if err := semantic.New(syms, c.log).Analyze(prog); err != nil {
		return res, err
	}

	cfg := *c.cfg
	if cfg.Reproducible && cfg.LabelSeed == "" {
		cfg.LabelSeed = ReproducibleSeed(src)
		c.log.Info("reproducible build, label suffix '%s'", cfg.LabelSeed)
	}
	backend, err := codegen.NewBackend(&cfg, syms, c.log)
	if err != nil {
		return res, err
	}
	c.log.Step("Generating code with the %s backend...", cfg.Backend)
	out, err := backend.Generate(prog)
	if err != nil {
		return res, err
	}
	res.Output = out
	return res, nil
}

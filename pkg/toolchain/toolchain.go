// Package toolchain turns backend output into an executable with the external
// assembler, linker or C/LLVM compiler driver.
package toolchain

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/token"
	"github.com/malanka-lang/malc/pkg/util"
)

// Runner executes one external command and returns its combined output.
type Runner interface {
	Run(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

type Toolchain struct {
	cfg *config.Config
	log *util.Logger
	run Runner
}

func New(cfg *config.Config, log *util.Logger) *Toolchain {
	return &Toolchain{cfg: cfg, log: log, run: execRunner{}}
}

// WithRunner replaces the command runner.
func (t *Toolchain) WithRunner(r Runner) *Toolchain {
	t.run = r
	return t
}

// Build writes text to disk and links it into cfg.OutputFile. libs are the
// resolved paths of every imported shared library.
func (t *Toolchain) Build(text string, libs []string) error {
	switch t.cfg.Backend {
	case config.BackendNative:
		return t.native(text, libs)
	case config.BackendQBE:
		return t.driver(t.cfg.CC, "malc-qbe-*.s", text, libs, "-no-pie")
	case config.BackendLLVM:
		return t.driver(t.cfg.Clang, "malc-llvm-*.ll", text, libs, "-Wno-override-module", "-no-pie")
	default:
		return fmt.Errorf("unsupported backend '%s'", t.cfg.Backend)
	}
}

func (t *Toolchain) exec(name string, args ...string) error {
	t.log.Info("running %s %s", name, strings.Join(args, " "))
	if output, err := t.run.Run(name, args...); err != nil {
		return util.Errorf(util.CompToolchain, util.CatToolchain, token.Token{}, "%s command failed: %v\nOutput:\n%s", name, err, output)
	}
	return nil
}

// NativeLinkArgs are the ld arguments for the native backend.
func (t *Toolchain) NativeLinkArgs(obj string, libs []string) []string {
	args := []string{"-o", t.cfg.OutputFile, obj}
	if len(libs) > 0 {
		args = append(args, "-dynamic-linker", t.cfg.DynamicLinker)
		args = append(args, libs...)
	}
	return append(args, t.cfg.LinkerArgs...)
}

// native keeps <out>.asm and <out>.o next to the executable.
func (t *Toolchain) native(asm string, libs []string) error {
	asmFile := t.cfg.OutputFile + ".asm"
	objFile := t.cfg.OutputFile + ".o"
	if err := os.WriteFile(asmFile, []byte(asm), 0o644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", asmFile, err)
	}
	if err := t.exec(t.cfg.Assembler, "-f", "elf64", "-o", objFile, asmFile); err != nil {
		return err
	}
	return t.exec(t.cfg.Linker, t.NativeLinkArgs(objFile, libs)...)
}

func (t *Toolchain) driver(tool, pattern, text string, libs []string, flags ...string) error {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	f.Close()

	args := append(flags, "-o", t.cfg.OutputFile, f.Name())
	args = append(args, libs...)
	args = append(args, t.cfg.LinkerArgs...)
	return t.exec(tool, args...)
}

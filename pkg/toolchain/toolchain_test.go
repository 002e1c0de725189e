package toolchain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/util"
	"github.com/nalgeon/be"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	fail  string
	// seen records the temp file contents handed to the driver.
	seen string
}

func (r *fakeRunner) Run(name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{name, args})
	for _, a := range args {
		if strings.HasSuffix(a, ".s") || strings.HasSuffix(a, ".ll") {
			if b, err := os.ReadFile(a); err == nil {
				r.seen = string(b)
			}
		}
	}
	if name == r.fail {
		return []byte("boom"), errors.New("exit status 1")
	}
	return nil, nil
}

func testConfig(t *testing.T, backend config.Backend) *config.Config {
	cfg := config.NewConfig()
	cfg.Backend = backend
	cfg.OutputFile = filepath.Join(t.TempDir(), "prog")
	return cfg
}

func TestNativeBuild(t *testing.T) {
	cfg := testConfig(t, config.BackendNative)
	r := &fakeRunner{}
	err := New(cfg, nil).WithRunner(r).Build("section .text\n", []string{"/usr/lib/libc.so.6"})
	be.Err(t, err, nil)

	asm, err := os.ReadFile(cfg.OutputFile + ".asm")
	be.Err(t, err, nil)
	be.Equal(t, string(asm), "section .text\n")

	want := []call{
		{"nasm", []string{"-f", "elf64", "-o", cfg.OutputFile + ".o", cfg.OutputFile + ".asm"}},
		{"ld", []string{"-o", cfg.OutputFile, cfg.OutputFile + ".o", "-dynamic-linker", "/lib64/ld-linux-x86-64.so.2", "/usr/lib/libc.so.6"}},
	}
	if diff := cmp.Diff(want, r.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestNativeLinkWithoutLibraries(t *testing.T) {
	cfg := testConfig(t, config.BackendNative)
	args := New(cfg, nil).NativeLinkArgs("prog.o", nil)
	be.Equal(t, args, []string{"-o", cfg.OutputFile, "prog.o"})
}

func TestQBEBuild(t *testing.T) {
	cfg := testConfig(t, config.BackendQBE)
	r := &fakeRunner{}
	be.Err(t, New(cfg, nil).WithRunner(r).Build(".text\n", nil), nil)

	be.Equal(t, len(r.calls), 1)
	be.Equal(t, r.calls[0].name, "cc")
	be.Equal(t, r.calls[0].args[0], "-no-pie")
	be.Equal(t, r.seen, ".text\n")
}

func TestLLVMBuild(t *testing.T) {
	cfg := testConfig(t, config.BackendLLVM)
	r := &fakeRunner{}
	be.Err(t, New(cfg, nil).WithRunner(r).Build("define i32 @main() {}\n", nil), nil)
	be.Equal(t, r.calls[0].name, "clang")
	be.Equal(t, r.seen, "define i32 @main() {}\n")
}

func TestToolFailure(t *testing.T) {
	cfg := testConfig(t, config.BackendNative)
	r := &fakeRunner{fail: "nasm"}
	err := New(cfg, nil).WithRunner(r).Build("bad\n", nil)
	be.Err(t, err, "nasm command failed")
	be.Err(t, err, "boom")
	be.True(t, util.IsCategory(err, util.CatToolchain))
	be.Equal(t, len(r.calls), 1)
}

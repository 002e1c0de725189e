package shlib

import (
	"debug/elf"
	"os/exec"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nalgeon/be"
)

func TestFunctionExports(t *testing.T) {
	funcInfo := elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)
	syms := []elf.Symbol{
		{Name: "puts", Info: funcInfo, Section: 12, Size: 10},
		{Name: "memcpy@@GLIBC_2.14", Info: funcInfo, Section: 12, Size: 0},
		{Name: "memcpy@GLIBC_2.2.5", Info: funcInfo, Section: 12, Size: 48},
		{Name: "stub", Info: funcInfo, Section: 12, Size: 0},
		{Name: "_init", Info: funcInfo, Section: 12, Size: 4},
		{Name: "", Info: funcInfo, Section: 12, Size: 4},
		{Name: "environ", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT), Section: 20, Size: 8},
		{Name: "abort", Info: funcInfo, Section: elf.SHN_UNDEF, Size: 12},
	}

	got := functionExports(syms)
	want := []Export{{Name: "memcpy"}, {Name: "puts"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("functionExports mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMissing(t *testing.T) {
	l := NewELFLoader([]string{t.TempDir()})
	_, err := l.Resolve("libdoesnotexist.so.9")
	be.Err(t, err, "not found")
}

func TestLoadLibc(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF shared objects only on linux")
	}
	if _, err := exec.LookPath("ld"); err != nil {
		t.Skip("no system linker, assuming no libc to inspect")
	}
	l := NewELFLoader([]string{"/lib/x86_64-linux-gnu", "/usr/lib/x86_64-linux-gnu", "/lib64", "/usr/lib64"})
	resolved, exports, err := l.Load("libc.so.6")
	if err != nil {
		t.Skipf("libc.so.6 unavailable: %v", err)
	}
	be.True(t, resolved != "")
	found := false
	for _, e := range exports {
		if e.Name == "printf" {
			found = true
		}
		be.True(t, e.Name[0] != '_')
	}
	be.True(t, found)
}

func TestStatic(t *testing.T) {
	s := Static{"libm.so.6": {"sqrt", "cos"}}
	path, exports, err := s.Load("libm.so.6")
	be.Err(t, err, nil)
	be.Equal(t, path, "libm.so.6")
	be.Equal(t, len(exports), 2)

	_, _, err = s.Load("libz.so")
	be.Err(t, err, "not found")
}

package config

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestSetBackend(t *testing.T) {
	c := NewConfig()
	be.Equal(t, c.Backend, BackendNative)
	be.Err(t, c.SetBackend("llvm"), nil)
	be.Equal(t, c.Backend, BackendLLVM)
	be.Equal(t, c.Backend.String(), "llvm")
	be.Err(t, c.SetBackend("gcc"), "unsupported backend 'gcc'. Supported: 'native', 'qbe', 'llvm'")
}

func TestSetTarget(t *testing.T) {
	c := NewConfig()
	note, err := c.SetTarget("linux", "amd64", "")
	be.Err(t, err, nil)
	be.Equal(t, c.QbeTarget, "amd64_sysv")
	be.Equal(t, note, "no target specified, defaulting to host target 'amd64_sysv'")

	_, err = c.SetTarget("linux", "arm64", "arm64")
	be.Err(t, err, "the native backend only emits x86-64 System V code, target 'arm64' needs -b qbe or -b llvm")

	c.Backend = BackendQBE
	_, err = c.SetTarget("linux", "arm64", "arm64")
	be.Err(t, err, nil)
	be.Equal(t, c.WordSize, 8)

	_, err = c.SetTarget("linux", "386", "i386")
	be.Err(t, err, "unsupported target 'i386': malanka values are 64 bits wide")
}

func TestParseCLIString(t *testing.T) {
	args, err := ParseCLIString(`-L /opt/lib  -rpath "/a b" 'x y'`)
	be.Err(t, err, nil)
	be.Equal(t, args, []string{"-L", "/opt/lib", "-rpath", "/a b", "x y"})

	_, err = ParseCLIString(`-s "oops`)
	be.Err(t, err, `unterminated quote in '-s "oops'`)
}

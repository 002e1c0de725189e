package config

import (
	"fmt"
	"strings"

	"modernc.org/libqbe"
)

type Backend int

const (
	BackendNative Backend = iota
	BackendQBE
	BackendLLVM
	BackendCount
)

type Info struct {
	Name        string
	Description string
}

var Backends = map[Backend]Info{
	BackendNative: {"native", "x86-64 NASM assembly, assembled with nasm and linked with ld."},
	BackendQBE:    {"qbe", "QBE intermediate language compiled in-process by libqbe, linked with cc."},
	BackendLLVM:   {"llvm", "LLVM IR text, compiled and linked with clang."},
}

func (b Backend) String() string {
	if info, ok := Backends[b]; ok {
		return info.Name
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

type Config struct {
	InputFile      string
	OutputFile     string
	Backend        Backend
	Verbose        bool
	AsmOnly        bool
	DumpAST        bool
	Reproducible   bool
	QbeTarget      string
	WordSize       int
	StackAlignment int
	// LabelSeed is appended to every generated label so that two builds never share label names
	// unless they were asked to be reproducible.
	LabelSeed     string
	DynamicLinker string
	LibraryPaths  []string
	LinkerArgs    []string
	Assembler     string
	Linker        string
	CC            string
	Clang         string
}

func NewConfig() *Config {
	return &Config{
		OutputFile:     "a.out",
		Backend:        BackendNative,
		WordSize:       8,
		StackAlignment: 16,
		DynamicLinker:  "/lib64/ld-linux-x86-64.so.2",
		LibraryPaths:   []string{"/lib/x86_64-linux-gnu", "/usr/lib/x86_64-linux-gnu", "/lib64", "/usr/lib64", "/lib", "/usr/lib"},
		Assembler:      "nasm",
		Linker:         "ld",
		CC:             "cc",
		Clang:          "clang",
	}
}

// SetBackend selects a backend by its command-line name.
func (c *Config) SetBackend(name string) error {
	for b, info := range Backends {
		if info.Name == name {
			c.Backend = b
			return nil
		}
	}
	names := make([]string, 0, BackendCount)
	for b := Backend(0); b < BackendCount; b++ {
		names = append(names, "'"+Backends[b].Name+"'")
	}
	return fmt.Errorf("unsupported backend '%s'. Supported: %s", name, strings.Join(names, ", "))
}

// SetTarget configures the compiler for a specific architecture and QBE target.
// It returns a human readable note describing the choice for the driver to log.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) (string, error) {
	var note string
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		note = fmt.Sprintf("no target specified, defaulting to host target '%s'", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
		note = fmt.Sprintf("using specified target '%s'", c.QbeTarget)
	}

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.StackAlignment = 8, 16
	default:
		return note, fmt.Errorf("unsupported target '%s': malanka values are 64 bits wide", c.QbeTarget)
	}

	if c.Backend == BackendNative && c.QbeTarget != "amd64_sysv" {
		return note, fmt.Errorf("the native backend only emits x86-64 System V code, target '%s' needs -b qbe or -b llvm", c.QbeTarget)
	}
	return note, nil
}

// ParseCLIString splits a string of linker arguments the way a POSIX shell would
// for the simple cases: whitespace separated, single or double quotes group words.
func ParseCLIString(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inWord := false
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in '%s'", s)
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}

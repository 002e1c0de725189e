package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/malanka-lang/malc/pkg/ast"
	"github.com/malanka-lang/malc/pkg/cli"
	"github.com/malanka-lang/malc/pkg/compiler"
	"github.com/malanka-lang/malc/pkg/config"
	"github.com/malanka-lang/malc/pkg/shlib"
	"github.com/malanka-lang/malc/pkg/toolchain"
	"github.com/malanka-lang/malc/pkg/util"
)

var textExt = map[config.Backend]string{
	config.BackendNative: ".asm",
	config.BackendQBE:    ".s",
	config.BackendLLVM:   ".ll",
}

func main() {
	app := cli.NewApp("malc")
	app.Synopsis = "[options] <file.mal>"
	app.Description = "A compiler for the malanka language. Emits x86-64 NASM assembly by default, or goes through QBE or LLVM."
	app.Repository = "<https://github.com/malanka-lang/malc>"

	var (
		outFile      string
		backend      string
		target       string
		linkerArgs   string
		verbose      bool
		asmOnly      bool
		dumpAST      bool
		reproducible bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "a.out", "Place the output into <file>.", "file")
	fs.String(&backend, "backend", "b", "native", "Code generation backend: native, qbe or llvm.", "backend")
	fs.String(&target, "target", "t", "", "QBE target ABI, defaults to the host.", "target")
	fs.String(&linkerArgs, "linker-args", "L", "", "Extra arguments for the final link, split like a shell would.", "args")
	fs.Bool(&verbose, "verbose", "v", false, "Print informational messages.")
	fs.Bool(&asmOnly, "asm-only", "S", false, "Write the generated assembly or IR and stop.")
	fs.Bool(&dumpAST, "dump-ast", "", false, "Print the analyzed syntax tree.")
	fs.Bool(&reproducible, "reproducible", "", false, "Derive label names from the source instead of a random suffix.")

	reporter := &util.Reporter{Color: isatty.IsTerminal(os.Stderr.Fd())}

	app.Action = func(args []string) error {
		log := util.NewLogger(os.Stdout, os.Stderr, verbose)

		if len(args) != 1 {
			return fmt.Errorf("expected exactly one input file, got %d", len(args))
		}
		input := args[0]
		if filepath.Ext(input) != ".mal" {
			return fmt.Errorf("input file '%s' must have the .mal extension", input)
		}

		cfg := config.NewConfig()
		if err := cfg.SetBackend(backend); err != nil {
			return err
		}
		note, err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target)
		log.Info("%s", note)
		if err != nil {
			return err
		}
		if linkerArgs != "" {
			parsed, err := config.ParseCLIString(linkerArgs)
			if err != nil {
				return fmt.Errorf("invalid --linker-args value: %w", err)
			}
			cfg.LinkerArgs = append(cfg.LinkerArgs, parsed...)
		}
		cfg.InputFile = input
		cfg.OutputFile = outFile
		cfg.Verbose, cfg.AsmOnly, cfg.DumpAST, cfg.Reproducible = verbose, asmOnly, dumpAST, reproducible
		if asmOnly && outFile == "a.out" {
			cfg.OutputFile = strings.TrimSuffix(filepath.Base(input), ".mal") + textExt[cfg.Backend]
		}

		src, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("could not read file '%s': %w", input, err)
		}

		fmt.Println("----------------------")
		res, err := compiler.New(cfg, log, shlib.NewELFLoader(cfg.LibraryPaths)).Compile(input, src)
		reporter.Files = res.Files
		if err != nil {
			return err
		}
		if cfg.DumpAST {
			ast.Dump(os.Stdout, res.Program)
		}

		text := res.Output.String()
		log.Info("%s backend produced %s", cfg.Backend, humanize.Bytes(uint64(len(text))))
		if cfg.AsmOnly {
			if err := os.WriteFile(cfg.OutputFile, []byte(text), 0o644); err != nil {
				return fmt.Errorf("failed to write '%s': %w", cfg.OutputFile, err)
			}
			fmt.Printf("Wrote '%s'\n", cfg.OutputFile)
		} else {
			fmt.Printf("Linking to create '%s'...\n", cfg.OutputFile)
			if err := toolchain.New(cfg, log).Build(text, res.Symbols.SharedLibs); err != nil {
				return err
			}
			if info, err := os.Stat(cfg.OutputFile); err == nil {
				log.Info("'%s' is %s", cfg.OutputFile, humanize.Bytes(uint64(info.Size())))
			}
		}

		fmt.Println("----------------------")
		fmt.Println("Done!")
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		if _, usage := err.(*cli.ErrUsage); !usage {
			reporter.Report(os.Stderr, err)
		}
		os.Exit(1)
	}
}

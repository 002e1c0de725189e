package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nalgeon/be"
)

type opts struct {
	out     string
	backend string
	verbose bool
	dump    bool
	jobs    int
}

func newTestApp(o *opts) (*App, *bytes.Buffer, *bytes.Buffer) {
	app := NewApp("malc")
	app.Synopsis = "[options] <file.mal>"
	app.Description = "Compiles a malanka program."
	var stdout, stderr bytes.Buffer
	app.Stdout, app.Stderr = &stdout, &stderr
	fs := app.FlagSet
	fs.String(&o.out, "output", "o", "a.out", "Place the output into <file>", "file")
	fs.String(&o.backend, "backend", "b", "native", "Code generation backend", "name")
	fs.Bool(&o.verbose, "verbose", "v", false, "Enable verbose output")
	fs.Bool(&o.dump, "dump-ast", "", false, "Print the analyzed tree")
	fs.Int(&o.jobs, "jobs", "j", 4, "Parallel workers")
	return app, &stdout, &stderr
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want opts
		pos  []string
	}{
		{[]string{"x.mal"}, opts{out: "a.out", backend: "native", jobs: 4}, []string{"x.mal"}},
		{[]string{"-o", "prog", "-bqbe", "-v", "x.mal"}, opts{out: "prog", backend: "qbe", verbose: true, jobs: 4}, []string{"x.mal"}},
		{[]string{"--output=p", "--backend", "llvm", "--dump-ast", "-j", "8", "x.mal"}, opts{out: "p", backend: "llvm", dump: true, jobs: 8}, []string{"x.mal"}},
		{[]string{"--verbose=false", "--", "-o"}, opts{out: "a.out", backend: "native", jobs: 4}, []string{"-o"}},
	} {
		var o opts
		app, _, _ := newTestApp(&o)
		var pos []string
		app.Action = func(args []string) error { pos = args; return nil }
		be.Err(t, app.Run(tc.args), nil)
		if diff := cmp.Diff(tc.want, o, cmp.AllowUnexported(opts{})); diff != "" {
			t.Errorf("%v: options mismatch (-want +got):\n%s", tc.args, diff)
		}
		be.Equal(t, pos, tc.pos)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		args []string
		msg  string
	}{
		{[]string{"--nope"}, "unknown flag: --nope"},
		{[]string{"-z"}, "unknown shorthand flag: -z"},
		{[]string{"-o"}, "flag needs an argument: -o"},
		{[]string{"--backend"}, "flag needs an argument: --backend"},
		{[]string{"-vx"}, "flag -v does not take a value"},
		{[]string{"-j", "many"}, "invalid integer value 'many'"},
	} {
		var o opts
		app, _, stderr := newTestApp(&o)
		called := false
		app.Action = func([]string) error { called = true; return nil }
		err := app.Run(tc.args)
		var usage *ErrUsage
		be.True(t, errors.As(err, &usage))
		be.Equal(t, err.Error(), tc.msg)
		be.True(t, !called)
		be.True(t, strings.Contains(stderr.String(), "Usage: malc [options] <file.mal>"))
	}
}

func TestHelp(t *testing.T) {
	var o opts
	app, stdout, _ := newTestApp(&o)
	app.Action = func([]string) error { t.Fatal("action called"); return nil }
	be.Err(t, app.Run([]string{"--help"}), nil)
	help := stdout.String()
	for _, want := range []string{
		"malc [options] <file.mal>",
		"Compiles a malanka program.",
		"-o, --output <file>",
		"--dump-ast",
		"-h, --help",
		"|native|",
	} {
		be.True(t, strings.Contains(help, want))
	}
	be.True(t, strings.Index(help, "--backend") < strings.Index(help, "--output"))
}

func TestWrapText(t *testing.T) {
	be.Equal(t, wrapText("one two three four", 9), []string{"one two", "three", "four"})
	be.Equal(t, len(wrapText("   ", 9)), 0)
}

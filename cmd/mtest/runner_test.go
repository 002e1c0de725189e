package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"github.com/malanka-lang/malc/pkg/mdtest"
)

func sampleCase(src string) mdtest.Case {
	return mdtest.Case{
		Name:       "sample",
		Source:     src,
		Assertions: []mdtest.Assertion{{Kind: mdtest.KindStdout, Content: "1\n"}},
	}
}

func TestKey(t *testing.T) {
	r := &runner{args: []string{"-b", "qbe"}}
	a := r.key(sampleCase("x@int = 1\n"))
	be.Equal(t, len(a), 16)
	be.Equal(t, a, r.key(sampleCase("x@int = 1\n")))
	be.True(t, a != r.key(sampleCase("x@int = 2\n")))
	be.True(t, a != (&runner{}).key(sampleCase("x@int = 1\n")))
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	be.Equal(t, len(loadCache(path)), 0)

	c := Cache{"00000000000000aa": "basics.md: sample"}
	be.Err(t, c.save(path), nil)
	be.Equal(t, loadCache(path), c)
}

func TestRunAllSkipsCachedCases(t *testing.T) {
	r := &runner{compiler: filepath.Join(t.TempDir(), "missing-malc"), tempDir: t.TempDir(), timeout: time.Second}
	cached := sampleCase("x@int = 1\n")
	fresh := sampleCase("x@int = 2\n")
	fresh.Name = "fresh"
	cache := Cache{r.key(cached): "cached"}

	results := runAll(r, []job{{File: "a.md", Case: cached}, {File: "a.md", Case: fresh}}, cache, true, 2)
	be.Equal(t, len(results), 2)
	be.Equal(t, results[0].Name, "fresh")
	be.Equal(t, results[0].Status, StatusFail)
	be.True(t, strings.HasPrefix(results[0].Message, "compilation failed"))
	be.Equal(t, results[1].Status, StatusSkip)
	be.True(t, hasFailures(results))
}

func TestCompileErrorNeedsFailure(t *testing.T) {
	r := &runner{compiler: filepath.Join(t.TempDir(), "missing-malc"), tempDir: t.TempDir(), timeout: time.Second}
	c := mdtest.Case{
		Name:       "bad",
		Source:     "x@int = y\n",
		Assertions: []mdtest.Assertion{{Kind: mdtest.KindCompileError, Content: "undeclared symbol"}},
	}
	res := r.run(c)
	be.Equal(t, res.Status, StatusFail)
	be.Equal(t, res.Message, "compile error mismatch")
}

func TestFormatDiff(t *testing.T) {
	be.Equal(t, formatDiff(""), "")
	out := formatDiff("-a\n+b\n")
	be.True(t, strings.Contains(out, cRed+"    -a"+cNone))
	be.True(t, strings.Contains(out, cGreen+"    +b"+cNone))
}

func TestFlags(t *testing.T) {
	o := &options{}
	app := newApp(o)
	err := app.FlagSet.Parse([]string{"-j", "8", "--timeout=3", "-v", "--run", "pointers", "-c", "bin/malc"})
	be.Err(t, err, nil)
	be.Equal(t, o.jobs, 8)
	be.Equal(t, o.timeout, 3)
	be.True(t, o.verbose)
	be.Equal(t, o.filter, "pointers")
	be.Equal(t, o.compiler, "bin/malc")
	be.Equal(t, o.testFiles, "testdata/*.md")
	be.Equal(t, o.useCache, false)
}

func TestNonPositiveJobs(t *testing.T) {
	var out, errOut bytes.Buffer
	app := newApp(&options{})
	app.Stdout, app.Stderr = &out, &errOut
	be.Err(t, app.Run([]string{"--jobs", "0"}), "must be positive")

	app = newApp(&options{})
	app.Stdout, app.Stderr = &out, &errOut
	be.Err(t, app.Run([]string{"--jobs", "many"}), "invalid integer value 'many'")
	be.True(t, strings.Contains(errOut.String(), "Usage: mtest [options]"))
}

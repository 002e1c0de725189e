package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/malanka-lang/malc/pkg/mdtest"
)

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

type job struct {
	File string
	Case mdtest.Case
}

type Result struct {
	File     string
	Name     string
	Key      string
	Status   Status
	Message  string
	Diff     string
	Duration time.Duration
}

type Execution struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

type runner struct {
	compiler string
	args     []string
	tempDir  string
	timeout  time.Duration
}

// key identifies a case by everything that can change its outcome.
func (r *runner) key(c mdtest.Case) string {
	h := xxhash.New()
	h.WriteString(strings.Join(r.args, "\x00"))
	h.WriteString("\x01")
	h.WriteString(c.Source)
	for _, a := range c.Assertions {
		h.WriteString("\x01" + string(a.Kind) + "\x02" + a.Content)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (r *runner) run(c mdtest.Case) *Result {
	res := &Result{Name: c.Name}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	base := filepath.Join(r.tempDir, r.key(c))
	src := base + ".mal"
	if err := os.WriteFile(src, []byte(c.Source), 0o644); err != nil {
		return r.fail(res, fmt.Sprintf("could not write source: %v", err), "")
	}

	if want, ok := c.Find(mdtest.KindCompileError); ok {
		comp := r.compile(src, base, false)
		if comp.ExitCode == 0 {
			return r.fail(res, "compilation succeeded, a compile error was expected", "")
		}
		if !strings.Contains(comp.Stderr, strings.TrimSpace(want.Content)) {
			return r.fail(res, "compile error mismatch", cmp.Diff(strings.TrimSpace(want.Content), strings.TrimSpace(comp.Stderr)))
		}
		res.Status, res.Message = StatusPass, "failed to compile as expected"
		return res
	}

	if want, ok := c.Find(mdtest.KindAsmContains); ok {
		comp := r.compile(src, base+".asm", true)
		if comp.ExitCode != 0 {
			return r.fail(res, "compilation failed", comp.Stderr)
		}
		asm, err := os.ReadFile(base + ".asm")
		if err != nil {
			return r.fail(res, fmt.Sprintf("no assembly written: %v", err), "")
		}
		var missing []string
		for _, line := range want.Lines() {
			if !bytes.Contains(asm, []byte(line)) {
				missing = append(missing, line)
			}
		}
		if len(missing) > 0 {
			return r.fail(res, "assembly lacks expected lines", "-"+strings.Join(missing, "\n-"))
		}
	}

	if want, ok := c.Find(mdtest.KindStdout); ok {
		comp := r.compile(src, base, false)
		if comp.ExitCode != 0 || comp.TimedOut {
			return r.fail(res, fmt.Sprintf("compilation failed with exit code %d", comp.ExitCode), comp.Stderr)
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		got := executeCommand(ctx, base)
		switch {
		case got.TimedOut:
			return r.fail(res, "program timed out", "")
		case got.ExitCode != 0:
			return r.fail(res, fmt.Sprintf("program exited with code %d", got.ExitCode), got.Stderr)
		}
		if diff := cmp.Diff(want.Content, got.Stdout); diff != "" {
			return r.fail(res, "stdout mismatch (-want +got)", diff)
		}
	}

	res.Status, res.Message = StatusPass, "all assertions held"
	return res
}

func (r *runner) fail(res *Result, msg, diff string) *Result {
	res.Status, res.Message, res.Diff = StatusFail, msg, diff
	return res
}

func (r *runner) compile(src, out string, asmOnly bool) Execution {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	args := []string{"-o", out}
	if asmOnly {
		args = append(args, "-S", "-b", "native")
	}
	args = append(args, r.args...)
	args = append(args, src)
	return executeCommand(ctx, r.compiler, args...)
}

// executeCommand runs a command with a timeout and captures its output
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(startTime)}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.TimedOut, res.ExitCode = true, -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.ExitCode = -2
		res.Stderr += "\nExecution error: " + err.Error()
	}
	return res
}

// Cache maps the key of every passing case to a readable label.
type Cache map[string]string

func loadCache(path string) Cache {
	c := make(Cache)
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if json.Unmarshal(data, &c) != nil {
		return make(Cache)
	}
	return c
}

func (c Cache) save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

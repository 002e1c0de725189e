// Command mtest compiles every test case of the Markdown suites with a malc
// binary, runs the programs and compares what they print.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/malanka-lang/malc/pkg/cli"
	"github.com/malanka-lang/malc/pkg/mdtest"
)

type options struct {
	compiler  string
	args      string
	testFiles string
	filter    string
	cacheFile string
	useCache  bool
	timeout   int
	jobs      int
	verbose   bool
}

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func newApp(o *options) *cli.App {
	app := cli.NewApp("mtest")
	app.Synopsis = "[options]"
	app.Description = "Compiles every test case of the Markdown suites with a malc binary, runs the programs and compares what they print."

	fs := app.FlagSet
	fs.String(&o.compiler, "compiler", "c", "./malc", "Path to the malc binary under test.", "path")
	fs.String(&o.args, "args", "a", "", "Extra arguments for the compiler (space-separated).", "args")
	fs.String(&o.testFiles, "test-files", "f", "testdata/*.md", "Glob pattern(s) for Markdown suites (space-separated).", "glob")
	fs.String(&o.filter, "run", "r", "", "Only run cases whose name contains this string.", "name")
	fs.String(&o.cacheFile, "cache", "", ".mtest_cache.json", "File remembering passed cases by content hash.", "file")
	fs.Bool(&o.useCache, "cached", "", false, "Skip cases that passed before with identical content.")
	fs.Int(&o.timeout, "timeout", "", 10, "Timeout in seconds for each command execution.")
	fs.Int(&o.jobs, "jobs", "j", 4, "Number of parallel test jobs.")
	fs.Bool(&o.verbose, "verbose", "v", false, "Print passing cases too.")

	app.Action = func(args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))
		}
		if o.timeout <= 0 || o.jobs <= 0 {
			return fmt.Errorf("--timeout and --jobs must be positive")
		}
		return runSuites(o)
	}
	return app
}

// errFailures reports that at least one case failed; the summary already says which.
var errFailures = errors.New("test failures")

func main() {
	log.SetFlags(0)
	err := newApp(&options{}).Run(os.Args[1:])
	var usage *cli.ErrUsage
	switch {
	case err == nil:
	case errors.Is(err, errFailures):
		os.Exit(1)
	case errors.As(err, &usage):
		os.Exit(2)
	default:
		log.Printf("%s[ERROR]%s %v\n", cRed, cNone, err)
		os.Exit(1)
	}
}

func runSuites(o *options) error {
	files, err := expandGlobPatterns(o.testFiles)
	if err != nil {
		return fmt.Errorf("invalid glob pattern(s): %w", err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return nil
	}

	var jobsList []job
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		cases, err := mdtest.Extract(content)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		for _, c := range cases {
			if o.filter == "" || strings.Contains(c.Name, o.filter) {
				jobsList = append(jobsList, job{File: file, Case: c})
			}
		}
	}

	tempDir, err := os.MkdirTemp("", "mtest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	r := &runner{
		compiler: o.compiler,
		args:     strings.Fields(o.args),
		tempDir:  tempDir,
		timeout:  time.Duration(o.timeout) * time.Second,
	}
	cache := loadCache(o.cacheFile)
	results := runAll(r, jobsList, cache, o.useCache, o.jobs)

	printSummary(results, o.verbose)
	for _, res := range results {
		if res.Status == StatusPass {
			cache[res.Key] = res.File + ": " + res.Name
		}
	}
	if err := cache.save(o.cacheFile); err != nil {
		log.Printf("%s[WARN]%s Could not write cache %s: %v\n", cYellow, cNone, o.cacheFile, err)
	}
	if hasFailures(results) {
		return errFailures
	}
	return nil
}

// setupInterruptHandler is used to clean up on CTRL+C
func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func runAll(r *runner, jobsList []job, cache Cache, useCache bool, workers int) []*Result {
	tasks := make(chan job, len(jobsList))
	out := make(chan *Result, len(jobsList))
	var wg sync.WaitGroup

	for i := 0; i < max(workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range tasks {
				key := r.key(j.Case)
				if _, ok := cache[key]; ok && useCache {
					out <- &Result{File: j.File, Name: j.Case.Name, Key: key, Status: StatusSkip, Message: "Unchanged since the last passing run"}
					continue
				}
				res := r.run(j.Case)
				res.File, res.Key = j.File, key
				out <- res
			}
		}()
	}
	for _, j := range jobsList {
		tasks <- j
	}
	close(tasks)
	wg.Wait()
	close(out)

	var results []*Result
	for res := range out {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].File != results[j].File {
			return results[i].File < results[j].File
		}
		return results[i].Name < results[j].Name
	})
	return results
}

func printSummary(results []*Result, verbose bool) {
	var passed, failed, skipped int
	var lastFile string
	for _, res := range results {
		if res.File != lastFile {
			fmt.Println("----------------------------------------------------------------------")
			fmt.Printf("Testing %s%s%s...\n", cCyan, res.File, cNone)
			lastFile = res.File
		}
		switch res.Status {
		case StatusPass:
			passed++
			if verbose {
				fmt.Printf("  [%sPASS%s] %s (%s)\n", cGreen, cNone, res.Name, res.Duration.Round(time.Millisecond))
			}
		case StatusSkip:
			skipped++
			if verbose {
				fmt.Printf("  [%sSKIP%s] %s: %s\n", cYellow, cNone, res.Name, res.Message)
			}
		default:
			failed++
			fmt.Printf("  [%sFAIL%s] %s: %s\n", cRed, cNone, res.Name, res.Message)
			fmt.Print(formatDiff(res.Diff))
		}
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, len(results))
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-"):
			builder.WriteString(cRed)
		case strings.HasPrefix(trimmed, "+"):
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line + cNone + "\n")
	}
	return builder.String()
}

func hasFailures(results []*Result) bool {
	for _, res := range results {
		if res.Status == StatusFail {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() && !seen[file] {
				allFiles = append(allFiles, file)
				seen[file] = true
			}
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}

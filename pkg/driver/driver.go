// Package driver orchestrates lexer -> parser -> types -> compiler -> VM
// (spec.md §2's "Driver & error reporting"), resolves project.toml and
// package names (spec.md §6), and formats the grouped, position-anchored
// diagnostic sections (spec.md §7) that cmd/quill prints to stderr.
package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"

	"github.com/quilllang/quill/internal/projectfile"
	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/compiler"
	"github.com/quilllang/quill/pkg/lexer"
	"github.com/quilllang/quill/pkg/parser"
	"github.com/quilllang/quill/pkg/scheduler"
	"github.com/quilllang/quill/pkg/types"
	"github.com/quilllang/quill/pkg/vm"
)

// SourceExt is the configured source extension (spec.md §6).
const SourceExt = ".ql"

// Locale selects the diagnostic message language (spec.md §6 --lang).
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleZH Locale = "zh" // also accepts "cn"/"chinese", normalized by ParseLocale
)

// ParseLocale normalizes the --lang flag's accepted spellings.
func ParseLocale(s string) Locale {
	switch s {
	case "zh", "cn", "chinese":
		return LocaleZH
	default:
		return LocaleEN
	}
}

// sectionTitle localizes one of the four diagnostic section headers.
func sectionTitle(loc Locale, section string) string {
	if loc != LocaleZH {
		return section
	}
	switch section {
	case "Syntax Error":
		return "语法错误"
	case "Type Error":
		return "类型错误"
	case "Compile Error":
		return "编译错误"
	case "Runtime Error":
		return "运行时错误"
	default:
		return section
	}
}

// Diagnostics groups one phase's accumulated errors under a section
// header, per spec.md §7's `[Syntax Error]`/`[Type Error]`/
// `[Compile Error]`/`[Runtime Error]` format.
type Diagnostics struct {
	Section string // "Syntax Error" | "Type Error" | "Compile Error" | "Runtime Error"
	Lines   []string
}

// Project describes the resolved project context for an entry file:
// either a project.toml-rooted build, or standalone mode.
type Project struct {
	Standalone      bool
	Manifest        *projectfile.Project
	ExpectedPackage string
}

// ResolveProject walks upward from entryFile looking for project.toml
// (spec.md §6); absence means standalone mode.
func ResolveProject(entryFile string) (*Project, error) {
	abs, err := filepath.Abs(entryFile)
	if err != nil {
		return nil, err
	}
	manifestPath, found := projectfile.Find(filepath.Dir(abs))
	if !found {
		return &Project{Standalone: true}, nil
	}
	proj, err := projectfile.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	expected, err := proj.ExpectedPackage(abs)
	if err != nil {
		return nil, err
	}
	return &Project{Manifest: proj, ExpectedPackage: expected}, nil
}

// Result is what a successful Compile produces.
type Result struct {
	Chunk        *bytecode.Chunk
	Program      *ast.Program
	MonoRequests []types.MonoRequest
}

// Compile runs the front end (lex -> parse -> type-check) and the
// compiler over a single source string, returning either a chunk or a
// *Diagnostics describing which phase failed. Phases never partially
// report: a failing phase halts before the next one runs (spec.md §7).
func Compile(source string, proj *Project) (*Result, *Diagnostics) {
	l := lexer.New(source)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, &Diagnostics{Section: "Syntax Error", Lines: errs}
	}

	expected := ""
	standalone := true
	if proj != nil && !proj.Standalone {
		expected = proj.ExpectedPackage
		standalone = false
	}
	checker := types.New()
	if err := checker.Check(program, expected, standalone); err != nil {
		return nil, &Diagnostics{Section: "Type Error", Lines: flattenErrors(err)}
	}

	c := compiler.New()
	chunk, err := c.Compile(program)
	if err != nil {
		return nil, &Diagnostics{Section: "Compile Error", Lines: flattenErrors(err)}
	}

	return &Result{Chunk: chunk, Program: program, MonoRequests: checker.MonoRequests()}, nil
}

// flattenErrors unwraps a *multierror.Error (or any plain error) into its
// individual messages, in accumulation order.
func flattenErrors(err error) []string {
	if merr, ok := err.(*multierror.Error); ok {
		out := make([]string, len(merr.Errors))
		for i, e := range merr.Errors {
			out[i] = e.Error()
		}
		return out
	}
	return []string{err.Error()}
}

// RunSnippet compiles and executes source on a single direct VM (no
// scheduler, `go` spawns run inline), returning a runtime Diagnostics on
// failure. Unlike Run it never looks up or invokes `main`, so it suits a
// bare sequence of statements. The REPL in cmd/quill does not use it: it
// keeps its own persistent compiler and VM.
func RunSnippet(source string, proj *Project) (*Diagnostics, error) {
	result, diag := Compile(source, proj)
	if diag != nil {
		return diag, nil
	}
	machine := vm.New(result.Chunk)
	if _, err := machine.Run(); err != nil {
		return &Diagnostics{Section: "Runtime Error", Lines: []string{err.Error()}}, nil
	}
	return nil, nil
}

// Run compiles source and executes it as a full entry file: top-level
// statements run first (a standalone script's body, if any), then, if the
// file declares `main`, it is invoked through the GMP scheduler so any
// `go` spawns inside it get real concurrency (spec.md §8 scenario 5).
// This is `quill run <file>`'s core.
func Run(source string, proj *Project, processorCount int) (*Diagnostics, error) {
	result, diag := Compile(source, proj)
	if diag != nil {
		return diag, nil
	}

	machine := vm.New(result.Chunk)
	if _, err := machine.Run(); err != nil {
		return &Diagnostics{Section: "Runtime Error", Lines: []string{err.Error()}}, nil
	}

	mainFn, ok := machine.Globals()["main"]
	if !ok {
		return nil, nil
	}
	if processorCount <= 0 {
		processorCount = runtime.NumCPU()
	}
	sched := scheduler.New(result.Chunk, processorCount)
	if _, err := sched.RunMain(mainFn, machine.Globals()); err != nil {
		return &Diagnostics{Section: "Runtime Error", Lines: []string{err.Error()}}, nil
	}
	return nil, nil
}

// Report prints diag to stderr in spec.md §7's grouped, position-anchored
// format: `[Section]` header, one `[line:col] message` per line. Color is
// applied via fatih/color, which itself disables ANSI codes automatically
// when stderr isn't a terminal.
func Report(diag *Diagnostics, loc Locale) {
	header := color.New(color.Bold, color.FgRed)
	prefix := color.New(color.FgYellow)

	fmt.Fprintf(os.Stderr, "%s\n", header.Sprintf("[%s]", sectionTitle(loc, diag.Section)))
	for _, line := range diag.Lines {
		lc, msg := splitLineCol(line)
		if lc != "" {
			fmt.Fprintf(os.Stderr, "  %s %s\n", prefix.Sprintf("[%s]", lc), msg)
		} else {
			fmt.Fprintf(os.Stderr, "  %s\n", line)
		}
	}
}

// splitLineCol pulls a leading "12:3: message" apart into ("12:3",
// "message"); returns ("", line) when the line doesn't start with that shape.
func splitLineCol(line string) (lineCol, message string) {
	colon := -1
	seenDigit := false
	for i, r := range line {
		if r >= '0' && r <= '9' {
			seenDigit = true
			continue
		}
		if r == ':' && seenDigit {
			colon = i
			break
		}
		break
	}
	if colon < 0 {
		return "", line
	}
	// find the second colon ending the column number
	rest := line[colon+1:]
	second := -1
	for i, r := range rest {
		if r >= '0' && r <= '9' {
			continue
		}
		if r == ':' {
			second = i
		}
		break
	}
	if second < 0 {
		return "", line
	}
	return line[:colon+1+second], line[colon+1+second+2:]
}

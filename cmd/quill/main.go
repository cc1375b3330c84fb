// Command quill is the Quill language CLI: compile and run .ql source
// files, drive a persistent REPL, or inspect .qlc bytecode (spec.md §6).
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/compiler"
	"github.com/quilllang/quill/pkg/driver"
	"github.com/quilllang/quill/pkg/lexer"
	"github.com/quilllang/quill/pkg/parser"
	"github.com/quilllang/quill/pkg/vm"
)

const version = "0.1.0"

var langFlag string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "quill [file]",
		Short:   "Quill — a compiled, GC'd, coroutine-scheduled scripting language",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		// Bare `quill <file.ql>` is equivalent to `quill run <file.ql>`
		// (spec.md §6).
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				runREPL()
				return nil
			}
			return runFile(args[0])
		},
	}
	root.PersistentFlags().StringVar(&langFlag, "lang", "en", "diagnostic locale: en|zh|cn|chinese")
	root.Flags().BoolP("version", "v", false, "print the version number")
	root.SetVersionTemplate("quill version {{.Version}}\n")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quill version %s\n", version)
		},
	}
	root.AddCommand(newRunCmd(), newReplCmd(), newCompileCmd(), newDisassembleCmd(), versionCmd)
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "compile and execute a .ql source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0])
		},
	}
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "start an interactive read-eval-print loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL()
			return nil
		},
	}
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <in.ql> [out.qlc]",
		Short: "compile a .ql source file to .qlc bytecode (reserved format, §6)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			out := ""
			if len(args) == 2 {
				out = args[1]
			}
			return compileFile(in, out)
		},
	}
}

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disassemble <file.qlc>",
		Aliases: []string{"disasm"},
		Short:   "print a human-readable disassembly of a .qlc bytecode file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disassembleFile(args[0])
		},
	}
}

func loc() driver.Locale { return driver.ParseLocale(langFlag) }

// runFile implements `quill run <file>` / bare-file form: locates the
// project (or standalone mode), compiles, and executes, printing any
// diagnostics in the grouped §7 format and exiting 1 on failure.
func runFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}

	proj, err := driver.ResolveProject(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}

	diag, err := driver.Run(string(data), proj, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}
	if diag != nil {
		driver.Report(diag, loc())
		os.Exit(1)
	}
	return nil
}

func compileFile(inputFile, outputFile string) error {
	if outputFile == "" {
		ext := filepath.Ext(inputFile)
		outputFile = strings.TrimSuffix(inputFile, ext) + ".qlc"
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}

	proj, err := driver.ResolveProject(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}

	result, diag := driver.Compile(string(data), proj)
	if diag != nil {
		driver.Report(diag, loc())
		os.Exit(1)
	}

	out, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	if err := bytecode.Encode(out, result.Chunk); err != nil {
		fmt.Fprintf(os.Stderr, "quill: error writing bytecode: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("compiled %s -> %s\n", inputFile, outputFile)
	return nil
}

func disassembleFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	chunk, err := bytecode.Decode(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: error loading bytecode: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(bytecode.Disassemble(chunk))
	fmt.Println()
	fmt.Println(bytecode.DisassembleTypeTree(chunk))
	return nil
}

// runREPL starts an interactive session: a persistent compiler and VM so
// locals/globals/classes survive across inputs (the teacher CLI's own
// REPL behavior, kept per DESIGN.md). peterh/liner provides history and
// line editing; input is considered complete once the latest line, with
// surrounding whitespace trimmed, ends with `;` or `}`, otherwise the
// REPL keeps reading continuation lines.
func runREPL() {
	fmt.Printf("quill %s\n", version)
	fmt.Println("Type :help for help, :quit or :exit to leave")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	c := compiler.New()
	var persistentVM *vm.VM

	var buf strings.Builder
	for {
		prompt := "quill> "
		if buf.Len() > 0 {
			prompt = "   ... "
		}
		input, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "quill: %v\n", err)
			return
		}
		line.AppendHistory(input)

		trimmed := strings.TrimSpace(input)
		if buf.Len() == 0 {
			switch trimmed {
			case ":quit", ":exit":
				return
			case ":help":
				printREPLHelp()
				continue
			case "":
				continue
			}
		}

		buf.WriteString(input)
		buf.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") && !strings.HasSuffix(trimmed, "}") {
			continue
		}

		src := buf.String()
		buf.Reset()

		l := lexer.New(src)
		p := parser.New(l)
		program := p.ParseProgram()
		if errs := p.Errors(); len(errs) > 0 {
			driver.Report(&driver.Diagnostics{Section: "Syntax Error", Lines: errs}, loc())
			continue
		}

		chunk, err := c.Compile(program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[Compile Error]\n  %s\n", err)
			continue
		}

		if persistentVM == nil {
			persistentVM = vm.New(chunk)
		} else {
			persistentVM.SyncGlobals()
		}
		if _, err := persistentVM.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "[Runtime Error]\n  %s\n", err)
		}
	}
}

func printREPLHelp() {
	fmt.Println("Commands:")
	fmt.Println("  :help     show this help")
	fmt.Println("  :quit     leave the REPL")
	fmt.Println("  :exit     leave the REPL")
	fmt.Println()
	fmt.Println("Statements are evaluated once complete (ending in ';' or '}').")
}

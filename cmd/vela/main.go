package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"vela-vm/internal/bytecode"
	"vela-vm/internal/builtin"
	"vela-vm/internal/builtin/stdlib"
	"vela-vm/internal/compiler"
	"vela-vm/internal/heap"
	"vela-vm/internal/lexer"
	"vela-vm/internal/parser"
	"vela-vm/internal/sema"
	"vela-vm/internal/vm"
)

const Version = "v0.1.0"

func main() {
	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")
	showGCStats := flag.Bool("gc-stats", false, "Print collector stats after the program runs")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vela [options] [file]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("vela %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		startREPL(*showDisassembly, *showGCStats)
		return
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %s\n", err)
		os.Exit(1)
	}
	os.Exit(runSource(args[0], string(content), *showDisassembly, *showGCStats))
}

// runSource lexes, parses, resolves, and compiles one complete program,
// runs it on a fresh VM, and returns the process exit code.
func runSource(name, src string, showDisasm, gcStats bool) int {
	registry := stdlib.Install(builtin.NewRegistry())

	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return 1
	}

	table, err := sema.Resolve(program, registry)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	h := heap.New()
	entry, err := compiler.Compile(program, table, registry, h)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if showDisasm {
		fmt.Println(bytecode.DisassembleChunk(entry.Template, name))
	}

	machine := vm.New(h, registry)
	_, err = machine.Run(entry)
	if gcStats {
		printGCStats(machine)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func printGCStats(machine *vm.VM) {
	s := machine.Heap().TotalStats()
	fmt.Printf("gc: %d collections, %s swept across %d objects, %d live\n",
		s.Collections, humanize.Bytes(s.BytesSwept), s.Swept, s.LiveAfter)
}

// startREPL reads lines from stdin, accumulating them into one buffer
// until a blank line is seen; at that point the buffer is compiled and
// run as one program on a shared VM (so globals persist across
// entries), then cleared. `exit` on its own line quits immediately.
func startREPL(showDisasm, gcStats bool) {
	colorize := isatty.IsTerminal(os.Stdout.Fd())
	prompt := func(continuing bool) string {
		if continuing {
			return "... "
		}
		return ">>> "
	}

	fmt.Printf("vela %s\n", Version)
	fmt.Println("Type 'exit' to quit.")

	registry := stdlib.Install(builtin.NewRegistry())
	h := heap.New()
	machine := vm.New(h, registry)

	scanner := bufio.NewScanner(os.Stdin)
	var buf strings.Builder

	for {
		fmt.Print(prompt(buf.Len() > 0))

		if !scanner.Scan() {
			return
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == "exit" && buf.Len() == 0 {
			return
		}

		if strings.TrimSpace(line) == "" {
			if buf.Len() == 0 {
				continue
			}
			replOnce(machine, registry, buf.String(), showDisasm, gcStats, colorize)
			buf.Reset()
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
	}
}

func replOnce(machine *vm.VM, registry *builtin.Registry, src string, showDisasm, gcStats, colorize bool) {
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			printErr(e.Error(), colorize)
		}
		return
	}

	table, err := sema.Resolve(program, registry)
	if err != nil {
		printErr(err.Error(), colorize)
		return
	}

	entry, err := compiler.Compile(program, table, registry, machine.Heap())
	if err != nil {
		printErr(err.Error(), colorize)
		return
	}

	if showDisasm {
		fmt.Println(bytecode.DisassembleChunk(entry.Template, "REPL"))
	}

	result, err := machine.Run(entry)
	if err != nil {
		printErr(err.Error(), colorize)
		return
	}
	if gcStats {
		printGCStats(machine)
	}
	fmt.Println(result.String())
}

func printErr(msg string, colorize bool) {
	if colorize {
		fmt.Fprintf(os.Stderr, "\x1b[31m%s\x1b[0m\n", msg)
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

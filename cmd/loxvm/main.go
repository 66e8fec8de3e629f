// Command loxvm compiles and runs Source Language programs: a file given
// as an argument is run to completion, otherwise input is read
// interactively as a REPL.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/kristofer/loxvm/pkg/vm"
)

const version = "0.1.0"

var cli struct {
	Script   string           `arg:"" optional:"" help:"Source file to run. Omit to start a REPL."`
	Dump     bool             `help:"Disassemble compiled bytecode instead of running it."`
	StressGC bool             `help:"Run a full garbage collection before every allocation."`
	LogGC    bool             `help:"Log a line after every collection cycle."`
	Version  kong.VersionFlag `help:"Show version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("loxvm"),
		kong.Description("A bytecode compiler and virtual machine for the Source Language."),
		kong.Vars{"version": version},
	)

	opts := []vm.Option{}
	if cli.StressGC {
		opts = append(opts, vm.WithStressGC())
	}
	if cli.LogGC {
		opts = append(opts, vm.WithLogGC())
	}

	if cli.Script != "" {
		os.Exit(runFile(cli.Script, opts))
	}
	os.Exit(runREPL(opts))
}

func runFile(path string, opts []vm.Option) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loxvm: %v\n", err)
		return 74
	}

	if cli.Dump {
		return dumpSource(string(source))
	}

	machine := vm.New(opts...)
	result, interpErr := machine.Interpret(string(source))
	return exitCodeFor(result, interpErr)
}

func dumpSource(source string) int {
	machine := vm.New()
	function, err := vm.Compile(machine, source)
	if function == nil {
		fmt.Fprintln(os.Stderr, err)
		return 65
	}
	dumpFunction(os.Stdout, function, "<script>")
	return 0
}

func dumpFunction(w io.Writer, f *vm.ObjFunction, name string) {
	vm.DisassembleChunk(w, &f.Chunk, name)
	for _, c := range f.Chunk.Constants {
		if c.IsFunction() {
			nested := c.AsFunction()
			label := nested.String()
			dumpFunction(w, nested, label)
		}
	}
}

// exitCodeFor maps an interpreter outcome to a process exit status: 65 for
// a compile-time error, 70 for a runtime error, otherwise the process
// inherits whatever code an exit() call requested (0 if the script never
// called exit()).
func exitCodeFor(result vm.InterpretResult, err error) int {
	switch result {
	case vm.InterpretCompileError:
		fmt.Fprintln(os.Stderr, err)
		return 65
	case vm.InterpretRuntimeError:
		fmt.Fprintln(os.Stderr, err)
		return 70
	default:
		if code, ok := vm.ExitCode(err); ok {
			return code
		}
		return 0
	}
}

func runREPL(opts []vm.Option) int {
	machine := vm.New(opts...)

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return runPipedREPL(machine)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFilePath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "loxvm: %v\n", err)
		return 1
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "loxvm: %v\n", err)
			return 1
		}
		if line == "" {
			continue
		}

		evalREPLLine(machine, line)
	}
}

// runPipedREPL is the non-interactive fallback when stdin isn't a TTY
// (scripts piping source in, CI, etc.): no history, no line editing, just
// line-at-a-time evaluation.
func runPipedREPL(machine *vm.VM) int {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		evalREPLLine(machine, line)
	}
	return 0
}

// evalREPLLine runs one line of REPL input: a line beginning with the
// "DUMP" command disassembles the rest of the line instead of running it
// (the REPL counterpart to the --dump flag), anything else is interpreted
// and run to completion against machine's persistent global state.
func evalREPLLine(machine *vm.VM, line string) {
	if source, ok := strings.CutPrefix(line, "DUMP "); ok {
		function, err := vm.Compile(machine, source)
		if function == nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		dumpFunction(os.Stdout, function, "<script>")
		return
	}

	if _, err := machine.Interpret(line); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.loxvm_history"
}

package cmd

import (
	"fmt"
	"os"
	"os/user"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dr8co/klox/diag"
	"github.com/dr8co/klox/evaluator"
	"github.com/dr8co/klox/repl"
)

var evalExpr string

var rootRunArgs = cobra.MaximumNArgs(1)

func init() {
	rootCmd.Args = rootRunArgs
	rootCmd.RunE = runInterpret
	rootCmd.Flags().StringVarP(&evalExpr, "eval", "e", "", "evaluate inline Lox code instead of reading a file")
}

// runInterpret is the root command's default action: Scanner, Parser,
// Resolver, Evaluator. With no file and no -e, it starts the REPL
// instead, choosing the bubbletea UI
// only when both stdin and stdout are terminals and falling back to the
// readline-based line REPL otherwise (piped input, CI).
func runInterpret(cmd *cobra.Command, args []string) error {
	if evalExpr == "" && len(args) == 0 {
		startREPL()
		return nil
	}

	source, filename, err := readInput(evalExpr, args)
	if err != nil {
		return err
	}
	diag.SetSource(source)

	program := scanAndParse(source, filename)
	res := resolveOrExit(program, source, filename)

	ev := evaluator.New(res.Depths)
	if runErr := ev.Run(program); runErr != nil {
		fmt.Fprintln(os.Stderr, diag.RenderRuntimeError(runErr))
		os.Exit(exitRuntime)
	}
	return nil
}

func startREPL() {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	opts := repl.Options{NoColor: noColor, Debug: debug, Backtrace: backtrace}
	if cfg, err := repl.LoadConfig(""); err == nil {
		opts.NoColor = opts.NoColor || cfg.NoColor
		opts.Backtrace = opts.Backtrace || cfg.Backtrace
		if cfg.Backend == "vm" {
			opts.Backend = repl.BackendVM
		}
	}

	if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
		repl.Start(username, opts)
		return
	}
	repl.StartLine(os.Stdin, os.Stdout, opts)
}

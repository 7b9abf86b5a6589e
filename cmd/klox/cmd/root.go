// Package cmd implements klox's command-line surface: one spf13/cobra
// subcommand per pipeline/backend combination. Everything here is
// intentionally thin — the CLI entry point, its argument parsing, and
// file I/O touch the phases only through the interfaces they expose.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 on success, 65 on any compile-time error
// (scan, parse, resolve, or bytecode-compile), 70 on any runtime error.
const (
	exitOK      = 0
	exitCompile = 65
	exitRuntime = 70
)

var (
	noColor   bool
	backtrace bool
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "klox",
	Short: "klox - a Lox language implementation with three execution backends",
	Long: `klox implements the Lox programming language from Crafting Interpreters:
a tree-walk evaluator, a stack-based bytecode virtual machine, and an
LLVM IR emitter, sharing one scanner/parser/resolver frontend.

Without a subcommand, klox starts an interactive REPL.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if backtrace {
			_ = os.Setenv("BACKTRACE", "1")
		}
	},
}

// Execute runs the root command, returning any error for main to turn
// into an exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable syntax highlighting and colored output")
	rootCmd.PersistentFlags().BoolVar(&backtrace, "backtrace", false, "append a call-stack backtrace to runtime errors (same as BACKTRACE=1)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable verbose diagnostic output")
}

func exitWithCode(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

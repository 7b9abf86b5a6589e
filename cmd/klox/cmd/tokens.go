package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dr8co/klox/diag"
	"github.com/dr8co/klox/lexer"
)

var dumpTokensCmd = &cobra.Command{
	Use:   "dump-tokens [file]",
	Short: "Scan a Lox program and print its token stream",
	Long:  `Runs only the scanner and prints one line per token.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDumpTokens,
}

func init() {
	rootCmd.AddCommand(dumpTokensCmd)
	dumpTokensCmd.Flags().StringVarP(&evalExpr, "eval", "e", "", "scan inline Lox code instead of reading a file")
}

func runDumpTokens(cmd *cobra.Command, args []string) error {
	source, filename, err := readInput(evalExpr, args)
	if err != nil {
		return err
	}

	l := lexer.New(source)
	tokens, errs := l.ScanAll()
	fmt.Print(lexer.DumpTokens(tokens, source))

	if len(errs) != 0 {
		fmt.Fprintln(os.Stderr, diag.RenderAll(source, filename, diag.FromScanErrors(errs)))
		os.Exit(exitCompile)
	}
	return nil
}

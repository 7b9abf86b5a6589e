package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dr8co/klox/ast"
)

var dumpASTEval string

var dumpASTCmd = &cobra.Command{
	Use:   "dump-ast [file]",
	Short: "Parse a Lox program and print its AST as s-expressions",
	Long:  `Runs Scanner -> Parser and prints the resulting AST, one declaration per line, parenthesized.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDumpAST,
}

func init() {
	rootCmd.AddCommand(dumpASTCmd)
	dumpASTCmd.Flags().StringVarP(&dumpASTEval, "eval", "e", "", "parse inline Lox code instead of reading a file")
}

func runDumpAST(cmd *cobra.Command, args []string) error {
	source, filename, err := readInput(dumpASTEval, args)
	if err != nil {
		return err
	}

	program := scanAndParse(source, filename)
	fmt.Print(ast.Dump(program))
	return nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dr8co/klox/compiler"
)

var disasmEval string

var disasmCmd = &cobra.Command{
	Use:   "disassemble [file]",
	Short: "Compile a Lox program and pretty-print its bytecode chunks",
	Long: `Runs Scanner -> Parser -> Bytecode compiler and prints a human-readable
disassembly of the resulting chunk, recursing into every nested function
chunk.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDisasm,
}

func init() {
	rootCmd.AddCommand(disasmCmd)
	disasmCmd.Flags().StringVarP(&disasmEval, "eval", "e", "", "disassemble inline Lox code instead of reading a file")
}

func runDisasm(cmd *cobra.Command, args []string) error {
	source, filename, err := readInput(disasmEval, args)
	if err != nil {
		return err
	}

	program := scanAndParse(source, filename)

	proto, cerrs := compiler.Compile(source, program)
	if len(cerrs) != 0 {
		for _, e := range cerrs {
			fmt.Printf("Error at line %d: %s\n", e.Span.Line(source), e.Message)
		}
		exitWithCode(exitCompile, "disassembly aborted: %d compile error(s)", len(cerrs))
	}

	fmt.Print(proto.Disassemble())
	return nil
}

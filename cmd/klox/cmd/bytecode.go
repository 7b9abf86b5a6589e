package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dr8co/klox/bytefile"
	"github.com/dr8co/klox/compiler"
	"github.com/dr8co/klox/diag"
	"github.com/dr8co/klox/vm"
)

var compileOut string

var compileBytecodeCmd = &cobra.Command{
	Use:   "compile-bytecode [file]",
	Short: "Compile a Lox program to a klox bytecode file",
	Long: `Compile runs Scanner -> Parser -> Resolver -> Bytecode compiler and
serializes the resulting chunk to a klox bytecode file,
ready for "klox bytecode run".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompileBytecode,
}

var bytecodeCmd = &cobra.Command{
	Use:   "bytecode",
	Short: "Bytecode backend commands",
}

var bytecodeRunCmd = &cobra.Command{
	Use:   "run <file.bloxc>",
	Short: "Deserialize and run a klox bytecode file",
	Long:  `Deserializes a klox bytecode file and runs it in the VM.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runBytecodeFile,
}

func init() {
	rootCmd.AddCommand(compileBytecodeCmd)
	rootCmd.AddCommand(bytecodeCmd)
	bytecodeCmd.AddCommand(bytecodeRunCmd)

	compileBytecodeCmd.Flags().StringVarP(&compileOut, "out", "o", "out.bloxc", "output bytecode file path")
}

func runCompileBytecode(cmd *cobra.Command, args []string) error {
	source, filename, err := readInput("", args)
	if err != nil {
		return err
	}
	diag.SetSource(source)

	program := scanAndParse(source, filename)
	resolveOrExit(program, source, filename)

	proto, cerrs := compiler.Compile(source, program)
	if len(cerrs) != 0 {
		for _, e := range cerrs {
			fmt.Fprintf(os.Stderr, "Error at line %d: %s\n", e.Span.Line(source), e.Message)
		}
		os.Exit(exitCompile)
	}

	data, err := bytefile.Encode(proto)
	if err != nil {
		return fmt.Errorf("encoding bytecode: %w", err)
	}
	if err := os.WriteFile(compileOut, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", compileOut, err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", compileOut, len(data))
	return nil
}

func runBytecodeFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	proto, err := bytefile.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	machine := vm.New()
	if runErr := machine.Run(proto); runErr != nil {
		fmt.Fprintln(os.Stderr, diag.RenderRuntimeError(runErr))
		os.Exit(exitRuntime)
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dr8co/klox/irgen"
)

var (
	irOut        string
	nativeOut    string
	runtimeLib   string
	clangPath    string
	keepIRSource bool
)

var compileIRCmd = &cobra.Command{
	Use:   "compile-ir [file]",
	Short: "Emit LLVM IR text for a Lox program",
	Long: `Lowers the AST directly to LLVM IR text, skipping the
bytecode representation entirely, and writes it to --out.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompileIR,
}

var compileNativeCmd = &cobra.Command{
	Use:   "compile-native [file]",
	Short: "Emit LLVM IR and link it into a native executable",
	Long: `Emits LLVM IR the same way compile-ir does, then invokes an external
clang to assemble and link it against klox's C support library — an
object file or static archive implementing the ABI declared in package
irgen. The support library's internal layout is its own
business; only its ABI is klox's concern.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompileNative,
}

func init() {
	rootCmd.AddCommand(compileIRCmd)
	rootCmd.AddCommand(compileNativeCmd)

	compileIRCmd.Flags().StringVarP(&irOut, "out", "o", "out.ll", "output LLVM IR file path")

	compileNativeCmd.Flags().StringVarP(&nativeOut, "out", "o", "a.out", "output executable path")
	compileNativeCmd.Flags().StringVar(&runtimeLib, "runtime", "runtime.o", "path to the compiled C support library implementing irgen's ABI")
	compileNativeCmd.Flags().StringVar(&clangPath, "clang", "clang", "path to the clang executable used to assemble and link")
	compileNativeCmd.Flags().BoolVar(&keepIRSource, "keep-ir", false, "keep the intermediate .ll file instead of deleting it")
}

func emitIR(args []string) (irText string, filename string) {
	source, filename, err := readInput("", args)
	if err != nil {
		exitWithCode(1, "%s", err)
	}

	program := scanAndParse(source, filename)
	resolveOrExit(program, source, filename)

	ir, errs := irgen.Emit(source, program)
	if len(errs) != 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error at line %d: %s\n", e.Span.Line(source), e.Message)
		}
		os.Exit(exitCompile)
	}
	return ir, filename
}

func runCompileIR(cmd *cobra.Command, args []string) error {
	ir, _ := emitIR(args)
	if err := os.WriteFile(irOut, []byte(ir), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", irOut, err)
	}
	fmt.Printf("Wrote %s\n", irOut)
	return nil
}

func runCompileNative(cmd *cobra.Command, args []string) error {
	ir, filename := emitIR(args)

	llPath := nativeOut + ".ll"
	if filename != "<eval>" && filename != "<stdin>" {
		llPath = strings.TrimSuffix(filename, ".lox") + ".ll"
	}
	if err := os.WriteFile(llPath, []byte(ir), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", llPath, err)
	}
	if !keepIRSource {
		defer os.Remove(llPath)
	}

	link := exec.Command(clangPath, llPath, runtimeLib, "-o", nativeOut)
	link.Stdout = os.Stdout
	link.Stderr = os.Stderr
	if err := link.Run(); err != nil {
		return fmt.Errorf("linking %s with %s: %w", llPath, runtimeLib, err)
	}
	fmt.Printf("Wrote %s\n", nativeOut)
	return nil
}

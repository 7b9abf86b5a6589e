package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/diag"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/resolver"
)

// readInput resolves a subcommand's source text from either an inline
// -e/--eval flag, a single positional file argument, or stdin.
func readInput(evalExpr string, args []string) (source, filename string, err error) {
	if evalExpr != "" {
		return evalExpr, "<eval>", nil
	}
	if len(args) == 1 {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("reading %s: %w", args[0], err)
		}
		return string(content), args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), "<stdin>", nil
}

// scanAndParse runs the scanner and parser, reporting and exiting (code
// 65) on any error from either phase. Scan errors come
// first in the combined report, in source order like the parse errors.
func scanAndParse(source, filename string) *ast.Program {
	l := lexer.New(source)
	p := parser.New(l)
	program, perrs := p.ParseProgram()
	all := diag.FromScanErrors(l.Errors())
	all = append(all, diag.FromParseErrors(perrs)...)
	if len(all) != 0 {
		fmt.Fprint(os.Stderr, diag.RenderAll(source, filename, all))
		fmt.Fprintln(os.Stderr)
		os.Exit(exitCompile)
	}
	return program
}

// resolveOrExit runs the resolver, reporting and exiting (code 65) on any
// semantic error.
func resolveOrExit(program *ast.Program, source, filename string) resolver.Result {
	res := resolver.Resolve(program)
	if len(res.Errors) != 0 {
		fmt.Fprint(os.Stderr, diag.RenderAll(source, filename, diag.FromResolveErrors(res.Errors)))
		fmt.Fprintln(os.Stderr)
		os.Exit(exitCompile)
	}
	return res
}

// Command klox is the command-line entry point for the Lox language
// implementation. It is intentionally thin — argument parsing, file
// I/O, and terminal interaction live here and nowhere else, so this
// package only wires the cobra
// subcommands in package cmd to the scanner/parser/resolver and the
// three execution backends.
package main

import (
	"os"

	"github.com/dr8co/klox/cmd/klox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

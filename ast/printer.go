package ast

import "strings"

// Dump renders a program as a deterministic, newline-separated
// s-expression listing, one declaration per line — the format used by the
// `dump-ast` CLI mode. It is just Program.String with one
// declaration per line, since every node already knows how to render
// itself parenthesized.
func Dump(p *Program) string {
	var out strings.Builder
	for _, d := range p.Declarations {
		out.WriteString(d.String())
		out.WriteString("\n")
	}
	return out.String()
}

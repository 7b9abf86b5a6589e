package ast

import (
	"testing"

	"github.com/dr8co/klox/token"
)

func TestExprIDsAreStableAndDistinct(t *testing.T) {
	gen := &IDGen{}

	a := NewLiteral(gen, token.Token{Kind: token.NUMBER, Lexeme: "1"}, 1.0)
	b := NewLiteral(gen, token.Token{Kind: token.NUMBER, Lexeme: "1"}, 1.0)

	if a.ID() == b.ID() {
		t.Fatalf("two distinct literal nodes got the same id: %d", a.ID())
	}
	if a.ID() != 0 || b.ID() != 1 {
		t.Fatalf("ids not allocated in source order: got %d, %d", a.ID(), b.ID())
	}
	if a.ID() != a.ID() {
		t.Fatalf("id not stable across calls")
	}
}

func TestBinaryString(t *testing.T) {
	gen := &IDGen{}
	left := NewLiteral(gen, token.Token{Lexeme: "1"}, 1.0)
	right := NewLiteral(gen, token.Token{Lexeme: "2"}, 2.0)
	bin := NewBinary(gen, left, token.Token{Kind: token.PLUS, Lexeme: "+"}, right)

	want := "(+ 1 2)"
	if got := bin.String(); got != want {
		t.Fatalf("Binary.String() = %q, want %q", got, want)
	}
}

func TestProgramDump(t *testing.T) {
	gen := &IDGen{}
	lit := NewLiteral(gen, token.Token{Lexeme: "1"}, 1.0)
	prog := &Program{Declarations: []Declaration{
		&StmtDecl{Stmt: &PrintStmt{Keyword: token.Token{Lexeme: "print"}, Expr: lit}},
	}}

	want := "(print 1)\n"
	if got := Dump(prog); got != want {
		t.Fatalf("Dump() = %q, want %q", got, want)
	}
}

package parser

import (
	"testing"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/lexer"
)

func parseProgram(t *testing.T, src string) (*ast.Program, []Error) {
	t.Helper()
	p := New(lexer.New(src))
	return p.ParseProgram()
}

func TestVarDeclaration(t *testing.T) {
	prog, errs := parseProgram(t, `var x = 1 + 2;`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(prog.Declarations) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(prog.Declarations))
	}
	v, ok := prog.Declarations[0].(*ast.VarDecl)
	if !ok {
		t.Fatalf("expected *ast.VarDecl, got %T", prog.Declarations[0])
	}
	if v.Name.Lexeme != "x" {
		t.Fatalf("expected name x, got %s", v.Name.Lexeme)
	}
	if got, want := v.Initializer.String(), "(+ 1 2)"; got != want {
		t.Fatalf("initializer = %q, want %q", got, want)
	}
}

func TestClassWithSuperclassAndMethod(t *testing.T) {
	prog, errs := parseProgram(t, `class B < A { greet() { return this.name; } }`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	cd, ok := prog.Declarations[0].(*ast.ClassDecl)
	if !ok {
		t.Fatalf("expected *ast.ClassDecl, got %T", prog.Declarations[0])
	}
	if cd.Superclass == nil || cd.Superclass.Name.Lexeme != "A" {
		t.Fatalf("expected superclass A, got %+v", cd.Superclass)
	}
	if len(cd.Methods) != 1 || cd.Methods[0].Name.Lexeme != "greet" {
		t.Fatalf("expected one method 'greet', got %+v", cd.Methods)
	}
}

func TestForDesugarsToWhile(t *testing.T) {
	prog, errs := parseProgram(t, `for (var i = 0; i < 3; i = i + 1) print i;`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	block, ok := prog.Declarations[0].(*ast.StmtDecl).Stmt.(*ast.Block)
	if !ok {
		t.Fatalf("expected desugared for to produce a block, got %T", prog.Declarations[0])
	}
	if _, ok := block.Declarations[0].(*ast.VarDecl); !ok {
		t.Fatalf("expected first block declaration to be the loop-var init, got %T", block.Declarations[0])
	}
	stmtDecl, ok := block.Declarations[1].(*ast.StmtDecl)
	if !ok {
		t.Fatalf("expected second declaration to wrap the while loop, got %T", block.Declarations[1])
	}
	if _, ok := stmtDecl.Stmt.(*ast.While); !ok {
		t.Fatalf("expected desugared for body to be *ast.While, got %T", stmtDecl.Stmt)
	}
}

func TestAssignmentTargetValidation(t *testing.T) {
	_, errs := parseProgram(t, `1 = 2;`)
	if len(errs) == 0 {
		t.Fatalf("expected an 'invalid assignment target' error")
	}
}

func TestTooManyArguments(t *testing.T) {
	src := "f("
	for i := 0; i < 256; i++ {
		if i > 0 {
			src += ","
		}
		src += "1"
	}
	src += ");"

	_, errs := parseProgram(t, src)
	if len(errs) == 0 {
		t.Fatalf("expected an argument-count error")
	}
}

func TestSynchronizeRecoversAfterError(t *testing.T) {
	// Missing semicolon after the first statement should not swallow the
	// whole rest of the program.
	prog, errs := parseProgram(t, `print 1 print 2;`)
	if len(errs) == 0 {
		t.Fatalf("expected at least one parse error")
	}
	if len(prog.Declarations) == 0 {
		t.Fatalf("expected parser to recover and keep parsing")
	}
}

func TestPropertyGetAndSet(t *testing.T) {
	prog, errs := parseProgram(t, `a.b.c = 1;`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	stmt := prog.Declarations[0].(*ast.StmtDecl).Stmt.(*ast.ExpressionStmt)
	set, ok := stmt.Expr.(*ast.Set)
	if !ok {
		t.Fatalf("expected *ast.Set, got %T", stmt.Expr)
	}
	if set.Name.Lexeme != "c" {
		t.Fatalf("expected field 'c', got %s", set.Name.Lexeme)
	}
}

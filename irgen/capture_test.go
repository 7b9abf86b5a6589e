package irgen

import (
	"testing"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
)

func parseProgram(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(src))
	program, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", perrs)
	}
	return program
}

func TestLocalReadFromNestedFunctionIsCaptured(t *testing.T) {
	program := parseProgram(t, `
fun outer() {
  var x = 1;
  fun inner() { print x; }
}
`)
	info := analyze(program)

	outer := program.Declarations[0].(*ast.FunDecl).Fn
	varX := outer.Body[0].(*ast.VarDecl)
	if !info.varCaptured(varX) {
		t.Fatal("x is read from a nested function and must be cell-promoted")
	}
}

func TestLocalUsedOnlyLocallyIsNotCaptured(t *testing.T) {
	program := parseProgram(t, `
fun f() {
  var y = 1;
  print y;
}
`)
	info := analyze(program)
	varY := program.Declarations[0].(*ast.FunDecl).Fn.Body[0].(*ast.VarDecl)
	if info.varCaptured(varY) {
		t.Fatal("y never crosses a function boundary; a plain stack slot suffices")
	}
}

func TestParameterCapturedByClosure(t *testing.T) {
	program := parseProgram(t, `
fun adder(n) {
  fun add(x) { return x + n; }
  return add;
}
`)
	info := analyze(program)
	adder := program.Declarations[0].(*ast.FunDecl).Fn
	if !info.paramCaptured(adder, 0) {
		t.Fatal("parameter n is captured by the returned closure")
	}
}

func TestThisCapturedByNestedFunction(t *testing.T) {
	program := parseProgram(t, `
class C {
  m() {
    fun peek() { return this.v; }
    return peek;
  }
}
`)
	info := analyze(program)
	m := program.Declarations[0].(*ast.ClassDecl).Methods[0]
	if !info.thisCaptured(m) {
		t.Fatal("this escapes into a nested function and must be cell-promoted")
	}
}

func TestRecursiveLocalFunctionIsCaptured(t *testing.T) {
	program := parseProgram(t, `
fun outer() {
  fun f() { f(); }
}
`)
	info := analyze(program)
	outer := program.Declarations[0].(*ast.FunDecl).Fn
	f := outer.Body[0].(*ast.FunDecl).Fn
	if !info.funCaptured(f) {
		t.Fatal("a self-referencing local function reads its own binding from one level deeper")
	}
}

func TestFreeVariablesAreTransitive(t *testing.T) {
	program := parseProgram(t, `
fun outer(a) {
  var b = 1;
  fun mid() {
    fun inner() { print a; print b; print g; }
  }
}
`)
	outer := program.Declarations[0].(*ast.FunDecl).Fn
	mid := outer.Body[1].(*ast.FunDecl).Fn

	got := freeVariables(mid, false)
	want := []string{"a", "b", "g"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFreeVariablesRespectBlockScoping(t *testing.T) {
	program := parseProgram(t, `
fun f() {
  { var x = 1; }
  print x;
}
`)
	fn := program.Declarations[0].(*ast.FunDecl).Fn
	got := freeVariables(fn, false)
	if len(got) != 1 || got[0] != "x" {
		t.Fatalf("the block-local x does not bind the later use; got %v", got)
	}
}

func TestMethodBindsThisButNotSuper(t *testing.T) {
	program := parseProgram(t, `
class B < A {
  m() { super.m(); return this; }
}
`)
	m := program.Declarations[0].(*ast.ClassDecl).Methods[0]
	got := freeVariables(m, true)
	if len(got) != 1 || got[0] != "super" {
		t.Fatalf("a method binds this implicitly but captures super; got %v", got)
	}
}

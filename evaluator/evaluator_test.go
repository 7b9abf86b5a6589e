package evaluator

import (
	"bytes"
	"testing"

	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/resolver"
)

// run parses, resolves, and evaluates src, returning whatever it printed
// and any error Run produced.
func run(t *testing.T, src string) (string, error) {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", perrs)
	}
	res := resolver.Resolve(prog)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected resolve errors: %+v", res.Errors)
	}

	ev := New(res.Depths)
	var buf bytes.Buffer
	ev.SetOutput(&buf)
	err := ev.Run(prog)
	return buf.String(), err
}

// The following mirror the language's canonical input/stdout scenarios.

func TestArithmeticPrecedence(t *testing.T) {
	out, err := run(t, `print 1 + 2 * 3;`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "7\n" {
		t.Fatalf("got %q, want %q", out, "7\n")
	}
}

func TestClosureCounter(t *testing.T) {
	out, err := run(t, `
fun makeCounter() {
  var i = 0;
  fun count() {
    i = i + 1;
    return i;
  }
  return count;
}
var counter = makeCounter();
print counter();
print counter();
print counter();
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "1\n2\n3\n" {
		t.Fatalf("got %q, want %q", out, "1\n2\n3\n")
	}
}

func TestFibonacci(t *testing.T) {
	out, err := run(t, `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
print fib(10);
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "55\n" {
		t.Fatalf("got %q, want %q", out, "55\n")
	}
}

func TestInheritanceAndSuper(t *testing.T) {
	out, err := run(t, `
class A {
  greet() { print "A"; }
}
class B < A {
  greet() {
    super.greet();
    print "B";
  }
}
B().greet();
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "A\nB\n" {
		t.Fatalf("got %q, want %q", out, "A\nB\n")
	}
}

func TestInitAlwaysReturnsInstance(t *testing.T) {
	out, err := run(t, `
class Box {
  init(v) {
    this.v = v;
    return;
  }
}
var b = Box(42);
print b.v;
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "42\n" {
		t.Fatalf("got %q, want %q", out, "42\n")
	}
}

func TestStringConcatenation(t *testing.T) {
	out, err := run(t, `print "ab" + "cd";`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "abcd\n" {
		t.Fatalf("got %q, want %q", out, "abcd\n")
	}
}

func TestWhileLoop(t *testing.T) {
	out, err := run(t, `
var i = 0;
while (i < 3) {
  print i;
  i = i + 1;
}
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "0\n1\n2\n" {
		t.Fatalf("got %q, want %q", out, "0\n1\n2\n")
	}
}

// Error-path coverage.

func TestMixedPlusOperandsReportsUniformMessage(t *testing.T) {
	_, err := run(t, `print 1 + "a";`)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	re, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T", err)
	}
	if re.Message != "operands must be two numbers or two strings" {
		t.Fatalf("got %q", re.Message)
	}
}

func TestUndefinedPropertyIsRuntimeError(t *testing.T) {
	_, err := run(t, `
class A {}
var a = A();
print a.missing;
`)
	if err == nil {
		t.Fatal("expected a runtime error for an undefined property")
	}
}

func TestCallingNonCallableIsRuntimeError(t *testing.T) {
	_, err := run(t, `var x = 1; x();`)
	if err == nil {
		t.Fatal("expected a runtime error for calling a non-callable")
	}
}

func TestArityMismatchIsRuntimeError(t *testing.T) {
	_, err := run(t, `
fun f(a, b) { return a + b; }
f(1);
`)
	if err == nil {
		t.Fatal("expected a runtime error for an arity mismatch")
	}
}

func TestBacktraceCapturesCallStack(t *testing.T) {
	_, err := run(t, `
fun inner() { return 1 + "a"; }
fun outer() { return inner(); }
outer();
`)
	re, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T", err)
	}
	if len(re.Frames) != 2 {
		t.Fatalf("expected 2 frames (inner, outer), got %d: %+v", len(re.Frames), re.Frames)
	}
	if re.Frames[0].Name != "inner" || re.Frames[1].Name != "outer" {
		t.Fatalf("expected frames [inner, outer], got %+v", re.Frames)
	}
}

func TestSuperclassMustBeClass(t *testing.T) {
	_, err := run(t, `
var NotAClass = 1;
class C < NotAClass {}
`)
	if err == nil {
		t.Fatal("expected a runtime error for a non-class superclass")
	}
}

// Package conformance snapshot-tests backend parity: for every program
// that terminates without a runtime error under the tree-walk
// evaluator, the bytecode VM produces byte-identical standard output. It runs each fixture program through both backends,
// asserts the two outputs are equal directly, and snapshots the result
// with gkampitakis/go-snaps — so a regression in either backend's
// output shows up as a snapshot diff even if the two backends regress
// in the same (wrong) way.
//
// The LLVM IR backend is exercised separately (irgen's own tests check
// the emitted IR text); actually executing emitted IR requires an LLVM
// toolchain this test suite does not assume is present.
package conformance

import (
	"bytes"
	"os"
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"

	"github.com/dr8co/klox/compiler"
	"github.com/dr8co/klox/evaluator"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/resolver"
	"github.com/dr8co/klox/vm"
)

func TestMain(m *testing.M) {
	code := m.Run()
	snaps.Clean(m)
	os.Exit(code)
}

// fixtures are the language's canonical scenarios, plus a couple of
// closure/inheritance cases exercising closure sharing, init's return
// value, and method binding more directly.
var fixtures = []struct {
	name string
	src  string
}{
	{"arithmetic_precedence", `print 1 + 2 * 3;`},
	{"block_shadowing", `var x = 1; { var x = 2; print x; } print x;`},
	{"recursive_fibonacci", `fun f(n) { if (n <= 1) return n; return f(n-1) + f(n-2); } print f(10);`},
	{"closure_shared_cell", `fun make() { var i = 0; fun g() { i = i + 1; return i; } return g; } var c = make(); print c(); print c(); print c();`},
	{"single_inheritance_super", `class A { say() { print "A"; } } class B < A { say() { super.say(); print "B"; } } B().say();`},
	{"init_returns_receiver", `class P { init(x) { this.x = x; } } var p = P(42); print p.x;`},
	{"string_concat", `print "ab" + "cd";`},
	{"while_loop", `var i = 0; while (i < 3) { print i; i = i + 1; }`},
	{"bound_method_stored", `class C { greet() { return "hi " + this.name; } } var c = C(); c.name = "ann"; var m = c.greet; print m();`},
	{"logical_short_circuit", `fun loud() { print "called"; return true; } print false and loud(); print true or loud();`},
}

func runTreeWalk(t *testing.T, src string) string {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("parse errors: %v", perrs)
	}
	res := resolver.Resolve(program)
	if len(res.Errors) != 0 {
		t.Fatalf("resolve errors: %v", res.Errors)
	}

	var buf bytes.Buffer
	ev := evaluator.New(res.Depths)
	ev.SetOutput(&buf)
	if err := ev.Run(program); err != nil {
		t.Fatalf("tree-walk runtime error: %v", err)
	}
	return buf.String()
}

func runVM(t *testing.T, src string) string {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("parse errors: %v", perrs)
	}
	res := resolver.Resolve(program)
	if len(res.Errors) != 0 {
		t.Fatalf("resolve errors: %v", res.Errors)
	}

	proto, cerrs := compiler.Compile(src, program)
	if len(cerrs) != 0 {
		t.Fatalf("compile errors: %v", cerrs)
	}

	var buf bytes.Buffer
	machine := vm.New()
	machine.SetOutput(&buf)
	if err := machine.Run(proto); err != nil {
		t.Fatalf("VM runtime error: %v", err)
	}
	return buf.String()
}

func TestBackendParity(t *testing.T) {
	for _, fx := range fixtures {
		t.Run(fx.name, func(t *testing.T) {
			treeOut := runTreeWalk(t, fx.src)
			vmOut := runVM(t, fx.src)

			if treeOut != vmOut {
				t.Fatalf("backend mismatch for %q:\ntree-walk: %q\nvm:        %q", fx.name, treeOut, vmOut)
			}
			snaps.MatchSnapshot(t, treeOut)
		})
	}
}

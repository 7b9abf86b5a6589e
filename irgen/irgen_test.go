package irgen

import (
	"strings"
	"testing"
)

func emitSource(t *testing.T, src string) string {
	t.Helper()
	program := parseProgram(t, src)
	ir, errs := Emit(src, program)
	if len(errs) != 0 {
		t.Fatalf("unexpected emission errors: %+v", errs)
	}
	return ir
}

func TestModuleSkeleton(t *testing.T) {
	ir := emitSource(t, `print 1;`)
	for _, want := range []string{
		"%value = type { i8, i64 }",
		"%closure = type { i8*, i64, %value*, i8, %value }",
		"define void @lox_main()",
		"define i32 @main()",
		"call void @lox_main()",
	} {
		if !strings.Contains(ir, want) {
			t.Fatalf("module missing %q:\n%s", want, ir)
		}
	}
}

func TestNumberLiteralUsesExactBitPattern(t *testing.T) {
	ir := emitSource(t, `print 1.5;`)
	// 1.5 is 0x3FF8000000000000 as IEEE-754 bits; the payload must carry
	// exactly that, not a decimal approximation.
	if !strings.Contains(ir, "bitcast double 0x3FF8000000000000 to i64") {
		t.Fatalf("number literal should be emitted as its exact bit pattern:\n%s", ir)
	}
}

func TestStringLiteralInterned(t *testing.T) {
	ir := emitSource(t, `print "hi"; print "hi";`)
	if !strings.Contains(ir, `c"hi\00"`) {
		t.Fatalf("missing NUL-terminated string constant:\n%s", ir)
	}
	if strings.Count(ir, `c"hi\00"`) != 1 {
		t.Fatalf("identical string literals should share one global:\n%s", ir)
	}
}

func TestGlobalsGoThroughRuntimeMap(t *testing.T) {
	ir := emitSource(t, `var x = 1; print x;`)
	if !strings.Contains(ir, "@global_set") || !strings.Contains(ir, "@global_get") {
		t.Fatalf("top-level variables live in the runtime's global map:\n%s", ir)
	}
}

func TestCapturedLocalPromotedToCell(t *testing.T) {
	ir := emitSource(t, `
fun outer() {
  var x = 1;
  fun inner() { x = x + 1; print x; }
}
`)
	for _, want := range []string{"@alloc_cell", "@cell_get", "@cell_set"} {
		if !strings.Contains(ir, want) {
			t.Fatalf("captured local should go through %s:\n%s", want, ir)
		}
	}
}

func TestUncapturedLocalStaysOnStack(t *testing.T) {
	ir := emitSource(t, `fun f() { var y = 1; print y; }`)
	if strings.Contains(ir, "@alloc_cell") {
		t.Fatalf("a local never captured must not pay for a heap cell:\n%s", ir)
	}
}

func TestClosureSignatureTakesEnvFirst(t *testing.T) {
	ir := emitSource(t, `fun f(a, b) { return a; }`)
	if !strings.Contains(ir, "(%value* %env, %value %p0, %value %p1)") {
		t.Fatalf("every Lox function takes the environment pointer first:\n%s", ir)
	}
	if !strings.Contains(ir, "@alloc_closure") {
		t.Fatalf("function literals materialize through alloc_closure:\n%s", ir)
	}
}

func TestCallSiteUnpacksClosureRecord(t *testing.T) {
	ir := emitSource(t, `fun f() {} f();`)
	for _, want := range []string{
		"inttoptr i64",
		"%closure*",
		"icmp eq i64", // arity check
		"@runtime_error",
	} {
		if !strings.Contains(ir, want) {
			t.Fatalf("call site should unpack and check the closure record (%q):\n%s", want, ir)
		}
	}
}

func TestAddDispatchesOnTags(t *testing.T) {
	ir := emitSource(t, `print 1 + 2;`)
	if !strings.Contains(ir, "fadd double") {
		t.Fatalf("numeric + lowers to fadd:\n%s", ir)
	}
	if !strings.Contains(ir, "@string_concat") {
		t.Fatalf("+ must keep the string branch for runtime dispatch:\n%s", ir)
	}
	if !strings.Contains(ir, "operands must be two numbers or two strings") {
		t.Fatalf("mixed operands branch to the uniform error message:\n%s", ir)
	}
}

func TestArithmeticChecksOperandTags(t *testing.T) {
	ir := emitSource(t, `print 1 * 2;`)
	if !strings.Contains(ir, "operands must be numbers") {
		t.Fatalf("arithmetic must branch to runtime_error on non-numbers:\n%s", ir)
	}
}

func TestClassEmitsMethodTable(t *testing.T) {
	ir := emitSource(t, `
class A {
  m() { return 1; }
}
var a = A();
a.m();
`)
	for _, want := range []string{
		"@alloc_class",
		"@class_add_method",
		"@alloc_instance",
		"@instance_get_property",
		"@class_find_method", // constructor call looks up init
	} {
		if !strings.Contains(ir, want) {
			t.Fatalf("class lowering missing %s:\n%s", want, ir)
		}
	}
}

func TestInitializerReturnsThis(t *testing.T) {
	ir := emitSource(t, `class P { init(x) { this.x = x; } }`)
	start := strings.Index(ir, "define %value @lox_fn_1_P_init")
	if start < 0 {
		t.Fatalf("init define not found:\n%s", ir)
	}
	end := strings.Index(ir[start:], "\n}\n")
	body := ir[start : start+end]
	if strings.Contains(body, "ret %value { i8 0, i64 0 }") {
		t.Fatalf("init must return this, never fall through to nil:\n%s", body)
	}
}

func TestSuperLowersToFindAndBind(t *testing.T) {
	ir := emitSource(t, `
class A { m() { print "a"; } }
class B < A { m() { super.m(); } }
`)
	if !strings.Contains(ir, "@class_find_method") || !strings.Contains(ir, "@bind_method") {
		t.Fatalf("super.m must resolve via class_find_method and bind_method:\n%s", ir)
	}
}

func TestRuntimeErrorCarriesLineNumber(t *testing.T) {
	ir := emitSource(t, "var a = 1;\nprint -\"x\";")
	// The negate on line 2 checks its operand tag and reports line 2.
	if !strings.Contains(ir, "i64 2)") {
		t.Fatalf("runtime checks should carry the source line:\n%s", ir)
	}
	if !strings.Contains(ir, "operand must be a number") {
		t.Fatalf("negate must check its operand tag:\n%s", ir)
	}
}

package resolver

import (
	"testing"

	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
)

func resolveSrc(t *testing.T, src string) Result {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", perrs)
	}
	return Resolve(prog)
}

func TestGlobalIsUnresolved(t *testing.T) {
	res := resolveSrc(t, `var x = 1; print x;`)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if len(res.Depths) != 0 {
		t.Fatalf("expected no recorded depths for a global, got %+v", res.Depths)
	}
}

func TestLocalRecordsDepthZero(t *testing.T) {
	res := resolveSrc(t, `{ var x = 1; print x; }`)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if len(res.Depths) != 1 {
		t.Fatalf("expected exactly one recorded depth, got %+v", res.Depths)
	}
	for _, d := range res.Depths {
		if d != 0 {
			t.Fatalf("expected depth 0, got %d", d)
		}
	}
}

func TestSelfReferencingInitializerIsError(t *testing.T) {
	res := resolveSrc(t, `{ var x = x; }`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for 'var x = x;' in local scope")
	}
}

func TestReturnOutsideFunctionIsError(t *testing.T) {
	res := resolveSrc(t, `return 1;`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for top-level return")
	}
}

func TestReturnValueInInitializerIsError(t *testing.T) {
	res := resolveSrc(t, `class C { init() { return 1; } }`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for returning a value from init()")
	}
}

func TestBareReturnInInitializerIsAllowed(t *testing.T) {
	res := resolveSrc(t, `class C { init() { return; } }`)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
}

func TestThisOutsideClassIsError(t *testing.T) {
	res := resolveSrc(t, `print this;`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for 'this' outside a class")
	}
}

func TestSuperWithoutSuperclassIsError(t *testing.T) {
	res := resolveSrc(t, `class C { m() { return super.m(); } }`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for 'super' with no superclass")
	}
}

func TestClassInheritingFromItselfIsError(t *testing.T) {
	res := resolveSrc(t, `class C < C {}`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for a class inheriting from itself")
	}
}

func TestDuplicateLocalDeclarationIsError(t *testing.T) {
	res := resolveSrc(t, `{ var x = 1; var x = 2; }`)
	if len(res.Errors) == 0 {
		t.Fatalf("expected an error for redeclaring 'x' in the same scope")
	}
}

func TestGlobalRedeclarationIsAllowed(t *testing.T) {
	res := resolveSrc(t, `var x = 1; var x = 2;`)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors for redeclaring a global: %+v", res.Errors)
	}
}

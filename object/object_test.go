package object

import (
	"testing"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/token"
)

func TestNumberString(t *testing.T) {
	tests := []struct {
		in   Number
		want string
	}{
		{42, "42"},
		{0, "0"},
		{-3, "-3"},
		{3.14, "3.14"},
		{0.5, "0.5"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Number(%v).String() = %q, want %q", float64(tt.in), got, tt.want)
		}
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   Value
		want bool
	}{
		{Nil{}, false},
		{Bool(false), false},
		{Bool(true), true},
		{Number(0), true},
		{String(""), true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEqualByTagThenPayload(t *testing.T) {
	if !Equal(Number(1), Number(1)) {
		t.Error("expected Number(1) == Number(1)")
	}
	if Equal(Number(1), String("1")) {
		t.Error("expected Number(1) != String(\"1\") across tags")
	}
	if !Equal(Nil{}, Nil{}) {
		t.Error("expected Nil{} == Nil{}")
	}
	a := NewInstance(&Class{Name: "A"})
	b := NewInstance(&Class{Name: "A"})
	if Equal(a, b) {
		t.Error("expected distinct instances to compare unequal by identity")
	}
	if !Equal(a, a) {
		t.Error("expected the same instance to equal itself")
	}
}

func TestClassFindMethodWalksSuperclass(t *testing.T) {
	base := &Class{Name: "Base", Methods: map[string]Value{"greet": &Function{Decl: &ast.Function{Name: token.Token{Lexeme: "greet"}}}}}
	sub := &Class{Name: "Sub", Superclass: base, Methods: map[string]Value{}}

	if _, ok := sub.FindMethod("greet"); !ok {
		t.Fatal("expected Sub to inherit greet from Base")
	}
	if _, ok := sub.FindMethod("missing"); ok {
		t.Fatal("expected missing method to be absent")
	}
}

func TestInstanceGetPrefersFieldOverMethod(t *testing.T) {
	class := &Class{Name: "C", Methods: map[string]Value{}}
	inst := NewInstance(class)
	inst.Set("name", String("field"))

	v, ok := inst.Get("name")
	if !ok {
		t.Fatal("expected field lookup to succeed")
	}
	if v != String("field") {
		t.Fatalf("got %v, want String(\"field\")", v)
	}
}

func TestInstanceStringFormat(t *testing.T) {
	class := &Class{Name: "Bagel"}
	inst := NewInstance(class)
	if got, want := inst.String(), "Bagel instance"; got != want {
		t.Errorf("Instance.String() = %q, want %q", got, want)
	}
}

func TestEnvironmentCapturedVariableSharing(t *testing.T) {
	global := NewEnvironment()
	env := NewEnclosedEnvironment(global)
	env.Define("i", Number(0))

	// Two "closures" sharing env observe each other's mutation through the
	// same Cell, mirroring the counter-closure scenario.
	env.AssignAt(0, "i", Number(1))
	v, ok := env.GetAt(0, "i")
	if !ok || v != Number(1) {
		t.Fatalf("GetAt(0, \"i\") = %v, %v; want 1, true", v, ok)
	}

	if _, ok := env.GetAt(1, "missing"); ok {
		t.Fatal("expected GetAt to fail past the end of the chain")
	}
}

func TestEnvironmentGlobalFallsBackByName(t *testing.T) {
	global := NewEnvironment()
	global.Define("x", Number(7))
	local := NewEnclosedEnvironment(global)

	v, ok := local.Get("x")
	if !ok || v != Number(7) {
		t.Fatalf("Get(\"x\") = %v, %v; want 7, true", v, ok)
	}

	if ok := local.Assign("x", Number(8)); !ok {
		t.Fatal("expected Assign to find x in the enclosing global scope")
	}
	if v, _ := global.Get("x"); v != Number(8) {
		t.Fatalf("expected global x to be mutated to 8, got %v", v)
	}

	if ok := local.Assign("undefined", Number(1)); ok {
		t.Fatal("expected Assign to report failure for an undefined name")
	}
}

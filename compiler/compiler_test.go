package compiler

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/dr8co/klox/code"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/object"
	"github.com/dr8co/klox/parser"
)

func compileSource(t *testing.T, src string) *object.FunctionProto {
	t.Helper()
	p := parser.New(lexer.New(src))
	program, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", perrs)
	}
	proto, cerrs := Compile(src, program)
	if len(cerrs) != 0 {
		t.Fatalf("unexpected compile errors: %+v", cerrs)
	}
	return proto
}

func concatInstructions(instrs ...[]byte) code.Instructions {
	var out code.Instructions
	for _, ins := range instrs {
		out = append(out, ins...)
	}
	return out
}

func assertInstructions(t *testing.T, got code.Instructions, want code.Instructions) {
	t.Helper()
	if !bytes.Equal(got, want) {
		t.Fatalf("wrong instructions.\ngot:\n%swant:\n%s", got.String(), want.String())
	}
}

func TestArithmeticExpression(t *testing.T) {
	proto := compileSource(t, `print 1 + 2 * 3;`)
	want := concatInstructions(
		code.Make(code.OpConstant, 0),
		code.Make(code.OpConstant, 1),
		code.Make(code.OpConstant, 2),
		code.Make(code.OpMultiply),
		code.Make(code.OpAdd),
		code.Make(code.OpPrint),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, proto.Chunk.Code, want)
	if len(proto.Chunk.Constants) != 3 {
		t.Fatalf("expected 3 constants, got %d", len(proto.Chunk.Constants))
	}
}

func TestGlobalVariableDefineAndGet(t *testing.T) {
	proto := compileSource(t, `var x = 10; print x;`)
	want := concatInstructions(
		code.Make(code.OpConstant, 0),     // 10
		code.Make(code.OpDefineGlobal, 1), // "x"
		code.Make(code.OpGetGlobal, 2),    // "x"
		code.Make(code.OpPrint),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, proto.Chunk.Code, want)
	if name, ok := proto.Chunk.Constants[1].(object.String); !ok || string(name) != "x" {
		t.Fatalf("constant 1 should be the name \"x\", got %#v", proto.Chunk.Constants[1])
	}
}

func TestBlockLocalGetsStackSlot(t *testing.T) {
	// Slot 0 is the reserved frame base; the block-local lands in slot 1
	// and is popped when the block ends.
	proto := compileSource(t, `{ var a = 1; print a; }`)
	want := concatInstructions(
		code.Make(code.OpConstant, 0),
		code.Make(code.OpGetLocal, 1),
		code.Make(code.OpPrint),
		code.Make(code.OpPop),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, proto.Chunk.Code, want)
}

func TestIfElseJumpPatching(t *testing.T) {
	proto := compileSource(t, `if (true) print 1; else print 2;`)
	want := concatInstructions(
		code.Make(code.OpTrue),
		code.Make(code.OpJumpIfFalse, 7),
		code.Make(code.OpPop),
		code.Make(code.OpConstant, 0),
		code.Make(code.OpPrint),
		code.Make(code.OpJump, 4),
		code.Make(code.OpPop),
		code.Make(code.OpConstant, 1),
		code.Make(code.OpPrint),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, proto.Chunk.Code, want)
}

func TestWhileLoopBackwardJump(t *testing.T) {
	proto := compileSource(t, `while (false) print 1;`)
	want := concatInstructions(
		code.Make(code.OpFalse),
		code.Make(code.OpJumpIfFalse, 7),
		code.Make(code.OpPop),
		code.Make(code.OpConstant, 0),
		code.Make(code.OpPrint),
		code.Make(code.OpLoop, 11),
		code.Make(code.OpPop),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, proto.Chunk.Code, want)
}

func TestLogicalAndShortCircuits(t *testing.T) {
	proto := compileSource(t, `print true and false;`)
	want := concatInstructions(
		code.Make(code.OpTrue),
		code.Make(code.OpJumpIfFalse, 2),
		code.Make(code.OpPop),
		code.Make(code.OpFalse),
		code.Make(code.OpPrint),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, proto.Chunk.Code, want)
}

func TestClosureCapturesEnclosingLocal(t *testing.T) {
	proto := compileSource(t, `
fun outer() {
  var x = 1;
  fun inner() { print x; }
}
`)
	outer, ok := proto.Chunk.Constants[0].(*object.FunctionProto)
	if !ok {
		t.Fatalf("script constant 0 should be outer's proto, got %#v", proto.Chunk.Constants[0])
	}

	var inner *object.FunctionProto
	for _, c := range outer.Chunk.Constants {
		if fp, ok := c.(*object.FunctionProto); ok {
			inner = fp
		}
	}
	if inner == nil {
		t.Fatal("inner proto not found in outer's constant pool")
	}
	if inner.UpvalueCount != 1 {
		t.Fatalf("inner should declare 1 upvalue, got %d", inner.UpvalueCount)
	}

	wantInner := concatInstructions(
		code.Make(code.OpGetUpvalue, 0),
		code.Make(code.OpPrint),
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, inner.Chunk.Code, wantInner)

	// outer's OpClosure must trail one (is_local=1, index=1) pair: inner
	// captures outer's local x, which sits in slot 1 (slot 0 is reserved).
	wantOuter := concatInstructions(
		code.Make(code.OpConstant, 0), // 1
		code.Make(code.OpClosure, 1, 1),
		[]byte{1, 1},
		code.Make(code.OpNil),
		code.Make(code.OpReturn),
	)
	assertInstructions(t, outer.Chunk.Code, wantOuter)
}

func TestChainedUpvalueResolution(t *testing.T) {
	// innermost reads a local two functions up: middle must carry it as an
	// is_local upvalue, innermost as an is_local=false link to middle's.
	proto := compileSource(t, `
fun a() {
  var x = 1;
  fun b() {
    fun c() { print x; }
  }
}
`)
	aProto := proto.Chunk.Constants[0].(*object.FunctionProto)
	var bProto *object.FunctionProto
	for _, c := range aProto.Chunk.Constants {
		if fp, ok := c.(*object.FunctionProto); ok {
			bProto = fp
		}
	}
	if bProto == nil || bProto.UpvalueCount != 1 {
		t.Fatalf("middle function should carry 1 upvalue, got %+v", bProto)
	}

	// b's OpClosure for c must trail (is_local=0, index=0): c links to b's
	// own upvalue 0, not to a local of b.
	ins := bProto.Chunk.Code
	idx := bytes.Index(ins, []byte{byte(code.OpClosure)})
	if idx < 0 {
		t.Fatalf("no OpClosure in middle function:\n%s", ins.String())
	}
	numFree := int(ins[idx+2])
	if numFree != 1 {
		t.Fatalf("c should capture 1 upvalue, got %d", numFree)
	}
	if isLocal := ins[idx+3]; isLocal != 0 {
		t.Fatalf("c's capture should be is_local=0 (a chained upvalue), got %d", isLocal)
	}
}

func TestCapturedLocalClosedOnScopeExit(t *testing.T) {
	proto := compileSource(t, `
var f;
{
  var x = 1;
  fun g() { print x; }
  f = g;
}
`)
	if !bytes.Contains(proto.Chunk.Code, []byte{byte(code.OpCloseUpvalue)}) {
		t.Fatalf("captured block-local should be closed, not popped:\n%s", proto.Chunk.Code.String())
	}
}

func TestInitializerReturnsSlotZero(t *testing.T) {
	proto := compileSource(t, `class P { init(x) { this.x = x; } }`)
	var initProto *object.FunctionProto
	for _, c := range proto.Chunk.Constants {
		if fp, ok := c.(*object.FunctionProto); ok && fp.Name == "init" {
			initProto = fp
		}
	}
	if initProto == nil {
		t.Fatal("init proto not found in script constants")
	}
	if !initProto.IsInitializer {
		t.Fatal("init proto should be flagged IsInitializer")
	}
	tail := concatInstructions(
		code.Make(code.OpGetLocal, 0),
		code.Make(code.OpReturn),
	)
	if !bytes.HasSuffix(initProto.Chunk.Code, tail) {
		t.Fatalf("init should implicitly return slot 0 (`this`):\n%s", initProto.Chunk.Code.String())
	}
}

func TestMethodCallCompilesToInvoke(t *testing.T) {
	proto := compileSource(t, `
class A { m() { return 1; } }
var a = A();
a.m();
`)
	if !bytes.Contains(proto.Chunk.Code, []byte{byte(code.OpInvoke)}) {
		t.Fatalf("property-get-then-call should fuse into OpInvoke:\n%s", proto.Chunk.Code.String())
	}
	if bytes.Contains(proto.Chunk.Code, []byte{byte(code.OpGetProperty)}) {
		t.Fatalf("fused call should not emit a separate OpGetProperty:\n%s", proto.Chunk.Code.String())
	}
}

func TestSuperclassEmitsInherit(t *testing.T) {
	proto := compileSource(t, `
class A {}
class B < A {}
`)
	if !bytes.Contains(proto.Chunk.Code, []byte{byte(code.OpInherit)}) {
		t.Fatalf("subclass declaration should emit OpInherit:\n%s", proto.Chunk.Code.String())
	}
}

func TestTooManyConstantsInOneChunk(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "print %d;\n", i)
	}
	p := parser.New(lexer.New(sb.String()))
	program, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", perrs)
	}
	_, cerrs := Compile(sb.String(), program)
	if len(cerrs) == 0 {
		t.Fatal("expected a too-many-constants error")
	}
	if !strings.Contains(cerrs[0].Message, "too many constants") {
		t.Fatalf("unexpected error message: %q", cerrs[0].Message)
	}
}

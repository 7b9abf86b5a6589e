package bytefile

import (
	"bytes"
	"testing"

	"github.com/dr8co/klox/compiler"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/object"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/vm"
)

func compileSource(t *testing.T, src string) *object.FunctionProto {
	t.Helper()
	p := parser.New(lexer.New(src))
	program, perrs := p.ParseProgram()
	if len(perrs) != 0 {
		t.Fatalf("unexpected parse errors: %+v", perrs)
	}
	proto, cerrs := compiler.Compile(src, program)
	if len(cerrs) != 0 {
		t.Fatalf("unexpected compile errors: %+v", cerrs)
	}
	return proto
}

func runProto(t *testing.T, proto *object.FunctionProto) string {
	t.Helper()
	machine := vm.New()
	var buf bytes.Buffer
	machine.SetOutput(&buf)
	if err := machine.Run(proto); err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	return buf.String()
}

// Serialize, deserialize, execute: output identical to executing the
// original chunk, including nested function protos and class methods.
func TestRoundtripPreservesBehavior(t *testing.T) {
	src := `
fun make() {
  var i = 0;
  fun g() { i = i + 1; return i; }
  return g;
}
var c = make();
print c(); print c();

class A { say() { print "A: " + this.tag; } }
var a = A();
a.tag = "t";
a.say();
`
	proto := compileSource(t, src)
	want := runProto(t, proto)

	data, err := Encode(proto)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := runProto(t, decoded)

	if got != want {
		t.Fatalf("roundtripped chunk diverged:\noriginal: %q\ndecoded:  %q", want, got)
	}
}

func TestRoundtripPreservesProtoMetadata(t *testing.T) {
	proto := compileSource(t, `fun add(a, b) { return a + b; } print add(1, 2);`)
	data, err := Encode(proto)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !bytes.Equal(decoded.Chunk.Code, proto.Chunk.Code) {
		t.Fatal("code bytes did not survive the roundtrip")
	}
	if len(decoded.Chunk.Lines) != len(proto.Chunk.Lines) {
		t.Fatal("line table did not survive the roundtrip")
	}

	var orig, back *object.FunctionProto
	for _, c := range proto.Chunk.Constants {
		if fp, ok := c.(*object.FunctionProto); ok {
			orig = fp
		}
	}
	for _, c := range decoded.Chunk.Constants {
		if fp, ok := c.(*object.FunctionProto); ok {
			back = fp
		}
	}
	if orig == nil || back == nil {
		t.Fatal("nested function proto missing on one side")
	}
	if back.Name != orig.Name || back.Arity != orig.Arity || back.UpvalueCount != orig.UpvalueCount {
		t.Fatalf("nested proto metadata diverged: %+v vs %+v", orig, back)
	}
}

func TestMagicHeader(t *testing.T) {
	proto := compileSource(t, `print 1;`)
	data, err := Encode(proto)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("blox")) {
		t.Fatalf("encoded file should start with the blox magic, got %q", data[:4])
	}
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	if _, err := Decode([]byte("nope\x01\x00")); err == nil {
		t.Fatal("expected an error for a wrong magic value")
	}
}

func TestDecodeRejectsTruncatedFile(t *testing.T) {
	if _, err := Decode([]byte("blo")); err == nil {
		t.Fatal("expected an error for a truncated file")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	proto := compileSource(t, `print 1;`)
	data, err := Encode(proto)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data[4] = 99
	if _, err := Decode(data); err == nil {
		t.Fatal("expected an error for an unknown format version")
	}
}

package object

import (
	"fmt"
	"strings"

	"github.com/dr8co/klox/code"
)

// Chunk is a function's compiled form: code bytes, constant pool, and
// a per-byte line table. The constant pool is bounded to 256 entries
// because constant operands are one byte wide.
type Chunk struct {
	Code      code.Instructions
	Constants []Value
	Lines     []int
}

// NewChunk creates an empty chunk.
func NewChunk() *Chunk { return &Chunk{} }

// Write appends one byte to the chunk's code, recording the source line it
// came from.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteBytes appends every byte of bs, all attributed to line.
func (c *Chunk) WriteBytes(bs []byte, line int) {
	for _, b := range bs {
		c.Write(b, line)
	}
}

// AddConstant appends v to the constant pool and returns its index, failing
// once the 256-entry bound would be exceeded.
func (c *Chunk) AddConstant(v Value) (int, error) {
	if len(c.Constants) >= 256 {
		return 0, fmt.Errorf("too many constants in one chunk")
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1, nil
}

// LineAt returns the source line attributed to the byte at offset ip,
// used by the VM to annotate a call-frame snapshot on runtime error.
func (c *Chunk) LineAt(ip int) int {
	if ip < 0 || ip >= len(c.Lines) {
		return -1
	}
	return c.Lines[ip]
}

// FunctionProto is a compiled function's constant descriptor: its
// name, arity, captured-upvalue count, and chunk. It is the bytecode
// backend's counterpart to the tree-walk evaluator's
// [Function] — the value produced by the compiler, before the VM wraps it
// in a [Closure] at the OpClosure instruction.
type FunctionProto struct {
	Name          string
	Arity         int
	UpvalueCount  int
	Chunk         *Chunk
	IsInitializer bool
}

func (f *FunctionProto) Type() Type { return FunctionType }
func (f *FunctionProto) String() string {
	if f.Name == "" {
		return "<fn script>"
	}
	return "<fn " + f.Name + ">"
}

// UpvalueDesc is the compile-time descriptor trailing an OpClosure
// instruction: one per upvalue the closing function declared, in
// declaration order.
type UpvalueDesc struct {
	// IsLocal is true when Index names a local slot in the immediately
	// enclosing function, false when it names one of that function's own
	// upvalues.
	IsLocal bool
	Index   int
}

// Upvalue is the VM's runtime representation of one captured variable: open
// while the captured slot still lives on the value stack, closed once that
// slot is about to be destroyed.
type Upvalue struct {
	// Location points at the live stack slot while open. Closing copies
	// *Location into Closed and sets Location to &Closed, so reads/writes
	// after closing keep working unmodified through the same pointer.
	Location *Value
	Closed   Value
}

// NewOpenUpvalue creates an Upvalue pointing at a live stack slot.
func NewOpenUpvalue(slot *Value) *Upvalue {
	return &Upvalue{Location: slot}
}

// IsOpen reports whether this upvalue still refers to a live stack slot.
func (u *Upvalue) IsOpen(slot *Value) bool { return u.Location == slot }

// Close lifts the captured value off the stack and onto the heap, so it
// survives the stack slot being reused or popped.
func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// Get reads the upvalue's current value, wherever it lives.
func (u *Upvalue) Get() Value { return *u.Location }

// Set writes through the upvalue to wherever it currently points, giving
// every closure sharing it visibility into the mutation.
func (u *Upvalue) Set(v Value) { *u.Location = v }

// Closure is a bytecode function value together with its captured
// upvalues. Every user function compiles to a Closure at runtime, even
// with zero upvalues, eliminating a branch on call.
type Closure struct {
	Fn       *FunctionProto
	Upvalues []*Upvalue
}

func (c *Closure) Type() Type     { return FunctionType }
func (c *Closure) String() string { return c.Fn.String() }

// BoundMethod packages a receiver instance with a bytecode [Closure],
// produced by OpGetProperty/OpGetSuper when the lookup hits a method
// rather than a field.
type BoundMethod struct {
	Receiver *Instance
	Method   *Closure
}

func (b *BoundMethod) Type() Type     { return FunctionType }
func (b *BoundMethod) String() string { return b.Method.String() }

// Disassemble renders p's bytecode using code.Instructions.String(),
// headed by p's name, then recurses into every nested FunctionProto held
// in its constant pool.
func (p *FunctionProto) Disassemble() string {
	var sb strings.Builder
	p.disassembleInto(&sb)
	return sb.String()
}

func (p *FunctionProto) disassembleInto(sb *strings.Builder) {
	fmt.Fprintf(sb, "== %s ==\n", p.String())
	sb.WriteString(p.Chunk.Code.String())
	for _, c := range p.Chunk.Constants {
		if nested, ok := c.(*FunctionProto); ok {
			sb.WriteString("\n")
			nested.disassembleInto(sb)
		}
	}
}

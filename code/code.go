// Package code provides the bytecode instruction set shared by the
// compiler and the virtual machine.
//
// Opcodes have fixed operand widths: one byte for
// local/constant indices, two bytes for jump offsets. The package only
// knows about raw bytes — it has no notion of runtime values, so chunks
// (which also hold a constant pool and a line table) live in the object
// package, keeping this package free to be imported by both compiler and
// vm without a dependency cycle.
package code

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instructions is a slice of bytes representing a sequence of instructions.
type Instructions []byte

// Opcode represents a single bytecode instruction used by the compiler and virtual machine.
type Opcode byte

// Bytecode instruction opcodes.
//
// Each opcode represents a specific operation that the virtual machine can execute.
// Instructions may have zero or more operands encoded after the opcode byte.
const (
	// OpConstant pushes a constant from the current chunk's constant pool onto the stack.
	//
	// Operands: [constant_index:1] - 1-byte index into the constant pool.
	OpConstant Opcode = iota

	// OpNil pushes the nil value onto the stack.
	OpNil

	// OpTrue pushes the boolean value true onto the stack.
	OpTrue

	// OpFalse pushes the boolean value false onto the stack.
	OpFalse

	// OpPop removes the top value from the stack and discards it.
	OpPop

	// OpGetLocal retrieves a local variable by slot and pushes its value onto the stack.
	//
	// Operands: [slot:1]
	OpGetLocal

	// OpSetLocal stores the value on top of the stack in the local variable at slot,
	// without popping (assignment is itself an expression that yields the assigned value).
	//
	// Operands: [slot:1]
	OpSetLocal

	// OpGetGlobal looks a global up by name (constant pool entry) and pushes its value.
	//
	// Operands: [name_const:1]
	OpGetGlobal

	// OpSetGlobal stores the top-of-stack value into an existing global, by name.
	//
	// Operands: [name_const:1]
	OpSetGlobal

	// OpDefineGlobal pops the top of the stack and binds it to a new global, by name.
	//
	// Operands: [name_const:1]
	OpDefineGlobal

	// OpGetUpvalue retrieves the current closure's upvalue by index and pushes its value.
	//
	// Operands: [upvalue_index:1]
	OpGetUpvalue

	// OpSetUpvalue stores the top-of-stack value into the current closure's upvalue by index.
	//
	// Operands: [upvalue_index:1]
	OpSetUpvalue

	// OpGetProperty pops an instance, looks up a property by name, and pushes the result
	// (a field value or a bound method).
	//
	// Operands: [name_const:1]
	OpGetProperty

	// OpSetProperty pops a value and an instance (in that stack order: instance below value),
	// sets the named field, and pushes the value back.
	//
	// Operands: [name_const:1]
	OpSetProperty

	// OpGetSuper pops the current instance (already on the stack via `this`), resolves
	// a method by name starting at the superclass, and pushes a bound method.
	//
	// Operands: [name_const:1]
	OpGetSuper

	// OpEqual pops two values, pushes whether they are equal.
	OpEqual

	// OpGreater pops two values, pushes whether the first is greater than the second.
	OpGreater

	// OpLess pops two values, pushes whether the first is less than the second.
	OpLess

	// OpAdd pops two values, adds (numbers) or concatenates (strings), pushes the result.
	OpAdd

	// OpSubtract pops two numbers, subtracts, pushes the result.
	OpSubtract

	// OpMultiply pops two numbers, multiplies, pushes the result.
	OpMultiply

	// OpDivide pops two numbers, divides, pushes the result.
	OpDivide

	// OpNot pops a value, pushes its logical negation (per Lox truthiness).
	OpNot

	// OpNegate pops a number, pushes its arithmetic negation.
	OpNegate

	// OpPrint pops a value and writes its printed form followed by a newline.
	OpPrint

	// OpJump unconditionally adds its operand to the instruction pointer.
	//
	// Operands: [offset:2]
	OpJump

	// OpJumpIfFalse adds its operand to the instruction pointer if the top of the stack
	// (left in place) is not truthy.
	//
	// Operands: [offset:2]
	OpJumpIfFalse

	// OpLoop subtracts its operand from the instruction pointer (a backward jump).
	//
	// Operands: [offset:2]
	OpLoop

	// OpCall calls the callable argCount+1 slots below the top of the stack.
	//
	// Operands: [arg_count:1]
	OpCall

	// OpInvoke fuses a property lookup with a call: looks up a method by name on the
	// receiver and calls it directly, without materializing a bound method value.
	//
	// Operands: [name_const:1, arg_count:1]
	OpInvoke

	// OpSuperInvoke is OpInvoke's counterpart for `super.name(args)`.
	//
	// Operands: [name_const:1, arg_count:1]
	OpSuperInvoke

	// OpClosure creates a closure from the compiled function at constants[index] and
	// captures num_free upvalues, each described by a trailing (is_local, index) pair.
	//
	// Operands: [const_index:1, num_free:1], followed by num_free pairs of
	// (is_local:1, index:1) bytes appended directly after the fixed operands.
	OpClosure

	// OpCloseUpvalue closes the upvalue (if any) pointing at the top-of-stack slot and
	// pops it.
	OpCloseUpvalue

	// OpReturn pops the return value, pops the current frame, and pushes the value onto
	// the caller's stack.
	OpReturn

	// OpClass creates a new, method-less class with the given name and pushes it.
	//
	// Operands: [name_const:1]
	OpClass

	// OpInherit pops the subclass off the top of the stack and copies the
	// now-top-of-stack superclass's methods into it, then leaves the
	// superclass on the stack: that slot is what the `super` local binds to
	// for the rest of the class body.
	OpInherit

	// OpMethod pops a closure and adds it to the method table of the class now on top of
	// the stack, under the given name.
	//
	// Operands: [name_const:1]
	OpMethod
)

// Definition represents an instruction definition with its name and operand widths.
type Definition struct {
	// The name of the instruction.
	Name string

	// OperandWidths specifies the number of bytes each operand of an instruction occupies.
	OperandWidths []int
}

// definitions is a map of opcodes to their definitions. OpClosure's trailing
// (is_local, index) pairs are variable-length and are not represented here;
// callers that need to skip over them use NumFreeFromOperands.
var definitions = map[Opcode]*Definition{
	OpConstant:     {"OpConstant", []int{1}},
	OpNil:          {"OpNil", []int{}},
	OpTrue:         {"OpTrue", []int{}},
	OpFalse:        {"OpFalse", []int{}},
	OpPop:          {"OpPop", []int{}},
	OpGetLocal:     {"OpGetLocal", []int{1}},
	OpSetLocal:     {"OpSetLocal", []int{1}},
	OpGetGlobal:    {"OpGetGlobal", []int{1}},
	OpSetGlobal:    {"OpSetGlobal", []int{1}},
	OpDefineGlobal: {"OpDefineGlobal", []int{1}},
	OpGetUpvalue:   {"OpGetUpvalue", []int{1}},
	OpSetUpvalue:   {"OpSetUpvalue", []int{1}},
	OpGetProperty:  {"OpGetProperty", []int{1}},
	OpSetProperty:  {"OpSetProperty", []int{1}},
	OpGetSuper:     {"OpGetSuper", []int{1}},
	OpEqual:        {"OpEqual", []int{}},
	OpGreater:      {"OpGreater", []int{}},
	OpLess:         {"OpLess", []int{}},
	OpAdd:          {"OpAdd", []int{}},
	OpSubtract:     {"OpSubtract", []int{}},
	OpMultiply:     {"OpMultiply", []int{}},
	OpDivide:       {"OpDivide", []int{}},
	OpNot:          {"OpNot", []int{}},
	OpNegate:       {"OpNegate", []int{}},
	OpPrint:        {"OpPrint", []int{}},
	OpJump:         {"OpJump", []int{2}},
	OpJumpIfFalse:  {"OpJumpIfFalse", []int{2}},
	OpLoop:         {"OpLoop", []int{2}},
	OpCall:         {"OpCall", []int{1}},
	OpInvoke:       {"OpInvoke", []int{1, 1}},
	OpSuperInvoke:  {"OpSuperInvoke", []int{1, 1}},
	OpClosure:      {"OpClosure", []int{1, 1}},
	OpCloseUpvalue: {"OpCloseUpvalue", []int{}},
	OpReturn:       {"OpReturn", []int{}},
	OpClass:        {"OpClass", []int{1}},
	OpInherit:      {"OpInherit", []int{}},
	OpMethod:       {"OpMethod", []int{1}},
}

// Lookup returns the [Definition] for the given [Opcode].
func Lookup(op byte) (*Definition, error) {
	def, ok := definitions[Opcode(op)]
	if !ok {
		return nil, fmt.Errorf("opcode %d undefined", op)
	}
	return def, nil
}

// Make creates a byte slice representing an instruction using the provided opcode and
// fixed-width operands. OpClosure's trailing upvalue descriptor bytes are not operands
// in this sense; callers append them directly after calling Make.
func Make(op Opcode, operands ...int) []byte {
	def, ok := definitions[op]
	if !ok {
		return []byte{}
	}
	instructionLen := 1
	for _, w := range def.OperandWidths {
		instructionLen += w
	}
	instruction := make([]byte, instructionLen)
	instruction[0] = byte(op)
	offset := 1
	for i, operand := range operands {
		width := def.OperandWidths[i]
		switch width {
		case 1:
			instruction[offset] = byte(operand)
		case 2:
			binary.BigEndian.PutUint16(instruction[offset:], uint16(operand))
		}
		offset += width
	}
	return instruction
}

// String provides a human-readable disassembly of ins, used by the `disassemble` CLI
// mode. It does not know about constants or upvalue descriptor bytes trailing OpClosure;
// callers that need those annotated (object.Chunk.Disassemble) post-process this output
// or walk the chunk directly.
func (ins Instructions) String() string {
	var out strings.Builder

	i := 0
	for i < len(ins) {
		def, err := Lookup(ins[i])
		if err != nil {
			_, _ = fmt.Fprintf(&out, "ERROR: %s\n", err)
			i++
			continue
		}
		operands, read := ReadOperands(def, ins[i+1:])
		_, _ = fmt.Fprintf(&out, "%04d %s\n", i, ins.fmtInstruction(def, operands))
		i += read + 1
		if Opcode(ins[i-read-1]) == OpClosure && len(operands) == 2 {
			i += operands[1] * 2 // skip the (is_local, index) byte pairs
		}
	}

	return out.String()
}

// fmtInstruction formats an instruction with its operands into a human-readable string representation.
func (ins Instructions) fmtInstruction(def *Definition, operands []int) string {
	operandCount := len(def.OperandWidths)

	if len(operands) != operandCount {
		return fmt.Sprintf("ERROR: operand len %d does not match defined %d\n", len(operands), operandCount)
	}

	switch operandCount {
	case 0:
		return def.Name
	case 1:
		return fmt.Sprintf("%s %d", def.Name, operands[0])
	case 2:
		return fmt.Sprintf("%s %d %d", def.Name, operands[0], operands[1])
	}
	return fmt.Sprintf("ERROR: unhandled operandCount for %s\n", def.Name)
}

// ReadOperands decodes operands from the specified instructions based
// on the definition and returns them with the total bytes read.
func ReadOperands(def *Definition, ins Instructions) ([]int, int) {
	operands := make([]int, len(def.OperandWidths))
	offset := 0

	for i, width := range def.OperandWidths {
		switch width {
		case 1:
			operands[i] = int(ReadUint8(ins[offset:]))
		case 2:
			operands[i] = int(ReadUint16(ins[offset:]))
		}
		offset += width
	}
	return operands, offset
}

// ReadUint16 decodes the first two bytes of the provided [Instructions] as uint16 in big-endian format.
func ReadUint16(ins Instructions) uint16 {
	return binary.BigEndian.Uint16(ins)
}

// ReadUint8 extracts the first byte from the provided [Instructions] slice and returns it as uint8.
func ReadUint8(ins Instructions) uint8 { return ins[0] }

// Package vm implements klox's bytecode execution backend:
// a stack-based virtual machine that runs the chunks produced by package
// compiler. Dispatch is a `switch op := code.Opcode(...)` loop over one
// flat value stack of tagged object.Value slots.
//
// Error messages for runtime faults are kept byte-for-byte identical to
// package evaluator's, even though the two backends fail at entirely
// different points in their execution model — cross-backend output
// parity depends on it.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/dr8co/klox/code"
	"github.com/dr8co/klox/object"
)

const (
	framesMax = 64
	stackMax  = framesMax * 256
)

// Frame is one entry of the backtrace attached to a RuntimeError,
// analogous to evaluator.Frame but keyed by line rather than span: a
// chunk's line table has no column information.
type Frame struct {
	Name string
	Line int
}

// RuntimeError is a klox runtime error raised by the bytecode backend,
// shaped to match evaluator.RuntimeError so diagnostics can render
// either uniformly.
type RuntimeError struct {
	Message string
	Line    int
	Frames  []Frame
}

func (e *RuntimeError) Error() string { return e.Message }

// VM executes one or more chunks sharing a single global namespace, the
// same way the tree-walk Evaluator's Globals persist across REPL inputs.
type VM struct {
	stack [stackMax]object.Value
	sp    int

	frames     []*frame
	globals    map[string]object.Value
	openUpvals []*object.Upvalue

	out io.Writer
}

// New creates a VM with the native functions of object.Builtins bound
// into its global namespace. `print` writes to os.Stdout by default; use
// SetOutput to redirect it (tests do this to capture output).
func New() *VM {
	globals := make(map[string]object.Value)
	for _, b := range object.Builtins {
		globals[b.Name] = b.Fn
	}
	return &VM{globals: globals, out: os.Stdout}
}

// Globals returns the VM's global namespace, so a REPL can persist it
// across successive inputs.
func (vm *VM) Globals() map[string]object.Value { return vm.globals }

// SetOutput redirects where `print` statements write.
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

func (vm *VM) push(v object.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() object.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) object.Value {
	return vm.stack[vm.sp-1-distance]
}

// Run loads proto as the top-level script and executes it to completion.
func (vm *VM) Run(proto *object.FunctionProto) error {
	closure := &object.Closure{Fn: proto}
	vm.push(closure)
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) runtimeErr(line int, msg string) *RuntimeError {
	frames := make([]Frame, len(vm.frames))
	for i := range vm.frames {
		f := vm.frames[len(vm.frames)-1-i]
		frames[i] = Frame{Name: f.closure.Fn.String(), Line: f.line()}
	}
	return &RuntimeError{Message: msg, Line: line, Frames: frames}
}

// run is the fetch-decode-execute loop over the current call frame,
// returning to its caller's frame on OpReturn and to Run's caller only
// when the outermost (script) frame returns.
func (vm *VM) run() error {
	for {
		f := vm.frames[len(vm.frames)-1]
		ins := f.instructions()
		f.ip++
		op := code.Opcode(ins[f.ip])
		line := f.line()

		switch op {
		case code.OpConstant:
			idx := ins[f.ip+1]
			f.ip++
			vm.push(f.closure.Fn.Chunk.Constants[idx])

		case code.OpNil:
			vm.push(object.Nil{})
		case code.OpTrue:
			vm.push(object.Bool(true))
		case code.OpFalse:
			vm.push(object.Bool(false))
		case code.OpPop:
			vm.pop()

		case code.OpGetLocal:
			slot := int(ins[f.ip+1])
			f.ip++
			vm.push(vm.stack[f.basePointer+slot])
		case code.OpSetLocal:
			slot := int(ins[f.ip+1])
			f.ip++
			vm.stack[f.basePointer+slot] = vm.peek(0)

		case code.OpGetGlobal:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			v, ok := vm.globals[name]
			if !ok {
				return vm.runtimeErr(line, "undefined variable '"+name+"'")
			}
			vm.push(v)
		case code.OpSetGlobal:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			if _, ok := vm.globals[name]; !ok {
				return vm.runtimeErr(line, "undefined variable '"+name+"'")
			}
			vm.globals[name] = vm.peek(0)
		case code.OpDefineGlobal:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			vm.globals[name] = vm.pop()

		case code.OpGetUpvalue:
			idx := int(ins[f.ip+1])
			f.ip++
			vm.push(f.closure.Upvalues[idx].Get())
		case code.OpSetUpvalue:
			idx := int(ins[f.ip+1])
			f.ip++
			f.closure.Upvalues[idx].Set(vm.peek(0))

		case code.OpGetProperty:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			inst, ok := vm.peek(0).(*object.Instance)
			if !ok {
				return vm.runtimeErr(line, "only instances have properties")
			}
			v, ok := inst.Get(name)
			if !ok {
				return vm.runtimeErr(line, "undefined property '"+name+"'")
			}
			vm.pop()
			vm.push(v)
		case code.OpSetProperty:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			inst, ok := vm.peek(1).(*object.Instance)
			if !ok {
				return vm.runtimeErr(line, "only instances have fields")
			}
			val := vm.pop()
			inst.Set(name, val)
			vm.pop()
			vm.push(val)

		case code.OpGetSuper:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			super := vm.pop().(*object.Class)
			instance := vm.peek(0).(*object.Instance)
			method, ok := super.FindMethod(name)
			if !ok {
				return vm.runtimeErr(line, "undefined property '"+name+"'")
			}
			vm.pop()
			vm.push(&object.BoundMethod{Receiver: instance, Method: method.(*object.Closure)})

		case code.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(object.Bool(object.Equal(a, b)))
		case code.OpGreater, code.OpLess:
			b, ok1 := vm.pop().(object.Number)
			a, ok2 := vm.pop().(object.Number)
			if !ok1 || !ok2 {
				return vm.runtimeErr(line, "operands must be numbers")
			}
			if op == code.OpGreater {
				vm.push(object.Bool(a > b))
			} else {
				vm.push(object.Bool(a < b))
			}

		case code.OpAdd:
			b, a := vm.pop(), vm.pop()
			if an, ok := a.(object.Number); ok {
				if bn, ok := b.(object.Number); ok {
					vm.push(an + bn)
					break
				}
			}
			if as, ok := a.(object.String); ok {
				if bs, ok := b.(object.String); ok {
					vm.push(as + bs)
					break
				}
			}
			return vm.runtimeErr(line, "operands must be two numbers or two strings")
		case code.OpSubtract, code.OpMultiply, code.OpDivide:
			b, ok1 := vm.pop().(object.Number)
			a, ok2 := vm.pop().(object.Number)
			if !ok1 || !ok2 {
				return vm.runtimeErr(line, "operands must be numbers")
			}
			switch op {
			case code.OpSubtract:
				vm.push(a - b)
			case code.OpMultiply:
				vm.push(a * b)
			case code.OpDivide:
				vm.push(a / b)
			}

		case code.OpNot:
			vm.push(object.Bool(!object.Truthy(vm.pop())))
		case code.OpNegate:
			n, ok := vm.peek(0).(object.Number)
			if !ok {
				return vm.runtimeErr(line, "operand must be a number")
			}
			vm.pop()
			vm.push(-n)

		case code.OpPrint:
			_, _ = fmt.Fprintln(vm.out, vm.pop().String())

		case code.OpJump:
			offset := code.ReadUint16(ins[f.ip+1:])
			f.ip += 2 + int(offset)
		case code.OpJumpIfFalse:
			offset := code.ReadUint16(ins[f.ip+1:])
			f.ip += 2
			if !object.Truthy(vm.peek(0)) {
				f.ip += int(offset)
			}
		case code.OpLoop:
			offset := code.ReadUint16(ins[f.ip+1:])
			f.ip += 2 - int(offset)

		case code.OpCall:
			argCount := int(ins[f.ip+1])
			f.ip++
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
		case code.OpInvoke:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			argCount := int(ins[f.ip+2])
			f.ip += 2
			if err := vm.invoke(name, argCount, line); err != nil {
				return err
			}
		case code.OpSuperInvoke:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			argCount := int(ins[f.ip+2])
			f.ip += 2
			super := vm.pop().(*object.Class)
			method, ok := super.FindMethod(name)
			if !ok {
				return vm.runtimeErr(line, "undefined property '"+name+"'")
			}
			if err := vm.call(method.(*object.Closure), argCount); err != nil {
				return err
			}

		case code.OpClosure:
			proto := f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(*object.FunctionProto)
			upvalCount := int(ins[f.ip+2])
			f.ip += 2
			closure := &object.Closure{Fn: proto, Upvalues: make([]*object.Upvalue, upvalCount)}
			for i := 0; i < upvalCount; i++ {
				isLocal := ins[f.ip+1]
				index := int(ins[f.ip+2])
				f.ip += 2
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(f.basePointer + index)
				} else {
					closure.Upvalues[i] = f.closure.Upvalues[index]
				}
			}
			vm.push(closure)

		case code.OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case code.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(f.basePointer)
			returnTo := f.basePointer
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.sp = returnTo
			if len(vm.frames) == 0 {
				return nil
			}
			vm.push(result)

		case code.OpClass:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			vm.push(&object.Class{Name: name, Methods: make(map[string]object.Value)})

		case code.OpInherit:
			subclass := vm.pop().(*object.Class)
			superclass, ok := vm.peek(0).(*object.Class)
			if !ok {
				return vm.runtimeErr(line, "superclass must be a class")
			}
			for name, m := range superclass.Methods {
				subclass.Methods[name] = m
			}
			subclass.Superclass = superclass

		case code.OpMethod:
			name := string(f.closure.Fn.Chunk.Constants[ins[f.ip+1]].(object.String))
			f.ip++
			method := vm.pop().(*object.Closure)
			class := vm.peek(0).(*object.Class)
			class.Methods[name] = method

		default:
			return vm.runtimeErr(line, fmt.Sprintf("internal error: unknown opcode %d", op))
		}
	}
}

// callValue dispatches a call on what kind
// of value sits in the callee slot.
func (vm *VM) callValue(callee object.Value, argCount int) error {
	switch c := callee.(type) {
	case *object.Closure:
		return vm.call(c, argCount)
	case *object.BoundMethod:
		vm.stack[vm.sp-argCount-1] = c.Receiver
		return vm.call(c.Method, argCount)
	case *object.Class:
		instance := object.NewInstance(c)
		vm.stack[vm.sp-argCount-1] = instance
		if init, ok := c.FindMethod("init"); ok {
			return vm.call(init.(*object.Closure), argCount)
		}
		if argCount != 0 {
			return vm.runtimeErr(vm.currentLine(), fmt.Sprintf("expected 0 arguments but got %d", argCount))
		}
		return nil
	case *object.Native:
		if argCount != c.Arity {
			return vm.runtimeErr(vm.currentLine(), fmt.Sprintf("expected %d arguments but got %d", c.Arity, argCount))
		}
		args := make([]object.Value, argCount)
		copy(args, vm.stack[vm.sp-argCount:vm.sp])
		v, err := c.Fn(args)
		if err != nil {
			return vm.runtimeErr(vm.currentLine(), err.Error())
		}
		vm.sp -= argCount + 1
		vm.push(v)
		return nil
	default:
		return vm.runtimeErr(vm.currentLine(), "can only call functions and classes")
	}
}

func (vm *VM) currentLine() int {
	if len(vm.frames) == 0 {
		return 0
	}
	return vm.frames[len(vm.frames)-1].line()
}

// call pushes a new frame for closure, with its reserved slot 0 and
// parameters already in place at the top of the stack.
func (vm *VM) call(closure *object.Closure, argCount int) error {
	if closure.Fn.Arity != argCount {
		return vm.runtimeErr(vm.currentLine(), fmt.Sprintf("expected %d arguments but got %d", closure.Fn.Arity, argCount))
	}
	if len(vm.frames) >= framesMax {
		return vm.runtimeErr(vm.currentLine(), "stack overflow")
	}
	vm.frames = append(vm.frames, newFrame(closure, vm.sp-argCount-1))
	return nil
}

// invoke fuses property-get-then-call: look up name on
// the receiver without materializing a bound method, falling back to a
// field holding a callable (clox's "invoke a field" case) before
// resolving it as a method.
func (vm *VM) invoke(name string, argCount int, line int) error {
	receiver, ok := vm.peek(argCount).(*object.Instance)
	if !ok {
		return vm.runtimeErr(line, "only instances have properties")
	}
	if field, ok := receiver.Fields[name]; ok {
		vm.stack[vm.sp-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	method, ok := receiver.Class.FindMethod(name)
	if !ok {
		return vm.runtimeErr(line, "undefined property '"+name+"'")
	}
	return vm.call(method.(*object.Closure), argCount)
}

// captureUpvalue returns an open upvalue for the stack slot at index,
// reusing one already open over that slot.
func (vm *VM) captureUpvalue(slot int) *object.Upvalue {
	location := &vm.stack[slot]
	for _, u := range vm.openUpvals {
		if u.IsOpen(location) {
			return u
		}
	}
	u := object.NewOpenUpvalue(location)
	vm.openUpvals = append(vm.openUpvals, u)
	return u
}

// closeUpvalues closes every open upvalue at or above stack index from,
// hoisting its value off the stack so it outlives the frame being
// popped.
func (vm *VM) closeUpvalues(from int) {
	kept := vm.openUpvals[:0]
	for _, u := range vm.openUpvals {
		if vm.stackIndexOf(u.Location) >= from {
			u.Close()
			continue
		}
		kept = append(kept, u)
	}
	vm.openUpvals = kept
}

// stackIndexOf finds p's slot index by pointer identity against the
// VM's fixed-size value stack, the only array p could ever point into.
func (vm *VM) stackIndexOf(p *object.Value) int {
	for i := range vm.stack {
		if &vm.stack[i] == p {
			return i
		}
	}
	return -1
}

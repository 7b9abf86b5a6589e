// Package object defines the runtime value model shared by klox's
// tree-walk evaluator and bytecode VM.
//
// Runtime values carry one of seven tags: nil, boolean,
// number, string, function, class, instance. Equality is by tag then
// payload: numbers compare by value, strings by content, nil equals only
// nil, booleans by value, and functions/classes/instances by reference
// identity — Go's interface equality (`==`) gives exactly this for the
// value types below, since Function/Class/Instance are always held by
// pointer.
//
// Key components:
//   - [Value]: the base interface for every runtime value
//   - [Nil], [Bool], [Number], [String]: the scalar value kinds
//   - [Function], [Native]: user-defined and built-in callables
//   - [Class], [Instance]: the class/instance model
//   - [Environment], [Cell]: the tree-walk evaluator's variable storage
//     and captured-variable sharing mechanism
package object

import (
	"math"
	"strconv"

	"github.com/dr8co/klox/ast"
)

// Type identifies the tag of a runtime value.
type Type int

const (
	NilType Type = iota
	BoolType
	NumberType
	StringType
	FunctionType
	ClassType
	InstanceType
)

func (t Type) String() string {
	switch t {
	case NilType:
		return "nil"
	case BoolType:
		return "boolean"
	case NumberType:
		return "number"
	case StringType:
		return "string"
	case FunctionType:
		return "function"
	case ClassType:
		return "class"
	case InstanceType:
		return "instance"
	default:
		return "unknown"
	}
}

// Value is the interface every runtime value implements.
type Value interface {
	// Type returns this value's tag.
	Type() Type

	// String returns the printed form of the value — the exact
	// text a `print` statement emits, identical across all three backends.
	String() string
}

// Nil is Lox's `nil` value. It is not a pointer: there is exactly one
// zero-size Nil value and Go's interface equality treats every Nil the
// same, matching "nil equals only nil."
type Nil struct{}

func (Nil) Type() Type     { return NilType }
func (Nil) String() string { return "nil" }

// Bool is a Lox boolean.
type Bool bool

func (b Bool) Type() Type { return BoolType }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Number is a Lox number: an IEEE-754 double.
type Number float64

func (n Number) Type() Type { return NumberType }

// String prints integers without a decimal part and non-integers with
// enough precision to roundtrip.
func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

// IsInteger reports whether n has no fractional part, used by diagnostics
// and tests, not by the printed format (which already handles both cases).
func (n Number) IsInteger() bool { return float64(n) == math.Trunc(float64(n)) }

// String is a Lox string value: shared by reference, immutable.
type String string

func (s String) Type() Type     { return StringType }
func (s String) String() string { return string(s) }

// Truthy reports whether a value is truthy: everything is truthy except
// `false` and `nil`.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case Nil:
		return false
	case Bool:
		return bool(x)
	default:
		return true
	}
}

// Equal implements Lox's `==`/`!=` semantics: equality is by tag then
// payload. Go's interface comparison already gives this for every value
// kind defined in this package (value types compare structurally,
// pointer types compare by identity), provided both sides are comparable
// — which all of Nil/Bool/Number/String/*Function/*Class/*Instance are.
func Equal(a, b Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	return a == b
}

// Native is a built-in function implemented in Go.
type Native struct {
	Name  string
	Arity int
	Fn    func(args []Value) (Value, error)
}

func (n *Native) Type() Type     { return FunctionType }
func (n *Native) String() string { return "<native fn " + n.Name + ">" }

// Function is a user-defined Lox function, closure, or bound method, as
// executed by the tree-walk evaluator. Closure is the environment
// captured at the point of definition (or, for a bound method, an
// environment with `this` freshly bound in front of that).
type Function struct {
	Decl          *ast.Function
	Closure       *Environment
	IsInitializer bool
}

func (f *Function) Type() Type { return FunctionType }
func (f *Function) String() string {
	return "<fn " + f.Decl.Name.Lexeme + ">"
}

// Bind produces a bound method: a Function whose captured environment has
// `this` prebound to instance.
func (f *Function) Bind(instance *Instance) *Function {
	env := NewEnclosedEnvironment(f.Closure)
	env.Define("this", instance)
	return &Function{Decl: f.Decl, Closure: env, IsInitializer: f.IsInitializer}
}

// Class is a Lox class: name, optional superclass, and method table
//. The superclass pointer, once set, is never reassigned.
//
// Methods holds either *Function (tree-walk backend) or *Closure (bytecode
// backend) values, never a mix within one Class — whichever backend built
// it populates it uniformly. Sharing one Class/Instance shape across both
// backends, rather than duplicating it per backend, is what lets
// [Instance.Get] express the property-access rule once.
type Class struct {
	Name       string
	Superclass *Class
	Methods    map[string]Value
}

func (c *Class) Type() Type     { return ClassType }
func (c *Class) String() string { return c.Name }

// FindMethod looks up name in this class's method table, then walks the
// superclass chain.
func (c *Class) FindMethod(name string) (Value, bool) {
	if m, ok := c.Methods[name]; ok {
		return m, true
	}
	if c.Superclass != nil {
		return c.Superclass.FindMethod(name)
	}
	return nil, false
}

// Instance is an instantiated object of a Class, with a mutable field
// table.
type Instance struct {
	Class  *Class
	Fields map[string]Value
}

// NewInstance creates an Instance of class with no fields set.
func NewInstance(class *Class) *Instance {
	return &Instance{Class: class, Fields: make(map[string]Value)}
}

func (i *Instance) Type() Type     { return InstanceType }
func (i *Instance) String() string { return i.Class.Name + " instance" }

// Get reads a property: fields first, then the class's method chain,
// returning a bound method on a method hit. Absence of both is reported
// by the caller as a runtime error.
func (i *Instance) Get(name string) (Value, bool) {
	if v, ok := i.Fields[name]; ok {
		return v, true
	}
	if m, ok := i.Class.FindMethod(name); ok {
		switch fn := m.(type) {
		case *Function:
			return fn.Bind(i), true
		case *Closure:
			return &BoundMethod{Receiver: i, Method: fn}, true
		}
	}
	return nil, false
}

// Set assigns a field, creating it on first assignment.
func (i *Instance) Set(name string, v Value) {
	i.Fields[name] = v
}

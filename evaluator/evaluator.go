// Package evaluator implements klox's tree-walk execution backend: the
// default interpreter that runs a
// resolved AST directly, without compiling to bytecode or IR.
//
// The evaluator dispatches on the three AST sum types — declaration, statement,
// expression — with one switch per tier, following the same
// `switch node := node.(type)` convention used throughout this codebase
// (compiler/compiler.go) rather than a visitor pattern. Variable
// reads/writes consult the resolver's
// expression-id → depth map: a recorded depth means "walk that many
// Environment links outward"; an absent entry means "global — look up
// by name, at runtime, so a function may call a global declared after
// the function itself".
//
// `return` unwinds through arbitrarily deep statement nesting via an
// internal panic/recover sentinel confined to this package, the same
// idiom the parser uses for its own panic-mode recovery
// (parser.parseException) — not a threaded error return, since every
// intervening statement would otherwise need to check and propagate it.
// Runtime errors, by contrast, are ordinary Go errors: they abort
// immediately and are never recovered from.
package evaluator

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/object"
	"github.com/dr8co/klox/token"
)

// Frame is one entry of a call stack, used to build the backtrace
// attached to a RuntimeError.
type Frame struct {
	Name string
	Span token.Span
}

// RuntimeError is a Lox runtime error: distinct from a Go
// error representing an internal fault in the evaluator itself. Span is
// the source location responsible; Frames is the call stack active at
// the point of failure, innermost first.
type RuntimeError struct {
	Message string
	Span    token.Span
	Frames  []Frame
}

func (e *RuntimeError) Error() string { return e.Message }

// returnSignal unwinds a function body on `return`. It is never exposed
// as an object.Value or surfaced outside this package.
type returnSignal struct{ value object.Value }

// Evaluator holds the state of one tree-walk execution: the global
// environment, the resolver's depth map, and the active call stack.
type Evaluator struct {
	globals   *object.Environment
	depths    map[int]int
	callStack []Frame
	out       io.Writer
}

// New creates an Evaluator with the native functions of object.Builtins
// bound into a fresh global environment. depths is the resolution map
// produced by resolver.Resolve. `print` writes to os.Stdout by default;
// use SetOutput to redirect it (tests do this to capture output).
func New(depths map[int]int) *Evaluator {
	globals := object.NewEnvironment()
	for name, fn := range builtins {
		globals.Define(name, fn)
	}
	return &Evaluator{globals: globals, depths: depths, out: os.Stdout}
}

// Globals returns the global environment, so a REPL can persist it
// across successive inputs.
func (ev *Evaluator) Globals() *object.Environment { return ev.globals }

// SetOutput redirects where `print` statements write.
func (ev *Evaluator) SetOutput(w io.Writer) { ev.out = w }

// SetDepths swaps in a fresh resolution map, so a REPL can reuse one
// Evaluator (and its global environment) across many independently
// resolved inputs — each call to resolver.Resolve produces a depth map
// keyed by that call's own AST's expression ids, meaningless against any
// other input's nodes, so it must be rewired before each Run.
func (ev *Evaluator) SetDepths(depths map[int]int) { ev.depths = depths }

// Run executes every declaration of program at the top level, in the
// global environment, stopping at the first runtime error.
func (ev *Evaluator) Run(program *ast.Program) error {
	for _, decl := range program.Declarations {
		if _, err := ev.evalDeclaration(decl, ev.globals); err != nil {
			return err
		}
	}
	return nil
}

func (ev *Evaluator) runtimeErr(span token.Span, msg string) *RuntimeError {
	frames := make([]Frame, len(ev.callStack))
	for i := range ev.callStack {
		frames[len(ev.callStack)-1-i] = ev.callStack[i]
	}
	return &RuntimeError{Message: msg, Span: span, Frames: frames}
}

// ---------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------

func (ev *Evaluator) evalDeclaration(decl ast.Declaration, env *object.Environment) (object.Value, error) {
	switch d := decl.(type) {
	case *ast.VarDecl:
		var val object.Value = object.Nil{}
		if d.Initializer != nil {
			v, err := ev.evalExpression(d.Initializer, env)
			if err != nil {
				return nil, err
			}
			val = v
		}
		env.Define(d.Name.Lexeme, val)
		return object.Nil{}, nil
	case *ast.FunDecl:
		fn := &object.Function{Decl: d.Fn, Closure: env}
		env.Define(d.Fn.Name.Lexeme, fn)
		return object.Nil{}, nil
	case *ast.ClassDecl:
		return ev.evalClassDecl(d, env)
	case *ast.StmtDecl:
		return ev.evalStatement(d.Stmt, env)
	default:
		return nil, fmt.Errorf("evaluator: unhandled declaration type %T", decl)
	}
}

func (ev *Evaluator) evalClassDecl(d *ast.ClassDecl, env *object.Environment) (object.Value, error) {
	var super *object.Class
	if d.Superclass != nil {
		v, err := ev.evalExpression(d.Superclass, env)
		if err != nil {
			return nil, err
		}
		sc, ok := v.(*object.Class)
		if !ok {
			return nil, ev.runtimeErr(d.Superclass.Name.Span, "superclass must be a class")
		}
		super = sc
	}

	env.Define(d.Name.Lexeme, object.Nil{})

	methodEnv := env
	if super != nil {
		methodEnv = object.NewEnclosedEnvironment(env)
		methodEnv.Define("super", super)
	}

	methods := make(map[string]object.Value, len(d.Methods))
	for _, m := range d.Methods {
		methods[m.Name.Lexeme] = &object.Function{
			Decl:          m,
			Closure:       methodEnv,
			IsInitializer: m.Name.Lexeme == "init",
		}
	}

	class := &object.Class{Name: d.Name.Lexeme, Superclass: super, Methods: methods}
	env.Assign(d.Name.Lexeme, class)
	return object.Nil{}, nil
}

// ---------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------

func (ev *Evaluator) evalStatement(stmt ast.Statement, env *object.Environment) (object.Value, error) {
	switch s := stmt.(type) {
	case *ast.ExpressionStmt:
		return ev.evalExpression(s.Expr, env)
	case *ast.PrintStmt:
		v, err := ev.evalExpression(s.Expr, env)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(ev.out, v.String())
		return object.Nil{}, nil
	case *ast.ReturnStmt:
		var val object.Value = object.Nil{}
		if s.Value != nil {
			v, err := ev.evalExpression(s.Value, env)
			if err != nil {
				return nil, err
			}
			val = v
		}
		panic(returnSignal{value: val})
	case *ast.Block:
		blockEnv := object.NewEnclosedEnvironment(env)
		for _, d := range s.Declarations {
			if _, err := ev.evalDeclaration(d, blockEnv); err != nil {
				return nil, err
			}
		}
		return object.Nil{}, nil
	case *ast.If:
		cond, err := ev.evalExpression(s.Condition, env)
		if err != nil {
			return nil, err
		}
		if object.Truthy(cond) {
			return ev.evalStatement(s.Then, env)
		} else if s.Else != nil {
			return ev.evalStatement(s.Else, env)
		}
		return object.Nil{}, nil
	case *ast.While:
		for {
			cond, err := ev.evalExpression(s.Condition, env)
			if err != nil {
				return nil, err
			}
			if !object.Truthy(cond) {
				break
			}
			if _, err := ev.evalStatement(s.Body, env); err != nil {
				return nil, err
			}
		}
		return object.Nil{}, nil
	default:
		return nil, fmt.Errorf("evaluator: unhandled statement type %T", stmt)
	}
}

// ---------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------

func (ev *Evaluator) evalExpression(expr ast.Expression, env *object.Environment) (object.Value, error) {
	switch x := expr.(type) {
	case *ast.Literal:
		return literalValue(x), nil
	case *ast.Grouping:
		return ev.evalExpression(x.Inner, env)
	case *ast.Unary:
		return ev.evalUnary(x, env)
	case *ast.Binary:
		return ev.evalBinary(x, env)
	case *ast.Logical:
		return ev.evalLogical(x, env)
	case *ast.Variable:
		return ev.lookupVariable(x, x.Name, env)
	case *ast.Assign:
		return ev.evalAssign(x, env)
	case *ast.Call:
		return ev.evalCall(x, env)
	case *ast.Get:
		return ev.evalGet(x, env)
	case *ast.Set:
		return ev.evalSet(x, env)
	case *ast.This:
		return ev.lookupVariable(x, x.Keyword, env)
	case *ast.Super:
		return ev.evalSuper(x, env)
	default:
		return nil, fmt.Errorf("evaluator: unhandled expression type %T", expr)
	}
}

func literalValue(lit *ast.Literal) object.Value {
	switch v := lit.Value.(type) {
	case float64:
		return object.Number(v)
	case string:
		return object.String(v)
	case bool:
		return object.Bool(v)
	default:
		return object.Nil{}
	}
}

// lookupVariable resolves expr/name via the resolver's depth map when
// present (a local or upvalue reference), falling back to a name-keyed
// walk of the environment chain for globals.
func (ev *Evaluator) lookupVariable(expr ast.Expression, name token.Token, env *object.Environment) (object.Value, error) {
	if depth, ok := ev.depths[expr.ID()]; ok {
		if v, ok := env.GetAt(depth, name.Lexeme); ok {
			return v, nil
		}
		return nil, ev.runtimeErr(name.Span, "internal error: resolved variable '"+name.Lexeme+"' not found at depth "+strconv.Itoa(depth))
	}
	if v, ok := env.Get(name.Lexeme); ok {
		return v, nil
	}
	return nil, ev.runtimeErr(name.Span, "undefined variable '"+name.Lexeme+"'")
}

func (ev *Evaluator) evalAssign(x *ast.Assign, env *object.Environment) (object.Value, error) {
	val, err := ev.evalExpression(x.Value, env)
	if err != nil {
		return nil, err
	}
	// The parser only ever builds *ast.Assign over a *ast.Variable target;
	// property assignment parses straight to *ast.Set.
	v := x.Target.(*ast.Variable)
	if depth, ok := ev.depths[x.ID()]; ok {
		if !env.AssignAt(depth, v.Name.Lexeme, val) {
			return nil, ev.runtimeErr(v.Name.Span, "internal error: resolved assignment target '"+v.Name.Lexeme+"' not found at depth "+strconv.Itoa(depth))
		}
		return val, nil
	}
	if !env.Assign(v.Name.Lexeme, val) {
		return nil, ev.runtimeErr(v.Name.Span, "undefined variable '"+v.Name.Lexeme+"'")
	}
	return val, nil
}

func (ev *Evaluator) evalUnary(x *ast.Unary, env *object.Environment) (object.Value, error) {
	right, err := ev.evalExpression(x.Right, env)
	if err != nil {
		return nil, err
	}
	switch x.Operator.Kind {
	case token.MINUS:
		n, ok := right.(object.Number)
		if !ok {
			return nil, ev.runtimeErr(x.Operator.Span, "operand must be a number")
		}
		return -n, nil
	case token.BANG:
		return object.Bool(!object.Truthy(right)), nil
	default:
		return nil, ev.runtimeErr(x.Operator.Span, "unknown unary operator '"+x.Operator.Lexeme+"'")
	}
}

func (ev *Evaluator) evalBinary(x *ast.Binary, env *object.Environment) (object.Value, error) {
	left, err := ev.evalExpression(x.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := ev.evalExpression(x.Right, env)
	if err != nil {
		return nil, err
	}

	switch x.Operator.Kind {
	case token.EQUAL_EQUAL:
		return object.Bool(object.Equal(left, right)), nil
	case token.BANG_EQUAL:
		return object.Bool(!object.Equal(left, right)), nil
	case token.PLUS:
		if ln, ok := left.(object.Number); ok {
			if rn, ok := right.(object.Number); ok {
				return ln + rn, nil
			}
		}
		if ls, ok := left.(object.String); ok {
			if rs, ok := right.(object.String); ok {
				return ls + rs, nil
			}
		}
		// One uniform message regardless of which side is the wrong type.
		return nil, ev.runtimeErr(x.Operator.Span, "operands must be two numbers or two strings")
	}

	ln, lok := left.(object.Number)
	rn, rok := right.(object.Number)
	if !lok || !rok {
		return nil, ev.runtimeErr(x.Operator.Span, "operands must be numbers")
	}
	switch x.Operator.Kind {
	case token.MINUS:
		return ln - rn, nil
	case token.STAR:
		return ln * rn, nil
	case token.SLASH:
		return ln / rn, nil
	case token.LESS:
		return object.Bool(ln < rn), nil
	case token.LESS_EQUAL:
		return object.Bool(ln <= rn), nil
	case token.GREATER:
		return object.Bool(ln > rn), nil
	case token.GREATER_EQUAL:
		return object.Bool(ln >= rn), nil
	default:
		return nil, ev.runtimeErr(x.Operator.Span, "unknown binary operator '"+x.Operator.Lexeme+"'")
	}
}

func (ev *Evaluator) evalLogical(x *ast.Logical, env *object.Environment) (object.Value, error) {
	left, err := ev.evalExpression(x.Left, env)
	if err != nil {
		return nil, err
	}
	if x.Operator.Kind == token.OR {
		if object.Truthy(left) {
			return left, nil
		}
	} else if !object.Truthy(left) {
		return left, nil
	}
	return ev.evalExpression(x.Right, env)
}

func (ev *Evaluator) evalGet(x *ast.Get, env *object.Environment) (object.Value, error) {
	obj, err := ev.evalExpression(x.Object, env)
	if err != nil {
		return nil, err
	}
	inst, ok := obj.(*object.Instance)
	if !ok {
		return nil, ev.runtimeErr(x.Name.Span, "only instances have properties")
	}
	v, ok := inst.Get(x.Name.Lexeme)
	if !ok {
		return nil, ev.runtimeErr(x.Name.Span, "undefined property '"+x.Name.Lexeme+"'")
	}
	return v, nil
}

func (ev *Evaluator) evalSet(x *ast.Set, env *object.Environment) (object.Value, error) {
	obj, err := ev.evalExpression(x.Object, env)
	if err != nil {
		return nil, err
	}
	inst, ok := obj.(*object.Instance)
	if !ok {
		return nil, ev.runtimeErr(x.Name.Span, "only instances have fields")
	}
	val, err := ev.evalExpression(x.Value, env)
	if err != nil {
		return nil, err
	}
	inst.Set(x.Name.Lexeme, val)
	return val, nil
}

func (ev *Evaluator) evalSuper(x *ast.Super, env *object.Environment) (object.Value, error) {
	depth, ok := ev.depths[x.ID()]
	if !ok {
		return nil, ev.runtimeErr(x.Keyword.Span, "internal error: unresolved 'super'")
	}
	superVal, ok := env.GetAt(depth, "super")
	if !ok {
		return nil, ev.runtimeErr(x.Keyword.Span, "internal error: 'super' not found at depth "+strconv.Itoa(depth))
	}
	super := superVal.(*object.Class)

	thisVal, ok := env.GetAt(depth-1, "this")
	if !ok {
		return nil, ev.runtimeErr(x.Keyword.Span, "internal error: 'this' not found relative to 'super'")
	}
	instance := thisVal.(*object.Instance)

	method, ok := super.FindMethod(x.Method.Lexeme)
	if !ok {
		return nil, ev.runtimeErr(x.Method.Span, "undefined property '"+x.Method.Lexeme+"'")
	}
	return method.(*object.Function).Bind(instance), nil
}

func (ev *Evaluator) evalCall(x *ast.Call, env *object.Environment) (object.Value, error) {
	callee, err := ev.evalExpression(x.Callee, env)
	if err != nil {
		return nil, err
	}
	args := make([]object.Value, len(x.Args))
	for i, a := range x.Args {
		v, err := ev.evalExpression(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return ev.call(callee, args, x.Paren.Span)
}

func (ev *Evaluator) call(callee object.Value, args []object.Value, callSpan token.Span) (object.Value, error) {
	switch c := callee.(type) {
	case *object.Native:
		if len(args) != c.Arity {
			return nil, ev.runtimeErr(callSpan, fmt.Sprintf("expected %d arguments but got %d", c.Arity, len(args)))
		}
		v, err := c.Fn(args)
		if err != nil {
			return nil, ev.runtimeErr(callSpan, err.Error())
		}
		return v, nil
	case *object.Function:
		return ev.callFunction(c, args, callSpan)
	case *object.Class:
		instance := object.NewInstance(c)
		if init, ok := c.FindMethod("init"); ok {
			bound := init.(*object.Function).Bind(instance)
			if _, err := ev.callFunction(bound, args, callSpan); err != nil {
				return nil, err
			}
		} else if len(args) != 0 {
			return nil, ev.runtimeErr(callSpan, fmt.Sprintf("expected 0 arguments but got %d", len(args)))
		}
		return instance, nil
	default:
		return nil, ev.runtimeErr(callSpan, "can only call functions and classes")
	}
}

// callFunction invokes fn with args in a fresh environment enclosed by
// its captured closure, unwinding on a returnSignal panic (or falling
// off the end of the body, which yields nil — or `this`, for an
// initializer).
func (ev *Evaluator) callFunction(fn *object.Function, args []object.Value, callSpan token.Span) (result object.Value, err error) {
	if len(args) != len(fn.Decl.Params) {
		return nil, ev.runtimeErr(callSpan, fmt.Sprintf("expected %d arguments but got %d", len(fn.Decl.Params), len(args)))
	}

	callEnv := object.NewEnclosedEnvironment(fn.Closure)
	for i, p := range fn.Decl.Params {
		callEnv.Define(p.Lexeme, args[i])
	}

	ev.callStack = append(ev.callStack, Frame{Name: fn.Decl.Name.Lexeme, Span: callSpan})
	defer func() { ev.callStack = ev.callStack[:len(ev.callStack)-1] }()

	result = object.Nil{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				sig, ok := r.(returnSignal)
				if !ok {
					panic(r)
				}
				result = sig.value
			}
		}()
		for _, decl := range fn.Decl.Body {
			if _, derr := ev.evalDeclaration(decl, callEnv); derr != nil {
				err = derr
				return
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	if fn.IsInitializer {
		this, _ := fn.Closure.GetAt(0, "this")
		return this, nil
	}
	return result, nil
}

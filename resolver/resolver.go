// Package resolver implements the static resolution pass for the Lox
// programming language.
//
// The resolver walks the AST once, after parsing and before evaluation,
// maintaining a stack of lexical scopes. For every variable reference and
// assignment it records how many enclosing scopes separate the use site
// from the scope that declares it; absence of an entry means the name is
// global and must be looked up by name at runtime. The resolver does not
// build a new tree — it only emits a resolution map and a list of
// semantic errors, following the dispatch style of klox's other AST
// walkers (a type switch over ast.Node), not a visitor pattern.
package resolver

import (
	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/token"
)

// Error is a semantic error discovered during resolution, anchored to the
// offending token's span.
type Error struct {
	Message string
	Span    token.Span
}

// FunctionType tracks what kind of function body is currently being
// resolved, driving the `return`/`this` context checks.
type FunctionType int

const (
	FunctionNone FunctionType = iota
	FunctionFunction
	FunctionMethod
	FunctionInitializer
)

// ClassType tracks whether, and how, a class is currently being resolved,
// driving the `this`/`super` context checks.
type ClassType int

const (
	ClassNone ClassType = iota
	ClassClass
	ClassSubclass
)

// scope maps a name to whether it has finished initializing: false means
// declared but not yet defined (its initializer, if any, is still being
// resolved) — reading such a name in its own scope is an error (`var x =
// x;`).
type scope map[string]bool

// Result is the outcome of resolving a program: a map from expression id
// to scope depth (absent = global), plus any semantic errors found.
type Result struct {
	Depths map[int]int
	Errors []Error
}

// Resolver performs the two-pass scope walk over one program.
type Resolver struct {
	scopes []scope

	currentFunction FunctionType
	currentClass    ClassType

	depths map[int]int
	errs   []Error
}

// New creates a Resolver ready to resolve a program.
func New() *Resolver {
	return &Resolver{depths: make(map[int]int)}
}

// Resolve walks an entire program and returns the resolution map and any
// semantic errors.
func Resolve(program *ast.Program) Result {
	r := New()
	r.resolveDeclarations(program.Declarations)
	return Result{Depths: r.depths, Errors: r.errs}
}

func (r *Resolver) errorf(span token.Span, msg string) {
	r.errs = append(r.errs, Error{Message: msg, Span: span})
}

// ---------------------------------------------------------------------
// Scope stack
// ---------------------------------------------------------------------

func (r *Resolver) beginScope() { r.scopes = append(r.scopes, scope{}) }

func (r *Resolver) endScope() { r.scopes = r.scopes[:len(r.scopes)-1] }

func (r *Resolver) peekScope() scope {
	if len(r.scopes) == 0 {
		return nil
	}
	return r.scopes[len(r.scopes)-1]
}

// declare adds name to the innermost scope, marked not-yet-ready.
// Redeclaring a name already present in that same local scope is an
// error; globals (no enclosing scope) may be redeclared freely.
func (r *Resolver) declare(name token.Token) {
	sc := r.peekScope()
	if sc == nil {
		return
	}
	if _, exists := sc[name.Lexeme]; exists {
		r.errorf(name.Span, "already a variable named '"+name.Lexeme+"' in this scope")
	}
	sc[name.Lexeme] = false
}

// define marks name as ready for use in the innermost scope.
func (r *Resolver) define(name token.Token) {
	sc := r.peekScope()
	if sc == nil {
		return
	}
	sc[name.Lexeme] = true
}

// resolveLocal walks the scope stack from innermost outward; if name is
// found at distance d, records expr's id at depth d. Leaving the id unset
// means "global — look up by name at runtime."
func (r *Resolver) resolveLocal(expr ast.Expression, name token.Token) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if _, ok := r.scopes[i][name.Lexeme]; ok {
			r.depths[expr.ID()] = len(r.scopes) - 1 - i
			return
		}
	}
}

// ---------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------

func (r *Resolver) resolveDeclarations(decls []ast.Declaration) {
	for _, d := range decls {
		r.resolveDeclaration(d)
	}
}

func (r *Resolver) resolveDeclaration(decl ast.Declaration) {
	switch d := decl.(type) {
	case *ast.VarDecl:
		r.declare(d.Name)
		if d.Initializer != nil {
			r.resolveExpression(d.Initializer)
		}
		r.define(d.Name)
	case *ast.FunDecl:
		r.declare(d.Fn.Name)
		r.define(d.Fn.Name)
		r.resolveFunction(d.Fn, FunctionFunction)
	case *ast.ClassDecl:
		r.resolveClass(d)
	case *ast.StmtDecl:
		r.resolveStatement(d.Stmt)
	}
}

func (r *Resolver) resolveClass(d *ast.ClassDecl) {
	enclosingClass := r.currentClass
	r.currentClass = ClassClass

	r.declare(d.Name)
	r.define(d.Name)

	if d.Superclass != nil {
		if d.Superclass.Name.Lexeme == d.Name.Lexeme {
			r.errorf(d.Superclass.Name.Span, "a class can't inherit from itself")
		}
		r.currentClass = ClassSubclass
		r.resolveExpression(d.Superclass)

		r.beginScope()
		r.peekScope()["super"] = true
	}

	r.beginScope()
	r.peekScope()["this"] = true

	for _, method := range d.Methods {
		kind := FunctionMethod
		if method.Name.Lexeme == "init" {
			kind = FunctionInitializer
		}
		r.resolveFunction(method, kind)
	}

	r.endScope()
	if d.Superclass != nil {
		r.endScope()
	}

	r.currentClass = enclosingClass
}

// resolveFunction resolves a function or method body in a fresh scope
// binding its parameters. this/super, when present, were already bound in
// outer scopes by resolveClass before methods are visited.
func (r *Resolver) resolveFunction(fn *ast.Function, kind FunctionType) {
	enclosingFunction := r.currentFunction
	r.currentFunction = kind

	r.beginScope()
	for _, param := range fn.Params {
		r.declare(param)
		r.define(param)
	}
	r.resolveDeclarations(fn.Body)
	r.endScope()

	r.currentFunction = enclosingFunction
}

// ---------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------

func (r *Resolver) resolveStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStmt:
		r.resolveExpression(s.Expr)
	case *ast.PrintStmt:
		r.resolveExpression(s.Expr)
	case *ast.ReturnStmt:
		if r.currentFunction == FunctionNone {
			r.errorf(s.Keyword.Span, "can't return from top-level code")
		}
		if s.Value != nil {
			if r.currentFunction == FunctionInitializer {
				r.errorf(s.Keyword.Span, "can't return a value from an initializer")
			}
			r.resolveExpression(s.Value)
		}
	case *ast.Block:
		r.beginScope()
		r.resolveDeclarations(s.Declarations)
		r.endScope()
	case *ast.If:
		r.resolveExpression(s.Condition)
		r.resolveStatement(s.Then)
		if s.Else != nil {
			r.resolveStatement(s.Else)
		}
	case *ast.While:
		r.resolveExpression(s.Condition)
		r.resolveStatement(s.Body)
	}
}

// ---------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------

func (r *Resolver) resolveExpression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Literal:
		// no names mentioned
	case *ast.Grouping:
		r.resolveExpression(e.Inner)
	case *ast.Unary:
		r.resolveExpression(e.Right)
	case *ast.Binary:
		r.resolveExpression(e.Left)
		r.resolveExpression(e.Right)
	case *ast.Logical:
		r.resolveExpression(e.Left)
		r.resolveExpression(e.Right)
	case *ast.Variable:
		if sc := r.peekScope(); sc != nil {
			if ready, declared := sc[e.Name.Lexeme]; declared && !ready {
				r.errorf(e.Name.Span, "can't read local variable '"+e.Name.Lexeme+"' in its own initializer")
			}
		}
		r.resolveLocal(e, e.Name)
	case *ast.Assign:
		r.resolveExpression(e.Value)
		if v, ok := e.Target.(*ast.Variable); ok {
			r.resolveLocal(e, v.Name)
		}
	case *ast.Call:
		r.resolveExpression(e.Callee)
		for _, a := range e.Args {
			r.resolveExpression(a)
		}
	case *ast.Get:
		r.resolveExpression(e.Object)
	case *ast.Set:
		r.resolveExpression(e.Value)
		r.resolveExpression(e.Object)
	case *ast.This:
		if r.currentClass == ClassNone {
			r.errorf(e.Keyword.Span, "can't use 'this' outside of a class")
			return
		}
		r.resolveLocal(e, e.Keyword)
	case *ast.Super:
		if r.currentClass == ClassNone {
			r.errorf(e.Keyword.Span, "can't use 'super' outside of a class")
		} else if r.currentClass != ClassSubclass {
			r.errorf(e.Keyword.Span, "can't use 'super' in a class with no superclass")
		}
		r.resolveLocal(e, e.Keyword)
	}
}

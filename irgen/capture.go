package irgen

import "github.com/dr8co/klox/ast"

// slot is one declared name's bookkeeping for capture analysis: the
// function-nesting depth it was declared at, and whether any reference to
// it was ever seen from a deeper function. A captured slot must be
// materialized as a heap cell (alloc_cell/cell_get/cell_set) instead of a
// plain IR stack slot, so every closure that captures it shares one
// mutable storage location.
type slot struct {
	name      string
	funcDepth int
	captured  bool
}

// paramKey identifies one parameter of one function literal, since
// ast.Function.Params are plain token.Token values with no identity of
// their own.
type paramKey struct {
	fn  *ast.Function
	idx int
}

// captureInfo is the result of analyzing a program for which locals
// escape into nested closures. varSlots and paramSlots are keyed by AST
// node identity so emission can ask "is this declaration captured?" at
// the point it allocates storage.
type captureInfo struct {
	varSlots   map[*ast.VarDecl]*slot
	paramSlots map[paramKey]*slot
	thisSlots  map[*ast.Function]*slot
	funSlots   map[*ast.Function]*slot
	classSlots map[*ast.ClassDecl]*slot
}

func (c *captureInfo) varCaptured(d *ast.VarDecl) bool {
	if s, ok := c.varSlots[d]; ok {
		return s.captured
	}
	return false
}

func (c *captureInfo) paramCaptured(fn *ast.Function, idx int) bool {
	if s, ok := c.paramSlots[paramKey{fn, idx}]; ok {
		return s.captured
	}
	return false
}

func (c *captureInfo) thisCaptured(fn *ast.Function) bool {
	if s, ok := c.thisSlots[fn]; ok {
		return s.captured
	}
	return false
}

// funCaptured reports whether the local binding a `fun` declaration
// introduces is referenced from a nested function — including the
// function's own body, which is one nesting level deeper, so every
// locally declared recursive function counts as captured.
func (c *captureInfo) funCaptured(fn *ast.Function) bool {
	if s, ok := c.funSlots[fn]; ok {
		return s.captured
	}
	return false
}

func (c *captureInfo) classCaptured(d *ast.ClassDecl) bool {
	if s, ok := c.classSlots[d]; ok {
		return s.captured
	}
	return false
}

// analyzer mirrors resolver.Resolver's scope-stack walk, but tracks
// function-nesting depth rather than block depth, and records a pointer
// to each declaration's slot rather than a distance, since the irgen
// backend's storage decision is binary (cell or not), not a lookup
// strategy.
type analyzer struct {
	scopes    []map[string]*slot
	funcDepth int
	info      *captureInfo
}

// analyze walks program and returns which locals and parameters are
// captured by a nested function literal anywhere in their lifetime.
func analyze(program *ast.Program) *captureInfo {
	a := &analyzer{
		info: &captureInfo{
			varSlots:   make(map[*ast.VarDecl]*slot),
			paramSlots: make(map[paramKey]*slot),
			thisSlots:  make(map[*ast.Function]*slot),
			funSlots:   make(map[*ast.Function]*slot),
			classSlots: make(map[*ast.ClassDecl]*slot),
		},
	}
	a.beginScope()
	a.declarations(program.Declarations)
	a.endScope()
	return a.info
}

func (a *analyzer) beginScope() { a.scopes = append(a.scopes, map[string]*slot{}) }
func (a *analyzer) endScope()   { a.scopes = a.scopes[:len(a.scopes)-1] }

func (a *analyzer) bind(name string, s *slot) {
	if len(a.scopes) == 0 {
		return
	}
	a.scopes[len(a.scopes)-1][name] = s
}

// use marks name's declaring slot captured if it was declared in a
// strictly shallower function than the one currently being walked.
func (a *analyzer) use(name string) {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if s, ok := a.scopes[i][name]; ok {
			if s.funcDepth != a.funcDepth {
				s.captured = true
			}
			return
		}
	}
}

func (a *analyzer) declarations(decls []ast.Declaration) {
	for _, d := range decls {
		a.declaration(d)
	}
}

func (a *analyzer) declaration(decl ast.Declaration) {
	switch d := decl.(type) {
	case *ast.VarDecl:
		if d.Initializer != nil {
			a.expression(d.Initializer)
		}
		s := &slot{name: d.Name.Lexeme, funcDepth: a.funcDepth}
		a.info.varSlots[d] = s
		a.bind(d.Name.Lexeme, s)
	case *ast.FunDecl:
		s := &slot{name: d.Fn.Name.Lexeme, funcDepth: a.funcDepth}
		a.info.funSlots[d.Fn] = s
		a.bind(d.Fn.Name.Lexeme, s)
		a.function(d.Fn, false)
	case *ast.ClassDecl:
		s := &slot{name: d.Name.Lexeme, funcDepth: a.funcDepth}
		a.info.classSlots[d] = s
		a.bind(d.Name.Lexeme, s)
		if d.Superclass != nil {
			a.use(d.Superclass.Name.Lexeme)
		}
		for _, m := range d.Methods {
			a.function(m, true)
		}
	case *ast.StmtDecl:
		a.statement(d.Stmt)
	}
}

// function walks fn's body one nesting level deeper, binding its
// parameters (and, for methods, an implicit "this") as new slots at that
// deeper depth.
func (a *analyzer) function(fn *ast.Function, isMethod bool) {
	a.funcDepth++
	a.beginScope()
	if isMethod {
		s := &slot{name: "this", funcDepth: a.funcDepth}
		a.info.thisSlots[fn] = s
		a.bind("this", s)
	}
	for i, p := range fn.Params {
		s := &slot{name: p.Lexeme, funcDepth: a.funcDepth}
		a.info.paramSlots[paramKey{fn, i}] = s
		a.bind(p.Lexeme, s)
	}
	a.declarations(fn.Body)
	a.endScope()
	a.funcDepth--
}

func (a *analyzer) statement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStmt:
		a.expression(s.Expr)
	case *ast.PrintStmt:
		a.expression(s.Expr)
	case *ast.ReturnStmt:
		if s.Value != nil {
			a.expression(s.Value)
		}
	case *ast.Block:
		a.beginScope()
		a.declarations(s.Declarations)
		a.endScope()
	case *ast.If:
		a.expression(s.Condition)
		a.statement(s.Then)
		if s.Else != nil {
			a.statement(s.Else)
		}
	case *ast.While:
		a.expression(s.Condition)
		a.statement(s.Body)
	}
}

func (a *analyzer) expression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Literal:
	case *ast.Grouping:
		a.expression(e.Inner)
	case *ast.Unary:
		a.expression(e.Right)
	case *ast.Binary:
		a.expression(e.Left)
		a.expression(e.Right)
	case *ast.Logical:
		a.expression(e.Left)
		a.expression(e.Right)
	case *ast.Variable:
		a.use(e.Name.Lexeme)
	case *ast.Assign:
		a.expression(e.Value)
		if v, ok := e.Target.(*ast.Variable); ok {
			a.use(v.Name.Lexeme)
		}
	case *ast.Call:
		a.expression(e.Callee)
		for _, arg := range e.Args {
			a.expression(arg)
		}
	case *ast.Get:
		a.expression(e.Object)
	case *ast.Set:
		a.expression(e.Value)
		a.expression(e.Object)
	case *ast.This:
		a.use("this")
	case *ast.Super:
		a.use("super")
	}
}

// Package compiler transforms a resolved AST into bytecode chunks for the
// virtual machine.
//
// Unlike the resolver, the compiler resolves variable references through
// its own scope stack of local slots: a function's top-level body is
// itself a scope (the compiler opens one unconditionally on entry and
// never closes it — the whole function state is discarded at the end),
// so only the true top-level script sits at scope depth zero and is
// compiled as globals; everything else, including a function's own
// parameters, is local. This is deliberately decoupled from the
// resolver's expression-id → depth map: the resolver's output exists
// to drive the tree-walk evaluator, not the compiler.
//
// Dispatch follows the same `switch node := node.(type)` idiom used by
// the resolver and evaluator rather than a visitor pattern. Errors
// accumulate on the Compiler the same way the scanner,
// parser, and resolver do (collect-and-continue), rather than aborting
// on the first one.
package compiler

import (
	"encoding/binary"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/code"
	"github.com/dr8co/klox/object"
	"github.com/dr8co/klox/token"
)

// Error is a compile-time error: a chunk-level limit exceeded (too many
// constants, locals, or upvalues in one function).
type Error struct {
	Message string
	Span    token.Span
}

// functionType tracks what kind of function body is currently being
// compiled, mirroring resolver.FunctionType but driving bytecode-specific
// decisions: the implicit return value and whether slot 0 is reserved for
// `this`.
type functionType int

const (
	typeScript functionType = iota
	typeFunction
	typeMethod
	typeInitializer
)

// funcState is the compiler's state for one function body being compiled,
// linked to its enclosing function for upvalue resolution.
type funcState struct {
	enclosing *funcState
	fnType    functionType
	proto     *object.FunctionProto
	symbols   *symbolTable
}

// classState tracks the class currently being compiled, so a superclass
// introduces a `super` scope that is closed once the class body finishes.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// Compiler compiles one program into a tree of chunks: the top-level
// script function, transitively owning every nested function and method
// as constants in its chunk.
type Compiler struct {
	source  string
	current *funcState
	class   *classState
	errs    []Error
}

// New creates a Compiler over source, the original program text — needed
// only to derive line numbers from token spans for the chunk's line
// table.
func New(source string) *Compiler {
	return &Compiler{source: source}
}

// Compile compiles an entire program into the top-level script function
// and returns any compile-time errors accumulated along the way.
func Compile(source string, program *ast.Program) (*object.FunctionProto, []Error) {
	c := New(source)
	c.current = c.newFuncState(typeScript, "")
	for _, d := range program.Declarations {
		c.compileDeclaration(d)
	}
	c.emit(0, code.Make(code.OpNil))
	c.emit(0, code.Make(code.OpReturn))
	return c.current.proto, c.errs
}

func (c *Compiler) errorf(span token.Span, msg string) {
	c.errs = append(c.errs, Error{Message: msg, Span: span})
}

func (c *Compiler) line(span token.Span) int { return span.Line(c.source) }

// exprSpan extracts a representative span from an expression node, used
// where the compiler needs a line number but no nearby token is already
// in hand (the AST carries spans on tokens, not on nodes directly).
func exprSpan(expr ast.Expression) token.Span {
	switch e := expr.(type) {
	case *ast.Literal:
		return e.Token.Span
	case *ast.Grouping:
		return e.LParen.Span
	case *ast.Unary:
		return e.Operator.Span
	case *ast.Binary:
		return e.Operator.Span
	case *ast.Logical:
		return e.Operator.Span
	case *ast.Variable:
		return e.Name.Span
	case *ast.Assign:
		return e.Equals.Span
	case *ast.Call:
		return e.Paren.Span
	case *ast.Get:
		return e.Name.Span
	case *ast.Set:
		return e.Name.Span
	case *ast.This:
		return e.Keyword.Span
	case *ast.Super:
		return e.Keyword.Span
	default:
		return token.Span{}
	}
}

// ---------------------------------------------------------------------
// Low-level emission
// ---------------------------------------------------------------------

func (c *Compiler) chunk() *object.Chunk { return c.current.proto.Chunk }

func (c *Compiler) emit(line int, bytes []byte) {
	c.chunk().WriteBytes(bytes, line)
}

func (c *Compiler) emitJump(op code.Opcode, line int) int {
	c.emit(line, code.Make(op, 0xFFFF))
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int, span token.Span) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 0xFFFF {
		c.errorf(span, "too much code to jump over")
		return
	}
	binary.BigEndian.PutUint16(c.chunk().Code[offset:], uint16(jump))
}

func (c *Compiler) emitLoop(loopStart int, span token.Span) {
	pos := len(c.chunk().Code)
	offset := pos + 3 - loopStart
	if offset > 0xFFFF {
		c.errorf(span, "loop body too large")
		return
	}
	c.emit(c.line(span), code.Make(code.OpLoop, offset))
}

// identifierConstant interns name as a string constant in the current
// chunk, used for global/property/method names.
func (c *Compiler) identifierConstant(name string, span token.Span) int {
	idx, err := c.chunk().AddConstant(object.String(name))
	if err != nil {
		c.errorf(span, err.Error())
		return 0
	}
	return idx
}

// ---------------------------------------------------------------------
// Function/closure compilation
// ---------------------------------------------------------------------

func (c *Compiler) newFuncState(fnType functionType, name string) *funcState {
	var enclosingSymbols *symbolTable
	if c.current != nil {
		enclosingSymbols = c.current.symbols
	}
	symbols := newSymbolTable(enclosingSymbols)

	// Slot 0 is reserved: `this` for methods/initializers, unused
	// otherwise — a uniform call-frame base so method invocation never
	// needs a different frame shape.
	slotName := ""
	if fnType == typeMethod || fnType == typeInitializer {
		slotName = "this"
	}
	symbols.locals = append(symbols.locals, local{name: slotName, depth: 0})

	return &funcState{
		enclosing: c.current,
		fnType:    fnType,
		proto:     &object.FunctionProto{Name: name, Chunk: object.NewChunk(), IsInitializer: fnType == typeInitializer},
		symbols:   symbols,
	}
}

// compileFunction compiles fn's body in a fresh funcState and returns the
// resulting constant plus the upvalue descriptors the enclosing chunk's
// OpClosure instruction must trail.
func (c *Compiler) compileFunction(fn *ast.Function, fnType functionType) (*object.FunctionProto, []object.UpvalueDesc) {
	prev := c.current
	fs := c.newFuncState(fnType, fn.Name.Lexeme)
	c.current = fs

	// The function's entire top-level body is itself one scope, opened
	// here and never explicitly closed (the whole funcState is discarded
	// when compilation returns) — the reason only the true top-level
	// script compiles its declarations as globals.
	fs.symbols.beginScope()

	for _, p := range fn.Params {
		c.declareLocalOnly(p)
	}
	fs.proto.Arity = len(fn.Params)

	for _, d := range fn.Body {
		c.compileDeclaration(d)
	}

	line := c.line(fn.Keyword.Span)
	if fnType == typeInitializer {
		c.emit(line, code.Make(code.OpGetLocal, 0))
	} else {
		c.emit(line, code.Make(code.OpNil))
	}
	c.emit(line, code.Make(code.OpReturn))

	proto := fs.proto
	proto.UpvalueCount = len(fs.symbols.upvalues)
	upvalues := make([]object.UpvalueDesc, len(fs.symbols.upvalues))
	for i, u := range fs.symbols.upvalues {
		upvalues[i] = object.UpvalueDesc{IsLocal: u.isLocal, Index: u.index}
	}

	c.current = prev
	return proto, upvalues
}

// emitClosure adds proto as a constant and emits OpClosure followed by
// its trailing (is_local, index) upvalue descriptor bytes.
func (c *Compiler) emitClosure(proto *object.FunctionProto, upvalues []object.UpvalueDesc, span token.Span) {
	idx, err := c.chunk().AddConstant(proto)
	if err != nil {
		c.errorf(span, err.Error())
		return
	}
	if len(upvalues) > 255 {
		c.errorf(span, "too many captured variables in one function")
		return
	}
	line := c.line(span)
	c.emit(line, code.Make(code.OpClosure, idx, len(upvalues)))
	for _, u := range upvalues {
		isLocal := byte(0)
		if u.IsLocal {
			isLocal = 1
		}
		c.chunk().Write(isLocal, line)
		c.chunk().Write(byte(u.Index), line)
	}
}

// ---------------------------------------------------------------------
// Variable declaration / resolution
// ---------------------------------------------------------------------

// declareLocalOnly adds tok.Lexeme as a local in the current scope
// (always, since this is only called where the caller already knows it's
// a local: function parameters and class-synthesized `super`/`this`
// scopes), immediately marked ready.
func (c *Compiler) declareLocalOnly(tok token.Token) {
	if len(c.current.symbols.locals) >= 256 {
		c.errorf(tok.Span, "too many local variables in function")
		return
	}
	c.current.symbols.declareLocal(tok.Lexeme)
	c.current.symbols.defineLocal()
}

// declareVariable reserves (but does not yet initialize) name in the
// current scope if we are inside a function; at true top level it is a
// no-op, since globals have no compile-time slot.
func (c *Compiler) declareVariable(name token.Token) {
	if c.current.symbols.scopeDepth == 0 {
		return
	}
	if len(c.current.symbols.locals) >= 256 {
		c.errorf(name.Span, "too many local variables in function")
		return
	}
	c.current.symbols.declareLocal(name.Lexeme)
}

// defineVariable finishes a var declaration: for a local, marks the
// reserved slot ready; for a global, emits OpDefineGlobal, which pops the
// value already on the stack and binds it by name.
func (c *Compiler) defineVariable(name token.Token) {
	if c.current.symbols.scopeDepth > 0 {
		c.current.symbols.defineLocal()
		return
	}
	idx := c.identifierConstant(name.Lexeme, name.Span)
	c.emit(c.line(name.Span), code.Make(code.OpDefineGlobal, idx))
}

// resolveName implements the three-step lookup order: local,
// then upvalue, then (by elimination) global.
func (c *Compiler) resolveName(name string) (kind string, idx int) {
	if i, ok := c.current.symbols.resolveLocal(name); ok {
		return "local", i
	}
	if i, ok := c.current.symbols.resolveUpvalue(name); ok {
		return "upvalue", i
	}
	return "global", 0
}

func (c *Compiler) emitNamedGet(name string, span token.Span) {
	line := c.line(span)
	switch kind, idx := c.resolveName(name); kind {
	case "local":
		c.emit(line, code.Make(code.OpGetLocal, idx))
	case "upvalue":
		c.emit(line, code.Make(code.OpGetUpvalue, idx))
	default:
		ci := c.identifierConstant(name, span)
		c.emit(line, code.Make(code.OpGetGlobal, ci))
	}
}

func (c *Compiler) emitNamedSet(name string, span token.Span) {
	line := c.line(span)
	switch kind, idx := c.resolveName(name); kind {
	case "local":
		c.emit(line, code.Make(code.OpSetLocal, idx))
	case "upvalue":
		c.emit(line, code.Make(code.OpSetUpvalue, idx))
	default:
		ci := c.identifierConstant(name, span)
		c.emit(line, code.Make(code.OpSetGlobal, ci))
	}
}

// ---------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------

func (c *Compiler) compileDeclaration(decl ast.Declaration) {
	switch d := decl.(type) {
	case *ast.VarDecl:
		c.compileVarDecl(d)
	case *ast.FunDecl:
		c.compileFunDecl(d)
	case *ast.ClassDecl:
		c.compileClassDecl(d)
	case *ast.StmtDecl:
		c.compileStatement(d.Stmt)
	}
}

func (c *Compiler) compileVarDecl(d *ast.VarDecl) {
	c.declareVariable(d.Name)
	if d.Initializer != nil {
		c.compileExpression(d.Initializer)
	} else {
		c.emit(c.line(d.Keyword.Span), code.Make(code.OpNil))
	}
	c.defineVariable(d.Name)
}

func (c *Compiler) compileFunDecl(d *ast.FunDecl) {
	c.declareVariable(d.Fn.Name)
	// Mark ready immediately, before the body compiles, so a local
	// function can call itself recursively.
	if c.current.symbols.scopeDepth > 0 {
		c.current.symbols.defineLocal()
	}
	proto, upvalues := c.compileFunction(d.Fn, typeFunction)
	c.emitClosure(proto, upvalues, d.Fn.Keyword.Span)
	if c.current.symbols.scopeDepth == 0 {
		idx := c.identifierConstant(d.Fn.Name.Lexeme, d.Fn.Name.Span)
		c.emit(c.line(d.Fn.Keyword.Span), code.Make(code.OpDefineGlobal, idx))
	}
}

func (c *Compiler) compileClassDecl(d *ast.ClassDecl) {
	line := c.line(d.Keyword.Span)

	c.declareVariable(d.Name)
	if c.current.symbols.scopeDepth > 0 {
		c.current.symbols.defineLocal()
	}

	nameIdx := c.identifierConstant(d.Name.Lexeme, d.Name.Span)
	c.emit(line, code.Make(code.OpClass, nameIdx))

	if c.current.symbols.scopeDepth == 0 {
		c.emit(line, code.Make(code.OpDefineGlobal, nameIdx))
	}

	cs := &classState{enclosing: c.class}
	c.class = cs

	if d.Superclass != nil {
		c.emitNamedGet(d.Superclass.Name.Lexeme, d.Superclass.Name.Span)

		c.current.symbols.beginScope()
		c.declareLocalOnly(token.Token{Kind: token.IDENT, Lexeme: "super", Span: d.Superclass.Name.Span})

		c.emitNamedGet(d.Name.Lexeme, d.Name.Span)
		c.emit(line, code.Make(code.OpInherit))
		cs.hasSuperclass = true
	}

	c.emitNamedGet(d.Name.Lexeme, d.Name.Span)
	for _, m := range d.Methods {
		fnType := typeMethod
		if m.Name.Lexeme == "init" {
			fnType = typeInitializer
		}
		proto, upvalues := c.compileFunction(m, fnType)
		c.emitClosure(proto, upvalues, m.Keyword.Span)
		mIdx := c.identifierConstant(m.Name.Lexeme, m.Name.Span)
		c.emit(c.line(m.Keyword.Span), code.Make(code.OpMethod, mIdx))
	}
	c.emit(line, code.Make(code.OpPop))

	if cs.hasSuperclass {
		popped := c.current.symbols.endScope()
		c.emitScopeExit(popped, line)
	}

	c.class = cs.enclosing
}

// emitScopeExit emits OpCloseUpvalue or OpPop for each local leaving
// scope, innermost (most recently declared, topmost on the value stack)
// first.
func (c *Compiler) emitScopeExit(popped []local, line int) {
	for i := len(popped) - 1; i >= 0; i-- {
		if popped[i].captured {
			c.emit(line, code.Make(code.OpCloseUpvalue))
		} else {
			c.emit(line, code.Make(code.OpPop))
		}
	}
}

// ---------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStmt:
		c.compileExpression(s.Expr)
		c.emit(c.line(exprSpan(s.Expr)), code.Make(code.OpPop))
	case *ast.PrintStmt:
		c.compileExpression(s.Expr)
		c.emit(c.line(s.Keyword.Span), code.Make(code.OpPrint))
	case *ast.ReturnStmt:
		line := c.line(s.Keyword.Span)
		if s.Value == nil {
			if c.current.fnType == typeInitializer {
				c.emit(line, code.Make(code.OpGetLocal, 0))
			} else {
				c.emit(line, code.Make(code.OpNil))
			}
		} else {
			c.compileExpression(s.Value)
		}
		c.emit(line, code.Make(code.OpReturn))
	case *ast.Block:
		c.compileBlock(s)
	case *ast.If:
		c.compileIf(s)
	case *ast.While:
		c.compileWhile(s)
	}
}

func (c *Compiler) compileBlock(s *ast.Block) {
	c.current.symbols.beginScope()
	for _, d := range s.Declarations {
		c.compileDeclaration(d)
	}
	popped := c.current.symbols.endScope()
	c.emitScopeExit(popped, c.line(s.LBrace.Span))
}

func (c *Compiler) compileIf(s *ast.If) {
	c.compileExpression(s.Condition)
	line := c.line(s.Keyword.Span)
	thenJump := c.emitJump(code.OpJumpIfFalse, line)
	c.emit(line, code.Make(code.OpPop))
	c.compileStatement(s.Then)
	elseJump := c.emitJump(code.OpJump, line)
	c.patchJump(thenJump, s.Keyword.Span)
	c.emit(line, code.Make(code.OpPop))
	if s.Else != nil {
		c.compileStatement(s.Else)
	}
	c.patchJump(elseJump, s.Keyword.Span)
}

func (c *Compiler) compileWhile(s *ast.While) {
	loopStart := len(c.chunk().Code)
	c.compileExpression(s.Condition)
	line := c.line(s.Keyword.Span)
	exitJump := c.emitJump(code.OpJumpIfFalse, line)
	c.emit(line, code.Make(code.OpPop))
	c.compileStatement(s.Body)
	c.emitLoop(loopStart, s.Keyword.Span)
	c.patchJump(exitJump, s.Keyword.Span)
	c.emit(line, code.Make(code.OpPop))
}

// ---------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------

func (c *Compiler) compileExpression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Literal:
		c.compileLiteral(e)
	case *ast.Grouping:
		c.compileExpression(e.Inner)
	case *ast.Unary:
		c.compileUnary(e)
	case *ast.Binary:
		c.compileBinary(e)
	case *ast.Logical:
		c.compileLogical(e)
	case *ast.Variable:
		c.emitNamedGet(e.Name.Lexeme, e.Name.Span)
	case *ast.Assign:
		c.compileAssign(e)
	case *ast.Call:
		c.compileCall(e)
	case *ast.Get:
		c.compileExpression(e.Object)
		idx := c.identifierConstant(e.Name.Lexeme, e.Name.Span)
		c.emit(c.line(e.Name.Span), code.Make(code.OpGetProperty, idx))
	case *ast.Set:
		c.compileExpression(e.Object)
		c.compileExpression(e.Value)
		idx := c.identifierConstant(e.Name.Lexeme, e.Name.Span)
		c.emit(c.line(e.Name.Span), code.Make(code.OpSetProperty, idx))
	case *ast.This:
		c.emitNamedGet("this", e.Keyword.Span)
	case *ast.Super:
		c.emitNamedGet("this", e.Keyword.Span)
		c.emitNamedGet("super", e.Keyword.Span)
		idx := c.identifierConstant(e.Method.Lexeme, e.Method.Span)
		c.emit(c.line(e.Method.Span), code.Make(code.OpGetSuper, idx))
	}
}

func (c *Compiler) compileLiteral(e *ast.Literal) {
	line := c.line(e.Token.Span)
	switch v := e.Value.(type) {
	case float64:
		idx := c.chunkAddConstant(object.Number(v), e.Token.Span)
		c.emit(line, code.Make(code.OpConstant, idx))
	case string:
		idx := c.chunkAddConstant(object.String(v), e.Token.Span)
		c.emit(line, code.Make(code.OpConstant, idx))
	case bool:
		if v {
			c.emit(line, code.Make(code.OpTrue))
		} else {
			c.emit(line, code.Make(code.OpFalse))
		}
	default:
		c.emit(line, code.Make(code.OpNil))
	}
}

func (c *Compiler) chunkAddConstant(v object.Value, span token.Span) int {
	idx, err := c.chunk().AddConstant(v)
	if err != nil {
		c.errorf(span, err.Error())
		return 0
	}
	return idx
}

func (c *Compiler) compileUnary(e *ast.Unary) {
	c.compileExpression(e.Right)
	line := c.line(e.Operator.Span)
	switch e.Operator.Kind {
	case token.MINUS:
		c.emit(line, code.Make(code.OpNegate))
	case token.BANG:
		c.emit(line, code.Make(code.OpNot))
	}
}

func (c *Compiler) compileBinary(e *ast.Binary) {
	c.compileExpression(e.Left)
	c.compileExpression(e.Right)
	line := c.line(e.Operator.Span)
	switch e.Operator.Kind {
	case token.PLUS:
		c.emit(line, code.Make(code.OpAdd))
	case token.MINUS:
		c.emit(line, code.Make(code.OpSubtract))
	case token.STAR:
		c.emit(line, code.Make(code.OpMultiply))
	case token.SLASH:
		c.emit(line, code.Make(code.OpDivide))
	case token.EQUAL_EQUAL:
		c.emit(line, code.Make(code.OpEqual))
	case token.BANG_EQUAL:
		c.emit(line, code.Make(code.OpEqual))
		c.emit(line, code.Make(code.OpNot))
	case token.GREATER:
		c.emit(line, code.Make(code.OpGreater))
	case token.GREATER_EQUAL:
		c.emit(line, code.Make(code.OpLess))
		c.emit(line, code.Make(code.OpNot))
	case token.LESS:
		c.emit(line, code.Make(code.OpLess))
	case token.LESS_EQUAL:
		c.emit(line, code.Make(code.OpGreater))
		c.emit(line, code.Make(code.OpNot))
	}
}

func (c *Compiler) compileLogical(e *ast.Logical) {
	line := c.line(e.Operator.Span)
	if e.Operator.Kind == token.AND {
		c.compileExpression(e.Left)
		endJump := c.emitJump(code.OpJumpIfFalse, line)
		c.emit(line, code.Make(code.OpPop))
		c.compileExpression(e.Right)
		c.patchJump(endJump, e.Operator.Span)
		return
	}
	// or
	c.compileExpression(e.Left)
	elseJump := c.emitJump(code.OpJumpIfFalse, line)
	endJump := c.emitJump(code.OpJump, line)
	c.patchJump(elseJump, e.Operator.Span)
	c.emit(line, code.Make(code.OpPop))
	c.compileExpression(e.Right)
	c.patchJump(endJump, e.Operator.Span)
}

func (c *Compiler) compileAssign(e *ast.Assign) {
	v, ok := e.Target.(*ast.Variable)
	if !ok {
		c.errorf(e.TargetSpan, "invalid assignment target")
		return
	}
	c.compileExpression(e.Value)
	c.emitNamedSet(v.Name.Lexeme, e.Equals.Span)
}

func (c *Compiler) compileCall(x *ast.Call) {
	switch callee := x.Callee.(type) {
	case *ast.Get:
		c.compileExpression(callee.Object)
		for _, a := range x.Args {
			c.compileExpression(a)
		}
		idx := c.identifierConstant(callee.Name.Lexeme, callee.Name.Span)
		c.emit(c.line(x.Paren.Span), code.Make(code.OpInvoke, idx, len(x.Args)))
	case *ast.Super:
		c.emitNamedGet("this", callee.Keyword.Span)
		for _, a := range x.Args {
			c.compileExpression(a)
		}
		c.emitNamedGet("super", callee.Keyword.Span)
		idx := c.identifierConstant(callee.Method.Lexeme, callee.Method.Span)
		c.emit(c.line(x.Paren.Span), code.Make(code.OpSuperInvoke, idx, len(x.Args)))
	default:
		c.compileExpression(x.Callee)
		for _, a := range x.Args {
			c.compileExpression(a)
		}
		c.emit(c.line(x.Paren.Span), code.Make(code.OpCall, len(x.Args)))
	}
}

// Package irgen emits LLVM IR text for a resolved Lox program. Every
// Lox value crossing a function boundary or the C-ABI
// support-library boundary declared in abi.go is the two-field record
// `%value { i8 tag, i64 payload }`; a captured local is promoted to a
// heap cell (alloc_cell/cell_get/cell_set) ahead of time by the capture.go
// pre-pass so every closure that shares it observes the same mutations.
//
// Per-node emission mechanics are implementation freedom; only the
// value model, the function signature contract, and the ABI are
// normative. This backend does not reuse the compiler's symbolTable — a
// different storage question (alloca/cell vs. stack slot) needs a
// different answer than the bytecode backend's local/upvalue/global
// three-way split.
package irgen

import (
	"fmt"
	"math"
	"strings"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/token"
)

// Error is a problem discovered while emitting IR: a reference to a name
// that escaped both resolution and capture analysis, an invalid
// assignment target, or an expression node the emitter does not handle.
// None of these should happen for a program that already passed the
// parser and resolver, but codegen fails loudly rather than emitting bad IR.
type Error struct {
	Message string
	Span    token.Span
}

// binding is where one in-scope name currently lives: a plain alloca'd
// stack slot, or (for a captured local) a cell value held in a stack
// slot. Names with no binding resolve as globals.
type bindingKind int

const (
	bindLocal bindingKind = iota
	bindCell
)

type binding struct {
	kind bindingKind
	reg  string // SSA name of the %value* slot holding the value (or the cell)
}

// fnCtx is the emission state for one Lox function literal currently
// being compiled to one LLVM `define`.
type fnCtx struct {
	name     string
	isInit   bool
	scopes   []map[string]*binding
	regs     int
	out      *strings.Builder
}

// Emitter accumulates one LLVM IR module's worth of text: the fixed ABI
// declarations, a deduplicated string-constant pool, and one `define` per
// Lox function literal plus a synthetic top-level script function.
type Emitter struct {
	source   string
	info     *captureInfo
	strs     map[string]string // literal content -> global name
	strOrder []string
	funcs    []string // emitted `define` blocks, in order
	fnSeq    int
	errs     []Error
}

// New creates an Emitter over source, the original program text — needed
// to derive the line numbers runtime_error and its siblings carry.
func New(source string) *Emitter {
	return &Emitter{source: source, strs: make(map[string]string)}
}

// Emit compiles program into a complete LLVM IR module.
func Emit(source string, program *ast.Program) (string, []Error) {
	e := New(source)
	e.info = analyze(program)

	top := &fnCtx{name: "lox_main", out: &strings.Builder{}}
	top.beginScope()
	fmt.Fprintf(top.out, "define void @lox_main() {\nentry:\n")
	e.emitDeclarations(top, program.Declarations, true)
	top.out.WriteString("  ret void\n}\n\n")
	top.endScope()

	var mod strings.Builder
	mod.WriteString(runtimeDecls)
	mod.WriteString("\n")
	for _, name := range e.strOrder {
		content := e.strs[name]
		lit, length := llvmStringLiteral(content)
		fmt.Fprintf(&mod, "@%s = private unnamed_addr constant [%d x i8] %s\n", name, length, lit)
	}
	mod.WriteString("\n")
	for _, fn := range e.funcs {
		mod.WriteString(fn)
	}
	mod.WriteString(top.out.String())
	mod.WriteString("define i32 @main() {\nentry:\n  call void @lox_main()\n  ret i32 0\n}\n")

	return mod.String(), e.errs
}

func (e *Emitter) errorf(span token.Span, format string, args ...any) {
	e.errs = append(e.errs, Error{Message: fmt.Sprintf(format, args...), Span: span})
}

func (e *Emitter) lineOf(span token.Span) int { return span.Line(e.source) }

// ---------------------------------------------------------------------
// fnCtx helpers
// ---------------------------------------------------------------------

func (f *fnCtx) beginScope() { f.scopes = append(f.scopes, map[string]*binding{}) }
func (f *fnCtx) endScope()   { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *fnCtx) bind(name string, b *binding) {
	f.scopes[len(f.scopes)-1][name] = b
}

func (f *fnCtx) lookup(name string) (*binding, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if b, ok := f.scopes[i][name]; ok {
			return b, true
		}
	}
	return nil, false
}

func (f *fnCtx) newReg() string {
	f.regs++
	return fmt.Sprintf("%%r%d", f.regs)
}

func (f *fnCtx) newLocal() string {
	f.regs++
	return fmt.Sprintf("%%v%d", f.regs)
}

func (f *fnCtx) emit(format string, args ...any) {
	fmt.Fprintf(f.out, "  "+format+"\n", args...)
}

func (f *fnCtx) label(prefix string) string {
	f.regs++
	return fmt.Sprintf("%s.%d", prefix, f.regs)
}

func (f *fnCtx) label_(name string) {
	fmt.Fprintf(f.out, "%s:\n", name)
}

// ---------------------------------------------------------------------
// String pool
// ---------------------------------------------------------------------

func (e *Emitter) internString(s string) string {
	if name, ok := e.strs[s]; ok {
		return name
	}
	name := fmt.Sprintf(".str.%d", len(e.strOrder))
	e.strs[s] = name
	e.strOrder = append(e.strOrder, name)
	return name
}

func llvmStringLiteral(s string) (string, int) {
	var sb strings.Builder
	sb.WriteByte('c')
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b < 0x7f && b != '"' && b != '\\' {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "\\%02X", b)
		}
	}
	sb.WriteString("\\00\"")
	return sb.String(), len(s) + 1
}

// namePtr loads the (pointer, length) pair a string constant needs when
// passed to an ABI call expecting `i8*, i64` name arguments (global_get,
// class_find_method, and friends all take a name this way).
func (f *fnCtx) namePtr(e *Emitter, name string) (ptr string, length int) {
	global := e.internString(name)
	reg := f.newReg()
	f.emit("%s = getelementptr inbounds [%d x i8], [%d x i8]* @%s, i64 0, i64 0", reg, len(name)+1, len(name)+1, global)
	return reg, len(name)
}

// emitRuntimeError terminates the current basic block with a call to the
// runtime-error helper. The helper never
// returns; the block ends with unreachable and the caller must open a new
// label before emitting anything further.
func (e *Emitter) emitRuntimeError(f *fnCtx, msg string, line int) {
	ptr, length := f.namePtr(e, msg)
	f.emit("call void @runtime_error(i8* %s, i64 %d, i64 %d)", ptr, length, line)
	f.emit("unreachable")
}

// ---------------------------------------------------------------------
// %value construction
// ---------------------------------------------------------------------

func (f *fnCtx) nilValue() string { return "{ i8 0, i64 0 }" }

func (f *fnCtx) boolValue(b bool) string {
	if b {
		return "{ i8 1, i64 1 }"
	}
	return "{ i8 1, i64 0 }"
}

// numberValueConst packs a float64 literal as the i64 bit pattern the ABI
// expects in a %value's payload field. LLVM spells double constants as a
// 16-digit hex bit pattern, which is also exactly the payload we need, so
// one bitcast closes the loop without any precision loss.
func (f *fnCtx) numberValueConst(n float64) string {
	reg := f.newReg()
	f.emit("%s = bitcast double 0x%016X to i64", reg, math.Float64bits(n))
	return fmt.Sprintf("{ i8 2, i64 %s }", reg)
}

// ---------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------

func (e *Emitter) emitDeclarations(f *fnCtx, decls []ast.Declaration, topLevel bool) {
	for _, d := range decls {
		e.emitDeclaration(f, d, topLevel)
	}
}

func (e *Emitter) emitDeclaration(f *fnCtx, decl ast.Declaration, topLevel bool) {
	switch d := decl.(type) {
	case *ast.VarDecl:
		var v string
		if d.Initializer != nil {
			v = e.emitExpression(f, d.Initializer)
		} else {
			v = f.nilValue()
		}
		if topLevel {
			ptr, length := f.namePtr(e, d.Name.Lexeme)
			f.emit("call void @global_set(i8* %s, i64 %d, %%value %s)", ptr, length, v)
			return
		}
		e.storeLocal(f, d.Name.Lexeme, v, e.info.varCaptured(d))
	case *ast.FunDecl:
		e.emitFunDecl(f, d, topLevel)
	case *ast.ClassDecl:
		e.emitClassDecl(f, d, topLevel)
	case *ast.StmtDecl:
		e.emitStatement(f, d.Stmt)
	}
}

func (e *Emitter) emitFunDecl(f *fnCtx, d *ast.FunDecl, topLevel bool) {
	name := d.Fn.Name.Lexeme
	if topLevel {
		fnVal := e.emitFunctionLiteral(f, d.Fn, "")
		ptr, length := f.namePtr(e, name)
		f.emit("call void @global_set(i8* %s, i64 %d, %%value %s)", ptr, length, fnVal)
		return
	}
	if !e.info.funCaptured(d.Fn) {
		fnVal := e.emitFunctionLiteral(f, d.Fn, "")
		e.storeLocal(f, name, fnVal, false)
		return
	}
	// A captured local function must be able to see itself (recursion) and
	// be seen by later closures through one shared cell, so the cell is
	// allocated and bound before the body is even emitted, then filled in.
	cell := f.newReg()
	f.emit("%s = call %%value @alloc_cell(%%value %s)", cell, f.nilValue())
	slot := f.newLocal()
	f.emit("%s = alloca %%value", slot)
	f.emit("store %%value %s, %%value* %s", cell, slot)
	f.bind(name, &binding{kind: bindCell, reg: slot})

	fnVal := e.emitFunctionLiteral(f, d.Fn, "")
	reload := f.newReg()
	f.emit("%s = load %%value, %%value* %s", reload, slot)
	f.emit("call void @cell_set(%%value %s, %%value %s)", reload, fnVal)
}

// storeLocal allocates stack storage for name and stores v into it,
// wrapping v in a heap cell first when capture analysis says a nested
// closure shares this binding.
func (e *Emitter) storeLocal(f *fnCtx, name string, v string, captured bool) {
	if captured {
		cell := f.newReg()
		f.emit("%s = call %%value @alloc_cell(%%value %s)", cell, v)
		slot := f.newLocal()
		f.emit("%s = alloca %%value", slot)
		f.emit("store %%value %s, %%value* %s", cell, slot)
		f.bind(name, &binding{kind: bindCell, reg: slot})
		return
	}
	slot := f.newLocal()
	f.emit("%s = alloca %%value", slot)
	f.emit("store %%value %s, %%value* %s", v, slot)
	f.bind(name, &binding{kind: bindLocal, reg: slot})
}

func (e *Emitter) emitClassDecl(f *fnCtx, d *ast.ClassDecl, topLevel bool) {
	var super string
	if d.Superclass != nil {
		super = e.emitExpression(f, d.Superclass)
	} else {
		super = f.nilValue()
	}
	ptr, length := f.namePtr(e, d.Name.Lexeme)
	cls := f.newReg()
	f.emit("%s = call %%value @alloc_class(i8* %s, i64 %d, %%value %s, i64 %d)", cls, ptr, length, super, len(d.Methods))

	// Bind the class name before its methods are emitted, so a method
	// body referencing the class (a factory method, say) captures it.
	if !topLevel {
		e.storeLocal(f, d.Name.Lexeme, cls, e.info.classCaptured(d))
	}

	if d.Superclass != nil {
		// `super` is shared with every method that mentions it via the
		// same cell machinery as any other captured binding.
		f.beginScope()
		e.storeLocal(f, "super", super, true)
	}
	for _, m := range d.Methods {
		methodVal := e.emitFunctionLiteral(f, m, d.Name.Lexeme)
		mptr, mlen := f.namePtr(e, m.Name.Lexeme)
		f.emit("call void @class_add_method(%%value %s, i8* %s, i64 %d, %%value %s)", cls, mptr, mlen, methodVal)
	}
	if d.Superclass != nil {
		f.endScope()
	}

	if topLevel {
		nptr, nlen := f.namePtr(e, d.Name.Lexeme)
		f.emit("call void @global_set(i8* %s, i64 %d, %%value %s)", nptr, nlen, cls)
	}
}

// ---------------------------------------------------------------------
// Function literals
// ---------------------------------------------------------------------

// emitFunctionLiteral compiles fn's body into its own `define` and
// returns an SSA %value holding the resulting closure, built via
// alloc_closure per the environment-pointer-first signature contract
//: captured outer names are packed into an environment
// array of cells passed as alloc_closure's env argument, and the
// generated function itself takes that array back as its first
// parameter. alloc_closure copies the array, so the alloca it is built
// in does not need to outlive this call.
func (e *Emitter) emitFunctionLiteral(enclosing *fnCtx, fn *ast.Function, ownerClass string) string {
	e.fnSeq++
	isMethod := ownerClass != ""
	qualifiedName := fn.Name.Lexeme
	if isMethod {
		qualifiedName = ownerClass + "_" + fn.Name.Lexeme
	}
	irName := fmt.Sprintf("lox_fn_%d_%s", e.fnSeq, sanitizeIdent(qualifiedName))

	// The environment carries exactly the free names of this body that the
	// enclosing context can see as locals; anything else is a global and
	// resolves by name at runtime.
	var captured []string
	for _, name := range freeVariables(fn, isMethod) {
		if _, ok := enclosing.lookup(name); ok {
			captured = append(captured, name)
		}
	}

	inner := &fnCtx{
		name:   irName,
		isInit: isMethod && fn.Name.Lexeme == "init",
		out:    &strings.Builder{},
	}
	inner.beginScope()

	var paramNames []string
	if isMethod {
		paramNames = append(paramNames, "this")
	}
	for _, p := range fn.Params {
		paramNames = append(paramNames, p.Lexeme)
	}

	params := make([]string, 0, len(paramNames)+1)
	params = append(params, "%value* %env")
	for i := range paramNames {
		params = append(params, fmt.Sprintf("%%value %%p%d", i))
	}

	fmt.Fprintf(inner.out, "define %%value @%s(%s) {\nentry:\n", irName, strings.Join(params, ", "))

	// Every environment entry is a cell: reads and writes inside this
	// function go through cell_get/cell_set against the same heap box the
	// enclosing scope (and every sibling closure) uses.
	for i, name := range captured {
		reg := inner.newReg()
		fmt.Fprintf(inner.out, "  %s = getelementptr inbounds %%value, %%value* %%env, i64 %d\n", reg, i)
		loaded := inner.newReg()
		fmt.Fprintf(inner.out, "  %s = load %%value, %%value* %s\n", loaded, reg)
		slot := inner.newLocal()
		fmt.Fprintf(inner.out, "  %s = alloca %%value\n  store %%value %s, %%value* %s\n", slot, loaded, slot)
		inner.bind(name, &binding{kind: bindCell, reg: slot})
	}

	for i, pname := range paramNames {
		var capturedParam bool
		if isMethod && i == 0 {
			capturedParam = e.info.thisCaptured(fn)
		} else {
			capturedParam = e.info.paramCaptured(fn, paramIdxFor(i, isMethod))
		}
		e.storeLocal(inner, pname, fmt.Sprintf("%%p%d", i), capturedParam)
	}

	e.emitDeclarations(inner, fn.Body, false)
	if inner.isInit {
		thisV := e.emitVariableGet(inner, "this", fn.Keyword.Span)
		inner.emit("ret %%value %s", thisV)
	} else {
		inner.emit("ret %%value %s", inner.nilValue())
	}
	inner.out.WriteString("}\n\n")
	inner.endScope()
	e.funcs = append(e.funcs, inner.out.String())

	// Build the environment array for alloc_closure from the enclosing
	// function's live bindings for each captured name.
	var envPtr string
	if len(captured) == 0 {
		envPtr = "null"
	} else {
		arr := enclosing.newLocal()
		enclosing.emit("%s = alloca [%d x %%value]", arr, len(captured))
		for i, name := range captured {
			b, ok := enclosing.lookup(name)
			if !ok {
				e.errorf(fn.Keyword.Span, "unresolved captured name %q while emitting closure", name)
				continue
			}
			loaded := enclosing.newReg()
			enclosing.emit("%s = load %%value, %%value* %s", loaded, b.reg)
			cellVal := loaded
			if b.kind != bindCell {
				// Capture analysis should have promoted this binding; a
				// fresh cell keeps the environment shape uniform if not.
				cellVal = enclosing.newReg()
				enclosing.emit("%s = call %%value @alloc_cell(%%value %s)", cellVal, loaded)
			}
			elem := enclosing.newReg()
			enclosing.emit("%s = getelementptr inbounds [%d x %%value], [%d x %%value]* %s, i64 0, i64 %d", elem, len(captured), len(captured), arr, i)
			enclosing.emit("store %%value %s, %%value* %s", cellVal, elem)
		}
		envHead := enclosing.newReg()
		enclosing.emit("%s = getelementptr inbounds [%d x %%value], [%d x %%value]* %s, i64 0, i64 0", envHead, len(captured), len(captured), arr)
		envPtr = envHead
	}

	nameReg, nameLen := enclosing.namePtr(e, fn.Name.Lexeme)
	fnPtrReg := enclosing.newReg()
	enclosing.emit("%s = bitcast %s* @%s to i8*", fnPtrReg, closureSig(len(paramNames)), irName)
	closureReg := enclosing.newReg()
	enclosing.emit("%s = call %%value @alloc_closure(i8* %s, i64 %d, i8* %s, i64 %d, %%value* %s, i64 %d)",
		closureReg, fnPtrReg, len(fn.Params), nameReg, nameLen, envPtr, len(captured))
	return closureReg
}

// paramIdxFor maps a physical parameter slot index back to the index
// captureInfo.paramSlots was keyed on, since a method's slot 0 is the
// synthetic `this` rather than the first declared parameter.
func paramIdxFor(i int, isMethod bool) int {
	if isMethod {
		return i - 1
	}
	return i
}

func sanitizeIdent(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------
// Free-variable analysis
// ---------------------------------------------------------------------

// freeWalker computes which names a function body references without
// binding, with proper block scoping so a block-local declaration does
// not shadow an enclosing name past the block's end.
type freeWalker struct {
	bound []map[string]bool
	seen  map[string]bool
	order []string
}

func (w *freeWalker) push() { w.bound = append(w.bound, map[string]bool{}) }
func (w *freeWalker) pop()  { w.bound = w.bound[:len(w.bound)-1] }

func (w *freeWalker) bind(name string) {
	w.bound[len(w.bound)-1][name] = true
}

func (w *freeWalker) isBound(name string) bool {
	for i := len(w.bound) - 1; i >= 0; i-- {
		if w.bound[i][name] {
			return true
		}
	}
	return false
}

func (w *freeWalker) note(name string) {
	if w.isBound(name) || w.seen[name] {
		return
	}
	w.seen[name] = true
	w.order = append(w.order, name)
}

// freeVariables returns, in a stable order, every name fn's body
// references that it does not itself bind — exactly the set
// alloc_closure's environment array must carry, once the emitter filters
// out the ones that are globals at the enclosing scope. Methods bind
// `this` implicitly but NOT `super`: `super` lives in the class-body
// scope and must be captured like any other outer name.
func freeVariables(fn *ast.Function, isMethod bool) []string {
	w := &freeWalker{seen: map[string]bool{}}
	w.push()
	if isMethod {
		w.bind("this")
	}
	for _, p := range fn.Params {
		w.bind(p.Lexeme)
	}
	for _, d := range fn.Body {
		w.declaration(d)
	}
	return w.order
}

func (w *freeWalker) declaration(decl ast.Declaration) {
	switch d := decl.(type) {
	case *ast.VarDecl:
		if d.Initializer != nil {
			w.expression(d.Initializer)
		}
		w.bind(d.Name.Lexeme)
	case *ast.FunDecl:
		// The name is visible inside its own body (recursion), so bind
		// before folding the nested function's own free names in.
		w.bind(d.Fn.Name.Lexeme)
		for _, name := range freeVariables(d.Fn, false) {
			w.note(name)
		}
	case *ast.ClassDecl:
		w.bind(d.Name.Lexeme)
		if d.Superclass != nil {
			w.note(d.Superclass.Name.Lexeme)
		}
		for _, m := range d.Methods {
			for _, name := range freeVariables(m, true) {
				w.note(name)
			}
		}
	case *ast.StmtDecl:
		w.statement(d.Stmt)
	}
}

func (w *freeWalker) statement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStmt:
		w.expression(s.Expr)
	case *ast.PrintStmt:
		w.expression(s.Expr)
	case *ast.ReturnStmt:
		if s.Value != nil {
			w.expression(s.Value)
		}
	case *ast.Block:
		w.push()
		for _, d := range s.Declarations {
			w.declaration(d)
		}
		w.pop()
	case *ast.If:
		w.expression(s.Condition)
		w.statement(s.Then)
		if s.Else != nil {
			w.statement(s.Else)
		}
	case *ast.While:
		w.expression(s.Condition)
		w.statement(s.Body)
	}
}

func (w *freeWalker) expression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Grouping:
		w.expression(e.Inner)
	case *ast.Unary:
		w.expression(e.Right)
	case *ast.Binary:
		w.expression(e.Left)
		w.expression(e.Right)
	case *ast.Logical:
		w.expression(e.Left)
		w.expression(e.Right)
	case *ast.Variable:
		w.note(e.Name.Lexeme)
	case *ast.Assign:
		w.expression(e.Value)
		if v, ok := e.Target.(*ast.Variable); ok {
			w.note(v.Name.Lexeme)
		}
	case *ast.Call:
		w.expression(e.Callee)
		for _, a := range e.Args {
			w.expression(a)
		}
	case *ast.Get:
		w.expression(e.Object)
	case *ast.Set:
		w.expression(e.Value)
		w.expression(e.Object)
	case *ast.This:
		w.note("this")
	case *ast.Super:
		w.note("super")
	}
}

// ---------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------

func (e *Emitter) emitStatement(f *fnCtx, stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStmt:
		e.emitExpression(f, s.Expr)
	case *ast.PrintStmt:
		v := e.emitExpression(f, s.Expr)
		f.emit("call void @print(%%value %s)", v)
	case *ast.ReturnStmt:
		if f.isInit {
			// The resolver rejects `return expr;` in an initializer, so
			// only the bare form reaches emission; it yields `this`.
			thisV := e.emitVariableGet(f, "this", s.Keyword.Span)
			f.emit("ret %%value %s", thisV)
		} else if s.Value != nil {
			v := e.emitExpression(f, s.Value)
			f.emit("ret %%value %s", v)
		} else {
			f.emit("ret %%value %s", f.nilValue())
		}
		// ret terminates the basic block; any trailing statements in the
		// surrounding body land in a fresh unreachable block.
		f.label_(f.label("post.ret"))
	case *ast.Block:
		f.beginScope()
		e.emitDeclarations(f, s.Declarations, false)
		f.endScope()
	case *ast.If:
		cond := e.emitExpression(f, s.Condition)
		truthy := f.newReg()
		f.emit("%s = call i1 @value_truthy(%%value %s)", truthy, cond)
		thenL, elseL, endL := f.label("if.then"), f.label("if.else"), f.label("if.end")
		f.emit("br i1 %s, label %%%s, label %%%s", truthy, thenL, elseL)
		f.label_(thenL)
		e.emitStatement(f, s.Then)
		f.emit("br label %%%s", endL)
		f.label_(elseL)
		if s.Else != nil {
			e.emitStatement(f, s.Else)
		}
		f.emit("br label %%%s", endL)
		f.label_(endL)
	case *ast.While:
		condL, bodyL, endL := f.label("while.cond"), f.label("while.body"), f.label("while.end")
		f.emit("br label %%%s", condL)
		f.label_(condL)
		cond := e.emitExpression(f, s.Condition)
		truthy := f.newReg()
		f.emit("%s = call i1 @value_truthy(%%value %s)", truthy, cond)
		f.emit("br i1 %s, label %%%s, label %%%s", truthy, bodyL, endL)
		f.label_(bodyL)
		e.emitStatement(f, s.Body)
		f.emit("br label %%%s", condL)
		f.label_(endL)
	}
}

// ---------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------

func (e *Emitter) emitExpression(f *fnCtx, expr ast.Expression) string {
	switch ex := expr.(type) {
	case *ast.Literal:
		return e.emitLiteral(f, ex)
	case *ast.Grouping:
		return e.emitExpression(f, ex.Inner)
	case *ast.Unary:
		return e.emitUnary(f, ex)
	case *ast.Binary:
		return e.emitBinary(f, ex)
	case *ast.Logical:
		return e.emitLogical(f, ex)
	case *ast.Variable:
		return e.emitVariableGet(f, ex.Name.Lexeme, ex.Name.Span)
	case *ast.Assign:
		return e.emitAssign(f, ex)
	case *ast.Call:
		return e.emitCall(f, ex)
	case *ast.Get:
		obj := e.emitExpression(f, ex.Object)
		ptr, length := f.namePtr(e, ex.Name.Lexeme)
		reg := f.newReg()
		f.emit("%s = call %%value @instance_get_property(%%value %s, i8* %s, i64 %d, i64 %d)", reg, obj, ptr, length, e.lineOf(ex.Name.Span))
		return reg
	case *ast.Set:
		obj := e.emitExpression(f, ex.Object)
		val := e.emitExpression(f, ex.Value)
		ptr, length := f.namePtr(e, ex.Name.Lexeme)
		f.emit("call void @instance_set_field(%%value %s, i8* %s, i64 %d, %%value %s)", obj, ptr, length, val)
		return val
	case *ast.This:
		return e.emitVariableGet(f, "this", ex.Keyword.Span)
	case *ast.Super:
		super := e.emitVariableGet(f, "super", ex.Keyword.Span)
		this := e.emitVariableGet(f, "this", ex.Keyword.Span)
		ptr, length := f.namePtr(e, ex.Method.Lexeme)
		method := f.newReg()
		f.emit("%s = call %%value @class_find_method(%%value %s, i8* %s, i64 %d)", method, super, ptr, length)
		bound := f.newReg()
		f.emit("%s = call %%value @bind_method(%%value %s, %%value %s)", bound, this, method)
		return bound
	default:
		e.errorf(token.Span{}, "irgen: unhandled expression node")
		return f.nilValue()
	}
}

func (e *Emitter) emitLiteral(f *fnCtx, lit *ast.Literal) string {
	switch v := lit.Value.(type) {
	case nil:
		return f.nilValue()
	case bool:
		return f.boolValue(v)
	case float64:
		return f.numberValueConst(v)
	case string:
		ptr, _ := f.namePtr(e, v)
		reg := f.newReg()
		f.emit("%s = ptrtoint i8* %s to i64", reg, ptr)
		return fmt.Sprintf("{ i8 3, i64 %s }", reg)
	default:
		return f.nilValue()
	}
}

// checkTag branches to a runtime error unless v carries the wanted tag.
func (e *Emitter) checkTag(f *fnCtx, v string, wanted int, msg string, line int) {
	tag := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", tag, v)
	ok := f.newReg()
	f.emit("%s = icmp eq i8 %s, %d", ok, tag, wanted)
	okL, errL := f.label("tag.ok"), f.label("tag.err")
	f.emit("br i1 %s, label %%%s, label %%%s", ok, okL, errL)
	f.label_(errL)
	e.emitRuntimeError(f, msg, line)
	f.label_(okL)
}

// checkNumbers branches to a runtime error unless both operands are
// numbers.
func (e *Emitter) checkNumbers(f *fnCtx, left, right, msg string, line int) {
	lt := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", lt, left)
	rt := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", rt, right)
	lok := f.newReg()
	f.emit("%s = icmp eq i8 %s, 2", lok, lt)
	rok := f.newReg()
	f.emit("%s = icmp eq i8 %s, 2", rok, rt)
	both := f.newReg()
	f.emit("%s = and i1 %s, %s", both, lok, rok)
	okL, errL := f.label("num.ok"), f.label("num.err")
	f.emit("br i1 %s, label %%%s, label %%%s", both, okL, errL)
	f.label_(errL)
	e.emitRuntimeError(f, msg, line)
	f.label_(okL)
}

func (e *Emitter) emitUnary(f *fnCtx, u *ast.Unary) string {
	v := e.emitExpression(f, u.Right)
	switch u.Operator.Kind {
	case token.BANG:
		truthy := f.newReg()
		f.emit("%s = call i1 @value_truthy(%%value %s)", truthy, v)
		negated := f.newReg()
		f.emit("%s = xor i1 %s, true", negated, truthy)
		ext := f.newReg()
		f.emit("%s = zext i1 %s to i64", ext, negated)
		return fmt.Sprintf("{ i8 1, i64 %s }", ext)
	case token.MINUS:
		e.checkTag(f, v, tagNumber, "operand must be a number", e.lineOf(u.Operator.Span))
		bits := f.newReg()
		f.emit("%s = extractvalue %%value %s, 1", bits, v)
		d := f.newReg()
		f.emit("%s = bitcast i64 %s to double", d, bits)
		neg := f.newReg()
		f.emit("%s = fneg double %s", neg, d)
		back := f.newReg()
		f.emit("%s = bitcast double %s to i64", back, neg)
		return fmt.Sprintf("{ i8 2, i64 %s }", back)
	default:
		return v
	}
}

func (e *Emitter) emitBinary(f *fnCtx, b *ast.Binary) string {
	left := e.emitExpression(f, b.Left)
	right := e.emitExpression(f, b.Right)
	line := e.lineOf(b.Operator.Span)

	switch b.Operator.Kind {
	case token.PLUS:
		return e.emitAdd(f, left, right, line)
	case token.MINUS, token.STAR, token.SLASH:
		e.checkNumbers(f, left, right, "operands must be numbers", line)
		lf, rf := f.asDouble(left), f.asDouble(right)
		op := map[token.Kind]string{token.MINUS: "fsub", token.STAR: "fmul", token.SLASH: "fdiv"}[b.Operator.Kind]
		res := f.newReg()
		f.emit("%s = %s double %s, %s", res, op, lf, rf)
		bits := f.newReg()
		f.emit("%s = bitcast double %s to i64", bits, res)
		return fmt.Sprintf("{ i8 2, i64 %s }", bits)
	case token.GREATER, token.GREATER_EQUAL, token.LESS, token.LESS_EQUAL:
		e.checkNumbers(f, left, right, "operands must be numbers", line)
		lf, rf := f.asDouble(left), f.asDouble(right)
		pred := map[token.Kind]string{
			token.GREATER: "ogt", token.GREATER_EQUAL: "oge",
			token.LESS: "olt", token.LESS_EQUAL: "ole",
		}[b.Operator.Kind]
		cmp := f.newReg()
		f.emit("%s = fcmp %s double %s, %s", cmp, pred, lf, rf)
		ext := f.newReg()
		f.emit("%s = zext i1 %s to i64", ext, cmp)
		return fmt.Sprintf("{ i8 1, i64 %s }", ext)
	case token.EQUAL_EQUAL, token.BANG_EQUAL:
		// string_equal is the ABI's single equality helper: it dispatches
		// on the tags internally, string content being the one case the
		// payload comparison cannot decide.
		eq := f.newReg()
		f.emit("%s = call i1 @string_equal(%%value %s, %%value %s)", eq, left, right)
		result := eq
		if b.Operator.Kind == token.BANG_EQUAL {
			neg := f.newReg()
			f.emit("%s = xor i1 %s, true", neg, eq)
			result = neg
		}
		ext := f.newReg()
		f.emit("%s = zext i1 %s to i64", ext, result)
		return fmt.Sprintf("{ i8 1, i64 %s }", ext)
	default:
		return f.nilValue()
	}
}

// emitAdd dispatches `+` on the operand tags: numbers add, strings
// concatenate, anything else is the uniform mixed-operand error.
func (e *Emitter) emitAdd(f *fnCtx, left, right string, line int) string {
	slot := f.newLocal()
	f.emit("%s = alloca %%value", slot)
	lt := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", lt, left)
	rt := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", rt, right)

	lNum := f.newReg()
	f.emit("%s = icmp eq i8 %s, 2", lNum, lt)
	rNum := f.newReg()
	f.emit("%s = icmp eq i8 %s, 2", rNum, rt)
	bothNum := f.newReg()
	f.emit("%s = and i1 %s, %s", bothNum, lNum, rNum)
	numL, strChkL, strL, errL, endL := f.label("add.num"), f.label("add.strchk"), f.label("add.str"), f.label("add.err"), f.label("add.end")
	f.emit("br i1 %s, label %%%s, label %%%s", bothNum, numL, strChkL)

	f.label_(numL)
	lf, rf := f.asDouble(left), f.asDouble(right)
	sum := f.newReg()
	f.emit("%s = fadd double %s, %s", sum, lf, rf)
	bits := f.newReg()
	f.emit("%s = bitcast double %s to i64", bits, sum)
	packed := f.newReg()
	f.emit("%s = insertvalue %%value { i8 2, i64 undef }, i64 %s, 1", packed, bits)
	f.emit("store %%value %s, %%value* %s", packed, slot)
	f.emit("br label %%%s", endL)

	f.label_(strChkL)
	lStr := f.newReg()
	f.emit("%s = icmp eq i8 %s, 3", lStr, lt)
	rStr := f.newReg()
	f.emit("%s = icmp eq i8 %s, 3", rStr, rt)
	bothStr := f.newReg()
	f.emit("%s = and i1 %s, %s", bothStr, lStr, rStr)
	f.emit("br i1 %s, label %%%s, label %%%s", bothStr, strL, errL)

	f.label_(strL)
	cat := f.newReg()
	f.emit("%s = call %%value @string_concat(%%value %s, %%value %s)", cat, left, right)
	f.emit("store %%value %s, %%value* %s", cat, slot)
	f.emit("br label %%%s", endL)

	f.label_(errL)
	e.emitRuntimeError(f, "operands must be two numbers or two strings", line)

	f.label_(endL)
	res := f.newReg()
	f.emit("%s = load %%value, %%value* %s", res, slot)
	return res
}

// asDouble extracts a %value's numeric payload as a `double`.
func (f *fnCtx) asDouble(v string) string {
	bits := f.newReg()
	f.emit("%s = extractvalue %%value %s, 1", bits, v)
	d := f.newReg()
	f.emit("%s = bitcast i64 %s to double", d, bits)
	return d
}

func (e *Emitter) emitLogical(f *fnCtx, l *ast.Logical) string {
	left := e.emitExpression(f, l.Left)
	truthy := f.newReg()
	f.emit("%s = call i1 @value_truthy(%%value %s)", truthy, left)

	shortCircuitL, evalRightL, endL := f.label("logic.sc"), f.label("logic.rhs"), f.label("logic.end")
	slot := f.newLocal()
	f.emit("%s = alloca %%value", slot)
	f.emit("store %%value %s, %%value* %s", left, slot)

	if l.Operator.Kind == token.OR {
		f.emit("br i1 %s, label %%%s, label %%%s", truthy, shortCircuitL, evalRightL)
	} else {
		f.emit("br i1 %s, label %%%s, label %%%s", truthy, evalRightL, shortCircuitL)
	}
	f.label_(shortCircuitL)
	f.emit("br label %%%s", endL)
	f.label_(evalRightL)
	right := e.emitExpression(f, l.Right)
	f.emit("store %%value %s, %%value* %s", right, slot)
	f.emit("br label %%%s", endL)
	f.label_(endL)
	res := f.newReg()
	f.emit("%s = load %%value, %%value* %s", res, slot)
	return res
}

func (e *Emitter) emitVariableGet(f *fnCtx, name string, span token.Span) string {
	if b, ok := f.lookup(name); ok {
		switch b.kind {
		case bindCell:
			cell := f.newReg()
			f.emit("%s = load %%value, %%value* %s", cell, b.reg)
			v := f.newReg()
			f.emit("%s = call %%value @cell_get(%%value %s)", v, cell)
			return v
		default:
			v := f.newReg()
			f.emit("%s = load %%value, %%value* %s", v, b.reg)
			return v
		}
	}
	ptr, length := f.namePtr(e, name)
	reg := f.newReg()
	f.emit("%s = call %%value @global_get(i8* %s, i64 %d, i64 %d)", reg, ptr, length, e.lineOf(span))
	return reg
}

func (e *Emitter) emitAssign(f *fnCtx, a *ast.Assign) string {
	v := e.emitExpression(f, a.Value)
	variable, ok := a.Target.(*ast.Variable)
	if !ok {
		e.errorf(a.TargetSpan, "invalid assignment target")
		return v
	}
	name := variable.Name.Lexeme
	if b, ok := f.lookup(name); ok {
		switch b.kind {
		case bindCell:
			cell := f.newReg()
			f.emit("%s = load %%value, %%value* %s", cell, b.reg)
			f.emit("call void @cell_set(%%value %s, %%value %s)", cell, v)
		default:
			f.emit("store %%value %s, %%value* %s", v, b.reg)
		}
		return v
	}
	ptr, length := f.namePtr(e, name)
	f.emit("call void @global_set(i8* %s, i64 %d, %%value %s)", ptr, length, v)
	return v
}

func (e *Emitter) emitCall(f *fnCtx, c *ast.Call) string {
	line := e.lineOf(c.Paren.Span)
	argRegs := make([]string, len(c.Args))

	if get, ok := c.Callee.(*ast.Get); ok {
		obj := e.emitExpression(f, get.Object)
		ptr, length := f.namePtr(e, get.Name.Lexeme)
		callee := f.newReg()
		f.emit("%s = call %%value @instance_get_property(%%value %s, i8* %s, i64 %d, i64 %d)", callee, obj, ptr, length, e.lineOf(get.Name.Span))
		for i, a := range c.Args {
			argRegs[i] = e.emitExpression(f, a)
		}
		return e.emitCallValue(f, callee, argRegs, line)
	}
	callee := e.emitExpression(f, c.Callee)
	for i, a := range c.Args {
		argRegs[i] = e.emitExpression(f, a)
	}
	return e.emitCallValue(f, callee, argRegs, line)
}

// emitCallValue dispatches a call on the callee's tag the way the VM's
// callValue does: classes construct an instance and run `init` if
// present, functions (closures and bound methods) go through the
// %closure record, and anything else is a runtime error.
func (e *Emitter) emitCallValue(f *fnCtx, callee string, argRegs []string, line int) string {
	slot := f.newLocal()
	f.emit("%s = alloca %%value", slot)
	tag := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", tag, callee)
	isClass := f.newReg()
	f.emit("%s = icmp eq i8 %s, %d", isClass, tag, tagClass)
	classL, fnChkL, endL := f.label("call.class"), f.label("call.fnchk"), f.label("call.end")
	f.emit("br i1 %s, label %%%s, label %%%s", isClass, classL, fnChkL)

	f.label_(classL)
	inst := f.newReg()
	f.emit("%s = call %%value @alloc_instance(%%value %s)", inst, callee)
	iptr, ilen := f.namePtr(e, "init")
	initV := f.newReg()
	f.emit("%s = call %%value @class_find_method(%%value %s, i8* %s, i64 %d)", initV, callee, iptr, ilen)
	itag := f.newReg()
	f.emit("%s = extractvalue %%value %s, 0", itag, initV)
	hasInit := f.newReg()
	f.emit("%s = icmp ne i8 %s, %d", hasInit, itag, tagNil)
	initL, noInitL, classDoneL := f.label("call.init"), f.label("call.noinit"), f.label("call.classdone")
	f.emit("br i1 %s, label %%%s, label %%%s", hasInit, initL, noInitL)

	f.label_(initL)
	bound := f.newReg()
	f.emit("%s = call %%value @bind_method(%%value %s, %%value %s)", bound, inst, initV)
	e.emitClosureCall(f, bound, argRegs, line)
	f.emit("br label %%%s", classDoneL)

	f.label_(noInitL)
	if len(argRegs) != 0 {
		e.emitRuntimeError(f, fmt.Sprintf("expected 0 arguments but got %d", len(argRegs)), line)
	} else {
		f.emit("br label %%%s", classDoneL)
	}

	f.label_(classDoneL)
	f.emit("store %%value %s, %%value* %s", inst, slot)
	f.emit("br label %%%s", endL)

	f.label_(fnChkL)
	isFn := f.newReg()
	f.emit("%s = icmp eq i8 %s, %d", isFn, tag, tagFunction)
	fnL, badL := f.label("call.fn"), f.label("call.bad")
	f.emit("br i1 %s, label %%%s, label %%%s", isFn, fnL, badL)
	f.label_(badL)
	e.emitRuntimeError(f, "can only call functions and classes", line)
	f.label_(fnL)
	r := e.emitClosureCall(f, callee, argRegs, line)
	f.emit("store %%value %s, %%value* %s", r, slot)
	f.emit("br label %%%s", endL)

	f.label_(endL)
	res := f.newReg()
	f.emit("%s = load %%value, %%value* %s", res, slot)
	return res
}

// emitClosureCall calls through a function-tagged %value by unpacking
// the %closure record alloc_closure and bind_method build: arity check,
// then the environment-pointer-first indirect call, with the receiver
// inserted as the leading Lox parameter when the record is a bound
// method.
func (e *Emitter) emitClosureCall(f *fnCtx, callee string, argRegs []string, line int) string {
	payload := f.newReg()
	f.emit("%s = extractvalue %%value %s, 1", payload, callee)
	cl := f.newReg()
	f.emit("%s = inttoptr i64 %s to %%closure*", cl, payload)

	arityPtr := f.newReg()
	f.emit("%s = getelementptr inbounds %%closure, %%closure* %s, i32 0, i32 1", arityPtr, cl)
	arity := f.newReg()
	f.emit("%s = load i64, i64* %s", arity, arityPtr)
	arityOk := f.newReg()
	f.emit("%s = icmp eq i64 %s, %d", arityOk, arity, len(argRegs))
	okL, badL := f.label("arity.ok"), f.label("arity.bad")
	f.emit("br i1 %s, label %%%s, label %%%s", arityOk, okL, badL)
	f.label_(badL)
	e.emitRuntimeError(f, fmt.Sprintf("wrong number of arguments (got %d)", len(argRegs)), line)
	f.label_(okL)

	fnPtrPtr := f.newReg()
	f.emit("%s = getelementptr inbounds %%closure, %%closure* %s, i32 0, i32 0", fnPtrPtr, cl)
	fnRaw := f.newReg()
	f.emit("%s = load i8*, i8** %s", fnRaw, fnPtrPtr)
	envPtrPtr := f.newReg()
	f.emit("%s = getelementptr inbounds %%closure, %%closure* %s, i32 0, i32 2", envPtrPtr, cl)
	env := f.newReg()
	f.emit("%s = load %%value*, %%value** %s", env, envPtrPtr)
	boundPtr := f.newReg()
	f.emit("%s = getelementptr inbounds %%closure, %%closure* %s, i32 0, i32 3", boundPtr, cl)
	boundFlag := f.newReg()
	f.emit("%s = load i8, i8* %s", boundFlag, boundPtr)
	isBound := f.newReg()
	f.emit("%s = icmp ne i8 %s, 0", isBound, boundFlag)

	slot := f.newLocal()
	f.emit("%s = alloca %%value", slot)
	boundL, plainL, doneL := f.label("call.bound"), f.label("call.plain"), f.label("call.done")
	f.emit("br i1 %s, label %%%s, label %%%s", isBound, boundL, plainL)

	f.label_(boundL)
	recvPtr := f.newReg()
	f.emit("%s = getelementptr inbounds %%closure, %%closure* %s, i32 0, i32 4", recvPtr, cl)
	recv := f.newReg()
	f.emit("%s = load %%value, %%value* %s", recv, recvPtr)
	boundFn := f.newReg()
	f.emit("%s = bitcast i8* %s to %s*", boundFn, fnRaw, closureSig(len(argRegs)+1))
	boundArgs := make([]string, 0, len(argRegs)+2)
	boundArgs = append(boundArgs, "%value* "+env, "%value "+recv)
	for _, a := range argRegs {
		boundArgs = append(boundArgs, "%value "+a)
	}
	rBound := f.newReg()
	f.emit("%s = call %%value %s(%s)", rBound, boundFn, strings.Join(boundArgs, ", "))
	f.emit("store %%value %s, %%value* %s", rBound, slot)
	f.emit("br label %%%s", doneL)

	f.label_(plainL)
	plainFn := f.newReg()
	f.emit("%s = bitcast i8* %s to %s*", plainFn, fnRaw, closureSig(len(argRegs)))
	plainArgs := make([]string, 0, len(argRegs)+1)
	plainArgs = append(plainArgs, "%value* "+env)
	for _, a := range argRegs {
		plainArgs = append(plainArgs, "%value "+a)
	}
	rPlain := f.newReg()
	f.emit("%s = call %%value %s(%s)", rPlain, plainFn, strings.Join(plainArgs, ", "))
	f.emit("store %%value %s, %%value* %s", rPlain, slot)
	f.emit("br label %%%s", doneL)

	f.label_(doneL)
	res := f.newReg()
	f.emit("%s = load %%value, %%value* %s", res, slot)
	return res
}

// closureSig is the LLVM function type of a compiled Lox function taking
// argc Lox parameters: environment pointer first, then the parameters by
// value.
func closureSig(argc int) string {
	parts := make([]string, 0, argc+1)
	parts = append(parts, "%value*")
	for i := 0; i < argc; i++ {
		parts = append(parts, "%value")
	}
	return fmt.Sprintf("%%value (%s)", strings.Join(parts, ", "))
}

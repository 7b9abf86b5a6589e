package compiler

// local is one compiler-tracked stack slot within the function currently
// being compiled.
type local struct {
	name string
	// depth is the block-scope nesting level at which this local was
	// declared; -1 marks it "declared but not yet initialized" (its own
	// initializer expression is still compiling) so a read of the same
	// name inside that initializer resolves to the enclosing binding
	// instead, matching the resolver's readiness flag for `var x = x;`.
	depth int
	// captured records whether any nested function resolved this local as
	// an upvalue, so leaving its scope emits OpCloseUpvalue instead of
	// OpPop.
	captured bool
}

// upvalueRef is an upvalue as seen by the function currently being
// compiled: a link either to a local slot in the immediately enclosing
// function or to one of that function's own upvalues.
type upvalueRef struct {
	isLocal bool
	index   int
}

// symbolTable tracks one function's locals and the upvalues it has
// resolved from enclosing functions. Globals are not tracked here at
// all: they resolve by name, with no compile-time slot, as the last
// step of lookup.
type symbolTable struct {
	enclosing *symbolTable

	locals     []local
	scopeDepth int

	upvalues []upvalueRef
}

func newSymbolTable(enclosing *symbolTable) *symbolTable {
	return &symbolTable{enclosing: enclosing}
}

// declareLocal reserves a new local slot in the current scope, initially
// unresolvable by reads (depth -1) until defineLocal marks it ready.
func (s *symbolTable) declareLocal(name string) int {
	s.locals = append(s.locals, local{name: name, depth: -1})
	return len(s.locals) - 1
}

// defineLocal marks the most recently declared local as initialized and
// visible to reads.
func (s *symbolTable) defineLocal() {
	s.locals[len(s.locals)-1].depth = s.scopeDepth
}

// resolveLocal scans this function's locals from innermost declaration
// outward, the first step of name lookup. A local whose depth is still -1 (its
// own initializer is compiling) is not visible.
func (s *symbolTable) resolveLocal(name string) (int, bool) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].name == name && s.locals[i].depth != -1 {
			return i, true
		}
	}
	return 0, false
}

// resolveUpvalue is the second step of name lookup: recursively resolve name
// in the enclosing function; a local found there is marked captured and
// gets an is_local upvalue here; an upvalue found there is chained with
// is_local=false. Upvalues are deduplicated within a function.
func (s *symbolTable) resolveUpvalue(name string) (int, bool) {
	if s.enclosing == nil {
		return 0, false
	}
	if idx, ok := s.enclosing.resolveLocal(name); ok {
		s.enclosing.locals[idx].captured = true
		return s.addUpvalue(upvalueRef{isLocal: true, index: idx}), true
	}
	if idx, ok := s.enclosing.resolveUpvalue(name); ok {
		return s.addUpvalue(upvalueRef{isLocal: false, index: idx}), true
	}
	return 0, false
}

func (s *symbolTable) addUpvalue(ref upvalueRef) int {
	for i, existing := range s.upvalues {
		if existing == ref {
			return i
		}
	}
	s.upvalues = append(s.upvalues, ref)
	return len(s.upvalues) - 1
}

// beginScope enters a new block scope.
func (s *symbolTable) beginScope() { s.scopeDepth++ }

// endScope leaves the current block scope, returning the locals that go
// out of scope (innermost first) so the caller can emit OpCloseUpvalue or
// OpPop for each.
func (s *symbolTable) endScope() []local {
	s.scopeDepth--
	cut := len(s.locals)
	for cut > 0 && s.locals[cut-1].depth > s.scopeDepth {
		cut--
	}
	popped := s.locals[cut:]
	s.locals = s.locals[:cut]
	return popped
}

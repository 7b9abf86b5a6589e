package object

// Cell is a heap box holding one variable's current value. Declaring a
// variable allocates a fresh Cell; every closure that captures that
// variable shares the same Environment pointer and therefore the same
// Cell, which is how the tree-walk evaluator gives mutations made
// through one closure visibility to every other closure over the same
// variable.
type Cell struct {
	Value Value
}

// Environment is a linked chain of lexical scopes, each mapping a name to
// the Cell holding its value. The chain mirrors the resolver's scope
// stack: a reference resolved at depth d walks d Environment links
// outward from the one active at the use site.
type Environment struct {
	vars      map[string]*Cell
	enclosing *Environment
}

// NewEnvironment creates a top-level (global) environment.
func NewEnvironment() *Environment {
	return &Environment{vars: make(map[string]*Cell)}
}

// NewEnclosedEnvironment creates an environment nested inside outer, as
// when entering a block, function call, or method-binding scope.
func NewEnclosedEnvironment(outer *Environment) *Environment {
	return &Environment{vars: make(map[string]*Cell), enclosing: outer}
}

// Define binds name to a fresh Cell in this environment, shadowing any
// binding of the same name in an enclosing environment.
func (e *Environment) Define(name string, v Value) {
	e.vars[name] = &Cell{Value: v}
}

// ancestor walks distance links outward, returning nil if the chain is
// shorter than distance — which would indicate a resolver/evaluator
// mismatch.
func (e *Environment) ancestor(distance int) *Environment {
	env := e
	for i := 0; i < distance && env != nil; i++ {
		env = env.enclosing
	}
	return env
}

// GetAt reads name from the environment distance links outward, as
// recorded by the resolver for a local reference.
func (e *Environment) GetAt(distance int, name string) (Value, bool) {
	env := e.ancestor(distance)
	if env == nil {
		return nil, false
	}
	c, ok := env.vars[name]
	if !ok {
		return nil, false
	}
	return c.Value, true
}

// AssignAt assigns name at distance links outward, reusing the existing
// Cell so every closure sharing it observes the new value.
func (e *Environment) AssignAt(distance int, name string, v Value) bool {
	env := e.ancestor(distance)
	if env == nil {
		return false
	}
	c, ok := env.vars[name]
	if !ok {
		return false
	}
	c.Value = v
	return true
}

// Get looks up name by walking the chain outward from e, for globals that
// the resolver left unresolved (no recorded depth).
func (e *Environment) Get(name string) (Value, bool) {
	for env := e; env != nil; env = env.enclosing {
		if c, ok := env.vars[name]; ok {
			return c.Value, true
		}
	}
	return nil, false
}

// Assign walks the chain outward from e and assigns the first matching
// binding it finds, reporting false if name is bound nowhere in the
// chain (an undefined-variable assignment, a runtime error at the call
// site).
func (e *Environment) Assign(name string, v Value) bool {
	for env := e; env != nil; env = env.enclosing {
		if c, ok := env.vars[name]; ok {
			c.Value = v
			return true
		}
	}
	return false
}

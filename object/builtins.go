package object

import "time"

// Builtins is the collection of native functions bound into the global
// environment before a program runs. klox has exactly one:
// clock, seconds since the Unix epoch as a Lox number.
var Builtins = []struct {
	// Name is the identifier bound to the native function.
	Name string

	// Fn is the definition of the native function.
	Fn *Native
}{
	{
		"clock",
		&Native{Name: "clock", Arity: 0, Fn: func(_ []Value) (Value, error) {
			return Number(float64(time.Now().UnixNano()) / 1e9), nil
		}},
	},
}

// GetBuiltinByName retrieves a native function definition by name from
// [Builtins], or nil if name is not a native.
func GetBuiltinByName(name string) *Native {
	for _, def := range Builtins {
		if def.Name == name {
			return def.Fn
		}
	}
	return nil
}

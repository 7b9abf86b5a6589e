package evaluator

import "github.com/dr8co/klox/object"

// builtins names the native functions available to a program, by name.
// Currently this duplicates object.Builtins; it exists as the hook other
// evaluator-only natives (none yet) would extend without touching
// object.Builtins, which the bytecode compiler/VM also consult.
var builtins = map[string]*object.Native{
	"clock": object.GetBuiltinByName("clock"),
}

package irgen

// runtimeDecls is the exhaustive C-ABI support-library interface — the
// only surface emitted IR is permitted to call into. Every Lox value
// crossing this boundary is the two-field record %value
// `{ i8 tag, i64 payload }`; tags match object.Type's ordering, so the
// VM, evaluator, and IR backend agree on what a tag byte means even
// though only this backend ever inspects it as raw bits.
// %closure is the one data layout shared between emitted IR and the
// support library: alloc_closure and bind_method allocate it, emitted
// call sites unpack it to reach the function pointer, arity, environment,
// and (for a bound method) the receiver. Fields: fn, arity, env,
// is_bound, receiver.
const runtimeDecls = `%value = type { i8, i64 }
%closure = type { i8*, i64, %value*, i8, %value }

declare void @print(%value)
declare %value @global_get(i8*, i64, i64)
declare void @global_set(i8*, i64, %value)
declare i1 @value_truthy(%value)
declare void @runtime_error(i8*, i64, i64)
declare %value @alloc_closure(i8*, i64, i8*, i64, %value*, i64)
declare %value @alloc_cell(%value)
declare %value @cell_get(%value)
declare void @cell_set(%value, %value)
declare %value @string_concat(%value, %value)
declare i1 @string_equal(%value, %value)
declare %value @alloc_class(i8*, i64, %value, i64)
declare void @class_add_method(%value, i8*, i64, %value)
declare %value @alloc_instance(%value)
declare %value @instance_get_property(%value, i8*, i64, i64)
declare void @instance_set_field(%value, i8*, i64, %value)
declare %value @class_find_method(%value, i8*, i64)
declare %value @bind_method(%value, %value)
declare %value @clock()
`

// Value tags, matching object.Type's ordering: nil,
// bool, number, string, function, class, instance.
const (
	tagNil      = 0
	tagBool     = 1
	tagNumber   = 2
	tagString   = 3
	tagFunction = 4
	tagClass    = 5
	tagInstance = 6
)

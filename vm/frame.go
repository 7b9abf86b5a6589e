package vm

import (
	"github.com/dr8co/klox/code"
	"github.com/dr8co/klox/object"
)

// frame is one call frame: a closure, its instruction pointer, and the
// stack index where its reserved slot 0 (and then its locals) begin
//. The same frame shape serves plain
// calls and invoked method calls alike, since both place the receiver
// (or, for a plain function, an unused value) at basePointer.
type frame struct {
	closure     *object.Closure
	ip          int
	basePointer int
}

func newFrame(cl *object.Closure, basePointer int) *frame {
	return &frame{closure: cl, ip: -1, basePointer: basePointer}
}

func (f *frame) instructions() code.Instructions {
	return f.closure.Fn.Chunk.Code
}

func (f *frame) line() int {
	return f.closure.Fn.Chunk.LineAt(f.ip)
}

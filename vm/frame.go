package vm

import (
	"github.com/dr8co/ape/code"
	"github.com/dr8co/ape/object"
)

// Frame is one call's execution context: the closure being run, its
// instruction pointer, the base of its locals on the value stack, and the
// stack of recover handlers installed (and not yet cleared) in this frame.
type Frame struct {
	fn          *object.FunctionObj
	self        object.Value // the heap Value OpCurrentFunction pushes
	ip          int
	basePointer int

	recoverHandlers []int
}

// NewFrame creates a frame to run fnValue (a KindFunction Value) starting
// execution at basePointer on the value stack.
func NewFrame(heap *object.Heap, fnValue object.Value, basePointer int) *Frame {
	return &Frame{fn: heap.GetFunction(fnValue), self: fnValue, ip: -1, basePointer: basePointer}
}

// Instructions returns the frame's compiled bytecode.
func (f *Frame) Instructions() code.Instructions { return f.fn.Fn.Instructions }

// Positions returns the source position parallel to Instructions.
func (f *Frame) Positions() code.Positions { return f.fn.Fn.Positions }

// pushHandler installs a new recover handler at the given instruction
// position, consulted if this frame raises later.
func (f *Frame) pushHandler(pos int) { f.recoverHandlers = append(f.recoverHandlers, pos) }

// takeHandler pops and returns the most recently installed handler position
// for this frame, used when a raise is resolved into this frame.
func (f *Frame) takeHandler() (int, bool) {
	n := len(f.recoverHandlers)
	if n == 0 {
		return 0, false
	}
	pos := f.recoverHandlers[n-1]
	f.recoverHandlers = f.recoverHandlers[:n-1]
	return pos, true
}

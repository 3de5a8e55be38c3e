// Package vm implements Ape's bytecode virtual machine: a stack machine
// with call frames, closures, builtin and host-native functions,
// recoverable runtime errors, timeouts, and cooperation with the object
// package's garbage collector.
package vm

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dr8co/ape/code"
	"github.com/dr8co/ape/compiler"
	"github.com/dr8co/ape/object"
)

const (
	// StackSize is the maximum number of Values the value stack can hold.
	StackSize = 2048
	// GlobalsSize is the fixed size of the VM's global variable array.
	GlobalsSize = 65536
	// MaxFrames is the maximum call depth.
	MaxFrames = 1024
)

// State is the VM's dispatch-cycle state machine, per the recoverable-error
// design: Running, Raising (transiently, while searching for a handler),
// Recovering (transiently, while transferring control to a handler),
// TimedOut and Terminated. Run always leaves the VM TimedOut or
// Terminated; a Call whose function returns normally leaves it Running.
type State int

const (
	Running State = iota
	Raising
	Recovering
	TimedOut
	Terminated
)

// VM executes the bytecode produced by [compiler.Compiler].
type VM struct {
	constants []object.Value
	stack     []object.Value
	sp        int

	globals []object.Value

	frames      []*Frame
	framesIndex int

	heap   *object.Heap
	stdout io.Writer

	errors []object.Value // ErrorObj values raised since the last Run/Call

	timeout  time.Duration
	deadline time.Time

	lastPopped object.Value

	// nativeName is the name of the native function currently being
	// invoked, so a raise from inside it can show up in the traceback as
	// an innermost native frame (position -1,-1). recovered tells the
	// native-call dispatch that a raise mid-call transferred control to a
	// recover handler, so the native's return value must be discarded.
	nativeName string
	recovered  bool

	state State
}

// New creates a VM to run bytecode, sharing heap with whatever compiler
// produced it (constants referencing heap-allocated strings/functions only
// make sense against that same heap).
func New(heap *object.Heap, bytecode *compiler.CompilationResult) *VM {
	return NewWithGlobalsStore(heap, bytecode, make([]object.Value, GlobalsSize))
}

// NewWithGlobalsStore creates a VM sharing an existing globals array, so a
// REPL can run successive top-level programs against the same global
// bindings.
func NewWithGlobalsStore(heap *object.Heap, bytecode *compiler.CompilationResult, globals []object.Value) *VM {
	vm := &VM{
		constants: bytecode.Constants,
		stack:     make([]object.Value, StackSize),
		globals:   globals,
		frames:    make([]*Frame, MaxFrames),
		heap:      heap,
		lastPopped: object.Null,
	}

	mainFn := &object.CompiledFunction{
		Instructions: bytecode.Instructions,
		Positions:    bytecode.Positions,
		Name:         "",
	}
	mainValue, err := heap.NewFunction(mainFn, nil, false)
	if err != nil {
		// The default allocator never fails; a failing one is only
		// installed by tests that expect allocation failures mid-script.
		// The main frame then runs mainFn without a heap Value of its own.
		vm.frames[0] = &Frame{fn: &object.FunctionObj{Fn: mainFn}, self: object.Null, ip: -1}
	} else {
		vm.frames[0] = NewFrame(heap, mainValue, 0)
	}
	vm.framesIndex = 1
	return vm
}

// SetTimeout bounds total execution time; zero disables the limit.
func (vm *VM) SetTimeout(d time.Duration) { vm.timeout = d }

// SetStdout sets the writer builtins like print/println write to.
func (vm *VM) SetStdout(w io.Writer) { vm.stdout = w }

// Heap implements object.Machine.
func (vm *VM) Heap() *object.Heap { return vm.heap }

// Stdout implements object.Machine.
func (vm *VM) Stdout() io.Writer { return vm.stdout }

// SetRuntimeError implements object.Machine: raises msg as a
// RuntimeErrorKind error from whatever native call is currently executing.
func (vm *VM) SetRuntimeError(msg string) {
	vm.raise(object.RuntimeErrorKind, vm.currentPos(), msg)
}

// SetRuntimeErrorf implements object.Machine.
func (vm *VM) SetRuntimeErrorf(format string, args ...any) {
	vm.SetRuntimeError(fmt.Sprintf(format, args...))
}

// SetUserError implements object.Machine: raises msg as a UserErrorKind
// error, used by the `error()` builtin.
func (vm *VM) SetUserError(msg string) {
	vm.raise(object.UserErrorKind, vm.currentPos(), msg)
}

// Errors returns the errors raised since the last Run/Call.
func (vm *VM) Errors() []object.Value { return vm.errors }

// LastPoppedStackElem returns the most recently popped stack value, mainly
// useful for tests asserting on a program's final expression result.
func (vm *VM) LastPoppedStackElem() object.Value { return vm.lastPopped }

func (vm *VM) currentFrame() *Frame { return vm.frames[vm.framesIndex-1] }

func (vm *VM) pushFrame(f *Frame) {
	vm.frames[vm.framesIndex] = f
	vm.framesIndex++
}

func (vm *VM) popFrame() *Frame {
	vm.framesIndex--
	return vm.frames[vm.framesIndex]
}

func (vm *VM) currentPos() code.Pos {
	f := vm.currentFrame()
	if f.ip < 0 || f.ip >= len(f.Positions()) {
		return code.Unknown
	}
	return f.Positions()[f.ip]
}

func (vm *VM) push(v object.Value) error {
	if vm.sp >= StackSize {
		return fmt.Errorf("vm: stack overflow")
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() object.Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.lastPopped = v
	return v
}

// Run executes the program from the top, starting at frame 0's instruction
// 0 until it falls off the end of the instruction stream (or raises an
// unrecovered / timeout error).
func (vm *VM) Run() error {
	vm.errors = nil
	vm.state = Running
	vm.startDeadline()

	for vm.state == Running {
		if !vm.step() {
			break
		}
	}
	return nil
}

// Call invokes fnValue (a script function or a native) with args, running
// the dispatch loop only as deep as this call, and returns its result. Any
// error raised and not recovered by a script-level handler inside the call
// is left in Errors() and Call returns object.Null.
func (vm *VM) Call(fnValue object.Value, args []object.Value) (object.Value, error) {
	vm.errors = nil

	if fnValue.Kind() == object.KindNative {
		no := vm.heap.GetNative(fnValue)
		vm.state = Running
		vm.nativeName = no.Name
		result := no.Fn(vm, no.HostData, args)
		vm.nativeName = ""
		if vm.state != Running {
			return object.Null, nil
		}
		return result, nil
	}

	if fnValue.Kind() != object.KindFunction {
		return object.Null, fmt.Errorf("vm: %s is not callable", fnValue.TypeName())
	}
	fo := vm.heap.GetFunction(fnValue)
	if len(args) != fo.Fn.NumParameters {
		return object.Null, fmt.Errorf("vm: wrong number of arguments: got=%d, want=%d", len(args), fo.Fn.NumParameters)
	}

	basePos := vm.sp
	if err := vm.push(fnValue); err != nil {
		return object.Null, err
	}
	argsStart := vm.sp
	for _, a := range args {
		if err := vm.push(a); err != nil {
			return object.Null, err
		}
	}

	frame := NewFrame(vm.heap, fnValue, argsStart)
	targetDepth := vm.framesIndex
	vm.pushFrame(frame)
	vm.sp = argsStart + fo.Fn.NumLocals
	for i := fo.Fn.NumParameters; i < fo.Fn.NumLocals; i++ {
		vm.stack[argsStart+i] = object.Null
	}

	vm.state = Running
	vm.startDeadline()
	for vm.state == Running && vm.framesIndex > targetDepth {
		if !vm.step() {
			break
		}
	}

	if vm.framesIndex > targetDepth {
		// An unrecovered raise or a timeout stops the loop with the call's
		// frames still on the frame stack; drop them and the call's stack
		// slots.
		vm.framesIndex = targetDepth
		vm.sp = basePos
		return object.Null, nil
	}

	result := vm.pop()
	vm.sp = basePos
	return result, nil
}

func (vm *VM) startDeadline() {
	if vm.timeout > 0 {
		vm.deadline = time.Now().Add(vm.timeout)
	} else {
		vm.deadline = time.Time{}
	}
}

func (vm *VM) checkDeadline() bool {
	if vm.deadline.IsZero() {
		return true
	}
	if time.Now().After(vm.deadline) {
		errVal, _ := vm.heap.NewError(object.TimeoutErrorKind, "execution timed out", vm.currentPos(), vm.buildTraceback())
		vm.errors = append(vm.errors, errVal)
		vm.state = TimedOut
		return false
	}
	return true
}

// step executes exactly one instruction, returning false when the VM has
// reached a terminal state or the outermost frame has run to completion.
func (vm *VM) step() bool {
	if vm.framesIndex == 0 {
		vm.state = Terminated
		return false
	}
	frame := vm.currentFrame()

	if frame.ip+1 >= len(frame.Instructions()) {
		if vm.framesIndex == 1 {
			vm.state = Terminated
			return false
		}
		// A function body always ends in an explicit RETURN/RETURN_VALUE;
		// reaching the end of instructions only at depth 1 is expected.
		vm.popFrame()
		return true
	}

	frame.ip++
	ip := frame.ip
	ins := frame.Instructions()
	op := code.Opcode(ins[ip])

	if vm.heap.ShouldCollect() {
		vm.heap.Collect(vm.collectRoots())
	}

	switch op {
	case code.OpConstant:
		idx := code.ReadUint16(ins[ip+1:])
		frame.ip += 2
		if err := vm.push(vm.constants[idx]); err != nil {
			return vm.fault(err)
		}

	case code.OpNumber:
		operand := int32(code.ReadUint32(ins[ip+1:]))
		frame.ip += 4
		if err := vm.push(object.Number(code.DecodeNumber(int(operand)))); err != nil {
			return vm.fault(err)
		}

	case code.OpTrue:
		if err := vm.push(object.True); err != nil {
			return vm.fault(err)
		}
	case code.OpFalse:
		if err := vm.push(object.False); err != nil {
			return vm.fault(err)
		}
	case code.OpNull:
		if err := vm.push(object.Null); err != nil {
			return vm.fault(err)
		}
	case code.OpDup:
		if err := vm.push(vm.stack[vm.sp-1]); err != nil {
			return vm.fault(err)
		}
	case code.OpPop:
		vm.pop()

	case code.OpAdd, code.OpSub, code.OpMul, code.OpDiv, code.OpMod:
		if !vm.execBinaryOp(op) {
			return vm.state == Running
		}
	case code.OpMinus:
		v := vm.pop()
		if v.Kind() != object.KindNumber {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("unsupported operand for -: %s", v.TypeName()))
			return vm.state == Running
		}
		_ = vm.push(object.Number(-v.AsNumber()))

	case code.OpBang:
		v := vm.pop()
		_ = vm.push(object.Bool(!v.Truthy()))

	case code.OpEqual:
		r, l := vm.pop(), vm.pop()
		_ = vm.push(object.Bool(vm.valuesEqual(l, r)))
	case code.OpNotEqual:
		r, l := vm.pop(), vm.pop()
		_ = vm.push(object.Bool(!vm.valuesEqual(l, r)))
	case code.OpGreaterThan:
		if !vm.execCompareOp(false) {
			return vm.state == Running
		}
	case code.OpGreaterThanEqual:
		if !vm.execCompareOp(true) {
			return vm.state == Running
		}

	case code.OpArray:
		n := int(code.ReadUint16(ins[ip+1:]))
		frame.ip += 2
		elems := make([]object.Value, n)
		copy(elems, vm.stack[vm.sp-n:vm.sp])
		vm.sp -= n
		v, err := vm.heap.NewArray(elems)
		if err != nil {
			vm.raise(object.AllocationErrorKind, vm.currentPos(), "allocation failed")
			return vm.state == Running
		}
		_ = vm.push(v)

	case code.OpMap:
		n := int(code.ReadUint16(ins[ip+1:]))
		frame.ip += 2
		mv, err := vm.heap.NewMap()
		if err != nil {
			vm.raise(object.AllocationErrorKind, vm.currentPos(), "allocation failed")
			return vm.state == Running
		}
		m := vm.heap.GetMap(mv)
		pairsStart := vm.sp - n
		for i := pairsStart; i < vm.sp; i += 2 {
			if !m.Set(vm.stack[i], vm.stack[i+1]) {
				vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("unusable as map key: %s", vm.stack[i].TypeName()))
				return vm.state == Running
			}
		}
		vm.sp -= n
		_ = vm.push(mv)

	case code.OpGetIndex:
		index := vm.pop()
		container := vm.pop()
		v, ok := vm.getIndex(container, index)
		if !ok {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("index operator not supported: %s", container.TypeName()))
			return vm.state == Running
		}
		_ = vm.push(v)

	case code.OpSetIndex:
		index := vm.pop()
		container := vm.pop()
		value := vm.pop()
		if !vm.setIndex(container, index, value) {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("index assignment not supported: %s", container.TypeName()))
			return vm.state == Running
		}

	case code.OpLen:
		v := vm.pop()
		n, ok := vm.length(v)
		if !ok {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("argument to len not supported: %s", v.TypeName()))
			return vm.state == Running
		}
		_ = vm.push(object.Number(float64(n)))

	case code.OpGetValueAt:
		index := vm.pop()
		container := vm.pop()
		v, ok := vm.getValueAt(container, index)
		if !ok {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("cannot iterate over %s", container.TypeName()))
			return vm.state == Running
		}
		_ = vm.push(v)

	case code.OpSetGlobal:
		idx := code.ReadUint16(ins[ip+1:])
		frame.ip += 2
		vm.globals[idx] = vm.pop()
	case code.OpGetGlobal:
		idx := code.ReadUint16(ins[ip+1:])
		frame.ip += 2
		_ = vm.push(vm.globals[idx])

	case code.OpSetLocal:
		idx := int(code.ReadUint8(ins[ip+1:]))
		frame.ip++
		vm.stack[frame.basePointer+idx] = vm.pop()
	case code.OpGetLocal:
		idx := int(code.ReadUint8(ins[ip+1:]))
		frame.ip++
		_ = vm.push(vm.stack[frame.basePointer+idx])

	case code.OpGetBuiltin:
		idx := int(code.ReadUint8(ins[ip+1:]))
		frame.ip++
		b := object.Builtins[idx]
		v, err := vm.heap.NewNative(b.Name, b.Fn, nil)
		if err != nil {
			vm.raise(object.AllocationErrorKind, vm.currentPos(), "allocation failed")
			return vm.state == Running
		}
		_ = vm.push(v)

	case code.OpGetFree:
		idx := int(code.ReadUint8(ins[ip+1:]))
		frame.ip++
		_ = vm.push(frame.fn.Free[idx])

	case code.OpCurrentFunction:
		_ = vm.push(frame.self)

	case code.OpJump:
		target := int(code.ReadUint16(ins[ip+1:]))
		if target <= ip {
			if !vm.checkDeadline() {
				return false
			}
		}
		frame.ip = target - 1

	case code.OpJumpIfTrue:
		target := int(code.ReadUint16(ins[ip+1:]))
		frame.ip += 2
		if vm.pop().Truthy() {
			frame.ip = target - 1
		}
	case code.OpJumpIfFalse:
		target := int(code.ReadUint16(ins[ip+1:]))
		frame.ip += 2
		if !vm.pop().Truthy() {
			frame.ip = target - 1
		}

	case code.OpCall:
		numArgs := int(code.ReadUint8(ins[ip+1:]))
		frame.ip++
		if !vm.checkDeadline() {
			return false
		}
		if !vm.execCall(numArgs) {
			return vm.state == Running
		}

	case code.OpReturnValue:
		returnValue := vm.pop()
		f := vm.popFrame()
		vm.sp = f.basePointer - 1
		_ = vm.push(returnValue)

	case code.OpReturn:
		f := vm.popFrame()
		vm.sp = f.basePointer - 1
		_ = vm.push(object.Null)

	case code.OpFunction:
		constIdx := int(code.ReadUint16(ins[ip+1:]))
		numFree := int(code.ReadUint8(ins[ip+3:]))
		frame.ip += 3
		template := vm.heap.GetFunction(vm.constants[constIdx])
		free := make([]object.Value, numFree)
		copy(free, vm.stack[vm.sp-numFree:vm.sp])
		vm.sp -= numFree
		v, err := vm.heap.NewFunction(template.Fn, free, template.IsRecursive)
		if err != nil {
			vm.raise(object.AllocationErrorKind, vm.currentPos(), "allocation failed")
			return vm.state == Running
		}
		_ = vm.push(v)

	case code.OpSetRecover:
		target := int(code.ReadUint16(ins[ip+1:]))
		frame.ip += 2
		frame.pushHandler(target)

	default:
		return vm.fault(fmt.Errorf("vm: unknown opcode %d", op))
	}

	return vm.state == Running
}

func (vm *VM) fault(err error) bool {
	errVal, _ := vm.heap.NewError(object.RuntimeErrorKind, err.Error(), vm.currentPos(), nil)
	vm.errors = append(vm.errors, errVal)
	vm.state = Terminated
	return false
}

func (vm *VM) execCall(numArgs int) bool {
	calleeIdx := vm.sp - 1 - numArgs
	if calleeIdx < 0 {
		vm.raise(object.RuntimeErrorKind, vm.currentPos(), "call with no callee on stack")
		return vm.state == Running
	}
	callee := vm.stack[calleeIdx]

	switch callee.Kind() {
	case object.KindFunction:
		fo := vm.heap.GetFunction(callee)
		if numArgs != fo.Fn.NumParameters {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(),
				fmt.Sprintf("wrong number of arguments: got=%d, want=%d", numArgs, fo.Fn.NumParameters))
			return vm.state == Running
		}
		if vm.framesIndex >= MaxFrames {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), "call stack overflow")
			return vm.state == Running
		}
		argsStart := vm.sp - numArgs
		if argsStart+fo.Fn.NumLocals > StackSize {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), "stack overflow")
			return vm.state == Running
		}
		frame := NewFrame(vm.heap, callee, argsStart)
		vm.pushFrame(frame)
		vm.sp = argsStart + fo.Fn.NumLocals
		for i := fo.Fn.NumParameters; i < fo.Fn.NumLocals; i++ {
			vm.stack[argsStart+i] = object.Null
		}
		return true

	case object.KindNative:
		no := vm.heap.GetNative(callee)
		args := make([]object.Value, numArgs)
		copy(args, vm.stack[vm.sp-numArgs:vm.sp])
		vm.nativeName = no.Name
		vm.recovered = false
		result := no.Fn(vm, no.HostData, args)
		vm.nativeName = ""
		if vm.state != Running {
			return false
		}
		if vm.recovered {
			// A raise inside the native call was handled by a script-level
			// recover; stack and instruction pointer already belong to the
			// handler, and the native's return value is discarded.
			vm.recovered = false
			return true
		}
		vm.sp = calleeIdx
		_ = vm.push(result)
		return true

	default:
		vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("not a function: %s", callee.TypeName()))
		return vm.state == Running
	}
}

func (vm *VM) execBinaryOp(op code.Opcode) bool {
	right := vm.pop()
	left := vm.pop()

	if left.Kind() == object.KindString && right.Kind() == object.KindString && op == code.OpAdd {
		s := vm.heap.GetString(left).Data + vm.heap.GetString(right).Data
		v, err := vm.heap.NewString(s)
		if err != nil {
			vm.raise(object.AllocationErrorKind, vm.currentPos(), "allocation failed")
			return false
		}
		_ = vm.push(v)
		return true
	}

	if left.Kind() != object.KindNumber || right.Kind() != object.KindNumber {
		vm.raise(object.RuntimeErrorKind, vm.currentPos(),
			fmt.Sprintf("unsupported operand types: %s and %s", left.TypeName(), right.TypeName()))
		return false
	}

	l, r := left.AsNumber(), right.AsNumber()
	var result float64
	switch op {
	case code.OpAdd:
		result = l + r
	case code.OpSub:
		result = l - r
	case code.OpMul:
		result = l * r
	case code.OpDiv:
		result = l / r
	case code.OpMod:
		result = math.Mod(l, r)
	}
	_ = vm.push(object.Number(result))
	return true
}

func (vm *VM) execCompareOp(orEqual bool) bool {
	right := vm.pop()
	left := vm.pop()

	// Strings order lexicographically by byte.
	if left.Kind() == object.KindString && right.Kind() == object.KindString {
		l, r := vm.heap.GetString(left).Data, vm.heap.GetString(right).Data
		if orEqual {
			_ = vm.push(object.Bool(l >= r))
		} else {
			_ = vm.push(object.Bool(l > r))
		}
		return true
	}

	if left.Kind() != object.KindNumber || right.Kind() != object.KindNumber {
		vm.raise(object.RuntimeErrorKind, vm.currentPos(),
			fmt.Sprintf("unsupported operand types: %s and %s", left.TypeName(), right.TypeName()))
		return false
	}
	l, r := left.AsNumber(), right.AsNumber()
	var result bool
	if orEqual {
		result = l >= r
	} else {
		result = l > r
	}
	_ = vm.push(object.Bool(result))
	return true
}

func (vm *VM) valuesEqual(l, r object.Value) bool {
	if l.Kind() == object.KindNumber && r.Kind() == object.KindNumber {
		return l.AsNumber() == r.AsNumber()
	}
	// null coerces to false in equality: null == false and null == null
	// are both true, even though Null and False are distinct immediate
	// kinds. Intentional; not extended to other falsey coercions.
	if l.IsNull() {
		l = object.False
	}
	if r.IsNull() {
		r = object.False
	}
	if l.Kind() != r.Kind() {
		return false
	}
	return l == r
}

func arrayIndex(length, idx int) (int, bool) {
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}

func (vm *VM) getIndex(container, index object.Value) (object.Value, bool) {
	switch container.Kind() {
	case object.KindArray:
		if index.Kind() != object.KindNumber {
			return object.Null, false
		}
		elems := vm.heap.GetArray(container).Elements
		idx, ok := arrayIndex(len(elems), int(index.AsNumber()))
		if !ok {
			return object.Null, true
		}
		return elems[idx], true
	case object.KindMap:
		v, found := vm.heap.GetMap(container).Get(index)
		if !found {
			return object.Null, true
		}
		return v, true
	case object.KindString:
		if index.Kind() != object.KindNumber {
			return object.Null, false
		}
		runes := []rune(vm.heap.GetString(container).Data)
		idx, ok := arrayIndex(len(runes), int(index.AsNumber()))
		if !ok {
			return object.Null, true
		}
		v, err := vm.heap.NewString(string(runes[idx]))
		if err != nil {
			return object.Null, true
		}
		return v, true
	default:
		return object.Null, false
	}
}

func (vm *VM) setIndex(container, index, value object.Value) bool {
	switch container.Kind() {
	case object.KindArray:
		if index.Kind() != object.KindNumber {
			return false
		}
		elems := vm.heap.GetArray(container).Elements
		idx, ok := arrayIndex(len(elems), int(index.AsNumber()))
		if !ok {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), "array index out of range")
			return true
		}
		elems[idx] = value
		return true
	case object.KindMap:
		if !vm.heap.GetMap(container).Set(index, value) {
			vm.raise(object.RuntimeErrorKind, vm.currentPos(), fmt.Sprintf("unusable as map key: %s", index.TypeName()))
		}
		return true
	default:
		return false
	}
}

func (vm *VM) length(v object.Value) (int, bool) {
	switch v.Kind() {
	case object.KindString:
		return len([]rune(vm.heap.GetString(v).Data)), true
	case object.KindArray:
		return len(vm.heap.GetArray(v).Elements), true
	case object.KindMap:
		return vm.heap.GetMap(v).Len(), true
	default:
		return 0, false
	}
}

func (vm *VM) getValueAt(container, index object.Value) (object.Value, bool) {
	if index.Kind() != object.KindNumber {
		return object.Null, false
	}
	idx := int(index.AsNumber())
	switch container.Kind() {
	case object.KindArray:
		elems := vm.heap.GetArray(container).Elements
		if idx < 0 || idx >= len(elems) {
			return object.Null, false
		}
		return elems[idx], true
	case object.KindString:
		runes := []rune(vm.heap.GetString(container).Data)
		if idx < 0 || idx >= len(runes) {
			return object.Null, false
		}
		v, err := vm.heap.NewString(string(runes[idx]))
		if err != nil {
			return object.Null, false
		}
		return v, true
	case object.KindMap:
		keys := vm.heap.GetMap(container).Keys()
		if idx < 0 || idx >= len(keys) {
			return object.Null, false
		}
		return keys[idx], true
	default:
		return object.Null, false
	}
}

// buildTraceback walks the active frames innermost-first, capturing the
// function name and source position each was suspended at. A native call
// in progress contributes the innermost frame, with an unknown position.
func (vm *VM) buildTraceback() []object.TraceFrame {
	tb := make([]object.TraceFrame, 0, vm.framesIndex+1)
	if vm.nativeName != "" {
		tb = append(tb, object.TraceFrame{FunctionName: vm.nativeName, Pos: code.Unknown})
	}
	for i := vm.framesIndex - 1; i >= 0; i-- {
		f := vm.frames[i]
		pos := code.Unknown
		if f.ip >= 0 && f.ip < len(f.Positions()) {
			pos = f.Positions()[f.ip]
		}
		name := f.fn.Fn.Name
		if name == "" {
			name = "<anonymous>"
		}
		tb = append(tb, object.TraceFrame{FunctionName: name, Pos: pos})
	}
	return tb
}

// raise records a new error of kind at pos with the given message. Runtime
// and user errors first search the active frame stack for a recover
// handler; timeout and allocation errors are never recoverable from script
// and always terminate.
func (vm *VM) raise(kind object.ErrorKind, pos code.Pos, msg string) {
	errVal, err := vm.heap.NewError(kind, msg, pos, vm.buildTraceback())
	if err != nil {
		vm.state = Terminated
		return
	}

	if kind == object.RuntimeErrorKind || kind == object.UserErrorKind {
		vm.state = Raising
		if vm.tryRecover(errVal) {
			vm.state = Running
			return
		}
	}

	vm.errors = append(vm.errors, errVal)
	vm.state = Terminated
}

// tryRecover searches the active frames innermost-first for one with a
// pending recover handler, transferring control to it if found.
func (vm *VM) tryRecover(errVal object.Value) bool {
	for i := vm.framesIndex - 1; i >= 0; i-- {
		f := vm.frames[i]
		pos, ok := f.takeHandler()
		if !ok {
			continue
		}
		vm.state = Recovering
		vm.recovered = true
		vm.framesIndex = i + 1
		vm.sp = f.basePointer + f.fn.Fn.NumLocals
		_ = vm.push(errVal)
		f.ip = pos - 1
		return true
	}
	return false
}

// collectRoots gathers every Value directly reachable from VM state: the
// live stack, every active frame's closure, the globals array, and the
// constants pool (functions and strings referenced only from code not
// currently executing must still survive a collection).
func (vm *VM) collectRoots() []object.Value {
	roots := make([]object.Value, 0, vm.sp+vm.framesIndex+len(vm.globals)+len(vm.constants))
	roots = append(roots, vm.stack[:vm.sp]...)
	for _, f := range vm.frames[:vm.framesIndex] {
		roots = append(roots, f.self)
	}
	roots = append(roots, vm.globals...)
	roots = append(roots, vm.constants...)
	return roots
}

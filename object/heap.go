package object

import (
	"fmt"
	"strconv"

	"github.com/dr8co/ape/code"
)

// Allocator is the pluggable (malloc, free, context) triple every heap
// allocation and deallocation routes through. The default allocator
// (see NewDefaultAllocator) never fails; tests install one that fails at
// a chosen allocation index to exercise the allocation-failure contract.
type Allocator struct {
	Malloc func(ctx any, size int) (ok bool)
	Free   func(ctx any, size int)
	Ctx    any
}

// NewDefaultAllocator returns an Allocator that always succeeds and keeps
// no state of its own; the Heap counts allocations and frees itself (see
// Heap.Stats).
func NewDefaultAllocator() Allocator {
	return Allocator{
		Malloc: func(any, int) bool { return true },
		Free:   func(any, int) {},
	}
}

// slot is one entry of the heap's object table.
type slot struct {
	obj   HeapObject
	alive bool
}

// Heap owns every reference-typed Value's backing storage. It allocates
// through a pluggable Allocator, and reclaims unreachable objects with a
// non-incremental mark-and-sweep collector triggered from Collect.
type Heap struct {
	allocator Allocator

	slots    []slot
	freeList []uint64

	// liveCount is a notional per-object accounting unit (1 per slot);
	// gcThreshold doubles whenever a collection frees less than 1/4 of
	// live objects, so a heap that is mostly live stops collecting on
	// every allocation burst.
	liveCount   int
	gcThreshold int

	allocCount int
	freeCount  int

	pins []Value

	stringTable map[string]Value // constant-pool style de-dup for NewString
}

const defaultGCThreshold = 256

// NewHeap creates a Heap using alloc for every allocation/deallocation.
func NewHeap(alloc Allocator) *Heap {
	return &Heap{
		allocator:   alloc,
		gcThreshold: defaultGCThreshold,
		stringTable: make(map[string]Value),
	}
}

// ErrAllocation indicates the pluggable allocator refused an allocation.
// It is returned by every Heap allocation method and carries no heap
// state of its own (an object.ErrorObj with AllocationErrorKind is what
// the VM/façade surface to the host).
var ErrAllocation = fmt.Errorf("object: allocation failed")

// alloc reserves a slot for obj, reusing a freed index when available,
// consulting the allocator first so failure injection can be exercised
// without ever leaving a half-constructed object reachable.
func (h *Heap) alloc(obj HeapObject) (uint64, error) {
	if !h.mallocOK(1) {
		return 0, ErrAllocation
	}
	h.allocCount++
	h.liveCount++

	var idx uint64
	if n := len(h.freeList); n > 0 {
		idx = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.slots[idx] = slot{obj: obj, alive: true}
	} else {
		idx = uint64(len(h.slots))
		h.slots = append(h.slots, slot{obj: obj, alive: true})
	}
	return idx, nil
}

// mallocOK calls through to the allocator's Malloc hook.
func (h *Heap) mallocOK(n int) bool {
	if h.allocator.Malloc == nil {
		return true
	}
	return h.allocator.Malloc(h.allocator.Ctx, n)
}

func (h *Heap) free(idx uint64) {
	h.slots[idx] = slot{}
	h.freeList = append(h.freeList, idx)
	h.freeCount++
	h.liveCount--
	if h.allocator.Free != nil {
		h.allocator.Free(h.allocator.Ctx, 1)
	}
}

// NewString interns s, returning the same Value for structurally equal
// strings so the constants pool (and map keys) can rely on de-duplication.
func (h *Heap) NewString(s string) (Value, error) {
	if v, ok := h.stringTable[s]; ok {
		return v, nil
	}
	idx, err := h.alloc(NewStringObj(s))
	if err != nil {
		return Null, err
	}
	v := EncodeRef(KindString, idx)
	h.stringTable[s] = v
	return v, nil
}

// NewArray allocates an array holding elems (copied by reference, not
// cloned).
func (h *Heap) NewArray(elems []Value) (Value, error) {
	idx, err := h.alloc(&ArrayObj{Elements: elems, heap: h})
	if err != nil {
		return Null, err
	}
	return EncodeRef(KindArray, idx), nil
}

// NewMap allocates an empty map.
func (h *Heap) NewMap() (Value, error) {
	m := NewMapObj()
	m.heap = h
	idx, err := h.alloc(m)
	if err != nil {
		return Null, err
	}
	return EncodeRef(KindMap, idx), nil
}

// NewFunction allocates a closure over fn with the given free variables.
func (h *Heap) NewFunction(fn *CompiledFunction, free []Value, recursive bool) (Value, error) {
	idx, err := h.alloc(&FunctionObj{Fn: fn, Free: free, IsRecursive: recursive})
	if err != nil {
		return Null, err
	}
	return EncodeRef(KindFunction, idx), nil
}

// NewNative allocates a native (host or builtin) function value.
func (h *Heap) NewNative(name string, fn NativeFn, hostData any) (Value, error) {
	idx, err := h.alloc(&NativeObj{Name: name, Fn: fn, HostData: hostData})
	if err != nil {
		return Null, err
	}
	return EncodeRef(KindNative, idx), nil
}

// NewError allocates an error value.
func (h *Heap) NewError(kind ErrorKind, message string, pos code.Pos, traceback []TraceFrame) (Value, error) {
	idx, err := h.alloc(&ErrorObj{Message: message, ErrKind: kind, Pos: pos, Traceback: traceback})
	if err != nil {
		return Null, err
	}
	return EncodeRef(KindError, idx), nil
}

// NewExternal wraps data with an optional destructor, run when the object
// is collected or the heap is destroyed.
func (h *Heap) NewExternal(data any, destroy func(any)) (Value, error) {
	idx, err := h.alloc(&ExternalObj{Data: data, Destroy: destroy})
	if err != nil {
		return Null, err
	}
	return EncodeRef(KindExternal, idx), nil
}

func (h *Heap) lookup(v Value) (HeapObject, bool) {
	if !v.isRef() {
		return nil, false
	}
	idx := v.Handle()
	if idx >= uint64(len(h.slots)) || !h.slots[idx].alive {
		return nil, false
	}
	return h.slots[idx].obj, true
}

// GetString dereferences v, which must be a KindString Value.
func (h *Heap) GetString(v Value) *StringObj {
	obj, _ := h.lookup(v)
	return obj.(*StringObj)
}

// GetArray dereferences v, which must be a KindArray Value.
func (h *Heap) GetArray(v Value) *ArrayObj {
	obj, _ := h.lookup(v)
	return obj.(*ArrayObj)
}

// GetMap dereferences v, which must be a KindMap Value.
func (h *Heap) GetMap(v Value) *MapObj {
	obj, _ := h.lookup(v)
	return obj.(*MapObj)
}

// GetFunction dereferences v, which must be a KindFunction Value.
func (h *Heap) GetFunction(v Value) *FunctionObj {
	obj, _ := h.lookup(v)
	return obj.(*FunctionObj)
}

// GetNative dereferences v, which must be a KindNative Value.
func (h *Heap) GetNative(v Value) *NativeObj {
	obj, _ := h.lookup(v)
	return obj.(*NativeObj)
}

// GetError dereferences v, which must be a KindError Value.
func (h *Heap) GetError(v Value) *ErrorObj {
	obj, _ := h.lookup(v)
	return obj.(*ErrorObj)
}

// GetExternal dereferences v, which must be a KindExternal Value.
func (h *Heap) GetExternal(v Value) *ExternalObj {
	obj, _ := h.lookup(v)
	return obj.(*ExternalObj)
}

// Pin keeps v alive across collections run during a multi-step value
// construction (e.g. assembling a map literal) until Unpin releases it.
func (h *Heap) Pin(v Value) { h.pins = append(h.pins, v) }

// Unpin releases the most recently pinned value.
func (h *Heap) Unpin() {
	if n := len(h.pins); n > 0 {
		h.pins = h.pins[:n-1]
	}
}

// Collect runs a full mark-and-sweep collection. roots supplies every
// Value directly reachable from the VM (stack, frame closures, globals,
// constants); Collect also includes the heap's own pin stack.
func (h *Heap) Collect(roots []Value) {
	marked := make([]bool, len(h.slots))

	var worklist []Value

	mark := func(v Value) {
		if !v.isRef() || v.tag() == tagImmediate {
			return
		}
		idx := v.Handle()
		if idx >= uint64(len(h.slots)) || !h.slots[idx].alive || marked[idx] {
			return
		}
		marked[idx] = true
		worklist = append(worklist, v)
	}

	for _, v := range roots {
		mark(v)
	}
	for _, v := range h.pins {
		mark(v)
	}
	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		obj, ok := h.lookup(v)
		if !ok {
			continue
		}
		obj.Trace(mark)
	}

	freedBefore := h.freeCount
	for i, s := range h.slots {
		if s.alive && !marked[i] {
			switch obj := s.obj.(type) {
			case *ExternalObj:
				if obj.Destroy != nil {
					obj.Destroy(obj.Data)
				}
			case *StringObj:
				// Drop the intern-table entry so a later NewString for the
				// same content cannot hand out the reclaimed handle.
				delete(h.stringTable, obj.Data)
			}
			h.free(uint64(i))
		}
	}
	if freed := h.freeCount - freedBefore; freed < h.liveCount/4+1 {
		h.gcThreshold *= 2
	}
}

// ShouldCollect reports whether the live object count has crossed the
// current dynamic threshold.
func (h *Heap) ShouldCollect() bool { return h.liveCount >= h.gcThreshold }

// Stats returns (allocations, frees) since the heap was created, used by
// this package's leak-check tests.
func (h *Heap) Stats() (allocs, frees int) { return h.allocCount, h.freeCount }

// Destroy runs a final full collection with no roots, reclaiming every
// remaining object, and runs any ExternalObj destructors along the way.
func (h *Heap) Destroy() {
	h.pins = nil
	h.Collect(nil)
}

// Inspect renders v as a human-readable string, resolving heap references
// through h.
func (h *Heap) Inspect(v Value) string {
	switch v.Kind() {
	case KindNumber:
		return formatNumber(v.AsNumber())
	case KindNull:
		return "null"
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	default:
		if obj, ok := h.lookup(v); ok {
			return obj.Inspect()
		}
		return "<" + v.TypeName() + ">"
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) && !isInfOrNaN(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isInfOrNaN(f float64) bool {
	return f != f || f > 1e308 || f < -1e308
}

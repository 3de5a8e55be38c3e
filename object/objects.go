package object

import (
	"fmt"
	"io"
	"strings"

	"github.com/dolthub/swiss"

	"github.com/dr8co/ape/code"
)

// HeapObject is implemented by every heap-allocated kind of object. Trace
// calls visit once for every Value the object directly holds, letting the
// garbage collector walk the reachability graph without knowing concrete
// types.
type HeapObject interface {
	Kind() Kind
	Trace(visit func(Value))
	Inspect() string
}

// StringObj is an immutable, hash-cached UTF-8 string.
type StringObj struct {
	Data   string
	hash   uint64
	hashed bool
}

func NewStringObj(s string) *StringObj { return &StringObj{Data: s} }

func (s *StringObj) Kind() Kind               { return KindString }
func (s *StringObj) Trace(func(Value))        {}
func (s *StringObj) Inspect() string          { return s.Data }
func (s *StringObj) Hash() uint64 {
	if !s.hashed {
		s.hash = fnv64a(s.Data)
		s.hashed = true
	}
	return s.hash
}

func fnv64a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// ArrayObj is a mutable, ordered sequence of Values.
type ArrayObj struct {
	Elements []Value
	heap     *Heap
}

func NewArrayObj(elems []Value) *ArrayObj { return &ArrayObj{Elements: elems} }

func (a *ArrayObj) Kind() Kind { return KindArray }
func (a *ArrayObj) Trace(visit func(Value)) {
	for _, v := range a.Elements {
		visit(v)
	}
}
func (a *ArrayObj) Inspect() string {
	var out strings.Builder
	out.WriteByte('[')
	for i, e := range a.Elements {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(a.heap.Inspect(e))
	}
	out.WriteByte(']')
	return out.String()
}

// mapKey is the Go-comparable normalization of a hashable Value (number,
// bool, or string content) used as a MapObj key. Two Values compare equal
// as map keys exactly when their mapKey is equal.
type mapKey struct {
	kind Kind
	num  float64
	str  string
}

// MapObj is a key->value map over hashable Values (number, bool, string).
// Lookup and mutation go through a swiss-table index keyed on the
// normalized mapKey; order/values carry the insertion-ordered witness the
// swiss map itself does not provide, since `keys`/`values`/iteration must
// be deterministic.
type MapObj struct {
	order  []Value // keys, in insertion order
	values []Value // values, parallel to order
	index  *swiss.Map[mapKey, int]
	heap   *Heap
}

const defaultMapCapacity = 8

func NewMapObj() *MapObj {
	return &MapObj{index: swiss.NewMap[mapKey, int](defaultMapCapacity)}
}

func (m *MapObj) Kind() Kind { return KindMap }
func (m *MapObj) Trace(visit func(Value)) {
	for _, k := range m.order {
		visit(k)
	}
	for _, v := range m.values {
		visit(v)
	}
}
func (m *MapObj) Inspect() string {
	var out strings.Builder
	out.WriteByte('{')
	for i, k := range m.order {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(m.heap.Inspect(k))
		out.WriteString(": ")
		out.WriteString(m.heap.Inspect(m.values[i]))
	}
	out.WriteByte('}')
	return out.String()
}

// keyOf resolves the normalized key for v. ok is false when v is not
// hashable (only number, bool and string may be map keys).
func (m *MapObj) keyOf(v Value) (mapKey, bool) {
	switch v.Kind() {
	case KindNumber:
		return mapKey{kind: KindNumber, num: v.AsNumber()}, true
	case KindBool:
		n := 0.0
		if v.AsBool() {
			n = 1
		}
		return mapKey{kind: KindBool, num: n}, true
	case KindString:
		return mapKey{kind: KindString, str: m.heap.GetString(v).Data}, true
	default:
		return mapKey{}, false
	}
}

// Set stores value under key, appending key to the order slice on first
// insertion and overwriting the value in place on update. ok is false when
// key is not a hashable type.
func (m *MapObj) Set(key, value Value) bool {
	mk, ok := m.keyOf(key)
	if !ok {
		return false
	}
	if i, found := m.index.Get(mk); found {
		m.values[i] = value
		return true
	}
	m.index.Put(mk, len(m.order))
	m.order = append(m.order, key)
	m.values = append(m.values, value)
	return true
}

// Get looks up key, returning its value and whether it was present.
func (m *MapObj) Get(key Value) (Value, bool) {
	mk, ok := m.keyOf(key)
	if !ok {
		return Null, false
	}
	i, found := m.index.Get(mk)
	if !found {
		return Null, false
	}
	return m.values[i], true
}

// Keys returns the map's keys in insertion order.
func (m *MapObj) Keys() []Value { return m.order }

// Values returns the map's values in insertion order, parallel to Keys.
func (m *MapObj) Values() []Value { return m.values }

// Len returns the number of entries in the map. order is always kept in
// sync with the swiss index on every Set, so it is the reliable count.
func (m *MapObj) Len() int { return len(m.order) }

// CompiledFunction is the output of compiling a function body: its
// bytecode, the parallel source positions, and its arity.
type CompiledFunction struct {
	Instructions  code.Instructions
	Positions     code.Positions
	NumLocals     int
	NumParameters int
	Name          string
}

// FunctionObj is a script function closure: a compiled function bound to
// the free variables captured when the closure was created.
type FunctionObj struct {
	Fn          *CompiledFunction
	Free        []Value
	IsRecursive bool
}

func (f *FunctionObj) Kind() Kind { return KindFunction }
func (f *FunctionObj) Trace(visit func(Value)) {
	for _, v := range f.Free {
		visit(v)
	}
}
func (f *FunctionObj) Inspect() string {
	name := f.Fn.Name
	if name == "" {
		name = fmt.Sprintf("<anonymous@%p>", f)
	}
	return fmt.Sprintf("CompiledFunction[%s]", name)
}

// Machine is the narrow interface native functions see into the running
// VM: it lets them allocate on the heap and raise runtime errors without
// the object package importing the vm package.
type Machine interface {
	Heap() *Heap
	Stdout() io.Writer
	SetRuntimeError(msg string)
	SetRuntimeErrorf(format string, args ...any)
	// SetUserError raises msg as a UserErrorKind error, as opposed to the
	// RuntimeErrorKind raised by SetRuntimeError/SetRuntimeErrorf. It is
	// what the `error()` builtin uses, so recover(e){} can tell a script's
	// own raised errors apart from ones the VM raised.
	SetUserError(msg string)
}

// NativeFn is the signature of a host (or builtin) function callable from
// script code.
type NativeFn func(m Machine, hostData any, args []Value) Value

// NativeObj wraps a host callback together with its name and opaque host
// data pointer.
type NativeObj struct {
	Name     string
	Fn       NativeFn
	HostData any
}

func (n *NativeObj) Kind() Kind            { return KindNative }
func (n *NativeObj) Trace(func(Value))     {}
func (n *NativeObj) Inspect() string       { return "builtin function: " + n.Name }

// ErrorKind discriminates why an ErrorObj was raised.
type ErrorKind int

const (
	ParseErrorKind ErrorKind = iota
	CompileErrorKind
	RuntimeErrorKind
	TimeoutErrorKind
	AllocationErrorKind
	UserErrorKind
)

func (k ErrorKind) String() string {
	switch k {
	case ParseErrorKind:
		return "ParseError"
	case CompileErrorKind:
		return "CompileError"
	case RuntimeErrorKind:
		return "RuntimeError"
	case TimeoutErrorKind:
		return "TimeoutError"
	case AllocationErrorKind:
		return "AllocationError"
	case UserErrorKind:
		return "UserError"
	default:
		return "Error"
	}
}

// TraceFrame is one entry of a traceback: the function name and source
// position active at the point of the call. Native frames carry
// code.Unknown as their position.
type TraceFrame struct {
	FunctionName string
	Pos          code.Pos
}

// ErrorObj is a runtime, compile, or user-constructed error value. It is
// immutable once raised: the message, traceback snapshot and position are
// fixed at creation time.
type ErrorObj struct {
	Message   string
	ErrKind   ErrorKind
	Pos       code.Pos
	Traceback []TraceFrame
}

func (e *ErrorObj) Kind() Kind         { return KindError }
func (e *ErrorObj) Trace(func(Value))  {}
func (e *ErrorObj) Inspect() string    { return "ERROR: " + e.Message }

// Serialize renders a multi-line, human-readable report of e: its kind,
// position, message and (for runtime-ish errors) a traceback.
func (e *ErrorObj) Serialize() string {
	var out strings.Builder
	fmt.Fprintf(&out, "%s: %s\n", e.ErrKind, e.Message)
	if e.Pos.Line >= 0 {
		fmt.Fprintf(&out, "\tat %s:%d:%d\n", e.Pos.File, e.Pos.Line, e.Pos.Column)
	}
	for _, f := range e.Traceback {
		if f.Pos.Line < 0 {
			fmt.Fprintf(&out, "\tfrom %s (native)\n", f.FunctionName)
		} else {
			fmt.Fprintf(&out, "\tfrom %s at %s:%d:%d\n", f.FunctionName, f.Pos.File, f.Pos.Line, f.Pos.Column)
		}
	}
	return out.String()
}

// ExternalObj wraps an opaque host pointer with a destructor run when the
// object is collected.
type ExternalObj struct {
	Data    any
	Destroy func(any)
}

func (e *ExternalObj) Kind() Kind        { return KindExternal }
func (e *ExternalObj) Trace(func(Value)) {}
func (e *ExternalObj) Inspect() string   { return "external data" }

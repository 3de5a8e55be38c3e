package ape

import (
	"fmt"

	"github.com/dr8co/ape/code"
	"github.com/dr8co/ape/object"
)

var unknownPos = code.Unknown

// The object_make_* family below mirrors the embedding API's value
// constructors: each allocates (where the kind is heap-backed) against this
// instance's heap, so the returned Value is only valid for use with this
// same Ape instance.

// MakeNumber returns a number Value. Never allocates.
func (a *Ape) MakeNumber(f float64) object.Value { return object.Number(f) }

// MakeBool returns a boolean Value. Never allocates.
func (a *Ape) MakeBool(b bool) object.Value { return object.Bool(b) }

// MakeNull returns the null Value. Never allocates.
func (a *Ape) MakeNull() object.Value { return object.Null }

// MakeString allocates a string Value from s.
func (a *Ape) MakeString(s string) (object.Value, error) { return a.heap.NewString(s) }

// MakeStringf allocates a string Value formatted per fmt.Sprintf.
func (a *Ape) MakeStringf(format string, args ...any) (object.Value, error) {
	return a.heap.NewString(fmt.Sprintf(format, args...))
}

// MakeArray allocates an array Value containing elems.
func (a *Ape) MakeArray(elems []object.Value) (object.Value, error) { return a.heap.NewArray(elems) }

// MakeMap allocates an empty map Value.
func (a *Ape) MakeMap() (object.Value, error) { return a.heap.NewMap() }

// MakeError allocates an error Value of the given kind and message.
func (a *Ape) MakeError(kind object.ErrorKind, message string) (object.Value, error) {
	return a.heap.NewError(kind, message, unknownPos, nil)
}

// MakeExternal wraps data as an external Value; destroy (if non-nil) runs
// when the value is collected.
func (a *Ape) MakeExternal(data any, destroy func(any)) (object.Value, error) {
	return a.heap.NewExternal(data, destroy)
}

// ObjectGetNumber returns v's number. Only meaningful when v.Kind() ==
// object.KindNumber.
func (a *Ape) ObjectGetNumber(v object.Value) float64 { return v.AsNumber() }

// ObjectGetBool returns v's boolean. Only meaningful when v.Kind() ==
// object.KindBool.
func (a *Ape) ObjectGetBool(v object.Value) bool { return v.AsBool() }

// ObjectGetString returns v's string content. Only meaningful when v.Kind()
// == object.KindString.
func (a *Ape) ObjectGetString(v object.Value) string { return a.heap.GetString(v).Data }

// ObjectGetArray returns v's elements, live (mutations observe subsequent
// script-side changes). Only meaningful when v.Kind() == object.KindArray.
func (a *Ape) ObjectGetArray(v object.Value) []object.Value { return a.heap.GetArray(v).Elements }

// ObjectType returns v's discriminant.
func (a *Ape) ObjectType(v object.Value) object.Kind { return v.Kind() }

// ObjectTypeString returns v's type name, e.g. "STRING".
func (a *Ape) ObjectTypeString(v object.Value) string { return v.TypeName() }

// ObjectErrorMessage returns e's message. v must hold an ErrorObj.
func (a *Ape) ObjectErrorMessage(v object.Value) string { return a.heap.GetError(v).Message }

// ObjectErrorKind returns v's error kind. v must hold an ErrorObj.
func (a *Ape) ObjectErrorKind(v object.Value) object.ErrorKind { return a.heap.GetError(v).ErrKind }

// ObjectErrorTraceback returns v's captured traceback, innermost frame
// first. v must hold an ErrorObj.
func (a *Ape) ObjectErrorTraceback(v object.Value) []object.TraceFrame {
	return a.heap.GetError(v).Traceback
}

// TracebackDepth returns the number of frames in tb.
func TracebackDepth(tb []object.TraceFrame) int { return len(tb) }

// TracebackLine returns the source line of the i-th frame, or -1 for a
// native frame.
func TracebackLine(tb []object.TraceFrame, i int) int { return tb[i].Pos.Line }

// TracebackColumn returns the source column of the i-th frame, or -1 for a
// native frame.
func TracebackColumn(tb []object.TraceFrame, i int) int { return tb[i].Pos.Column }

// TracebackFunctionName returns the function name active at the i-th frame.
func TracebackFunctionName(tb []object.TraceFrame, i int) string { return tb[i].FunctionName }

// GetMapNumber looks up a numeric key in the map Value m, returning the
// value and whether the key was present. m must hold a MapObj.
func (a *Ape) GetMapNumber(m object.Value, key float64) (float64, bool) {
	v, ok := a.heap.GetMap(m).Get(object.Number(key))
	if !ok {
		return 0, false
	}
	return v.AsNumber(), true
}

// SetMapNumber stores value under the numeric key in map Value m. m must
// hold a MapObj.
func (a *Ape) SetMapNumber(m object.Value, key, value float64) bool {
	return a.heap.GetMap(m).Set(object.Number(key), object.Number(value))
}

// SetMapValueWithValueKey stores value under key (any hashable Value) in
// map Value m. m must hold a MapObj; ok is false if key is not hashable.
func (a *Ape) SetMapValueWithValueKey(m, key, value object.Value) bool {
	return a.heap.GetMap(m).Set(key, value)
}

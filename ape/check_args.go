package ape

import "github.com/dr8co/ape/object"

// ObjectTypeMask is a bitset of acceptable [object.Kind] values, used by
// [CheckArgs] to validate a native function's arguments in one call instead
// of a chain of individual Kind() switches.
type ObjectTypeMask uint32

const (
	ObjectNumber ObjectTypeMask = 1 << iota
	ObjectBool
	ObjectString
	ObjectNull
	ObjectArray
	ObjectMap
	ObjectFunction
	ObjectNative
	ObjectError
	ObjectExternal
)

// ObjectAny matches every kind.
const ObjectAny = ObjectNumber | ObjectBool | ObjectString | ObjectNull |
	ObjectArray | ObjectMap | ObjectFunction | ObjectNative | ObjectError | ObjectExternal

func maskForKind(k object.Kind) ObjectTypeMask {
	switch k {
	case object.KindNumber:
		return ObjectNumber
	case object.KindBool:
		return ObjectBool
	case object.KindString:
		return ObjectString
	case object.KindNull:
		return ObjectNull
	case object.KindArray:
		return ObjectArray
	case object.KindMap:
		return ObjectMap
	case object.KindFunction:
		return ObjectFunction
	case object.KindNative:
		return ObjectNative
	case object.KindError:
		return ObjectError
	case object.KindExternal:
		return ObjectExternal
	default:
		return 0
	}
}

// CheckArgs validates that args has exactly len(masks) entries and that each
// args[i] matches masks[i]. When reportError is true, a mismatch raises a
// runtime error on m describing the expectation, the way the Builtins table
// of native functions reports bad call sites; CheckArgs itself never raises
// when reportError is false, letting a caller probe accepted overloads
// silently before committing to one.
func CheckArgs(m object.Machine, reportError bool, args []object.Value, masks ...ObjectTypeMask) bool {
	if len(args) != len(masks) {
		if reportError {
			m.SetRuntimeErrorf("wrong number of arguments: got=%d, want=%d", len(args), len(masks))
		}
		return false
	}
	for i, want := range masks {
		if want&maskForKind(args[i].Kind()) == 0 {
			if reportError {
				var expected []string
				for k := object.KindNumber; k <= object.KindExternal; k++ {
					if want&maskForKind(k) != 0 {
						expected = append(expected, k.String())
					}
				}
				m.SetRuntimeErrorf("invalid argument %d: expected %v, got %s", i, expected, args[i].TypeName())
			}
			return false
		}
	}
	return true
}

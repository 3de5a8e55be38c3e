package object

import (
	"io"
	"strings"
)

// Builtins is the fixed, ordered table of builtin functions every VM
// instance exposes at GET_BUILTIN indices 0..len(Builtins)-1. Order matters:
// it is the compiler's symbol table that assigns each name its index, and
// that assignment must match this slice's order exactly.
var Builtins = []struct {
	Name string
	Fn   NativeFn
}{
	{"len", builtinLen},
	{"println", builtinPrintln},
	{"print", builtinPrint},
	{"first", builtinFirst},
	{"last", builtinLast},
	{"rest", builtinRest},
	{"push", builtinPush},
	{"keys", builtinKeys},
	{"values", builtinValues},
	{"type", builtinType},
	{"error", builtinError},
	{"copy", builtinCopy},
}

// GetBuiltinByName returns the index of the builtin named name, or -1.
func GetBuiltinByName(name string) int {
	for i, b := range Builtins {
		if b.Name == name {
			return i
		}
	}
	return -1
}

func wrongArgs(m Machine, name string, got, want int) Value {
	m.SetRuntimeErrorf("wrong number of arguments to `%s`: got=%d, want=%d", name, got, want)
	return Null
}

func wrongType(m Machine, name string, v Value) Value {
	m.SetRuntimeErrorf("argument to `%s` not supported, got %s", name, v.TypeName())
	return Null
}

func builtinLen(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "len", len(args), 1)
	}
	switch args[0].Kind() {
	case KindString:
		return Number(float64(len([]rune(m.Heap().GetString(args[0]).Data))))
	case KindArray:
		return Number(float64(len(m.Heap().GetArray(args[0]).Elements)))
	case KindMap:
		return Number(float64(m.Heap().GetMap(args[0]).Len()))
	default:
		return wrongType(m, "len", args[0])
	}
}

func builtinPrintln(m Machine, _ any, args []Value) Value {
	var parts []string
	for _, a := range args {
		parts = append(parts, m.Heap().Inspect(a))
	}
	if w := m.Stdout(); w != nil {
		_, _ = io.WriteString(w, strings.Join(parts, " ")+"\n")
	}
	return Null
}

func builtinPrint(m Machine, _ any, args []Value) Value {
	var parts []string
	for _, a := range args {
		parts = append(parts, m.Heap().Inspect(a))
	}
	if w := m.Stdout(); w != nil {
		_, _ = io.WriteString(w, strings.Join(parts, " "))
	}
	return Null
}

func builtinFirst(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "first", len(args), 1)
	}
	if args[0].Kind() != KindArray {
		return wrongType(m, "first", args[0])
	}
	elems := m.Heap().GetArray(args[0]).Elements
	if len(elems) == 0 {
		return Null
	}
	return elems[0]
}

func builtinLast(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "last", len(args), 1)
	}
	if args[0].Kind() != KindArray {
		return wrongType(m, "last", args[0])
	}
	elems := m.Heap().GetArray(args[0]).Elements
	if len(elems) == 0 {
		return Null
	}
	return elems[len(elems)-1]
}

func builtinRest(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "rest", len(args), 1)
	}
	if args[0].Kind() != KindArray {
		return wrongType(m, "rest", args[0])
	}
	elems := m.Heap().GetArray(args[0]).Elements
	if len(elems) == 0 {
		return Null
	}
	rest := make([]Value, len(elems)-1)
	copy(rest, elems[1:])
	v, err := m.Heap().NewArray(rest)
	if err != nil {
		m.SetRuntimeError("allocation failed")
		return Null
	}
	return v
}

func builtinPush(m Machine, _ any, args []Value) Value {
	if len(args) != 2 {
		return wrongArgs(m, "push", len(args), 2)
	}
	if args[0].Kind() != KindArray {
		return wrongType(m, "push", args[0])
	}
	elems := m.Heap().GetArray(args[0]).Elements
	next := make([]Value, len(elems)+1)
	copy(next, elems)
	next[len(elems)] = args[1]
	v, err := m.Heap().NewArray(next)
	if err != nil {
		m.SetRuntimeError("allocation failed")
		return Null
	}
	return v
}

func builtinKeys(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "keys", len(args), 1)
	}
	if args[0].Kind() != KindMap {
		return wrongType(m, "keys", args[0])
	}
	v, err := m.Heap().NewArray(m.Heap().GetMap(args[0]).Keys())
	if err != nil {
		m.SetRuntimeError("allocation failed")
		return Null
	}
	return v
}

func builtinValues(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "values", len(args), 1)
	}
	if args[0].Kind() != KindMap {
		return wrongType(m, "values", args[0])
	}
	v, err := m.Heap().NewArray(m.Heap().GetMap(args[0]).Values())
	if err != nil {
		m.SetRuntimeError("allocation failed")
		return Null
	}
	return v
}

func builtinType(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "type", len(args), 1)
	}
	v, err := m.Heap().NewString(strings.ToLower(args[0].TypeName()))
	if err != nil {
		m.SetRuntimeError("allocation failed")
		return Null
	}
	return v
}

// builtinError raises a UserError with the given message, recoverable from
// script via a `recover` statement.
func builtinError(m Machine, _ any, args []Value) Value {
	if len(args) != 1 || args[0].Kind() != KindString {
		m.SetRuntimeErrorf("error() expects a single string argument")
		return Null
	}
	m.SetUserError(m.Heap().GetString(args[0]).Data)
	return Null
}

func builtinCopy(m Machine, _ any, args []Value) Value {
	if len(args) != 1 {
		return wrongArgs(m, "copy", len(args), 1)
	}
	switch args[0].Kind() {
	case KindArray:
		elems := m.Heap().GetArray(args[0]).Elements
		next := make([]Value, len(elems))
		copy(next, elems)
		v, err := m.Heap().NewArray(next)
		if err != nil {
			m.SetRuntimeError("allocation failed")
			return Null
		}
		return v
	case KindMap:
		src := m.Heap().GetMap(args[0])
		dst, err := m.Heap().NewMap()
		if err != nil {
			m.SetRuntimeError("allocation failed")
			return Null
		}
		for i, k := range src.Keys() {
			m.Heap().GetMap(dst).Set(k, src.Values()[i])
		}
		return dst
	default:
		return args[0]
	}
}

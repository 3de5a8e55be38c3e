package ape_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dr8co/ape/ape"
	"github.com/dr8co/ape/object"
)

func TestExecuteArithmetic(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	result, err := a.Execute("1 + 2 * 3;")
	require.NoError(t, err)
	require.False(t, a.HasErrors())
	require.Equal(t, object.KindNumber, result.Kind())
	require.Equal(t, float64(7), a.ObjectGetNumber(result))
}

func TestExecutePersistsGlobalsAcrossCalls(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	_, err := a.Execute("var x = 10;")
	require.NoError(t, err)

	result, err := a.Execute("x + 5;")
	require.NoError(t, err)
	require.Equal(t, float64(15), a.ObjectGetNumber(result))
}

func TestCompileErrorRecorded(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	_, err := a.Execute("var x = ;")
	require.Error(t, err)
	require.True(t, a.HasErrors())
	require.GreaterOrEqual(t, a.ErrorsCount(), 1)
	require.NotEmpty(t, a.GetError(0).Message)
}

func TestSetNativeFunctionIsCallableFromScript(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	err := a.SetNativeFunction("double", func(m object.Machine, _ any, args []object.Value) object.Value {
		if !ape.CheckArgs(m, true, args, ape.ObjectNumber) {
			return object.Null
		}
		return object.Number(args[0].AsNumber() * 2)
	}, nil)
	require.NoError(t, err)

	result, err := a.Execute("double(21);")
	require.NoError(t, err)
	require.False(t, a.HasErrors())
	require.Equal(t, float64(42), a.ObjectGetNumber(result))
}

func TestSetGlobalConstantVisibleToScript(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	str, err := a.MakeString("hello")
	require.NoError(t, err)
	require.NoError(t, a.SetGlobalConstant("greeting", str))

	result, err := a.Execute("greeting;")
	require.NoError(t, err)
	require.Equal(t, "hello", a.ObjectGetString(result))
}

func TestCallInvokesScriptFunction(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	_, err := a.Execute("fn add(x, y) { return x + y; }")
	require.NoError(t, err)

	result, err := a.Call("add", object.Number(3), object.Number(4))
	require.NoError(t, err)
	require.Equal(t, float64(7), a.ObjectGetNumber(result))
}

func TestStdoutWriteFunctionReceivesPrintOutput(t *testing.T) {
	var buf bytes.Buffer
	a := ape.New(ape.WithStdout(&buf))
	defer a.Destroy()

	_, err := a.Execute(`println("hi");`)
	require.NoError(t, err)
	require.Equal(t, "hi\n", buf.String())
}

func TestSetStdoutWriteFunctionHook(t *testing.T) {
	var captured []byte
	a := ape.New()
	defer a.Destroy()
	a.SetStdoutWriteFunction(func(_ any, data []byte) int {
		captured = append(captured, data...)
		return len(data)
	}, nil)

	_, err := a.Execute(`print("ape");`)
	require.NoError(t, err)
	require.Equal(t, "ape", string(captured))
}

func TestRuntimeErrorSurfacesTraceback(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	_, err := a.Execute("fn boom() { return 1 + \"x\"; } boom();")
	require.NoError(t, err)
	require.True(t, a.HasErrors())

	e := a.GetError(0)
	require.Equal(t, object.RuntimeErrorKind, e.ErrKind)
	require.NotEmpty(t, a.ErrorSerialize(e))
}

func TestGetObjectReturnsUserDeclaredGlobal(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	_, err := a.Execute("var answer = 42;")
	require.NoError(t, err)

	v, ok := a.GetObject("answer")
	require.True(t, ok)
	require.Equal(t, float64(42), a.ObjectGetNumber(v))

	_, ok = a.GetObject("does_not_exist")
	require.False(t, ok)
}

func TestMakeAndSetMapValueWithValueKey(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	m, err := a.MakeMap()
	require.NoError(t, err)
	require.True(t, a.SetMapNumber(m, 1, 99))

	v, ok := a.GetMapNumber(m, 1)
	require.True(t, ok)
	require.Equal(t, float64(99), v)

	key, err := a.MakeString("k")
	require.NoError(t, err)
	require.True(t, a.SetMapValueWithValueKey(m, key, object.Bool(true)))
}

func TestNativeErrorTracebackFrames(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	err := a.SetNativeFunction("custom_error", func(m object.Machine, _ any, _ []object.Value) object.Value {
		m.SetRuntimeError("native boom")
		return object.Null
	}, nil)
	require.NoError(t, err)

	_, err = a.Execute(`
		fn c() { return custom_error(); }
		fn b() { return c(); }
		fn a_() { return b(); }
		a_();
	`)
	require.NoError(t, err)
	require.True(t, a.HasErrors())

	tb := a.GetError(0).Traceback
	require.GreaterOrEqual(t, len(tb), 4)
	require.Equal(t, "custom_error", tb[0].FunctionName)
	require.Equal(t, -1, tb[0].Pos.Line)
	require.Equal(t, -1, tb[0].Pos.Column)
	require.Equal(t, "c", tb[1].FunctionName)
	require.Equal(t, "b", tb[2].FunctionName)
	require.Equal(t, "a_", tb[3].FunctionName)
	for _, f := range tb[1:] {
		require.Greater(t, f.Pos.Line, 0)
	}
}

func TestTimeoutProducesSingleTimeoutError(t *testing.T) {
	a := ape.New()
	defer a.Destroy()

	require.True(t, a.SetTimeout(0.05))
	_, err := a.Execute("while (true) {}")
	require.NoError(t, err)
	require.Equal(t, 1, a.ErrorsCount())
	require.Equal(t, object.TimeoutErrorKind, a.GetError(0).ErrKind)
}

func TestDestroyBalancesAllocatorCounts(t *testing.T) {
	allocs, frees := 0, 0
	a := ape.New(ape.WithAllocator(object.Allocator{
		Malloc: func(any, int) bool { allocs++; return true },
		Free:   func(any, int) { frees++ },
	}))

	_, err := a.Execute(`var xs = [1, 2, 3]; println("hello world");`)
	require.NoError(t, err)
	require.False(t, a.HasErrors())

	a.Destroy()
	require.Equal(t, allocs, frees)
}

// TestAllocationFailureIsReportedAndSurvivable injects a single allocator
// failure mid-script: the run must surface an AllocationError, and the
// instance must remain usable for an unrelated follow-up script.
func TestAllocationFailureIsReportedAndSurvivable(t *testing.T) {
	count, failAt := 0, 5
	allocs, frees := 0, 0
	a := ape.New(ape.WithAllocator(object.Allocator{
		Malloc: func(any, int) bool {
			count++
			if count == failAt {
				return false
			}
			allocs++
			return true
		},
		Free: func(any, int) { frees++ },
	}))

	_, _ = a.Execute(`var xs = [[1], [2], [3], [4], [5]];`)
	require.True(t, a.HasErrors())
	require.Equal(t, object.AllocationErrorKind, a.GetError(0).ErrKind)

	result, err := a.Execute("1 + 2;")
	require.NoError(t, err)
	require.False(t, a.HasErrors())
	require.Equal(t, float64(3), a.ObjectGetNumber(result))

	a.Destroy()
	require.Equal(t, allocs, frees)
}

func TestReplModeToggle(t *testing.T) {
	a := ape.New()
	defer a.Destroy()
	require.False(t, a.ReplMode())
	a.SetReplMode(true)
	require.True(t, a.ReplMode())
}

package vm

import (
	"testing"
	"time"

	"github.com/dr8co/ape/compiler"
	"github.com/dr8co/ape/lexer"
	"github.com/dr8co/ape/object"
	"github.com/dr8co/ape/parser"
)

func runVM(t *testing.T, input string) (*VM, object.Value) {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parser errors for %q: %v", input, errs)
	}

	heap := object.NewHeap(object.NewDefaultAllocator())
	comp := compiler.New(heap)
	comp.Compile(program)
	if errs := comp.Errors(); len(errs) > 0 {
		t.Fatalf("compile errors for %q: %v", input, errs)
	}

	machine := New(heap, comp.Bytecode())
	if err := machine.Run(); err != nil {
		t.Fatalf("Run() for %q: %v", input, err)
	}
	return machine, machine.LastPoppedStackElem()
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"1 + 2;", 3},
		{"10 - 4;", 6},
		{"3 * 4;", 12},
		{"10 / 2;", 5},
		{"7 % 3;", 1},
		{"1 + 2 * 3;", 7},
		{"(1 + 2) * 3;", 9},
		{"-5 + 10;", 5},
	}
	for _, tt := range tests {
		machine, result := runVM(t, tt.input)
		if len(machine.Errors()) > 0 {
			t.Fatalf("%q: unexpected errors: %v", tt.input, machine.Errors())
		}
		if result.Kind() != object.KindNumber || result.AsNumber() != tt.want {
			t.Errorf("%q = %v, want %v", tt.input, result.AsNumber(), tt.want)
		}
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1 < 2;", true},
		{"1 > 2;", false},
		{"1 <= 1;", true},
		{"2 >= 3;", false},
		{"1 == 1;", true},
		{"1 != 1;", false},
		{"true && false;", false},
		{"true || false;", true},
		{`"abc" < "abd";`, true},
		{`"b" >= "a";`, true},
		{`"a" > "b";`, false},
	}
	for _, tt := range tests {
		_, result := runVM(t, tt.input)
		if result.Kind() != object.KindBool || result.AsBool() != tt.want {
			t.Errorf("%q = %v, want %v", tt.input, result, tt.want)
		}
	}
}

func TestShortCircuitSkipsRightOperand(t *testing.T) {
	machine, result := runVM(t, `
		fn crash() { error("should not run"); return null; }
		var a = true || crash();
		var b = false && crash();
		a == true && b == false;
	`)
	if len(machine.Errors()) != 0 {
		t.Fatalf("short-circuit evaluated the crashing operand: %v", machine.Errors())
	}
	if !result.AsBool() {
		t.Errorf("got %v, want a=true and b=false", result)
	}
}

func TestNullEqualsFalseIsTrue(t *testing.T) {
	_, result := runVM(t, "null == false;")
	if !result.AsBool() {
		t.Error("null == false should be true: null coerces to false in equality")
	}
}

func TestWhileLoop(t *testing.T) {
	_, result := runVM(t, `
		var i = 0;
		var sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
		sum;
	`)
	if result.AsNumber() != 10 {
		t.Errorf("sum = %v, want 10", result.AsNumber())
	}
}

func TestForLoopBreakContinue(t *testing.T) {
	_, result := runVM(t, `
		var sum = 0;
		for (var i = 0; i < 10; i = i + 1) {
			if (i == 5) { break; }
			if (i % 2 == 0) { continue; }
			sum = sum + i;
		}
		sum;
	`)
	// 1 + 3 = 4 (0,2,4 skipped by continue; loop stops before 5..9)
	if result.AsNumber() != 4 {
		t.Errorf("sum = %v, want 4", result.AsNumber())
	}
}

func TestSequentialLoopsReuseVariableName(t *testing.T) {
	_, result := runVM(t, `
		fn sums() {
			var total = 0;
			for (var i = 0; i < 3; i = i + 1) { total = total + i; }
			for (var i = 0; i < 3; i = i + 1) { total = total + i; }
			return total;
		}
		sums();
	`)
	if result.AsNumber() != 6 {
		t.Errorf("sums() = %v, want 6", result.AsNumber())
	}
}

func TestForInArray(t *testing.T) {
	_, result := runVM(t, `
		var total = 0;
		for (x in [1, 2, 3]) {
			total = total + x;
		}
		total;
	`)
	if result.AsNumber() != 6 {
		t.Errorf("total = %v, want 6", result.AsNumber())
	}
}

func TestClosuresCaptureFreeVariables(t *testing.T) {
	_, result := runVM(t, `
		fn makeAdder(x) {
			return fn(y) { return x + y; };
		}
		var addFive = makeAdder(5);
		addFive(10);
	`)
	if result.AsNumber() != 15 {
		t.Errorf("addFive(10) = %v, want 15", result.AsNumber())
	}
}

func TestRecursionViaCurrentFunction(t *testing.T) {
	_, result := runVM(t, `const f = fn(x){ if (x==0) return 0; return f(x-1); }; f(3);`)
	if result.AsNumber() != 0 {
		t.Errorf("f(3) = %v, want 0", result.AsNumber())
	}
}

func TestImmediatelyInvokedClosure(t *testing.T) {
	_, result := runVM(t, `const newAdder = fn(a){ return fn(b){ return a+b; }; }; newAdder(5)(7);`)
	if result.AsNumber() != 12 {
		t.Errorf("newAdder(5)(7) = %v, want 12", result.AsNumber())
	}
}

func TestRecursion(t *testing.T) {
	_, result := runVM(t, `
		fn fact(n) {
			if (n == 0) { return 1; }
			return n * fact(n - 1);
		}
		fact(5);
	`)
	if result.AsNumber() != 120 {
		t.Errorf("fact(5) = %v, want 120", result.AsNumber())
	}
}

func TestRecoverCatchesUserError(t *testing.T) {
	machine, result := runVM(t, `
		fn guarded() {
			recover (e) {
				return e;
			}
			error("boom");
			return null;
		}
		guarded();
	`)
	if len(machine.Errors()) != 0 {
		t.Errorf("recovered error leaked into Errors(): %v", machine.Errors())
	}
	if result.Kind() != object.KindError {
		t.Fatalf("result.Kind() = %v, want KindError (the recovered error value)", result.Kind())
	}
	e := machine.Heap().GetError(result)
	if e.ErrKind != object.UserErrorKind {
		t.Errorf("ErrKind = %v, want UserErrorKind", e.ErrKind)
	}
	if e.Message != "boom" {
		t.Errorf("Message = %q, want %q", e.Message, "boom")
	}
}

func TestRecoverUnwindsNestedCalls(t *testing.T) {
	machine, result := runVM(t, `
		fn inner() {
			error("deep");
			return null;
		}
		fn outer() {
			recover (e) {
				return "caught";
			}
			inner();
			return "unreached";
		}
		outer();
	`)
	if len(machine.Errors()) != 0 {
		t.Errorf("recovered error leaked into Errors(): %v", machine.Errors())
	}
	if result.Kind() != object.KindString || machine.Heap().GetString(result).Data != "caught" {
		t.Errorf("result = %v, want the string \"caught\"", result)
	}
}

func TestUnrecoveredRuntimeErrorIsReported(t *testing.T) {
	machine, _ := runVM(t, `1 + "x";`)
	if len(machine.Errors()) != 1 {
		t.Fatalf("got %d errors, want 1", len(machine.Errors()))
	}
	e := machine.Heap().GetError(machine.Errors()[0])
	if e.ErrKind != object.RuntimeErrorKind {
		t.Errorf("ErrKind = %v, want RuntimeErrorKind", e.ErrKind)
	}
}

func TestArrayAndMapIndexing(t *testing.T) {
	_, result := runVM(t, `
		var arr = [10, 20, 30];
		var m = {"a": 1, "b": 2};
		arr[1] + m["b"];
	`)
	if result.AsNumber() != 22 {
		t.Errorf("got %v, want 22", result.AsNumber())
	}
}

func TestBuiltinLen(t *testing.T) {
	_, result := runVM(t, `len([1, 2, 3]);`)
	if result.AsNumber() != 3 {
		t.Errorf("len([1,2,3]) = %v, want 3", result.AsNumber())
	}
}

func TestCallInvokesFunctionValueDirectly(t *testing.T) {
	l := lexer.New(`fn add(a, b) { return a + b; }`)
	p := parser.New(l)
	program := p.ParseProgram()

	heap := object.NewHeap(object.NewDefaultAllocator())
	comp := compiler.New(heap)
	comp.Compile(program)
	bytecode := comp.Bytecode()

	machine := New(heap, bytecode)
	if err := machine.Run(); err != nil {
		t.Fatalf("Run(): %v", err)
	}

	sym, ok := comp.SymbolTable().Resolve("add")
	if !ok {
		t.Fatal("add not found in symbol table")
	}
	fnValue := machine.globals[sym.Index]

	result, err := machine.Call(fnValue, []object.Value{object.Number(2), object.Number(3)})
	if err != nil {
		t.Fatalf("Call(): %v", err)
	}
	if result.AsNumber() != 5 {
		t.Errorf("Call(add, 2, 3) = %v, want 5", result.AsNumber())
	}
}

func TestTimeoutTerminatesRunawayLoop(t *testing.T) {
	l := lexer.New(`while (true) {}`)
	p := parser.New(l)
	program := p.ParseProgram()

	heap := object.NewHeap(object.NewDefaultAllocator())
	comp := compiler.New(heap)
	comp.Compile(program)

	machine := New(heap, comp.Bytecode())
	machine.SetTimeout(10 * time.Millisecond)
	if err := machine.Run(); err != nil {
		t.Fatalf("Run(): %v", err)
	}
	if machine.state != TimedOut {
		t.Errorf("state = %v, want TimedOut", machine.state)
	}
}

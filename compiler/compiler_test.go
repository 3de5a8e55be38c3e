package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dr8co/ape/ast"
	"github.com/dr8co/ape/code"
	"github.com/dr8co/ape/lexer"
	"github.com/dr8co/ape/object"
	"github.com/dr8co/ape/parser"
)

type compilerTestCase struct {
	input             string
	expectedConstants []any
	expectedInstr     []code.Instructions
}

func parse(input string) *ast.Program {
	l := lexer.New(input)
	p := parser.New(l)
	return p.ParseProgram()
}

func concat(instrs []code.Instructions) code.Instructions {
	var out code.Instructions
	for _, i := range instrs {
		out = append(out, i...)
	}
	return out
}

func runCompilerTests(t *testing.T, tests []compilerTestCase) {
	t.Helper()
	for _, tt := range tests {
		program := parse(tt.input)
		comp := New(object.NewHeap(object.NewDefaultAllocator()))
		comp.Compile(program)
		if errs := comp.Errors(); len(errs) > 0 {
			t.Fatalf("compiling %q: unexpected errors: %v", tt.input, errs)
		}
		bytecode := comp.Bytecode()

		want := concat(tt.expectedInstr)
		if string(bytecode.Instructions) != string(want) {
			t.Errorf("%q: instructions =\n%s\nwant\n%s", tt.input, bytecode.Instructions, want)
		}
		if len(bytecode.Constants) != len(tt.expectedConstants) {
			t.Fatalf("%q: got %d constants, want %d", tt.input, len(bytecode.Constants), len(tt.expectedConstants))
		}
		for i, want := range tt.expectedConstants {
			switch want := want.(type) {
			case float64:
				if bytecode.Constants[i].AsNumber() != want {
					t.Errorf("%q: constant %d = %v, want %v", tt.input, i, bytecode.Constants[i].AsNumber(), want)
				}
			case string:
				heap := comp.heap
				if got := heap.GetString(bytecode.Constants[i]).Data; got != want {
					t.Errorf("%q: constant %d = %q, want %q", tt.input, i, got, want)
				}
			default:
				t.Fatalf("unsupported expected constant type %T", want)
			}
		}
	}
}

// Small integer literals compile to OpNumber immediates; only numbers that
// do not round-trip through int32 go through the constants pool.
func TestIntegerArithmetic(t *testing.T) {
	tests := []compilerTestCase{
		{
			input:             "1 + 2;",
			expectedConstants: []any{},
			expectedInstr: []code.Instructions{
				code.Make(code.OpNumber, 1),
				code.Make(code.OpNumber, 2),
				code.Make(code.OpAdd),
				code.Make(code.OpPop),
			},
		},
		{
			input:             "1; 2;",
			expectedConstants: []any{},
			expectedInstr: []code.Instructions{
				code.Make(code.OpNumber, 1),
				code.Make(code.OpPop),
				code.Make(code.OpNumber, 2),
				code.Make(code.OpPop),
			},
		},
	}
	runCompilerTests(t, tests)
}

func TestNonIntegralNumbersUseConstantsPool(t *testing.T) {
	tests := []compilerTestCase{
		{
			input:             "1.5 + 1.5 + 2.25;",
			expectedConstants: []any{float64(1.5), float64(2.25)},
			expectedInstr: []code.Instructions{
				code.Make(code.OpConstant, 0),
				code.Make(code.OpConstant, 0),
				code.Make(code.OpAdd),
				code.Make(code.OpConstant, 1),
				code.Make(code.OpAdd),
				code.Make(code.OpPop),
			},
		},
	}
	runCompilerTests(t, tests)
}

// TestLessThanIsLoweredAsSwappedGreaterThan checks the required
// compile-time lowering: `a < b` compiles as `b > a` so the VM only needs
// one comparison direction. Non-integral operands make the swapped
// constant emission order visible in the pool itself.
func TestLessThanIsLoweredAsSwappedGreaterThan(t *testing.T) {
	tests := []compilerTestCase{
		{
			input:             "1 < 2;",
			expectedConstants: []any{},
			expectedInstr: []code.Instructions{
				code.Make(code.OpNumber, 2),
				code.Make(code.OpNumber, 1),
				code.Make(code.OpGreaterThan),
				code.Make(code.OpPop),
			},
		},
		{
			input:             "1.5 <= 2.5;",
			expectedConstants: []any{float64(2.5), float64(1.5)},
			expectedInstr: []code.Instructions{
				code.Make(code.OpConstant, 0),
				code.Make(code.OpConstant, 1),
				code.Make(code.OpGreaterThanEqual),
				code.Make(code.OpPop),
			},
		},
	}
	runCompilerTests(t, tests)
}

func TestGlobalVarStatements(t *testing.T) {
	tests := []compilerTestCase{
		{
			input:             "var one = 1; var two = 2;",
			expectedConstants: []any{},
			expectedInstr: []code.Instructions{
				code.Make(code.OpNumber, 1),
				code.Make(code.OpSetGlobal, 0),
				code.Make(code.OpNumber, 2),
				code.Make(code.OpSetGlobal, 1),
			},
		},
		{
			input:             "var one = 1; one;",
			expectedConstants: []any{},
			expectedInstr: []code.Instructions{
				code.Make(code.OpNumber, 1),
				code.Make(code.OpSetGlobal, 0),
				code.Make(code.OpGetGlobal, 0),
				code.Make(code.OpPop),
			},
		},
	}
	runCompilerTests(t, tests)
}

func TestStringConstantsDeduplicate(t *testing.T) {
	tests := []compilerTestCase{
		{
			input:             `"ape"; "ape";`,
			expectedConstants: []any{"ape"},
			expectedInstr: []code.Instructions{
				code.Make(code.OpConstant, 0),
				code.Make(code.OpPop),
				code.Make(code.OpConstant, 0),
				code.Make(code.OpPop),
			},
		},
	}
	runCompilerTests(t, tests)
}

func TestAssignmentLeavesValueOnStack(t *testing.T) {
	input := "var x = 0; x = 5;"
	program := parse(input)
	comp := New(object.NewHeap(object.NewDefaultAllocator()))
	comp.Compile(program)
	if errs := comp.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	bytecode := comp.Bytecode()

	want := concat([]code.Instructions{
		code.Make(code.OpNumber, 0),
		code.Make(code.OpSetGlobal, 0),
		code.Make(code.OpNumber, 5),
		code.Make(code.OpDup),
		code.Make(code.OpSetGlobal, 0),
		code.Make(code.OpPop),
	})
	if string(bytecode.Instructions) != string(want) {
		t.Errorf("instructions =\n%s\nwant\n%s", bytecode.Instructions, want)
	}
}

func TestCompileErrorsReportPosition(t *testing.T) {
	program := parse("var x = y;")
	comp := New(object.NewHeap(object.NewDefaultAllocator()))
	comp.Compile(program)
	errs := comp.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if errs[0].Line == 0 {
		t.Errorf("CompileError.Line unset, want a 1-based line number")
	}
}

func TestNewModuleSharesSymbolTableAndConstants(t *testing.T) {
	heap := object.NewHeap(object.NewDefaultAllocator())
	table := NewModuleSymbolTable()
	for i, b := range object.Builtins {
		table.DefineBuiltin(i, b.Name)
	}

	first := NewModule(heap, table, nil)
	first.Compile(parse(`var x = "a";`))
	if errs := first.Errors(); len(errs) > 0 {
		t.Fatalf("first compile: %v", errs)
	}
	bc1 := first.Bytecode()

	second := NewModule(heap, first.SymbolTable(), bc1.Constants)
	second.Compile(parse(`x + "b";`))
	if errs := second.Errors(); len(errs) > 0 {
		t.Fatalf("second compile: %v", errs)
	}
	bc2 := second.Bytecode()

	if len(bc2.Constants) <= len(bc1.Constants) {
		t.Errorf("second compile's constants pool did not grow: got %d, had %d", len(bc2.Constants), len(bc1.Constants))
	}

	sym, ok := second.SymbolTable().Resolve("x")
	if !ok || sym.Scope != ModuleGlobalScope {
		t.Errorf("Resolve(x) = %v, %v, want ModuleGlobalScope symbol", sym, ok)
	}
}

// Loop variables live in a block scope: sequential loops may reuse the
// same name, while redeclaring within one scope stays an error.
func TestLoopVariablesAreBlockScoped(t *testing.T) {
	valid := []string{
		"for (var i = 0; i < 3; i = i + 1) {} for (var i = 0; i < 3; i = i + 1) {}",
		"for (x in [1, 2]) {} for (x in [3, 4]) {}",
		"fn f() { for (var i = 0; i < 3; i = i + 1) {} for (var i = 0; i < 3; i = i + 1) {} return null; }",
		"{ var a = 1; } { var a = 2; }",
	}
	for _, input := range valid {
		comp := New(object.NewHeap(object.NewDefaultAllocator()))
		comp.Compile(parse(input))
		if errs := comp.Errors(); len(errs) > 0 {
			t.Errorf("%q: unexpected errors: %v", input, errs)
		}
	}

	comp := New(object.NewHeap(object.NewDefaultAllocator()))
	comp.Compile(parse("{ var a = 1; var a = 2; }"))
	if len(comp.Errors()) == 0 {
		t.Error("redeclaration inside one block should still be an error")
	}
}

func TestRecoverPlacementIsChecked(t *testing.T) {
	tests := []struct {
		input   string
		wantErr string
	}{
		{
			input:   `recover (e) { return null; }`,
			wantErr: "outside of a function",
		},
		{
			input:   `fn f() { recover (e) { var x = 1; } return 2; }`,
			wantErr: "must end with a return",
		},
	}
	for _, tt := range tests {
		comp := New(object.NewHeap(object.NewDefaultAllocator()))
		comp.Compile(parse(tt.input))
		errs := comp.Errors()
		if len(errs) == 0 {
			t.Fatalf("%q: expected a compile error containing %q, got none", tt.input, tt.wantErr)
		}
		if !strings.Contains(errs[0].Message, tt.wantErr) {
			t.Errorf("%q: error = %q, want it to contain %q", tt.input, errs[0].Message, tt.wantErr)
		}
	}
}

func TestRedeclaringConstIsAnError(t *testing.T) {
	program := parse("const x = 1; const x = 2;")
	comp := New(object.NewHeap(object.NewDefaultAllocator()))
	comp.Compile(program)
	if len(comp.Errors()) == 0 {
		t.Fatal("expected a redeclaration error, got none")
	}
}

func TestAssigningToConstIsAnError(t *testing.T) {
	inputs := []string{
		"const x = 1; x = 2;",
		"const x = 1; x += 1;",
		"const x = 1; x++;",
		"fn f() { const y = 1; y = 2; return y; }",
	}
	for _, input := range inputs {
		comp := New(object.NewHeap(object.NewDefaultAllocator()))
		comp.Compile(parse(input))
		if len(comp.Errors()) == 0 {
			t.Errorf("%q: expected a const-assignment error, got none", input)
		}
	}
}

func ExampleMake() {
	instr := code.Make(code.OpConstant, 65534)
	fmt.Println(len(instr))
	// Output: 3
}

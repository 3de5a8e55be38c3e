// Package ape is the embedding façade: a single stable surface over the
// compiler, virtual machine and heap that a host program links against
// instead of wiring those packages together itself.
//
// A host creates one [Ape] instance, registers native functions and global
// constants against it, compiles and executes source text or files, and
// inspects results and errors through the typed accessors below. One Ape
// instance owns one heap; Values produced by one instance are not valid on
// another.
package ape

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dr8co/ape/code"
	"github.com/dr8co/ape/compiler"
	"github.com/dr8co/ape/lexer"
	"github.com/dr8co/ape/object"
	"github.com/dr8co/ape/parser"
	"github.com/dr8co/ape/vm"
)

// Ape is one embeddable script engine instance: a heap, a persistent global
// symbol table and globals array (so successive Compile/Execute calls share
// bindings the way a REPL session does), and the host-configurable bits
// (allocator, timeout, stdout hook) every compile/run honors.
type Ape struct {
	heap *object.Heap

	symbolTable *compiler.SymbolTable
	constants   []object.Value
	globals     []object.Value

	replMode bool
	timeout  time.Duration
	stdout   io.Writer

	errors []object.Value
}

// Option configures an [Ape] at construction time.
type Option func(*Ape)

// WithAllocator installs a custom (malloc, free, ctx) triple, used by tests
// exercising allocation-failure resilience and leak accounting.
func WithAllocator(alloc object.Allocator) Option {
	return func(a *Ape) { a.heap = object.NewHeap(alloc) }
}

// WithTimeout bounds total script execution time; zero (the default)
// disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(a *Ape) { a.timeout = d }
}

// WithStdout sets the writer the `print`/`println` builtins write to. The
// default is io.Discard.
func WithStdout(w io.Writer) Option {
	return func(a *Ape) { a.stdout = w }
}

// New creates an Ape instance with a fresh heap, an empty global scope
// (pre-populated with the builtin function table), and the given options
// applied in order.
func New(opts ...Option) *Ape {
	a := &Ape{
		heap:        object.NewHeap(object.NewDefaultAllocator()),
		symbolTable: compiler.NewModuleSymbolTable(),
		globals:     make([]object.Value, vm.GlobalsSize),
		stdout:      io.Discard,
	}
	for i, b := range object.Builtins {
		a.symbolTable.DefineBuiltin(i, b.Name)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Destroy runs a final full collection, releasing every object still live
// (including any ExternalData destructors). The instance must not be used
// afterward.
func (a *Ape) Destroy() { a.heap.Destroy() }

// SetReplMode toggles REPL mode. In REPL mode each top-level input is
// compiled and run independently against the same persistent globals, and
// Execute's return value is always that input's last popped expression
// result, matching an interactive session's "show me what that evaluated
// to" expectation; the stack-returns-to-base invariant this relies on holds
// unconditionally (every ExpressionStatement already compiles down to an
// evaluate-then-OpPop pair), so the flag only affects how a host chooses to
// read Execute's result, not the bytecode emitted.
func (a *Ape) SetReplMode(enabled bool) { a.replMode = enabled }

// ReplMode reports the current REPL-mode setting.
func (a *Ape) ReplMode() bool { return a.replMode }

// SetTimeout bounds total execution time in seconds; zero or negative
// disables the limit. Always returns true: a wall-clock is always available
// through the standard library on every platform this module targets.
func (a *Ape) SetTimeout(seconds float64) bool {
	if seconds <= 0 {
		a.timeout = 0
	} else {
		a.timeout = time.Duration(seconds * float64(time.Second))
	}
	return true
}

// WriteFunc is a host-supplied stdout sink: write data (of the given
// length) associated with ctx, and report how many bytes were consumed.
type WriteFunc func(ctx any, data []byte) int

type writeFuncWriter struct {
	fn  WriteFunc
	ctx any
}

func (w *writeFuncWriter) Write(p []byte) (int, error) {
	return w.fn(w.ctx, p), nil
}

// SetStdoutWriteFunction installs fn as the sink for `print`/`println`
// output, called with the given ctx on every write.
func (a *Ape) SetStdoutWriteFunction(fn WriteFunc, ctx any) {
	a.stdout = &writeFuncWriter{fn: fn, ctx: ctx}
}

// Heap exposes the instance's heap, for callers building values with the
// object package's constructors directly (e.g. inside a NativeFn).
func (a *Ape) Heap() *object.Heap { return a.heap }

// SetNativeFunction registers fn as a global, callable-by-name host
// function. It is defined as an (unassignable) constant global, the same
// as a `const` declaration, so script code cannot shadow it by accident.
func (a *Ape) SetNativeFunction(name string, fn object.NativeFn, hostData any) error {
	v, err := a.heap.NewNative(name, fn, hostData)
	if err != nil {
		return fmt.Errorf("ape: registering native function %q: %w", name, err)
	}
	sym, err := a.symbolTable.Define(name, true)
	if err != nil {
		return fmt.Errorf("ape: registering native function %q: %w", name, err)
	}
	a.globals[sym.Index] = v
	return nil
}

// SetGlobalConstant binds name to value as a global constant, visible to
// every program subsequently compiled against this instance.
func (a *Ape) SetGlobalConstant(name string, value object.Value) error {
	sym, err := a.symbolTable.Define(name, true)
	if err != nil {
		return fmt.Errorf("ape: defining global constant %q: %w", name, err)
	}
	a.globals[sym.Index] = value
	return nil
}

// GetObject looks up a global binding by name (a user `var`/`const`, a
// registered native function, or a global constant). ok is false if name is
// not bound at global scope.
func (a *Ape) GetObject(name string) (object.Value, bool) {
	sym, ok := a.symbolTable.Resolve(name)
	if !ok {
		return object.Null, false
	}
	switch sym.Scope {
	case compiler.GlobalScope, compiler.ModuleGlobalScope:
		return a.globals[sym.Index], true
	default:
		return object.Null, false
	}
}

// Program is the compiled output of [Ape.Compile]: an opaque bytecode
// program that may be run, possibly more than once, against the Ape
// instance that compiled it via [Ape.ExecuteProgram].
type Program struct {
	result *compiler.CompilationResult
}

// Disassemble renders the program's instructions for debugging.
func (p *Program) Disassemble() string { return p.result.Instructions.String() }

func (a *Ape) newError(kind object.ErrorKind, msg string, pos code.Pos) object.Value {
	v, err := a.heap.NewError(kind, msg, pos, nil)
	if err != nil {
		// The allocator refused even the error object itself; nothing more
		// can be reported through the normal error list.
		return object.Null
	}
	return v
}

// Compile parses and compiles source, returning an executable [Program].
// Parse and compile errors are recorded (see [Ape.HasErrors]) and returned
// as a combined error. A parse error leaves all state unchanged. A compile
// error leaves the constants pool unchanged, but the shared symbol table is
// not rolled back: names the failed source declared before the error stay
// defined (with no value stored in their globals slots).
func (a *Ape) Compile(source string) (*Program, error) {
	a.errors = nil

	l := lexer.NewWithFile(source, "<ape>")
	p := parser.New(l)
	astProgram := p.ParseProgram()

	if perrs := p.Errors(); len(perrs) > 0 {
		for _, e := range perrs {
			a.errors = append(a.errors, a.newError(object.ParseErrorKind, e.Message, code.Pos{File: e.File, Line: e.Line, Column: e.Column}))
		}
		return nil, fmt.Errorf("ape: %d parse error(s), first: %s", len(perrs), perrs[0])
	}

	comp := compiler.NewModule(a.heap, a.symbolTable, a.constants)
	comp.Compile(astProgram)

	if cerrs := comp.Errors(); len(cerrs) > 0 {
		for _, e := range cerrs {
			a.errors = append(a.errors, a.newError(object.CompileErrorKind, e.Message, code.Pos{File: e.File, Line: e.Line, Column: e.Column}))
		}
		return nil, fmt.Errorf("ape: %d compile error(s), first: %s", len(cerrs), cerrs[0])
	}

	result := comp.Bytecode()
	a.symbolTable = comp.SymbolTable()
	a.constants = result.Constants

	return &Program{result: result}, nil
}

// newRunner builds a VM sharing this instance's heap, persistent globals
// and current constants pool, configured with the instance's timeout and
// stdout hook.
func (a *Ape) newRunner(result *compiler.CompilationResult) *vm.VM {
	if result == nil {
		result = &compiler.CompilationResult{Constants: a.constants}
	}
	machine := vm.NewWithGlobalsStore(a.heap, result, a.globals)
	machine.SetTimeout(a.timeout)
	machine.SetStdout(a.stdout)
	return machine
}

// ExecuteProgram runs a previously compiled Program to completion, and may
// be called more than once (each run starts a fresh frame/value stack, but
// sees the globals left behind by any prior run). The returned Value is the
// last value popped at top level.
func (a *Ape) ExecuteProgram(p *Program) (object.Value, error) {
	a.errors = nil
	machine := a.newRunner(p.result)
	if err := machine.Run(); err != nil {
		return object.Null, err
	}
	a.errors = append(a.errors, machine.Errors()...)
	return machine.LastPoppedStackElem(), nil
}

// Execute compiles and runs source in one step.
func (a *Ape) Execute(source string) (object.Value, error) {
	p, err := a.Compile(source)
	if err != nil {
		return object.Null, err
	}
	return a.ExecuteProgram(p)
}

// ExecuteFile reads path and executes its contents.
func (a *Ape) ExecuteFile(path string) (object.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return object.Null, fmt.Errorf("ape: reading %s: %w", path, err)
	}
	return a.Execute(string(data))
}

// Call invokes the global function bound to name with args, the way a
// script-level call expression would. name must resolve to a Function or
// NativeFunction value.
func (a *Ape) Call(name string, args ...object.Value) (object.Value, error) {
	fnValue, ok := a.GetObject(name)
	if !ok {
		return object.Null, fmt.Errorf("ape: no such global function %q", name)
	}
	return a.CallValue(fnValue, args)
}

// CallValue invokes fnValue (typically obtained from [Ape.GetObject] or
// from inside a native function's own arguments) with args.
func (a *Ape) CallValue(fnValue object.Value, args []object.Value) (object.Value, error) {
	a.errors = nil
	machine := a.newRunner(nil)
	result, err := machine.Call(fnValue, args)
	a.errors = append(a.errors, machine.Errors()...)
	return result, err
}

// HasErrors reports whether the most recent Compile/Execute/Call recorded
// any error.
func (a *Ape) HasErrors() bool { return len(a.errors) > 0 }

// ErrorsCount returns the number of errors recorded by the most recent
// Compile/Execute/Call.
func (a *Ape) ErrorsCount() int { return len(a.errors) }

// GetError dereferences the i-th recorded error.
func (a *Ape) GetError(i int) *object.ErrorObj {
	return a.heap.GetError(a.errors[i])
}

// ErrorSerialize renders e as a multi-line, human-readable report.
func (a *Ape) ErrorSerialize(e *object.ErrorObj) string { return e.Serialize() }

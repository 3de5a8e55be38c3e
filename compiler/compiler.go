// Package compiler turns an Ape AST into bytecode the virtual machine can
// execute.
//
// Compilation is a single recursive walk over the AST that emits
// instructions into the current [CompilationScope], resolves names through
// a stack of [SymbolTable]s, and threads a parallel source-position
// sequence alongside every emitted byte. Functions open a nested scope;
// closures capture their free variables by emitting GET_LOCAL/GET_FREE
// loads in the enclosing scope immediately before FUNCTION.
package compiler

import (
	"fmt"

	"github.com/dr8co/ape/ast"
	"github.com/dr8co/ape/code"
	"github.com/dr8co/ape/object"
	"github.com/dr8co/ape/token"
)

// CompileError is a single compile-time error, carrying the source position
// it was detected at.
type CompileError struct {
	Message string
	File    string
	Line    int
	Column  int
}

func (e CompileError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// EmittedInstruction records an instruction's opcode and byte offset, used
// by the peephole logic that rewrites a trailing expression statement into
// an implicit return.
type EmittedInstruction struct {
	Opcode   code.Opcode
	Position int
}

// CompilationScope is one nested bytecode buffer: the module/program level,
// or a single function body.
type CompilationScope struct {
	instructions code.Instructions
	positions    code.Positions

	lastInstruction     EmittedInstruction
	previousInstruction EmittedInstruction

	usedCurrentFunction bool
}

// loopContext tracks the break/continue jump placeholders of one enclosing
// loop, patched once the loop's end and continuation point are known.
type loopContext struct {
	breaks         []int
	continues      []int
	continueTarget int
}

// CompilationResult is the compiler's output: a flat instruction stream, a
// position parallel to every byte, and the constants pool it references.
type CompilationResult struct {
	Instructions code.Instructions
	Positions    code.Positions
	Constants    []object.Value
}

// Compiler walks an AST and produces a [CompilationResult]. A Compiler
// shares its heap with the VM that will run its output, since string and
// function constants are heap-allocated at compile time.
type Compiler struct {
	heap *object.Heap

	constants []object.Value

	numberConstIdx map[float64]int
	stringConstIdx map[string]int

	symbolTable *SymbolTable

	scopes     []CompilationScope
	scopeIndex int

	loops []*loopContext

	errors []CompileError

	hiddenNameSeq int
}

// New creates a Compiler with a fresh global symbol table, allocating
// string and function constants on the given heap.
func New(heap *object.Heap) *Compiler {
	c := &Compiler{
		heap:           heap,
		numberConstIdx: make(map[float64]int),
		stringConstIdx: make(map[string]int),
		symbolTable:    NewSymbolTable(),
		scopes:         []CompilationScope{{}},
	}
	for i, b := range object.Builtins {
		c.symbolTable.DefineBuiltin(i, b.Name)
	}
	return c
}

// NewModule creates a Compiler whose top-level symbol table tags its
// definitions ModuleGlobalScope, for a program compiled and run against an
// already-live VM's global array (execute_program).
func NewModule(heap *object.Heap, symbolTable *SymbolTable, constants []object.Value) *Compiler {
	c := New(heap)
	c.symbolTable = symbolTable
	c.constants = constants
	for i, v := range constants {
		if v.Kind() == object.KindString {
			c.stringConstIdx[heap.GetString(v).Data] = i
		}
	}
	return c
}

// Errors returns the compile-time errors accumulated so far.
func (c *Compiler) Errors() []CompileError { return c.errors }

func (c *Compiler) errorf(tok token.Token, format string, args ...any) {
	c.errors = append(c.errors, CompileError{
		Message: fmt.Sprintf(format, args...),
		File:    tok.File, Line: tok.Line, Column: tok.Column,
	})
}

// Compile walks node, emitting into the current scope. Errors are
// accumulated rather than aborting the walk, so one bad statement does not
// prevent the rest of a program from being checked.
func (c *Compiler) Compile(node ast.Node) {
	switch n := node.(type) {
	case *ast.Program:
		for _, s := range n.Statements {
			c.Compile(s)
		}

	case *ast.ExpressionStatement:
		if n.Expression == nil {
			return
		}
		c.Compile(n.Expression)
		c.emit(n.Token, code.OpPop)

	case *ast.BlockStatement:
		c.enterBlock()
		for _, s := range n.Statements {
			c.Compile(s)
		}
		c.leaveBlock()

	case *ast.VarStatement:
		c.compileVarStatement(n)

	case *ast.ReturnStatement:
		if n.ReturnValue != nil {
			c.Compile(n.ReturnValue)
			c.emit(n.Token, code.OpReturnValue)
		} else {
			c.emit(n.Token, code.OpReturn)
		}

	case *ast.BreakStatement:
		c.compileBreak(n.Token)

	case *ast.ContinueStatement:
		c.compileContinue(n.Token)

	case *ast.WhileStatement:
		c.compileWhile(n)

	case *ast.ForStatement:
		c.compileFor(n)

	case *ast.ForEachStatement:
		c.compileForEach(n)

	case *ast.RecoverStatement:
		c.compileRecover(n)

	case *ast.Identifier:
		c.compileIdentifier(n)

	case *ast.NumberLiteral:
		c.compileNumberLiteral(n)

	case *ast.Boolean:
		if n.Value {
			c.emit(n.Token, code.OpTrue)
		} else {
			c.emit(n.Token, code.OpFalse)
		}

	case *ast.NullLiteral:
		c.emit(n.Token, code.OpNull)

	case *ast.StringLiteral:
		idx := c.addStringConstant(n.Value)
		c.emit(n.Token, code.OpConstant, idx)

	case *ast.PrefixExpression:
		c.Compile(n.Right)
		switch n.Operator {
		case "-":
			c.emit(n.Token, code.OpMinus)
		case "!":
			c.emit(n.Token, code.OpBang)
		default:
			c.errorf(n.Token, "unknown prefix operator %s", n.Operator)
		}

	case *ast.InfixExpression:
		c.compileInfix(n)

	case *ast.PostfixExpression:
		c.compilePostfix(n)

	case *ast.AssignExpression:
		c.compileAssign(n)

	case *ast.IfExpression:
		c.compileIf(n)

	case *ast.FunctionLiteral:
		c.compileFunctionLiteral(n)

	case *ast.CallExpression:
		c.Compile(n.Function)
		for _, a := range n.Arguments {
			c.Compile(a)
		}
		c.emit(n.Token, code.OpCall, len(n.Arguments))

	case *ast.ArrayLiteral:
		for _, e := range n.Elements {
			c.Compile(e)
		}
		c.emit(n.Token, code.OpArray, len(n.Elements))

	case *ast.MapLiteral:
		for i, k := range n.Keys {
			c.Compile(k)
			c.Compile(n.Values[i])
		}
		c.emit(n.Token, code.OpMap, len(n.Keys)*2)

	case *ast.IndexExpression:
		c.Compile(n.Left)
		c.Compile(n.Index)
		c.emit(n.Token, code.OpGetIndex)

	case *ast.DotExpression:
		c.Compile(n.Left)
		idx := c.addStringConstant(n.Name)
		c.emit(n.Token, code.OpConstant, idx)
		c.emit(n.Token, code.OpGetIndex)

	default:
		if node != nil {
			c.errorf(token.Token{}, "compiler: unhandled node type %T", node)
		}
	}
}

func (c *Compiler) compileVarStatement(n *ast.VarStatement) {
	symbol, err := c.symbolTable.Define(n.Name.Value, n.Const)
	if err != nil {
		c.errorf(n.Token, "%s", err)
		c.Compile(n.Value)
		c.emit(n.Token, code.OpPop)
		return
	}

	c.Compile(n.Value)
	c.storeSymbol(n.Token, symbol)
}

func (c *Compiler) compileNumberLiteral(n *ast.NumberLiteral) {
	if imm, ok := code.NumberFitsImmediate(n.Value); ok {
		c.emit(n.Token, code.OpNumber, int(imm))
		return
	}
	idx := c.addNumberConstant(n.Value)
	c.emit(n.Token, code.OpConstant, idx)
}

func (c *Compiler) compileIdentifier(n *ast.Identifier) {
	symbol, ok := c.symbolTable.Resolve(n.Value)
	if !ok {
		c.errorf(n.Token, "unknown identifier %q", n.Value)
		c.emit(n.Token, code.OpNull)
		return
	}
	c.loadSymbol(n.Token, symbol)
}

func (c *Compiler) compileInfix(n *ast.InfixExpression) {
	switch n.Operator {
	case "<":
		c.Compile(n.Right)
		c.Compile(n.Left)
		c.emit(n.Token, code.OpGreaterThan)
		return
	case "<=":
		c.Compile(n.Right)
		c.Compile(n.Left)
		c.emit(n.Token, code.OpGreaterThanEqual)
		return
	case "&&":
		c.Compile(n.Left)
		c.emit(n.Token, code.OpDup)
		jumpPos := c.emit(n.Token, code.OpJumpIfFalse, 9999)
		c.emit(n.Token, code.OpPop)
		c.Compile(n.Right)
		c.changeOperand(jumpPos, len(c.currentInstructions()))
		return
	case "||":
		c.Compile(n.Left)
		c.emit(n.Token, code.OpDup)
		jumpPos := c.emit(n.Token, code.OpJumpIfTrue, 9999)
		c.emit(n.Token, code.OpPop)
		c.Compile(n.Right)
		c.changeOperand(jumpPos, len(c.currentInstructions()))
		return
	}

	c.Compile(n.Left)
	c.Compile(n.Right)
	switch n.Operator {
	case "+":
		c.emit(n.Token, code.OpAdd)
	case "-":
		c.emit(n.Token, code.OpSub)
	case "*":
		c.emit(n.Token, code.OpMul)
	case "/":
		c.emit(n.Token, code.OpDiv)
	case "%":
		c.emit(n.Token, code.OpMod)
	case "==":
		c.emit(n.Token, code.OpEqual)
	case "!=":
		c.emit(n.Token, code.OpNotEqual)
	case ">":
		c.emit(n.Token, code.OpGreaterThan)
	case ">=":
		c.emit(n.Token, code.OpGreaterThanEqual)
	default:
		c.errorf(n.Token, "unknown infix operator %s", n.Operator)
	}
}

// binaryOpcodeFor maps a compound-assignment/postfix operator to the
// opcode used for its read-modify-write lowering.
func binaryOpcodeFor(op string) (code.Opcode, bool) {
	switch op {
	case "+=", "++":
		return code.OpAdd, true
	case "-=", "--":
		return code.OpSub, true
	case "*=":
		return code.OpMul, true
	case "/=":
		return code.OpDiv, true
	default:
		return 0, false
	}
}

func (c *Compiler) compilePostfix(n *ast.PostfixExpression) {
	ident, ok := n.Operand.(*ast.Identifier)
	if !ok {
		c.errorf(n.Token, "invalid postfix target %s", n.Operand.String())
		return
	}
	symbol, ok := c.symbolTable.Resolve(ident.Value)
	if !ok {
		c.errorf(n.Token, "unknown identifier %q", ident.Value)
		return
	}
	if err := c.checkAssignable(symbol); err != nil {
		c.errorf(n.Token, "%s", err)
		return
	}
	op, _ := binaryOpcodeFor(n.Operator)

	c.loadSymbol(n.Token, symbol)  // [old]
	c.emit(n.Token, code.OpDup)    // [old, old]
	c.emit(n.Token, code.OpNumber, 1)
	c.emit(n.Token, op)            // [old, new]
	c.storeSymbol(n.Token, symbol) // pops "new", leaves [old]
}

func (c *Compiler) checkAssignable(symbol Symbol) error {
	if symbol.Const {
		return fmt.Errorf("cannot assign to const %q", symbol.Name)
	}
	switch symbol.Scope {
	case GlobalScope, LocalScope, ModuleGlobalScope:
		return nil
	default:
		return fmt.Errorf("cannot assign to %q", symbol.Name)
	}
}

func (c *Compiler) compileAssign(n *ast.AssignExpression) {
	switch target := n.Target.(type) {
	case *ast.Identifier:
		c.compileIdentifierAssign(n, target)
	case *ast.IndexExpression:
		c.compileContainerAssign(n, target.Left, target.Index, n.Token)
	case *ast.DotExpression:
		c.compileContainerAssign(n, target.Left, nil, n.Token, target.Name)
	default:
		c.errorf(n.Token, "invalid assignment target")
	}
}

func (c *Compiler) compileIdentifierAssign(n *ast.AssignExpression, target *ast.Identifier) {
	symbol, ok := c.symbolTable.Resolve(target.Value)
	if !ok {
		c.errorf(n.Token, "unknown identifier %q", target.Value)
		return
	}
	if err := c.checkAssignable(symbol); err != nil {
		c.errorf(n.Token, "%s", err)
		return
	}

	if n.Operator == "=" {
		c.Compile(n.Value)
	} else {
		op, _ := binaryOpcodeFor(n.Operator)
		c.loadSymbol(n.Token, symbol)
		c.Compile(n.Value)
		c.emit(n.Token, op)
	}
	c.emit(n.Token, code.OpDup)
	c.storeSymbol(n.Token, symbol)
}

// compileContainerAssign lowers `container[index] = value` and
// `container.field = value` (and their compound forms); field, when given,
// replaces index with a string constant (dot sugar). The container and
// index/field sub-expressions are re-evaluated for the read half of a
// compound assignment, observable only if they carry side effects.
func (c *Compiler) compileContainerAssign(n *ast.AssignExpression, container ast.Expression, index ast.Expression, tok token.Token, field ...string) {
	emitIndex := func() {
		if len(field) > 0 {
			idx := c.addStringConstant(field[0])
			c.emit(tok, code.OpConstant, idx)
		} else {
			c.Compile(index)
		}
	}

	if n.Operator == "=" {
		c.Compile(n.Value)
		c.emit(tok, code.OpDup)
		c.Compile(container)
		emitIndex()
		c.emit(tok, code.OpSetIndex)
		return
	}

	op, _ := binaryOpcodeFor(n.Operator)
	c.Compile(container)
	emitIndex()
	c.emit(tok, code.OpGetIndex)
	c.Compile(n.Value)
	c.emit(tok, op)
	c.emit(tok, code.OpDup)
	c.Compile(container)
	emitIndex()
	c.emit(tok, code.OpSetIndex)
}

func (c *Compiler) compileIf(n *ast.IfExpression) {
	c.Compile(n.Condition)
	jumpFalsePos := c.emit(n.Token, code.OpJumpIfFalse, 9999)

	c.Compile(n.Consequence)
	if c.lastInstructionIs(code.OpPop) {
		c.removeLastPop()
	} else {
		c.emit(n.Token, code.OpNull)
	}
	jumpEndPos := c.emit(n.Token, code.OpJump, 9999)

	c.changeOperand(jumpFalsePos, len(c.currentInstructions()))

	if n.Alternative != nil {
		c.Compile(n.Alternative)
		if c.lastInstructionIs(code.OpPop) {
			c.removeLastPop()
		} else {
			c.emit(n.Token, code.OpNull)
		}
	} else {
		c.emit(n.Token, code.OpNull)
	}

	c.changeOperand(jumpEndPos, len(c.currentInstructions()))
}

func (c *Compiler) pushLoop(continueTarget int) *loopContext {
	lc := &loopContext{continueTarget: continueTarget}
	c.loops = append(c.loops, lc)
	return lc
}

func (c *Compiler) popLoop() *loopContext {
	n := len(c.loops)
	lc := c.loops[n-1]
	c.loops = c.loops[:n-1]
	return lc
}

func (c *Compiler) compileBreak(tok token.Token) {
	if len(c.loops) == 0 {
		c.errorf(tok, "break outside of a loop")
		return
	}
	lc := c.loops[len(c.loops)-1]
	pos := c.emit(tok, code.OpJump, 9999)
	lc.breaks = append(lc.breaks, pos)
}

func (c *Compiler) compileContinue(tok token.Token) {
	if len(c.loops) == 0 {
		c.errorf(tok, "continue outside of a loop")
		return
	}
	lc := c.loops[len(c.loops)-1]
	pos := c.emit(tok, code.OpJump, 9999)
	lc.continues = append(lc.continues, pos)
}

func (c *Compiler) patchLoop(lc *loopContext, endPos int) {
	for _, pos := range lc.breaks {
		c.changeOperand(pos, endPos)
	}
	for _, pos := range lc.continues {
		c.changeOperand(pos, lc.continueTarget)
	}
}

func (c *Compiler) compileWhile(n *ast.WhileStatement) {
	conditionPos := len(c.currentInstructions())
	c.Compile(n.Condition)
	jumpFalsePos := c.emit(n.Token, code.OpJumpIfFalse, 9999)

	lc := c.pushLoop(conditionPos)
	c.Compile(n.Body)
	c.emit(n.Token, code.OpJump, conditionPos)

	endPos := len(c.currentInstructions())
	c.changeOperand(jumpFalsePos, endPos)
	c.popLoop()
	c.patchLoop(lc, endPos)
}

// compileFor lowers a C-style for loop. The init clause's declaration (and
// everything else it introduces) lives in a block scope spanning the whole
// loop, so successive loops can reuse `var i`.
func (c *Compiler) compileFor(n *ast.ForStatement) {
	c.enterBlock()
	defer c.leaveBlock()

	if n.Init != nil {
		c.Compile(n.Init)
	}

	conditionPos := len(c.currentInstructions())
	jumpFalsePos := -1
	if n.Condition != nil {
		c.Compile(n.Condition)
		jumpFalsePos = c.emit(n.Token, code.OpJumpIfFalse, 9999)
	}

	// The continue target is the update clause, whose position is not
	// known until after the body compiles; patchLoop runs once it is set.
	lc := c.pushLoop(0)
	c.Compile(n.Body)
	lc.continueTarget = len(c.currentInstructions())
	if n.Update != nil {
		c.Compile(n.Update)
	}
	c.emit(n.Token, code.OpJump, conditionPos)

	endPos := len(c.currentInstructions())
	if jumpFalsePos >= 0 {
		c.changeOperand(jumpFalsePos, endPos)
	}
	c.popLoop()
	c.patchLoop(lc, endPos)
}

func (c *Compiler) nextHiddenName(prefix string) string {
	c.hiddenNameSeq++
	return fmt.Sprintf("@%s#%d", prefix, c.hiddenNameSeq)
}

// compileForEach lowers `for (x in iterable) { body }` using two hidden
// bindings (an index counter and the iterable itself) walked with LEN and
// GET_VALUE_AT, since the language has no iterator protocol of its own.
func (c *Compiler) compileForEach(n *ast.ForEachStatement) {
	tok := n.Token
	c.enterBlock()
	defer c.leaveBlock()

	idxSym, _ := c.symbolTable.Define(c.nextHiddenName("idx"), false)
	c.emit(tok, code.OpNumber, 0)
	c.storeSymbol(tok, idxSym)

	srcSym, _ := c.symbolTable.Define(c.nextHiddenName("src"), false)
	c.Compile(n.Iterable)
	c.storeSymbol(tok, srcSym)

	loopVarSym, err := c.symbolTable.Define(n.Var.Value, false)
	if err != nil {
		c.errorf(tok, "%s", err)
		return
	}

	conditionPos := len(c.currentInstructions())
	c.loadSymbol(tok, srcSym)
	c.emit(tok, code.OpLen)
	c.loadSymbol(tok, idxSym)
	c.emit(tok, code.OpGreaterThan) // len > idx  <=>  idx < len
	jumpFalsePos := c.emit(tok, code.OpJumpIfFalse, 9999)

	c.loadSymbol(tok, srcSym)
	c.loadSymbol(tok, idxSym)
	c.emit(tok, code.OpGetValueAt)
	c.storeSymbol(tok, loopVarSym)

	lc := c.pushLoop(0)
	c.Compile(n.Body)

	lc.continueTarget = len(c.currentInstructions())
	c.loadSymbol(tok, idxSym)
	c.emit(tok, code.OpNumber, 1)
	c.emit(tok, code.OpAdd)
	c.storeSymbol(tok, idxSym)
	c.emit(tok, code.OpJump, conditionPos)

	endPos := len(c.currentInstructions())
	c.changeOperand(jumpFalsePos, endPos)
	c.popLoop()
	c.patchLoop(lc, endPos)
}

// compileRecover installs a handler for the remainder of the enclosing
// function: a runtime/user error raised later in this frame transfers
// control to n.Body with the error value bound to n.Param. The body must
// end with a return statement, so a handled error always leaves the frame
// instead of falling through into the code that raised it; during normal
// (non-erroring) flow, execution jumps straight over the handler body.
func (c *Compiler) compileRecover(n *ast.RecoverStatement) {
	if c.scopeIndex == 0 {
		c.errorf(n.Token, "recover statement cannot be defined outside of a function")
		return
	}
	if !blockEndsWithReturn(n.Body) {
		c.errorf(n.Token, "recover body must end with a return statement")
		return
	}

	setRecoverPos := c.emit(n.Token, code.OpSetRecover, 9999)
	jumpOverPos := c.emit(n.Token, code.OpJump, 9999)

	handlerStart := len(c.currentInstructions())
	c.changeOperand(setRecoverPos, handlerStart)

	c.enterBlock()
	paramSym, err := c.symbolTable.Define(n.Param.Value, false)
	if err != nil {
		c.errorf(n.Token, "%s", err)
	}
	c.storeSymbol(n.Token, paramSym) // binds the error value the VM pushed
	c.Compile(n.Body)
	c.leaveBlock()

	c.changeOperand(jumpOverPos, len(c.currentInstructions()))
}

func blockEndsWithReturn(block *ast.BlockStatement) bool {
	if block == nil || len(block.Statements) == 0 {
		return false
	}
	_, ok := block.Statements[len(block.Statements)-1].(*ast.ReturnStatement)
	return ok
}

func (c *Compiler) compileFunctionLiteral(n *ast.FunctionLiteral) {
	c.enterScope()

	if n.Name != "" {
		c.symbolTable.DefineFunctionName(n.Name)
	}
	for _, p := range n.Parameters {
		if _, err := c.symbolTable.Define(p.Value, false); err != nil {
			c.errorf(n.Token, "%s", err)
		}
	}

	c.Compile(n.Body)

	if c.lastInstructionIs(code.OpPop) {
		c.replaceLastPopWithReturnValue()
	}
	if !c.lastInstructionIs(code.OpReturnValue) {
		c.emit(n.Token, code.OpReturn)
	}

	isRecursive := c.scopes[c.scopeIndex].usedCurrentFunction
	freeSymbols := c.symbolTable.FreeSymbols
	numLocals := c.symbolTable.numDefinitions
	instructions, positions := c.leaveScope()

	for _, sym := range freeSymbols {
		c.loadSymbol(n.Token, sym)
	}

	fn := &object.CompiledFunction{
		Instructions:  instructions,
		Positions:     positions,
		NumLocals:     numLocals,
		NumParameters: len(n.Parameters),
		Name:          n.Name,
	}
	// The heap value allocated here is a template: the VM's FUNCTION
	// handler reads its Fn field and builds a fresh closure with the free
	// values popped from the stack, so Free is left empty.
	fnValue, allocErr := c.heap.NewFunction(fn, nil, isRecursive)
	if allocErr != nil {
		c.errorf(n.Token, "allocation failed while compiling function literal")
		return
	}
	idx := c.addConstant(fnValue)
	c.emit(n.Token, code.OpFunction, idx, len(freeSymbols))
}

// --- scope management ---

func (c *Compiler) currentInstructions() code.Instructions {
	return c.scopes[c.scopeIndex].instructions
}

func (c *Compiler) enterScope() {
	c.scopes = append(c.scopes, CompilationScope{})
	c.scopeIndex++
	c.symbolTable = NewEnclosedSymbolTable(c.symbolTable)
}

// enterBlock/leaveBlock bracket a `{ ... }` statement list (loop body,
// recover body, bare block): names declared inside go out of scope at the
// closing brace, without opening a new compilation scope.
func (c *Compiler) enterBlock() {
	c.symbolTable = NewEnclosedBlockSymbolTable(c.symbolTable)
}

func (c *Compiler) leaveBlock() {
	c.symbolTable = c.symbolTable.Outer
}

func (c *Compiler) leaveScope() (code.Instructions, code.Positions) {
	instructions := c.currentInstructions()
	positions := c.scopes[c.scopeIndex].positions

	c.scopes = c.scopes[:c.scopeIndex]
	c.scopeIndex--
	c.symbolTable = c.symbolTable.Outer

	return instructions, positions
}

// --- emission ---

func posOf(tok token.Token) code.Pos {
	if tok.Line == 0 && tok.File == "" {
		return code.Unknown
	}
	return code.Pos{File: tok.File, Line: tok.Line, Column: tok.Column}
}

func (c *Compiler) emit(tok token.Token, op code.Opcode, operands ...int) int {
	ins := code.Make(op, operands...)
	pos := c.addInstruction(ins, posOf(tok))
	c.setLastInstruction(op, pos)
	return pos
}

func (c *Compiler) addInstruction(ins []byte, pos code.Pos) int {
	scope := &c.scopes[c.scopeIndex]
	newPos := len(scope.instructions)
	scope.instructions = append(scope.instructions, ins...)
	for range ins {
		scope.positions = append(scope.positions, pos)
	}
	return newPos
}

func (c *Compiler) setLastInstruction(op code.Opcode, pos int) {
	scope := &c.scopes[c.scopeIndex]
	scope.previousInstruction = scope.lastInstruction
	scope.lastInstruction = EmittedInstruction{Opcode: op, Position: pos}
	if op == code.OpCurrentFunction {
		scope.usedCurrentFunction = true
	}
}

func (c *Compiler) lastInstructionIs(op code.Opcode) bool {
	if len(c.currentInstructions()) == 0 {
		return false
	}
	return c.scopes[c.scopeIndex].lastInstruction.Opcode == op
}

func (c *Compiler) removeLastPop() {
	scope := &c.scopes[c.scopeIndex]
	scope.instructions = scope.instructions[:scope.lastInstruction.Position]
	scope.positions = scope.positions[:scope.lastInstruction.Position]
	scope.lastInstruction = scope.previousInstruction
}

func (c *Compiler) replaceLastPopWithReturnValue() {
	scope := &c.scopes[c.scopeIndex]
	lastPos := scope.lastInstruction.Position
	c.replaceInstruction(lastPos, code.Make(code.OpReturnValue))
	scope.lastInstruction.Opcode = code.OpReturnValue
}

func (c *Compiler) replaceInstruction(pos int, newInstruction []byte) {
	scope := &c.scopes[c.scopeIndex]
	copy(scope.instructions[pos:], newInstruction)
}

func (c *Compiler) changeOperand(opPos int, operand int) {
	scope := &c.scopes[c.scopeIndex]
	op := code.Opcode(scope.instructions[opPos])
	c.replaceInstruction(opPos, code.Make(op, operand))
}

// --- constants ---

func (c *Compiler) addConstant(v object.Value) int {
	c.constants = append(c.constants, v)
	return len(c.constants) - 1
}

func (c *Compiler) addNumberConstant(f float64) int {
	if idx, ok := c.numberConstIdx[f]; ok {
		return idx
	}
	idx := c.addConstant(object.Number(f))
	c.numberConstIdx[f] = idx
	return idx
}

func (c *Compiler) addStringConstant(s string) int {
	if idx, ok := c.stringConstIdx[s]; ok {
		return idx
	}
	v, err := c.heap.NewString(s)
	if err != nil {
		return c.addConstant(object.Null)
	}
	idx := c.addConstant(v)
	c.stringConstIdx[s] = idx
	return idx
}

// --- symbol load/store ---

func (c *Compiler) loadSymbol(tok token.Token, symbol Symbol) {
	switch symbol.Scope {
	case GlobalScope, ModuleGlobalScope:
		c.emit(tok, code.OpGetGlobal, symbol.Index)
	case LocalScope:
		c.emit(tok, code.OpGetLocal, symbol.Index)
	case BuiltinScope:
		c.emit(tok, code.OpGetBuiltin, symbol.Index)
	case FreeScope:
		c.emit(tok, code.OpGetFree, symbol.Index)
	case FunctionScope:
		c.emit(tok, code.OpCurrentFunction)
	}
}

func (c *Compiler) storeSymbol(tok token.Token, symbol Symbol) {
	switch symbol.Scope {
	case GlobalScope, ModuleGlobalScope:
		c.emit(tok, code.OpSetGlobal, symbol.Index)
	case LocalScope:
		c.emit(tok, code.OpSetLocal, symbol.Index)
	default:
		c.errorf(tok, "cannot assign to %q", symbol.Name)
	}
}

// Bytecode returns the top-level compiled program.
func (c *Compiler) Bytecode() *CompilationResult {
	return &CompilationResult{
		Instructions: c.currentInstructions(),
		Positions:    c.scopes[c.scopeIndex].positions,
		Constants:    c.constants,
	}
}

// SymbolTable returns the compiler's current top-level symbol table, so a
// REPL can resume compilation against it across separate inputs.
func (c *Compiler) SymbolTable() *SymbolTable { return c.symbolTable }

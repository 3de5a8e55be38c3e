// Package code defines the bytecode instruction set shared by the compiler
// and the virtual machine.
//
// An instruction is an opcode byte followed by a fixed, per-opcode operand
// layout (1, 2 or 4-byte big-endian operands). Jump targets are 2-byte
// absolute offsets within the current compilation scope's instruction
// stream.
package code

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instructions is a slice of bytes representing a sequence of instructions.
type Instructions []byte

// Opcode represents a single bytecode instruction used by the compiler and virtual machine.
type Opcode byte

const (
	// Stack ops.

	// OpConstant pushes a constant from the constant pool onto the stack.
	// Operands: [constant_index:2].
	OpConstant Opcode = iota

	// OpNumber pushes an immediate integral number literal, avoiding a
	// constant-pool round trip for small numeric literals such as loop
	// counters and foreach indices. Only used for values that round-trip
	// exactly through a signed 32-bit integer; any other number goes
	// through OpConstant instead.
	// Operands: [value:4] - signed 32-bit integer.
	OpNumber

	// OpTrue pushes the boolean value true onto the stack.
	OpTrue

	// OpFalse pushes the boolean value false onto the stack.
	OpFalse

	// OpNull pushes the null value onto the stack.
	OpNull

	// OpDup duplicates the top-of-stack value.
	OpDup

	// OpPop removes the top value from the stack and discards it.
	OpPop

	// Arithmetic.

	// OpAdd pops two values, adds them, and pushes the result.
	OpAdd
	// OpSub pops two values, subtracts the second from the first, and pushes the result.
	OpSub
	// OpMul pops two values, multiplies them, and pushes the result.
	OpMul
	// OpDiv pops two values, divides the first by the second, and pushes the result.
	OpDiv
	// OpMod pops two values, computes the first modulo the second, and pushes the result.
	OpMod
	// OpMinus pops a value, negates it, and pushes the result.
	OpMinus

	// Logical / compare.

	// OpBang pops a value, applies logical NOT, and pushes the boolean result.
	OpBang
	// OpEqual pops two values, compares them for equality, and pushes the boolean result.
	OpEqual
	// OpNotEqual pops two values, compares them for inequality, and pushes the boolean result.
	OpNotEqual
	// OpGreaterThan pops two values and pushes true if the first is greater than the second.
	OpGreaterThan
	// OpGreaterThanEqual pops two values and pushes true if the first is greater than or equal to the second.
	OpGreaterThanEqual

	// Container ops.

	// OpArray pops the given number of elements and creates an array from them.
	// Operands: [count:2].
	OpArray
	// OpMap pops 2*count values (alternating key, value) and creates a map.
	// Operands: [count2:2] - total stack items, i.e. 2 * number of pairs.
	OpMap
	// OpGetIndex pops (index, container) and pushes container[index].
	OpGetIndex
	// OpSetIndex pops (index, container, value) and mutates container[index] = value.
	OpSetIndex
	// OpLen pops a value (array, string, or map) and pushes its length.
	OpLen
	// OpGetValueAt pops (index, container) and pushes the element at index,
	// used by foreach lowering to walk an iterable without disturbing the
	// container itself on the stack.
	OpGetValueAt

	// Bindings.

	// OpSetGlobal pops a value and stores it in the global variable at the given index.
	// Operands: [global_index:2].
	OpSetGlobal
	// OpGetGlobal retrieves a global variable by index and pushes its value.
	// Operands: [global_index:2].
	OpGetGlobal
	// OpSetLocal pops a value and stores it in the local variable at the given index.
	// Operands: [local_index:1].
	OpSetLocal
	// OpGetLocal retrieves a local variable by index and pushes its value.
	// Operands: [local_index:1].
	OpGetLocal
	// OpGetBuiltin retrieves a builtin function by index and pushes it.
	// Operands: [builtin_index:1].
	OpGetBuiltin
	// OpGetFree retrieves a free variable captured by the current closure.
	// Operands: [free_index:1].
	OpGetFree
	// OpCurrentFunction pushes the currently executing closure, used to
	// resolve recursive self-reference without re-loading by name.
	OpCurrentFunction

	// Control flow.

	// OpJump unconditionally jumps to the given instruction position.
	// Operands: [target:2].
	OpJump
	// OpJumpIfTrue pops a value and jumps to target if it is truthy.
	// Operands: [target:2].
	OpJumpIfTrue
	// OpJumpIfFalse pops a value and jumps to target if it is not truthy.
	// Operands: [target:2].
	OpJumpIfFalse

	// Call / return.

	// OpCall calls a function with the given number of arguments.
	// Operands: [num_args:1].
	OpCall
	// OpReturnValue pops a value and returns it from the current function.
	OpReturnValue
	// OpReturn returns null from the current function.
	OpReturn
	// OpFunction builds a closure from a compiled function constant and the
	// given number of free variables, which must already be on the stack.
	// Operands: [const_index:2, num_free:1].
	OpFunction

	// OpSetRecover installs a recover handler on the current frame whose
	// body starts at the given instruction position; handlers die with
	// their frame, or are consumed when a raise transfers control to one.
	// Operands: [handler_pos:2].
	OpSetRecover
)

// Definition describes an instruction's mnemonic and operand widths.
type Definition struct {
	Name          string
	OperandWidths []int
}

var definitions = map[Opcode]*Definition{
	OpConstant:         {"OpConstant", []int{2}},
	OpNumber:           {"OpNumber", []int{4}},
	OpTrue:             {"OpTrue", []int{}},
	OpFalse:            {"OpFalse", []int{}},
	OpNull:             {"OpNull", []int{}},
	OpDup:              {"OpDup", []int{}},
	OpPop:              {"OpPop", []int{}},
	OpAdd:              {"OpAdd", []int{}},
	OpSub:              {"OpSub", []int{}},
	OpMul:              {"OpMul", []int{}},
	OpDiv:              {"OpDiv", []int{}},
	OpMod:              {"OpMod", []int{}},
	OpMinus:            {"OpMinus", []int{}},
	OpBang:             {"OpBang", []int{}},
	OpEqual:            {"OpEqual", []int{}},
	OpNotEqual:         {"OpNotEqual", []int{}},
	OpGreaterThan:      {"OpGreaterThan", []int{}},
	OpGreaterThanEqual: {"OpGreaterThanEqual", []int{}},
	OpArray:            {"OpArray", []int{2}},
	OpMap:              {"OpMap", []int{2}},
	OpGetIndex:         {"OpGetIndex", []int{}},
	OpSetIndex:         {"OpSetIndex", []int{}},
	OpLen:              {"OpLen", []int{}},
	OpGetValueAt:       {"OpGetValueAt", []int{}},
	OpSetGlobal:        {"OpSetGlobal", []int{2}},
	OpGetGlobal:        {"OpGetGlobal", []int{2}},
	OpSetLocal:         {"OpSetLocal", []int{1}},
	OpGetLocal:         {"OpGetLocal", []int{1}},
	OpGetBuiltin:       {"OpGetBuiltin", []int{1}},
	OpGetFree:          {"OpGetFree", []int{1}},
	OpCurrentFunction:  {"OpCurrentFunction", []int{}},
	OpJump:             {"OpJump", []int{2}},
	OpJumpIfTrue:       {"OpJumpIfTrue", []int{2}},
	OpJumpIfFalse:      {"OpJumpIfFalse", []int{2}},
	OpCall:             {"OpCall", []int{1}},
	OpReturnValue:      {"OpReturnValue", []int{}},
	OpReturn:           {"OpReturn", []int{}},
	OpFunction:         {"OpFunction", []int{2, 1}},
	OpSetRecover:       {"OpSetRecover", []int{2}},
}

// Lookup returns the Definition for the given opcode byte.
func Lookup(op byte) (*Definition, error) {
	def, ok := definitions[Opcode(op)]
	if !ok {
		return nil, fmt.Errorf("opcode %d undefined", op)
	}
	return def, nil
}

// Make encodes op and its operands into a single instruction.
func Make(op Opcode, operands ...int) []byte {
	def, ok := definitions[op]
	if !ok {
		return []byte{}
	}
	instructionLen := 1
	for _, w := range def.OperandWidths {
		instructionLen += w
	}
	instruction := make([]byte, instructionLen)
	instruction[0] = byte(op)
	offset := 1
	for i, operand := range operands {
		width := def.OperandWidths[i]
		switch width {
		case 1:
			instruction[offset] = byte(operand)
		case 2:
			binary.BigEndian.PutUint16(instruction[offset:], uint16(operand))
		case 4:
			binary.BigEndian.PutUint32(instruction[offset:], uint32(operand))
		}
		offset += width
	}
	return instruction
}

// NumberFitsImmediate reports whether f can be encoded as an OpNumber
// immediate without loss, i.e. it is an integer in the signed 32-bit range.
func NumberFitsImmediate(f float64) (int32, bool) {
	i := int32(f)
	if float64(i) == f {
		return i, true
	}
	return 0, false
}

// DecodeNumber reconstructs the float64 encoded by an OpNumber operand.
func DecodeNumber(operand int) float64 {
	return float64(int32(operand))
}

// String renders Instructions as a human-readable disassembly.
func (ins Instructions) String() string {
	var out strings.Builder

	i := 0
	for i < len(ins) {
		def, err := Lookup(ins[i])
		if err != nil {
			_, _ = fmt.Fprintf(&out, "ERROR: %s\n", err)
			i++
			continue
		}
		operands, read := ReadOperands(def, ins[i+1:])
		_, _ = fmt.Fprintf(&out, "%04d %s\n", i, ins.fmtInstruction(def, operands))
		i += read + 1
	}

	return out.String()
}

func (ins Instructions) fmtInstruction(def *Definition, operands []int) string {
	operandCount := len(def.OperandWidths)

	if len(operands) != operandCount {
		return fmt.Sprintf("ERROR: operand len %d does not match defined %d\n", len(operands), operandCount)
	}

	switch operandCount {
	case 0:
		return def.Name
	case 1:
		return fmt.Sprintf("%s %d", def.Name, operands[0])
	case 2:
		return fmt.Sprintf("%s %d %d", def.Name, operands[0], operands[1])
	}
	return fmt.Sprintf("ERROR: unhandled operandCount for %s\n", def.Name)
}

// ReadOperands decodes the operands of a single instruction (following the
// opcode byte) according to def, returning them along with the total bytes
// read.
func ReadOperands(def *Definition, ins Instructions) ([]int, int) {
	operands := make([]int, len(def.OperandWidths))
	offset := 0

	for i, width := range def.OperandWidths {
		switch width {
		case 1:
			operands[i] = int(ReadUint8(ins[offset:]))
		case 2:
			operands[i] = int(ReadUint16(ins[offset:]))
		case 4:
			operands[i] = int(int32(ReadUint32(ins[offset:])))
		}
		offset += width
	}
	return operands, offset
}

// ReadUint16 decodes the first two bytes of ins as a big-endian uint16.
func ReadUint16(ins Instructions) uint16 { return binary.BigEndian.Uint16(ins) }

// ReadUint32 decodes the first four bytes of ins as a big-endian uint32.
func ReadUint32(ins Instructions) uint32 { return binary.BigEndian.Uint32(ins) }

// ReadUint8 extracts the first byte of ins.
func ReadUint8(ins Instructions) uint8 { return ins[0] }

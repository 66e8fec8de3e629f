package vm

import (
	"fmt"
	"io"
)

// DisassembleChunk writes a human-readable dump of every instruction in c
// to w, labeled with name (typically the owning function's signature).
// Used by the CLI's --dump flag and by tests asserting on emitted code.
func DisassembleChunk(w io.Writer, c *Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
}

// DisassembleInstruction writes one instruction at offset and returns the
// offset of the next instruction.
func DisassembleInstruction(w io.Writer, c *Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OpConstant:
		return constantInstruction(w, "OP_CONSTANT", c, offset)
	case OpNil:
		return simpleInstruction(w, "OP_NIL", offset)
	case OpTrue:
		return simpleInstruction(w, "OP_TRUE", offset)
	case OpFalse:
		return simpleInstruction(w, "OP_FALSE", offset)
	case OpPop:
		return simpleInstruction(w, "OP_POP", offset)
	case OpGetLocal:
		return byteInstruction(w, "OP_GET_LOCAL", c, offset)
	case OpSetLocal:
		return byteInstruction(w, "OP_SET_LOCAL", c, offset)
	case OpGetGlobal:
		return constantInstruction(w, "OP_GET_GLOBAL", c, offset)
	case OpDefineGlobal:
		return constantInstruction(w, "OP_DEFINE_GLOBAL", c, offset)
	case OpSetGlobal:
		return constantInstruction(w, "OP_SET_GLOBAL", c, offset)
	case OpGetUpvalue:
		return byteInstruction(w, "OP_GET_UPVALUE", c, offset)
	case OpSetUpvalue:
		return byteInstruction(w, "OP_SET_UPVALUE", c, offset)
	case OpGetProperty:
		return constantInstruction(w, "OP_GET_PROPERTY", c, offset)
	case OpSetProperty:
		return constantInstruction(w, "OP_SET_PROPERTY", c, offset)
	case OpGetSuper:
		return constantInstruction(w, "OP_GET_SUPER", c, offset)
	case OpEqual:
		return simpleInstruction(w, "OP_EQUAL", offset)
	case OpGreater:
		return simpleInstruction(w, "OP_GREATER", offset)
	case OpLess:
		return simpleInstruction(w, "OP_LESS", offset)
	case OpAdd:
		return simpleInstruction(w, "OP_ADD", offset)
	case OpSubtract:
		return simpleInstruction(w, "OP_SUBTRACT", offset)
	case OpMultiply:
		return simpleInstruction(w, "OP_MULTIPLY", offset)
	case OpDivide:
		return simpleInstruction(w, "OP_DIVIDE", offset)
	case OpModulo:
		return simpleInstruction(w, "OP_MODULO", offset)
	case OpNot:
		return simpleInstruction(w, "OP_NOT", offset)
	case OpNegate:
		return simpleInstruction(w, "OP_NEGATE", offset)
	case OpPrint:
		return simpleInstruction(w, "OP_PRINT", offset)
	case OpJump:
		return jumpInstruction(w, "OP_JUMP", 1, c, offset)
	case OpJumpIfFalse:
		return jumpInstruction(w, "OP_JUMP_IF_FALSE", 1, c, offset)
	case OpLoop:
		return jumpInstruction(w, "OP_LOOP", -1, c, offset)
	case OpCall:
		return byteInstruction(w, "OP_CALL", c, offset)
	case OpInvoke:
		return invokeInstruction(w, "OP_INVOKE", c, offset)
	case OpSuperInvoke:
		return invokeInstruction(w, "OP_SUPER_INVOKE", c, offset)
	case OpClosure:
		return closureInstruction(w, c, offset)
	case OpCloseUpvalue:
		return simpleInstruction(w, "OP_CLOSE_UPVALUE", offset)
	case OpReturn:
		return simpleInstruction(w, "OP_RETURN", offset)
	case OpClass:
		return constantInstruction(w, "OP_CLASS", c, offset)
	case OpInherit:
		return simpleInstruction(w, "OP_INHERIT", offset)
	case OpMethod:
		return constantInstruction(w, "OP_METHOD", c, offset)
	default:
		fmt.Fprintf(w, "Unknown opcode %d\n", op)
		return offset + 1
	}
}

func simpleInstruction(w io.Writer, name string, offset int) int {
	fmt.Fprintf(w, "%s\n", name)
	return offset + 1
}

func byteInstruction(w io.Writer, name string, c *Chunk, offset int) int {
	slot := c.Code[offset+1]
	fmt.Fprintf(w, "%-18s %4d\n", name, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, name string, sign int, c *Chunk, offset int) int {
	jump := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	fmt.Fprintf(w, "%-18s %4d -> %d\n", name, offset, offset+3+sign*jump)
	return offset + 3
}

func constantInstruction(w io.Writer, name string, c *Chunk, offset int) int {
	idx := c.Code[offset+1]
	fmt.Fprintf(w, "%-18s %4d '%s'\n", name, idx, c.Constants[idx].String())
	return offset + 2
}

func invokeInstruction(w io.Writer, name string, c *Chunk, offset int) int {
	idx := c.Code[offset+1]
	argCount := c.Code[offset+2]
	fmt.Fprintf(w, "%-18s (%d args) %4d '%s'\n", name, argCount, idx, c.Constants[idx].String())
	return offset + 3
}

func closureInstruction(w io.Writer, c *Chunk, offset int) int {
	offset++
	idx := c.Code[offset]
	offset++
	fmt.Fprintf(w, "%-18s %4d '%s'\n", "OP_CLOSURE", idx, c.Constants[idx].String())

	function := c.Constants[idx].AsFunction()
	for i := 0; i < function.UpvalueCount; i++ {
		isLocal := c.Code[offset]
		offset++
		index := c.Code[offset]
		offset++
		kind := "upvalue"
		if isLocal != 0 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset-2, kind, index)
	}

	return offset
}

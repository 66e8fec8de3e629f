// Package vm implements the bytecode virtual machine for the Source
// Language: a stack-based interpreter executing the chunks the compiler
// in this same package emits.
//
//   Source Code -> Scanner -> Compiler -> Chunk -> VM -> Execution
//
// The VM owns the entire heap (the intrusive object list the collector
// sweeps), the value stack, the call-frame stack, the globals table, the
// interned-string pool, and the open-upvalues list: every GC root lives
// here or is reachable from here.
package vm

import (
	"fmt"
	"io"
	"os"
)

const (
	framesMax = 64
	stackMax  = framesMax * 256
)

// callFrame is a per-invocation record: the closure executing, the
// instruction pointer within that closure's function's chunk, and the
// base slot of this call's window into the value stack.
type callFrame struct {
	closure *ObjClosure
	ip      int
	slots   int
}

// VM is the virtual machine. It is not safe for concurrent use — the
// language has no concurrency model.
type VM struct {
	stack    [stackMax]Value
	stackTop int

	frames     [framesMax]callFrame
	frameCount int

	openUpvalues *ObjUpvalue

	globals    *Table
	strings    *Table
	initString *ObjString

	objects   Obj
	grayStack []Obj

	bytesAllocated int
	nextGC         int
	heapGrowFactor int
	stressGC       bool
	logGC          bool

	stdout io.Writer

	compiler *Compiler
}

// New creates a VM with an empty heap, globals table, and interned-string
// pool, registers the built-in natives, and applies opts.
func New(opts ...Option) *VM {
	vm := &VM{
		globals:        NewTable(),
		strings:        NewTable(),
		heapGrowFactor: 2,
		nextGC:         1024 * 1024,
		stdout:         os.Stdout,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.initString = vm.internString("init")
	vm.defineNatives()
	return vm
}

// InterpretResult summarizes the outcome of Interpret.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// Interpret compiles source and, if compilation succeeds, runs it to
// completion. Compilation and execution are fully synchronous: there is
// no persisted intermediate artifact between them.
func (vm *VM) Interpret(source string) (InterpretResult, error) {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil

	function, errs := Compile(vm, source)
	if function == nil {
		return InterpretCompileError, errs
	}

	vm.push(ObjectVal(function))
	closure := vm.newClosure(function)
	vm.pop()
	vm.push(ObjectVal(closure))

	if err := vm.call(closure, 0); err != nil {
		return InterpretRuntimeError, err
	}

	if err := vm.run(); err != nil {
		if _, ok := err.(*exitRequest); ok {
			return InterpretOK, err
		}
		return InterpretRuntimeError, err
	}
	return InterpretOK, nil
}

func (vm *VM) push(v Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

// run is the main dispatch loop: a switch over the active frame's next
// opcode, reading operands inline and advancing its instruction pointer.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	for {
		op := OpCode(vm.readByte(frame))

		switch op {
		case OpConstant:
			vm.push(vm.readConstant(frame))

		case OpNil:
			vm.push(Nil)
		case OpTrue:
			vm.push(Bool(true))
		case OpFalse:
			vm.push(Bool(false))

		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := int(vm.readByte(frame))
			vm.push(vm.stack[frame.slots+slot])

		case OpSetLocal:
			slot := int(vm.readByte(frame))
			vm.stack[frame.slots+slot] = vm.peek(0)

		case OpGetGlobal:
			name := vm.readString(frame)
			value, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(value)

		case OpDefineGlobal:
			name := vm.readString(frame)
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case OpSetGlobal:
			name := vm.readString(frame)
			if _, ok := vm.globals.Get(name); !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.globals.Set(name, vm.peek(0))

		case OpGetUpvalue:
			slot := int(vm.readByte(frame))
			vm.push(*frame.closure.Upvalues[slot].Location)

		case OpSetUpvalue:
			slot := int(vm.readByte(frame))
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case OpGetProperty:
			if !vm.peek(0).IsInstance() {
				return vm.runtimeError("Only instances have properties, got %s.", vm.peek(0).TypeName())
			}
			instance := vm.peek(0).AsInstance()
			name := vm.readString(frame)

			if value, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(value)
				break
			}

			bound, ok := vm.bindMethod(instance.Class, name)
			if !ok {
				return vm.runtimeError("Undefined property '%s'.", name.Chars)
			}
			vm.pop()
			vm.push(ObjectVal(bound))

		case OpSetProperty:
			if !vm.peek(1).IsInstance() {
				return vm.runtimeError("Only instances have fields, got %s.", vm.peek(1).TypeName())
			}
			instance := vm.peek(1).AsInstance()
			name := vm.readString(frame)
			instance.Fields.Set(name, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case OpGetSuper:
			name := vm.readString(frame)
			superclass := vm.pop().AsClass()
			bound, ok := vm.bindMethod(superclass, name)
			if !ok {
				return vm.runtimeError("Undefined property '%s'.", name.Chars)
			}
			vm.pop()
			vm.push(ObjectVal(bound))

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(ValuesEqual(a, b)))

		case OpGreater:
			if err := vm.numericCompare(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
		case OpLess:
			if err := vm.numericCompare(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}

		case OpAdd:
			b := vm.peek(0)
			a := vm.peek(1)
			switch {
			case a.IsNumber() && b.IsNumber():
				vm.pop()
				vm.pop()
				vm.push(Number(a.AsNumber() + b.AsNumber()))
			case a.IsString() && b.IsString():
				result := vm.internString(a.AsString().Chars + b.AsString().Chars)
				vm.pop()
				vm.pop()
				vm.push(ObjectVal(result))
			default:
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}

		case OpSubtract:
			if err := vm.numericBinOp(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case OpMultiply:
			if err := vm.numericBinOp(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case OpDivide:
			if err := vm.numericBinOp(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}
		case OpModulo:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := int64(vm.pop().AsNumber())
			a := int64(vm.pop().AsNumber())
			if b == 0 {
				return vm.runtimeError("Modulo by zero.")
			}
			vm.push(Number(float64(a % b)))

		case OpNot:
			vm.push(Bool(vm.pop().IsFalsey()))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number, got %s.", vm.peek(0).TypeName())
			}
			vm.push(Number(-vm.pop().AsNumber()))

		case OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())

		case OpJump:
			offset := vm.readShort(frame)
			frame.ip += int(offset)

		case OpJumpIfFalse:
			offset := vm.readShort(frame)
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}

		case OpLoop:
			offset := vm.readShort(frame)
			frame.ip -= int(offset)

		case OpCall:
			argCount := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpInvoke:
			name := vm.readString(frame)
			argCount := int(vm.readByte(frame))
			if err := vm.invoke(name, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpSuperInvoke:
			name := vm.readString(frame)
			argCount := int(vm.readByte(frame))
			superclass := vm.pop().AsClass()
			if err := vm.invokeFromClass(superclass, name, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpClosure:
			function := vm.readConstant(frame).AsFunction()
			closure := vm.newClosure(function)
			vm.push(ObjectVal(closure))
			for i := 0; i < function.UpvalueCount; i++ {
				isLocal := vm.readByte(frame)
				index := int(vm.readByte(frame))
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case OpClass:
			name := vm.readString(frame)
			vm.push(ObjectVal(vm.newClass(name)))

		case OpInherit:
			superVal := vm.peek(1)
			if !superVal.IsClass() {
				return vm.runtimeError("Superclass must be a class, got %s.", superVal.TypeName())
			}
			subclass := vm.peek(0).AsClass()
			subclass.Methods.AddAll(superVal.AsClass().Methods)
			vm.pop() // subclass

		case OpMethod:
			name := vm.readString(frame)
			vm.defineMethod(name)

		default:
			return vm.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func (vm *VM) numericBinOp(op func(a, b float64) float64) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(Number(op(a, b)))
	return nil
}

func (vm *VM) numericCompare(op func(a, b float64) bool) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(Bool(op(a, b)))
	return nil
}

func (vm *VM) readByte(f *callFrame) byte {
	b := f.closure.Function.Chunk.Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readShort(f *callFrame) uint16 {
	hi := vm.readByte(f)
	lo := vm.readByte(f)
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant(f *callFrame) Value {
	idx := vm.readByte(f)
	return f.closure.Function.Chunk.Constants[idx]
}

func (vm *VM) readString(f *callFrame) *ObjString {
	return vm.readConstant(f).AsString()
}

// callValue dispatches a CALL (or the implicit call a fused INVOKE makes)
// based on the callee's runtime type: closures run, classes instantiate
// (and invoke init if present), bound methods call their underlying
// closure with the receiver implicitly restored, and natives call
// straight through to Go.
func (vm *VM) callValue(callee Value, argCount int) error {
	if !callee.IsObject() {
		return vm.runtimeError("Can only call functions and classes, got %s.", callee.TypeName())
	}

	switch callee.AsObject().objType() {
	case ObjTypeClosure:
		return vm.call(callee.AsClosure(), argCount)

	case ObjTypeClass:
		class := callee.AsClass()
		instance := vm.newInstance(class)
		vm.stack[vm.stackTop-argCount-1] = ObjectVal(instance)
		if initializer, ok := class.Methods.Get(vm.initString); ok {
			return vm.call(initializer.AsClosure(), argCount)
		} else if argCount != 0 {
			return vm.runtimeError("Expected 0 arguments but got %d.", argCount)
		}
		return nil

	case ObjTypeBoundMethod:
		bound := callee.AsBoundMethod()
		vm.stack[vm.stackTop-argCount-1] = bound.Receiver
		return vm.call(bound.Method, argCount)

	case ObjTypeNative:
		native := callee.AsNative()
		args := vm.stack[vm.stackTop-argCount : vm.stackTop]
		result, err := native.Fn(vm, args)
		if err != nil {
			if _, ok := err.(*exitRequest); ok {
				return err
			}
			return vm.runtimeErrorWrap(err, "%s", err.Error())
		}
		vm.stackTop -= argCount + 1
		vm.push(result)
		return nil

	default:
		return vm.runtimeError("Can only call functions and classes, got %s.", callee.TypeName())
	}
}

func (vm *VM) call(closure *ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == framesMax {
		return vm.runtimeError("Stack overflow.")
	}

	frame := &vm.frames[vm.frameCount]
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	vm.frameCount++
	return nil
}

// invoke implements the fused GET_PROPERTY+CALL instruction: it checks
// field shadowing before falling back to method lookup, exactly as a
// plain GET_PROPERTY followed by CALL would.
func (vm *VM) invoke(name *ObjString, argCount int) error {
	receiver := vm.peek(argCount)
	if !receiver.IsInstance() {
		return vm.runtimeError("Only instances have methods, got %s.", receiver.TypeName())
	}
	instance := receiver.AsInstance()

	if value, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = value
		return vm.callValue(value, argCount)
	}

	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *ObjClass, name *ObjString, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	return vm.call(method.AsClosure(), argCount)
}

func (vm *VM) bindMethod(class *ObjClass, name *ObjString) (*ObjBoundMethod, bool) {
	method, ok := class.Methods.Get(name)
	if !ok {
		return nil, false
	}
	bound := &ObjBoundMethod{Receiver: vm.peek(0), Method: method.AsClosure()}
	vm.allocate(bound)
	return bound, true
}

func (vm *VM) defineMethod(name *ObjString) {
	method := vm.peek(0)
	class := vm.peek(1).AsClass()
	class.Methods.Set(name, method)
	vm.pop()
}

// captureUpvalue returns the open upvalue for stack slot `slot`, creating
// one and inserting it (keeping the open list sorted by descending slot)
// if none exists yet. At most one open upvalue ever exists per live slot.
func (vm *VM) captureUpvalue(slot int) *ObjUpvalue {
	var prev *ObjUpvalue
	uv := vm.openUpvalues
	for uv != nil && uv.slot > slot {
		prev = uv
		uv = uv.NextOpen
	}

	if uv != nil && uv.slot == slot {
		return uv
	}

	created := &ObjUpvalue{Location: &vm.stack[slot], slot: slot, NextOpen: uv}
	vm.allocate(created)

	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack slot `from`:
// its current value is copied into its own storage and the upvalue is
// unlinked from the open list. Tolerant of being called when no open
// upvalue exists at or above from (a no-op in that case).
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvalues != nil && vm.openUpvalues.slot >= from {
		uv := vm.openUpvalues
		uv.Closed = *uv.Location
		uv.Location = &uv.Closed
		vm.openUpvalues = uv.NextOpen
		uv.NextOpen = nil
	}
}

// runtimeError builds a RuntimeError with a stack trace (newest frame
// first, using each frame's ip-1 to look up its source line) and resets
// the VM to a clean state: empty stack and frames, globals/strings/heap
// preserved so a REPL can keep going.
func (vm *VM) runtimeError(format string, args ...interface{}) error {
	return vm.runtimeErrorWrap(nil, format, args...)
}

// runtimeErrorWrap is runtimeError plus a wrapped cause: the Go error
// (typically a failing native function's own error) that triggered this
// runtime error, reachable afterward via errors.Unwrap/Is/As.
func (vm *VM) runtimeErrorWrap(cause error, format string, args ...interface{}) error {
	trace := make([]Frame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		line := 0
		if f.ip-1 >= 0 && f.ip-1 < len(f.closure.Function.Chunk.Lines) {
			line = f.closure.Function.Chunk.Lines[f.ip-1]
		}
		trace = append(trace, Frame{FuncName: funcSignature(f.closure.Function), Line: line})
	}

	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil

	return &RuntimeError{Message: fmt.Sprintf(format, args...), Trace: trace, Cause: cause}
}

// --- allocation helpers shared by the compiler and the VM ---

// internString returns the canonical ObjString for s, allocating and
// interning a new one on first sight. Any two equal literal strings
// therefore evaluate to the same object identity.
func (vm *VM) internString(s string) *ObjString {
	hash := fnvHash(s)
	if existing := vm.strings.FindString(s, hash); existing != nil {
		return existing
	}

	str := &ObjString{Chars: s, Hash: hash}
	vm.allocate(str)

	// Root the new string across the table insert (which may itself grow
	// and, in a manual-memory host, risk collecting it); in Go this is
	// belt-and-suspenders since nothing frees str out from under us, but
	// it keeps the bookkeeping faithful to the source algorithm.
	vm.push(ObjectVal(str))
	vm.strings.Set(str, Nil)
	vm.pop()

	return str
}

func (vm *VM) newFunction() *ObjFunction {
	fn := &ObjFunction{}
	vm.allocate(fn)
	return fn
}

func (vm *VM) newClosure(function *ObjFunction) *ObjClosure {
	closure := &ObjClosure{Function: function, Upvalues: make([]*ObjUpvalue, function.UpvalueCount)}
	vm.allocate(closure)
	return closure
}

func (vm *VM) newClass(name *ObjString) *ObjClass {
	class := &ObjClass{Name: name, Methods: NewTable()}
	vm.allocate(class)
	return class
}

func (vm *VM) newInstance(class *ObjClass) *ObjInstance {
	instance := &ObjInstance{Class: class, Fields: NewTable()}
	vm.allocate(instance)
	return instance
}

// StackDepth reports the current value-stack depth, exposed for tests
// exercising GC stress scenarios.
func (vm *VM) StackDepth() int { return vm.stackTop }

// BytesAllocated reports the collector's live-byte count, exposed for GC
// invariant tests.
func (vm *VM) BytesAllocated() int { return vm.bytesAllocated }

// CollectGarbage forces a collection cycle, exposed for tests.
func (vm *VM) CollectGarbage() { vm.collectGarbage() }

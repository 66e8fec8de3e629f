package vm

import (
	"fmt"
	"strings"
)

// ObjType tags the variant of a heap Obj.
type ObjType byte

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
	ObjTypeNative
)

func (t ObjType) String() string {
	switch t {
	case ObjTypeString:
		return "string"
	case ObjTypeFunction:
		return "function"
	case ObjTypeClosure:
		return "closure"
	case ObjTypeUpvalue:
		return "upvalue"
	case ObjTypeClass:
		return "class"
	case ObjTypeInstance:
		return "instance"
	case ObjTypeBoundMethod:
		return "bound method"
	case ObjTypeNative:
		return "native function"
	default:
		return "object"
	}
}

// Obj is implemented by every heap object variant. Every variant embeds
// objHeader, which carries the mark bit and the intrusive next-object
// pointer that makes the VM's object list the authoritative heap
// enumeration used by sweep.
type Obj interface {
	objType() ObjType
	header() *objHeader
	String() string
}

// objHeader is the common prefix every heap object carries: a mark bit for
// the collector and a next pointer threading it into the VM's single
// intrusive object list.
type objHeader struct {
	marked bool
	next   Obj
}

func (h *objHeader) header() *objHeader { return h }

// ObjString is an immutable, interned byte string. At most one ObjString
// exists per distinct (length, byte content) pair, so object identity
// equality is safe to use for string comparison everywhere names and field
// keys are interned.
type ObjString struct {
	objHeader
	Chars string
	Hash  uint32
}

func (s *ObjString) objType() ObjType { return ObjTypeString }
func (s *ObjString) String() string   { return s.Chars }

// fnvHash computes the 32-bit FNV-1a hash of s, matching the hash every
// interned string is keyed by.
func fnvHash(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// ObjUpvalue is a captured-variable cell. While open, Location points into
// a live VM stack slot; while closed, Location points at Closed, which
// owns the value. Upvalues form an intrusive singly linked list (the VM's
// open-upvalues list) ordered by descending stack slot.
type ObjUpvalue struct {
	objHeader
	Location *Value
	Closed   Value
	NextOpen *ObjUpvalue
	slot     int // stack slot Location addresses while open; orders the open list
}

func (u *ObjUpvalue) objType() ObjType { return ObjTypeUpvalue }
func (u *ObjUpvalue) String() string   { return "upvalue" }

// ObjFunction is a compiled function body: its arity, the number of
// upvalues its closures must capture, the chunk of bytecode that
// implements it, and an optional name (nil for the implicit top-level
// script function).
type ObjFunction struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *ObjString
}

func (f *ObjFunction) objType() ObjType { return ObjTypeFunction }
func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// UpvalueCapture describes one slot in a Closure's upvalue array: whether
// it is freshly captured from the enclosing call frame's stack (IsLocal)
// or inherited from the enclosing closure's own upvalue array.
type UpvalueCapture struct {
	Index   int
	IsLocal bool
}

// ObjClosure pairs a Function with the upvalue array that gives its body
// access to variables captured from enclosing scopes.
type ObjClosure struct {
	objHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) objType() ObjType { return ObjTypeClosure }
func (c *ObjClosure) String() string   { return c.Function.String() }

// ObjClass is a class: its name and its method table (selector -> Closure
// value). INHERIT copies the superclass's method table into the subclass's
// so lookup on the subclass never needs to walk a superclass chain.
type ObjClass struct {
	objHeader
	Name    *ObjString
	Methods *Table
}

func (c *ObjClass) objType() ObjType { return ObjTypeClass }
func (c *ObjClass) String() string   { return c.Name.Chars }

// ObjInstance is an instance of a class: a reference to its class and a
// field table (interned field name -> Value).
type ObjInstance struct {
	objHeader
	Class  *ObjClass
	Fields *Table
}

func (i *ObjInstance) objType() ObjType { return ObjTypeInstance }
func (i *ObjInstance) String() string   { return i.Class.Name.Chars + " instance" }

// ObjBoundMethod pairs a receiver Value with the Closure a property access
// resolved to a method, so calling it later supplies "this" implicitly.
type ObjBoundMethod struct {
	objHeader
	Receiver Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) objType() ObjType { return ObjTypeBoundMethod }
func (b *ObjBoundMethod) String() string   { return b.Method.String() }

// NativeFn is the native-function ABI: it receives the VM (for error
// reporting) and the argument slice, and returns a Value or an error.
type NativeFn func(vm *VM, args []Value) (Value, error)

// ObjNative wraps a Go function exposed to Source Language code as a
// global. Natives have no outgoing references for the collector to trace.
type ObjNative struct {
	objHeader
	Name string
	Fn   NativeFn
}

func (n *ObjNative) objType() ObjType { return ObjTypeNative }
func (n *ObjNative) String() string   { return fmt.Sprintf("<native fn %s>", n.Name) }

// funcSignature renders a function's name and parameter arity for
// runtime stack-trace frames, e.g. "add(2)", or "script(0)" for the
// top-level script.
func funcSignature(f *ObjFunction) string {
	name := "script"
	if f.Name != nil {
		name = f.Name.Chars
	}
	var b strings.Builder
	b.WriteString(name)
	fmt.Fprintf(&b, "(%d)", f.Arity)
	return b.String()
}

package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType tags the variant held by a Value.
type ValueType byte

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObject
)

// Value is the tagged union every expression produces and every stack slot
// holds. It is passed and stored by copy; the object pointer it carries is
// the only heap indirection.
type Value struct {
	Type   ValueType
	boolv  bool
	numv   float64
	objv   Obj
}

var Nil = Value{Type: ValNil}

func Bool(b bool) Value {
	return Value{Type: ValBool, boolv: b}
}

func Number(n float64) Value {
	return Value{Type: ValNumber, numv: n}
}

func ObjectVal(o Obj) Value {
	return Value{Type: ValObject, objv: o}
}

func (v Value) IsNil() bool    { return v.Type == ValNil }
func (v Value) IsBool() bool   { return v.Type == ValBool }
func (v Value) IsNumber() bool { return v.Type == ValNumber }
func (v Value) IsObject() bool { return v.Type == ValObject }

func (v Value) AsBool() bool    { return v.boolv }
func (v Value) AsNumber() float64 { return v.numv }
func (v Value) AsObject() Obj   { return v.objv }

func (v Value) IsObjType(t ObjType) bool {
	return v.Type == ValObject && v.objv.objType() == t
}

func (v Value) IsString() bool       { return v.IsObjType(ObjTypeString) }
func (v Value) IsFunction() bool     { return v.IsObjType(ObjTypeFunction) }
func (v Value) IsClosure() bool      { return v.IsObjType(ObjTypeClosure) }
func (v Value) IsClass() bool        { return v.IsObjType(ObjTypeClass) }
func (v Value) IsInstance() bool     { return v.IsObjType(ObjTypeInstance) }
func (v Value) IsBoundMethod() bool  { return v.IsObjType(ObjTypeBoundMethod) }
func (v Value) IsNative() bool       { return v.IsObjType(ObjTypeNative) }

func (v Value) AsString() *ObjString {
	return v.objv.(*ObjString)
}

func (v Value) AsClosure() *ObjClosure {
	return v.objv.(*ObjClosure)
}

func (v Value) AsFunction() *ObjFunction {
	return v.objv.(*ObjFunction)
}

func (v Value) AsClass() *ObjClass {
	return v.objv.(*ObjClass)
}

func (v Value) AsInstance() *ObjInstance {
	return v.objv.(*ObjInstance)
}

func (v Value) AsBoundMethod() *ObjBoundMethod {
	return v.objv.(*ObjBoundMethod)
}

func (v Value) AsNative() *ObjNative {
	return v.objv.(*ObjNative)
}

// IsFalsey implements the language's falsiness rule: only nil and false
// are falsy, every other value (including 0 and the empty string) is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// ValuesEqual implements Value equality: variants must match, numbers
// compare with Go's ==, objects compare by identity (so interned strings
// compare equal iff they are the same object).
func ValuesEqual(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case ValNil:
		return true
	case ValBool:
		return a.boolv == b.boolv
	case ValNumber:
		return a.numv == b.numv
	case ValObject:
		return a.objv == b.objv
	default:
		return false
	}
}

// String formats a Value the way PRINT does: numbers with a %g-equivalent
// formatting, booleans and nil print their keyword, objects delegate to
// their own representation.
func (v Value) String() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		if v.boolv {
			return "true"
		}
		return "false"
	case ValNumber:
		return formatNumber(v.numv)
	case ValObject:
		return v.objv.String()
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// TypeName returns a short name for error messages ("number", "string", ...).
func (v Value) TypeName() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		return "boolean"
	case ValNumber:
		return "number"
	case ValObject:
		return fmt.Sprintf("%v", v.objv.objType())
	default:
		return "unknown"
	}
}

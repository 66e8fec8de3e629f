package vm

import (
	"errors"
	"fmt"
	"time"
)

// defineNative interns name, wraps fn as an ObjNative, and binds it as a
// global, the same path every built-in native function (clock and exit)
// goes through.
func (vm *VM) defineNative(name string, fn NativeFn) {
	// The name and native object must be reachable from the stack for the
	// duration of this call: both the intern and the allocate below can
	// trigger a collection.
	nameStr := vm.internString(name)
	vm.push(ObjectVal(nameStr))

	native := &ObjNative{Name: name, Fn: fn}
	vm.allocate(native)
	vm.push(ObjectVal(native))

	vm.globals.Set(vm.stack[0].AsString(), vm.stack[1])
	vm.pop()
	vm.pop()
}

// defineNatives registers every built-in native function.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", nativeClock)
	vm.defineNative("exit", nativeExit)
}

// nativeClock returns the number of seconds since the Unix epoch, used
// for timing loops and benchmarks.
func nativeClock(vm *VM, args []Value) (Value, error) {
	if len(args) != 0 {
		return Nil, fmt.Errorf("clock() takes no arguments")
	}
	return Number(float64(time.Now().UnixNano()) / 1e9), nil
}

// nativeExit documents that the native ABI supports more than one
// built-in without any user-loadable extension mechanism: it is compiled
// in exactly like clock, just registered a second time.
func nativeExit(vm *VM, args []Value) (Value, error) {
	code := 0
	if len(args) == 1 {
		if !args[0].IsNumber() {
			return Nil, fmt.Errorf("exit() expects a number")
		}
		code = int(args[0].AsNumber())
	} else if len(args) != 0 {
		return Nil, fmt.Errorf("exit() takes 0 or 1 arguments")
	}
	return Nil, &exitRequest{code: code}
}

// exitRequest is returned (as an error) by the exit native to unwind the
// interpreter loop with a specific process exit code, without involving
// any general user-level catch mechanism (there is none).
type exitRequest struct{ code int }

func (e *exitRequest) Error() string { return fmt.Sprintf("exit(%d)", e.code) }

// ExitCode reports the process exit code requested by a call to exit(),
// if err is (or wraps) that request. Embedders use this to translate a
// successful Interpret call into the right process exit status.
func ExitCode(err error) (int, bool) {
	var req *exitRequest
	if !errors.As(err, &req) {
		return 0, false
	}
	return req.code, true
}

package vm

import "fmt"

// This file implements the precise, non-moving, tri-color mark-sweep
// collector. It is not a separate type: the VM itself owns the heap
// (the intrusive object list), the gray worklist, and every root, so the
// collector is a set of methods on *VM.
//
// Roots: the value stack, every active call frame's closure, the open
// upvalues list, the globals table, the current compiler chain (if a
// compile is in progress), and the cached "init" string.

// sizeOf approximates an object's payload size in bytes for the
// bytes_allocated bookkeeping invariant. The exact formula is internal
// to this collector's accounting; what matters is that every allocate
// and free call agrees on it.
func sizeOf(o Obj) int {
	switch v := o.(type) {
	case *ObjString:
		return 24 + len(v.Chars)
	case *ObjUpvalue:
		return 24
	case *ObjFunction:
		return 48
	case *ObjClosure:
		return 24 + len(v.Upvalues)*8
	case *ObjClass:
		return 32
	case *ObjInstance:
		return 24
	case *ObjBoundMethod:
		return 32
	case *ObjNative:
		return 24
	default:
		return 16
	}
}

// allocate links a freshly constructed object into the heap and adjusts
// bytes_allocated, collecting first if the new total warrants it (or if
// stress mode is on).
func (vm *VM) allocate(o Obj) {
	size := sizeOf(o)
	vm.bytesAllocated += size

	if vm.stressGC {
		vm.collectGarbage()
	} else if vm.bytesAllocated > vm.nextGC {
		vm.collectGarbage()
	}

	h := o.header()
	h.next = vm.objects
	vm.objects = o
}

func (vm *VM) markObject(o Obj) {
	if o == nil {
		return
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true
	vm.grayStack = append(vm.grayStack, o)
}

func (vm *VM) markValue(v Value) {
	if v.IsObject() {
		vm.markObject(v.AsObject())
	}
}

func (vm *VM) markTable(t *Table) {
	if t == nil {
		return
	}
	for _, e := range t.entries {
		if e.Key != nil {
			vm.markObject(e.Key)
			vm.markValue(e.Value)
		}
	}
}

// markRoots marks every GC root: stack slots, frame closures, open
// upvalues, globals, the compiler chain, and the cached init string.
func (vm *VM) markRoots() {
	for i := 0; i < vm.stackTop; i++ {
		vm.markValue(vm.stack[i])
	}

	for i := 0; i < vm.frameCount; i++ {
		vm.markObject(vm.frames[i].closure)
	}

	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		vm.markObject(uv)
	}

	vm.markTable(vm.globals)

	for c := vm.compiler; c != nil; c = c.enclosing {
		vm.markObject(c.function)
	}

	if vm.initString != nil {
		vm.markObject(vm.initString)
	}
}

// traceReferences pops objects off the gray worklist and blackens them:
// marks everything each references, until the worklist is empty.
func (vm *VM) traceReferences() {
	for len(vm.grayStack) > 0 {
		n := len(vm.grayStack) - 1
		o := vm.grayStack[n]
		vm.grayStack = vm.grayStack[:n]
		vm.blackenObject(o)
	}
}

// blackenObject marks every object o directly references. Strings and
// natives have no outgoing references.
func (vm *VM) blackenObject(o Obj) {
	switch v := o.(type) {
	case *ObjString, *ObjNative:
		// leaf objects
	case *ObjUpvalue:
		vm.markValue(v.Closed)
	case *ObjFunction:
		if v.Name != nil {
			vm.markObject(v.Name)
		}
		for _, c := range v.Chunk.Constants {
			vm.markValue(c)
		}
	case *ObjClosure:
		vm.markObject(v.Function)
		for _, uv := range v.Upvalues {
			if uv != nil { // not yet filled in while OP_CLOSURE captures
				vm.markObject(uv)
			}
		}
	case *ObjClass:
		vm.markObject(v.Name)
		vm.markTable(v.Methods)
	case *ObjInstance:
		vm.markObject(v.Class)
		vm.markTable(v.Fields)
	case *ObjBoundMethod:
		vm.markValue(v.Receiver)
		vm.markObject(v.Method)
	}
}

// tableRemoveWhiteKeys sweeps the weak interned-string table: any key
// that did not get marked during tracing is deleted (tombstoned) before
// the general sweep runs, so unreferenced strings don't survive through
// the pool.
func (vm *VM) tableRemoveWhiteKeys(t *Table) {
	for _, key := range t.Keys() {
		if !key.header().marked {
			t.Delete(key)
		}
	}
}

// sweep walks the intrusive object list once: marked objects are
// unmarked and kept, unmarked objects are unlinked and their payload
// size subtracted from bytes_allocated.
func (vm *VM) sweep() {
	var prev Obj
	obj := vm.objects

	for obj != nil {
		h := obj.header()
		if h.marked {
			h.marked = false
			prev = obj
			obj = h.next
			continue
		}

		unreached := obj
		obj = h.next
		if prev != nil {
			prev.header().next = obj
		} else {
			vm.objects = obj
		}

		vm.bytesAllocated -= sizeOf(unreached)
	}
}

// collectGarbage runs one full mark-sweep cycle: mark roots, trace to a
// fixed point, prune the weak string table, sweep, then grow the next
// collection threshold.
func (vm *VM) collectGarbage() {
	vm.markRoots()
	vm.traceReferences()
	vm.tableRemoveWhiteKeys(vm.strings)
	vm.sweep()

	vm.nextGC = vm.bytesAllocated * vm.heapGrowFactor
	if vm.nextGC == 0 {
		vm.nextGC = 1024 * 1024
	}

	if vm.logGC {
		fmt.Fprintf(vm.stdout, "-- gc collected, %d bytes allocated, next at %d\n", vm.bytesAllocated, vm.nextGC)
	}
}

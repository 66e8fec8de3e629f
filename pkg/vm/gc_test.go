package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternStringReturnsSameObjectForEqualContent(t *testing.T) {
	machine := New()
	a := machine.internString("hello")
	b := machine.internString("hel" + "lo")
	assert.Same(t, a, b, "two interns of equal bytes must be the same object")
}

func TestInternStringDistinctContentDistinctObjects(t *testing.T) {
	machine := New()
	a := machine.internString("hello")
	b := machine.internString("world")
	assert.NotSame(t, a, b)
}

func TestCollectGarbageClearsMarkBitsAndFreesUnreachable(t *testing.T) {
	machine := New()

	// Allocate a string reachable only from the operand stack, then pop it
	// so nothing roots it, then one that stays live via a global.
	machine.push(ObjectVal(machine.internString("garbage")))
	machine.pop()

	live := machine.internString("kept")
	machine.globals.Set(live, Bool(true))

	before := machine.bytesAllocated
	machine.CollectGarbage()

	for o := machine.objects; o != nil; o = o.header().next {
		assert.False(t, o.header().marked, "sweep must clear every surviving object's mark bit")
	}

	v, ok := machine.globals.Get(live)
	require.True(t, ok)
	assert.Equal(t, Bool(true), v)

	assert.LessOrEqual(t, machine.bytesAllocated, before)
}

func TestCaptureUpvalueReusesExistingOpenUpvalueForSameSlot(t *testing.T) {
	machine := New()
	machine.stackTop = 3

	first := machine.captureUpvalue(1)
	second := machine.captureUpvalue(1)
	assert.Same(t, first, second, "at most one open upvalue per live slot")
}

func TestCaptureUpvalueOrdersOpenListByDescendingSlot(t *testing.T) {
	machine := New()
	machine.stackTop = 5

	machine.captureUpvalue(1)
	machine.captureUpvalue(3)
	machine.captureUpvalue(2)

	var slots []int
	for uv := machine.openUpvalues; uv != nil; uv = uv.NextOpen {
		slots = append(slots, uv.slot)
	}
	assert.Equal(t, []int{3, 2, 1}, slots)
}

func TestCloseUpvaluesCopiesValueAndRedirectsLocation(t *testing.T) {
	machine := New()
	machine.stackTop = 2
	machine.stack[1] = Number(42)

	uv := machine.captureUpvalue(1)
	machine.closeUpvalues(1)

	assert.Equal(t, Number(42), uv.Closed)
	assert.Same(t, &uv.Closed, uv.Location)
	assert.Nil(t, machine.openUpvalues)
}

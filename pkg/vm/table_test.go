package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func internedString(s string) *ObjString {
	return &ObjString{Chars: s, Hash: fnvHash(s)}
}

func TestTableSetAndGet(t *testing.T) {
	tbl := NewTable()
	key := internedString("x")

	ok := tbl.Set(key, Number(42))
	assert.True(t, ok, "first Set of a new key should report true")

	v, found := tbl.Get(key)
	require.True(t, found)
	assert.Equal(t, Number(42), v)
}

func TestTableSetExistingKeyDoesNotGrowCount(t *testing.T) {
	tbl := NewTable()
	key := internedString("x")

	tbl.Set(key, Number(1))
	before := tbl.Count()
	tbl.Set(key, Number(2))
	assert.Equal(t, before, tbl.Count())

	v, _ := tbl.Get(key)
	assert.Equal(t, Number(2), v)
}

func TestTableDeleteTombstoneDoesNotDecrementCount(t *testing.T) {
	tbl := NewTable()
	key := internedString("x")
	tbl.Set(key, Number(1))

	before := tbl.Count()
	ok := tbl.Delete(key)
	assert.True(t, ok)
	assert.Equal(t, before, tbl.Count(), "tombstones keep occupying their slot for count purposes")

	_, found := tbl.Get(key)
	assert.False(t, found)
}

func TestTableFindStringAfterGrowth(t *testing.T) {
	tbl := NewTable()
	const n = 64
	keys := make([]*ObjString, n)
	for i := 0; i < n; i++ {
		s := string(rune('a' + i%26))
		for j := 0; j < i/26; j++ {
			s += string(rune('a' + j))
		}
		keys[i] = internedString(s)
		tbl.Set(keys[i], Number(float64(i)))
	}

	for i, k := range keys {
		found := tbl.FindString(k.Chars, k.Hash)
		require.NotNil(t, found, "key %q should survive growth", k.Chars)
		v, ok := tbl.Get(found)
		require.True(t, ok)
		assert.Equal(t, Number(float64(i)), v)
	}
}

func TestTableAddAllCopiesEntries(t *testing.T) {
	a := internedString("a")
	src := NewTable()
	src.Set(a, Number(1))
	src.Set(internedString("b"), Number(2))

	dst := NewTable()
	dst.AddAll(src)

	v, ok := dst.Get(a)
	require.True(t, ok)
	assert.Equal(t, Number(1), v)
}

func TestTableLoadFactorCeiling(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 100; i++ {
		s := internedString(string(rune('A' + i)))
		tbl.Set(s, Number(float64(i)))
	}
	assert.LessOrEqual(t, float64(tbl.Count())/float64(len(tbl.entries)), tableMaxLoad)
}

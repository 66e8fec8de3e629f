package vm

// tableMaxLoad is the load-factor ceiling; the table grows once
// count+1 would exceed capacity*tableMaxLoad.
const tableMaxLoad = 0.75

// tableEntry is one slot of the open-addressed table. A slot with a nil
// Key and a value of Bool(true) is a tombstone: a deleted entry kept so
// probe chains stay walkable. A slot with a nil Key and Value.IsNil() is
// truly empty.
type tableEntry struct {
	Key   *ObjString
	Value Value
}

func (e tableEntry) isTombstone() bool {
	return e.Key == nil && e.Value.IsBool() && e.Value.AsBool()
}

func (e tableEntry) isEmpty() bool {
	return e.Key == nil && !e.isTombstone()
}

// Table is the generic open-addressing hash map from interned string to
// Value used for globals, class method tables, and instance field tables,
// and (keyed the same way) for the interned-string pool itself.
//
// It uses linear probing with a 0.75 load-factor ceiling; capacity grows
// by doubling with a minimum of 8. Deletions leave a tombstone rather than
// a true empty slot, so that lookups probing past a deleted entry still
// find keys that were inserted after it.
type Table struct {
	count    int
	entries  []tableEntry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Count returns the number of occupied slots: live entries plus
// tombstones, since Delete does not decrement it. A grow drops the
// tombstones and resets it to the live entries.
func (t *Table) Count() int { return t.count }

// Get looks up key, returning its value and whether it was found.
func (t *Table) Get(key *ObjString) (Value, bool) {
	if len(t.entries) == 0 {
		return Nil, false
	}
	e := t.find(key)
	if e.Key == nil {
		return Nil, false
	}
	return e.Value, true
}

// Set inserts or overwrites key -> value. Returns true if key was not
// already present (whether it went into an empty slot or a reused
// tombstone), false if an existing entry was overwritten.
func (t *Table) Set(key *ObjString, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow(growCapacity(len(t.entries)))
	}

	idx := t.findIndex(key)
	entry := &t.entries[idx]
	isNewKey := entry.Key == nil
	if isNewKey && entry.Value.IsNil() {
		// Only a truly empty slot (not a reused tombstone) grows count.
		t.count++
	}

	entry.Key = key
	entry.Value = value
	return isNewKey
}

// Delete removes key, leaving a tombstone so later probes still succeed.
// Returns true if the key was present.
func (t *Table) Delete(key *ObjString) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := t.findIndex(key)
	entry := &t.entries[idx]
	if entry.Key == nil {
		return false
	}

	entry.Key = nil
	entry.Value = Bool(true) // tombstone marker
	return true
}

// AddAll copies every entry of src into t, used by INHERIT to copy a
// superclass's method table into its subclass.
func (t *Table) AddAll(src *Table) {
	for _, e := range src.entries {
		if e.Key != nil {
			t.Set(e.Key, e.Value)
		}
	}
}

// FindString looks up an interned string by its raw content without first
// constructing an ObjString, used by the interning entry points to decide
// hit vs. miss. It compares length, hash, then bytes.
func (t *Table) FindString(chars string, hash uint32) *ObjString {
	if len(t.entries) == 0 {
		return nil
	}

	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			if !entry.isTombstone() {
				return nil
			}
		} else if len(entry.Key.Chars) == len(chars) && entry.Key.Hash == hash && entry.Key.Chars == chars {
			return entry.Key
		}
		index = (index + 1) & mask
	}
}

// find returns the entry for key (with Key == nil if absent).
func (t *Table) find(key *ObjString) tableEntry {
	idx := t.findIndex(key)
	return t.entries[idx]
}

// findIndex probes for key, stopping at the key itself or at the first
// empty-non-tombstone slot (remembering the earliest tombstone seen so
// insertion can reuse it).
func (t *Table) findIndex(key *ObjString) int {
	mask := uint32(len(t.entries) - 1)
	index := key.Hash & mask
	var tombstone int = -1

	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			if entry.isEmpty() {
				if tombstone != -1 {
					return tombstone
				}
				return int(index)
			}
			// Tombstone.
			if tombstone == -1 {
				tombstone = int(index)
			}
		} else if entry.Key == key {
			return int(index)
		}
		index = (index + 1) & mask
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}

func (t *Table) grow(capacity int) {
	newEntries := make([]tableEntry, capacity)
	newCount := 0

	for _, e := range t.entries {
		if e.Key == nil {
			continue
		}
		idx := findIndexIn(newEntries, e.Key)
		newEntries[idx] = e
		newCount++
	}

	t.entries = newEntries
	t.count = newCount
}

// findIndexIn probes dst (which contains no tombstones, only empty slots
// and live entries) for key's slot during a grow/rehash.
func findIndexIn(dst []tableEntry, key *ObjString) int {
	mask := uint32(len(dst) - 1)
	index := key.Hash & mask
	for {
		if dst[index].Key == nil {
			return int(index)
		}
		index = (index + 1) & mask
	}
}

// Keys returns every live key, in bucket order. Used by the GC to sweep
// the weak interned-string table.
func (t *Table) Keys() []*ObjString {
	keys := make([]*ObjString, 0, t.count)
	for _, e := range t.entries {
		if e.Key != nil {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Entries returns every live (key, value) pair, in bucket order.
func (t *Table) Entries() []tableEntry {
	out := make([]tableEntry, 0, t.count)
	for _, e := range t.entries {
		if e.Key != nil {
			out = append(out, e)
		}
	}
	return out
}

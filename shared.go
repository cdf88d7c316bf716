package depot

import "reflect"

// SharedHandle identifies one deduplicated shared component value. Handle 0
// is the zero value of every shared type and is never reference counted.
type SharedHandle int32

const defaultSharedHandle SharedHandle = 0

type sharedKey struct {
	typeID TypeID
	value  any
}

type sharedEntry struct {
	typeID   TypeID
	value    any
	refs     int32
	nextFree int32
}

// sharedValueTable stores each distinct (type, value) pair once. Chunks,
// query filters and in-flight operations each hold one reference per handle
// they use; a value is discarded when its last reference goes away.
type sharedValueTable struct {
	entries  []sharedEntry
	index    map[sharedKey]SharedHandle
	freeHead int32
}

func newSharedValueTable() *sharedValueTable {
	return &sharedValueTable{
		entries:  make([]sharedEntry, 1, 16),
		index:    make(map[sharedKey]SharedHandle, 16),
		freeHead: noFreeSlot,
	}
}

// insert returns the handle for value and takes one reference on it.
func (t *sharedValueTable) insert(typeID TypeID, value any) SharedHandle {
	if isZeroValue(value) {
		return defaultSharedHandle
	}
	key := sharedKey{typeID: typeID, value: value}
	if h, ok := t.index[key]; ok {
		t.entries[h].refs++
		return h
	}
	entry := sharedEntry{typeID: typeID, value: value, refs: 1, nextFree: noFreeSlot}
	var h SharedHandle
	if t.freeHead != noFreeSlot {
		h = SharedHandle(t.freeHead)
		t.freeHead = t.entries[h].nextFree
		t.entries[h] = entry
	} else {
		h = SharedHandle(len(t.entries))
		t.entries = append(t.entries, entry)
	}
	t.index[key] = h
	return h
}

// find returns the handle for value without taking a reference.
func (t *sharedValueTable) find(typeID TypeID, value any) (SharedHandle, bool) {
	if isZeroValue(value) {
		return defaultSharedHandle, true
	}
	h, ok := t.index[sharedKey{typeID: typeID, value: value}]
	return h, ok
}

func (t *sharedValueTable) retain(h SharedHandle) {
	if h == defaultSharedHandle {
		return
	}
	t.entries[h].refs++
}

func (t *sharedValueTable) release(h SharedHandle) {
	if h == defaultSharedHandle {
		return
	}
	entry := &t.entries[h]
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(t.index, sharedKey{typeID: entry.typeID, value: entry.value})
	*entry = sharedEntry{nextFree: t.freeHead}
	t.freeHead = int32(h)
}

// value returns the stored value for h, or nil for the default handle.
func (t *sharedValueTable) value(h SharedHandle) any {
	if h == defaultSharedHandle {
		return nil
	}
	return t.entries[h].value
}

func (t *sharedValueTable) refCount(h SharedHandle) int {
	if h == defaultSharedHandle {
		return 0
	}
	return int(t.entries[h].refs)
}

// Len is the number of live non-default values.
func (t *sharedValueTable) Len() int {
	return len(t.index)
}

func isZeroValue(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

package depot

import "fmt"

// Entity is a generational handle. Index names a slot in the store's entity
// index; Version must match the slot's current version for the handle to be
// alive. The zero Entity is never alive.
type Entity struct {
	Index   uint32
	Version uint32
}

// IsNull reports whether e is the zero Entity.
func (e Entity) IsNull() bool {
	return e == Entity{}
}

func (e Entity) String() string {
	return fmt.Sprintf("Entity(%d:%d)", e.Index, e.Version)
}

const noFreeSlot int32 = -1

// entityEntry is either a live location or a link in the free list.
type entityEntry struct {
	version   uint32
	alive     bool
	archetype ArchetypeID
	chunk     chunkID
	row       int32
	nextFree  int32
}

// entityIndex maps Entity handles to their current storage location. Slots
// are recycled through an intrusive free list; a slot's version is bumped
// every time it is freed.
type entityIndex struct {
	entries  []entityEntry
	freeHead int32
	live     int
}

func newEntityIndex(capacity int) *entityIndex {
	x := &entityIndex{freeHead: noFreeSlot}
	x.grow(max(capacity, 1))
	return x
}

// grow doubles the slot table (or grows it to at least n slots) and chains
// the new slots onto the free list, lowest index first.
func (x *entityIndex) grow(n int) {
	old := len(x.entries)
	size := max(old*2, old+n)
	entries := make([]entityEntry, size)
	copy(entries, x.entries)
	for i := size - 1; i >= old; i-- {
		entries[i] = entityEntry{version: 1, nextFree: x.freeHead}
		x.freeHead = int32(i)
	}
	x.entries = entries
}

func (x *entityIndex) allocate() Entity {
	if x.freeHead == noFreeSlot {
		x.grow(1)
	}
	idx := x.freeHead
	entry := &x.entries[idx]
	x.freeHead = entry.nextFree
	entry.nextFree = noFreeSlot
	entry.alive = true
	x.live++
	return Entity{Index: uint32(idx), Version: entry.version}
}

// free releases e's slot. The caller has already checked e exists.
func (x *entityIndex) free(e Entity) {
	entry := &x.entries[e.Index]
	entry.alive = false
	entry.version++
	if entry.version == 0 {
		entry.version = 1
	}
	entry.nextFree = x.freeHead
	x.freeHead = int32(e.Index)
	x.live--
}

func (x *entityIndex) exists(e Entity) bool {
	if int(e.Index) >= len(x.entries) {
		return false
	}
	entry := &x.entries[e.Index]
	return entry.alive && entry.version == e.Version
}

func (x *entityIndex) entry(e Entity) (*entityEntry, bool) {
	if !x.exists(e) {
		return nil, false
	}
	return &x.entries[e.Index], true
}

func (x *entityIndex) place(e Entity, a ArchetypeID, c chunkID, row int) {
	entry := &x.entries[e.Index]
	entry.archetype = a
	entry.chunk = c
	entry.row = int32(row)
}

// patchRow updates the row of an entity moved inside its chunk.
func (x *entityIndex) patchRow(e Entity, c chunkID, row int) {
	entry := &x.entries[e.Index]
	entry.chunk = c
	entry.row = int32(row)
}

// Len is the number of live entities.
func (x *entityIndex) Len() int {
	return x.live
}

// Capacity is the size of the slot table.
func (x *entityIndex) Capacity() int {
	return len(x.entries)
}

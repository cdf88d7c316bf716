package depot

import (
	"reflect"
	"unsafe"
)

// DefaultChunkBytes is the size of one storage block.
const DefaultChunkBytes = 16 * 1024

const managedSlotSize = unsafe.Sizeof(interface{}(nil))

type chunkID int32

type columnKind uint8

const (
	columnBytes columnKind = iota
	columnManaged
	columnShared
)

type column struct {
	typeID TypeID
	kind   columnKind
	size   uintptr
	offset uintptr
	// slot indexes chunk.objects for managed columns and chunk.shared for
	// shared columns.
	slot int
	// elem is the value type of a managed column.
	elem reflect.Type
}

// newManaged returns a fresh *T for a managed column. Every live managed
// cell holds one, so readers never have to allocate.
func (col *column) newManaged() any {
	return reflect.New(col.elem).Interface()
}

// layout is the columnar arrangement of one archetype inside a chunk. It is
// computed once when the archetype is created.
type layout struct {
	columns  []column
	index    [MaxComponentTypes]int16
	capacity int
	rowBytes int
	managed  int
	shared   int
}

func (l *layout) column(id TypeID) (*column, bool) {
	i := l.index[id]
	if i < 0 {
		return nil, false
	}
	return &l.columns[i], true
}

func alignUp(v, align uintptr) uintptr {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func computeLayout(reg *TypeRegistry, types []TypeID, chunkBytes int) (layout, error) {
	var l layout
	for i := range l.index {
		l.index[i] = -1
	}
	l.columns = make([]column, len(types))
	row := 0
	for i, id := range types {
		info := reg.info(id)
		col := column{typeID: id}
		switch info.spec.category {
		case CategoryValue:
			col.kind = columnBytes
			col.size = info.size
			row += int(info.size)
		case CategoryManaged:
			col.kind = columnManaged
			col.elem = info.spec.rtype
			col.slot = l.managed
			l.managed++
			row += int(managedSlotSize)
		case CategoryShared:
			col.kind = columnShared
			col.slot = l.shared
			l.shared++
		}
		l.columns[i] = col
		l.index[id] = int16(i)
	}
	l.rowBytes = row
	if row > chunkBytes {
		return layout{}, RowTooLargeError{RowBytes: row, ChunkBytes: chunkBytes}
	}
	capacity := chunkBytes / row
	for capacity > 0 && l.place(reg, capacity) > uintptr(chunkBytes) {
		capacity--
	}
	if capacity == 0 {
		return layout{}, RowTooLargeError{RowBytes: row, ChunkBytes: chunkBytes}
	}
	l.place(reg, capacity)
	l.capacity = capacity
	return l, nil
}

// place assigns aligned column offsets for the given capacity and returns the
// number of block bytes used.
func (l *layout) place(reg *TypeRegistry, capacity int) uintptr {
	var off uintptr
	for i := range l.columns {
		col := &l.columns[i]
		if col.kind != columnBytes {
			continue
		}
		if col.size == 0 {
			col.offset = 0
			continue
		}
		off = alignUp(off, reg.info(col.typeID).align)
		col.offset = off
		off += col.size * uintptr(capacity)
	}
	return off
}

// chunk is one fixed-size block holding up to capacity rows of a single
// archetype, one tightly packed array per column.
type chunk struct {
	id        chunkID
	data      []byte
	archetype ArchetypeID
	capacity  int
	count     int
	listIndex int
	shared    []SharedHandle
	objects   [][]any
}

func newChunk(id chunkID, chunkBytes int) *chunk {
	words := make([]uint64, chunkBytes/8)
	return &chunk{
		id:        id,
		data:      unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), chunkBytes),
		listIndex: -1,
	}
}

// bind prepares an empty chunk for archetype a.
func (c *chunk) bind(a *Archetype, shared []SharedHandle) {
	l := &a.layout
	c.archetype = a.id
	c.capacity = l.capacity
	c.count = 0
	c.shared = append(c.shared[:0], shared...)
	if cap(c.objects) < l.managed {
		c.objects = make([][]any, l.managed)
	}
	c.objects = c.objects[:l.managed]
	for i := range c.objects {
		if cap(c.objects[i]) < l.capacity {
			c.objects[i] = make([]any, l.capacity)
		} else {
			c.objects[i] = c.objects[i][:l.capacity]
			clear(c.objects[i])
		}
	}
}

func (c *chunk) full() bool {
	return c.count >= c.capacity
}

func (c *chunk) base(col *column) unsafe.Pointer {
	return unsafe.Pointer(&c.data[col.offset])
}

func (c *chunk) cell(col *column, row int) []byte {
	start := col.offset + uintptr(row)*col.size
	return c.data[start : start+col.size]
}

func (c *chunk) cells(col *column, row, n int) []byte {
	start := col.offset + uintptr(row)*col.size
	return c.data[start : start+uintptr(n)*col.size]
}

// entities is the Entity column of the chunk's live rows.
func (c *chunk) entities() []Entity {
	return unsafe.Slice((*Entity)(unsafe.Pointer(&c.data[0])), c.count)
}

func (c *chunk) setEntity(row int, e Entity) {
	*(*Entity)(unsafe.Pointer(&c.data[uintptr(row)*unsafe.Sizeof(Entity{})])) = e
}

func (c *chunk) entityAt(row int) Entity {
	return *(*Entity)(unsafe.Pointer(&c.data[uintptr(row)*unsafe.Sizeof(Entity{})]))
}

func (c *chunk) zeroRow(l *layout, row int) {
	for i := range l.columns {
		col := &l.columns[i]
		switch col.kind {
		case columnBytes:
			if col.size > 0 {
				clear(c.cell(col, row))
			}
		case columnManaged:
			c.objects[col.slot][row] = col.newManaged()
		}
	}
}

// copyRowFrom fills dst row dstRow from src row srcRow. Columns present in
// both layouts are copied, columns only in dl are zeroed and columns only in
// sl are dropped. Managed slots are copied by reference.
func (c *chunk) copyRowFrom(dl *layout, dstRow int, src *chunk, sl *layout, srcRow int) {
	for i := range dl.columns {
		col := &dl.columns[i]
		if col.kind == columnShared {
			continue
		}
		from, ok := sl.column(col.typeID)
		switch col.kind {
		case columnBytes:
			if col.size == 0 {
				continue
			}
			if ok {
				copy(c.cell(col, dstRow), src.cell(from, srcRow))
			} else {
				clear(c.cell(col, dstRow))
			}
		case columnManaged:
			if ok {
				c.objects[col.slot][dstRow] = src.objects[from.slot][srcRow]
			} else {
				c.objects[col.slot][dstRow] = col.newManaged()
			}
		}
	}
}

// replicateRow copies row srcRow of src into n consecutive rows of c starting
// at dstRow. Both chunks belong to the same archetype. Managed cells get a
// shallow copy each.
func (c *chunk) replicateRow(l *layout, dstRow, n int, src *chunk, srcRow int) {
	for i := range l.columns {
		col := &l.columns[i]
		switch col.kind {
		case columnBytes:
			if col.size == 0 || col.typeID == entityTypeID {
				continue
			}
			cell := src.cell(col, srcRow)
			for k := 0; k < n; k++ {
				copy(c.cell(col, dstRow+k), cell)
			}
		case columnManaged:
			v := src.objects[col.slot][srcRow]
			for k := 0; k < n; k++ {
				if v == nil {
					c.objects[col.slot][dstRow+k] = col.newManaged()
					continue
				}
				c.objects[col.slot][dstRow+k] = cloneManaged(v)
			}
		}
	}
}

// removeRange deletes rows [row, row+n) and keeps the chunk dense by moving
// the last rows into the hole with one copy per column. It returns the first
// destination row and the number of rows moved; callers patch the entity
// index for those rows.
func (c *chunk) removeRange(l *layout, row, n int) (movedTo, moved int) {
	tail := c.count - (row + n)
	k := min(n, tail)
	if k > 0 {
		src := c.count - k
		for i := range l.columns {
			col := &l.columns[i]
			switch col.kind {
			case columnBytes:
				if col.size > 0 {
					copy(c.cells(col, row, k), c.cells(col, src, k))
				}
			case columnManaged:
				objs := c.objects[col.slot]
				copy(objs[row:row+k], objs[src:src+k])
			}
		}
	}
	for i := range l.columns {
		col := &l.columns[i]
		if col.kind == columnManaged {
			clear(c.objects[col.slot][c.count-n : c.count])
		}
	}
	c.count -= n
	return row, k
}

// chunkAllocator hands out fixed-size blocks. Blocks are never returned to
// the runtime; emptied chunks go to a pool shared by every archetype.
type chunkAllocator struct {
	chunkBytes int
	chunks     []*chunk
	empty      []chunkID
}

func newChunkAllocator(chunkBytes int) *chunkAllocator {
	return &chunkAllocator{chunkBytes: chunkBytes}
}

func (a *chunkAllocator) allocate() (c *chunk, fresh bool) {
	if n := len(a.empty); n > 0 {
		id := a.empty[n-1]
		a.empty = a.empty[:n-1]
		return a.chunks[id], false
	}
	c = newChunk(chunkID(len(a.chunks)), a.chunkBytes)
	a.chunks = append(a.chunks, c)
	return c, true
}

func (a *chunkAllocator) release(c *chunk) {
	c.count = 0
	c.listIndex = -1
	c.shared = c.shared[:0]
	for i := range c.objects {
		clear(c.objects[i])
	}
	a.empty = append(a.empty, c.id)
}

func (a *chunkAllocator) get(id chunkID) *chunk {
	return a.chunks[id]
}

// Allocated is the number of blocks ever allocated.
func (a *chunkAllocator) Allocated() int {
	return len(a.chunks)
}

// Pooled is the number of empty blocks waiting for reuse.
func (a *chunkAllocator) Pooled() int {
	return len(a.empty)
}

// cloneManaged copies the value behind a managed cell's pointer.
func cloneManaged(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return v
	}
	p := reflect.New(rv.Elem().Type())
	p.Elem().Set(rv.Elem())
	return p.Interface()
}

package depot

import (
	"iter"
	"unsafe"
)

// Cursor walks a query chunk by chunk and row by row. The store is locked
// while a cursor is active, so structural changes must go through the
// Enqueue* methods; they are applied when the cursor finishes.
type Cursor struct {
	query *Query

	chunkIndex int
	row        int
	remaining  int
	current    *chunk

	initialized bool
}

func newCursor(q *Query) *Cursor {
	return &Cursor{query: q}
}

// Next advances to the next matching entity.
func (c *Cursor) Next() bool {
	if !c.initialized {
		c.initialize()
		if c.current != nil {
			return true
		}
		c.Reset()
		return false
	}
	if c.row+1 < c.remaining {
		c.row++
		return true
	}
	return c.advance()
}

func (c *Cursor) advance() bool {
	chunks := c.query.chunks
	for c.chunkIndex+1 < len(chunks) {
		c.chunkIndex++
		c.current = chunks[c.chunkIndex]
		c.remaining = c.current.count
		c.row = 0
		if c.remaining > 0 {
			return true
		}
	}
	c.Reset()
	return false
}

// Entities iterates the remaining matches as (row in chunk, Entity).
func (c *Cursor) Entities() iter.Seq2[int, Entity] {
	return func(yield func(int, Entity) bool) {
		for c.Next() {
			if !yield(c.row, c.current.entityAt(c.row)) {
				c.Reset()
				return
			}
		}
	}
}

func (c *Cursor) initialize() {
	if c.initialized {
		return
	}
	c.query.store.Lock()
	c.query.refresh()
	c.initialized = true
	c.chunkIndex = 0
	c.row = 0
	c.current = nil
	c.remaining = 0
	if len(c.query.chunks) > 0 {
		c.current = c.query.chunks[0]
		c.remaining = c.current.count
	}
}

// Reset rewinds the cursor and unlocks the store, playing back any commands
// enqueued during iteration.
func (c *Cursor) Reset() {
	if !c.initialized {
		return
	}
	c.chunkIndex = 0
	c.row = 0
	c.remaining = 0
	c.current = nil
	c.initialized = false
	s := c.query.store
	if err := s.Unlock(); err != nil {
		s.log.Error().Err(err).Msg("playback after cursor failed")
	}
}

// CurrentEntity returns the entity under the cursor.
func (c *Cursor) CurrentEntity() Entity {
	return c.current.entityAt(c.row)
}

func (c *Cursor) RemainingInChunk() int {
	return c.remaining - c.row
}

func (c *Cursor) TotalMatched() int {
	return c.query.Length()
}

// GetFromCursor returns a pointer to the cursor entity's value of c. Shared
// components have no per-row storage; use GetSharedComponent. Jobs reading
// or writing c are joined first, since the pointer is writable.
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	s := cursor.query.store
	id, ok := s.types.Lookup(c)
	if !ok {
		panic(ComponentNotFoundError{Component: c})
	}
	s.tracker.completeFor(id, true)
	p, ok := rowPointer[T](s, cursor.current, id, cursor.row)
	if !ok {
		panic(ComponentNotFoundError{Component: c})
	}
	return p
}

// CheckCursor reports whether the cursor entity carries c.
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	s := cursor.query.store
	id, ok := s.types.Lookup(c)
	if !ok || cursor.current == nil {
		return false
	}
	return s.archetypes.get(cursor.current.archetype).has(id)
}

// rowPointer resolves the address of one value or managed cell. Managed
// cells hold a *T from the moment their row is created.
func rowPointer[T any](s *Store, ch *chunk, id TypeID, row int) (*T, bool) {
	a := s.archetypes.get(ch.archetype)
	col, ok := a.layout.column(id)
	if !ok {
		return nil, false
	}
	switch col.kind {
	case columnBytes:
		return (*T)(unsafe.Add(ch.base(col), uintptr(row)*col.size)), true
	case columnManaged:
		return managedCell[T](ch.objects[col.slot], row), true
	}
	return nil, false
}

// managedCell never writes the slot: concurrent readers share it.
func managedCell[T any](slots []any, row int) *T {
	if p, ok := slots[row].(*T); ok {
		return p
	}
	return new(T)
}

package depot

import (
	"encoding/binary"
	"iter"

	"github.com/TheBitDrifter/mask"
	iter_util "github.com/TheBitDrifter/util/iter"
	"github.com/cespare/xxhash/v2"
	"github.com/kamstrup/intmap"
	"github.com/rs/zerolog"
)

type ArchetypeID uint32

// Archetype is the storage for every entity that carries exactly one set of
// component types. Its schema never changes after creation.
type Archetype struct {
	id     ArchetypeID
	types  []TypeID
	comps  []Component
	hash   uint64
	mask   mask.Mask
	layout layout
	chunks []chunkID
	count  int
	// sharedTypes lists the shared TypeIDs in chunk.shared slot order.
	sharedTypes []TypeID
}

func (a *Archetype) ID() uint32 {
	return uint32(a.id)
}

// Components returns the archetype's component handles ordered by TypeID.
func (a *Archetype) Components() []Component {
	return iter_util.Collect(a.componentSeq())
}

func (a *Archetype) componentSeq() iter.Seq[Component] {
	return func(yield func(Component) bool) {
		for _, c := range a.comps {
			if !yield(c) {
				return
			}
		}
	}
}

func (a *Archetype) ChunkCapacity() int {
	return a.layout.capacity
}

// Count is the number of live entities across all chunks.
func (a *Archetype) Count() int {
	return a.count
}

func (a *Archetype) ChunkCount() int {
	return len(a.chunks)
}

func (a *Archetype) Mask() mask.Mask {
	return a.mask
}

func (a *Archetype) has(id TypeID) bool {
	return a.layout.index[id] >= 0
}

func (a *Archetype) sharedSlot(id TypeID) (int, bool) {
	col, ok := a.layout.column(id)
	if !ok || col.kind != columnShared {
		return 0, false
	}
	return col.slot, true
}

func sameTypes(a, b []TypeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hashTypes(types []TypeID) uint64 {
	d := xxhash.New()
	var buf [2]byte
	for _, id := range types {
		binary.LittleEndian.PutUint16(buf[:], uint16(id))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// archetypeRegistry owns every archetype and the chunks they link to.
type archetypeRegistry struct {
	types       *TypeRegistry
	alloc       *chunkAllocator
	shared      *sharedValueTable
	archetypes  []*Archetype
	byHash      *intmap.Map[uint64, []ArchetypeID]
	transitions Cache[transitionKey, ArchetypeID]
	listeners   []func(*Archetype)
	log         zerolog.Logger
}

func newArchetypeRegistry(types *TypeRegistry, alloc *chunkAllocator, shared *sharedValueTable, transitionCacheSize int, log zerolog.Logger) *archetypeRegistry {
	return &archetypeRegistry{
		types:       types,
		alloc:       alloc,
		shared:      shared,
		byHash:      intmap.New[uint64, []ArchetypeID](64),
		transitions: FactoryNewCache[transitionKey, ArchetypeID](transitionCacheSize),
		log:         log,
	}
}

// subscribe registers fn to be called for every archetype created from now on.
func (r *archetypeRegistry) subscribe(fn func(*Archetype)) {
	r.listeners = append(r.listeners, fn)
}

func (r *archetypeRegistry) get(id ArchetypeID) *Archetype {
	return r.archetypes[id]
}

func (r *archetypeRegistry) find(types []TypeID, hash uint64) (*Archetype, bool) {
	bucket, ok := r.byHash.Get(hash)
	if !ok {
		return nil, false
	}
	for _, id := range bucket {
		if a := r.archetypes[id]; sameTypes(a.types, types) {
			return a, true
		}
	}
	return nil, false
}

// getOrCreate returns the canonical archetype for a sorted TypeID list that
// starts with the Entity column. created reports whether it is new.
func (r *archetypeRegistry) getOrCreate(types []TypeID) (a *Archetype, created bool, err error) {
	hash := hashTypes(types)
	if a, ok := r.find(types, hash); ok {
		return a, false, nil
	}
	l, err := computeLayout(r.types, types, r.alloc.chunkBytes)
	if err != nil {
		return nil, false, err
	}
	a = &Archetype{
		id:     ArchetypeID(len(r.archetypes)),
		types:  append([]TypeID(nil), types...),
		hash:   hash,
		layout: l,
	}
	for _, id := range types[1:] {
		info := r.types.info(id)
		a.comps = append(a.comps, info.component)
		a.mask.Mark(info.bit)
		if info.spec.category == CategoryShared {
			a.sharedTypes = append(a.sharedTypes, id)
		}
	}
	r.archetypes = append(r.archetypes, a)
	bucket, _ := r.byHash.Get(hash)
	r.byHash.Put(hash, append(bucket, a.id))

	r.log.Debug().
		Uint32("archetype", uint32(a.id)).
		Int("types", len(a.comps)).
		Int("chunk_capacity", l.capacity).
		Int("row_bytes", l.rowBytes).
		Msg("archetype created")

	for _, fn := range r.listeners {
		fn(a)
	}
	return a, true, nil
}

// transition resolves the archetype reached by adding or removing one type,
// memoising the edge.
func (r *archetypeRegistry) transition(from *Archetype, id TypeID, add bool) (*Archetype, bool, error) {
	key := transitionKey{from: from.id, typeID: id, add: add}
	if to, ok := r.transitions.Lookup(key); ok {
		return r.archetypes[to], false, nil
	}
	types := make([]TypeID, 0, len(from.types)+1)
	for _, t := range from.types {
		if !add && t == id {
			continue
		}
		types = append(types, t)
	}
	if add {
		types = append(types, id)
		sortTypeIDs(types)
	}
	to, created, err := r.getOrCreate(types)
	if err != nil {
		return nil, false, err
	}
	if _, err := r.transitions.Register(key, to.id); err != nil {
		r.log.Trace().Err(err).Msg("transition cache full")
	}
	return to, created, nil
}

// chunkWithFreeRow returns a chunk of a with room for one more row whose
// shared handles equal shared, allocating and linking a new chunk if none
// exists.
func (r *archetypeRegistry) chunkWithFreeRow(a *Archetype, shared []SharedHandle) *chunk {
	for i := len(a.chunks) - 1; i >= 0; i-- {
		c := r.alloc.get(a.chunks[i])
		if !c.full() && sameHandles(c.shared, shared) {
			return c
		}
	}
	c, fresh := r.alloc.allocate()
	c.bind(a, shared)
	c.listIndex = len(a.chunks)
	a.chunks = append(a.chunks, c.id)
	for _, h := range shared {
		r.shared.retain(h)
	}
	r.log.Trace().
		Uint32("archetype", uint32(a.id)).
		Int32("chunk", int32(c.id)).
		Bool("fresh", fresh).
		Msg("chunk linked")
	return c
}

// unlink detaches an empty chunk from its archetype and returns it to the
// allocator pool.
func (r *archetypeRegistry) unlink(c *chunk) {
	a := r.archetypes[c.archetype]
	last := len(a.chunks) - 1
	if c.listIndex != last {
		moved := r.alloc.get(a.chunks[last])
		a.chunks[c.listIndex] = moved.id
		moved.listIndex = c.listIndex
	}
	a.chunks = a.chunks[:last]
	for _, h := range c.shared {
		r.shared.release(h)
	}
	r.alloc.release(c)
}

// chunksOf iterates the archetype's chunks in list order.
func (r *archetypeRegistry) chunksOf(a *Archetype) iter.Seq[*chunk] {
	return func(yield func(*chunk) bool) {
		for _, id := range a.chunks {
			if !yield(r.alloc.get(id)) {
				return
			}
		}
	}
}

func sameHandles(a, b []SharedHandle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package depot

import (
	"slices"

	"github.com/rotisserie/eris"
)

// NewEntities creates n entities carrying exactly comps, all zero valued.
func (s *Store) NewEntities(n int, comps ...Component) ([]Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, eris.Errorf("cannot create %d entities", n)
	}
	types, err := s.types.registerAll(comps)
	if err != nil {
		return nil, eris.Wrap(err, "new entities")
	}
	if err := s.beginStructural(); err != nil {
		return nil, err
	}
	a, _, err := s.archetypes.getOrCreate(types)
	if err != nil {
		return nil, eris.Wrap(err, "new entities")
	}
	return s.createIn(a, n, make([]SharedHandle, len(a.sharedTypes))), nil
}

func (s *Store) NewEntity(comps ...Component) (Entity, error) {
	es, err := s.NewEntities(1, comps...)
	if err != nil {
		return Entity{}, err
	}
	return es[0], nil
}

// NewOrExistingArchetype returns the archetype for exactly comps, creating
// it if needed. Declaration order does not matter.
func (s *Store) NewOrExistingArchetype(comps ...Component) (*Archetype, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	types, err := s.types.registerAll(comps)
	if err != nil {
		return nil, eris.Wrap(err, "archetype")
	}
	if a, ok := s.archetypes.find(types, hashTypes(types)); ok {
		return a, nil
	}
	if err := s.beginStructural(); err != nil {
		return nil, err
	}
	a, _, err := s.archetypes.getOrCreate(types)
	if err != nil {
		return nil, eris.Wrap(err, "archetype")
	}
	return a, nil
}

// NewEntitiesIn creates n zero-valued entities in a.
func (s *Store) NewEntitiesIn(a *Archetype, n int) ([]Entity, error) {
	if a == nil {
		return nil, eris.New("nil archetype")
	}
	if n < 0 {
		return nil, eris.Errorf("cannot create %d entities", n)
	}
	if err := s.beginStructural(); err != nil {
		return nil, err
	}
	return s.createIn(a, n, make([]SharedHandle, len(a.sharedTypes))), nil
}

func (s *Store) createIn(a *Archetype, n int, shared []SharedHandle) []Entity {
	out := make([]Entity, 0, n)
	for len(out) < n {
		c := s.archetypes.chunkWithFreeRow(a, shared)
		k := min(n-len(out), c.capacity-c.count)
		for i := 0; i < k; i++ {
			row := c.count
			e := s.entities.allocate()
			c.zeroRow(&a.layout, row)
			c.setEntity(row, e)
			c.count++
			s.entities.place(e, a.id, c.id, row)
			out = append(out, e)
		}
		a.count += k
	}
	return out
}

func (s *Store) Exists(e Entity) bool {
	return s.entities.exists(e)
}

func (s *Store) locate(e Entity) (*entityEntry, error) {
	if e.IsNull() {
		return nil, ErrNullEntity
	}
	entry, ok := s.entities.entry(e)
	if !ok {
		return nil, EntityNotFoundError{Entity: e}
	}
	return entry, nil
}

// ArchetypeOf returns the archetype e currently lives in.
func (s *Store) ArchetypeOf(e Entity) (*Archetype, error) {
	entry, err := s.locate(e)
	if err != nil {
		return nil, err
	}
	return s.archetypes.get(entry.archetype), nil
}

type destroyLoc struct {
	e   Entity
	c   *chunk
	row int
}

// DestroyEntities destroys every entity listed. All of them are validated
// before any is removed; duplicates are ignored.
func (s *Store) DestroyEntities(es ...Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	seen := make(map[Entity]struct{}, len(es))
	locs := make([]destroyLoc, 0, len(es))
	for _, e := range es {
		if _, dup := seen[e]; dup {
			continue
		}
		entry, err := s.locate(e)
		if err != nil {
			return eris.Wrap(err, "destroy entities")
		}
		seen[e] = struct{}{}
		locs = append(locs, destroyLoc{e: e, c: s.alloc.get(entry.chunk), row: int(entry.row)})
	}
	if len(locs) == 0 {
		return nil
	}
	if err := s.beginStructural(); err != nil {
		return err
	}
	// Highest rows first within a chunk: rows moved in from the tail then
	// never belong to the batch.
	slices.SortFunc(locs, func(a, b destroyLoc) int {
		if a.c.id != b.c.id {
			return int(a.c.id) - int(b.c.id)
		}
		return b.row - a.row
	})
	for _, l := range locs {
		s.entities.free(l.e)
	}
	for i := 0; i < len(locs); {
		j := i
		for j+1 < len(locs) && locs[j+1].c == locs[i].c && locs[j+1].row == locs[j].row-1 {
			j++
		}
		s.removeRows(locs[i].c, locs[j].row, j-i+1)
		i = j + 1
	}
	return nil
}

// removeRows compacts rows [row, row+n) out of c and patches the entities
// moved into the hole. An emptied chunk goes back to the pool.
func (s *Store) removeRows(c *chunk, row, n int) {
	a := s.archetypes.get(c.archetype)
	movedTo, moved := c.removeRange(&a.layout, row, n)
	for k := 0; k < moved; k++ {
		s.entities.patchRow(c.entityAt(movedTo+k), c.id, movedTo+k)
	}
	a.count -= n
	if c.count == 0 {
		s.archetypes.unlink(c)
	}
}

// Instantiate creates n copies of src: same archetype, same shared values,
// same component values.
func (s *Store) Instantiate(src Entity, n int) ([]Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entry, err := s.locate(src)
	if err != nil {
		return nil, eris.Wrap(err, "instantiate")
	}
	if n < 0 {
		return nil, eris.Errorf("cannot instantiate %d entities", n)
	}
	if err := s.beginStructural(); err != nil {
		return nil, err
	}
	a := s.archetypes.get(entry.archetype)
	from := s.alloc.get(entry.chunk)
	srcRow := int(entry.row)
	shared := slices.Clone(from.shared)

	out := make([]Entity, 0, n)
	for len(out) < n {
		c := s.archetypes.chunkWithFreeRow(a, shared)
		k := min(n-len(out), c.capacity-c.count)
		start := c.count
		c.replicateRow(&a.layout, start, k, from, srcRow)
		for i := 0; i < k; i++ {
			e := s.entities.allocate()
			c.setEntity(start+i, e)
			s.entities.place(e, a.id, c.id, start+i)
			out = append(out, e)
		}
		c.count += k
		a.count += k
	}
	return out, nil
}

// moveEntity relocates e into archetype to, in a chunk whose shared handles
// equal shared, and compacts the row it leaves.
func (s *Store) moveEntity(e Entity, entry *entityEntry, to *Archetype, shared []SharedHandle) {
	from := s.archetypes.get(entry.archetype)
	src := s.alloc.get(entry.chunk)
	srcRow := int(entry.row)

	dst := s.archetypes.chunkWithFreeRow(to, shared)
	dstRow := dst.count
	dst.copyRowFrom(&to.layout, dstRow, src, &from.layout, srcRow)
	dst.setEntity(dstRow, e)
	dst.count++
	to.count++
	s.entities.place(e, to.id, dst.id, dstRow)
	s.removeRows(src, srcRow, 1)
}

// carryShared maps the shared handles of a chunk of from onto the shared
// slots of to. Types new to to get the default handle.
func carryShared(from, to *Archetype, handles []SharedHandle) []SharedHandle {
	out := make([]SharedHandle, len(to.sharedTypes))
	for i, id := range to.sharedTypes {
		if slot, ok := from.sharedSlot(id); ok {
			out[i] = handles[slot]
		}
	}
	return out
}

// AddComponent moves e to the archetype that also carries c. The new value
// is zero.
func (s *Store) AddComponent(e Entity, c Component) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry, err := s.locate(e)
	if err != nil {
		return eris.Wrap(err, "add component")
	}
	id, err := s.types.Register(c)
	if err != nil {
		return eris.Wrap(err, "add component")
	}
	from := s.archetypes.get(entry.archetype)
	if from.has(id) {
		return ComponentExistsError{Component: c}
	}
	if err := s.beginStructural(); err != nil {
		return err
	}
	to, _, err := s.archetypes.transition(from, id, true)
	if err != nil {
		return eris.Wrap(err, "add component")
	}
	shared := carryShared(from, to, s.alloc.get(entry.chunk).shared)
	s.moveEntity(e, entry, to, shared)
	return nil
}

// RemoveComponent moves e to the archetype without c.
func (s *Store) RemoveComponent(e Entity, c Component) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry, err := s.locate(e)
	if err != nil {
		return eris.Wrap(err, "remove component")
	}
	from := s.archetypes.get(entry.archetype)
	id, ok := s.types.Lookup(c)
	if !ok || !from.has(id) {
		return ComponentNotFoundError{Component: c}
	}
	if err := s.beginStructural(); err != nil {
		return err
	}
	to, _, err := s.archetypes.transition(from, id, false)
	if err != nil {
		return eris.Wrap(err, "remove component")
	}
	shared := carryShared(from, to, s.alloc.get(entry.chunk).shared)
	s.moveEntity(e, entry, to, shared)
	return nil
}

func (s *Store) HasComponent(e Entity, c Component) bool {
	entry, ok := s.entities.entry(e)
	if !ok {
		return false
	}
	id, ok := s.types.Lookup(c)
	return ok && s.archetypes.get(entry.archetype).has(id)
}

// Components lists the components e carries.
func (s *Store) Components(e Entity) ([]Component, error) {
	a, err := s.ArchetypeOf(e)
	if err != nil {
		return nil, err
	}
	return a.Components(), nil
}

// setShared moves e into the chunk of its archetype whose handle for the
// shared type id is h. The caller holds a reference on h for the duration.
func (s *Store) setShared(e Entity, entry *entityEntry, id TypeID, h SharedHandle) {
	a := s.archetypes.get(entry.archetype)
	slot, _ := a.sharedSlot(id)
	src := s.alloc.get(entry.chunk)
	if src.shared[slot] == h {
		return
	}
	shared := slices.Clone(src.shared)
	shared[slot] = h
	s.moveEntity(e, entry, a, shared)
}

func (s *Store) EnqueueNewEntities(n int, comps ...Component) error {
	if !s.Locked() {
		_, err := s.NewEntities(n, comps...)
		return err
	}
	s.queue.CreateEntities(n, comps...)
	return nil
}

func (s *Store) EnqueueDestroyEntities(es ...Entity) error {
	if !s.Locked() {
		return s.DestroyEntities(es...)
	}
	s.queue.DestroyEntities(es...)
	return nil
}

func (s *Store) EnqueueAddComponent(e Entity, c Component) error {
	if !s.Locked() {
		return s.AddComponent(e, c)
	}
	s.queue.AddComponent(e, c)
	return nil
}

func (s *Store) EnqueueRemoveComponent(e Entity, c Component) error {
	if !s.Locked() {
		return s.RemoveComponent(e, c)
	}
	s.queue.RemoveComponent(e, c)
	return nil
}

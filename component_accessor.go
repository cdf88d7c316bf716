package depot

import "github.com/rotisserie/eris"

func (s *Store) componentCell(e Entity, c Component) (*entityEntry, TypeID, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	entry, err := s.locate(e)
	if err != nil {
		return nil, 0, err
	}
	id, ok := s.types.Lookup(c)
	if !ok || !s.archetypes.get(entry.archetype).has(id) {
		return nil, 0, ComponentNotFoundError{Component: c}
	}
	return entry, id, nil
}

// GetComponent reads e's value of c from the control thread after joining
// the last job writing c.
func GetComponent[T any](s *Store, e Entity, c AccessibleComponent[T]) (T, error) {
	var zero T
	entry, id, err := s.componentCell(e, c)
	if err != nil {
		return zero, eris.Wrap(err, "get component")
	}
	s.tracker.completeFor(id, false)
	if c.Category() == CategoryShared {
		return sharedValue[T](s, entry, id), nil
	}
	p, _ := rowPointer[T](s, s.alloc.get(entry.chunk), id, int(entry.row))
	return *p, nil
}

// SetComponent writes e's value of c from the control thread after joining
// every job reading or writing c. Setting a shared component moves e to the
// chunk holding the new value, which is a structural change.
func SetComponent[T any](s *Store, e Entity, c AccessibleComponent[T], value T) error {
	entry, id, err := s.componentCell(e, c)
	if err != nil {
		return eris.Wrap(err, "set component")
	}
	if c.Category() == CategoryShared {
		return setSharedValue(s, e, entry, id, value)
	}
	s.tracker.completeFor(id, true)
	p, _ := rowPointer[T](s, s.alloc.get(entry.chunk), id, int(entry.row))
	*p = value
	return nil
}

// GetFromEntity returns a pointer to e's value of c. The pointer is valid
// until the next structural change; jobs touching c are joined first.
func (c AccessibleComponent[T]) GetFromEntity(s *Store, e Entity) (*T, error) {
	if c.Category() == CategoryShared {
		return nil, eris.Errorf("shared component %s has no per-row storage", componentName(c))
	}
	entry, id, err := s.componentCell(e, c)
	if err != nil {
		return nil, err
	}
	s.tracker.completeFor(id, true)
	p, _ := rowPointer[T](s, s.alloc.get(entry.chunk), id, int(entry.row))
	return p, nil
}

// GetSharedComponent returns the shared value of c for e's chunk.
func GetSharedComponent[T comparable](s *Store, e Entity, c AccessibleComponent[T]) (T, error) {
	var zero T
	if c.Category() != CategoryShared {
		return zero, eris.Errorf("%s is not a shared component", componentName(c))
	}
	return GetComponent(s, e, c)
}

// SetSharedComponent moves e into the chunk of its archetype that carries
// value, allocating one if none does.
func SetSharedComponent[T comparable](s *Store, e Entity, c AccessibleComponent[T], value T) error {
	if c.Category() != CategoryShared {
		return eris.Errorf("%s is not a shared component", componentName(c))
	}
	return SetComponent(s, e, c, value)
}

// AddSharedComponent adds c to e with value in one move.
func AddSharedComponent[T comparable](s *Store, e Entity, c AccessibleComponent[T], value T) error {
	if c.Category() != CategoryShared {
		return eris.Errorf("%s is not a shared component", componentName(c))
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry, err := s.locate(e)
	if err != nil {
		return eris.Wrap(err, "add shared component")
	}
	id, err := s.types.Register(c)
	if err != nil {
		return eris.Wrap(err, "add shared component")
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
		return eris.Wrap(err, "add shared component")
	}
	h := s.shared.insert(id, value)
	defer s.shared.release(h)
	shared := carryShared(from, to, s.alloc.get(entry.chunk).shared)
	slot, _ := to.sharedSlot(id)
	shared[slot] = h
	s.moveEntity(e, entry, to, shared)
	return nil
}

func sharedValue[T any](s *Store, entry *entityEntry, id TypeID) T {
	var zero T
	a := s.archetypes.get(entry.archetype)
	slot, _ := a.sharedSlot(id)
	v := s.shared.value(s.alloc.get(entry.chunk).shared[slot])
	if v == nil {
		return zero
	}
	return v.(T)
}

func setSharedValue[T any](s *Store, e Entity, entry *entityEntry, id TypeID, value T) error {
	if err := s.beginStructural(); err != nil {
		return err
	}
	h := s.shared.insert(id, value)
	s.setShared(e, entry, id, h)
	s.shared.release(h)
	return nil
}

package depot

import (
	"iter"
)

// EntityStore is the structural surface of a Store: what callers that only
// create, destroy and reshape entities depend on.
type EntityStore interface {
	NewEntities(int, ...Component) ([]Entity, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	AddComponent(Entity, Component) error
	EnqueueAddComponent(Entity, Component) error
	RemoveComponent(Entity, Component) error
	EnqueueRemoveComponent(Entity, Component) error
	Instantiate(Entity, int) ([]Entity, error)
	HasComponent(Entity, Component) bool
	Exists(Entity) bool
	RowIndexFor(Component) uint32
	Locked() bool
	Lock()
	Unlock() error
	AddLock(bit uint32)
	RemoveLock(bit uint32) error
}

var _ EntityStore = &Store{}

type iCursor interface {
	Entities() iter.Seq2[int, Entity]
	Next() bool
}

var _ iCursor = &Cursor{}

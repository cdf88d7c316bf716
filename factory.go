package depot

import "github.com/TheBitDrifter/table"

type factory struct{}

var Factory factory

// NewStore creates a store whose component signatures live in schema.
func (f factory) NewStore(schema table.Schema, opts ...Option) (*Store, error) {
	return newStore(schema, opts...)
}

func (f factory) NewQuery() *QueryBuilder {
	return newQueryBuilder()
}

// NewCommandBuffer returns an empty buffer to record structural changes in,
// typically from a job, for later playback on the control thread.
func (f factory) NewCommandBuffer() *CommandBuffer {
	return newCommandBuffer()
}

// FactoryNewComponent returns the handle of a plain value component. T must
// not contain Go pointers; this is checked when the type is first used.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	return newComponent[T](CategoryValue)
}

// FactoryNewSharedComponent returns the handle of a shared component. Every
// entity in a chunk has the same value of T.
func FactoryNewSharedComponent[T comparable]() AccessibleComponent[T] {
	return newComponent[T](CategoryShared)
}

// FactoryNewManagedComponent returns the handle of a component stored by
// reference, for values that hold pointers, slices, maps or strings.
func FactoryNewManagedComponent[T any]() AccessibleComponent[T] {
	return newComponent[T](CategoryManaged)
}

// FactoryNewArrayComponent returns the handle of a fixed-length array
// component. A must be an array type [N]E with E pointer-free; [4]E and [8]E
// are different components.
func FactoryNewArrayComponent[A any]() AccessibleComponent[A] {
	return newComponent[A](CategoryValue)
}

func FactoryNewCache[K comparable, V any](cap int) Cache[K, V] {
	return &SimpleCache[K, V]{
		itemIndices: make(map[K]int),
		maxCapacity: cap,
	}
}

package depot

import "fmt"

var _ Cache[transitionKey, ArchetypeID] = &SimpleCache[transitionKey, ArchetypeID]{}

// Cache is a bounded lookup table. Register fails once the cache is full;
// callers fall back to recomputing the value.
type Cache[K comparable, V any] interface {
	GetIndex(K) (int, bool)
	GetItem(int) *V
	Lookup(K) (V, bool)
	Register(K, V) (int, error)
	Len() int
	Clear()
}

type SimpleCache[K comparable, V any] struct {
	items       []V
	itemIndices map[K]int
	maxCapacity int
}

func (c *SimpleCache[K, V]) GetIndex(key K) (int, bool) {
	index, ok := c.itemIndices[key]
	return index, ok
}

func (c *SimpleCache[K, V]) GetItem(index int) *V {
	return &c.items[index]
}

func (c *SimpleCache[K, V]) Lookup(key K) (V, bool) {
	index, ok := c.itemIndices[key]
	if !ok {
		var zero V
		return zero, false
	}
	return c.items[index], true
}

func (c *SimpleCache[K, V]) Register(key K, item V) (int, error) {
	if idx, ok := c.itemIndices[key]; ok {
		c.items[idx] = item
		return idx, nil
	}
	if len(c.itemIndices) >= c.maxCapacity {
		return -1, fmt.Errorf("cache at maximum capacity (%d)", c.maxCapacity)
	}
	idx := len(c.items)
	c.itemIndices[key] = idx
	c.items = append(c.items, item)
	return idx, nil
}

func (c *SimpleCache[K, V]) Len() int {
	return len(c.items)
}

func (c *SimpleCache[K, V]) Clear() {
	c.items = c.items[:0]
	c.itemIndices = make(map[K]int)
}

// transitionKey names one structural edge of the archetype graph: adding or
// removing a single component type from an archetype.
type transitionKey struct {
	from   ArchetypeID
	typeID TypeID
	add    bool
}

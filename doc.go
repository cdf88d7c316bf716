/*
Package depot provides an archetype-based entity/component store with a
job system that lets many goroutines read and write disjoint parts of the
store without locks.

Entities that carry the same set of component types share an archetype.
Each archetype keeps its entities in fixed-size chunks, one tightly packed
array per component, so a query over a few components walks contiguous
memory.

Core Concepts:

  - Entity: a generational (index, version) handle. A destroyed entity's
    handle never becomes valid again.
  - Component: a Go type registered through one of the Factory functions.
    Plain components must be pointer-free; managed components can hold any
    Go value; shared components are deduplicated and stored once per chunk.
  - Archetype: the storage for one exact set of component types.
  - Query: a cached "has these, lacks those" filter over archetypes.
  - Job: work scheduled on the store's worker pool with declared reads and
    writes. The store orders conflicting jobs and joins them before any
    structural change.

Basic Usage:

	schema := table.Factory.NewSchema()
	store, _ := depot.Factory.NewStore(schema)
	defer store.Close()

	position := depot.FactoryNewComponent[Position]()
	velocity := depot.FactoryNewComponent[Velocity]()

	store.NewEntities(1000, position, velocity)

	query, _ := store.CreateQuery(position, depot.AsReadOnly(velocity))

	job := store.NewJob("integrate").Writes(position).Reads(velocity)
	pos, _ := depot.WriteView(job, query, position)
	vel, _ := depot.ReadView(job, query, velocity)
	handle, _ := job.Schedule(func() {
		for i := 0; i < pos.Len(); i++ {
			p, v := pos.At(i), vel.Get(i)
			p.X += v.X
			p.Y += v.Y
		}
	})
	handle.Complete()

Structural changes (creating or destroying entities, adding or removing
components, changing a shared value) join every outstanding job first and
invalidate all views handed out before them. Builds with the
depot_unchecked tag drop the aliasing checks.
*/
package depot

package depot

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"
)

func TestColumnView(t *testing.T) {
	store := newTestStore(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()

	// two archetypes and several chunks each
	_, err := store.NewEntities(1000, posComp, velComp)
	assert.NilError(t, err)
	_, err = store.NewEntities(700, posComp, velComp, healthComp)
	assert.NilError(t, err)

	q, err := store.CreateQuery(posComp, AsReadOnly(velComp))
	assert.NilError(t, err)
	assert.Equal(t, q.Length(), 1700)

	pos, err := GetView(q, posComp)
	assert.NilError(t, err)
	assert.Equal(t, pos.Len(), 1700)
	for i := 0; i < pos.Len(); i++ {
		pos.Set(i, Position{X: float64(i)})
	}
	// random access after the sequential pass
	for _, i := range []int{1699, 0, 850, 409, 408, 1000, 999} {
		assert.Equal(t, pos.At(i).X, float64(i))
	}

	ents := q.Entities()
	assert.Equal(t, ents.Len(), 1700)
	for i, e := range ents.All() {
		p, err := GetComponent(store, e, posComp)
		assert.NilError(t, err)
		assert.Equal(t, p.X, float64(i))
		if i%97 == 0 {
			assert.Equal(t, ents.At(i), e)
		}
	}

	pos, err = GetView(q, posComp)
	assert.NilError(t, err)
	sum, n := 0.0, 0
	for first, values := range pos.Chunks() {
		assert.Equal(t, first, n)
		for _, v := range values {
			sum += v.X
		}
		n += len(values)
	}
	assert.Equal(t, n, 1700)
	assert.Equal(t, sum, float64(1699*1700/2))
}

func TestManagedColumnView(t *testing.T) {
	store := newTestStore(t)
	nameComp := FactoryNewManagedComponent[Name]()
	es, err := store.NewEntities(5, nameComp)
	assert.NilError(t, err)

	q, err := store.CreateQuery(nameComp)
	assert.NilError(t, err)
	names, err := GetView(q, nameComp)
	assert.NilError(t, err)
	for i := 0; i < names.Len(); i++ {
		names.At(i).Value = "n"
	}
	for _, e := range es {
		n, err := GetComponent(store, e, nameComp)
		assert.NilError(t, err)
		assert.Equal(t, n.Value, "n")
	}

	require.Panics(t, func() {
		for range names.Chunks() {
		}
	})
}

// TestManagedCellsReadConcurrently runs several reader jobs over a managed
// column nobody has written.
func TestManagedCellsReadConcurrently(t *testing.T) {
	store := newTestStore(t, WithWorkers(4))
	nameComp := FactoryNewManagedComponent[Name]()
	posComp := FactoryNewComponent[Position]()

	es, err := store.NewEntities(4000, nameComp)
	assert.NilError(t, err)
	moved, err := store.NewEntities(10, posComp)
	assert.NilError(t, err)
	for _, e := range moved {
		assert.NilError(t, store.AddComponent(e, nameComp))
	}

	for _, e := range []Entity{es[0], moved[0]} {
		a, err := store.ArchetypeOf(e)
		assert.NilError(t, err)
		for c := range store.archetypes.chunksOf(a) {
			for row, cell := range c.objects[0][:c.count] {
				assert.Assert(t, cell != nil, "row %d has no cell", row)
			}
		}
	}

	q, err := store.CreateQuery(nameComp)
	assert.NilError(t, err)
	var handles []JobHandle
	empty := make([]int, 4)
	for j := range empty {
		b := store.NewJob("read names").Reads(nameComp)
		names, err := ReadView(b, q, nameComp)
		assert.NilError(t, err)
		h, err := b.Schedule(func() {
			for i := 0; i < names.Len(); i++ {
				if names.Get(i).Value == "" {
					empty[j]++
				}
			}
		})
		assert.NilError(t, err)
		handles = append(handles, h)
	}
	CombineDependencies(handles...).Complete()
	for j := range empty {
		assert.Equal(t, empty[j], len(es)+len(moved))
	}

	n, err := GetComponent(store, es[10], nameComp)
	assert.NilError(t, err)
	assert.Equal(t, n, Name{})
}

func TestViewErrors(t *testing.T) {
	store := newTestStore(t)
	posComp := FactoryNewComponent[Position]()
	healthComp := FactoryNewComponent[Health]()
	teamComp := FactoryNewSharedComponent[Team]()
	_, err := store.NewEntities(3, posComp, healthComp, teamComp)
	assert.NilError(t, err)

	q, err := store.Query(Factory.NewQuery().And(posComp, teamComp).Or(healthComp))
	assert.NilError(t, err)

	_, err = GetView(q, healthComp)
	assert.Assert(t, err != nil, "Or terms have no guaranteed column")
	_, err = GetView(q, teamComp)
	assert.ErrorContains(t, err, "no per-row column")
	_, err = GetView(q, FactoryNewComponent[Velocity]())
	assert.Assert(t, err != nil)

	pos, err := GetView(q, posComp)
	assert.NilError(t, err)
	require.Panics(t, func() { pos.Get(3) })
	require.Panics(t, func() { pos.Get(-1) })

	assert.NilError(t, store.Close())
	_, err = GetView(q, posComp)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestViewSafety(t *testing.T) {
	skipUnchecked(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	setup := func(t *testing.T) (*Store, *Query) {
		store := newTestStore(t)
		_, err := store.NewEntities(10, posComp, velComp)
		assert.NilError(t, err)
		q, err := store.CreateQuery(posComp, AsReadOnly(velComp))
		assert.NilError(t, err)
		return store, q
	}

	tests := []struct {
		name   string
		misuse func(t *testing.T, store *Store, q *Query)
	}{
		{
			name: "Stale after structural change",
			misuse: func(t *testing.T, store *Store, q *Query) {
				pos, err := GetView(q, posComp)
				assert.NilError(t, err)
				_, err = store.NewEntities(1, posComp)
				assert.NilError(t, err)
				pos.Get(0)
			},
		},
		{
			name: "Write through read-only view",
			misuse: func(t *testing.T, store *Store, q *Query) {
				vel, err := GetView(q, velComp)
				assert.NilError(t, err)
				vel.Get(0)
				vel.Set(0, Velocity{X: 1})
			},
		},
		{
			name: "Writable view after a reader job was scheduled",
			misuse: func(t *testing.T, store *Store, q *Query) {
				pos, err := GetView(q, posComp)
				assert.NilError(t, err)
				_, err = store.NewJob("reader").Reads(posComp).Schedule(func() {})
				assert.NilError(t, err)
				pos.At(0)
			},
		},
		{
			name: "Read view after a writer job was scheduled",
			misuse: func(t *testing.T, store *Store, q *Query) {
				vel, err := GetView(q, velComp)
				assert.NilError(t, err)
				_, err = store.NewJob("writer").Writes(velComp).Schedule(func() {})
				assert.NilError(t, err)
				vel.Get(0)
			},
		},
		{
			name: "Job view of an undeclared type",
			misuse: func(t *testing.T, store *Store, q *Query) {
				b := store.NewJob("sneaky").Reads(velComp)
				_, _ = ReadView(b, q, posComp)
			},
		},
		{
			name: "Writable job view of a read type",
			misuse: func(t *testing.T, store *Store, q *Query) {
				b := store.NewJob("sneaky").Reads(posComp)
				_, _ = WriteView(b, q, posComp)
			},
		},
		{
			name: "Two pending writable views",
			misuse: func(t *testing.T, store *Store, q *Query) {
				first := store.NewJob("first").Writes(posComp)
				_, err := WriteView(first, q, posComp)
				assert.NilError(t, err)
				second := store.NewJob("second").Writes(posComp)
				_, _ = WriteView(second, q, posComp)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, q := setup(t)
			requireViolation(t, func() { tt.misuse(t, store, q) })
		})
	}
}

func TestViewSafetyAllowed(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	store := newTestStore(t)
	_, err := store.NewEntities(10, posComp, velComp)
	assert.NilError(t, err)
	q, err := store.CreateQuery(posComp, AsReadOnly(velComp))
	assert.NilError(t, err)

	// a read view survives readers scheduled after it
	vel, err := GetView(q, velComp)
	assert.NilError(t, err)
	h, err := store.NewJob("reader").Reads(velComp).Schedule(func() {})
	assert.NilError(t, err)
	vel.Get(0)
	h.Complete()

	// cancelling a builder frees its writable view
	first := store.NewJob("first").Writes(posComp)
	_, err = WriteView(first, q, posComp)
	assert.NilError(t, err)
	first.Cancel()
	second := store.NewJob("second").Writes(posComp)
	pos, err := WriteView(second, q, posComp)
	assert.NilError(t, err)
	h, err = second.Schedule(func() {
		for i := 0; i < pos.Len(); i++ {
			pos.At(i).Y = 2
		}
	})
	assert.NilError(t, err)
	h.Complete()

	// a fresh view after the job is fine
	got, err := GetView(q, posComp)
	assert.NilError(t, err)
	assert.Equal(t, got.Get(9).Y, 2.0)
}

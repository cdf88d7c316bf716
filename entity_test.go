package depot

import (
	"errors"
	"testing"

	"github.com/TheBitDrifter/table"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
)

// Test component types
type Position struct {
	X, Y float64
}

type Velocity struct {
	X, Y float64
}

type Health struct {
	Current, Max int
}

func newTestStore(t testing.TB, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	store, err := Factory.NewStore(table.Factory.NewSchema(), opts...)
	assert.NilError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestEntityCreation(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()

	tests := []struct {
		name           string
		componentTypes []Component
		entityCount    int
		wantError      bool
	}{
		{"Empty entity", []Component{}, 1, false},
		{"Single component", []Component{posComp}, 10, false},
		{"Multiple components", []Component{posComp, velComp}, 5, false},
		{"Large batch", []Component{posComp, velComp, healthComp}, 1000, false},
		{"Duplicate component", []Component{posComp, posComp}, 1, true},
		{"Negative count", []Component{posComp}, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)

			entities, err := store.NewEntities(tt.entityCount, tt.componentTypes...)
			if tt.wantError {
				assert.Assert(t, err != nil)
				assert.Equal(t, store.EntityCount(), 0)
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, len(entities), tt.entityCount)

			seen := make(map[Entity]bool, len(entities))
			for _, e := range entities {
				assert.Assert(t, !e.IsNull())
				assert.Assert(t, store.Exists(e), "entity %v should exist", e)
				assert.Assert(t, !seen[e], "entity %v returned twice", e)
				seen[e] = true
				for _, c := range tt.componentTypes {
					assert.Assert(t, store.HasComponent(e, c))
				}
			}
			assert.Equal(t, store.EntityCount(), tt.entityCount)
		})
	}
}

func TestEntityVersionNotReused(t *testing.T) {
	store := newTestStore(t)
	posComp := FactoryNewComponent[Position]()

	entities, err := store.NewEntities(8, posComp)
	assert.NilError(t, err)
	destroyed := entities[3]
	assert.NilError(t, store.DestroyEntities(destroyed))
	assert.Assert(t, !store.Exists(destroyed))

	for round := 0; round < 5; round++ {
		fresh, err := store.NewEntities(20, posComp)
		assert.NilError(t, err)
		reused := false
		for _, e := range fresh {
			assert.Assert(t, e != destroyed, "old handle %v handed out again", destroyed)
			if e.Index == destroyed.Index {
				reused = true
				assert.Assert(t, e.Version != destroyed.Version)
			}
		}
		if round == 0 {
			assert.Assert(t, reused, "freed slot %d should be recycled", destroyed.Index)
		}
		assert.NilError(t, store.DestroyEntities(fresh...))
	}
	assert.Assert(t, !store.Exists(destroyed))
}

func TestEntityIndexGrowth(t *testing.T) {
	x := newEntityIndex(2)
	var es []Entity
	for i := 0; i < 100; i++ {
		es = append(es, x.allocate())
	}
	assert.Equal(t, x.Len(), 100)
	assert.Assert(t, x.Capacity() >= 100)
	for i, e := range es {
		assert.Equal(t, e.Index, uint32(i))
		assert.Equal(t, e.Version, uint32(1))
	}

	x.free(es[10])
	assert.Assert(t, !x.exists(es[10]))
	again := x.allocate()
	assert.Equal(t, again.Index, es[10].Index)
	assert.Equal(t, again.Version, uint32(2))
	assert.Assert(t, x.exists(again))
}

func TestStaleEntityOperations(t *testing.T) {
	store := newTestStore(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	e, err := store.NewEntity(posComp)
	assert.NilError(t, err)
	assert.NilError(t, store.DestroyEntities(e))

	var notFound EntityNotFoundError
	tests := []struct {
		name string
		op   func() error
	}{
		{"AddComponent", func() error { return store.AddComponent(e, velComp) }},
		{"RemoveComponent", func() error { return store.RemoveComponent(e, posComp) }},
		{"DestroyEntities", func() error { return store.DestroyEntities(e) }},
		{"Instantiate", func() error { _, err := store.Instantiate(e, 3); return err }},
		{"GetComponent", func() error { _, err := GetComponent(store, e, posComp); return err }},
		{"SetComponent", func() error { return SetComponent(store, e, posComp, Position{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.Assert(t, err != nil)
			assert.Assert(t, errors.As(err, &notFound), "got %v", err)
			assert.Equal(t, notFound.Entity, e)
		})
	}

	assert.ErrorIs(t, store.AddComponent(Entity{}, velComp), ErrNullEntity)
	assert.Equal(t, store.EntityCount(), 0)
}

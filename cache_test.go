package depot

import (
	"strconv"
	"testing"
)

// TestCacheBasicOperations tests the basic operations of the SimpleCache
func TestCacheBasicOperations(t *testing.T) {
	const capacity = 10
	cache := FactoryNewCache[string, string](capacity)

	items := []string{"item1", "item2", "item3", "item4", "item5"}
	indices := make([]int, len(items))

	for i, item := range items {
		index, err := cache.Register(item, item)
		if err != nil {
			t.Errorf("Failed to register item %s: %v", item, err)
		}
		indices[i] = index

		if index != i {
			t.Errorf("Index for item %s is %d, expected %d", item, index, i)
		}
	}

	for i, item := range items {
		index, found := cache.GetIndex(item)
		if !found {
			t.Errorf("Item %s not found in cache", item)
		}
		if index != indices[i] {
			t.Errorf("Index for item %s is %d, expected %d", item, index, indices[i])
		}
		if cached := *cache.GetItem(index); cached != item {
			t.Errorf("Item at index %d is %s, expected %s", index, cached, item)
		}
		if v, ok := cache.Lookup(item); !ok || v != item {
			t.Errorf("Lookup(%s) = %s, %v", item, v, ok)
		}
	}

	if _, found := cache.GetIndex("nonexistent"); found {
		t.Errorf("Found non-existent item in cache")
	}
	if cache.Len() != len(items) {
		t.Errorf("Len is %d, expected %d", cache.Len(), len(items))
	}
}

// TestCacheCapacity tests the cache capacity limits
func TestCacheCapacity(t *testing.T) {
	const capacity = 5
	cache := FactoryNewCache[string, int](capacity)

	for i := 1; i <= capacity; i++ {
		key := "item" + strconv.Itoa(i)
		if _, err := cache.Register(key, i); err != nil {
			t.Errorf("Failed to register item %s: %v", key, err)
		}
	}

	if _, err := cache.Register("overflow", 100); err == nil {
		t.Errorf("Expected error when exceeding cache capacity, but got none")
	}

	// overwriting an existing key never needs room
	idx, err := cache.Register("item3", 33)
	if err != nil {
		t.Fatalf("Failed to overwrite item3: %v", err)
	}
	if v := *cache.GetItem(idx); v != 33 {
		t.Errorf("item3 is %d after overwrite, expected 33", v)
	}
}

// TestCacheClear tests the cache clear functionality
func TestCacheClear(t *testing.T) {
	cache := FactoryNewCache[string, string](10)

	items := []string{"item1", "item2", "item3"}
	for _, item := range items {
		if _, err := cache.Register(item, item); err != nil {
			t.Errorf("Failed to register item %s: %v", item, err)
		}
	}

	cache.Clear()

	for _, item := range items {
		if _, found := cache.GetIndex(item); found {
			t.Errorf("Item %s still found after cache clear", item)
		}
	}

	for _, item := range items {
		if _, err := cache.Register(item, item); err != nil {
			t.Errorf("Failed to register item %s after clear: %v", item, err)
		}
	}
}

// TestTransitionCache checks that archetype edges are memoised and that a
// full cache only costs recomputation.
func TestTransitionCache(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()

	tests := []struct {
		name      string
		cacheSize int
		wantEdges int
	}{
		{"Unbounded", 64, 4},
		{"Full", 1, 1},
		{"Disabled", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, WithTransitionCacheSize(tt.cacheSize))
			e, err := store.NewEntity(posComp)
			if err != nil {
				t.Fatal(err)
			}

			for i := 0; i < 3; i++ {
				if err := store.AddComponent(e, velComp); err != nil {
					t.Fatal(err)
				}
				if err := store.AddComponent(e, healthComp); err != nil {
					t.Fatal(err)
				}
				if err := store.RemoveComponent(e, healthComp); err != nil {
					t.Fatal(err)
				}
				if err := store.RemoveComponent(e, velComp); err != nil {
					t.Fatal(err)
				}
			}

			if got := store.archetypes.transitions.Len(); got != tt.wantEdges {
				t.Errorf("cached edges = %d, expected %d", got, tt.wantEdges)
			}
			if got := store.ArchetypeCount(); got != 3 {
				t.Errorf("archetype count = %d, expected 3", got)
			}
			if !store.HasComponent(e, posComp) || store.HasComponent(e, velComp) {
				t.Errorf("entity ended in the wrong archetype")
			}
		})
	}
}

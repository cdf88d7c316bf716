package depot

import (
	"reflect"
	"unsafe"

	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
	"github.com/rotisserie/eris"
)

// MaxComponentTypes bounds the number of distinct component shapes one store
// can register, including the implicit Entity column. A TypeID is also the
// shape's signature bit, so the bound follows the mask build tag (64 by
// default, m256/m512/m1024 raise it).
const MaxComponentTypes = mask.MaxBits

// TypeID is the dense, store-local id of a component shape. TypeID 0 is the
// implicit Entity column every archetype carries.
type TypeID uint16

const entityTypeID TypeID = 0

var entityRType = reflect.TypeOf(Entity{})

type typeInfo struct {
	id        TypeID
	spec      componentSpec
	component Component
	size      uintptr
	align     uintptr
	bit       uint32
}

func (t *typeInfo) blittable() bool {
	return t.spec.category == CategoryValue
}

// TypeRegistry assigns TypeIDs to component handles on first use and records
// their storage shape. It is owned by a single Store.
type TypeRegistry struct {
	schema table.Schema
	infos  []typeInfo
	byType map[reflect.Type]TypeID
}

func newTypeRegistry(schema table.Schema) *TypeRegistry {
	r := &TypeRegistry{
		schema: schema,
		infos:  make([]typeInfo, 1, 32),
		byType: make(map[reflect.Type]TypeID, 32),
	}
	r.infos[entityTypeID] = typeInfo{
		id:    entityTypeID,
		spec:  componentSpec{rtype: entityRType, category: CategoryValue},
		size:  unsafe.Sizeof(Entity{}),
		align: unsafe.Alignof(Entity{}),
	}
	r.byType[entityRType] = entityTypeID
	return r
}

// Register returns the TypeID for c, registering it if needed. Shape errors
// are reported here, before any storage is touched.
func (r *TypeRegistry) Register(c Component) (TypeID, error) {
	if c == nil {
		return 0, eris.New("nil component")
	}
	s := c.spec()
	if s.rtype == nil {
		return 0, eris.New("component handle was not created by a factory")
	}
	if s.rtype == entityRType {
		return 0, eris.New("the Entity column is implicit and cannot be registered")
	}
	if id, ok := r.byType[s.rtype]; ok {
		info := &r.infos[id]
		if info.spec.category != s.category {
			return 0, CategoryMismatchError{Type: s.rtype, Registered: info.spec.category, Requested: s.category}
		}
		return id, nil
	}
	if err := validateSpec(s); err != nil {
		return 0, err
	}
	if len(r.infos) >= MaxComponentTypes {
		return 0, TypeLimitError{Type: s.rtype}
	}

	r.schema.Register(c)

	id := TypeID(len(r.infos))
	info := typeInfo{
		id:        id,
		spec:      s,
		component: c,
		bit:       uint32(id),
	}
	switch s.category {
	case CategoryValue:
		info.size = s.rtype.Size()
		info.align = uintptr(s.rtype.Align())
	case CategoryManaged:
		info.size = managedSlotSize
		info.align = 1
	}
	r.infos = append(r.infos, info)
	r.byType[s.rtype] = id
	return id, nil
}

// Lookup returns the TypeID of an already registered component.
func (r *TypeRegistry) Lookup(c Component) (TypeID, bool) {
	if c == nil {
		return 0, false
	}
	s := c.spec()
	if s.rtype == nil || s.rtype == entityRType {
		return 0, false
	}
	id, ok := r.byType[s.rtype]
	if !ok || r.infos[id].spec.category != s.category {
		return 0, false
	}
	return id, true
}

// Len is the number of registered shapes, the Entity column included.
func (r *TypeRegistry) Len() int {
	return len(r.infos)
}

func (r *TypeRegistry) info(id TypeID) *typeInfo {
	return &r.infos[id]
}

func (r *TypeRegistry) name(id TypeID) string {
	if int(id) >= len(r.infos) {
		return "<unregistered>"
	}
	return r.infos[id].spec.name()
}

func validateSpec(s componentSpec) error {
	switch s.category {
	case CategoryValue:
		if s.arrayLen > 0 && !isBlittable(s.elem) {
			return NotBlittableError{Type: s.elem}
		}
		if !isBlittable(s.rtype) {
			return NotBlittableError{Type: s.rtype}
		}
	case CategoryShared:
		if !s.rtype.Comparable() {
			return NotComparableError{Type: s.rtype}
		}
	case CategoryManaged:
	default:
		return eris.Errorf("unknown component category %d", s.category)
	}
	return nil
}

// registerAll resolves comps into a sorted TypeID list that starts with the
// Entity column. A type named twice is a schema error.
func (r *TypeRegistry) registerAll(comps []Component) ([]TypeID, error) {
	ids := make([]TypeID, 0, len(comps)+1)
	ids = append(ids, entityTypeID)
	for _, c := range comps {
		id, err := r.Register(c)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sortTypeIDs(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return nil, DuplicateComponentTypeError{Type: r.infos[ids[i]].spec.rtype}
		}
	}
	return ids, nil
}

func sortTypeIDs(ids []TypeID) {
	// insertion sort: schemas are short
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

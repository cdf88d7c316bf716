package depot

import (
	"reflect"

	"github.com/TheBitDrifter/table"
)

// Category selects how a component's values are stored inside a chunk.
type Category uint8

const (
	// CategoryValue components are fixed-size, pointer-free values packed
	// into the chunk's byte columns.
	CategoryValue Category = iota
	// CategoryShared components hold one deduplicated value per chunk.
	CategoryShared
	// CategoryManaged components hold arbitrary Go values in reference slots.
	CategoryManaged
)

func (c Category) String() string {
	switch c {
	case CategoryValue:
		return "value"
	case CategoryShared:
		return "shared"
	case CategoryManaged:
		return "managed"
	}
	return "unknown"
}

// AccessMode is how a query or job touches a component type.
type AccessMode uint8

const (
	ReadWrite AccessMode = iota
	ReadOnly
	Subtractive
)

func (m AccessMode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	case Subtractive:
		return "subtractive"
	}
	return "unknown"
}

// Component represents a data attribute/state that can be attached to entities
// Components can be used to create queries for entities
type Component interface {
	table.ElementType
	spec() componentSpec
}

type componentSpec struct {
	rtype    reflect.Type
	elem     reflect.Type
	category Category
	arrayLen uint32
}

func (s componentSpec) name() string {
	if s.rtype == nil {
		return "<invalid>"
	}
	return s.rtype.String()
}

// AccessibleComponent is the typed handle for component type T. Handles are
// cheap values; create one per type and reuse it.
type AccessibleComponent[T any] struct {
	table.ElementType
	s componentSpec
}

var _ Component = AccessibleComponent[struct{}]{}

func (c AccessibleComponent[T]) spec() componentSpec {
	return c.s
}

// Category reports how values of T are stored.
func (c AccessibleComponent[T]) Category() Category {
	return c.s.category
}

// ArrayLength is N for array components of type [N]E and 0 otherwise.
func (c AccessibleComponent[T]) ArrayLength() uint32 {
	return c.s.arrayLen
}

// ReadOnly wraps c so that queries and jobs only read it.
func (c AccessibleComponent[T]) ReadOnly() ComponentType {
	return ComponentType{Component: c, Access: ReadOnly}
}

// ComponentType is a component paired with the access a query requests.
type ComponentType struct {
	Component Component
	Access    AccessMode
}

// AsReadOnly marks c as read by a query or job.
func AsReadOnly(c Component) ComponentType {
	return ComponentType{Component: c, Access: ReadOnly}
}

// Without marks c as subtractive: matching archetypes must not contain it.
func Without(c Component) ComponentType {
	return ComponentType{Component: c, Access: Subtractive}
}

func newComponent[T any](category Category) AccessibleComponent[T] {
	rtype := reflect.TypeOf((*T)(nil)).Elem()
	s := componentSpec{rtype: rtype, category: category}
	if rtype.Kind() == reflect.Array {
		s.elem = rtype.Elem()
		s.arrayLen = uint32(rtype.Len())
	}
	return AccessibleComponent[T]{
		ElementType: table.FactoryNewElementType[T](),
		s:           s,
	}
}

// isBlittable reports whether values of t contain no Go pointers and can be
// copied as raw bytes.
func isBlittable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isBlittable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isBlittable(t.Field(i).Type) {
				return false
			}
		}
		return true
	}
	return false
}

package depot

import (
	"fmt"
	"reflect"

	"github.com/rotisserie/eris"
)

var (
	// ErrStoreClosed is returned by every operation on a store after Close.
	ErrStoreClosed = eris.New("store is closed")
	// ErrNullEntity is returned when the zero Entity is used as an argument.
	ErrNullEntity = eris.New("null entity")
)

type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return "storage is currently locked"
}

// EntityNotFoundError reports a stale or never-created entity. The version
// check that produces it never touches storage.
type EntityNotFoundError struct {
	Entity Entity
}

func (e EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %v does not exist", e.Entity)
}

type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %s", componentName(e.Component))
}

type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %s", componentName(e.Component))
}

// DuplicateComponentTypeError is returned when one schema names the same
// component type twice.
type DuplicateComponentTypeError struct {
	Type reflect.Type
}

func (e DuplicateComponentTypeError) Error() string {
	return fmt.Sprintf("component type %v appears more than once in schema", e.Type)
}

type NotBlittableError struct {
	Type reflect.Type
}

func (e NotBlittableError) Error() string {
	return fmt.Sprintf("component type %v is not blittable", e.Type)
}

// NotComparableError is returned for shared components whose values cannot
// be compared with ==.
type NotComparableError struct {
	Type reflect.Type
}

func (e NotComparableError) Error() string {
	return fmt.Sprintf("shared component type %v is not comparable", e.Type)
}

type CategoryMismatchError struct {
	Type       reflect.Type
	Registered Category
	Requested  Category
}

func (e CategoryMismatchError) Error() string {
	return fmt.Sprintf("component type %v registered as %s, requested as %s", e.Type, e.Registered, e.Requested)
}

type TypeLimitError struct {
	Type reflect.Type
}

func (e TypeLimitError) Error() string {
	return fmt.Sprintf("cannot register %v: maximum number of component types (%d) reached", e.Type, MaxComponentTypes)
}

// RowTooLargeError is a configuration error: one row of the schema does not
// fit in a single chunk.
type RowTooLargeError struct {
	RowBytes   int
	ChunkBytes int
}

func (e RowTooLargeError) Error() string {
	return fmt.Sprintf("row of %d bytes does not fit in a %d byte chunk", e.RowBytes, e.ChunkBytes)
}

type OutstandingJobsError struct {
	Count int
	Names []string
}

func (e OutstandingJobsError) Error() string {
	return fmt.Sprintf("store torn down with %d outstanding jobs %v", e.Count, e.Names)
}

type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// AliasingViolation is the panic value raised by checked builds when a view or
// job would alias memory another job may still be using.
type AliasingViolation struct {
	Type   string
	Reason string
}

func (e *AliasingViolation) Error() string {
	if e.Type == "" {
		return "aliasing violation: " + e.Reason
	}
	return fmt.Sprintf("aliasing violation on %s: %s", e.Type, e.Reason)
}

func componentName(c Component) string {
	if c == nil {
		return "<nil>"
	}
	return c.spec().name()
}

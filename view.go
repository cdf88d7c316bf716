package depot

import (
	"fmt"
	"iter"
	"unsafe"

	"github.com/rotisserie/eris"
)

type viewRange struct {
	start int
	count int
	base  unsafe.Pointer
	objs  []any
}

// ColumnView is a typed, bounds-checked view of one component column across
// every chunk a query matched, addressed by a logical index in
// [0, Len()). The view caches the last chunk it resolved, so it is not safe
// for concurrent use: copy it per goroutine.
type ColumnView[T any] struct {
	ranges  []viewRange
	total   int
	size    uintptr
	managed bool
	last    int
	safety  *viewSafety
}

func newColumnView[T any](q *Query, id TypeID, writable bool, b *JobBuilder) ColumnView[T] {
	s := q.store
	v := ColumnView[T]{
		ranges: make([]viewRange, 0, len(q.chunks)),
		total:  q.total,
		safety: newViewSafety(s, id, writable, b),
	}
	for i, ch := range q.chunks {
		col, _ := s.archetypes.get(ch.archetype).layout.column(id)
		r := viewRange{start: q.starts[i], count: ch.count}
		switch col.kind {
		case columnBytes:
			v.size = col.size
			r.base = ch.base(col)
		case columnManaged:
			v.managed = true
			r.objs = ch.objects[col.slot][:ch.count]
		}
		v.ranges = append(v.ranges, r)
	}
	return v
}

func (v *ColumnView[T]) Len() int {
	return v.total
}

func (v *ColumnView[T]) resolve(i int) (*viewRange, int) {
	if i < 0 || i >= v.total {
		panic(fmt.Sprintf("depot: view index %d out of range [0, %d)", i, v.total))
	}
	if r := &v.ranges[v.last]; i >= r.start && i < r.start+r.count {
		return r, i - r.start
	}
	lo, hi := 0, len(v.ranges)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if v.ranges[mid].start <= i {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	v.last = lo - 1
	r := &v.ranges[v.last]
	return r, i - r.start
}

func (v *ColumnView[T]) ptr(i int) *T {
	r, row := v.resolve(i)
	if v.managed {
		return managedCell[T](r.objs, row)
	}
	return (*T)(unsafe.Add(r.base, uintptr(row)*v.size))
}

// Get returns a copy of element i.
func (v *ColumnView[T]) Get(i int) T {
	v.safety.check(false)
	return *v.ptr(i)
}

// Set stores val at element i. The view must be writable.
func (v *ColumnView[T]) Set(i int, val T) {
	v.safety.check(true)
	*v.ptr(i) = val
}

// At returns a pointer to element i. The view must be writable; the pointer
// is valid until the next structural change.
func (v *ColumnView[T]) At(i int) *T {
	v.safety.check(true)
	return v.ptr(i)
}

// Chunks yields the view one chunk at a time as (first index, values).
// Managed columns are not contiguous and are not supported here.
func (v *ColumnView[T]) Chunks() iter.Seq2[int, []T] {
	return func(yield func(int, []T) bool) {
		v.safety.check(v.safety.writable)
		if v.managed {
			panic("depot: Chunks on a managed column")
		}
		for _, r := range v.ranges {
			var s []T
			if v.size == 0 {
				s = make([]T, r.count)
			} else {
				s = unsafe.Slice((*T)(r.base), r.count)
			}
			if !yield(r.start, s) {
				return
			}
		}
	}
}

// EntityView is the read-only Entity column of a query.
type EntityView struct {
	view *ColumnView[Entity]
}

func (v EntityView) Len() int {
	return v.view.Len()
}

func (v EntityView) At(i int) Entity {
	return v.view.Get(i)
}

func (v EntityView) All() iter.Seq2[int, Entity] {
	return func(yield func(int, Entity) bool) {
		for i := 0; i < v.view.total; i++ {
			if !yield(i, v.view.Get(i)) {
				return
			}
		}
	}
}

func viewType(q *Query, c Component) (TypeID, queryTerm, error) {
	id, ok := q.store.types.Lookup(c)
	if !ok {
		return 0, queryTerm{}, ComponentNotFoundError{Component: c}
	}
	t, ok := q.data.term(id)
	if !ok {
		return 0, queryTerm{}, eris.Wrap(ComponentNotFoundError{Component: c}, "view of component the query does not require")
	}
	if q.store.types.info(id).spec.category == CategoryShared {
		return 0, queryTerm{}, eris.Errorf("shared component %s has no per-row column", componentName(c))
	}
	return id, t, nil
}

// GetView returns a control-thread view of c over q. It first joins the jobs
// that conflict with the access the query declares for c.
func GetView[T any](q *Query, c AccessibleComponent[T]) (ColumnView[T], error) {
	if q.store.closed {
		return ColumnView[T]{}, ErrStoreClosed
	}
	id, t, err := viewType(q, c)
	if err != nil {
		return ColumnView[T]{}, err
	}
	writable := t.access == ReadWrite
	q.store.tracker.completeFor(id, writable)
	q.refresh()
	return newColumnView[T](q, id, writable, nil), nil
}

// ReadView returns a read-only view of c for use inside the job b will
// schedule. b must declare c as read or written.
func ReadView[T any](b *JobBuilder, q *Query, c AccessibleComponent[T]) (ColumnView[T], error) {
	id, _, err := viewType(q, c)
	if err != nil {
		return ColumnView[T]{}, err
	}
	if safetyChecks && !b.declaresRead(id) {
		panic(&AliasingViolation{
			Type:   componentName(c),
			Reason: fmt.Sprintf("job %q takes a view of a type it does not declare", b.name),
		})
	}
	q.refresh()
	return newColumnView[T](q, id, false, b), nil
}

// WriteView returns a writable view of c for use inside the job b will
// schedule. b must declare c as written, and no other unscheduled job may
// hold a writable view of c.
func WriteView[T any](b *JobBuilder, q *Query, c AccessibleComponent[T]) (ColumnView[T], error) {
	id, _, err := viewType(q, c)
	if err != nil {
		return ColumnView[T]{}, err
	}
	if safetyChecks && !b.declaresWrite(id) {
		panic(&AliasingViolation{
			Type:   componentName(c),
			Reason: fmt.Sprintf("job %q takes a writable view of a type it does not declare as written", b.name),
		})
	}
	q.store.tracker.reserveWriter(id, b)
	q.refresh()
	return newColumnView[T](q, id, true, b), nil
}

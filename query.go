package depot

import (
	"encoding/binary"

	"github.com/TheBitDrifter/mask"
	"github.com/cespare/xxhash/v2"
	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type Operation int

const (
	OpAnd Operation = iota
	OpOr
	OpNot
)

type queryItem struct {
	op   Operation
	comp ComponentType
}

// QueryBuilder collects the terms of a query. Build it with Factory.NewQuery
// and resolve it against a store with Store.Query.
type QueryBuilder struct {
	items []queryItem
	err   error
}

func newQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// And requires every item. Items are Component, ComponentType, or slices of
// either; a ComponentType marked Subtractive is treated as Not.
func (q *QueryBuilder) And(items ...interface{}) *QueryBuilder {
	return q.add(OpAnd, items)
}

// Or requires at least one of the items.
func (q *QueryBuilder) Or(items ...interface{}) *QueryBuilder {
	return q.add(OpOr, items)
}

// Not excludes archetypes containing any of the items.
func (q *QueryBuilder) Not(items ...interface{}) *QueryBuilder {
	return q.add(OpNot, items)
}

func (q *QueryBuilder) add(op Operation, items []interface{}) *QueryBuilder {
	for _, item := range items {
		switch v := item.(type) {
		case ComponentType:
			q.push(op, v)
		case []ComponentType:
			for _, ct := range v {
				q.push(op, ct)
			}
		case Component:
			q.push(op, ComponentType{Component: v})
		case []Component:
			for _, c := range v {
				q.push(op, ComponentType{Component: c})
			}
		default:
			if q.err == nil {
				q.err = eris.Errorf("unsupported query item %T", item)
			}
		}
	}
	return q
}

func (q *QueryBuilder) push(op Operation, ct ComponentType) {
	if ct.Access == Subtractive {
		op = OpNot
	}
	q.items = append(q.items, queryItem{op: op, comp: ct})
}

// queryTerm is one canonical entry of a query key.
type queryTerm struct {
	typeID TypeID
	op     Operation
	access AccessMode
}

// queryData is the state shared by every Query with the same key.
type queryData struct {
	id       int
	key      []queryTerm
	all      mask.Mask
	none     mask.Mask
	any      mask.Mask
	hasAny   bool
	matching []*Archetype
}

func (d *queryData) matches(a *Archetype) bool {
	m := a.Mask()
	if !m.ContainsAll(d.all) {
		return false
	}
	// ContainsNone is false for an empty argument
	if !d.none.IsEmpty() && !m.ContainsNone(d.none) {
		return false
	}
	if d.hasAny && !m.ContainsAny(d.any) {
		return false
	}
	return true
}

// term returns the required term for id.
func (d *queryData) term(id TypeID) (queryTerm, bool) {
	for _, t := range d.key {
		if t.typeID == id && t.op == OpAnd {
			return t, true
		}
	}
	return queryTerm{}, false
}

// queryRegistry dedups queries by shape and keeps their matching archetype
// lists current as archetypes are created.
type queryRegistry struct {
	types   *TypeRegistry
	queries []*queryData
	byHash  *intmap.Map[uint64, []int]
	log     zerolog.Logger
}

func newQueryRegistry(types *TypeRegistry, archetypes *archetypeRegistry, log zerolog.Logger) *queryRegistry {
	r := &queryRegistry{
		types:  types,
		byHash: intmap.New[uint64, []int](32),
		log:    log,
	}
	archetypes.subscribe(r.onArchetype)
	return r
}

func (r *queryRegistry) onArchetype(a *Archetype) {
	for _, q := range r.queries {
		if q.matches(a) {
			q.matching = append(q.matching, a)
		}
	}
}

// resolve canonicalises the builder's items into a sorted, deduplicated key.
func (r *queryRegistry) resolve(b *QueryBuilder) ([]queryTerm, error) {
	if b.err != nil {
		return nil, b.err
	}
	key := make([]queryTerm, 0, len(b.items))
	for _, item := range b.items {
		if item.comp.Component == nil {
			return nil, eris.New("nil component in query")
		}
		id, err := r.types.Register(item.comp.Component)
		if err != nil {
			return nil, eris.Wrap(err, "resolve query")
		}
		access := item.comp.Access
		if access == Subtractive {
			access = ReadOnly
		}
		merged := false
		for i := range key {
			if key[i].typeID == id && key[i].op == item.op {
				if access == ReadWrite {
					key[i].access = ReadWrite
				}
				merged = true
				break
			}
		}
		if !merged {
			key = append(key, queryTerm{typeID: id, op: item.op, access: access})
		}
	}
	sortTerms(key)
	return key, nil
}

func sortTerms(key []queryTerm) {
	less := func(a, b queryTerm) bool {
		if a.typeID != b.typeID {
			return a.typeID < b.typeID
		}
		return a.op < b.op
	}
	for i := 1; i < len(key); i++ {
		for j := i; j > 0 && less(key[j], key[j-1]); j-- {
			key[j], key[j-1] = key[j-1], key[j]
		}
	}
}

func hashTerms(key []queryTerm) uint64 {
	d := xxhash.New()
	var buf [4]byte
	for _, t := range key {
		binary.LittleEndian.PutUint16(buf[:2], uint16(t.typeID))
		buf[2] = byte(t.op)
		buf[3] = byte(t.access)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func sameTerms(a, b []queryTerm) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *queryRegistry) getOrCreate(key []queryTerm, archetypes []*Archetype) *queryData {
	hash := hashTerms(key)
	bucket, _ := r.byHash.Get(hash)
	for _, id := range bucket {
		if q := r.queries[id]; sameTerms(q.key, key) {
			return q
		}
	}
	q := &queryData{id: len(r.queries), key: key}
	for _, t := range key {
		bit := r.types.info(t.typeID).bit
		switch t.op {
		case OpAnd:
			q.all.Mark(bit)
		case OpOr:
			q.any.Mark(bit)
			q.hasAny = true
		case OpNot:
			q.none.Mark(bit)
		}
	}
	for _, a := range archetypes {
		if q.matches(a) {
			q.matching = append(q.matching, a)
		}
	}
	r.queries = append(r.queries, q)
	r.byHash.Put(hash, append(bucket, q.id))
	r.log.Debug().
		Int("query", q.id).
		Int("terms", len(key)).
		Int("matching", len(q.matching)).
		Msg("query created")
	return q
}

// Len is the number of distinct query shapes.
func (r *queryRegistry) Len() int {
	return len(r.queries)
}

type sharedFilter struct {
	typeID TypeID
	handle SharedHandle
}

// Query is a handle on a canonical query. Handles are cheap; many may share
// one query shape. A handle with shared-value filters holds references on the
// filtered values until Dispose.
type Query struct {
	store    *Store
	data     *queryData
	filters  []sharedFilter
	disposed bool

	version uint64
	built   bool
	chunks  []*chunk
	starts  []int
	total   int
}

// Query resolves b against the store.
func (s *Store) Query(b *QueryBuilder) (*Query, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	key, err := s.queries.resolve(b)
	if err != nil {
		return nil, err
	}
	return &Query{store: s, data: s.queries.getOrCreate(key, s.archetypes.archetypes)}, nil
}

// CreateQuery is shorthand for Query(Factory.NewQuery().And(items...)).
func (s *Store) CreateQuery(items ...interface{}) (*Query, error) {
	return s.Query(newQueryBuilder().And(items...))
}

// refresh rebuilds the chunk list when the store changed structurally.
func (q *Query) refresh() {
	v := q.store.structuralVersion.Load()
	if q.built && q.version == v {
		return
	}
	q.chunks = q.chunks[:0]
	q.starts = q.starts[:0]
	total := 0
	for _, a := range q.data.matching {
		if a.count == 0 {
			continue
		}
		slots := q.filterSlots(a)
		for c := range q.store.archetypes.chunksOf(a) {
			if c.count == 0 || !q.accepts(c, slots) {
				continue
			}
			q.chunks = append(q.chunks, c)
			q.starts = append(q.starts, total)
			total += c.count
		}
	}
	q.total = total
	q.version = v
	q.built = true
}

func (q *Query) filterSlots(a *Archetype) []int {
	if len(q.filters) == 0 {
		return nil
	}
	slots := make([]int, len(q.filters))
	for i, f := range q.filters {
		slot, ok := a.sharedSlot(f.typeID)
		if !ok {
			slot = -1
		}
		slots[i] = slot
	}
	return slots
}

func (q *Query) accepts(c *chunk, slots []int) bool {
	for i, f := range q.filters {
		if slots[i] < 0 || c.shared[slots[i]] != f.handle {
			return false
		}
	}
	return true
}

// Length is the number of entities the query currently matches.
func (q *Query) Length() int {
	q.refresh()
	return q.total
}

// Archetypes lists the archetypes matching the query shape, ignoring
// shared-value filters.
func (q *Query) Archetypes() []*Archetype {
	return append([]*Archetype(nil), q.data.matching...)
}

func (q *Query) Entities() EntityView {
	q.refresh()
	v := newColumnView[Entity](q, entityTypeID, false, nil)
	return EntityView{view: &v}
}

func (q *Query) ToEntitySlice() []Entity {
	q.refresh()
	out := make([]Entity, 0, q.total)
	for _, c := range q.chunks {
		out = append(out, c.entities()...)
	}
	return out
}

func (q *Query) Cursor() *Cursor {
	return newCursor(q)
}

// Dispose releases the query's shared-value references. The handle must not
// be used afterwards.
func (q *Query) Dispose() {
	if q.disposed {
		return
	}
	q.disposed = true
	for _, f := range q.filters {
		q.store.shared.release(f.handle)
	}
	q.filters = nil
}

// WithSharedValue derives a query that only matches entities whose shared
// component c equals value. The derived query keeps q's filters; a filter on
// the same type is replaced.
func WithSharedValue[T any](q *Query, c AccessibleComponent[T], value T) (*Query, error) {
	id, ok := q.store.types.Lookup(c)
	if !ok || c.Category() != CategoryShared {
		return nil, eris.Wrapf(ComponentNotFoundError{Component: c}, "filter query on non-shared component")
	}
	if _, ok := q.data.term(id); !ok {
		return nil, eris.Wrap(ComponentNotFoundError{Component: c}, "filter on component the query does not require")
	}
	s := q.store
	derived := &Query{store: s, data: q.data}
	for _, f := range q.filters {
		if f.typeID == id {
			continue
		}
		s.shared.retain(f.handle)
		derived.filters = append(derived.filters, f)
	}
	h := s.shared.insert(id, value)
	derived.filters = append(derived.filters, sharedFilter{typeID: id, handle: h})
	return derived, nil
}

// chunkFor returns the chunk holding logical index i and its first index.
func (q *Query) chunkFor(i int) (int, bool) {
	lo, hi := 0, len(q.starts)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if q.starts[mid] <= i {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	return lo - 1, true
}

package depot

import (
	"reflect"

	"github.com/rotisserie/eris"
)

type operation struct {
	typ    operationType
	amount int
	comps  []Component
	entity Entity
	apply  func(*Store, Entity) error
}

type operationType int

const (
	opCreate operationType = iota
	opDestroy
	opAddComponent
	opRemoveComponent
	opSetComponent
)

// opKey groups the commands that overwrite each other: structural changes
// and value writes of one component on one entity.
type opKey struct {
	entity Entity
	rtype  reflect.Type
	set    bool
}

// CommandBuffer records structural changes for later playback on the control
// thread. Playback order is creations, then component changes, then
// destructions; the last change queued for one (entity, component) pair wins
// and changes to entities queued for destruction are dropped. A buffer is not
// safe for concurrent use; give each goroutine its own.
type CommandBuffer struct {
	createOps      []operation
	componentOps   []operation
	destroyOps     []Entity
	pendingDestroy map[Entity]struct{}
	pendingMods    map[opKey]int
}

func newCommandBuffer() *CommandBuffer {
	return &CommandBuffer{
		pendingDestroy: make(map[Entity]struct{}),
		pendingMods:    make(map[opKey]int),
	}
}

func (q *CommandBuffer) CreateEntities(n int, comps ...Component) {
	q.createOps = append(q.createOps, operation{
		typ:    opCreate,
		amount: n,
		comps:  append([]Component(nil), comps...),
	})
}

func (q *CommandBuffer) DestroyEntities(es ...Entity) {
	for _, e := range es {
		if _, exists := q.pendingDestroy[e]; exists {
			continue
		}
		q.pendingDestroy[e] = struct{}{}
		q.destroyOps = append(q.destroyOps, e)
	}
}

func (q *CommandBuffer) AddComponent(e Entity, c Component) {
	q.componentOp(opAddComponent, e, c, nil)
}

func (q *CommandBuffer) RemoveComponent(e Entity, c Component) {
	q.componentOp(opRemoveComponent, e, c, nil)
}

// SetComponentCommand queues a value write of c on e.
func SetComponentCommand[T any](q *CommandBuffer, e Entity, c AccessibleComponent[T], value T) {
	q.componentOp(opSetComponent, e, c, func(s *Store, e Entity) error {
		return SetComponent(s, e, c, value)
	})
}

func (q *CommandBuffer) componentOp(typ operationType, e Entity, c Component, apply func(*Store, Entity) error) {
	if _, destroyed := q.pendingDestroy[e]; destroyed {
		return
	}
	key := opKey{entity: e, rtype: c.spec().rtype, set: typ == opSetComponent}
	op := operation{typ: typ, entity: e, comps: []Component{c}, apply: apply}
	if idx, exists := q.pendingMods[key]; exists {
		q.componentOps[idx] = op
		return
	}
	q.pendingMods[key] = len(q.componentOps)
	q.componentOps = append(q.componentOps, op)
}

// Len is the number of queued commands.
func (q *CommandBuffer) Len() int {
	return len(q.createOps) + len(q.componentOps) + len(q.destroyOps)
}

// Playback applies and clears the buffer. Commands aimed at entities that no
// longer exist are skipped.
func (q *CommandBuffer) Playback(s *Store) error {
	if q.Len() == 0 {
		return nil
	}
	defer q.Reset()

	for _, op := range q.createOps {
		if _, err := s.NewEntities(op.amount, op.comps...); err != nil {
			return eris.Wrap(err, "failed to process queued entity creation")
		}
	}

	for _, op := range q.componentOps {
		if _, destroyed := q.pendingDestroy[op.entity]; destroyed {
			continue
		}
		if !s.Exists(op.entity) {
			continue
		}
		switch op.typ {
		case opAddComponent:
			if s.HasComponent(op.entity, op.comps[0]) {
				continue
			}
			if err := s.AddComponent(op.entity, op.comps[0]); err != nil {
				return eris.Wrap(err, "failed to add queued component")
			}
		case opRemoveComponent:
			if !s.HasComponent(op.entity, op.comps[0]) {
				continue
			}
			if err := s.RemoveComponent(op.entity, op.comps[0]); err != nil {
				return eris.Wrap(err, "failed to remove queued component")
			}
		case opSetComponent:
			if !s.HasComponent(op.entity, op.comps[0]) {
				continue
			}
			if err := op.apply(s, op.entity); err != nil {
				return eris.Wrap(err, "failed to set queued component")
			}
		}
	}

	live := q.destroyOps[:0]
	for _, e := range q.destroyOps {
		if s.Exists(e) {
			live = append(live, e)
		}
	}
	if len(live) > 0 {
		if err := s.DestroyEntities(live...); err != nil {
			return eris.Wrap(err, "failed to delete queued entities")
		}
	}
	return nil
}

// Reset drops every queued command.
func (q *CommandBuffer) Reset() {
	q.createOps = q.createOps[:0]
	q.componentOps = q.componentOps[:0]
	q.destroyOps = q.destroyOps[:0]
	clear(q.pendingDestroy)
	clear(q.pendingMods)
}

package depot

import (
	"sync/atomic"

	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Store owns every archetype, chunk and entity of one world, plus the job
// tracker guarding them. All methods must be called from a single control
// goroutine; only job bodies run elsewhere.
type Store struct {
	id     uuid.UUID
	cfg    Config
	log    zerolog.Logger
	schema table.Schema

	types      *TypeRegistry
	alloc      *chunkAllocator
	shared     *sharedValueTable
	archetypes *archetypeRegistry
	entities   *entityIndex
	queries    *queryRegistry
	tracker    *tracker
	sched      *scheduler

	// structuralVersion moves on every structural change; views and query
	// chunk lists compare against it.
	structuralVersion atomic.Uint64

	lockCount int
	locks     mask.Mask
	lockBits  int
	queue     *CommandBuffer
	closed    bool
}

func newStore(schema table.Schema, opts ...Option) (*Store, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "new store")
	}
	id := uuid.New()
	base := newLogger(o.cfg, nil)
	if o.logger != nil {
		base = *o.logger
	}
	log := storeLogger(base, id)

	s := &Store{
		id:     id,
		cfg:    o.cfg,
		log:    log,
		schema: schema,
	}
	s.types = newTypeRegistry(schema)
	s.alloc = newChunkAllocator(o.cfg.ChunkBytes)
	s.shared = newSharedValueTable()
	s.archetypes = newArchetypeRegistry(s.types, s.alloc, s.shared, o.cfg.TransitionCacheSize, log)
	s.entities = newEntityIndex(o.cfg.InitialEntityCapacity)
	s.queries = newQueryRegistry(s.types, s.archetypes, log)
	s.tracker = newTracker(s.types, o.cfg.ReaderRingSize, log)
	s.sched = newScheduler(o.cfg.Workers, log)
	s.queue = newCommandBuffer()

	log.Debug().
		Int("chunk_bytes", o.cfg.ChunkBytes).
		Int("workers", o.cfg.Workers).
		Msg("store created")
	return s, nil
}

func (s *Store) ID() uuid.UUID {
	return s.id
}

func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) Logger() zerolog.Logger {
	return s.log
}

// Types exposes the store's type registry.
func (s *Store) Types() *TypeRegistry {
	return s.types
}

// RowIndexFor returns the row index of c in the store's table schema. Query
// and archetype signatures use the store-local TypeID instead.
func (s *Store) RowIndexFor(c Component) uint32 {
	return s.schema.RowIndexFor(c)
}

func (s *Store) Locked() bool {
	return s.lockCount > 0 || s.lockBits > 0
}

// Lock defers structural changes: direct calls fail with LockedStorageError
// and Enqueue* calls are buffered. Locks nest.
func (s *Store) Lock() {
	s.lockCount++
}

// Unlock releases one Lock. Releasing the last lock plays back every
// buffered command.
func (s *Store) Unlock() error {
	if s.lockCount == 0 {
		return nil
	}
	s.lockCount--
	return s.playbackIfUnlocked()
}

// AddLock holds the store locked under a caller-chosen bit, so independent
// systems can lock and unlock without counting each other's locks. Adding a
// bit twice holds it once.
func (s *Store) AddLock(bit uint32) {
	if s.hasLock(bit) {
		return
	}
	s.locks.Mark(bit)
	s.lockBits++
}

// RemoveLock releases the lock held under bit.
func (s *Store) RemoveLock(bit uint32) error {
	if !s.hasLock(bit) {
		return nil
	}
	s.locks.Unmark(bit)
	s.lockBits--
	return s.playbackIfUnlocked()
}

func (s *Store) hasLock(bit uint32) bool {
	var m mask.Mask
	m.Mark(bit)
	return s.locks.ContainsAll(m)
}

func (s *Store) playbackIfUnlocked() error {
	if s.Locked() {
		return nil
	}
	return s.queue.Playback(s)
}

// beginStructural checks the store can change shape and runs the barrier.
// Views handed out before it are invalid afterwards.
func (s *Store) beginStructural() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.Locked() {
		return LockedStorageError{}
	}
	s.structuralVersion.Add(1)
	if r := s.tracker.completeAll(); r != nil {
		panic(r)
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close joins every outstanding job and releases the store. Jobs still
// running at this point are a leak: they are waited for and reported as an
// OutstandingJobsError.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	names := s.sched.outstanding()
	if len(names) > 0 {
		s.log.Error().
			Int("count", len(names)).
			Strs("jobs", names).
			Msg("store closed with outstanding jobs; joining")
	}
	s.sched.waitAll()
	if r := s.tracker.completeAll(); r != nil {
		s.log.Warn().Interface("panic", r).Msg("store closed over a job panic nobody completed")
	}
	s.closed = true
	s.structuralVersion.Add(1)
	s.log.Debug().
		Int("entities", s.entities.Len()).
		Int("archetypes", len(s.archetypes.archetypes)).
		Int("chunks", s.alloc.Allocated()).
		Msg("store closed")
	if len(names) > 0 {
		return eris.Wrap(OutstandingJobsError{Count: len(names), Names: names}, "close store")
	}
	return nil
}

func (s *Store) EntityCount() int {
	return s.entities.Len()
}

func (s *Store) ArchetypeCount() int {
	return len(s.archetypes.archetypes)
}

// Archetypes lists every archetype in creation order.
func (s *Store) Archetypes() []*Archetype {
	return append([]*Archetype(nil), s.archetypes.archetypes...)
}

// ChunkCount is the number of chunks linked to archetypes.
func (s *Store) ChunkCount() int {
	return s.alloc.Allocated() - s.alloc.Pooled()
}

// SharedValueCount is the number of distinct non-default shared values alive.
func (s *Store) SharedValueCount() int {
	return s.shared.Len()
}

// QueryCount is the number of distinct query shapes created so far.
func (s *Store) QueryCount() int {
	return s.queries.Len()
}

// PendingJobs counts recorded jobs that have not completed.
func (s *Store) PendingJobs() int {
	return s.tracker.pending()
}

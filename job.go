package depot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var jobIDs atomic.Uint64

// job is one node of the dependency graph. Combined jobs have no body; they
// complete once all of their deps have.
type job struct {
	id       uint64
	name     string
	combined bool
	done     chan struct{}
	// deps is cleared once the job completes. Every ancestor of a completed
	// job is itself complete, so dropping the edges loses nothing.
	deps     atomic.Pointer[[]*job]
	panicVal any
	// surfaced is set once panicVal has been re-raised on the control thread.
	surfaced atomic.Bool
}

func newJob(name string, combined bool, deps []*job) *job {
	j := &job{
		id:       jobIDs.Add(1),
		name:     name,
		combined: combined,
		done:     make(chan struct{}),
	}
	if len(deps) > 0 {
		j.deps.Store(&deps)
	}
	return j
}

func (j *job) completed() bool {
	if j == nil {
		return true
	}
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *job) wait() {
	if j != nil {
		<-j.done
	}
}

// takePanic returns the job's panic the first time it is asked for.
func (j *job) takePanic() any {
	if j.panicVal == nil || !j.surfaced.CompareAndSwap(false, true) {
		return nil
	}
	return j.panicVal
}

func (j *job) finish() {
	close(j.done)
	j.deps.Store(nil)
}

// reaches reports whether target is j itself or one of its transitive deps.
func (j *job) reaches(target *job) bool {
	if target.completed() {
		return true
	}
	seen := make(map[*job]struct{})
	stack := []*job{j}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n == target {
			return true
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		if deps := n.deps.Load(); deps != nil {
			stack = append(stack, *deps...)
		}
	}
	// an edge on the way may have been cleared because target finished
	return target.completed()
}

// JobHandle names scheduled work. The zero JobHandle is already complete.
type JobHandle struct {
	j *job
}

// Complete blocks until the job and everything it depends on has finished.
// A panic raised by the job body is re-raised here. A panic nobody completes
// is re-raised by the next control-thread access that joins the job.
func (h JobHandle) Complete() {
	if h.j == nil {
		return
	}
	h.j.wait()
	if h.j.panicVal != nil {
		h.j.surfaced.Store(true)
		panic(h.j.panicVal)
	}
}

func (h JobHandle) IsCompleted() bool {
	return h.j.completed()
}

func (h JobHandle) String() string {
	if h.j == nil {
		return "JobHandle(completed)"
	}
	return fmt.Sprintf("JobHandle(%d:%s)", h.j.id, h.j.name)
}

// CombineDependencies returns a handle that completes once every handle
// passed to it has.
func CombineDependencies(handles ...JobHandle) JobHandle {
	pending := make([]*job, 0, len(handles))
	for _, h := range handles {
		if h.j == nil || h.j.completed() {
			continue
		}
		dup := false
		for _, p := range pending {
			if p == h.j {
				dup = true
				break
			}
		}
		if !dup {
			pending = append(pending, h.j)
		}
	}
	switch len(pending) {
	case 0:
		return JobHandle{}
	case 1:
		return JobHandle{j: pending[0]}
	}
	j := newJob("combined", true, pending)
	go func() {
		for _, p := range pending {
			p.wait()
		}
		j.finish()
	}()
	return JobHandle{j: j}
}

// scheduler runs job bodies on goroutines bounded by a weighted semaphore.
type scheduler struct {
	workers int
	sem     *semaphore.Weighted
	log     zerolog.Logger

	mu      sync.Mutex
	running map[uint64]*job
}

func newScheduler(workers int, log zerolog.Logger) *scheduler {
	return &scheduler{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		log:     log,
		running: make(map[uint64]*job),
	}
}

func (s *scheduler) schedule(name string, fn func(), prereq JobHandle) JobHandle {
	var deps []*job
	if prereq.j != nil {
		deps = []*job{prereq.j}
	}
	j := newJob(name, false, deps)
	s.mu.Lock()
	s.running[j.id] = j
	s.mu.Unlock()

	go func() {
		prereq.j.wait()
		_ = s.sem.Acquire(context.Background(), 1)
		s.run(j, fn)
		s.sem.Release(1)
		s.mu.Lock()
		delete(s.running, j.id)
		s.mu.Unlock()
		j.finish()
	}()
	return JobHandle{j: j}
}

func (s *scheduler) run(j *job, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			j.panicVal = r
			s.log.Error().
				Uint64("job", j.id).
				Str("name", j.name).
				Interface("panic", r).
				Msg("job panicked")
		}
	}()
	fn()
}

// outstanding lists the names of jobs that have not finished yet.
func (s *scheduler) outstanding() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.running))
	for _, j := range s.running {
		names = append(names, j.name)
	}
	return names
}

func (s *scheduler) waitAll() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.running))
	for _, j := range s.running {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	for _, j := range jobs {
		j.wait()
	}
}

// parallelFor splits [0, length) into batches and runs fn on up to workers
// goroutines. The first batch panic is re-raised after all batches finish.
func parallelFor(workers, length, batch int, fn func(begin, end int)) {
	if batch <= 0 {
		batch = max(1, length/(workers*4))
	}
	var g errgroup.Group
	g.SetLimit(workers)
	var once sync.Once
	var firstPanic any
	for begin := 0; begin < length; begin += batch {
		end := min(begin+batch, length)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { firstPanic = r })
				}
			}()
			fn(begin, end)
			return nil
		})
	}
	_ = g.Wait()
	if firstPanic != nil {
		panic(firstPanic)
	}
}

// JobBuilder describes one job: the component types it reads and writes, the
// handles it must run after and the views it uses. Scheduling through a
// builder acquires and records dependencies automatically.
type JobBuilder struct {
	store     *Store
	name      string
	reads     []TypeID
	writes    []TypeID
	after     []JobHandle
	err       error
	scheduled bool
	cancelled bool
}

func (s *Store) NewJob(name string) *JobBuilder {
	return &JobBuilder{store: s, name: name}
}

func (b *JobBuilder) Reads(comps ...Component) *JobBuilder {
	for _, c := range comps {
		id, err := b.store.types.Register(c)
		if err != nil {
			b.fail(err)
			continue
		}
		b.reads = appendTypeID(b.reads, id)
	}
	return b
}

func (b *JobBuilder) Writes(comps ...Component) *JobBuilder {
	for _, c := range comps {
		id, err := b.store.types.Register(c)
		if err != nil {
			b.fail(err)
			continue
		}
		b.writes = appendTypeID(b.writes, id)
	}
	return b
}

// After adds explicit prerequisites on top of the tracked ones.
func (b *JobBuilder) After(handles ...JobHandle) *JobBuilder {
	b.after = append(b.after, handles...)
	return b
}

func (b *JobBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *JobBuilder) declaresRead(id TypeID) bool {
	return containsTypeID(b.reads, id) || containsTypeID(b.writes, id)
}

func (b *JobBuilder) declaresWrite(id TypeID) bool {
	return containsTypeID(b.writes, id)
}

// Schedule queues fn to run once every prerequisite has completed.
func (b *JobBuilder) Schedule(fn func()) (JobHandle, error) {
	if err := b.begin(); err != nil {
		return JobHandle{}, err
	}
	s := b.store
	reads := b.effectiveReads()
	prereq := CombineDependencies(append([]JobHandle{s.tracker.acquire(reads, b.writes)}, b.after...)...)
	h := s.sched.schedule(b.name, fn, prereq)
	s.tracker.record(reads, b.writes, h)
	s.log.Trace().
		Str("job", b.name).
		Int("reads", len(reads)).
		Int("writes", len(b.writes)).
		Msg("job scheduled")
	return h, nil
}

// ScheduleParallelFor schedules one job that calls fn over [0, length) in
// batches of batch indices, fanned out over the store's workers. A batch of
// zero or less picks one from length and the worker count.
func (b *JobBuilder) ScheduleParallelFor(length, batch int, fn func(begin, end int)) (JobHandle, error) {
	workers := b.store.cfg.Workers
	return b.Schedule(func() {
		parallelFor(workers, length, batch, fn)
	})
}

// Cancel discards the builder and any views it reserved.
func (b *JobBuilder) Cancel() {
	if b.scheduled || b.cancelled {
		return
	}
	b.cancelled = true
	b.store.tracker.releasePending(b)
}

func (b *JobBuilder) begin() error {
	if b.scheduled || b.cancelled {
		return fmt.Errorf("job %q already scheduled or cancelled", b.name)
	}
	if b.err != nil {
		return b.err
	}
	if b.store.closed {
		return ErrStoreClosed
	}
	b.scheduled = true
	return nil
}

// effectiveReads drops reads that are also writes.
func (b *JobBuilder) effectiveReads() []TypeID {
	out := make([]TypeID, 0, len(b.reads))
	for _, id := range b.reads {
		if !containsTypeID(b.writes, id) {
			out = append(out, id)
		}
	}
	return out
}

// AcquireDependencies returns a handle covering every job recorded against
// the given types: the writer of each read type and the writer and readers
// of each written type.
func (s *Store) AcquireDependencies(reads, writes []Component) (JobHandle, error) {
	r, w, err := s.resolveAccess(reads, writes)
	if err != nil {
		return JobHandle{}, err
	}
	return s.tracker.acquire(r, w), nil
}

// Schedule runs fn after prereq and records it against reads and writes. In
// checked builds a prereq that does not cover the jobs already recorded
// against those types panics with *AliasingViolation.
func (s *Store) Schedule(name string, fn func(), reads, writes []Component, prereq JobHandle) (JobHandle, error) {
	if s.closed {
		return JobHandle{}, ErrStoreClosed
	}
	r, w, err := s.resolveAccess(reads, writes)
	if err != nil {
		return JobHandle{}, err
	}
	if safetyChecks {
		s.tracker.checkSchedule(name, r, w, prereq)
	}
	h := s.sched.schedule(name, fn, prereq)
	s.tracker.record(r, w, h)
	return h, nil
}

// CompleteAllJobs joins every recorded job and resets the tracker. It
// re-raises the panic of a joined job that was never completed.
func (s *Store) CompleteAllJobs() {
	if r := s.tracker.completeAll(); r != nil {
		panic(r)
	}
}

func (s *Store) resolveAccess(reads, writes []Component) ([]TypeID, []TypeID, error) {
	var r, w []TypeID
	for _, c := range writes {
		id, err := s.types.Register(c)
		if err != nil {
			return nil, nil, err
		}
		w = appendTypeID(w, id)
	}
	for _, c := range reads {
		id, err := s.types.Register(c)
		if err != nil {
			return nil, nil, err
		}
		if !containsTypeID(w, id) {
			r = appendTypeID(r, id)
		}
	}
	return r, w, nil
}

func containsTypeID(ids []TypeID, id TypeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func appendTypeID(ids []TypeID, id TypeID) []TypeID {
	if containsTypeID(ids, id) {
		return ids
	}
	return append(ids, id)
}

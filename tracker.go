package depot

import (
	"fmt"

	"github.com/rs/zerolog"
)

// typeDeps is what the tracker knows about one component type.
type typeDeps struct {
	writer  *job
	readers []*job
	// readVersion and writeVersion move every time a job is recorded
	// against the type. Control-thread views compare them to detect jobs
	// scheduled after the view was handed out.
	readVersion  uint64
	writeVersion uint64
	// pendingWriter is the unscheduled builder holding a writable view.
	pendingWriter *JobBuilder
}

// tracker turns per-type read/write declarations into job prerequisites. It
// is only touched from the control thread.
type tracker struct {
	types    *TypeRegistry
	deps     []typeDeps
	ringSize int
	log      zerolog.Logger
}

func newTracker(types *TypeRegistry, ringSize int, log zerolog.Logger) *tracker {
	return &tracker{
		types:    types,
		deps:     make([]typeDeps, MaxComponentTypes),
		ringSize: ringSize,
		log:      log,
	}
}

// acquire returns a handle covering everything recorded against the types.
func (t *tracker) acquire(reads, writes []TypeID) JobHandle {
	var handles []JobHandle
	for _, id := range reads {
		if w := t.deps[id].writer; w != nil {
			handles = append(handles, JobHandle{j: w})
		}
	}
	for _, id := range writes {
		d := &t.deps[id]
		if d.writer != nil {
			handles = append(handles, JobHandle{j: d.writer})
		}
		for _, r := range d.readers {
			handles = append(handles, JobHandle{j: r})
		}
	}
	return CombineDependencies(handles...)
}

// record installs h as the writer of every written type and as a reader of
// every read type. A full reader ring collapses into one combined handle.
func (t *tracker) record(reads, writes []TypeID, h JobHandle) {
	if h.j == nil {
		return
	}
	for _, id := range writes {
		d := &t.deps[id]
		d.writer = h.j
		d.readers = d.readers[:0]
		d.writeVersion++
		d.pendingWriter = nil
	}
	for _, id := range reads {
		d := &t.deps[id]
		if len(d.readers) >= t.ringSize {
			handles := make([]JobHandle, len(d.readers))
			for i, r := range d.readers {
				handles[i] = JobHandle{j: r}
			}
			d.readers = d.readers[:0]
			if c := CombineDependencies(handles...); c.j != nil {
				d.readers = append(d.readers, c.j)
			}
			t.log.Trace().Str("type", t.types.name(id)).Msg("reader ring collapsed")
		}
		d.readers = append(d.readers, h.j)
		d.readVersion++
	}
}

// completeFor joins what a control-thread access to id must wait for: the
// writer, and the readers too when the access writes.
// A job panic nobody completed is re-raised once the tracker is consistent.
func (t *tracker) completeFor(id TypeID, write bool) {
	d := &t.deps[id]
	var failed any
	if d.writer != nil {
		d.writer.wait()
		failed = d.writer.takePanic()
		d.writer = nil
	}
	if write {
		for _, r := range d.readers {
			r.wait()
			if p := r.takePanic(); failed == nil {
				failed = p
			}
		}
		d.readers = d.readers[:0]
	}
	if failed != nil {
		panic(failed)
	}
}

// completeAll is the structural barrier: it joins every recorded job and
// forgets them. It returns the first panic of a joined job that nobody
// completed.
func (t *tracker) completeAll() (failed any) {
	take := func(j *job) {
		j.wait()
		if p := j.takePanic(); failed == nil {
			failed = p
		}
	}
	for i := range t.deps {
		d := &t.deps[i]
		if d.writer != nil {
			take(d.writer)
			d.writer = nil
		}
		for _, r := range d.readers {
			take(r)
		}
		d.readers = d.readers[:0]
		d.pendingWriter = nil
	}
	return failed
}

func (t *tracker) versions(id TypeID) (read, write uint64) {
	d := &t.deps[id]
	return d.readVersion, d.writeVersion
}

// checkSchedule panics unless prereq covers every job a job with the given
// access must wait for.
func (t *tracker) checkSchedule(name string, reads, writes []TypeID, prereq JobHandle) {
	covered := func(j *job) bool {
		if j == nil {
			return true
		}
		if prereq.j == nil {
			return j.completed()
		}
		return prereq.j.reaches(j)
	}
	for _, id := range reads {
		if w := t.deps[id].writer; !covered(w) {
			panic(&AliasingViolation{
				Type:   t.types.name(id),
				Reason: fmt.Sprintf("job %q reads while writer %q is not in its prerequisites", name, w.name),
			})
		}
	}
	for _, id := range writes {
		d := &t.deps[id]
		if !covered(d.writer) {
			panic(&AliasingViolation{
				Type:   t.types.name(id),
				Reason: fmt.Sprintf("job %q writes while writer %q is not in its prerequisites", name, d.writer.name),
			})
		}
		for _, r := range d.readers {
			if !covered(r) {
				panic(&AliasingViolation{
					Type:   t.types.name(id),
					Reason: fmt.Sprintf("job %q writes while reader %q is not in its prerequisites", name, r.name),
				})
			}
		}
	}
}

// reserveWriter marks b as the owner of a writable job view of id.
func (t *tracker) reserveWriter(id TypeID, b *JobBuilder) {
	d := &t.deps[id]
	if safetyChecks && d.pendingWriter != nil && d.pendingWriter != b {
		panic(&AliasingViolation{
			Type:   t.types.name(id),
			Reason: fmt.Sprintf("job %q takes a writable view while job %q still holds one", b.name, d.pendingWriter.name),
		})
	}
	d.pendingWriter = b
}

func (t *tracker) releasePending(b *JobBuilder) {
	for i := range t.deps {
		if t.deps[i].pendingWriter == b {
			t.deps[i].pendingWriter = nil
		}
	}
}

func (t *tracker) pending() int {
	n := 0
	for i := range t.deps {
		d := &t.deps[i]
		if d.writer != nil && !d.writer.completed() {
			n++
		}
		for _, r := range d.readers {
			if !r.completed() {
				n++
			}
		}
	}
	return n
}

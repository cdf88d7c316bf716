package depot

// viewSafety is carried by every view. It remembers the structural version
// and, for control-thread views, the type versions at creation.
type viewSafety struct {
	store    *Store
	typeID   TypeID
	writable bool
	epoch    uint64
	readVer  uint64
	writeVer uint64
	job      *JobBuilder
}

func newViewSafety(s *Store, id TypeID, writable bool, b *JobBuilder) *viewSafety {
	v := &viewSafety{
		store:    s,
		typeID:   id,
		writable: writable,
		epoch:    s.structuralVersion.Load(),
		job:      b,
	}
	if b == nil {
		v.readVer, v.writeVer = s.tracker.versions(id)
	}
	return v
}

func (v *viewSafety) check(write bool) {
	if !safetyChecks {
		return
	}
	if v.store.structuralVersion.Load() != v.epoch {
		v.violate("view used after a structural change")
	}
	if write && !v.writable {
		v.violate("write through a read-only view")
	}
	if v.job != nil {
		return
	}
	read, written := v.store.tracker.versions(v.typeID)
	if written != v.writeVer {
		v.violate("control-thread view used after a job writing the type was scheduled")
	}
	if v.writable && read != v.readVer {
		v.violate("writable control-thread view used after a job reading the type was scheduled")
	}
}

func (v *viewSafety) violate(reason string) {
	panic(&AliasingViolation{Type: v.store.types.name(v.typeID), Reason: reason})
}

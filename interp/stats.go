package interp

import (
	"time"
)

// GcStats is a point-in-time snapshot of collector counters, exposed to
// profiling and observability collaborators.
type GcStats struct {
	Allocations          uint64
	Deallocations        uint64
	LiveObjects          int
	TotalMemory          int64
	PeakMemory           int64
	CollectionsPerformed uint64
	CyclesDetected       uint64
	InvariantViolations  uint64
	LastCollection       time.Duration
}

// CollectionStats describes a single collection pass (or one incremental
// slice of one).
type CollectionStats struct {
	CandidatesScanned int
	Reclaimed         int
	CyclesDetected    int
	BytesReclaimed    int64
	Duration          time.Duration
	Timestamp         time.Time

	// Completed is false when an incremental slice exhausted its step
	// budget before the pass finished. The pass resumes on the next
	// Collect call or automatic trigger; callers must not assume a single
	// call empties all garbage.
	Completed bool
}

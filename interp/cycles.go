package interp

import (
	"time"
)

// collectPhase is the collector's pass state: Idle -> Marking -> Sweeping
// -> Idle. An incremental slice that exhausts its budget leaves the
// collector in Marking or Sweeping and resumes on the next opportunity.
type collectPhase int

const (
	phaseIdle collectPhase = iota
	phaseMarking
	phaseSweeping
)

// maxGeneration caps promotion so the counter cannot grow without bound.
const maxGeneration = 15

// cyclePass is the state of one in-progress cycle-detection pass.
type cyclePass struct {
	// candidates are the live cycle-candidate handles snapshotted at pass
	// start. The sweep visits exactly these.
	candidates  []Handle
	markStack   []Handle
	sweepCursor int

	// observed is the collector's mutation counter when marking started.
	// A pass that notices intervening reachability changes restarts from
	// scratch; stale mark state must never drive a sweep.
	observed uint64

	sweeping bool

	// freed maps handles reclaimed during the sweep (directly or by
	// cascade) to their outgoing edges, for cycle counting.
	freed map[Handle][]Handle

	reclaimed      int
	bytesReclaimed int64
	elapsed        time.Duration
}

// noteFreed records an object reclaimed while this pass is sweeping.
// Called from removeLocked for every free; ignores frees during marking
// (those come from ordinary ref-count activity between slices).
func (p *cyclePass) noteFreed(obj *GcObject) {
	if !p.sweeping {
		return
	}
	var out []Handle
	obj.payload.eachRef(func(h Handle) {
		out = append(out, h)
	})
	p.freed[obj.id] = out
	p.reclaimed++
	p.bytesReclaimed += obj.payload.memSize()
}

// Collect runs a cycle-detection pass, or one incremental slice of one
// when a step size is configured. It blocks until the pass (or slice)
// completes; there is no background collection thread.
func (gc *GarbageCollector) Collect() *CollectionStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.collectLocked()
}

// fullCollectLocked runs a complete pass regardless of the configured
// step size. Used for the emergency pass before reporting OutOfMemory.
func (gc *GarbageCollector) fullCollectLocked() {
	saved := gc.stepSize
	gc.stepSize = 0
	gc.collectLocked()
	gc.stepSize = saved
}

func (gc *GarbageCollector) collectLocked() *CollectionStats {
	start := time.Now()
	stats := &CollectionStats{Timestamp: start}
	budget := gc.stepSize
	steps := 0

	if gc.phase == phaseIdle || gc.pass == nil {
		gc.beginPassLocked()
	} else if gc.pass.observed != gc.mutations {
		// The object graph changed since this pass began; its mark state
		// is stale. Restart rather than risk sweeping a live object.
		gc.beginPassLocked()
	}

	// Mark phase: traverse from roots through outgoing edges. Edges into
	// non-candidate objects terminate traversal (they hold no outgoing
	// edges) but those objects are still conservatively marked.
	if gc.phase == phaseMarking {
		pass := gc.pass
		for len(pass.markStack) > 0 {
			if budget > 0 && steps >= budget {
				return gc.sliceDoneLocked(stats, start, steps, false)
			}
			h := pass.markStack[len(pass.markStack)-1]
			pass.markStack = pass.markStack[:len(pass.markStack)-1]

			obj, ok := gc.objects[h]
			if !ok || obj.marked {
				continue
			}
			obj.marked = true
			steps++
			pass.markStack = append(pass.markStack, obj.outgoing...)
		}
		// A full mark is complete; only now may sweeping begin.
		gc.phase = phaseSweeping
		gc.pass.sweeping = true
	}

	// Sweep phase: every unmarked candidate is unreachable, including
	// mutually-referencing cycles whose ref counts never reached zero.
	if gc.phase == phaseSweeping {
		pass := gc.pass
		gc.inSweep = true
		for pass.sweepCursor < len(pass.candidates) {
			if budget > 0 && steps >= budget {
				gc.inSweep = false
				return gc.sliceDoneLocked(stats, start, steps, false)
			}
			h := pass.candidates[pass.sweepCursor]
			pass.sweepCursor++
			steps++

			obj, ok := gc.objects[h]
			if !ok || obj.marked {
				continue // already cascaded away this pass, or reachable
			}
			obj.refCount = 0
			gc.finalizeLocked(obj)
		}
		gc.inSweep = false
		gc.finishPassLocked(stats)
	}

	return gc.sliceDoneLocked(stats, start, steps, true)
}

// beginPassLocked snapshots candidates, recomputes outgoing edge sets,
// clears mark flags, and seeds the mark stack with the root set.
func (gc *GarbageCollector) beginPassLocked() {
	pass := &cyclePass{
		observed: gc.mutations,
		freed:    make(map[Handle][]Handle),
	}

	for _, obj := range gc.objects {
		obj.marked = false
		obj.recomputeOutgoing()

		if !obj.mightFormCycle {
			continue
		}
		if gc.genThreshold > 0 && obj.generation > gc.genThreshold {
			// Old-generation objects are out of scope for this pass and
			// conservatively act as additional roots.
			pass.markStack = append(pass.markStack, obj.id)
			continue
		}
		pass.candidates = append(pass.candidates, obj.id)
	}

	for _, provider := range gc.roots {
		pass.markStack = append(pass.markStack, provider.Roots()...)
	}

	gc.pass = pass
	gc.phase = phaseMarking
}

// finishPassLocked resets mark state, promotes survivors, counts cycles,
// and returns the collector to Idle.
func (gc *GarbageCollector) finishPassLocked(stats *CollectionStats) {
	pass := gc.pass

	cycles := countCycleGroups(pass.freed)
	gc.cyclesDetected += uint64(cycles)
	stats.CyclesDetected = cycles
	stats.Reclaimed = pass.reclaimed
	stats.BytesReclaimed = pass.bytesReclaimed

	for _, h := range pass.candidates {
		obj, ok := gc.objects[h]
		if !ok {
			continue
		}
		if obj.generation < maxGeneration {
			obj.generation++
		}
		obj.marked = false
	}
	for _, obj := range gc.objects {
		obj.marked = false
	}

	gc.collections++
	gc.lastCollection = pass.elapsed + time.Since(stats.Timestamp)

	// Pacing: if the heap estimate still sits above the threshold after a
	// completed pass, grow the threshold so automatic collection does not
	// thrash on a genuinely large live set.
	if gc.autoCollect && gc.totalMemory >= gc.threshold {
		gc.threshold = gc.totalMemory * 2
	}

	if pass.reclaimed > 0 {
		gcLog.Infof("cycle pass reclaimed %d objects (%d bytes, %d cycles)",
			pass.reclaimed, pass.bytesReclaimed, cycles)
	}

	gc.phase = phaseIdle
	gc.pass = nil
}

// sliceDoneLocked fills in per-invocation statistics.
func (gc *GarbageCollector) sliceDoneLocked(stats *CollectionStats, start time.Time, steps int, completed bool) *CollectionStats {
	stats.CandidatesScanned = steps
	stats.Duration = time.Since(start)
	stats.Completed = completed
	if gc.pass != nil {
		gc.pass.elapsed += stats.Duration
		stats.Reclaimed = gc.pass.reclaimed
		stats.BytesReclaimed = gc.pass.bytesReclaimed
	}
	return stats
}

// countCycleGroups counts connected components among the objects freed by
// a sweep. Every object freed by a sweep was unreachable while its ref
// count stayed positive, so each component corresponds to one reclaimed
// reference cycle (plus whatever garbage hung off it).
func countCycleGroups(freed map[Handle][]Handle) int {
	if len(freed) == 0 {
		return 0
	}

	parent := make(map[Handle]Handle, len(freed))
	for h := range freed {
		parent[h] = h
	}

	var find func(Handle) Handle
	find = func(h Handle) Handle {
		for parent[h] != h {
			parent[h] = parent[parent[h]]
			h = parent[h]
		}
		return h
	}
	union := func(a, b Handle) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for h, edges := range freed {
		for _, out := range edges {
			if _, ok := freed[out]; ok {
				union(h, out)
			}
		}
	}

	groups := make(map[Handle]struct{})
	for h := range freed {
		groups[find(h)] = struct{}{}
	}
	return len(groups)
}

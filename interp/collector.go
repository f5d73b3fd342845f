package interp

import (
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("sable.gc")

// RootProvider supplies the collector with the handles directly reachable
// from a host's live state: the evaluator's environment chain and any
// values on its working stack. Roots is called with the collector's lock
// held, so implementations must not call back into the collector.
type RootProvider interface {
	Roots() []Handle
}

// GcConfig is the configuration surface consumed by hosting code.
type GcConfig struct {
	// InitialThresholdBytes is the heap estimate at which automatic
	// collection triggers. Defaults to 1 MiB.
	InitialThresholdBytes int64 `toml:"threshold-bytes"`

	// AutoCollect enables threshold-triggered collection. Default true.
	AutoCollect bool `toml:"auto-collect"`

	// GenerationThreshold, when > 0, scopes cycle passes to objects of
	// generation <= N; older objects act as additional roots.
	GenerationThreshold int `toml:"generation-threshold"`

	// IncrementalStepSize bounds the number of objects processed per
	// Collect invocation. 0 means full passes.
	IncrementalStepSize int `toml:"incremental-step-size"`

	// HardLimitBytes, when > 0, is the ceiling beyond which Allocate
	// fails with ErrOutOfMemory after an emergency full pass.
	HardLimitBytes int64 `toml:"hard-limit-bytes"`

	// StrictInvariants makes ref-count underflow and stale-handle access
	// panic instead of clamp-and-log. Meant for tests and debug builds.
	StrictInvariants bool `toml:"strict-invariants"`
}

// DefaultThresholdBytes is the initial automatic-collection threshold.
const DefaultThresholdBytes = 1 << 20

// DefaultGcConfig returns the default collector configuration.
func DefaultGcConfig() GcConfig {
	return GcConfig{
		InitialThresholdBytes: DefaultThresholdBytes,
		AutoCollect:           true,
	}
}

// GarbageCollector owns the object table, reference counts, and the
// collection algorithms: immediate reference-count reclamation plus a
// mark-sweep cycle detector restricted to cycle-candidate objects.
//
// A single mutex guards the table, counts, and statistics. Collection is
// synchronous with respect to the caller that triggers it. Cascading
// frees run iteratively with a work list inside one lock acquisition and
// are never interrupted by a state transition.
type GarbageCollector struct {
	mu         sync.Mutex
	objects    map[Handle]*GcObject
	nextHandle Handle
	interned   map[string]Handle
	roots      []RootProvider

	threshold    int64
	autoCollect  bool
	genThreshold int
	stepSize     int
	hardLimit    int64
	strict       bool

	totalMemory int64
	peakMemory  int64

	allocations         uint64
	deallocations       uint64
	collections         uint64
	cyclesDetected      uint64
	invariantViolations uint64
	lastCollection      time.Duration

	// mutations counts reachability-changing table operations; an
	// in-progress incremental pass restarts when it observes a change.
	mutations uint64

	phase   collectPhase
	pass    *cyclePass
	inSweep bool
}

// NewGarbageCollector creates a collector with the given configuration.
func NewGarbageCollector(cfg GcConfig) *GarbageCollector {
	threshold := cfg.InitialThresholdBytes
	if threshold <= 0 {
		threshold = DefaultThresholdBytes
	}
	return &GarbageCollector{
		objects:      make(map[Handle]*GcObject),
		nextHandle:   1,
		interned:     make(map[string]Handle),
		threshold:    threshold,
		autoCollect:  cfg.AutoCollect,
		genThreshold: cfg.GenerationThreshold,
		stepSize:     cfg.IncrementalStepSize,
		hardLimit:    cfg.HardLimitBytes,
		strict:       cfg.StrictInvariants,
	}
}

// AddRoots registers a root provider. Typically called once per evaluator
// sharing this collector.
func (gc *GarbageCollector) AddRoots(p RootProvider) {
	gc.mu.Lock()
	gc.roots = append(gc.roots, p)
	gc.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Allocation and reference counting
// ---------------------------------------------------------------------------

// Allocate registers a new object with ref count 1 and returns its handle.
// Managed references already inside the payload are transferred: the
// caller gives up the counts it held on them.
//
// Fails with ErrOutOfMemory only when a hard heap ceiling is configured
// and an emergency full collection cannot bring the estimate under it.
func (gc *GarbageCollector) Allocate(p Payload) (Handle, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.allocateLocked(p)
}

func (gc *GarbageCollector) allocateLocked(p Payload) (Handle, error) {
	size := p.memSize()

	// Collection runs before the new object enters the table. The caller
	// cannot have rooted the object yet, so a pass triggered after
	// insertion could sweep it.
	if gc.autoCollect && gc.totalMemory+size >= gc.threshold {
		gc.collectLocked()
	}

	if gc.hardLimit > 0 && gc.totalMemory+size > gc.hardLimit {
		gc.fullCollectLocked()
		if gc.totalMemory+size > gc.hardLimit {
			return NoHandle, fmt.Errorf("allocate %s (%d bytes, heap %d/%d): %w",
				p.Kind(), size, gc.totalMemory, gc.hardLimit, ErrOutOfMemory)
		}
	}

	h := gc.nextHandle
	gc.nextHandle++

	gc.objects[h] = &GcObject{
		id:             h,
		payload:        p,
		refCount:       1,
		mightFormCycle: mightFormCycle(p.Kind()),
	}

	gc.totalMemory += size
	if gc.totalMemory > gc.peakMemory {
		gc.peakMemory = gc.totalMemory
	}
	gc.allocations++

	return h, nil
}

// IncRef increments the reference count for the given handle. Call it for
// every new live copy of a managed reference.
func (gc *GarbageCollector) IncRef(h Handle) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.incRefLocked(h)
}

func (gc *GarbageCollector) incRefLocked(h Handle) {
	obj, ok := gc.objects[h]
	if !ok {
		gc.violationLocked("IncRef: stale handle %d", h)
		return
	}
	obj.refCount++
}

// DecRef decrements the reference count for the given handle. When the
// count reaches zero the object is finalized immediately and the counts
// it held on other objects are released, cascading.
func (gc *GarbageCollector) DecRef(h Handle) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.decRefLocked(h)
}

func (gc *GarbageCollector) decRefLocked(h Handle) {
	obj, ok := gc.objects[h]
	if !ok {
		gc.violationLocked("DecRef: stale handle %d", h)
		return
	}
	if obj.refCount <= 0 {
		gc.violationLocked("DecRef: ref count underflow on handle %d", h)
		return
	}
	obj.refCount--
	if obj.refCount == 0 {
		gc.finalizeLocked(obj)
	}
}

// release drops one count on v if it is a managed reference.
func (gc *GarbageCollector) release(v Value) {
	if v.IsRef() {
		gc.DecRef(v.Ref)
	}
}

// retain adds one count on v if it is a managed reference and returns v.
func (gc *GarbageCollector) retain(v Value) Value {
	if v.IsRef() {
		gc.IncRef(v.Ref)
	}
	return v
}

func (gc *GarbageCollector) retainLocked(v Value) Value {
	if v.IsRef() {
		gc.incRefLocked(v.Ref)
	}
	return v
}

// finalizeLocked removes obj from the table and releases the counts its
// payload holds, iteratively. A handle revisited after its object was
// freed earlier in the same cascade is skipped; that is how reference
// cycles inside a cascade terminate.
func (gc *GarbageCollector) finalizeLocked(obj *GcObject) {
	var worklist []Handle
	gc.removeLocked(obj)
	obj.payload.eachRef(func(h Handle) {
		worklist = append(worklist, h)
	})

	for len(worklist) > 0 {
		h := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		child, ok := gc.objects[h]
		if !ok {
			continue // already freed in this cascade
		}
		if child.refCount <= 0 {
			gc.violationLocked("cascade: ref count underflow on handle %d", h)
			continue
		}
		child.refCount--
		if child.refCount == 0 {
			gc.removeLocked(child)
			child.payload.eachRef(func(out Handle) {
				worklist = append(worklist, out)
			})
		}
	}
}

// removeLocked deletes an object from the table and updates accounting.
func (gc *GarbageCollector) removeLocked(obj *GcObject) {
	delete(gc.objects, obj.id)
	gc.totalMemory -= obj.payload.memSize()
	if gc.totalMemory < 0 {
		gc.totalMemory = 0
	}
	gc.deallocations++
	gc.mutations++
	if gc.pass != nil {
		if gc.inSweep {
			// Frees performed by the sweep itself are not external
			// mutations; keep the pass's view in step so it does not
			// invalidate itself.
			gc.pass.observed++
		}
		gc.pass.noteFreed(obj)
	}
	if sp, ok := obj.payload.(*StringPayload); ok {
		delete(gc.interned, sp.Text)
	}
}

// violationLocked records an invariant violation. Strict mode panics;
// otherwise the operation is clamped to a no-op and logged, so a
// long-lived host keeps running while operators see it in stats.
func (gc *GarbageCollector) violationLocked(format string, args ...any) {
	gc.invariantViolations++
	msg := fmt.Sprintf(format, args...)
	if gc.strict {
		panic("gc: " + msg)
	}
	gcLog.Errorf("invariant violation: %s", msg)
}

// ---------------------------------------------------------------------------
// Interning
// ---------------------------------------------------------------------------

// Intern returns the handle of the interned string object for text,
// allocating it on first use. Interned strings are owned by the pool:
// the pool's count keeps them alive until the collector is discarded.
func (gc *GarbageCollector) Intern(text string) (Handle, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if h, ok := gc.interned[text]; ok {
		return h, nil
	}
	h, err := gc.allocateLocked(&StringPayload{Text: text})
	if err != nil {
		return NoHandle, err
	}
	gc.interned[text] = h
	return h, nil
}

// StringText returns the text of an interned string object.
func (gc *GarbageCollector) StringText(h Handle) (string, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, ok := gc.objects[h]
	if !ok {
		return "", false
	}
	sp, ok := obj.payload.(*StringPayload)
	if !ok {
		return "", false
	}
	return sp.Text, true
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Contains reports whether the handle is live in the object table.
func (gc *GarbageCollector) Contains(h Handle) bool {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	_, ok := gc.objects[h]
	return ok
}

// KindOf returns the payload kind for a live handle.
func (gc *GarbageCollector) KindOf(h Handle) (PayloadKind, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, ok := gc.objects[h]
	if !ok {
		return 0, false
	}
	return obj.Kind(), true
}

// RefCountOf returns the current reference count for a live handle.
func (gc *GarbageCollector) RefCountOf(h Handle) (int64, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, ok := gc.objects[h]
	if !ok {
		return 0, false
	}
	return obj.refCount, true
}

// LiveObjects returns the number of objects in the table.
func (gc *GarbageCollector) LiveObjects() int {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return len(gc.objects)
}

// Stats returns a snapshot of collector statistics.
func (gc *GarbageCollector) Stats() GcStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return GcStats{
		Allocations:          gc.allocations,
		Deallocations:        gc.deallocations,
		LiveObjects:          len(gc.objects),
		TotalMemory:          gc.totalMemory,
		PeakMemory:           gc.peakMemory,
		CollectionsPerformed: gc.collections,
		CyclesDetected:       gc.cyclesDetected,
		InvariantViolations:  gc.invariantViolations,
		LastCollection:       gc.lastCollection,
	}
}

// ---------------------------------------------------------------------------
// Tuning
// ---------------------------------------------------------------------------

// SetCollectionThreshold sets the heap estimate at which automatic
// collection triggers.
func (gc *GarbageCollector) SetCollectionThreshold(bytes int64) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if bytes <= 0 {
		bytes = DefaultThresholdBytes
	}
	gc.threshold = bytes
}

// SetAutoCollect enables or disables threshold-triggered collection.
func (gc *GarbageCollector) SetAutoCollect(enabled bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.autoCollect = enabled
}

// SetGenerationThreshold scopes cycle passes to generations <= n.
// 0 disables generational scoping.
func (gc *GarbageCollector) SetGenerationThreshold(n int) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.genThreshold = n
}

// SetIncrementalStepSize bounds work per Collect invocation.
// 0 restores full passes.
func (gc *GarbageCollector) SetIncrementalStepSize(n int) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.stepSize = n
}

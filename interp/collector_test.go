package interp

import (
	"errors"
	"strings"
	"testing"
)

func newTestCollector() *GarbageCollector {
	// Automatic collection stays off so tests control pass timing.
	return NewGarbageCollector(GcConfig{})
}

func mustAllocate(t *testing.T, gc *GarbageCollector, p Payload) Handle {
	t.Helper()
	h, err := gc.Allocate(p)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return h
}

func emptyObject(t *testing.T, gc *GarbageCollector) Handle {
	t.Helper()
	return mustAllocate(t, gc, &ObjectPayload{Fields: map[string]Value{}})
}

func TestAllocateStartsAtRefCountOne(t *testing.T) {
	gc := newTestCollector()
	h := emptyObject(t, gc)

	rc, ok := gc.RefCountOf(h)
	if !ok {
		t.Fatal("object not live after Allocate")
	}
	if rc != 1 {
		t.Errorf("ref count = %d, want 1", rc)
	}
	if gc.LiveObjects() != 1 {
		t.Errorf("live objects = %d, want 1", gc.LiveObjects())
	}
}

func TestIncRefDecRefParity(t *testing.T) {
	gc := newTestCollector()
	h := emptyObject(t, gc)

	gc.IncRef(h)
	gc.IncRef(h)
	if rc, _ := gc.RefCountOf(h); rc != 3 {
		t.Fatalf("ref count = %d, want 3", rc)
	}

	gc.DecRef(h)
	gc.DecRef(h)
	if !gc.Contains(h) {
		t.Fatal("object freed while one count remained")
	}

	gc.DecRef(h)
	if gc.Contains(h) {
		t.Error("object still live after final DecRef")
	}

	stats := gc.Stats()
	if stats.Deallocations != 1 {
		t.Errorf("deallocations = %d, want 1", stats.Deallocations)
	}
	if stats.InvariantViolations != 0 {
		t.Errorf("invariant violations = %d, want 0", stats.InvariantViolations)
	}
}

func TestDecRefCascadesThroughChain(t *testing.T) {
	gc := newTestCollector()

	// c <- b <- a, each child owned solely by its parent.
	c := emptyObject(t, gc)
	b := mustAllocate(t, gc, &ObjectPayload{Fields: map[string]Value{"child": RefValue(c)}})
	a := mustAllocate(t, gc, &ObjectPayload{Fields: map[string]Value{"child": RefValue(b)}})

	gc.DecRef(a)

	for _, h := range []Handle{a, b, c} {
		if gc.Contains(h) {
			t.Errorf("handle %d survived cascade", h)
		}
	}
	if stats := gc.Stats(); stats.Deallocations != 3 {
		t.Errorf("deallocations = %d, want 3", stats.Deallocations)
	}
}

func TestArrayCascadeFreesElementObject(t *testing.T) {
	gc := newTestCollector()

	b := emptyObject(t, gc)
	a := mustAllocate(t, gc, &ArrayPayload{Elements: []Value{RefValue(b)}})

	before := gc.Stats().Deallocations
	gc.DecRef(a)

	if gc.Contains(a) || gc.Contains(b) {
		t.Error("array or its element survived the cascade")
	}
	if d := gc.Stats().Deallocations - before; d != 2 {
		t.Errorf("deallocations grew by %d, want 2 (single cascading call)", d)
	}
	if gc.Stats().CollectionsPerformed != 0 {
		t.Error("cascade required a cycle pass")
	}
}

func TestSharedChildSurvivesCascade(t *testing.T) {
	gc := newTestCollector()

	shared := emptyObject(t, gc)
	gc.IncRef(shared)
	p1 := mustAllocate(t, gc, &ObjectPayload{Fields: map[string]Value{"s": RefValue(shared)}})
	p2 := mustAllocate(t, gc, &ObjectPayload{Fields: map[string]Value{"s": RefValue(shared)}})

	gc.DecRef(p1)
	if !gc.Contains(shared) {
		t.Fatal("shared child freed while second parent lives")
	}
	gc.DecRef(p2)
	if gc.Contains(shared) {
		t.Error("shared child survived both parents")
	}
}

func TestStaleHandleClampsAndCounts(t *testing.T) {
	gc := newTestCollector()
	h := emptyObject(t, gc)
	gc.DecRef(h)

	// Both operations on the dead handle are no-ops in release mode.
	gc.IncRef(h)
	gc.DecRef(h)

	stats := gc.Stats()
	if stats.InvariantViolations != 2 {
		t.Errorf("invariant violations = %d, want 2", stats.InvariantViolations)
	}
	if gc.Contains(h) {
		t.Error("stale handle resurrected")
	}
}

func TestStrictModePanicsOnStaleHandle(t *testing.T) {
	gc := NewGarbageCollector(GcConfig{StrictInvariants: true})
	h := emptyObject(t, gc)
	gc.DecRef(h)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic in strict mode")
		}
		if msg, ok := r.(string); !ok || !strings.HasPrefix(msg, "gc: ") {
			t.Errorf("unexpected panic value %v", r)
		}
	}()
	gc.DecRef(h)
}

func TestHardLimitReturnsOutOfMemory(t *testing.T) {
	gc := NewGarbageCollector(GcConfig{HardLimitBytes: 512})
	pins := NewPinnedRoots()
	gc.AddRoots(pins)

	var kept []Handle
	var err error
	for i := 0; i < 100; i++ {
		var h Handle
		h, err = gc.Allocate(&ObjectPayload{Fields: map[string]Value{}})
		if err != nil {
			break
		}
		pins.Pin(h)
		kept = append(kept, h)
	}
	if err == nil {
		t.Fatal("allocation never failed under 512-byte hard limit")
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}

	// Freeing makes room again.
	for _, h := range kept {
		pins.Unpin(h)
		gc.DecRef(h)
	}
	if _, err := gc.Allocate(&ObjectPayload{Fields: map[string]Value{}}); err != nil {
		t.Errorf("allocate after frees: %v", err)
	}
}

func TestHardLimitEmergencyCollection(t *testing.T) {
	gc := NewGarbageCollector(GcConfig{HardLimitBytes: 2048})

	// Fill the heap with dead cycles that only a cycle pass can reclaim.
	for gc.Stats().TotalMemory < 1536 {
		a := emptyObject(t, gc)
		b := emptyObject(t, gc)
		linkField(t, gc, a, "next", b)
		linkField(t, gc, b, "next", a)
		gc.DecRef(a)
		gc.DecRef(b)
	}

	// The next allocation crosses the ceiling; the emergency full pass
	// must reclaim the cycles instead of reporting OutOfMemory.
	h, err := gc.Allocate(&ArrayPayload{Elements: make([]Value, 40)})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !gc.Contains(h) {
		t.Error("new allocation missing after emergency pass")
	}
}

func TestAutoCollectTriggersAtThreshold(t *testing.T) {
	gc := NewGarbageCollector(GcConfig{
		InitialThresholdBytes: 512,
		AutoCollect:           true,
	})

	for i := 0; i < 64; i++ {
		a := emptyObject(t, gc)
		b := emptyObject(t, gc)
		linkField(t, gc, a, "next", b)
		linkField(t, gc, b, "next", a)
		gc.DecRef(a)
		gc.DecRef(b)
	}

	stats := gc.Stats()
	if stats.CollectionsPerformed == 0 {
		t.Error("no automatic collection despite heap growth past threshold")
	}
	if stats.CyclesDetected == 0 {
		t.Error("automatic collection reclaimed no cycles")
	}
}

func TestInternReturnsSameHandle(t *testing.T) {
	gc := newTestCollector()

	h1, err := gc.Intern("hello")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	h2, err := gc.Intern("hello")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	if h1 != h2 {
		t.Errorf("interned handles differ: %d vs %d", h1, h2)
	}

	text, ok := gc.StringText(h1)
	if !ok || text != "hello" {
		t.Errorf("StringText = %q, %v", text, ok)
	}

	h3, err := gc.Intern("world")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	if h3 == h1 {
		t.Error("distinct strings interned to the same handle")
	}
}

func TestMemoryAccountingTracksFrees(t *testing.T) {
	gc := newTestCollector()

	before := gc.Stats().TotalMemory
	h := mustAllocate(t, gc, &ArrayPayload{Elements: make([]Value, 16)})
	during := gc.Stats().TotalMemory
	if during <= before {
		t.Fatal("total memory did not grow on allocation")
	}

	gc.DecRef(h)
	after := gc.Stats()
	if after.TotalMemory != before {
		t.Errorf("total memory = %d after free, want %d", after.TotalMemory, before)
	}
	if after.PeakMemory < during {
		t.Errorf("peak memory = %d, want >= %d", after.PeakMemory, during)
	}
}

// linkField stores a retained reference to target in obj's field.
func linkField(t *testing.T, gc *GarbageCollector, obj Handle, key string, target Handle) {
	t.Helper()
	gc.IncRef(target)
	if err := gc.ObjectSet(obj, key, RefValue(target)); err != nil {
		t.Fatalf("ObjectSet: %v", err)
	}
}

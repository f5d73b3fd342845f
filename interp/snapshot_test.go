package interp

import (
	"errors"
	"testing"
)

func TestSnapshotRecordsAreOrderedAndComplete(t *testing.T) {
	gc := newTestCollector()
	a := emptyObject(t, gc)
	b := mustAllocate(t, gc, &ArrayPayload{Elements: []Value{IntValue(1), RefValue(a)}})
	gc.IncRef(a) // the array element above holds it

	records := gc.SnapshotRecords()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].ID >= records[i].ID {
			t.Fatal("records not ordered by handle")
		}
	}

	var arr *ObjectRecord
	for i := range records {
		if records[i].ID == b {
			arr = &records[i]
		}
	}
	if arr == nil || arr.Kind != KindArray {
		t.Fatal("array record missing")
	}
	if len(arr.Elements) != 2 || arr.Elements[1].Ref != a {
		t.Errorf("array elements = %v, want [1, ref %d]", arr.Elements, a)
	}
}

func TestRestoreRecordsRebuildsHeap(t *testing.T) {
	src := newTestCollector()
	a := emptyObject(t, src)
	linkField(t, src, a, "self", a)
	src.Intern("tag")

	records := src.SnapshotRecords()
	next := src.NextHandle()

	dst := newTestCollector()
	if err := dst.RestoreRecords(records, next); err != nil {
		t.Fatalf("RestoreRecords: %v", err)
	}

	if dst.LiveObjects() != src.LiveObjects() {
		t.Errorf("live = %d, want %d", dst.LiveObjects(), src.LiveObjects())
	}
	rcSrc, _ := src.RefCountOf(a)
	rcDst, ok := dst.RefCountOf(a)
	if !ok || rcDst != rcSrc {
		t.Errorf("restored ref count = %d (%v), want %d", rcDst, ok, rcSrc)
	}

	// Interned strings resolve to the restored handle, not a new one.
	before := dst.LiveObjects()
	if _, err := dst.Intern("tag"); err != nil {
		t.Fatalf("Intern: %v", err)
	}
	if dst.LiveObjects() != before {
		t.Error("restored interned string re-allocated")
	}

	// New allocations never reuse snapshot handles.
	h := emptyObject(t, dst)
	if h < next {
		t.Errorf("new handle %d collides with snapshot range (< %d)", h, next)
	}
}

func TestRestoreRejectsNonEmptyCollector(t *testing.T) {
	src := newTestCollector()
	emptyObject(t, src)
	records := src.SnapshotRecords()

	dst := newTestCollector()
	emptyObject(t, dst)
	if err := dst.RestoreRecords(records, src.NextHandle()); err == nil {
		t.Fatal("restore into non-empty collector succeeded")
	}
}

func TestRestoreRejectsDanglingEdges(t *testing.T) {
	records := []ObjectRecord{{
		ID:       1,
		Kind:     KindObject,
		RefCount: 1,
		Fields:   map[string]Value{"ghost": RefValue(99)},
	}}

	dst := newTestCollector()
	err := dst.RestoreRecords(records, 2)
	if err == nil {
		t.Fatal("restore with dangling edge succeeded")
	}
	if !errors.Is(err, ErrStaleHandle) {
		t.Errorf("err = %v, want ErrStaleHandle", err)
	}
}

func TestRestoredHeapIsCollectable(t *testing.T) {
	src := newTestCollector()
	makeCycle(t, src)
	records := src.SnapshotRecords()

	dst := newTestCollector()
	if err := dst.RestoreRecords(records, src.NextHandle()); err != nil {
		t.Fatalf("RestoreRecords: %v", err)
	}

	stats := dst.Collect()
	if stats.Reclaimed != 2 || stats.CyclesDetected != 1 {
		t.Errorf("restored cycle: reclaimed %d (%d cycles), want 2 (1)",
			stats.Reclaimed, stats.CyclesDetected)
	}
}

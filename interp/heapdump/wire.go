// Package heapdump captures and restores collector heaps. Snapshots are
// canonical CBOR so identical heaps encode to identical bytes, and they
// can be kept in a SQLite store for later inspection or restart.
package heapdump

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/sable-lang/sable/interp"
)

// cborEncMode encodes with canonical options for deterministic output.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("heapdump: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is a full serialized heap: every live object with its
// reference count, generation, and outgoing edges.
//
// Function bodies are not captured; a restored function object keeps
// its identity and captured environment but cannot be called.
type Snapshot struct {
	ID         string                `cbor:"id"`
	CreatedAt  time.Time             `cbor:"createdAt"`
	NextHandle uint64                `cbor:"nextHandle"`
	Objects    []interp.ObjectRecord `cbor:"objects"`
}

// Capture snapshots the collector's current heap.
func Capture(gc *interp.GarbageCollector) *Snapshot {
	// Records first: the next-handle watermark must be at or above every
	// captured id even if allocation races this call.
	records := gc.SnapshotRecords()
	return &Snapshot{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		NextHandle: uint64(gc.NextHandle()),
		Objects:    records,
	}
}

// Restore loads a snapshot into an empty collector.
func Restore(gc *interp.GarbageCollector, s *Snapshot) error {
	if err := gc.RestoreRecords(s.Objects, interp.Handle(s.NextHandle)); err != nil {
		return fmt.Errorf("heapdump: restore %s: %w", s.ID, err)
	}
	return nil
}

// Marshal serializes a Snapshot to CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("heapdump: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

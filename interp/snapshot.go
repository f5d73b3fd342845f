package interp

import (
	"fmt"
	"sort"
)

// ObjectRecord is the flattened, serializable form of one object-table
// entry. Function bodies are AST and are not captured; a restored
// function object keeps its parameters and captured environment but
// cannot be called until code is reattached by the host.
type ObjectRecord struct {
	ID         Handle      `cbor:"id"`
	Kind       PayloadKind `cbor:"kind"`
	RefCount   int64       `cbor:"refCount"`
	Generation int         `cbor:"generation"`

	Fields   map[string]Value `cbor:"fields,omitempty"`
	Elements []Value          `cbor:"elements,omitempty"`
	Params   []string         `cbor:"params,omitempty"`
	Env      Handle           `cbor:"env,omitempty"`
	Bindings map[string]Value `cbor:"bindings,omitempty"`
	Parent   Handle           `cbor:"parent,omitempty"`
	Text     string           `cbor:"text,omitempty"`
}

// SnapshotRecords flattens the live object table into records ordered by
// handle. The result is a consistent point-in-time view taken under the
// table lock.
func (gc *GarbageCollector) SnapshotRecords() []ObjectRecord {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	records := make([]ObjectRecord, 0, len(gc.objects))
	for _, obj := range gc.objects {
		rec := ObjectRecord{
			ID:         obj.id,
			Kind:       obj.Kind(),
			RefCount:   obj.refCount,
			Generation: obj.generation,
		}
		switch p := obj.payload.(type) {
		case *ObjectPayload:
			rec.Fields = copyValueMap(p.Fields)
		case *ArrayPayload:
			rec.Elements = append([]Value(nil), p.Elements...)
		case *FunctionPayload:
			rec.Params = append([]string(nil), p.Params...)
			rec.Env = p.Env
		case *EnvPayload:
			rec.Bindings = copyValueMap(p.Bindings)
			rec.Parent = p.Parent
		case *StringPayload:
			rec.Text = p.Text
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

// NextHandle returns the next handle the collector would issue. Stored in
// snapshots so restored collectors never reissue a live id.
func (gc *GarbageCollector) NextHandle() Handle {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.nextHandle
}

// RestoreRecords rebuilds the object table from snapshot records. The
// collector must be freshly created and empty. Ref counts and generations
// are taken from the records verbatim; edges between records must resolve
// within the snapshot.
func (gc *GarbageCollector) RestoreRecords(records []ObjectRecord, next Handle) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if len(gc.objects) != 0 {
		return fmt.Errorf("restore: collector is not empty (%d live objects)", len(gc.objects))
	}

	present := make(map[Handle]bool, len(records))
	for _, rec := range records {
		present[rec.ID] = true
	}

	for _, rec := range records {
		var payload Payload
		switch rec.Kind {
		case KindObject:
			fields := copyValueMap(rec.Fields)
			if fields == nil {
				fields = make(map[string]Value)
			}
			payload = &ObjectPayload{Fields: fields}
		case KindArray:
			payload = &ArrayPayload{Elements: append([]Value(nil), rec.Elements...)}
		case KindFunction:
			payload = &FunctionPayload{
				Params: append([]string(nil), rec.Params...),
				Env:    rec.Env,
			}
		case KindEnvironment:
			bindings := copyValueMap(rec.Bindings)
			if bindings == nil {
				bindings = make(map[string]Value)
			}
			payload = &EnvPayload{Bindings: bindings, Parent: rec.Parent}
		case KindString:
			payload = &StringPayload{Text: rec.Text}
		default:
			return fmt.Errorf("restore: object %d has unknown kind %d", rec.ID, rec.Kind)
		}

		var dangling Handle
		payload.eachRef(func(target Handle) {
			if !present[target] && dangling == NoHandle {
				dangling = target
			}
		})
		if dangling != NoHandle {
			return fmt.Errorf("restore: object %d references %d, absent from snapshot: %w",
				rec.ID, dangling, ErrStaleHandle)
		}

		obj := &GcObject{
			id:             rec.ID,
			payload:        payload,
			refCount:       rec.RefCount,
			mightFormCycle: mightFormCycle(rec.Kind),
			generation:     rec.Generation,
		}
		gc.objects[rec.ID] = obj
		gc.totalMemory += payload.memSize()
		if sp, ok := payload.(*StringPayload); ok {
			gc.interned[sp.Text] = rec.ID
		}
	}

	if gc.totalMemory > gc.peakMemory {
		gc.peakMemory = gc.totalMemory
	}
	if next <= gc.nextHandle {
		next = maxHandleIn(records) + 1
	}
	gc.nextHandle = next
	return nil
}

func maxHandleIn(records []ObjectRecord) Handle {
	var max Handle
	for _, rec := range records {
		if rec.ID > max {
			max = rec.ID
		}
	}
	return max
}

func copyValueMap(m map[string]Value) map[string]Value {
	if m == nil {
		return nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

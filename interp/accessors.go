package interp

import (
	"sort"
	"strings"
)

// All payload reads and writes go through these methods. Reads return
// retained copies (the caller owns one count on any returned reference);
// writes transfer ownership of the stored value and release whatever the
// slot held before. Each write counts as a mutation for the cycle
// detector's pass-invalidation bookkeeping.

func (gc *GarbageCollector) objectLocked(h Handle) (*GcObject, error) {
	obj, ok := gc.objects[h]
	if !ok {
		return nil, ErrStaleHandle
	}
	return obj, nil
}

func (gc *GarbageCollector) adjustMemLocked(before, after int64) {
	gc.totalMemory += after - before
	if gc.totalMemory < 0 {
		gc.totalMemory = 0
	}
	if gc.totalMemory > gc.peakMemory {
		gc.peakMemory = gc.totalMemory
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// ArrayLen returns the element count of an array object.
func (gc *GarbageCollector) ArrayLen(h Handle) (int, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return 0, err
	}
	p, ok := obj.payload.(*ArrayPayload)
	if !ok {
		return 0, runtimeErrorf("len: %s is not an array", obj.Kind())
	}
	return len(p.Elements), nil
}

// ArrayGet returns the element at index i, retained for the caller.
func (gc *GarbageCollector) ArrayGet(h Handle, i int) (Value, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return NullValue(), err
	}
	p, ok := obj.payload.(*ArrayPayload)
	if !ok {
		return NullValue(), runtimeErrorf("index: %s is not an array", obj.Kind())
	}
	if i < 0 || i >= len(p.Elements) {
		return NullValue(), runtimeErrorf("index %d out of range (len %d)", i, len(p.Elements))
	}
	return gc.retainLocked(p.Elements[i]), nil
}

// ArraySet stores v at index i, releasing the previous element.
func (gc *GarbageCollector) ArraySet(h Handle, i int, v Value) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return err
	}
	p, ok := obj.payload.(*ArrayPayload)
	if !ok {
		return runtimeErrorf("index: %s is not an array", obj.Kind())
	}
	if i < 0 || i >= len(p.Elements) {
		return runtimeErrorf("index %d out of range (len %d)", i, len(p.Elements))
	}
	before := p.memSize()
	old := p.Elements[i]
	p.Elements[i] = v
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	if old.IsRef() {
		gc.decRefLocked(old.Ref)
	}
	return nil
}

// ArrayPush appends v to the array.
func (gc *GarbageCollector) ArrayPush(h Handle, v Value) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return err
	}
	p, ok := obj.payload.(*ArrayPayload)
	if !ok {
		return runtimeErrorf("push: %s is not an array", obj.Kind())
	}
	before := p.memSize()
	p.Elements = append(p.Elements, v)
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	return nil
}

// ArrayPop removes and returns the last element. Ownership of the
// returned value transfers to the caller.
func (gc *GarbageCollector) ArrayPop(h Handle) (Value, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return NullValue(), err
	}
	p, ok := obj.payload.(*ArrayPayload)
	if !ok {
		return NullValue(), runtimeErrorf("pop: %s is not an array", obj.Kind())
	}
	if len(p.Elements) == 0 {
		return NullValue(), runtimeErrorf("pop: array is empty")
	}
	before := p.memSize()
	v := p.Elements[len(p.Elements)-1]
	p.Elements = p.Elements[:len(p.Elements)-1]
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	return v, nil
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// ObjectGet returns the field value, retained, and whether it exists.
func (gc *GarbageCollector) ObjectGet(h Handle, key string) (Value, bool, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return NullValue(), false, err
	}
	p, ok := obj.payload.(*ObjectPayload)
	if !ok {
		return NullValue(), false, runtimeErrorf("member: %s is not an object", obj.Kind())
	}
	v, ok := p.Fields[key]
	if !ok {
		return NullValue(), false, nil
	}
	return gc.retainLocked(v), true, nil
}

// ObjectSet stores v under key, releasing any previous value.
func (gc *GarbageCollector) ObjectSet(h Handle, key string, v Value) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return err
	}
	p, ok := obj.payload.(*ObjectPayload)
	if !ok {
		return runtimeErrorf("member: %s is not an object", obj.Kind())
	}
	before := p.memSize()
	old, existed := p.Fields[key]
	p.Fields[key] = v
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	if existed && old.IsRef() {
		gc.decRefLocked(old.Ref)
	}
	return nil
}

// ObjectDelete removes a field, releasing its value. Reports whether the
// field existed.
func (gc *GarbageCollector) ObjectDelete(h Handle, key string) (bool, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return false, err
	}
	p, ok := obj.payload.(*ObjectPayload)
	if !ok {
		return false, runtimeErrorf("remove: %s is not an object", obj.Kind())
	}
	old, existed := p.Fields[key]
	if !existed {
		return false, nil
	}
	before := p.memSize()
	delete(p.Fields, key)
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	if old.IsRef() {
		gc.decRefLocked(old.Ref)
	}
	return true, nil
}

// ObjectKeys returns the object's field names, sorted.
func (gc *GarbageCollector) ObjectKeys(h Handle) ([]string, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return nil, err
	}
	p, ok := obj.payload.(*ObjectPayload)
	if !ok {
		return nil, runtimeErrorf("keys: %s is not an object", obj.Kind())
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// FunctionInfo returns a copy of a function object's descriptor. The
// environment handle is not retained; it stays valid while the caller
// holds its count on the function itself.
func (gc *GarbageCollector) FunctionInfo(h Handle) (FunctionPayload, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	obj, err := gc.objectLocked(h)
	if err != nil {
		return FunctionPayload{}, err
	}
	p, ok := obj.payload.(*FunctionPayload)
	if !ok {
		return FunctionPayload{}, runtimeErrorf("call: %s is not a function", obj.Kind())
	}
	return *p, nil
}

// ---------------------------------------------------------------------------
// Structural equality and rendering
// ---------------------------------------------------------------------------

// DeepEqual implements language-level structural equality. It reads
// through managed references to compare payloads and never mutates ref
// counts. Cyclic graphs terminate via visited-pair tracking.
func (gc *GarbageCollector) DeepEqual(a, b Value) bool {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.equalLocked(a, b, make(map[[2]Handle]bool))
}

func (gc *GarbageCollector) equalLocked(a, b Value, seen map[[2]Handle]bool) bool {
	// Numeric cross-type comparison: 1 == 1.0.
	if a.Type == TypeInt && b.Type == TypeFloat {
		return float64(a.Int) == b.Float
	}
	if a.Type == TypeFloat && b.Type == TypeInt {
		return a.Float == float64(b.Int)
	}
	if a.Type != b.Type {
		return false
	}

	switch a.Type {
	case TypeNull:
		return true
	case TypeBool:
		return a.Bool == b.Bool
	case TypeInt:
		return a.Int == b.Int
	case TypeFloat:
		return a.Float == b.Float
	case TypeString:
		return a.Str == b.Str
	case TypeBuiltin:
		return a.Builtin == b.Builtin
	case TypeRef:
		return gc.equalRefsLocked(a.Ref, b.Ref, seen)
	default:
		return false
	}
}

func (gc *GarbageCollector) equalRefsLocked(a, b Handle, seen map[[2]Handle]bool) bool {
	if a == b {
		return true
	}
	pair := [2]Handle{a, b}
	if seen[pair] {
		// Already comparing this pair further up the graph; assume equal
		// so cyclic structures terminate.
		return true
	}
	seen[pair] = true

	oa, ok := gc.objects[a]
	if !ok {
		return false
	}
	ob, ok := gc.objects[b]
	if !ok {
		return false
	}

	switch pa := oa.payload.(type) {
	case *ArrayPayload:
		pb, ok := ob.payload.(*ArrayPayload)
		if !ok || len(pa.Elements) != len(pb.Elements) {
			return false
		}
		for i := range pa.Elements {
			if !gc.equalLocked(pa.Elements[i], pb.Elements[i], seen) {
				return false
			}
		}
		return true
	case *ObjectPayload:
		pb, ok := ob.payload.(*ObjectPayload)
		if !ok || len(pa.Fields) != len(pb.Fields) {
			return false
		}
		for k, va := range pa.Fields {
			vb, present := pb.Fields[k]
			if !present || !gc.equalLocked(va, vb, seen) {
				return false
			}
		}
		return true
	case *StringPayload:
		pb, ok := ob.payload.(*StringPayload)
		return ok && pa.Text == pb.Text
	default:
		// Functions and environments compare by identity only.
		return false
	}
}

// Render returns a display string for a value, reading through managed
// references. Cycles render as "...".
func (gc *GarbageCollector) Render(v Value) string {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	var sb strings.Builder
	gc.renderLocked(&sb, v, make(map[Handle]bool))
	return sb.String()
}

func (gc *GarbageCollector) renderLocked(sb *strings.Builder, v Value, seen map[Handle]bool) {
	if v.Type == TypeString {
		sb.WriteString(v.Str)
		return
	}
	if !v.IsRef() {
		sb.WriteString(v.AsString())
		return
	}

	obj, ok := gc.objects[v.Ref]
	if !ok {
		sb.WriteString("<stale>")
		return
	}
	if seen[v.Ref] {
		sb.WriteString("...")
		return
	}
	seen[v.Ref] = true
	defer delete(seen, v.Ref)

	switch p := obj.payload.(type) {
	case *ArrayPayload:
		sb.WriteByte('[')
		for i, e := range p.Elements {
			if i > 0 {
				sb.WriteString(", ")
			}
			gc.renderLocked(sb, e, seen)
		}
		sb.WriteByte(']')
	case *ObjectPayload:
		keys := make([]string, 0, len(p.Fields))
		for k := range p.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			gc.renderLocked(sb, p.Fields[k], seen)
		}
		sb.WriteByte('}')
	case *FunctionPayload:
		sb.WriteString("<function/")
		sb.WriteString(strings.Join(p.Params, ","))
		sb.WriteByte('>')
	case *EnvPayload:
		sb.WriteString("<environment>")
	case *StringPayload:
		sb.WriteString(p.Text)
	}
}

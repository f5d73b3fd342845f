package interp

import (
	"github.com/sable-lang/sable/pkg/ast"
)

// PayloadKind identifies the composite kind stored in a GcObject.
type PayloadKind int

const (
	KindObject PayloadKind = iota
	KindArray
	KindFunction
	KindEnvironment
	KindString
)

// String returns the kind's language-level name.
func (k PayloadKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindEnvironment:
		return "environment"
	case KindString:
		return "string"
	default:
		return "?"
	}
}

// Payload is the content of a heap object. Implementations are owned by
// the collector once allocated; all mutation goes through collector
// methods so heap accounting and reference counts stay consistent.
type Payload interface {
	Kind() PayloadKind

	// eachRef calls fn for every managed reference the payload currently
	// contains. Used to recompute outgoing edges and to cascade frees.
	eachRef(fn func(Handle))

	// memSize estimates the payload's footprint in bytes.
	memSize() int64
}

// ObjectPayload is a string-keyed mapping (a language-level object).
type ObjectPayload struct {
	Fields map[string]Value
}

func (p *ObjectPayload) Kind() PayloadKind { return KindObject }

func (p *ObjectPayload) eachRef(fn func(Handle)) {
	for _, v := range p.Fields {
		if v.IsRef() {
			fn(v.Ref)
		}
	}
}

func (p *ObjectPayload) memSize() int64 {
	size := int64(64)
	for k, v := range p.Fields {
		size += int64(len(k)) + sizeOf(v)
	}
	return size
}

// ArrayPayload is an ordered sequence of values.
type ArrayPayload struct {
	Elements []Value
}

func (p *ArrayPayload) Kind() PayloadKind { return KindArray }

func (p *ArrayPayload) eachRef(fn func(Handle)) {
	for _, v := range p.Elements {
		if v.IsRef() {
			fn(v.Ref)
		}
	}
}

func (p *ArrayPayload) memSize() int64 {
	size := int64(48)
	for _, v := range p.Elements {
		size += sizeOf(v)
	}
	return size
}

// FunctionPayload is a closure: parameter names, a shared immutable body
// AST, and the captured defining environment.
type FunctionPayload struct {
	Params []string
	Body   *ast.BlockStmt
	Env    Handle
}

func (p *FunctionPayload) Kind() PayloadKind { return KindFunction }

func (p *FunctionPayload) eachRef(fn func(Handle)) {
	if p.Env != NoHandle {
		fn(p.Env)
	}
}

func (p *FunctionPayload) memSize() int64 {
	size := int64(96)
	for _, s := range p.Params {
		size += int64(len(s))
	}
	return size
}

// EnvPayload is a lexical scope: name bindings plus a shared parent link.
// Environments live in the same object table as other composites so that
// closure capture and root-set computation are uniform.
type EnvPayload struct {
	Bindings map[string]Value
	Parent   Handle
}

func (p *EnvPayload) Kind() PayloadKind { return KindEnvironment }

func (p *EnvPayload) eachRef(fn func(Handle)) {
	for _, v := range p.Bindings {
		if v.IsRef() {
			fn(v.Ref)
		}
	}
	if p.Parent != NoHandle {
		fn(p.Parent)
	}
}

func (p *EnvPayload) memSize() int64 {
	size := int64(64)
	for k, v := range p.Bindings {
		size += int64(len(k)) + sizeOf(v)
	}
	return size
}

// StringPayload is an interned string. It cannot contain references, so
// it is never a cycle candidate.
type StringPayload struct {
	Text string
}

func (p *StringPayload) Kind() PayloadKind { return KindString }

func (p *StringPayload) eachRef(fn func(Handle)) {}

func (p *StringPayload) memSize() int64 {
	return 32 + int64(len(p.Text))
}

// mightFormCycle reports whether a payload kind could participate in a
// reference cycle. Kinds that cannot hold references are skipped by the
// cycle detector entirely.
func mightFormCycle(k PayloadKind) bool {
	return k != KindString
}

// ---------------------------------------------------------------------------
// GcObject
// ---------------------------------------------------------------------------

// GcObject is one entry in the collector's object table.
type GcObject struct {
	id      Handle
	payload Payload

	// refCount is the number of live Value copies pointing at this object,
	// counted from reachable bindings, evaluator temporaries, and other
	// objects' payloads.
	refCount int64

	// outgoing is a conservative snapshot of the handles this object's
	// payload contains. It is recomputed at the start of each cycle pass
	// and used only by the cycle detector.
	outgoing []Handle

	mightFormCycle bool
	generation     int
	marked         bool
}

// ID returns the object's handle.
func (o *GcObject) ID() Handle { return o.id }

// Kind returns the payload kind.
func (o *GcObject) Kind() PayloadKind { return o.payload.Kind() }

// RefCount returns the current reference count.
func (o *GcObject) RefCount() int64 { return o.refCount }

// Generation returns the object's promotion counter.
func (o *GcObject) Generation() int { return o.generation }

// recomputeOutgoing refreshes the outgoing edge set from the payload.
func (o *GcObject) recomputeOutgoing() {
	o.outgoing = o.outgoing[:0]
	o.payload.eachRef(func(h Handle) {
		o.outgoing = append(o.outgoing, h)
	})
}

package interp

import (
	"fmt"
)

// builtinFunc receives borrowed argument values: the dispatcher keeps
// its counts and releases them after the call. A builtin that stores an
// argument retains its own count first. The returned value is owned by
// the caller.
type builtinFunc func(in *Interp, args []Value) (Value, error)

var builtins = map[string]builtinFunc{
	"len":       builtinLen,
	"push":      builtinPush,
	"pop":       builtinPop,
	"keys":      builtinKeys,
	"remove":    builtinRemove,
	"type":      builtinType,
	"print":     builtinPrint,
	"gcCollect": builtinGcCollect,
	"gcStats":   builtinGcStats,
}

func wantArgs(name string, args []Value, n int) error {
	if len(args) != n {
		return runtimeErrorf("%s: want %d arguments, got %d", name, n, len(args))
	}
	return nil
}

func builtinLen(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("len", args, 1); err != nil {
		return NullValue(), err
	}
	v := args[0]
	if v.Type == TypeString {
		return IntValue(int64(len(v.Str))), nil
	}
	if !v.IsRef() {
		return NullValue(), runtimeErrorf("len: not a container: %s", v.TypeName())
	}
	kind, ok := in.gc.KindOf(v.Ref)
	if !ok {
		return NullValue(), ErrStaleHandle
	}
	switch kind {
	case KindArray:
		n, err := in.gc.ArrayLen(v.Ref)
		return IntValue(int64(n)), err
	case KindObject:
		names, err := in.gc.ObjectKeys(v.Ref)
		return IntValue(int64(len(names))), err
	case KindString:
		text, _ := in.gc.StringText(v.Ref)
		return IntValue(int64(len(text))), nil
	default:
		return NullValue(), runtimeErrorf("len: not a container: %s", kind)
	}
}

func builtinPush(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("push", args, 2); err != nil {
		return NullValue(), err
	}
	arr := args[0]
	if !arr.IsRef() {
		return NullValue(), runtimeErrorf("push: not an array: %s", arr.TypeName())
	}
	elem := in.gc.retain(args[1])
	if err := in.gc.ArrayPush(arr.Ref, elem); err != nil {
		in.gc.release(elem)
		return NullValue(), err
	}
	n, err := in.gc.ArrayLen(arr.Ref)
	return IntValue(int64(n)), err
}

func builtinPop(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("pop", args, 1); err != nil {
		return NullValue(), err
	}
	arr := args[0]
	if !arr.IsRef() {
		return NullValue(), runtimeErrorf("pop: not an array: %s", arr.TypeName())
	}
	return in.gc.ArrayPop(arr.Ref)
}

func builtinKeys(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("keys", args, 1); err != nil {
		return NullValue(), err
	}
	obj := args[0]
	if !obj.IsRef() {
		return NullValue(), runtimeErrorf("keys: not an object: %s", obj.TypeName())
	}
	names, err := in.gc.ObjectKeys(obj.Ref)
	if err != nil {
		return NullValue(), err
	}
	elems := make([]Value, len(names))
	for i, name := range names {
		elems[i] = StringValue(name)
	}
	h, err := in.gc.Allocate(&ArrayPayload{Elements: elems})
	if err != nil {
		return NullValue(), wrapAllocError(err)
	}
	return RefValue(h), nil
}

func builtinRemove(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("remove", args, 2); err != nil {
		return NullValue(), err
	}
	obj, key := args[0], args[1]
	if !obj.IsRef() {
		return NullValue(), runtimeErrorf("remove: not an object: %s", obj.TypeName())
	}
	if key.Type != TypeString {
		return NullValue(), runtimeErrorf("remove: key must be string, got %s", key.TypeName())
	}
	existed, err := in.gc.ObjectDelete(obj.Ref, key.Str)
	if err != nil {
		return NullValue(), err
	}
	return BoolValue(existed), nil
}

func builtinType(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("type", args, 1); err != nil {
		return NullValue(), err
	}
	v := args[0]
	if v.IsRef() {
		if kind, ok := in.gc.KindOf(v.Ref); ok {
			return StringValue(kind.String()), nil
		}
	}
	return StringValue(v.TypeName()), nil
}

func builtinPrint(in *Interp, args []Value) (Value, error) {
	for i, v := range args {
		if i > 0 {
			fmt.Fprint(in.Stdout, " ")
		}
		fmt.Fprint(in.Stdout, in.gc.Render(v))
	}
	fmt.Fprintln(in.Stdout)
	return NullValue(), nil
}

// builtinGcCollect forces a full cycle collection and reports how many
// objects it reclaimed.
func builtinGcCollect(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("gcCollect", args, 0); err != nil {
		return NullValue(), err
	}
	stats := in.gc.Collect()
	return IntValue(int64(stats.Reclaimed)), nil
}

// builtinGcStats exposes the collector's counters to scripts as an
// object value.
func builtinGcStats(in *Interp, args []Value) (Value, error) {
	if err := wantArgs("gcStats", args, 0); err != nil {
		return NullValue(), err
	}
	s := in.gc.Stats()
	fields := map[string]Value{
		"allocations":         IntValue(int64(s.Allocations)),
		"deallocations":       IntValue(int64(s.Deallocations)),
		"liveObjects":         IntValue(int64(s.LiveObjects)),
		"totalMemory":         IntValue(s.TotalMemory),
		"peakMemory":          IntValue(s.PeakMemory),
		"collections":         IntValue(int64(s.CollectionsPerformed)),
		"cyclesDetected":      IntValue(int64(s.CyclesDetected)),
		"invariantViolations": IntValue(int64(s.InvariantViolations)),
	}
	h, err := in.gc.Allocate(&ObjectPayload{Fields: fields})
	if err != nil {
		return NullValue(), wrapAllocError(err)
	}
	return RefValue(h), nil
}

package interp

import (
	"testing"
)

func TestEnvDefineAndLookup(t *testing.T) {
	gc := newTestCollector()
	env, err := gc.NewEnvironment(NoHandle)
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}

	if err := gc.EnvDefine(env, "x", IntValue(42)); err != nil {
		t.Fatalf("EnvDefine: %v", err)
	}
	v, ok, err := gc.EnvLookup(env, "x")
	if err != nil || !ok {
		t.Fatalf("EnvLookup: %v, %v", ok, err)
	}
	if v.Type != TypeInt || v.Int != 42 {
		t.Errorf("x = %v, want 42", v)
	}

	if _, ok, _ := gc.EnvLookup(env, "missing"); ok {
		t.Error("lookup of undefined name succeeded")
	}
}

func TestEnvLookupWalksParentChain(t *testing.T) {
	gc := newTestCollector()
	outer, _ := gc.NewEnvironment(NoHandle)
	inner, err := gc.NewEnvironment(outer)
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}

	gc.EnvDefine(outer, "x", IntValue(1))
	gc.EnvDefine(inner, "y", IntValue(2))

	if v, ok, _ := gc.EnvLookup(inner, "x"); !ok || v.Int != 1 {
		t.Errorf("x via inner = %v, %v; want 1", v, ok)
	}
	if _, ok, _ := gc.EnvLookup(outer, "y"); ok {
		t.Error("inner binding visible from outer scope")
	}
}

func TestEnvDefineShadowsWithoutTouchingOuter(t *testing.T) {
	gc := newTestCollector()
	outer, _ := gc.NewEnvironment(NoHandle)
	inner, _ := gc.NewEnvironment(outer)

	gc.EnvDefine(outer, "x", IntValue(1))
	gc.EnvDefine(inner, "x", IntValue(2))

	if v, _, _ := gc.EnvLookup(inner, "x"); v.Int != 2 {
		t.Errorf("inner x = %d, want 2", v.Int)
	}
	if v, _, _ := gc.EnvLookup(outer, "x"); v.Int != 1 {
		t.Errorf("outer x = %d, want 1", v.Int)
	}
}

func TestEnvAssignRebindsInOwningScope(t *testing.T) {
	gc := newTestCollector()
	outer, _ := gc.NewEnvironment(NoHandle)
	inner, _ := gc.NewEnvironment(outer)
	gc.EnvDefine(outer, "x", IntValue(1))

	ok, err := gc.EnvAssign(inner, "x", IntValue(9))
	if err != nil || !ok {
		t.Fatalf("EnvAssign: %v, %v", ok, err)
	}
	if v, _, _ := gc.EnvLookup(outer, "x"); v.Int != 9 {
		t.Errorf("outer x = %d after assign through inner, want 9", v.Int)
	}

	if ok, _ := gc.EnvAssign(inner, "unbound", IntValue(0)); ok {
		t.Error("assignment to unbound name reported success")
	}
}

func TestBindingHoldsReferenceCount(t *testing.T) {
	gc := newTestCollector()
	env, _ := gc.NewEnvironment(NoHandle)

	obj := emptyObject(t, gc)
	gc.IncRef(obj)
	if err := gc.EnvDefine(env, "o", RefValue(obj)); err != nil {
		t.Fatalf("EnvDefine: %v", err)
	}
	gc.DecRef(obj) // drop the allocation count; the binding keeps it alive

	if !gc.Contains(obj) {
		t.Fatal("bound object freed")
	}
	if rc, _ := gc.RefCountOf(obj); rc != 1 {
		t.Errorf("ref count = %d, want 1 (binding only)", rc)
	}

	// Rebinding releases the old value.
	if _, err := gc.EnvAssign(env, "o", NullValue()); err != nil {
		t.Fatalf("EnvAssign: %v", err)
	}
	if gc.Contains(obj) {
		t.Error("object survived rebinding to null")
	}
}

func TestScopeExitReleasesBindings(t *testing.T) {
	gc := newTestCollector()
	env, _ := gc.NewEnvironment(NoHandle)

	obj := emptyObject(t, gc)
	gc.IncRef(obj)
	gc.EnvDefine(env, "o", RefValue(obj))
	gc.DecRef(obj)

	gc.DecRef(env)
	if gc.Contains(obj) {
		t.Error("binding value survived scope teardown")
	}
	if gc.Contains(env) {
		t.Error("environment survived its final DecRef")
	}
}

func TestChildScopeKeepsParentAlive(t *testing.T) {
	gc := newTestCollector()
	outer, _ := gc.NewEnvironment(NoHandle)
	inner, _ := gc.NewEnvironment(outer)

	gc.DecRef(outer) // only the child's parent link remains
	if !gc.Contains(outer) {
		t.Fatal("parent freed while child lives")
	}

	gc.DecRef(inner)
	if gc.Contains(outer) || gc.Contains(inner) {
		t.Error("scope chain survived teardown")
	}
}

func TestEnvRemoveReleasesValue(t *testing.T) {
	gc := newTestCollector()
	env, _ := gc.NewEnvironment(NoHandle)

	obj := emptyObject(t, gc)
	gc.IncRef(obj)
	gc.EnvDefine(env, "o", RefValue(obj))
	gc.DecRef(obj)

	existed, err := gc.EnvRemove(env, "o")
	if err != nil || !existed {
		t.Fatalf("EnvRemove: %v, %v", existed, err)
	}
	if gc.Contains(obj) {
		t.Error("removed binding's value still live")
	}
	if existed, _ := gc.EnvRemove(env, "o"); existed {
		t.Error("second remove reported the binding existed")
	}
}

package interp

// Environments are ordinary objects in the collector's table (they can
// capture and be captured, and they can participate in cycles through
// closures), so scope lifetime falls out of the same ref-count and
// cycle-detection machinery as every other composite. The evaluator's
// active scope stack owns one count per environment on it.

// NewEnvironment allocates a scope whose parent link shares the given
// environment. The payload takes its own count on the parent; the caller
// keeps whatever counts it already held.
func (gc *GarbageCollector) NewEnvironment(parent Handle) (Handle, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if parent != NoHandle {
		gc.incRefLocked(parent)
	}
	h, err := gc.allocateLocked(&EnvPayload{
		Bindings: make(map[string]Value),
		Parent:   parent,
	})
	if err != nil && parent != NoHandle {
		gc.decRefLocked(parent)
	}
	return h, err
}

func (gc *GarbageCollector) envLocked(h Handle) (*EnvPayload, error) {
	obj, err := gc.objectLocked(h)
	if err != nil {
		return nil, err
	}
	p, ok := obj.payload.(*EnvPayload)
	if !ok {
		return nil, runtimeErrorf("environment: handle %d is a %s", h, obj.Kind())
	}
	return p, nil
}

// EnvDefine creates (or overwrites) a binding in exactly this scope.
// Ownership of v transfers to the binding; a shadowed previous value in
// the same scope is released.
func (gc *GarbageCollector) EnvDefine(env Handle, name string, v Value) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	p, err := gc.envLocked(env)
	if err != nil {
		return err
	}
	before := p.memSize()
	old, existed := p.Bindings[name]
	p.Bindings[name] = v
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	if existed && old.IsRef() {
		gc.decRefLocked(old.Ref)
	}
	return nil
}

// EnvLookup resolves a name through the scope chain and returns a
// retained copy of its value.
func (gc *GarbageCollector) EnvLookup(env Handle, name string) (Value, bool, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for h := env; h != NoHandle; {
		p, err := gc.envLocked(h)
		if err != nil {
			return NullValue(), false, err
		}
		if v, ok := p.Bindings[name]; ok {
			return gc.retainLocked(v), true, nil
		}
		h = p.Parent
	}
	return NullValue(), false, nil
}

// EnvAssign rebinds an existing name, searching the scope chain for the
// scope that owns it. The previous value is released and ownership of v
// transfers in. Reports false if the name is unbound.
func (gc *GarbageCollector) EnvAssign(env Handle, name string, v Value) (bool, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for h := env; h != NoHandle; {
		p, err := gc.envLocked(h)
		if err != nil {
			return false, err
		}
		if old, ok := p.Bindings[name]; ok {
			before := p.memSize()
			p.Bindings[name] = v
			gc.adjustMemLocked(before, p.memSize())
			gc.mutations++
			if old.IsRef() {
				gc.decRefLocked(old.Ref)
			}
			return true, nil
		}
		h = p.Parent
	}
	return false, nil
}

// EnvRemove drops a binding from exactly this scope, releasing its value.
func (gc *GarbageCollector) EnvRemove(env Handle, name string) (bool, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	p, err := gc.envLocked(env)
	if err != nil {
		return false, err
	}
	old, existed := p.Bindings[name]
	if !existed {
		return false, nil
	}
	before := p.memSize()
	delete(p.Bindings, name)
	gc.adjustMemLocked(before, p.memSize())
	gc.mutations++
	if old.IsRef() {
		gc.decRefLocked(old.Ref)
	}
	return true, nil
}

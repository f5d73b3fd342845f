package interp

import (
	"errors"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/sable-lang/sable/pkg/ast"
)

var interpLog = commonlog.GetLogger("sable.interp")

// Interp is a tree-walking evaluator. One Interp drives one execution
// context: a single goroutine walks the AST, requests allocation from the
// collector for composite literals and closures, and adjusts reference
// counts as bindings are created, overwritten, and dropped.
//
// Multiple Interp instances may share one collector; each registers
// itself as a root provider so cycle passes see every live scope chain
// and every in-flight temporary.
type Interp struct {
	gc        *GarbageCollector
	sessionID string

	global   Handle
	envStack []Handle

	// temps pins values produced mid-expression (array elements already
	// evaluated while later ones still run, call arguments, and so on)
	// so an automatic collection triggered by a nested allocation cannot
	// sweep them. It is a root set, not an ownership record.
	temps []Value

	Stdout io.Writer
}

// NewInterp creates an evaluator on the given collector and installs the
// builtin bindings into a fresh global scope.
func NewInterp(gc *GarbageCollector) (*Interp, error) {
	in := &Interp{
		gc:        gc,
		sessionID: uuid.New().String(),
		Stdout:    os.Stdout,
	}

	global, err := gc.NewEnvironment(NoHandle)
	if err != nil {
		return nil, err
	}
	in.global = global
	in.envStack = append(in.envStack, global)
	gc.AddRoots(in)

	for name := range builtins {
		if err := gc.EnvDefine(global, name, BuiltinValue(name)); err != nil {
			return nil, err
		}
	}

	interpLog.Debugf("session %s ready", in.sessionID)
	return in, nil
}

// SessionID returns the evaluator's unique session identifier.
func (in *Interp) SessionID() string {
	return in.sessionID
}

// Collector returns the collector this evaluator allocates from.
func (in *Interp) Collector() *GarbageCollector {
	return in.gc
}

// GlobalEnv returns the handle of the global scope.
func (in *Interp) GlobalEnv() Handle {
	return in.global
}

// Close releases the evaluator's scope stack. The evaluator must not be
// used afterwards.
func (in *Interp) Close() {
	for i := len(in.envStack) - 1; i >= 0; i-- {
		in.gc.DecRef(in.envStack[i])
	}
	in.envStack = nil
	in.temps = nil
}

// Roots reports the evaluator's live roots: every scope on the active
// stack plus every pinned temporary. Called by the collector with its
// lock held.
func (in *Interp) Roots() []Handle {
	out := make([]Handle, 0, len(in.envStack)+len(in.temps))
	out = append(out, in.envStack...)
	for _, v := range in.temps {
		if v.IsRef() {
			out = append(out, v.Ref)
		}
	}
	return out
}

// Release drops the caller's count on a value previously returned by Run
// or a builtin.
func (in *Interp) Release(v Value) {
	in.gc.release(v)
}

// Run evaluates a program in the global scope and returns the value of
// its last statement. The caller owns one count on a returned reference
// and releases it with Release when done.
func (in *Interp) Run(prog *ast.Program) (Value, error) {
	v, err := in.evalStmts(in.global, prog.Stmts)
	if err != nil {
		var rc *returnControl
		if errors.As(err, &rc) {
			return NullValue(), runtimeErrorf("return outside function")
		}
		return NullValue(), err
	}
	return v, nil
}

// returnControl unwinds evaluation to the nearest call boundary. It
// carries an owned value.
type returnControl struct {
	value Value
}

func (rc *returnControl) Error() string {
	return "return outside function"
}

// ---------------------------------------------------------------------------
// Temporaries
// ---------------------------------------------------------------------------

func (in *Interp) tempsMark() int {
	return len(in.temps)
}

func (in *Interp) pushTemp(v Value) {
	if v.IsRef() {
		in.temps = append(in.temps, v)
	}
}

func (in *Interp) popTemps(mark int) {
	in.temps = in.temps[:mark]
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// evalStmts evaluates a statement list in env and returns the value of
// the last statement (owned by the caller), or null for an empty list.
func (in *Interp) evalStmts(env Handle, stmts []ast.Stmt) (Value, error) {
	result := NullValue()
	for _, s := range stmts {
		in.gc.release(result)
		var err error
		result, err = in.evalStmt(env, s)
		if err != nil {
			return NullValue(), err
		}
	}
	return result, nil
}

func (in *Interp) evalStmt(env Handle, s ast.Stmt) (Value, error) {
	switch st := s.(type) {
	case *ast.LetStmt:
		v, err := in.evalExpr(env, st.Value)
		if err != nil {
			return NullValue(), err
		}
		if err := in.gc.EnvDefine(env, st.Name, v); err != nil {
			in.gc.release(v)
			return NullValue(), err
		}
		return NullValue(), nil

	case *ast.AssignStmt:
		return NullValue(), in.evalAssign(env, st)

	case *ast.ExprStmt:
		return in.evalExpr(env, st.Expr)

	case *ast.WhileStmt:
		for {
			cond, err := in.evalExpr(env, st.Cond)
			if err != nil {
				return NullValue(), err
			}
			truthy := cond.IsTruthy()
			in.gc.release(cond)
			if !truthy {
				return NullValue(), nil
			}
			v, err := in.evalBlockScoped(env, st.Body)
			if err != nil {
				return NullValue(), err
			}
			in.gc.release(v)
		}

	case *ast.ReturnStmt:
		v := NullValue()
		if st.Value != nil {
			var err error
			v, err = in.evalExpr(env, st.Value)
			if err != nil {
				return NullValue(), err
			}
		}
		return NullValue(), &returnControl{value: v}

	case *ast.BlockStmt:
		return in.evalBlockScoped(env, st)

	default:
		return NullValue(), runtimeErrorf("unknown statement %T", s)
	}
}

// evalBlockScoped runs a block in a fresh child scope. Scope exit drops
// the evaluator's count on the environment; if no closure captured it,
// that releases every value it bound.
func (in *Interp) evalBlockScoped(parent Handle, b *ast.BlockStmt) (Value, error) {
	env, err := in.gc.NewEnvironment(parent)
	if err != nil {
		return NullValue(), err
	}
	in.envStack = append(in.envStack, env)

	v, err := in.evalStmts(env, b.Stmts)

	in.envStack = in.envStack[:len(in.envStack)-1]
	in.gc.DecRef(env)
	return v, err
}

func (in *Interp) evalAssign(env Handle, st *ast.AssignStmt) error {
	switch target := st.Target.(type) {
	case *ast.Ident:
		v, err := in.evalExpr(env, st.Value)
		if err != nil {
			return err
		}
		ok, err := in.gc.EnvAssign(env, target.Name, v)
		if err != nil {
			in.gc.release(v)
			return err
		}
		if !ok {
			in.gc.release(v)
			return runtimeErrorf("assignment to unbound variable %q", target.Name)
		}
		return nil

	case *ast.IndexExpr:
		mark := in.tempsMark()
		defer in.popTemps(mark)

		container, err := in.evalExpr(env, target.Target)
		if err != nil {
			return err
		}
		in.pushTemp(container)
		defer in.gc.release(container)

		index, err := in.evalExpr(env, target.Index)
		if err != nil {
			return err
		}
		in.pushTemp(index)
		defer in.gc.release(index)

		v, err := in.evalExpr(env, st.Value)
		if err != nil {
			return err
		}
		if err := in.storeIndexed(container, index, v); err != nil {
			in.gc.release(v)
			return err
		}
		return nil

	case *ast.MemberExpr:
		mark := in.tempsMark()
		defer in.popTemps(mark)

		container, err := in.evalExpr(env, target.Target)
		if err != nil {
			return err
		}
		in.pushTemp(container)
		defer in.gc.release(container)

		if !container.IsRef() {
			return runtimeErrorf("member assignment on %s", container.TypeName())
		}
		v, err := in.evalExpr(env, st.Value)
		if err != nil {
			return err
		}
		if err := in.gc.ObjectSet(container.Ref, target.Name, v); err != nil {
			in.gc.release(v)
			return err
		}
		return nil

	default:
		return runtimeErrorf("cannot assign to %T", st.Target)
	}
}

func (in *Interp) storeIndexed(container, index, v Value) error {
	if !container.IsRef() {
		return runtimeErrorf("index assignment on %s", container.TypeName())
	}
	kind, ok := in.gc.KindOf(container.Ref)
	if !ok {
		return ErrStaleHandle
	}
	switch kind {
	case KindArray:
		if index.Type != TypeInt {
			return runtimeErrorf("array index must be int, got %s", index.TypeName())
		}
		return in.gc.ArraySet(container.Ref, int(index.Int), v)
	case KindObject:
		if index.Type != TypeString {
			return runtimeErrorf("object index must be string, got %s", index.TypeName())
		}
		return in.gc.ObjectSet(container.Ref, index.Str, v)
	default:
		return runtimeErrorf("cannot index into %s", kind)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// evalExpr evaluates an expression. The returned value is owned by the
// caller: if it is a managed reference, the caller holds one count and
// must transfer or release it.
func (in *Interp) evalExpr(env Handle, e ast.Expr) (Value, error) {
	switch ex := e.(type) {
	case *ast.NullLit:
		return NullValue(), nil
	case *ast.BoolLit:
		return BoolValue(ex.Value), nil
	case *ast.IntLit:
		return IntValue(ex.Value), nil
	case *ast.FloatLit:
		return FloatValue(ex.Value), nil
	case *ast.StringLit:
		return StringValue(ex.Value), nil

	case *ast.Ident:
		v, ok, err := in.gc.EnvLookup(env, ex.Name)
		if err != nil {
			return NullValue(), err
		}
		if !ok {
			return NullValue(), runtimeErrorf("unbound variable %q", ex.Name)
		}
		return v, nil

	case *ast.ArrayLit:
		return in.evalArrayLit(env, ex)

	case *ast.ObjectLit:
		return in.evalObjectLit(env, ex)

	case *ast.FuncLit:
		// The closure captures the defining environment by shared
		// reference; the payload holds its own count on it.
		in.gc.IncRef(env)
		h, err := in.gc.Allocate(&FunctionPayload{
			Params: ex.Params,
			Body:   ex.Body,
			Env:    env,
		})
		if err != nil {
			in.gc.DecRef(env)
			return NullValue(), wrapAllocError(err)
		}
		return RefValue(h), nil

	case *ast.CallExpr:
		return in.evalCall(env, ex)

	case *ast.IndexExpr:
		return in.evalIndex(env, ex)

	case *ast.MemberExpr:
		container, err := in.evalExpr(env, ex.Target)
		if err != nil {
			return NullValue(), err
		}
		defer in.gc.release(container)
		if !container.IsRef() {
			return NullValue(), runtimeErrorf("member access on %s", container.TypeName())
		}
		v, _, err := in.gc.ObjectGet(container.Ref, ex.Name)
		if err != nil {
			return NullValue(), err
		}
		return v, nil

	case *ast.BinaryExpr:
		return in.evalBinary(env, ex)

	case *ast.UnaryExpr:
		return in.evalUnary(env, ex)

	case *ast.IfExpr:
		cond, err := in.evalExpr(env, ex.Cond)
		if err != nil {
			return NullValue(), err
		}
		truthy := cond.IsTruthy()
		in.gc.release(cond)
		if truthy {
			return in.evalBlockScoped(env, ex.Then)
		}
		if ex.Else != nil {
			return in.evalBlockScoped(env, ex.Else)
		}
		return NullValue(), nil

	default:
		return NullValue(), runtimeErrorf("unknown expression %T", e)
	}
}

func (in *Interp) evalArrayLit(env Handle, ex *ast.ArrayLit) (Value, error) {
	mark := in.tempsMark()
	defer in.popTemps(mark)

	elems := make([]Value, 0, len(ex.Elements))
	for _, elemExpr := range ex.Elements {
		v, err := in.evalExpr(env, elemExpr)
		if err != nil {
			in.releaseAll(elems)
			return NullValue(), err
		}
		in.pushTemp(v)
		elems = append(elems, v)
	}

	h, err := in.gc.Allocate(&ArrayPayload{Elements: elems})
	if err != nil {
		in.releaseAll(elems)
		return NullValue(), wrapAllocError(err)
	}
	return RefValue(h), nil
}

func (in *Interp) evalObjectLit(env Handle, ex *ast.ObjectLit) (Value, error) {
	mark := in.tempsMark()
	defer in.popTemps(mark)

	fields := make(map[string]Value, len(ex.Keys))
	for i, key := range ex.Keys {
		v, err := in.evalExpr(env, ex.Values[i])
		if err != nil {
			for _, fv := range fields {
				in.gc.release(fv)
			}
			return NullValue(), err
		}
		in.pushTemp(v)
		if old, dup := fields[key]; dup {
			in.gc.release(old)
		}
		fields[key] = v
	}

	h, err := in.gc.Allocate(&ObjectPayload{Fields: fields})
	if err != nil {
		for _, fv := range fields {
			in.gc.release(fv)
		}
		return NullValue(), wrapAllocError(err)
	}
	return RefValue(h), nil
}

func (in *Interp) evalIndex(env Handle, ex *ast.IndexExpr) (Value, error) {
	mark := in.tempsMark()
	defer in.popTemps(mark)

	container, err := in.evalExpr(env, ex.Target)
	if err != nil {
		return NullValue(), err
	}
	in.pushTemp(container)
	defer in.gc.release(container)

	index, err := in.evalExpr(env, ex.Index)
	if err != nil {
		return NullValue(), err
	}
	defer in.gc.release(index)

	if !container.IsRef() {
		return NullValue(), runtimeErrorf("index on %s", container.TypeName())
	}
	kind, ok := in.gc.KindOf(container.Ref)
	if !ok {
		return NullValue(), ErrStaleHandle
	}
	switch kind {
	case KindArray:
		if index.Type != TypeInt {
			return NullValue(), runtimeErrorf("array index must be int, got %s", index.TypeName())
		}
		return in.gc.ArrayGet(container.Ref, int(index.Int))
	case KindObject:
		if index.Type != TypeString {
			return NullValue(), runtimeErrorf("object index must be string, got %s", index.TypeName())
		}
		v, _, err := in.gc.ObjectGet(container.Ref, index.Str)
		return v, err
	default:
		return NullValue(), runtimeErrorf("cannot index into %s", kind)
	}
}

func (in *Interp) evalCall(env Handle, ex *ast.CallExpr) (Value, error) {
	mark := in.tempsMark()
	defer in.popTemps(mark)

	callee, err := in.evalExpr(env, ex.Callee)
	if err != nil {
		return NullValue(), err
	}
	in.pushTemp(callee)
	defer in.gc.release(callee)

	args := make([]Value, 0, len(ex.Args))
	for _, argExpr := range ex.Args {
		v, err := in.evalExpr(env, argExpr)
		if err != nil {
			in.releaseAll(args)
			return NullValue(), err
		}
		in.pushTemp(v)
		args = append(args, v)
	}

	switch callee.Type {
	case TypeBuiltin:
		fn, ok := builtins[callee.Builtin]
		if !ok {
			in.releaseAll(args)
			return NullValue(), runtimeErrorf("unknown builtin %q", callee.Builtin)
		}
		result, err := fn(in, args)
		in.releaseAll(args)
		return result, err

	case TypeRef:
		return in.callFunction(callee.Ref, args)

	default:
		in.releaseAll(args)
		return NullValue(), runtimeErrorf("cannot call %s", callee.TypeName())
	}
}

// callFunction invokes a closure. Ownership of args transfers into the
// call environment's parameter bindings.
func (in *Interp) callFunction(fn Handle, args []Value) (Value, error) {
	info, err := in.gc.FunctionInfo(fn)
	if err != nil {
		in.releaseAll(args)
		return NullValue(), err
	}
	if info.Body == nil {
		in.releaseAll(args)
		return NullValue(), runtimeErrorf("function has no body (restored from snapshot?)")
	}
	if len(args) != len(info.Params) {
		in.releaseAll(args)
		return NullValue(), runtimeErrorf("call: want %d arguments, got %d", len(info.Params), len(args))
	}

	callEnv, err := in.gc.NewEnvironment(info.Env)
	if err != nil {
		in.releaseAll(args)
		return NullValue(), err
	}
	in.envStack = append(in.envStack, callEnv)

	bindErr := error(nil)
	for i, name := range info.Params {
		if err := in.gc.EnvDefine(callEnv, name, args[i]); err != nil {
			bindErr = err
			in.releaseAll(args[i:])
			break
		}
	}

	var result Value
	if bindErr != nil {
		err = bindErr
	} else {
		result, err = in.evalStmts(callEnv, info.Body.Stmts)
	}

	in.envStack = in.envStack[:len(in.envStack)-1]
	// Keep the result pinned while the call scope unwinds: dropping the
	// environment may cascade and must not reclaim the return value.
	tempMark := in.tempsMark()
	in.pushTemp(result)
	in.gc.DecRef(callEnv)
	in.popTemps(tempMark)

	if err != nil {
		var rc *returnControl
		if errors.As(err, &rc) {
			return rc.value, nil
		}
		return NullValue(), err
	}
	return result, nil
}

func (in *Interp) evalBinary(env Handle, ex *ast.BinaryExpr) (Value, error) {
	// Short-circuit operators evaluate the right side lazily.
	if ex.Op == "&&" || ex.Op == "||" {
		left, err := in.evalExpr(env, ex.Left)
		if err != nil {
			return NullValue(), err
		}
		truthy := left.IsTruthy()
		if (ex.Op == "&&" && !truthy) || (ex.Op == "||" && truthy) {
			return left, nil
		}
		in.gc.release(left)
		return in.evalExpr(env, ex.Right)
	}

	mark := in.tempsMark()
	defer in.popTemps(mark)

	left, err := in.evalExpr(env, ex.Left)
	if err != nil {
		return NullValue(), err
	}
	in.pushTemp(left)
	defer in.gc.release(left)

	right, err := in.evalExpr(env, ex.Right)
	if err != nil {
		return NullValue(), err
	}
	defer in.gc.release(right)

	switch ex.Op {
	case "==":
		return BoolValue(in.gc.DeepEqual(left, right)), nil
	case "!=":
		return BoolValue(!in.gc.DeepEqual(left, right)), nil
	}

	return evalArith(ex.Op, left, right)
}

func evalArith(op string, left, right Value) (Value, error) {
	if left.Type == TypeString && right.Type == TypeString && op == "+" {
		return StringValue(left.Str + right.Str), nil
	}

	if left.Type == TypeInt && right.Type == TypeInt {
		a, b := left.Int, right.Int
		switch op {
		case "+":
			return IntValue(a + b), nil
		case "-":
			return IntValue(a - b), nil
		case "*":
			return IntValue(a * b), nil
		case "/":
			if b == 0 {
				return NullValue(), runtimeErrorf("division by zero")
			}
			return IntValue(a / b), nil
		case "%":
			if b == 0 {
				return NullValue(), runtimeErrorf("division by zero")
			}
			return IntValue(a % b), nil
		case "<":
			return BoolValue(a < b), nil
		case "<=":
			return BoolValue(a <= b), nil
		case ">":
			return BoolValue(a > b), nil
		case ">=":
			return BoolValue(a >= b), nil
		}
	}

	af, aok := asFloat(left)
	bf, bok := asFloat(right)
	if aok && bok {
		switch op {
		case "+":
			return FloatValue(af + bf), nil
		case "-":
			return FloatValue(af - bf), nil
		case "*":
			return FloatValue(af * bf), nil
		case "/":
			if bf == 0 {
				return NullValue(), runtimeErrorf("division by zero")
			}
			return FloatValue(af / bf), nil
		case "<":
			return BoolValue(af < bf), nil
		case "<=":
			return BoolValue(af <= bf), nil
		case ">":
			return BoolValue(af > bf), nil
		case ">=":
			return BoolValue(af >= bf), nil
		}
	}

	return NullValue(), runtimeErrorf("operator %q not defined for %s and %s",
		op, left.TypeName(), right.TypeName())
}

func asFloat(v Value) (float64, bool) {
	switch v.Type {
	case TypeInt:
		return float64(v.Int), true
	case TypeFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

func (in *Interp) evalUnary(env Handle, ex *ast.UnaryExpr) (Value, error) {
	v, err := in.evalExpr(env, ex.Operand)
	if err != nil {
		return NullValue(), err
	}
	switch ex.Op {
	case "!":
		truthy := v.IsTruthy()
		in.gc.release(v)
		return BoolValue(!truthy), nil
	case "-":
		defer in.gc.release(v)
		switch v.Type {
		case TypeInt:
			return IntValue(-v.Int), nil
		case TypeFloat:
			return FloatValue(-v.Float), nil
		default:
			return NullValue(), runtimeErrorf("operator %q not defined for %s", ex.Op, v.TypeName())
		}
	default:
		in.gc.release(v)
		return NullValue(), runtimeErrorf("unknown operator %q", ex.Op)
	}
}

func (in *Interp) releaseAll(values []Value) {
	for _, v := range values {
		in.gc.release(v)
	}
}

// wrapAllocError maps collector OutOfMemory onto the evaluator's normal
// error-reporting path; everything else passes through.
func wrapAllocError(err error) error {
	if errors.Is(err, ErrOutOfMemory) {
		return &RuntimeError{Msg: "out of memory", Err: err}
	}
	return err
}

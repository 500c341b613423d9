package module

import (
	"context"
	"errors"
	"testing"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/engine"
	mherrors "github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/internal/fixture"
	"github.com/wippyai/modhost/ledger"
	"github.com/wippyai/modhost/stdlib"
	"github.com/wippyai/modhost/traps"
	"github.com/wippyai/modhost/value"
)

func kindOf(err error) mherrors.Kind {
	var e *mherrors.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

type env struct {
	eng   *engine.Engine
	cvars *cvar.Registry
	files *filesys.Service
	reg   *Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	files, err := filesys.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := &env{eng: eng, cvars: cvar.NewRegistry(), files: files, reg: NewRegistry(nil)}
	e.reg.Attach(e.cvars)
	t.Cleanup(func() {
		e.reg.Close(ctx)
		eng.Close(ctx)
		files.Shutdown()
	})
	return e
}

func (e *env) loadGame(t *testing.T, name string) *Instance {
	t.Helper()
	l := ledger.New(name, e.cvars, e.files, nil)
	tables := []*abi.ImportTable{traps.New(l, traps.Options{}).Table(), stdlib.Table()}
	bc, err := e.eng.Load(context.Background(), name, fixture.Game(), fixture.GameInterface(), tables)
	if err != nil {
		t.Fatal(err)
	}
	inst := New(name, fixture.GameInterface(), &Bytecode{Instance: bc}, l, nil)
	if err := e.reg.Add(inst); err != nil {
		t.Fatal(err)
	}
	return inst
}

func callI32(t *testing.T, inst *Instance, export string) int32 {
	t.Helper()
	out, err := inst.Call(context.Background(), export)
	if err != nil {
		t.Fatalf("%s: %v", export, err)
	}
	v, err := out[0].AsI32()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCvarPropagationEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.loadGame(t, "a")
	b := e.loadGame(t, "b")

	if _, err := a.Call(ctx, "init"); err != nil {
		t.Fatal(err)
	}
	if got := callI32(t, a, "fooInteger"); got != 1 {
		t.Fatalf("a foo = %d before set", got)
	}
	// the module acknowledges the registration
	a.Backend().(*Bytecode).Instance.Memory().Bytes()[fixture.CvarAddr+20] = 0

	if err := e.cvars.Set("foo", "2"); err != nil {
		t.Fatal(err)
	}

	local, err := ledger.ReadMemoryMirror(a.Backend().(*Bytecode).Instance.Memory(), fixture.CvarAddr)
	if err != nil {
		t.Fatal(err)
	}
	if local.String != "2" || local.Integer != 2 || !local.Modified {
		t.Errorf("a mirror = %+v", local)
	}
	if got := callI32(t, a, "fooModified"); got != 1 {
		t.Errorf("a modified = %d", got)
	}

	// b never registered foo and must be untouched
	if got := callI32(t, b, "fooInteger"); got != 0 {
		t.Errorf("b foo = %d", got)
	}
	if b.Ledger().GlueCount() != 0 {
		t.Errorf("b glue = %d", b.Ledger().GlueCount())
	}
}

func TestUnloadReleasesLedgerFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	inst := e.loadGame(t, "game")

	if _, err := inst.Call(ctx, "init"); err != nil {
		t.Fatal(err)
	}
	if h := callI32(t, inst, "openLog"); h == 0 {
		t.Fatal("openLog returned no handle")
	}
	if e.files.OpenCount() != 1 {
		t.Fatalf("open files = %d", e.files.OpenCount())
	}

	foo := e.cvars.Get("foo")
	before := foo.Snapshot()
	changed := 0
	foo.Changed = func(*cvar.Var) { changed++ }

	if err := inst.Unload(ctx); err != nil {
		t.Fatal(err)
	}
	if e.files.OpenCount() != 0 {
		t.Errorf("unload left %d files open", e.files.OpenCount())
	}
	if inst.Ledger().GlueCount() != 0 || !inst.Ledger().Released() {
		t.Error("ledger not released")
	}
	if foo.Snapshot() != before || changed != 0 {
		t.Error("unload touched the host variable")
	}
	if inst.State() != Unloaded {
		t.Errorf("state = %s", inst.State())
	}

	if err := inst.Unload(ctx); err != nil {
		t.Errorf("second unload: %v", err)
	}
	if _, err := inst.Call(ctx, "add", value.I32(1), value.I32(2)); kindOf(err) != mherrors.KindClosed {
		t.Errorf("call after unload err = %v", err)
	}

	// a later change reaches nobody
	if err := e.cvars.Set("foo", "3"); err != nil {
		t.Fatal(err)
	}
}

func TestBytecodeFaultQuarantines(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	inst := e.loadGame(t, "game")

	_, err := inst.Call(ctx, "fault")
	if !mherrors.IsSandboxFault(err) {
		t.Fatalf("fault err = %v", err)
	}
	if inst.State() != Faulted {
		t.Fatalf("state = %s", inst.State())
	}
	if _, err := inst.Call(ctx, "add", value.I32(1), value.I32(2)); kindOf(err) != mherrors.KindCorrupted {
		t.Errorf("call after fault err = %v", err)
	}
	if err := inst.Unload(ctx); err != nil {
		t.Errorf("unload of faulted module: %v", err)
	}
}

type fakeLibrary struct {
	closed  int
	onClose func()
}

func (f *fakeLibrary) Lookup(string) (any, error) { return nil, errors.New("no symbols") }

func (f *fakeLibrary) Close() error {
	f.closed++
	if f.onClose != nil {
		f.onClose()
	}
	return nil
}

var nativeIface = &abi.Interface{
	Name:       "cgame",
	APIVersion: 3,
	Exports: []abi.ExportDescriptor{
		abi.Export("add", "i:ii"),
		abi.Export("boom", "v:"),
		abi.Export("bad", "i:"),
	},
}

func nativeExports(shutdown func()) *abi.NativeExports {
	return &abi.NativeExports{
		APIVersion: 3,
		Funcs: map[string]abi.NativeFunc{
			"add": func(_ context.Context, args []value.Value) ([]value.Value, error) {
				a, _ := args[0].AsI32()
				b, _ := args[1].AsI32()
				return []value.Value{value.I32(a + b)}, nil
			},
			"boom": func(context.Context, []value.Value) ([]value.Value, error) { panic("boom") },
			"bad": func(context.Context, []value.Value) ([]value.Value, error) {
				return []value.Value{value.F32(1)}, nil
			},
		},
		Shutdown: shutdown,
	}
}

func TestNativeBackend(t *testing.T) {
	ctx := context.Background()
	cvars := cvar.NewRegistry()
	l := ledger.New("cgame", cvars, nil, nil)

	var order []string
	lib := &fakeLibrary{onClose: func() { order = append(order, "close") }}
	exports := nativeExports(func() {
		if !l.Released() {
			t.Error("shutdown ran before the ledger was released")
		}
		order = append(order, "shutdown")
	})

	nb, err := NewNative("cgame", "/lib/cgame.so", lib, exports, nativeIface)
	if err != nil {
		t.Fatal(err)
	}
	inst := New("cgame", nativeIface, nb, l, nil)
	if inst.Backend().Kind() != "native" {
		t.Errorf("kind = %s", inst.Backend().Kind())
	}

	out, err := inst.Call(ctx, "add", value.I32(2), value.I32(3))
	if err != nil || out[0] != value.I32(5) {
		t.Fatalf("add = %v, %v", out, err)
	}
	if _, err := inst.Call(ctx, "add", value.U32(2), value.I32(3)); kindOf(err) != mherrors.KindTypeMismatch {
		t.Errorf("wrong tag err = %v", err)
	}
	if _, err := inst.Call(ctx, "bad"); kindOf(err) != mherrors.KindTypeMismatch {
		t.Errorf("wrong result tag err = %v", err)
	}
	if _, err := inst.Call(ctx, "missing"); kindOf(err) != mherrors.KindMissingExport {
		t.Errorf("undeclared export err = %v", err)
	}
	if inst.State() != Loaded {
		t.Fatalf("state = %s", inst.State())
	}

	if _, err := inst.Call(ctx, "boom"); kindOf(err) != mherrors.KindModuleError {
		t.Errorf("panic err = %v", err)
	}
	if inst.State() != Faulted {
		t.Errorf("state after panic = %s", inst.State())
	}

	if err := inst.Unload(ctx); err != nil {
		t.Fatal(err)
	}
	inst.Unload(ctx)
	if len(order) != 2 || order[0] != "shutdown" || order[1] != "close" || lib.closed != 1 {
		t.Errorf("teardown order = %v, closes = %d", order, lib.closed)
	}
}

func TestNewNativeValidation(t *testing.T) {
	lib := &fakeLibrary{}

	if _, err := NewNative("cgame", "p", lib, nil, nativeIface); kindOf(err) != mherrors.KindNullExport {
		t.Errorf("nil exports err = %v", err)
	}

	ex := nativeExports(nil)
	delete(ex.Funcs, "bad")
	if _, err := NewNative("cgame", "p", lib, ex, nativeIface); kindOf(err) != mherrors.KindMissingExport {
		t.Errorf("missing func err = %v", err)
	}

	ex = nativeExports(nil)
	ex.Funcs["bad"] = nil
	if _, err := NewNative("cgame", "p", lib, ex, nativeIface); kindOf(err) != mherrors.KindNullExport {
		t.Errorf("nil func err = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	var order []string
	mk := func(name string) *Instance {
		nb, err := NewNative(name, "", nil, nativeExports(func() { order = append(order, name) }), nativeIface)
		if err != nil {
			t.Fatal(err)
		}
		return New(name, nativeIface, nb, ledger.New(name, cvar.NewRegistry(), nil, nil), nil)
	}

	for _, n := range []string{"a", "b", "c"} {
		if err := reg.Add(mk(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Add(mk("b")); kindOf(err) != mherrors.KindInvalidInput {
		t.Errorf("duplicate add err = %v", err)
	}
	if reg.Len() != 3 || reg.Get("b") == nil || reg.Get("z") != nil {
		t.Fatal("lookup mismatch")
	}

	var names []string
	reg.Each(func(m *Instance) { names = append(names, m.Name()) })
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Each order = %v", names)
	}

	if m := reg.Remove("b"); m == nil || reg.Len() != 2 {
		t.Fatal("Remove failed")
	}
	if reg.Remove("b") != nil {
		t.Error("second Remove found the module")
	}

	if err := reg.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "c" || order[1] != "a" {
		t.Errorf("close order = %v", order)
	}
	if err := reg.Add(mk("d")); kindOf(err) != mherrors.KindClosed {
		t.Errorf("add after close err = %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Unloaded: "unloaded", Loading: "loading", Loaded: "loaded", Faulted: "faulted", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d = %s", s, s.String())
		}
	}
}

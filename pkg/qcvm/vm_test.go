package qcvm

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/progs"
)

func newVM(t *testing.T, data []byte, builtins ...Builtin) *VM {
	t.Helper()
	return newVMConfig(t, DefaultConfig(), data, builtins...)
}

func newVMConfig(t *testing.T, cfg Config, data []byte, builtins ...Builtin) *VM {
	t.Helper()
	vm := New("test", cfg, zerolog.Nop())
	if err := vm.Load(data, LoadOptions{Builtins: builtins}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return vm
}

// TestAddReturn tests return 2+2.
func TestAddReturn(t *testing.T) {
	b := progs.NewBuilder()
	two := b.Float(2)
	b.BeginFunction("main")
	sum := b.Local(progs.EvFloat)
	b.Emit(progs.OpAddF, two, two, sum)
	b.Emit(progs.OpReturn, sum, 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	if err := vm.ExecuteByName("main"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 4 {
		t.Errorf("return = %v, want 4", got)
	}
	if vm.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", vm.Depth())
	}
}

// TestReturnLastGlobal tests returning a float held in the last global.
func TestReturnLastGlobal(t *testing.T) {
	b := progs.NewBuilder()
	two := b.Float(2)
	b.BeginFunction("main")
	sum := b.Local(progs.EvFloat)
	b.Emit(progs.OpAddF, two, two, sum)
	b.Emit(progs.OpReturn, sum, 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	if got := len(vm.Globals()); int(sum) != got-1 {
		t.Fatalf("sum = %d, want last global %d", sum, got-1)
	}
	if err := vm.ExecuteByName("main"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 4 {
		t.Errorf("return = %v, want 4", got)
	}
}

// TestArithmetic tests the float and vector opcodes.
func TestArithmetic(t *testing.T) {
	b := progs.NewBuilder()
	x := b.Float(6)
	y := b.Float(4)
	v1 := b.Vector(types.Vec3{1, 2, 3})
	v2 := b.Vector(types.Vec3{4, 5, 6})
	out := b.Global("out", progs.EvFloat)
	outv := b.Global("outv", progs.EvVector)

	tests := []struct {
		name  string
		op    uint16
		a, b  uint16
		vec   bool
		want  float32
		wantV types.Vec3
	}{
		{"ADD_F", progs.OpAddF, x, y, false, 10, types.Vec3{}},
		{"SUB_F", progs.OpSubF, x, y, false, 2, types.Vec3{}},
		{"MUL_F", progs.OpMulF, x, y, false, 24, types.Vec3{}},
		{"DIV_F", progs.OpDivF, x, y, false, 1.5, types.Vec3{}},
		{"BITAND", progs.OpBitAnd, x, y, false, 4, types.Vec3{}},
		{"BITOR", progs.OpBitOr, x, y, false, 6, types.Vec3{}},
		{"GT", progs.OpGt, x, y, false, 1, types.Vec3{}},
		{"LT", progs.OpLt, x, y, false, 0, types.Vec3{}},
		{"GE", progs.OpGe, x, x, false, 1, types.Vec3{}},
		{"LE", progs.OpLe, y, x, false, 1, types.Vec3{}},
		{"EQ_F", progs.OpEqF, x, y, false, 0, types.Vec3{}},
		{"NE_F", progs.OpNeF, x, y, false, 1, types.Vec3{}},
		{"AND", progs.OpAnd, x, y, false, 1, types.Vec3{}},
		{"OR", progs.OpOr, x, y, false, 1, types.Vec3{}},
		{"MUL_V", progs.OpMulV, v1, v2, false, 32, types.Vec3{}},
		{"EQ_V", progs.OpEqV, v1, v1, false, 1, types.Vec3{}},
		{"NE_V", progs.OpNeV, v1, v2, false, 1, types.Vec3{}},
		{"ADD_V", progs.OpAddV, v1, v2, true, 0, types.Vec3{5, 7, 9}},
		{"SUB_V", progs.OpSubV, v2, v1, true, 0, types.Vec3{3, 3, 3}},
		{"MUL_FV", progs.OpMulFV, y, v1, true, 0, types.Vec3{4, 8, 12}},
		{"MUL_VF", progs.OpMulVF, v1, y, true, 0, types.Vec3{4, 8, 12}},
	}

	fnums := make([]int32, len(tests))
	for i, tt := range tests {
		fnums[i], _ = b.BeginFunction(tt.name)
		dst := out
		if tt.vec {
			dst = outv
		}
		b.Emit(tt.op, tt.a, tt.b, dst)
		b.EndFunction()
	}
	vm := newVM(t, b.Bytes())

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := vm.Execute(fnums[i]); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if tt.vec {
				if got := vm.Vector(int(outv)); got != tt.wantV {
					t.Errorf("result = %v, want %v", got, tt.wantV)
				}
				return
			}
			if got := vm.Float(int(out)); got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestBranches tests IF and IFNOT on zero and non-zero floats.
func TestBranches(t *testing.T) {
	b := progs.NewBuilder()
	zero := b.Float(0)
	one := b.Float(1)

	ifnot, p := b.BeginFunction("ifnot", 1)
	j := b.EmitJump(progs.OpIfNot, p[0])
	b.Emit(progs.OpReturn, one, 0, 0)
	b.PatchJump(j, b.Here())
	b.Emit(progs.OpReturn, zero, 0, 0)
	b.EndFunction()

	iff, p := b.BeginFunction("if", 1)
	j = b.EmitJump(progs.OpIf, p[0])
	b.Emit(progs.OpReturn, zero, 0, 0)
	b.PatchJump(j, b.Here())
	b.Emit(progs.OpReturn, one, 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())

	tests := []struct {
		name string
		x    float32
		want float32
	}{
		{"zero", 0, 0},
		{"negative zero", float32(math.Copysign(0, -1)), 0},
		{"one", 1, 1},
		{"negative", -3.5, 1},
		{"tiny", 1e-30, 1},
	}
	for _, tt := range tests {
		for _, fn := range []int32{ifnot, iff} {
			vm.SetParmFloat(0, tt.x)
			if err := vm.Execute(fn); err != nil {
				t.Fatalf("%s: Execute failed: %v", tt.name, err)
			}
			if got := vm.ReturnFloat(); got != tt.want {
				t.Errorf("%s(%s) = %v, want %v", vm.FunctionName(fn), tt.name, got, tt.want)
			}
		}
	}
}

// TestGotoLoop tests a counting loop built from IFNOT and GOTO.
func TestGotoLoop(t *testing.T) {
	b := progs.NewBuilder()
	one := b.Float(1)
	ten := b.Float(10)

	b.BeginFunction("count")
	i := b.Local(progs.EvFloat)
	cond := b.Local(progs.EvFloat)
	top := b.Here()
	b.Emit(progs.OpLt, i, ten, cond)
	exit := b.EmitJump(progs.OpIfNot, cond)
	b.Emit(progs.OpAddF, i, one, i)
	back := b.EmitJump(progs.OpGoto, 0)
	b.PatchJump(back, top)
	b.PatchJump(exit, b.Here())
	b.Emit(progs.OpReturn, i, 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	if err := vm.ExecuteByName("count"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 10 {
		t.Errorf("count = %v, want 10", got)
	}
}

// TestRecursion tests that locals survive recursive calls.
func TestRecursion(t *testing.T) {
	b := progs.NewBuilder()
	one := b.Float(1)

	fact, p := b.BeginFunction("fact", 1)
	cond := b.Local(progs.EvFloat)
	n1 := b.Local(progs.EvFloat)
	r := b.Local(progs.EvFloat)
	b.Emit(progs.OpLe, p[0], one, cond)
	j := b.EmitJump(progs.OpIfNot, cond)
	b.Emit(progs.OpReturn, one, 0, 0)
	b.PatchJump(j, b.Here())
	b.Emit(progs.OpSubF, p[0], one, n1)
	b.Call(fact, progs.Arg{Ofs: n1})
	b.Emit(progs.OpStoreF, progs.OfsReturn, r, 0)
	b.Emit(progs.OpMulF, p[0], r, r)
	b.Emit(progs.OpReturn, r, 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	vm.SetParmFloat(0, 5)
	if err := vm.Execute(fact); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 120 {
		t.Errorf("fact(5) = %v, want 120", got)
	}

	prof := vm.Profile(1)
	if len(prof) != 1 || prof[0].Name != "fact" || prof[0].Calls != 5 {
		t.Errorf("Profile = %+v, want fact with 5 calls", prof)
	}
	vm.ResetProfile()
	if len(vm.Profile(0)) != 0 {
		t.Error("Profile not empty after reset")
	}
}

// TestVectorArguments tests that vector parameters copy all three cells.
func TestVectorArguments(t *testing.T) {
	b := progs.NewBuilder()
	va := b.Vector(types.Vec3{1, 2, 3})
	f := b.Float(7)
	vb := b.Vector(types.Vec3{10, 20, 30})
	gotA := b.Global("got_a", progs.EvVector)
	gotF := b.Global("got_f", progs.EvFloat)
	gotB := b.Global("got_b", progs.EvVector)

	callee, p := b.BeginFunction("callee", 3, 1, 3)
	sum := b.Local(progs.EvVector)
	b.Emit(progs.OpStoreV, p[0], gotA, 0)
	b.Emit(progs.OpStoreF, p[1], gotF, 0)
	b.Emit(progs.OpStoreV, p[2], gotB, 0)
	b.Emit(progs.OpAddV, p[0], p[2], sum)
	b.Emit(progs.OpReturn, sum, 0, 0)
	b.EndFunction()

	b.BeginFunction("caller")
	b.Call(callee, progs.Arg{Ofs: va, Vec: true}, progs.Arg{Ofs: f}, progs.Arg{Ofs: vb, Vec: true})
	b.Emit(progs.OpReturn, progs.OfsReturn, 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	if err := vm.ExecuteByName("caller"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.Vector(int(gotA)); got != (types.Vec3{1, 2, 3}) {
		t.Errorf("parm 0 = %v, want [1 2 3]", got)
	}
	if got := vm.Float(int(gotF)); got != 7 {
		t.Errorf("parm 1 = %v, want 7", got)
	}
	if got := vm.Vector(int(gotB)); got != (types.Vec3{10, 20, 30}) {
		t.Errorf("parm 2 = %v, want [10 20 30]", got)
	}
	if got := vm.ReturnVector(); got != (types.Vec3{11, 22, 33}) {
		t.Errorf("return = %v, want [11 22 33]", got)
	}
}

// TestStackOverflow tests unbounded recursion.
func TestStackOverflow(t *testing.T) {
	b := progs.NewBuilder()
	self, _ := b.BeginFunction("recurse")
	b.Emit(progs.OpCall0, b.FuncRef(self), 0, 0)
	b.EndFunction()

	cfg := DefaultConfig()
	cfg.MaxStackDepth = 32
	vm := newVMConfig(t, cfg, b.Bytes())

	err := vm.Execute(self)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("Execute error = %v, want %v", err, ErrStackOverflow)
	}
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("error %T is not a *RunError", err)
	}
	if re.Function != "recurse" || re.File != "builder.qc" {
		t.Errorf("RunError at %s (%s), want recurse (builder.qc)", re.Function, re.File)
	}
	if len(re.Trace) == 0 {
		t.Error("RunError has no stack trace")
	}
	if vm.Depth() != 0 {
		t.Errorf("Depth after error = %d, want 0", vm.Depth())
	}

	// the VM stays usable
	if err := vm.Execute(self); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("second Execute error = %v, want %v", err, ErrStackOverflow)
	}
}

// TestLocalStackOverflow tests exhaustion of the saved-locals stack.
func TestLocalStackOverflow(t *testing.T) {
	b := progs.NewBuilder()
	self, _ := b.BeginFunction("big")
	for i := 0; i < 100; i++ {
		b.Local(progs.EvFloat)
	}
	b.Emit(progs.OpCall0, b.FuncRef(self), 0, 0)
	b.EndFunction()

	cfg := DefaultConfig()
	cfg.LocalStackSize = 250
	vm := newVMConfig(t, cfg, b.Bytes())

	if err := vm.Execute(self); !errors.Is(err, ErrLocalStackOverflow) {
		t.Errorf("Execute error = %v, want %v", err, ErrLocalStackOverflow)
	}
}

// TestLocalsRestoredOnError tests that unwinding restores saved locals.
func TestLocalsRestoredOnError(t *testing.T) {
	b := progs.NewBuilder()
	seven := b.Float(7)
	bad := b.Global("bad", progs.EvFunction)

	fail, _ := b.BeginFunction("fail")
	b.Emit(progs.OpCall0, bad, 0, 0)
	b.EndFunction()

	outer, _ := b.BeginFunction("outer")
	local := b.Local(progs.EvFloat)
	b.Emit(progs.OpStoreF, seven, local, 0)
	b.Emit(progs.OpCall0, b.FuncRef(fail), 0, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	vm.SetInt(int(bad), 999)

	if err := vm.Execute(outer); !errors.Is(err, ErrBadFunction) {
		t.Fatalf("Execute error = %v, want %v", err, ErrBadFunction)
	}
	if got := vm.Float(int(local)); got != 0 {
		t.Errorf("local after unwind = %v, want 0", got)
	}
	if vm.Depth() != 0 || vm.stack.LocalsUsed() != 0 {
		t.Errorf("Depth = %d locals = %d, want 0, 0", vm.Depth(), vm.stack.LocalsUsed())
	}
}

// TestNullFunction tests that calling an unset function is a warning.
func TestNullFunction(t *testing.T) {
	b := progs.NewBuilder()
	unset := b.Global("unset", progs.EvFunction)
	b.BeginFunction("main")
	b.Emit(progs.OpCall0, unset, 0, 0)
	b.Emit(progs.OpReturn, progs.OfsReturn, 0, 0)
	b.EndFunction()

	var buf bytes.Buffer
	vm := New("test", DefaultConfig(), zerolog.New(&buf))
	if err := vm.Load(b.Bytes(), LoadOptions{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	vm.SetReturnFloat(5)
	if err := vm.ExecuteByName("main"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 0 {
		t.Errorf("return = %v, want 0", got)
	}
	if !strings.Contains(buf.String(), "call to unset function") {
		t.Errorf("no warning logged: %s", buf.String())
	}
	if err := vm.Execute(0); err != nil {
		t.Errorf("Execute(0) error = %v", err)
	}
}

// TestRunaway tests the statement budget.
func TestRunaway(t *testing.T) {
	b := progs.NewBuilder()
	b.BeginFunction("spin")
	b.Emit(progs.OpGoto, 0, 0, 0)
	b.EndFunction()

	cfg := DefaultConfig()
	cfg.RunawayLimit = 1000
	vm := newVMConfig(t, cfg, b.Bytes())
	if err := vm.ExecuteByName("spin"); !errors.Is(err, ErrRunaway) {
		t.Errorf("Execute error = %v, want %v", err, ErrRunaway)
	}
}

// TestBuiltins tests builtin dispatch, argument counts and missing slots.
func TestBuiltins(t *testing.T) {
	b := progs.NewBuilder()
	three := b.Float(3)
	double := b.Builtin("double", 1, 1)
	missing := b.Builtin("missing", 5)

	b.BeginFunction("main")
	b.Call(double, progs.Arg{Ofs: three})
	b.Emit(progs.OpReturn, progs.OfsReturn, 0, 0)
	b.EndFunction()
	b.BeginFunction("broken")
	b.Call(missing)
	b.EndFunction()

	var argc int
	builtins := []Builtin{
		nil,
		func(vm *VM) error {
			argc = vm.ArgC()
			vm.SetReturnFloat(vm.ParmFloat(0) * 2)
			return nil
		},
	}
	vm := newVM(t, b.Bytes(), builtins...)
	if got := vm.Image().MissingBuiltins; len(got) != 1 || got[0] != 5 {
		t.Errorf("MissingBuiltins = %v, want [5]", got)
	}

	if err := vm.ExecuteByName("main"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 6 {
		t.Errorf("double(3) = %v, want 6", got)
	}
	if argc != 1 {
		t.Errorf("ArgC = %d, want 1", argc)
	}

	if err := vm.ExecuteByName("broken"); !errors.Is(err, ErrBadBuiltin) {
		t.Errorf("Execute error = %v, want %v", err, ErrBadBuiltin)
	}
}

// TestBuiltinErrors tests errors and panics raised by builtins.
func TestBuiltinErrors(t *testing.T) {
	b := progs.NewBuilder()
	fails := b.Builtin("fails", 1)
	panics := b.Builtin("panics", 2)
	b.BeginFunction("a")
	b.Call(fails)
	b.EndFunction()
	b.BeginFunction("b")
	b.Call(panics)
	b.EndFunction()

	errBoom := errors.New("boom")
	vm := newVM(t, b.Bytes(),
		nil,
		func(vm *VM) error { return errBoom },
		func(vm *VM) error { panic("kaboom") },
	)

	if err := vm.ExecuteByName("a"); !errors.Is(err, errBoom) {
		t.Errorf("Execute(a) error = %v, want %v", err, errBoom)
	}
	if err := vm.ExecuteByName("b"); !errors.Is(err, ErrInternal) {
		t.Errorf("Execute(b) error = %v, want %v", err, ErrInternal)
	}
	if vm.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", vm.Depth())
	}
}

// TestReentrantExecute tests a builtin that runs another function.
func TestReentrantExecute(t *testing.T) {
	b := progs.NewBuilder()
	fortyOne := b.Float(41)
	helper, _ := b.BeginFunction("helper")
	b.Emit(progs.OpReturn, fortyOne, 0, 0)
	b.EndFunction()

	callback := b.Builtin("callback", 1)
	b.BeginFunction("main")
	local := b.Local(progs.EvFloat)
	b.Emit(progs.OpStoreF, fortyOne, local, 0)
	b.Call(callback)
	b.Emit(progs.OpAddF, progs.OfsReturn, local, local)
	b.Emit(progs.OpReturn, local, 0, 0)
	b.EndFunction()

	var depth int
	vm := newVM(t, b.Bytes(), nil, func(vm *VM) error {
		if err := vm.Execute(helper); err != nil {
			return err
		}
		depth = vm.Depth()
		vm.SetReturnFloat(vm.ReturnFloat() + 1)
		return nil
	})

	if err := vm.ExecuteByName("main"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := vm.ReturnFloat(); got != 83 {
		t.Errorf("return = %v, want 83", got)
	}
	if depth != 1 {
		t.Errorf("depth inside builtin = %d, want 1", depth)
	}
}

func buildEntityProgram() (*progs.Builder, map[string]uint16, map[string]int32) {
	b := progs.NewBuilder()
	g := map[string]uint16{}
	f := map[string]int32{}

	g["self"] = b.Global("self", progs.EvEntity)
	g["time"] = b.Global("time", progs.EvFloat)
	g["ent"] = b.Global("ent", progs.EvEntity)
	g["out"] = b.Global("out", progs.EvFloat)
	g["outv"] = b.Global("outv", progs.EvVector)
	f["health"], g["health"] = b.Field("health", progs.EvFloat)
	f["origin"], g["origin"] = b.Field("origin", progs.EvVector)
	f["nextthink"], _ = b.Field("nextthink", progs.EvFloat)
	f["frame"], _ = b.Field("frame", progs.EvFloat)
	f["think"], _ = b.Field("think", progs.EvFunction)
	return b, g, f
}

// TestEntityFields tests ADDRESS, STOREP and LOAD.
func TestEntityFields(t *testing.T) {
	b, g, f := buildEntityProgram()
	fifty := b.Float(50)
	vec := b.Vector(types.Vec3{1, 2, 3})

	b.BeginFunction("poke")
	ptr := b.Local(progs.EvPointer)
	b.Emit(progs.OpAddress, g["ent"], g["health"], ptr)
	b.Emit(progs.OpStorePF, fifty, ptr, 0)
	b.Emit(progs.OpAddress, g["ent"], g["origin"], ptr)
	b.Emit(progs.OpStorePV, vec, ptr, 0)
	b.Emit(progs.OpLoadF, g["ent"], g["health"], g["out"])
	b.Emit(progs.OpLoadV, g["ent"], g["origin"], g["outv"])
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	n, err := vm.Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	vm.SetEdict(int(g["ent"]), n)

	if err := vm.ExecuteByName("poke"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := vm.EdictFloat(n, int(f["health"])); got != 50 {
		t.Errorf("health = %v, want 50", got)
	}
	if got, _ := vm.EdictVector(n, int(f["origin"])); got != (types.Vec3{1, 2, 3}) {
		t.Errorf("origin = %v, want [1 2 3]", got)
	}
	if got := vm.Float(int(g["out"])); got != 50 {
		t.Errorf("out = %v, want 50", got)
	}
	if got := vm.Vector(int(g["outv"])); got != (types.Vec3{1, 2, 3}) {
		t.Errorf("outv = %v, want [1 2 3]", got)
	}

	vm.SetEdict(int(g["ent"]), 999)
	if err := vm.ExecuteByName("poke"); !errors.Is(err, ErrBadEntity) {
		t.Errorf("Execute with bad entity error = %v, want %v", err, ErrBadEntity)
	}

	vm.SetEdict(int(g["ent"]), 0)
	vm.SetWorldLocked(true)
	if err := vm.ExecuteByName("poke"); !errors.Is(err, ErrWorldAssignment) {
		t.Errorf("Execute on world error = %v, want %v", err, ErrWorldAssignment)
	}
}

// TestBadPointer tests STOREP through a forged pointer.
func TestBadPointer(t *testing.T) {
	b, _, _ := buildEntityProgram()
	one := b.Float(1)
	forged := b.Global("forged", progs.EvPointer)
	b.BeginFunction("forge")
	b.Emit(progs.OpStorePF, one, forged, 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	vm.SetInt(int(forged), 1<<20)
	if err := vm.ExecuteByName("forge"); !errors.Is(err, ErrBadPointer) {
		t.Errorf("Execute error = %v, want %v", err, ErrBadPointer)
	}
}

// TestState tests OP_STATE.
func TestState(t *testing.T) {
	b, g, f := buildEntityProgram()
	frame := b.Float(3)
	think, _ := b.BeginFunction("monster_think")
	b.EndFunction()
	b.BeginFunction("anim")
	b.Emit(progs.OpState, frame, b.FuncRef(think), 0)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	self, _ := vm.Spawn()
	if err := vm.SetSelf(self); err != nil {
		t.Fatalf("SetSelf failed: %v", err)
	}
	vm.SetTime(5, 0.1)

	if err := vm.ExecuteByName("anim"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := vm.EdictFloat(self, int(f["nextthink"])); got != float32(5)+0.1 {
		t.Errorf("nextthink = %v, want 5.1", got)
	}
	if got, _ := vm.EdictFloat(self, int(f["frame"])); got != 3 {
		t.Errorf("frame = %v, want 3", got)
	}
	if got, _ := vm.EdictCell(self, int(f["think"])); int32(got) != think {
		t.Errorf("think = %d, want %d", got, think)
	}
	if got := vm.Float(int(g["time"])); got != 5 {
		t.Errorf("time = %v, want 5", got)
	}
}

// TestStringCompare tests EQ_S and NOT_S across static and dynamic strings.
func TestStringCompare(t *testing.T) {
	b := progs.NewBuilder()
	s1 := b.Global("s1", progs.EvString)
	s2 := b.Global("s2", progs.EvString)
	out := b.Global("out", progs.EvFloat)
	hello := b.String("hello")

	b.BeginFunction("eq")
	b.Emit(progs.OpEqS, s1, s2, out)
	b.EndFunction()
	b.BeginFunction("not")
	b.Emit(progs.OpNotS, s1, 0, out)
	b.EndFunction()

	vm := newVM(t, b.Bytes())
	dyn, _ := vm.NewString("hello")
	vm.SetInt(int(s1), hello)
	vm.SetInt(int(s2), dyn)

	if err := vm.ExecuteByName("eq"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if vm.Float(int(out)) != 1 {
		t.Error("static and dynamic hello compare unequal")
	}
	if err := vm.ExecuteByName("not"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if vm.Float(int(out)) != 0 {
		t.Error("!\"hello\" is true")
	}

	vm.ReleaseString(dyn)
	if err := vm.ExecuteByName("eq"); err == nil {
		t.Error("comparing a released string succeeded")
	}
}

// TestLoadFailureUnloads tests that a rejected image leaves no usable VM.
func TestLoadFailureUnloads(t *testing.T) {
	b := progs.NewBuilder()
	b.Global("g", progs.EvFloat)
	b.BeginFunction("main")
	b.EndFunction()
	good := b.Bytes()

	vm := newVM(t, good)
	bad := append([]byte(nil), good...)
	bad[4*11] = 0xff // numstrings
	bad[4*11+1] = 0xff

	if err := vm.Load(bad, LoadOptions{}); !errors.Is(err, progs.ErrOutOfRange) {
		t.Fatalf("Load error = %v, want %v", err, progs.ErrOutOfRange)
	}
	if vm.Loaded() {
		t.Error("VM still loaded after failed load")
	}
	if err := vm.ExecuteByName("main"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Execute error = %v, want %v", err, ErrNotLoaded)
	}
}

// TestChecksumPolicy tests fatal and non-fatal checksum handling.
func TestChecksumPolicy(t *testing.T) {
	b := progs.NewBuilder()
	b.CRC = 100
	b.BeginFunction("main")
	b.EndFunction()
	data := b.Bytes()

	var buf bytes.Buffer
	vm := New("test", DefaultConfig(), zerolog.New(&buf).Level(zerolog.WarnLevel))
	if err := vm.Load(data, LoadOptions{CRC: 200}); err != nil {
		t.Fatalf("non-fatal Load failed: %v", err)
	}
	if !strings.Contains(buf.String(), "checksum mismatch") {
		t.Errorf("no checksum warning logged: %s", buf.String())
	}

	if err := vm.Load(data, LoadOptions{CRC: 200, Fatal: true}); !errors.Is(err, progs.ErrChecksumMismatch) {
		t.Errorf("fatal Load error = %v, want %v", err, progs.ErrChecksumMismatch)
	}
	if vm.Loaded() {
		t.Error("VM loaded after fatal checksum mismatch")
	}
}

// TestMultipleVMs tests isolation and the active VM switch.
func TestMultipleVMs(t *testing.T) {
	b := progs.NewBuilder()
	score := b.Global("score", progs.EvFloat)
	b.BeginFunction("main")
	b.EndFunction()
	data := b.Bytes()

	server := newVM(t, data)
	client := newVM(t, data)

	server.SetFloat(int(score), 10)
	if got := client.Float(int(score)); got != 0 {
		t.Errorf("client score = %v, want 0", got)
	}
	if _, err := server.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if client.Edicts().NumEdicts() != 1 {
		t.Errorf("client edicts = %d, want 1", client.Edicts().NumEdicts())
	}

	prev := Switch(server)
	defer Switch(prev)
	if Active() != server {
		t.Error("Active is not server")
	}
	Switch(client)
	if Active() != client {
		t.Error("Active is not client")
	}
	server.Shutdown()
	if Active() != client {
		t.Error("Shutdown of inactive VM cleared the active VM")
	}
	client.Shutdown()
	if Active() != nil {
		t.Error("Shutdown of active VM did not clear it")
	}
}

// TestTrace tests statement tracing.
func TestTrace(t *testing.T) {
	b := progs.NewBuilder()
	one := b.Float(1)
	b.BeginFunction("main")
	tmp := b.Local(progs.EvFloat)
	b.Emit(progs.OpAddF, one, one, tmp)
	b.EndFunction()

	prevLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	defer zerolog.SetGlobalLevel(prevLevel)

	var buf bytes.Buffer
	vm := New("traced", DefaultConfig(), zerolog.New(&buf).Level(zerolog.TraceLevel))
	if err := vm.Load(b.Bytes(), LoadOptions{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	vm.SetTrace(true)
	if err := vm.ExecuteByName("main"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"op":"ADD_F"`) || !strings.Contains(out, `"vm":"traced"`) {
		t.Errorf("trace output missing statement: %s", out)
	}
}

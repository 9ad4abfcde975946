package qcvm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/progs"
)

// stateThinkInterval is the delay OP_STATE puts on self.nextthink.
const stateThinkInterval = 0.1

// ExecuteByName runs the named function.
func (vm *VM) ExecuteByName(name string) error {
	if vm.img == nil {
		return ErrNotLoaded
	}
	fnum, ok := vm.img.FindFunction(name)
	if !ok {
		return &RunError{Statement: -1, Err: fmt.Errorf("%w: %q not found", ErrBadFunction, name)}
	}
	return vm.Execute(fnum)
}

// Execute runs function fnum to completion. Parameters must already be in
// the parameter globals; the result is left in the return global. It may be
// called recursively from a builtin. On error every frame pushed by this
// invocation is unwound and its saved locals restored.
func (vm *VM) Execute(fnum int32) (err error) {
	if vm.img == nil {
		return ErrNotLoaded
	}
	if fnum == 0 {
		vm.nullCall()
		return nil
	}
	if fnum < 0 || int(fnum) >= len(vm.img.Functions) {
		return vm.runError(vm.xstatement, fmt.Errorf("%w: %d", ErrBadFunction, fnum))
	}

	exitDepth := vm.stack.Depth()
	savedFunction, savedStatement := vm.xfunction, vm.xstatement

	defer func() {
		if rec := recover(); rec != nil {
			err = vm.runError(vm.xstatement, fmt.Errorf("%w: %v", ErrInternal, rec))
		}
		if err != nil {
			vm.unwind(exitDepth)
		}
		vm.xfunction, vm.xstatement = savedFunction, savedStatement
	}()

	f := &vm.img.Functions[fnum]
	if _, ok := f.Builtin(); ok {
		return vm.callBuiltin(fnum, vm.argc)
	}

	s, err := vm.enterFunction(fnum, vm.xstatement)
	if err != nil {
		return vm.runError(vm.xstatement, err)
	}
	return vm.run(s, exitDepth)
}

// nullCall handles a call through an unset function reference: a warning
// and a cleared return value.
func (vm *VM) nullCall() {
	vm.log.Warn().
		Str("function", vm.functionName(vm.xfunction)).
		Int("statement", vm.xstatement).
		Msg("call to unset function, ignored")
	types.StoreVec(vm.globals, progs.OfsReturn, types.Vec3{})
}

// enterFunction saves the caller context and the callee's locals, copies
// the parameters into place and returns the callee's first statement.
func (vm *VM) enterFunction(fnum int32, returnStatement int) (int, error) {
	f := &vm.img.Functions[fnum]
	base, n := int(f.ParmStart), int(f.Locals)
	frame := Frame{Statement: returnStatement, Function: vm.xfunction}
	if err := vm.stack.Push(frame, vm.globals, base, n); err != nil {
		return 0, err
	}

	o := base
	for i := 0; i < int(f.NumParms); i++ {
		src := progs.OfsParm0 + i*progs.ParmCells
		for j := 0; j < int(f.ParmSize[i]); j++ {
			vm.globals[o] = vm.globals[src+j]
			o++
		}
	}

	vm.xfunction = fnum
	vm.profile[fnum].Calls++
	return int(f.FirstStatement), nil
}

// leaveFunction restores the locals of the current function and returns
// the statement the caller resumes at.
func (vm *VM) leaveFunction() int {
	if vm.img == nil || vm.stack == nil {
		return -1
	}
	f := &vm.img.Functions[vm.xfunction]
	frame, ok := vm.stack.Pop(vm.globals, int(f.ParmStart), int(f.Locals))
	if !ok {
		return -1
	}
	vm.xfunction = frame.Function
	return frame.Statement
}

func (vm *VM) unwind(exitDepth int) {
	if vm.img == nil || vm.stack == nil {
		return
	}
	for vm.stack.Depth() > exitDepth {
		vm.leaveFunction()
	}
}

func (vm *VM) callBuiltin(fnum int32, argc int) error {
	f := &vm.img.Functions[fnum]
	num, _ := f.Builtin()
	if num >= len(vm.builtins) || vm.builtins[num] == nil {
		return vm.runError(vm.xstatement, fmt.Errorf("%w: %d (%s)", ErrBadBuiltin, num, vm.img.String(f.Name)))
	}
	vm.argc = argc
	vm.profile[fnum].Calls++
	if err := vm.builtins[num](vm); err != nil {
		var re *RunError
		if errors.As(err, &re) {
			return err
		}
		return vm.runError(vm.xstatement, fmt.Errorf("builtin %s: %w", vm.img.String(f.Name), err))
	}
	return nil
}

// run is the fetch/decode/execute loop. It returns when the function
// entered at exitDepth returns.
func (vm *VM) run(s int, exitDepth int) error {
	meter := NewMeter(vm.cfg.RunawayLimit)
	img := vm.img
	stmts := img.Statements
	g := vm.globals
	ents := vm.edicts

	for {
		if s < 0 || s >= len(stmts) {
			return vm.runError(vm.xstatement, fmt.Errorf("%w: %d", ErrBadJump, s))
		}
		vm.xstatement = s
		st := stmts[s]
		a, b, c := st.OfsA(), st.OfsB(), st.OfsC()

		if err := meter.Consume(1); err != nil {
			return vm.runError(s, fmt.Errorf("%w: %d statements", err, vm.cfg.RunawayLimit))
		}
		vm.profile[vm.xfunction].Statements++
		if vm.trace {
			vm.traceStatement(s, st)
		}

		switch st.Op {
		case progs.OpAddF:
			g[c] = fcell(f32(g[a]) + f32(g[b]))
		case progs.OpAddV:
			types.StoreVec(g, c, types.LoadVec(g, a).Add(types.LoadVec(g, b)))
		case progs.OpSubF:
			g[c] = fcell(f32(g[a]) - f32(g[b]))
		case progs.OpSubV:
			types.StoreVec(g, c, types.LoadVec(g, a).Sub(types.LoadVec(g, b)))

		case progs.OpMulF:
			g[c] = fcell(f32(g[a]) * f32(g[b]))
		case progs.OpMulV:
			g[c] = fcell(types.LoadVec(g, a).Dot(types.LoadVec(g, b)))
		case progs.OpMulFV:
			types.StoreVec(g, c, types.LoadVec(g, b).Scale(f32(g[a])))
		case progs.OpMulVF:
			types.StoreVec(g, c, types.LoadVec(g, a).Scale(f32(g[b])))

		case progs.OpDivF:
			g[c] = fcell(f32(g[a]) / f32(g[b]))

		case progs.OpBitAnd:
			g[c] = fcell(float32(int32(f32(g[a])) & int32(f32(g[b]))))
		case progs.OpBitOr:
			g[c] = fcell(float32(int32(f32(g[a])) | int32(f32(g[b]))))

		case progs.OpGe:
			g[c] = bcell(f32(g[a]) >= f32(g[b]))
		case progs.OpLe:
			g[c] = bcell(f32(g[a]) <= f32(g[b]))
		case progs.OpGt:
			g[c] = bcell(f32(g[a]) > f32(g[b]))
		case progs.OpLt:
			g[c] = bcell(f32(g[a]) < f32(g[b]))
		case progs.OpAnd:
			g[c] = bcell(types.Truth(g[a]) && types.Truth(g[b]))
		case progs.OpOr:
			g[c] = bcell(types.Truth(g[a]) || types.Truth(g[b]))

		case progs.OpNotF:
			g[c] = bcell(!types.Truth(g[a]))
		case progs.OpNotV:
			g[c] = bcell(!types.Truth(g[a]) && !types.Truth(g[a+1]) && !types.Truth(g[a+2]))
		case progs.OpNotS:
			str, err := vm.strings.Get(int32(g[a]))
			if err != nil {
				return vm.runError(s, err)
			}
			g[c] = bcell(str == "")
		case progs.OpNotFnc, progs.OpNotEnt:
			g[c] = bcell(g[a] == 0)

		case progs.OpEqF:
			g[c] = bcell(f32(g[a]) == f32(g[b]))
		case progs.OpEqV:
			g[c] = bcell(types.LoadVec(g, a) == types.LoadVec(g, b))
		case progs.OpEqS, progs.OpNeS:
			sa, err := vm.strings.Get(int32(g[a]))
			if err != nil {
				return vm.runError(s, err)
			}
			sb, err := vm.strings.Get(int32(g[b]))
			if err != nil {
				return vm.runError(s, err)
			}
			g[c] = bcell((sa == sb) == (st.Op == progs.OpEqS))
		case progs.OpEqE, progs.OpEqFnc:
			g[c] = bcell(g[a] == g[b])

		case progs.OpNeF:
			g[c] = bcell(f32(g[a]) != f32(g[b]))
		case progs.OpNeV:
			g[c] = bcell(types.LoadVec(g, a) != types.LoadVec(g, b))
		case progs.OpNeE, progs.OpNeFnc:
			g[c] = bcell(g[a] != g[b])

		case progs.OpStoreF, progs.OpStoreEnt, progs.OpStoreFld, progs.OpStoreS, progs.OpStoreFnc:
			g[b] = g[a]
		case progs.OpStoreV:
			g[b], g[b+1], g[b+2] = g[a], g[a+1], g[a+2]

		case progs.OpStorePF, progs.OpStorePEnt, progs.OpStorePFld, progs.OpStorePS, progs.OpStorePFnc:
			ptr := int(int32(g[b]))
			if err := vm.checkPointer(ptr, 1); err != nil {
				return vm.runError(s, err)
			}
			ents.Cells()[ptr] = g[a]
		case progs.OpStorePV:
			ptr := int(int32(g[b]))
			if err := vm.checkPointer(ptr, 3); err != nil {
				return vm.runError(s, err)
			}
			cells := ents.Cells()
			cells[ptr], cells[ptr+1], cells[ptr+2] = g[a], g[a+1], g[a+2]

		case progs.OpAddress:
			n := int(int32(g[a]))
			if n == 0 && vm.worldLock {
				return vm.runError(s, ErrWorldAssignment)
			}
			i, err := vm.fieldIndex(n, int(int32(g[b])), 1)
			if err != nil {
				return vm.runError(s, err)
			}
			g[c] = uint32(i)

		case progs.OpLoadF, progs.OpLoadFld, progs.OpLoadEnt, progs.OpLoadS, progs.OpLoadFnc:
			i, err := vm.fieldIndex(int(int32(g[a])), int(int32(g[b])), 1)
			if err != nil {
				return vm.runError(s, err)
			}
			g[c] = ents.Cells()[i]
		case progs.OpLoadV:
			i, err := vm.fieldIndex(int(int32(g[a])), int(int32(g[b])), 3)
			if err != nil {
				return vm.runError(s, err)
			}
			cells := ents.Cells()
			g[c], g[c+1], g[c+2] = cells[i], cells[i+1], cells[i+2]

		case progs.OpIfNot:
			if !types.Truth(g[a]) {
				s += int(st.B)
				continue
			}
		case progs.OpIf:
			if types.Truth(g[a]) {
				s += int(st.B)
				continue
			}
		case progs.OpGoto:
			s += int(st.A)
			continue

		case progs.OpCall0, progs.OpCall1, progs.OpCall2, progs.OpCall3, progs.OpCall4,
			progs.OpCall5, progs.OpCall6, progs.OpCall7, progs.OpCall8:
			argc := int(st.Op - progs.OpCall0)
			fnum := int32(g[a])
			if fnum == 0 {
				vm.nullCall()
				break
			}
			if fnum < 0 || int(fnum) >= len(vm.img.Functions) {
				return vm.runError(s, fmt.Errorf("%w: %d", ErrBadFunction, fnum))
			}
			if _, ok := vm.img.Functions[fnum].Builtin(); ok {
				if err := vm.callBuiltin(fnum, argc); err != nil {
					return err
				}
				if vm.img != img {
					return vm.runError(s, fmt.Errorf("%w: progs replaced by builtin", ErrNotLoaded))
				}
				break
			}
			vm.argc = argc
			next, err := vm.enterFunction(fnum, s)
			if err != nil {
				return vm.runError(s, err)
			}
			s = next
			continue

		case progs.OpDone, progs.OpReturn:
			g[progs.OfsReturn] = g[a]
			g[progs.OfsReturn+1] = g[a+1]
			g[progs.OfsReturn+2] = g[a+2]
			ret := vm.leaveFunction()
			if vm.stack.Depth() <= exitDepth {
				return nil
			}
			s = ret + 1
			continue

		case progs.OpState:
			if err := vm.opState(f32(g[a]), g[b]); err != nil {
				return vm.runError(s, err)
			}

		default:
			return vm.runError(s, fmt.Errorf("%w: %d", ErrBadOpcode, st.Op))
		}
		s++
	}
}

// opState implements OP_STATE: self.nextthink = time + 0.1, self.frame = a,
// self.think = b.
func (vm *VM) opState(frame float32, think uint32) error {
	self, err := vm.Self()
	if err != nil {
		return err
	}
	if self == 0 && vm.worldLock {
		return ErrWorldAssignment
	}
	if vm.sys.nextthink < 0 || vm.sys.frame < 0 || vm.sys.think < 0 {
		return fmt.Errorf("%w: nextthink, frame and think are required", ErrBadField)
	}
	if err := vm.SetEdictFloat(self, vm.sys.nextthink, vm.Time()+stateThinkInterval); err != nil {
		return err
	}
	if err := vm.SetEdictFloat(self, vm.sys.frame, frame); err != nil {
		return err
	}
	return vm.SetEdictCell(self, vm.sys.think, think)
}

func f32(c uint32) float32 { return types.Float(c) }

func fcell(f float32) uint32 { return types.FloatCell(f) }

var (
	cellTrue  = types.FloatCell(1)
	cellFalse = types.FloatCell(0)
)

func bcell(v bool) uint32 {
	if v {
		return cellTrue
	}
	return cellFalse
}

// runError builds a RunError for statement s with a stack trace and logs
// it. Errors that already carry a trace are returned unchanged.
func (vm *VM) runError(s int, err error) error {
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	re = &RunError{
		Function:  vm.functionName(vm.xfunction),
		File:      vm.functionFile(vm.xfunction),
		Statement: s,
		Trace:     vm.StackTrace(),
		Err:       err,
	}
	if vm.img != nil && s >= 0 && s < len(vm.img.Statements) {
		re.Op = progs.OpName(vm.img.Statements[s].Op)
	}
	vm.log.Error().
		Err(err).
		Str("function", re.Function).
		Str("file", re.File).
		Int("statement", s).
		Str("trace", re.StackTrace()).
		Msg("progs run error")
	return re
}

// StackTrace returns the active frames, innermost first.
func (vm *VM) StackTrace() []TraceFrame {
	if vm.img == nil || vm.stack == nil {
		return nil
	}
	frames := vm.stack.Frames()
	out := make([]TraceFrame, 0, len(frames)+1)
	if vm.xfunction != 0 {
		out = append(out, TraceFrame{
			Function:  vm.functionName(vm.xfunction),
			File:      vm.functionFile(vm.xfunction),
			Statement: vm.xstatement,
		})
	}
	// each frame holds the caller and the statement it called from
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if f.Function == 0 {
			continue
		}
		out = append(out, TraceFrame{
			Function:  vm.functionName(f.Function),
			File:      vm.functionFile(f.Function),
			Statement: f.Statement,
		})
	}
	return out
}

func (vm *VM) functionName(fnum int32) string {
	if vm.img == nil || fnum <= 0 || int(fnum) >= len(vm.img.Functions) {
		return ""
	}
	return vm.img.String(vm.img.Functions[fnum].Name)
}

func (vm *VM) functionFile(fnum int32) string {
	if vm.img == nil || fnum <= 0 || int(fnum) >= len(vm.img.Functions) {
		return ""
	}
	return vm.img.String(vm.img.Functions[fnum].File)
}

func (vm *VM) traceStatement(s int, st progs.Statement) {
	vm.log.Trace().
		Str("function", vm.functionName(vm.xfunction)).
		Int("s", s).
		Str("op", progs.OpName(st.Op)).
		Int16("a", st.A).
		Int16("b", st.B).
		Int16("c", st.C).
		Msg("exec")
}

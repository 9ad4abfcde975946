package qcvm

import (
	"github.com/fortiblox/qcvm/pkg/progs"
)

// FindGlobal returns the named global definition.
func (vm *VM) FindGlobal(name string) (progs.Def, bool) {
	if vm.img == nil {
		return progs.Def{}, false
	}
	return vm.img.FindGlobal(name)
}

// FindField returns the named field definition.
func (vm *VM) FindField(name string) (progs.Def, bool) {
	if vm.img == nil {
		return progs.Def{}, false
	}
	return vm.img.FindField(name)
}

// FindFunction returns the number of the named function.
func (vm *VM) FindFunction(name string) (int32, bool) {
	if vm.img == nil {
		return 0, false
	}
	return vm.img.FindFunction(name)
}

// FunctionName returns the name of function fnum.
func (vm *VM) FunctionName(fnum int32) string {
	return vm.functionName(fnum)
}

// GetString resolves a string handle.
func (vm *VM) GetString(h int32) (string, error) {
	if vm.strings == nil {
		return "", ErrNotLoaded
	}
	return vm.strings.Get(h)
}

// SetEngineString returns a permanent handle for s.
func (vm *VM) SetEngineString(s string) (int32, error) {
	if vm.strings == nil {
		return 0, ErrNotLoaded
	}
	return vm.strings.EngineString(s)
}

// NewString returns a program-owned copy of s that lives until released.
func (vm *VM) NewString(s string) (int32, error) {
	if vm.strings == nil {
		return 0, ErrNotLoaded
	}
	return vm.strings.NewDynamic(s)
}

// ReleaseString releases a program-owned string.
func (vm *VM) ReleaseString(h int32) error {
	if vm.strings == nil {
		return ErrNotLoaded
	}
	return vm.strings.Release(h)
}

// TempString returns a short-lived handle for s.
func (vm *VM) TempString(s string) (int32, error) {
	if vm.strings == nil {
		return 0, ErrNotLoaded
	}
	return vm.strings.TempString(s)
}

// Spawn allocates an entity at the current time.
func (vm *VM) Spawn() (int, error) {
	if vm.edicts == nil {
		return 0, ErrNotLoaded
	}
	return vm.edicts.Allocate(vm.Time())
}

// Remove frees entity n at the current time.
func (vm *VM) Remove(n int) error {
	if vm.edicts == nil {
		return ErrNotLoaded
	}
	return vm.edicts.Free(n, vm.Time())
}

// ClearEdicts frees every entity and every program-owned string, as done
// on a level change.
func (vm *VM) ClearEdicts() {
	if vm.edicts == nil {
		return
	}
	vm.edicts.Clear()
	vm.strings.ClearDynamic()
}

package qcvm

import (
	"fmt"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/progs"
)

// Global and entity field access for builtins and collaborators. Global
// offsets come from definitions validated at load time; entity numbers and
// field offsets come from progs values and are checked on every access.

// Float reads the global at ofs as a float.
func (vm *VM) Float(ofs int) float32 { return types.Float(vm.globals[ofs]) }

// SetFloat writes a float global.
func (vm *VM) SetFloat(ofs int, v float32) { vm.globals[ofs] = types.FloatCell(v) }

// Int reads the global at ofs as an integer.
func (vm *VM) Int(ofs int) int32 { return types.Int(vm.globals[ofs]) }

// SetInt writes an integer global.
func (vm *VM) SetInt(ofs int, v int32) { vm.globals[ofs] = types.IntCell(v) }

// Vector reads three globals starting at ofs.
func (vm *VM) Vector(ofs int) types.Vec3 { return types.LoadVec(vm.globals, ofs) }

// SetVector writes three globals starting at ofs.
func (vm *VM) SetVector(ofs int, v types.Vec3) { types.StoreVec(vm.globals, ofs, v) }

// Edict reads the global at ofs as an entity number.
func (vm *VM) Edict(ofs int) (int, error) {
	n := int(vm.Int(ofs))
	if err := vm.checkEdict(n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetEdict writes an entity global.
func (vm *VM) SetEdict(ofs, n int) { vm.globals[ofs] = uint32(n) }

// String reads the global at ofs as a string.
func (vm *VM) String(ofs int) (string, error) {
	return vm.strings.Get(vm.Int(ofs))
}

// Parameter slot offsets.

func parmOfs(i int) int { return progs.OfsParm0 + i*progs.ParmCells }

// ParmFloat reads parameter i as a float.
func (vm *VM) ParmFloat(i int) float32 { return vm.Float(parmOfs(i)) }

// SetParmFloat writes parameter i.
func (vm *VM) SetParmFloat(i int, v float32) { vm.SetFloat(parmOfs(i), v) }

// ParmVector reads parameter i as a vector.
func (vm *VM) ParmVector(i int) types.Vec3 { return vm.Vector(parmOfs(i)) }

// SetParmVector writes parameter i.
func (vm *VM) SetParmVector(i int, v types.Vec3) { vm.SetVector(parmOfs(i), v) }

// ParmInt reads parameter i as an integer.
func (vm *VM) ParmInt(i int) int32 { return vm.Int(parmOfs(i)) }

// SetParmInt writes parameter i.
func (vm *VM) SetParmInt(i int, v int32) { vm.SetInt(parmOfs(i), v) }

// ParmEdict reads parameter i as an entity number.
func (vm *VM) ParmEdict(i int) (int, error) { return vm.Edict(parmOfs(i)) }

// ParmString reads parameter i as a string.
func (vm *VM) ParmString(i int) (string, error) { return vm.String(parmOfs(i)) }

// ReturnFloat reads the return value as a float.
func (vm *VM) ReturnFloat() float32 { return vm.Float(progs.OfsReturn) }

// SetReturnFloat writes a float return value.
func (vm *VM) SetReturnFloat(v float32) { vm.SetFloat(progs.OfsReturn, v) }

// ReturnVector reads the return value as a vector.
func (vm *VM) ReturnVector() types.Vec3 { return vm.Vector(progs.OfsReturn) }

// SetReturnVector writes a vector return value.
func (vm *VM) SetReturnVector(v types.Vec3) { vm.SetVector(progs.OfsReturn, v) }

// ReturnInt reads the return value as an integer.
func (vm *VM) ReturnInt() int32 { return vm.Int(progs.OfsReturn) }

// SetReturnInt writes a raw integer return value.
func (vm *VM) SetReturnInt(v int32) { vm.SetInt(progs.OfsReturn, v) }

// SetReturnEdict writes an entity return value.
func (vm *VM) SetReturnEdict(n int) { vm.SetEdict(progs.OfsReturn, n) }

// SetReturnString returns s through a temp string.
func (vm *VM) SetReturnString(s string) error {
	h, err := vm.strings.TempString(s)
	if err != nil {
		return err
	}
	vm.SetInt(progs.OfsReturn, h)
	return nil
}

func (vm *VM) checkEdict(n int) error {
	if n < 0 || n >= vm.edicts.NumEdicts() {
		return fmt.Errorf("%w: %d of %d", ErrBadEntity, n, vm.edicts.NumEdicts())
	}
	return nil
}

// fieldIndex returns the arena cell of field ofs on entity n, checking that
// width cells fit inside the entity's field block.
func (vm *VM) fieldIndex(n, ofs, width int) (int, error) {
	if err := vm.checkEdict(n); err != nil {
		return 0, err
	}
	fc := vm.edicts.FieldCells()
	if ofs < 0 || ofs+width > fc {
		return 0, fmt.Errorf("%w: %d of %d", ErrBadField, ofs, fc)
	}
	return n*fc + ofs, nil
}

// checkPointer validates an arena pointer addressing width cells of a
// single entity.
func (vm *VM) checkPointer(ptr, width int) error {
	fc := vm.edicts.FieldCells()
	if fc == 0 || ptr < 0 || ptr+width > len(vm.edicts.Cells()) || ptr%fc+width > fc {
		return fmt.Errorf("%w: %d", ErrBadPointer, ptr)
	}
	return nil
}

// EdictCell reads the raw field cell ofs of entity n.
func (vm *VM) EdictCell(n, ofs int) (uint32, error) {
	i, err := vm.fieldIndex(n, ofs, 1)
	if err != nil {
		return 0, err
	}
	return vm.edicts.Cells()[i], nil
}

// SetEdictCell writes the raw field cell ofs of entity n.
func (vm *VM) SetEdictCell(n, ofs int, v uint32) error {
	i, err := vm.fieldIndex(n, ofs, 1)
	if err != nil {
		return err
	}
	vm.edicts.Cells()[i] = v
	return nil
}

// EdictFloat reads a float field.
func (vm *VM) EdictFloat(n, ofs int) (float32, error) {
	c, err := vm.EdictCell(n, ofs)
	return types.Float(c), err
}

// SetEdictFloat writes a float field.
func (vm *VM) SetEdictFloat(n, ofs int, v float32) error {
	return vm.SetEdictCell(n, ofs, types.FloatCell(v))
}

// EdictVector reads a vector field.
func (vm *VM) EdictVector(n, ofs int) (types.Vec3, error) {
	i, err := vm.fieldIndex(n, ofs, types.VecCells)
	if err != nil {
		return types.Vec3{}, err
	}
	return types.LoadVec(vm.edicts.Cells(), i), nil
}

// SetEdictVector writes a vector field.
func (vm *VM) SetEdictVector(n, ofs int, v types.Vec3) error {
	i, err := vm.fieldIndex(n, ofs, types.VecCells)
	if err != nil {
		return err
	}
	types.StoreVec(vm.edicts.Cells(), i, v)
	return nil
}

// EdictString reads a string field.
func (vm *VM) EdictString(n, ofs int) (string, error) {
	c, err := vm.EdictCell(n, ofs)
	if err != nil {
		return "", err
	}
	return vm.strings.Get(int32(c))
}

package builtins

import (
	"fmt"
	"math"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/qcvm"
)

// Euler angle components.
const (
	Pitch = 0
	Yaw   = 1
	Roll  = 2
)

// AngleVectors returns the forward, right and up unit vectors for a set of
// pitch/yaw/roll angles in degrees.
func AngleVectors(angles types.Vec3) (forward, right, up types.Vec3) {
	rad := func(deg float32) float64 { return float64(deg) * (math.Pi * 2 / 360) }
	sy, cy := math.Sincos(rad(angles[Yaw]))
	sp, cp := math.Sincos(rad(angles[Pitch]))
	sr, cr := math.Sincos(rad(angles[Roll]))

	forward = types.Vec3{float32(cp * cy), float32(cp * sy), float32(-sp)}
	right = types.Vec3{
		float32(-sr*sp*cy + cr*sy),
		float32(-sr*sp*sy - cr*cy),
		float32(-sr * cp),
	}
	up = types.Vec3{
		float32(cr*sp*cy + sr*sy),
		float32(cr*sp*sy - sr*cy),
		float32(cr * cp),
	}
	return forward, right, up
}

// VecToYaw returns the yaw of v in whole degrees, in [0, 360).
func VecToYaw(v types.Vec3) float32 {
	if v[0] == 0 && v[1] == 0 {
		return 0
	}
	yaw := math.Trunc(math.Atan2(float64(v[1]), float64(v[0])) * 180 / math.Pi)
	if yaw < 0 {
		yaw += 360
	}
	return float32(yaw)
}

// VecToAngles returns the pitch and yaw of v in whole degrees. Roll is zero.
func VecToAngles(v types.Vec3) types.Vec3 {
	if v[0] == 0 && v[1] == 0 {
		if v[2] > 0 {
			return types.Vec3{90, 0, 0}
		}
		return types.Vec3{270, 0, 0}
	}
	yaw := VecToYaw(v)
	forward := math.Hypot(float64(v[0]), float64(v[1]))
	pitch := math.Trunc(math.Atan2(float64(v[2]), forward) * 180 / math.Pi)
	if pitch < 0 {
		pitch += 360
	}
	return types.Vec3{float32(pitch), yaw, 0}
}

// Normalize returns v scaled to unit length, or the zero vector.
func Normalize(v types.Vec3) types.Vec3 {
	l := v.Len()
	if l == 0 {
		return types.Vec3{}
	}
	return v.Scale(1 / l)
}

// Rint rounds half away from zero.
func Rint(f float32) float32 {
	if f > 0 {
		return float32(math.Floor(float64(f) + 0.5))
	}
	return float32(math.Ceil(float64(f) - 0.5))
}

func (r *Registry) registerMath() {
	// makevectors(vector angles) sets v_forward, v_right and v_up
	r.register(NumMakevectors, "makevectors", func(vm *qcvm.VM) error {
		ofs := [3]int{}
		for i, name := range []string{"v_forward", "v_right", "v_up"} {
			def, ok := vm.FindGlobal(name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingGlobal, name)
			}
			ofs[i] = int(def.Ofs)
		}
		forward, right, up := AngleVectors(vm.ParmVector(0))
		vm.SetVector(ofs[0], forward)
		vm.SetVector(ofs[1], right)
		vm.SetVector(ofs[2], up)
		return nil
	})

	r.register(NumRandom, "random", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(r.rng.Float32())
		return nil
	})

	r.register(NumNormalize, "normalize", func(vm *qcvm.VM) error {
		vm.SetReturnVector(Normalize(vm.ParmVector(0)))
		return nil
	})

	r.register(NumVlen, "vlen", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(vm.ParmVector(0).Len())
		return nil
	})

	r.register(NumVectoyaw, "vectoyaw", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(VecToYaw(vm.ParmVector(0)))
		return nil
	})

	r.register(NumVectoangles, "vectoangles", func(vm *qcvm.VM) error {
		vm.SetReturnVector(VecToAngles(vm.ParmVector(0)))
		return nil
	})

	r.register(NumRint, "rint", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(Rint(vm.ParmFloat(0)))
		return nil
	})

	r.register(NumFloor, "floor", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(float32(math.Floor(float64(vm.ParmFloat(0)))))
		return nil
	})

	r.register(NumCeil, "ceil", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(float32(math.Ceil(float64(vm.ParmFloat(0)))))
		return nil
	})

	r.register(NumFabs, "fabs", func(vm *qcvm.VM) error {
		vm.SetReturnFloat(float32(math.Abs(float64(vm.ParmFloat(0)))))
		return nil
	})
}

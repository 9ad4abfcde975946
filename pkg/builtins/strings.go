package builtins

import (
	"fmt"
	"strings"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/qcvm"
)

// Extensions lists the extension names checkextension reports as present.
var Extensions = []string{
	"DP_QC_DIGEST",
	"DP_QC_DIGEST_SHA256",
	"FRIK_FILE",
	"QCVM_DIGEST_BLAKE3",
	"QCVM_DIGEST_SHA3",
}

// Ftos formats a float the way progs expect: whole numbers without a
// fraction, anything else with one decimal place.
func Ftos(f float32) string {
	if f == float32(int32(f)) {
		return fmt.Sprintf("%d", int32(f))
	}
	return fmt.Sprintf("%5.1f", f)
}

// Vtos formats a vector as a quoted triple.
func Vtos(v types.Vec3) string {
	return fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2])
}

// Stov parses up to three numbers from s, ignoring quotes and brackets.
func Stov(s string) types.Vec3 {
	var v types.Vec3
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\'', '(', ')', ',':
			return ' '
		}
		return r
	}, s)
	for i, f := range strings.Fields(s) {
		if i >= 3 {
			break
		}
		v[i] = types.ParseFloat(f)
	}
	return v
}

// Substring returns length bytes of s from start. A negative length runs to
// the end; out-of-range bounds are clamped.
func Substring(s string, start, length int) string {
	if start < 0 {
		start = 0
	}
	if start > len(s) {
		return ""
	}
	if length < 0 || start+length > len(s) {
		length = len(s) - start
	}
	return s[start : start+length]
}

func hasExtension(name string) bool {
	for _, ext := range Extensions {
		if strings.EqualFold(ext, name) {
			return true
		}
	}
	return false
}

func (r *Registry) registerStrings() {
	r.register(NumFtos, "ftos", func(vm *qcvm.VM) error {
		return vm.SetReturnString(Ftos(vm.ParmFloat(0)))
	})

	r.register(NumVtos, "vtos", func(vm *qcvm.VM) error {
		return vm.SetReturnString(Vtos(vm.ParmVector(0)))
	})

	r.register(NumStof, "stof", func(vm *qcvm.VM) error {
		s, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		vm.SetReturnFloat(types.ParseFloat(s))
		return nil
	})

	r.register(NumStov, "stov", func(vm *qcvm.VM) error {
		s, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		vm.SetReturnVector(Stov(s))
		return nil
	})

	r.register(NumStrlen, "strlen", func(vm *qcvm.VM) error {
		s, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		vm.SetReturnFloat(float32(len(s)))
		return nil
	})

	r.register(NumStrcat, "strcat", func(vm *qcvm.VM) error {
		s, err := varString(vm, 0)
		if err != nil {
			return err
		}
		return vm.SetReturnString(s)
	})

	r.register(NumSubstring, "substring", func(vm *qcvm.VM) error {
		s, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		start := int(vm.ParmFloat(1))
		length := int(vm.ParmFloat(2))
		return vm.SetReturnString(Substring(s, start, length))
	})

	// strzone copies its arguments into a program-owned string that lives
	// until strunzone or the next level change
	r.register(NumStrzone, "strzone", func(vm *qcvm.VM) error {
		s, err := varString(vm, 0)
		if err != nil {
			return err
		}
		h, err := vm.NewString(s)
		if err != nil {
			return err
		}
		vm.SetReturnInt(h)
		return nil
	})

	// strunzone of the null string is ignored, like a call through an
	// unset function
	r.register(NumStrunzone, "strunzone", func(vm *qcvm.VM) error {
		h := vm.ParmInt(0)
		if h == 0 {
			vm.Logger().Warn().Str("builtin", "strunzone").Msg("release of null string, ignored")
			return nil
		}
		return vm.ReleaseString(h)
	})

	r.register(NumCvar, "cvar", func(vm *qcvm.VM) error {
		name, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		vm.SetReturnFloat(r.cvars.Value(name))
		return nil
	})

	r.register(NumCvarSet, "cvar_set", func(vm *qcvm.VM) error {
		name, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		value, err := vm.ParmString(1)
		if err != nil {
			return err
		}
		r.cvars.Set(name, value)
		return nil
	})

	r.register(NumCheckextension, "checkextension", func(vm *qcvm.VM) error {
		name, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		if hasExtension(name) {
			vm.SetReturnFloat(1)
		} else {
			vm.SetReturnFloat(0)
		}
		return nil
	})
}

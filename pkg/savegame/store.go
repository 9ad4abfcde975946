package savegame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fortiblox/qcvm/pkg/qcvm"
	"github.com/fortiblox/qcvm/pkg/savestore"
)

// ErrProgsMismatch is returned when a save was written by a different
// program image than the one loaded.
var ErrProgsMismatch = errors.New("save written by different progs")

// SaveTo writes the VM state into st under name. The progs fingerprint and
// entity count are recorded in the metadata.
func SaveTo(st savestore.Store, name string, vm *qcvm.VM, meta savestore.Meta) error {
	if !vm.Loaded() {
		return qcvm.ErrNotLoaded
	}
	var buf bytes.Buffer
	if err := Save(&buf, vm); err != nil {
		return err
	}
	meta.Progs = vm.Image().Fingerprint
	meta.Entities = vm.Edicts().CountActive()
	if err := st.Put(name, buf.Bytes(), meta); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	vm.Logger().Info().
		Str("save", name).
		Int("bytes", buf.Len()).
		Int("entities", meta.Entities).
		Msg("game saved")
	return nil
}

// LoadFrom restores the save stored under name. Unless force is set, a
// save written by a different program image is refused.
func LoadFrom(st savestore.Store, name string, vm *qcvm.VM, force bool) (*savestore.Meta, error) {
	if !vm.Loaded() {
		return nil, qcvm.ErrNotLoaded
	}
	body, meta, err := st.Get(name)
	if err != nil {
		return nil, err
	}
	if fp := vm.Image().Fingerprint; meta.Progs != fp {
		if !force {
			return meta, fmt.Errorf("%w: save %s, loaded %s", ErrProgsMismatch, meta.Progs, fp)
		}
		vm.Logger().Warn().Str("save", name).Msg("restoring save written by different progs")
	}
	if err := Restore(vm, string(body)); err != nil {
		return meta, fmt.Errorf("restore %s: %w", name, err)
	}
	return meta, nil
}

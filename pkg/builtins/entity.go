package builtins

import (
	"fmt"

	"github.com/fortiblox/qcvm/pkg/qcvm"
	"github.com/fortiblox/qcvm/pkg/savegame"
)

func (r *Registry) registerEntities() {
	r.register(NumSpawn, "spawn", func(vm *qcvm.VM) error {
		n, err := vm.Spawn()
		if err != nil {
			return err
		}
		vm.SetReturnEdict(n)
		return nil
	})

	r.register(NumRemove, "remove", func(vm *qcvm.VM) error {
		n, err := vm.ParmEdict(0)
		if err != nil {
			return err
		}
		return vm.Remove(n)
	})

	// find(entity start, .string field, string match) returns the next
	// active entity after start whose field equals match, or world
	r.register(NumFind, "find", func(vm *qcvm.VM) error {
		start, err := vm.ParmEdict(0)
		if err != nil {
			return err
		}
		field := int(vm.ParmInt(1))
		match, err := vm.ParmString(2)
		if err != nil {
			return err
		}
		if match == "" {
			return fmt.Errorf("%w: find: empty search string", ErrBadArgument)
		}
		ents := vm.Edicts()
		for n := ents.Next(start); n != 0; n = ents.Next(n) {
			s, err := vm.EdictString(n, field)
			if err != nil {
				return err
			}
			if s == match {
				vm.SetReturnEdict(n)
				return nil
			}
		}
		vm.SetReturnEdict(0)
		return nil
	})

	r.register(NumNextent, "nextent", func(vm *qcvm.VM) error {
		n, err := vm.ParmEdict(0)
		if err != nil {
			return err
		}
		vm.SetReturnEdict(vm.Edicts().Next(n))
		return nil
	})
}

func (r *Registry) registerDebug() {
	r.register(NumDprint, "dprint", func(vm *qcvm.VM) error {
		s, err := varString(vm, 0)
		if err != nil {
			return err
		}
		r.console.DPrint(s)
		return nil
	})

	r.register(NumEprint, "eprint", func(vm *qcvm.VM) error {
		n, err := vm.ParmEdict(0)
		if err != nil {
			return err
		}
		text, err := savegame.FormatEdict(vm, n)
		if err != nil {
			return err
		}
		r.console.Print(text)
		return nil
	})

	r.register(NumCoredump, "coredump", func(vm *qcvm.VM) error {
		ents := vm.Edicts()
		r.console.Print(fmt.Sprintf("%d entities\n", ents.CountActive()))
		dump := func(n int) error {
			text, err := savegame.FormatEdict(vm, n)
			if err != nil {
				return err
			}
			r.console.Print(text)
			return nil
		}
		if err := dump(0); err != nil {
			return err
		}
		var err error
		ents.ForEach(func(n int) bool {
			err = dump(n)
			return err == nil
		})
		return err
	})

	r.register(NumTraceon, "traceon", func(vm *qcvm.VM) error {
		vm.SetTrace(true)
		return nil
	})

	r.register(NumTraceoff, "traceoff", func(vm *qcvm.VM) error {
		vm.SetTrace(false)
		return nil
	})
}

package savegame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/progs"
	"github.com/fortiblox/qcvm/pkg/qcvm"
)

// ParseEpair stores the text value s into the cells of base described by d.
// String values become program-owned strings.
func ParseEpair(vm *qcvm.VM, base []uint32, d progs.Def, s string) error {
	ofs := int(d.Ofs)
	switch d.Kind() {
	case progs.EvString:
		h, err := vm.NewString(unescape(s))
		if err != nil {
			return err
		}
		base[ofs] = uint32(h)
	case progs.EvFloat:
		base[ofs] = types.FloatCell(types.ParseFloat(s))
	case progs.EvVector:
		var v types.Vec3
		for i, f := range strings.Fields(s) {
			if i >= 3 {
				break
			}
			v[i] = types.ParseFloat(f)
		}
		types.StoreVec(base, ofs, v)
	case progs.EvEntity:
		n, _ := strconv.Atoi(strings.TrimSpace(s))
		base[ofs] = uint32(n)
	case progs.EvField:
		f, ok := vm.FindField(s)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, s)
		}
		base[ofs] = uint32(f.Ofs)
	case progs.EvFunction:
		fnum, ok := vm.FindFunction(s)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFunction, s)
		}
		base[ofs] = uint32(fnum)
	}
	return nil
}

// pair reads one key/value pair. It returns false when the closing brace
// is reached.
func pair(p *Parser) (key, value string, ok bool, err error) {
	key, more := p.Next()
	if !more {
		return "", "", false, fmt.Errorf("%w: line %d: EOF without closing brace", ErrSyntax, p.Line())
	}
	if key == "}" {
		return "", "", false, nil
	}
	value, more = p.Next()
	if !more {
		return "", "", false, fmt.Errorf("%w: line %d: EOF without closing brace", ErrSyntax, p.Line())
	}
	if value == "}" {
		return "", "", false, fmt.Errorf("%w: line %d: closing brace without data", ErrSyntax, p.Line())
	}
	return key, value, true, nil
}

// expectOpen consumes an opening brace. It returns false at end of input.
func expectOpen(p *Parser) (bool, error) {
	tok, ok := p.Next()
	if !ok {
		return false, nil
	}
	if tok != "{" {
		return false, fmt.Errorf("%w: line %d: found %q when expecting {", ErrSyntax, p.Line(), tok)
	}
	return true, nil
}

// ParseGlobals reads a globals block. The opening brace must already have
// been consumed. Unknown globals are skipped with a warning.
func ParseGlobals(vm *qcvm.VM, p *Parser) error {
	if !vm.Loaded() {
		return qcvm.ErrNotLoaded
	}
	globals := vm.Globals()
	for {
		key, value, ok, err := pair(p)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		d, found := vm.FindGlobal(key)
		if !found {
			vm.Logger().Warn().Str("global", key).Msg("not a global")
			continue
		}
		if err := ParseEpair(vm, globals, d, value); err != nil {
			return fmt.Errorf("global %s: %w", key, err)
		}
	}
}

// ParseEdict reads one entity block into entity n. The opening brace must
// already have been consumed. Fields of entities other than the world are
// zeroed first. An empty block frees the entity unless it is reserved.
func ParseEdict(vm *qcvm.VM, p *Parser, n int) error {
	if !vm.Loaded() {
		return qcvm.ErrNotLoaded
	}
	fields, err := vm.Edicts().Fields(n)
	if err != nil {
		return err
	}
	if n != 0 {
		clear(fields)
	}

	parsed := false
	for {
		key, value, ok, err := pair(p)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		parsed = true

		// "angle" is shorthand for a yaw-only angles vector
		angleHack := false
		switch key {
		case "angle":
			key = "angles"
			angleHack = true
		case "light":
			key = "light_lev"
		}
		key = strings.TrimRight(key, " ")
		if strings.HasPrefix(key, "_") {
			continue
		}

		d, found := vm.FindField(key)
		if !found {
			vm.Logger().Debug().Str("field", key).Int("entity", n).Msg("not a field")
			continue
		}
		if angleHack {
			value = "0 " + value + " 0"
		}
		if err := ParseEpair(vm, fields, d, value); err != nil {
			return fmt.Errorf("entity %d field %s: %w", n, key, err)
		}
	}

	if !parsed && n >= vm.Edicts().Config().ReservedEdicts {
		return vm.Edicts().Free(n, 0)
	}
	return nil
}

// LoadEntities spawns the entities of a map entity lump. The first block
// describes the world; each later block gets a new entity whose spawn
// function, named by its classname, is run with self set to it. Entities
// without a classname or spawn function are removed with a warning. It
// returns the number of spawn functions run.
func LoadEntities(vm *qcvm.VM, data string) (int, error) {
	if !vm.Loaded() {
		return 0, qcvm.ErrNotLoaded
	}
	classname := vm.ClassnameField()
	if classname < 0 {
		return 0, fmt.Errorf("%w: classname", ErrUnknownField)
	}
	log := vm.Logger()

	p := NewParser(data)
	spawned := 0
	for first := true; ; first = false {
		ok, err := expectOpen(p)
		if err != nil {
			return spawned, err
		}
		if !ok {
			return spawned, nil
		}

		n := 0
		if !first {
			if n, err = vm.Spawn(); err != nil {
				return spawned, err
			}
		}
		if err := ParseEdict(vm, p, n); err != nil {
			return spawned, err
		}
		if vm.Edicts().IsFree(n) {
			continue
		}

		name, err := vm.EdictString(n, classname)
		if err != nil {
			return spawned, err
		}
		if name == "" {
			log.Warn().Int("entity", n).Msg("no classname")
			if n != 0 {
				if err := vm.Remove(n); err != nil {
					return spawned, err
				}
			}
			continue
		}
		fnum, found := vm.FindFunction(name)
		if !found {
			log.Warn().Int("entity", n).Str("classname", name).Msg("no spawn function")
			if n != 0 {
				if err := vm.Remove(n); err != nil {
					return spawned, err
				}
			}
			continue
		}

		if err := vm.SetSelf(n); err != nil {
			return spawned, err
		}
		if err := vm.Execute(fnum); err != nil {
			return spawned, fmt.Errorf("spawn %s: %w", name, err)
		}
		spawned++
	}
}

// Restore replaces the VM's globals and entities with the contents of a
// save written by Save. Every entity and program-owned string is released
// first; entity slots keep their saved numbers.
func Restore(vm *qcvm.VM, data string) error {
	if !vm.Loaded() {
		return qcvm.ErrNotLoaded
	}
	vm.ClearEdicts()

	p := NewParser(data)
	ok, err := expectOpen(p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing globals block", ErrSyntax)
	}
	if err := ParseGlobals(vm, p); err != nil {
		return err
	}

	for n := 0; ; n++ {
		ok, err := expectOpen(p)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := vm.Edicts().Restore(n); err != nil {
			return err
		}
		if err := ParseEdict(vm, p, n); err != nil {
			return err
		}
	}
}

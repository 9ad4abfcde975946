// Package savegame reads and writes the text form of globals and entities
// used by save files and map entity lumps.
//
// Each block is a brace-delimited list of quoted key/value pairs:
//
//	{
//	"classname" "info_player_start"
//	"origin" "0 0 24"
//	}
//
// A save file is one block of saved globals followed by one block per
// entity slot in entity-number order; free slots are written as empty
// blocks.
package savegame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/progs"
	"github.com/fortiblox/qcvm/pkg/qcvm"
)

var (
	ErrSyntax          = errors.New("savegame syntax error")
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownFunction = errors.New("unknown function")
)

// defName returns the name of d.
func defName(img *progs.Image, d progs.Def) string {
	return img.String(d.Name)
}

// isComponent reports whether a definition name is the _x/_y/_z alias of
// a vector.
func isComponent(name string) bool {
	n := len(name)
	return n > 2 && name[n-2] == '_' && strings.ContainsRune("xyz", rune(name[n-1]))
}

func allZero(cells []uint32) bool {
	for _, c := range cells {
		if c != 0 {
			return false
		}
	}
	return true
}

// ValueString formats the value held in cells for display.
func ValueString(vm *qcvm.VM, t progs.EType, cells []uint32) string {
	switch t {
	case progs.EvString:
		s, err := vm.GetString(int32(cells[0]))
		if err != nil {
			return fmt.Sprintf("<bad string %d>", int32(cells[0]))
		}
		return s
	case progs.EvEntity:
		return fmt.Sprintf("entity %d", cells[0])
	case progs.EvFunction:
		return vm.FunctionName(int32(cells[0])) + "()"
	case progs.EvField:
		if d, ok := vm.Image().FieldAtOfs(int(cells[0])); ok {
			return "." + defName(vm.Image(), d)
		}
		return fmt.Sprintf(".<field %d>", cells[0])
	case progs.EvVoid:
		return "void"
	case progs.EvFloat:
		return fmt.Sprintf("%5.1f", types.Float(cells[0]))
	case progs.EvVector:
		v := types.LoadVec(cells, 0)
		return fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2])
	case progs.EvPointer:
		return "pointer"
	default:
		return fmt.Sprintf("bad type %d", t)
	}
}

// UglyValueString formats the value held in cells in the form ParseEpair
// reads back.
func UglyValueString(vm *qcvm.VM, t progs.EType, cells []uint32) string {
	switch t {
	case progs.EvString:
		s, _ := vm.GetString(int32(cells[0]))
		return escape(s)
	case progs.EvEntity:
		return fmt.Sprintf("%d", cells[0])
	case progs.EvFunction:
		return vm.FunctionName(int32(cells[0]))
	case progs.EvField:
		if d, ok := vm.Image().FieldAtOfs(int(cells[0])); ok {
			return defName(vm.Image(), d)
		}
		return ""
	case progs.EvVoid:
		return "void"
	case progs.EvFloat:
		return fmt.Sprintf("%f", types.Float(cells[0]))
	case progs.EvVector:
		v := types.LoadVec(cells, 0)
		return fmt.Sprintf("%f %f %f", v[0], v[1], v[2])
	default:
		return fmt.Sprintf("bad type %d", t)
	}
}

// FormatEdict renders entity n for the console, listing every non-zero
// field.
func FormatEdict(vm *qcvm.VM, n int) (string, error) {
	if !vm.Loaded() {
		return "", qcvm.ErrNotLoaded
	}
	fields, err := vm.Edicts().Fields(n)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nEDICT %d:\n", n)
	if vm.Edicts().IsFree(n) {
		sb.WriteString("FREE\n")
		return sb.String(), nil
	}
	img := vm.Image()
	for _, d := range img.FieldDefs {
		name := defName(img, d)
		if name == "" || isComponent(name) || d.Kind() == progs.EvVoid {
			continue
		}
		cells := fields[d.Ofs : int(d.Ofs)+d.Kind().Cells()]
		if allZero(cells) {
			continue
		}
		fmt.Fprintf(&sb, "%-15s %s\n", name, ValueString(vm, d.Kind(), cells))
	}
	return sb.String(), nil
}

// WriteGlobals writes the saved float, string and entity globals as one
// block.
func WriteGlobals(w io.Writer, vm *qcvm.VM) error {
	img := vm.Image()
	if img == nil {
		return qcvm.ErrNotLoaded
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("{\n")
	globals := vm.Globals()
	for _, d := range img.GlobalDefs {
		if !d.Saved() {
			continue
		}
		t := d.Kind()
		if t != progs.EvString && t != progs.EvFloat && t != progs.EvEntity {
			continue
		}
		value := UglyValueString(vm, t, globals[d.Ofs:d.Ofs+1])
		fmt.Fprintf(bw, "%s %s\n", quote(defName(img, d)), quote(value))
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// WriteEdict writes entity n as one block. Free entities produce an empty
// block.
func WriteEdict(w io.Writer, vm *qcvm.VM, n int) error {
	img := vm.Image()
	if img == nil {
		return qcvm.ErrNotLoaded
	}
	fields, err := vm.Edicts().Fields(n)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("{\n")
	if !vm.Edicts().IsFree(n) {
		for _, d := range img.FieldDefs {
			name := defName(img, d)
			if name == "" || isComponent(name) || d.Kind() == progs.EvVoid {
				continue
			}
			cells := fields[d.Ofs : int(d.Ofs)+d.Kind().Cells()]
			if allZero(cells) {
				continue
			}
			fmt.Fprintf(bw, "%s %s\n", quote(name), quote(UglyValueString(vm, d.Kind(), cells)))
		}
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// Save writes the saved globals followed by every entity slot.
func Save(w io.Writer, vm *qcvm.VM) error {
	if err := WriteGlobals(w, vm); err != nil {
		return err
	}
	for n := 0; n < vm.Edicts().NumEdicts(); n++ {
		if err := WriteEdict(w, vm, n); err != nil {
			return fmt.Errorf("entity %d: %w", n, err)
		}
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}

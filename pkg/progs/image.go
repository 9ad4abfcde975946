// Package progs loads and validates compiled QuakeC program images.
//
// An image is a little-endian file made of a 60 byte header followed by six
// tables: statements, global definitions, field definitions, functions, the
// static string blob and the initial global values. Every offset and count
// in the header is checked against the file length before any table is read,
// and every statement operand and jump target is checked against the table it
// addresses, so the interpreter can index without bounds surprises.
package progs

import (
	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/hashmap"
)

// Format constants.
const (
	Version       = 6
	HeaderSize    = 60
	StatementSize = 8
	DefSize       = 8
	FunctionSize  = 36

	MaxParms      = 8
	ParmCells     = 3 // cells reserved per parameter slot
	OfsNull       = 0
	OfsReturn     = 1
	OfsParm0      = 4
	ReservedOfs   = OfsParm0 + MaxParms*ParmCells
	DefSaveGlobal = 1 << 15
)

// EType is the declared type of a definition.
type EType uint16

// Declared types.
const (
	EvVoid EType = iota
	EvString
	EvFloat
	EvVector
	EvEntity
	EvField
	EvFunction
	EvPointer
)

var etypeNames = [...]string{"void", "string", "float", "vector", "entity", "field", "function", "pointer"}

// String returns the type keyword.
func (t EType) String() string {
	if int(t) < len(etypeNames) {
		return etypeNames[t]
	}
	return "bad type"
}

// Cells returns the number of cells occupied by a value of this type.
func (t EType) Cells() int {
	if t == EvVector {
		return types.VecCells
	}
	return 1
}

// Header is the fixed-size file header.
type Header struct {
	Version       int32
	CRC           int32
	OfsStatements int32
	NumStatements int32
	OfsGlobalDefs int32
	NumGlobalDefs int32
	OfsFieldDefs  int32
	NumFieldDefs  int32
	OfsFunctions  int32
	NumFunctions  int32
	OfsStrings    int32
	NumStrings    int32
	OfsGlobals    int32
	NumGlobals    int32
	EntityFields  int32
}

// Def names a global or field slot.
type Def struct {
	Type uint16 // EType, optionally with DefSaveGlobal set
	Ofs  uint16
	Name int32 // offset into the string blob
}

// Kind returns the declared type without the save flag.
func (d Def) Kind() EType {
	return EType(d.Type &^ DefSaveGlobal)
}

// Saved reports whether the definition is persisted in save files.
func (d Def) Saved() bool {
	return d.Type&DefSaveGlobal != 0
}

// Function describes a bytecode function or a builtin.
type Function struct {
	FirstStatement int32 // negative values name a builtin
	ParmStart      int32
	Locals         int32
	Profile        int32
	Name           int32
	File           int32
	NumParms       int32
	ParmSize       [MaxParms]uint8
}

// Builtin returns the builtin number if the function is a host builtin.
func (f *Function) Builtin() (int, bool) {
	if f.FirstStatement < 0 {
		return int(-f.FirstStatement), true
	}
	return 0, false
}

// Image is a validated program image.
type Image struct {
	Header     Header
	Statements []Statement
	GlobalDefs []Def
	FieldDefs  []Def
	Functions  []Function
	Strings    []byte
	Globals    []uint32

	// FileCRC is the CRC16 of the raw image bytes.
	FileCRC uint16
	// Size is the length of the raw image in bytes.
	Size int
	// Fingerprint is the BLAKE3 digest of the raw image bytes.
	Fingerprint types.Fingerprint
	// MissingBuiltins lists builtin numbers referenced by the image that
	// the host did not provide at load time.
	MissingBuiltins []int

	functions *hashmap.Map[string, int32]
	globals   *hashmap.Map[string, int32]
	fields    *hashmap.Map[string, int32]
}

// String returns the static string at ofs. Out-of-range offsets yield "".
func (img *Image) String(ofs int32) string {
	if ofs < 0 || int(ofs) >= len(img.Strings) {
		return ""
	}
	s := img.Strings[ofs:]
	for i, c := range s {
		if c == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}

// FunctionName returns the name of function fnum.
func (img *Image) FunctionName(fnum int32) string {
	if fnum < 0 || int(fnum) >= len(img.Functions) {
		return ""
	}
	return img.String(img.Functions[fnum].Name)
}

// FindFunction returns the index of the named function.
func (img *Image) FindFunction(name string) (int32, bool) {
	return img.functions.Lookup(name)
}

// FindGlobal returns the definition of the named global.
func (img *Image) FindGlobal(name string) (Def, bool) {
	i, ok := img.globals.Lookup(name)
	if !ok {
		return Def{}, false
	}
	return img.GlobalDefs[i], true
}

// FindField returns the definition of the named entity field.
func (img *Image) FindField(name string) (Def, bool) {
	i, ok := img.fields.Lookup(name)
	if !ok {
		return Def{}, false
	}
	return img.FieldDefs[i], true
}

// GlobalAtOfs returns the global definition that starts at ofs.
func (img *Image) GlobalAtOfs(ofs int) (Def, bool) {
	for _, d := range img.GlobalDefs {
		if int(d.Ofs) == ofs && d.Kind() != EvVoid {
			return d, true
		}
	}
	return Def{}, false
}

// FieldAtOfs returns the field definition that starts at ofs.
func (img *Image) FieldAtOfs(ofs int) (Def, bool) {
	for _, d := range img.FieldDefs {
		if int(d.Ofs) == ofs && d.Kind() != EvVoid {
			return d, true
		}
	}
	return Def{}, false
}

// buildSymbols indexes functions, globals and fields by name. Later
// definitions win, matching the compiler's last-definition rule.
func (img *Image) buildSymbols() {
	img.functions = hashmap.NewString[int32]()
	img.functions.Reserve(len(img.Functions))
	for i := range img.Functions {
		if name := img.String(img.Functions[i].Name); name != "" {
			img.functions.Insert(name, int32(i))
		}
	}
	img.globals = hashmap.NewString[int32]()
	img.globals.Reserve(len(img.GlobalDefs))
	for i, d := range img.GlobalDefs {
		if name := img.String(d.Name); name != "" {
			img.globals.Insert(name, int32(i))
		}
	}
	img.fields = hashmap.NewString[int32]()
	img.fields.Reserve(len(img.FieldDefs))
	for i, d := range img.FieldDefs {
		if name := img.String(d.Name); name != "" {
			img.fields.Insert(name, int32(i))
		}
	}
}

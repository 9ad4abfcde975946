package progs

import (
	"encoding/binary"

	"github.com/fortiblox/qcvm/internal/types"
)

// Builder assembles program images in memory. It lays out the reserved
// globals, the null function and the empty string the way the compiler
// does, so tools and tests can produce loadable images without a compiler.
type Builder struct {
	CRC int32

	statements   []Statement
	globalDefs   []Def
	fieldDefs    []Def
	functions    []Function
	strings      []byte
	stringOfs    map[string]int32
	globals      []uint32
	entityFields int32
	funcGlobals  map[int32]uint16
	current      int32 // function being built, or -1
}

// NewBuilder creates a builder holding the null statement, the null
// function and the reserved globals.
func NewBuilder() *Builder {
	b := &Builder{
		strings:     []byte{0},
		stringOfs:   map[string]int32{"": 0},
		globals:     make([]uint32, ReservedOfs),
		funcGlobals: make(map[int32]uint16),
		current:     -1,
	}
	b.statements = append(b.statements, Statement{Op: OpDone})
	b.functions = append(b.functions, Function{})
	b.globalDefs = append(b.globalDefs, Def{Type: uint16(EvVoid)})
	b.fieldDefs = append(b.fieldDefs, Def{Type: uint16(EvVoid)})
	return b
}

// String interns s in the static blob and returns its offset.
func (b *Builder) String(s string) int32 {
	if ofs, ok := b.stringOfs[s]; ok {
		return ofs
	}
	ofs := int32(len(b.strings))
	b.strings = append(b.strings, s...)
	b.strings = append(b.strings, 0)
	b.stringOfs[s] = ofs
	return ofs
}

func (b *Builder) alloc(t EType) uint16 {
	ofs := uint16(len(b.globals))
	b.globals = append(b.globals, make([]uint32, t.Cells())...)
	return ofs
}

// Global declares a named global and returns its offset.
func (b *Builder) Global(name string, t EType) uint16 {
	ofs := b.alloc(t)
	b.globalDefs = append(b.globalDefs, Def{Type: uint16(t), Ofs: ofs, Name: b.String(name)})
	return ofs
}

// SavedGlobal declares a named global that is written to save files.
func (b *Builder) SavedGlobal(name string, t EType) uint16 {
	ofs := b.Global(name, t)
	b.globalDefs[len(b.globalDefs)-1].Type |= DefSaveGlobal
	return ofs
}

// Float allocates an unnamed float constant.
func (b *Builder) Float(v float32) uint16 {
	ofs := b.alloc(EvFloat)
	b.globals[ofs] = types.FloatCell(v)
	return ofs
}

// Vector allocates an unnamed vector constant.
func (b *Builder) Vector(v types.Vec3) uint16 {
	ofs := b.alloc(EvVector)
	types.StoreVec(b.globals, int(ofs), v)
	return ofs
}

// StringConst allocates an unnamed string constant.
func (b *Builder) StringConst(s string) uint16 {
	ofs := b.alloc(EvString)
	b.globals[ofs] = uint32(b.String(s))
	return ofs
}

// SetGlobal stores a raw cell value at ofs.
func (b *Builder) SetGlobal(ofs uint16, v uint32) {
	b.globals[ofs] = v
}

// Field declares an entity field. It returns the field offset within the
// entity and the offset of the global holding that field reference.
func (b *Builder) Field(name string, t EType) (field int32, ref uint16) {
	field = b.entityFields
	b.entityFields += int32(t.Cells())
	b.fieldDefs = append(b.fieldDefs, Def{Type: uint16(t), Ofs: uint16(field), Name: b.String(name)})

	ref = b.alloc(EvField)
	b.globals[ref] = uint32(field)
	b.globalDefs = append(b.globalDefs, Def{Type: uint16(EvField), Ofs: ref, Name: b.String(name)})
	return field, ref
}

// Builtin declares a host builtin and returns its function number.
func (b *Builder) Builtin(name string, num int, parmSizes ...uint8) int32 {
	f := Function{
		FirstStatement: -int32(num),
		Name:           b.String(name),
		File:           b.String("builtins"),
		NumParms:       int32(len(parmSizes)),
	}
	copy(f.ParmSize[:], parmSizes)
	return b.addFunction(name, f)
}

// BeginFunction starts a bytecode function. Its parameters occupy the
// first locals; the returned offsets address them.
func (b *Builder) BeginFunction(name string, parmSizes ...uint8) (fnum int32, parms []uint16) {
	f := Function{
		FirstStatement: int32(len(b.statements)),
		Name:           b.String(name),
		File:           b.String("builder.qc"),
		NumParms:       int32(len(parmSizes)),
	}
	copy(f.ParmSize[:], parmSizes)
	fnum = b.addFunction(name, f)

	b.functions[fnum].ParmStart = int32(len(b.globals))
	for _, size := range parmSizes {
		parms = append(parms, uint16(len(b.globals)))
		b.globals = append(b.globals, make([]uint32, size)...)
	}
	b.current = fnum
	return fnum, parms
}

// Local allocates a local of the current function.
func (b *Builder) Local(t EType) uint16 {
	return b.alloc(t)
}

// EndFunction closes the current function, appending DONE if the body
// does not already end in a return.
func (b *Builder) EndFunction() {
	if b.current < 0 {
		return
	}
	f := &b.functions[b.current]
	last := b.statements[len(b.statements)-1]
	if int(f.FirstStatement) == len(b.statements) || (last.Op != OpReturn && last.Op != OpDone) {
		b.Emit(OpDone, 0, 0, 0)
	}
	f.Locals = int32(len(b.globals)) - f.ParmStart
	b.current = -1
}

func (b *Builder) addFunction(name string, f Function) int32 {
	fnum := int32(len(b.functions))
	b.functions = append(b.functions, f)
	ofs := b.alloc(EvFunction)
	b.globals[ofs] = uint32(fnum)
	b.globalDefs = append(b.globalDefs, Def{Type: uint16(EvFunction), Ofs: ofs, Name: b.String(name)})
	b.funcGlobals[fnum] = ofs
	return fnum
}

// FuncRef returns the offset of the global holding function fnum.
func (b *Builder) FuncRef(fnum int32) uint16 {
	return b.funcGlobals[fnum]
}

// Emit appends a statement and returns its index.
func (b *Builder) Emit(op uint16, a, b2, c uint16) int {
	b.statements = append(b.statements, Statement{Op: op, A: int16(a), B: int16(b2), C: int16(c)})
	return len(b.statements) - 1
}

// EmitJump appends a branch whose offset is patched later with PatchJump.
func (b *Builder) EmitJump(op uint16, cond uint16) int {
	if op == OpGoto {
		return b.Emit(op, 0, 0, 0)
	}
	return b.Emit(op, cond, 0, 0)
}

// PatchJump points the branch at statement i to target.
func (b *Builder) PatchJump(i, target int) {
	rel := int16(target - i)
	if b.statements[i].Op == OpGoto {
		b.statements[i].A = rel
	} else {
		b.statements[i].B = rel
	}
}

// Here returns the index the next emitted statement will have.
func (b *Builder) Here() int {
	return len(b.statements)
}

// Call emits the parameter stores and the CALLn for fnum with the given
// argument offsets.
func (b *Builder) Call(fnum int32, args ...Arg) {
	for i, a := range args {
		parm := uint16(OfsParm0 + i*ParmCells)
		if a.Vec {
			b.Emit(OpStoreV, a.Ofs, parm, 0)
		} else {
			b.Emit(OpStoreF, a.Ofs, parm, 0)
		}
	}
	b.Emit(uint16(OpCall0+len(args)), b.FuncRef(fnum), 0, 0)
}

// Arg is a call argument for Builder.Call.
type Arg struct {
	Ofs uint16
	Vec bool
}

// Bytes serializes the image.
func (b *Builder) Bytes() []byte {
	h := Header{Version: Version, CRC: b.CRC, EntityFields: b.entityFields}
	ofs := int32(HeaderSize)

	h.OfsStatements, h.NumStatements = ofs, int32(len(b.statements))
	ofs += h.NumStatements * StatementSize
	h.OfsGlobalDefs, h.NumGlobalDefs = ofs, int32(len(b.globalDefs))
	ofs += h.NumGlobalDefs * DefSize
	h.OfsFieldDefs, h.NumFieldDefs = ofs, int32(len(b.fieldDefs))
	ofs += h.NumFieldDefs * DefSize
	h.OfsFunctions, h.NumFunctions = ofs, int32(len(b.functions))
	ofs += h.NumFunctions * FunctionSize
	h.OfsStrings, h.NumStrings = ofs, int32(len(b.strings))
	ofs += h.NumStrings
	h.OfsGlobals, h.NumGlobals = ofs, int32(len(b.globals))
	ofs += h.NumGlobals * 4

	out := make([]byte, ofs)
	le := binary.LittleEndian
	fields := []int32{
		h.Version, h.CRC,
		h.OfsStatements, h.NumStatements,
		h.OfsGlobalDefs, h.NumGlobalDefs,
		h.OfsFieldDefs, h.NumFieldDefs,
		h.OfsFunctions, h.NumFunctions,
		h.OfsStrings, h.NumStrings,
		h.OfsGlobals, h.NumGlobals,
		h.EntityFields,
	}
	for i, v := range fields {
		le.PutUint32(out[i*4:], uint32(v))
	}

	p := out[h.OfsStatements:]
	for i, st := range b.statements {
		r := p[i*StatementSize:]
		le.PutUint16(r[0:], st.Op)
		le.PutUint16(r[2:], uint16(st.A))
		le.PutUint16(r[4:], uint16(st.B))
		le.PutUint16(r[6:], uint16(st.C))
	}
	putDefs(out[h.OfsGlobalDefs:], b.globalDefs)
	putDefs(out[h.OfsFieldDefs:], b.fieldDefs)

	p = out[h.OfsFunctions:]
	for i, f := range b.functions {
		r := p[i*FunctionSize:]
		le.PutUint32(r[0:], uint32(f.FirstStatement))
		le.PutUint32(r[4:], uint32(f.ParmStart))
		le.PutUint32(r[8:], uint32(f.Locals))
		le.PutUint32(r[12:], uint32(f.Profile))
		le.PutUint32(r[16:], uint32(f.Name))
		le.PutUint32(r[20:], uint32(f.File))
		le.PutUint32(r[24:], uint32(f.NumParms))
		copy(r[28:36], f.ParmSize[:])
	}
	copy(out[h.OfsStrings:], b.strings)

	p = out[h.OfsGlobals:]
	for i, g := range b.globals {
		le.PutUint32(p[i*4:], g)
	}
	return out
}

func putDefs(p []byte, defs []Def) {
	for i, d := range defs {
		r := p[i*DefSize:]
		binary.LittleEndian.PutUint16(r[0:], d.Type)
		binary.LittleEndian.PutUint16(r[2:], d.Ofs)
		binary.LittleEndian.PutUint32(r[4:], uint32(d.Name))
	}
}

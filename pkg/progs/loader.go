package progs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/internal/types"
)

// Load errors.
var (
	ErrTooSmall         = errors.New("progs image smaller than header")
	ErrTooLarge         = errors.New("progs image too large")
	ErrBadVersion       = errors.New("progs image has wrong version")
	ErrChecksumMismatch = errors.New("progs checksum mismatch")
	ErrOutOfRange       = errors.New("progs table out of range")
	ErrBadDef           = errors.New("invalid definition")
	ErrBadFunction      = errors.New("invalid function")
	ErrBadStatement     = errors.New("invalid statement")
	ErrBadString        = errors.New("string offset out of range")
)

// Maximum sizes.
const (
	MaxImageSize  = 64 * 1024 * 1024 // 64 MB
	MaxStatements = 1 << 22
	MaxDefs       = 1 << 20
	MaxFunctions  = 1 << 20
	MaxGlobals    = 1 << 16 // statement operands are 16 bits wide
	MaxFields     = 1 << 16
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Loader parses and validates program images.
type Loader struct {
	// CheckCRC enables comparison of the header checksum against CRC.
	CheckCRC bool
	CRC      int32

	// Fatal turns a checksum mismatch into a load error instead of a warning.
	Fatal bool

	// NumBuiltins is the size of the host builtin table. Functions naming a
	// builtin at or past it are reported in Image.MissingBuiltins. Negative
	// disables the check.
	NumBuiltins int

	// MaxSize bounds the raw image size.
	MaxSize int

	Logger zerolog.Logger
}

// NewLoader creates a loader with default limits.
func NewLoader() *Loader {
	return &Loader{
		NumBuiltins: -1,
		MaxSize:     MaxImageSize,
		Logger:      zerolog.Nop(),
	}
}

// Load parses data with a default loader.
func Load(data []byte) (*Image, error) {
	return NewLoader().Load(data)
}

// LoadFile reads an image from disk. Files ending in .zst or starting with
// the zstd frame magic are decompressed first.
func (l *Loader) LoadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read progs: %w", err)
	}
	if strings.HasSuffix(path, ".zst") || bytes.HasPrefix(data, zstdMagic) {
		data, err = decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
	}
	img, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// Load parses and validates a raw image.
func (l *Loader) Load(data []byte) (*Image, error) {
	maxSize := l.MaxSize
	if maxSize <= 0 {
		maxSize = MaxImageSize
	}
	if len(data) > maxSize {
		return nil, ErrTooLarge
	}
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}

	h := parseHeader(data)
	if h.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, h.Version, Version)
	}
	if l.CheckCRC && h.CRC != l.CRC {
		if l.Fatal {
			return nil, fmt.Errorf("%w: image has %d, host expects %d", ErrChecksumMismatch, h.CRC, l.CRC)
		}
		l.Logger.Warn().
			Int32("image_crc", h.CRC).
			Int32("host_crc", l.CRC).
			Msg("progs checksum mismatch, continuing")
	}

	if err := checkTables(h, len(data)); err != nil {
		return nil, err
	}

	img := &Image{
		Header:      h,
		Statements:  parseStatements(data, h),
		GlobalDefs:  parseDefs(data, h.OfsGlobalDefs, h.NumGlobalDefs),
		FieldDefs:   parseDefs(data, h.OfsFieldDefs, h.NumFieldDefs),
		Functions:   parseFunctions(data, h),
		Strings:     append([]byte(nil), data[h.OfsStrings:h.OfsStrings+h.NumStrings]...),
		Globals:     parseGlobals(data, h),
		FileCRC:     CRC16(data),
		Size:        len(data),
		Fingerprint: types.ComputeFingerprint(data),
	}

	if err := l.validate(img); err != nil {
		return nil, err
	}
	img.buildSymbols()

	l.Logger.Debug().
		Int("statements", len(img.Statements)).
		Int("functions", len(img.Functions)).
		Int("globals", len(img.Globals)).
		Int32("entity_fields", h.EntityFields).
		Uint16("file_crc", img.FileCRC).
		Str("fingerprint", img.Fingerprint.String()).
		Msg("progs loaded")
	return img, nil
}

func parseHeader(data []byte) Header {
	var f [15]int32
	for i := range f {
		f[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return Header{
		Version:       f[0],
		CRC:           f[1],
		OfsStatements: f[2],
		NumStatements: f[3],
		OfsGlobalDefs: f[4],
		NumGlobalDefs: f[5],
		OfsFieldDefs:  f[6],
		NumFieldDefs:  f[7],
		OfsFunctions:  f[8],
		NumFunctions:  f[9],
		OfsStrings:    f[10],
		NumStrings:    f[11],
		OfsGlobals:    f[12],
		NumGlobals:    f[13],
		EntityFields:  f[14],
	}
}

// checkTables verifies every table lies inside the file.
func checkTables(h Header, size int) error {
	tables := []struct {
		name     string
		ofs, num int32
		recSize  int
		limit    int
	}{
		{"statements", h.OfsStatements, h.NumStatements, StatementSize, MaxStatements},
		{"globaldefs", h.OfsGlobalDefs, h.NumGlobalDefs, DefSize, MaxDefs},
		{"fielddefs", h.OfsFieldDefs, h.NumFieldDefs, DefSize, MaxDefs},
		{"functions", h.OfsFunctions, h.NumFunctions, FunctionSize, MaxFunctions},
		{"strings", h.OfsStrings, h.NumStrings, 1, MaxImageSize},
		{"globals", h.OfsGlobals, h.NumGlobals, 4, MaxGlobals},
	}
	for _, t := range tables {
		if t.ofs < 0 || t.num < 0 || int(t.num) > t.limit {
			return fmt.Errorf("%w: %s ofs=%d num=%d", ErrOutOfRange, t.name, t.ofs, t.num)
		}
		end := int64(t.ofs) + int64(t.num)*int64(t.recSize)
		if end > int64(size) {
			return fmt.Errorf("%w: %s ends at %d, image is %d bytes", ErrOutOfRange, t.name, end, size)
		}
	}
	if h.NumGlobals < ReservedOfs {
		return fmt.Errorf("%w: %d globals, need at least %d", ErrOutOfRange, h.NumGlobals, ReservedOfs)
	}
	if h.EntityFields < 0 || h.EntityFields > MaxFields {
		return fmt.Errorf("%w: entityfields=%d", ErrOutOfRange, h.EntityFields)
	}
	if h.NumFunctions == 0 {
		return fmt.Errorf("%w: no functions", ErrBadFunction)
	}
	return nil
}

func parseStatements(data []byte, h Header) []Statement {
	out := make([]Statement, h.NumStatements)
	p := data[h.OfsStatements:]
	for i := range out {
		r := p[i*StatementSize:]
		out[i] = Statement{
			Op: binary.LittleEndian.Uint16(r[0:]),
			A:  int16(binary.LittleEndian.Uint16(r[2:])),
			B:  int16(binary.LittleEndian.Uint16(r[4:])),
			C:  int16(binary.LittleEndian.Uint16(r[6:])),
		}
	}
	return out
}

func parseDefs(data []byte, ofs, num int32) []Def {
	out := make([]Def, num)
	p := data[ofs:]
	for i := range out {
		r := p[i*DefSize:]
		out[i] = Def{
			Type: binary.LittleEndian.Uint16(r[0:]),
			Ofs:  binary.LittleEndian.Uint16(r[2:]),
			Name: int32(binary.LittleEndian.Uint32(r[4:])),
		}
	}
	return out
}

func parseFunctions(data []byte, h Header) []Function {
	out := make([]Function, h.NumFunctions)
	p := data[h.OfsFunctions:]
	for i := range out {
		r := p[i*FunctionSize:]
		f := Function{
			FirstStatement: int32(binary.LittleEndian.Uint32(r[0:])),
			ParmStart:      int32(binary.LittleEndian.Uint32(r[4:])),
			Locals:         int32(binary.LittleEndian.Uint32(r[8:])),
			Profile:        int32(binary.LittleEndian.Uint32(r[12:])),
			Name:           int32(binary.LittleEndian.Uint32(r[16:])),
			File:           int32(binary.LittleEndian.Uint32(r[20:])),
			NumParms:       int32(binary.LittleEndian.Uint32(r[24:])),
		}
		copy(f.ParmSize[:], r[28:36])
		out[i] = f
	}
	return out
}

func parseGlobals(data []byte, h Header) []uint32 {
	out := make([]uint32, h.NumGlobals)
	p := data[h.OfsGlobals:]
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(p[i*4:])
	}
	return out
}

// validate checks cross-table references.
func (l *Loader) validate(img *Image) error {
	numStrings := int32(len(img.Strings))
	checkName := func(what string, i int, ofs int32) error {
		if ofs < 0 || ofs >= numStrings {
			return fmt.Errorf("%w: %s %d name at %d, blob is %d bytes", ErrBadString, what, i, ofs, numStrings)
		}
		return nil
	}

	numGlobals := len(img.Globals)
	for i, d := range img.GlobalDefs {
		if err := checkName("global", i, d.Name); err != nil {
			return err
		}
		if int(d.Ofs)+d.Kind().Cells() > numGlobals {
			return fmt.Errorf("%w: global %q at %d past %d globals", ErrBadDef, img.String(d.Name), d.Ofs, numGlobals)
		}
	}
	entityFields := int(img.Header.EntityFields)
	for i, d := range img.FieldDefs {
		if err := checkName("field", i, d.Name); err != nil {
			return err
		}
		if d.Kind() == EvVoid {
			continue
		}
		if int(d.Ofs)+d.Kind().Cells() > entityFields {
			return fmt.Errorf("%w: field %q at %d past %d fields", ErrBadDef, img.String(d.Name), d.Ofs, entityFields)
		}
	}

	numStatements := int32(len(img.Statements))
	for i := range img.Functions {
		f := &img.Functions[i]
		if err := checkName("function", i, f.Name); err != nil {
			return err
		}
		if err := checkName("function file", i, f.File); err != nil {
			return err
		}
		if num, ok := f.Builtin(); ok {
			if l.NumBuiltins >= 0 && num >= l.NumBuiltins {
				img.MissingBuiltins = append(img.MissingBuiltins, num)
				l.Logger.Warn().
					Int("builtin", num).
					Str("function", img.String(f.Name)).
					Msg("progs references a builtin the host does not provide")
			}
			continue
		}
		if f.FirstStatement >= numStatements {
			return fmt.Errorf("%w: %q starts at statement %d of %d", ErrBadFunction, img.String(f.Name), f.FirstStatement, numStatements)
		}
		if f.NumParms > MaxParms {
			return fmt.Errorf("%w: %q has %d parameters", ErrBadFunction, img.String(f.Name), f.NumParms)
		}
		if f.ParmStart < 0 || f.Locals < 0 || int(f.ParmStart)+int(f.Locals) > numGlobals {
			return fmt.Errorf("%w: %q locals [%d,+%d) outside globals", ErrBadFunction, img.String(f.Name), f.ParmStart, f.Locals)
		}
		parmCells := 0
		for p := 0; p < int(f.NumParms); p++ {
			if f.ParmSize[p] > ParmCells {
				return fmt.Errorf("%w: %q parameter %d has size %d", ErrBadFunction, img.String(f.Name), p, f.ParmSize[p])
			}
			parmCells += int(f.ParmSize[p])
		}
		if parmCells > int(f.Locals) {
			return fmt.Errorf("%w: %q parameters overflow its locals", ErrBadFunction, img.String(f.Name))
		}
	}

	for i, st := range img.Statements {
		if err := checkStatement(i, st, numGlobals, len(img.Statements)); err != nil {
			return err
		}
	}
	return nil
}

func checkStatement(i int, st Statement, numGlobals, numStatements int) error {
	kinds, ok := operands(st.Op)
	if !ok {
		return fmt.Errorf("%w: %d has unknown opcode %d", ErrBadStatement, i, st.Op)
	}
	args := [3]int16{st.A, st.B, st.C}
	for n, kind := range kinds {
		switch kind {
		case argGlobal, argVector:
			width := 1
			if kind == argVector {
				width = types.VecCells
			}
			if int(uint16(args[n]))+width > numGlobals {
				return fmt.Errorf("%w: %d %s operand %d=%d outside %d globals",
					ErrBadStatement, i, OpName(st.Op), n, uint16(args[n]), numGlobals)
			}
		case argJump:
			target := i + int(args[n])
			if target < 0 || target >= numStatements {
				return fmt.Errorf("%w: %d %s jumps to %d of %d",
					ErrBadStatement, i, OpName(st.Op), target, numStatements)
			}
		}
	}
	return nil
}

package progs

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// buildAdd returns an image with a single function add(a, b) returning a+b.
func buildAdd(t *testing.T) []byte {
	t.Helper()
	b := NewBuilder()
	b.CRC = 5927
	b.SavedGlobal("score", EvFloat)
	b.Field("health", EvFloat)
	b.Field("origin", EvVector)

	_, parms := b.BeginFunction("add", 1, 1)
	sum := b.Local(EvFloat)
	b.Emit(OpAddF, parms[0], parms[1], sum)
	b.Emit(OpReturn, sum, 0, 0)
	b.EndFunction()
	return b.Bytes()
}

// TestLoad tests loading a well-formed image.
func TestLoad(t *testing.T) {
	data := buildAdd(t)
	img, err := Load(data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if img.Header.Version != Version {
		t.Errorf("Version = %d, want %d", img.Header.Version, Version)
	}
	if img.Size != len(data) {
		t.Errorf("Size = %d, want %d", img.Size, len(data))
	}
	if img.FileCRC != CRC16(data) {
		t.Errorf("FileCRC = %04x, want %04x", img.FileCRC, CRC16(data))
	}
	if img.Fingerprint.IsZero() {
		t.Error("Fingerprint is zero")
	}

	fnum, ok := img.FindFunction("add")
	if !ok {
		t.Fatal("FindFunction(add) not found")
	}
	f := img.Functions[fnum]
	if f.NumParms != 2 || f.ParmSize[0] != 1 || f.ParmSize[1] != 1 {
		t.Errorf("add parms = %d %v, want 2 [1 1]", f.NumParms, f.ParmSize[:2])
	}
	if f.Locals != 3 {
		t.Errorf("add locals = %d, want 3", f.Locals)
	}
	if img.FunctionName(fnum) != "add" {
		t.Errorf("FunctionName = %q, want add", img.FunctionName(fnum))
	}

	score, ok := img.FindGlobal("score")
	if !ok {
		t.Fatal("FindGlobal(score) not found")
	}
	if score.Kind() != EvFloat || !score.Saved() {
		t.Errorf("score = %v saved=%v, want float saved", score.Kind(), score.Saved())
	}
	if score.Ofs != ReservedOfs {
		t.Errorf("score ofs = %d, want %d", score.Ofs, ReservedOfs)
	}

	origin, ok := img.FindField("origin")
	if !ok {
		t.Fatal("FindField(origin) not found")
	}
	if origin.Ofs != 1 || origin.Kind() != EvVector {
		t.Errorf("origin = ofs %d %v, want ofs 1 vector", origin.Ofs, origin.Kind())
	}
	if img.Header.EntityFields != 4 {
		t.Errorf("EntityFields = %d, want 4", img.Header.EntityFields)
	}
	if _, ok := img.FindField("missing"); ok {
		t.Error("FindField(missing) found")
	}
}

// TestLoadHeaderErrors tests rejection of malformed headers.
func TestLoadHeaderErrors(t *testing.T) {
	good := buildAdd(t)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"empty", func(d []byte) []byte { return nil }, ErrTooSmall},
		{"truncated header", func(d []byte) []byte { return d[:HeaderSize-1] }, ErrTooSmall},
		{"version", func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[0:], 7)
			return d
		}, ErrBadVersion},
		{"statements past end", func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[12:], 1<<20)
			return d
		}, ErrOutOfRange},
		{"negative offset", func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[8:], 0xffffffff)
			return d
		}, ErrOutOfRange},
		{"truncated globals", func(d []byte) []byte { return d[:len(d)-4] }, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, err := Load(data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Load error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestLoadTooLarge tests the size limit.
func TestLoadTooLarge(t *testing.T) {
	l := NewLoader()
	l.MaxSize = 100
	if _, err := l.Load(make([]byte, 101)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Load error = %v, want %v", err, ErrTooLarge)
	}
}

// TestChecksum tests fatal and non-fatal checksum handling.
func TestChecksum(t *testing.T) {
	data := buildAdd(t)

	l := NewLoader()
	l.CheckCRC = true
	l.CRC = 5927
	if _, err := l.Load(data); err != nil {
		t.Errorf("matching CRC: Load failed: %v", err)
	}

	l.CRC = 1234
	if _, err := l.Load(data); err != nil {
		t.Errorf("non-fatal mismatch: Load failed: %v", err)
	}

	l.Fatal = true
	if _, err := l.Load(data); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("fatal mismatch: error = %v, want %v", err, ErrChecksumMismatch)
	}
}

// TestStringOffsetOutOfRange tests that definition names outside the
// string blob are rejected.
func TestStringOffsetOutOfRange(t *testing.T) {
	data := buildAdd(t)
	h := parseHeader(data)

	// second global def, name field
	pos := int(h.OfsGlobalDefs) + DefSize + 4
	binary.LittleEndian.PutUint32(data[pos:], uint32(h.NumStrings+10))

	_, err := Load(data)
	if !errors.Is(err, ErrBadString) {
		t.Errorf("Load error = %v, want %v", err, ErrBadString)
	}
}

// TestBadStatements tests operand and jump validation.
func TestBadStatements(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  error
	}{
		{"unknown opcode", func(b *Builder) {
			b.Emit(NumOpcodes, 0, 0, 0)
		}, ErrBadStatement},
		{"operand past globals", func(b *Builder) {
			b.Emit(OpAddF, 0, 0, 60000)
		}, ErrBadStatement},
		{"vector operand straddles end", func(b *Builder) {
			n := uint16(len(b.globals))
			b.Emit(OpStoreV, 0, n-2, 0)
		}, ErrBadStatement},
		{"jump past end", func(b *Builder) {
			b.Emit(OpGoto, 5, 0, 0)
		}, ErrBadStatement},
		{"jump before start", func(b *Builder) {
			b.Emit(OpIf, 0, uint16(0xff00), 0)
		}, ErrBadStatement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			b.BeginFunction("main")
			tt.build(b)
			b.EndFunction()
			_, err := Load(b.Bytes())
			if !errors.Is(err, tt.want) {
				t.Errorf("Load error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestReturnLastGlobal tests that a scalar return operand may sit in the
// last global cell.
func TestReturnLastGlobal(t *testing.T) {
	for _, op := range []uint16{OpReturn, OpDone} {
		b := NewBuilder()
		b.BeginFunction("main")
		last := b.Local(EvFloat)
		b.Emit(op, last, 0, 0)
		b.EndFunction()

		img, err := Load(b.Bytes())
		if err != nil {
			t.Fatalf("%s: Load failed: %v", OpName(op), err)
		}
		if want := uint16(len(img.Globals) - 1); last != want {
			t.Fatalf("%s: operand = %d, want last global %d", OpName(op), last, want)
		}
	}
}

// TestBadFunction tests function record validation.
func TestBadFunction(t *testing.T) {
	b := NewBuilder()
	fnum, _ := b.BeginFunction("main")
	b.EndFunction()
	b.functions[fnum].FirstStatement = 1000

	if _, err := Load(b.Bytes()); !errors.Is(err, ErrBadFunction) {
		t.Errorf("Load error = %v, want %v", err, ErrBadFunction)
	}

	b.functions[fnum].FirstStatement = 1
	b.functions[fnum].NumParms = 9
	if _, err := Load(b.Bytes()); !errors.Is(err, ErrBadFunction) {
		t.Errorf("Load error = %v, want %v", err, ErrBadFunction)
	}
}

// TestMissingBuiltins tests that builtins past the host table are reported
// without failing the load.
func TestMissingBuiltins(t *testing.T) {
	b := NewBuilder()
	b.Builtin("print", 1, 1)
	b.Builtin("future", 40)

	l := NewLoader()
	l.NumBuiltins = 10
	img, err := l.Load(b.Bytes())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img.MissingBuiltins) != 1 || img.MissingBuiltins[0] != 40 {
		t.Errorf("MissingBuiltins = %v, want [40]", img.MissingBuiltins)
	}

	fnum, _ := img.FindFunction("print")
	if num, ok := img.Functions[fnum].Builtin(); !ok || num != 1 {
		t.Errorf("Builtin() = %d, %v, want 1, true", num, ok)
	}
}

// TestLoadFileZstd tests loading a zstd-compressed image from disk.
func TestLoadFileZstd(t *testing.T) {
	data := buildAdd(t)
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	compressed := encoder.EncodeAll(data, nil)
	encoder.Close()

	dir := t.TempDir()
	for _, name := range []string{"progs.dat", "progs.dat.zst"} {
		path := filepath.Join(dir, name)
		body := data
		if filepath.Ext(name) == ".zst" {
			body = compressed
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		img, err := NewLoader().LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s) failed: %v", name, err)
		}
		if img.FileCRC != CRC16(data) {
			t.Errorf("%s: FileCRC = %04x, want %04x", name, img.FileCRC, CRC16(data))
		}
	}

	if _, err := NewLoader().LoadFile(filepath.Join(dir, "missing.dat")); err == nil {
		t.Error("LoadFile(missing) succeeded")
	}
}

// TestCRC16 tests the checksum against the CCITT check value.
func TestCRC16(t *testing.T) {
	if got := CRC16([]byte("123456789")); got != 0x29b1 {
		t.Errorf("CRC16 = %04x, want 29b1", got)
	}
	if got := CRC16(nil); got != 0xffff {
		t.Errorf("CRC16(nil) = %04x, want ffff", got)
	}
}

// TestOpName tests mnemonic lookup.
func TestOpName(t *testing.T) {
	tests := []struct {
		op   uint16
		want string
	}{
		{OpDone, "DONE"},
		{OpAddF, "ADD_F"},
		{OpStorePV, "STOREP_V"},
		{OpCall8, "CALL8"},
		{OpBitOr, "BITOR"},
		{200, "OP200"},
	}
	for _, tt := range tests {
		if got := OpName(tt.op); got != tt.want {
			t.Errorf("OpName(%d) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

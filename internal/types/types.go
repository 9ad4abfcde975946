// Package types defines the scalar value helpers and digests shared by the
// progs loader, the interpreter and the save store.
//
// A value slot is a 32-bit cell. Its bit pattern is read as a float, an
// integer, a string handle, an entity number or a function number depending
// on the declared type at the point of access; nothing is tagged in the cell.
package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants.
const (
	FingerprintSize = 32
	VecCells        = 3 // cells occupied by a vector
)

var (
	// ErrInvalidFingerprint is returned when a fingerprint has invalid length.
	ErrInvalidFingerprint = errors.New("invalid fingerprint: must be 32 bytes")
)

// Fingerprint is the BLAKE3 digest of a program image or save body.
type Fingerprint [FingerprintSize]byte

// ComputeFingerprint computes the BLAKE3 digest of data.
func ComputeFingerprint(data []byte) Fingerprint {
	return blake3.Sum256(data)
}

// FingerprintFromBase58 parses a base58-encoded fingerprint.
func FingerprintFromBase58(s string) (Fingerprint, error) {
	var f Fingerprint
	data, err := base58.Decode(s)
	if err != nil {
		return f, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != FingerprintSize {
		return f, ErrInvalidFingerprint
	}
	copy(f[:], data)
	return f, nil
}

// String returns the base58-encoded representation.
func (f Fingerprint) String() string {
	return base58.Encode(f[:])
}

// IsZero returns true if the fingerprint is all zeros.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := FingerprintFromBase58(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Vec3 is a three component vector stored in three consecutive cells.
type Vec3 [3]float32

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Scale returns v * s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float32 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

// Len returns the euclidean length of v.
func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

// IsZero reports whether every component is zero.
func (v Vec3) IsZero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}

// Float reads a cell as a float.
func Float(c uint32) float32 {
	return math.Float32frombits(c)
}

// FloatCell encodes a float into a cell.
func FloatCell(f float32) uint32 {
	return math.Float32bits(f)
}

// Int reads a cell as a signed integer.
func Int(c uint32) int32 {
	return int32(c)
}

// IntCell encodes a signed integer into a cell.
func IntCell(i int32) uint32 {
	return uint32(i)
}

// Truth reports whether a cell is non-zero. Negative zero counts as zero so
// that a float test and an integer test agree.
func Truth(c uint32) bool {
	return c&0x7fffffff != 0
}

// LoadVec reads three cells starting at ofs.
func LoadVec(cells []uint32, ofs int) Vec3 {
	return Vec3{Float(cells[ofs]), Float(cells[ofs+1]), Float(cells[ofs+2])}
}

// StoreVec writes v into three cells starting at ofs.
func StoreVec(cells []uint32, ofs int, v Vec3) {
	cells[ofs] = FloatCell(v[0])
	cells[ofs+1] = FloatCell(v[1])
	cells[ofs+2] = FloatCell(v[2])
}

// ParseFloat parses the longest numeric prefix of s, ignoring leading
// blanks. Anything unparseable reads as zero.
func ParseFloat(s string) float32 {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	seenDigit, seenDot, seenExp := false, false, false
scan:
	for end < len(s) {
		ch := s[end]
		switch {
		case ch >= '0' && ch <= '9':
			seenDigit = true
		case (ch == '-' || ch == '+') && (end == 0 || s[end-1] == 'e' || s[end-1] == 'E'):
		case ch == '.' && !seenDot && !seenExp:
			seenDot = true
		case (ch == 'e' || ch == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			break scan
		}
		end++
	}
	for end > 0 {
		if f, err := strconv.ParseFloat(s[:end], 32); err == nil {
			return float32(f)
		}
		end--
	}
	return 0
}

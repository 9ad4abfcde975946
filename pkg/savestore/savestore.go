// Package savestore persists save game bodies with their metadata.
//
// Bodies are the text written by the savegame package. They are stored
// zstd-compressed next to a CBOR-encoded Meta record carrying the BLAKE3
// digest of the uncompressed body, which is checked on every read. Two
// backends are provided: BoltStore keeps everything in one bbolt file and
// BadgerStore uses a badger directory, or memory for tests.
package savestore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/qcvm/internal/types"
)

var (
	// ErrNotFound is returned when a save doesn't exist.
	ErrNotFound = errors.New("save not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("save store closed")

	// ErrCorrupt is returned when a body does not match its recorded digest.
	ErrCorrupt = errors.New("save corrupt")

	// ErrInvalidName is returned for empty or oversized save names.
	ErrInvalidName = errors.New("invalid save name")
)

// MaxNameLen bounds save names.
const MaxNameLen = 64

// Backend names.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// Meta describes a stored save.
type Meta struct {
	Name     string            `cbor:"1,keyasint"`
	Map      string            `cbor:"2,keyasint,omitempty"`
	Comment  string            `cbor:"3,keyasint,omitempty"`
	Progs    types.Fingerprint `cbor:"4,keyasint"`
	Digest   types.Fingerprint `cbor:"5,keyasint"`
	Size     int               `cbor:"6,keyasint"`
	Entities int               `cbor:"7,keyasint"`
	SavedAt  int64             `cbor:"8,keyasint"`
}

// Time returns the save time.
func (m *Meta) Time() time.Time {
	return time.Unix(m.SavedAt, 0)
}

// Store is the save storage interface.
type Store interface {
	// Put stores body under name, replacing any previous save. The
	// name, digest, size and time fields of meta are filled in.
	Put(name string, body []byte, meta Meta) error
	// Get returns the body and metadata of a save.
	Get(name string) ([]byte, *Meta, error)
	// Meta returns the metadata of a save without reading its body.
	Meta(name string) (*Meta, error)
	// List returns the metadata of every save ordered by name.
	List() ([]Meta, error)
	// Delete removes a save.
	Delete(name string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "bolt" or "badger".
	Backend string

	// Path is the bbolt file or badger directory.
	Path string

	// InMemory runs the badger backend without touching disk.
	InMemory bool

	// NoSync disables fsync after each write.
	NoSync bool
}

// DefaultConfig returns a bbolt store at path.
func DefaultConfig(path string) Config {
	return Config{Backend: BackendBolt, Path: path}
}

// Open opens the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendBolt, "":
		return OpenBolt(cfg)
	case BackendBadger:
		return OpenBadger(cfg)
	default:
		return nil, fmt.Errorf("unknown save store backend %q", cfg.Backend)
	}
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("savestore: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

func checkName(name string) error {
	if name == "" || len(name) > MaxNameLen || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// seal compresses body and encodes its completed metadata.
func seal(name string, body []byte, meta Meta) (compressed, metaData []byte, err error) {
	if err := checkName(name); err != nil {
		return nil, nil, err
	}
	enc, _, err := codec()
	if err != nil {
		return nil, nil, fmt.Errorf("zstd: %w", err)
	}
	meta.Name = name
	meta.Digest = types.ComputeFingerprint(body)
	meta.Size = len(body)
	if meta.SavedAt == 0 {
		meta.SavedAt = time.Now().Unix()
	}
	metaData, err = cborEncMode.Marshal(&meta)
	if err != nil {
		return nil, nil, fmt.Errorf("encode meta: %w", err)
	}
	return enc.EncodeAll(body, nil), metaData, nil
}

func decodeMeta(data []byte) (*Meta, error) {
	var m Meta
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &m, nil
}

// unseal decompresses a body and checks it against meta.
func unseal(compressed []byte, meta *Meta) ([]byte, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	body, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, meta.Name, err)
	}
	if len(body) != meta.Size || types.ComputeFingerprint(body) != meta.Digest {
		return nil, fmt.Errorf("%w: %s: digest mismatch", ErrCorrupt, meta.Name)
	}
	return body, nil
}

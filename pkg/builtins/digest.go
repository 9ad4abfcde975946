package builtins

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/md4"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/qcvm/pkg/progs"
	"github.com/fortiblox/qcvm/pkg/qcvm"
)

var digests = map[string]func() hash.Hash{
	"MD4":      md4.New,
	"SHA256":   sha256.New,
	"SHA3-256": sha3.New256,
	"BLAKE3":   func() hash.Hash { return blake3.New() },
}

// Digest returns the lowercase hex digest of data using the named
// algorithm. Unknown algorithms report false.
func Digest(name string, data []byte) (string, bool) {
	name = strings.ToUpper(name)
	if name == "CRC16" {
		return fmt.Sprintf("%04x", progs.CRC16(data)), true
	}
	newHash, ok := digests[name]
	if !ok {
		return "", false
	}
	h := newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), true
}

func (r *Registry) registerDigest() {
	// digest_hex(string digest, ...) hashes the concatenated remaining
	// arguments. Unknown digests return the empty string.
	r.register(NumDigestHex, "digest_hex", func(vm *qcvm.VM) error {
		name, err := vm.ParmString(0)
		if err != nil {
			return err
		}
		data, err := varString(vm, 1)
		if err != nil {
			return err
		}
		sum, ok := Digest(name, []byte(data))
		if !ok {
			vm.SetReturnInt(0)
			return nil
		}
		return vm.SetReturnString(sum)
	})
}

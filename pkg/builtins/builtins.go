// Package builtins provides the standard host function table for progs.
//
// Builtins are addressed by number: a progs function record with a negative
// first statement names builtin -FirstStatement. The Registry maps those
// numbers to qcvm.Builtin implementations and produces the dense table the
// interpreter dispatches through.
package builtins

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/pkg/qcvm"
)

// Builtin numbers.
const (
	NumMakevectors    = 1
	NumRandom         = 7
	NumNormalize      = 9
	NumVlen           = 12
	NumVectoyaw       = 13
	NumSpawn          = 14
	NumRemove         = 15
	NumFind           = 18
	NumDprint         = 25
	NumFtos           = 26
	NumVtos           = 27
	NumCoredump       = 28
	NumTraceon        = 29
	NumTraceoff       = 30
	NumEprint         = 31
	NumRint           = 36
	NumFloor          = 37
	NumCeil           = 38
	NumFabs           = 43
	NumCvar           = 45
	NumNextent        = 47
	NumVectoangles    = 51
	NumCvarSet        = 72
	NumStof           = 81
	NumCheckextension = 99
	NumStrlen         = 114
	NumStrcat         = 115
	NumSubstring      = 116
	NumStov           = 117
	NumStrzone        = 118
	NumStrunzone      = 119
	NumDigestHex      = 639
)

// MaxBuiltins bounds the builtin table.
const MaxBuiltins = 1024

var (
	ErrMissingGlobal = errors.New("required global not defined")
	ErrBadArgument   = errors.New("bad builtin argument")
)

// Console receives text printed by progs.
type Console interface {
	// Print writes user-visible text.
	Print(msg string)
	// DPrint writes developer text.
	DPrint(msg string)
}

// Cvars exposes console variables to progs.
type Cvars interface {
	Value(name string) float32
	Set(name, value string)
}

type entry struct {
	name string
	fn   qcvm.Builtin
}

// Registry holds numbered builtins.
type Registry struct {
	entries map[int]entry
	console Console
	cvars   Cvars
	rng     *rand.Rand
}

// NewRegistry creates a registry holding every standard builtin. A nil
// console discards output; nil cvars read as zero.
func NewRegistry(console Console, cvars Cvars) *Registry {
	if console == nil {
		console = NewLogConsole(zerolog.Nop())
	}
	if cvars == nil {
		cvars = NewMapCvars()
	}
	seed := uint64(time.Now().UnixNano())
	r := &Registry{
		entries: make(map[int]entry),
		console: console,
		cvars:   cvars,
		rng:     rand.New(rand.NewPCG(seed, seed>>32)),
	}

	r.registerMath()
	r.registerEntities()
	r.registerStrings()
	r.registerDebug()
	r.registerDigest()

	return r
}

// Seed resets the random source used by random().
func (r *Registry) Seed(seed uint64) {
	r.rng = rand.New(rand.NewPCG(seed, seed>>32))
}

// Register installs fn as builtin num, replacing any previous entry.
func (r *Registry) Register(num int, name string, fn qcvm.Builtin) error {
	if num <= 0 || num >= MaxBuiltins {
		return fmt.Errorf("builtin number %d out of range", num)
	}
	r.entries[num] = entry{name: name, fn: fn}
	return nil
}

// register adds a standard builtin.
func (r *Registry) register(num int, name string, fn qcvm.Builtin) {
	if err := r.Register(num, name, fn); err != nil {
		panic(err)
	}
}

// Get returns builtin num.
func (r *Registry) Get(num int) (qcvm.Builtin, bool) {
	e, ok := r.entries[num]
	return e.fn, ok
}

// Name returns the name builtin num was registered under.
func (r *Registry) Name(num int) string {
	return r.entries[num].name
}

// Table returns the dense dispatch table. Unregistered numbers are nil.
func (r *Registry) Table() []qcvm.Builtin {
	size := 0
	for num := range r.entries {
		if num+1 > size {
			size = num + 1
		}
	}
	table := make([]qcvm.Builtin, size)
	for num, e := range r.entries {
		table[num] = e.fn
	}
	return table
}

// varString concatenates the string parameters from first to ArgC.
func varString(vm *qcvm.VM, first int) (string, error) {
	var sb strings.Builder
	for i := first; i < vm.ArgC(); i++ {
		s, err := vm.ParmString(i)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

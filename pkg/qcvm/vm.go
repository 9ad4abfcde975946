// Package qcvm implements the progs interpreter.
//
// A VM owns one loaded program image together with its global storage, its
// entity store and its string table. Nothing is shared between VMs, so a
// server and a client program can be loaded side by side; Switch marks the
// VM that collaborators without an explicit reference should use.
//
// All values live in 32-bit cells. Entity values are entity numbers and
// pointers produced by OP_ADDRESS are cell indices into the entity field
// arena, so no host address is ever taken from the image.
package qcvm

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/internal/types"
	"github.com/fortiblox/qcvm/pkg/edict"
	"github.com/fortiblox/qcvm/pkg/progs"
	"github.com/fortiblox/qcvm/pkg/strtab"
)

// Interpreter limits.
const (
	MaxStackDepth  = 1024
	LocalStackSize = 16384
)

// Builtin is a host function callable from progs. Arguments are read from
// the parameter globals and the result is written to the return global.
type Builtin func(vm *VM) error

// Config contains interpreter configuration.
type Config struct {
	// MaxStackDepth bounds the call depth.
	MaxStackDepth int

	// LocalStackSize bounds the number of saved local cells.
	LocalStackSize int

	// RunawayLimit is the statement budget of one invocation.
	RunawayLimit uint64

	// Trace logs every executed statement at trace level.
	Trace bool

	Edicts  edict.Config
	Strings strtab.Config
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxStackDepth:  MaxStackDepth,
		LocalStackSize: LocalStackSize,
		RunawayLimit:   DefaultRunawayLimit,
		Edicts:         edict.DefaultConfig(),
		Strings:        strtab.DefaultConfig(),
	}
}

// LoadOptions control how an image is accepted.
type LoadOptions struct {
	// Fatal makes a checksum mismatch fail the load.
	Fatal bool

	// CRC is the checksum the host was built against. Zero skips the check.
	CRC int32

	// Builtins is the host builtin table indexed by builtin number.
	Builtins []Builtin
}

// VM is one interpreter instance.
type VM struct {
	name string
	cfg  Config
	log  zerolog.Logger

	img      *progs.Image
	globals  []uint32
	strings  *strtab.Table
	edicts   *edict.Store
	builtins []Builtin
	sys      sysDefs

	stack      *Stack
	xfunction  int32
	xstatement int
	argc       int
	trace      bool
	worldLock  bool

	profile []FunctionProfile
}

// New creates an empty VM. The logger is tagged with the VM name.
func New(name string, cfg Config, logger zerolog.Logger) *VM {
	if cfg.MaxStackDepth <= 0 {
		cfg.MaxStackDepth = MaxStackDepth
	}
	if cfg.LocalStackSize <= 0 {
		cfg.LocalStackSize = LocalStackSize
	}
	if cfg.RunawayLimit == 0 {
		cfg.RunawayLimit = DefaultRunawayLimit
	}
	return &VM{
		name:  name,
		cfg:   cfg,
		log:   logger.With().Str("vm", name).Logger(),
		trace: cfg.Trace,
	}
}

// Name returns the VM name.
func (vm *VM) Name() string {
	return vm.name
}

// Logger returns the VM logger.
func (vm *VM) Logger() *zerolog.Logger {
	return &vm.log
}

// Loaded reports whether an image is loaded.
func (vm *VM) Loaded() bool {
	return vm.img != nil
}

// Image returns the loaded image.
func (vm *VM) Image() *progs.Image {
	return vm.img
}

// LoadFile loads an image from disk, replacing any loaded image. On error
// the VM is left unloaded.
func (vm *VM) LoadFile(path string, opts LoadOptions) error {
	vm.unload()
	img, err := vm.loader(opts).LoadFile(path)
	if err != nil {
		vm.log.Error().Err(err).Str("path", path).Msg("progs load failed")
		return err
	}
	vm.install(img, opts)
	return nil
}

// Load loads an image from memory, replacing any loaded image. On error the
// VM is left unloaded.
func (vm *VM) Load(data []byte, opts LoadOptions) error {
	vm.unload()
	img, err := vm.loader(opts).Load(data)
	if err != nil {
		vm.log.Error().Err(err).Msg("progs load failed")
		return err
	}
	vm.install(img, opts)
	return nil
}

func (vm *VM) loader(opts LoadOptions) *progs.Loader {
	l := progs.NewLoader()
	l.CheckCRC = opts.CRC != 0
	l.CRC = opts.CRC
	l.Fatal = opts.Fatal
	l.NumBuiltins = len(opts.Builtins)
	l.Logger = vm.log
	return l
}

func (vm *VM) install(img *progs.Image, opts LoadOptions) {
	vm.img = img
	// two spare cells let RETURN copy a vector's worth from the last global
	vm.globals = make([]uint32, len(img.Globals)+types.VecCells-1)
	copy(vm.globals, img.Globals)
	vm.strings = strtab.New(img.Strings, vm.cfg.Strings)
	vm.edicts = edict.New(int(img.Header.EntityFields), vm.cfg.Edicts)
	vm.builtins = opts.Builtins
	vm.stack = NewStack(vm.cfg.MaxStackDepth, vm.cfg.LocalStackSize)
	vm.profile = make([]FunctionProfile, len(img.Functions))
	vm.sys = resolveSysDefs(img)
	vm.xfunction = 0
	vm.xstatement = -1

	vm.log.Info().
		Int("functions", len(img.Functions)).
		Int("statements", len(img.Statements)).
		Int("globals", len(img.Globals)).
		Int32("entity_fields", img.Header.EntityFields).
		Int("builtins", len(opts.Builtins)).
		Str("crc16", fmt.Sprintf("%04x", img.FileCRC)).
		Msg("progs loaded")
}

func (vm *VM) unload() {
	vm.img = nil
	vm.globals = nil
	vm.strings = nil
	vm.edicts = nil
	vm.builtins = nil
	vm.stack = nil
	vm.profile = nil
	vm.sys = sysDefs{}
}

// Shutdown unloads the image and clears the active VM if it is this one.
func (vm *VM) Shutdown() {
	vm.unload()
	active.CompareAndSwap(vm, nil)
}

// active is the process-wide current VM. It is set by Switch and cleared
// by Shutdown of the active VM.
var active atomic.Pointer[VM]

// Switch makes vm the active VM and returns the previous one.
func Switch(vm *VM) *VM {
	return active.Swap(vm)
}

// Active returns the active VM, or nil.
func Active() *VM {
	return active.Load()
}

// SetTrace enables or disables statement tracing.
func (vm *VM) SetTrace(on bool) {
	vm.trace = on
}

// Tracing reports whether statement tracing is enabled.
func (vm *VM) Tracing() bool {
	return vm.trace
}

// SetWorldLocked controls whether progs may take the address of world
// fields. Hosts lock the world once a level is running.
func (vm *VM) SetWorldLocked(locked bool) {
	vm.worldLock = locked
}

// ArgC returns the argument count of the current builtin call.
func (vm *VM) ArgC() int {
	return vm.argc
}

// Depth returns the current call depth.
func (vm *VM) Depth() int {
	if vm.stack == nil {
		return 0
	}
	return vm.stack.Depth()
}

// Edicts returns the entity store.
func (vm *VM) Edicts() *edict.Store {
	return vm.edicts
}

// Strings returns the string table.
func (vm *VM) Strings() *strtab.Table {
	return vm.strings
}

// Globals returns the global cells.
func (vm *VM) Globals() []uint32 {
	if vm.img == nil {
		return nil
	}
	return vm.globals[:len(vm.img.Globals):len(vm.img.Globals)]
}

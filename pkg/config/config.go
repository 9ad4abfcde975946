// Package config handles qcvm.toml host configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/pkg/edict"
	"github.com/fortiblox/qcvm/pkg/qcvm"
	"github.com/fortiblox/qcvm/pkg/savestore"
	"github.com/fortiblox/qcvm/pkg/strtab"
)

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Config represents a qcvm.toml file.
type Config struct {
	VM      VM                `toml:"vm"`
	Edicts  Edicts            `toml:"edicts"`
	Strings Strings           `toml:"strings"`
	Log     Log               `toml:"log"`
	Store   Store             `toml:"store"`
	Cvars   map[string]string `toml:"cvars"`
}

// VM configures the interpreter.
type VM struct {
	MaxStackDepth  int    `toml:"max_stack_depth"`
	LocalStackSize int    `toml:"local_stack_size"`
	RunawayLimit   uint64 `toml:"runaway_limit"`
	Trace          bool   `toml:"trace"`
}

// Edicts configures the entity store.
type Edicts struct {
	MaxEdicts      int     `toml:"max_edicts"`
	MinEdicts      int     `toml:"min_edicts"`
	ReservedEdicts int     `toml:"reserved_edicts"`
	Quarantine     float32 `toml:"quarantine"`
	StartupGrace   float32 `toml:"startup_grace"`
}

// Strings configures the string table.
type Strings struct {
	MaxKnownStrings int `toml:"max_known_strings"`
	TempBuffers     int `toml:"temp_buffers"`
	TempLength      int `toml:"temp_length"`
}

// Log configures logging.
type Log struct {
	// Level is a zerolog level name: trace, debug, info, warn or error.
	Level string `toml:"level"`
	// Console selects human-readable output instead of JSON lines.
	Console bool `toml:"console"`
}

// Store configures the save store.
type Store struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	NoSync  bool   `toml:"no_sync"`
}

// Default returns the built-in configuration.
func Default() *Config {
	vm := qcvm.DefaultConfig()
	return &Config{
		VM: VM{
			MaxStackDepth:  vm.MaxStackDepth,
			LocalStackSize: vm.LocalStackSize,
			RunawayLimit:   vm.RunawayLimit,
			Trace:          vm.Trace,
		},
		Edicts: Edicts{
			MaxEdicts:      vm.Edicts.MaxEdicts,
			MinEdicts:      vm.Edicts.MinEdicts,
			ReservedEdicts: vm.Edicts.ReservedEdicts,
			Quarantine:     vm.Edicts.Quarantine,
			StartupGrace:   vm.Edicts.StartupGrace,
		},
		Strings: Strings{
			MaxKnownStrings: vm.Strings.MaxKnownStrings,
			TempBuffers:     vm.Strings.TempBuffers,
			TempLength:      vm.Strings.TempLength,
		},
		Log: Log{
			Level:   "info",
			Console: true,
		},
		Store: Store{
			Backend: savestore.BackendBolt,
			Path:    "saves/saves.db",
		},
		Cvars: map[string]string{},
	}
}

// Load reads path over the defaults. Keys the file sets replace the
// default; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(string(data), path)
}

// Parse decodes TOML text over the defaults. name is used in errors.
func Parse(data, name string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, name, strings.Join(keys, ", "))
	}
	if cfg.Cvars == nil {
		cfg.Cvars = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.VM.MaxStackDepth <= 0:
		return fmt.Errorf("%w: vm.max_stack_depth must be positive", ErrInvalid)
	case c.VM.LocalStackSize <= 0:
		return fmt.Errorf("%w: vm.local_stack_size must be positive", ErrInvalid)
	case c.Edicts.ReservedEdicts < 1:
		return fmt.Errorf("%w: edicts.reserved_edicts must be at least 1", ErrInvalid)
	case c.Edicts.MaxEdicts < c.Edicts.ReservedEdicts:
		return fmt.Errorf("%w: edicts.max_edicts below reserved_edicts", ErrInvalid)
	case c.Edicts.MinEdicts < 0 || c.Edicts.MinEdicts > c.Edicts.MaxEdicts:
		return fmt.Errorf("%w: edicts.min_edicts out of range", ErrInvalid)
	case c.Strings.MaxKnownStrings <= 0 || c.Strings.MaxKnownStrings > strtab.MaxSlots:
		return fmt.Errorf("%w: strings.max_known_strings out of range", ErrInvalid)
	case c.Strings.TempBuffers <= 0 || c.Strings.TempLength <= 1:
		return fmt.Errorf("%w: strings temp ring must be non-empty", ErrInvalid)
	case c.Store.Backend != savestore.BackendBolt && c.Store.Backend != savestore.BackendBadger:
		return fmt.Errorf("%w: store.backend %q", ErrInvalid, c.Store.Backend)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return nil
}

// QCVM returns the interpreter configuration.
func (c *Config) QCVM() qcvm.Config {
	return qcvm.Config{
		MaxStackDepth:  c.VM.MaxStackDepth,
		LocalStackSize: c.VM.LocalStackSize,
		RunawayLimit:   c.VM.RunawayLimit,
		Trace:          c.VM.Trace,
		Edicts: edict.Config{
			MaxEdicts:      c.Edicts.MaxEdicts,
			MinEdicts:      c.Edicts.MinEdicts,
			ReservedEdicts: c.Edicts.ReservedEdicts,
			Quarantine:     c.Edicts.Quarantine,
			StartupGrace:   c.Edicts.StartupGrace,
		},
		Strings: strtab.Config{
			MaxKnownStrings: c.Strings.MaxKnownStrings,
			TempBuffers:     c.Strings.TempBuffers,
			TempLength:      c.Strings.TempLength,
		},
	}
}

// SaveStore returns the save store configuration.
func (c *Config) SaveStore() savestore.Config {
	return savestore.Config{
		Backend: c.Store.Backend,
		Path:    c.Store.Path,
		NoSync:  c.Store.NoSync,
	}
}

// Logger builds the root logger writing to w.
func (c *Config) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if c.Log.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

package builtins

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/internal/types"
)

// LogConsole writes progs output to a zerolog logger.
type LogConsole struct {
	log zerolog.Logger
}

// NewLogConsole creates a console that logs prints at Info level and
// developer prints at Debug level.
func NewLogConsole(logger zerolog.Logger) *LogConsole {
	return &LogConsole{log: logger.With().Str("component", "console").Logger()}
}

// Print implements Console.
func (c *LogConsole) Print(msg string) {
	c.log.Info().Msg(strings.TrimRight(msg, "\n"))
}

// DPrint implements Console.
func (c *LogConsole) DPrint(msg string) {
	c.log.Debug().Msg(strings.TrimRight(msg, "\n"))
}

// MapCvars is an in-memory cvar set.
type MapCvars struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewMapCvars creates an empty cvar set.
func NewMapCvars() *MapCvars {
	return &MapCvars{vars: make(map[string]string)}
}

// Value implements Cvars. Unknown or non-numeric cvars read as zero.
func (c *MapCvars) Value(name string) float32 {
	c.mu.RLock()
	s := c.vars[name]
	c.mu.RUnlock()
	return types.ParseFloat(s)
}

// String returns the raw value of a cvar.
func (c *MapCvars) String(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vars[name]
}

// Set implements Cvars.
func (c *MapCvars) Set(name, value string) {
	c.mu.Lock()
	c.vars[name] = value
	c.mu.Unlock()
}

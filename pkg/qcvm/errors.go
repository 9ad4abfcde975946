package qcvm

import (
	"errors"
	"fmt"
	"strings"
)

// Run errors. Every fatal condition inside an invocation is reported as a
// *RunError wrapping one of these.
var (
	ErrNotLoaded          = errors.New("no progs loaded")
	ErrStackOverflow      = errors.New("stack overflow")
	ErrLocalStackOverflow = errors.New("locals stack overflow")
	ErrBadJump            = errors.New("statement out of range")
	ErrBadBuiltin         = errors.New("bad builtin call number")
	ErrBadOpcode          = errors.New("bad opcode")
	ErrBadFunction        = errors.New("bad function index")
	ErrBadEntity          = errors.New("bad entity number")
	ErrBadField           = errors.New("bad field offset")
	ErrBadPointer         = errors.New("bad pointer")
	ErrWorldAssignment    = errors.New("assignment to world entity")
	ErrRunaway            = errors.New("runaway loop error")
	ErrNoSelf             = errors.New("self is not defined")
	ErrInternal           = errors.New("internal interpreter error")
)

// TraceFrame is one entry of a run error stack trace.
type TraceFrame struct {
	Function  string
	File      string
	Statement int
}

// String formats the frame like "file : function statement N".
func (f TraceFrame) String() string {
	return fmt.Sprintf("%12s : %s statement %d", f.File, f.Function, f.Statement)
}

// RunError is a fatal error raised while executing progs. The interpreter
// has already unwound to the invocation boundary when it is returned.
type RunError struct {
	// Function and File name the function executing when the error was
	// raised, recovered from the image's debug strings.
	Function string
	File     string

	// Statement is the index of the offending statement, or -1.
	Statement int

	// Op is the mnemonic of the offending statement.
	Op string

	// Trace lists the active frames, innermost first.
	Trace []TraceFrame

	Err error
}

// Error implements error.
func (e *RunError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("progs: %v", e.Err)
	}
	return fmt.Sprintf("progs: %s (%s) statement %d %s: %v", e.Function, e.File, e.Statement, e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// StackTrace returns the trace as a multi-line string.
func (e *RunError) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Trace {
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}

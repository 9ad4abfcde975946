package qcvm

import "fmt"

// Frame is a saved caller context.
type Frame struct {
	Statement int   // statement to resume after the call
	Function  int32 // caller function
	LocalBase int   // local stack height before the callee's locals were saved
}

// Stack holds the call frames and the saved locals of one VM. Entering a
// function copies the callee's local globals onto the local stack so that
// recursion does not clobber them; leaving restores them.
type Stack struct {
	frames []Frame
	locals []uint32
	used   int
	depth  int
}

// NewStack creates a stack with room for maxDepth frames and localSize
// saved cells.
func NewStack(maxDepth, localSize int) *Stack {
	return &Stack{
		frames: make([]Frame, 0, maxDepth),
		locals: make([]uint32, localSize),
		depth:  maxDepth,
	}
}

// Push saves the caller frame and the n globals starting at base. Nothing
// is modified when it fails.
func (s *Stack) Push(f Frame, globals []uint32, base, n int) error {
	if len(s.frames) >= s.depth {
		return fmt.Errorf("%w: depth %d", ErrStackOverflow, len(s.frames))
	}
	if s.used+n > len(s.locals) {
		return fmt.Errorf("%w: %d + %d cells of %d", ErrLocalStackOverflow, s.used, n, len(s.locals))
	}
	f.LocalBase = s.used
	s.frames = append(s.frames, f)
	copy(s.locals[s.used:s.used+n], globals[base:base+n])
	s.used += n
	return nil
}

// Pop restores the n globals starting at base and returns the caller frame.
func (s *Stack) Pop(globals []uint32, base, n int) (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	copy(globals[base:base+n], s.locals[f.LocalBase:f.LocalBase+n])
	s.used = f.LocalBase
	return f, true
}

// Depth returns the current call depth.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// LocalsUsed returns the number of saved local cells.
func (s *Stack) LocalsUsed() int {
	return s.used
}

// Frames returns the active frames, outermost first.
func (s *Stack) Frames() []Frame {
	return s.frames
}

// Reset drops every frame.
func (s *Stack) Reset() {
	s.frames = s.frames[:0]
	s.used = 0
}

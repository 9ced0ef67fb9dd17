package vm

import (
	"fmt"

	"github.com/zeusync/qcserver/internal/core/progs"
)

type frame struct {
	// pc is the statement to resume at in the caller.
	pc int
	fn *progs.Function
	id progs.FunctionID
}

// ExecutionContext is the bounded call stack of script invocations plus the
// save area for locals the callees overwrite.
type ExecutionContext struct {
	frames    []frame
	locals    []uint32
	maxDepth  int
	maxLocals int
	current   *progs.Function
	currentID progs.FunctionID
}

func newExecutionContext(maxDepth, maxLocals int) *ExecutionContext {
	return &ExecutionContext{
		frames:    make([]frame, 0, maxDepth),
		locals:    make([]uint32, 0, maxLocals),
		maxDepth:  maxDepth,
		maxLocals: maxLocals,
	}
}

// Depth is the number of active frames.
func (c *ExecutionContext) Depth() int { return len(c.frames) }

// Function returns the function currently executing, if any.
func (c *ExecutionContext) Function() (progs.FunctionID, bool) {
	return c.currentID, c.current != nil
}

// enter pushes a frame for fn, saves the globals its locals occupy and
// copies the arguments in. It returns the callee's first statement.
func (c *ExecutionContext) enter(globals []uint32, id progs.FunctionID, fn *progs.Function, retPC int) (int, error) {
	if len(c.frames) >= c.maxDepth {
		return 0, fmt.Errorf("%w: depth %d", ErrStackOverflow, len(c.frames))
	}
	n := int(fn.Locals)
	if len(c.locals)+n > c.maxLocals {
		return 0, fmt.Errorf("%w: %d words", ErrLocalStackOverflow, len(c.locals)+n)
	}

	c.frames = append(c.frames, frame{pc: retPC, fn: c.current, id: c.currentID})
	start := int(fn.ParmStart)
	c.locals = append(c.locals, globals[start:start+n]...)

	o := start
	for i := 0; i < int(fn.NumParms); i++ {
		src := int(progs.ParmOffset(i))
		for j := 0; j < int(fn.ParmSize[i]); j++ {
			globals[o] = globals[src+j]
			o++
		}
	}

	c.current, c.currentID = fn, id
	return int(fn.FirstStatement), nil
}

// leave restores the current function's locals and pops its frame,
// returning the caller's resume statement.
func (c *ExecutionContext) leave(globals []uint32) int {
	fn := c.current
	n := int(fn.Locals)
	base := len(c.locals) - n
	copy(globals[int(fn.ParmStart):int(fn.ParmStart)+n], c.locals[base:])
	c.locals = c.locals[:base]

	top := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	c.current, c.currentID = top.fn, top.id
	return top.pc
}

// unwind pops frames down to depth, restoring locals on the way.
func (c *ExecutionContext) unwind(globals []uint32, depth int) {
	for len(c.frames) > depth {
		c.leave(globals)
	}
}

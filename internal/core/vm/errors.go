package vm

import (
	"errors"
	"fmt"

	"github.com/zeusync/qcserver/internal/core/entity"
)

var (
	ErrStackOverflow      = errors.New("call stack overflow")
	ErrLocalStackOverflow = errors.New("local stack overflow")
	ErrRunaway            = errors.New("runaway loop")
	ErrNullFunction       = errors.New("null function")
	ErrBadFunction        = errors.New("bad function id")
	ErrBadOpcode          = errors.New("bad opcode")
	ErrBadBuiltin         = errors.New("bad builtin number")
	ErrWorldWrite         = errors.New("assignment to world entity")
	ErrScriptError        = errors.New("script error")
	ErrProgramCounter     = errors.New("program counter out of range")
	ErrBadString          = errors.New("bad string id")
)

// Kind classifies why a call chain was aborted.
type Kind uint8

const (
	KindAddress Kind = iota
	KindType
	KindEntity
	KindControl
	KindRunaway
	KindScript
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindType:
		return "type"
	case KindEntity:
		return "entity"
	case KindControl:
		return "control"
	case KindRunaway:
		return "runaway"
	case KindScript:
		return "script"
	case KindBuiltin:
		return "builtin"
	default:
		return "unknown"
	}
}

// ExecError aborts one Execute call chain. The tick driver logs it and
// moves on to the next entity.
type ExecError struct {
	Kind      Kind
	Function  string
	Statement int
	Cause     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s error in %s at statement %d: %v", e.Kind, e.Function, e.Statement, e.Cause)
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, entity.ErrTypeMismatch):
		return KindType
	case errors.Is(err, entity.ErrAddress), errors.Is(err, entity.ErrBadPointer):
		return KindAddress
	case errors.Is(err, entity.ErrBadEntity), errors.Is(err, entity.ErrStaleEntity),
		errors.Is(err, entity.ErrNoFreeEntity), errors.Is(err, ErrWorldWrite):
		return KindEntity
	case errors.Is(err, ErrRunaway):
		return KindRunaway
	case errors.Is(err, ErrScriptError):
		return KindScript
	case errors.Is(err, ErrStackOverflow), errors.Is(err, ErrLocalStackOverflow),
		errors.Is(err, ErrNullFunction), errors.Is(err, ErrBadFunction),
		errors.Is(err, ErrBadOpcode), errors.Is(err, ErrBadBuiltin),
		errors.Is(err, ErrProgramCounter):
		return KindControl
	default:
		return KindBuiltin
	}
}

package entity

import (
	"errors"
	"fmt"

	"github.com/zeusync/qcserver/internal/core/progs"
)

var (
	ErrAddress      = errors.New("address out of range")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrBadEntity    = errors.New("bad entity id")
	ErrStaleEntity  = errors.New("stale entity id")
	ErrNoFreeEntity = errors.New("no free entity slots")
	ErrFreeWorld    = errors.New("cannot free the world entity")
	ErrBadPointer   = errors.New("bad field pointer")
)

// Space names the memory an access targeted.
type Space uint8

const (
	SpaceEntity Space = iota
	SpaceGlobal
)

func (s Space) String() string {
	if s == SpaceGlobal {
		return "global"
	}
	return "entity"
}

// FieldError describes a rejected typed access.
type FieldError struct {
	Space  Space
	Offset int
	Want   progs.Type
	// Have is the declared type at Offset; meaningful for type mismatches.
	Have progs.Type
	Name string
	Err  error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrTypeMismatch) {
		return fmt.Sprintf("%s %s@%d: %v: declared %s, accessed as %s",
			e.Space, e.Name, e.Offset, e.Err, e.Have, e.Want)
	}
	return fmt.Sprintf("%s offset %d (%s): %v", e.Space, e.Offset, e.Want, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

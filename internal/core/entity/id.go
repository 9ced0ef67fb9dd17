package entity

import "fmt"

// ID names an entity slot. The low 16 bits hold the slot index and the
// high 16 bits the slot generation, bumped every time the slot is reused.
type ID uint32

// World is slot 0. Scripts use it as the null entity.
const World ID = 0

func NewID(index int, generation uint16) ID {
	return ID(uint32(generation)<<16 | uint32(index&0xffff))
}

func (id ID) Index() int         { return int(id & 0xffff) }
func (id ID) Generation() uint16 { return uint16(id >> 16) }
func (id ID) IsWorld() bool      { return id == World }
func (id ID) String() string     { return fmt.Sprintf("#%d.%d", id.Index(), id.Generation()) }

// Pointer is the handle ADDRESS produces: a field on a specific entity.
// Layout: generation low 8 bits, slot index 12 bits, field offset 12 bits.
type Pointer uint32

const (
	pointerFieldBits = 12
	pointerIndexBits = 12
	pointerMask      = 1<<12 - 1
)

func NewPointer(id ID, field int) (Pointer, error) {
	if id.Index() > pointerMask || field < 0 || field > pointerMask {
		return 0, fmt.Errorf("%w: entity %s field %d", ErrBadPointer, id, field)
	}
	gen := uint32(id.Generation() & 0xff)
	return Pointer(gen<<(pointerFieldBits+pointerIndexBits) |
		uint32(id.Index())<<pointerFieldBits |
		uint32(field)), nil
}

func (p Pointer) Index() int { return int(p>>pointerFieldBits) & pointerMask }
func (p Pointer) Field() int { return int(p) & pointerMask }

func (p Pointer) generation() uint8 {
	return uint8(p >> (pointerFieldBits + pointerIndexBits))
}

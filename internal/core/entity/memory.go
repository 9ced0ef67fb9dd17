package entity

import (
	"math"

	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/strtab"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// memory is a flat array of 4-byte slots whose accesses are checked
// against the definitions registered at each offset.
type memory struct {
	slots []uint32
	defs  *progs.DefTable
	space Space
}

func (m *memory) check(ofs int, want progs.Type) error {
	if ofs < 0 || ofs+want.Size() > len(m.slots) {
		return &FieldError{Space: m.space, Offset: ofs, Want: want, Err: ErrAddress}
	}
	if d, ok := m.defs.Lookup(uint16(ofs)); ok && !d.Type.Compatible(want) {
		return &FieldError{
			Space:  m.space,
			Offset: ofs,
			Want:   want,
			Have:   d.Type,
			Name:   m.defs.Name(d),
			Err:    ErrTypeMismatch,
		}
	}
	return nil
}

// Len is the address space size in slots.
func (m *memory) Len() int {
	return len(m.slots)
}

// Raw reads one slot without a type check.
func (m *memory) Raw(ofs int) (uint32, error) {
	if ofs < 0 || ofs >= len(m.slots) {
		return 0, &FieldError{Space: m.space, Offset: ofs, Want: progs.TypeVoid, Err: ErrAddress}
	}
	return m.slots[ofs], nil
}

func (m *memory) SetRaw(ofs int, v uint32) error {
	if ofs < 0 || ofs >= len(m.slots) {
		return &FieldError{Space: m.space, Offset: ofs, Want: progs.TypeVoid, Err: ErrAddress}
	}
	m.slots[ofs] = v
	return nil
}

// RawVector copies three slots without a type check.
func (m *memory) RawVector(ofs int) ([3]uint32, error) {
	if ofs < 0 || ofs+3 > len(m.slots) {
		return [3]uint32{}, &FieldError{Space: m.space, Offset: ofs, Want: progs.TypeVector, Err: ErrAddress}
	}
	return [3]uint32{m.slots[ofs], m.slots[ofs+1], m.slots[ofs+2]}, nil
}

func (m *memory) SetRawVector(ofs int, v [3]uint32) error {
	if ofs < 0 || ofs+3 > len(m.slots) {
		return &FieldError{Space: m.space, Offset: ofs, Want: progs.TypeVector, Err: ErrAddress}
	}
	copy(m.slots[ofs:ofs+3], v[:])
	return nil
}

// Move copies n slots from src to dst. When both offsets carry
// definitions their types must agree; untyped slots such as call
// arguments accept any value.
func (m *memory) Move(dst, src, n int) error {
	if src < 0 || src+n > len(m.slots) {
		return &FieldError{Space: m.space, Offset: src, Want: progs.TypeVoid, Err: ErrAddress}
	}
	if dst < 0 || dst+n > len(m.slots) {
		return &FieldError{Space: m.space, Offset: dst, Want: progs.TypeVoid, Err: ErrAddress}
	}
	sd, sok := m.defs.Lookup(uint16(src))
	dd, dok := m.defs.Lookup(uint16(dst))
	if sok && dok && !dd.Type.Compatible(sd.Type) {
		return &FieldError{
			Space:  m.space,
			Offset: dst,
			Want:   sd.Type,
			Have:   dd.Type,
			Name:   m.defs.Name(dd),
			Err:    ErrTypeMismatch,
		}
	}
	copy(m.slots[dst:dst+n], m.slots[src:src+n])
	return nil
}

func (m *memory) Float(ofs int) (float32, error) {
	if err := m.check(ofs, progs.TypeFloat); err != nil {
		return 0, err
	}
	return math.Float32frombits(m.slots[ofs]), nil
}

func (m *memory) SetFloat(ofs int, v float32) error {
	if err := m.check(ofs, progs.TypeFloat); err != nil {
		return err
	}
	m.slots[ofs] = math.Float32bits(v)
	return nil
}

func (m *memory) Vector(ofs int) (vmath.Vec3, error) {
	if err := m.check(ofs, progs.TypeVector); err != nil {
		return vmath.Vec3{}, err
	}
	return m.vec(ofs), nil
}

func (m *memory) SetVector(ofs int, v vmath.Vec3) error {
	if err := m.check(ofs, progs.TypeVector); err != nil {
		return err
	}
	m.setVec(ofs, v)
	return nil
}

func (m *memory) Str(ofs int) (strtab.ID, error) {
	if err := m.check(ofs, progs.TypeString); err != nil {
		return 0, err
	}
	return strtab.ID(m.slots[ofs]), nil
}

func (m *memory) SetStr(ofs int, v strtab.ID) error {
	if err := m.check(ofs, progs.TypeString); err != nil {
		return err
	}
	m.slots[ofs] = uint32(v)
	return nil
}

func (m *memory) Ent(ofs int) (ID, error) {
	if err := m.check(ofs, progs.TypeEntity); err != nil {
		return 0, err
	}
	return ID(m.slots[ofs]), nil
}

func (m *memory) SetEnt(ofs int, v ID) error {
	if err := m.check(ofs, progs.TypeEntity); err != nil {
		return err
	}
	m.slots[ofs] = uint32(v)
	return nil
}

func (m *memory) Func(ofs int) (progs.FunctionID, error) {
	if err := m.check(ofs, progs.TypeFunction); err != nil {
		return 0, err
	}
	return progs.FunctionID(m.slots[ofs]), nil
}

func (m *memory) SetFunc(ofs int, v progs.FunctionID) error {
	if err := m.check(ofs, progs.TypeFunction); err != nil {
		return err
	}
	m.slots[ofs] = uint32(v)
	return nil
}

// Fld reads a field reference, the entity field offset a global holds.
func (m *memory) Fld(ofs int) (int, error) {
	if err := m.check(ofs, progs.TypeField); err != nil {
		return 0, err
	}
	return int(m.slots[ofs]), nil
}

func (m *memory) SetFld(ofs int, v int) error {
	if err := m.check(ofs, progs.TypeField); err != nil {
		return err
	}
	m.slots[ofs] = uint32(v)
	return nil
}

// Ptr reads a field pointer produced by ADDRESS.
func (m *memory) Ptr(ofs int) (Pointer, error) {
	if err := m.check(ofs, progs.TypePointer); err != nil {
		return 0, err
	}
	return Pointer(m.slots[ofs]), nil
}

func (m *memory) SetPtr(ofs int, v Pointer) error {
	if err := m.check(ofs, progs.TypePointer); err != nil {
		return err
	}
	m.slots[ofs] = uint32(v)
	return nil
}

// Unchecked helpers for host code using reserved offsets, whose layout the
// program validated at load.

func (m *memory) f(ofs int) float32 {
	return math.Float32frombits(m.slots[ofs])
}

func (m *memory) setF(ofs int, v float32) {
	m.slots[ofs] = math.Float32bits(v)
}

func (m *memory) vec(ofs int) vmath.Vec3 {
	return vmath.Vec3{
		math.Float32frombits(m.slots[ofs]),
		math.Float32frombits(m.slots[ofs+1]),
		math.Float32frombits(m.slots[ofs+2]),
	}
}

func (m *memory) setVec(ofs int, v vmath.Vec3) {
	m.slots[ofs] = math.Float32bits(v[0])
	m.slots[ofs+1] = math.Float32bits(v[1])
	m.slots[ofs+2] = math.Float32bits(v[2])
}

func (m *memory) clear() {
	clear(m.slots)
}

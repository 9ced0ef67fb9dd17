// Package progs models a compiled script program: statements, functions,
// global and entity field definitions and the initial string arena.
package progs

import (
	"errors"
	"fmt"

	"github.com/zeusync/qcserver/internal/core/strtab"
)

var (
	ErrBadProgs      = errors.New("malformed progs")
	ErrVersion       = errors.New("unsupported progs version")
	ErrMissingField  = errors.New("reserved field missing")
	ErrFieldLayout   = errors.New("reserved field at wrong offset or type")
	ErrAddrCount     = errors.New("entity address space smaller than reserved fields")
	ErrMissingGlobal = errors.New("reserved global missing")
)

// Type tags a definition with the kind of value stored at its offset.
type Type uint8

const (
	TypeVoid Type = iota
	TypeString
	TypeFloat
	TypeVector
	TypeEntity
	TypeField
	TypeFunction
	TypePointer
)

var typeNames = [...]string{"void", "string", "float", "vector", "entity", "field", "function", "pointer"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Size is the number of 4-byte slots a value of this type occupies.
func (t Type) Size() int {
	if t == TypeVector {
		return 3
	}
	return 1
}

// Compatible reports whether an access of kind want may read or write a slot
// declared as t. Floats and vectors coerce because a vector's first scalar is
// read as a float.
func (t Type) Compatible(want Type) bool {
	if t == want {
		return true
	}
	return (t == TypeFloat && want == TypeVector) || (t == TypeVector && want == TypeFloat)
}

// Def is a named, typed slot in global or entity memory.
type Def struct {
	Type   Type
	Offset uint16
	Name   strtab.ID
	// Save marks globals persisted across level changes.
	Save bool
}

// DefTable is an ordered list of definitions with a lazily built offset cache.
type DefTable struct {
	defs     []Def
	byOffset map[uint16]int
	byName   map[string]int
	names    *strtab.Table
}

func NewDefTable(names *strtab.Table, defs []Def) *DefTable {
	return &DefTable{defs: defs, names: names}
}

func (t *DefTable) Len() int    { return len(t.defs) }
func (t *DefTable) Defs() []Def { return t.defs }

// Lookup returns the first typed definition registered at exactly offset.
// Void definitions are markers and never constrain access.
func (t *DefTable) Lookup(offset uint16) (Def, bool) {
	if t.byOffset == nil {
		t.byOffset = make(map[uint16]int, len(t.defs))
		for i, d := range t.defs {
			if d.Type == TypeVoid {
				continue
			}
			if _, seen := t.byOffset[d.Offset]; !seen {
				t.byOffset[d.Offset] = i
			}
		}
	}
	i, ok := t.byOffset[offset]
	if !ok {
		return Def{}, false
	}
	return t.defs[i], true
}

func (t *DefTable) ByName(name string) (Def, bool) {
	if t.byName == nil {
		t.byName = make(map[string]int, len(t.defs))
		for i, d := range t.defs {
			n := t.names.MustGet(d.Name)
			if _, seen := t.byName[n]; !seen {
				t.byName[n] = i
			}
		}
	}
	i, ok := t.byName[name]
	if !ok {
		return Def{}, false
	}
	return t.defs[i], true
}

// Name resolves the definition name.
func (t *DefTable) Name(d Def) string {
	return t.names.MustGet(d.Name)
}

// EntityTypeDef is the per-load entity schema.
type EntityTypeDef struct {
	*DefTable
	// AddrCount is the number of 4-byte slots in every entity.
	AddrCount int
}

func NewEntityTypeDef(names *strtab.Table, defs []Def, addrCount int) *EntityTypeDef {
	return &EntityTypeDef{DefTable: NewDefTable(names, defs), AddrCount: addrCount}
}

// Validate checks that every reserved field is declared where the host
// expects it.
func (e *EntityTypeDef) Validate() error {
	if e.AddrCount < ReservedFieldCount {
		return fmt.Errorf("%w: %d < %d", ErrAddrCount, e.AddrCount, ReservedFieldCount)
	}
	return validateReserved(e.DefTable, reservedFields, ErrMissingField)
}

func validateReserved(t *DefTable, want []reservedDef, missing error) error {
	for _, r := range want {
		d, ok := t.ByName(r.name)
		if !ok {
			return fmt.Errorf("%w: %s", missing, r.name)
		}
		if d.Offset != r.offset || d.Type != r.typ {
			return fmt.Errorf("%w: %s is %s@%d, want %s@%d",
				ErrFieldLayout, r.name, d.Type, d.Offset, r.typ, r.offset)
		}
	}
	return nil
}

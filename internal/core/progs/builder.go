package progs

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeusync/qcserver/internal/core/strtab"
)

var ErrFrameNotContiguous = errors.New("locals must be declared before other globals")

// Builder assembles a Program in memory. It starts with the reserved
// globals and entity fields already declared.
type Builder struct {
	strings    *strtab.Table
	globals    []uint32
	globalDefs []Def
	fieldDefs  []Def
	addrCount  int
	statements []Statement
	functions  []Function
	err        error
}

func NewBuilder() *Builder {
	b := &Builder{
		strings:    strtab.New(nil),
		globals:    make([]uint32, ReservedGlobalCount),
		addrCount:  ReservedFieldCount,
		statements: []Statement{{Op: OpDone}},
		functions:  []Function{{}},
	}
	for _, r := range reservedGlobals {
		b.globalDefs = append(b.globalDefs, Def{Type: r.typ, Offset: r.offset, Name: b.String(r.name)})
	}
	for _, r := range reservedFields {
		b.fieldDefs = append(b.fieldDefs, Def{Type: r.typ, Offset: r.offset, Name: b.String(r.name)})
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// String interns s and returns its id.
func (b *Builder) String(s string) strtab.ID {
	id, err := b.strings.FindOrInsert(s)
	if err != nil {
		b.fail(fmt.Errorf("string %q: %w", s, err))
	}
	return id
}

func (b *Builder) alloc(name string, t Type) uint16 {
	ofs := uint16(len(b.globals))
	b.globals = append(b.globals, make([]uint32, t.Size())...)
	b.globalDefs = append(b.globalDefs, Def{Type: t, Offset: ofs, Name: b.String(name)})
	return ofs
}

// Global declares a named global and returns its offset.
func (b *Builder) Global(name string, t Type) uint16 {
	return b.alloc(name, t)
}

// Float allocates an immediate float constant.
func (b *Builder) Float(v float32) uint16 {
	ofs := b.alloc("IMMEDIATE", TypeFloat)
	b.globals[ofs] = math.Float32bits(v)
	return ofs
}

func (b *Builder) Vector(x, y, z float32) uint16 {
	ofs := b.alloc("IMMEDIATE", TypeVector)
	b.globals[ofs] = math.Float32bits(x)
	b.globals[ofs+1] = math.Float32bits(y)
	b.globals[ofs+2] = math.Float32bits(z)
	return ofs
}

// Str allocates an immediate string constant.
func (b *Builder) Str(s string) uint16 {
	ofs := b.alloc("IMMEDIATE", TypeString)
	b.globals[ofs] = uint32(b.String(s))
	return ofs
}

// FunctionRef allocates a global holding a function id, the operand form
// CALLn expects.
func (b *Builder) FunctionRef(id FunctionID) uint16 {
	ofs := b.alloc("IMMEDIATE", TypeFunction)
	b.globals[ofs] = uint32(id)
	return ofs
}

// Field declares an entity field after the reserved block and returns its
// offset.
func (b *Builder) Field(name string, t Type) uint16 {
	ofs := uint16(b.addrCount)
	b.addrCount += t.Size()
	b.fieldDefs = append(b.fieldDefs, Def{Type: t, Offset: ofs, Name: b.String(name)})
	return ofs
}

// FieldRef allocates a global holding a field offset, the operand form the
// LOAD and ADDRESS opcodes expect.
func (b *Builder) FieldRef(field uint16) uint16 {
	ofs := b.alloc("IMMEDIATE", TypeField)
	b.globals[ofs] = uint32(field)
	return ofs
}

// Builtin declares a native function.
func (b *Builder) Builtin(name string, num int) FunctionID {
	b.functions = append(b.functions, Function{
		Name:           b.String(name),
		FirstStatement: int32(-num),
		NumParms:       -1,
	})
	return FunctionID(len(b.functions) - 1)
}

// Func starts a script function whose parameters have the given types.
// Locals must be declared before any other global is allocated, and only
// one function may be open at a time.
func (b *Builder) Func(name string, parms ...Type) *FuncBuilder {
	if len(parms) > MaxParms {
		b.fail(fmt.Errorf("function %s: %d parms", name, len(parms)))
		parms = parms[:MaxParms]
	}
	f := &FuncBuilder{b: b, id: FunctionID(len(b.functions))}
	fn := Function{
		Name:           b.String(name),
		FirstStatement: int32(len(b.statements)),
		ParmStart:      int32(len(b.globals)),
		NumParms:       int32(len(parms)),
	}
	for i, t := range parms {
		fn.ParmSize[i] = uint8(t.Size())
		f.parms = append(f.parms, b.alloc("", t))
	}
	b.functions = append(b.functions, fn)
	f.frameEnd = len(b.globals)
	return f
}

// Build validates and returns the program.
func (b *Builder) Build() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := &Program{
		Statements: append([]Statement(nil), b.statements...),
		Functions:  append([]Function(nil), b.functions...),
		GlobalDefs: NewDefTable(b.strings, append([]Def(nil), b.globalDefs...)),
		Fields:     NewEntityTypeDef(b.strings, append([]Def(nil), b.fieldDefs...), b.addrCount),
		Strings:    b.strings,
		Globals:    append([]uint32(nil), b.globals...),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustBuild panics on error. Tests use it.
func (b *Builder) MustBuild() *Program {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

type FuncBuilder struct {
	b        *Builder
	id       FunctionID
	parms    []uint16
	frameEnd int
}

func (f *FuncBuilder) ID() FunctionID { return f.id }

// Param returns the global offset of parameter i inside the frame.
func (f *FuncBuilder) Param(i int) uint16 {
	return f.parms[i]
}

// Local declares a frame-local variable.
func (f *FuncBuilder) Local(name string, t Type) uint16 {
	if len(f.b.globals) != f.frameEnd {
		f.b.fail(fmt.Errorf("%w: %s", ErrFrameNotContiguous, name))
	}
	ofs := f.b.alloc(name, t)
	f.frameEnd = len(f.b.globals)
	return ofs
}

// Emit appends a statement and returns its absolute index.
func (f *FuncBuilder) Emit(op Opcode, a, b, c uint16) int {
	f.b.statements = append(f.b.statements, Statement{Op: op, A: int16(a), B: int16(b), C: int16(c)})
	return len(f.b.statements) - 1
}

// Here is the index the next emitted statement will get.
func (f *FuncBuilder) Here() int {
	return len(f.b.statements)
}

// Branch emits IF, IFNOT or GOTO with an unresolved target. Resolve it
// with Land.
func (f *FuncBuilder) Branch(op Opcode, cond uint16) int {
	if op == OpGoto {
		return f.Emit(op, 0, 0, 0)
	}
	return f.Emit(op, cond, 0, 0)
}

// Land points the branch at index at to the next emitted statement.
func (f *FuncBuilder) Land(at int) {
	f.patch(at, f.Here())
}

// Goto emits an unconditional jump to target.
func (f *FuncBuilder) Goto(target int) {
	at := f.Emit(OpGoto, 0, 0, 0)
	f.patch(at, target)
}

func (f *FuncBuilder) patch(at, target int) {
	s := &f.b.statements[at]
	d := int16(target - at)
	if s.Op == OpGoto {
		s.A = d
	} else {
		s.B = d
	}
}

// End closes the function with a trailing DONE.
func (f *FuncBuilder) End() FunctionID {
	f.Emit(OpDone, 0, 0, 0)
	fn := &f.b.functions[f.id]
	fn.Locals = int32(f.frameEnd) - fn.ParmStart
	return f.id
}

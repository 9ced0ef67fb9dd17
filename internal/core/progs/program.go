package progs

import (
	"fmt"

	"github.com/zeusync/qcserver/internal/core/strtab"
)

// FunctionID indexes Program.Functions. Zero is the null function.
type FunctionID int32

// Function is a compiled function header. Natives have a negative
// FirstStatement whose magnitude is the builtin number.
type Function struct {
	Name           strtab.ID
	File           strtab.ID
	FirstStatement int32
	// ParmStart is the first global offset of the local frame; the first
	// NumParms entries of the frame receive the arguments.
	ParmStart int32
	Locals    int32
	NumParms  int32
	ParmSize  [MaxParms]uint8
}

// Builtin returns the native number and true for native functions.
func (f *Function) Builtin() (int, bool) {
	if f.FirstStatement < 0 {
		return int(-f.FirstStatement), true
	}
	return 0, false
}

type Program struct {
	CRC        uint16
	Statements []Statement
	Functions  []Function
	GlobalDefs *DefTable
	Fields     *EntityTypeDef
	Strings    *strtab.Table
	// Globals holds the initial value of every global slot.
	Globals []uint32

	funcByName map[string]FunctionID
}

// Validate checks the reserved layouts and the internal consistency of
// statement and function tables.
func (p *Program) Validate() error {
	if len(p.Globals) < ReservedGlobalCount {
		return fmt.Errorf("%w: %d globals", ErrBadProgs, len(p.Globals))
	}
	if err := validateReserved(p.GlobalDefs, reservedGlobals, ErrMissingGlobal); err != nil {
		return err
	}
	if err := p.Fields.Validate(); err != nil {
		return err
	}
	for i := range p.Functions {
		f := &p.Functions[i]
		if _, native := f.Builtin(); native {
			continue
		}
		if int(f.FirstStatement) >= len(p.Statements) {
			return fmt.Errorf("%w: function %d starts at %d of %d statements",
				ErrBadProgs, i, f.FirstStatement, len(p.Statements))
		}
		if f.NumParms < 0 || f.NumParms > MaxParms {
			return fmt.Errorf("%w: function %d has %d parms", ErrBadProgs, i, f.NumParms)
		}
		if f.ParmStart < 0 || f.Locals < 0 || int(f.ParmStart+f.Locals) > len(p.Globals) {
			return fmt.Errorf("%w: function %d locals out of range", ErrBadProgs, i)
		}
		words := 0
		for j := 0; j < int(f.NumParms); j++ {
			if f.ParmSize[j] > 3 {
				return fmt.Errorf("%w: function %d parm %d has size %d", ErrBadProgs, i, j, f.ParmSize[j])
			}
			words += int(f.ParmSize[j])
		}
		if words > int(f.Locals) {
			return fmt.Errorf("%w: function %d parms need %d words, has %d locals", ErrBadProgs, i, words, f.Locals)
		}
	}
	for i, s := range p.Statements {
		if !s.Op.Valid() {
			return fmt.Errorf("%w: statement %d has opcode %d", ErrBadProgs, i, s.Op)
		}
	}
	return nil
}

// Function returns the function header for id.
func (p *Program) Function(id FunctionID) (*Function, bool) {
	if id <= 0 || int(id) >= len(p.Functions) {
		return nil, false
	}
	return &p.Functions[id], true
}

func (p *Program) FunctionByName(name string) (FunctionID, bool) {
	if p.funcByName == nil {
		p.funcByName = make(map[string]FunctionID, len(p.Functions))
		for i := range p.Functions {
			n := p.Strings.MustGet(p.Functions[i].Name)
			if _, seen := p.funcByName[n]; !seen && i > 0 {
				p.funcByName[n] = FunctionID(i)
			}
		}
	}
	id, ok := p.funcByName[name]
	return id, ok
}

// FunctionName resolves a function id for logs.
func (p *Program) FunctionName(id FunctionID) string {
	f, ok := p.Function(id)
	if !ok {
		return fmt.Sprintf("function(%d)", id)
	}
	return p.Strings.MustGet(f.Name)
}

func (p *Program) GlobalByName(name string) (Def, bool) {
	return p.GlobalDefs.ByName(name)
}

func (p *Program) FieldByName(name string) (Def, bool) {
	return p.Fields.ByName(name)
}

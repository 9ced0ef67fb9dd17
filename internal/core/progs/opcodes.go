package progs

import "fmt"

type Opcode uint16

const (
	OpDone Opcode = iota
	OpMulF
	OpMulV
	OpMulFV
	OpMulVF
	OpDivF
	OpAddF
	OpAddV
	OpSubF
	OpSubV

	OpEqF
	OpEqV
	OpEqS
	OpEqE
	OpEqFnc

	OpNeF
	OpNeV
	OpNeS
	OpNeE
	OpNeFnc

	OpLe
	OpGe
	OpLt
	OpGt

	OpLoadF
	OpLoadV
	OpLoadS
	OpLoadEnt
	OpLoadFld
	OpLoadFnc

	OpAddress

	OpStoreF
	OpStoreV
	OpStoreS
	OpStoreEnt
	OpStoreFld
	OpStoreFnc

	OpStorePF
	OpStorePV
	OpStorePS
	OpStorePEnt
	OpStorePFld
	OpStorePFnc

	OpReturn
	OpNotF
	OpNotV
	OpNotS
	OpNotEnt
	OpNotFnc
	OpIf
	OpIfNot
	OpCall0
	OpCall1
	OpCall2
	OpCall3
	OpCall4
	OpCall5
	OpCall6
	OpCall7
	OpCall8
	OpState
	OpGoto
	OpAnd
	OpOr

	OpBitAnd
	OpBitOr

	opcodeCount
)

var opcodeNames = [...]string{
	"DONE", "MUL_F", "MUL_V", "MUL_FV", "MUL_VF", "DIV", "ADD_F", "ADD_V", "SUB_F", "SUB_V",
	"EQ_F", "EQ_V", "EQ_S", "EQ_E", "EQ_FNC",
	"NE_F", "NE_V", "NE_S", "NE_E", "NE_FNC",
	"LE", "GE", "LT", "GT",
	"LOAD_F", "LOAD_V", "LOAD_S", "LOAD_ENT", "LOAD_FLD", "LOAD_FNC",
	"ADDRESS",
	"STORE_F", "STORE_V", "STORE_S", "STORE_ENT", "STORE_FLD", "STORE_FNC",
	"STOREP_F", "STOREP_V", "STOREP_S", "STOREP_ENT", "STOREP_FLD", "STOREP_FNC",
	"RETURN", "NOT_F", "NOT_V", "NOT_S", "NOT_ENT", "NOT_FNC", "IF", "IFNOT",
	"CALL0", "CALL1", "CALL2", "CALL3", "CALL4", "CALL5", "CALL6", "CALL7", "CALL8",
	"STATE", "GOTO", "AND", "OR", "BITAND", "BITOR",
}

func (o Opcode) String() string {
	if o < opcodeCount {
		return opcodeNames[o]
	}
	return fmt.Sprintf("OP(%d)", uint16(o))
}

// Valid reports whether o is a known opcode.
func (o Opcode) Valid() bool {
	return o < opcodeCount
}

// CallArgs returns the argument count of a CALLn opcode.
func (o Opcode) CallArgs() (int, bool) {
	if o >= OpCall0 && o <= OpCall8 {
		return int(o - OpCall0), true
	}
	return 0, false
}

// Statement is one instruction with three operand slots. Operands are
// global offsets except for branch displacements, which are signed.
type Statement struct {
	Op      Opcode
	A, B, C int16
}

func (s Statement) String() string {
	return fmt.Sprintf("%s %d %d %d", s.Op, s.A, s.B, s.C)
}

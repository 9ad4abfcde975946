package progs

import "fmt"

// Opcodes of the version 6 instruction set.
const (
	OpDone = iota
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

	NumOpcodes
)

var opNames = [NumOpcodes]string{
	"DONE", "MUL_F", "MUL_V", "MUL_FV", "MUL_VF", "DIV", "ADD_F", "ADD_V", "SUB_F", "SUB_V",
	"EQ_F", "EQ_V", "EQ_S", "EQ_E", "EQ_FNC",
	"NE_F", "NE_V", "NE_S", "NE_E", "NE_FNC",
	"LE", "GE", "LT", "GT",
	"INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT",
	"ADDRESS",
	"STORE_F", "STORE_V", "STORE_S", "STORE_ENT", "STORE_FLD", "STORE_FNC",
	"STOREP_F", "STOREP_V", "STOREP_S", "STOREP_ENT", "STOREP_FLD", "STOREP_FNC",
	"RETURN", "NOT_F", "NOT_V", "NOT_S", "NOT_ENT", "NOT_FNC",
	"IF", "IFNOT",
	"CALL0", "CALL1", "CALL2", "CALL3", "CALL4", "CALL5", "CALL6", "CALL7", "CALL8",
	"STATE", "GOTO", "AND", "OR", "BITAND", "BITOR",
}

// OpName returns the mnemonic of an opcode.
func OpName(op uint16) string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP%d", op)
}

// Operand kinds used by load-time validation.
const (
	argNone   = iota
	argGlobal // one global cell
	argVector // three global cells
	argJump   // signed statement offset
)

type operandKinds [3]uint8

var (
	kGGG = operandKinds{argGlobal, argGlobal, argGlobal}
	kVVV = operandKinds{argVector, argVector, argVector}
	kVVG = operandKinds{argVector, argVector, argGlobal}
	kGVV = operandKinds{argGlobal, argVector, argVector}
	kVGV = operandKinds{argVector, argGlobal, argVector}
	kGGV = operandKinds{argGlobal, argGlobal, argVector}
	kGGN = operandKinds{argGlobal, argGlobal, argNone}
	kVVN = operandKinds{argVector, argVector, argNone}
	kVGN = operandKinds{argVector, argGlobal, argNone}
	kGNG = operandKinds{argGlobal, argNone, argGlobal}
	kVNG = operandKinds{argVector, argNone, argGlobal}
	kGJN = operandKinds{argGlobal, argJump, argNone}
	kJNN = operandKinds{argJump, argNone, argNone}
	kGNN = operandKinds{argGlobal, argNone, argNone}
)

// operands returns the operand layout of op and whether op is known.
func operands(op uint16) (operandKinds, bool) {
	switch op {
	case OpDone, OpReturn:
		// the return copy reads three cells; the VM pads the globals so a
		// scalar in the last cell is still a valid operand
		return kGNN, true
	case OpMulF, OpDivF, OpAddF, OpSubF,
		OpEqF, OpEqS, OpEqE, OpEqFnc,
		OpNeF, OpNeS, OpNeE, OpNeFnc,
		OpLe, OpGe, OpLt, OpGt,
		OpLoadF, OpLoadS, OpLoadEnt, OpLoadFld, OpLoadFnc,
		OpAddress, OpAnd, OpOr, OpBitAnd, OpBitOr:
		return kGGG, true
	case OpMulV, OpEqV, OpNeV:
		return kVVG, true
	case OpMulFV:
		return kGVV, true
	case OpMulVF:
		return kVGV, true
	case OpAddV, OpSubV:
		return kVVV, true
	case OpLoadV:
		return kGGV, true
	case OpStoreF, OpStoreS, OpStoreEnt, OpStoreFld, OpStoreFnc,
		OpStorePF, OpStorePS, OpStorePEnt, OpStorePFld, OpStorePFnc,
		OpState:
		return kGGN, true
	case OpStoreV:
		return kVVN, true
	case OpStorePV:
		return kVGN, true
	case OpNotF, OpNotS, OpNotEnt, OpNotFnc:
		return kGNG, true
	case OpNotV:
		return kVNG, true
	case OpIf, OpIfNot:
		return kGJN, true
	case OpGoto:
		return kJNN, true
	case OpCall0, OpCall1, OpCall2, OpCall3, OpCall4, OpCall5, OpCall6, OpCall7, OpCall8:
		return kGNN, true
	}
	return operandKinds{}, false
}

// Statement is one decoded instruction.
type Statement struct {
	Op uint16
	A  int16
	B  int16
	C  int16
}

// OfsA returns operand A as a global offset.
func (s Statement) OfsA() int { return int(uint16(s.A)) }

// OfsB returns operand B as a global offset.
func (s Statement) OfsB() int { return int(uint16(s.B)) }

// OfsC returns operand C as a global offset.
func (s Statement) OfsC() int { return int(uint16(s.C)) }

// String returns a one line disassembly.
func (s Statement) String() string {
	return fmt.Sprintf("%-10s %6d %6d %6d", OpName(s.Op), s.A, s.B, s.C)
}

// Encode creates a statement from its components.
func Encode(op uint16, a, b, c int16) Statement {
	return Statement{Op: op, A: a, B: b, C: c}
}

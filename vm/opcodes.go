package vm

import "fmt"

type Opcode uint16

const (
	NOP Opcode = iota
	// PRE-STACK | OP | POST-STACK
	LOADC      // | A: constant pool index | constants[A]
	LOADV      // | A: module-relative offset | curr[base+A]
	LOADG      // | A: absolute offset (time, dt, root refs) | curr[A]
	LOADIDX    // | A: module-relative array base, uses loop index | curr[base+A+i]
	LOADDYN    // X | A: array base, B: element count; X rounded, 1-based | element or NaN
	ASSIGNCURR // X | A: module-relative offset | curr[base+A] = X
	ASSIGNNEXT // X | A: module-relative offset | next[base+A] = X
	ASSIGNIDX  // X | A: array base, uses loop index | curr[base+A+i] = X
	OP2        // X Y | A: BinOp | X op Y
	NOT        // X | | !X
	NEG        // X | | -X
	APPLY      // X.. | A: BuiltinID, B: argc | fn(X..)
	LOOKUP     // X | A: table pool index | table interpolation at X
	JMP        // | A: target offset |
	JFALSE     // X | A: target offset, jumps when X == 0 |
	ITERSTART  // | A: count, B: end offset | begins broadcast loop
	ITERNEXT   // | A: start offset | advances loop index, jumps back or falls through
	EVALMODULE // | A: module-call pool index | runs the nested module's current phase
	RET        // | ends the runlist |

	LABEL // emission-time only, never executed
	OpcodeMax
)

func (o Opcode) String() string {
	switch o {
	case NOP:
		return "NOP"
	case LOADC:
		return "LOADC"
	case LOADV:
		return "LOADV"
	case LOADG:
		return "LOADG"
	case LOADIDX:
		return "LOADIDX"
	case LOADDYN:
		return "LOADDYN"
	case ASSIGNCURR:
		return "ASSIGNCURR"
	case ASSIGNNEXT:
		return "ASSIGNNEXT"
	case ASSIGNIDX:
		return "ASSIGNIDX"
	case OP2:
		return "OP2"
	case NOT:
		return "NOT"
	case NEG:
		return "NEG"
	case APPLY:
		return "APPLY"
	case LOOKUP:
		return "LOOKUP"
	case JMP:
		return "JMP"
	case JFALSE:
		return "JFALSE"
	case ITERSTART:
		return "ITERSTART"
	case ITERNEXT:
		return "ITERNEXT"
	case EVALMODULE:
		return "EVALMODULE"
	case RET:
		return "RET"
	case LABEL:
		return "LABEL"
	}
	panic("Unnamed opcode")
}

// Op is one flat instruction. Operands index typed pools (constants,
// tables, module calls) or name state-vector offsets; uint16 operands
// cap a single module at 65535 slots, which is far beyond any model
// this engine targets.
type Op struct {
	Code Opcode
	A    uint16
	B    uint16
}

func (o Op) String() string {
	switch o.Code {
	case OP2:
		return fmt.Sprintf("OP2 %s", BinOp(o.A))
	case APPLY:
		return fmt.Sprintf("APPLY %s/%d", BuiltinID(o.A), o.B)
	case NOP, NOT, NEG, RET:
		return o.Code.String()
	case ITERSTART, LOADDYN:
		return fmt.Sprintf("%s %d %d", o.Code, o.A, o.B)
	default:
		return fmt.Sprintf("%s %d", o.Code, o.A)
	}
}

// BinOp is the operator operand of OP2.
type BinOp uint16

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinExp
	BinMod
	BinGt
	BinGte
	BinLt
	BinLte
	BinEq
	BinNeq
	BinAnd
	BinOr
	BinOpMax
)

func (op BinOp) String() string {
	switch op {
	case BinAdd:
		return "ADD"
	case BinSub:
		return "SUB"
	case BinMul:
		return "MUL"
	case BinDiv:
		return "DIV"
	case BinExp:
		return "EXP"
	case BinMod:
		return "MOD"
	case BinGt:
		return "GT"
	case BinGte:
		return "GTE"
	case BinLt:
		return "LT"
	case BinLte:
		return "LTE"
	case BinEq:
		return "EQ"
	case BinNeq:
		return "NEQ"
	case BinAnd:
		return "AND"
	case BinOr:
		return "OR"
	}
	panic("Unnamed binary op")
}

// Package compile lowers a stage-1 project the rest of the way to
// bytecode: dimensions are resolved, subscripted equations are unrolled
// or turned into broadcast loops, every variable gets a slot offset,
// and each runlist is emitted as VM instructions. The scalar statement
// IR produced along the way is retained on the compiled artifact so the
// reference interpreter can execute the identical layout without going
// through the bytecode.
package compile

import (
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/vm"
)

// Expr is a fully resolved scalar expression. All variable references
// are slot offsets; no identifiers survive to this stage.
type Expr interface {
	isExpr()
}

// Const is a literal value.
type Const struct {
	Val float64
}

// Local reads a slot relative to the enclosing module instance's base.
type Local struct {
	Off uint16
}

// Global reads one of the reserved absolute slots (time, dt, ...).
type Global struct {
	Off uint16
}

// Elem reads element i of an array during a broadcast loop, where i is
// the loop's current index. Off is the array's base slot.
type Elem struct {
	Off uint16
}

// Dyn indexes a one-dimensional array with a runtime value. The index
// is rounded to the nearest integer and is 1-based; out of range reads
// produce NaN.
type Dyn struct {
	Off   uint16
	N     uint16
	Index Expr
}

type Bin struct {
	Op   vm.BinOp
	L, R Expr
}

type Not struct {
	X Expr
}

type Neg struct {
	X Expr
}

// Cond is if/then/else; only the taken branch is evaluated.
type Cond struct {
	If, Then, Else Expr
}

// App applies a pure builtin.
type App struct {
	Fn   vm.BuiltinID
	Args []Expr
}

// Lookup interpolates module table Table at X.
type Lookup struct {
	Table uint16
	X     Expr
}

func (Const) isExpr()  {}
func (Local) isExpr()  {}
func (Global) isExpr() {}
func (Elem) isExpr()   {}
func (Dyn) isExpr()    {}
func (Bin) isExpr()    {}
func (Not) isExpr()    {}
func (Neg) isExpr()    {}
func (Cond) isExpr()   {}
func (App) isExpr()    {}
func (Lookup) isExpr() {}

// Stmt is one element of a runlist.
type Stmt interface {
	isStmt()
}

// Assign evaluates Rhs and stores it at Off, into the next-step buffer
// when Next is set (stock integration) and the current buffer otherwise.
type Assign struct {
	Off  uint16
	Next bool
	Rhs  Expr
}

// Loop assigns Dst[i] = Rhs for i in [0, N), where Elem references in
// Rhs read their array's element i.
type Loop struct {
	Dst uint16
	N   uint16
	Rhs Expr
}

// Call runs the corresponding phase of nested module instance Idx.
type Call struct {
	Idx uint16
}

func (Assign) isStmt() {}
func (Loop) isStmt()   {}
func (Call) isStmt()   {}

// Unit is the compiled IR for one model instance class: one model
// combined with the set of formals its parents bind. Instances of the
// same class share a Unit (and its generated bytecode).
type Unit struct {
	Ident     string
	ModelName string
	NSlots    int
	Tables    []*datamodel.Table
	Calls     []UnitCall

	Initials []Stmt
	Flows    []Stmt
	Stocks   []Stmt

	scope *scope
}

// UnitCall is one nested instantiation within a Unit.
type UnitCall struct {
	Ident  string
	Unit   *Unit
	Off    uint16
	Inputs []vm.InputWire
}

// Compiled is the full output of a compile: the executable program, the
// retained IR, and any diagnostics. Program is nil only when nothing at
// all could be compiled.
type Compiled struct {
	Specs   datamodel.SimSpecs
	Program *vm.Program
	Root    *Unit
	Units   map[string]*Unit
	Offsets map[string]int
	NSlots  int
	Errors  datamodel.ErrorList
}

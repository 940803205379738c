package syntax

import (
	"fmt"
	"strings"
)

// Expr is the stage-0 expression tree produced by the parser. Lowering
// passes never mutate a tree in place; each pass builds a new value.
type Expr interface {
	isExpr()
	Pos() Loc
}

// Const is a numeric literal.
type Const struct {
	Lit   string
	Value float64
	Loc   Loc
}

// Var is a reference to another variable by canonical identifier.
type Var struct {
	Ident string
	Loc   Loc
}

// App is a call to a builtin function.
type App struct {
	Name string // canonical
	Args []Expr
	Loc  Loc
}

// Subscript is an array reference: base[arg, ...]. Args are expressions,
// dimension-element names (parsed as Var), or Wildcard.
type Subscript struct {
	Ident string
	Args  []Expr
	Loc   Loc
}

// Wildcard is '*' inside a subscript: every element of that dimension.
type Wildcard struct {
	Loc Loc
}

type UnaryOp int

const (
	Negative UnaryOp = iota
	Positive
	Not
)

type Op1 struct {
	Op  UnaryOp
	X   Expr
	Loc Loc
}

type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Exp
	Modulo
	Gt
	Gte
	Lt
	Lte
	Eq
	Neq
	LogicalAnd
	LogicalOr
)

func (op BinOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Exp:
		return "^"
	case Modulo:
		return "mod"
	case Gt:
		return ">"
	case Gte:
		return ">="
	case Lt:
		return "<"
	case Lte:
		return "<="
	case Eq:
		return "="
	case Neq:
		return "<>"
	case LogicalAnd:
		return "and"
	case LogicalOr:
		return "or"
	}
	panic("Unnamed binary op")
}

type Op2 struct {
	Op   BinOp
	X, Y Expr
	Loc  Loc
}

// If is the three-armed conditional expression.
type If struct {
	Cond Expr
	Then Expr
	Else Expr
	Loc  Loc
}

func (Const) isExpr()     {}
func (Var) isExpr()       {}
func (App) isExpr()       {}
func (Subscript) isExpr() {}
func (Wildcard) isExpr()  {}
func (Op1) isExpr()       {}
func (Op2) isExpr()       {}
func (If) isExpr()        {}

func (e Const) Pos() Loc     { return e.Loc }
func (e Var) Pos() Loc       { return e.Loc }
func (e App) Pos() Loc       { return e.Loc }
func (e Subscript) Pos() Loc { return e.Loc }
func (e Wildcard) Pos() Loc  { return e.Loc }
func (e Op1) Pos() Loc       { return e.Loc }
func (e Op2) Pos() Loc       { return e.Loc }
func (e If) Pos() Loc        { return e.Loc }

// Format renders an expression back to (fully parenthesized) equation
// text, for diagnostics and debug output.
func Format(e Expr) string {
	switch v := e.(type) {
	case Const:
		return v.Lit
	case Var:
		return v.Ident
	case App:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = Format(a)
		}
		return fmt.Sprintf("%s(%s)", v.Name, strings.Join(args, ", "))
	case Subscript:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = Format(a)
		}
		return fmt.Sprintf("%s[%s]", v.Ident, strings.Join(args, ", "))
	case Wildcard:
		return "*"
	case Op1:
		switch v.Op {
		case Negative:
			return fmt.Sprintf("(-%s)", Format(v.X))
		case Positive:
			return Format(v.X)
		default:
			return fmt.Sprintf("(not %s)", Format(v.X))
		}
	case Op2:
		return fmt.Sprintf("(%s %s %s)", Format(v.X), v.Op, Format(v.Y))
	case If:
		return fmt.Sprintf("(if %s then %s else %s)", Format(v.Cond), Format(v.Then), Format(v.Else))
	}
	panic(fmt.Sprintf("Unhandled expr type %T", e))
}

package syntax

import (
	"fmt"

	"github.com/flowsim-dev/flowsim/datamodel"
)

// Loc is a 1-based source position attached to every token and AST
// node for downstream diagnostics.
type Loc struct {
	Line int
	Col  int
}

func (l Loc) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Col)
}

// Diagnostic is a located lex or parse error. Diagnostics are collected
// across the whole input rather than aborting at the first failure, so
// an editor can report them in a batch.
type Diagnostic struct {
	Loc  Loc
	Code datamodel.ErrorCode
	Msg  string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s", d.Loc, d.Msg)
}

type Token int

const (
	EOF Token = iota
	ILLEGAL

	IDENT  // population, "pink noise", mod1.output
	NUMBER // 3, 4.2, 1e-3

	PLUS   // +
	MINUS  // -
	STAR   // *
	SLASH  // /
	CARET  // ^
	EQ     // =
	NEQ    // <>
	LT     // <
	LTE    // <=
	GT     // >
	GTE    // >=
	LPAREN // (
	RPAREN // )
	LBRACK // [
	RBRACK // ]
	COMMA  // ,

	// Keywords (matched case-insensitively).
	IF
	THEN
	ELSE
	AND
	OR
	NOT
	MOD

	TokenMax
)

func (t Token) String() string {
	switch t {
	case EOF:
		return "EOF"
	case ILLEGAL:
		return "ILLEGAL"
	case IDENT:
		return "IDENT"
	case NUMBER:
		return "NUMBER"
	case PLUS:
		return "+"
	case MINUS:
		return "-"
	case STAR:
		return "*"
	case SLASH:
		return "/"
	case CARET:
		return "^"
	case EQ:
		return "="
	case NEQ:
		return "<>"
	case LT:
		return "<"
	case LTE:
		return "<="
	case GT:
		return ">"
	case GTE:
		return ">="
	case LPAREN:
		return "("
	case RPAREN:
		return ")"
	case LBRACK:
		return "["
	case RBRACK:
		return "]"
	case COMMA:
		return ","
	case IF:
		return "if"
	case THEN:
		return "then"
	case ELSE:
		return "else"
	case AND:
		return "and"
	case OR:
		return "or"
	case NOT:
		return "not"
	case MOD:
		return "mod"
	}
	panic("Unnamed token")
}

var keywords = map[string]Token{
	"if":   IF,
	"then": THEN,
	"else": ELSE,
	"and":  AND,
	"or":   OR,
	"not":  NOT,
	"mod":  MOD,
}

// Tokval is a token together with its literal text and location.
type Tokval struct {
	Tok Token
	Lit string
	Loc Loc
}

func (t Tokval) String() string {
	if t.Lit != "" {
		return fmt.Sprintf("%s(%s)", t.Tok, t.Lit)
	}
	return t.Tok.String()
}

package syntax

import (
	"fmt"
	"strconv"

	"github.com/flowsim-dev/flowsim/datamodel"
)

// Recursive-descent parser with precedence climbing. Errors are
// collected with locations rather than aborting on the first failure;
// the returned tree is best-effort when diagnostics are non-empty.

type parser struct {
	lex   *Lexer
	tok   Tokval
	diags []Diagnostic
}

// ParseExpr parses one equation. The returned diagnostics include both
// lex and parse errors; the expression is nil only for empty input.
func ParseExpr(src string) (Expr, []Diagnostic) {
	p := &parser{lex: NewLexer(src)}
	p.next()
	if p.tok.Tok == EOF {
		p.errorf(p.tok.Loc, datamodel.ErrEmptyEquation, "empty equation")
		return nil, p.collect()
	}
	e := p.expr()
	if p.tok.Tok != EOF {
		p.errorf(p.tok.Loc, datamodel.ErrTrailingTokens, "unexpected %s after end of expression", p.tok)
	}
	return e, p.collect()
}

func (p *parser) collect() []Diagnostic {
	diags := append([]Diagnostic(nil), p.lex.Diagnostics()...)
	return append(diags, p.diags...)
}

func (p *parser) next() {
	p.tok = p.lex.Next()
}

func (p *parser) errorf(loc Loc, code datamodel.ErrorCode, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{Loc: loc, Code: code, Msg: fmt.Sprintf(format, args...)})
}

// expect consumes tok or records a diagnostic without consuming.
func (p *parser) expect(tok Token, code datamodel.ErrorCode, context string) bool {
	if p.tok.Tok == tok {
		p.next()
		return true
	}
	if p.tok.Tok == EOF {
		p.errorf(p.tok.Loc, datamodel.ErrUnexpectedEOF, "unexpected end of input, expected %s %s", tok, context)
	} else {
		p.errorf(p.tok.Loc, code, "expected %s %s, found %s", tok, context, p.tok)
	}
	return false
}

func (p *parser) expr() Expr {
	if p.tok.Tok == IF {
		return p.ifExpr()
	}
	return p.orExpr()
}

func (p *parser) ifExpr() Expr {
	loc := p.tok.Loc
	p.next() // if
	cond := p.expr()
	if p.tok.Tok != THEN {
		p.errorf(p.tok.Loc, datamodel.ErrDanglingIf, "dangling if: expected then, found %s", p.tok)
		return If{Cond: cond, Then: Const{Lit: "0", Loc: loc}, Else: Const{Lit: "0", Loc: loc}, Loc: loc}
	}
	p.next() // then
	then := p.expr()
	if p.tok.Tok != ELSE {
		p.errorf(p.tok.Loc, datamodel.ErrDanglingThen, "dangling then: expected else, found %s", p.tok)
		return If{Cond: cond, Then: then, Else: Const{Lit: "0", Loc: loc}, Loc: loc}
	}
	p.next() // else
	els := p.expr()
	return If{Cond: cond, Then: then, Else: els, Loc: loc}
}

func (p *parser) orExpr() Expr {
	x := p.andExpr()
	for p.tok.Tok == OR {
		loc := p.tok.Loc
		p.next()
		x = Op2{Op: LogicalOr, X: x, Y: p.andExpr(), Loc: loc}
	}
	return x
}

func (p *parser) andExpr() Expr {
	x := p.notExpr()
	for p.tok.Tok == AND {
		loc := p.tok.Loc
		p.next()
		x = Op2{Op: LogicalAnd, X: x, Y: p.notExpr(), Loc: loc}
	}
	return x
}

func (p *parser) notExpr() Expr {
	if p.tok.Tok == NOT {
		loc := p.tok.Loc
		p.next()
		return Op1{Op: Not, X: p.notExpr(), Loc: loc}
	}
	return p.cmpExpr()
}

func (p *parser) cmpExpr() Expr {
	x := p.addExpr()
	var op BinOp
	switch p.tok.Tok {
	case EQ:
		op = Eq
	case NEQ:
		op = Neq
	case LT:
		op = Lt
	case LTE:
		op = Lte
	case GT:
		op = Gt
	case GTE:
		op = Gte
	default:
		return x
	}
	loc := p.tok.Loc
	p.next()
	// Comparisons don't chain: a < b < c is an error, not ((a<b)<c).
	y := p.addExpr()
	switch p.tok.Tok {
	case EQ, NEQ, LT, LTE, GT, GTE:
		p.errorf(p.tok.Loc, datamodel.ErrChainedComparison, "comparison operators do not chain")
	}
	return Op2{Op: op, X: x, Y: y, Loc: loc}
}

func (p *parser) addExpr() Expr {
	x := p.mulExpr()
	for p.tok.Tok == PLUS || p.tok.Tok == MINUS {
		op := Add
		if p.tok.Tok == MINUS {
			op = Sub
		}
		loc := p.tok.Loc
		p.next()
		x = Op2{Op: op, X: x, Y: p.mulExpr(), Loc: loc}
	}
	return x
}

func (p *parser) mulExpr() Expr {
	x := p.unaryExpr()
	for {
		var op BinOp
		switch p.tok.Tok {
		case STAR:
			op = Mul
		case SLASH:
			op = Div
		case MOD:
			op = Modulo
		default:
			return x
		}
		loc := p.tok.Loc
		p.next()
		x = Op2{Op: op, X: x, Y: p.unaryExpr(), Loc: loc}
	}
}

func (p *parser) unaryExpr() Expr {
	switch p.tok.Tok {
	case MINUS:
		loc := p.tok.Loc
		p.next()
		return Op1{Op: Negative, X: p.unaryExpr(), Loc: loc}
	case PLUS:
		loc := p.tok.Loc
		p.next()
		return Op1{Op: Positive, X: p.unaryExpr(), Loc: loc}
	}
	return p.powExpr()
}

func (p *parser) powExpr() Expr {
	x := p.postfixExpr()
	if p.tok.Tok == CARET {
		loc := p.tok.Loc
		p.next()
		// Right-associative; the exponent may carry its own unary sign.
		return Op2{Op: Exp, X: x, Y: p.unaryExpr(), Loc: loc}
	}
	return x
}

func (p *parser) postfixExpr() Expr {
	x := p.primaryExpr()
	if p.tok.Tok == LBRACK {
		v, ok := x.(Var)
		if !ok {
			p.errorf(p.tok.Loc, datamodel.ErrBadSubscriptTarget, "subscripts apply to variable references only")
			v = Var{Ident: "", Loc: x.Pos()}
		}
		p.next() // [
		args := p.subscriptArgs()
		p.expect(RBRACK, datamodel.ErrUnbalancedBrackets, "to close subscript")
		return Subscript{Ident: v.Ident, Args: args, Loc: v.Loc}
	}
	return x
}

func (p *parser) primaryExpr() Expr {
	tok := p.tok
	switch tok.Tok {
	case NUMBER:
		p.next()
		v, err := strconv.ParseFloat(tok.Lit, 64)
		if err != nil {
			p.errorf(tok.Loc, datamodel.ErrBadNumber, "malformed number %q", tok.Lit)
		}
		return Const{Lit: tok.Lit, Value: v, Loc: tok.Loc}
	case IDENT:
		p.next()
		if p.tok.Tok == LPAREN {
			p.next() // (
			args := p.callArgs()
			p.expect(RPAREN, datamodel.ErrUnbalancedParens, "to close argument list")
			return App{Name: tok.Lit, Args: args, Loc: tok.Loc}
		}
		return Var{Ident: tok.Lit, Loc: tok.Loc}
	case LPAREN:
		p.next()
		e := p.expr()
		p.expect(RPAREN, datamodel.ErrUnbalancedParens, "to close group")
		return e
	case EOF:
		p.errorf(tok.Loc, datamodel.ErrUnexpectedEOF, "unexpected end of input")
		return Const{Lit: "0", Loc: tok.Loc}
	default:
		p.errorf(tok.Loc, datamodel.ErrUnexpectedToken, "unexpected %s", tok)
		p.next()
		if p.tok.Tok == EOF {
			return Const{Lit: "0", Loc: tok.Loc}
		}
		return p.primaryExpr()
	}
}

func (p *parser) callArgs() []Expr {
	var args []Expr
	if p.tok.Tok == RPAREN {
		return args
	}
	for {
		args = append(args, p.expr())
		if p.tok.Tok != COMMA {
			return args
		}
		p.next()
		if p.tok.Tok == RPAREN {
			p.errorf(p.tok.Loc, datamodel.ErrTrailingComma, "trailing comma in argument list")
			return args
		}
	}
}

func (p *parser) subscriptArgs() []Expr {
	var args []Expr
	for {
		if p.tok.Tok == STAR {
			args = append(args, Wildcard{Loc: p.tok.Loc})
			p.next()
		} else {
			args = append(args, p.expr())
		}
		if p.tok.Tok != COMMA {
			return args
		}
		p.next()
	}
}

package syntax

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/flowsim-dev/flowsim/datamodel"
)

// Lexer tokenizes equation text. A bad token produces a located
// diagnostic and lexing continues with the next rune; one malformed
// token does not abort the rest of the input.
type Lexer struct {
	src   string
	pos   int
	line  int
	col   int
	diags []Diagnostic
}

func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Diagnostics returns the lex errors collected so far.
func (l *Lexer) Diagnostics() []Diagnostic {
	return l.diags
}

func (l *Lexer) errorf(loc Loc, code datamodel.ErrorCode, format string, args ...any) {
	l.diags = append(l.diags, Diagnostic{Loc: loc, Code: code, Msg: fmt.Sprintf(format, args...)})
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *Lexer) peekAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos+off:])
	return r
}

func (l *Lexer) advance() rune {
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += w
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) loc() Loc {
	return Loc{Line: l.line, Col: l.col}
}

// Next returns the next token, EOF at end of input.
func (l *Lexer) Next() Tokval {
	for l.pos < len(l.src) {
		loc := l.loc()
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '{':
			l.comment(loc)
		case r == '"':
			return l.quotedIdent(loc)
		case isIdentStart(r):
			return l.ident(loc)
		case r == '.' && isIdentStart(l.peekAt(1)):
			// Leading dot: explicit root-namespace reference.
			return l.ident(loc)
		case unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peekAt(1))):
			return l.number(loc)
		default:
			if tok, ok := l.operator(); ok {
				return Tokval{Tok: tok, Loc: loc}
			}
			l.errorf(loc, datamodel.ErrUnrecognizedCharacter, "unrecognized character %q", r)
			l.advance()
		}
	}
	return Tokval{Tok: EOF, Loc: l.loc()}
}

func (l *Lexer) comment(loc Loc) {
	l.advance() // {
	for l.pos < len(l.src) {
		if l.advance() == '}' {
			return
		}
	}
	l.errorf(loc, datamodel.ErrUnclosedComment, "unclosed comment")
}

func (l *Lexer) quotedIdent(loc Loc) Tokval {
	l.advance() // "
	var b strings.Builder
	for l.pos < len(l.src) {
		r := l.peek()
		if r == '"' {
			l.advance()
			return Tokval{Tok: IDENT, Lit: datamodel.Canonicalize(b.String()), Loc: loc}
		}
		if r == '\n' {
			break
		}
		b.WriteRune(l.advance())
	}
	l.errorf(loc, datamodel.ErrUnclosedQuotedIdent, "unclosed quoted identifier")
	return Tokval{Tok: ILLEGAL, Lit: b.String(), Loc: loc}
}

func (l *Lexer) ident(loc Loc) Tokval {
	start := l.pos
	if l.peek() == '.' {
		l.advance()
	}
	for l.pos < len(l.src) {
		r := l.peek()
		if isIdentPart(r) {
			l.advance()
			continue
		}
		// A dot continues the identifier only when it joins namespace
		// components; "a.b" is one reference, "a . b" is not.
		if r == '.' && isIdentStart(l.peekAt(1)) {
			l.advance()
			continue
		}
		break
	}
	lit := l.src[start:l.pos]
	if kw, ok := keywords[strings.ToLower(lit)]; ok {
		return Tokval{Tok: kw, Loc: loc}
	}
	return Tokval{Tok: IDENT, Lit: datamodel.Canonicalize(lit), Loc: loc}
}

func (l *Lexer) number(loc Loc) Tokval {
	start := l.pos
	for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && unicode.IsDigit(l.peekAt(1)) {
		l.advance()
		for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if r := l.peek(); r == 'e' || r == 'E' {
		next := l.peekAt(1)
		if unicode.IsDigit(next) || ((next == '+' || next == '-') && unicode.IsDigit(l.peekAt(2))) {
			l.advance()
			if r := l.peek(); r == '+' || r == '-' {
				l.advance()
			}
			for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
				l.advance()
			}
		}
	}
	return Tokval{Tok: NUMBER, Lit: l.src[start:l.pos], Loc: loc}
}

func (l *Lexer) operator() (Token, bool) {
	r := l.peek()
	switch r {
	case '+':
		l.advance()
		return PLUS, true
	case '-':
		l.advance()
		return MINUS, true
	case '*':
		l.advance()
		return STAR, true
	case '/':
		l.advance()
		return SLASH, true
	case '^':
		l.advance()
		return CARET, true
	case '=':
		l.advance()
		if l.peek() == '=' { // tolerate C-style equality
			l.advance()
		}
		return EQ, true
	case '<':
		l.advance()
		switch l.peek() {
		case '>':
			l.advance()
			return NEQ, true
		case '=':
			l.advance()
			return LTE, true
		}
		return LT, true
	case '>':
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return GTE, true
		}
		return GT, true
	case '(':
		l.advance()
		return LPAREN, true
	case ')':
		l.advance()
		return RPAREN, true
	case '[':
		l.advance()
		return LBRACK, true
	case ']':
		l.advance()
		return RBRACK, true
	case ',':
		l.advance()
		return COMMA, true
	}
	return ILLEGAL, false
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

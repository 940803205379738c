// Package units implements dimensional analysis over model equations.
// Unit problems never stop a simulation: every finding is a
// per-variable diagnostic the caller can surface or ignore.
//
// Unit expressions reuse the equation parser; "people/year^2" is just
// an expression over unit names folded into an exponent map.
package units

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/syntax"
)

// Units maps canonical unit names to integer exponents. The empty map
// is dimensionless.
type Units map[string]int

func (u Units) Equal(o Units) bool {
	if len(u) != len(o) {
		return false
	}
	for k, v := range u {
		if o[k] != v {
			return false
		}
	}
	return true
}

func (u Units) clone() Units {
	out := make(Units, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Mul returns u*o.
func (u Units) Mul(o Units) Units {
	out := u.clone()
	for k, v := range o {
		out[k] += v
		if out[k] == 0 {
			delete(out, k)
		}
	}
	return out
}

// Div returns u/o.
func (u Units) Div(o Units) Units {
	out := u.clone()
	for k, v := range o {
		out[k] -= v
		if out[k] == 0 {
			delete(out, k)
		}
	}
	return out
}

// Pow returns u^n.
func (u Units) Pow(n int) Units {
	out := make(Units, len(u))
	if n == 0 {
		return out
	}
	for k, v := range u {
		out[k] = v * n
	}
	return out
}

func (u Units) String() string {
	if len(u) == 0 {
		return "dmnl"
	}
	var num, den []string
	for k, v := range u {
		switch {
		case v == 1:
			num = append(num, k)
		case v > 1:
			num = append(num, fmt.Sprintf("%s^%d", k, v))
		case v == -1:
			den = append(den, k)
		default:
			den = append(den, fmt.Sprintf("%s^%d", k, -v))
		}
	}
	sort.Strings(num)
	sort.Strings(den)
	switch {
	case len(num) == 0:
		return "1/" + strings.Join(den, "/")
	case len(den) == 0:
		return strings.Join(num, "*")
	default:
		return strings.Join(num, "*") + "/" + strings.Join(den, "/")
	}
}

// dimensionless names accepted in declarations.
var dmnlNames = map[string]bool{
	"1":             true,
	"dmnl":          true,
	"dimensionless": true,
	"fraction":      true,
}

// aliasTable folds declared unit aliases (and a trailing-s plural
// heuristic) onto canonical names.
type aliasTable map[string]string

func newAliasTable(decls []datamodel.UnitDecl) aliasTable {
	t := aliasTable{}
	for _, d := range decls {
		name := datamodel.Canonicalize(d.Name)
		for _, a := range d.Aliases {
			t[datamodel.Canonicalize(a)] = name
		}
	}
	return t
}

func (t aliasTable) canon(name string) string {
	if c, ok := t[name]; ok {
		return c
	}
	if strings.HasSuffix(name, "s") {
		if c, ok := t[name[:len(name)-1]]; ok {
			return c
		}
		// "years" and "year" are the same unit even without a
		// declaration.
		return name[:len(name)-1]
	}
	return name
}

// Parse folds a declared unit string into an exponent map. The second
// result is false (with a diagnostic message) when the string is not a
// well-formed unit expression.
func Parse(s string, aliases aliasTable) (Units, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ""
	}
	if dmnlNames[datamodel.Canonicalize(s)] {
		return Units{}, ""
	}
	e, diags := syntax.ParseExpr(s)
	if len(diags) > 0 {
		return nil, diags[0].Msg
	}
	return foldUnits(e, aliases)
}

func foldUnits(e syntax.Expr, aliases aliasTable) (Units, string) {
	switch v := e.(type) {
	case syntax.Const:
		if v.Value == 1 {
			return Units{}, ""
		}
		return nil, fmt.Sprintf("unexpected number %s in units", v.Lit)
	case syntax.Var:
		name := aliases.canon(v.Ident)
		if dmnlNames[name] {
			return Units{}, ""
		}
		return Units{name: 1}, ""
	case syntax.Op2:
		l, msg := foldUnits(v.X, aliases)
		if msg != "" {
			return nil, msg
		}
		switch v.Op {
		case syntax.Mul:
			r, msg := foldUnits(v.Y, aliases)
			if msg != "" {
				return nil, msg
			}
			return l.Mul(r), ""
		case syntax.Div:
			r, msg := foldUnits(v.Y, aliases)
			if msg != "" {
				return nil, msg
			}
			return l.Div(r), ""
		case syntax.Exp:
			c, ok := exponentOf(v.Y)
			if !ok {
				return nil, "unit exponents must be integer constants"
			}
			return l.Pow(c), ""
		}
		return nil, fmt.Sprintf("operator %s is not valid in units", v.Op)
	case syntax.Op1:
		if v.Op == syntax.Negative {
			// Only as an exponent sign; handled in exponentOf.
			return nil, "negation is not valid in units"
		}
		return foldUnits(v.X, aliases)
	}
	return nil, "not a valid unit expression"
}

func exponentOf(e syntax.Expr) (int, bool) {
	switch v := e.(type) {
	case syntax.Const:
		n := int(v.Value)
		if float64(n) != v.Value {
			return 0, false
		}
		return n, true
	case syntax.Op1:
		if v.Op == syntax.Negative {
			n, ok := exponentOf(v.X)
			return -n, ok
		}
	}
	return 0, false
}

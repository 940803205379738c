package units

import (
	"fmt"

	"github.com/flowsim-dev/flowsim/builtins"
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/syntax"
	"github.com/flowsim-dev/flowsim/vm"
	"github.com/rs/zerolog/log"
)

// term is the unit value of a subexpression. Constants are "any": they
// unify with whatever the other operand carries.
type term struct {
	known bool
	any   bool
	u     Units
}

func anyTerm() term          { return term{known: true, any: true} }
func unknownTerm() term      { return term{} }
func unitsTerm(u Units) term { return term{known: true, u: u} }

type checker struct {
	proj     *model.Project
	aliases  aliasTable
	timeU    term
	errs     datamodel.ErrorList
	units    map[string]Units
	declared map[string]bool
	report   bool
	changed  bool

	// current variable under evaluation, for diagnostics
	curModel string
	curIdent string
	flagged  map[string]bool
}

// Check runs dimensional analysis over every model of a project. The
// returned diagnostics are advisory: unit problems never make a model
// unsimulatable.
func Check(p *model.Project) datamodel.ErrorList {
	c := &checker{
		proj:     p,
		aliases:  newAliasTable(p.Source.Units),
		units:    map[string]Units{},
		declared: map[string]bool{},
		flagged:  map[string]bool{},
	}
	if tu := p.Specs.TimeUnits; tu != "" {
		c.timeU = unitsTerm(Units{c.aliases.canon(datamodel.Canonicalize(tu)): 1})
	}

	c.parseDeclared()

	// Inference to fixpoint, then one reporting pass so each finding
	// appears exactly once.
	for i := 0; i < 16; i++ {
		c.changed = false
		c.pass()
		if !c.changed {
			break
		}
	}
	c.report = true
	c.pass()

	log.Trace().Int("findings", len(c.errs)).Msg("Units: check complete")
	return c.errs
}

func (c *checker) key(modelName, ident string) string {
	return modelName + ":" + ident
}

func (c *checker) errorf(code datamodel.ErrorCode, format string, args ...any) {
	if !c.report {
		return
	}
	k := c.key(c.curModel, c.curIdent) + ":" + code.String()
	if c.flagged[k] {
		return
	}
	c.flagged[k] = true
	c.errs = append(c.errs, datamodel.EquationError{
		Model:   c.curModel,
		Ident:   c.curIdent,
		Code:    code,
		Details: fmt.Sprintf(format, args...),
	})
}

func (c *checker) parseDeclared() {
	for _, name := range c.proj.ModelNames() {
		m := c.proj.Models[name]
		for _, ident := range m.Order {
			v := m.Vars[ident]
			if v.Kind == model.KindModule || v.Units == "" {
				continue
			}
			u, msg := Parse(v.Units, c.aliases)
			if msg != "" {
				c.curModel, c.curIdent = name, ident
				c.report = true
				c.errorf(datamodel.ErrBadUnitExpression, "%q: %s", v.Units, msg)
				c.report = false
				continue
			}
			if u != nil {
				c.units[c.key(name, ident)] = u
				c.declared[c.key(name, ident)] = true
			}
		}
	}
}

// setInferred records a newly derived unit for an undeclared variable.
// Disagreements with an existing entry surface through checkEquation and
// the stock relation, not here.
func (c *checker) setInferred(modelName, ident string, u Units) {
	k := c.key(modelName, ident)
	if _, ok := c.units[k]; ok {
		return
	}
	c.units[k] = u
	c.changed = true
}

func (c *checker) pass() {
	for _, name := range c.proj.ModelNames() {
		m := c.proj.Models[name]
		for _, ident := range m.Order {
			v := m.Vars[ident]
			c.curModel, c.curIdent = name, ident
			switch v.Kind {
			case model.KindModule:
			case model.KindStock:
				c.checkStock(m, v)
			default:
				c.checkEquation(m, v, v.Eqn)
			}
		}
	}
}

// checkEquation unifies a variable's declared (or previously inferred)
// units with its equation's units.
func (c *checker) checkEquation(m *model.Model, v *model.Var, eqn model.EqnForm) {
	t := c.evalEqn(m, eqn)
	if !t.known || t.any {
		return
	}
	k := c.key(m.Name, v.Ident)
	if have, ok := c.units[k]; ok {
		if have.Equal(t.u) {
			return
		}
		if c.declared[k] {
			c.errorf(datamodel.ErrUnitMismatch,
				"declared %s but the equation has units %s", have, t.u)
		} else {
			c.errorf(datamodel.ErrUnitInferenceConflict,
				"inferred %s but the equation has units %s", have, t.u)
		}
		return
	}
	c.setInferred(m.Name, v.Ident, t.u)
}

// checkStock enforces the integration relation: a stock's units are
// its flows' units times time. The relation also runs backwards to
// infer whichever side is missing.
func (c *checker) checkStock(m *model.Model, v *model.Var) {
	c.checkEquation(m, v, v.Init)

	if !c.timeU.known {
		return
	}
	k := c.key(m.Name, v.Ident)
	stockU, stockKnown := c.units[k]
	for _, f := range append(append([]string{}, v.Inflows...), v.Outflows...) {
		fv := m.Vars[f]
		if fv == nil {
			continue
		}
		fk := c.key(m.Name, f)
		flowU, flowKnown := c.units[fk]
		switch {
		case flowKnown && stockKnown:
			want := flowU.Mul(c.timeU.u)
			if !stockU.Equal(want) {
				c.errorf(datamodel.ErrUnitMismatch,
					"stock is %s but flow %q integrates to %s", stockU, f, want)
			}
		case flowKnown:
			c.setInferred(m.Name, v.Ident, flowU.Mul(c.timeU.u))
			stockU, stockKnown = c.units[k], true
		case stockKnown:
			prev := c.curIdent
			c.curIdent = f
			c.setInferred(m.Name, f, stockU.Div(c.timeU.u))
			c.curIdent = prev
		}
	}
}

func (c *checker) evalEqn(m *model.Model, eqn model.EqnForm) term {
	switch q := eqn.(type) {
	case nil:
		return unknownTerm()
	case model.ScalarEqn:
		return c.eval(m, q.Expr)
	case model.ApplyToAllEqn:
		return c.eval(m, q.Expr)
	case model.ArrayedEqn:
		t := unknownTerm()
		for _, el := range q.Elements {
			t = c.unify(t, c.eval(m, el.Expr))
		}
		return t
	}
	return unknownTerm()
}

// unify merges two terms that must share units (addition, branches of
// a conditional), reporting a mismatch when both sides are concrete.
func (c *checker) unify(a, b term) term {
	switch {
	case !a.known || a.any:
		return b
	case !b.known || b.any:
		return a
	case a.u.Equal(b.u):
		return a
	default:
		c.errorf(datamodel.ErrUnitMismatch, "mixing %s with %s", a.u, b.u)
		return a
	}
}

func (c *checker) eval(m *model.Model, e syntax.Expr) term {
	switch v := e.(type) {
	case nil:
		return unknownTerm()
	case syntax.Const:
		return anyTerm()
	case syntax.Wildcard:
		return anyTerm()
	case syntax.Var:
		return c.varTerm(m, v.Ident)
	case syntax.Subscript:
		return c.varTerm(m, v.Ident)
	case syntax.Op1:
		t := c.eval(m, v.X)
		if v.Op == syntax.Not {
			return unitsTerm(Units{})
		}
		return t
	case syntax.Op2:
		return c.evalOp2(m, v)
	case syntax.If:
		c.eval(m, v.Cond)
		return c.unify(c.eval(m, v.Then), c.eval(m, v.Else))
	case syntax.App:
		return c.evalApp(m, v)
	}
	return unknownTerm()
}

func (c *checker) varTerm(m *model.Model, ident string) term {
	if model.IsReserved(ident) {
		return c.timeU
	}
	if datamodel.IsRootRef(ident) {
		root := c.proj.Main()
		target := datamodel.TrimRootRef(ident)
		if root == nil {
			return unknownTerm()
		}
		if _, rest := datamodel.SplitIdent(target); rest != "" {
			return unknownTerm()
		}
		if u, ok := c.units[c.key(root.Name, target)]; ok {
			return unitsTerm(u)
		}
		return unknownTerm()
	}
	first, rest := datamodel.SplitIdent(ident)
	if rest != "" {
		// Module internals are checked in their own model's scope.
		return unknownTerm()
	}
	if u, ok := c.units[c.key(m.Name, first)]; ok {
		return unitsTerm(u)
	}
	return unknownTerm()
}

func (c *checker) evalOp2(m *model.Model, v syntax.Op2) term {
	l := c.eval(m, v.X)
	r := c.eval(m, v.Y)
	switch v.Op {
	case syntax.Mul:
		return mulTerms(l, r, false)
	case syntax.Div:
		return mulTerms(l, r, true)
	case syntax.Exp:
		n, ok := exponentOf(v.Y)
		if !ok || !l.known || l.any {
			return unknownTerm()
		}
		return unitsTerm(l.u.Pow(n))
	case syntax.Add, syntax.Sub, syntax.Modulo:
		return c.unify(l, r)
	default:
		// Comparisons and logic are dimensionless, but their operands
		// still have to agree.
		c.unify(l, r)
		return unitsTerm(Units{})
	}
}

func mulTerms(l, r term, div bool) term {
	if !l.known || !r.known {
		return unknownTerm()
	}
	switch {
	case l.any && r.any:
		return anyTerm()
	case l.any:
		if div {
			return unitsTerm(Units{}.Div(r.u))
		}
		return r
	case r.any:
		return l
	case div:
		return unitsTerm(l.u.Div(r.u))
	default:
		return unitsTerm(l.u.Mul(r.u))
	}
}

func (c *checker) evalApp(m *model.Model, call syntax.App) term {
	spec, ok := builtins.Find(call.Name)
	if !ok {
		return unknownTerm()
	}
	args := make([]term, len(call.Args))
	for i, a := range call.Args {
		args[i] = c.eval(m, a)
	}
	if spec.Kind == builtins.Conditional && len(args) == 3 {
		return c.unify(args[1], args[2])
	}
	if spec.Kind == builtins.Aggregate && len(args) == 1 {
		return args[0]
	}
	if spec.Kind != builtins.Pure {
		return unknownTerm()
	}
	switch spec.Fn {
	case vm.FnAbs, vm.FnFloor, vm.FnInt:
		return args[0]
	case vm.FnMax, vm.FnMin:
		return c.unify(args[0], args[1])
	case vm.FnSafeDiv:
		if len(args) >= 2 {
			return mulTerms(args[0], args[1], true)
		}
		return unknownTerm()
	case vm.FnRamp:
		return mulTerms(args[0], c.timeU, false)
	case vm.FnPulse:
		return mulTerms(args[0], c.timeU, true)
	case vm.FnStairStep:
		return args[0]
	case vm.FnSin, vm.FnCos, vm.FnTan, vm.FnExp, vm.FnLn, vm.FnLog10,
		vm.FnArccos, vm.FnArcsin, vm.FnArctan:
		return unitsTerm(Units{})
	case vm.FnPi:
		return unitsTerm(Units{})
	default:
		return unknownTerm()
	}
}

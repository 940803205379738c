package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/syntax"
	"github.com/rs/zerolog/log"
)

type builder struct {
	p         *Project
	src       *datamodel.Project
	dimNames  map[string]bool
	elemNames map[string]bool
	needed    []string
	neededSet map[string]bool
}

// Build lowers a loaded project to stage 1. It never fails outright:
// diagnostics accumulate on the returned Project and the variables they
// concern are excluded from the runlists, so everything unaffected
// stays simulatable.
func Build(src *datamodel.Project) *Project {
	b := &builder{
		p:         &Project{Source: src, Specs: src.Specs, Models: map[string]*Model{}},
		src:       src,
		dimNames:  map[string]bool{},
		elemNames: map[string]bool{},
		neededSet: map[string]bool{},
	}

	if err := src.Specs.Validate(); err != nil {
		b.errorf("", "", datamodel.ErrBadSimSpecs, "%s", err.Error())
	}
	for _, d := range src.Dimensions {
		b.dimNames[d.Name] = true
		for _, e := range d.Elements {
			b.elemNames[e] = true
		}
	}

	for _, sm := range src.Models {
		b.convert(sm)
	}
	b.resolveStdlib()

	names := b.p.ModelNames()
	for _, name := range names {
		m := b.p.Models[name]
		b.checkStructure(m)
		b.collectDeps(m)
	}
	b.attachRootDeps()
	for _, name := range names {
		m := b.p.Models[name]
		b.checkDeps(m)
		b.checkCycles(m)
	}
	// A second pass so cross-model problems (a broken stdlib instance,
	// say) have already been attributed before errors spread.
	for _, name := range names {
		m := b.p.Models[name]
		propagateErrors(m)
		buildRunlists(m, b.stepEdges(m), b.initEdges(m))
	}

	log.Trace().Int("models", len(b.p.Models)).Int("errors", len(b.p.Errors)).Msg("Build: lowering complete")
	return b.p
}

func (b *builder) errorf(model, ident string, code datamodel.ErrorCode, format string, args ...any) {
	b.p.Errors = append(b.p.Errors, datamodel.EquationError{
		Model:   model,
		Ident:   ident,
		Code:    code,
		Details: fmt.Sprintf(format, args...),
	})
}

func (b *builder) needStdlib(name string) {
	if b.neededSet[name] {
		return
	}
	b.neededSet[name] = true
	b.needed = append(b.needed, name)
}

// resolveStdlib converts every stdlib model requested during expansion.
// Stdlib equations contain no stateful builtins, so this cannot grow
// the queue past one generation per distinct delay order.
func (b *builder) resolveStdlib() {
	for len(b.needed) > 0 {
		name := b.needed[0]
		b.needed = b.needed[1:]
		if b.p.Models[name] != nil {
			continue
		}
		sm, ok := stdlibModel(name)
		if !ok {
			b.errorf("", name, datamodel.ErrInternal, "no stdlib model for %q", name)
			continue
		}
		b.convert(sm)
	}
}

// convert lowers one model's variables: parse, validate the statically
// checkable pieces, and expand stateful builtins. Synthesized variables
// are spliced in right after the variable whose equation produced them.
func (b *builder) convert(sm *datamodel.Model) {
	if b.p.Models[sm.Name] != nil {
		b.errorf(sm.Name, "", datamodel.ErrDuplicateVariable, "model %q defined more than once", sm.Name)
		return
	}
	m := &Model{Name: sm.Name, Vars: map[string]*Var{}}
	b.p.Models[sm.Name] = m

	counter := 0
	for _, sv := range sm.Variables {
		ident := sv.Ident()
		if m.Vars[ident] != nil {
			b.errorf(sm.Name, ident, datamodel.ErrDuplicateVariable, "variable defined more than once")
			continue
		}

		errored := false
		v := &Var{
			Ident: ident,
			Dims:  append([]string(nil), sv.Dimensions()...),
			Units: sv.UnitString(),
		}
		switch sv := sv.(type) {
		case datamodel.Stock:
			v.Kind = KindStock
			v.NonNegative = sv.NonNegative
			v.Inflows = append([]string(nil), sv.Inflows...)
			v.Outflows = append([]string(nil), sv.Outflows...)
			if emptyEqn(sv.Initial) {
				b.errorf(sm.Name, ident, datamodel.ErrStockWithoutInitial, "stock has no initial value")
				errored = true
			} else {
				v.Init = b.parseEqn(sm.Name, ident, sv.Initial, &errored)
			}
		case datamodel.Flow:
			v.Kind = KindFlow
			v.NonNegative = sv.NonNegative
			v.Table = b.checkTable(sm.Name, ident, sv.Table, &errored)
			v.Eqn = b.parseEqn(sm.Name, ident, sv.Eqn, &errored)
		case datamodel.Aux:
			v.Kind = KindAux
			v.Table = b.checkTable(sm.Name, ident, sv.Table, &errored)
			v.Eqn = b.parseEqn(sm.Name, ident, sv.Eqn, &errored)
		case datamodel.Module:
			v.Kind = KindModule
			v.ModelName = sv.ModelName
			v.Inputs = append([]datamodel.ModuleInput(nil), sv.Inputs...)
		}
		for _, d := range v.Dims {
			if !b.dimNames[d] {
				b.errorf(sm.Name, ident, datamodel.ErrUnknownDimension, "unknown dimension %q", d)
				errored = true
			}
		}

		x := &expander{
			b:        b,
			model:    sm.Name,
			varIdent: ident,
			arrayed:  len(v.Dims) > 0,
			errored:  &errored,
			counter:  &counter,
		}
		v.Eqn = x.rewriteEqn(v.Eqn)
		v.Init = x.rewriteEqn(v.Init)
		v.Errored = errored

		m.Vars[ident] = v
		m.Order = append(m.Order, ident)
		for _, nv := range x.newVars {
			if m.Vars[nv.Ident] != nil {
				b.errorf(sm.Name, nv.Ident, datamodel.ErrInternal, "synthesized identifier collides")
				continue
			}
			m.Vars[nv.Ident] = nv
			m.Order = append(m.Order, nv.Ident)
		}
	}
}

func emptyEqn(eq datamodel.Equation) bool {
	switch q := eq.(type) {
	case nil:
		return true
	case datamodel.Scalar:
		return strings.TrimSpace(q.Expr) == ""
	case datamodel.ApplyToAll:
		return strings.TrimSpace(q.Expr) == ""
	case datamodel.Arrayed:
		return len(q.Elements) == 0
	}
	return true
}

func (b *builder) parseEqn(model, ident string, eq datamodel.Equation, errored *bool) EqnForm {
	switch q := eq.(type) {
	case nil:
		return nil
	case datamodel.Scalar:
		e := b.parseExpr(model, ident, q.Expr, errored)
		if e == nil {
			return nil
		}
		return ScalarEqn{Expr: e}
	case datamodel.ApplyToAll:
		e := b.parseExpr(model, ident, q.Expr, errored)
		if e == nil {
			return nil
		}
		return ApplyToAllEqn{Expr: e}
	case datamodel.Arrayed:
		elems := make([]ElementEqn, 0, len(q.Elements))
		for _, el := range q.Elements {
			e := b.parseExpr(model, ident, el.Expr, errored)
			if e == nil {
				continue
			}
			elems = append(elems, ElementEqn{Subscript: el.Subscript, Expr: e})
		}
		return ArrayedEqn{Elements: elems}
	}
	return nil
}

func (b *builder) parseExpr(model, ident, src string, errored *bool) syntax.Expr {
	e, diags := syntax.ParseExpr(src)
	for _, d := range diags {
		b.p.Errors = append(b.p.Errors, datamodel.EquationError{
			Model:   model,
			Ident:   ident,
			Code:    d.Code,
			Line:    d.Loc.Line,
			Col:     d.Loc.Col,
			Details: d.Msg,
		})
		*errored = true
	}
	return e
}

func (b *builder) checkTable(model, ident string, t *datamodel.Table, errored *bool) *datamodel.Table {
	if t == nil {
		return nil
	}
	switch {
	case len(t.X) == 0:
		b.errorf(model, ident, datamodel.ErrEmptyTable, "graphical function has no points")
		*errored = true
	case len(t.X) != len(t.Y):
		b.errorf(model, ident, datamodel.ErrBadTable, "graphical function has %d x values but %d y values", len(t.X), len(t.Y))
		*errored = true
	case !t.Valid():
		b.errorf(model, ident, datamodel.ErrTableNotIncreasing, "graphical function x values must be strictly increasing")
		*errored = true
	}
	return t
}

// checkStructure validates the statically resolvable cross-variable
// references: stock flow lists and module instantiations.
func (b *builder) checkStructure(m *Model) {
	for _, ident := range m.Order {
		v := m.Vars[ident]
		switch v.Kind {
		case KindStock:
			for _, f := range append(append([]string{}, v.Inflows...), v.Outflows...) {
				fv := m.Vars[f]
				if fv == nil || (fv.Kind != KindFlow && fv.Kind != KindAux) {
					b.errorf(m.Name, ident, datamodel.ErrBadFlowReference, "%q is not a flow of this model", f)
					v.Errored = true
				}
			}
		case KindModule:
			child := b.p.Models[v.ModelName]
			if child == nil {
				b.errorf(m.Name, ident, datamodel.ErrBadModelName, "no model named %q", v.ModelName)
				v.Errored = true
				continue
			}
			for _, in := range v.Inputs {
				if in.Src == "" || datamodel.IsRootRef(in.Src) {
					b.errorf(m.Name, ident, datamodel.ErrBadModuleInputSrc, "bad input source %q", in.Src)
					v.Errored = true
				}
				switch {
				case strings.Contains(in.Dst, "."):
					b.errorf(m.Name, ident, datamodel.ErrNestedModuleInputDst, "input %q targets a nested module", in.Dst)
					v.Errored = true
				case child.Vars[in.Dst] == nil:
					b.errorf(m.Name, ident, datamodel.ErrModuleInputNotFound, "%q has no variable %q", v.ModelName, in.Dst)
					v.Errored = true
				}
			}
			if b.reaches(v.ModelName, m.Name, map[string]bool{}) {
				b.errorf(m.Name, ident, datamodel.ErrRecursiveModule, "%q transitively instantiates %q", v.ModelName, m.Name)
				v.Errored = true
			}
		}
	}
}

// reaches reports whether instantiating model `from` eventually
// instantiates `target`.
func (b *builder) reaches(from, target string, seen map[string]bool) bool {
	if from == target {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	child := b.p.Models[from]
	if child == nil {
		return false
	}
	for _, ident := range child.Order {
		if v := child.Vars[ident]; v.Kind == KindModule && b.reaches(v.ModelName, target, seen) {
			return true
		}
	}
	return false
}

// attachRootDeps gives each module instance in the top-level model an
// edge to every root-referenced variable its model (transitively)
// reads. The reference itself compiles to an absolute slot read; the
// edge is what keeps the instance from running before that slot is
// computed. Unresolvable references get no edge here; they are
// diagnosed on the variable that holds them.
func (b *builder) attachRootDeps() {
	main := b.p.Main()
	if main == nil {
		return
	}
	memo := map[string][]string{}
	for _, ident := range main.Order {
		v := main.Vars[ident]
		if v.Kind != KindModule {
			continue
		}
		for _, ref := range b.modelRootRefs(v.ModelName, memo, map[string]bool{}) {
			target := datamodel.TrimRootRef(ref)
			if _, ok := b.resolveDep(main, target); !ok {
				continue
			}
			v.Deps = addDep(v.Deps, target)
			v.InitDeps = addDep(v.InitDeps, target)
		}
	}
}

// modelRootRefs collects the root references reachable from one model,
// including those of the models it instantiates.
func (b *builder) modelRootRefs(name string, memo map[string][]string, visiting map[string]bool) []string {
	if refs, ok := memo[name]; ok {
		return refs
	}
	if visiting[name] {
		return nil
	}
	visiting[name] = true
	defer delete(visiting, name)

	m := b.p.Models[name]
	if m == nil {
		return nil
	}
	set := map[string]bool{}
	for _, ident := range m.Order {
		v := m.Vars[ident]
		for _, d := range append(append([]string{}, v.Deps...), v.InitDeps...) {
			if datamodel.IsRootRef(d) {
				set[d] = true
			}
		}
		if v.Kind == KindModule {
			for _, r := range b.modelRootRefs(v.ModelName, memo, visiting) {
				set[r] = true
			}
		}
	}
	refs := depSlice(set)
	memo[name] = refs
	return refs
}

func addDep(deps []string, d string) []string {
	for _, have := range deps {
		if have == d {
			return deps
		}
	}
	deps = append(deps, d)
	sort.Strings(deps)
	return deps
}

// sortedIdents is a convenience for deterministic iteration in tests
// and debug output.
func sortedIdents(vars map[string]*Var) []string {
	out := make([]string, 0, len(vars))
	for ident := range vars {
		out = append(out, ident)
	}
	sort.Strings(out)
	return out
}

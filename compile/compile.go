package compile

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/syntax"
	"github.com/flowsim-dev/flowsim/vm"
)

type compiler struct {
	proj  *model.Project
	units map[string]*Unit
	order []*Unit
	root  *scope
	errs  datamodel.ErrorList
}

// Compile lowers a stage-1 project to bytecode. Diagnostics (including
// the ones inherited from earlier stages) accumulate per variable;
// variables that fail to compile get NaN slots and everything else
// keeps running. Program is nil only when there is no model to run.
func Compile(p *model.Project) *Compiled {
	c := &compiler{proj: p, units: map[string]*Unit{}}
	c.errs = append(c.errs, p.Errors...)

	comp := &Compiled{Specs: p.Specs}
	main := p.Main()
	if main == nil || len(main.Order) == 0 {
		c.errorf("", "", datamodel.ErrNotSimulatable, "project has no model to simulate")
		comp.Errors = c.errs
		return comp
	}

	// Layout first, lowering second: root references compile to
	// absolute slots, so every scope must be placed before any
	// equation lowers.
	key := classKey(main.Name, nil)
	root := c.buildUnit(main, nil, key, map[string]bool{key: true})
	c.root = root.scope
	for _, u := range c.order {
		c.lowerUnit(u)
	}

	offsets := map[string]int{
		"time":         vm.TimeOff,
		"dt":           vm.DTOff,
		"initial_time": vm.InitialTimeOff,
		"final_time":   vm.FinalTimeOff,
	}
	c.flattenOffsets(root, "", vm.FirstVarOff, offsets)
	nSlots := vm.FirstVarOff + root.NSlots
	if nSlots >= maxSlots {
		c.errorf(main.Name, "", datamodel.ErrTooManySlots, "project needs %d slots", nSlots)
		comp.Errors = c.errs
		return comp
	}

	for _, name := range p.ModelNames() {
		m := p.Models[name]
		n := 0
		for _, ident := range m.Order {
			if m.Vars[ident].Errored {
				n++
			}
		}
		if n > 0 {
			c.errorf(name, "", datamodel.ErrVariablesHaveErrors, "%d variable(s) did not compile", n)
		}
	}

	comp.Root = root
	comp.Units = c.units
	comp.Offsets = offsets
	comp.NSlots = nSlots
	comp.Errors = c.errs
	comp.Program = &vm.Program{
		Specs:   p.Specs,
		Root:    c.generate(root, map[*Unit]*vm.CompiledModule{}),
		Offsets: offsets,
		NSlots:  nSlots,
	}
	log.Trace().Int("slots", nSlots).Int("units", len(c.units)).Int("errors", len(c.errs)).
		Msg("Compile: bytecode ready")
	return comp
}

// Err returns the diagnostics as an error, nil when the compile was
// clean.
func (comp *Compiled) Err() error {
	if len(comp.Errors) == 0 {
		return nil
	}
	return comp.Errors
}

func (c *compiler) errorf(modelName, ident string, code datamodel.ErrorCode, format string, args ...any) {
	c.errs = append(c.errs, datamodel.EquationError{
		Model:   modelName,
		Ident:   ident,
		Code:    code,
		Details: fmt.Sprintf(format, args...),
	})
}

func (c *compiler) errorfAt(modelName, ident string, code datamodel.ErrorCode, loc syntax.Loc, format string, args ...any) {
	c.errs = append(c.errs, datamodel.EquationError{
		Model:   modelName,
		Ident:   ident,
		Code:    code,
		Line:    loc.Line,
		Col:     loc.Col,
		Details: fmt.Sprintf(format, args...),
	})
}

func (c *compiler) isDimElement(name string) bool {
	for _, d := range c.proj.Source.Dimensions {
		if d.IndexOf(name) > 0 {
			return true
		}
	}
	return false
}

// unitFor compiles (or reuses) the instance class for one module
// variable. Classes are keyed by model name plus the set of bound
// inputs, so two instances with the same bindings share bytecode.
func (c *compiler) unitFor(v *model.Var, visiting map[string]bool) *Unit {
	m := c.proj.Models[v.ModelName]
	if m == nil {
		// Diagnosed during model lowering.
		return nil
	}
	dsts := make([]string, 0, len(v.Inputs))
	for _, in := range v.Inputs {
		dsts = append(dsts, in.Dst)
	}
	key := classKey(v.ModelName, dsts)
	if u, ok := c.units[key]; ok {
		return u
	}
	if visiting[key] {
		// Guarded in model lowering too; this is the backstop.
		return nil
	}
	visiting[key] = true
	u := c.buildUnit(m, dsts, key, visiting)
	delete(visiting, key)
	return u
}

// buildUnit lays out one instance class, recursing into the classes it
// instantiates. Lowering happens in a later pass, once every scope has
// its slots.
func (c *compiler) buildUnit(m *model.Model, bound []string, key string, visiting map[string]bool) *Unit {
	s := &scope{
		c:        c,
		m:        m,
		bound:    map[string]bool{},
		offsets:  map[string]uint16{},
		sizes:    map[string]int{},
		tableIdx: map[string]uint16{},
		callIdx:  map[string]uint16{},
	}
	for _, d := range bound {
		s.bound[d] = true
	}
	u := &Unit{Ident: key, ModelName: m.Name, scope: s}
	s.unit = u
	c.units[key] = u
	c.order = append(c.order, u)

	if !s.layout(visiting) {
		return u
	}
	s.wireInputs()
	s.laid = true
	return u
}

// lowerUnit emits one unit's three runlists.
func (c *compiler) lowerUnit(u *Unit) {
	s := u.scope
	if !s.laid {
		return
	}
	m := s.m

	// Slots of variables that never compile read as NaN, not zero.
	for _, ident := range m.Order {
		v := m.Vars[ident]
		if v.Errored && v.Kind != model.KindModule {
			u.Initials = append(u.Initials, s.nanFill(v)...)
		}
	}

	// Aux and flow assignments are shared between the initials and
	// flows lists; lowering them once keeps diagnostics single too.
	cache := map[string][]Stmt{}
	lowered := func(v *model.Var) ([]Stmt, bool) {
		if stmts, ok := cache[v.Ident]; ok {
			return stmts, stmts != nil
		}
		stmts, ok := s.emitAuxFlow(v)
		if !ok {
			stmts = nil
		}
		cache[v.Ident] = stmts
		return stmts, ok
	}

	for _, ident := range m.Initials {
		v := m.Vars[ident]
		if s.bound[ident] {
			continue
		}
		switch v.Kind {
		case model.KindModule:
			if idx, ok := s.callIdx[ident]; ok {
				u.Initials = append(u.Initials, Call{Idx: idx})
			}
		case model.KindStock:
			stmts, ok := s.emitStockInit(v)
			if !ok {
				u.Initials = append(u.Initials, s.nanFill(v)...)
				continue
			}
			u.Initials = append(u.Initials, stmts...)
		default:
			stmts, ok := lowered(v)
			if !ok {
				u.Initials = append(u.Initials, s.nanFill(v)...)
				continue
			}
			u.Initials = append(u.Initials, stmts...)
		}
	}

	for _, ident := range m.Flows {
		v := m.Vars[ident]
		if s.bound[ident] {
			continue
		}
		if v.Kind == model.KindModule {
			if idx, ok := s.callIdx[ident]; ok {
				u.Flows = append(u.Flows, Call{Idx: idx})
			}
			continue
		}
		if stmts, ok := lowered(v); ok {
			u.Flows = append(u.Flows, stmts...)
		}
	}

	for _, ident := range m.Stocks {
		v := m.Vars[ident]
		if v.Kind == model.KindModule {
			if idx, ok := s.callIdx[ident]; ok {
				u.Stocks = append(u.Stocks, Call{Idx: idx})
			}
			continue
		}
		if stmts, ok := s.emitStockUpdate(v); ok {
			u.Stocks = append(u.Stocks, stmts...)
		}
	}
}

// nanFill produces NaN assignments covering every slot of a variable.
func (s *scope) nanFill(v *model.Var) []Stmt {
	base := s.offsets[v.Ident]
	n := s.sizes[v.Ident]
	out := make([]Stmt, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Assign{Off: base + uint16(i), Rhs: Const{Val: math.NaN()}})
	}
	return out
}

// wrapValue applies a variable's graphical function and non-negativity
// clamp around its lowered equation.
func (s *scope) wrapValue(v *model.Var, rhs Expr) Expr {
	if v.Table != nil {
		rhs = Lookup{Table: s.tableFor(v), X: rhs}
	}
	if v.NonNegative && v.Kind == model.KindFlow {
		rhs = App{Fn: vm.FnMax, Args: []Expr{Const{Val: 0}, rhs}}
	}
	return rhs
}

// emitAuxFlow lowers a flow or aux variable to current-buffer
// assignments, unrolling or broadcasting arrays per policy.
func (s *scope) emitAuxFlow(v *model.Var) ([]Stmt, bool) {
	if v.Eqn == nil {
		s.c.errorf(s.m.Name, v.Ident, datamodel.ErrEmptyEquation, "variable has no equation")
		return nil, false
	}
	return s.emitEqn(v, v.Eqn, false, true)
}

// emitStockInit lowers a stock's initial value to current-buffer
// assignments.
func (s *scope) emitStockInit(v *model.Var) ([]Stmt, bool) {
	if v.Init == nil {
		s.c.errorf(s.m.Name, v.Ident, datamodel.ErrStockWithoutInitial, "stock has no initial value")
		return nil, false
	}
	return s.emitEqn(v, v.Init, false, false)
}

// emitEqn lowers one equation form against a variable's layout. next
// selects the target buffer; wrap applies table/clamp semantics.
func (s *scope) emitEqn(v *model.Var, eqn model.EqnForm, next, wrap bool) ([]Stmt, bool) {
	base := s.offsets[v.Ident]
	dims := s.c.dimsOf(v)
	finish := func(x *lctx, rhs Expr) (Expr, bool) {
		if x.failed {
			return nil, false
		}
		if wrap {
			rhs = s.wrapValue(v, rhs)
		}
		return rhs, true
	}

	if len(dims) == 0 {
		expr, ok := scalarExprOf(eqn)
		if !ok {
			s.c.errorf(s.m.Name, v.Ident, datamodel.ErrMismatchedDimensions,
				"element-specific equation on a scalar variable")
			return nil, false
		}
		x := &lctx{s: s, varIdent: v.Ident, binding: map[string]string{}}
		rhs, ok := finish(x, x.lower(expr))
		if !ok {
			return nil, false
		}
		return []Stmt{Assign{Off: base, Next: next, Rhs: rhs}}, true
	}

	n := s.sizes[v.Ident]
	switch q := eqn.(type) {
	case model.ScalarEqn, model.ApplyToAllEqn:
		expr, _ := scalarExprOf(eqn)
		if !next && n > unrollLimit {
			xb := &lctx{s: s, varIdent: v.Ident, dims: dims, binding: map[string]string{}, bcast: true}
			if xb.canBroadcast(expr) {
				rhs, ok := finish(xb, xb.lower(expr))
				if !ok {
					return nil, false
				}
				return []Stmt{Loop{Dst: base, N: uint16(n), Rhs: rhs}}, true
			}
		}
		var out []Stmt
		for _, combo := range enumerate(dims) {
			x := &lctx{s: s, varIdent: v.Ident, dims: dims, binding: bindingFor(dims, combo)}
			rhs, ok := finish(x, x.lower(expr))
			if !ok {
				return nil, false
			}
			out = append(out, Assign{Off: base + uint16(elemOffset(dims, combo)), Next: next, Rhs: rhs})
		}
		return out, true

	case model.ArrayedEqn:
		if len(dims) != 1 {
			s.c.errorf(s.m.Name, v.Ident, datamodel.ErrMismatchedDimensions,
				"element-specific equations require exactly one dimension")
			return nil, false
		}
		d := dims[0]
		byElem := map[string]syntax.Expr{}
		for _, el := range q.Elements {
			if d.IndexOf(el.Subscript) == 0 {
				s.c.errorf(s.m.Name, v.Ident, datamodel.ErrUnknownSubscriptElement,
					"%q is not an element of dimension %s", el.Subscript, d.Name)
				return nil, false
			}
			byElem[el.Subscript] = el.Expr
		}
		var out []Stmt
		for i, elem := range d.Elements {
			expr, ok := byElem[elem]
			if !ok {
				s.c.errorf(s.m.Name, v.Ident, datamodel.ErrMismatchedDimensions,
					"no equation for element %q", elem)
				return nil, false
			}
			x := &lctx{s: s, varIdent: v.Ident, dims: dims, binding: map[string]string{d.Name: elem}}
			rhs, ok2 := finish(x, x.lower(expr))
			if !ok2 {
				return nil, false
			}
			out = append(out, Assign{Off: base + uint16(i), Next: next, Rhs: rhs})
		}
		return out, true
	}
	return nil, false
}

func scalarExprOf(eqn model.EqnForm) (syntax.Expr, bool) {
	switch q := eqn.(type) {
	case model.ScalarEqn:
		return q.Expr, true
	case model.ApplyToAllEqn:
		return q.Expr, true
	}
	return nil, false
}

func bindingFor(dims []datamodel.Dimension, combo []int) map[string]string {
	binding := make(map[string]string, len(dims))
	for i, d := range dims {
		binding[d.Name] = d.Elements[combo[i]]
	}
	return binding
}

// emitStockUpdate lowers a stock's Euler step: next = curr + dt * net
// flow, clamped at zero for non-negative stocks. Array stocks always
// unroll; next-buffer writes have no broadcast form.
func (s *scope) emitStockUpdate(v *model.Var) ([]Stmt, bool) {
	base := s.offsets[v.Ident]
	dims := s.c.dimsOf(v)
	combos := enumerate(dims)
	if len(combos) == 0 {
		combos = [][]int{nil}
	}

	var out []Stmt
	for _, combo := range combos {
		off := base
		if combo != nil {
			off += uint16(elemOffset(dims, combo))
		}
		cur := Local{Off: off}
		net, ok := s.netFlow(v, dims, combo)
		if !ok {
			return nil, false
		}
		var rhs Expr = cur
		if net != nil {
			rhs = Bin{Op: vm.BinAdd, L: cur, R: Bin{Op: vm.BinMul, L: Global{Off: vm.DTOff}, R: net}}
		}
		if v.NonNegative {
			rhs = App{Fn: vm.FnMax, Args: []Expr{Const{Val: 0}, rhs}}
		}
		out = append(out, Assign{Off: off, Next: true, Rhs: rhs})
	}
	return out, true
}

// netFlow builds inflows minus outflows for one stock element. A nil
// expression means the stock has no flows at all.
func (s *scope) netFlow(v *model.Var, dims []datamodel.Dimension, combo []int) (Expr, bool) {
	var net Expr
	add := func(name string, subtract bool) bool {
		ref, ok := s.flowRef(v, name, dims, combo)
		if !ok {
			return false
		}
		switch {
		case net == nil && subtract:
			net = Neg{X: ref}
		case net == nil:
			net = ref
		case subtract:
			net = Bin{Op: vm.BinSub, L: net, R: ref}
		default:
			net = Bin{Op: vm.BinAdd, L: net, R: ref}
		}
		return true
	}
	for _, f := range v.Inflows {
		if !add(f, false) {
			return nil, false
		}
	}
	for _, f := range v.Outflows {
		if !add(f, true) {
			return nil, false
		}
	}
	return net, true
}

// flowRef resolves one flow of a stock at the stock's current element.
// Scalar flows feed every element of an array stock.
func (s *scope) flowRef(stock *model.Var, name string, dims []datamodel.Dimension, combo []int) (Expr, bool) {
	fv := s.m.Vars[name]
	if fv == nil {
		s.c.errorf(s.m.Name, stock.Ident, datamodel.ErrBadFlowReference, "%q is not a flow of this model", name)
		return nil, false
	}
	off := s.offsets[name]
	fdims := s.c.dimsOf(fv)
	switch {
	case len(fdims) == 0:
		return Local{Off: off}, true
	case sameDims(fdims, dims):
		return Local{Off: off + uint16(elemOffset(fdims, combo))}, true
	default:
		s.c.errorf(s.m.Name, stock.Ident, datamodel.ErrMismatchedDimensions,
			"flow %q is dimensioned %v but the stock is %v", name, fv.Dims, stock.Dims)
		return nil, false
	}
}

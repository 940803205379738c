package compile

import (
	"math"

	"github.com/flowsim-dev/flowsim/builtins"
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/syntax"
	"github.com/flowsim-dev/flowsim/vm"
)

// Arrays with at most this many elements are always unrolled; larger
// apply-to-all equations become broadcast loops when their shape
// allows it.
const unrollLimit = 8

// lctx is the context for lowering one expression to scalar form:
// which variable it defines, which dimensions are in scope, and (when
// unrolling) which element each dimension is currently bound to.
type lctx struct {
	s        *scope
	varIdent string
	dims     []datamodel.Dimension
	binding  map[string]string // dimension name -> element name
	bcast    bool
	failed   bool
}

func (x *lctx) errorf(loc syntax.Loc, code datamodel.ErrorCode, format string, args ...any) {
	x.s.c.errorfAt(x.s.m.Name, x.varIdent, code, loc, format, args...)
	x.failed = true
}

var globalOffsets = map[string]uint16{
	"time":         vm.TimeOff,
	"dt":           vm.DTOff,
	"initial_time": vm.InitialTimeOff,
	"final_time":   vm.FinalTimeOff,
}

func (x *lctx) lower(e syntax.Expr) Expr {
	switch v := e.(type) {
	case syntax.Const:
		return Const{Val: v.Value}
	case syntax.Var:
		return x.lowerVar(v.Ident, v.Loc)
	case syntax.Subscript:
		return x.lowerSubscript(v)
	case syntax.Wildcard:
		x.errorf(v.Loc, datamodel.ErrWildcardOutsideAggregate, "wildcard subscripts only appear inside sum and mean")
		return Const{Val: math.NaN()}
	case syntax.Op1:
		switch v.Op {
		case syntax.Negative:
			return Neg{X: x.lower(v.X)}
		case syntax.Positive:
			return x.lower(v.X)
		default:
			return Not{X: x.lower(v.X)}
		}
	case syntax.Op2:
		return Bin{Op: binOpFor(v.Op), L: x.lower(v.X), R: x.lower(v.Y)}
	case syntax.If:
		return Cond{If: x.lower(v.Cond), Then: x.lower(v.Then), Else: x.lower(v.Else)}
	case syntax.App:
		return x.lowerApp(v)
	}
	x.errorf(e.Pos(), datamodel.ErrInternal, "unhandled expression form")
	return Const{Val: math.NaN()}
}

func binOpFor(op syntax.BinOp) vm.BinOp {
	switch op {
	case syntax.Add:
		return vm.BinAdd
	case syntax.Sub:
		return vm.BinSub
	case syntax.Mul:
		return vm.BinMul
	case syntax.Div:
		return vm.BinDiv
	case syntax.Exp:
		return vm.BinExp
	case syntax.Modulo:
		return vm.BinMod
	case syntax.Gt:
		return vm.BinGt
	case syntax.Gte:
		return vm.BinGte
	case syntax.Lt:
		return vm.BinLt
	case syntax.Lte:
		return vm.BinLte
	case syntax.Eq:
		return vm.BinEq
	case syntax.Neq:
		return vm.BinNeq
	case syntax.LogicalAnd:
		return vm.BinAnd
	}
	return vm.BinOr
}

func (x *lctx) lowerVar(ident string, loc syntax.Loc) Expr {
	if off, ok := globalOffsets[ident]; ok {
		return Global{Off: off}
	}
	if datamodel.IsRootRef(ident) {
		return x.lowerRootRef(ident, loc)
	}
	first, rest := datamodel.SplitIdent(ident)
	if rest != "" {
		off, ok := x.s.scalarOffset(ident)
		if !ok {
			if _, leaf := datamodel.SplitIdent(rest); leaf == "" && rest == "output" {
				x.errorf(loc, datamodel.ErrModuleOutputNotFound, "%q has no output", first)
			} else {
				x.errorf(loc, datamodel.ErrUnknownDependency, "reference to undefined variable %q", ident)
			}
			return Const{Val: math.NaN()}
		}
		return Local{Off: off}
	}

	v := x.s.m.Vars[first]
	if v == nil {
		x.errorf(loc, datamodel.ErrUnknownDependency, "reference to undefined variable %q", first)
		return Const{Val: math.NaN()}
	}
	if v.Kind == model.KindModule {
		off, ok := x.s.scalarOffset(first + ".output")
		if !ok {
			x.errorf(loc, datamodel.ErrModuleOutputNotFound, "%q has no output", first)
			return Const{Val: math.NaN()}
		}
		return Local{Off: off}
	}
	if len(v.Dims) == 0 {
		return Local{Off: x.s.offsets[first]}
	}
	return x.lowerWholeArray(v, loc)
}

// lowerRootRef resolves a '.'-prefixed reference against the top-level
// model's scope. The read is an absolute slot, so instance classes
// shared between call sites agree on it.
func (x *lctx) lowerRootRef(ident string, loc syntax.Loc) Expr {
	off, ok := x.s.c.root.scalarOffset(datamodel.TrimRootRef(ident))
	if !ok {
		x.errorf(loc, datamodel.ErrUnknownDependency,
			"root reference %q does not resolve to a scalar variable", ident)
		return Const{Val: math.NaN()}
	}
	return Global{Off: vm.FirstVarOff + off}
}

// lowerWholeArray resolves a bare reference to an array variable. It is
// legal only where the surrounding equation pins every one of the
// array's dimensions to a single element.
func (x *lctx) lowerWholeArray(v *model.Var, loc syntax.Loc) Expr {
	base := x.s.offsets[v.Ident]
	dims := x.s.c.dimsOf(v)
	if x.bcast {
		if sameDims(dims, x.dims) {
			return Elem{Off: base}
		}
		x.errorf(loc, datamodel.ErrMismatchedDimensions,
			"%q is dimensioned %v, which does not match this equation", v.Ident, v.Dims)
		return Const{Val: math.NaN()}
	}
	indices := make([]int, len(dims))
	for i, d := range dims {
		idx, ok := x.elementFor(d)
		if !ok {
			x.errorf(loc, datamodel.ErrArrayReferenceNeedsSubscripts,
				"%q is an array; subscript it or match its dimensions", v.Ident)
			return Const{Val: math.NaN()}
		}
		indices[i] = idx
	}
	return Local{Off: base + uint16(elemOffset(dims, indices))}
}

// elementFor finds the 0-based element of dimension d pinned by the
// current binding, either directly or through a subdimension.
func (x *lctx) elementFor(d datamodel.Dimension) (int, bool) {
	if e, ok := x.binding[d.Name]; ok {
		if idx := d.IndexOf(e); idx > 0 {
			return idx - 1, true
		}
		return 0, false
	}
	for ctxDim, e := range x.binding {
		cd, ok := x.s.c.proj.Source.Dimension(ctxDim)
		if ok && cd.SubdimOf == d.Name {
			if idx := d.IndexOf(e); idx > 0 {
				return idx - 1, true
			}
		}
	}
	return 0, false
}

func sameDims(a, b []datamodel.Dimension) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

// subscript argument classification.
type subArg struct {
	static  bool
	index   int // 0-based, valid when static
	dynamic syntax.Expr
}

// classifyArg resolves one subscript argument against dimension d.
func (x *lctx) classifyArg(a syntax.Expr, d datamodel.Dimension, pos int) (subArg, bool) {
	switch av := a.(type) {
	case syntax.Wildcard:
		x.errorf(av.Loc, datamodel.ErrWildcardOutsideAggregate, "wildcard subscripts only appear inside sum and mean")
		return subArg{}, false
	case syntax.Const:
		idx := int(math.Round(av.Value))
		if float64(idx) != av.Value || idx < 1 || idx > d.Len() {
			x.errorf(av.Loc, datamodel.ErrSubscriptOutOfRange,
				"index %s is out of range for %s (1..%d)", av.Lit, d.Name, d.Len())
			return subArg{}, false
		}
		return subArg{static: true, index: idx - 1}, true
	case syntax.Var:
		// A dimension name selects the element currently in scope; an
		// element name selects that element; anything else is a runtime
		// index.
		if av.Ident == d.Name || x.isSubdimOf(av.Ident, d.Name) {
			if x.bcast && pos < len(x.dims) && x.dims[pos].Name == av.Ident {
				// Positionally aligned with the loop; handled by caller.
				return subArg{static: false, dynamic: nil}, true
			}
			dd := d
			if av.Ident != d.Name {
				dd, _ = x.s.c.proj.Source.Dimension(av.Ident)
			}
			if idx, ok := x.elementFor(dd); ok {
				if av.Ident != d.Name {
					// Map the subdim element back into the full dimension.
					if j := d.IndexOf(dd.Elements[idx]); j > 0 {
						return subArg{static: true, index: j - 1}, true
					}
					return subArg{}, false
				}
				return subArg{static: true, index: idx}, true
			}
			x.errorf(av.Loc, datamodel.ErrUnknownSubscriptElement,
				"dimension %q is not bound in this equation", av.Ident)
			return subArg{}, false
		}
		if idx := d.IndexOf(av.Ident); idx > 0 {
			return subArg{static: true, index: idx - 1}, true
		}
		if x.s.c.isDimElement(av.Ident) {
			x.errorf(av.Loc, datamodel.ErrUnknownSubscriptElement,
				"%q is not an element of dimension %s", av.Ident, d.Name)
			return subArg{}, false
		}
		return subArg{dynamic: a}, true
	default:
		return subArg{dynamic: a}, true
	}
}

func (x *lctx) isSubdimOf(name, parent string) bool {
	d, ok := x.s.c.proj.Source.Dimension(name)
	return ok && d.SubdimOf == parent
}

func (x *lctx) lowerSubscript(sub syntax.Subscript) Expr {
	nan := Const{Val: math.NaN()}
	if datamodel.IsRootRef(sub.Ident) {
		x.errorf(sub.Loc, datamodel.ErrNotAnArray, "root references are scalar only")
		return nan
	}
	first, rest := datamodel.SplitIdent(sub.Ident)
	if rest != "" {
		x.errorf(sub.Loc, datamodel.ErrNotAnArray, "module variables are referenced as scalars")
		return nan
	}
	v := x.s.m.Vars[first]
	if v == nil {
		x.errorf(sub.Loc, datamodel.ErrUnknownDependency, "reference to undefined variable %q", first)
		return nan
	}
	dims := x.s.c.dimsOf(v)
	if len(dims) == 0 {
		x.errorf(sub.Loc, datamodel.ErrNotAnArray, "%q is not an array", first)
		return nan
	}
	if len(sub.Args) > len(dims) {
		x.errorf(sub.Loc, datamodel.ErrTooManySubscripts, "%q has %d dimension(s), %d subscripts given", first, len(dims), len(sub.Args))
		return nan
	}
	if len(sub.Args) < len(dims) {
		x.errorf(sub.Loc, datamodel.ErrTooFewSubscripts, "%q has %d dimension(s), %d subscripts given", first, len(dims), len(sub.Args))
		return nan
	}

	base := x.s.offsets[first]
	args := make([]subArg, len(sub.Args))
	loopAligned := true
	nDynamic := 0
	for i, a := range sub.Args {
		arg, ok := x.classifyArg(a, dims[i], i)
		if !ok {
			return nan
		}
		args[i] = arg
		if arg.dynamic != nil {
			nDynamic++
		}
		if !(arg.dynamic == nil && !arg.static) {
			loopAligned = false
		}
	}

	if x.bcast && loopAligned && sameDims(dims, x.dims) {
		return Elem{Off: base}
	}

	switch {
	case nDynamic == 0:
		indices := make([]int, len(args))
		for i, a := range args {
			if !a.static {
				// Loop-aligned argument outside a matching broadcast; the
				// binding must pin it.
				idx, ok := x.elementFor(dims[i])
				if !ok {
					x.errorf(sub.Loc, datamodel.ErrUnknownSubscriptElement,
						"dimension %q is not bound in this equation", dims[i].Name)
					return nan
				}
				indices[i] = idx
				continue
			}
			indices[i] = a.index
		}
		return Local{Off: base + uint16(elemOffset(dims, indices))}
	case nDynamic == 1 && len(dims) == 1:
		return Dyn{Off: base, N: uint16(dims[0].Len()), Index: x.lower(args[0].dynamic)}
	default:
		x.errorf(sub.Loc, datamodel.ErrDynamicSubscriptDims,
			"computed subscripts are only supported on one-dimensional arrays")
		return nan
	}
}

func (x *lctx) lowerApp(call syntax.App) Expr {
	nan := Const{Val: math.NaN()}
	spec, ok := builtins.Find(call.Name)
	if !ok {
		x.errorf(call.Loc, datamodel.ErrUnknownBuiltin, "unknown function %q", call.Name)
		return nan
	}
	switch spec.Kind {
	case builtins.Conditional:
		return Cond{If: x.lower(call.Args[0]), Then: x.lower(call.Args[1]), Else: x.lower(call.Args[2])}
	case builtins.Lookup:
		return x.lowerLookup(call)
	case builtins.Aggregate:
		return x.lowerAggregate(spec.Name, call)
	case builtins.Pure:
		args := make([]Expr, len(call.Args))
		for i, a := range call.Args {
			args[i] = x.lower(a)
		}
		return App{Fn: spec.Fn, Args: args}
	default:
		// Stateful and module forms were rewritten away during
		// expansion; reaching one here means that pass failed.
		x.errorf(call.Loc, datamodel.ErrInternal, "unexpanded %s call", spec.Name)
		return nan
	}
}

func (x *lctx) lowerLookup(call syntax.App) Expr {
	nan := Const{Val: math.NaN()}
	ref, ok := call.Args[0].(syntax.Var)
	if !ok {
		x.errorf(call.Loc, datamodel.ErrBadBuiltinArgs, "lookup's first argument names a variable with a graphical function")
		return nan
	}
	v := x.s.m.Vars[ref.Ident]
	if v == nil || v.Table == nil {
		x.errorf(ref.Loc, datamodel.ErrBadBuiltinArgs, "%q has no graphical function", ref.Ident)
		return nan
	}
	return Lookup{Table: x.s.tableFor(v), X: x.lower(call.Args[1])}
}

// tableFor interns a variable's graphical function in the unit's table
// pool.
func (s *scope) tableFor(v *model.Var) uint16 {
	if idx, ok := s.tableIdx[v.Ident]; ok {
		return idx
	}
	idx := uint16(len(s.unit.Tables))
	s.tableIdx[v.Ident] = idx
	s.unit.Tables = append(s.unit.Tables, v.Table)
	return idx
}

// lowerAggregate expands sum/mean over array elements at compile time.
// Wildcard and dimension-name subscripts iterate; everything else must
// pin a single element.
func (x *lctx) lowerAggregate(name string, call syntax.App) Expr {
	nan := Const{Val: math.NaN()}
	var target *model.Var
	var fixed []subArg
	var iterate []bool

	switch arg := call.Args[0].(type) {
	case syntax.Var:
		target = x.s.m.Vars[arg.Ident]
		if target == nil || len(target.Dims) == 0 {
			x.errorf(arg.Loc, datamodel.ErrNotAnArray, "%s expects an array", name)
			return nan
		}
		dims := x.s.c.dimsOf(target)
		fixed = make([]subArg, len(dims))
		iterate = make([]bool, len(dims))
		for i := range dims {
			iterate[i] = true
		}
	case syntax.Subscript:
		first, rest := datamodel.SplitIdent(arg.Ident)
		if rest != "" {
			x.errorf(arg.Loc, datamodel.ErrNotAnArray, "module variables are referenced as scalars")
			return nan
		}
		target = x.s.m.Vars[first]
		if target == nil || len(target.Dims) == 0 {
			x.errorf(arg.Loc, datamodel.ErrNotAnArray, "%s expects an array", name)
			return nan
		}
		dims := x.s.c.dimsOf(target)
		if len(arg.Args) != len(dims) {
			code := datamodel.ErrTooFewSubscripts
			if len(arg.Args) > len(dims) {
				code = datamodel.ErrTooManySubscripts
			}
			x.errorf(arg.Loc, code, "%q has %d dimension(s), %d subscripts given", first, len(dims), len(arg.Args))
			return nan
		}
		fixed = make([]subArg, len(dims))
		iterate = make([]bool, len(dims))
		for i, a := range arg.Args {
			if _, isWild := a.(syntax.Wildcard); isWild {
				iterate[i] = true
				continue
			}
			if av, isVar := a.(syntax.Var); isVar {
				if av.Ident == dims[i].Name && x.binding[dims[i].Name] == "" {
					iterate[i] = true
					continue
				}
			}
			sa, ok := x.classifyArg(a, dims[i], i)
			if !ok {
				return nan
			}
			if sa.dynamic != nil {
				x.errorf(a.Pos(), datamodel.ErrBadBuiltinArgs, "%s subscripts must be static", name)
				return nan
			}
			if !sa.static {
				idx, ok := x.elementFor(dims[i])
				if !ok {
					x.errorf(a.Pos(), datamodel.ErrUnknownSubscriptElement,
						"dimension %q is not bound in this equation", dims[i].Name)
					return nan
				}
				sa = subArg{static: true, index: idx}
			}
			fixed[i] = sa
		}
	default:
		x.errorf(call.Loc, datamodel.ErrBadBuiltinArgs, "%s expects an array reference", name)
		return nan
	}

	dims := x.s.c.dimsOf(target)
	base := x.s.offsets[target.Ident]
	offs := aggregateOffsets(dims, fixed, iterate)
	if len(offs) == 0 {
		x.errorf(call.Loc, datamodel.ErrInternal, "empty aggregate")
		return nan
	}
	var sum Expr = Local{Off: base + uint16(offs[0])}
	for _, o := range offs[1:] {
		sum = Bin{Op: vm.BinAdd, L: sum, R: Local{Off: base + uint16(o)}}
	}
	if name == "mean" {
		return Bin{Op: vm.BinDiv, L: sum, R: Const{Val: float64(len(offs))}}
	}
	return sum
}

// aggregateOffsets enumerates the flattened offsets selected by a mix
// of fixed and iterated dimensions.
func aggregateOffsets(dims []datamodel.Dimension, fixed []subArg, iterate []bool) []int {
	var offs []int
	indices := make([]int, len(dims))
	var walk func(i int)
	walk = func(i int) {
		if i == len(dims) {
			offs = append(offs, elemOffset(dims, indices))
			return
		}
		if iterate[i] {
			for j := 0; j < dims[i].Len(); j++ {
				indices[i] = j
				walk(i + 1)
			}
			return
		}
		indices[i] = fixed[i].index
		walk(i + 1)
	}
	walk(0)
	return offs
}

// canBroadcast reports whether an apply-to-all equation body can run as
// a broadcast loop: every array reference must align positionally with
// the loop dimensions. Anything fancier (transposes, aggregates over
// the loop dimension, cross-element reads) falls back to unrolling.
func (x *lctx) canBroadcast(e syntax.Expr) bool {
	switch v := e.(type) {
	case nil, syntax.Const, syntax.Wildcard:
		return true
	case syntax.Var:
		if _, ok := globalOffsets[v.Ident]; ok {
			return true
		}
		first, rest := datamodel.SplitIdent(v.Ident)
		if rest != "" {
			return true
		}
		ref := x.s.m.Vars[first]
		if ref == nil || len(ref.Dims) == 0 {
			return true
		}
		return sameDims(x.s.c.dimsOf(ref), x.dims)
	case syntax.Subscript:
		first, rest := datamodel.SplitIdent(v.Ident)
		if rest != "" {
			return false
		}
		ref := x.s.m.Vars[first]
		if ref == nil {
			return false
		}
		dims := x.s.c.dimsOf(ref)
		if len(dims) != len(v.Args) || !sameDims(dims, x.dims) {
			return false
		}
		for i, a := range v.Args {
			av, ok := a.(syntax.Var)
			if !ok || av.Ident != x.dims[i].Name {
				return false
			}
		}
		return true
	case syntax.App:
		spec, ok := builtins.Find(v.Name)
		if !ok || spec.Kind == builtins.Aggregate || spec.Kind == builtins.Lookup {
			// Aggregates resolve to fixed offsets; lookups are fine, but
			// both share argument forms the loop can't rewrite. Unroll.
			return spec.Kind == builtins.Lookup && x.canBroadcastArgs(v.Args[1:])
		}
		return x.canBroadcastArgs(v.Args)
	case syntax.Op1:
		return x.canBroadcast(v.X)
	case syntax.Op2:
		return x.canBroadcast(v.X) && x.canBroadcast(v.Y)
	case syntax.If:
		return x.canBroadcast(v.Cond) && x.canBroadcast(v.Then) && x.canBroadcast(v.Else)
	}
	return false
}

func (x *lctx) canBroadcastArgs(args []syntax.Expr) bool {
	for _, a := range args {
		if !x.canBroadcast(a) {
			return false
		}
	}
	return true
}

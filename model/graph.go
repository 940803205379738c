package model

import (
	"sort"
	"strings"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/syntax"
)

// Dependency analysis runs per model over canonical identifiers. Deps
// keep their full dotted form; graph edges always target the first
// namespace component ("mod.output" orders against "mod"). Subscript
// element names are not dependencies, and the reserved time slots are
// globals rather than edges.
//
// Step ordering prunes stock reads: a stock's current value was fixed
// by the previous step, so reading it imposes no ordering. That holds
// through module boundaries too. A smooth's output is a stock in the
// synthesized child model, which is exactly why feedback through a
// smooth is not an algebraic loop.

// exprDeps accumulates the identifiers an expression reads.
func (b *builder) exprDeps(e syntax.Expr, into map[string]bool) {
	switch v := e.(type) {
	case nil:
	case syntax.Const, syntax.Wildcard:
	case syntax.Var:
		b.identDep(v.Ident, into)
	case syntax.Subscript:
		b.identDep(v.Ident, into)
		for _, a := range v.Args {
			if av, ok := a.(syntax.Var); ok && (b.dimNames[av.Ident] || b.elemNames[av.Ident]) {
				continue
			}
			b.exprDeps(a, into)
		}
	case syntax.App:
		for _, a := range v.Args {
			b.exprDeps(a, into)
		}
	case syntax.Op1:
		b.exprDeps(v.X, into)
	case syntax.Op2:
		b.exprDeps(v.X, into)
		b.exprDeps(v.Y, into)
	case syntax.If:
		b.exprDeps(v.Cond, into)
		b.exprDeps(v.Then, into)
		b.exprDeps(v.Else, into)
	}
}

func (b *builder) identDep(ident string, into map[string]bool) {
	first, _ := datamodel.SplitIdent(datamodel.TrimRootRef(ident))
	if IsReserved(first) {
		return
	}
	into[ident] = true
}

func (b *builder) eqnDeps(f EqnForm, into map[string]bool) {
	switch v := f.(type) {
	case nil:
	case ScalarEqn:
		b.exprDeps(v.Expr, into)
	case ApplyToAllEqn:
		b.exprDeps(v.Expr, into)
	case ArrayedEqn:
		for _, el := range v.Elements {
			b.exprDeps(el.Expr, into)
		}
	}
}

func depSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// collectDeps fills Deps and InitDeps for every variable of m.
func (b *builder) collectDeps(m *Model) {
	for _, ident := range m.Order {
		v := m.Vars[ident]
		step := map[string]bool{}
		init := map[string]bool{}
		switch v.Kind {
		case KindStock:
			for _, f := range v.Inflows {
				step[f] = true
			}
			for _, f := range v.Outflows {
				step[f] = true
			}
			b.eqnDeps(v.Init, init)
		case KindModule:
			for _, in := range v.Inputs {
				b.identDep(in.Src, step)
			}
			for d := range step {
				init[d] = true
			}
		default:
			b.eqnDeps(v.Eqn, step)
			for d := range step {
				init[d] = true
			}
		}
		v.Deps = depSlice(step)
		v.InitDeps = depSlice(init)
	}
}

// resolveDep follows a dotted dependency through module instances to
// the variable it ultimately reads. ok is false when any link in the
// chain is undefined. Root references resolve against the top-level
// model regardless of which model holds them.
func (b *builder) resolveDep(m *Model, dep string) (*Var, bool) {
	if datamodel.IsRootRef(dep) {
		root := b.p.Main()
		if root == nil {
			return nil, false
		}
		return b.resolveDep(root, datamodel.TrimRootRef(dep))
	}
	first, rest := datamodel.SplitIdent(dep)
	v := m.Vars[first]
	for v != nil && rest != "" {
		if v.Kind != KindModule {
			return nil, false
		}
		child := b.p.Models[v.ModelName]
		if child == nil {
			// Bad model name; diagnosed on the module variable itself.
			return v, true
		}
		first, rest = datamodel.SplitIdent(rest)
		v = child.Vars[first]
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

// stockRead reports whether dep resolves to a stock, possibly through
// nested module namespaces.
func (b *builder) stockRead(m *Model, dep string) bool {
	v, ok := b.resolveDep(m, dep)
	return ok && v != nil && v.Kind == KindStock
}

// checkDeps reports references to identifiers no variable defines.
func (b *builder) checkDeps(m *Model) {
	for _, ident := range m.Order {
		v := m.Vars[ident]
		seen := map[string]bool{}
		for _, d := range append(append([]string{}, v.Deps...), v.InitDeps...) {
			if seen[d] {
				continue
			}
			seen[d] = true
			if _, ok := b.resolveDep(m, d); !ok {
				b.errorf(m.Name, ident, datamodel.ErrUnknownDependency, "reference to undefined variable %q", d)
				v.Errored = true
			}
		}
	}
}

// edgeTarget maps one dependency to the local variable it orders
// against, if any. Root references only order within the top-level
// model itself; inside an instantiated model they read a slot some
// other scope computes, and the enclosing instance carries the edge.
func (b *builder) edgeTarget(m *Model, d string) (string, bool) {
	if datamodel.IsRootRef(d) {
		if m != b.p.Main() {
			return "", false
		}
		d = datamodel.TrimRootRef(d)
	}
	first, _ := datamodel.SplitIdent(d)
	return first, true
}

// stepEdges maps each non-stock variable to the local variables that
// must be computed before it within one step. Reads that resolve to
// stocks are pruned.
func (b *builder) stepEdges(m *Model) map[string][]string {
	edges := map[string][]string{}
	for _, ident := range m.Order {
		v := m.Vars[ident]
		if v.Kind == KindStock {
			continue
		}
		var targets []string
		for _, d := range v.Deps {
			if b.stockRead(m, d) {
				continue
			}
			if first, ok := b.edgeTarget(m, d); ok {
				targets = append(targets, first)
			}
		}
		edges[ident] = targets
	}
	return edges
}

// initEdges maps each variable to the locals its initial value needs.
func (b *builder) initEdges(m *Model) map[string][]string {
	edges := map[string][]string{}
	for _, ident := range m.Order {
		v := m.Vars[ident]
		var targets []string
		for _, d := range v.InitDeps {
			if first, ok := b.edgeTarget(m, d); ok {
				targets = append(targets, first)
			}
		}
		edges[ident] = targets
	}
	return edges
}

// sccs finds the strongly connected components of the graph given by
// edges, considering only the listed nodes. Component members are
// sorted for deterministic diagnostics.
func sccs(nodes []string, edges map[string][]string) [][]string {
	index := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var comps [][]string
	next := 0
	inSet := map[string]bool{}
	for _, n := range nodes {
		inSet[n] = true
	}

	var strongconnect func(n string)
	strongconnect = func(n string) {
		index[n] = next
		lowlink[n] = next
		next++
		stack = append(stack, n)
		onStack[n] = true
		for _, d := range edges[n] {
			if !inSet[d] {
				continue
			}
			if _, seen := index[d]; !seen {
				strongconnect(d)
				if lowlink[d] < lowlink[n] {
					lowlink[n] = lowlink[d]
				}
			} else if onStack[d] && index[d] < lowlink[n] {
				lowlink[n] = index[d]
			}
		}
		if lowlink[n] == index[n] {
			var comp []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				comp = append(comp, top)
				if top == n {
					break
				}
			}
			sort.Strings(comp)
			comps = append(comps, comp)
		}
	}
	for _, n := range nodes {
		if _, seen := index[n]; !seen {
			strongconnect(n)
		}
	}
	return comps
}

func hasSelfEdge(n string, edges map[string][]string) bool {
	for _, d := range edges[n] {
		if d == n {
			return true
		}
	}
	return false
}

// checkCycles diagnoses circular step and initialization dependencies.
// Every member of a cycle is marked errored; the diagnostic names the
// full membership.
func (b *builder) checkCycles(m *Model) {
	var stepNodes []string
	for _, ident := range m.Order {
		if m.Vars[ident].Kind != KindStock {
			stepNodes = append(stepNodes, ident)
		}
	}
	b.reportCycles(m, stepNodes, b.stepEdges(m), datamodel.ErrCircularDependency)
	b.reportCycles(m, m.Order, b.initEdges(m), datamodel.ErrCircularInitialization)
}

func (b *builder) reportCycles(m *Model, nodes []string, edges map[string][]string, code datamodel.ErrorCode) {
	for _, comp := range sccs(nodes, edges) {
		if len(comp) == 1 && !hasSelfEdge(comp[0], edges) {
			continue
		}
		c := code
		if len(comp) == 1 && code == datamodel.ErrCircularDependency {
			c = datamodel.ErrSelfReference
		}
		b.errorf(m.Name, comp[0], c, "cycle: %s", strings.Join(comp, ", "))
		for _, ident := range comp {
			m.Vars[ident].Errored = true
		}
	}
}

// propagateErrors marks every variable that (transitively) depends on
// an errored variable. Such variables carry no diagnostic of their own;
// they are simply not simulatable until the root cause is fixed.
func propagateErrors(m *Model) {
	for changed := true; changed; {
		changed = false
		for _, ident := range m.Order {
			v := m.Vars[ident]
			if v.Errored {
				continue
			}
			for _, d := range append(append([]string{}, v.Deps...), v.InitDeps...) {
				first, _ := datamodel.SplitIdent(d)
				if dv := m.Vars[first]; dv != nil && dv.Errored {
					v.Errored = true
					changed = true
					break
				}
			}
		}
	}
}

// topoSort orders nodes so every dependency precedes its dependents,
// breaking ties by declaration order. Callers pass acyclic inputs;
// anything unsortable (which would take an upstream bug) is appended in
// declaration order so compilation stays deterministic.
func topoSort(order []string, nodes map[string]bool, edges map[string][]string) []string {
	indegree := map[string]int{}
	for n := range nodes {
		for _, d := range edges[n] {
			if nodes[d] && d != n {
				indegree[n]++
			}
		}
	}

	out := make([]string, 0, len(nodes))
	emitted := map[string]bool{}
	for len(out) < len(nodes) {
		progressed := false
		for _, n := range order {
			if !nodes[n] || emitted[n] || indegree[n] != 0 {
				continue
			}
			out = append(out, n)
			emitted[n] = true
			progressed = true
			for m := range nodes {
				if emitted[m] {
					continue
				}
				for _, d := range edges[m] {
					if d == n {
						indegree[m]--
					}
				}
			}
		}
		if !progressed {
			for _, n := range order {
				if nodes[n] && !emitted[n] {
					out = append(out, n)
					emitted[n] = true
				}
			}
		}
	}
	return out
}

// buildRunlists computes the three execution orders over the
// non-errored variables. Modules appear in all three lists: their
// nested phases run wherever the parent's corresponding phase reaches
// them.
func buildRunlists(m *Model, step map[string][]string, init map[string][]string) {
	initNodes := map[string]bool{}
	stepNodes := map[string]bool{}
	for _, ident := range m.Order {
		v := m.Vars[ident]
		if v.Errored {
			continue
		}
		initNodes[ident] = true
		if v.Kind != KindStock {
			stepNodes[ident] = true
		}
	}

	m.Initials = topoSort(m.Order, initNodes, init)
	m.Flows = topoSort(m.Order, stepNodes, step)

	m.Stocks = m.Stocks[:0]
	for _, ident := range m.Order {
		v := m.Vars[ident]
		if v.Errored {
			continue
		}
		if v.Kind == KindStock || v.Kind == KindModule {
			m.Stocks = append(m.Stocks, ident)
		}
	}
}

package compile

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/flowsim-dev/flowsim/vm"
)

// Bytecode generation walks the statement IR and emits flat runlists.
// Jump targets are uuid-named labels while emitting; a fixup pass
// replaces them with instruction offsets once each list is complete.

type gen struct {
	ops     []vm.Op
	labels  map[string]uint16
	patches []patch

	consts    map[float64]uint16
	constPool []float64
}

type patch struct {
	op    int
	label string
	slotB bool
}

func newGen() *gen {
	return &gen{labels: map[string]uint16{}, consts: map[float64]uint16{}}
}

func (g *gen) newLabel() string {
	return uuid.NewString()
}

func (g *gen) emit(op vm.Op) {
	g.ops = append(g.ops, op)
}

func (g *gen) mark(label string) {
	g.labels[label] = uint16(len(g.ops))
}

func (g *gen) jump(code vm.Opcode, label string) {
	g.patches = append(g.patches, patch{op: len(g.ops), label: label})
	g.emit(vm.Op{Code: code})
}

func (g *gen) constIdx(v float64) uint16 {
	if idx, ok := g.consts[v]; ok {
		return idx
	}
	idx := uint16(len(g.constPool))
	g.consts[v] = idx
	g.constPool = append(g.constPool, v)
	return idx
}

// list emits one runlist and resolves its labels.
func (g *gen) list(stmts []Stmt) []vm.Op {
	g.ops = nil
	g.patches = nil
	g.labels = map[string]uint16{}
	for _, st := range stmts {
		g.stmt(st)
	}
	g.emit(vm.Op{Code: vm.RET})
	for _, p := range g.patches {
		target, ok := g.labels[p.label]
		if !ok {
			panic(fmt.Sprintf("Unresolved label %s", p.label))
		}
		if p.slotB {
			g.ops[p.op].B = target
		} else {
			g.ops[p.op].A = target
		}
	}
	return g.ops
}

func (g *gen) stmt(st Stmt) {
	switch s := st.(type) {
	case Assign:
		g.expr(s.Rhs)
		if s.Next {
			g.emit(vm.Op{Code: vm.ASSIGNNEXT, A: s.Off})
		} else {
			g.emit(vm.Op{Code: vm.ASSIGNCURR, A: s.Off})
		}
	case Loop:
		end := g.newLabel()
		start := g.newLabel()
		g.patches = append(g.patches, patch{op: len(g.ops), label: end, slotB: true})
		g.emit(vm.Op{Code: vm.ITERSTART, A: s.N})
		g.mark(start)
		g.expr(s.Rhs)
		g.emit(vm.Op{Code: vm.ASSIGNIDX, A: s.Dst})
		g.jump(vm.ITERNEXT, start)
		g.mark(end)
	case Call:
		g.emit(vm.Op{Code: vm.EVALMODULE, A: s.Idx})
	default:
		panic(fmt.Sprintf("Unhandled statement %T", st))
	}
}

func (g *gen) expr(e Expr) {
	switch v := e.(type) {
	case Const:
		g.emit(vm.Op{Code: vm.LOADC, A: g.constIdx(v.Val)})
	case Local:
		g.emit(vm.Op{Code: vm.LOADV, A: v.Off})
	case Global:
		g.emit(vm.Op{Code: vm.LOADG, A: v.Off})
	case Elem:
		g.emit(vm.Op{Code: vm.LOADIDX, A: v.Off})
	case Dyn:
		g.expr(v.Index)
		g.emit(vm.Op{Code: vm.LOADDYN, A: v.Off, B: v.N})
	case Bin:
		g.expr(v.L)
		g.expr(v.R)
		g.emit(vm.Op{Code: vm.OP2, A: uint16(v.Op)})
	case Not:
		g.expr(v.X)
		g.emit(vm.Op{Code: vm.NOT})
	case Neg:
		g.expr(v.X)
		g.emit(vm.Op{Code: vm.NEG})
	case Cond:
		elseL := g.newLabel()
		endL := g.newLabel()
		g.expr(v.If)
		g.jump(vm.JFALSE, elseL)
		g.expr(v.Then)
		g.jump(vm.JMP, endL)
		g.mark(elseL)
		g.expr(v.Else)
		g.mark(endL)
	case App:
		for _, a := range v.Args {
			g.expr(a)
		}
		g.emit(vm.Op{Code: vm.APPLY, A: uint16(v.Fn), B: uint16(len(v.Args))})
	case Lookup:
		g.expr(v.X)
		g.emit(vm.Op{Code: vm.LOOKUP, A: v.Table})
	default:
		panic(fmt.Sprintf("Unhandled expression %T", e))
	}
}

// generate turns a Unit tree into shared CompiledModules. Units reached
// through multiple instantiations generate once.
func (c *compiler) generate(u *Unit, memo map[*Unit]*vm.CompiledModule) *vm.CompiledModule {
	if m, ok := memo[u]; ok {
		return m
	}
	m := &vm.CompiledModule{
		Ident:  u.Ident,
		NSlots: u.NSlots,
		Tables: u.Tables,
	}
	memo[u] = m

	g := newGen()
	m.Initials = g.list(u.Initials)
	m.Flows = g.list(u.Flows)
	m.Stocks = g.list(u.Stocks)
	m.Constants = g.constPool

	for i := range u.Calls {
		call := &u.Calls[i]
		m.Calls = append(m.Calls, vm.ModuleCall{
			Ident:  call.Ident,
			Module: c.generate(call.Unit, memo),
			Off:    call.Off,
			Inputs: call.Inputs,
		})
	}
	return m
}

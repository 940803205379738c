// Package interp is the reference executor: a tree-walking evaluator
// over the compiler's retained statement IR. It shares the layout and
// semantics of the bytecode VM but none of its execution machinery,
// which makes it the independent half of cross-validation testing. It
// is also the easier place to debug a miscompiled model.
package interp

import (
	"errors"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/flowsim-dev/flowsim/compile"
	"github.com/flowsim-dev/flowsim/vm"
)

const randSeed = 0x5eed

var ErrAlreadyRun = errors.New("simulation has already run")

type phase int

const (
	phaseInitials phase = iota
	phaseFlows
	phaseStocks
)

// Sim interprets one compiled project.
type Sim struct {
	comp    *compile.Compiled
	curr    []float64
	next    []float64
	results *vm.Results
	rng     *rand.Rand
	ran     bool
}

func NewSim(c *compile.Compiled) *Sim {
	return &Sim{
		comp: c,
		curr: make([]float64, c.NSlots),
		next: make([]float64, c.NSlots),
		rng:  rand.New(rand.NewSource(randSeed)),
	}
}

// Results returns the run's output, nil before RunToEnd.
func (s *Sim) Results() *vm.Results {
	return s.results
}

// RunToEnd mirrors the VM's driver loop: initials at t0, then flows,
// sample, stocks, rotate until time passes stop.
func (s *Sim) RunToEnd() error {
	if s.ran {
		return ErrAlreadyRun
	}
	s.ran = true

	specs := s.comp.Specs
	dt := specs.DT
	saveStep := specs.EffectiveSaveStep()
	saveEvery := int(math.Round(saveStep / dt))
	if saveEvery < 1 {
		saveEvery = 1
	}
	nRows := int(math.Floor((specs.Stop-specs.Start)/saveStep+1e-6)) + 1
	s.results = &vm.Results{
		Offsets:  s.comp.Offsets,
		Stride:   s.comp.NSlots,
		SaveStep: saveStep,
		Data:     make([]float64, 0, nRows*s.comp.NSlots),
	}

	s.curr[vm.TimeOff] = specs.Start
	s.curr[vm.DTOff] = dt
	s.curr[vm.InitialTimeOff] = specs.Start
	s.curr[vm.FinalTimeOff] = specs.Stop
	s.run(s.comp.Root, vm.FirstVarOff, phaseInitials)

	step, rows := 0, 0
	for s.curr[vm.TimeOff] <= specs.Stop+dt/2 {
		s.run(s.comp.Root, vm.FirstVarOff, phaseFlows)
		if step%saveEvery == 0 && rows < nRows {
			s.results.Data = append(s.results.Data, s.curr...)
			rows++
		}
		s.run(s.comp.Root, vm.FirstVarOff, phaseStocks)
		s.next[vm.TimeOff] = s.curr[vm.TimeOff] + dt
		s.next[vm.DTOff] = dt
		s.next[vm.InitialTimeOff] = specs.Start
		s.next[vm.FinalTimeOff] = specs.Stop
		s.curr, s.next = s.next, s.curr
		step++
	}
	s.results.Rows = rows
	log.Trace().Int("steps", step).Int("rows", rows).Msg("Interp: run complete")
	return nil
}

func (s *Sim) run(u *compile.Unit, base int, ph phase) {
	var stmts []compile.Stmt
	switch ph {
	case phaseInitials:
		stmts = u.Initials
	case phaseFlows:
		stmts = u.Flows
	case phaseStocks:
		stmts = u.Stocks
	}
	for _, st := range stmts {
		switch t := st.(type) {
		case compile.Assign:
			v := s.eval(u, base, t.Rhs, 0)
			if t.Next {
				s.next[base+int(t.Off)] = v
			} else {
				s.curr[base+int(t.Off)] = v
			}
		case compile.Loop:
			for i := 0; i < int(t.N); i++ {
				s.curr[base+int(t.Dst)+i] = s.eval(u, base, t.Rhs, i)
			}
		case compile.Call:
			call := &u.Calls[t.Idx]
			childBase := base + int(call.Off)
			for _, w := range call.Inputs {
				s.curr[childBase+int(w.Dst)] = s.curr[base+int(w.Src)]
			}
			s.run(call.Unit, childBase, ph)
		}
	}
}

func (s *Sim) eval(u *compile.Unit, base int, e compile.Expr, iter int) float64 {
	switch v := e.(type) {
	case compile.Const:
		return v.Val
	case compile.Local:
		return s.curr[base+int(v.Off)]
	case compile.Global:
		return s.curr[v.Off]
	case compile.Elem:
		return s.curr[base+int(v.Off)+iter]
	case compile.Dyn:
		idx := int(math.Round(s.eval(u, base, v.Index, iter)))
		if idx < 1 || idx > int(v.N) {
			return math.NaN()
		}
		return s.curr[base+int(v.Off)+idx-1]
	case compile.Bin:
		return s.binOp(u, base, v, iter)
	case compile.Not:
		if s.eval(u, base, v.X, iter) == 0 {
			return 1
		}
		return 0
	case compile.Neg:
		return -s.eval(u, base, v.X, iter)
	case compile.Cond:
		if s.eval(u, base, v.If, iter) != 0 {
			return s.eval(u, base, v.Then, iter)
		}
		return s.eval(u, base, v.Else, iter)
	case compile.App:
		args := make([]float64, len(v.Args))
		for i, a := range v.Args {
			args[i] = s.eval(u, base, a, iter)
		}
		return s.applyFn(v.Fn, args)
	case compile.Lookup:
		return u.Tables[v.Table].Eval(s.eval(u, base, v.X, iter))
	}
	panic("Unhandled expression")
}

func (s *Sim) binOp(u *compile.Unit, base int, v compile.Bin, iter int) float64 {
	a := s.eval(u, base, v.L, iter)
	b := s.eval(u, base, v.R, iter)
	switch v.Op {
	case vm.BinAdd:
		return a + b
	case vm.BinSub:
		return a - b
	case vm.BinMul:
		return a * b
	case vm.BinDiv:
		return a / b
	case vm.BinExp:
		return math.Pow(a, b)
	case vm.BinMod:
		return math.Mod(a, b)
	case vm.BinGt:
		return b2f(a > b)
	case vm.BinGte:
		return b2f(a >= b)
	case vm.BinLt:
		return b2f(a < b)
	case vm.BinLte:
		return b2f(a <= b)
	case vm.BinEq:
		return b2f(a == b)
	case vm.BinNeq:
		return b2f(a != b)
	case vm.BinAnd:
		return b2f(a != 0 && b != 0)
	case vm.BinOr:
		return b2f(a != 0 || b != 0)
	}
	panic("Unhandled binary op")
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// applyFn mirrors the VM's builtin semantics, written out independently
// so the two executors do not share an implementation.
func (s *Sim) applyFn(fn vm.BuiltinID, args []float64) float64 {
	t := s.curr[vm.TimeOff]
	dt := s.curr[vm.DTOff]
	arg := func(i int, def float64) float64 {
		if i < len(args) {
			return args[i]
		}
		return def
	}
	switch fn {
	case vm.FnAbs:
		return math.Abs(args[0])
	case vm.FnArccos:
		return math.Acos(args[0])
	case vm.FnArcsin:
		return math.Asin(args[0])
	case vm.FnArctan:
		return math.Atan(args[0])
	case vm.FnCos:
		return math.Cos(args[0])
	case vm.FnSin:
		return math.Sin(args[0])
	case vm.FnTan:
		return math.Tan(args[0])
	case vm.FnExp:
		return math.Exp(args[0])
	case vm.FnLn:
		return math.Log(args[0])
	case vm.FnLog10:
		return math.Log10(args[0])
	case vm.FnSqrt:
		return math.Sqrt(args[0])
	case vm.FnFloor:
		return math.Floor(args[0])
	case vm.FnInt:
		return math.Trunc(args[0])
	case vm.FnMax:
		return math.Max(args[0], args[1])
	case vm.FnMin:
		return math.Min(args[0], args[1])
	case vm.FnPi:
		return math.Pi
	case vm.FnInf:
		return math.Inf(1)
	case vm.FnPulse:
		volume := args[0]
		first := arg(1, 0)
		interval := arg(2, 0)
		if t < first {
			return 0
		}
		at := first
		for t >= at {
			if t < at+dt {
				return volume / dt
			}
			if interval <= 0 {
				break
			}
			at += interval
		}
		return 0
	case vm.FnRamp:
		start := arg(1, 0)
		if t > start {
			return args[0] * (t - start)
		}
		return 0
	case vm.FnStairStep:
		at := arg(1, 0)
		if t > at-dt/2 {
			return args[0]
		}
		return 0
	case vm.FnSafeDiv:
		if args[1] == 0 {
			return arg(2, 0)
		}
		return args[0] / args[1]
	case vm.FnRand:
		lo, hi := 0.0, 1.0
		if len(args) > 1 {
			lo, hi = args[0], args[1]
		}
		return lo + s.rng.Float64()*(hi-lo)
	}
	panic("Unhandled builtin")
}

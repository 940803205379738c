package vm

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"
)

// The VM is a stack machine over a flat float64 state vector. Each step
// it runs the flows runlist (mutating the "current" view in topological
// order), then the stocks runlist (Euler-integrating into the "next"
// view), then rotates the two buffers. Compilation verifies all static
// array bounds, so execution performs no index checks beyond the
// dynamic-subscript policy (out of range loads NaN).

type phase int

const (
	phaseInitials phase = iota
	phaseFlows
	phaseStocks
)

func (p phase) String() string {
	switch p {
	case phaseInitials:
		return "initials"
	case phaseFlows:
		return "flows"
	case phaseStocks:
		return "stocks"
	}
	panic("Unnamed phase")
}

// Runs are deterministic: RAND draws from a fixed-seed generator owned
// by the Sim, so identical programs produce bit-identical Results.
const randSeed = 0x5eed

var ErrAlreadyRun = errors.New("simulation has already run")

// Sim is one simulation run against a shared Program. Every Sim owns
// its own mutable buffers; concurrent Sims over one Program are safe.
type Sim struct {
	prog    *Program
	curr    []float64
	next    []float64
	scratch []float64
	iters   []iterFrame
	results *Results
	rng     *rand.Rand
	ran     bool
}

type iterFrame struct {
	i int
	n int
}

func NewSim(p *Program) *Sim {
	return &Sim{
		prog:    p,
		curr:    make([]float64, p.NSlots),
		next:    make([]float64, p.NSlots),
		scratch: make([]float64, 0, 32),
		rng:     rand.New(rand.NewSource(randSeed)),
	}
}

// Results returns the run's output, nil before RunToEnd.
func (s *Sim) Results() *Results {
	return s.results
}

// RunToEnd executes the whole requested time range: an initial-value
// pass at t0, then repeated steps until time passes stop (with a
// half-dt tolerance against float drift). Results are sampled every
// round(save_step/dt) steps, minimum 1.
func (s *Sim) RunToEnd() error {
	if s.ran {
		return ErrAlreadyRun
	}
	s.ran = true

	specs := s.prog.Specs
	dt := specs.DT
	saveStep := specs.EffectiveSaveStep()
	saveEvery := int(math.Round(saveStep / dt))
	if saveEvery < 1 {
		saveEvery = 1
	}
	nRows := int(math.Floor((specs.Stop-specs.Start)/saveStep+1e-6)) + 1
	s.results = &Results{
		Offsets:  s.prog.Offsets,
		Stride:   s.prog.NSlots,
		SaveStep: saveStep,
		Data:     make([]float64, 0, nRows*s.prog.NSlots),
	}

	s.curr[TimeOff] = specs.Start
	s.curr[DTOff] = dt
	s.curr[InitialTimeOff] = specs.Start
	s.curr[FinalTimeOff] = specs.Stop
	if err := s.runList(s.prog.Root, FirstVarOff, phaseInitials); err != nil {
		return err
	}

	step, rows := 0, 0
	for s.curr[TimeOff] <= specs.Stop+dt/2 {
		if err := s.runList(s.prog.Root, FirstVarOff, phaseFlows); err != nil {
			return err
		}
		if step%saveEvery == 0 && rows < nRows {
			s.results.Data = append(s.results.Data, s.curr...)
			rows++
		}
		if err := s.runList(s.prog.Root, FirstVarOff, phaseStocks); err != nil {
			return err
		}
		s.next[TimeOff] = s.curr[TimeOff] + dt
		s.next[DTOff] = dt
		s.next[InitialTimeOff] = specs.Start
		s.next[FinalTimeOff] = specs.Stop
		s.curr, s.next = s.next, s.curr
		step++
		log.Trace().Float64("time", s.curr[TimeOff]).Int("step", step).Msg("Sim: step complete")
	}
	s.results.Rows = rows
	log.Trace().Int("steps", step).Int("rows", rows).Msg("Sim: run complete")
	return nil
}

// runList executes one runlist of one module instance. base is the
// instance's absolute slot offset; the root runs at FirstVarOff. EVALMODULE
// only appears at statement boundaries, so the shared scratch stack is
// always empty when recursion happens.
func (s *Sim) runList(m *CompiledModule, base int, ph phase) error {
	var code []Op
	switch ph {
	case phaseInitials:
		code = m.Initials
	case phaseFlows:
		code = m.Flows
	case phaseStocks:
		code = m.Stocks
	}

	stack := s.scratch[:0]
	iters := s.iters[:0]
	curr := s.curr
	t := curr[TimeOff]
	dt := curr[DTOff]

	pc := 0
	for pc < len(code) {
		inst := code[pc]
		switch inst.Code {
		case NOP:
		case LOADC:
			stack = append(stack, m.Constants[inst.A])
		case LOADV:
			stack = append(stack, curr[base+int(inst.A)])
		case LOADG:
			stack = append(stack, curr[inst.A])
		case LOADIDX:
			stack = append(stack, curr[base+int(inst.A)+iters[len(iters)-1].i])
		case LOADDYN:
			x := stack[len(stack)-1]
			idx := int(math.Round(x))
			if idx < 1 || idx > int(inst.B) {
				stack[len(stack)-1] = math.NaN()
			} else {
				stack[len(stack)-1] = curr[base+int(inst.A)+idx-1]
			}
		case ASSIGNCURR:
			curr[base+int(inst.A)] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case ASSIGNNEXT:
			s.next[base+int(inst.A)] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case ASSIGNIDX:
			curr[base+int(inst.A)+iters[len(iters)-1].i] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case OP2:
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1] = binOp(BinOp(inst.A), a, b)
		case NOT:
			if stack[len(stack)-1] == 0 {
				stack[len(stack)-1] = 1
			} else {
				stack[len(stack)-1] = 0
			}
		case NEG:
			stack[len(stack)-1] = -stack[len(stack)-1]
		case APPLY:
			argc := int(inst.B)
			args := stack[len(stack)-argc:]
			v := apply(BuiltinID(inst.A), args, t, dt, s.rng)
			stack = stack[:len(stack)-argc]
			stack = append(stack, v)
		case LOOKUP:
			stack[len(stack)-1] = m.Tables[inst.A].Eval(stack[len(stack)-1])
		case JMP:
			pc = int(inst.A)
			continue
		case JFALSE:
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if v == 0 {
				pc = int(inst.A)
				continue
			}
		case ITERSTART:
			if inst.A == 0 {
				pc = int(inst.B)
				continue
			}
			iters = append(iters, iterFrame{i: 0, n: int(inst.A)})
		case ITERNEXT:
			fr := &iters[len(iters)-1]
			fr.i++
			if fr.i < fr.n {
				pc = int(inst.A)
				continue
			}
			iters = iters[:len(iters)-1]
		case EVALMODULE:
			call := m.Calls[inst.A]
			childBase := base + int(call.Off)
			for _, w := range call.Inputs {
				curr[childBase+int(w.Dst)] = curr[base+int(w.Src)]
			}
			if err := s.runList(call.Module, childBase, ph); err != nil {
				return err
			}
		case RET:
			return nil
		default:
			return fmt.Errorf("Unhandled instruction %s in %s/%s", inst, m.Ident, ph)
		}
		pc++
	}
	return nil
}

func binOp(op BinOp, a, b float64) float64 {
	switch op {
	case BinAdd:
		return a + b
	case BinSub:
		return a - b
	case BinMul:
		return a * b
	case BinDiv:
		// Unguarded division by zero propagates Inf/NaN by policy.
		return a / b
	case BinExp:
		return math.Pow(a, b)
	case BinMod:
		return math.Mod(a, b)
	case BinGt:
		return bool2f(a > b)
	case BinGte:
		return bool2f(a >= b)
	case BinLt:
		return bool2f(a < b)
	case BinLte:
		return bool2f(a <= b)
	case BinEq:
		return bool2f(a == b)
	case BinNeq:
		return bool2f(a != b)
	case BinAnd:
		return bool2f(a != 0 && b != 0)
	case BinOr:
		return bool2f(a != 0 || b != 0)
	}
	panic("Unhandled binary op")
}

func bool2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

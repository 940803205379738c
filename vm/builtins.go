package vm

import (
	"math"
	"math/rand"
)

// BuiltinID is the function operand of APPLY. Arity is verified at
// compile time; the VM trusts argc. Stateful builtins (SMTH1, DELAY3,
// ...) never reach APPLY: lowering rewrites them into nested modules.
type BuiltinID uint16

const (
	FnAbs BuiltinID = iota
	FnArccos
	FnArcsin
	FnArctan
	FnCos
	FnSin
	FnTan
	FnExp
	FnLn
	FnLog10
	FnSqrt
	FnFloor
	FnInt
	FnMax
	FnMin
	FnPi
	FnInf
	FnPulse
	FnRamp
	FnStairStep
	FnSafeDiv
	FnRand
	BuiltinMax
)

func (id BuiltinID) String() string {
	switch id {
	case FnAbs:
		return "abs"
	case FnArccos:
		return "arccos"
	case FnArcsin:
		return "arcsin"
	case FnArctan:
		return "arctan"
	case FnCos:
		return "cos"
	case FnSin:
		return "sin"
	case FnTan:
		return "tan"
	case FnExp:
		return "exp"
	case FnLn:
		return "ln"
	case FnLog10:
		return "log10"
	case FnSqrt:
		return "sqrt"
	case FnFloor:
		return "floor"
	case FnInt:
		return "int"
	case FnMax:
		return "max"
	case FnMin:
		return "min"
	case FnPi:
		return "pi"
	case FnInf:
		return "inf"
	case FnPulse:
		return "pulse"
	case FnRamp:
		return "ramp"
	case FnStairStep:
		return "step"
	case FnSafeDiv:
		return "safediv"
	case FnRand:
		return "rand"
	}
	panic("Unnamed builtin")
}

// apply evaluates one runtime builtin. Numeric edge cases follow the
// engine's fixed policies: SAFEDIV falls back instead of dividing by
// zero, everything else propagates NaN/Inf rather than raising.
func apply(id BuiltinID, args []float64, t, dt float64, rng *rand.Rand) float64 {
	switch id {
	case FnAbs:
		return math.Abs(args[0])
	case FnArccos:
		return math.Acos(args[0])
	case FnArcsin:
		return math.Asin(args[0])
	case FnArctan:
		return math.Atan(args[0])
	case FnCos:
		return math.Cos(args[0])
	case FnSin:
		return math.Sin(args[0])
	case FnTan:
		return math.Tan(args[0])
	case FnExp:
		return math.Exp(args[0])
	case FnLn:
		return math.Log(args[0])
	case FnLog10:
		return math.Log10(args[0])
	case FnSqrt:
		return math.Sqrt(args[0])
	case FnFloor:
		return math.Floor(args[0])
	case FnInt:
		return math.Trunc(args[0])
	case FnMax:
		return math.Max(args[0], args[1])
	case FnMin:
		return math.Min(args[0], args[1])
	case FnPi:
		return math.Pi
	case FnInf:
		return math.Inf(1)
	case FnPulse:
		interval := 0.0
		if len(args) > 2 {
			interval = args[2]
		}
		first := 0.0
		if len(args) > 1 {
			first = args[1]
		}
		return pulse(t, dt, args[0], first, interval)
	case FnRamp:
		start := 0.0
		if len(args) > 1 {
			start = args[1]
		}
		if t > start {
			return args[0] * (t - start)
		}
		return 0
	case FnStairStep:
		at := 0.0
		if len(args) > 1 {
			at = args[1]
		}
		if t > at-dt/2 {
			return args[0]
		}
		return 0
	case FnSafeDiv:
		fallback := 0.0
		if len(args) > 2 {
			fallback = args[2]
		}
		if args[1] == 0 {
			return fallback
		}
		return args[0] / args[1]
	case FnRand:
		lo, hi := 0.0, 1.0
		if len(args) > 1 {
			lo, hi = args[0], args[1]
		}
		return lo + rng.Float64()*(hi-lo)
	}
	panic("Unhandled builtin")
}

// pulse emits volume/dt for one dt-wide window starting at firstPulse,
// repeating every interval when interval > 0.
func pulse(t, dt, volume, firstPulse, interval float64) float64 {
	if t < firstPulse {
		return 0
	}
	nextPulse := firstPulse
	for t >= nextPulse {
		if t < nextPulse+dt {
			return volume / dt
		}
		if interval <= 0 {
			break
		}
		nextPulse += interval
	}
	return 0
}

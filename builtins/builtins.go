// Package builtins is the fixed table of functions the equation
// language knows about: arity bounds plus a semantics tag that tells
// the compiler how each one lowers. Pure functions become APPLY
// instructions; stateful functions are synthesized into nested modules
// during stage-0→1 lowering; aggregates and lookups are compile-time
// forms; unsupported names are recognized so they can be rejected with
// a precise error instead of falling through to "unknown identifier".
package builtins

import "github.com/flowsim-dev/flowsim/vm"

type Kind int

const (
	// Pure lowers to an APPLY instruction.
	Pure Kind = iota
	// Conditional is function-form if/then/else.
	Conditional
	// Aggregate folds a wildcard subscript (SUM, MEAN).
	Aggregate
	// Lookup applies a variable's graphical function to an argument.
	Lookup
	// Stateful carries memory; lowered into a synthesized module.
	Stateful
	// Instantiate is the explicit MODULE(...) form.
	Instantiate
	// Unsupported is recognized but has no engine implementation.
	Unsupported
)

type Spec struct {
	Name    string
	MinArgs int
	MaxArgs int
	Kind    Kind
	Fn      vm.BuiltinID // valid for Pure only
}

// Table maps canonical builtin names to their specs. Aliases share a
// spec ("smooth" is "smth1").
var Table = map[string]Spec{
	"abs":     {Name: "abs", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnAbs},
	"arccos":  {Name: "arccos", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnArccos},
	"arcsin":  {Name: "arcsin", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnArcsin},
	"arctan":  {Name: "arctan", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnArctan},
	"cos":     {Name: "cos", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnCos},
	"sin":     {Name: "sin", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnSin},
	"tan":     {Name: "tan", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnTan},
	"exp":     {Name: "exp", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnExp},
	"ln":      {Name: "ln", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnLn},
	"log10":   {Name: "log10", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnLog10},
	"sqrt":    {Name: "sqrt", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnSqrt},
	"floor":   {Name: "floor", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnFloor},
	"int":     {Name: "int", MinArgs: 1, MaxArgs: 1, Kind: Pure, Fn: vm.FnInt},
	"max":     {Name: "max", MinArgs: 2, MaxArgs: 2, Kind: Pure, Fn: vm.FnMax},
	"min":     {Name: "min", MinArgs: 2, MaxArgs: 2, Kind: Pure, Fn: vm.FnMin},
	"pi":      {Name: "pi", MinArgs: 0, MaxArgs: 0, Kind: Pure, Fn: vm.FnPi},
	"inf":     {Name: "inf", MinArgs: 0, MaxArgs: 0, Kind: Pure, Fn: vm.FnInf},
	"pulse":   {Name: "pulse", MinArgs: 1, MaxArgs: 3, Kind: Pure, Fn: vm.FnPulse},
	"ramp":    {Name: "ramp", MinArgs: 1, MaxArgs: 2, Kind: Pure, Fn: vm.FnRamp},
	"step":    {Name: "step", MinArgs: 1, MaxArgs: 2, Kind: Pure, Fn: vm.FnStairStep},
	"safediv": {Name: "safediv", MinArgs: 2, MaxArgs: 3, Kind: Pure, Fn: vm.FnSafeDiv},
	"rand":    {Name: "rand", MinArgs: 0, MaxArgs: 2, Kind: Pure, Fn: vm.FnRand},

	"if_then_else": {Name: "if_then_else", MinArgs: 3, MaxArgs: 3, Kind: Conditional},

	"sum":  {Name: "sum", MinArgs: 1, MaxArgs: 1, Kind: Aggregate},
	"mean": {Name: "mean", MinArgs: 1, MaxArgs: 1, Kind: Aggregate},

	"lookup": {Name: "lookup", MinArgs: 2, MaxArgs: 2, Kind: Lookup},

	"smth1":  {Name: "smth1", MinArgs: 2, MaxArgs: 3, Kind: Stateful},
	"smooth": {Name: "smth1", MinArgs: 2, MaxArgs: 3, Kind: Stateful},
	"smth3":  {Name: "smth3", MinArgs: 2, MaxArgs: 3, Kind: Stateful},
	"delay1": {Name: "delay1", MinArgs: 2, MaxArgs: 3, Kind: Stateful},
	"delay3": {Name: "delay3", MinArgs: 2, MaxArgs: 3, Kind: Stateful},
	"delayn": {Name: "delayn", MinArgs: 3, MaxArgs: 4, Kind: Stateful},
	"trend":  {Name: "trend", MinArgs: 2, MaxArgs: 3, Kind: Stateful},
	"npv":    {Name: "npv", MinArgs: 2, MaxArgs: 4, Kind: Stateful},

	"module": {Name: "module", MinArgs: 1, MaxArgs: 1, Kind: Instantiate},

	// Recognized but rejected: no engine implementation exists, and a
	// silent placeholder would corrupt results.
	"allocate_available": {Name: "allocate_available", MinArgs: 0, MaxArgs: 9, Kind: Unsupported},
	"get_direct_data":    {Name: "get_direct_data", MinArgs: 0, MaxArgs: 9, Kind: Unsupported},
	"get_direct_lookups": {Name: "get_direct_lookups", MinArgs: 0, MaxArgs: 9, Kind: Unsupported},
	"get_xls_data":       {Name: "get_xls_data", MinArgs: 0, MaxArgs: 9, Kind: Unsupported},
	"get_xls_lookups":    {Name: "get_xls_lookups", MinArgs: 0, MaxArgs: 9, Kind: Unsupported},
	"random_normal":      {Name: "random_normal", MinArgs: 0, MaxArgs: 3, Kind: Unsupported},
	"random_poisson":     {Name: "random_poisson", MinArgs: 0, MaxArgs: 3, Kind: Unsupported},
	"forecast":           {Name: "forecast", MinArgs: 0, MaxArgs: 4, Kind: Unsupported},
	"previous":           {Name: "previous", MinArgs: 0, MaxArgs: 2, Kind: Unsupported},
}

// Lookup finds a builtin spec by canonical name.
func Find(name string) (Spec, bool) {
	s, ok := Table[name]
	return s, ok
}

// IsStateful reports whether name is a memory-carrying builtin.
func IsStateful(name string) bool {
	s, ok := Table[name]
	return ok && s.Kind == Stateful
}

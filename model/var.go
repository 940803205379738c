// Package model lowers a loaded project into stage-1 form: every
// equation parsed, stateful builtins expanded into synthesized module
// instances, dependencies resolved, and each model's variables ordered
// into the three runlists the compiler consumes (initials, flows,
// stocks). Diagnostics are collected per variable; a bad equation marks
// its variable errored without aborting the rest of the model.
package model

import (
	"sort"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/syntax"
)

type Kind int

const (
	KindStock Kind = iota
	KindFlow
	KindAux
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindStock:
		return "stock"
	case KindFlow:
		return "flow"
	case KindAux:
		return "aux"
	case KindModule:
		return "module"
	}
	panic("Unnamed variable kind")
}

// EqnForm is a parsed equation: one expression, one expression applied
// across the variable's dimensions, or per-element expressions.
type EqnForm interface {
	isEqnForm()
}

type ScalarEqn struct {
	Expr syntax.Expr
}

type ApplyToAllEqn struct {
	Expr syntax.Expr
}

type ArrayedEqn struct {
	Elements []ElementEqn
}

type ElementEqn struct {
	Subscript string
	Expr      syntax.Expr
}

func (ScalarEqn) isEqnForm()     {}
func (ApplyToAllEqn) isEqnForm() {}
func (ArrayedEqn) isEqnForm()    {}

// Var is one stage-1 variable. After expansion no equation contains a
// stateful builtin call; those have been replaced by references to
// synthesized module instances.
type Var struct {
	Ident       string
	Kind        Kind
	Dims        []string
	Units       string
	Table       *datamodel.Table
	NonNegative bool

	// Eqn is the per-step equation for flows and auxes, nil for stocks
	// and modules.
	Eqn EqnForm
	// Init is the initial-value equation, stocks only.
	Init EqnForm

	Inflows  []string
	Outflows []string

	// Module instantiation, KindModule only.
	ModelName string
	Inputs    []datamodel.ModuleInput

	// Synthetic marks variables manufactured during expansion rather
	// than authored in the source project.
	Synthetic bool

	// Errored variables are excluded from runlists; the compiler
	// initializes their slots to NaN so partial results stay honest.
	Errored bool

	// Deps are the identifiers this variable reads each step; InitDeps
	// the ones its initial value reads. Both are sorted and keep their
	// full dotted form.
	Deps     []string
	InitDeps []string
}

// Model is one lowered model: its variables by identifier, declaration
// order, and the three execution orders.
type Model struct {
	Name  string
	Vars  map[string]*Var
	Order []string

	// Initials covers every non-errored variable in initialization
	// order. Flows covers non-stocks in step order. Stocks covers
	// stocks and modules in declaration order.
	Initials []string
	Flows    []string
	Stocks   []string
}

// Get returns a variable by identifier, nil if absent.
func (m *Model) Get(ident string) *Var {
	return m.Vars[ident]
}

// VarsInOrder returns the model's variables in declaration order.
func (m *Model) VarsInOrder() []*Var {
	out := make([]*Var, 0, len(m.Order))
	for _, ident := range m.Order {
		out = append(out, m.Vars[ident])
	}
	return out
}

// Project is the lowered form of a datamodel project, including any
// stdlib models synthesized for stateful builtins.
type Project struct {
	Source *datamodel.Project
	Specs  datamodel.SimSpecs
	Models map[string]*Model

	// Errors collects every diagnostic from lowering, tagged with the
	// model and variable it belongs to.
	Errors datamodel.ErrorList
}

// Model returns a lowered model by name, nil if absent.
func (p *Project) Model(name string) *Model {
	return p.Models[name]
}

// Main returns the lowered root model.
func (p *Project) Main() *Model {
	if m := p.Models["main"]; m != nil {
		return m
	}
	if src := p.Source.Main(); src != nil {
		return p.Models[src.Name]
	}
	return nil
}

// ModelNames returns the lowered model names, sorted.
func (p *Project) ModelNames() []string {
	names := make([]string, 0, len(p.Models))
	for n := range p.Models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reserved identifiers resolve to the global slots every simulation
// carries rather than to model variables.
var reservedIdents = map[string]bool{
	"time":         true,
	"dt":           true,
	"initial_time": true,
	"final_time":   true,
}

// timeAliases maps legacy spellings onto the canonical reserved names.
var timeAliases = map[string]string{
	"starttime": "initial_time",
	"stoptime":  "final_time",
	"time_step": "dt",
}

// IsReserved reports whether ident names a global simulation slot.
func IsReserved(ident string) bool {
	return reservedIdents[ident]
}

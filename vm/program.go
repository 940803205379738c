package vm

import (
	"fmt"
	"sort"

	"github.com/flowsim-dev/flowsim/datamodel"
)

// Reserved absolute offsets at the front of the state vector. Nested
// modules address their own slots relative to a base; these four are
// always addressed absolutely (LOADG).
const (
	TimeOff        = 0
	DTOff          = 1
	InitialTimeOff = 2
	FinalTimeOff   = 3
	FirstVarOff    = 4
)

// Program is an immutable compiled simulation: bytecode plus the
// variable-to-offset layout. It is created once per successful compile
// and is safe to share, read-only, across concurrently running Sims.
type Program struct {
	Specs   datamodel.SimSpecs
	Root    *CompiledModule
	Offsets map[string]int // flattened canonical ident -> absolute slot
	NSlots  int
}

// CompiledModule is the bytecode for one model, shared by every
// instantiation of that model. Offsets inside the runlists are relative
// to the instance's base slot.
type CompiledModule struct {
	Ident     string
	NSlots    int
	Constants []float64
	Tables    []*datamodel.Table
	Calls     []ModuleCall

	// Three runlists: initial values at t0, auxiliaries and flows each
	// step, stock integration each step.
	Initials []Op
	Flows    []Op
	Stocks   []Op
}

// ModuleCall wires one nested instantiation: where the child's slot
// block lives (relative to the parent's base) and which parent slots
// feed the child's formal inputs.
type ModuleCall struct {
	Ident  string
	Module *CompiledModule
	Off    uint16
	Inputs []InputWire
}

// InputWire copies parent slot Src (parent-relative) into child slot
// Dst (child-relative) before each phase of the child runs.
type InputWire struct {
	Src uint16
	Dst uint16
}

func (p *Program) DebugPrint() {
	fmt.Printf("slots: %d\n", p.NSlots)
	names := make([]string, 0, len(p.Offsets))
	for n := range p.Offsets {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return p.Offsets[names[i]] < p.Offsets[names[j]] })
	for _, n := range names {
		fmt.Printf("  %3d: %s\n", p.Offsets[n], n)
	}
	p.Root.DebugPrint()
}

func (m *CompiledModule) DebugPrint() {
	fmt.Printf("*** module %s (%d slots)\n", m.Ident, m.NSlots)
	printList := func(name string, code []Op) {
		fmt.Printf("  %s:\n", name)
		for i, op := range code {
			fmt.Printf("    %03d: %s\n", i, op)
		}
	}
	printList("initials", m.Initials)
	printList("flows", m.Flows)
	printList("stocks", m.Stocks)
	for _, c := range m.Calls {
		c.Module.DebugPrint()
	}
}

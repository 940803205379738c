package datamodel

import (
	"fmt"
)

// SimSpecs are the global simulation controls shared by every model in
// a project.
type SimSpecs struct {
	Start     float64
	Stop      float64
	DT        float64
	SaveStep  float64 // 0 means "same as DT"
	Method    string  // only "euler" is supported
	TimeUnits string
}

// EffectiveSaveStep resolves the zero default.
func (s SimSpecs) EffectiveSaveStep() float64 {
	if s.SaveStep <= 0 {
		return s.DT
	}
	return s.SaveStep
}

// Validate checks the specs are simulatable.
func (s SimSpecs) Validate() error {
	if s.DT <= 0 {
		return fmt.Errorf("sim specs: dt must be positive, got %g", s.DT)
	}
	if s.Stop < s.Start {
		return fmt.Errorf("sim specs: stop (%g) precedes start (%g)", s.Stop, s.Start)
	}
	if s.Method != "" && s.Method != "euler" {
		return fmt.Errorf("sim specs: unsupported integration method %q", s.Method)
	}
	return nil
}

// Dimension is a named, ordered set of element names used for array
// subscripting. A dimension may alias a subset of another via SubdimOf.
type Dimension struct {
	Name     string
	Elements []string
	SubdimOf string
}

// Len returns the element count.
func (d Dimension) Len() int { return len(d.Elements) }

// IndexOf returns the 1-based position of element, or 0 if absent.
func (d Dimension) IndexOf(element string) int {
	for i, e := range d.Elements {
		if e == element {
			return i + 1
		}
	}
	return 0
}

// UnitDecl declares a unit name and its aliases; "month" ≡ "months"
// style equivalences used by the units checker.
type UnitDecl struct {
	Name    string
	Aliases []string
}

// Project is the immutable input handed to the engine by format-import
// collaborators: an ordered collection of models plus global sim specs.
type Project struct {
	Name       string
	Specs      SimSpecs
	Dimensions []Dimension
	Units      []UnitDecl
	Models     []*Model
}

// Model looks a model up by canonical name, nil if absent.
func (p *Project) Model(name string) *Model {
	for _, m := range p.Models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Dimension looks a dimension up by canonical name.
func (p *Project) Dimension(name string) (Dimension, bool) {
	for _, d := range p.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// Main returns the root model: "main" if present, else the first model.
func (p *Project) Main() *Model {
	if m := p.Model("main"); m != nil {
		return m
	}
	if len(p.Models) > 0 {
		return p.Models[0]
	}
	return nil
}

// Model is a named collection of variables. Declaration order is
// significant: it breaks topological-sort ties to keep compilation
// deterministic.
type Model struct {
	Name      string
	Variables []Variable
}

// Get looks a variable up by canonical identifier, nil if absent.
func (m *Model) Get(ident string) Variable {
	for _, v := range m.Variables {
		if v.Ident() == ident {
			return v
		}
	}
	return nil
}

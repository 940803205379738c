package datamodel

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// TOML project files are the stand-in for format-import collaborators:
// tests and the CLI describe models in this format and hand the decoded
// Project to the engine. TOML tables are unordered, so variables are
// sorted by canonical name on load; "declaration order" for loaded
// projects therefore means sorted-name order, which keeps compilation
// deterministic across runs.

type projectFile struct {
	Name       string               `toml:",omitempty"`
	Sim        simFile              `toml:"sim"`
	Dimensions map[string]dimFile   `toml:"dimensions"`
	Units      map[string]unitFile  `toml:"units"`
	Models     map[string]modelFile `toml:"model"`
}

type simFile struct {
	Start     float64 `toml:"start"`
	Stop      float64 `toml:"stop"`
	DT        float64 `toml:"dt"`
	SaveStep  float64 `toml:"save_step,omitempty"`
	Method    string  `toml:"method,omitempty"`
	TimeUnits string  `toml:"time_units,omitempty"`
}

type dimFile struct {
	Elements []string `toml:"elements"`
	SubdimOf string   `toml:"subdim_of,omitempty"`
}

type unitFile struct {
	Aliases []string `toml:"aliases"`
}

type modelFile struct {
	Stocks  map[string]stockFile  `toml:"stocks"`
	Flows   map[string]flowFile   `toml:"flows"`
	Aux     map[string]auxFile    `toml:"aux"`
	Modules map[string]moduleFile `toml:"modules"`
}

type stockFile struct {
	Initial     string            `toml:"initial"`
	Elements    map[string]string `toml:"elements"`
	Inflows     []string          `toml:"inflows"`
	Outflows    []string          `toml:"outflows"`
	Units       string            `toml:"units,omitempty"`
	Dims        []string          `toml:"dims,omitempty"`
	NonNegative bool              `toml:"non_negative,omitempty"`
	Doc         string            `toml:"doc,omitempty"`
}

type flowFile struct {
	Eqn         string            `toml:"eqn"`
	Elements    map[string]string `toml:"elements"`
	Units       string            `toml:"units,omitempty"`
	Dims        []string          `toml:"dims,omitempty"`
	TableX      []float64         `toml:"table_x,omitempty"`
	TableY      []float64         `toml:"table_y,omitempty"`
	NonNegative bool              `toml:"non_negative,omitempty"`
	Doc         string            `toml:"doc,omitempty"`
}

type auxFile struct {
	Eqn      string            `toml:"eqn"`
	Elements map[string]string `toml:"elements"`
	Units    string            `toml:"units,omitempty"`
	Dims     []string          `toml:"dims,omitempty"`
	TableX   []float64         `toml:"table_x,omitempty"`
	TableY   []float64         `toml:"table_y,omitempty"`
	Doc      string            `toml:"doc,omitempty"`
}

type moduleFile struct {
	Model  string            `toml:"model"`
	Inputs map[string]string `toml:"inputs"` // dst (child) -> src (parent)
}

// ParseProject decodes a TOML project description.
func ParseProject(r io.Reader) (*Project, error) {
	var pf projectFile
	if _, err := toml.NewDecoder(r).Decode(&pf); err != nil {
		return nil, err
	}
	return pf.intoProject()
}

// LoadProjectFile reads and decodes a TOML project file.
func LoadProjectFile(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := ParseProject(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (pf *projectFile) intoProject() (*Project, error) {
	p := &Project{
		Name: pf.Name,
		Specs: SimSpecs{
			Start:     pf.Sim.Start,
			Stop:      pf.Sim.Stop,
			DT:        pf.Sim.DT,
			SaveStep:  pf.Sim.SaveStep,
			Method:    pf.Sim.Method,
			TimeUnits: Canonicalize(pf.Sim.TimeUnits),
		},
	}
	if err := p.Specs.Validate(); err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(pf.Dimensions) {
		df := pf.Dimensions[name]
		d := Dimension{Name: Canonicalize(name), SubdimOf: Canonicalize(df.SubdimOf)}
		for _, e := range df.Elements {
			d.Elements = append(d.Elements, Canonicalize(e))
		}
		if len(d.Elements) == 0 {
			return nil, fmt.Errorf("dimension %q has no elements", name)
		}
		p.Dimensions = append(p.Dimensions, d)
	}
	for _, d := range p.Dimensions {
		if d.SubdimOf == "" {
			continue
		}
		parent, ok := p.Dimension(d.SubdimOf)
		if !ok {
			return nil, fmt.Errorf("dimension %q: unknown parent dimension %q", d.Name, d.SubdimOf)
		}
		for _, e := range d.Elements {
			if parent.IndexOf(e) == 0 {
				return nil, fmt.Errorf("dimension %q: element %q not in parent %q", d.Name, e, parent.Name)
			}
		}
	}
	for _, name := range sortedKeys(pf.Units) {
		u := UnitDecl{Name: Canonicalize(name)}
		for _, a := range pf.Units[name].Aliases {
			u.Aliases = append(u.Aliases, Canonicalize(a))
		}
		p.Units = append(p.Units, u)
	}
	for _, name := range sortedKeys(pf.Models) {
		mf := pf.Models[name]
		m, err := mf.intoModel(Canonicalize(name))
		if err != nil {
			return nil, err
		}
		p.Models = append(p.Models, m)
	}
	if len(p.Models) == 0 {
		return nil, fmt.Errorf("project has no models")
	}
	return p, nil
}

func (mf *modelFile) intoModel(name string) (*Model, error) {
	m := &Model{Name: name}
	for _, n := range sortedKeys(mf.Stocks) {
		sf := mf.Stocks[n]
		s := Stock{
			Core:        core(n, sf.Units, sf.Dims, sf.Doc),
			Initial:     equation(sf.Initial, sf.Elements, sf.Dims),
			NonNegative: sf.NonNegative,
		}
		for _, f := range sf.Inflows {
			s.Inflows = append(s.Inflows, Canonicalize(f))
		}
		for _, f := range sf.Outflows {
			s.Outflows = append(s.Outflows, Canonicalize(f))
		}
		m.Variables = append(m.Variables, s)
	}
	for _, n := range sortedKeys(mf.Flows) {
		ff := mf.Flows[n]
		f := Flow{
			Core:        core(n, ff.Units, ff.Dims, ff.Doc),
			Eqn:         equation(ff.Eqn, ff.Elements, ff.Dims),
			NonNegative: ff.NonNegative,
		}
		var err error
		if f.Table, err = table(n, ff.TableX, ff.TableY); err != nil {
			return nil, err
		}
		m.Variables = append(m.Variables, f)
	}
	for _, n := range sortedKeys(mf.Aux) {
		af := mf.Aux[n]
		a := Aux{
			Core: core(n, af.Units, af.Dims, af.Doc),
			Eqn:  equation(af.Eqn, af.Elements, af.Dims),
		}
		var err error
		if a.Table, err = table(n, af.TableX, af.TableY); err != nil {
			return nil, err
		}
		m.Variables = append(m.Variables, a)
	}
	for _, n := range sortedKeys(mf.Modules) {
		uf := mf.Modules[n]
		mod := Module{
			Core:      core(n, "", nil, ""),
			ModelName: Canonicalize(uf.Model),
		}
		for _, dst := range sortedKeys(uf.Inputs) {
			mod.Inputs = append(mod.Inputs, ModuleInput{
				Src: Canonicalize(uf.Inputs[dst]),
				Dst: Canonicalize(dst),
			})
		}
		m.Variables = append(m.Variables, mod)
	}
	return m, nil
}

func core(raw, units string, dims []string, doc string) Core {
	c := Core{Name: Canonicalize(raw), Raw: raw, Units: units, Doc: doc}
	for _, d := range dims {
		c.Dims = append(c.Dims, Canonicalize(d))
	}
	return c
}

func equation(expr string, elements map[string]string, dims []string) Equation {
	if len(elements) > 0 {
		a := Arrayed{}
		for _, sub := range sortedKeys(elements) {
			a.Elements = append(a.Elements, Element{
				Subscript: Canonicalize(sub),
				Expr:      elements[sub],
			})
		}
		return a
	}
	if len(dims) > 0 {
		return ApplyToAll{Expr: expr}
	}
	return Scalar{Expr: expr}
}

func table(name string, x, y []float64) (*Table, error) {
	if len(x) == 0 && len(y) == 0 {
		return nil, nil
	}
	t := &Table{X: x, Y: y}
	if !t.Valid() {
		return nil, fmt.Errorf("variable %q: malformed table (need equal-length, strictly increasing x)", name)
	}
	return t, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

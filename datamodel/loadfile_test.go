package datamodel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const lynxHares = `
name = "lynxes and hares"

[sim]
start = 0
stop = 50
dt = 0.25

[model.main.stocks.hares]
initial = "5e4"
inflows = ["births"]
outflows = ["deaths"]
units = "hares"

[model.main.flows.births]
eqn = "hares * birth_rate"

[model.main.flows.deaths]
eqn = "hares * death_rate"

[model.main.aux.birth_rate]
eqn = "0.04"

[model.main.aux."Death Rate"]
eqn = "0.02"
`

func TestParseProject(t *testing.T) {
	p, err := ParseProject(strings.NewReader(lynxHares))
	require.NoError(t, err)
	require.Equal(t, "lynxes and hares", p.Name)
	require.Equal(t, 0.25, p.Specs.DT)
	require.Equal(t, 0.25, p.Specs.EffectiveSaveStep())

	m := p.Main()
	require.NotNil(t, m)
	require.Equal(t, "main", m.Name)
	require.Len(t, m.Variables, 5)

	s, ok := m.Get("hares").(Stock)
	require.True(t, ok)
	require.Equal(t, []string{"births"}, s.Inflows)
	require.Equal(t, []string{"deaths"}, s.Outflows)
	require.Equal(t, Scalar{Expr: "5e4"}, s.Initial)

	// Quoted mixed-case names canonicalize on load.
	require.NotNil(t, m.Get("death_rate"))
}

func TestParseProjectDimensions(t *testing.T) {
	src := `
[sim]
stop = 10
dt = 1

[dimensions.location]
elements = ["Boston", "Chicago", "LA"]

[dimensions.coastal]
elements = ["Boston", "LA"]
subdim_of = "location"

[model.main.aux.revenue]
eqn = "10"
dims = ["location"]
`
	p, err := ParseProject(strings.NewReader(src))
	require.NoError(t, err)

	d, ok := p.Dimension("location")
	require.True(t, ok)
	require.Equal(t, 3, d.Len())
	require.Equal(t, 1, d.IndexOf("boston"))
	require.Equal(t, 3, d.IndexOf("la"))
	require.Equal(t, 0, d.IndexOf("nyc"))

	sub, ok := p.Dimension("coastal")
	require.True(t, ok)
	require.Equal(t, "location", sub.SubdimOf)

	a, ok := p.Main().Get("revenue").(Aux)
	require.True(t, ok)
	require.Equal(t, []string{"location"}, a.Dims)
	require.Equal(t, ApplyToAll{Expr: "10"}, a.Eqn)
}

func TestParseProjectArrayedElements(t *testing.T) {
	src := `
[sim]
stop = 10
dt = 1

[dimensions.location]
elements = ["Boston", "Chicago"]

[model.main.aux.revenue]
dims = ["location"]
[model.main.aux.revenue.elements]
Boston = "100"
Chicago = "200"
`
	p, err := ParseProject(strings.NewReader(src))
	require.NoError(t, err)
	a := p.Main().Get("revenue").(Aux)
	arr, ok := a.Eqn.(Arrayed)
	require.True(t, ok)
	require.Equal(t, []Element{
		{Subscript: "boston", Expr: "100"},
		{Subscript: "chicago", Expr: "200"},
	}, arr.Elements)
}

func TestParseProjectModules(t *testing.T) {
	src := `
[sim]
stop = 10
dt = 1

[model.main.aux.area]
eqn = "1000"

[model.main.modules.hares]
model = "hares"
[model.main.modules.hares.inputs]
area = "area"

[model.hares.aux.area]
eqn = "0"
[model.hares.aux.density]
eqn = "population / area"
[model.hares.stocks.population]
initial = "5e4"
`
	p, err := ParseProject(strings.NewReader(src))
	require.NoError(t, err)
	mod, ok := p.Model("main").Get("hares").(Module)
	require.True(t, ok)
	require.Equal(t, "hares", mod.ModelName)
	require.Equal(t, []ModuleInput{{Src: "area", Dst: "area"}}, mod.Inputs)
}

func TestParseProjectBadSpecs(t *testing.T) {
	for _, src := range []string{
		"[sim]\nstop = 10\ndt = 0\n[model.main.aux.x]\neqn = \"1\"",
		"[sim]\nstart = 20\nstop = 10\ndt = 1\n[model.main.aux.x]\neqn = \"1\"",
		"[sim]\nstop = 10\ndt = 1\nmethod = \"rk4\"\n[model.main.aux.x]\neqn = \"1\"",
	} {
		_, err := ParseProject(strings.NewReader(src))
		require.Error(t, err, src)
	}
}

func TestParseProjectBadTable(t *testing.T) {
	src := `
[sim]
stop = 10
dt = 1

[model.main.aux.effect]
eqn = "time"
table_x = [0, 1, 1]
table_y = [0, 5, 9]
`
	_, err := ParseProject(strings.NewReader(src))
	require.Error(t, err)
	require.Contains(t, err.Error(), "table")
}

func TestTableEval(t *testing.T) {
	tb := Table{X: []float64{0, 1, 2}, Y: []float64{0, 10, 40}}
	require.True(t, tb.Valid())
	require.Equal(t, 0.0, tb.Eval(-5))  // clamp below
	require.Equal(t, 40.0, tb.Eval(99)) // clamp above
	require.Equal(t, 10.0, tb.Eval(1))
	require.Equal(t, 5.0, tb.Eval(0.5)) // linear interpolation
	require.Equal(t, 25.0, tb.Eval(1.5))
}

func TestCanonicalize(t *testing.T) {
	require.Equal(t, "birth_rate", Canonicalize("Birth Rate"))
	require.Equal(t, "birth_rate", Canonicalize(`"birth  rate"`))
	require.Equal(t, "a_b", Canonicalize("a\\nb"))
	require.Equal(t, "x", Canonicalize("  X  "))
}

func TestSplitIdent(t *testing.T) {
	first, rest := SplitIdent("mod.sub.x")
	require.Equal(t, "mod", first)
	require.Equal(t, "sub.x", rest)
	first, rest = SplitIdent("plain")
	require.Equal(t, "plain", first)
	require.Empty(t, rest)
}

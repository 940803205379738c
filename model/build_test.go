package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsim-dev/flowsim/datamodel"
)

func build(t *testing.T, src string) *Project {
	t.Helper()
	dp, err := datamodel.ParseProject(strings.NewReader(src))
	require.NoError(t, err)
	return Build(dp)
}

func codesFor(errs datamodel.ErrorList, ident string) []datamodel.ErrorCode {
	var out []datamodel.ErrorCode
	for _, e := range errs.ForVariable(ident) {
		out = append(out, e.Code)
	}
	return out
}

const predatorPrey = `
[sim]
stop = 50
dt = 0.25

[model.main.stocks.hares]
initial = "5e4"
inflows = ["births"]
outflows = ["deaths"]

[model.main.flows.births]
eqn = "hares * birth_rate"

[model.main.flows.deaths]
eqn = "hares * death_rate"

[model.main.aux.birth_rate]
eqn = "0.04"

[model.main.aux.death_rate]
eqn = "0.02"
`

func TestBuildRunlists(t *testing.T) {
	p := build(t, predatorPrey)
	require.Empty(t, p.Errors)

	m := p.Main()
	require.NotNil(t, m)
	require.Equal(t, []string{"hares", "births", "deaths", "birth_rate", "death_rate"}, m.Order)

	// Initialization order: dependencies before dependents, declaration
	// order breaking ties.
	require.Equal(t, []string{"hares", "birth_rate", "death_rate", "births", "deaths"}, m.Initials)
	// Step order: stock reads don't impose ordering, stocks aren't step
	// nodes at all.
	require.Equal(t, []string{"birth_rate", "death_rate", "births", "deaths"}, m.Flows)
	require.Equal(t, []string{"hares"}, m.Stocks)
}

func TestBuildDeps(t *testing.T) {
	p := build(t, predatorPrey)
	m := p.Main()

	births := m.Get("births")
	require.Equal(t, []string{"birth_rate", "hares"}, births.Deps)

	hares := m.Get("hares")
	require.Equal(t, []string{"births", "deaths"}, hares.Deps)
	require.Empty(t, hares.InitDeps)
}

func TestStatefulBuiltinExpansion(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.input]
eqn = "step(10, 3)"

[model.main.aux.smoothed]
eqn = "smth1(input, 5 * 2)"
`)
	require.Empty(t, p.Errors)

	m := p.Main()
	inst := m.Get("$smth1_0")
	require.NotNil(t, inst)
	require.Equal(t, KindModule, inst.Kind)
	require.Equal(t, "$smth1", inst.ModelName)
	require.True(t, inst.Synthetic)

	// The first argument is a plain variable and wires straight through;
	// the second is an expression, so a carrier aux is synthesized.
	require.Equal(t, []datamodel.ModuleInput{
		{Src: "input", Dst: "input"},
		{Src: "$smth1_0_arg1", Dst: "delay"},
	}, inst.Inputs)

	arg := m.Get("$smth1_0_arg1")
	require.NotNil(t, arg)
	require.Equal(t, KindAux, arg.Kind)
	require.True(t, arg.Synthetic)

	// The call itself became a reference to the instance's output.
	smoothed := m.Get("smoothed")
	require.Equal(t, []string{"$smth1_0.output"}, smoothed.Deps)

	// The stdlib model was pulled into the project.
	lib := p.Model("$smth1")
	require.NotNil(t, lib)
	require.NotNil(t, lib.Get("output"))
	require.Equal(t, KindStock, lib.Get("output").Kind)
}

func TestDelayNExpansion(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.input]
eqn = "5"

[model.main.aux.delayed]
eqn = "delayn(input, 4, 3)"
`)
	require.Empty(t, p.Errors)

	inst := p.Main().Get("$delayn_0")
	require.NotNil(t, inst)
	require.Equal(t, "$delayn_3", inst.ModelName)

	lib := p.Model("$delayn_3")
	require.NotNil(t, lib)
	require.NotNil(t, lib.Get("stage1"))
	require.NotNil(t, lib.Get("stage3"))
	require.Nil(t, lib.Get("stage4"))
}

func TestDelayNRequiresConstantOrder(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.k]
eqn = "3"

[model.main.aux.delayed]
eqn = "delayn(5, 4, k)"
`)
	require.Contains(t, codesFor(p.Errors, "delayed"), datamodel.ErrBadBuiltinArgs)
	require.True(t, p.Main().Get("delayed").Errored)
}

func TestFeedbackThroughSmoothIsNotACycle(t *testing.T) {
	// The classic pattern: a flow depends on a smooth of the stock that
	// the flow itself fills. The smooth's memory breaks the algebraic
	// loop.
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.stocks.level]
initial = "10"
inflows = ["fill"]

[model.main.flows.fill]
eqn = "smth1(level, 3) * 0.1"
`)
	require.Empty(t, p.Errors)
}

func TestCircularDependency(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.a]
eqn = "b + 1"

[model.main.aux.b]
eqn = "a + 1"

[model.main.aux.fine]
eqn = "42"
`)
	m := p.Main()

	// The cycle shows up in both the step and the initialization graph;
	// each diagnostic names every participant.
	codes := codesFor(p.Errors, "a")
	require.Contains(t, codes, datamodel.ErrCircularDependency)
	require.Contains(t, codes, datamodel.ErrCircularInitialization)
	for _, e := range p.Errors.ForVariable("a") {
		require.Contains(t, e.Details, "a, b")
	}

	require.True(t, m.Get("a").Errored)
	require.True(t, m.Get("b").Errored)
	require.False(t, m.Get("fine").Errored)
	require.Equal(t, []string{"fine"}, m.Flows)
}

func TestSelfReference(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.x]
eqn = "x + 1"
`)
	require.Contains(t, codesFor(p.Errors, "x"), datamodel.ErrSelfReference)
}

func TestUnknownDependency(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.x]
eqn = "nonexistent * 2"

[model.main.aux.y]
eqn = "x + 1"
`)
	m := p.Main()
	require.Contains(t, codesFor(p.Errors, "x"), datamodel.ErrUnknownDependency)
	require.True(t, m.Get("x").Errored)
	// Errors propagate to dependents without extra diagnostics.
	require.True(t, m.Get("y").Errored)
	require.Empty(t, p.Errors.ForVariable("y"))
}

func TestUnknownBuiltin(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.x]
eqn = "frobnicate(1, 2)"
`)
	require.Contains(t, codesFor(p.Errors, "x"), datamodel.ErrUnknownBuiltin)
}

func TestBuiltinArity(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.x]
eqn = "max(1)"
`)
	require.Contains(t, codesFor(p.Errors, "x"), datamodel.ErrBuiltinArity)
}

func TestModuleStructure(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.area]
eqn = "1000"

[model.main.aux.density]
eqn = "hares.density"

[model.main.modules.hares]
model = "hares"
[model.main.modules.hares.inputs]
area = "area"

[model.hares.aux.area]
eqn = "0"

[model.hares.stocks.population]
initial = "5e4"

[model.hares.aux.density]
eqn = "population / area"
`)
	require.Empty(t, p.Errors)

	m := p.Main()
	mod := m.Get("hares")
	require.Equal(t, KindModule, mod.Kind)
	require.Equal(t, []string{"area"}, mod.Deps)

	// density reads hares.density, an aux in the child, so the module
	// must run first within the step.
	flows := m.Flows
	require.Less(t, indexOf(flows, "hares"), indexOf(flows, "density"))
}

func TestModuleErrors(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.modules.broken]
model = "no_such_model"

[model.main.modules.badinput]
model = "child"
[model.main.modules.badinput.inputs]
missing = "x"

[model.main.aux.x]
eqn = "1"

[model.child.aux.y]
eqn = "2"
`)
	require.Contains(t, codesFor(p.Errors, "broken"), datamodel.ErrBadModelName)
	require.Contains(t, codesFor(p.Errors, "badinput"), datamodel.ErrModuleInputNotFound)
}

func TestRecursiveModule(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.modules.child]
model = "a"

[model.a.modules.nested]
model = "b"

[model.b.modules.loop]
model = "a"
`)
	found := false
	for _, e := range p.Errors {
		if e.Code == datamodel.ErrRecursiveModule {
			found = true
		}
	}
	require.True(t, found)
}

func TestRootReferencesResolve(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.base_rate]
eqn = "0.1"

[model.main.modules.city]
model = "city"

[model.city.aux.local]
eqn = ".base_rate * 2"
`)
	require.Empty(t, p.Errors)

	city := p.Models["city"]
	require.Equal(t, []string{".base_rate"}, city.Get("local").Deps)

	// The reference reads a slot the top-level model computes, so the
	// instance carries the ordering edge, not the child variable.
	m := p.Main()
	require.Equal(t, []string{"base_rate"}, m.Get("city").Deps)
	require.Less(t, indexOf(m.Flows, "base_rate"), indexOf(m.Flows, "city"))
}

func TestRootReferenceWithinMain(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.x]
eqn = ".y + 1"

[model.main.aux.y]
eqn = "1"
`)
	require.Empty(t, p.Errors)
	m := p.Main()
	require.Less(t, indexOf(m.Flows, "y"), indexOf(m.Flows, "x"))
}

func TestRootReferenceUndefined(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.modules.city]
model = "city"

[model.city.aux.local]
eqn = ".no_such * 2"
`)
	require.Contains(t, codesFor(p.Errors, "local"), datamodel.ErrUnknownDependency)
}

func TestTimeAliasNormalization(t *testing.T) {
	p := build(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.x]
eqn = "time_step + starttime + stoptime"
`)
	require.Empty(t, p.Errors)
	// Reserved slots are globals, not graph edges.
	require.Empty(t, p.Main().Get("x").Deps)
}

func TestSortedIdents(t *testing.T) {
	p := build(t, predatorPrey)
	require.Equal(t,
		[]string{"birth_rate", "births", "death_rate", "deaths", "hares"},
		sortedIdents(p.Main().Vars))
}

func indexOf(s []string, x string) int {
	for i, v := range s {
		if v == x {
			return i
		}
	}
	return -1
}

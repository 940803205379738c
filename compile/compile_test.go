package compile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/vm"
)

func compileSrc(t *testing.T, src string) *Compiled {
	t.Helper()
	dp, err := datamodel.ParseProject(strings.NewReader(src))
	require.NoError(t, err)
	return Compile(model.Build(dp))
}

func TestScalarLayout(t *testing.T) {
	comp := compileSrc(t, `
[sim]
stop = 50
dt = 0.25

[model.main.stocks.hares]
initial = "5e4"
inflows = ["births"]

[model.main.flows.births]
eqn = "hares * birth_rate"

[model.main.aux.birth_rate]
eqn = "0.04"
`)
	require.NoError(t, comp.Err())

	// Reserved slots first, then variables in declaration order.
	require.Equal(t, vm.TimeOff, comp.Offsets["time"])
	require.Equal(t, vm.DTOff, comp.Offsets["dt"])
	require.Equal(t, vm.FirstVarOff, comp.Offsets["hares"])
	require.Equal(t, vm.FirstVarOff+1, comp.Offsets["births"])
	require.Equal(t, vm.FirstVarOff+2, comp.Offsets["birth_rate"])
	require.Equal(t, vm.FirstVarOff+3, comp.NSlots)
	require.NotNil(t, comp.Program)
	require.Equal(t, comp.NSlots, comp.Program.NSlots)
}

func TestArrayLayout(t *testing.T) {
	comp := compileSrc(t, `
[sim]
stop = 10
dt = 1

[dimensions.location]
elements = ["boston", "chicago", "la"]

[dimensions.product]
elements = ["widgets", "gadgets"]

[model.main.aux.revenue]
eqn = "10"
dims = ["location", "product"]

[model.main.aux.total]
eqn = "sum(revenue[*, *])"
`)
	require.NoError(t, comp.Err())

	// Row-major element entries, one per flattened slot.
	base := comp.Offsets["revenue[boston,widgets]"]
	require.Equal(t, vm.FirstVarOff, base)
	require.Equal(t, base+1, comp.Offsets["revenue[boston,gadgets]"])
	require.Equal(t, base+2, comp.Offsets["revenue[chicago,widgets]"])
	require.Equal(t, base+5, comp.Offsets["revenue[la,gadgets]"])
	require.Equal(t, base+6, comp.Offsets["total"])
}

func TestModuleLayout(t *testing.T) {
	comp := compileSrc(t, `
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

[model.hares.stocks.population]
initial = "5e4"
`)
	require.NoError(t, comp.Err())

	// Nested instances flatten to dotted paths within the parent block.
	require.Equal(t, vm.FirstVarOff, comp.Offsets["area"])
	require.Equal(t, vm.FirstVarOff+1, comp.Offsets["hares.area"])
	require.Equal(t, vm.FirstVarOff+2, comp.Offsets["hares.population"])

	// The input wire copies the parent slot into the child formal.
	require.Len(t, comp.Root.Calls, 1)
	call := comp.Root.Calls[0]
	require.Equal(t, []vm.InputWire{{Src: 0, Dst: 0}}, call.Inputs)
	require.Equal(t, uint16(1), call.Off)
}

func TestSharedInstanceClasses(t *testing.T) {
	comp := compileSrc(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.a]
eqn = "1"

[model.main.modules.first]
model = "child"
[model.main.modules.first.inputs]
x = "a"

[model.main.modules.second]
model = "child"
[model.main.modules.second.inputs]
x = "a"

[model.main.modules.unbound]
model = "child"

[model.child.aux.x]
eqn = "0"

[model.child.aux.y]
eqn = "x * 2"
`)
	require.NoError(t, comp.Err())

	// Two instances with the same bound formals share one unit; the
	// unbound instance compiles its own (the default equation for x
	// stays live there).
	require.Contains(t, comp.Units, "child|x")
	require.Contains(t, comp.Units, "child|")
	require.Len(t, comp.Root.Calls, 3)
	require.Same(t, comp.Root.Calls[0].Unit, comp.Root.Calls[1].Unit)
	require.NotSame(t, comp.Root.Calls[0].Unit, comp.Root.Calls[2].Unit)
}

func TestRootReferenceLowersToAbsoluteSlot(t *testing.T) {
	comp := compileSrc(t, `
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
	require.NoError(t, comp.Err())
	require.Equal(t, vm.FirstVarOff, comp.Offsets["base_rate"])
	require.NotNil(t, comp.Program)
}

func TestRootReferenceDiagnostics(t *testing.T) {
	comp := compileSrc(t, `
[sim]
stop = 10
dt = 1

[dimensions.region]
elements = ["east", "west"]

[model.main.aux.rates]
eqn = "1"
dims = ["region"]

[model.main.modules.city]
model = "city"

[model.city.aux.sliced]
eqn = ".rates[east]"

[model.city.aux.whole]
eqn = ".rates * 2"
`)
	codes := map[datamodel.ErrorCode]bool{}
	for _, e := range comp.Errors {
		codes[e.Code] = true
	}
	// Root references are scalar reads: subscripting one is rejected
	// outright, and one naming an array fails to resolve.
	require.True(t, codes[datamodel.ErrNotAnArray])
	require.True(t, codes[datamodel.ErrUnknownDependency])
}

func TestPartialCompile(t *testing.T) {
	comp := compileSrc(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.bad]
eqn = "undefined_thing * 2"

[model.main.aux.downstream]
eqn = "bad + 1"

[model.main.aux.good]
eqn = "42"
`)
	err := comp.Err()
	require.Error(t, err)

	var codes []datamodel.ErrorCode
	for _, e := range comp.Errors {
		codes = append(codes, e.Code)
	}
	require.Contains(t, codes, datamodel.ErrUnknownDependency)
	require.Contains(t, codes, datamodel.ErrVariablesHaveErrors)

	// The program still exists and the healthy variable still runs.
	require.NotNil(t, comp.Program)
	sim := vm.NewSim(comp.Program)
	require.NoError(t, sim.RunToEnd())
	r := sim.Results()

	good, ok := r.Series("good")
	require.True(t, ok)
	require.Equal(t, 42.0, good[0])

	bad, ok := r.Series("bad")
	require.True(t, ok)
	require.True(t, bad[0] != bad[0], "errored slots read as NaN")
	down, _ := r.Series("downstream")
	require.True(t, down[0] != down[0])
}

func TestNotSimulatable(t *testing.T) {
	dp, err := datamodel.ParseProject(strings.NewReader(`
[sim]
stop = 10
dt = 1

[model.main]
`))
	require.NoError(t, err)
	comp := Compile(model.Build(dp))
	require.Nil(t, comp.Program)

	var codes []datamodel.ErrorCode
	for _, e := range comp.Errors {
		codes = append(codes, e.Code)
	}
	require.Contains(t, codes, datamodel.ErrNotSimulatable)
}

func TestClassKey(t *testing.T) {
	require.Equal(t, "m|a,b", classKey("m", []string{"b", "a"}))
	require.Equal(t, "m|", classKey("m", nil))
}

func TestElemOffset(t *testing.T) {
	dims := []datamodel.Dimension{
		{Name: "r", Elements: []string{"a", "b", "c"}},
		{Name: "c", Elements: []string{"x", "y"}},
	}
	require.Equal(t, 0, elemOffset(dims, []int{0, 0}))
	require.Equal(t, 1, elemOffset(dims, []int{0, 1}))
	require.Equal(t, 2, elemOffset(dims, []int{1, 0}))
	require.Equal(t, 5, elemOffset(dims, []int{2, 1}))
}

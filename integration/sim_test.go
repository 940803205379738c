package integration

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsim-dev/flowsim/compile"
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/vm"
)

func compileClean(t *testing.T, src string) *compile.Compiled {
	t.Helper()
	dp, err := datamodel.ParseProject(strings.NewReader(src))
	require.NoError(t, err)
	comp := compile.Compile(model.Build(dp))
	require.Empty(t, comp.Errors)
	return comp
}

func simulate(t *testing.T, src string) *vm.Results {
	t.Helper()
	sim := vm.NewSim(compileClean(t, src).Program)
	require.NoError(t, sim.RunToEnd())
	return sim.Results()
}

func series(t *testing.T, r *vm.Results, name string) []float64 {
	t.Helper()
	s, ok := r.Series(name)
	require.True(t, ok, "no series %q", name)
	return s
}

func TestExponentialGrowth(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 10
dt = 0.25

[model.main.stocks.population]
initial = "100"
inflows = ["births"]

[model.main.flows.births]
eqn = "population * 0.05"
`)
	pop := series(t, r, "population")
	require.Equal(t, 100.0, pop[0])
	for i := 1; i < len(pop); i++ {
		require.Greater(t, pop[i], pop[i-1])
	}
	// Euler at dt=0.25: (1 + 0.05/4)^40.
	want := 100 * math.Pow(1.0125, 40)
	require.InDelta(t, want, pop[len(pop)-1], 1e-6)
}

func TestStockDrainsAndClamps(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 10
dt = 1

[model.main.stocks.tank]
initial = "3"
outflows = ["drain"]
non_negative = true

[model.main.flows.drain]
eqn = "1"
`)
	tank := series(t, r, "tank")
	require.Equal(t, []float64{3, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0}, tank)
}

func TestReservedVariables(t *testing.T) {
	r := simulate(t, `
[sim]
start = 5
stop = 10
dt = 1

[model.main.aux.elapsed]
eqn = "time - initial_time"

[model.main.aux.remaining]
eqn = "final_time - time"

[model.main.aux.stepsize]
eqn = "dt"
`)
	require.Equal(t, []float64{0, 1, 2, 3, 4, 5}, series(t, r, "elapsed"))
	require.Equal(t, []float64{5, 4, 3, 2, 1, 0}, series(t, r, "remaining"))
	require.Equal(t, 1.0, series(t, r, "stepsize")[3])
}

func TestConditionalAndLogic(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 6
dt = 1

[model.main.aux.gate]
eqn = "if time >= 2 and time < 5 then 1 else 0"

[model.main.aux.fn_form]
eqn = "if_then_else(time >= 2 and time < 5, 1, 0)"
`)
	want := []float64{0, 0, 1, 1, 1, 0, 0}
	require.Equal(t, want, series(t, r, "gate"))
	require.Equal(t, want, series(t, r, "fn_form"))
}

func TestGraphicalFunction(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 4
dt = 1

[model.main.aux.effect]
eqn = "time"
table_x = [0, 2, 4]
table_y = [1, 3, 9]
`)
	require.Equal(t, []float64{1, 2, 3, 6, 9}, series(t, r, "effect"))
}

func TestLookupBuiltin(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 4
dt = 1

[model.main.aux.curve]
eqn = "0"
table_x = [0, 2, 4]
table_y = [1, 3, 9]

[model.main.aux.sampled]
eqn = "lookup(curve, time)"
`)
	require.Equal(t, []float64{1, 2, 3, 6, 9}, series(t, r, "sampled"))
}

func TestSmoothConvergesToStepInput(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 50
dt = 0.125

[model.main.aux.input]
eqn = "step(10, 3)"

[model.main.aux.smoothed]
eqn = "smth1(input, 2)"
`)
	sm := series(t, r, "smoothed")
	times := r.Time()

	// Starts at the pre-step input value, rises monotonically once the
	// step fires, converges to the new level.
	require.Equal(t, 0.0, sm[0])
	for i := 1; i < len(sm); i++ {
		require.GreaterOrEqual(t, sm[i]+1e-12, sm[i-1])
		require.LessOrEqual(t, sm[i], 10.0)
	}
	last := sm[len(sm)-1]
	require.InDelta(t, 10.0, last, 1e-6)

	// At one delay past the step it should be near 1 - 1/e of the way.
	for i, tv := range times {
		if tv == 5.0 {
			require.InDelta(t, 10*(1-1/math.E), sm[i], 0.3)
		}
	}
}

func TestDelayConservesMaterial(t *testing.T) {
	// A pulse through a third-order delay comes out the other side with
	// the same total volume.
	r := simulate(t, `
[sim]
stop = 40
dt = 0.125

[model.main.aux.input]
eqn = "pulse(10, 2)"

[model.main.aux.delayed]
eqn = "delay3(input, 4)"

[model.main.stocks.received]
initial = "0"
inflows = ["arriving"]

[model.main.flows.arriving]
eqn = "delayed"
`)
	rec := series(t, r, "received")
	require.InDelta(t, 10.0, rec[len(rec)-1], 0.05)
}

func TestTrendOfExponentialIsItsGrowthRate(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 60
dt = 0.0625

[model.main.stocks.signal]
initial = "1"
inflows = ["growth"]

[model.main.flows.growth]
eqn = "signal * 0.07"

[model.main.aux.measured]
eqn = "trend(signal, 5, 0.07)"
`)
	m := series(t, r, "measured")
	require.InDelta(t, 0.07, m[len(m)-1], 1e-3)
}

func TestModulesRunWithinParentStep(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.area]
eqn = "1000"

[model.main.aux.crowding]
eqn = "hares.density * 2"

[model.main.modules.hares]
model = "hares"
[model.main.modules.hares.inputs]
area = "area"

[model.hares.aux.area]
eqn = "0"

[model.hares.stocks.population]
initial = "500"
inflows = ["births"]

[model.hares.flows.births]
eqn = "population * 0.1"

[model.hares.aux.density]
eqn = "population / area"
`)
	pop := series(t, r, "hares.population")
	crowd := series(t, r, "crowding")
	require.Equal(t, 500.0, pop[0])
	require.Equal(t, 1.0, crowd[0])
	for i := range pop {
		require.InDelta(t, pop[i]/1000*2, crowd[i], 1e-12)
	}
}

func TestTwoInstancesEvolveIndependently(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.fast]
eqn = "0.2"

[model.main.aux.slow]
eqn = "0.05"

[model.main.modules.a]
model = "grower"
[model.main.modules.a.inputs]
rate = "fast"

[model.main.modules.b]
model = "grower"
[model.main.modules.b.inputs]
rate = "slow"

[model.grower.aux.rate]
eqn = "0"

[model.grower.stocks.level]
initial = "100"
inflows = ["gain"]

[model.grower.flows.gain]
eqn = "level * rate"
`)
	a := series(t, r, "a.level")
	b := series(t, r, "b.level")
	require.Equal(t, a[0], b[0])
	require.Greater(t, a[10], b[10])
	require.InDelta(t, 100*math.Pow(1.2, 10), a[10], 1e-6)
	require.InDelta(t, 100*math.Pow(1.05, 10), b[10], 1e-6)
}

func TestArrayedEquationsAndAggregates(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 2
dt = 1

[dimensions.location]
elements = ["boston", "chicago", "la"]

[model.main.aux.revenue]
dims = ["location"]
[model.main.aux.revenue.elements]
boston = "100"
chicago = "200"
la = "300"

[model.main.aux.total]
eqn = "sum(revenue[*])"

[model.main.aux.average]
eqn = "mean(revenue[*])"

[model.main.aux.best]
eqn = "revenue[la]"
`)
	require.Equal(t, 600.0, series(t, r, "total")[0])
	require.Equal(t, 200.0, series(t, r, "average")[0])
	require.Equal(t, 300.0, series(t, r, "best")[0])
	require.Equal(t, 100.0, series(t, r, "revenue[boston]")[0])
}

func TestApplyToAllArrays(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 2
dt = 1

[dimensions.location]
elements = ["boston", "chicago"]

[dimensions.product]
elements = ["widgets", "gadgets"]

[model.main.aux.price]
eqn = "5"
dims = ["location", "product"]

[model.main.aux.volume]
eqn = "10"
dims = ["location", "product"]

[model.main.aux.sales]
eqn = "price * volume"
dims = ["location", "product"]

[model.main.aux.total]
eqn = "sum(sales[*, *])"
`)
	require.Equal(t, 50.0, series(t, r, "sales[boston,widgets]")[0])
	require.Equal(t, 200.0, series(t, r, "total")[0])
}

func TestBroadcastArrays(t *testing.T) {
	// Ten elements: wide enough that element-wise equations compile to
	// loops rather than unrolling. Results must be identical either way.
	r := simulate(t, `
[sim]
stop = 2
dt = 1

[dimensions.bin]
elements = ["b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8", "b9", "b10"]

[model.main.aux.base]
eqn = "time + 1"
dims = ["bin"]

[model.main.aux.scaled]
eqn = "base * 3"
dims = ["bin"]

[model.main.aux.total]
eqn = "sum(scaled[*])"
`)
	require.Equal(t, 3.0, series(t, r, "scaled[b1]")[0])
	require.Equal(t, 9.0, series(t, r, "scaled[b10]")[2])
	require.Equal(t, []float64{30, 60, 90}, series(t, r, "total"))
}

func TestArrayStocks(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 3
dt = 1

[dimensions.region]
elements = ["east", "west"]

[model.main.stocks.inventory]
dims = ["region"]
inflows = ["arrivals"]
[model.main.stocks.inventory.elements]
east = "10"
west = "20"

[model.main.flows.arrivals]
eqn = "5"
dims = ["region"]
`)
	require.Equal(t, []float64{10, 15, 20, 25}, series(t, r, "inventory[east]"))
	require.Equal(t, []float64{20, 25, 30, 35}, series(t, r, "inventory[west]"))
}

func TestDynamicSubscript(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 3
dt = 1

[dimensions.slot]
elements = ["s1", "s2", "s3"]

[model.main.aux.values]
dims = ["slot"]
[model.main.aux.values.elements]
s1 = "10"
s2 = "20"
s3 = "30"

[model.main.aux.picked]
eqn = "values[time + 1]"
`)
	p := series(t, r, "picked")
	require.Equal(t, 10.0, p[0])
	require.Equal(t, 20.0, p[1])
	require.Equal(t, 30.0, p[2])
	// Out of range reads NaN by policy.
	require.True(t, math.IsNaN(p[3]))
}

func TestPopulationScenario(t *testing.T) {
	// Births outpace deaths, so the population grows every sample. The
	// coarse save cadence over a finer dt yields one row per whole time
	// unit.
	r := simulate(t, `
[sim]
start = 1
stop = 25
dt = 0.5
save_step = 1

[model.main.stocks.population]
initial = "1000"
inflows = ["births"]
outflows = ["deaths"]

[model.main.flows.births]
eqn = "population * birth_rate"

[model.main.flows.deaths]
eqn = "population / lifespan"

[model.main.aux.birth_rate]
eqn = "0.1"

[model.main.aux.lifespan]
eqn = "80"
`)
	times := r.Time()
	require.Len(t, times, 25)
	require.Equal(t, 1.0, times[0])
	require.Equal(t, 25.0, times[len(times)-1])
	for i := 1; i < len(times); i++ {
		require.InDelta(t, times[i-1]+1, times[i], 1e-9)
	}

	pop := series(t, r, "population")
	require.Equal(t, 1000.0, pop[0])
	for i := 1; i < len(pop); i++ {
		require.Greater(t, pop[i], pop[i-1])
	}
	// Euler at dt=0.5 with net rate 0.1 - 1/80 per time unit.
	want := 1000 * math.Pow(1+(0.1-1.0/80)/2, 48)
	require.InDelta(t, want, pop[len(pop)-1], 1e-6)
}

func TestRootReferencesReadTopLevelValues(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 10
dt = 1

[model.main.aux.base_rate]
eqn = "0.05 + time / 100"

[model.main.modules.city]
model = "city"

[model.main.modules.town]
model = "city"

[model.city.aux.local]
eqn = ".base_rate * 2"

[model.city.stocks.people]
initial = ".base_rate * 1000"
inflows = ["moving_in"]

[model.city.flows.moving_in]
eqn = "people * local"
`)
	base := series(t, r, "base_rate")
	cityLocal := series(t, r, "city.local")
	townLocal := series(t, r, "town.local")
	for i := range base {
		require.InDelta(t, base[i]*2, cityLocal[i], 1e-12)
		require.Equal(t, cityLocal[i], townLocal[i])
	}
	// Initials resolve against the top level too.
	require.Equal(t, 50.0, series(t, r, "city.people")[0])
}

func TestSubdimensionAggregation(t *testing.T) {
	r := simulate(t, `
[sim]
stop = 1
dt = 1

[dimensions.location]
elements = ["boston", "chicago", "la"]

[dimensions.coastal]
elements = ["boston", "la"]
subdim_of = "location"

[model.main.aux.revenue]
dims = ["location"]
[model.main.aux.revenue.elements]
boston = "100"
chicago = "200"
la = "300"

[model.main.aux.coastal_revenue]
eqn = "revenue"
dims = ["coastal"]

[model.main.aux.coastal_total]
eqn = "sum(coastal_revenue[*])"
`)
	require.Equal(t, 100.0, series(t, r, "coastal_revenue[boston]")[0])
	require.Equal(t, 300.0, series(t, r, "coastal_revenue[la]")[0])
	require.Equal(t, 400.0, series(t, r, "coastal_total")[0])
}

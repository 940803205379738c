package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsim-dev/flowsim/interp"
	"github.com/flowsim-dev/flowsim/vm"
)

// The bytecode VM and the tree-walking interpreter share layout and
// semantics but no execution machinery. Running both over the same
// compiled projects and demanding identical output catches miscompiles
// in either half.
var parityFixtures = map[string]string{
	"predator_prey": `
[sim]
stop = 80
dt = 0.125

[model.main.stocks.hares]
initial = "5e4"
inflows = ["hare_births"]
outflows = ["hare_deaths"]

[model.main.stocks.lynxes]
initial = "1250"
inflows = ["lynx_births"]
outflows = ["lynx_deaths"]

[model.main.flows.hare_births]
eqn = "hares * 1.25"

[model.main.flows.hare_deaths]
eqn = "lynxes * hares_killed_per_lynx"

[model.main.flows.lynx_births]
eqn = "lynxes * hares_killed_per_lynx * 0.001"

[model.main.flows.lynx_deaths]
eqn = "lynxes * 0.5"

[model.main.aux.hare_density]
eqn = "hares / 1000"

[model.main.aux.hares_killed_per_lynx]
eqn = "hare_density"
table_x = [0, 20, 40, 60, 80]
table_y = [0, 20, 35, 45, 50]
`,

	"builtin_soup": `
[sim]
stop = 20
dt = 0.25

[model.main.aux.waves]
eqn = "sin(time / 2) + cos(time / 3)"

[model.main.aux.clipped]
eqn = "max(0, min(waves, 0.8))"

[model.main.aux.spikes]
eqn = "pulse(5, 2, 6)"

[model.main.aux.slope]
eqn = "ramp(0.5, 4)"

[model.main.aux.shifted]
eqn = "step(3, 10)"

[model.main.aux.guarded]
eqn = "safediv(slope, shifted, -1)"

[model.main.aux.powers]
eqn = "2 ^ (time mod 5)"

[model.main.aux.noise]
eqn = "rand(0, 2)"
`,

	"smoothing_chain": `
[sim]
stop = 30
dt = 0.125

[model.main.aux.input]
eqn = "step(10, 3) + pulse(4, 12)"

[model.main.aux.first_order]
eqn = "smth1(input, 2)"

[model.main.aux.third_order]
eqn = "smth3(input, 5, 1)"

[model.main.aux.conveyor]
eqn = "delay1(input, 3)"

[model.main.aux.pipeline]
eqn = "delayn(input, 6, 4)"

[model.main.aux.momentum]
eqn = "trend(first_order + 1, 4)"

[model.main.aux.worth]
eqn = "npv(input, 0.08)"
`,

	"arrays": `
[sim]
stop = 10
dt = 0.5

[dimensions.region]
elements = ["north", "south", "east", "west"]

[model.main.stocks.inventory]
dims = ["region"]
inflows = ["arrivals"]
outflows = ["shipments"]
[model.main.stocks.inventory.elements]
north = "100"
south = "150"
east = "120"
west = "80"

[model.main.flows.arrivals]
eqn = "20"
dims = ["region"]

[model.main.flows.shipments]
eqn = "inventory * 0.1"
dims = ["region"]

[model.main.aux.held]
eqn = "sum(inventory[*])"

[model.main.aux.typical]
eqn = "mean(inventory[*])"

[model.main.aux.gap]
eqn = "inventory[north] - inventory[south]"
`,

	"broadcast": `
[sim]
stop = 5
dt = 1

[dimensions.cohort]
elements = ["c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10"]

[model.main.aux.weight]
eqn = "time + 2"
dims = ["cohort"]

[model.main.aux.scaled]
eqn = "weight ^ 2 / 4"
dims = ["cohort"]

[model.main.aux.total]
eqn = "sum(scaled[*])"
`,

	"modules": `
[sim]
stop = 25
dt = 0.25

[model.main.aux.base_rate]
eqn = "0.04 + step(0.02, 10)"

[model.main.modules.city_a]
model = "city"
[model.main.modules.city_a.inputs]
growth_rate = "base_rate"

[model.main.modules.city_b]
model = "city"

[model.main.aux.combined]
eqn = "city_a.population + city_b.population"

[model.city.aux.growth_rate]
eqn = "0.03"

[model.city.stocks.population]
initial = "1e4"
inflows = ["growth"]

[model.city.flows.growth]
eqn = "population * smoothed_rate"

[model.city.aux.smoothed_rate]
eqn = "smth1(growth_rate, 2)"

[model.city.aux.rate_vs_market]
eqn = "smoothed_rate - .base_rate"
`,
}

func TestExecutorParity(t *testing.T) {
	for name, src := range parityFixtures {
		t.Run(name, func(t *testing.T) {
			comp := compileClean(t, src)

			vsim := vm.NewSim(comp.Program)
			require.NoError(t, vsim.RunToEnd())
			vr := vsim.Results()

			isim := interp.NewSim(comp)
			require.NoError(t, isim.RunToEnd())
			ir := isim.Results()

			require.Equal(t, vr.Rows, ir.Rows)
			require.Equal(t, vr.Stride, ir.Stride)
			require.Len(t, ir.Data, len(vr.Data))
			for i := range vr.Data {
				a, b := vr.Data[i], ir.Data[i]
				if a != a && b != b { // both NaN
					continue
				}
				require.InDelta(t, a, b, 1e-9, "slot %d (%s)", i, slotName(vr, i))
			}
		})
	}
}

func TestExecutorParityChecksum(t *testing.T) {
	// Both executors draw from identically seeded generators in the same
	// order, so even models with RAND must agree bit for bit.
	comp := compileClean(t, parityFixtures["builtin_soup"])

	vsim := vm.NewSim(comp.Program)
	require.NoError(t, vsim.RunToEnd())
	vsum, err := vsim.Results().Checksum()
	require.NoError(t, err)

	isim := interp.NewSim(comp)
	require.NoError(t, isim.RunToEnd())
	isum, err := isim.Results().Checksum()
	require.NoError(t, err)

	require.Equal(t, vsum, isum)
}

func slotName(r *vm.Results, i int) string {
	off := i % r.Stride
	for name, o := range r.Offsets {
		if o == off {
			return name
		}
	}
	return "?"
}

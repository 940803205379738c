package model

import (
	"fmt"
	"strings"

	"github.com/flowsim-dev/flowsim/datamodel"
)

// Stateful builtins are not special-cased in the engine. Each call site
// is rewritten during expansion into an instance of one of the models
// below, with the call's arguments wired to the model's formal inputs
// and the call itself replaced by a reference to the instance's
// "output" variable. The models are ordinary stocks and flows, so the
// compiler and both executors treat them exactly like user code.

// statefulFormals gives, per builtin, the formal input each positional
// argument binds to. A missing optional argument leaves the formal's
// default equation in force.
var statefulFormals = map[string][]string{
	"smth1":  {"input", "delay", "initial"},
	"smth3":  {"input", "delay", "initial"},
	"delay1": {"input", "delay", "initial"},
	"delay3": {"input", "delay", "initial"},
	// delayn's order-count argument is consumed at expansion time; the
	// remaining arguments bind positionally.
	"delayn": {"input", "delay", "initial"},
	"trend":  {"input", "avg_time", "initial_trend"},
	"npv":    {"stream", "discount_rate", "init_val", "factor"},
}

func aux(name, eqn string) datamodel.Aux {
	return datamodel.Aux{Core: datamodel.Core{Name: name, Raw: name}, Eqn: datamodel.Scalar{Expr: eqn}}
}

func flow(name, eqn string) datamodel.Flow {
	return datamodel.Flow{Core: datamodel.Core{Name: name, Raw: name}, Eqn: datamodel.Scalar{Expr: eqn}}
}

func stock(name, initial string, inflows, outflows []string) datamodel.Stock {
	return datamodel.Stock{
		Core:     datamodel.Core{Name: name, Raw: name},
		Initial:  datamodel.Scalar{Expr: initial},
		Inflows:  inflows,
		Outflows: outflows,
	}
}

// stdlibModel builds the model backing one stateful-builtin instance.
// delayn variants are keyed by stage count ("$delayn_4"); every other
// builtin has a single fixed model.
func stdlibModel(name string) (*datamodel.Model, bool) {
	if strings.HasPrefix(name, "$delayn_") {
		var n int
		if _, err := fmt.Sscanf(name, "$delayn_%d", &n); err != nil || n < 1 {
			return nil, false
		}
		return delaynModel(name, n), true
	}

	switch name {
	case "$smth1":
		return &datamodel.Model{Name: name, Variables: []datamodel.Variable{
			aux("input", "0"),
			aux("delay", "1"),
			aux("initial", "input"),
			stock("output", "initial", []string{"net"}, nil),
			flow("net", "(input - output) / delay"),
		}}, true

	case "$smth3":
		return &datamodel.Model{Name: name, Variables: []datamodel.Variable{
			aux("input", "0"),
			aux("delay", "1"),
			aux("initial", "input"),
			aux("stage_delay", "delay / 3"),
			stock("s1", "initial", []string{"f1"}, nil),
			flow("f1", "(input - s1) / stage_delay"),
			stock("s2", "initial", []string{"f2"}, nil),
			flow("f2", "(s1 - s2) / stage_delay"),
			stock("output", "initial", []string{"f3"}, nil),
			flow("f3", "(s2 - output) / stage_delay"),
		}}, true

	case "$delay1":
		return &datamodel.Model{Name: name, Variables: []datamodel.Variable{
			aux("input", "0"),
			aux("delay", "1"),
			aux("initial", "input"),
			stock("accum", "initial * delay", []string{"inflow"}, []string{"output"}),
			flow("inflow", "input"),
			flow("output", "accum / delay"),
		}}, true

	case "$delay3":
		return delaynModel(name, 3), true

	case "$trend":
		return &datamodel.Model{Name: name, Variables: []datamodel.Variable{
			aux("input", "0"),
			aux("avg_time", "1"),
			aux("initial_trend", "0"),
			stock("average", "input / (1 + initial_trend * avg_time)", []string{"change"}, nil),
			flow("change", "(input - average) / avg_time"),
			aux("output", "safediv(input - average, average * avg_time, 0)"),
		}}, true

	case "$npv":
		return &datamodel.Model{Name: name, Variables: []datamodel.Variable{
			aux("stream", "0"),
			aux("discount_rate", "0"),
			aux("init_val", "0"),
			aux("factor", "1"),
			stock("df", "1", nil, []string{"discounting"}),
			flow("discounting", "df * discount_rate"),
			stock("accum", "init_val", []string{"contribution"}, nil),
			flow("contribution", "stream * df"),
			aux("output", "(accum + stream * df * dt) * factor"),
		}}, true
	}
	return nil, false
}

// delaynModel builds an n-stage material delay. Each stage holds
// initial*delay/n and drains at stage_level*n/delay; the last stage's
// outflow is the builtin's output.
func delaynModel(name string, n int) *datamodel.Model {
	vars := []datamodel.Variable{
		aux("input", "0"),
		aux("delay", "1"),
		aux("initial", "input"),
		aux("stage_delay", fmt.Sprintf("delay / %d", n)),
		flow("inflow", "input"),
	}
	prev := "inflow"
	for i := 1; i <= n; i++ {
		level := fmt.Sprintf("stage%d", i)
		out := fmt.Sprintf("transit%d", i)
		if i == n {
			out = "output"
		}
		vars = append(vars,
			stock(level, "initial * stage_delay", []string{prev}, []string{out}),
			flow(out, fmt.Sprintf("%s / stage_delay", level)),
		)
		prev = out
	}
	return &datamodel.Model{Name: name, Variables: vars}
}

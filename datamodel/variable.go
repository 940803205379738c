package datamodel

// Variable is the closed set of things a model can contain. The variant
// set is fixed by the engine, so this is a sealed interface dispatched
// with exhaustive type switches rather than virtual methods.
type Variable interface {
	isVariable()
	// Ident returns the canonical identifier.
	Ident() string
	// Dimensions returns the declared dimension names, empty for scalars.
	Dimensions() []string
	// UnitString returns the declared units, empty if undeclared.
	UnitString() string
}

// Core carries the fields every variable kind shares.
type Core struct {
	Name  string // canonical
	Raw   string // as authored
	Units string
	Dims  []string
	Doc   string
}

func (c Core) Ident() string        { return c.Name }
func (c Core) Dimensions() []string { return c.Dims }
func (c Core) UnitString() string   { return c.Units }

// Stock accumulates its net flow over time. Its equation defines the
// initial value only; the per-step update is owned by the engine.
type Stock struct {
	Core
	Initial     Equation
	Inflows     []string
	Outflows    []string
	NonNegative bool
}

// Flow is a rate variable, recomputed each step.
type Flow struct {
	Core
	Eqn         Equation
	Table       *Table
	NonNegative bool
}

// Aux is a derived, memoryless variable recomputed each step.
type Aux struct {
	Core
	Eqn   Equation
	Table *Table
}

// Module instantiates another model under a nested namespace, with the
// named inputs bound to variables of the enclosing model.
type Module struct {
	Core
	ModelName string
	Inputs    []ModuleInput
}

// ModuleInput binds a parent-scope variable (Src) to a formal input of
// the instantiated model (Dst). Both are canonical identifiers.
type ModuleInput struct {
	Src string
	Dst string
}

func (Stock) isVariable()  {}
func (Flow) isVariable()   {}
func (Aux) isVariable()    {}
func (Module) isVariable() {}

// Equation is either a single expression, one expression applied to
// every element of the declared dimensions, or element-specific
// expressions.
type Equation interface {
	isEquation()
}

type Scalar struct {
	Expr string
}

type ApplyToAll struct {
	Expr string
}

type Arrayed struct {
	Elements []Element
}

// Element pairs a subscript (a dimension element name, canonical) with
// its defining expression.
type Element struct {
	Subscript string
	Expr      string
}

func (Scalar) isEquation()     {}
func (ApplyToAll) isEquation() {}
func (Arrayed) isEquation()    {}

// Table is a piecewise-linear graphical function defined by (x, y)
// pairs with strictly increasing x.
type Table struct {
	X []float64
	Y []float64
}

// Eval interpolates linearly, clamping to the nearest endpoint outside
// the table's domain.
func (t *Table) Eval(x float64) float64 {
	n := len(t.X)
	if n == 0 {
		return 0
	}
	if x <= t.X[0] {
		return t.Y[0]
	}
	if x >= t.X[n-1] {
		return t.Y[n-1]
	}
	// Find the segment containing x.
	i := 1
	for i < n && t.X[i] < x {
		i++
	}
	x0, x1 := t.X[i-1], t.X[i]
	y0, y1 := t.Y[i-1], t.Y[i]
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Valid reports whether the table is well formed: equal point counts,
// at least one point, strictly increasing x.
func (t *Table) Valid() bool {
	if len(t.X) == 0 || len(t.X) != len(t.Y) {
		return false
	}
	for i := 1; i < len(t.X); i++ {
		if t.X[i] <= t.X[i-1] {
			return false
		}
	}
	return true
}

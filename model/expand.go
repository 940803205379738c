package model

import (
	"fmt"
	"strings"

	"github.com/flowsim-dev/flowsim/builtins"
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/syntax"
)

// expander rewrites one variable's expression tree: builtin names and
// arities are checked, legacy time-variable spellings are normalized,
// and every stateful builtin call is replaced by a synthesized module
// instance plus a reference to its output. Synthesized variables are
// accumulated on the expander and spliced into the model after the
// authored variable.
type expander struct {
	b        *builder
	model    string
	varIdent string
	arrayed  bool
	errored  *bool
	counter  *int
	newVars  []*Var
}

func (x *expander) errorf(loc syntax.Loc, code datamodel.ErrorCode, format string, args ...any) {
	x.b.p.Errors = append(x.b.p.Errors, datamodel.EquationError{
		Model:   x.model,
		Ident:   x.varIdent,
		Code:    code,
		Line:    loc.Line,
		Col:     loc.Col,
		Details: fmt.Sprintf(format, args...),
	})
	*x.errored = true
}

func (x *expander) rewrite(e syntax.Expr) syntax.Expr {
	switch v := e.(type) {
	case syntax.Const:
		return v
	case syntax.Wildcard:
		return v
	case syntax.Var:
		// Root references ('.'-prefixed) resolve against the top-level
		// model later; they are never time aliases.
		if alias, ok := timeAliases[v.Ident]; ok {
			v.Ident = alias
		}
		return v
	case syntax.Op1:
		v.X = x.rewrite(v.X)
		return v
	case syntax.Op2:
		v.X = x.rewrite(v.X)
		v.Y = x.rewrite(v.Y)
		return v
	case syntax.If:
		v.Cond = x.rewrite(v.Cond)
		v.Then = x.rewrite(v.Then)
		v.Else = x.rewrite(v.Else)
		return v
	case syntax.Subscript:
		args := make([]syntax.Expr, len(v.Args))
		for i, a := range v.Args {
			if av, ok := a.(syntax.Var); ok && (x.b.dimNames[av.Ident] || x.b.elemNames[av.Ident]) {
				// Dimension and element names inside subscripts are not
				// variable references; leave them untouched.
				args[i] = av
				continue
			}
			args[i] = x.rewrite(a)
		}
		v.Args = args
		return v
	case syntax.App:
		return x.rewriteApp(v)
	}
	panic(fmt.Sprintf("Unhandled expr type %T", e))
}

func (x *expander) rewriteApp(call syntax.App) syntax.Expr {
	spec, ok := builtins.Find(call.Name)
	if !ok {
		x.errorf(call.Loc, datamodel.ErrUnknownBuiltin, "unknown function %q", call.Name)
		return call
	}
	if n := len(call.Args); n < spec.MinArgs || n > spec.MaxArgs {
		if spec.MinArgs == spec.MaxArgs {
			x.errorf(call.Loc, datamodel.ErrBuiltinArity, "%s expects %d argument(s), got %d", spec.Name, spec.MinArgs, n)
		} else {
			x.errorf(call.Loc, datamodel.ErrBuiltinArity, "%s expects %d to %d arguments, got %d", spec.Name, spec.MinArgs, spec.MaxArgs, n)
		}
		return call
	}

	switch spec.Kind {
	case builtins.Unsupported:
		x.errorf(call.Loc, datamodel.ErrUnsupportedBuiltin, "%s has no engine implementation", spec.Name)
		return call
	case builtins.Stateful:
		return x.synthesize(spec, call)
	case builtins.Instantiate:
		return x.instantiate(call)
	default:
		args := make([]syntax.Expr, len(call.Args))
		for i, a := range call.Args {
			args[i] = x.rewrite(a)
		}
		// Aliases collapse to the canonical name here.
		return syntax.App{Name: spec.Name, Args: args, Loc: call.Loc}
	}
}

// synthesize replaces a stateful builtin call with a module instance of
// the matching stdlib model. Arguments that are plain local variable
// references wire through directly; anything else gets a synthesized
// aux to carry the expression.
func (x *expander) synthesize(spec builtins.Spec, call syntax.App) syntax.Expr {
	if x.arrayed {
		x.errorf(call.Loc, datamodel.ErrStatefulBuiltinArg,
			"%s is not supported in arrayed equations", spec.Name)
		return call
	}

	modelName := "$" + spec.Name
	args := call.Args
	if spec.Name == "delayn" {
		c, ok := args[2].(syntax.Const)
		n := int(c.Value)
		if !ok || float64(n) != c.Value || n < 1 {
			x.errorf(call.Loc, datamodel.ErrBadBuiltinArgs,
				"delayn order must be a positive integer constant")
			return call
		}
		modelName = fmt.Sprintf("$delayn_%d", n)
		rest := make([]syntax.Expr, 0, len(args)-1)
		rest = append(rest, args[:2]...)
		rest = append(rest, args[3:]...)
		args = rest
	}
	x.b.needStdlib(modelName)

	inst := fmt.Sprintf("$%s_%d", spec.Name, *x.counter)
	*x.counter++

	formals := statefulFormals[spec.Name]
	inputs := make([]datamodel.ModuleInput, 0, len(args))
	for i, a := range args {
		if i >= len(formals) {
			break
		}
		inputs = append(inputs, datamodel.ModuleInput{Src: x.inputSrc(inst, i, a), Dst: formals[i]})
	}

	x.newVars = append(x.newVars, &Var{
		Ident:     inst,
		Kind:      KindModule,
		ModelName: modelName,
		Inputs:    inputs,
		Synthetic: true,
	})
	return syntax.Var{Ident: inst + ".output", Loc: call.Loc}
}

// inputSrc resolves one builtin argument to a parent-scope identifier.
func (x *expander) inputSrc(inst string, i int, a syntax.Expr) string {
	a = x.rewrite(a)
	if v, ok := a.(syntax.Var); ok && !strings.Contains(v.Ident, ".") && !IsReserved(v.Ident) {
		return v.Ident
	}
	ident := fmt.Sprintf("%s_arg%d", inst, i)
	x.newVars = append(x.newVars, &Var{
		Ident:     ident,
		Kind:      KindAux,
		Eqn:       ScalarEqn{Expr: a},
		Synthetic: true,
	})
	return ident
}

// instantiate handles the explicit module(model_name) form: a nested
// instance with no bound inputs.
func (x *expander) instantiate(call syntax.App) syntax.Expr {
	v, ok := call.Args[0].(syntax.Var)
	if !ok {
		x.errorf(call.Loc, datamodel.ErrBadBuiltinArgs, "module expects a model name")
		return call
	}
	inst := fmt.Sprintf("$module_%d", *x.counter)
	*x.counter++
	x.newVars = append(x.newVars, &Var{
		Ident:     inst,
		Kind:      KindModule,
		ModelName: v.Ident,
		Synthetic: true,
	})
	return syntax.Var{Ident: inst + ".output", Loc: call.Loc}
}

// rewriteEqn runs the expander over every expression of an equation
// form.
func (x *expander) rewriteEqn(f EqnForm) EqnForm {
	switch v := f.(type) {
	case nil:
		return nil
	case ScalarEqn:
		v.Expr = x.rewrite(v.Expr)
		return v
	case ApplyToAllEqn:
		prev := x.arrayed
		x.arrayed = true
		v.Expr = x.rewrite(v.Expr)
		x.arrayed = prev
		return v
	case ArrayedEqn:
		prev := x.arrayed
		x.arrayed = true
		elems := make([]ElementEqn, len(v.Elements))
		for i, el := range v.Elements {
			el.Expr = x.rewrite(el.Expr)
			elems[i] = el
		}
		x.arrayed = prev
		return ArrayedEqn{Elements: elems}
	}
	panic(fmt.Sprintf("Unhandled equation form %T", f))
}

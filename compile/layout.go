package compile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/vm"
)

const maxSlots = 1 << 16

// scope is the per-unit compilation state: one model plus the set of
// formals bound by the instantiating parent. Offsets are relative to
// the instance base; the root instance runs at base vm.FirstVarOff.
type scope struct {
	c     *compiler
	m     *model.Model
	unit  *Unit
	bound map[string]bool

	offsets  map[string]uint16
	sizes    map[string]int
	tableIdx map[string]uint16
	callIdx  map[string]uint16
	laid     bool
}

// varSize returns the flattened slot count of a variable, 1 for
// scalars.
func (c *compiler) varSize(v *model.Var) int {
	n := 1
	for _, dname := range v.Dims {
		if d, ok := c.proj.Source.Dimension(dname); ok {
			n *= d.Len()
		}
	}
	return n
}

// layout assigns every variable of the scope's model a contiguous slot
// range in declaration order. Module variables reserve a block sized by
// the compiled child; the child's own layout is computed first.
func (s *scope) layout(visiting map[string]bool) bool {
	off := 0
	for _, ident := range s.m.Order {
		v := s.m.Vars[ident]
		if v.Kind == model.KindModule {
			child := s.c.unitFor(v, visiting)
			if child == nil {
				continue
			}
			idx := uint16(len(s.unit.Calls))
			s.callIdx[ident] = idx
			s.unit.Calls = append(s.unit.Calls, UnitCall{
				Ident: ident,
				Unit:  child,
				Off:   uint16(off),
			})
			s.offsets[ident] = uint16(off)
			s.sizes[ident] = child.NSlots
			off += child.NSlots
		} else {
			n := s.c.varSize(v)
			s.offsets[ident] = uint16(off)
			s.sizes[ident] = n
			off += n
		}
		if off >= maxSlots {
			s.c.errorf(s.m.Name, ident, datamodel.ErrTooManySlots, "model needs %d slots", off)
			return false
		}
	}
	s.unit.NSlots = off
	return true
}

// wireInputs resolves each module variable's input bindings to slot
// pairs once both parent and child layouts exist.
func (s *scope) wireInputs() {
	for _, ident := range s.m.Order {
		v := s.m.Vars[ident]
		if v.Kind != model.KindModule {
			continue
		}
		idx, ok := s.callIdx[ident]
		if !ok {
			continue
		}
		call := &s.unit.Calls[idx]
		for _, in := range v.Inputs {
			srcOff, ok := s.scalarOffset(in.Src)
			if !ok {
				s.c.errorf(s.m.Name, ident, datamodel.ErrBadModuleInputSrc,
					"input source %q is not a scalar variable", in.Src)
				continue
			}
			child := call.Unit
			dstOff, ok := child.offsetOf(in.Dst)
			if !ok {
				s.c.errorf(s.m.Name, ident, datamodel.ErrModuleInputNotFound,
					"%q has no input %q", v.ModelName, in.Dst)
				continue
			}
			call.Inputs = append(call.Inputs, vm.InputWire{Src: srcOff, Dst: dstOff})
		}
	}
}

// scalarOffset resolves a possibly dotted identifier to a local slot,
// following nested module blocks. It fails for arrays and unknown
// names.
func (s *scope) scalarOffset(ident string) (uint16, bool) {
	first, rest := datamodel.SplitIdent(ident)
	off, ok := s.offsets[first]
	if !ok {
		return 0, false
	}
	if rest == "" {
		if s.sizes[first] != 1 || s.m.Vars[first].Kind == model.KindModule {
			return 0, false
		}
		return off, true
	}
	idx, ok := s.callIdx[first]
	if !ok {
		return 0, false
	}
	sub, ok := s.unit.Calls[idx].Unit.resolve(rest)
	if !ok {
		return 0, false
	}
	return off + sub, true
}

// offsetOf resolves a direct (non-dotted) scalar variable of the unit.
func (u *Unit) offsetOf(ident string) (uint16, bool) {
	off, ok := u.scope.offsets[ident]
	if !ok || u.scope.sizes[ident] != 1 {
		return 0, false
	}
	if u.scope.m.Vars[ident].Kind == model.KindModule {
		return 0, false
	}
	return off, true
}

// resolve follows a dotted path through nested calls to a scalar slot,
// relative to the unit's base.
func (u *Unit) resolve(path string) (uint16, bool) {
	first, rest := datamodel.SplitIdent(path)
	if rest == "" {
		return u.offsetOf(first)
	}
	idx, ok := u.scope.callIdx[first]
	if !ok {
		return 0, false
	}
	call := &u.Calls[idx]
	sub, ok := call.Unit.resolve(rest)
	if !ok {
		return 0, false
	}
	return call.Off + sub, true
}

// elemOffset computes the flattened offset of one static element combo
// within an array laid out row-major over its dims.
func elemOffset(dims []datamodel.Dimension, indices []int) int {
	off := 0
	for i, d := range dims {
		off = off*d.Len() + indices[i]
	}
	return off
}

// elemName renders the canonical flattened name of one array element,
// e.g. "population[boston]" or "matrix[a,b]".
func elemName(base string, elems []string) string {
	return fmt.Sprintf("%s[%s]", base, strings.Join(elems, ","))
}

// flattenOffsets walks the instance tree and produces the absolute
// name-to-slot table for Results. Array variables contribute one entry
// per element; nested instances use dotted paths.
func (c *compiler) flattenOffsets(u *Unit, prefix string, base int, into map[string]int) {
	for _, ident := range u.scope.m.Order {
		v := u.scope.m.Vars[ident]
		off, ok := u.scope.offsets[ident]
		if !ok {
			continue
		}
		name := datamodel.JoinIdent(prefix, ident)
		if v.Kind == model.KindModule {
			continue
		}
		if len(v.Dims) == 0 {
			into[name] = base + int(off)
			continue
		}
		dims := c.dimsOf(v)
		combos := enumerate(dims)
		for _, combo := range combos {
			names := make([]string, len(combo))
			for i, idx := range combo {
				names[i] = dims[i].Elements[idx]
			}
			into[elemName(name, names)] = base + int(off) + elemOffset(dims, combo)
		}
	}
	for i := range u.scope.unit.Calls {
		call := &u.scope.unit.Calls[i]
		c.flattenOffsets(call.Unit, datamodel.JoinIdent(prefix, call.Ident), base+int(call.Off), into)
	}
}

// dimsOf resolves a variable's dimension declarations, skipping any
// that are unknown (those were already diagnosed).
func (c *compiler) dimsOf(v *model.Var) []datamodel.Dimension {
	out := make([]datamodel.Dimension, 0, len(v.Dims))
	for _, name := range v.Dims {
		if d, ok := c.proj.Source.Dimension(name); ok {
			out = append(out, d)
		}
	}
	return out
}

// enumerate yields every index combination of dims in row-major order.
func enumerate(dims []datamodel.Dimension) [][]int {
	if len(dims) == 0 {
		return nil
	}
	total := 1
	for _, d := range dims {
		total *= d.Len()
	}
	combos := make([][]int, 0, total)
	combo := make([]int, len(dims))
	for i := 0; i < total; i++ {
		out := make([]int, len(dims))
		copy(out, combo)
		combos = append(combos, out)
		for j := len(dims) - 1; j >= 0; j-- {
			combo[j]++
			if combo[j] < dims[j].Len() {
				break
			}
			combo[j] = 0
		}
	}
	return combos
}

// classKey names an instance class: the model plus the sorted set of
// bound formals.
func classKey(modelName string, dsts []string) string {
	sorted := append([]string(nil), dsts...)
	sort.Strings(sorted)
	return modelName + "|" + strings.Join(sorted, ",")
}

package compile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsim-dev/flowsim/vm"
)

func TestGenConditionalJumps(t *testing.T) {
	g := newGen()
	ops := g.list([]Stmt{
		Assign{Off: 0, Rhs: Cond{
			If:   Local{Off: 1},
			Then: Const{Val: 1},
			Else: Const{Val: 2},
		}},
	})

	require.Equal(t, []vm.Op{
		{Code: vm.LOADV, A: 1},
		{Code: vm.JFALSE, A: 4},
		{Code: vm.LOADC, A: 0},
		{Code: vm.JMP, A: 5},
		{Code: vm.LOADC, A: 1},
		{Code: vm.ASSIGNCURR, A: 0},
		{Code: vm.RET},
	}, ops)
}

func TestGenLoop(t *testing.T) {
	g := newGen()
	ops := g.list([]Stmt{
		Loop{Dst: 2, N: 3, Rhs: Bin{Op: vm.BinMul, L: Elem{Off: 0}, R: Const{Val: 2}}},
	})

	require.Equal(t, []vm.Op{
		{Code: vm.ITERSTART, A: 3, B: 6},
		{Code: vm.LOADIDX, A: 0},
		{Code: vm.LOADC, A: 0},
		{Code: vm.OP2, A: uint16(vm.BinMul)},
		{Code: vm.ASSIGNIDX, A: 2},
		{Code: vm.ITERNEXT, A: 1},
		{Code: vm.RET},
	}, ops)
}

func TestGenConstPoolDedup(t *testing.T) {
	g := newGen()
	first := g.list([]Stmt{
		Assign{Off: 0, Rhs: Const{Val: 5}},
		Assign{Off: 1, Rhs: Const{Val: 5}},
	})
	second := g.list([]Stmt{
		Assign{Off: 2, Rhs: Const{Val: 7}},
	})

	// The pool is shared across runlists; repeated values collapse to
	// one entry.
	require.Equal(t, []float64{5, 7}, g.constPool)
	require.Equal(t, uint16(0), first[0].A)
	require.Equal(t, uint16(0), first[2].A)
	require.Equal(t, uint16(1), second[0].A)
}

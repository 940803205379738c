package vm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func call(id BuiltinID, t, dt float64, args ...float64) float64 {
	return apply(id, args, t, dt, rand.New(rand.NewSource(randSeed)))
}

func TestSafeDiv(t *testing.T) {
	require.Equal(t, 2.0, call(FnSafeDiv, 0, 1, 10, 5))
	require.Equal(t, 0.0, call(FnSafeDiv, 0, 1, 10, 0))
	require.Equal(t, 7.0, call(FnSafeDiv, 0, 1, 10, 0, 7))
	require.Equal(t, -3.0, call(FnSafeDiv, 0, 1, 9, -3))
}

func TestPulse(t *testing.T) {
	// One dt-wide window emits volume/dt, zero elsewhere.
	require.Equal(t, 0.0, call(FnPulse, 0, 0.5, 5, 3))
	require.Equal(t, 10.0, call(FnPulse, 3, 0.5, 5, 3))
	require.Equal(t, 0.0, call(FnPulse, 3.5, 0.5, 5, 3))

	// Repeating every interval.
	require.Equal(t, 10.0, call(FnPulse, 7, 0.5, 5, 3, 4))
	require.Equal(t, 0.0, call(FnPulse, 8, 0.5, 5, 3, 4))
	require.Equal(t, 10.0, call(FnPulse, 11, 0.5, 5, 3, 4))

	// No first-pulse argument: fires at t=0.
	require.Equal(t, 10.0, call(FnPulse, 0, 0.5, 5))
}

func TestStairStep(t *testing.T) {
	require.Equal(t, 0.0, call(FnStairStep, 0, 1, 8, 5))
	require.Equal(t, 0.0, call(FnStairStep, 4, 1, 8, 5))
	// The half-dt tolerance keeps the step from landing a whole dt late.
	require.Equal(t, 8.0, call(FnStairStep, 5, 1, 8, 5))
	require.Equal(t, 8.0, call(FnStairStep, 20, 1, 8, 5))
}

func TestRamp(t *testing.T) {
	require.Equal(t, 0.0, call(FnRamp, 2, 1, 3, 5))
	require.Equal(t, 6.0, call(FnRamp, 7, 1, 3, 5))
	require.Equal(t, 3.0, call(FnRamp, 1, 1, 3))
}

func TestNumericPolicy(t *testing.T) {
	require.True(t, math.IsInf(call(FnInf, 0, 1), 1))
	require.True(t, math.IsNaN(call(FnLn, 0, 1, -1)))
	require.Equal(t, -3.0, call(FnInt, 0, 1, -3.7))
	require.Equal(t, -4.0, call(FnFloor, 0, 1, -3.7))
}

func TestRandDeterminism(t *testing.T) {
	a := rand.New(rand.NewSource(randSeed))
	b := rand.New(rand.NewSource(randSeed))
	for i := 0; i < 10; i++ {
		x := apply(FnRand, nil, 0, 1, a)
		y := apply(FnRand, nil, 0, 1, b)
		require.Equal(t, x, y)
		require.GreaterOrEqual(t, x, 0.0)
		require.Less(t, x, 1.0)
	}
	v := apply(FnRand, []float64{5, 9}, 0, 1, a)
	require.GreaterOrEqual(t, v, 5.0)
	require.Less(t, v, 9.0)
}

func TestBinOps(t *testing.T) {
	require.Equal(t, 1.0, binOp(BinGt, 2, 1))
	require.Equal(t, 0.0, binOp(BinGt, 1, 2))
	require.Equal(t, 1.0, binOp(BinAnd, 3, -1))
	require.Equal(t, 0.0, binOp(BinAnd, 3, 0))
	require.Equal(t, 1.0, binOp(BinOr, 0, 2))
	require.Equal(t, 8.0, binOp(BinExp, 2, 3))
	require.Equal(t, 1.0, binOp(BinMod, 7, 3))
	require.True(t, math.IsInf(binOp(BinDiv, 1, 0), 1))
}

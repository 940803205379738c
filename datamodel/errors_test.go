package datamodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodeNames(t *testing.T) {
	seen := map[string]ErrorCode{}
	for c := ErrNone; c < ErrorCodeMax; c++ {
		name := c.String()
		require.NotEmpty(t, name)
		prev, dup := seen[name]
		require.False(t, dup, "%d and %d both stringify to %q", prev, c, name)
		seen[name] = c
	}
	// The catalog spans every phase of the pipeline.
	require.Greater(t, int(ErrorCodeMax)-1, 100)
}

func TestEquationErrorFormatting(t *testing.T) {
	e := EquationError{
		Model:   "main",
		Ident:   "births",
		Code:    ErrUnknownDependency,
		Line:    1,
		Col:     7,
		Details: `reference to undefined variable "rate"`,
	}
	require.Equal(t,
		`main:births: unknown_dependency (at 1:7): reference to undefined variable "rate"`,
		e.Error())

	list := ErrorList{e, {Ident: "deaths", Code: ErrEmptyEquation}}
	require.Contains(t, list.Error(), "and 1 more")
	require.Len(t, list.ForVariable("births"), 1)
}

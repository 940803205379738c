package datamodel

import "fmt"

// ErrorCode enumerates every kind of diagnostic the engine reports.
// Codes are grouped by phase: lexing, parsing, model structure,
// modules, builtins, dimensions, tables, units, sim specs, and
// code generation. Each diagnostic is tagged with the offending
// variable so tooling can keep unaffected variables runnable.
type ErrorCode int

const (
	ErrNone ErrorCode = iota

	// Lexing
	ErrUnrecognizedCharacter
	ErrUnclosedComment
	ErrUnclosedQuotedIdent
	ErrBadNumber
	ErrBadExponent
	ErrBadIdentifier
	ErrNumberTooLarge

	// Parsing
	ErrEmptyEquation
	ErrUnexpectedEOF
	ErrUnexpectedToken
	ErrUnbalancedParens
	ErrUnbalancedBrackets
	ErrMalformedArgList
	ErrTrailingComma
	ErrDanglingIf
	ErrDanglingThen
	ErrChainedComparison
	ErrTrailingTokens
	ErrBadSubscriptTarget
	ErrExpectedNumber
	ErrExpectedIdent
	ErrExpectedExpression
	ErrMissingThen
	ErrMissingElse
	ErrEmptySubscriptList

	// Project loading
	ErrBadProjectFile
	ErrBadModelSection
	ErrBadVariableSection
	ErrDuplicateModel
	ErrNoMainModel
	ErrBadDimensionSection
	ErrBadUnitSection

	// Model structure
	ErrDuplicateVariable
	ErrUnknownDependency
	ErrCircularDependency
	ErrCircularInitialization
	ErrStockWithoutInitial
	ErrBadFlowReference
	ErrSelfReference
	ErrNoAbsoluteReferences
	ErrVariablesHaveErrors
	ErrNotSimulatable
	ErrEmptyModel
	ErrBadVariableName
	ErrReservedIdentifier
	ErrInitialForNonStock

	// Modules
	ErrBadModelName
	ErrBadModuleInputSrc
	ErrBadModuleInputDst
	ErrNestedModuleInputDst
	ErrModuleInputNotFound
	ErrModuleOutputNotFound
	ErrRecursiveModule
	ErrDuplicateModuleInput
	ErrModuleInputDimensioned
	ErrExpectedModule

	// Builtins
	ErrUnknownBuiltin
	ErrUnsupportedBuiltin
	ErrBadBuiltinArgs
	ErrBuiltinArity
	ErrStatefulBuiltinArg
	ErrWildcardOutsideAggregate
	ErrBadLookupTarget
	ErrAggregateNeedsArray
	ErrStatefulInInitial
	ErrNestedStatefulBuiltin

	// Dimensions and subscripts
	ErrUnknownDimension
	ErrBadDimensionName
	ErrBadSubdimension
	ErrDuplicateDimensionElement
	ErrMismatchedDimensions
	ErrNotAnArray
	ErrArrayReferenceNeedsSubscripts
	ErrTooManySubscripts
	ErrTooFewSubscripts
	ErrUnknownSubscriptElement
	ErrSubscriptOutOfRange
	ErrNonScalarExpression
	ErrDynamicSubscriptDims
	ErrDuplicateDimension
	ErrEmptyDimension
	ErrSubdimensionElementMissing
	ErrRangeSubscriptUnsupported

	// Tables
	ErrBadTable
	ErrEmptyTable
	ErrTableNotIncreasing
	ErrBadTableRange
	ErrNonFiniteTablePoint

	// Units
	ErrBadUnitExpression
	ErrUnitMismatch
	ErrUnitInferenceConflict
	ErrNonIntegerUnitExponent
	ErrDuplicateUnit
	ErrCircularUnitAlias
	ErrUnitCallNotAllowed
	ErrUnitSubscriptNotAllowed
	ErrUnitConditionalNotAllowed
	ErrUnitWildcardNotAllowed

	// Sim specs
	ErrBadSimSpecs
	ErrBadDT
	ErrBadSaveStep
	ErrBadTimeRange
	ErrUnsupportedMethod
	ErrBadTimeUnits

	// Code generation
	ErrTooManySlots
	ErrTooManyConstants
	ErrTooManyTables
	ErrTooManyModules
	ErrTooManyInputs
	ErrProgramTooLarge
	ErrBadOpcode
	ErrInternal

	ErrorCodeMax
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "no_error"
	case ErrUnrecognizedCharacter:
		return "unrecognized_character"
	case ErrUnclosedComment:
		return "unclosed_comment"
	case ErrUnclosedQuotedIdent:
		return "unclosed_quoted_ident"
	case ErrBadNumber:
		return "bad_number"
	case ErrBadExponent:
		return "bad_exponent"
	case ErrBadIdentifier:
		return "bad_identifier"
	case ErrNumberTooLarge:
		return "number_too_large"
	case ErrEmptyEquation:
		return "empty_equation"
	case ErrUnexpectedEOF:
		return "unexpected_eof"
	case ErrUnexpectedToken:
		return "unexpected_token"
	case ErrUnbalancedParens:
		return "unbalanced_parens"
	case ErrUnbalancedBrackets:
		return "unbalanced_brackets"
	case ErrMalformedArgList:
		return "malformed_arg_list"
	case ErrTrailingComma:
		return "trailing_comma"
	case ErrDanglingIf:
		return "dangling_if"
	case ErrDanglingThen:
		return "dangling_then"
	case ErrChainedComparison:
		return "chained_comparison"
	case ErrTrailingTokens:
		return "trailing_tokens"
	case ErrBadSubscriptTarget:
		return "bad_subscript_target"
	case ErrExpectedNumber:
		return "expected_number"
	case ErrExpectedIdent:
		return "expected_ident"
	case ErrExpectedExpression:
		return "expected_expression"
	case ErrMissingThen:
		return "missing_then"
	case ErrMissingElse:
		return "missing_else"
	case ErrEmptySubscriptList:
		return "empty_subscript_list"
	case ErrBadProjectFile:
		return "bad_project_file"
	case ErrBadModelSection:
		return "bad_model_section"
	case ErrBadVariableSection:
		return "bad_variable_section"
	case ErrDuplicateModel:
		return "duplicate_model"
	case ErrNoMainModel:
		return "no_main_model"
	case ErrBadDimensionSection:
		return "bad_dimension_section"
	case ErrBadUnitSection:
		return "bad_unit_section"
	case ErrDuplicateVariable:
		return "duplicate_variable"
	case ErrUnknownDependency:
		return "unknown_dependency"
	case ErrCircularDependency:
		return "circular_dependency"
	case ErrCircularInitialization:
		return "circular_initialization"
	case ErrStockWithoutInitial:
		return "stock_without_initial"
	case ErrBadFlowReference:
		return "bad_flow_reference"
	case ErrSelfReference:
		return "self_reference"
	case ErrNoAbsoluteReferences:
		return "no_absolute_references"
	case ErrVariablesHaveErrors:
		return "variables_have_errors"
	case ErrNotSimulatable:
		return "not_simulatable"
	case ErrEmptyModel:
		return "empty_model"
	case ErrBadVariableName:
		return "bad_variable_name"
	case ErrReservedIdentifier:
		return "reserved_identifier"
	case ErrInitialForNonStock:
		return "initial_for_non_stock"
	case ErrBadModelName:
		return "bad_model_name"
	case ErrBadModuleInputSrc:
		return "bad_module_input_src"
	case ErrBadModuleInputDst:
		return "bad_module_input_dst"
	case ErrNestedModuleInputDst:
		return "nested_module_input_dst"
	case ErrModuleInputNotFound:
		return "module_input_not_found"
	case ErrModuleOutputNotFound:
		return "module_output_not_found"
	case ErrRecursiveModule:
		return "recursive_module"
	case ErrDuplicateModuleInput:
		return "duplicate_module_input"
	case ErrModuleInputDimensioned:
		return "module_input_dimensioned"
	case ErrExpectedModule:
		return "expected_module"
	case ErrUnknownBuiltin:
		return "unknown_builtin"
	case ErrUnsupportedBuiltin:
		return "unsupported_builtin"
	case ErrBadBuiltinArgs:
		return "bad_builtin_args"
	case ErrBuiltinArity:
		return "builtin_arity"
	case ErrStatefulBuiltinArg:
		return "stateful_builtin_arg"
	case ErrWildcardOutsideAggregate:
		return "wildcard_outside_aggregate"
	case ErrBadLookupTarget:
		return "bad_lookup_target"
	case ErrAggregateNeedsArray:
		return "aggregate_needs_array"
	case ErrStatefulInInitial:
		return "stateful_in_initial"
	case ErrNestedStatefulBuiltin:
		return "nested_stateful_builtin"
	case ErrUnknownDimension:
		return "unknown_dimension"
	case ErrBadDimensionName:
		return "bad_dimension_name"
	case ErrBadSubdimension:
		return "bad_subdimension"
	case ErrDuplicateDimensionElement:
		return "duplicate_dimension_element"
	case ErrMismatchedDimensions:
		return "mismatched_dimensions"
	case ErrNotAnArray:
		return "not_an_array"
	case ErrArrayReferenceNeedsSubscripts:
		return "array_reference_needs_subscripts"
	case ErrTooManySubscripts:
		return "too_many_subscripts"
	case ErrTooFewSubscripts:
		return "too_few_subscripts"
	case ErrUnknownSubscriptElement:
		return "unknown_subscript_element"
	case ErrSubscriptOutOfRange:
		return "subscript_out_of_range"
	case ErrNonScalarExpression:
		return "non_scalar_expression"
	case ErrDynamicSubscriptDims:
		return "dynamic_subscript_dims"
	case ErrDuplicateDimension:
		return "duplicate_dimension"
	case ErrEmptyDimension:
		return "empty_dimension"
	case ErrSubdimensionElementMissing:
		return "subdimension_element_missing"
	case ErrRangeSubscriptUnsupported:
		return "range_subscript_unsupported"
	case ErrBadTable:
		return "bad_table"
	case ErrEmptyTable:
		return "empty_table"
	case ErrTableNotIncreasing:
		return "table_not_increasing"
	case ErrBadTableRange:
		return "bad_table_range"
	case ErrNonFiniteTablePoint:
		return "non_finite_table_point"
	case ErrBadUnitExpression:
		return "bad_unit_expression"
	case ErrUnitMismatch:
		return "unit_mismatch"
	case ErrUnitInferenceConflict:
		return "unit_inference_conflict"
	case ErrNonIntegerUnitExponent:
		return "non_integer_unit_exponent"
	case ErrDuplicateUnit:
		return "duplicate_unit"
	case ErrCircularUnitAlias:
		return "circular_unit_alias"
	case ErrUnitCallNotAllowed:
		return "unit_call_not_allowed"
	case ErrUnitSubscriptNotAllowed:
		return "unit_subscript_not_allowed"
	case ErrUnitConditionalNotAllowed:
		return "unit_conditional_not_allowed"
	case ErrUnitWildcardNotAllowed:
		return "unit_wildcard_not_allowed"
	case ErrBadSimSpecs:
		return "bad_sim_specs"
	case ErrBadDT:
		return "bad_dt"
	case ErrBadSaveStep:
		return "bad_save_step"
	case ErrBadTimeRange:
		return "bad_time_range"
	case ErrUnsupportedMethod:
		return "unsupported_method"
	case ErrBadTimeUnits:
		return "bad_time_units"
	case ErrTooManySlots:
		return "too_many_slots"
	case ErrTooManyConstants:
		return "too_many_constants"
	case ErrTooManyTables:
		return "too_many_tables"
	case ErrTooManyModules:
		return "too_many_modules"
	case ErrTooManyInputs:
		return "too_many_inputs"
	case ErrProgramTooLarge:
		return "program_too_large"
	case ErrBadOpcode:
		return "bad_opcode"
	case ErrInternal:
		return "internal"
	}
	panic("Unnamed error code")
}

// EquationError is one diagnostic tagged with the variable it belongs
// to. Line/Col are 1-based and zero when no source position applies.
type EquationError struct {
	Model   string
	Ident   string
	Code    ErrorCode
	Line    int
	Col     int
	Details string
}

func (e EquationError) Error() string {
	where := e.Ident
	if e.Model != "" {
		where = e.Model + ":" + e.Ident
	}
	msg := fmt.Sprintf("%s: %s", where, e.Code)
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (at %d:%d)", msg, e.Line, e.Col)
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Details)
	}
	return msg
}

// ErrorList aggregates diagnostics across variables; it satisfies
// error so a compile can be returned as a single failure value.
type ErrorList []EquationError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
	}
}

// ForVariable filters the list down to one variable's diagnostics.
func (l ErrorList) ForVariable(ident string) ErrorList {
	var out ErrorList
	for _, e := range l {
		if e.Ident == ident {
			out = append(out, e)
		}
	}
	return out
}

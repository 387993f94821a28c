package core

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - centralized error definitions
var (
	// Input errors
	ErrSchema           = errors.New("schema error")
	ErrMissingColumn    = fmt.Errorf("%w: missing column", ErrSchema)
	ErrMalformedValue   = fmt.Errorf("%w: malformed value", ErrSchema)
	ErrInsufficientData = errors.New("insufficient data for analysis")

	// Statistical gate errors
	ErrAssumptionViolation = errors.New("assumption violation")
	ErrConvergence         = errors.New("estimator did not converge")
	ErrSingularMatrix      = errors.New("matrix is singular or not positive definite")
	ErrNotNested           = errors.New("models are not nested")

	// Item set lifecycle
	ErrItemSetFrozen = errors.New("item set is frozen")
	ErrUnknownItem   = errors.New("item not in item set")
)

// NewSchemaError reports columns that are absent or malformed in a named dataset
func NewSchemaError(dataset string, columns ...string) error {
	return fmt.Errorf("%w in %s: %s", ErrMissingColumn, dataset, strings.Join(columns, ", "))
}

// NewMalformedValueError reports a cell that could not be read as a number
func NewMalformedValueError(dataset, column string, row int, value string) error {
	return fmt.Errorf("%w in %s: column %s row %d has %q", ErrMalformedValue, dataset, column, row, value)
}

// NewAssumptionViolation reports a failed suitability gate with its statistic
func NewAssumptionViolation(test string, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrAssumptionViolation, test, detail)
}

// NewConvergenceError reports a failed optimizer run with the model it was fitting
func NewConvergenceError(model string, items []string, iterations int, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s over [%s] after %d iterations: %v", ErrConvergence, model, strings.Join(items, ","), iterations, cause)
	}
	return fmt.Errorf("%w: %s over [%s] after %d iterations", ErrConvergence, model, strings.Join(items, ","), iterations)
}

// NewSingularMatrixError reports a matrix that could not be factorized
func NewSingularMatrixError(what string, items []string) error {
	return fmt.Errorf("%w: %s over [%s]", ErrSingularMatrix, what, strings.Join(items, ","))
}

// NewNotNestedError reports an invalid likelihood-ratio comparison
func NewNotNestedError(a, b string, reason string) error {
	return fmt.Errorf("%w: %s vs %s: %s", ErrNotNested, a, b, reason)
}

// NewInsufficientDataError reports too few rows or items for a computation
func NewInsufficientDataError(what string, have, need int) error {
	return fmt.Errorf("%w: %s needs %d, have %d", ErrInsufficientData, what, need, have)
}

// Error checking helpers
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema)
}

func IsAssumptionViolation(err error) bool {
	return errors.Is(err, ErrAssumptionViolation)
}

func IsConvergenceError(err error) bool {
	return errors.Is(err, ErrConvergence) || errors.Is(err, ErrSingularMatrix)
}

func IsNotNestedError(err error) bool {
	return errors.Is(err, ErrNotNested)
}

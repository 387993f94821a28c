package errors

import (
	stderrors "errors"
	"fmt"

	"arvis/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context. The code is taken from an
// inner AppError, or classified from the domain sentinel the error carries.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    Classify(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Classify maps domain sentinels onto application codes
func Classify(err error) string {
	var appErr *AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr.Code
	case core.IsSchemaError(err):
		return CodeSchemaError
	case core.IsAssumptionViolation(err):
		return CodeAssumptionViolation
	case core.IsConvergenceError(err):
		return CodeConvergenceError
	case core.IsNotNestedError(err):
		return CodeNotNested
	case stderrors.Is(err, core.ErrInsufficientData):
		return CodeInsufficientData
	case stderrors.Is(err, core.ErrItemSetFrozen), stderrors.Is(err, core.ErrUnknownItem):
		return CodeInvalidInput
	default:
		return CodeInternalError
	}
}

// ExitCode maps an error code onto a process exit status for the CLI
func ExitCode(err error) int {
	switch Classify(err) {
	case CodeConfigInvalid, CodeInvalidInput:
		return 2
	case CodeSchemaError:
		return 3
	case CodeAssumptionViolation:
		return 4
	case CodeConvergenceError, CodeNotNested:
		return 5
	default:
		return 1
	}
}

// Predefined error codes
const (
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeSchemaError         = "SCHEMA_ERROR"
	CodeAssumptionViolation = "ASSUMPTION_VIOLATION"
	CodeConvergenceError    = "CONVERGENCE_ERROR"
	CodeNotNested           = "NOT_NESTED"
	CodeInsufficientData    = "INSUFFICIENT_DATA"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeIOError             = "IO_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func IOError(operation string, cause error) *AppError {
	return &AppError{
		Code:    CodeIOError,
		Message: fmt.Sprintf("%s failed", operation),
		Cause:   cause,
	}
}

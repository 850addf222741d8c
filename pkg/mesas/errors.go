package mesas

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the table registry.
var (
	ErrAlreadySeated        = errors.New("already seated")
	ErrSeatTaken            = errors.New("seat taken")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrTableNotFound        = errors.New("table not found")
	ErrForbidden            = errors.New("forbidden")
	ErrTableExists          = errors.New("table already exists")
	ErrCreateFailed         = errors.New("create failed")
	ErrInvalidTableID       = errors.New("invalid table id")
	ErrInvalidPlayerID      = errors.New("invalid player id")
	ErrInvalidPointsTarget  = errors.New("invalid points target")
	ErrInvalidBetAmount     = errors.New("invalid bet amount")
	ErrInvalidSeatIndex     = errors.New("invalid seat index")
	ErrInvalidTableStatus   = errors.New("invalid table status")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

var domainErrors = []error{
	ErrAlreadySeated,
	ErrSeatTaken,
	ErrNotAuthenticated,
	ErrStoreUnavailable,
	ErrTableNotFound,
	ErrForbidden,
	ErrTableExists,
	ErrCreateFailed,
	ErrInvalidTableID,
	ErrInvalidPlayerID,
	ErrInvalidPointsTarget,
	ErrInvalidBetAmount,
	ErrInvalidSeatIndex,
	ErrInvalidTableStatus,
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsDomainError reports whether err already carries one of the registry kinds.
func IsDomainError(err error) bool {
	for _, kind := range domainErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// translateStoreError keeps domain kinds and turns everything else into ErrStoreUnavailable
// with the underlying message attached.
func translateStoreError(err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// Package errors defines error types and utilities for dynafind
package errors

import (
	"errors"
	"fmt"
)

// Configuration errors, raised once at registration or bind time. A method
// declaration that trips one of these is broken and must be fixed; they are
// never raised per call.
var (
	// ErrInvalidMethodName is returned when a method name does not follow
	// the {Prefix}By{Clause} convention
	ErrInvalidMethodName = errors.New("invalid method name")

	// ErrUnknownProperty is returned when a clause segment cannot be
	// resolved against the entity's declared properties
	ErrUnknownProperty = errors.New("unknown property")

	// ErrParameterCount is returned when a method's parameter list does not
	// match the bound values its predicates require
	ErrParameterCount = errors.New("parameter count mismatch")

	// ErrInvalidSignature is returned when a repository field is not a
	// bindable function shape
	ErrInvalidSignature = errors.New("invalid method signature")

	// ErrInvalidModel is returned when an entity struct is invalid
	ErrInvalidModel = errors.New("invalid model")

	// ErrMissingPartitionKey is returned when an entity declares no
	// partition key
	ErrMissingPartitionKey = errors.New("missing partition key")

	// ErrDuplicateKey is returned when multiple fields claim the same key
	// role
	ErrDuplicateKey = errors.New("duplicate key definition")

	// ErrDuplicateIndex is returned when an index name is declared twice
	// with conflicting roles
	ErrDuplicateIndex = errors.New("duplicate index definition")

	// ErrInvalidTag is returned when a struct tag is malformed
	ErrInvalidTag = errors.New("invalid struct tag")

	// ErrModelNotRegistered is returned when an entity type has not been
	// registered
	ErrModelNotRegistered = errors.New("model not registered")
)

// Unsupported-operation errors. Deterministic per method declaration; they
// surface at bind time when the access path is resolved.
var (
	// ErrUnsupportedOperator is returned when an operator has no encoding
	// for the resolved access path
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnsupportedOrderBy is returned when an order-by clause targets a
	// property other than the resolved path's range key
	ErrUnsupportedOrderBy = errors.New("unsupported order by")

	// ErrHashKeyOperator is returned when a non-equality operator is
	// applied to a hash key
	ErrHashKeyOperator = errors.New("hash key conditions must be equality")

	// ErrConsistentReadOnIndex is returned when a consistent read is
	// requested against a global secondary index
	ErrConsistentReadOnIndex = errors.New("consistent read not supported on global secondary index")

	// ErrScanNotEnabled is returned when resolution requires a table scan
	// and the method does not allow one
	ErrScanNotEnabled = errors.New("scan not enabled for method")

	// ErrScanCountNotEnabled is returned when a count can only be satisfied
	// by a scan and scan counting is not enabled for the method
	ErrScanCountNotEnabled = errors.New("scan count not enabled for method")
)

// Binding errors, raised at call time when argument values cannot be bound
// to the compiled plan.
var (
	// ErrNilKeyValue is returned when a key argument or a composite-id
	// constituent is nil
	ErrNilKeyValue = errors.New("nil key value")

	// ErrEmptyInCollection is returned when an IN predicate receives an
	// empty collection
	ErrEmptyInCollection = errors.New("empty IN collection")

	// ErrUnsupportedType is returned when an argument value cannot be
	// converted to a DynamoDB attribute value
	ErrUnsupportedType = errors.New("unsupported type")
)

// Storage-adjacent errors surfaced by the write-side helpers.
var (
	// ErrConditionFailed is returned when a conditional put is rejected
	// because the item already exists
	ErrConditionFailed = errors.New("condition check failed")
)

// Error represents a detailed error with the operation and method that
// produced it
type Error struct {
	Op     string // Operation that failed (parse, resolve, bind, query, ...)
	Method string // Repository method name, when one is involved
	Err    error  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("dynafind: %s %s: %v", e.Op, e.Method, e.Err)
	}
	return fmt.Sprintf("dynafind: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new Error
func New(op, method string, err error) *Error {
	return &Error{
		Op:     op,
		Method: method,
		Err:    err,
	}
}

// IsConfiguration reports whether err is one of the errors raised for a
// broken method declaration or entity registration.
func IsConfiguration(err error) bool {
	for _, target := range []error{
		ErrInvalidMethodName,
		ErrUnknownProperty,
		ErrParameterCount,
		ErrInvalidSignature,
		ErrInvalidModel,
		ErrMissingPartitionKey,
		ErrDuplicateKey,
		ErrDuplicateIndex,
		ErrInvalidTag,
		ErrModelNotRegistered,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsUnsupported reports whether err is an unsupported-operation error: the
// declaration asks for something DynamoDB (or this library's policy) cannot
// serve.
func IsUnsupported(err error) bool {
	for _, target := range []error{
		ErrUnsupportedOperator,
		ErrUnsupportedOrderBy,
		ErrHashKeyOperator,
		ErrConsistentReadOnIndex,
		ErrScanNotEnabled,
		ErrScanCountNotEnabled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConditionFailed checks if an error indicates a failed conditional write
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

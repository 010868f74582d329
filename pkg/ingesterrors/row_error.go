package ingesterrors

import (
	"fmt"
)

// RowErrorKind classifies a row-scoped failure.
type RowErrorKind int

const (
	// KindConversion means the row could not be encoded. Terminal.
	KindConversion RowErrorKind = iota
	// KindTransmission means the sink rejected the row. Retryable.
	KindTransmission
	// KindConnection means the stream broke while the row was in flight.
	KindConnection
	// KindAuthentication means the stream could not be (re)authorized.
	KindAuthentication
)

// String returns the kind name.
func (k RowErrorKind) String() string {
	switch k {
	case KindConversion:
		return "conversion"
	case KindTransmission:
		return "transmission"
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrorType maps the kind onto the structured error taxonomy.
func (k RowErrorKind) ErrorType() ErrorType {
	switch k {
	case KindConversion:
		return ErrorTypeConversion
	case KindTransmission:
		return ErrorTypeTransmission
	case KindConnection:
		return ErrorTypeConnection
	case KindAuthentication:
		return ErrorTypeAuthentication
	default:
		return ErrorTypeInternal
	}
}

// RowError is a failure scoped to one row of a batch.
type RowError struct {
	Kind     RowErrorKind
	Message  string
	RowIndex int
	// Field is the dotted path of the offending field, empty when the
	// failure is not tied to a field.
	Field string
	Cause error
}

// Error implements the error interface.
func (e *RowError) Error() string {
	msg := fmt.Sprintf("%s error at row %d", e.Kind, e.RowIndex)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RowError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether resending the row could succeed.
func (e *RowError) Retryable() bool {
	return e.Kind != KindConversion
}

// NewConversionError creates a conversion failure for a row field.
func NewConversionError(rowIndex int, field string, cause error) *RowError {
	return &RowError{
		Kind:     KindConversion,
		Message:  "failed to encode row",
		RowIndex: rowIndex,
		Field:    field,
		Cause:    cause,
	}
}

// FromRemote builds a row error from a sink failure, deriving the kind from
// the structured type of err.
func FromRemote(rowIndex int, err error) *RowError {
	kind := KindTransmission
	switch TypeOf(err) {
	case ErrorTypeConnection:
		kind = KindConnection
	case ErrorTypeAuthentication:
		kind = KindAuthentication
	}
	return &RowError{
		Kind:     kind,
		Message:  "failed to ingest row",
		RowIndex: rowIndex,
		Cause:    err,
	}
}

// Package ingesterrors provides structured error handling for zerowire with
// error categorization, structured details, stack capture and row-scoped
// failures.
//
// # Overview
//
// Two error shapes exist:
//   - Error: a categorized, wrappable error used for batch-level conditions
//     (configuration, authentication, connection, retry exhaustion).
//   - RowError: a failure scoped to one row of a batch. Row errors never
//     escape SendBatch as returned errors; they are captured in results.
//
// # Basic Usage
//
//	err := ingesterrors.New(ingesterrors.ErrorTypeConfig, "schema too wide").
//	    WithDetail("fields", 2001)
//
//	if ingesterrors.IsRetryable(err) {
//	    // schedule another pass
//	}
package ingesterrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error and drives retry decisions.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents fatal pre-flight configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeAuthentication represents credential failures
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConnection represents stream open or transport failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConversion represents deterministic row encoding failures
	ErrorTypeConversion ErrorType = "conversion"
	// ErrorTypeTransmission represents a row rejected by the remote sink
	ErrorTypeTransmission ErrorType = "transmission"
	// ErrorTypeRetryExhausted is returned once the attempt budget is spent
	ErrorTypeRetryExhausted ErrorType = "retry_exhausted"
	// ErrorTypeFile represents debug file operation errors
	ErrorTypeFile ErrorType = "file"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: categorizes the error for retry and reporting
//   - Message: human-readable description
//   - Cause: the underlying error
//   - Details: key-value pairs with additional context
//   - Stack: call stack at the point of creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a type and message. If err is already a
// structured Error its stack is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// TypeOf returns the type of the outermost structured error in err's chain,
// or ErrorTypeInternal when there is none. Row errors map to the matching
// error type of their kind.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	var re *RowError
	if errors.As(err, &re) {
		return re.Kind.ErrorType()
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether another attempt could succeed. Connection,
// authentication and transmission failures are retryable; conversion and
// configuration failures fail identically on every attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeConnection, ErrorTypeAuthentication, ErrorTypeTransmission:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack captures the current call stack, skipping the given frames.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

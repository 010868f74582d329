package ingesterrors_test

import (
	"errors"
	"fmt"
	"io"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := ingesterrors.New(ingesterrors.ErrorTypeConfig, "flattened schema exceeds field limit").
		WithDetail("fields", 2001).
		WithDetail("limit", 2000)

	fmt.Println(err.Error())

	// Output:
	// config: flattened schema exceeds field limit
}

// ExampleWrap shows how wrapping keeps the cause reachable.
func ExampleWrap() {
	err := ingesterrors.Wrap(io.ErrUnexpectedEOF, ingesterrors.ErrorTypeConnection, "stream closed by server")

	fmt.Println(ingesterrors.IsType(err, ingesterrors.ErrorTypeConnection))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))
	fmt.Println(ingesterrors.IsRetryable(err))

	// Output:
	// true
	// true
	// true
}

// ExampleRowError shows a row-scoped conversion failure.
func ExampleRowError() {
	err := ingesterrors.NewConversionError(5, "amount", errors.New("expected int64, got string"))

	fmt.Println(err)
	fmt.Println(err.Retryable())
	fmt.Println(ingesterrors.IsRetryable(err))

	// Output:
	// conversion error at row 5 field "amount": failed to encode row: expected int64, got string
	// false
	// false
}

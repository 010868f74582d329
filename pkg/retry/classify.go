package retry

import (
	"context"
	"errors"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
)

// Class is the retry classification of a failure.
type Class int

const (
	// Terminal failures fail identically on every attempt.
	Terminal Class = iota
	// Retryable failures may succeed on a later pass.
	Retryable
)

// String returns the class name.
func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Classify sorts a failure into retryable or terminal. Conversion,
// configuration and exhaustion errors are terminal, as is caller
// cancellation.
func Classify(err error) Class {
	if err == nil {
		return Terminal
	}
	if errors.Is(err, context.Canceled) {
		return Terminal
	}
	if ingesterrors.IsRetryable(err) {
		return Retryable
	}
	return Terminal
}

// IsAuthentication reports whether err requires a token refresh before the
// next attempt.
func IsAuthentication(err error) bool {
	return ingesterrors.TypeOf(err) == ingesterrors.ErrorTypeAuthentication
}

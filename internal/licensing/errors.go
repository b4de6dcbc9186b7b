// Package licensing implements license activation and verification.
package licensing

import "fmt"

// Kind classifies a licensing failure for callers that map it to a transport
// status.
type Kind int

const (
	// KindInvalidInput means a required field was missing or malformed.
	KindInvalidInput Kind = iota + 1
	// KindUnauthorized means the marketplace rejected the purchase code.
	KindUnauthorized
	// KindForbidden means the license is blocked or bound to another domain.
	KindForbidden
	// KindBadRequest means the purchase code belongs to a different product.
	KindBadRequest
	// KindUnavailable means the marketplace could not be reached.
	KindUnavailable
	// KindInternal means storage or another internal dependency failed.
	// Details are logged server-side only.
	KindInternal
)

// Error is a typed licensing failure. Message is safe to return to callers;
// the wrapped cause is not.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Package apperr defines the error taxonomy shared by the checkout, order and
// address services. Collaborator failures are converted to one of these kinds
// at service boundaries so that handlers never see raw driver or provider
// errors.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	// KindValidation is malformed or incomplete input. Always recoverable by
	// the client.
	KindValidation Kind = "validation"
	// KindNotAuthenticated means the caller has no valid session.
	KindNotAuthenticated Kind = "not_authenticated"
	// KindNotFound covers both missing records and records owned by someone
	// else, so existence is never leaked.
	KindNotFound Kind = "not_found_or_unauthorized"
	// KindPersistence is a storage failure. Not retried by the services.
	KindPersistence Kind = "persistence"
	// KindPaymentVerification is a webhook signature mismatch.
	KindPaymentVerification Kind = "payment_verification"
	// KindExternalGateway is a payment provider failure.
	KindExternalGateway Kind = "external_gateway"
	// KindConflict is a concurrent modification that could not be resolved.
	KindConflict Kind = "conflict"
	// KindIllegalState is an operation invoked at the wrong checkout step.
	KindIllegalState Kind = "illegal_state"
)

// Error is a classified error. Message is safe to show to the user; Err
// carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a KindValidation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotAuthenticated returns the error used when no user is present.
func NotAuthenticated() *Error {
	return &Error{Kind: KindNotAuthenticated, Message: "sign in required"}
}

// NotFound returns a KindNotFound error for the named resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Message: "storage unavailable, please retry", Err: err}
}

// Gateway wraps a payment provider failure. The message is shown verbatim.
func Gateway(op, message string, err error) *Error {
	return &Error{Kind: KindExternalGateway, Op: op, Message: message, Err: err}
}

// Verification wraps a webhook authenticity failure.
func Verification(err error) *Error {
	return &Error{Kind: KindPaymentVerification, Message: "webhook signature verification failed", Err: err}
}

// Conflict reports an unresolved concurrent modification.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: "concurrent update, please retry", Err: err}
}

// IllegalState reports an operation that is not allowed at the current step.
func IllegalState(format string, args ...any) *Error {
	return &Error{Kind: KindIllegalState, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when err
// is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the user-facing message of a classified error, falling
// back to a generic text for unclassified ones.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

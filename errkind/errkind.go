// Package errkind defines the typed failure taxonomy shared by every stage of
// the transfer pipeline. Each kind drives a specific terminal job state.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindNone is the zero value, used for successful outcomes.
	KindNone Kind = ""

	InvalidKeyFormat   Kind = "InvalidKeyFormat"
	InvalidRecipient   Kind = "InvalidRecipient"
	InvalidAmount      Kind = "InvalidAmount"
	SigningFailure     Kind = "SigningFailure"
	NetworkError       Kind = "NetworkError"
	Timeout            Kind = "Timeout"
	RejectedByChain    Kind = "RejectedByChain"
	ServiceUnavailable Kind = "ServiceUnavailable"

	// Cancelled marks a job that never started because its batch was cancelled.
	Cancelled Kind = "Cancelled"

	// Internal marks programming errors and recovered panics.
	Internal Kind = "Internal"
)

// IsRetryable reports whether a failure of this kind may be retried by the
// chain client. RejectedByChain and all validation kinds are terminal.
func (k Kind) IsRetryable() bool {
	switch k {
	case NetworkError, Timeout, ServiceUnavailable:
		return true
	default:
		return false
	}
}

// IsNetworkClass reports whether the kind leaves the chain state unknown when
// it happens after a transaction was handed to the network.
func (k Kind) IsNetworkClass() bool {
	return k.IsRetryable()
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == KindNone {
		return "None"
	}
	return string(k)
}

// Error is a failure tagged with a Kind.
// Op names the failing step ("decode", "build", "submit", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind with a plain message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of returns the kind of the outermost *Error in err's chain.
// Untyped non-nil errors are Internal.
func Of(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && Of(err) == kind
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return Of(err).IsRetryable()
}

package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classes the transport layer dispatches on.
type Kind int

const (
	// Infra covers storage, network and anything unclassified.
	Infra Kind = iota
	// Validation covers client-caused failures.
	Validation
	// Crypto covers decryption and key handling failures.
	Crypto
	// Integrity covers ledger tamper detection.
	Integrity
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Crypto:
		return "crypto"
	case Integrity:
		return "integrity"
	default:
		return "infra"
	}
}

// Error carries a Kind, a human message and the wrapped cause (usually a sentinel).
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error of the given kind.
func E(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Invalid is shorthand for a Validation error wrapping a sentinel.
func Invalid(err error, format string, args ...any) *Error {
	return E(Validation, err, format, args...)
}

var validationSentinels = []error{
	ErrMissingField, ErrWeakPassword, ErrSelfMessage, ErrTooLong, ErrUnsafeContent,
	ErrNotMember, ErrAlreadyMember, ErrAlreadyExists, ErrNotFound,
	ErrExchangeInFlight, ErrNoExchange, ErrRateLimited,
}

// KindOf classifies err. Typed errors win; bare sentinels are mapped; the rest is Infra.
func KindOf(err error) Kind {
	if err == nil {
		return Infra
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrReadOnly) {
		return Integrity
	}
	for _, s := range validationSentinels {
		if errors.Is(err, s) {
			return Validation
		}
	}
	return Infra
}

// Message returns the human message of a typed error, or the error text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

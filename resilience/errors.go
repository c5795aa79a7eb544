package resilience

import (
	"github.com/cockroachdb/errors"
)

// ErrorKind is a closed tag set used to classify failures. Transport adapters
// assign a kind at the boundary (status codes, syscall errors) so that retry
// decisions never depend on language-level error types.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindConnectionFailure
	KindServerError
	KindRateLimited
	KindClientError
	KindValidation
	KindCircuitOpen
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionFailure:
		return "connection_failure"
	case KindServerError:
		return "server_error"
	case KindRateLimited:
		return "rate_limited"
	case KindClientError:
		return "client_error"
	case KindValidation:
		return "validation"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name (as used in config files) back to an ErrorKind.
func ParseKind(s string) (ErrorKind, error) {
	switch s {
	case "timeout":
		return KindTimeout, nil
	case "connection_failure":
		return KindConnectionFailure, nil
	case "server_error":
		return KindServerError, nil
	case "rate_limited":
		return KindRateLimited, nil
	case "client_error":
		return KindClientError, nil
	case "validation":
		return KindValidation, nil
	case "circuit_open":
		return KindCircuitOpen, nil
	default:
		return KindUnknown, errors.Newf("unknown error kind %q", s)
	}
}

// Error is a classified error. Collaborators construct these at the transport
// boundary; the retry executor only ever looks at the Kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: errors.Newf(format, args...).Error()}
}

// WrapError classifies an underlying error without losing it; the cause stays
// reachable through errors.Is / errors.As.
func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Kinder is implemented by error types that carry their own classification,
// letting collaborators keep richer error values (status, body, URL) while
// still participating in retry decisions.
type Kinder interface {
	ErrorKind() ErrorKind
}

// KindOf extracts the classification from an error chain. Unclassified errors
// are KindUnknown and therefore never retryable by default.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// ErrCircuitOpen is returned by a circuit breaker that rejected a call without
// invoking the operation. It is never produced by the retry executor.
var ErrCircuitOpen = NewError(KindCircuitOpen, "circuit breaker is open")

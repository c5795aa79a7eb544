package api

import (
	"context"
	"net/http"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/coregrid/go-resilience/resilience"
)

// Error is the classified failure of an API request. It keeps the transport
// details (status, body, URL) for caller-side branching while exposing its
// kind to the retry executor through the Kinder interface.
type Error struct {
	URL     string
	Method  string
	Status  int
	Body    string
	Kind    resilience.ErrorKind
	Err     error
	TraceID string
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorKind() resilience.ErrorKind {
	return e.Kind
}

// KindForStatus maps an HTTP status code to an error kind. The mapping is the
// transport adapter's job: the retry core never inspects status codes.
func KindForStatus(status int) resilience.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return resilience.KindRateLimited
	case status == http.StatusRequestTimeout:
		return resilience.KindTimeout
	case status >= 500:
		return resilience.KindServerError
	case status >= 400:
		return resilience.KindClientError
	default:
		return resilience.KindUnknown
	}
}

// KindForTransportError classifies errors returned by the HTTP transport
// itself (no response received).
func KindForTransportError(err error) resilience.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return resilience.KindTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return resilience.KindConnectionFailure
	case strings.Contains(err.Error(), "EOF"):
		return resilience.KindConnectionFailure
	default:
		return resilience.KindUnknown
	}
}

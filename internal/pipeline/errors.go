package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/completion"
)

// ErrorKind is the client-visible failure class.
type ErrorKind string

const (
	InvalidInput    ErrorKind = "INVALID_INPUT"
	RateLimited     ErrorKind = "RATE_LIMITED"
	UpstreamTimeout ErrorKind = "UPSTREAM_TIMEOUT"
	UpstreamError   ErrorKind = "UPSTREAM_ERROR"
	NetworkError    ErrorKind = "NETWORK_ERROR"
)

var kindDefaults = map[ErrorKind]struct {
	status    int
	retryable bool
}{
	InvalidInput:    {http.StatusBadRequest, false},
	RateLimited:     {http.StatusTooManyRequests, false},
	UpstreamTimeout: {http.StatusGatewayTimeout, true},
	UpstreamError:   {http.StatusBadGateway, true},
	NetworkError:    {http.StatusBadGateway, true},
}

// Error is a pipeline failure with its HTTP mapping.
type Error struct {
	Kind      ErrorKind
	Message   string
	Status    int
	Retryable bool
	State     State
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an error with the kind's default status and retryability.
func NewError(kind ErrorKind, message string, cause error) *Error {
	d, ok := kindDefaults[kind]
	if !ok {
		d = kindDefaults[UpstreamError]
	}
	return &Error{
		Kind:      kind,
		Message:   message,
		Status:    d.status,
		Retryable: d.retryable,
		Err:       cause,
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classifyUpstream maps a completion failure onto the taxonomy.
func classifyUpstream(err error) *Error {
	var (
		se     *completion.StatusError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewError(UpstreamTimeout, "The analysis service took too long to respond.", err)
	case errors.As(err, &se):
		e := NewError(UpstreamError, "The analysis service returned an error.", err)
		if se.Code >= 400 && se.Code < 500 && se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests {
			e.Retryable = false
		}
		return e
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return NewError(NetworkError, "The analysis service is temporarily unavailable.", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewError(UpstreamTimeout, "The analysis service took too long to respond.", err)
	default:
		return NewError(NetworkError, "Could not reach the analysis service.", err)
	}
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors matched by UpstreamError.Is.
var (
	// ErrUpstreamTimeout indicates that the backend did not answer within
	// the service's request timeout.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnreachable indicates a transport failure talking to the backend.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrClientCanceled indicates that the caller went away before the backend answered.
	ErrClientCanceled = errors.New("client canceled request")
)

// ServiceNotFoundError is returned when no service is registered under the name.
type ServiceNotFoundError struct {
	Service string
}

// Error implements the error interface.
func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service %q not found", e.Service)
}

// Kind classifies an upstream failure.
type Kind int

// Upstream failure kinds.
const (
	KindUnreachable Kind = iota
	KindTimeout
	KindCanceled
)

// String returns the metric label of the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unreachable"
	}
}

// UpstreamError is returned when the single forwarding attempt fails.
type UpstreamError struct {
	Kind    Kind
	Service string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s: service=%s target=%s: %v", e.Kind, e.Service, e.Target, e.Cause)
	}
	return fmt.Sprintf("upstream %s: service=%s target=%s", e.Kind, e.Service, e.Target)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's kind.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamTimeout:
		return e.Kind == KindTimeout
	case ErrUpstreamUnreachable:
		return e.Kind == KindUnreachable
	case ErrClientCanceled:
		return e.Kind == KindCanceled
	}
	return false
}

// IsServiceNotFound reports whether err is a ServiceNotFoundError.
func IsServiceNotFound(err error) bool {
	var nf *ServiceNotFoundError
	return errors.As(err, &nf)
}

// IsUpstreamError reports whether err is an UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsUpstreamTimeout reports whether err is an upstream timeout.
func IsUpstreamTimeout(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout)
}

// IsUpstreamUnreachable reports whether err is an upstream transport failure.
func IsUpstreamUnreachable(err error) bool {
	return errors.Is(err, ErrUpstreamUnreachable)
}

// IsClientCanceled reports whether the caller canceled the request.
func IsClientCanceled(err error) bool {
	return errors.Is(err, ErrClientCanceled)
}

// classify maps a client.Do failure to a Kind. parent is the caller's
// context; timedOut reports whether the per-service timeout fired.
func classify(parent context.Context, timedOut bool, err error) Kind {
	if errors.Is(parent.Err(), context.Canceled) {
		return KindCanceled
	}
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}

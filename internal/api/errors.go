package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// TransportKind classifies failures where the backend was never reached.
type TransportKind string

const (
	TransportTimeout  TransportKind = "timeout"
	TransportOffline  TransportKind = "offline"
	TransportDNS      TransportKind = "dns"
	TransportCanceled TransportKind = "canceled"
	TransportUnknown  TransportKind = "unknown"
)

// TransportError represents a request that never produced an HTTP response:
// no connectivity, DNS failure, timeout or cancellation.
type TransportError struct {
	Op   string
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendKind classifies non-2xx responses.
type BackendKind string

const (
	KindUnauthorized    BackendKind = "unauthorized"
	KindBadRequest      BackendKind = "bad_request"
	KindNotFound        BackendKind = "not_found"
	KindRateLimited     BackendKind = "rate_limited"
	KindServerError     BackendKind = "server_error"
	KindRejected        BackendKind = "rejected"
	KindInvalidResponse BackendKind = "invalid_response"
)

const genericServerMessage = "Something went wrong on our side. Please try again later."

// BackendError represents a response the backend sent with a non-2xx status.
// Message is safe to show to users; Detail is the raw backend message and must
// only reach logs.
type BackendError struct {
	Op      string
	Status  int
	Kind    BackendKind
	Message string
	Detail  string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error during %s (HTTP %d, %s): %s", e.Op, e.Status, e.Kind, e.Message)
}

// ShapeMismatchError represents a 2xx response whose JSON matched none of the
// known envelope shapes. It is reported to callers as a BackendError.
type ShapeMismatchError struct {
	Op      string
	Payload []byte
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("unexpected response shape during %s", e.Op)
}

// As lets errors.As(err, **BackendError) match shape mismatches.
func (e *ShapeMismatchError) As(target any) bool {
	be, ok := target.(**BackendError)
	if !ok {
		return false
	}

	*be = &BackendError{
		Op:      e.Op,
		Status:  http.StatusOK,
		Kind:    KindInvalidResponse,
		Message: genericServerMessage,
	}

	return true
}

func classifyStatus(status int) BackendKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= http.StatusInternalServerError:
		return KindServerError
	default:
		return KindRejected
	}
}

func classifyTransport(op string, err error) *TransportError {
	kind := TransportUnknown

	var (
		dnsErr *net.DNSError
		netErr net.Error
	)

	switch {
	case errors.Is(err, context.Canceled):
		kind = TransportCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = TransportTimeout
	case errors.As(err, &dnsErr):
		kind = TransportDNS
		if dnsErr.IsTimeout {
			kind = TransportTimeout
		}
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = TransportTimeout
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		kind = TransportOffline
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			kind = TransportOffline
		}
	}

	return &TransportError{Op: op, Kind: kind, Err: err}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError

	return errors.As(err, &te)
}

// BackendKindOf returns the kind of a BackendError (or shape mismatch) in err's chain.
func BackendKindOf(err error) (BackendKind, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind, true
	}

	return "", false
}

// IsUnauthorized reports whether err asks the caller to re-authenticate.
func IsUnauthorized(err error) bool {
	kind, ok := BackendKindOf(err)

	return ok && kind == KindUnauthorized
}

// IsDegradable reports whether an interaction may fall back to local state:
// transport failures and any backend status other than 400, 401, 404 and 429.
// A response that could not be read is not degradable.
func IsDegradable(err error) bool {
	if IsTransport(err) {
		return true
	}

	kind, ok := BackendKindOf(err)
	if !ok {
		return false
	}

	switch kind {
	case KindBadRequest, KindUnauthorized, KindNotFound, KindRateLimited, KindInvalidResponse:
		return false
	default:
		return true
	}
}

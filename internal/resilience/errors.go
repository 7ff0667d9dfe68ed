package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a failed remote call for logging and metrics.
type Kind string

const (
	KindNone        Kind = ""
	KindDeadline    Kind = "deadline_exceeded"
	KindUnavailable Kind = "unavailable"
	KindCircuitOpen Kind = "circuit_open"
	KindOther       Kind = "other"
)

// StatusError carries the HTTP status of a failed remote call.
type StatusError struct {
	Err        error
	StatusCode int
}

func (e *StatusError) Error() string { return e.Err.Error() }

func (e *StatusError) Unwrap() error { return e.Err }

// Classify maps an error to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadline
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindDeadline
	}
	if IsUnavailable(err) {
		return KindUnavailable
	}
	return KindOther
}

// IsUnavailable reports whether err means the remote channel is down:
// refused or reset connections, DNS failures, or a 502/503/504 status.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case 502, 503, 504:
			return true
		}
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"no such host",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

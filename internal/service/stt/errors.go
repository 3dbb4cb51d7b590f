package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport is returned when the connection fails or closes before the
// final event arrives.
var ErrTransport = errors.New("transport closed before final event")

// AuthError reports a rejected handshake. The connection is unusable and
// must still be released with Close.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: code=%d message=%q", e.Code, e.Message)
}

// ServiceError reports a non-zero status code received while streaming.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("recognizer error: code=%d message=%q", e.Code, e.Message)
}

// Completion reasons, as reported by Reason.
const (
	ReasonFinal     = "final"
	ReasonAuth      = "auth"
	ReasonTransport = "transport"
	ReasonService   = "service"
	ReasonCanceled  = "canceled"
)

// Reason classifies how a session ended given the error it ended with.
func Reason(err error) string {
	var authErr *AuthError
	var svcErr *ServiceError
	switch {
	case err == nil:
		return ReasonFinal
	case errors.As(err, &authErr):
		return ReasonAuth
	case errors.As(err, &svcErr):
		return ReasonService
	case errors.Is(err, ErrTransport):
		return ReasonTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonTransport
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a backend failure.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindNetwork means no response reached the caller.
	KindNetwork
	// KindAuthorization is a 401/403 response.
	KindAuthorization
	// KindValidation is malformed input, caught locally or rejected with 400/422.
	KindValidation
	// KindRejected is any other 4xx response.
	KindRejected
	// KindServer is a 5xx response.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindRejected:
		return "rejected"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a classified backend failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("api: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("api: %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("api: %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("api: %s: %s: %s", e.Op, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindAuthorization
	case code == 400 || code == 422:
		return KindValidation
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindRejected
	default:
		return KindUnknown
	}
}

// ValidationError builds a client-side validation failure.
func ValidationError(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// KindOf returns the kind of err. Context cancellation and deadlines count as
// network failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	return KindUnknown
}

// IsAuthorization reports whether err is a 401/403 failure.
func IsAuthorization(err error) bool {
	return KindOf(err) == KindAuthorization
}

// Retryable reports whether err is a network or server failure.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindNetwork || k == KindServer
}

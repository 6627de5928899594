package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation       ErrorCode = "VALIDATION_ERROR"
	ErrorRejected         ErrorCode = "APPLICATION_REJECTION"
	ErrorTransport        ErrorCode = "TRANSPORT_FAILURE"
	ErrorAuthExpired      ErrorCode = "AUTHORIZATION_EXPIRY"
	ErrorNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	ErrorStorage          ErrorCode = "STORAGE_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// ErrNoIdentity is returned by conversation operations invoked while no
// identity is active. No request is made in that case.
var ErrNoIdentity = newError(ErrorNotAuthenticated, "no_identity", nil)

// CodeOf reports the ErrorCode carried by err, or "" when err is not a
// usecase error.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if !errors.As(err, &ue) {
		return ""
	}
	return ue.Code
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type serverMessager interface {
	ServerMessage() string
}

type malformedResponder interface {
	MalformedResponse() bool
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// serverAnswered reports whether err came from a completed round trip: a
// rejected status or an accepted one with an unusable body.
func serverAnswered(err error) bool {
	if _, ok := upstreamStatusCode(err); ok {
		return true
	}
	var m malformedResponder
	return errors.As(err, &m) && m.MalformedResponse()
}

// serverMessage returns the reason the service put in the error body, if any.
func serverMessage(err error) string {
	var m serverMessager
	if !errors.As(err, &m) {
		return ""
	}
	return m.ServerMessage()
}

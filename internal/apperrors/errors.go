// Package apperrors defines the domain error taxonomy shared by the auth
// flow and its HTTP surface. Each error carries the code written into the
// response envelope and the transport status it maps to.
package apperrors

import (
	"errors"
	"net/http"
)

// Error is a domain error. Errors form a shallow hierarchy through parent so
// that, for example, a device mismatch is also a TokenInvalid.
type Error struct {
	Code       int
	HTTPStatus int
	Message    string
	parent     *Error
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches e or any of its ancestors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for cur := e; cur != nil; cur = cur.parent {
		if cur == t {
			return true
		}
	}
	return false
}

func newError(code, status int, msg string) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: msg}
}

func (e *Error) child(code, status int, msg string) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: msg, parent: e}
}

var (
	ErrBadRequest      = newError(400, http.StatusBadRequest, "bad request")
	ErrTooManyRequests = newError(429, http.StatusTooManyRequests, "too many requests")
	ErrInternal        = newError(500, http.StatusInternalServerError, "internal server error")

	ErrUserNotFound            = newError(2001, http.StatusOK, "user is not registered")
	ErrVerificationExpired     = newError(2002, http.StatusOK, "verification code expired")
	ErrVerificationMismatch    = newError(2003, http.StatusOK, "verification code does not match")
	ErrVerificationRateLimited = newError(2004, http.StatusOK, "verification code requested too many times")
	ErrPasswordIncorrect       = newError(2005, http.StatusOK, "password is incorrect")
	ErrMobileAlreadyRegistered = newError(2007, http.StatusOK, "mobile is already registered")
	ErrUserUnavailable         = newError(2008, http.StatusOK, "user is unavailable")
	ErrHandleTaken             = newError(2009, http.StatusOK, "user id is already taken")

	ErrMissingToken = newError(4010, http.StatusUnauthorized, "missing authorization header")
	ErrTokenExpired = newError(4013, http.StatusUnprocessableEntity, "token has expired")
	ErrTokenInvalid = newError(4014, http.StatusUnauthorized, "token is invalid")

	// ErrTokenMalformed covers tokens that fail to decode: bad structure,
	// bad signature or wrong kind.
	ErrTokenMalformed = ErrTokenInvalid.child(4014, http.StatusUnprocessableEntity, "token is malformed")
	// ErrDeviceMismatch is returned when the request device differs from the
	// device the token was minted for.
	ErrDeviceMismatch = ErrTokenInvalid.child(2006, http.StatusOK, "device mismatch")
)

// BadRequest returns an ErrBadRequest variant with a specific message.
func BadRequest(msg string) *Error {
	return ErrBadRequest.child(ErrBadRequest.Code, ErrBadRequest.HTTPStatus, msg)
}

// From resolves err to a domain error. Anything outside the taxonomy is
// reported as ErrInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

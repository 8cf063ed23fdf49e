package auth

import (
	"errors"
	"net/http"
	"time"
)

// ErrorKind is the closed set of failures the auth core reports to callers.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindInvalidToken
	KindRateLimited
	KindValidationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountLocked:
		return "account_locked"
	case KindInvalidToken:
		return "invalid_token"
	case KindRateLimited:
		return "rate_limited"
	case KindValidationFailed:
		return "validation_failed"
	default:
		return "internal"
	}
}

// Error carries a Kind plus the data the HTTP layer needs. Err holds the
// internal cause and is never shown to clients.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Fields     map[string]string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage is the only text about the failure that leaves the server.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindInvalidCredentials:
		return "invalid email or password"
	case KindAccountLocked:
		return "account temporarily locked"
	case KindInvalidToken:
		return "invalid or expired token"
	case KindRateLimited:
		return "too many requests"
	case KindValidationFailed:
		return "validation failed"
	default:
		return "internal server error"
	}
}

// KindOf returns the kind of err, or KindInternal for anything that is not
// an *Error.
func KindOf(err error) ErrorKind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

func statusFor(kind ErrorKind) int {
	switch kind {
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindAccountLocked:
		return http.StatusLocked
	case KindInvalidToken:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrCredentialNotFound = errors.New("credential not found")

	errInvalidCredentials = &Error{Kind: KindInvalidCredentials}
)

func invalidToken(cause error) *Error {
	return &Error{Kind: KindInvalidToken, Err: cause}
}

func accountLocked(retryAfter time.Duration) *Error {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &Error{Kind: KindAccountLocked, RetryAfter: retryAfter}
}

func validationFailed(fields map[string]string) *Error {
	return &Error{Kind: KindValidationFailed, Fields: fields}
}

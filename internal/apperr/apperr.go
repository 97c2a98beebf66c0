// Package apperr defines the closed set of failure kinds that cross service
// boundaries. Handlers switch on the Kind, never on message text.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	InvalidCredentials
	Unauthorized
	InvalidToken
	UsedToken
	Conflict
	InvalidProvider
	ProviderExchangeFailed
	ProviderLookupFailed
	UploadFailed
	NotFound
	ValidationFailed
	Forbidden
)

var kindInfo = map[Kind]struct {
	code   string
	status int
}{
	Internal:               {"INTERNAL_ERROR", http.StatusInternalServerError},
	InvalidCredentials:     {"INVALID_CREDENTIALS", http.StatusUnauthorized},
	Unauthorized:           {"UNAUTHORIZED", http.StatusUnauthorized},
	InvalidToken:           {"INVALID_TOKEN", http.StatusUnauthorized},
	UsedToken:              {"TOKEN_USED", http.StatusNotFound},
	Conflict:               {"CONFLICT", http.StatusConflict},
	InvalidProvider:        {"INVALID_PROVIDER", http.StatusForbidden},
	ProviderExchangeFailed: {"PROVIDER_EXCHANGE_FAILED", http.StatusBadRequest},
	ProviderLookupFailed:   {"PROVIDER_LOOKUP_FAILED", http.StatusBadRequest},
	UploadFailed:           {"UPLOAD_FAILED", http.StatusBadGateway},
	NotFound:               {"NOT_FOUND", http.StatusNotFound},
	ValidationFailed:       {"INVALID_REQUEST", http.StatusBadRequest},
	Forbidden:              {"FORBIDDEN", http.StatusForbidden},
}

// Code is the stable machine-readable identifier written to error bodies.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return kindInfo[Internal].code
}

func (k Kind) HTTPStatus() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string {
	return k.Code()
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, apperr.E(apperr.UsedToken)) works
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// E returns a bare sentinel for kind, for use with errors.Is.
func E(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

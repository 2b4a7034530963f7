package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// UpstreamStatus carries the status code returned by a remote source, when any.
	UpstreamStatus int   `json:"upstream_status,omitempty"`
	Err            error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "resource conflict")
	ErrTooLarge     = New("PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, "payload too large")

	ErrFormatUnrecognized = New("FORMAT_UNRECOGNIZED", http.StatusUnprocessableEntity, "timetable payload format not recognized")
	ErrFetchTimeout       = New("FETCH_TIMEOUT", http.StatusGatewayTimeout, "remote fetch timed out")
	ErrFetchHTTP          = New("FETCH_HTTP_ERROR", http.StatusBadGateway, "remote source returned an error status")
	ErrFetchNetwork       = New("FETCH_NETWORK_ERROR", http.StatusBadGateway, "remote source unreachable")
	ErrSnapshotRead       = New("SNAPSHOT_READ_ERROR", http.StatusInternalServerError, "persistent snapshot unreadable")
	ErrRemoteWrite        = New("REMOTE_WRITE_ERROR", http.StatusBadGateway, "remote store write failed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// FetchHTTPError builds a FETCH_HTTP_ERROR carrying the upstream status code.
func FetchHTTPError(status int) *Error {
	e := Clone(ErrFetchHTTP, fmt.Sprintf("remote source returned status %d", status))
	e.UpstreamStatus = status
	return e
}

// UpstreamStatus extracts the remote status code from err, if one was recorded.
func UpstreamStatus(err error) (int, bool) {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return 0, false
		}
		if e.UpstreamStatus > 0 {
			return e.UpstreamStatus, true
		}
		err = e.Err
	}
	return 0, false
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code string) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

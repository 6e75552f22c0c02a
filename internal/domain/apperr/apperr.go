package apperr

import (
	"errors"
	"net/http"
)

// Error is a classified failure carried from any layer to the HTTP
// boundary. The set of codes is closed: handlers match on Code to pick a
// response status, so new codes must be added here, not inline.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

const (
	CodeBadRequest         = "bad_request"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidCredentials = "invalid_credentials"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeValidationFailed   = "validation_failed"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_server_error"
)

func BadRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

func InvalidCredentials(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeInvalidCredentials, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: CodeForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Status: http.StatusConflict, Code: CodeConflict, Message: message}
}

func ValidationFailed(message string) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Code: CodeValidationFailed, Message: message}
}

func ServiceUnavailable(message string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message}
}

func Internal(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message}
}

// As unwraps err into an *Error, or nil if err is not classified.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err is a classified error with the given code.
func IsCode(err error, code string) bool {
	appErr := As(err)
	return appErr != nil && appErr.Code == code
}

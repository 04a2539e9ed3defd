package methods

import (
	"fmt"
	"net/http"
)

// Machine-readable error codes clients can branch on.
const (
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeDatabaseUnavailable = "DATABASE_UNAVAILABLE"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
)

// APIError is the error shape serialized to clients. Internal errors never
// reach it verbatim: they are logged in full and collapsed to a constant
// message so schema and infrastructure details stay private.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) httpStatus() int {
	switch e.Code {
	case CodeInvalidParameter:
		return http.StatusBadRequest
	case CodeDatabaseUnavailable:
		return http.StatusServiceUnavailable
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var (
	errDatabase = &APIError{
		Code:    CodeDatabaseError,
		Message: "An internal database error occurred",
	}
	errDatabaseUnavailable = &APIError{
		Code:    CodeDatabaseUnavailable,
		Message: "Database unavailable",
	}
)

func invalidParam(format string, args ...any) *APIError {
	return &APIError{Code: CodeInvalidParameter, Message: fmt.Sprintf(format, args...)}
}

func tooManyRequests(message string) *APIError {
	return &APIError{Code: CodeTooManyRequests, Message: message}
}

package apierr

import (
	"fmt"
	"net/http"
)

// Error is the error shape service code hands to the HTTP layer: an HTTP
// status, a stable machine-readable code for clients, and the underlying
// cause for logs. Anything that is not an *Error surfaces as a 500.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("api error (%d)", e.Status)
	default:
		return "api error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// BadRequest is the common validation-failure constructor.
func BadRequest(code string, err error) *Error {
	return New(http.StatusBadRequest, code, err)
}

// NotFound covers user-scoped lookups that found nothing, deliberately
// indistinguishable from a row that does not exist at all.
func NotFound(code string, err error) *Error {
	return New(http.StatusNotFound, code, err)
}

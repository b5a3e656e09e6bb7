package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the shared shape for all application error categories. Code is a
// stable machine-readable string surfaced in API responses; Status is the
// HTTP-equivalent used by the transport layer.
type Error struct {
	Code   string
	Status int
	msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatusCode satisfies the httpx.HTTPStatusCoder contract.
func (e *Error) HTTPStatusCode() int { return e.Status }

func newError(code string, status int, msg string, cause error) *Error {
	return &Error{Code: code, Status: status, msg: msg, cause: cause}
}

// Validation reports malformed input. Surfaced immediately, never retried.
func Validation(format string, args ...interface{}) *Error {
	return newError("validation_error", http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// Conflict reports a concurrent-state violation (duplicate chunk index,
// reprocess while an active job exists). The caller must resolve before retrying.
func Conflict(format string, args ...interface{}) *Error {
	return newError("conflict_error", http.StatusConflict, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a reference to a missing document/version/chunk/job.
func NotFound(format string, args ...interface{}) *Error {
	return newError("not_found", http.StatusNotFound, fmt.Sprintf(format, args...), nil)
}

// External wraps an embedding-function or blob-store failure. Job workers
// record it as the job's error_message and mark the job failed.
func External(msg string, cause error) *Error {
	return newError("external_dependency_error", http.StatusBadGateway, msg, cause)
}

// Timeout reports work stuck past its deadline. Remediation (cancel+requeue)
// is an operator action.
func Timeout(format string, args ...interface{}) *Error {
	return newError("timeout_error", http.StatusGatewayTimeout, fmt.Sprintf(format, args...), nil)
}

func code(err error, want string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == want
}

func IsValidation(err error) bool { return code(err, "validation_error") }
func IsConflict(err error) bool   { return code(err, "conflict_error") }
func IsNotFound(err error) bool   { return code(err, "not_found") }
func IsExternal(err error) bool   { return code(err, "external_dependency_error") }
func IsTimeout(err error) bool    { return code(err, "timeout_error") }

// StatusAndCode maps any error to a transport status and code, defaulting to
// an opaque 500 for errors outside the taxonomy.
func StatusAndCode(err error) (int, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Status, e.Code
	}
	return http.StatusInternalServerError, "internal_error"
}

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
	Err     error  `json:"-"`
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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Identity resolution failures.
var (
	ErrUnauthenticated    = New("UNAUTHENTICATED", http.StatusUnauthorized, "access token required")
	ErrInvalidCredential  = New("INVALID_CREDENTIAL", http.StatusUnauthorized, "invalid token")
	ErrCredentialExpired  = New("CREDENTIAL_EXPIRED", http.StatusUnauthorized, "token expired")
	ErrUnknownIdentity    = New("UNKNOWN_IDENTITY", http.StatusUnauthorized, "invalid token - user not found")
	ErrAccountDeactivated = New("ACCOUNT_DEACTIVATED", http.StatusUnauthorized, "account is deactivated")
	ErrInvalidLogin       = New("INVALID_LOGIN", http.StatusUnauthorized, "invalid email or password")
)

// Authorization failures.
var (
	ErrInsufficientRole = New("INSUFFICIENT_ROLE", http.StatusForbidden, "insufficient permissions")
	ErrAccessDenied     = New("ACCESS_DENIED", http.StatusForbidden, "access denied")
)

// Business-rule violations.
var (
	ErrInvalidStudent  = New("INVALID_STUDENT", http.StatusBadRequest, "invalid student")
	ErrInvalidCourse   = New("INVALID_COURSE", http.StatusBadRequest, "invalid course")
	ErrCourseFull      = New("COURSE_FULL", http.StatusBadRequest, "course is full")
	ErrEnrollmentEnded = New("ENROLLMENT_ENDED", http.StatusBadRequest, "course enrollment has ended")
	ErrAlreadyEnrolled = New("ALREADY_ENROLLED", http.StatusConflict, "student is already enrolled in this course")
	ErrNotActive       = New("NOT_ACTIVE", http.StatusBadRequest, "enrollment is not active")
	ErrGradeOutOfRange = New("GRADE_OUT_OF_RANGE", http.StatusBadRequest, "final grade must be between 0 and 100")
	ErrLastAdmin       = New("LAST_ADMIN", http.StatusConflict, "at least one active admin is required")
	ErrCourseNotEmpty  = New("COURSE_NOT_EMPTY", http.StatusConflict, "course still has enrolled students")
)

// Generic errors.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrEnrollmentNotFound = New("ENROLLMENT_NOT_FOUND", http.StatusNotFound, "enrollment not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error. Unknown errors map to a
// generic 500 so persistence failures never leak internal detail.
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

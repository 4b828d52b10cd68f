// Package apperr provides the structured error vocabulary shared by every
// orchestrator and the HTTP surface. It follows the same shape as the
// teacher framework's core.FrameworkError / core.ToolError: sentinel errors
// for errors.Is comparisons, plus a wrapping type that carries a machine
// readable Code for the HTTP envelope.
package apperr

import (
	"errors"
	"fmt"
)

// Code is the machine-readable error identifier used in the wire envelope
// and exhaustively enumerated in spec §6.
type Code string

const (
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodeProjectNotFound   Code = "PROJECT_NOT_FOUND"
	CodeCommitNotFound    Code = "COMMIT_NOT_FOUND"
	CodeBaselineNotSet    Code = "BASELINE_NOT_SET"
	CodeUpstreamTimeout   Code = "OPENAI_TIMEOUT"
	CodeUpstreamError     Code = "OPENAI_UPSTREAM_ERROR"
	CodeSafetyRejection   Code = "OPENAI_SAFETY_REJECTION"
	CodeStorageWriteFail  Code = "STORAGE_WRITE_FAILED"
	CodeComparePipeline   Code = "COMPARE_PIPELINE_FAILED"
	CodeEvalRunFailed     Code = "EVAL_RUN_FAILED"
)

// Sentinel errors for errors.Is() comparisons across package boundaries.
var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrCommitNotFound   = errors.New("commit not found")
	ErrBaselineNotSet   = errors.New("baseline not set")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSafetyRejection  = errors.New("upstream safety rejection")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrUpstreamError    = errors.New("upstream error")
	ErrMalformedOutput  = errors.New("malformed upstream output")
	ErrStorageWriteFail = errors.New("storage write failed")
)

// Error wraps a sentinel (or arbitrary) error with the Code used to select
// an HTTP status and the operation that failed, mirroring the teacher's
// FrameworkError.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap enables errors.Is/As against the wrapped sentinel.
func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for the given code and operation.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Newf constructs an *Error with a formatted message and no wrapped error.
func Newf(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code carried by err, or maps a wrapped sentinel to its
// Code. It returns ("", false) when err carries neither.
func CodeOf(err error) (Code, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	switch {
	case errors.Is(err, ErrProjectNotFound):
		return CodeProjectNotFound, true
	case errors.Is(err, ErrCommitNotFound):
		return CodeCommitNotFound, true
	case errors.Is(err, ErrBaselineNotSet):
		return CodeBaselineNotSet, true
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, true
	case errors.Is(err, ErrSafetyRejection):
		return CodeSafetyRejection, true
	case errors.Is(err, ErrUpstreamTimeout):
		return CodeUpstreamTimeout, true
	case errors.Is(err, ErrUpstreamError):
		return CodeUpstreamError, true
	case errors.Is(err, ErrStorageWriteFail):
		return CodeStorageWriteFail, true
	}
	return "", false
}

// IsRetryable reports whether err wraps ErrUpstreamTimeout or
// ErrMalformedOutput. The adapter retry layer (internal/adapters/retry)
// does not call it; it retries only errors marked with retry.Wrap.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrMalformedOutput)
}

package cdpcontrol

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

const (
	CodeValidation        = "VALIDATION"
	CodePageNotFound      = "PAGE_NOT_FOUND"
	CodeSurfaceNotFound   = "SURFACE_NOT_FOUND"
	CodeAPIUnavailable    = "API_UNAVAILABLE"
	CodeEvalFailure       = "EVAL_FAILURE"
	CodeEvalTimeout       = "EVAL_TIMEOUT"
	CodeCDPUnavailable    = "CDP_UNAVAILABLE"
	CodeContainerDetached = "CONTAINER_DETACHED"
	CodeSnapshotNotFound  = "SNAPSHOT_NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for callers outside the package.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}

// HasCode reports whether err wraps a CodedError with the given code.
func HasCode(err error, code string) bool {
	var coded *CodedError
	return errors.As(err, &coded) && coded.Code == code
}

// fromEnvelope converts a failed script envelope into a CodedError. A
// missing container wraps chart.ErrContainerNotAttached.
func fromEnvelope(env evalEnvelope) error {
	code := env.ErrorCode
	if code == "" {
		code = CodeEvalFailure
	}
	var cause error
	if code == CodeContainerDetached {
		cause = chart.ErrContainerNotAttached
	}
	return newError(code, env.ErrorMessage, cause)
}

// PageInfo describes the browser tab hosting the chart.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

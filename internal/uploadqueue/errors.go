package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/agentworkforce/themesync/internal/assetapi"
)

var (
	ErrSuperseded     = errors.New("superseded by a newer write")
	ErrAborted        = errors.New("sync aborted")
	ErrStopped        = errors.New("queue stopped")
	ErrClosed         = errors.New("queue closed")
	ErrMissingThemeID = errors.New("missing theme id")

	ErrRateLimited      = errors.New("rate limited")
	ErrTransientNetwork = errors.New("transient network failure")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnprocessable    = errors.New("unprocessable content")
	ErrUnknownFailure   = errors.New("remote write failed")
)

// Class is the retry classification of a remote write failure.
type Class int

const (
	ClassUnknown Class = iota
	ClassRateLimited
	ClassTransientNetwork
	ClassUnauthorized
	ClassInvalidRequest
	ClassUnprocessable
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransientNetwork:
		return "transient_network"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassInvalidRequest:
		return "invalid_request"
	case ClassUnprocessable:
		return "unprocessable"
	default:
		return "unknown"
	}
}

// Retryable reports whether the runner re-enqueues a task failing with c.
func (c Class) Retryable() bool {
	return c == ClassRateLimited || c == ClassTransientNetwork
}

func (c Class) sentinel() error {
	switch c {
	case ClassRateLimited:
		return ErrRateLimited
	case ClassTransientNetwork:
		return ErrTransientNetwork
	case ClassUnauthorized:
		return ErrUnauthorized
	case ClassInvalidRequest:
		return ErrInvalidRequest
	case ClassUnprocessable:
		return ErrUnprocessable
	default:
		return ErrUnknownFailure
	}
}

// Classify maps a remote client error to its retry class. Server errors
// (5xx) are terminal: only rate limiting and transport failures retry.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var httpErr *assetapi.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimited
		case httpErr.StatusCode == http.StatusUnauthorized:
			return ClassUnauthorized
		case httpErr.StatusCode == http.StatusForbidden, httpErr.StatusCode == http.StatusNotAcceptable:
			return ClassInvalidRequest
		case httpErr.StatusCode == http.StatusUnprocessableEntity:
			return ClassUnprocessable
		default:
			return ClassUnknown
		}
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransientNetwork
	}
	normalized := strings.ToLower(err.Error())
	if strings.Contains(normalized, "connection reset") || strings.Contains(normalized, "timed out") {
		return ClassTransientNetwork
	}
	return ClassUnknown
}

// TaskError is the terminal failure delivered to a task's completion.
// It matches both its class sentinel and the underlying remote error.
type TaskError struct {
	TaskID   string
	Key      string
	Action   Action
	Class    Class
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Action, e.Key, e.Class, e.Err)
}

func (e *TaskError) Unwrap() []error {
	return []error{e.Class.sentinel(), e.Err}
}

// DrainError collects the terminal failures seen during one drain cycle.
type DrainError struct {
	Failures []*TaskError
}

func (e *DrainError) Error() string {
	if len(e.Failures) == 1 {
		return "1 task failed: " + e.Failures[0].Error()
	}
	return fmt.Sprintf("%d tasks failed, first: %v", len(e.Failures), e.Failures[0])
}

func (e *DrainError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		out = append(out, failure)
	}
	return out
}

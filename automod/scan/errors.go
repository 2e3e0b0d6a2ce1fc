package scan

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Referenced media item does not exist. Not retriable.
var ErrMediaNotFound = errors.New("media not found")

// Malformed submission. Not retriable.
type ValidationError struct {
	Message string
	// field path to human-readable problem
	Fields map[string]string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Backing store (or other authoritative dependency) was unavailable. Safe to retry the whole submission.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Whether the caller may safely re-deliver the same submission. Everything except invalid payloads and missing media is considered retry-safe.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) || errors.Is(err, ErrMediaNotFound) {
		return false
	}
	return true
}

// Maps an engine error to the HTTP status a webhook handler should respond with.
func HTTPStatus(err error) int {
	var te *TransientError
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrMediaNotFound):
		return http.StatusNotFound
	case errors.As(err, &te):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

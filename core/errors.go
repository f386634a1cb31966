package core

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is a sentinel error for "not found" cases
var ErrNotFound = errors.New("not found")

// Stable error codes surfaced in sync progress messages and command replies.
const (
	CodeSyncEnqueueFailed    = "SYNC_ENQUEUE_FAILED"
	CodeMessageSaveFailed    = "MESSAGE_SAVE_FAILED"
	CodeWindowSaveFailed     = "WINDOW_SAVE_FAILED"
	CodeWindowFetchFailed    = "WINDOW_FETCH_FAILED"
	CodeChatFailed           = "CHAT_FAILED"
	CodeSyncCursorReadFailed = "SYNC_CURSOR_READ_FAILED"
)

// CodedError wraps an error with a short stable code and an optional detail bag.
type CodedError struct {
	Code    string
	Err     error
	Details map[string]any
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// NewCodedError creates a CodedError with the given code wrapping err.
func NewCodedError(code string, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

// ErrorCode extracts the stable code from an error chain, or "" if none.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsNotFoundError checks if an error is a "not found" error
// This function handles both the ErrNotFound sentinel error and legacy string-based errors
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return containsNotFound(err.Error())
}

// containsNotFound checks if an error message contains "not found"
func containsNotFound(errMsg string) bool {
	return len(errMsg) > 0 && (regexp.MustCompile(`(?i)not found`).MatchString(errMsg))
}

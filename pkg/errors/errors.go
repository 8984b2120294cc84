package pawchat_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotConnected      = errors.New("not connected")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrClosed            = errors.New("connection closed")
	ErrRemote            = errors.New("remote invocation failed")
	ErrRateLimited       = errors.New("rate limited")
)

// RemoteError carries the message of a failed completion frame.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no reply arrives before a call's deadline.
	// Only that call is affected.
	ErrTimeout = errors.New("call timed out")
	// ErrConnectionLost is returned for calls pending when the connection
	// ended, and immediately for any call made afterwards.
	ErrConnectionLost = errors.New("connection lost")
	// ErrEngineClosed is the disconnect reason after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrEmptyFilter is returned by Subscribe when no filter is given.
	ErrEmptyFilter = errors.New("subscription filter is required")
)

// RemoteError is the browser's rejection of a call, surfaced verbatim.
type RemoteError struct {
	Method  string
	Code    int64
	Message string
	Data    []byte
}

func (e *RemoteError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s: remote error %d: %s (%s)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%s: remote error %d: %s", e.Method, e.Code, e.Message)
}

func connectionLost(reason error) error {
	if reason == nil {
		return ErrConnectionLost
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, reason)
}

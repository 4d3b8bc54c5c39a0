package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPeer          = errors.New("invalid peer id")
	ErrNoPendingSession     = errors.New("no pending session")
	ErrNotConnected         = errors.New("session not connected")
	ErrNotMaster            = errors.New("only the master can start playback")
	ErrNoPlayback           = errors.New("no video playback to sync")
	ErrUnexpectedSignal     = errors.New("unexpected signal type")
	ErrSignalingUnavailable = errors.New("signaling unavailable")
)

// Error carries the failing operation and optional details.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

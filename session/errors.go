package session

import (
	"errors"

	"guru-chat/api"
)

var (
	// ErrUnauthenticated is returned by mutating actions when no user is signed in.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNotFound is the gateway's not-found error, so errors.Is matches either origin.
	ErrNotFound = api.ErrNotFound

	ErrClosed = errors.New("session store closed")
)

// SendError is a failed send. Draft holds the content so the caller can restore it.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return "send message: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

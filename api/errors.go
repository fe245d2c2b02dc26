package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches a 404 response and a successful response without a chat payload.
var ErrNotFound = errors.New("not found")

// Error is a non-2xx response from the chat API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// newError builds an Error from a response body, preferring its message field.
func newError(status int, body errorBody) *Error {
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP error! status: %d", status)
	}
	return &Error{Status: status, Message: msg}
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

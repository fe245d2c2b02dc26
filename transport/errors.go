package transport

import (
	"errors"
	"fmt"
)

// Codes carried by error events the connection raises itself.
const (
	CodeReconnectFailed    = 4001
	CodeReconnectExhausted = 4002
	CodeQueueSaturated     = 4003
)

// ErrReconnectExhausted means every reconnect attempt failed and the client is in
// degraded mode until Connect is called again.
var ErrReconnectExhausted = errors.New("realtime reconnect attempts exhausted")

// errSuperseded is returned by a handshake that finished after a newer attempt started.
var errSuperseded = errors.New("connection attempt superseded")

type ConnectErrorKind int

const (
	Refused ConnectErrorKind = iota
	Timeout
	AlreadyConnecting
)

func (k ConnectErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case AlreadyConnecting:
		return "already connecting"
	default:
		return "refused"
	}
}

type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime connect: %s", e.Kind)
	}
	return fmt.Sprintf("realtime connect: %s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError is a non-fatal realtime fault such as a failed write.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

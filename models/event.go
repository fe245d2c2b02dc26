package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by DecodeFrame for frame types this client does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is an inbound realtime event. The set of implementations is closed.
type Event interface {
	Type() EventType
	isEvent()
}

type MessageEvent struct {
	Data      MessageData
	MessageID string
	Timestamp int64
}

type TypingEvent struct {
	Data      TypingData
	Timestamp int64
}

type ReadReceiptEvent struct {
	Data      ReadReceiptData
	Timestamp int64
}

type ChatUpdateEvent struct {
	Data      ChatUpdateData
	Timestamp int64
}

type ErrorEvent struct {
	Data      ErrorData
	MessageID string
	Timestamp int64
}

// DisconnectEvent is raised locally by the transport, never received from the server.
type DisconnectEvent struct {
	Reason string
	Code   int
}

type PongEvent struct {
	Data PingData
}

func (MessageEvent) Type() EventType     { return EventMessage }
func (TypingEvent) Type() EventType      { return EventTyping }
func (ReadReceiptEvent) Type() EventType { return EventReadReceipt }
func (ChatUpdateEvent) Type() EventType  { return EventChatUpdate }
func (ErrorEvent) Type() EventType       { return EventError }
func (DisconnectEvent) Type() EventType  { return EventDisconnect }
func (PongEvent) Type() EventType        { return EventPong }

func (MessageEvent) isEvent()     {}
func (TypingEvent) isEvent()      {}
func (ReadReceiptEvent) isEvent() {}
func (ChatUpdateEvent) isEvent()  {}
func (ErrorEvent) isEvent()       {}
func (DisconnectEvent) isEvent()  {}
func (PongEvent) isEvent()        {}

// CorrelationID returns the id the sender attached to the outbound frame, if any.
func (e MessageEvent) CorrelationID() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.Data.MessageID
}

// CorrelationID returns the id of the outbound frame the server rejected, if any.
func (e ErrorEvent) CorrelationID() string {
	return e.MessageID
}

// DecodeFrame turns an inbound frame into its typed event.
func DecodeFrame(f Frame) (Event, error) {
	switch f.Type {
	case EventMessage:
		var d MessageData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return MessageEvent{Data: d, MessageID: f.MessageID, Timestamp: f.Timestamp}, nil
	case EventTyping:
		var d TypingData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return TypingEvent{Data: d, Timestamp: f.Timestamp}, nil
	case EventReadReceipt:
		var d ReadReceiptData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return ReadReceiptEvent{Data: d, Timestamp: f.Timestamp}, nil
	case EventChatUpdate:
		var d ChatUpdateData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return ChatUpdateEvent{Data: d, Timestamp: f.Timestamp}, nil
	case EventError:
		var d ErrorData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return ErrorEvent{Data: d, MessageID: f.MessageID, Timestamp: f.Timestamp}, nil
	case EventDisconnect:
		var d ErrorData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return DisconnectEvent{Reason: d.Message, Code: d.Code}, nil
	case EventPong:
		var d PingData
		if err := decode(f, &d); err != nil {
			return nil, err
		}
		return PongEvent{Data: d}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
}

func decode(f Frame, v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", f.Type, err)
	}
	return nil
}

package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"guru-chat/metrics"
	"guru-chat/models"
)

// Handler receives one inbound event. A returned error is logged, never propagated.
type Handler func(models.Event) error

// Subscription identifies one registered handler so it can be removed with Off.
type Subscription struct {
	eventType models.EventType
	id        uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// Router demultiplexes inbound frames into per-type handler lists. It holds no
// reference to the connection feeding it.
type Router struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[models.EventType][]entry
	nextID   uint64
}

func New(logger zerolog.Logger) *Router {
	return &Router{
		logger:   logger.With().Str("component", "router").Logger(),
		handlers: make(map[models.EventType][]entry),
	}
}

// On registers h for events of type t.
func (r *Router) On(t models.EventType, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[t] = append(r.handlers[t], entry{id: r.nextID, handler: h})
	return Subscription{eventType: t, id: r.nextID}
}

// Off removes a handler. Removing twice is a no-op.
func (r *Router) Off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[sub.eventType]
	for i, e := range list {
		if e.id == sub.id {
			r.handlers[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Reset drops every registered handler.
func (r *Router) Reset() {
	r.mu.Lock()
	r.handlers = make(map[models.EventType][]entry)
	r.mu.Unlock()
}

// HandlerCount returns the number of handlers registered for t.
func (r *Router) HandlerCount(t models.EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

// DispatchFrame decodes f and dispatches it. Unknown types and malformed payloads are dropped.
func (r *Router) DispatchFrame(f models.Frame) {
	metrics.FramesReceived.WithLabelValues(string(f.Type)).Inc()

	ev, err := models.DecodeFrame(f)
	if errors.Is(err, models.ErrUnknownEvent) {
		metrics.FramesDropped.WithLabelValues("unknown").Inc()
		r.logger.Debug().Str("type", string(f.Type)).Msg("dropping frame of unknown type")
		return
	}
	if err != nil {
		metrics.FramesDropped.WithLabelValues("parse").Inc()
		r.logger.Warn().Err(err).Str("type", string(f.Type)).Msg("dropping malformed frame")
		return
	}
	r.Dispatch(ev)
}

// Dispatch invokes every handler currently registered for ev's type exactly once.
// A failing handler does not stop the others.
func (r *Router) Dispatch(ev models.Event) {
	r.mu.RLock()
	list := append([]entry(nil), r.handlers[ev.Type()]...)
	r.mu.RUnlock()

	for _, e := range list {
		if err := r.invoke(e.handler, ev); err != nil {
			metrics.HandlerFailures.WithLabelValues(string(ev.Type())).Inc()
			r.logger.Error().Err(err).Str("type", string(ev.Type())).Msg("event handler failed")
		}
	}
}

func (r *Router) invoke(h Handler, ev models.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ev)
}

func subscribe[E models.Event](r *Router, t models.EventType, fn func(E) error) Subscription {
	return r.On(t, func(ev models.Event) error {
		typed, ok := ev.(E)
		if !ok {
			return fmt.Errorf("unexpected %T for %s handler", ev, t)
		}
		return fn(typed)
	})
}

func (r *Router) OnMessage(fn func(models.MessageEvent) error) Subscription {
	return subscribe(r, models.EventMessage, fn)
}

func (r *Router) OnTyping(fn func(models.TypingEvent) error) Subscription {
	return subscribe(r, models.EventTyping, fn)
}

func (r *Router) OnReadReceipt(fn func(models.ReadReceiptEvent) error) Subscription {
	return subscribe(r, models.EventReadReceipt, fn)
}

func (r *Router) OnChatUpdate(fn func(models.ChatUpdateEvent) error) Subscription {
	return subscribe(r, models.EventChatUpdate, fn)
}

func (r *Router) OnError(fn func(models.ErrorEvent) error) Subscription {
	return subscribe(r, models.EventError, fn)
}

func (r *Router) OnDisconnect(fn func(models.DisconnectEvent) error) Subscription {
	return subscribe(r, models.EventDisconnect, fn)
}

func (r *Router) OnPong(fn func(models.PongEvent) error) Subscription {
	return subscribe(r, models.EventPong, fn)
}

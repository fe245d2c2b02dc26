package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"guru-chat/metrics"
	"guru-chat/models"
	"guru-chat/router"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config controls the connection lifecycle.
type Config struct {
	URL                  string
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	QueueSoftLimit       int
	WriteTimeout         time.Duration
}

func (c *Config) defaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.QueueSoftLimit == 0 {
		c.QueueSoftLimit = 500
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Connection owns the single realtime socket, its heartbeat, the reconnect loop and
// the outbound queue. Inbound frames are handed to the router.
type Connection struct {
	cfg    Config
	router *router.Router
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	token        string
	queue        Queue
	life         context.Context
	cancelLife   context.CancelFunc
	attempt      uint64
	reconnecting bool
	degraded     bool
	saturated    bool
	onOpen       []func()
}

func New(cfg Config, rt *router.Router, logger zerolog.Logger) *Connection {
	cfg.defaults()
	return &Connection{
		cfg:    cfg,
		router: rt,
		logger: logger.With().Str("component", "transport").Logger(),
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}
}

// Connect opens the socket with token as bearer credentials. It returns immediately if
// a live connection exists and fails with AlreadyConnecting while another attempt is
// in flight.
func (c *Connection) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return &ConnectError{Kind: AlreadyConnecting}
	}
	c.setStateLocked(Connecting)
	c.token = token
	if c.life == nil || c.life.Err() != nil {
		c.life, c.cancelLife = context.WithCancel(context.Background())
	}
	c.attempt++
	life, attempt := c.life, c.attempt
	c.mu.Unlock()

	return c.dial(ctx, life, attempt, token)
}

// dial performs one handshake. Only the most recent attempt may change the connection
// state or install its socket.
func (c *Connection) dial(ctx context.Context, life context.Context, attempt uint64, token string) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Info().Str("url", c.cfg.URL).Msg("connecting")
	ws, _, err := c.dialer.DialContext(dctx, c.cfg.URL, header)
	if err != nil {
		c.mu.Lock()
		if c.attempt == attempt && c.state == Connecting {
			c.setStateLocked(Disconnected)
		}
		c.mu.Unlock()

		kind := Refused
		if isTimeout(err) || (errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil) {
			kind = Timeout
		}
		return &ConnectError{Kind: kind, Err: err}
	}

	c.mu.Lock()
	if life.Err() != nil {
		// Disconnect ran while the handshake was in flight.
		c.mu.Unlock()
		_ = ws.Close()
		return &ConnectError{Kind: Refused, Err: errors.New("disconnected during handshake")}
	}
	if c.attempt != attempt || c.conn != nil {
		c.mu.Unlock()
		_ = ws.Close()
		return &ConnectError{Kind: Refused, Err: errSuperseded}
	}
	c.conn = ws
	c.setStateLocked(Connected)
	c.degraded = false

	oldest := c.queue.OldestAge()
	flushed, flushErr := c.queue.Drain(func(f models.Frame) error {
		return c.writeLocked(ws, f)
	})
	c.updateQueueLocked()
	lost := false
	var stuck Entry
	if flushErr != nil {
		stuck, _ = c.queue.Head()
		lost = c.lostLocked(ws)
	}
	hooks := append([]func(){}, c.onOpen...)
	c.mu.Unlock()

	if flushErr != nil {
		c.logger.Warn().Err(flushErr).
			Int("flushed", flushed).
			Str("entry_id", stuck.ID.String()).
			Dur("oldest_wait", oldest).
			Msg("queue flush failed")
		if lost {
			c.afterLost(life, flushErr)
		}
		return &ConnectError{Kind: Refused, Err: flushErr}
	}

	c.logger.Info().Int("flushed", flushed).Dur("oldest_wait", oldest).Msg("connected")

	go c.readLoop(life, ws)
	go c.heartbeat(life, ws)

	for _, h := range hooks {
		h()
	}
	return nil
}

// Disconnect closes the socket, stops the heartbeat and reconnect loops, drops queued
// frames and unregisters every router handler. It is safe to call repeatedly.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.cancelLife != nil {
		c.cancelLife()
	}
	ws := c.conn
	c.conn = nil
	c.setStateLocked(Disconnected)
	dropped := c.queue.Clear()
	c.updateQueueLocked()
	c.saturated = false
	c.onOpen = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		c.logger.Info().Int("dropped", dropped).Msg("disconnected")
	}
	c.router.Reset()
}

// Send writes f now when connected and queues it otherwise. It reports whether the
// frame was queued. A failed write queues the frame and drops the socket, which starts
// the reconnect loop.
func (c *Connection) Send(f models.Frame) bool {
	c.mu.Lock()
	if c.state == Connected && c.conn != nil {
		ws := c.conn
		err := c.writeLocked(ws, f)
		if err == nil {
			c.mu.Unlock()
			return false
		}
		id, _ := c.enqueueLocked(f)
		lost := c.lostLocked(ws)
		life := c.life
		c.mu.Unlock()

		c.logger.Warn().Err(err).
			Str("type", string(f.Type)).
			Str("entry_id", id.String()).
			Msg("write failed, frame queued")
		if lost {
			c.afterLost(life, &TransportError{Op: "write", Err: err})
		}
		return true
	}

	id, crossed := c.enqueueLocked(f)
	depth := c.queue.Len()
	oldest := c.queue.OldestAge()
	c.mu.Unlock()

	c.logger.Debug().
		Str("type", string(f.Type)).
		Str("entry_id", id.String()).
		Int("depth", depth).
		Dur("oldest_wait", oldest).
		Msg("frame queued")
	if crossed {
		c.logger.Warn().Int("depth", depth).Int("soft_limit", c.cfg.QueueSoftLimit).Msg("outbound queue above soft limit")
		c.router.Dispatch(models.ErrorEvent{Data: models.ErrorData{
			Message: fmt.Sprintf("%d messages waiting for connection", depth),
			Code:    CodeQueueSaturated,
		}})
	}
	return true
}

// OnOpen registers fn to run after every successful connect, once the queue is flushed.
func (c *Connection) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = append(c.onOpen, fn)
	c.mu.Unlock()
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) IsConnected() bool {
	return c.State() == Connected
}

func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// OldestQueuedAge reports how long the oldest queued frame has been waiting.
func (c *Connection) OldestQueuedAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.OldestAge()
}

// DiscardQueued removes every queued frame of type t and returns them oldest first.
func (c *Connection) DiscardQueued(t models.EventType) []models.Frame {
	c.mu.Lock()
	removed := c.queue.Remove(func(f models.Frame) bool { return f.Type == t })
	c.updateQueueLocked()
	c.mu.Unlock()

	frames := make([]models.Frame, 0, len(removed))
	for _, e := range removed {
		c.logger.Info().
			Str("type", string(t)).
			Str("entry_id", e.ID.String()).
			Dur("waited", time.Since(e.EnqueuedAt)).
			Msg("discarding queued frame")
		frames = append(frames, e.Frame)
	}
	return frames
}

// Degraded reports whether reconnection gave up or the queue is above its soft limit.
func (c *Connection) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded || c.saturated
}

func (c *Connection) readLoop(life context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			lost := c.lostLocked(ws)
			c.mu.Unlock()
			if lost {
				c.afterLost(life, err)
			}
			return
		}
		if life.Err() != nil {
			return
		}

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.FramesDropped.WithLabelValues("parse").Inc()
			c.logger.Warn().Err(err).Msg("invalid frame")
			continue
		}
		c.router.DispatchFrame(f)
	}
}

func (c *Connection) heartbeat(life context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-life.Done():
			return
		case <-ticker.C:
		}

		f, err := models.NewFrame(models.EventPing, models.PingData{Timestamp: time.Now().UnixMilli()}, "")
		if err != nil {
			continue
		}

		c.mu.Lock()
		if c.conn != ws {
			c.mu.Unlock()
			return
		}
		err = c.writeLocked(ws, f)
		c.mu.Unlock()

		if err != nil {
			// The read loop notices the dead socket and takes over.
			c.logger.Warn().Err(err).Msg("heartbeat failed")
		}
	}
}

func (c *Connection) reconnect(life context.Context) {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	token := c.token
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempts := c.cfg.MaxReconnectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		delay := c.cfg.ReconnectBaseDelay * time.Duration(attempt)
		c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")

		select {
		case <-life.Done():
			return
		case <-time.After(delay):
		}

		err := c.Connect(life, token)
		if err == nil {
			metrics.ReconnectAttempts.WithLabelValues("success").Inc()
			return
		}
		if life.Err() != nil {
			return
		}
		var ce *ConnectError
		if errors.As(err, &ce) && ce.Kind == AlreadyConnecting {
			return
		}

		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		c.router.Dispatch(models.ErrorEvent{Data: models.ErrorData{
			Message: fmt.Sprintf("reconnect attempt %d/%d failed: %v", attempt, attempts, err),
			Code:    CodeReconnectFailed,
		}})
	}

	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()

	metrics.ReconnectAttempts.WithLabelValues("exhausted").Inc()
	c.logger.Error().Int("attempts", attempts).Msg("giving up on realtime connection")
	c.router.Dispatch(models.ErrorEvent{Data: models.ErrorData{
		Message: ErrReconnectExhausted.Error(),
		Code:    CodeReconnectExhausted,
	}})
}

// lostLocked detaches ws if it is still the live socket. Only the first caller for a
// given socket gets true and is responsible for afterLost.
func (c *Connection) lostLocked(ws *websocket.Conn) bool {
	if c.conn != ws || ws == nil {
		return false
	}
	c.conn = nil
	c.setStateLocked(Disconnected)
	_ = ws.Close()
	return true
}

func (c *Connection) afterLost(life context.Context, cause error) {
	if life.Err() != nil {
		return
	}
	code := 0
	var ce *websocket.CloseError
	if errors.As(cause, &ce) {
		code = ce.Code
	}
	c.logger.Warn().Err(cause).Int("code", code).Msg("connection lost")
	c.router.Dispatch(models.DisconnectEvent{Reason: cause.Error(), Code: code})
	go c.reconnect(life)
}

func (c *Connection) writeLocked(ws *websocket.Conn, f models.Frame) error {
	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := ws.WriteJSON(f); err != nil {
		return err
	}
	metrics.FramesSent.WithLabelValues(string(f.Type)).Inc()
	return nil
}

// enqueueLocked returns the entry id and reports true when this push takes the queue
// over its soft limit.
func (c *Connection) enqueueLocked(f models.Frame) (ulid.ULID, bool) {
	id := c.queue.Push(f)
	c.updateQueueLocked()
	if c.queue.Len() > c.cfg.QueueSoftLimit && !c.saturated {
		c.saturated = true
		return id, true
	}
	return id, false
}

func (c *Connection) updateQueueLocked() {
	metrics.OutboundQueueDepth.Set(float64(c.queue.Len()))
	if c.queue.Len() <= c.cfg.QueueSoftLimit {
		c.saturated = false
	}
}

func (c *Connection) setStateLocked(s State) {
	c.state = s
	metrics.ConnectionState.Set(float64(s))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guru-chat/adapters"
	"guru-chat/metrics"
	"guru-chat/models"
	"guru-chat/router"
	"guru-chat/session"
	"guru-chat/transport"
)

// Transport is the realtime side of delivery.
type Transport interface {
	IsConnected() bool
	OnOpen(fn func())
	SendMessage(data models.MessageData) (bool, error)
	SendTyping(data models.TypingData) (bool, error)
	SendReadReceipt(data models.ReadReceiptData) (bool, error)
	JoinChat(chatID string) (bool, error)
	LeaveChat(chatID string) (bool, error)
	DiscardQueued(t models.EventType) []models.Frame
}

// Gateway is the REST fallback.
type Gateway interface {
	SendMessage(ctx context.Context, chatID, content, agentID string) (models.Message, error)
	MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error
	PollMessages(ctx context.Context, chatID, lastMessageID string) ([]models.Message, error)
}

// Store is what the reconciler writes inbound state into.
type Store interface {
	ApplyMessage(msg models.Message) bool
	ApplyPolled(chatID string, msgs []models.Message) int
	SetTyping(chatID string, typing bool) bool
	ApplyReadReceipt(chatID string, messageIDs []string) int
	ApplyChatUpdate(chatID string, u models.ChatUpdates) bool
	SetError(err error)
	FailProvisional(correlationID string, err error) bool
	CurrentChatID() string
	Current() (models.ChatSession, bool)
}

type Config struct {
	TypingTimeout time.Duration
	PollInterval  time.Duration
	PollFallback  bool
}

func (c *Config) defaults() {
	if c.TypingTimeout == 0 {
		c.TypingTimeout = 3 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Reconciler routes outbound traffic to the socket or the REST gateway and folds inbound
// realtime events into the store.
type Reconciler struct {
	conn   Transport
	rest   Gateway
	router *router.Router
	users  session.UserSource
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	store     Store
	subs      []router.Subscription
	typing    map[string]*typingTimer
	outbound  map[string]*outboundTyping
	typingSeq uint64
	stopPoll  context.CancelFunc
	stopped   bool
}

func New(conn Transport, rest Gateway, rt *router.Router, users session.UserSource, cfg Config, logger zerolog.Logger) *Reconciler {
	cfg.defaults()
	return &Reconciler{
		conn:     conn,
		rest:     rest,
		router:   rt,
		users:    users,
		cfg:      cfg,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		typing:   make(map[string]*typingTimer),
		outbound: make(map[string]*outboundTyping),
	}
}

// Start subscribes to inbound events on behalf of store and, when enabled, starts the
// fallback poller.
func (r *Reconciler) Start(store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.store != nil {
		return
	}
	r.store = store
	r.subs = append(r.subs,
		r.router.OnMessage(r.onMessage),
		r.router.OnTyping(r.onTyping),
		r.router.OnReadReceipt(r.onReadReceipt),
		r.router.OnChatUpdate(r.onChatUpdate),
		r.router.OnError(r.onError),
		r.router.OnDisconnect(r.onDisconnect),
	)
	r.conn.OnOpen(r.rejoin)

	if r.cfg.PollFallback {
		ctx, cancel := context.WithCancel(context.Background())
		r.stopPoll = cancel
		go r.RunPoller(ctx)
	}
}

// Stop removes subscriptions, cancels timers and stops the poller. No store writes
// happen after it returns.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	for _, sub := range r.subs {
		r.router.Off(sub)
	}
	r.subs = nil
	for id, t := range r.typing {
		t.timer.Stop()
		delete(r.typing, id)
	}
	for id, o := range r.outbound {
		o.stopTimer()
		delete(r.outbound, id)
	}
	if r.stopPoll != nil {
		r.stopPoll()
	}
	r.store = nil
}

func (r *Reconciler) activeStore() Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	return r.store
}

func (r *Reconciler) userID() string {
	if r.users == nil {
		return ""
	}
	u, ok := r.users.CurrentUser()
	if !ok {
		return ""
	}
	return u.ID
}

// Deliver sends msg over the socket when connected and through REST otherwise. Only the
// REST path returns the confirmed message; the realtime confirmation arrives as an
// inbound message event carrying the same correlation id.
func (r *Reconciler) Deliver(ctx context.Context, msg models.Message) (*models.Message, error) {
	if r.conn.IsConnected() {
		queued, err := r.conn.SendMessage(adapters.OutboundMessage(msg))
		if err != nil {
			return nil, err
		}
		metrics.MessagesSent.WithLabelValues("realtime").Inc()
		if queued {
			r.logger.Debug().Str("chat_id", msg.ChatID).Msg("message queued until reconnect")
		}
		return nil, nil
	}

	confirmed, err := r.rest.SendMessage(ctx, msg.ChatID, msg.Content, msg.AgentID)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues("rest").Inc()
	return &confirmed, nil
}

// JoinRoom joins chatID's room if connected. Rooms are rejoined on every reconnect.
func (r *Reconciler) JoinRoom(chatID string) {
	if !r.conn.IsConnected() {
		return
	}
	if _, err := r.conn.JoinChat(chatID); err != nil {
		r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to join room")
	}
}

// LeaveRoom leaves chatID's room and drops typing state for it.
func (r *Reconciler) LeaveRoom(chatID string) {
	r.mu.Lock()
	if t := r.typing[chatID]; t != nil {
		t.timer.Stop()
		delete(r.typing, chatID)
	}
	if o := r.outbound[chatID]; o != nil {
		o.stopTimer()
		delete(r.outbound, chatID)
	}
	r.mu.Unlock()

	if !r.conn.IsConnected() {
		return
	}
	if _, err := r.conn.LeaveChat(chatID); err != nil {
		r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to leave room")
	}
}

// MarkRead sends a read receipt over the socket when connected and through REST
// otherwise.
func (r *Reconciler) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if r.conn.IsConnected() {
		_, err := r.conn.SendReadReceipt(models.ReadReceiptData{
			ChatID:     chatID,
			MessageIDs: messageIDs,
			UserID:     r.userID(),
		})
		return err
	}
	return r.rest.MarkAsRead(ctx, chatID, messageIDs)
}

func (r *Reconciler) rejoin() {
	store := r.activeStore()
	if store == nil {
		return
	}
	if id := store.CurrentChatID(); id != "" {
		r.logger.Debug().Str("chat_id", id).Msg("rejoining room")
		r.JoinRoom(id)
	}
}

func (r *Reconciler) onMessage(ev models.MessageEvent) error {
	store := r.activeStore()
	if store == nil {
		return nil
	}
	msg, ok := adapters.NormalizeInboundMessage(ev)
	if !ok {
		r.logger.Debug().Str("chat_id", ev.Data.ChatID).Msg("message event without message body")
		return nil
	}
	if msg.Role == models.RoleAssistant {
		r.cancelTyping(msg.ChatID)
	}
	store.ApplyMessage(msg)
	return nil
}

func (r *Reconciler) onReadReceipt(ev models.ReadReceiptEvent) error {
	if store := r.activeStore(); store != nil {
		store.ApplyReadReceipt(ev.Data.ChatID, ev.Data.MessageIDs)
	}
	return nil
}

func (r *Reconciler) onChatUpdate(ev models.ChatUpdateEvent) error {
	store := r.activeStore()
	if store == nil || ev.Data.Updates == nil {
		return nil
	}
	store.ApplyChatUpdate(ev.Data.ChatID, *ev.Data.Updates)
	return nil
}

// onError rolls back the send an error names by correlation id. When reconnecting gives
// up, messages still waiting in the outbound queue are rolled back too.
func (r *Reconciler) onError(ev models.ErrorEvent) error {
	store := r.activeStore()
	if store == nil {
		return nil
	}
	err := eventError(ev)
	if id := ev.CorrelationID(); id != "" && store.FailProvisional(id, err) {
		metrics.MessagesFailed.WithLabelValues("rejected").Inc()
		r.logger.Warn().Err(err).Str("correlation_id", id).Msg("message rejected, returned as draft")
		return nil
	}
	if ev.Data.Code == transport.CodeReconnectExhausted {
		r.failQueuedMessages(store, err)
	}
	store.SetError(err)
	return nil
}

func (r *Reconciler) failQueuedMessages(store Store, err error) {
	for _, f := range r.conn.DiscardQueued(models.EventMessage) {
		if store.FailProvisional(f.MessageID, err) {
			metrics.MessagesFailed.WithLabelValues("undelivered").Inc()
			r.logger.Warn().Str("correlation_id", f.MessageID).Msg("queued message returned as draft")
		}
	}
}

func eventError(ev models.ErrorEvent) error {
	msg := ev.Data.Message
	if msg == "" {
		msg = "realtime error"
	}
	if ev.Data.Code != 0 {
		return fmt.Errorf("%s (code %d)", msg, ev.Data.Code)
	}
	return errors.New(msg)
}

func (r *Reconciler) onDisconnect(ev models.DisconnectEvent) error {
	store := r.activeStore()
	if store == nil {
		return nil
	}
	store.SetError(fmt.Errorf("connection lost, reconnecting: %s", ev.Reason))
	return nil
}

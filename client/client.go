package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"guru-chat/api"
	"guru-chat/config"
	"guru-chat/models"
	"guru-chat/reconciler"
	"guru-chat/router"
	"guru-chat/session"
	"guru-chat/transport"
)

// Auth is the signed-in identity the client is bound to.
type Auth interface {
	Token() string
	CurrentUser() (models.User, bool)
	OnAuthChange(fn func(user models.User, signedIn bool))
}

// Client owns one signed-in session: router, connection, gateway, reconciler and store.
// Init builds them and Teardown disposes of them; nothing from a torn-down session fires
// afterwards.
type Client struct {
	cfg    *config.Config
	auth   Auth
	cache  session.Cache
	logger zerolog.Logger

	mu      sync.Mutex
	userID  string
	router  *router.Router
	conn    *transport.Connection
	rest    *api.Client
	rec     *reconciler.Reconciler
	store   *session.Store
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// New returns an uninitialized client. cache may be nil.
func New(cfg *config.Config, auth Auth, cache session.Cache, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		auth:   auth,
		cache:  cache,
		logger: logger.With().Str("component", "client").Logger(),
	}
}

// Bind follows auth: sign-in initializes the client and sign-out tears it down.
func (c *Client) Bind() {
	c.auth.OnAuthChange(func(user models.User, signedIn bool) {
		if !signedIn {
			c.Teardown()
			return
		}
		if err := c.Init(context.Background()); err != nil {
			c.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to initialize after sign-in")
		}
	})
}

// Init wires a fresh session for the signed-in user and starts connecting in the
// background. A failed connect leaves the client on the REST fallback. Calling Init again
// for the same user is a no-op; a different user replaces the session.
func (c *Client) Init(ctx context.Context) error {
	user, ok := c.auth.CurrentUser()
	if !ok {
		return session.ErrUnauthenticated
	}

	c.mu.Lock()
	if c.store != nil && c.userID != user.ID {
		prev := c.userID
		c.mu.Unlock()
		c.logger.Info().Str("previous_user_id", prev).Str("user_id", user.ID).Msg("user changed, replacing session")
		c.Teardown()
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	if c.store != nil {
		return nil
	}

	logger := c.logger.With().Str("user_id", user.ID).Logger()
	rt := router.New(logger)
	conn := transport.New(transport.Config{
		URL:                  c.cfg.RealtimeURL,
		ConnectTimeout:       c.cfg.ConnectTimeout,
		HeartbeatInterval:    c.cfg.HeartbeatInterval,
		ReconnectBaseDelay:   c.cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: c.cfg.MaxReconnectAttempts,
		QueueSoftLimit:       c.cfg.QueueSoftLimit,
	}, rt, logger)
	rest := api.New(c.cfg.APIBaseURL, c.auth.Token, logger)
	rec := reconciler.New(conn, rest, rt, c.auth, reconciler.Config{
		TypingTimeout: c.cfg.TypingTimeout,
		PollInterval:  c.cfg.PollInterval,
		PollFallback:  c.cfg.PollFallback,
	}, logger)
	store := session.New(rest, rec, c.auth, c.cache, logger)
	rec.Start(store)

	connectCtx, cancel := context.WithCancel(context.Background())
	c.router, c.conn, c.rest, c.rec, c.store, c.cancel = rt, conn, rest, rec, store, cancel
	c.userID = user.ID

	token := c.auth.Token()
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := conn.Connect(connectCtx, token); err != nil {
			if connectCtx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("realtime connect failed, using REST fallback")
			store.SetError(err)
			return
		}
		logger.Info().Msg("realtime connected")
	}()

	logger.Info().Msg("client initialized")
	return nil
}

// Teardown stops timers and the poller, closes the socket and closes the store. Safe to
// call repeatedly.
func (c *Client) Teardown() {
	c.mu.Lock()
	if c.store == nil {
		c.mu.Unlock()
		return
	}
	rec, conn, store, cancel := c.rec, c.conn, c.store, c.cancel
	c.router, c.conn, c.rest, c.rec, c.store, c.cancel = nil, nil, nil, nil, nil, nil
	c.userID = ""
	c.mu.Unlock()

	cancel()
	c.pending.Wait()
	rec.Stop()
	conn.Disconnect()
	store.Close()
	c.logger.Info().Msg("client torn down")
}

// Store returns the current session store, or nil before Init and after Teardown.
func (c *Client) Store() *session.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *Client) Reconciler() *reconciler.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

func (c *Client) Connection() *transport.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) Router() *router.Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router
}

package client

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rosctl/internal/command"
	"github.com/danmuck/rosctl/internal/observability"
	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/danmuck/rosctl/internal/protocol/sentence"
	"github.com/danmuck/rosctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrAddressRequired  = errors.New("client: address required")
	ErrUsernameRequired = errors.New("client: username required")
)

type Config struct {
	// Name labels logs and metrics; defaults to Address.
	Name       string
	Address    string
	Username   string
	Password   string
	PlainLogin bool
	Session    session.Config
	// MaxConnectAttempts bounds dial+login retries; <= 0 retries until ctx ends.
	MaxConnectAttempts int
	// IdleTimeout keeps authenticated sessions for reuse; 0 disables pooling.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Session:            session.DefaultConfig(),
		MaxConnectAttempts: 3,
		IdleTimeout:        30 * time.Second,
	}
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client runs commands against one router. Each command runs on its own
// session, so a Client is safe for concurrent use.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	metrics observability.APIMetrics
	pool    *Pool

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, ErrUsernameRequired
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = cfg.Address
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		log:     zerolog.Nop(),
		metrics: observability.APIMetrics{Router: cfg.Name},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("router", cfg.Name).Logger()
	if cfg.IdleTimeout > 0 {
		c.pool = NewPool(cfg.IdleTimeout)
	}
	return c, nil
}

func (c *Client) Config() Config { return c.cfg }

// Connect dials and logs in, retrying connection errors with backoff. Login
// traps and fatal errors are returned without retry.
func (c *Client) Connect(ctx context.Context) (*session.Session, error) {
	var attempt int
	for {
		attempt++
		s, err := c.connectOnce(ctx)
		if err == nil {
			c.metrics.ObserveConnect("ok")
			return s, nil
		}
		c.metrics.ObserveConnect("error")
		c.log.Warn().Int("attempt", attempt).Str("addr", c.cfg.Address).Err(err).Msg("api connect failed")
		if !protocol.IsRetryable(err) || !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) (*session.Session, error) {
	conn, err := session.Dial(ctx, c.cfg.Address, c.cfg.Session)
	if err != nil {
		return nil, err
	}
	s := session.New(conn,
		session.WithLogger(c.log),
		session.WithLimits(c.cfg.Session.Limits),
		session.WithObserver(c.metrics),
		session.WithWriteTimeout(c.cfg.Session.WriteTimeout),
	)
	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if c.cfg.PlainLogin {
		err = s.LoginPlain(loginCtx, c.cfg.Username, c.cfg.Password)
	} else {
		err = s.Login(loginCtx, c.cfg.Username, c.cfg.Password)
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Do runs one command. An idle pooled session is checked with Alive before
// reuse and replaced when stale. Once the command is written it is never
// resent: a failure mid-exchange is returned to the caller, since the router
// may already have applied it.
func (c *Client) Do(ctx context.Context, words ...string) (sentence.Replies, error) {
	s, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tctx, cancel := c.exchangeContext(ctx)
	replies, err := s.Talk(tctx, words...)
	cancel()
	c.release(s)
	return replies, err
}

// Print returns the attributes of every matching object.
func (c *Client) Print(ctx context.Context, path string, params command.Params) ([]sentence.Attrs, error) {
	replies, err := c.Do(ctx, command.Print(path, params)...)
	if err != nil {
		return nil, err
	}
	return replies.Data(), nil
}

func (c *Client) PrintWhere(ctx context.Context, path string, q command.Query) ([]sentence.Attrs, error) {
	replies, err := c.Do(ctx, command.PrintWhere(path, q)...)
	if err != nil {
		return nil, err
	}
	return replies.Data(), nil
}

// Add creates an object and returns the .id the router assigned.
func (c *Client) Add(ctx context.Context, path string, params command.Params) (string, error) {
	replies, err := c.Do(ctx, command.Add(path, params)...)
	if err != nil {
		return "", err
	}
	done, _ := replies.Done()
	return done.Attrs["ret"], nil
}

func (c *Client) Set(ctx context.Context, path string, params command.Params) error {
	_, err := c.Do(ctx, command.Set(path, params)...)
	return err
}

func (c *Client) SetID(ctx context.Context, path, id string, params command.Params) error {
	_, err := c.Do(ctx, command.SetID(path, id, params)...)
	return err
}

func (c *Client) Remove(ctx context.Context, path, id string) error {
	_, err := c.Do(ctx, command.Remove(path, id)...)
	return err
}

// Command invokes a bare menu command such as /system/identity/set.
func (c *Client) Command(ctx context.Context, path string, params command.Params) (sentence.Replies, error) {
	return c.Do(ctx, command.Call(path, params)...)
}

// Close closes pooled sessions. Sessions returned by Connect are the caller's.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func (c *Client) acquire(ctx context.Context) (*session.Session, error) {
	if c.pool != nil {
		for {
			s, ok := c.pool.Acquire(c.cfg.Address)
			if !ok {
				break
			}
			if s.Alive() {
				return s, nil
			}
			c.log.Debug().Str("session", s.ID()).Msg("stale pooled session, reconnecting")
		}
	}
	return c.Connect(ctx)
}

func (c *Client) release(s *session.Session) {
	if c.pool == nil {
		_ = s.Close()
		return
	}
	c.pool.Release(c.cfg.Address, s)
}

func (c *Client) exchangeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.cfg.Session.ReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Session.ReadTimeout)
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	c.rngMu.Lock()
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	c.rngMu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package session

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/danmuck/rosctl/internal/protocol/frame"
	"github.com/danmuck/rosctl/internal/protocol/sentence"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// livenessPoll bounds how long Alive waits on an idle transport.
const livenessPoll = 2 * time.Millisecond

var ErrUnsolicitedData = errors.New("session: unsolicited data on idle session")

// Exchange outcomes reported to an Observer.
const (
	OutcomeDone       = "done"
	OutcomeTrap       = "trap"
	OutcomeFatal      = "fatal"
	OutcomeConnection = "connection"
)

// Observer receives one call per completed exchange.
type Observer interface {
	ObserveExchange(command, outcome string, elapsed time.Duration)
}

type Option func(*Session)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithLimits(limits frame.Limits) Option {
	return func(s *Session) { s.limits = limits }
}

func WithObserver(obs Observer) Option {
	return func(s *Session) { s.obs = obs }
}

// WithWriteTimeout bounds each sentence write. A context deadline that ends
// sooner still wins.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) { s.writeTimeout = d }
}

// Session owns one API connection and runs the request/reply protocol over it.
// Exchanges are serialized; the protocol has one request in flight at a time.
type Session struct {
	id     string
	rw     io.ReadWriteCloser
	stream *frame.Stream
	log    zerolog.Logger
	limits frame.Limits
	obs    Observer

	writeTimeout time.Duration

	mu        sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// New wraps rw in an unauthenticated session. The session owns rw from here on.
func New(rw io.ReadWriteCloser, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		rw:     rw,
		log:    zerolog.Nop(),
		limits: frame.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Logger()
	s.stream = frame.NewStream(rw, s.limits, s.log)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Talk sends one command sentence and collects the replies up to !done.
// A !trap as first reply is a *protocol.TrapError and leaves the session
// usable. A !fatal reply or any I/O failure closes the session. Talk with no
// words sends an empty sentence and returns without reading.
func (s *Session) Talk(ctx context.Context, words ...string) (sentence.Replies, error) {
	return s.TalkBytes(ctx, sentence.Words(words...))
}

func (s *Session) TalkBytes(ctx context.Context, words [][]byte) (sentence.Replies, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateClosed:
		return nil, protocol.NewConnectionError("talk", protocol.ErrSessionClosed)
	case StateAuthenticated:
	default:
		return nil, protocol.ErrNotAuthenticated
	}
	return s.exchange(ctx, words)
}

// Alive reports whether an idle authenticated session can still carry a
// command. It polls the transport for a moment; EOF, a read error or
// unsolicited bytes close the session. Transports without deadlines are
// trusted.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateAuthenticated {
		return false
	}
	d, ok := s.rw.(deadliner)
	if !ok {
		return true
	}
	_ = d.SetDeadline(time.Now().Add(livenessPoll))
	err := s.stream.Ready()
	if errors.Is(err, os.ErrDeadlineExceeded) {
		_ = d.SetDeadline(time.Time{})
		return true
	}
	if err == nil {
		err = ErrUnsolicitedData
	}
	s.log.Debug().Err(err).Msg("idle api session is stale")
	_ = s.Close()
	return false
}

// Close closes the transport. It is safe to call more than once and from
// another goroutine while an exchange is blocked on I/O.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.closeErr = s.stream.Close()
		s.log.Debug().Msg("api session closed")
	})
	return s.closeErr
}

func (s *Session) exchange(ctx context.Context, words [][]byte) (sentence.Replies, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	command := ""
	if len(words) > 0 {
		command = string(words[0])
	}
	start := time.Now()
	defer s.applyDeadline(ctx)()

	restore := s.armWrite(ctx)
	n, err := s.stream.WriteSentence(words)
	restore()
	if err != nil {
		return nil, s.fail(command, start, err)
	}
	if n == 0 {
		return sentence.Replies{}, nil
	}

	replies := make(sentence.Replies, 0, 2)
	for {
		raw, err := s.stream.ReadSentence()
		if err != nil {
			return nil, s.fail(command, start, err)
		}
		if len(raw) == 0 {
			continue
		}
		reply, err := sentence.ParseReply(raw)
		if err != nil {
			return nil, s.fail(command, start, err)
		}
		replies = append(replies, reply)
		// The server closes the connection after !fatal; no !done follows.
		if reply.Tag == sentence.TagFatal {
			return nil, s.fail(command, start, &protocol.FatalError{Reason: "fatal reply", Attrs: reply.Attrs})
		}
		if reply.Tag == sentence.TagDone {
			break
		}
	}

	if first := replies[0]; first.Tag == sentence.TagTrap {
		s.observe(command, OutcomeTrap, start)
		err := &protocol.TrapError{Attrs: first.Attrs}
		s.log.Debug().Str("command", command).Err(err).Msg("api trap")
		return nil, err
	}
	s.observe(command, OutcomeDone, start)
	s.log.Debug().Str("command", command).Int("replies", len(replies)).Msg("api exchange")
	return replies, nil
}

// fail closes the session for a terminal error and returns err.
func (s *Session) fail(command string, start time.Time, err error) error {
	outcome := OutcomeConnection
	if errors.Is(err, protocol.ErrFatal) {
		outcome = OutcomeFatal
	}
	s.observe(command, outcome, start)
	s.log.Warn().Str("command", command).Err(err).Msg("api exchange failed")
	_ = s.Close()
	return err
}

func (s *Session) observe(command, outcome string, start time.Time) {
	if s.obs != nil {
		s.obs.ObserveExchange(command, outcome, time.Since(start))
	}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// applyDeadline maps the context deadline onto the transport, since the
// protocol itself has no cancellation. It returns the reset func.
func (s *Session) applyDeadline(ctx context.Context) func() {
	dl, ok := ctx.Deadline()
	d, canSet := s.rw.(deadliner)
	if !ok || !canSet {
		return func() {}
	}
	_ = d.SetDeadline(dl)
	return func() {
		if s.State() != StateClosed {
			_ = d.SetDeadline(time.Time{})
		}
	}
}

// armWrite sets the write deadline for one sentence and returns the func that
// puts back the context deadline (zero when there is none).
func (s *Session) armWrite(ctx context.Context) func() {
	wd, ok := s.rw.(writeDeadliner)
	if !ok || s.writeTimeout <= 0 {
		return func() {}
	}
	ctxDl, hasDl := ctx.Deadline()
	dl := time.Now().Add(s.writeTimeout)
	if hasDl && ctxDl.Before(dl) {
		dl = ctxDl
	}
	_ = wd.SetWriteDeadline(dl)
	return func() {
		if s.State() != StateClosed {
			_ = wd.SetWriteDeadline(ctxDl)
		}
	}
}

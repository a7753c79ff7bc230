package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"

	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/danmuck/rosctl/internal/protocol/sentence"
)

const loginCommand = "/login"

var (
	ErrNoChallenge      = errors.New("session: login reply carried no challenge")
	ErrInvalidChallenge = errors.New("session: invalid login challenge")
	ErrLoginState       = errors.New("session: login requires an unauthenticated session")
)

// Login runs the challenge-response handshake: an empty /login returns a hex
// challenge in "ret", answered with "00" + md5(0x00 | password | challenge).
// Any failure closes the session.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if err := s.beginLogin(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	replies, err := s.exchange(ctx, sentence.Words(loginCommand))
	if err != nil {
		return s.failLogin(err)
	}
	challenge, ok := "", false
	for _, r := range replies {
		if v, has := r.Attrs["ret"]; has {
			challenge, ok = v, true
		}
	}
	if !ok {
		return s.failLogin(&protocol.FatalError{Reason: "login", Err: ErrNoChallenge})
	}
	response, err := ChallengeResponse(password, challenge)
	if err != nil {
		return s.failLogin(&protocol.FatalError{Reason: "login", Err: err})
	}

	_, err = s.exchange(ctx, [][]byte{
		[]byte(loginCommand),
		sentence.AttrWord("name", username),
		sentence.AttrWord("response", response),
	})
	if err != nil {
		return s.failLogin(err)
	}
	return s.finishLogin(username)
}

// LoginPlain sends the credentials in a single /login exchange, as newer
// firmware expects.
func (s *Session) LoginPlain(ctx context.Context, username, password string) error {
	if err := s.beginLogin(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	_, err := s.exchange(ctx, [][]byte{
		[]byte(loginCommand),
		sentence.AttrWord("name", username),
		sentence.AttrWord("password", password),
	})
	if err != nil {
		return s.failLogin(err)
	}
	return s.finishLogin(username)
}

// ChallengeResponse computes the /login response for a hex challenge.
func ChallengeResponse(password, challengeHex string) (string, error) {
	token, err := hex.DecodeString(challengeHex)
	if err != nil {
		return "", errors.Join(ErrInvalidChallenge, err)
	}
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write(token)
	return "00" + hex.EncodeToString(h.Sum(nil)), nil
}

// beginLogin locks the session and moves it to Authenticating. On success the
// caller owns s.mu.
func (s *Session) beginLogin() error {
	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticating)) {
		st := s.State()
		s.mu.Unlock()
		if st == StateClosed {
			return protocol.NewConnectionError("login", protocol.ErrSessionClosed)
		}
		return ErrLoginState
	}
	return nil
}

func (s *Session) failLogin(err error) error {
	s.log.Warn().Err(err).Msg("api login failed")
	_ = s.Close()
	return err
}

func (s *Session) finishLogin(username string) error {
	if !s.state.CompareAndSwap(int32(StateAuthenticating), int32(StateAuthenticated)) {
		return protocol.NewConnectionError("login", protocol.ErrSessionClosed)
	}
	s.log.Debug().Str("user", username).Msg("api login")
	return nil
}

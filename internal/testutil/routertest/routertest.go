// Package routertest runs a scripted router API endpoint for tests.
package routertest

import (
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/rosctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Challenge is the fixed login challenge the router hands out.
var Challenge = []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

// Command is one request sentence received after login.
type Command struct {
	Path  string
	Words []string
	Attrs map[string]string
}

// Handler returns the reply sentences for cmd. A nil result drops the
// connection without replying. A reply whose tag is !fatal closes the
// connection after it is written. An empty sentence is written as a bare
// terminator.
type Handler func(cmd Command) [][]string

type Router struct {
	Users   map[string]string
	Handler Handler

	// OmitChallenge answers the empty /login without a ret attribute.
	OmitChallenge bool

	mu       sync.Mutex
	received []Command
	logins   int
	conns    map[net.Conn]struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(handler Handler) *Router {
	return &Router{
		Users:   map[string]string{"admin": "secret"},
		Handler: handler,
		conns:   make(map[net.Conn]struct{}),
		stop:    make(chan struct{}),
	}
}

// Listen serves on 127.0.0.1 until the test ends and returns the address.
func (r *Router) Listen(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return r.serve(t, ln)
}

// ListenTLS is Listen behind a TLS listener.
func (r *Router) ListenTLS(t testing.TB, cfg *tls.Config) string {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen tls: %v", err)
	}
	return r.serve(t, ln)
}

func (r *Router) serve(t testing.TB, ln net.Listener) string {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				_ = r.ServeConn(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		close(r.stop)
		_ = ln.Close()
		r.closeConns()
		r.wg.Wait()
	})
	return ln.Addr().String()
}

// ServeConn speaks the API on conn until it closes.
func (r *Router) ServeConn(conn net.Conn) error {
	r.track(conn)
	defer r.untrack(conn)
	defer conn.Close()

	s := frame.NewStream(conn, frame.DefaultLimits(), zerolog.Nop())
	authed := false
	for {
		raw, err := s.ReadSentence()
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			continue
		}
		cmd := parseCommand(raw)

		var replies [][]string
		if cmd.Path == "/login" {
			replies, authed = r.login(cmd)
		} else if !authed {
			replies = [][]string{{"!fatal", "not logged in"}}
		} else {
			r.mu.Lock()
			r.received = append(r.received, cmd)
			r.mu.Unlock()
			replies = r.Handler(cmd)
			if replies == nil {
				return nil
			}
		}

		for _, reply := range replies {
			if _, err := s.WriteSentence(toWords(reply)); err != nil {
				return err
			}
			if len(reply) > 0 && reply[0] == "!fatal" {
				return nil
			}
		}
	}
}

func (r *Router) login(cmd Command) ([][]string, bool) {
	name, hasName := cmd.Attrs["name"]
	if !hasName {
		if r.OmitChallenge {
			return [][]string{{"!done"}}, false
		}
		return [][]string{{"!done", "=ret=" + hex.EncodeToString(Challenge)}}, false
	}
	want, ok := r.Users[name]
	if password, plain := cmd.Attrs["password"]; plain {
		ok = ok && password == want
	} else {
		ok = ok && cmd.Attrs["response"] == Response(want, Challenge)
	}
	if !ok {
		return [][]string{{"!trap", "=message=cannot log in"}, {"!done"}}, false
	}
	r.mu.Lock()
	r.logins++
	r.mu.Unlock()
	return [][]string{{"!done"}}, true
}

// Response computes the expected login response for password and challenge.
func Response(password string, challenge []byte) string {
	sum := md5.Sum(append(append([]byte{0}, password...), challenge...))
	return "00" + hex.EncodeToString(sum[:])
}

// Received returns the post-login commands seen so far.
func (r *Router) Received() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.received))
	copy(out, r.received)
	return out
}

// Logins returns the number of successful logins.
func (r *Router) Logins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logins
}

// DropConns closes every open connection from the router side.
func (r *Router) DropConns() {
	r.closeConns()
}

func (r *Router) track(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = struct{}{}
}

func (r *Router) untrack(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

func (r *Router) closeConns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		_ = c.Close()
	}
}

func parseCommand(raw [][]byte) Command {
	cmd := Command{
		Path:  string(raw[0]),
		Words: make([]string, 0, len(raw)-1),
		Attrs: make(map[string]string),
	}
	for _, w := range raw[1:] {
		word := string(w)
		cmd.Words = append(cmd.Words, word)
		if !strings.HasPrefix(word, "=") {
			continue
		}
		key, value, _ := strings.Cut(word[1:], "=")
		cmd.Attrs[key] = value
	}
	return cmd
}

func toWords(reply []string) [][]byte {
	out := make([][]byte, len(reply))
	for i, w := range reply {
		out[i] = []byte(w)
	}
	return out
}

// Done and Re build reply sentences from "key=value" pairs.
func Done(pairs ...string) []string { return sentenceOf("!done", pairs) }

func Re(pairs ...string) []string { return sentenceOf("!re", pairs) }

func Trap(message string) [][]string {
	return [][]string{{"!trap", "=message=" + message}, {"!done"}}
}

func Fatal(message string) [][]string {
	return [][]string{{"!fatal", message}}
}

func sentenceOf(tag string, pairs []string) []string {
	out := []string{tag}
	for _, p := range pairs {
		out = append(out, "="+p)
	}
	return out
}

// Block returns a handler that never replies; the connection is dropped when
// the test ends.
func (r *Router) Block() Handler {
	return func(Command) [][]string {
		<-r.stop
		return nil
	}
}

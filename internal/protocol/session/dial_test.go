package session_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/danmuck/rosctl/internal/protocol/session"
	"github.com/danmuck/rosctl/internal/testutil/routertest"
	"github.com/danmuck/rosctl/internal/testutil/testlog"
	"github.com/danmuck/rosctl/internal/testutil/tlstest"
)

func TestDialPlainAndLogin(t *testing.T) {
	testlog.Start(t)
	r := routertest.New(interfaceHandler)
	addr := r.Listen(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := session.Dial(ctx, addr, session.DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := session.New(conn)
	defer s.Close()
	if err := s.Login(ctx, "admin", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestDialTLSVerifiedAndLogin(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "rosctl-test-ca")
	r := routertest.New(interfaceHandler)
	addr := r.ListenTLS(t, ca.ServerConfig(t, dir))

	cfg := session.DefaultConfig()
	cfg.SecurityMode = session.SecurityModeProduction
	cfg.TLS.Enabled = true
	cfg.TLS.CAFile = ca.CAFile()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := session.Dial(ctx, addr, cfg)
	if err != nil {
		t.Fatalf("dial tls: %v", err)
	}
	s := session.New(conn)
	defer s.Close()
	if err := s.Login(ctx, "admin", "secret"); err != nil {
		t.Fatalf("login over tls: %v", err)
	}
	if _, err := s.Talk(ctx, "/interface/print"); err != nil {
		t.Fatalf("talk over tls: %v", err)
	}
}

func TestDialTLSUnknownAuthorityFails(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	serverCA := tlstest.NewAuthority(t, t.TempDir(), "server-ca")
	otherCA := tlstest.NewAuthority(t, dir, "other-ca")
	r := routertest.New(interfaceHandler)
	addr := r.ListenTLS(t, serverCA.ServerConfig(t, t.TempDir()))

	cfg := session.DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.CAFile = otherCA.CAFile()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := session.Dial(ctx, addr, cfg); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected handshake ErrConnection, got %v", err)
	}
}

func TestDialRefusedIsConnectionError(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = session.Dial(context.Background(), addr, session.DefaultConfig())
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestDialTLSClientCertificate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "rosctl-test-ca")
	caPEM, err := os.ReadFile(ca.CAFile())
	if err != nil {
		t.Fatalf("read ca: %v", err)
	}
	clientCAs := x509.NewCertPool()
	clientCAs.AppendCertsFromPEM(caPEM)

	serverCfg := ca.ServerConfig(t, dir)
	serverCfg.ClientAuth = tls.RequireAndVerifyClientCert
	serverCfg.ClientCAs = clientCAs
	r := routertest.New(interfaceHandler)
	addr := r.ListenTLS(t, serverCfg)

	certPath, keyPath := ca.IssueClientCert(t, dir, "rosctl-client")
	cfg := session.DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.CAFile = ca.CAFile()
	cfg.TLS.CertFile = certPath
	cfg.TLS.KeyFile = keyPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := session.Dial(ctx, addr, cfg)
	if err != nil {
		t.Fatalf("dial tls: %v", err)
	}
	s := session.New(conn)
	defer s.Close()
	if err := s.Login(ctx, "admin", "secret"); err != nil {
		t.Fatalf("login with client cert: %v", err)
	}
}

// Package config loads the router inventory file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rosctl/internal/client"
	"github.com/danmuck/rosctl/internal/protocol/session"
)

var (
	ErrNoRouters      = errors.New("config: no routers defined")
	ErrRouterNotFound = errors.New("config: router not found")
)

// routerEntry is one [[router]] table. Empty strings and nil pointers fall
// back to the file-level defaults.
type routerEntry struct {
	Name                  string `toml:"name"`
	Address               string `toml:"address"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	PasswordEnv           string `toml:"password_env"`
	SecurityMode          string `toml:"security_mode"`
	TLS                   *bool  `toml:"tls"`
	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
	TLSCAFile             string `toml:"tls_ca_file"`
	TLSCertFile           string `toml:"tls_cert_file"`
	TLSKeyFile            string `toml:"tls_key_file"`
	TLSServerName         string `toml:"tls_server_name"`
	ConnectTimeout        string `toml:"connect_timeout"`
	ReadTimeout           string `toml:"read_timeout"`
	MaxConnectAttempts    *int   `toml:"max_connect_attempts"`
	IdleTimeout           string `toml:"idle_timeout"`
	PlainLogin            *bool  `toml:"plain_login"`
}

type fileConfig struct {
	Username           string        `toml:"username"`
	SecurityMode       string        `toml:"security_mode"`
	TLS                bool          `toml:"tls"`
	TLSCAFile          string        `toml:"tls_ca_file"`
	ConnectTimeout     string        `toml:"connect_timeout"`
	ReadTimeout        string        `toml:"read_timeout"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	IdleTimeout        string        `toml:"idle_timeout"`
	PlainLogin         bool          `toml:"plain_login"`
	Routers            []routerEntry `toml:"router"`
}

// Inventory is the validated set of routers, in file order.
type Inventory struct {
	Defaults client.Config
	Routers  []client.Config
}

// Load reads an inventory file. Top-level keys set defaults for every router;
// [[router]] tables override them.
func Load(path string) (Inventory, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Inventory{}, fmt.Errorf("load router config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Inventory{}, fmt.Errorf("load router config: unknown key %q", undecoded[0].String())
	}

	defaults := client.DefaultConfig()
	if meta.IsDefined("username") {
		defaults.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("security_mode") {
		defaults.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls") {
		defaults.Session.TLS.Enabled = raw.TLS
	}
	if meta.IsDefined("tls_ca_file") {
		defaults.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("connect_timeout") {
		if defaults.Session.ConnectTimeout, err = parseDuration("connect_timeout", raw.ConnectTimeout); err != nil {
			return Inventory{}, err
		}
	}
	if meta.IsDefined("read_timeout") {
		if defaults.Session.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return Inventory{}, err
		}
	}
	if meta.IsDefined("max_connect_attempts") {
		defaults.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("idle_timeout") {
		if defaults.IdleTimeout, err = parseDuration("idle_timeout", raw.IdleTimeout); err != nil {
			return Inventory{}, err
		}
	}
	if meta.IsDefined("plain_login") {
		defaults.PlainLogin = raw.PlainLogin
	}

	inv := Inventory{Defaults: defaults, Routers: make([]client.Config, 0, len(raw.Routers))}
	seen := make(map[string]struct{}, len(raw.Routers))
	for i, entry := range raw.Routers {
		cfg, err := entry.apply(defaults)
		if err != nil {
			return Inventory{}, fmt.Errorf("router[%d] invalid: %w", i, err)
		}
		if _, dup := seen[cfg.Name]; dup {
			return Inventory{}, fmt.Errorf("router[%d] invalid: duplicate name %q", i, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		inv.Routers = append(inv.Routers, cfg)
	}
	if len(inv.Routers) == 0 {
		return Inventory{}, ErrNoRouters
	}
	return inv, nil
}

// Router returns the entry with the given name.
func (inv Inventory) Router(name string) (client.Config, error) {
	name = strings.TrimSpace(name)
	for _, cfg := range inv.Routers {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return client.Config{}, fmt.Errorf("%w: %q", ErrRouterNotFound, name)
}

func (e routerEntry) apply(defaults client.Config) (client.Config, error) {
	cfg := defaults
	cfg.Name = strings.TrimSpace(e.Name)
	if cfg.Name == "" {
		return client.Config{}, fmt.Errorf("name is required")
	}
	if v := strings.TrimSpace(e.Username); v != "" {
		cfg.Username = v
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return client.Config{}, fmt.Errorf("username is required")
	}

	cfg.Password = e.Password
	if env := strings.TrimSpace(e.PasswordEnv); env != "" {
		v, ok := os.LookupEnv(env)
		if !ok {
			return client.Config{}, fmt.Errorf("password_env %s is not set", env)
		}
		cfg.Password = v
	}

	if v := strings.TrimSpace(e.SecurityMode); v != "" {
		cfg.Session.SecurityMode = session.SecurityMode(v)
	}
	if e.TLS != nil {
		cfg.Session.TLS.Enabled = *e.TLS
	}
	cfg.Session.TLS.InsecureSkipVerify = e.TLSInsecureSkipVerify
	if v := strings.TrimSpace(e.TLSCAFile); v != "" {
		cfg.Session.TLS.CAFile = v
	}
	cfg.Session.TLS.CertFile = strings.TrimSpace(e.TLSCertFile)
	cfg.Session.TLS.KeyFile = strings.TrimSpace(e.TLSKeyFile)
	cfg.Session.TLS.ServerName = strings.TrimSpace(e.TLSServerName)

	var err error
	if e.ConnectTimeout != "" {
		if cfg.Session.ConnectTimeout, err = parseDuration("connect_timeout", e.ConnectTimeout); err != nil {
			return client.Config{}, err
		}
	}
	if e.ReadTimeout != "" {
		if cfg.Session.ReadTimeout, err = parseDuration("read_timeout", e.ReadTimeout); err != nil {
			return client.Config{}, err
		}
	}
	if e.IdleTimeout != "" {
		if cfg.IdleTimeout, err = parseDuration("idle_timeout", e.IdleTimeout); err != nil {
			return client.Config{}, err
		}
	}
	if e.MaxConnectAttempts != nil {
		cfg.MaxConnectAttempts = *e.MaxConnectAttempts
	}
	if e.PlainLogin != nil {
		cfg.PlainLogin = *e.PlainLogin
	}

	addr := strings.TrimSpace(e.Address)
	if addr == "" {
		return client.Config{}, fmt.Errorf("address is required")
	}
	cfg.Address = session.WithDefaultPort(addr, cfg.Session.TLS.Enabled)

	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

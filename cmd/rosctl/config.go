package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/rosctl/internal/client"
	"github.com/danmuck/rosctl/internal/config"
	"github.com/danmuck/rosctl/internal/protocol/session"
)

const envPassword = "ROSCTL_PASSWORD"

var (
	errNoCommand      = errors.New("no API command given")
	errRouterRequired = errors.New("-router is required when the config lists several routers")
	errRouterNoConfig = errors.New("-router requires -config")
	errNoAddress      = errors.New("-address or -config is required")
)

type options struct {
	configPath string
	router     string
	address    string
	user       string
	password   string
	tls        bool
	caFile     string
	insecure   bool
	plain      bool
	timeout    time.Duration
	metrics    string

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (options, []string, error) {
	var o options
	fs := flag.NewFlagSet("rosctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "router inventory TOML file")
	fs.StringVar(&o.router, "router", "", "router name from the inventory")
	fs.StringVar(&o.address, "address", "", "router host[:port]")
	fs.StringVar(&o.user, "user", "", "API username")
	fs.StringVar(&o.password, "password", "", "API password (default $"+envPassword+")")
	fs.BoolVar(&o.tls, "tls", false, "use the TLS API service")
	fs.StringVar(&o.caFile, "ca", "", "CA bundle for TLS verification")
	fs.BoolVar(&o.insecure, "insecure", false, "skip TLS certificate verification")
	fs.BoolVar(&o.plain, "plain-login", false, "send the password in the /login sentence")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall command timeout")
	fs.StringVar(&o.metrics, "metrics-file", "", "write prometheus metrics to this file on exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: rosctl [flags] /menu/command [=key=value|?query ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	words := fs.Args()
	if len(words) == 0 {
		fs.Usage()
		return options{}, nil, errNoCommand
	}
	return o, words, nil
}

// clientConfig resolves the inventory entry, if any, and applies flag
// overrides on top of it.
func (o options) clientConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	switch {
	case o.configPath != "":
		inv, err := config.Load(o.configPath)
		if err != nil {
			return client.Config{}, err
		}
		if o.router == "" {
			if len(inv.Routers) != 1 {
				return client.Config{}, errRouterRequired
			}
			cfg = inv.Routers[0]
		} else if cfg, err = inv.Router(o.router); err != nil {
			return client.Config{}, err
		}
	case o.router != "":
		return client.Config{}, errRouterNoConfig
	case o.address == "":
		return client.Config{}, errNoAddress
	}

	if o.set["tls"] {
		cfg.Session.TLS.Enabled = o.tls
	}
	if o.set["ca"] {
		cfg.Session.TLS.CAFile = o.caFile
	}
	if o.set["insecure"] {
		cfg.Session.TLS.InsecureSkipVerify = o.insecure
	}
	if o.set["plain-login"] {
		cfg.PlainLogin = o.plain
	}
	if o.set["address"] {
		cfg.Address = session.WithDefaultPort(strings.TrimSpace(o.address), cfg.Session.TLS.Enabled)
	}
	if o.set["user"] {
		cfg.Username = o.user
	}
	if o.set["password"] {
		cfg.Password = o.password
	} else if v, ok := os.LookupEnv(envPassword); ok && cfg.Password == "" {
		cfg.Password = v
	}
	// One command per process; nothing to keep idle.
	cfg.IdleTimeout = 0
	return cfg, nil
}

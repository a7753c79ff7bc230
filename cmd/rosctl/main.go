package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/rosctl/internal/client"
	"github.com/danmuck/rosctl/internal/logging"
	"github.com/danmuck/rosctl/internal/observability"
	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/danmuck/rosctl/internal/protocol/sentence"
)

const (
	exitOK    = 0
	exitError = 1
	exitTrap  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, words, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "rosctl: %v\n", err)
		return exitError
	}

	log := logging.ConfigureRuntime()
	cfg, err := opts.clientConfig()
	if err != nil {
		fmt.Fprintf(stderr, "rosctl: %v\n", err)
		return exitError
	}
	c, err := client.New(cfg, client.WithLogger(log))
	if err != nil {
		fmt.Fprintf(stderr, "rosctl: %v\n", err)
		return exitError
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	replies, err := c.Do(ctx, words...)
	code := printResult(stdout, stderr, replies, err)
	if opts.metrics != "" {
		if err := observability.WriteTextfile(opts.metrics); err != nil {
			fmt.Fprintf(stderr, "rosctl: write metrics: %v\n", err)
			if code == exitOK {
				code = exitError
			}
		}
	}
	return code
}

func printResult(stdout, stderr io.Writer, replies sentence.Replies, err error) int {
	var trap *protocol.TrapError
	if errors.As(err, &trap) {
		fmt.Fprintln(stdout, formatReply(sentence.TagTrap, trap.Attrs))
		return exitTrap
	}
	if err != nil {
		fmt.Fprintf(stderr, "rosctl: %v\n", err)
		return exitError
	}
	for _, r := range replies {
		fmt.Fprintln(stdout, formatReply(r.Tag, r.Attrs))
	}
	return exitOK
}

func formatReply(tag string, attrs sentence.Attrs) string {
	var b strings.Builder
	b.WriteString(tag)
	for _, k := range attrs.Keys() {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	return b.String()
}

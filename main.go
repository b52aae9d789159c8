package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/portcullis/internal/access"
	"github.com/die-net/portcullis/internal/config"
	"github.com/die-net/portcullis/internal/dialer"
	"github.com/die-net/portcullis/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	pflag.CommandLine.SortFlags = false
	opts, err := config.Parse(pflag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
	slog.SetDefault(logger)

	ka := opts.KeepAlive()

	d, err := dialer.New(dialer.Config{
		DialTimeout:        opts.DialTimeout,
		NegotiationTimeout: opts.NegotiationTimeout,
		KeepAlive:          ka,
		SSHKeyPath:         opts.SSHKey,
		SSHKnownHostsPath:  opts.SSHKnownHosts,
		Logger:             logger,
	}, opts.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	gate := access.NewGate(access.Config{
		Blacklist:       opts.Blacklist,
		Credentials:     access.Credentials{Username: opts.Username, Password: opts.Password},
		LoginRateLimit:  opts.LoginRateLimit,
		LoginRatePeriod: opts.LoginRatePeriod,
	})

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DebugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", opts.DebugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", "addr", opts.DebugListen)
	}

	ln, err := proxy.Listen(opts.Listen, opts.Backlog, ka)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := proxy.NewServer(ctx, proxy.Config{
		Logger:          logger,
		Gate:            gate,
		Dialer:          d,
		MaxSessions:     opts.MaxSessions,
		ChunkSize:       opts.ChunkSize,
		IdleTimeout:     opts.IdleTimeout,
		ReadTimeout:     opts.ReadTimeout,
		RejectMalformed: opts.RejectMalformed,
	})
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, proxy.ErrServerClosed) {
			return fmt.Errorf("proxy serve: %w", err)
		}
		return nil
	})
	logger.Info("serving",
		"addr", ln.Addr().String(),
		"upstream", opts.Upstream,
		"max_sessions", opts.MaxSessions,
		"auth", opts.Username != "",
		"blacklist", gate.Blacklist().Len(),
	)

	err = g.Wait()

	logger.Info("shutting down", "active_sessions", srv.ActiveSessions())
	_ = srv.Close()
	if c, ok := d.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return err
}

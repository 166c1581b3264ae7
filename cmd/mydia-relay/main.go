// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Mydia-relay is the rendezvous server: it brokers pairing claim codes
// and forwards encrypted session traffic between clients and instances
// that cannot reach each other directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mydia-project/mydia/lib/config"
	"github.com/mydia-project/mydia/lib/version"
	"github.com/mydia-project/mydia/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var listen string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (defaults to $MYDIA_CONFIG)")
	flag.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("mydia-relay %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Relay.Listen
	}

	server, err := relay.New(relay.Config{
		DefaultTTL: config.Duration(cfg.Relay.ClaimTTL),
		CodeLength: cfg.Relay.ClaimCodeLength,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("building relay: %w", err)
	}

	stopSweeper := server.Broker().StartSweeper(
		config.Duration(cfg.Relay.SweepInterval),
		config.Duration(cfg.Relay.SweepRetention),
	)
	defer stopSweeper()

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting mydia-relay", "version", version.Info(), "listen", listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadConfig resolves the configuration from the flag, the environment,
// or defaults, in that order.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("MYDIA_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(errors.New("invalid config"), err)
	}
	return cfg, nil
}

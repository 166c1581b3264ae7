// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Mydia-node is the instance daemon. It serves a media directory over
// authenticated secure sessions, accepts direct TCP connections, stays
// attached to its relay for clients that cannot reach it directly, and
// registers pairing claims on request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mydia-project/mydia/identity"
	"github.com/mydia-project/mydia/lib/config"
	"github.com/mydia-project/mydia/lib/version"
	"github.com/mydia-project/mydia/media"
	"github.com/mydia-project/mydia/pairing"
	"github.com/mydia-project/mydia/relay"
	"github.com/mydia-project/mydia/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var pair bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (defaults to $MYDIA_CONFIG)")
	flag.BoolVar(&pair, "pair", false, "register a pairing claim at startup and print the code")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("mydia-node %s\n", version.Info())
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
	if cfg.Node.MediaRoot == "" {
		return errors.New("node.media_root is required")
	}

	id, err := identity.LoadOrGenerate(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	logger.Info("starting mydia-node",
		"version", version.Info(),
		"fingerprint", id.Fingerprint(),
		"media_root", cfg.Node.MediaRoot)

	handler := &media.Handler{
		Source:      &media.Source{Root: cfg.Node.MediaRoot},
		DirectAddrs: cfg.Node.DirectAddrs,
		Logger:      logger,
	}
	listener := &transport.Listener{
		Identity: id.Keypair,
		Handler:  handler,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if pair {
		if err := registerClaim(ctx, cfg, id, handler, logger); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Node.Listen, err)
	}
	logger.Info("direct listener up", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- listener.Serve(ctx, ln)
	}()

	if cfg.Node.RelayURL != "" {
		attacher := &transport.Attacher{
			RelayURL:    cfg.Node.RelayURL,
			Fingerprint: id.Fingerprint(),
			Server:      listener,
			Logger:      logger,
		}
		go attacher.Run(ctx)
		logger.Info("relay attachment enabled", "relay", cfg.Node.RelayURL)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("transport listener: %w", err)
	}
}

// registerClaim publishes this node's endpoint descriptor under a fresh
// claim code and prints the code for the user to type on their device.
func registerClaim(ctx context.Context, cfg *config.Config, id *identity.Identity, handler *media.Handler, logger *slog.Logger) error {
	if cfg.Node.RelayURL == "" {
		return errors.New("--pair requires node.relay_url")
	}

	desc := &pairing.Descriptor{
		PublicKey:   id.Keypair.Public[:],
		DirectAddrs: cfg.Node.DirectAddrs,
		RelayURL:    cfg.Node.RelayURL,
	}
	raw, err := desc.Marshal()
	if err != nil {
		return fmt.Errorf("building descriptor: %w", err)
	}

	client := &relay.Client{BaseURL: cfg.Node.RelayURL}
	claimCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	claim, err := client.RegisterClaim(claimCtx, raw, 0)
	if err != nil {
		return fmt.Errorf("registering claim: %w", err)
	}

	handler.OfferCode(claim.Code)
	logger.Info("pairing claim registered", "expires_at", claim.ExpiresAt)
	fmt.Printf("pairing code: %s (valid until %s)\n",
		claim.Code, claim.ExpiresAt.Local().Format(time.Kitchen))
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

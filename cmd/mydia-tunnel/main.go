// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Mydia-tunnel is the client daemon. It pairs with an instance using a
// claim code, keeps a secure session alive (direct when possible, relay
// otherwise), and exposes the instance's media on a loopback HTTP port
// for local players.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mydia-project/mydia/identity"
	"github.com/mydia-project/mydia/lib/config"
	"github.com/mydia-project/mydia/lib/version"
	"github.com/mydia-project/mydia/pairing"
	"github.com/mydia-project/mydia/prober"
	"github.com/mydia-project/mydia/relay"
	"github.com/mydia-project/mydia/transport"
	"github.com/mydia-project/mydia/tunnel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// state is the pairing outcome persisted next to the device key so
// later runs can reconnect without a new code.
type state struct {
	Descriptor string `json:"descriptor"`
	MediaToken string `json:"media_token"`
}

func run() error {
	var configPath string
	var code string
	var relayURL string
	var deviceName string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (defaults to $MYDIA_CONFIG)")
	flag.StringVar(&code, "code", "", "claim code to pair with (omit to reuse stored pairing)")
	flag.StringVar(&relayURL, "relay", "", "relay base URL (required with --code)")
	flag.StringVar(&deviceName, "device-name", "", "device name shown to the instance when pairing")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("mydia-tunnel %s\n", version.Info())
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

	id, err := identity.LoadOrGenerate(cfg.Tunnel.KeyPath)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statePath := filepath.Join(filepath.Dir(cfg.Tunnel.KeyPath), "tunnel-state.json")
	st, err := resolveState(ctx, cfg, id, code, relayURL, deviceName, statePath, logger)
	if err != nil {
		return err
	}
	desc, err := pairing.DecodeString(st.Descriptor)
	if err != nil {
		return fmt.Errorf("stored descriptor: %w", err)
	}

	p := prober.New(prober.Config{
		Descriptor:   desc,
		Direct:       &transport.DirectDialer{Local: id.Keypair, Logger: logger},
		Relay:        &transport.RelayDialer{Local: id.Keypair, Logger: logger},
		ProbeTimeout: config.Duration(cfg.Tunnel.ProbeTimeout),
		Logger:       logger,
	})
	p.Start()
	defer p.Stop()
	go logResults(ctx, p, logger)

	proxy := &tunnel.Proxy{
		Source:         p,
		AuthToken:      st.MediaToken,
		RequestTimeout: config.Duration(cfg.Tunnel.RequestTimeout),
		Logger:         logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.Tunnel.Listen,
		Handler:           proxy.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting mydia-tunnel",
			"version", version.Info(),
			"listen", cfg.Tunnel.Listen,
			"instance", identity.FingerprintOf(desc.Key()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("tunnel proxy: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// resolveState pairs with --code or loads the stored pairing.
func resolveState(ctx context.Context, cfg *config.Config, id *identity.Identity, code, relayURL, deviceName, statePath string, logger *slog.Logger) (*state, error) {
	if code == "" {
		data, err := os.ReadFile(statePath)
		if err != nil {
			return nil, fmt.Errorf("no stored pairing at %s; pair first with --code and --relay", statePath)
		}
		var st state
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("reading %s: %w", statePath, err)
		}
		return &st, nil
	}

	if relayURL == "" {
		return nil, errors.New("--code requires --relay")
	}
	if deviceName == "" {
		deviceName, _ = os.Hostname()
	}

	client := &pairing.Client{
		Claims: &relay.Client{BaseURL: relayURL},
		Dialer: &pairDialer{local: id, logger: logger},
		Logger: logger,
	}
	pairCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := client.Pair(pairCtx, code, pairing.DeviceInfo{
		Name: deviceName,
		Type: "tunnel",
		OS:   "linux",
	})
	if err != nil {
		return nil, fmt.Errorf("pairing: %w", err)
	}
	logger.Info("paired with instance",
		"fingerprint", identity.FingerprintOf(result.Descriptor.Key()))

	encoded, err := result.Descriptor.EncodeString()
	if err != nil {
		return nil, err
	}
	st := &state{Descriptor: encoded, MediaToken: result.MediaToken}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(statePath, data, 0o600); err != nil {
		return nil, fmt.Errorf("persisting pairing state: %w", err)
	}
	return st, nil
}

// pairDialer opens a one-off session for the pairing exchange, trying
// the direct path before the relay.
type pairDialer struct {
	local  *identity.Identity
	logger *slog.Logger
}

func (d *pairDialer) Dial(ctx context.Context, desc *pairing.Descriptor) (pairing.Session, error) {
	direct := &transport.DirectDialer{Local: d.local.Keypair, Logger: d.logger}
	if len(desc.DirectAddrs) > 0 {
		if t, err := direct.Dial(ctx, desc); err == nil {
			return t.(pairing.Session), nil
		}
	}
	relayDialer := &transport.RelayDialer{Local: d.local.Keypair, Logger: d.logger}
	t, err := relayDialer.Dial(ctx, desc)
	if err != nil {
		return nil, err
	}
	return t.(pairing.Session), nil
}

// logResults surfaces probe outcomes and state transitions in the log.
func logResults(ctx context.Context, p *prober.Prober, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-p.Results():
			if r.Err != nil {
				logger.Warn("probe failed", "error", r.Err, "attempts", r.Attempts, "state", p.State().Status)
			} else {
				logger.Info("path established", "kind", r.Kind, "addr", r.Address,
					"attempts", r.Attempts, "state", p.State().Status)
			}
		}
	}
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

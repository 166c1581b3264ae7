// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mydia-project/mydia/identity"
	"github.com/mydia-project/mydia/lib/clock"
	"github.com/mydia-project/mydia/noise"
	"github.com/mydia-project/mydia/pairing"
)

// SessionURL builds the relay websocket URL for an instance
// fingerprint. The relay base URL uses http or https; the session
// endpoint speaks ws or wss accordingly.
func SessionURL(relayURL, fingerprint string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	u.Path, err = url.JoinPath(u.Path, "session", fingerprint)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	return u.String(), nil
}

// RelayDialer reaches an instance through its relay's session
// forwarder. The relay pipes opaque bytes; the handshake and all
// traffic are end to end between client and instance.
type RelayDialer struct {
	// Local is the dialing party's static keypair.
	Local noise.Keypair

	// Prologue is mixed into the handshake; both sides must agree.
	Prologue []byte

	// Dialer is the websocket dialer. Nil means a default with a
	// 10-second handshake timeout.
	Dialer *websocket.Dialer

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Dial attaches to the instance's relay session endpoint and runs the
// handshake through it.
func (d *RelayDialer) Dial(ctx context.Context, desc *pairing.Descriptor) (Transport, error) {
	if desc.RelayURL == "" {
		return nil, errors.New("descriptor has no relay")
	}
	target, err := SessionURL(desc.RelayURL, identity.FingerprintOf(desc.Key()))
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", target, err)
	}

	sess, err := NewClientSession(newWSStream(conn), d.Local, desc.Key(), d.Prologue)
	if err != nil {
		return nil, fmt.Errorf("relay handshake: %w", err)
	}
	return &pathSession{Session: sess, kind: KindRelay, addr: target}, nil
}

// ConnServer handles one inbound connection; the Listener implements
// it.
type ConnServer interface {
	ServeConn(ctx context.Context, conn io.ReadWriteCloser)
}

// Attacher keeps an instance reachable through its relay. It holds one
// waiting websocket open at the relay's session endpoint; when a client
// attaches, the relay starts piping, the connection is served, and a
// fresh waiting connection is opened for the next client.
type Attacher struct {
	// RelayURL is the relay base URL.
	RelayURL string

	// Fingerprint identifies this instance at the relay.
	Fingerprint string

	// Server handles each piped connection.
	Server ConnServer

	// RetryDelay is the pause before redialing after a failure. Zero
	// means 2 seconds.
	RetryDelay time.Duration

	// Dialer is the websocket dialer. Nil means a default with a
	// 10-second handshake timeout.
	Dialer *websocket.Dialer

	// Clock supplies time. Nil means the real clock.
	Clock clock.Clock

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Run dials and serves relay connections until ctx is cancelled.
func (a *Attacher) Run(ctx context.Context) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := a.Clock
	if clk == nil {
		clk = clock.Real()
	}
	delay := a.RetryDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	dialer := a.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	target, err := SessionURL(a.RelayURL, a.Fingerprint)
	if err != nil {
		logger.Error("relay attach misconfigured", "error", err)
		return
	}
	target += "?role=instance"

	for ctx.Err() == nil {
		conn, _, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			logger.Warn("relay attach failed", "url", target, "error", err)
			select {
			case <-clk.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		logger.Debug("attached to relay", "url", target)
		a.Server.ServeConn(ctx, newWSStream(conn))
	}
}

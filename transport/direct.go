// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mydia-project/mydia/noise"
	"github.com/mydia-project/mydia/pairing"
)

// pathSession tags an established session with the path it runs over
// and the endpoint that answered.
type pathSession struct {
	*Session
	kind Kind
	addr string
}

func (p *pathSession) Kind() Kind   { return p.kind }
func (p *pathSession) Addr() string { return p.addr }

var _ Transport = (*pathSession)(nil)

// DirectDialer connects straight to an instance over TCP using the
// addresses from its endpoint descriptor.
type DirectDialer struct {
	// Local is the dialing party's static keypair.
	Local noise.Keypair

	// Prologue is mixed into the handshake; both sides must agree.
	Prologue []byte

	// Timeout bounds each address attempt. Zero means 5 seconds.
	Timeout time.Duration

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Dial tries the descriptor's direct addresses in order and returns a
// session over the first one that connects and completes the handshake.
// A connect that succeeds but fails authentication still moves on to
// the next address; a stale descriptor may point at a readdressed host.
func (d *DirectDialer) Dial(ctx context.Context, desc *pairing.Descriptor) (Transport, error) {
	if len(desc.DirectAddrs) == 0 {
		return nil, errors.New("descriptor has no direct addresses")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	var errs []error
	for _, addr := range desc.DirectAddrs {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := (&net.Dialer{}).DialContext(attemptCtx, "tcp", addr)
		cancel()
		if err != nil {
			logger.Debug("direct dial failed", "addr", addr, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}

		sess, err := NewClientSession(conn, d.Local, desc.Key(), d.Prologue)
		if err != nil {
			logger.Debug("direct handshake failed", "addr", addr, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		return &pathSession{Session: sess, kind: KindDirect, addr: addr}, nil
	}
	return nil, fmt.Errorf("no direct address reachable: %w", errors.Join(errs...))
}

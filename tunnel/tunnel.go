// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel exposes remote media over a local HTTP endpoint so
// ordinary players can stream it. Requests to
// /tunnel/{session}/{resource} are translated into secure-session media
// requests and the instance's response is relayed back with its
// streaming headers intact.
//
// Every response carries permissive CORS headers, errors included:
// browser-based players run on arbitrary origins, and an opaque CORS
// failure on a 404 is indistinguishable from a network problem in their
// error reporting.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mydia-project/mydia/transport"
	"github.com/mydia-project/mydia/wire"
)

// TransportSource supplies the current transport to the instance, nil
// while disconnected, and hears about transports that stopped working.
// The prober implements it.
type TransportSource interface {
	Transport() transport.Transport

	// Disconnected reports that the last transport returned by
	// Transport failed a request at the transport level, so the source
	// can replace it.
	Disconnected()
}

// Proxy is the loopback media proxy.
type Proxy struct {
	// Source supplies the transport for each request.
	Source TransportSource

	// AuthToken is attached to every media request.
	AuthToken string

	// RequestTimeout bounds one media request. Zero means 30 seconds.
	RequestTimeout time.Duration

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Handler returns the proxy's HTTP handler. All responses, error
// responses included, carry CORS headers.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tunnel/", p.handleTunnel)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return withCORS(mux)
}

// withCORS adds permissive CORS headers to every response and answers
// preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Range, Content-Type")
		h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Content-Type, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Proxy) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/tunnel/")
	session, resource, found := strings.Cut(rest, "/")
	if session == "" || !found || resource == "" {
		http.Error(w, "missing session or resource", http.StatusBadRequest)
		return
	}

	t := p.Source.Transport()
	if t == nil {
		http.Error(w, "not connected to instance", http.StatusServiceUnavailable)
		return
	}

	req := &wire.Request{
		SessionID: session,
		Path:      resource,
		AuthToken: p.AuthToken,
	}
	req.RangeStart, req.RangeEnd = parseRange(r.Header.Get("Range"))

	timeout := p.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp, err := t.Request(ctx, req)
	if err != nil {
		// One broken request stays one broken request; the next one
		// gets a fresh shot at whatever transport the source holds.
		// A transport-level failure also means the session itself is
		// suspect (a timed-out round trip tears it down), so the
		// source is told to replace it. An error the instance sent
		// over a working session is not.
		var remote *transport.RemoteError
		if !errors.As(err, &remote) {
			p.Source.Disconnected()
		}
		p.logger().Warn("tunnel request failed", "path", resource, "error", err)
		http.Error(w, fmt.Sprintf("tunnel request failed: %v", err), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	if resp.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	if resp.ContentRange != "" {
		h.Set("Content-Range", resp.ContentRange)
	}
	if resp.CacheControl != "" {
		h.Set("Cache-Control", resp.CacheControl)
	}
	h.Set("Accept-Ranges", "bytes")

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

// parseRange extracts the bounds of a single bytes range. Anything the
// parser does not understand, multi-range and suffix forms included,
// yields no range at all: the full resource is fetched, which is
// correct if wasteful, and players recover by re-requesting.
func parseRange(header string) (start, end *int64) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}
	first, last, found := strings.Cut(spec, "-")
	if !found || first == "" {
		return nil, nil
	}
	s, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || s < 0 {
		return nil, nil
	}
	if last == "" {
		return &s, nil
	}
	e, err := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil || e < s {
		return nil, nil
	}
	return &s, &e
}

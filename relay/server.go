// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the rendezvous service and its API client.
// The relay does two narrow jobs: it brokers short-lived claim codes
// for pairing, and it pipes opaque bytes between a client and an
// instance that cannot reach each other directly. It stores descriptors
// it cannot read and ferries traffic it cannot decrypt; a compromised
// relay learns who talked, not what was said.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mydia-project/mydia/claims"
	"github.com/mydia-project/mydia/lib/clock"
)

// maxDescriptorSize caps a POST /claim body. Descriptors are a key and
// a handful of addresses; anything bigger is abuse.
const maxDescriptorSize = 16 << 10

// maxClaimTTL caps the client-requested claim lifetime.
const maxClaimTTL = time.Hour

// Config configures a relay Server.
type Config struct {
	// DefaultTTL applies to claims registered without an explicit ttl.
	// Zero means 5 minutes.
	DefaultTTL time.Duration

	// CodeLength is the claim code length. Zero means the broker's
	// minimum.
	CodeLength int

	// Clock supplies time. Nil means the real clock.
	Clock clock.Clock

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Server is the relay's HTTP surface.
type Server struct {
	broker     *claims.Broker
	forwarder  *forwarder
	logger     *slog.Logger
	clock      clock.Clock
	defaultTTL time.Duration
	upgrader   websocket.Upgrader
}

// New creates a relay Server.
func New(cfg Config) (*Server, error) {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	broker, err := claims.New(claims.Config{
		CodeLength: cfg.CodeLength,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Server{
		broker:     broker,
		forwarder:  newForwarder(cfg.Logger),
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		defaultTTL: cfg.DefaultTTL,
		upgrader: websocket.Upgrader{
			// Session traffic is end-to-end encrypted; origin checks
			// add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Broker exposes the underlying claim store, for sweeping.
func (s *Server) Broker() *claims.Broker { return s.broker }

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /claim", s.handleCreateClaim)
	mux.HandleFunc("GET /claim/{code}", s.handleGetClaim)
	mux.HandleFunc("DELETE /claim/{code}", s.handleDeleteClaim)
	mux.HandleFunc("GET /session/{fingerprint}", s.handleSession)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// claimCreated is the POST /claim response body.
type claimCreated struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleCreateClaim registers the request body as an opaque descriptor
// and returns the generated claim code. An optional ttl query parameter
// (Go duration syntax) overrides the default lifetime.
func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	descriptor, err := io.ReadAll(io.LimitReader(r.Body, maxDescriptorSize+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if len(descriptor) > maxDescriptorSize {
		http.Error(w, "descriptor too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Non-positive ttls pass through: the broker creates the claim
	// already expired, which keeps behavior consistent for callers that
	// compute a ttl from a deadline in the past.
	ttl := s.defaultTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl > maxClaimTTL {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
	}

	code, err := s.broker.CreateClaim(descriptor, ttl)
	if err != nil {
		var verr *claims.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("creating claim", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("claim registered", "code_len", len(code), "ttl", ttl)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(claimCreated{
		Code:      code,
		ExpiresAt: s.clock.Now().Add(ttl).UTC(),
	})
}

// handleGetClaim returns the stored descriptor. Absent, expired, and
// never-created codes all produce the same 404.
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	descriptor, err := s.broker.GetClaim(r.PathValue("code"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.Write(descriptor)
}

// handleDeleteClaim removes a claim. Always 204: deleting an absent
// claim succeeds, so clients can retry without reading the answer.
func (s *Server) handleDeleteClaim(w http.ResponseWriter, r *http.Request) {
	s.broker.DeleteClaim(r.PathValue("code"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSession joins the websocket forwarder, as a waiting instance
// (role=instance) or as a client attaching to one.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.PathValue("fingerprint")
	role := r.URL.Query().Get("role")

	if role != "instance" && s.forwarder.waitingCount(fingerprint) == 0 {
		// Reject before upgrading so the client sees a clean error.
		http.Error(w, "no instance attached", http.StatusBadGateway)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if role == "instance" {
		s.forwarder.park(fingerprint, conn)
		return
	}
	s.forwarder.attach(fingerprint, conn)
}

// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/mydia-project/mydia/claims"
	"github.com/mydia-project/mydia/identity"
	"github.com/mydia-project/mydia/noise"
	"github.com/mydia-project/mydia/transport"
	"github.com/mydia-project/mydia/wire"
)

// Device is an enrolled client device.
type Device struct {
	Name string
	Type string
	OS   string
	Key  [noise.KeySize]byte
}

// Handler dispatches authenticated transport requests on an instance:
// pairing against the currently offered claim code and media requests
// against the source. It implements transport.Handler.
type Handler struct {
	// Source serves media files.
	Source *Source

	// DirectAddrs is reported to newly paired devices so they can
	// probe the instance directly next time.
	DirectAddrs []string

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger

	mu      sync.Mutex
	code    string
	tokens  map[string]Device
	devices map[string]Device
}

var _ transport.Handler = (*Handler)(nil)

// OfferCode arms the handler with a claim code to accept. Only one code
// is pending at a time; offering a new one replaces the old.
func (h *Handler) OfferCode(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.code = claims.Normalize(code)
}

// Devices returns the enrolled devices.
func (h *Handler) Devices() []Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Device, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	return out
}

// HandlePairing accepts a pairing request that presents the pending
// claim code, enrolls the device, and hands out its tokens. The code is
// consumed on success.
func (h *Handler) HandlePairing(_ context.Context, req *wire.PairingRequest, peer [noise.KeySize]byte) *wire.PairingResponse {
	logger := h.logger()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.code == "" || claims.Normalize(req.ClaimCode) != h.code {
		logger.Warn("pairing rejected", "device", req.DeviceName)
		return &wire.PairingResponse{Success: false, Error: "unknown or expired claim code"}
	}

	mediaToken, err := newToken()
	if err != nil {
		return &wire.PairingResponse{Success: false, Error: "internal error"}
	}
	accessToken, err := newToken()
	if err != nil {
		return &wire.PairingResponse{Success: false, Error: "internal error"}
	}
	deviceToken, err := newToken()
	if err != nil {
		return &wire.PairingResponse{Success: false, Error: "internal error"}
	}

	device := Device{Name: req.DeviceName, Type: req.DeviceType, OS: req.DeviceOS, Key: peer}
	if h.tokens == nil {
		h.tokens = make(map[string]Device)
	}
	if h.devices == nil {
		h.devices = make(map[string]Device)
	}
	h.tokens[mediaToken] = device
	h.devices[identity.FingerprintOf(peer)] = device
	h.code = ""

	logger.Info("device paired",
		"device", req.DeviceName,
		"type", req.DeviceType,
		"fingerprint", identity.FingerprintOf(peer))
	return &wire.PairingResponse{
		Success:     true,
		MediaToken:  mediaToken,
		AccessToken: accessToken,
		DeviceToken: deviceToken,
		DirectAddrs: h.DirectAddrs,
	}
}

// HandleMedia serves a media request after checking its token.
func (h *Handler) HandleMedia(_ context.Context, req *wire.Request, _ [noise.KeySize]byte) (*wire.Response, error) {
	h.mu.Lock()
	_, authorized := h.tokens[req.AuthToken]
	h.mu.Unlock()
	if !authorized {
		return &wire.Response{
			Status:      403,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte("invalid token"),
		}, nil
	}
	return h.Source.Serve(req)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func newToken() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.New("token generation failed")
	}
	return hex.EncodeToString(b[:]), nil
}

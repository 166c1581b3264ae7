// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mydia-project/mydia/wire"
)

// ClaimFetcher retrieves and deletes claim descriptors, typically a
// relay API client.
type ClaimFetcher interface {
	FetchClaim(ctx context.Context, code string) ([]byte, error)
	DeleteClaim(ctx context.Context, code string) error
}

// Session is an established secure session to an instance. RoundTrip
// sends one message and returns the reply; both are wire envelopes.
type Session interface {
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// Dialer establishes a secure session to the instance a descriptor
// names.
type Dialer interface {
	Dial(ctx context.Context, desc *Descriptor) (Session, error)
}

// DeviceInfo describes the enrolling device, echoed to the instance so
// the user can recognize it later.
type DeviceInfo struct {
	Name string
	Type string
	OS   string
}

// Result is a successful pairing: the tokens that authorize media
// access plus the descriptor used, updated with any direct addresses
// the instance reported during pairing.
type Result struct {
	MediaToken  string
	AccessToken string
	DeviceToken string
	Descriptor  *Descriptor
}

// ErrPairingRejected reports an instance that refused the pairing
// request, for example because the claim code was already redeemed on
// its side.
var ErrPairingRejected = errors.New("pairing rejected by instance")

// Client runs the client side of the pairing flow.
type Client struct {
	Claims ClaimFetcher
	Dialer Dialer

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Pair redeems code and enrolls the device: fetch the descriptor from
// the claim broker, open a secure session to the instance it names,
// exchange the pairing messages, and delete the claim so the code
// cannot be redeemed again. The claim is only deleted after the
// instance accepts, so a failed attempt leaves the code usable.
func (c *Client) Pair(ctx context.Context, code string, device DeviceInfo) (*Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := c.Claims.FetchClaim(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("fetching claim: %w", err)
	}
	desc, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("claim descriptor: %w", err)
	}

	sess, err := c.Dialer.Dial(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("connecting to instance: %w", err)
	}
	defer sess.Close()

	req := wire.PairingRequest{
		ClaimCode:  code,
		DeviceName: device.Name,
		DeviceType: device.Type,
		DeviceOS:   device.OS,
	}
	payload, err := wire.Encode(wire.KindPairingRequest, req)
	if err != nil {
		return nil, err
	}
	replyData, err := sess.RoundTrip(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("pairing exchange: %w", err)
	}

	env, err := wire.DecodeEnvelope(replyData)
	if err != nil {
		return nil, err
	}
	if env.Kind != wire.KindPairingResponse {
		return nil, fmt.Errorf("unexpected reply kind %v", env.Kind)
	}
	var resp wire.PairingResponse
	if err := wire.DecodePayload(env, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrPairingRejected, resp.Error)
		}
		return nil, ErrPairingRejected
	}

	// Best effort: the claim expires on its own if this fails.
	if err := c.Claims.DeleteClaim(ctx, code); err != nil {
		logger.Warn("deleting redeemed claim", "error", err)
	}

	if len(resp.DirectAddrs) > 0 {
		desc.DirectAddrs = resp.DirectAddrs
	}
	return &Result{
		MediaToken:  resp.MediaToken,
		AccessToken: resp.AccessToken,
		DeviceToken: resp.DeviceToken,
		Descriptor:  desc,
	}, nil
}

// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrClaimNotFound reports a claim code the relay does not know. The
// relay answers identically for expired and never-registered codes.
var ErrClaimNotFound = errors.New("relay: claim not found")

// Client talks to a relay's claim API.
type Client struct {
	// BaseURL is the relay's base URL, for example
	// "https://relay.example.com".
	BaseURL string

	// HTTPClient is optional; nil means a client with a 10-second
	// timeout.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) endpoint(parts ...string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	u.Path, err = url.JoinPath(u.Path, parts...)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	return u.String(), nil
}

// Claim is a registered claim code and its expiry.
type Claim struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterClaim stores descriptor at the relay and returns the claim
// code to show the user. A ttl of zero uses the relay's default; a
// negative ttl registers a claim that is already expired.
func (c *Client) RegisterClaim(ctx context.Context, descriptor []byte, ttl time.Duration) (*Claim, error) {
	target, err := c.endpoint("claim")
	if err != nil {
		return nil, err
	}
	if ttl != 0 {
		target += "?ttl=" + url.QueryEscape(ttl.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(descriptor))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/cbor")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("registering claim: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return nil, fmt.Errorf("registering claim: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registering claim: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var claim Claim
	if err := json.Unmarshal(body, &claim); err != nil {
		return nil, fmt.Errorf("registering claim: decoding response: %w", err)
	}
	return &claim, nil
}

// FetchClaim returns the descriptor stored under code.
func (c *Client) FetchClaim(ctx context.Context, code string) ([]byte, error) {
	target, err := c.endpoint("claim", code)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching claim: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(io.LimitReader(resp.Body, maxDescriptorSize))
	case http.StatusNotFound:
		return nil, ErrClaimNotFound
	default:
		return nil, fmt.Errorf("fetching claim: %s", resp.Status)
	}
}

// DeleteClaim removes code from the relay. Deleting an absent claim is
// not an error.
func (c *Client) DeleteClaim(ctx context.Context, code string) error {
	target, err := c.endpoint("claim", code)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("deleting claim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("deleting claim: %s", resp.Status)
	}
	return nil
}

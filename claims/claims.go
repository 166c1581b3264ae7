// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package claims implements the short-lived claim code store used for
// device pairing. An instance registers an endpoint descriptor under a
// freshly generated human-typable code; a client redeems the code
// within its TTL to obtain the descriptor and the code is gone.
//
// Codes are drawn from an alphabet with the visually ambiguous
// characters (0/O, 1/I/L) removed, so a code read over the phone or
// typed from a TV screen survives the trip. Lookups normalize case and
// strip the dashes and spaces people insert when reading codes aloud.
//
// An expired claim is indistinguishable from one that never existed:
// both return ErrNotFound. Callers learn nothing about whether a
// guessed code was ever valid.
package claims

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mydia-project/mydia/lib/clock"
	"github.com/mydia-project/mydia/lib/codec"
)

// Alphabet is the claim code character set: uppercase letters and
// digits minus 0, O, 1, I, and L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	// MinCodeLength and MaxCodeLength bound the configurable code
	// length. Six characters of this alphabet give ~887M combinations,
	// plenty for codes that live minutes.
	MinCodeLength = 6
	MaxCodeLength = 8

	// generateAttempts bounds the collision retry loop in CreateClaim.
	// With a near-empty keyspace collisions are vanishingly rare; hitting
	// this limit means the store is absurdly full.
	generateAttempts = 16
)

// ErrNotFound reports a claim that is missing, expired, or never
// existed. The three cases are deliberately indistinguishable.
var ErrNotFound = errors.New("claim not found")

// ValidationError reports a rejected claim registration.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid claim: %s", e.Reason)
}

type claim struct {
	descriptor []byte
	createdAt  time.Time
	expiresAt  time.Time
}

// Config configures a Broker. The zero value is usable: six-character
// codes, the real clock, and the default logger.
type Config struct {
	// CodeLength is the generated code length, between MinCodeLength
	// and MaxCodeLength. Zero means MinCodeLength.
	CodeLength int

	// Clock supplies time. Nil means the real clock.
	Clock clock.Clock

	// Logger receives sweep activity. Nil means slog.Default.
	Logger *slog.Logger
}

// Broker is an in-memory claim code store. All methods are safe for
// concurrent use.
type Broker struct {
	clock      clock.Clock
	logger     *slog.Logger
	codeLength int

	mu     sync.Mutex
	claims map[string]claim
}

// New creates a Broker.
func New(cfg Config) (*Broker, error) {
	if cfg.CodeLength == 0 {
		cfg.CodeLength = MinCodeLength
	}
	if cfg.CodeLength < MinCodeLength || cfg.CodeLength > MaxCodeLength {
		return nil, fmt.Errorf("code length %d outside [%d, %d]", cfg.CodeLength, MinCodeLength, MaxCodeLength)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broker{
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		codeLength: cfg.CodeLength,
		claims:     make(map[string]claim),
	}, nil
}

// CreateClaim stores descriptor under a freshly generated code that
// expires after ttl. The descriptor must be well-formed CBOR and
// non-empty. Returns the generated code. A non-positive ttl is not an
// error: the claim is created already expired and every lookup sees
// ErrNotFound, so callers that compute a ttl from a deadline in the
// past get consistent behavior instead of a rejection.
func (b *Broker) CreateClaim(descriptor []byte, ttl time.Duration) (string, error) {
	if len(descriptor) == 0 {
		return "", &ValidationError{Reason: "empty descriptor"}
	}
	if !codec.Valid(descriptor) {
		return "", &ValidationError{Reason: "descriptor is not well-formed CBOR"}
	}

	now := b.clock.Now()
	stored := claim{
		descriptor: append([]byte(nil), descriptor...),
		createdAt:  now,
		expiresAt:  now.Add(ttl),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for range generateAttempts {
		code, err := generateCode(b.codeLength)
		if err != nil {
			return "", err
		}
		if _, taken := b.claims[code]; taken {
			continue
		}
		b.claims[code] = stored
		return code, nil
	}
	return "", errors.New("claim code space exhausted")
}

// GetClaim returns the descriptor stored under code, which is
// normalized before lookup. Expired claims return ErrNotFound exactly
// like absent ones.
func (b *Broker) GetClaim(code string) ([]byte, error) {
	key := Normalize(code)

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.claims[key]
	if !ok || !b.clock.Now().Before(c.expiresAt) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), c.descriptor...), nil
}

// RedeemClaim returns the descriptor stored under code and removes the
// claim in the same step, so a code redeems at most once even under
// concurrent attempts.
func (b *Broker) RedeemClaim(code string) ([]byte, error) {
	key := Normalize(code)

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.claims[key]
	if !ok || !b.clock.Now().Before(c.expiresAt) {
		return nil, ErrNotFound
	}
	delete(b.claims, key)
	return c.descriptor, nil
}

// DeleteClaim removes the claim stored under code. Deleting an absent
// or expired claim is a no-op; delete is idempotent.
func (b *Broker) DeleteClaim(code string) {
	key := Normalize(code)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.claims, key)
}

// Cleanup removes every claim created more than maxAge ago and returns
// the number removed. This is a retention backstop distinct from TTL
// expiry: expired claims already read as absent, Cleanup reclaims their
// memory.
func (b *Broker) Cleanup(maxAge time.Duration) int {
	cutoff := b.clock.Now().Add(-maxAge)

	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for code, c := range b.claims {
		if c.createdAt.Before(cutoff) {
			delete(b.claims, code)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored claims, expired ones included.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.claims)
}

// StartSweeper runs Cleanup(retention) every interval until stop is
// called. Sweep results are logged at debug level unless claims were
// actually removed.
func (b *Broker) StartSweeper(interval, retention time.Duration) (stop func()) {
	ticker := b.clock.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if removed := b.Cleanup(retention); removed > 0 {
					b.logger.Info("swept expired claims", "removed", removed)
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Normalize maps user input to canonical code form: uppercase, with
// dashes and spaces removed. "ab-c 2de" and "ABC2DE" address the same
// claim.
func Normalize(code string) string {
	var sb strings.Builder
	sb.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// generateCode draws length characters uniformly from Alphabet using
// crypto/rand with rejection sampling, so every code is equally likely.
func generateCode(length int) (string, error) {
	// Largest multiple of len(Alphabet) below 256; bytes at or above it
	// are rejected to avoid modulo bias.
	limit := byte(256 / len(Alphabet) * len(Alphabet))

	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating claim code: %w", err)
		}
		for _, v := range buf {
			if v >= limit {
				continue
			}
			code = append(code, Alphabet[int(v)%len(Alphabet)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}

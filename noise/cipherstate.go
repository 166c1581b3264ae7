// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package noise

import (
	"crypto/cipher"
	"encoding/binary"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

// tagSize is the ChaCha20-Poly1305 authentication tag length appended
// to every ciphertext.
const tagSize = chacha20poly1305.Overhead

// MaxMessageSize is the largest handshake or transport message,
// ciphertext included. Matches the Noise specification's 65535-byte
// limit; larger application payloads are fragmented by the transport
// layer before encryption.
const MaxMessageSize = 65535

// CipherState encrypts or decrypts one direction of traffic after a
// completed handshake. The nonce is a strictly increasing 64-bit
// counter: each side encrypts with its send state and decrypts with its
// receive state, so an out-of-order, dropped, or replayed message fails
// authentication rather than being silently accepted.
//
// CipherState is not safe for concurrent use; callers serialize access
// per direction.
type CipherState struct {
	aead  cipher.AEAD
	nonce uint64
}

// newCipherState builds a CipherState from a 32-byte key with the
// nonce counter at zero.
func newCipherState(key [32]byte) (*CipherState, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &CipherState{aead: aead}, nil
}

// Encrypt seals plaintext under the current nonce with ad as associated
// data, appends the result to out, and advances the counter. Returns
// ErrNonceExhausted once the counter is spent.
func (c *CipherState) Encrypt(out, ad, plaintext []byte) ([]byte, error) {
	if c.nonce == math.MaxUint64 {
		return nil, ErrNonceExhausted
	}
	if len(plaintext)+tagSize > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	sealed := c.aead.Seal(out, c.nonceBytes(), plaintext, ad)
	c.nonce++
	return sealed, nil
}

// Decrypt opens ciphertext under the current nonce with ad as
// associated data, appends the plaintext to out, and advances the
// counter. An authentication failure returns ErrAuthentication and
// leaves the counter unchanged, though callers treat it as fatal for
// the whole session.
func (c *CipherState) Decrypt(out, ad, ciphertext []byte) ([]byte, error) {
	if c.nonce == math.MaxUint64 {
		return nil, ErrNonceExhausted
	}
	if len(ciphertext) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	plaintext, err := c.aead.Open(out, c.nonceBytes(), ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	c.nonce++
	return plaintext, nil
}

// nonceBytes encodes the counter per the Noise specification for
// ChaCha20-Poly1305: four zero bytes followed by the counter in
// little-endian.
func (c *CipherState) nonceBytes() []byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(n[4:], c.nonce)
	return n[:]
}

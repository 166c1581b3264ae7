// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package noise

import "errors"

var (
	// ErrOutOfOrder is returned when a handshake method is called out
	// of phase: a message repeated, skipped, sent by the wrong role,
	// or a transport operation attempted before Split. The session
	// state is not modified; the offending call is simply rejected.
	ErrOutOfOrder = errors.New("noise: handshake message out of order")

	// ErrAuthentication is returned when an AEAD tag fails to verify:
	// wrong static key, tampered ciphertext, or a replayed message.
	// The handshake is poisoned irrecoverably.
	ErrAuthentication = errors.New("noise: message authentication failed")

	// ErrSessionFailed is returned by every call on a handshake that
	// has already failed. Callers must re-pair with a fresh claim.
	ErrSessionFailed = errors.New("noise: session failed, restart pairing")

	// ErrMessageTooLarge is returned for handshake or transport
	// messages exceeding MaxMessageSize.
	ErrMessageTooLarge = errors.New("noise: message exceeds maximum size")

	// ErrNonceExhausted is returned when a directional cipher state
	// has encrypted or decrypted 2^64-1 messages. The connection must
	// be re-established with a new handshake.
	ErrNonceExhausted = errors.New("noise: nonce counter exhausted")
)

// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package noise

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the byte length of X25519 public keys, private keys, and
// shared secrets.
const KeySize = 32

// Keypair is an X25519 key pair. Static keypairs identify a party
// across sessions; ephemeral keypairs are generated per handshake and
// discarded afterwards.
type Keypair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeypair returns a fresh X25519 keypair from crypto/rand.
func GenerateKeypair() (Keypair, error) {
	var kp Keypair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return Keypair{}, fmt.Errorf("generating private key: %w", err)
	}
	public, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return Keypair{}, fmt.Errorf("deriving public key: %w", err)
	}
	copy(kp.Public[:], public)
	return kp, nil
}

// KeypairFromPrivate reconstructs a Keypair from a stored private key.
func KeypairFromPrivate(private [KeySize]byte) (Keypair, error) {
	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return Keypair{}, fmt.Errorf("deriving public key: %w", err)
	}
	kp := Keypair{Private: private}
	copy(kp.Public[:], public)
	return kp, nil
}

// dh computes the X25519 shared secret between a local private key and
// a remote public key. curve25519 rejects low-order points that would
// produce an all-zero secret.
func dh(private, public [KeySize]byte) ([]byte, error) {
	shared, err := curve25519.X25519(private[:], public[:])
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return shared, nil
}

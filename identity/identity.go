// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages the long-lived X25519 identity of a party.
// An instance's identity is the static keypair its secure sessions are
// keyed to; clients learn the public half from a pairing descriptor and
// pin it for all future connections. The private key is persisted as
// the raw 32 private-key bytes in a mode-0600 file, and the public key
// is rederived on load.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/mydia-project/mydia/noise"
)

// fingerprintLen is the number of hex characters in a fingerprint:
// eight bytes of the key hash.
const fingerprintLen = 16

// Identity is a party's static X25519 keypair.
type Identity struct {
	Keypair noise.Keypair
}

// Generate creates a fresh identity.
func Generate() (*Identity, error) {
	kp, err := noise.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generating identity key: %w", err)
	}
	return &Identity{Keypair: kp}, nil
}

// Load reads an identity from a raw 32-byte private key file.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity key %s: %w", path, err)
	}
	if len(raw) != noise.KeySize {
		return nil, fmt.Errorf("identity key %s: got %d bytes, want %d", path, len(raw), noise.KeySize)
	}
	var private [noise.KeySize]byte
	copy(private[:], raw)
	kp, err := noise.KeypairFromPrivate(private)
	if err != nil {
		return nil, fmt.Errorf("identity key %s: %w", path, err)
	}
	return &Identity{Keypair: kp}, nil
}

// LoadOrGenerate loads the identity at path, generating and persisting
// a new one if the file does not exist. Parent directories are created
// as needed. The key file is written with mode 0600.
func LoadOrGenerate(path string) (*Identity, error) {
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

// Save persists the private key to path with mode 0600, creating parent
// directories as needed.
func (id *Identity) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating identity directory: %w", err)
		}
	}
	if err := os.WriteFile(path, id.Keypair.Private[:], 0o600); err != nil {
		return fmt.Errorf("writing identity key %s: %w", path, err)
	}
	return nil
}

// Public returns the identity's public key.
func (id *Identity) Public() [noise.KeySize]byte { return id.Keypair.Public }

// Fingerprint returns a short stable identifier for this identity,
// derived from the public key. It names the instance in relay session
// URLs and log lines.
func (id *Identity) Fingerprint() string {
	return FingerprintOf(id.Keypair.Public)
}

// FingerprintOf returns the fingerprint of an arbitrary public key:
// the first 16 hex characters of its BLAKE3 hash.
func FingerprintOf(public [noise.KeySize]byte) string {
	sum := blake3.Sum256(public[:])
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

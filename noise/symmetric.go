// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package noise

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// symmetricState holds the running transcript hash and chaining key
// during a handshake. The hash is append-only: every public key and
// every ciphertext is mixed in, in order, so both sides either agree on
// the entire transcript or fail authentication on the next AEAD tag.
type symmetricState struct {
	ck [sha256.Size]byte // chaining key, input to each key derivation
	h  [sha256.Size]byte // transcript hash, bound into every AEAD as ad
	cs *CipherState      // nil until the first mixKey
}

// initializeSymmetric seeds the state from the protocol name. The name
// is exactly 32 bytes ("Noise_IK_25519_ChaChaPoly_SHA256"), so it is
// used directly as the initial hash per the Noise specification.
func initializeSymmetric(protocolName string) (*symmetricState, error) {
	ss := &symmetricState{}
	if len(protocolName) <= sha256.Size {
		copy(ss.h[:], protocolName)
	} else {
		ss.h = sha256.Sum256([]byte(protocolName))
	}
	ss.ck = ss.h
	return ss, nil
}

// mixHash appends data to the transcript: h = HASH(h || data).
func (ss *symmetricState) mixHash(data []byte) {
	d := sha256.New()
	d.Write(ss.h[:])
	d.Write(data)
	copy(ss.h[:], d.Sum(nil))
}

// mixKey folds DH output into the chaining key and installs a fresh
// cipher key. Noise's HKDF is RFC 5869 with the chaining key as salt
// and no info.
func (ss *symmetricState) mixKey(ikm []byte) error {
	r := hkdf.New(sha256.New, ikm, ss.ck[:], nil)
	var tempKey [32]byte
	if _, err := io.ReadFull(r, ss.ck[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, tempKey[:]); err != nil {
		return err
	}
	cs, err := newCipherState(tempKey)
	if err != nil {
		return err
	}
	ss.cs = cs
	return nil
}

// encryptAndHash seals plaintext with the transcript hash as associated
// data, then mixes the ciphertext into the transcript. Before the first
// mixKey (no cipher yet) the plaintext passes through unencrypted but
// is still mixed in.
func (ss *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if ss.cs == nil {
		ss.mixHash(plaintext)
		return plaintext, nil
	}
	ciphertext, err := ss.cs.Encrypt(nil, ss.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	ss.mixHash(ciphertext)
	return ciphertext, nil
}

// decryptAndHash is the inverse of encryptAndHash. The transcript is
// only advanced when authentication succeeds, so a tampered message
// leaves no trace in the state (the session is discarded anyway).
func (ss *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if ss.cs == nil {
		ss.mixHash(ciphertext)
		return ciphertext, nil
	}
	plaintext, err := ss.cs.Decrypt(nil, ss.h[:], ciphertext)
	if err != nil {
		return nil, err
	}
	ss.mixHash(ciphertext)
	return plaintext, nil
}

// split derives the two directional transport cipher states from the
// final chaining key. The first state keys initiator-to-responder
// traffic, the second responder-to-initiator; both start their nonce
// counters at zero.
func (ss *symmetricState) split() (*CipherState, *CipherState, error) {
	r := hkdf.New(sha256.New, nil, ss.ck[:], nil)
	var k1, k2 [32]byte
	if _, err := io.ReadFull(r, k1[:]); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(r, k2[:]); err != nil {
		return nil, nil, err
	}
	c1, err := newCipherState(k1)
	if err != nil {
		return nil, nil, err
	}
	c2, err := newCipherState(k2)
	if err != nil {
		return nil, nil, err
	}
	return c1, c2, nil
}

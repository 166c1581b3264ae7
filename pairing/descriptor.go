// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing implements device enrollment: the endpoint descriptor
// an instance publishes under a claim code, and the client-side flow
// that redeems a code, connects to the instance, and exchanges the
// pairing messages.
package pairing

import (
	"encoding/base64"
	"fmt"

	"github.com/mydia-project/mydia/lib/codec"
	"github.com/mydia-project/mydia/noise"
)

// Descriptor tells a client everything it needs to reach an instance
// for the first time: the static public key its secure sessions are
// keyed to, the addresses worth probing directly, and the relay to fall
// back on. Descriptors travel through the claim broker as opaque bytes
// and are also shown to users as compact strings for manual entry.
type Descriptor struct {
	PublicKey   []byte   `cbor:"public_key"`
	DirectAddrs []string `cbor:"direct_addrs,omitempty"`
	RelayURL    string   `cbor:"relay_url,omitempty"`
}

// ValidationError reports a descriptor that could not be decoded or
// fails structural checks.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid descriptor: %s", e.Reason)
}

// Validate checks structural requirements: a 32-byte public key and at
// least one way to reach the instance.
func (d *Descriptor) Validate() error {
	if len(d.PublicKey) != noise.KeySize {
		return &ValidationError{Reason: fmt.Sprintf("public key is %d bytes, want %d", len(d.PublicKey), noise.KeySize)}
	}
	if len(d.DirectAddrs) == 0 && d.RelayURL == "" {
		return &ValidationError{Reason: "no direct addresses and no relay"}
	}
	for _, addr := range d.DirectAddrs {
		if addr == "" {
			return &ValidationError{Reason: "empty direct address"}
		}
	}
	return nil
}

// Key returns the public key as a fixed-size array for the handshake
// layer. Validate must have passed.
func (d *Descriptor) Key() [noise.KeySize]byte {
	var key [noise.KeySize]byte
	copy(key[:], d.PublicKey)
	return key
}

// Marshal encodes the descriptor as CBOR, the form stored in the claim
// broker.
func (d *Descriptor) Marshal() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(d)
}

// Unmarshal decodes and validates a CBOR descriptor.
func Unmarshal(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := codec.Unmarshal(data, &d); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("decoding: %v", err)}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeString renders the descriptor as unpadded URL-safe base64 over
// the CBOR form, for QR codes and copy-paste.
func (d *Descriptor) EncodeString() (string, error) {
	data, err := d.Marshal()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeString reverses EncodeString.
func DecodeString(s string) (*Descriptor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("base64: %v", err)}
	}
	return Unmarshal(data)
}

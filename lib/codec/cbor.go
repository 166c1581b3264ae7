// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the repository's standard CBOR encoding.
//
// Everything that crosses a connection (endpoint descriptors, tunneled
// requests and responses, pairing payloads) is CBOR. Encoding uses
// Core Deterministic Encoding (RFC 8949 §4.2) so the same logical value
// always produces identical bytes; that matters for handshake payloads,
// where both sides must agree on the exact ciphertext of what was
// mixed into the transcript. Decoding accepts standard CBOR and ignores
// unknown fields, so old clients tolerate new descriptor fields.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Wire maps always use string keys. When decoding into an
		// any-typed target the library must pick a concrete map type;
		// map[string]any keeps the result compatible with encoding/json
		// and the rest of the codebase. Struct decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed CBOR item. The
// claim broker uses this to validate descriptors without decoding them
// into any particular shape.
func Valid(data []byte) bool {
	return decMode.Wellformed(data) == nil
}

// Encoder is a CBOR stream encoder. Type alias so callers import only
// lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value, used to delay decoding.
type RawMessage = cbor.RawMessage

// NewEncoder returns a stream encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

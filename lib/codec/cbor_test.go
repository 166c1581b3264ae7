// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleDescriptor struct {
	PublicKey   []byte   `cbor:"public_key"`
	DirectAddrs []string `cbor:"direct_addrs,omitempty"`
	RelayURL    string   `cbor:"relay_url,omitempty"`
}

func TestRoundtrip(t *testing.T) {
	original := sampleDescriptor{
		PublicKey:   bytes.Repeat([]byte{0xAB}, 32),
		DirectAddrs: []string{"192.168.1.20:7946", "10.0.0.5:7946"},
		RelayURL:    "https://relay.example.net",
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDescriptor
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(decoded.PublicKey, original.PublicKey) ||
		len(decoded.DirectAddrs) != 2 || decoded.RelayURL != original.RelayURL {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"b": 2, "a": 1, "c": []int{3, 2, 1}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestValid(t *testing.T) {
	good, err := Marshal(sampleDescriptor{PublicKey: make([]byte, 32)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !Valid(good) {
		t.Error("Valid rejected well-formed CBOR")
	}
	if Valid([]byte("not cbor at all, just text longer than any header")) {
		t.Error("Valid accepted garbage")
	}
	if Valid(good[:len(good)-1]) {
		t.Error("Valid accepted truncated CBOR")
	}
}

func TestStreamRoundtrip(t *testing.T) {
	descriptors := []sampleDescriptor{
		{PublicKey: bytes.Repeat([]byte{1}, 32), RelayURL: "https://a"},
		{PublicKey: bytes.Repeat([]byte{2}, 32), RelayURL: "https://b"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, d := range descriptors {
		if err := encoder.Encode(d); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := range descriptors {
		var decoded sampleDescriptor
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if decoded.RelayURL != descriptors[i].RelayURL {
			t.Errorf("stream item %d: got %q, want %q", i, decoded.RelayURL, descriptors[i].RelayURL)
		}
	}
}

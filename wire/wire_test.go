// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeMediaRequest(t *testing.T) {
	start, end := int64(0), int64(1023)
	req := Request{
		SessionID:  "hls-abc123",
		Path:       "segments/000.ts",
		RangeStart: &start,
		RangeEnd:   &end,
		AuthToken:  "tok-1",
	}

	data, err := Encode(KindMediaRequest, req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Kind != KindMediaRequest {
		t.Fatalf("Kind = %v, want %v", env.Kind, KindMediaRequest)
	}

	var got Request
	if err := DecodePayload(env, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.SessionID != req.SessionID || got.Path != req.Path {
		t.Errorf("decoded request = %+v", got)
	}
	if got.RangeStart == nil || *got.RangeStart != 0 {
		t.Errorf("RangeStart = %v, want 0", got.RangeStart)
	}
	if got.RangeEnd == nil || *got.RangeEnd != 1023 {
		t.Errorf("RangeEnd = %v, want 1023", got.RangeEnd)
	}
}

func TestRequestOmitsAbsentRange(t *testing.T) {
	data, err := Encode(KindMediaRequest, Request{SessionID: "s", Path: "index.m3u8"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var got Request
	if err := DecodePayload(env, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.RangeStart != nil || got.RangeEnd != nil {
		t.Errorf("absent range decoded as %v..%v, want nil..nil", got.RangeStart, got.RangeEnd)
	}
}

func TestEncodeBarePing(t *testing.T) {
	data, err := EncodeBare(KindPing)
	if err != nil {
		t.Fatalf("EncodeBare: %v", err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Kind != KindPing {
		t.Errorf("Kind = %v, want %v", env.Kind, KindPing)
	}
	if len(env.Payload) != 0 {
		t.Errorf("ping carried a payload: %x", env.Payload)
	}
}

func TestFrameRoundtripSmall(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("control message")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	// Small payloads stay uncompressed: length(4) + flag(1) + body.
	if buf.Len() != 5+len(payload) {
		t.Errorf("frame length = %d, want %d", buf.Len(), 5+len(payload))
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestFrameCompressesLargePayloads(t *testing.T) {
	// Highly compressible payload well above the threshold.
	payload := bytes.Repeat([]byte("#EXTINF:6.0,\nsegment.ts\n"), 512)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() >= 5+len(payload) {
		t.Errorf("frame length = %d, expected compression below %d", buf.Len(), 5+len(payload))
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("decompressed payload differs from original")
	}
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	// Header claiming a payload beyond the cap.
	header := []byte{0xff, 0xff, 0xff, 0xff, 0x00}
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame = %v, want ErrFrameTooLarge", err)
	}

	if err := WriteFrame(&bytes.Buffer{}, make([]byte, MaxFramePayload+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("WriteFrame = %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameRejectsUnknownFlag(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x01, 0x7f, 0xaa})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("ReadFrame accepted an unknown flag byte")
	}
}

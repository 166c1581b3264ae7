// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// MaxFramePayload caps a single frame's payload after decompression.
// Media segments are served in bounded ranges, so anything larger
// indicates a corrupt or hostile stream.
const MaxFramePayload = 16 << 20

// compressThreshold is the payload size above which frames are
// zstd-compressed. Small control messages are not worth the overhead.
const compressThreshold = 1 << 10

// flag byte values. The flag byte follows the length prefix.
const (
	flagNone       = 0x00
	flagCompressed = 0x01
)

// ErrFrameTooLarge reports a frame exceeding MaxFramePayload.
var ErrFrameTooLarge = errors.New("wire: frame too large")

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// WriteFrame writes payload to w as a single frame: a big-endian uint32
// body length, a flag byte, then the body. Payloads above the
// compression threshold are zstd-compressed; compression is skipped
// when it does not shrink the payload (already-compressed media).
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	body := payload
	flag := byte(flagNone)
	if len(payload) > compressThreshold {
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			body = compressed
			flag = flagCompressed
		}
	}

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	header[4] = flag
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload,
// decompressed if the flag byte says so.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	switch header[4] {
	case flagNone:
		return body, nil
	case flagCompressed:
		payload, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing frame: %w", err)
		}
		if len(payload) > MaxFramePayload {
			return nil, ErrFrameTooLarge
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown frame flag 0x%02x", header[4])
	}
}

// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the messages exchanged between a client and an
// instance over an established secure session, and the frame format
// that carries them. Messages are CBOR maps inside a small envelope
// keyed by message kind; frames are length-prefixed with a flag byte so
// large media responses can be transparently compressed.
//
// The relay never sees these messages: by the time a frame crosses a
// relay it is already sealed by the session cipher.
package wire

import (
	"fmt"

	"github.com/mydia-project/mydia/lib/codec"
)

// Kind identifies a message type inside an envelope.
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindPong
	KindPairingRequest
	KindPairingResponse
	KindMediaRequest
	KindMediaResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindPairingRequest:
		return "pairing-request"
	case KindPairingResponse:
		return "pairing-response"
	case KindMediaRequest:
		return "media-request"
	case KindMediaResponse:
		return "media-response"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Envelope wraps a message body with its kind so a receiver can decode
// the payload into the right type.
type Envelope struct {
	Kind    Kind             `cbor:"k"`
	Payload codec.RawMessage `cbor:"p,omitempty"`
}

// PairingRequest asks an instance to redeem a claim code and enroll the
// sending device.
type PairingRequest struct {
	ClaimCode  string `cbor:"claim_code"`
	DeviceName string `cbor:"device_name"`
	DeviceType string `cbor:"device_type"`
	DeviceOS   string `cbor:"device_os"`
}

// PairingResponse reports the outcome of a pairing attempt. On success
// the tokens authorize subsequent media requests and DirectAddrs lists
// the instance's directly reachable addresses for future sessions.
type PairingResponse struct {
	Success     bool     `cbor:"success"`
	MediaToken  string   `cbor:"media_token,omitempty"`
	AccessToken string   `cbor:"access_token,omitempty"`
	DeviceToken string   `cbor:"device_token,omitempty"`
	Error       string   `cbor:"error,omitempty"`
	DirectAddrs []string `cbor:"direct_addrs,omitempty"`
}

// Request asks the instance for a media resource within a streaming
// session. RangeStart and RangeEnd are inclusive byte offsets; nil
// means the corresponding bound is absent, so a full-resource request
// carries neither.
type Request struct {
	SessionID  string `cbor:"session_id"`
	Path       string `cbor:"path"`
	RangeStart *int64 `cbor:"range_start,omitempty"`
	RangeEnd   *int64 `cbor:"range_end,omitempty"`
	AuthToken  string `cbor:"auth_token,omitempty"`
}

// Response carries a media resource back to the client. Status and the
// header fields are relayed to the requesting player verbatim; Body is
// the resource bytes.
type Response struct {
	Status        int    `cbor:"status"`
	ContentType   string `cbor:"content_type,omitempty"`
	ContentLength int64  `cbor:"content_length,omitempty"`
	ContentRange  string `cbor:"content_range,omitempty"`
	CacheControl  string `cbor:"cache_control,omitempty"`
	Body          []byte `cbor:"body,omitempty"`
}

// ErrorMessage reports a request-level failure that is not a media
// response, such as a malformed envelope.
type ErrorMessage struct {
	Message string `cbor:"message"`
}

// Encode wraps a message body in an envelope of the given kind and
// marshals the whole thing.
func Encode(kind Kind, body any) ([]byte, error) {
	payload, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	data, err := codec.Marshal(Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", kind, err)
	}
	return data, nil
}

// EncodeBare marshals an envelope with no payload, for kinds like ping
// and pong that carry none.
func EncodeBare(kind Kind) ([]byte, error) {
	data, err := codec.Marshal(Envelope{Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", kind, err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals an envelope, leaving the payload raw for
// the caller to decode by kind.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &env, nil
}

// DecodePayload unmarshals an envelope's payload into out.
func DecodePayload(env *Envelope, out any) error {
	if err := codec.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", env.Kind, err)
	}
	return nil
}

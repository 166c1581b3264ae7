// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package noise implements the Noise IK handshake used to authenticate
// and encrypt every mydia connection, whether it runs over a direct TCP
// path or through the relay.
//
// The suite is X25519 for Diffie-Hellman, ChaCha20-Poly1305 for AEAD,
// and SHA-256 for the transcript hash and key derivation. IK fits the
// pairing model exactly: the client learns the instance's static public
// key from the endpoint descriptor before it ever connects, so the
// instance is authenticated in the first message and the client's own
// static key travels encrypted inside it. Two messages complete the
// exchange:
//
//	-> e, es, s, ss   (client: fresh ephemeral, encrypted static, payload)
//	<- e, ee, se      (instance: fresh ephemeral, payload)
//
// After the second message both sides call Split to obtain two
// independent directional cipher states; the surviving transcript hash
// is exposed as a channel-binding value.
//
// Phase order is enforced by an explicit message counter. Any call out
// of phase fails with [ErrOutOfOrder]; any authentication failure
// poisons the handshake permanently ([ErrAuthentication], then
// [ErrSessionFailed] for everything after). A failed handshake is never
// resumable; the caller starts over with a fresh claim.
//
// The relay sees only the ciphertext of these messages. It cannot read
// the client's identity, the pairing payload, or anything after Split,
// and any tampering is caught by the AEAD tags bound to the transcript.
package noise

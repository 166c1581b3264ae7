// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package noise

import (
	"fmt"
)

// protocolName identifies the handshake suite. It is mixed into the
// transcript first, so two parties running different suites fail
// immediately rather than negotiating down.
const protocolName = "Noise_IK_25519_ChaChaPoly_SHA256"

// Role distinguishes the two sides of a handshake.
type Role int

const (
	// Initiator is the pairing client. It knows the responder's static
	// public key in advance, from the endpoint descriptor.
	Initiator Role = iota
	// Responder is the instance. It learns the initiator's identity
	// from the encrypted static key in message A.
	Responder
)

// handshake phases, tracked by Handshake.phase. Every public method
// checks the phase before touching state; an out-of-phase call returns
// ErrOutOfOrder without modifying anything.
const (
	phaseMessageA = iota // next: WriteMessageA (initiator) / ReadMessageA (responder)
	phaseMessageB        // next: WriteMessageB (responder) / ReadMessageB (initiator)
	phaseComplete        // next: Split
	phaseSplit           // terminal
)

// Handshake is an in-progress or completed IK key exchange. It is
// strictly sequential: one message per phase, in order, enforced by an
// internal counter. A Handshake is not safe for concurrent use.
type Handshake struct {
	ss     *symmetricState
	role   Role
	phase  int
	failed bool

	s  Keypair       // local static
	e  Keypair       // local ephemeral, generated during the handshake
	rs [KeySize]byte // remote static: known upfront (initiator) or learned (responder)
	re [KeySize]byte // remote ephemeral, learned from the peer's message
}

// NewInitiator creates the client side of a handshake. responderStatic
// is the instance's static public key from the endpoint descriptor; if
// it is wrong, message B fails authentication and the session dies;
// there is no way to complete a handshake against an imposter. The
// optional prologue binds out-of-band context (both sides must supply
// identical bytes or the handshake fails).
func NewInitiator(static Keypair, responderStatic [KeySize]byte, prologue []byte) (*Handshake, error) {
	h, err := newHandshake(Initiator, static, prologue)
	if err != nil {
		return nil, err
	}
	h.rs = responderStatic
	// IK premessage: the responder's static key is mixed into the
	// transcript before any message flows.
	h.ss.mixHash(h.rs[:])
	return h, nil
}

// NewResponder creates the instance side of a handshake.
func NewResponder(static Keypair, prologue []byte) (*Handshake, error) {
	h, err := newHandshake(Responder, static, prologue)
	if err != nil {
		return nil, err
	}
	h.ss.mixHash(h.s.Public[:])
	return h, nil
}

func newHandshake(role Role, static Keypair, prologue []byte) (*Handshake, error) {
	ss, err := initializeSymmetric(protocolName)
	if err != nil {
		return nil, err
	}
	ss.mixHash(prologue)
	return &Handshake{ss: ss, role: role, s: static}, nil
}

// WriteMessageA produces the initiator's first message carrying an
// encrypted application payload (the pairing request). Wire layout:
//
//	ephemeral(32) || encrypted static(32+16) || encrypted payload(len+16)
func (h *Handshake) WriteMessageA(payload []byte) ([]byte, error) {
	if err := h.checkPhase(Initiator, phaseMessageA); err != nil {
		return nil, err
	}

	e, err := GenerateKeypair()
	if err != nil {
		return nil, h.fail(err)
	}
	h.e = e
	h.ss.mixHash(h.e.Public[:])
	msg := append([]byte(nil), h.e.Public[:]...)

	// es
	shared, err := dh(h.e.Private, h.rs)
	if err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	encStatic, err := h.ss.encryptAndHash(h.s.Public[:])
	if err != nil {
		return nil, h.fail(err)
	}
	msg = append(msg, encStatic...)

	// ss
	if shared, err = dh(h.s.Private, h.rs); err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	encPayload, err := h.ss.encryptAndHash(payload)
	if err != nil {
		return nil, h.fail(err)
	}
	msg = append(msg, encPayload...)

	if len(msg) > MaxMessageSize {
		return nil, h.fail(ErrMessageTooLarge)
	}
	h.phase = phaseMessageB
	return msg, nil
}

// ReadMessageA processes the initiator's first message on the
// responder, recovering the initiator's static public key (available
// afterwards via RemoteStatic) and the application payload. Any
// authentication failure is a hard abort: no partial trust exists.
func (h *Handshake) ReadMessageA(message []byte) ([]byte, error) {
	if err := h.checkPhase(Responder, phaseMessageA); err != nil {
		return nil, err
	}
	if len(message) > MaxMessageSize {
		return nil, h.fail(ErrMessageTooLarge)
	}
	// Minimum: ephemeral + sealed static + empty sealed payload.
	if len(message) < KeySize+KeySize+tagSize+tagSize {
		return nil, h.fail(fmt.Errorf("message A truncated (%d bytes): %w", len(message), ErrAuthentication))
	}

	copy(h.re[:], message[:KeySize])
	h.ss.mixHash(h.re[:])

	// es (responder side: static with the initiator's ephemeral)
	shared, err := dh(h.s.Private, h.re)
	if err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	sealedStatic := message[KeySize : KeySize+KeySize+tagSize]
	static, err := h.ss.decryptAndHash(sealedStatic)
	if err != nil {
		return nil, h.fail(err)
	}
	copy(h.rs[:], static)

	// ss
	if shared, err = dh(h.s.Private, h.rs); err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	payload, err := h.ss.decryptAndHash(message[KeySize+KeySize+tagSize:])
	if err != nil {
		return nil, h.fail(err)
	}

	h.phase = phaseMessageB
	return payload, nil
}

// WriteMessageB produces the responder's reply carrying an encrypted
// application payload (the pairing response). Wire layout:
//
//	ephemeral(32) || encrypted payload(len+16)
func (h *Handshake) WriteMessageB(payload []byte) ([]byte, error) {
	if err := h.checkPhase(Responder, phaseMessageB); err != nil {
		return nil, err
	}

	e, err := GenerateKeypair()
	if err != nil {
		return nil, h.fail(err)
	}
	h.e = e
	h.ss.mixHash(h.e.Public[:])
	msg := append([]byte(nil), h.e.Public[:]...)

	// ee
	shared, err := dh(h.e.Private, h.re)
	if err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	// se (responder ephemeral with the initiator's static)
	if shared, err = dh(h.e.Private, h.rs); err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	encPayload, err := h.ss.encryptAndHash(payload)
	if err != nil {
		return nil, h.fail(err)
	}
	msg = append(msg, encPayload...)

	if len(msg) > MaxMessageSize {
		return nil, h.fail(ErrMessageTooLarge)
	}
	h.phase = phaseComplete
	return msg, nil
}

// ReadMessageB processes the responder's reply on the initiator. This
// is where a wrong responder static key surfaces: without the matching
// private key the responder cannot have derived the es and ss secrets,
// so the payload fails authentication here.
func (h *Handshake) ReadMessageB(message []byte) ([]byte, error) {
	if err := h.checkPhase(Initiator, phaseMessageB); err != nil {
		return nil, err
	}
	if len(message) > MaxMessageSize {
		return nil, h.fail(ErrMessageTooLarge)
	}
	if len(message) < KeySize+tagSize {
		return nil, h.fail(fmt.Errorf("message B truncated (%d bytes): %w", len(message), ErrAuthentication))
	}

	copy(h.re[:], message[:KeySize])
	h.ss.mixHash(h.re[:])

	// ee
	shared, err := dh(h.e.Private, h.re)
	if err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	// se (initiator static with the responder's ephemeral)
	if shared, err = dh(h.s.Private, h.re); err != nil {
		return nil, h.fail(err)
	}
	if err := h.ss.mixKey(shared); err != nil {
		return nil, h.fail(err)
	}

	payload, err := h.ss.decryptAndHash(message[KeySize:])
	if err != nil {
		return nil, h.fail(err)
	}

	h.phase = phaseComplete
	return payload, nil
}

// Split derives the two directional transport cipher states. Send
// always refers to the local party's outbound direction, so the
// initiator's send state matches the responder's receive state
// bit-for-bit and vice versa. Split may be called exactly once, after
// message B has been processed.
func (h *Handshake) Split() (send, recv *CipherState, err error) {
	if h.failed {
		return nil, nil, ErrSessionFailed
	}
	if h.phase != phaseComplete {
		return nil, nil, ErrOutOfOrder
	}
	c1, c2, err := h.ss.split()
	if err != nil {
		return nil, nil, h.fail(err)
	}
	h.phase = phaseSplit
	if h.role == Initiator {
		return c1, c2, nil
	}
	return c2, c1, nil
}

// ChannelBinding returns the final transcript hash after the handshake
// completes, usable as a unique channel identifier that both sides
// agree on. Returns nil before message B has been processed.
func (h *Handshake) ChannelBinding() []byte {
	if h.failed || h.phase < phaseComplete {
		return nil
	}
	binding := make([]byte, len(h.ss.h))
	copy(binding, h.ss.h[:])
	return binding
}

// RemoteStatic returns the peer's static public key: the descriptor key
// on the initiator, the key recovered from message A on the responder.
// Zero until known.
func (h *Handshake) RemoteStatic() [KeySize]byte { return h.rs }

// checkPhase validates role and phase for an incoming call.
func (h *Handshake) checkPhase(role Role, phase int) error {
	if h.failed {
		return ErrSessionFailed
	}
	if h.role != role || h.phase != phase {
		return ErrOutOfOrder
	}
	return nil
}

// fail poisons the handshake and passes the error through.
func (h *Handshake) fail(err error) error {
	h.failed = true
	return err
}

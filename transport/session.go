// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mydia-project/mydia/noise"
	"github.com/mydia-project/mydia/wire"
)

// maxPlaintextChunk is the largest plaintext piece sealed into one
// frame. Each chunk carries a one-byte continuation marker, and the
// ciphertext must stay under the handshake suite's message limit.
const maxPlaintextChunk = 32 << 10

// chunk continuation markers, the first plaintext byte of every sealed
// chunk.
const (
	chunkLast = 0x00
	chunkMore = 0x01
)

// Session is an established secure channel over any reliable byte
// stream. Messages of arbitrary size are chunked, sealed with the
// directional session ciphers, and framed; the strict nonce counters
// mean a reordered or replayed frame kills the session.
//
// Sends and receives are internally serialized, so a Session is safe
// for concurrent use, but request/response pairing is the caller's
// concern; RoundTrip holds both locks for its full exchange.
type Session struct {
	conn io.ReadWriteCloser

	sendMu sync.Mutex
	send   *noise.CipherState

	recvMu sync.Mutex
	recv   *noise.CipherState

	remoteStatic [noise.KeySize]byte
	binding      []byte

	closeOnce sync.Once
	closeErr  error
}

// NewClientSession performs the initiator side of the handshake over
// conn, authenticating the peer against remoteStatic. On any handshake
// error the connection is closed and no session exists.
func NewClientSession(conn io.ReadWriteCloser, local noise.Keypair, remoteStatic [noise.KeySize]byte, prologue []byte) (*Session, error) {
	hs, err := noise.NewInitiator(local, remoteStatic, prologue)
	if err != nil {
		conn.Close()
		return nil, err
	}

	msgA, err := hs.WriteMessageA(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := wire.WriteFrame(conn, msgA); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake send: %w", err)
	}

	msgB, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake receive: %w", err)
	}
	if _, err := hs.ReadMessageB(msgB); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return finishSession(conn, hs)
}

// NewServerSession performs the responder side of the handshake over
// conn. The client's identity is available afterwards via RemoteStatic.
func NewServerSession(conn io.ReadWriteCloser, local noise.Keypair, prologue []byte) (*Session, error) {
	hs, err := noise.NewResponder(local, prologue)
	if err != nil {
		conn.Close()
		return nil, err
	}

	msgA, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake receive: %w", err)
	}
	if _, err := hs.ReadMessageA(msgA); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	msgB, err := hs.WriteMessageB(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := wire.WriteFrame(conn, msgB); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake send: %w", err)
	}

	return finishSession(conn, hs)
}

func finishSession(conn io.ReadWriteCloser, hs *noise.Handshake) (*Session, error) {
	send, recv, err := hs.Split()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return &Session{
		conn:         conn,
		send:         send,
		recv:         recv,
		remoteStatic: hs.RemoteStatic(),
		binding:      hs.ChannelBinding(),
	}, nil
}

// RemoteStatic returns the authenticated peer's static public key.
func (s *Session) RemoteStatic() [noise.KeySize]byte { return s.remoteStatic }

// ChannelBinding returns the handshake's channel binding value, unique
// to this session and agreed on by both sides.
func (s *Session) ChannelBinding() []byte { return s.binding }

// Send seals payload and writes it as one logical message.
func (s *Session) Send(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendLocked(payload)
}

func (s *Session) sendLocked(payload []byte) error {
	for {
		n := len(payload)
		marker := byte(chunkLast)
		if n > maxPlaintextChunk {
			n = maxPlaintextChunk
			marker = chunkMore
		}

		chunk := make([]byte, 1+n)
		chunk[0] = marker
		copy(chunk[1:], payload[:n])

		sealed, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return fmt.Errorf("sealing message: %w", err)
		}
		if err := wire.WriteFrame(s.conn, sealed); err != nil {
			return err
		}

		if marker == chunkLast {
			return nil
		}
		payload = payload[n:]
	}
}

// Recv reads and opens one logical message.
func (s *Session) Recv() ([]byte, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	return s.recvLocked()
}

func (s *Session) recvLocked() ([]byte, error) {
	var payload []byte
	for {
		sealed, err := wire.ReadFrame(s.conn)
		if err != nil {
			return nil, err
		}
		chunk, err := s.recv.Decrypt(nil, nil, sealed)
		if err != nil {
			// An authentication failure poisons the session.
			s.Close()
			return nil, fmt.Errorf("opening message: %w", err)
		}
		if len(chunk) == 0 {
			s.Close()
			return nil, fmt.Errorf("message chunk missing marker")
		}
		payload = append(payload, chunk[1:]...)
		if len(payload) > wire.MaxFramePayload {
			s.Close()
			return nil, wire.ErrFrameTooLarge
		}
		if chunk[0] == chunkLast {
			return payload, nil
		}
	}
}

// RoundTrip sends one message and returns the peer's reply. The
// session's send and receive sides are both held for the duration, so
// concurrent round trips queue rather than interleave. Cancelling ctx
// closes the underlying connection; there is no way to abandon a
// half-finished exchange and keep the session.
func (s *Session) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		if err := s.sendLocked(payload); err != nil {
			done <- result{err: err}
			return
		}
		reply, err := s.recvLocked()
		done <- result{reply: reply, err: err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		s.Close()
		<-done
		return nil, ctx.Err()
	}
}

// Request performs one media request round trip over the session.
func (s *Session) Request(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	payload, err := wire.Encode(wire.KindMediaRequest, req)
	if err != nil {
		return nil, err
	}
	replyData, err := s.RoundTrip(ctx, payload)
	if err != nil {
		return nil, err
	}

	env, err := wire.DecodeEnvelope(replyData)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case wire.KindMediaResponse:
		var resp wire.Response
		if err := wire.DecodePayload(env, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	case wire.KindError:
		var em wire.ErrorMessage
		if err := wire.DecodePayload(env, &em); err != nil {
			return nil, err
		}
		return nil, &RemoteError{Message: em.Message}
	default:
		return nil, fmt.Errorf("unexpected reply kind %v", env.Kind)
	}
}

// Ping performs a ping round trip, verifying the session end to end.
func (s *Session) Ping(ctx context.Context) error {
	payload, err := wire.EncodeBare(wire.KindPing)
	if err != nil {
		return err
	}
	replyData, err := s.RoundTrip(ctx, payload)
	if err != nil {
		return err
	}
	env, err := wire.DecodeEnvelope(replyData)
	if err != nil {
		return err
	}
	if env.Kind != wire.KindPong {
		return fmt.Errorf("unexpected reply kind %v", env.Kind)
	}
	return nil
}

// Close tears down the session and its connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

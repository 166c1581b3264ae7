// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/mydia-project/mydia/noise"
	"github.com/mydia-project/mydia/wire"
)

// Handler processes authenticated requests on an instance. The peer
// argument is the requesting client's static public key, verified by
// the handshake.
type Handler interface {
	// HandlePairing decides a pairing request. The returned response is
	// sent verbatim; a refusal is a response with Success false, not an
	// error.
	HandlePairing(ctx context.Context, req *wire.PairingRequest, peer [noise.KeySize]byte) *wire.PairingResponse

	// HandleMedia serves a media request. An error becomes an error
	// message on the wire; the session stays up.
	HandleMedia(ctx context.Context, req *wire.Request, peer [noise.KeySize]byte) (*wire.Response, error)
}

// Listener accepts inbound secure sessions on an instance, from direct
// TCP connections and from relay pipes alike, and dispatches their
// messages to a Handler.
type Listener struct {
	// Identity is the instance's static keypair. Clients authenticate
	// the instance against its public half.
	Identity noise.Keypair

	// Handler receives decoded requests.
	Handler Handler

	// Prologue is mixed into every handshake; dialers must agree.
	Prologue []byte

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

var _ ConnServer = (*Listener)(nil)

// Serve accepts connections from ln until it is closed or ctx is
// cancelled, serving each on its own goroutine.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go l.ServeConn(ctx, conn)
	}
}

// ServeConn runs the handshake on conn and serves its messages until
// the peer goes away or the session dies. The connection is always
// closed on return.
func (l *Listener) ServeConn(ctx context.Context, conn io.ReadWriteCloser) {
	logger := l.logger()

	sess, err := NewServerSession(conn, l.Identity, l.Prologue)
	if err != nil {
		logger.Debug("inbound handshake failed", "error", err)
		return
	}
	defer sess.Close()

	go func() {
		<-ctx.Done()
		sess.Close()
	}()

	for {
		payload, err := sess.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("session receive", "error", err)
			}
			return
		}
		if err := l.dispatch(ctx, sess, payload); err != nil {
			logger.Debug("session send", "error", err)
			return
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, sess *Session, payload []byte) error {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return l.sendError(sess, "malformed envelope")
	}

	switch env.Kind {
	case wire.KindPing:
		reply, err := wire.EncodeBare(wire.KindPong)
		if err != nil {
			return err
		}
		return sess.Send(reply)

	case wire.KindPairingRequest:
		var req wire.PairingRequest
		if err := wire.DecodePayload(env, &req); err != nil {
			return l.sendError(sess, "malformed pairing request")
		}
		resp := l.Handler.HandlePairing(ctx, &req, sess.RemoteStatic())
		reply, err := wire.Encode(wire.KindPairingResponse, resp)
		if err != nil {
			return err
		}
		return sess.Send(reply)

	case wire.KindMediaRequest:
		var req wire.Request
		if err := wire.DecodePayload(env, &req); err != nil {
			return l.sendError(sess, "malformed media request")
		}
		resp, err := l.Handler.HandleMedia(ctx, &req, sess.RemoteStatic())
		if err != nil {
			l.logger().Warn("media request failed", "path", req.Path, "error", err)
			return l.sendError(sess, err.Error())
		}
		reply, err := wire.Encode(wire.KindMediaResponse, resp)
		if err != nil {
			return err
		}
		return sess.Send(reply)

	default:
		return l.sendError(sess, "unsupported message kind")
	}
}

func (l *Listener) sendError(sess *Session, message string) error {
	reply, err := wire.Encode(wire.KindError, wire.ErrorMessage{Message: message})
	if err != nil {
		return err
	}
	return sess.Send(reply)
}

func (l *Listener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport moves wire messages between a client and an
// instance over an authenticated, encrypted session. Two paths exist:
// direct TCP to an address from the endpoint descriptor, and a
// websocket pipe through the relay. Both carry the same session
// protocol; the relay only ever sees ciphertext.
package transport

import (
	"context"
	"errors"

	"github.com/mydia-project/mydia/wire"
)

// Kind names the path a transport runs over.
type Kind string

const (
	KindDirect Kind = "direct"
	KindRelay  Kind = "relay"
)

// Transport is an established path to an instance.
type Transport interface {
	// Request performs one media request round trip.
	Request(ctx context.Context, req *wire.Request) (*wire.Response, error)

	// Kind reports which path this transport runs over.
	Kind() Kind

	// Addr reports the endpoint this transport connected to: the
	// winning direct address, or the relay session URL.
	Addr() string

	// Close tears the path down. Safe to call more than once.
	Close() error
}

// RemoteError is a request-level failure the instance reported over a
// healthy session. The session itself remains usable.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "instance error: " + e.Message }

// ErrClosed reports an operation on a closed session.
var ErrClosed = errors.New("transport: session closed")

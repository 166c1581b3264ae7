// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/mydia-project/mydia/noise"
)

func testKeypair(t *testing.T) noise.Keypair {
	t.Helper()
	kp, err := noise.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

// sessionPair establishes a client and server session over an in-memory
// pipe.
func sessionPair(t *testing.T) (client, server *Session) {
	t.Helper()
	clientKey := testKeypair(t)
	serverKey := testKeypair(t)

	clientConn, serverConn := net.Pipe()
	serverCh := make(chan *Session, 1)
	errCh := make(chan error, 1)
	go func() {
		sess, err := NewServerSession(serverConn, serverKey, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- sess
	}()

	client, err := NewClientSession(clientConn, clientKey, serverKey.Public, nil)
	if err != nil {
		t.Fatalf("NewClientSession: %v", err)
	}
	select {
	case server = <-serverCh:
	case err := <-errCh:
		t.Fatalf("NewServerSession: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	if server.RemoteStatic() != clientKey.Public {
		t.Fatal("server authenticated the wrong client key")
	}
	if !bytes.Equal(client.ChannelBinding(), server.ChannelBinding()) {
		t.Fatal("channel bindings differ")
	}
	return client, server
}

func TestSessionSendRecv(t *testing.T) {
	client, server := sessionPair(t)

	done := make(chan error, 1)
	go func() {
		msg, err := server.Recv()
		if err != nil {
			done <- err
			return
		}
		done <- server.Send(append([]byte("echo: "), msg...))
	}()

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(reply) != "echo: hello" {
		t.Errorf("reply = %q", reply)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestSessionChunksLargeMessages(t *testing.T) {
	client, server := sessionPair(t)

	// Well past the chunk size, so the message spans several frames.
	big := bytes.Repeat([]byte{0xab}, 5*maxPlaintextChunk+17)

	done := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := server.Recv()
		if err != nil {
			errCh <- err
			return
		}
		done <- msg
	}()

	if err := client.Send(big); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-done:
		if !bytes.Equal(got, big) {
			t.Error("large message corrupted in transit")
		}
	case err := <-errCh:
		t.Fatalf("Recv: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	client, server := sessionPair(t)

	go func() {
		for {
			msg, err := server.Recv()
			if err != nil {
				return
			}
			if server.Send(msg) != nil {
				return
			}
		}
	}()

	reply, err := client.RoundTrip(context.Background(), []byte("ping?"))
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if string(reply) != "ping?" {
		t.Errorf("reply = %q", reply)
	}
}

func TestSessionRoundTripCancellation(t *testing.T) {
	client, _ := sessionPair(t)

	// Nobody answers; cancellation must unblock the caller.
	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	if _, err := client.RoundTrip(ctx, []byte("anyone there")); err == nil {
		t.Fatal("RoundTrip returned despite no reply and a cancelled context")
	}
}

func TestClientSessionRejectsWrongServerKey(t *testing.T) {
	clientKey := testKeypair(t)
	serverKey := testKeypair(t)
	wrongKey := testKeypair(t)

	clientConn, serverConn := net.Pipe()
	go func() {
		// Handshake fails on the server; the session never exists.
		if sess, err := NewServerSession(serverConn, serverKey, nil); err == nil {
			sess.Close()
		}
	}()

	if _, err := NewClientSession(clientConn, clientKey, wrongKey.Public, nil); err == nil {
		t.Fatal("handshake succeeded against the wrong server key")
	}
}

// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// forwarder pairs instance and client websockets by instance
// fingerprint and pumps messages between them without looking inside.
// Instances park a waiting connection; a client attaching to the same
// fingerprint consumes it and the two are piped until either side goes
// away.
type forwarder struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiting map[string][]*websocket.Conn
}

func newForwarder(logger *slog.Logger) *forwarder {
	return &forwarder{
		logger:  logger,
		waiting: make(map[string][]*websocket.Conn),
	}
}

// park stores an instance connection until a client attaches.
func (f *forwarder) park(fingerprint string, conn *websocket.Conn) {
	f.mu.Lock()
	f.waiting[fingerprint] = append(f.waiting[fingerprint], conn)
	f.mu.Unlock()
	f.logger.Debug("instance parked", "fingerprint", fingerprint)
}

// take removes and returns one waiting instance connection, or nil.
func (f *forwarder) take(fingerprint string) *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.waiting[fingerprint]
	if len(queue) == 0 {
		return nil
	}
	conn := queue[0]
	rest := queue[1:]
	if len(rest) == 0 {
		delete(f.waiting, fingerprint)
	} else {
		f.waiting[fingerprint] = rest
	}
	return conn
}

func (f *forwarder) waitingCount(fingerprint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiting[fingerprint])
}

// attach pairs a client connection with a waiting instance and pipes
// them until either side disconnects. Both connections are closed on
// return.
func (f *forwarder) attach(fingerprint string, client *websocket.Conn) {
	instance := f.take(fingerprint)
	if instance == nil {
		// Raced out between the pre-upgrade check and now.
		deadline := time.Now().Add(time.Second)
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "no instance attached"), deadline)
		client.Close()
		return
	}

	f.logger.Debug("session piped", "fingerprint", fingerprint)
	errs := make(chan error, 2)
	go pump(instance, client, errs)
	go pump(client, instance, errs)
	<-errs

	instance.Close()
	client.Close()
	f.logger.Debug("session ended", "fingerprint", fingerprint)
}

// pump copies messages from src to dst until either side errors.
func pump(dst, src *websocket.Conn, errs chan<- error) {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		if err := dst.WriteMessage(messageType, data); err != nil {
			errs <- err
			return
		}
	}
}

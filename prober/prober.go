// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package prober keeps a client connected to its instance. It probes
// the direct path first and falls back to the relay, retrying with
// exponential backoff while disconnected. Once a path is established it
// is kept until it breaks or the prober is asked to look again; an
// established relay session is never torn down just because a direct
// probe failed.
package prober

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mydia-project/mydia/lib/clock"
	"github.com/mydia-project/mydia/pairing"
	"github.com/mydia-project/mydia/transport"
)

// Status describes the prober's connection state.
type Status string

const (
	StatusDisconnected    Status = "disconnected"
	StatusProbing         Status = "probing"
	StatusConnectedDirect Status = "connected-direct"
	StatusConnectedRelay  Status = "connected-relay"
)

// State is a snapshot of the prober.
type State struct {
	Status   Status
	Failures int
	LastErr  string
}

// Result reports the outcome of one probe attempt.
type Result struct {
	// Kind is the established path, empty when the attempt failed.
	Kind transport.Kind
	// Address is the endpoint that answered: the winning direct
	// address or the relay session URL. Empty when the attempt failed.
	Address string
	// Attempts is how many attempts this connection cycle has taken,
	// this one included. It resets each time a path is established.
	Attempts int
	// Err is the attempt's failure, nil on success.
	Err error
	// At is when the attempt finished.
	At time.Time
}

// Dialer establishes one kind of path to the instance.
type Dialer interface {
	Dial(ctx context.Context, desc *pairing.Descriptor) (transport.Transport, error)
}

// Config configures a Prober.
type Config struct {
	// Descriptor names the instance to stay connected to.
	Descriptor *pairing.Descriptor

	// Direct dials the direct path. Nil disables direct probing.
	Direct Dialer

	// Relay dials the relay path. Nil disables the relay fallback.
	Relay Dialer

	// ProbeTimeout bounds one full attempt (direct plus fallback).
	// Zero means 10 seconds.
	ProbeTimeout time.Duration

	// InitialBackoff is the delay before the first retry after a
	// failed attempt. Zero means 5 seconds. Each further failure
	// doubles the delay up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay. Zero means 80 seconds.
	MaxBackoff time.Duration

	// Clock supplies time. Nil means the real clock.
	Clock clock.Clock

	// Logger is optional; nil means slog.Default.
	Logger *slog.Logger
}

// Prober maintains the connection. All methods are safe for concurrent
// use; the probing itself runs on a single internal goroutine.
type Prober struct {
	desc           *pairing.Descriptor
	direct, relay  Dialer
	probeTimeout   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	results chan Result
	kick    chan struct{}

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	state    State
	current  transport.Transport
	attempts int
}

// New creates a Prober.
func New(cfg Config) *Prober {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 80 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Prober{
		desc:           cfg.Descriptor,
		direct:         cfg.Direct,
		relay:          cfg.Relay,
		probeTimeout:   cfg.ProbeTimeout,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		results:        make(chan Result, 16),
		kick:           make(chan struct{}, 1),
		state:          State{Status: StatusDisconnected},
	}
}

// Start launches the probe loop and triggers an immediate first
// attempt. Starting an already started prober is a no-op, as is
// starting one whose descriptor offers nothing its dialers can reach:
// no direct addresses and no relay means there is nothing to probe.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || !p.canDialLocked() {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(p.stopCh)
	p.kickLocked()
}

// Stop halts probing and closes any established transport. Stopping an
// already stopped prober is a no-op. A stopped prober can be started
// again.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}
	p.state = State{Status: StatusDisconnected}
	p.mu.Unlock()
}

// ProbeNow resets the failure counter and triggers an immediate
// attempt, skipping any pending backoff. A no-op when not started.
func (p *Prober) ProbeNow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.state.Failures = 0
	p.kickLocked()
}

// canDialLocked reports whether at least one path has both a dialer
// and an endpoint to aim it at.
func (p *Prober) canDialLocked() bool {
	if p.desc == nil {
		return false
	}
	if p.direct != nil && len(p.desc.DirectAddrs) > 0 {
		return true
	}
	return p.relay != nil && p.desc.RelayURL != ""
}

func (p *Prober) kickLocked() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Results returns the stream of probe outcomes. The channel is shared
// and buffered; outcomes are dropped rather than blocking the prober
// when nobody reads.
func (p *Prober) Results() <-chan Result { return p.results }

// State returns a snapshot of the prober's status.
func (p *Prober) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transport returns the established transport, or nil while
// disconnected.
func (p *Prober) Transport() transport.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Prober) run(stopCh chan struct{}) {
	defer p.wg.Done()

	var retryCh <-chan time.Time
	for {
		select {
		case <-stopCh:
			return
		case <-p.kick:
		case <-retryCh:
			retryCh = nil
		}

		if p.attempt(stopCh) {
			retryCh = nil
			continue
		}

		p.mu.Lock()
		delay := p.backoffLocked()
		p.mu.Unlock()
		p.logger.Debug("probe failed, backing off", "delay", delay)
		retryCh = p.clock.After(delay)
	}
}

// backoffLocked returns the delay before the next retry: the initial
// backoff doubled per consecutive failure, capped.
func (p *Prober) backoffLocked() time.Duration {
	delay := p.initialBackoff
	for i := 1; i < p.state.Failures; i++ {
		delay *= 2
		if delay >= p.maxBackoff {
			return p.maxBackoff
		}
	}
	if delay > p.maxBackoff {
		delay = p.maxBackoff
	}
	return delay
}

// attempt runs one probe: direct first, then the relay fallback.
// Returns true when a path is established.
func (p *Prober) attempt(stopCh chan struct{}) bool {
	p.mu.Lock()
	p.attempts++
	attempts := p.attempts
	hadCurrent := p.current != nil
	if !hadCurrent {
		p.state.Status = StatusProbing
	}
	tryDirect := p.direct != nil && len(p.desc.DirectAddrs) > 0
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.probeTimeout)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var lastErr error
	if tryDirect {
		t, err := p.direct.Dial(ctx, p.desc)
		if err == nil {
			p.install(t, attempts)
			return true
		}
		lastErr = err
		p.logger.Debug("direct probe failed", "error", err)
	}

	p.mu.Lock()
	stillConnected := p.current != nil
	p.mu.Unlock()
	if stillConnected {
		// Direct did not pan out but the existing relay session works;
		// leave it alone and report the direct failure.
		p.fail(lastErr, attempts)
		return true
	}

	if p.relay != nil {
		t, err := p.relay.Dial(ctx, p.desc)
		if err == nil {
			p.install(t, attempts)
			return true
		}
		lastErr = err
		p.logger.Debug("relay probe failed", "error", err)
	}

	p.fail(lastErr, attempts)
	return false
}

// install records a newly established transport, replacing and closing
// any previous one, and starts a fresh attempt cycle.
func (p *Prober) install(t transport.Transport, attempts int) {
	p.mu.Lock()
	old := p.current
	p.current = t
	p.attempts = 0
	p.state.Failures = 0
	p.state.LastErr = ""
	switch t.Kind() {
	case transport.KindDirect:
		p.state.Status = StatusConnectedDirect
	default:
		p.state.Status = StatusConnectedRelay
	}
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	p.logger.Info("path established", "kind", t.Kind(), "addr", t.Addr(), "attempts", attempts)
	p.emit(Result{Kind: t.Kind(), Address: t.Addr(), Attempts: attempts, At: p.clock.Now()})
}

// fail records a failed attempt.
func (p *Prober) fail(err error, attempts int) {
	p.mu.Lock()
	p.state.Failures++
	if err != nil {
		p.state.LastErr = err.Error()
	}
	if p.current == nil {
		p.state.Status = StatusDisconnected
	}
	p.mu.Unlock()
	p.emit(Result{Err: err, Attempts: attempts, At: p.clock.Now()})
}

func (p *Prober) emit(r Result) {
	select {
	case p.results <- r:
	default:
	}
}

// Disconnected tells the prober its transport just broke, for example
// after a failed media request. The transport is closed and probing
// resumes immediately.
func (p *Prober) Disconnected() {
	p.mu.Lock()
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}
	p.state.Status = StatusDisconnected
	started := p.started
	if started {
		p.kickLocked()
	}
	p.mu.Unlock()
}

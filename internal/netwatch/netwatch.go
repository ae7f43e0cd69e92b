// Package netwatch answers "is the network usable right now?" and reports
// when it comes back.
package netwatch

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/logging"
)

// Oracle is the network availability source consumed by the sync engine.
type Oracle interface {
	IsAvailable() bool
	// OnBecameAvailable registers cb, replacing any previous callback. cb
	// runs on every offline to online transition.
	OnBecameAvailable(cb func())
	// OffBecameAvailable removes the callback.
	OffBecameAvailable()
}

// state is the availability flag plus transition callback shared by every
// Oracle in this package.
type state struct {
	mu        sync.Mutex
	available bool
	cb        func()
}

func (s *state) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *state) OnBecameAvailable(cb func()) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *state) OffBecameAvailable() {
	s.mu.Lock()
	s.cb = nil
	s.mu.Unlock()
}

// set records v and fires the callback outside the lock on a rising edge.
// It reports whether the value changed.
func (s *state) set(v bool) bool {
	s.mu.Lock()
	was := s.available
	s.available = v
	cb := s.cb
	s.mu.Unlock()

	if v && !was && cb != nil {
		cb()
	}
	return v != was
}

// Static is an Oracle whose answer is set by the caller. It backs the
// "online" and "offline" network modes and tests.
type Static struct {
	state
}

// NewStatic returns an Oracle fixed at available.
func NewStatic(available bool) *Static {
	s := &Static{}
	s.available = available
	return s
}

// Set changes availability, firing the callback when it becomes true.
func (s *Static) Set(available bool) {
	s.set(available)
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	// Address is a host:port reachable only with working connectivity.
	Address  string
	Interval time.Duration
	Timeout  time.Duration
	Logger   logrus.FieldLogger
}

// DefaultProberConfig probes a public DNS resolver every 15 seconds.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Address:  "1.1.1.1:53",
		Interval: 15 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// Prober polls a TCP endpoint and reports availability.
type Prober struct {
	state
	cfg    ProberConfig
	logger logrus.FieldLogger
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewProber creates a Prober. It reports unavailable until the first probe.
func NewProber(cfg ProberConfig) *Prober {
	def := DefaultProberConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	d := &net.Dialer{}
	return &Prober{
		cfg:    cfg,
		logger: logging.ForComponent(cfg.Logger, "netwatch"),
		dial:   d.DialContext,
	}
}

// Probe dials once and updates availability.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.cfg.Address)
	ok := err == nil
	if ok {
		_ = conn.Close()
	}

	if p.set(ok) {
		if ok {
			p.logger.Info("network available")
		} else {
			p.logger.WithError(err).Info("network unavailable")
		}
	}
	return ok
}

// Start runs one probe synchronously, then keeps probing every Interval
// until Stop or ctx is canceled.
func (p *Prober) Start(ctx context.Context) {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.runMu.Unlock()

	p.Probe(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit.
func (p *Prober) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.runMu.Unlock()

	p.wg.Wait()
}

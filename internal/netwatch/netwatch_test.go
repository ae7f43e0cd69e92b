package netwatch

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskflow/taskflow/internal/logging"
)

func TestStatic_Transitions(t *testing.T) {
	s := NewStatic(false)
	var fired int32
	s.OnBecameAvailable(func() { atomic.AddInt32(&fired, 1) })

	if s.IsAvailable() {
		t.Fatal("IsAvailable() = true, want false")
	}
	s.Set(true)
	s.Set(true) // no rising edge
	s.Set(false)
	s.Set(true)

	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Errorf("callback fired %d times, want 2", got)
	}

	s.OffBecameAvailable()
	s.Set(false)
	s.Set(true)
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Errorf("callback fired after OffBecameAvailable: %d", got)
	}
}

func TestProber_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := NewProber(ProberConfig{Address: ln.Addr().String(), Timeout: time.Second, Logger: logging.Discard()})
	if !p.Probe(context.Background()) {
		t.Fatal("Probe() against a live listener = false")
	}

	ln.Close()
	if p.Probe(context.Background()) {
		t.Error("Probe() against a closed listener = true")
	}
	if p.IsAvailable() {
		t.Error("IsAvailable() should follow the last probe")
	}
}

func TestProber_FiresOnRecovery(t *testing.T) {
	var up atomic.Bool
	p := NewProber(ProberConfig{Address: "example:1", Interval: 10 * time.Millisecond, Logger: logging.Discard()})
	p.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		if !up.Load() {
			return nil, errors.New("unreachable")
		}
		c1, c2 := net.Pipe()
		c2.Close()
		return c1, nil
	}

	recovered := make(chan struct{}, 1)
	p.OnBecameAvailable(func() {
		select {
		case recovered <- struct{}{}:
		default:
		}
	})

	p.Start(context.Background())
	defer p.Stop()

	if p.IsAvailable() {
		t.Fatal("should start unavailable")
	}
	up.Store(true)

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for recovery callback")
	}
	if !p.IsAvailable() {
		t.Error("IsAvailable() = false after recovery")
	}
}

func TestProber_StopIsIdempotent(t *testing.T) {
	p := NewProber(ProberConfig{Address: "127.0.0.1:1", Interval: time.Hour, Timeout: 50 * time.Millisecond, Logger: logging.Discard()})
	p.Stop()
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}

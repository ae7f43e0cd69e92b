package sync

import (
	"context"
	gosync "sync"
	"time"
)

// DefaultMinInterval is the minimum time between automatic attempts.
const DefaultMinInterval = 30 * time.Second

// SkipReason says why the Scheduler refused an attempt.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipInFlight        SkipReason = "already_in_flight"
	SkipTooSoon         SkipReason = "too_soon"
	SkipOffline         SkipReason = "offline"
	SkipUnauthenticated SkipReason = "unauthenticated"
)

// Admission is the Scheduler's answer to RequestSync.
type Admission struct {
	Proceed bool
	Reason  SkipReason
	// Remaining is set with SkipTooSoon.
	Remaining time.Duration
	// UID is the account an admitted attempt runs for.
	UID string
}

// SchedulerConfig configures a Scheduler. Zero values take defaults.
type SchedulerConfig struct {
	MinInterval time.Duration
	Now         func() time.Time
}

// Scheduler gates sync attempts. State is idle or syncing plus the start
// time of the last admitted attempt. Safe for concurrent use.
type Scheduler struct {
	network     Network
	identity    Identity
	minInterval time.Duration
	now         func() time.Time

	mu      gosync.Mutex
	syncing bool
	last    time.Time
	// released is closed when the current holder calls Complete.
	released chan struct{}
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(network Network, identity Identity, cfg SchedulerConfig) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		network:     network,
		identity:    identity,
		minInterval: cfg.MinInterval,
		now:         cfg.Now,
	}
}

// RequestSync admits an attempt iff the scheduler is idle, enough time has
// passed since the last admitted attempt (unless forced), the network is
// available and an account is signed in. Checks run in that order and the
// first failing one is reported. Never blocks.
//
// On admission the scheduler becomes syncing and the attempt start becomes
// the new last-sync time. The caller MUST call Complete afterwards.
func (s *Scheduler) RequestSync(forced bool) Admission {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncing {
		return Admission{Reason: SkipInFlight}
	}

	now := s.now()
	if !forced && !s.last.IsZero() {
		if elapsed := now.Sub(s.last); elapsed < s.minInterval {
			return Admission{Reason: SkipTooSoon, Remaining: s.minInterval - elapsed}
		}
	}
	if !s.network.IsAvailable() {
		return Admission{Reason: SkipOffline}
	}
	uid := s.identity.UID()
	if uid == "" {
		return Admission{Reason: SkipUnauthenticated}
	}

	s.syncing = true
	s.last = now
	s.released = make(chan struct{})
	return Admission{Proceed: true, UID: uid}
}

// Complete returns the scheduler to idle. Calling it while idle is a no-op.
func (s *Scheduler) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.syncing {
		return
	}
	s.syncing = false
	close(s.released)
	s.released = nil
}

// Acquire waits until the scheduler is idle and takes the gate without the
// network, account or interval checks and without touching the last-sync
// time. While held, RequestSync reports SkipInFlight. Release with Complete.
//
// Used to run work that must not overlap a sync attempt, such as wiping the
// local store when a different account signs in.
func (s *Scheduler) Acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.syncing {
			s.syncing = true
			s.released = make(chan struct{})
			s.mu.Unlock()
			return nil
		}
		released := s.released
		s.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InFlight reports whether the gate is held.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// LastSync returns the start time of the last admitted attempt, or the zero
// time if none.
func (s *Scheduler) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset forgets the last-sync time so the next automatic request is not
// rate limited. Used after an account switch.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Time{}
}

package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/logging"
)

var (
	// ErrWipeFailed means the local store could not be purged for a new
	// account. The sign-in did not happen.
	ErrWipeFailed = errors.New("failed to wipe local data for new account")

	// ErrEmptyUID is returned by SignIn for a blank account id.
	ErrEmptyUID = errors.New("account id is empty")
)

// Gate serializes the guard against sync attempts.
type Gate interface {
	Acquire(ctx context.Context) error
	Complete()
	Reset()
}

// Store is the local store as seen by the guard. It records the account
// whose tasks it holds.
type Store interface {
	Owner(ctx context.Context) (string, error)
	SetOwner(ctx context.Context, uid string) error
	// Reassign wipes every task and records uid as the owner atomically.
	Reassign(ctx context.Context, uid string) error
}

// Guard enforces that the local store only ever holds one account's tasks.
// It is also the engine's source of the current identity.
//
// The recorded session is re-read on every UID and Session call, so a
// sign-in made by another process sharing the data dir is picked up by the
// next sync request.
type Guard struct {
	gate     Gate
	store    Store
	recorder Recorder
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.RWMutex
	session Session
}

// NewGuard loads the recorded session. A nil logger logs to stderr.
func NewGuard(gate Gate, store Store, recorder Recorder, logger logrus.FieldLogger) (*Guard, error) {
	session, err := recorder.Load()
	if err != nil {
		return nil, err
	}
	return &Guard{
		gate:     gate,
		store:    store,
		recorder: recorder,
		logger:   logging.ForComponent(logger, "account"),
		now:      time.Now,
		session:  session,
	}, nil
}

// UID returns the signed-in account id, or "" when signed out.
func (g *Guard) UID() string {
	return g.current().UID
}

// Session returns the current session.
func (g *Guard) Session() Session {
	return g.current()
}

// current reloads the recorded session, falling back to the last one read.
func (g *Guard) current() Session {
	s, err := g.recorder.Load()

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.logger.WithError(err).Warn("failed to reload session, using last known")
		return g.session
	}
	g.session = s
	return s
}

// SignIn switches to uid. It waits for any in-flight sync, then wipes the
// local store if it holds another account's data, and only then records
// the new identity. On a wipe failure the previous session is kept and the
// error wraps ErrWipeFailed.
//
// Another account's data is detected from both the recorded last_uid and
// the owner stored in the local database.
func (g *Guard) SignIn(ctx context.Context, uid, email string) (wiped bool, err error) {
	if uid == "" {
		return false, ErrEmptyUID
	}
	if err := g.gate.Acquire(ctx); err != nil {
		return false, fmt.Errorf("failed to wait for sync to finish: %w", err)
	}
	defer g.gate.Complete()

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, err := g.recorder.Load()
	if err != nil {
		return false, err
	}
	owner, err := g.store.Owner(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read local store owner: %w", err)
	}

	log := g.logger.WithFields(logrus.Fields{"last_uid": prev.LastUID, "owner": owner, "uid": uid})
	if (prev.LastUID != "" && prev.LastUID != uid) || (owner != "" && owner != uid) {
		log.Info("different account signed in, clearing local data")
		if err := g.store.Reassign(ctx, uid); err != nil {
			log.WithError(err).Error("local wipe failed")
			g.session = prev
			return false, fmt.Errorf("%w: %w", ErrWipeFailed, err)
		}
		wiped = true
	}

	next := Session{
		UID:        uid,
		Email:      email,
		LastUID:    uid,
		SignedInAt: g.now().UTC(),
	}
	if err := g.recorder.Save(next); err != nil {
		// Do not leave the wiped store looking like the previous account's.
		g.session = prev
		if wiped {
			g.session = Session{}
			_ = g.recorder.Save(g.session)
		}
		return wiped, fmt.Errorf("failed to record session: %w", err)
	}
	g.session = next

	if !wiped && owner == "" {
		if err := g.store.SetOwner(ctx, uid); err != nil {
			log.WithError(err).Warn("failed to record local store owner")
		}
	}
	g.gate.Reset()
	log.WithField("wiped", wiped).Info("signed in")
	return wiped, nil
}

// SignOut ends the session. Local data stays; it is wiped on the next
// sign-in only if a different account signs in.
func (g *Guard) SignOut(ctx context.Context) error {
	if err := g.gate.Acquire(ctx); err != nil {
		return fmt.Errorf("failed to wait for sync to finish: %w", err)
	}
	defer g.gate.Complete()

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, err := g.recorder.Load()
	if err != nil {
		return err
	}
	next := Session{LastUID: prev.LastUID}
	if err := g.recorder.Save(next); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	g.logger.WithField("uid", prev.UID).Info("signed out")
	g.session = next
	return nil
}

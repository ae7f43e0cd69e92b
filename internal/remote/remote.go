// Package remote provides the per-account cloud copy of the task list.
//
// A Backend stores task documents for any user, keyed "task_<id>" inside the
// user's collection. Scoped binds a Backend to whoever is currently signed
// in and turns every call into a silent no-op while nobody is.
package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/task"
)

var (
	// ErrUnauthenticated is returned by a Backend called with an empty uid.
	ErrUnauthenticated = errors.New("no authenticated account")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown remote backend")
)

// Backend is a document store holding one task collection per user.
type Backend interface {
	// Upsert writes t as the document task_<t.ID> in uid's collection.
	Upsert(ctx context.Context, uid string, t *task.Task) error
	// FetchAll returns every task in uid's collection, ordered by id.
	FetchAll(ctx context.Context, uid string) ([]*task.Task, error)
	// Delete removes task_<id> from uid's collection. Missing documents are
	// not an error.
	Delete(ctx context.Context, uid string, id int64) error
	Close() error
}

// Identity reports the signed-in account. An empty uid means signed out.
type Identity interface {
	UID() string
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func() string

// UID implements Identity.
func (f IdentityFunc) UID() string { return f() }

// Scoped is the account-scoped remote store used by the sync engine.
type Scoped struct {
	backend  Backend
	identity Identity
	logger   logrus.FieldLogger

	mu sync.Mutex
	// rejected holds "uid/task_<id>" of invalid documents already logged.
	rejected map[string]bool
}

// NewScoped binds backend to the account reported by identity.
func NewScoped(backend Backend, identity Identity) *Scoped {
	return &Scoped{
		backend:  backend,
		identity: identity,
		logger:   logging.ForComponent(nil, "remote"),
		rejected: make(map[string]bool),
	}
}

// WithLogger sets the logger used to report invalid documents.
func (s *Scoped) WithLogger(logger logrus.FieldLogger) *Scoped {
	s.logger = logging.ForComponent(logger, "remote")
	return s
}

// Upsert publishes t for the signed-in account. No-op when signed out.
func (s *Scoped) Upsert(ctx context.Context, t *task.Task) error {
	uid := s.identity.UID()
	if uid == "" {
		return nil
	}
	return s.backend.Upsert(ctx, uid, t)
}

// FetchAll returns the signed-in account's tasks, or nothing when signed out.
// Documents that do not hold a valid task are left out; each is logged the
// first time it is seen.
func (s *Scoped) FetchAll(ctx context.Context) ([]*task.Task, error) {
	uid := s.identity.UID()
	if uid == "" {
		return []*task.Task{}, nil
	}
	tasks, err := s.backend.FetchAll(ctx, uid)
	if err != nil {
		return nil, err
	}

	valid := tasks[:0]
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			s.reject(uid, t, err)
			continue
		}
		valid = append(valid, t)
	}
	return valid, nil
}

func (s *Scoped) reject(uid string, t *task.Task, err error) {
	key := uid + "/" + t.DocKey()
	s.mu.Lock()
	seen := s.rejected[key]
	s.rejected[key] = true
	s.mu.Unlock()
	if seen {
		return
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"uid": uid,
		"doc": t.DocKey(),
	}).Warn("skipping invalid remote document")
}

// Delete removes one task for the signed-in account. No-op when signed out.
func (s *Scoped) Delete(ctx context.Context, id int64) error {
	uid := s.identity.UID()
	if uid == "" {
		return nil
	}
	return s.backend.Delete(ctx, uid, id)
}

// IsTransient reports whether err is worth retrying on a later attempt
// (timeouts and unavailable backends) rather than a permanent rejection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	return false
}

func requireUID(uid string) error {
	if uid == "" {
		return ErrUnauthenticated
	}
	return nil
}

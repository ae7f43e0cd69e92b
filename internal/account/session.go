// Package account keeps the local store bound to a single signed-in
// identity.
//
// The session file records who is signed in now and who was signed in last.
// The last identity survives sign-out so that signing in as someone else can
// be detected and the local store purged before any sync runs.
package account

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// SessionFileName is the default session file name inside the data dir.
const SessionFileName = "session.toml"

// Session is the persisted sign-in state.
type Session struct {
	// UID is the signed-in account, empty when signed out.
	UID   string `toml:"uid"`
	Email string `toml:"email,omitempty"`
	// LastUID is the account whose data the local store holds. Kept across
	// sign-out.
	LastUID    string    `toml:"last_uid"`
	SignedInAt time.Time `toml:"signed_in_at"`
}

// SignedIn reports whether an account is active.
func (s Session) SignedIn() bool {
	return s.UID != ""
}

// Recorder persists a Session.
type Recorder interface {
	Load() (Session, error)
	Save(Session) error
}

// FileRecorder stores the session as TOML. Writes go to a temp file that is
// renamed over the target so a crash never leaves a torn file.
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

// NewFileRecorder returns a recorder for path.
func NewFileRecorder(path string) *FileRecorder {
	return &FileRecorder{path: path}
}

// Path returns the session file path.
func (r *FileRecorder) Path() string {
	return r.path
}

// Load reads the session. A missing file is an empty session.
func (r *FileRecorder) Load() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Session
	_, err := toml.DecodeFile(r.path, &s)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session %s: %w", r.path, err)
	}
	return s, nil
}

// Save writes the session atomically.
func (r *FileRecorder) Save(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	tmpPath := r.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(s); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, r.path)
}

// MemoryRecorder keeps the session in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	session Session
	// SaveErr, when set, fails every Save.
	SaveErr error
}

// Load implements Recorder.
func (m *MemoryRecorder) Load() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, nil
}

// Save implements Recorder.
func (m *MemoryRecorder) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.session = s
	return nil
}

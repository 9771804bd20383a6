// Package lifecycle implements the Lock & Lifecycle surface (§4.9): a
// single-instance file lock with PID-liveness staleness detection, and
// the engine's run/shutdown orchestration. File permissions and error
// wrapping follow the teacher's internal/storage/storage.go discipline
// (0o600 regular files, fmt.Errorf-wrapped causes) even though the lock
// file's O_EXCL acquisition has no direct teacher precedent.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"
)

// lockPayload is the contents of the lock file: which process holds it
// and when it started, so a later process can tell a crashed owner from
// a live one (§4.9).
type lockPayload struct {
	Owner     string    `json:"owner"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents a held single-instance lock on a directory.
type Lock struct {
	path  string
	owner string
}

// Acquire takes the single-instance lock for dir, refusing if a live
// process already holds it. A lock file left behind by a process whose
// PID is no longer alive is treated as stale and silently reclaimed.
func Acquire(dir, owner string) (*Lock, error) {
	path := dir + "/engine.lock"

	if err := tryReclaimStale(path); err != nil {
		return nil, err
	}

	payload := lockPayload{Owner: owner, PID: os.Getpid(), StartedAt: time.Now().UTC()}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: marshal lock payload: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lifecycle: lock %s held by a live process", path)
		}
		return nil, fmt.Errorf("lifecycle: creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("lifecycle: writing lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("lifecycle: fsync lock file: %w", err)
	}

	return &Lock{path: path, owner: owner}, nil
}

// Owner returns the identity that acquired the lock.
func (l *Lock) Owner() string {
	if l == nil {
		return ""
	}
	return l.owner
}

// tryReclaimStale removes path if it holds a lock whose owning PID is no
// longer alive. Any other condition (missing file, live owner, unreadable
// payload) is left for Acquire's O_EXCL create to adjudicate.
func tryReclaimStale(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from operator-provided storage dir
	if err != nil {
		return nil // no existing lock, or unreadable: let O_EXCL decide
	}

	var payload lockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil // corrupt lock file; O_EXCL will refuse to acquire over it
	}

	if processAlive(payload.PID) {
		return nil
	}
	return os.Remove(path)
}

// processAlive reports whether pid names a still-running process, using
// the POSIX signal-0 probe (teacher's storage.go assumes POSIX paths for
// its own EXDEV handling; this lock makes the same assumption).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Release removes the lock file. It is idempotent; releasing an
// already-released lock is not an error.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lifecycle: releasing lock file: %w", err)
	}
	return nil
}

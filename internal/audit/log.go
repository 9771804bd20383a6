// Package audit implements the append-only JSONL audit trail (§4.8).
// Durability follows the teacher's storage.go discipline (temp file,
// fsync, atomic rename) where the teacher rewrites a whole file; here we
// append under O_APPEND and fsync after every record instead, since the
// contract is append-only, never rewrite-in-place.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBytes is the default rotation threshold (§4.8: "Rotation is
// by size or day").
const DefaultMaxBytes = 64 * 1024 * 1024

// Log is an append-only JSONL audit log with size- and day-based rotation.
type Log struct {
	mu          sync.Mutex
	dir         string
	prefix      string
	maxBytes    int64
	health      *logrus.Logger
	file        *os.File
	currentDay  string
	currentSize int64
	unhealthy   bool
}

// NewLog creates a Log rooted at dir, writing files named
// "<prefix>-YYYY-MM-DD.jsonl" (and ".1", ".2"... past maxBytes).
// health receives structured diagnostics about the log's own operation,
// mirroring the teacher's pairing of a log.Logger for the hot path and a
// logrus.Logger for the dashboard/diagnostics lane.
func NewLog(dir, prefix string, maxBytes int64, health *logrus.Logger) (*Log, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if health == nil {
		health = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: creating directory: %w", err)
	}
	return &Log{dir: dir, prefix: prefix, maxBytes: maxBytes, health: health}, nil
}

// Healthy reports whether the most recent append succeeded. A write
// failure marks the log unhealthy but never rolls back the action that
// triggered it (§4.8): audit captures intent, and the record can be
// re-reconciled from broker state.
func (l *Log) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.unhealthy
}

// Append writes one audit record as a single JSON line, fsyncing before
// returning. Records are never mutated once written.
func (l *Log) Append(rec models.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.TimestampUTC.IsZero() {
		rec.TimestampUTC = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		l.unhealthy = true
		l.health.WithError(err).Error("audit: failed to marshal record")
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	line = append(line, '\n')

	if err := l.ensureFile(rec.TimestampUTC); err != nil {
		l.unhealthy = true
		l.health.WithError(err).Error("audit: failed to open log file")
		return fmt.Errorf("audit: open log file: %w", err)
	}

	n, err := l.file.Write(line)
	if err != nil {
		l.unhealthy = true
		l.health.WithError(err).Error("audit: failed to append record")
		return fmt.Errorf("audit: append record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.unhealthy = true
		l.health.WithError(err).Error("audit: failed to fsync log file")
		return fmt.Errorf("audit: fsync log file: %w", err)
	}

	l.currentSize += int64(n)
	l.unhealthy = false
	return nil
}

// ensureFile rotates to a new file by day or by size threshold, reusing
// an already-open handle for the common case of consecutive appends on
// the same day below the byte threshold.
func (l *Log) ensureFile(ts time.Time) error {
	day := ts.Format("2006-01-02")

	if l.file != nil && day == l.currentDay && l.currentSize < l.maxBytes {
		return nil
	}

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.health.WithError(err).Warn("audit: error closing previous log file")
		}
		l.file = nil
	}

	path := l.rotatedPath(day)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}

	l.file = f
	l.currentDay = day
	l.currentSize = info.Size()
	return nil
}

// rotatedPath picks the next available suffix ("", ".1", ".2"...) under
// maxBytes for the given day, so a byte-threshold rotation within a
// single day does not clobber the prior segment.
func (l *Log) rotatedPath(day string) string {
	base := filepath.Join(l.dir, fmt.Sprintf("%s-%s.jsonl", l.prefix, day))
	info, err := os.Stat(base)
	if err != nil || info.Size() < l.maxBytes {
		return base
	}
	for i := 1; ; i++ {
		candidate := filepath.Join(l.dir, fmt.Sprintf("%s-%s.jsonl.%d", l.prefix, day, i))
		info, err := os.Stat(candidate)
		if err != nil || info.Size() < l.maxBytes {
			return candidate
		}
	}
}

// Tail returns up to the last n records across the log directory's
// rotated files, oldest first, for internal/statusapi's /audit/tail
// surface. It reads files directly rather than through the open
// handle, since the most recent records may live in an already-closed
// rotated segment as well as the current one.
func (l *Log) Tail(n int) ([]models.AuditRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	l.mu.Lock()
	if l.file != nil {
		_ = l.file.Sync()
	}
	l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("audit: reading log directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), l.prefix+"-") {
			names = append(names, e.Name())
		}
	}
	// Order by day, then by rotation suffix numerically ("", ".1", ...,
	// ".9", ".10"), so segments are read oldest first.
	sort.Slice(names, func(i, j int) bool {
		bi, si, _ := strings.Cut(names[i], ".jsonl")
		bj, sj, _ := strings.Cut(names[j], ".jsonl")
		if bi != bj {
			return bi < bj
		}
		if len(si) != len(sj) {
			return len(si) < len(sj)
		}
		return si < sj
	})

	var records []models.AuditRecord
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(l.dir, name)) // #nosec G304 -- name enumerated from l.dir
		if err != nil {
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if line == "" {
				continue
			}
			var rec models.AuditRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

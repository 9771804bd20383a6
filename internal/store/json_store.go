// Package store implements the Strategy Store (§4.4): persistence of
// the strategy collection with atomic whole-file writes. The durability
// recipe — temp file in the same directory, restrictive permissions,
// fsync, atomic rename with an EXDEV fallback, and a parent-directory
// fsync — is carried over unchanged from the teacher's
// internal/storage/storage.go, generalized from a single current
// position to a keyed collection of strategies.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// Document is the on-disk representation: a map keyed by strategy id so
// upsert/delete are natural map operations, plus a last-updated stamp
// for diagnostics.
type Document struct {
	LastUpdated time.Time                   `json:"last_updated"`
	Strategies  map[string]*models.Strategy `json:"strategies"`
}

// JSONStore implements the Strategy Store against a single JSON file.
// All reads and writes take the in-process RWMutex; cross-process
// exclusivity is provided separately by internal/lifecycle's advisory
// file lock (§4.4: "a single-writer lock is held for the duration of a
// cycle's mutations").
type JSONStore struct {
	mu       sync.RWMutex
	filepath string
	doc      *Document
}

// NewJSONStore opens or creates the store at filePath.
func NewJSONStore(filePath string) (*JSONStore, error) {
	s := &JSONStore{
		filepath: filePath,
		doc:      &Document{Strategies: make(map[string]*models.Strategy)},
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating parent directory: %w", err)
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("store: loading: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: stat: %w", err)
	}

	return s, nil
}

// load reads and canonicalizes the on-disk document. Must be called
// with the lock held (only from NewJSONStore and LoadAll).
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.filepath) // #nosec G304 -- filepath fixed at construction
	if err != nil {
		return err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Strategies == nil {
		doc.Strategies = make(map[string]*models.Strategy)
	}
	for _, strat := range doc.Strategies {
		canon, err := models.CanonicalizeVariant(string(strat.Variant))
		if err != nil {
			return fmt.Errorf("store: strategy %s: %w", strat.ID, err)
		}
		strat.Variant = canon
	}
	s.doc = &doc
	return nil
}

// LoadAll reloads the store from disk and returns every strategy,
// canonicalizing both hyphenated and underscored variant spellings on
// read (§4.4).
func (s *JSONStore) LoadAll() ([]*models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.allLocked(), nil
}

func (s *JSONStore) allLocked() []*models.Strategy {
	out := make([]*models.Strategy, 0, len(s.doc.Strategies))
	for _, strat := range s.doc.Strategies {
		out = append(out, strat)
	}
	return out
}

// Load returns one strategy by id from the in-memory document (not
// re-read from disk; call LoadAll first for a fresh view).
func (s *JSONStore) Load(id string) (*models.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strat, ok := s.doc.Strategies[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return strat, nil
}

// Upsert inserts or replaces a strategy and persists the document
// atomically. The strategy's variant is canonicalized before the write
// so the on-disk form is always the canonical spelling (§4.4).
func (s *JSONStore) Upsert(strat *models.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canon, err := models.CanonicalizeVariant(string(strat.Variant))
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", strat.ID, err)
	}
	strat.Variant = canon
	s.doc.Strategies[strat.ID] = strat
	return s.saveLocked()
}

// Delete removes a strategy by id and persists the document atomically.
// Deleting an unknown id is a no-op, not an error.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Strategies, id)
	return s.saveLocked()
}

// ListActive returns every strategy considered active at now per
// Strategy.IsActive (§4.1, §4.4).
func (s *JSONStore) ListActive(now time.Time) ([]*models.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Strategy
	for _, strat := range s.doc.Strategies {
		if strat.IsActive(now) {
			out = append(out, strat)
		}
	}
	return out, nil
}

// saveLocked writes the document atomically. Must be called with the
// lock held.
func (s *JSONStore) saveLocked() error {
	s.doc.LastUpdated = time.Now().UTC()

	dir := filepath.Dir(s.filepath)
	f, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return err
	}
	tmpFile := f.Name()

	if err := f.Chmod(0o600); err != nil {
		return fmt.Errorf("store: setting temp file permissions: %w", err)
	}

	defer func() {
		if f != nil {
			_ = f.Close()
		}
		if tmpFile != "" {
			_ = os.Remove(tmpFile)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.doc); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		f = nil
		return err
	}
	f = nil

	dirSynced := false
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := s.copyFile(tmpFile, s.filepath); copyErr != nil {
				return fmt.Errorf("store: copying temp file across devices: %w", copyErr)
			}
			dirSynced = true
		} else {
			return fmt.Errorf("store: renaming temp file: %w", err)
		}
	}
	tmpFile = ""

	if !dirSynced {
		if err := s.syncParentDir(); err != nil {
			return fmt.Errorf("store: syncing parent directory: %w", err)
		}
	}
	return nil
}

// copyFile copies src to dst via a same-directory temp file, for the
// rare cross-device rename case (§4.4: "write-to-temp-then-rename").
func (s *JSONStore) copyFile(src, dst string) error {
	if err := s.validateFilePath(src); err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	if err := s.validateFilePath(dst); err != nil {
		return fmt.Errorf("invalid destination path: %w", err)
	}

	srcFile, err := os.Open(src) // #nosec G304 -- validated above
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	dstDir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dstDir, ".tmp_*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(srcInfo.Mode()); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}
	if _, err := io.Copy(tmp, srcFile); err != nil {
		return fmt.Errorf("copying to temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("renaming temp file to destination: %w", err)
	}
	tmpName = ""

	if dir, err := os.Open(dstDir); err == nil { // #nosec G304 -- validated above
		defer func() { _ = dir.Close() }()
		if err := dir.Sync(); err != nil {
			return fmt.Errorf("fsyncing destination directory: %w", err)
		}
	}
	return nil
}

// validateFilePath rejects any path that resolves outside the store's
// own directory, guarding against symlink or traversal tricks reaching
// copyFile with an attacker-influenced destination.
func (s *JSONStore) validateFilePath(path string) error {
	storageRoot := filepath.Dir(s.filepath)
	storageRootAbs, err := filepath.Abs(filepath.Clean(storageRoot))
	if err != nil {
		return fmt.Errorf("resolving storage root: %w", err)
	}
	storageRootResolved, err := filepath.EvalSymlinks(storageRootAbs)
	if err != nil {
		return fmt.Errorf("resolving symlinks in storage root: %w", err)
	}

	targetAbs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	var targetResolved string
	if _, statErr := os.Stat(targetAbs); statErr == nil {
		resolved, err := filepath.EvalSymlinks(targetAbs)
		if err != nil {
			return fmt.Errorf("resolving symlinks in target: %w", err)
		}
		targetResolved = resolved
	} else if os.IsNotExist(statErr) {
		parentResolved, err := filepath.EvalSymlinks(filepath.Dir(targetAbs))
		if err != nil {
			return fmt.Errorf("resolving symlinks in target parent: %w", err)
		}
		targetResolved = filepath.Join(parentResolved, filepath.Base(targetAbs))
	} else {
		return fmt.Errorf("stat target path: %w", statErr)
	}

	relPath, err := filepath.Rel(storageRootResolved, targetResolved)
	if err != nil {
		return fmt.Errorf("computing relative path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes storage directory: %s (resolved to %s)", path, targetResolved)
	}
	return nil
}

// syncParentDir fsyncs the directory containing the store file so the
// rename's directory entry survives a crash.
func (s *JSONStore) syncParentDir() error {
	dir, err := os.Open(filepath.Dir(s.filepath)) // #nosec G304 -- fixed at construction
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()
	return dir.Sync()
}

// Package store implements the dual-scope session state store.
//
// Session state lives in exactly one of two scopes: the durable scope, a JSON
// file on disk that survives process restarts, and the ephemeral scope, an
// in-memory map with the lifetime of the client. Reads resolve durable first,
// then ephemeral. Every write to one scope removes the key from the other so
// the two scopes can never disagree about who holds the live session.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/opsboard/opsboard-go/internal/types"
	"github.com/pkg/errors"
)

// Scope identifies which backing scope a write lands in.
type Scope int

const (
	// Durable persists across process restarts.
	Durable Scope = iota
	// Ephemeral lives only as long as the process.
	Ephemeral
)

// Well-known session keys.
const (
	KeyToken    = "token"
	KeyUser     = "user"
	KeyRemember = "rememberPreference"
)

// Store is a two-scope key-value store for session state.
type Store struct {
	mu        sync.Mutex
	path      string
	durable   map[string]string
	ephemeral map[string]string
	logger    types.Logger
}

// New creates a store whose durable scope is backed by the file at path.
// A missing file means an empty durable scope; a corrupt file is discarded.
func New(path string, logger types.Logger) *Store {
	s := &Store{
		path:      path,
		durable:   make(map[string]string),
		ephemeral: make(map[string]string),
		logger:    logger,
	}
	s.loadDurable()
	return s
}

// Get resolves key against the durable scope first, then the ephemeral scope.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.durable[key]; ok {
		return v, true
	}
	v, ok := s.ephemeral[key]
	return v, ok
}

// Set writes key into the given scope and removes it from the other, so a key
// is held by at most one scope at any time.
func (s *Store) Set(scope Scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case Durable:
		s.durable[key] = value
		delete(s.ephemeral, key)
	case Ephemeral:
		s.ephemeral[key] = value
		delete(s.durable, key)
	}
	return s.flushDurable()
}

// Delete removes key from both scopes.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.durable, key)
	delete(s.ephemeral, key)
	return s.flushDurable()
}

// Clear wipes both scopes.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durable = make(map[string]string)
	s.ephemeral = make(map[string]string)
	return s.flushDurable()
}

// loadDurable reads the durable scope from disk. Unreadable or corrupt state
// is treated as "no session" and discarded.
func (s *Store) loadDurable() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("Failed to read session state", "path", s.path, "error", err)
		}
		return
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		if s.logger != nil {
			s.logger.Warn("Discarding corrupt session state", "path", s.path, "error", err)
		}
		_ = os.Remove(s.path)
		return
	}
	s.durable = m
}

// flushDurable writes the durable scope to disk with restrictive permissions.
// Callers must hold s.mu. An empty durable scope removes the file.
func (s *Store) flushDurable() error {
	if s.path == "" {
		return nil
	}

	if len(s.durable) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove session state file")
		}
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create session state directory")
	}

	data, err := json.MarshalIndent(s.durable, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session state")
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write session state file")
	}
	return nil
}

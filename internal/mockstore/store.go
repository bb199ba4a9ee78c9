// Package mockstore is the local backend: every collection lives in one JSON
// document mirrored to a key/value store under a versioned key. It is used
// for demos, tests and offline operation, and implements the same
// repository interfaces as the remote backend.
package mockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/lifecycle"
)

const (
	VersionPrefix = "vector_mock_db_"
	CurrentKey    = VersionPrefix + "v3"
	PreviousKey   = VersionPrefix + "v2"
	SessionKey    = "vector_mock_session"
	PINPrefix     = "vector_pin_"
)

type Store struct {
	kv     kv.Store
	logger *slog.Logger
	now    func() time.Time
	grace  time.Duration

	mu     sync.RWMutex
	doc    Document
	loaded bool
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now, mainly for lifecycle tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithNoShowGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

func New(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		logger: slog.Default(),
		now:    time.Now,
		grace:  lifecycle.DefaultNoShowGrace,
		doc:    emptyDocument(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loadSource int

const (
	sourceEmpty loadSource = iota
	sourceCurrent
	sourceMigrated
	sourceCorrupt
)

// Load replaces the in-memory document with the persisted one, migrating
// from the previous version key when the current one is absent, then applies
// the lifecycle rules. Anything that changed is written back before Load
// returns.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, source, err := s.read(ctx)
	if err != nil {
		return err
	}

	normalized, changed := lifecycle.Normalize(doc.Appointments, s.now().UTC(), s.grace)
	doc.Appointments = normalized

	if source == sourceMigrated || changed > 0 {
		if err := s.write(ctx, doc); err != nil {
			return err
		}
	}
	if changed > 0 {
		s.logger.Info("appointments normalized on load", "changed", changed)
	}

	s.doc = doc
	s.loaded = true
	return nil
}

func (s *Store) read(ctx context.Context) (Document, loadSource, error) {
	raw, err := s.kv.Get(ctx, CurrentKey)
	switch {
	case err == nil:
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.logger.Error("persisted store is corrupt, starting empty",
				"key", CurrentKey, "error", err)
			return emptyDocument(), sourceCorrupt, nil
		}
		doc.fillNil()
		return doc, sourceCurrent, nil
	case !errors.Is(err, kv.ErrNotFound):
		return Document{}, sourceEmpty, fmt.Errorf("read %s: %w", CurrentKey, err)
	}

	legacy, err := s.kv.Get(ctx, PreviousKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return emptyDocument(), sourceEmpty, nil
	case err != nil:
		return Document{}, sourceEmpty, fmt.Errorf("read %s: %w", PreviousKey, err)
	}

	doc, err := migrateV2(legacy)
	if err != nil {
		s.logger.Error("previous store version is corrupt, starting empty",
			"key", PreviousKey, "error", err)
		return emptyDocument(), sourceCorrupt, nil
	}
	s.logger.Info("migrated store from previous version",
		"from", PreviousKey, "to", CurrentKey,
		"appointments", len(doc.Appointments))
	return doc, sourceMigrated, nil
}

func (s *Store) write(ctx context.Context, doc Document) error {
	doc.fillNil()
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := s.kv.Set(ctx, CurrentKey, data); err != nil {
		return fmt.Errorf("write %s: %w", CurrentKey, err)
	}
	return nil
}

// Save writes every collection and the init flag in one write.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.write(ctx, s.doc)
}

// Reset empties every collection and removes all versioned documents and
// per-user PIN keys. It is irreversible.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc = emptyDocument()

	versions, err := kv.DeletePrefix(ctx, s.kv, VersionPrefix)
	if err != nil {
		return fmt.Errorf("reset: remove documents: %w", err)
	}
	pins, err := kv.DeletePrefix(ctx, s.kv, PINPrefix)
	if err != nil {
		return fmt.Errorf("reset: remove pins: %w", err)
	}

	s.logger.Warn("store reset", "documents_removed", versions, "pins_removed", pins)
	return nil
}

// Snapshot returns a deep copy of the in-memory document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Init
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// mutate applies fn to a copy of the document and only swaps it in after
// the copy has been written, so a failed write leaves memory untouched.
func (s *Store) mutate(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.write(ctx, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// Package tokens keeps the persisted token aggregate for one credential
// identity. All access is serialized and the last loaded value is
// memoized so repeated reads do not touch the backend.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
	"github.com/alexjbarnes/authkeeper/internal/models"
	"github.com/alexjbarnes/authkeeper/internal/securestore"
)

// Store is a serialized, memoized view of one key in a backend.
type Store struct {
	backend securestore.Backend
	key     string
	logger  *slog.Logger

	mu     sync.Mutex
	loaded bool
	cached *models.Tokens
}

// NewStore creates a store for the tokens persisted under key.
func NewStore(backend securestore.Backend, key string, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		key:     key,
		logger:  logger,
	}
}

// GetLatestTokens returns the memoized tokens, loading them from the
// backend on the first call. It returns nil when nothing is stored.
// Payloads in the legacy schema are converted and saved back in the
// current schema before being returned.
func (s *Store) GetLatestTokens(ctx context.Context) (*models.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return copyTokens(s.cached), nil
	}

	raw, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: loading tokens: %w", autherrors.ErrStorage, err)
	}

	if !ok {
		s.loaded = true
		s.cached = nil

		return nil, nil
	}

	t, err := models.DecodeTokens([]byte(raw))
	if err != nil {
		legacy, legacyErr := models.DecodeLegacyTokens([]byte(raw))
		if legacyErr != nil {
			return nil, fmt.Errorf("%w: %w (legacy decode: %w)", autherrors.ErrCorruptTokens, err, legacyErr)
		}

		s.logger.Info("migrating tokens from legacy schema",
			slog.String("key", s.key),
			slog.String("level", string(legacy.Credentials.Level())),
		)

		if err := s.saveLocked(ctx, legacy); err != nil {
			return nil, err
		}

		return copyTokens(s.cached), nil
	}

	s.loaded = true
	s.cached = &t

	return copyTokens(s.cached), nil
}

// SaveTokens persists t and then updates the memoized value.
func (s *Store) SaveTokens(ctx context.Context, t models.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(ctx, t)
}

// EraseTokens clears both the backend and the memoized value.
func (s *Store) EraseTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.RemoveAll(ctx); err != nil {
		return fmt.Errorf("%w: erasing tokens: %w", autherrors.ErrStorage, err)
	}

	s.loaded = true
	s.cached = nil

	return nil
}

// Invalidate drops the memoized value so the next read reloads it.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.cached = nil
	s.mu.Unlock()
}

// WatchBackend invalidates the memo whenever the backend reports an
// external change. It blocks until ctx is cancelled and returns nil
// immediately for backends that cannot watch.
func (s *Store) WatchBackend(ctx context.Context) error {
	w, ok := securestore.AsWatcher(s.backend)
	if !ok {
		return nil
	}

	return w.Watch(ctx, func() {
		s.logger.Debug("token backend changed, dropping cache", slog.String("key", s.key))
		s.Invalidate()
	})
}

func (s *Store) saveLocked(ctx context.Context, t models.Tokens) error {
	data, err := models.EncodeTokens(t)
	if err != nil {
		return fmt.Errorf("%w: encoding tokens: %w", autherrors.ErrStorage, err)
	}

	if err := s.backend.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: saving tokens: %w", autherrors.ErrStorage, err)
	}

	t.Version = models.TokensSchemaVersion
	t.Credentials = t.Credentials.Clone()
	s.loaded = true
	s.cached = &t

	return nil
}

func copyTokens(t *models.Tokens) *models.Tokens {
	if t == nil {
		return nil
	}

	cp := *t
	cp.Credentials = t.Credentials.Clone()

	return &cp
}

package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"offlinesync/internal/models"

	"github.com/rs/zerolog"
)

const defaultRecoveryInterval = time.Minute

// FailoverStore writes to a durable primary and falls back to an in-memory
// store while the primary is failing. Operations buffered in the fallback are
// moved back to the primary once it answers again.
type FailoverStore struct {
	primary   Store
	fallback  Store
	logger    *zerolog.Logger
	recovery  time.Duration
	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
	now       func() time.Time
	// removals issued while the primary was unreachable
	removed      map[string]struct{}
	clearPending bool
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recovery: defaultRecoveryInterval,
		now:      time.Now,
		removed:  make(map[string]struct{}),
	}
}

// Degraded reports whether writes currently go to the fallback.
func (s *FailoverStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDown
}

func (s *FailoverStore) markDown(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isDown {
		s.logger.Error().Err(err).Str("op", op).Msg("Primary queue store failed, falling back to memory")
	}
	s.isDown = true
	s.lastCheck = s.now()
}

// usePrimary decides whether to try the primary, running a recovery attempt
// after the cool-down expires.
func (s *FailoverStore) usePrimary(ctx context.Context) bool {
	s.mu.Lock()
	down := s.isDown
	due := down && s.now().Sub(s.lastCheck) > s.recovery
	s.mu.Unlock()

	if !down {
		return true
	}
	if !due {
		return false
	}
	return s.recover(ctx)
}

func (s *FailoverStore) recover(ctx context.Context) bool {
	if _, err := s.primary.Size(ctx); err != nil {
		s.mu.Lock()
		s.lastCheck = s.now()
		s.mu.Unlock()
		return false
	}

	if err := s.replayRemovals(ctx); err != nil {
		s.mu.Lock()
		s.lastCheck = s.now()
		s.mu.Unlock()
		return false
	}

	buffered, err := s.fallback.List(ctx)
	if err != nil {
		return false
	}
	for i := range buffered {
		op := buffered[i]
		err := s.primary.Enqueue(ctx, &op)
		if errors.Is(err, ErrDuplicateID) {
			// the primary applied the write before failing
			err = nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("id", op.ID).Msg("Failed to move buffered operation to primary store")
			s.mu.Lock()
			s.lastCheck = s.now()
			s.mu.Unlock()
			return false
		}
		_ = s.fallback.Remove(ctx, op.ID)
	}

	s.mu.Lock()
	s.isDown = false
	s.mu.Unlock()
	s.logger.Info().Int("moved", len(buffered)).Msg("Primary queue store recovered")
	return true
}

func (s *FailoverStore) replayRemovals(ctx context.Context) error {
	s.mu.Lock()
	clearPending := s.clearPending
	ids := make([]string, 0, len(s.removed))
	for id := range s.removed {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if clearPending {
		if err := s.primary.Clear(ctx); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := s.primary.Remove(ctx, id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.clearPending = false
	for _, id := range ids {
		delete(s.removed, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *FailoverStore) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if s.usePrimary(ctx) {
		err := s.primary.Enqueue(ctx, op)
		if err == nil {
			return nil
		}
		if !isStorageFault(err) {
			return err
		}
		s.markDown("enqueue", err)
	}
	return s.fallback.Enqueue(ctx, op)
}

func (s *FailoverStore) List(ctx context.Context) ([]models.SyncOperation, error) {
	if s.usePrimary(ctx) {
		ops, err := s.primary.List(ctx)
		if err == nil {
			return ops, nil
		}
		s.markDown("list", err)
	}
	return s.fallback.List(ctx)
}

func (s *FailoverStore) Update(ctx context.Context, op models.SyncOperation) (bool, error) {
	if s.usePrimary(ctx) {
		found, err := s.primary.Update(ctx, op)
		if err == nil {
			return found, nil
		}
		s.markDown("update", err)
	}
	return s.fallback.Update(ctx, op)
}

func (s *FailoverStore) Remove(ctx context.Context, id string) error {
	// Remove from both so an item buffered during an outage cannot come back.
	_ = s.fallback.Remove(ctx, id)
	if s.usePrimary(ctx) {
		err := s.primary.Remove(ctx, id)
		if err == nil {
			return nil
		}
		s.markDown("remove", err)
	}
	s.mu.Lock()
	s.removed[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *FailoverStore) Clear(ctx context.Context) error {
	_ = s.fallback.Clear(ctx)
	if s.usePrimary(ctx) {
		err := s.primary.Clear(ctx)
		if err == nil {
			return nil
		}
		s.markDown("clear", err)
	}
	s.mu.Lock()
	s.clearPending = true
	s.removed = make(map[string]struct{})
	s.mu.Unlock()
	return nil
}

func (s *FailoverStore) Size(ctx context.Context) (int, error) {
	if s.usePrimary(ctx) {
		n, err := s.primary.Size(ctx)
		if err == nil {
			return n, nil
		}
		s.markDown("size", err)
	}
	return s.fallback.Size(ctx)
}

func (s *FailoverStore) Close() error {
	_ = s.fallback.Close()
	return s.primary.Close()
}

package approval

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// RepositoryPort loads threshold configuration.
type RepositoryPort interface {
	LoadRuleset(ctx context.Context) (*Ruleset, error)
}

// Store holds the active ruleset behind a versioned pointer. Readers always
// see a complete, immutable ruleset; Reload swaps in a fresh one atomically.
type Store struct {
	repo    RepositoryPort
	logger  *slog.Logger
	current atomic.Pointer[Ruleset]
	version atomic.Int64
}

// NewStore constructs a Store seeded with an initial ruleset.
func NewStore(repo RepositoryPort, logger *slog.Logger, initial *Ruleset) *Store {
	s := &Store{repo: repo, logger: logger}
	if initial == nil {
		initial = NewRuleset(nil, nil)
	}
	s.current.Store(initial)
	s.version.Store(1)
	return s
}

// Current returns the active ruleset.
func (s *Store) Current() *Ruleset {
	return s.current.Load()
}

// Version returns a monotonic counter bumped on each swap.
func (s *Store) Version() int64 {
	return s.version.Load()
}

// Swap replaces the active ruleset.
func (s *Store) Swap(rs *Ruleset) {
	if rs == nil {
		return
	}
	s.current.Store(rs)
	s.version.Add(1)
}

// Reload fetches thresholds from the repository and swaps them in. The
// previous ruleset stays active when loading fails, and an unchanged ruleset
// does not bump the version.
func (s *Store) Reload(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	rs, err := s.repo.LoadRuleset(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("reload approval thresholds", slog.Any("error", err))
		}
		return err
	}
	if current := s.Current(); current != nil && current.Equal(rs) {
		return nil
	}
	s.Swap(rs)
	return nil
}

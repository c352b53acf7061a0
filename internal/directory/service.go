package directory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort defines data access methods for the directory.
type RepositoryPort interface {
	GetPerson(ctx context.Context, id int64) (Person, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
}

// Service resolves actors and suppliers for the ordering flows.
type Service struct {
	repo          RepositoryPort
	systemActorID int64
	logger        *slog.Logger
}

// NewService builds Service. systemActorID names the account that audit
// records fall back to when a caller cannot be resolved.
func NewService(repo RepositoryPort, systemActorID int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, systemActorID: systemActorID, logger: logger}
}

// ResolveActor looks up the acting person. An unknown or unreadable actor
// resolves to the system account with Fallback set, so ledger writes never
// block on directory state.
func (s *Service) ResolveActor(ctx context.Context, actorID int64) shared.Actor {
	if actorID > 0 {
		p, err := s.repo.GetPerson(ctx, actorID)
		if err == nil && p.IsActive {
			return shared.Actor{ID: p.ID, Name: p.Name, Role: p.Role}
		}
		if err != nil && !errors.Is(err, ErrPersonNotFound) {
			s.logger.Warn("actor lookup failed, using system account", "actor_id", actorID, "error", err)
		}
	}
	return shared.Actor{ID: s.systemActorID, Name: "system", Role: "system", Fallback: true}
}

// CheckSupplier verifies the supplier exists and is active.
func (s *Service) CheckSupplier(ctx context.Context, id int64) (Supplier, error) {
	sup, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	if !sup.IsActive {
		return Supplier{}, ErrSupplierInactive
	}
	return sup, nil
}

package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian/internal/platform/cache"
)

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQuantity(ctx context.Context, productID int64) (int64, error)
}

// TxRepository exposes transactional stock operations.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) error
	DeleteMovement(ctx context.Context, ref string) (Movement, bool, error)
	GetLevelForUpdate(ctx context.Context, productID int64) (Level, bool, error)
	UpsertLevel(ctx context.Context, level Level) error
}

// Service owns the product stock ledger consumed by the purchase engine.
// Concurrent movements for the same product serialize on the level row lock
// and, across instances, on a redis mutex.
type Service struct {
	repo   RepositoryPort
	mutex  *cache.Mutex
	logger *slog.Logger
}

// NewService builds Service. The mutex may be nil in tests; the row lock
// alone then serializes within one process.
func NewService(repo RepositoryPort, mutex *cache.Mutex, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, mutex: mutex, logger: logger}
}

// GetCurrentQuantity reads current stock for a product.
func (s *Service) GetCurrentQuantity(ctx context.Context, productID int64) (int64, error) {
	return s.repo.GetQuantity(ctx, productID)
}

// ApplyDelta applies a signed quantity change. Safe to retry with the same
// ref: a reference already on file leaves stock untouched.
func (s *Service) ApplyDelta(ctx context.Context, productID, qty int64, ref string) error {
	if qty == 0 {
		return ErrInvalidQuantity
	}
	if ref == "" {
		return ErrRefRequired
	}

	if s.mutex != nil {
		release, err := s.mutex.Acquire(ctx, cache.StockLockKey(productID))
		if err != nil {
			return err
		}
		defer release()
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertMovement(ctx, Movement{
			ProductID: productID,
			Qty:       qty,
			Ref:       ref,
			PostedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		level, found, err := tx.GetLevelForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if !found {
			level = Level{ProductID: productID}
		}
		level.Qty += qty
		if level.Qty < 0 {
			return ErrNegativeStock
		}
		level.UpdatedAt = time.Now().UTC()
		return tx.UpsertLevel(ctx, level)
	})
	if errors.Is(err, ErrDuplicateRef) {
		s.logger.Debug("stock movement already applied",
			slog.String("ref", ref), slog.Int64("product_id", productID))
		return nil
	}
	return err
}

// RevertDelta removes a previously applied movement and restores the level,
// so the same ref can be applied again. Reverting a ref that is not on file
// is a no-op.
func (s *Service) RevertDelta(ctx context.Context, productID int64, ref string) error {
	if ref == "" {
		return ErrRefRequired
	}

	if s.mutex != nil {
		release, err := s.mutex.Acquire(ctx, cache.StockLockKey(productID))
		if err != nil {
			return err
		}
		defer release()
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, found, err := tx.DeleteMovement(ctx, ref)
		if err != nil {
			return err
		}
		if !found {
			s.logger.Debug("stock movement not on file, nothing to revert",
				slog.String("ref", ref), slog.Int64("product_id", productID))
			return nil
		}
		level, found, err := tx.GetLevelForUpdate(ctx, m.ProductID)
		if err != nil {
			return err
		}
		if !found {
			level = Level{ProductID: m.ProductID}
		}
		level.Qty -= m.Qty
		if level.Qty < 0 {
			return ErrNegativeStock
		}
		level.UpdatedAt = time.Now().UTC()
		return tx.UpsertLevel(ctx, level)
	})
}

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RepositoryPort abstracts ledger storage.
type RepositoryPort interface {
	Insert(ctx context.Context, rec Record) (int64, error)
	Query(ctx context.Context, filter Filter) ([]Record, int, error)
}

// Ledger is the append-only audit store facade. Append failures always
// surface to the caller.
type Ledger struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(repo RepositoryPort, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger, now: time.Now}
}

// Append persists the record and returns its id.
func (l *Ledger) Append(ctx context.Context, rec Record) (int64, error) {
	if rec.Entity == "" || rec.EntityID == "" || rec.Action == "" {
		return 0, ErrIncomplete
	}
	if rec.At.IsZero() {
		rec.At = l.now()
	}
	id, err := l.repo.Insert(ctx, rec)
	if err != nil {
		l.logger.Error("audit append",
			slog.String("entity", rec.Entity),
			slog.String("entity_id", rec.EntityID),
			slog.String("action", rec.Action),
			slog.Any("error", err))
		return 0, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	return id, nil
}

// Query returns records matching the filter, newest first, with the total
// count for paging.
func (l *Ledger) Query(ctx context.Context, filter Filter) ([]Record, int, error) {
	normalise(&filter)
	return l.repo.Query(ctx, filter)
}

// QueryByEntity lists records for one entity.
func (l *Ledger) QueryByEntity(ctx context.Context, entity, entityID string, page, perPage int) ([]Record, int, error) {
	return l.Query(ctx, Filter{Entity: entity, EntityID: entityID, Page: page, PerPage: perPage})
}

// QueryByActor lists records produced by one actor.
func (l *Ledger) QueryByActor(ctx context.Context, actorID int64, page, perPage int) ([]Record, int, error) {
	return l.Query(ctx, Filter{ActorID: actorID, Page: page, PerPage: perPage})
}

// QueryByTimeRange lists records inside [from, to].
func (l *Ledger) QueryByTimeRange(ctx context.Context, from, to time.Time, page, perPage int) ([]Record, int, error) {
	return l.Query(ctx, Filter{From: from, To: to, Page: page, PerPage: perPage})
}

func normalise(filter *Filter) {
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
}

// Package audithttp exposes read-only audit ledger queries over HTTP.
package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/meridian/internal/audit"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

const (
	defaultPerPage = 20
	maxDateRange   = 90 * 24 * time.Hour
)

// Handler serves audit timeline queries.
type Handler struct {
	logger *slog.Logger
	ledger *audit.Ledger
	now    func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, ledger *audit.Ledger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, ledger: ledger, now: time.Now}
}

type recordView struct {
	ID        int64          `json:"id"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Action    string         `json:"action"`
	ActorID   int64          `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	Diff      any            `json:"diff,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	At        time.Time      `json:"at"`
}

type timelineResponse struct {
	Records    []recordView      `json:"records"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}

	records, total, err := h.ledger.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:        rec.ID,
			Entity:    rec.Entity,
			EntityID:  rec.EntityID,
			Action:    rec.Action,
			ActorID:   rec.ActorID,
			ActorName: rec.ActorName,
			Diff:      diffView(rec.Diff),
			Reason:    rec.Reason,
			Meta:      rec.Meta,
			At:        rec.At,
		})
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{
		Records:    views,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func diffView(d audit.Diff) any {
	if d == nil {
		return nil
	}
	return map[string]any{"kind": d.Kind(), "data": d}
}

func (h *Handler) parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
	}
	if actor := q.Get("actor_id"); actor != "" {
		id, err := strconv.ParseInt(actor, 10, 64)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.ActorID = id
	}
	var err error
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		return audit.Filter{}, err
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		return audit.Filter{}, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Sub(filter.From) > maxDateRange {
		filter.From = filter.To.Add(-maxDateRange)
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	if filter.Page <= 0 {
		filter.Page = 1
	}
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if filter.PerPage <= 0 {
		filter.PerPage = defaultPerPage
	}
	return filter, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

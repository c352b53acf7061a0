package purchase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Handler exposes the purchase order API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	workflow  *Workflow
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, workflow *Workflow) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, workflow: workflow, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/approve", h.handleApprove)
		r.Post("/reject", h.handleReject)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpdate)
			r.Get("/transitions", h.handleTransitions)
			r.Post("/approve", h.handleApproveOne)
			r.Post("/reject", h.handleRejectOne)
			r.Post("/submit", h.handleSubmit)
			r.Post("/send", h.handleSend)
			r.Post("/cancel", h.handleCancel)
			r.Post("/close", h.handleClose)
			r.Post("/receive", h.handleReceive)
		})
	})
}

type lineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Qty       int64  `json:"qty" validate:"required,gt=0"`
	UnitCost  string `json:"unit_cost" validate:"required"`
}

type createOrderRequest struct {
	Number     string        `json:"number"`
	SupplierID int64         `json:"supplier_id" validate:"required,gt=0"`
	Tax        string        `json:"tax"`
	ExpectedAt string        `json:"expected_at"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateOrderRequest struct {
	Tax        string        `json:"tax"`
	ExpectedAt string        `json:"expected_at"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type decisionRequest struct {
	OrderIDs []int64 `json:"order_ids" validate:"required,min=1,dive,gt=0"`
	Reason   string  `json:"reason"`
}

type singleDecisionRequest struct {
	Reason string `json:"reason"`
}

type receiptLineRequest struct {
	LineID    int64  `json:"line_id" validate:"required,gt=0"`
	Qty       int64  `json:"qty"`
	Condition string `json:"condition" validate:"omitempty,oneof=good damaged expired"`
}

type receiveRequest struct {
	Ref   string               `json:"ref"`
	Lines []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes string               `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type lineView struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Qty       int64  `json:"qty"`
	UnitCost  string `json:"unit_cost"`
	LineTotal string `json:"line_total"`
	Received  int64  `json:"received"`
}

type orderView struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	SupplierID int64      `json:"supplier_id"`
	Status     Status     `json:"status"`
	Subtotal   string     `json:"subtotal"`
	Tax        string     `json:"tax"`
	Total      string     `json:"total"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpectedAt *time.Time `json:"expected_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	Lines      []lineView `json:"lines,omitempty"`
}

type listResponse struct {
	Orders     []orderView       `json:"orders"`
	Pagination shared.Pagination `json:"pagination"`
}

type decisionView struct {
	OrderID  int64  `json:"order_id"`
	Number   string `json:"number"`
	Status   Status `json:"status"`
	Recorded bool   `json:"recorded"`
	Error    string `json:"error,omitempty"`
}

type receiveResponse struct {
	Order     orderView `json:"order"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines, err := parseLines(req.Lines)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tax, err := parseAmount(req.Tax)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid tax amount")
		return
	}
	expectedAt, err := parseDate(req.ExpectedAt)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expected_at")
		return
	}
	po, err := h.service.Create(r.Context(), CreateOrderInput{
		Number:     req.Number,
		SupplierID: req.SupplierID,
		Tax:        tax,
		ExpectedAt: expectedAt,
		ActorID:    actorID(r),
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderView(po, true))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines, err := parseLines(req.Lines)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tax, err := parseAmount(req.Tax)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid tax amount")
		return
	}
	expectedAt, err := parseDate(req.ExpectedAt)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expected_at")
		return
	}
	po, err := h.service.Update(r.Context(), id, UpdateOrderInput{
		Tax:        tax,
		ExpectedAt: expectedAt,
		ActorID:    actorID(r),
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, "update order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderView(po, true))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderView(po, true))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	createdBy, _ := strconv.ParseInt(q.Get("created_by"), 10, 64)
	filters := ListFilters{
		Status:     Status(q.Get("status")),
		SupplierID: supplierID,
		CreatedBy:  createdBy,
		Search:     q.Get("search"),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status filter")
		return
	}
	orders, total, err := h.service.List(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondError(w, "list orders", err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, po := range orders {
		views = append(views, toOrderView(po, false))
	}
	if limit <= 0 {
		limit = 20
	}
	page := offset/limit + 1
	httpx.JSON(w, http.StatusOK, listResponse{
		Orders:     views,
		Pagination: shared.NewPagination(page, limit, total),
	})
}

func (h *Handler) handleTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	current, next, err := h.service.NextStates(r.Context(), id)
	if err != nil {
		h.respondError(w, "order transitions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": current, "next": next})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "submit", func(id int64) error {
		return h.service.Submit(r.Context(), id, actorID(r))
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "send", func(id int64) error {
		return h.service.Send(r.Context(), id, actorID(r))
	})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "close", func(id int64) error {
		return h.service.Close(r.Context(), id, actorID(r))
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	h.handleTransition(w, r, "cancel", func(id int64) error {
		return h.service.Cancel(r.Context(), id, actorID(r), req.Reason)
	})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, action string, fn func(int64) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		h.respondError(w, action+" order", err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, action+" order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderView(po, true))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.workflow.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.workflow.Reject)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request,
	decide func(ctx context.Context, orderIDs []int64, actorID int64, reason string) ([]DecisionResult, error)) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results, err := decide(r.Context(), req.OrderIDs, actorID(r), req.Reason)
	if err != nil {
		h.respondError(w, "decide orders", err)
		return
	}
	views := make([]decisionView, 0, len(results))
	status := http.StatusOK
	for _, res := range results {
		view := decisionView{OrderID: res.OrderID, Number: res.Number, Status: res.Status, Recorded: res.Recorded}
		if res.Err != nil {
			view.Error = res.Err.Error()
			status = http.StatusMultiStatus
		}
		views = append(views, view)
	}
	httpx.JSON(w, status, map[string]any{"results": views})
}

func (h *Handler) handleApproveOne(w http.ResponseWriter, r *http.Request) {
	h.handleSingleDecision(w, r, h.workflow.Approve)
}

func (h *Handler) handleRejectOne(w http.ResponseWriter, r *http.Request) {
	h.handleSingleDecision(w, r, h.workflow.Reject)
}

func (h *Handler) handleSingleDecision(w http.ResponseWriter, r *http.Request,
	decide func(ctx context.Context, orderIDs []int64, actorID int64, reason string) ([]DecisionResult, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req singleDecisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	results, err := decide(r.Context(), []int64{id}, actorID(r), req.Reason)
	if err != nil {
		h.respondError(w, "decide order", err)
		return
	}
	if len(results) == 0 {
		h.respondError(w, "decide order", ErrNotFound)
		return
	}
	res := results[0]
	if res.Err != nil {
		h.respondError(w, "decide order", res.Err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionView{
		OrderID: res.OrderID, Number: res.Number, Status: res.Status, Recorded: res.Recorded,
	})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]ReceiptLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, ReceiptLine{
			LineID:    line.LineID,
			Qty:       line.Qty,
			Condition: Condition(line.Condition),
		})
	}
	result, err := h.workflow.Receive(r.Context(), ReceiveInput{
		OrderID: id,
		Ref:     req.Ref,
		Lines:   lines,
		ActorID: actorID(r),
		Notes:   req.Notes,
	})
	if err != nil {
		h.respondError(w, "receive order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receiveResponse{
		Order:     toOrderView(result.Order, true),
		Duplicate: result.Duplicate,
	})
}

// respondError maps domain errors onto problem responses. Unexpected errors
// are logged and hidden from the client.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var transition *TransitionError
	var receipt *ReceiptViolationError
	var policy *PolicyViolationError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrReasonRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOrderFrozen):
		httpx.Problem(w, http.StatusConflict, "Order Frozen", err.Error())
	case errors.As(err, &transition):
		httpx.Problem(w, http.StatusConflict, "Transition Denied", transition.Error())
	case errors.As(err, &receipt):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Receipt Rejected", receipt.Error())
	case errors.As(err, &policy):
		httpx.Problem(w, http.StatusForbidden, "Policy Violation", policy.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "order id must be a positive integer")
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return actor.ID
	}
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

func parseLines(reqs []lineRequest) ([]LineInput, error) {
	lines := make([]LineInput, 0, len(reqs))
	for _, req := range reqs {
		cost, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			return nil, errors.New("invalid unit_cost on line")
		}
		lines = append(lines, LineInput{ProductID: req.ProductID, Qty: req.Qty, UnitCost: cost})
	}
	return lines, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
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

func toOrderView(po PurchaseOrder, withLines bool) orderView {
	view := orderView{
		ID:         po.ID,
		Number:     po.Number,
		SupplierID: po.SupplierID,
		Status:     po.Status,
		Subtotal:   po.Subtotal.String(),
		Tax:        po.Tax.String(),
		Total:      po.Total.String(),
		CreatedBy:  po.CreatedBy,
		CreatedAt:  po.CreatedAt,
	}
	if !po.ExpectedAt.IsZero() {
		t := po.ExpectedAt
		view.ExpectedAt = &t
	}
	if !po.ReceivedAt.IsZero() {
		t := po.ReceivedAt
		view.ReceivedAt = &t
	}
	if withLines {
		for _, line := range po.Lines {
			view.Lines = append(view.Lines, lineView{
				ID:        line.ID,
				ProductID: line.ProductID,
				Qty:       line.Qty,
				UnitCost:  line.UnitCost.String(),
				LineTotal: line.LineTotal.String(),
				Received:  line.Received,
			})
		}
	}
	return view
}

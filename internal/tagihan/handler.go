package tagihan

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/platform/httpx"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Handler manages billing document endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	auditSvc *audit.Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, auditSvc *audit.Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		auditSvc: auditSvc,
		validate: validator.New(),
	}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.submit)
	r.Post("/transitions/bulk", h.bulkTransition)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/transitions/{edge}", h.transition)
	r.Get("/{id}/audit", h.auditTrail)
}

type submitRequest struct {
	SubmitterOrg  string `json:"submitter_org" validate:"required"`
	SubmitterCode string `json:"submitter_code" validate:"required,alphanum,max=16"`
	FundSource    string `json:"fund_source" validate:"required"`
	GrossAmount   string `json:"gross_amount" validate:"required"`
	Description   string `json:"description"`
	FiscalYear    int    `json:"fiscal_year" validate:"omitempty,min=2000,max=2100"`
}

type checklistItemRequest struct {
	Code      string `json:"code" validate:"required"`
	Passed    bool   `json:"passed"`
	Rationale string `json:"rationale"`
}

type transitionRequest struct {
	Checklist        []checklistItemRequest `json:"checklist" validate:"omitempty,dive"`
	CorrectionNote   string                 `json:"correction_note"`
	Bank             string                 `json:"bank"`
	PaymentOrderDate *time.Time             `json:"payment_order_date"`
	HandoverDate     *time.Time             `json:"handover_date"`
	Note             string                 `json:"note"`
}

type bulkTransitionRequest struct {
	IDs  []uuid.UUID `json:"ids" validate:"required,min=1,max=100"`
	Edge string      `json:"edge" validate:"required"`
	transitionRequest
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.Submit(r.Context(), actor, SubmitInput{
		SubmitterOrg:  req.SubmitterOrg,
		SubmitterCode: req.SubmitterCode,
		FundSource:    req.FundSource,
		GrossAmount:   req.GrossAmount,
		Description:   req.Description,
		FiscalYear:    req.FiscalYear,
	})
	if err != nil {
		h.logger.Warn("submit tagihan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(doc))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed document id")
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(doc))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed document id")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	edge := Edge(chi.URLParam(r, "edge"))
	doc, err := h.service.Transition(r.Context(), actor, id, edge, req.toPayload())
	if err != nil {
		h.logger.Warn("transition tagihan",
			slog.String("document_id", id.String()),
			slog.String("edge", string(edge)),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(doc))
}

type bulkEntryResponse struct {
	Document *documentResponse `json:"document,omitempty"`
	Error    string            `json:"error,omitempty"`
	Kind     string            `json:"kind,omitempty"`
}

func (h *Handler) bulkTransition(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req bulkTransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results := h.service.BulkTransition(r.Context(), actor, req.IDs, Edge(req.Edge), req.toPayload())
	response := make(map[string]bulkEntryResponse, len(results))
	for id, result := range results {
		entry := bulkEntryResponse{}
		if result.Err != nil {
			entry.Error = result.Err.Error()
			entry.Kind = errorKind(result.Err)
		} else if result.Document != nil {
			doc := toResponse(*result.Document)
			entry.Document = &doc
		}
		response[id.String()] = entry
	}
	httpx.JSON(w, http.StatusMultiStatus, response)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed document id")
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.logger.Warn("delete tagihan", slog.String("document_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed document id")
		return
	}
	events, err := h.auditSvc.Trail(r.Context(), id)
	if err != nil {
		h.logger.Error("audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (req transitionRequest) toPayload() TransitionPayload {
	payload := TransitionPayload{
		CorrectionNote: req.CorrectionNote,
		Bank:           req.Bank,
		Note:           req.Note,
	}
	if req.PaymentOrderDate != nil {
		payload.PaymentOrderDate = *req.PaymentOrderDate
	}
	if req.HandoverDate != nil {
		payload.HandoverDate = *req.HandoverDate
	}
	for _, item := range req.Checklist {
		payload.Checklist = append(payload.Checklist, ChecklistItem{
			Code:      item.Code,
			Passed:    item.Passed,
			Rationale: item.Rationale,
		})
	}
	return payload
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrAllocation):
		return "allocation"
	default:
		return "internal"
	}
}

type documentResponse struct {
	ID             string          `json:"id"`
	DocumentNumber string          `json:"document_number"`
	Status         string          `json:"status"`
	TaxStatus      string          `json:"tax_status"`
	SubmitterID    int64           `json:"submitter_id"`
	SubmitterOrg   string          `json:"submitter_org"`
	SubmitterCode  string          `json:"submitter_code"`
	FundSource     string          `json:"fund_source"`
	GrossAmount    string          `json:"gross_amount"`
	Description    string          `json:"description,omitempty"`
	FiscalYear     int             `json:"fiscal_year"`
	Registration   *stageResponse  `json:"registration,omitempty"`
	Verification   *stageResponse  `json:"verification,omitempty"`
	Checklist      []ChecklistItem `json:"verification_checklist,omitempty"`
	ReviewNote     string          `json:"review_note,omitempty"`
	Correction     *stageResponse  `json:"correction,omitempty"`
	CorrectionNote string          `json:"correction_note,omitempty"`
	PaymentOrder   *stageResponse  `json:"payment_order,omitempty"`
	Bank           string          `json:"bank,omitempty"`
	HandoverDate   *time.Time      `json:"handover_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type stageResponse struct {
	Number  int64     `json:"number"`
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
}

func toResponse(doc Document) documentResponse {
	resp := documentResponse{
		ID:             doc.ID.String(),
		DocumentNumber: doc.DocumentNumber,
		Status:         string(doc.Status),
		TaxStatus:      string(doc.TaxStatus),
		SubmitterID:    doc.SubmitterID,
		SubmitterOrg:   doc.SubmitterOrg,
		SubmitterCode:  doc.SubmitterCode,
		FundSource:     doc.FundSource,
		GrossAmount:    doc.GrossAmount.String(),
		Description:    doc.Description,
		FiscalYear:     doc.FiscalYear,
		Checklist:      doc.Checklist,
		HandoverDate:   doc.HandoverDate,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	stage := func(number *int64, at *time.Time, actorID *int64) *stageResponse {
		if number == nil || at == nil || actorID == nil {
			return nil
		}
		return &stageResponse{Number: *number, At: *at, ActorID: *actorID}
	}
	resp.Registration = stage(doc.RegistrationNumber, doc.RegisteredAt, doc.RegistrarID)
	resp.Verification = stage(doc.VerificationNumber, doc.VerifiedAt, doc.VerifierID)
	resp.Correction = stage(doc.CorrectionNumber, doc.CorrectedAt, doc.CorrectorID)
	if doc.ReviewNote != nil {
		resp.ReviewNote = *doc.ReviewNote
	}
	if doc.CorrectionNote != nil {
		resp.CorrectionNote = *doc.CorrectionNote
	}
	if doc.PaymentOrderSeq != nil && doc.PaymentOrderDate != nil {
		resp.PaymentOrder = &stageResponse{Number: *doc.PaymentOrderSeq, At: *doc.PaymentOrderDate}
	}
	if doc.Bank != nil {
		resp.Bank = *doc.Bank
	}
	return resp
}

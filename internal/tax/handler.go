package tax

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sipkd-core/sipkd/internal/platform/httpx"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Handler manages tax endpoints nested under the document resource.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers tax routes on the document router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/tax", h.list)
	r.Put("/{id}/tax", h.enter)
	r.Delete("/{id}/tax", h.clear)
}

type lineRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=PPN PPH21 PPH22 PPH23"`
	BillingCode string `json:"billing_code" validate:"required,max=32"`
	Base        string `json:"base" validate:"required"`
	Rate        string `json:"rate" validate:"required"`
}

type enterRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed document id")
		return
	}
	lines, err := h.service.Lines(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) enter(w http.ResponseWriter, r *http.Request) {
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
	var req enterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inputs := make([]LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		inputs = append(inputs, LineInput{
			Kind:        Kind(line.Kind),
			BillingCode: line.BillingCode,
			Base:        line.Base,
			Rate:        line.Rate,
		})
	}
	lines, err := h.service.Enter(r.Context(), actor, id, inputs)
	if err != nil {
		h.logger.Warn("enter tax lines", slog.String("document_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.Clear(r.Context(), actor, id); err != nil {
		h.logger.Warn("clear tax lines", slog.String("document_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

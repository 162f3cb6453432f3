package sequence

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sipkd-core/sipkd/internal/platform/httpx"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Handler exposes read-only counter inspection for administrators.
type Handler struct {
	logger    *slog.Logger
	allocator *Allocator
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, allocator *Allocator) *Handler {
	return &Handler{logger: logger, allocator: allocator}
}

// MountRoutes registers sequence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{category}/{scope}", h.inspect)
	r.Post("/{category}/{scope}/voids", h.void)
}

type voidResponse struct {
	Number   int64     `json:"number"`
	ActorID  int64     `json:"actor_id"`
	Reason   string    `json:"reason"`
	VoidedAt time.Time `json:"voided_at"`
}

type counterResponse struct {
	Category   string         `json:"category"`
	Scope      string         `json:"scope"`
	LastIssued int64          `json:"last_issued"`
	Voids      []voidResponse `json:"voids"`
}

func (h *Handler) inspect(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if actor.Role != shared.RoleAdmin {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	category := Category(chi.URLParam(r, "category"))
	scope := chi.URLParam(r, "scope")
	counter, voids, err := h.allocator.Inspect(r.Context(), category, scope)
	if err != nil {
		h.logger.Warn("inspect counter", slog.String("category", string(category)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := counterResponse{
		Category:   string(counter.Category),
		Scope:      counter.Scope,
		LastIssued: counter.LastIssued,
		Voids:      make([]voidResponse, 0, len(voids)),
	}
	for _, v := range voids {
		resp.Voids = append(resp.Voids, voidResponse{Number: v.Number, ActorID: v.ActorID, Reason: v.Reason, VoidedAt: v.At})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type voidRequest struct {
	Number int64  `json:"number"`
	Reason string `json:"reason"`
}

// void records an abandoned number. The number is never reissued; the void
// row keeps the gap accountable for later inspection.
func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if actor.Role != shared.RoleAdmin {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	v := Void{
		Category: Category(chi.URLParam(r, "category")),
		Scope:    chi.URLParam(r, "scope"),
		Number:   req.Number,
		ActorID:  actor.ID,
		Reason:   req.Reason,
	}
	if err := h.allocator.Void(r.Context(), v); err != nil {
		h.logger.Warn("void number", slog.String("category", string(v.Category)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

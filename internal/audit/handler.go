package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sipkd-core/sipkd/internal/platform/httpx"
	"github.com/sipkd-core/sipkd/internal/shared"
)

// Handler menyajikan timeline audit lintas dokumen. Hanya admin yang boleh
// melihat timeline global.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler membuat handler audit.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes mendaftarkan rute audit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/timeline", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if actor.Role != shared.RoleAdmin {
		httpx.RespondError(w, fmt.Errorf("%w: timeline is admin only", shared.ErrForbidden))
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rows": result.Rows,
		"paging": map[string]any{
			"page":      result.Paging.Page,
			"page_size": result.Paging.PageSize,
			"has_next":  result.Paging.HasNext,
			"prev_page": result.Paging.PrevPage,
			"next_page": result.Paging.NextPage,
		},
	})
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	var filters TimelineFilters
	query := r.URL.Query()
	var err error
	if raw := query.Get("from"); raw != "" {
		if filters.From, err = time.Parse("2006-01-02", raw); err != nil {
			return filters, fmt.Errorf("from must be YYYY-MM-DD")
		}
	}
	if raw := query.Get("to"); raw != "" {
		if filters.To, err = time.Parse("2006-01-02", raw); err != nil {
			return filters, fmt.Errorf("to must be YYYY-MM-DD")
		}
	}
	if raw := query.Get("actor_id"); raw != "" {
		if filters.ActorID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return filters, fmt.Errorf("actor_id must be numeric")
		}
	}
	filters.Action = query.Get("action")
	if raw := query.Get("page"); raw != "" {
		if filters.Page, err = strconv.Atoi(raw); err != nil {
			return filters, fmt.Errorf("page must be numeric")
		}
	}
	if raw := query.Get("page_size"); raw != "" {
		if filters.PageSize, err = strconv.Atoi(raw); err != nil {
			return filters, fmt.Errorf("page_size must be numeric")
		}
	}
	return filters, nil
}

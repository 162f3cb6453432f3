package reporting

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sipkd-core/sipkd/internal/platform/httpx"
)

// Handler serves the read-only reporting facade.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/aggregate", h.aggregate)
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	q := Query{GroupBy: GroupBy(r.URL.Query().Get("group_by"))}
	if q.GroupBy == "" {
		q.GroupBy = GroupByStatus
	}
	var err error
	if q.From, err = parseDate(r.URL.Query().Get("from")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from must be YYYY-MM-DD")
		return
	}
	if q.To, err = parseDate(r.URL.Query().Get("to")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to must be YYYY-MM-DD")
		return
	}
	if raw := r.URL.Query().Get("fiscal_year"); raw != "" {
		if q.FiscalYear, err = strconv.Atoi(raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "fiscal_year must be numeric")
			return
		}
	}
	buckets, err := h.service.Aggregate(r.Context(), q)
	if err != nil {
		h.logger.Error("aggregate report", slog.String("group_by", string(q.GroupBy)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"group_by": q.GroupBy,
		"buckets":  buckets,
	})
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

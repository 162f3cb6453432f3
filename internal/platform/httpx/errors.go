package httpx

import (
	"errors"
	"net/http"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrNoActor):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", "document changed concurrently, refresh and retry")
	case errors.Is(err, shared.ErrAllocation):
		Problem(w, http.StatusServiceUnavailable, "Allocation Failed", "sequence allocation is temporarily unavailable, retry the request")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

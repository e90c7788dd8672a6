package httpx

import (
	"errors"
	"net/http"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Callers are expected to treat NotFound and Conflict as normal control flow;
// data-access failures deliberately carry no detail.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package httpx

import (
	"errors"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/shared"
)

// RespondError maps domain errors to HTTP responses. The policy engine
// itself returns only its typed taxonomy; status-code translation happens
// here and nowhere deeper.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accesscontrol.ErrDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, accesscontrol.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, accesscontrol.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, accesscontrol.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, accesscontrol.ErrStoreUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, accesscontrol.ErrResolverFault):
		// Corrupted hierarchy data is an internal fault, never a deny.
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/api"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/services"
)

// respondServiceError maps typed service errors onto HTTP statuses. Anything
// unrecognised is logged and hidden behind a 500.
func (h *APIHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, notify.ErrNotificationNotFound):
		api.RespondErrorWithCode(w, http.StatusNotFound, api.CodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		api.RespondErrorWithCode(w, http.StatusConflict, api.CodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrAlreadyAssigned):
		api.RespondErrorWithCode(w, http.StatusConflict, api.CodeAlreadyAssigned, err.Error())
	case errors.Is(err, services.ErrNotAssigned):
		api.RespondErrorWithCode(w, http.StatusConflict, api.CodeNotAssigned, err.Error())
	case errors.Is(err, services.ErrConflict):
		api.RespondErrorWithCode(w, http.StatusConflict, api.CodeConflict, err.Error())
	case errors.Is(err, services.ErrInvalidArgument):
		api.RespondErrorWithCode(w, http.StatusUnprocessableEntity, api.CodeValidation, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		api.RespondErrorWithCode(w, http.StatusInternalServerError, api.CodeInternal, "internal error")
	}
}

package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/foliolabs/folio/errors"
)

// handleError translates a domain error into an HTTP response.
// Not-found maps to 404, an illegal status transition maps to 409, and
// everything else is a 500 with the detail kept in the log rather than the
// response body.
func handleError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	switch {
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalidState(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Errorw(context, "error", err)
		writeError(w, http.StatusInternalServerError, context)
	}
}

package server

import (
	"net/http"

	apperrors "github.com/quotapace/quotapace/internal/errors"
)

// HandleError is the central error responder for routes and handlers.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

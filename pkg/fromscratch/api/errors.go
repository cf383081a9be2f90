package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// ErrorResponse is the envelope for every error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors to HTTP status codes. Unknown errors are
// logged and reported generically so internal detail never leaks.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, fromscratch.ErrEventValidation),
		errors.Is(err, fromscratch.ErrTrackingDisabled),
		errors.Is(err, fromscratch.ErrInvalidCategory),
		errors.Is(err, fromscratch.ErrPostAlreadyPublished):
		status = http.StatusBadRequest
		message = unwrapMessage(err)
	case errors.Is(err, fromscratch.ErrAdminExcluded):
		status = http.StatusForbidden
		message = unwrapMessage(err)
	case errors.Is(err, fromscratch.ErrRateLimited):
		status = http.StatusTooManyRequests
		message = fromscratch.ErrRateLimited.Error()
	case errors.Is(err, fromscratch.ErrPostNotFound),
		errors.Is(err, fromscratch.ErrProjectNotFound),
		errors.Is(err, fromscratch.ErrPreviewTokenNotFound),
		errors.Is(err, fromscratch.ErrMediaNotFound):
		status = http.StatusNotFound
		message = unwrapMessage(err)
	case errors.Is(err, fromscratch.ErrPreviewTokenExpired),
		errors.Is(err, fromscratch.ErrPreviewSuperseded):
		status = http.StatusGone
		message = unwrapMessage(err)
	case errors.Is(err, fromscratch.ErrSlugTaken):
		status = http.StatusConflict
		message = fromscratch.ErrSlugTaken.Error()
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

// unwrapMessage strips operation wrappers down to the sentinel text.
func unwrapMessage(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: message})
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// PreviewHandler handles the preview-token lifecycle. Token resolution is
// public (the token itself is the credential); issuing and revoking are
// admin operations.
type PreviewHandler struct {
	service fromscratch.Service
}

// NewPreviewHandler creates a new preview handler.
func NewPreviewHandler(service fromscratch.Service) *PreviewHandler {
	return &PreviewHandler{service: service}
}

// Routes returns the public resolution route.
func (h *PreviewHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{token}", h.Resolve)
	return r
}

// AdminRoutes returns the issue and revoke routes.
func (h *PreviewHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/generate", h.Generate)
	r.Delete("/revoke/{token}", h.Revoke)
	return r
}

// GeneratePreviewRequest is the body for issuing a preview token.
type GeneratePreviewRequest struct {
	PostID string `json:"post_id"`
}

// Generate issues a preview token for an unpublished post.
func (h *PreviewHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GeneratePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	postID, err := uuid.Parse(req.PostID)
	if err != nil {
		badRequest(w, r, "invalid post id")
		return
	}

	result, err := h.service.IssuePreviewToken(r.Context(), postID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// Resolve exchanges a token for the draft post it guards.
func (h *PreviewHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	resolution, err := h.service.ResolvePreviewToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resolution)
}

// Revoke invalidates a token immediately.
func (h *PreviewHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokePreviewToken(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

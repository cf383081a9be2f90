package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// maxUploadBytes caps media uploads at 16 MiB.
const maxUploadBytes = 16 << 20

// MediaHandler handles media uploads and serving against a blob store.
type MediaHandler struct {
	store fromscratch.BlobStore
	now   func() time.Time
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(store fromscratch.BlobStore) *MediaHandler {
	return &MediaHandler{store: store, now: time.Now}
}

// Routes returns the public serving route.
func (h *MediaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", h.Serve)
	return r
}

// AdminRoutes returns the upload and delete routes.
func (h *MediaHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/upload", h.Upload)
	r.Delete("/*", h.Delete)
	return r
}

// UploadResponse is the body returned for a stored upload.
type UploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Upload stores one multipart file under a date-partitioned key.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, r, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := h.objectKey(header.Filename)
	if err := h.store.Upload(r.Context(), key, file, contentType); err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{Key: key, URL: h.store.URL(key)})
}

// objectKey builds a collision-free date-partitioned key, keeping the
// original extension.
func (h *MediaHandler) objectKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	now := h.now()
	return fmt.Sprintf("%04d/%02d/%s%s", now.Year(), now.Month(), uuid.New().String(), ext)
}

// Serve streams one stored object.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		badRequest(w, r, "missing media key")
		return
	}

	rc, err := h.store.Download(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	io.Copy(w, rc)
}

// Delete removes one stored object.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		badRequest(w, r, "missing media key")
		return
	}
	if err := h.store.Delete(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

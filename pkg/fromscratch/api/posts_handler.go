package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// PostsHandler handles blog post and project routes.
type PostsHandler struct {
	service  fromscratch.Service
	validate *validator.Validate
}

// NewPostsHandler creates a new posts handler.
func NewPostsHandler(service fromscratch.Service) *PostsHandler {
	return &PostsHandler{
		service:  service,
		validate: validator.New(),
	}
}

// Routes returns the public read-only routes.
func (h *PostsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{slug}", h.GetPostBySlug)
	r.Get("/projects", h.ListProjects)
	return r
}

// AdminRoutes returns the write routes. The caller mounts them behind
// admin authentication.
func (h *PostsHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/posts", h.ListAllPosts)
	r.Post("/posts", h.CreatePost)
	r.Get("/posts/{id}", h.GetPost)
	r.Put("/posts/{id}", h.UpdatePost)
	r.Delete("/posts/{id}", h.DeletePost)
	r.Post("/posts/{id}/publish", h.PublishPost)

	r.Post("/projects", h.CreateProject)
	r.Get("/projects/{id}", h.GetProject)
	r.Put("/projects/{id}", h.UpdateProject)
	r.Delete("/projects/{id}", h.DeleteProject)

	return r
}

func parseIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// ListPosts returns published posts, optionally filtered by category or tag.
func (h *PostsHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	filter := fromscratch.PostFilter{
		Category: fromscratch.PostCategory(r.URL.Query().Get("category")),
		Tag:      r.URL.Query().Get("tag"),
	}
	if filter.Category != "" && !filter.Category.IsValid() {
		badRequest(w, r, "invalid category")
		return
	}

	posts, err := h.service.ListPosts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, posts)
}

// ListAllPosts returns every post, drafts included.
func (h *PostsHandler) ListAllPosts(w http.ResponseWriter, r *http.Request) {
	filter := fromscratch.PostFilter{
		Category:      fromscratch.PostCategory(r.URL.Query().Get("category")),
		Tag:           r.URL.Query().Get("tag"),
		IncludeDrafts: true,
	}
	if filter.Category != "" && !filter.Category.IsValid() {
		badRequest(w, r, "invalid category")
		return
	}

	posts, err := h.service.ListPosts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, posts)
}

// GetPostBySlug returns one published post by slug.
func (h *PostsHandler) GetPostBySlug(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetPostBySlug(r.Context(), chi.URLParam(r, "slug"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, post)
}

// GetPost returns one post by id, drafts included.
func (h *PostsHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid post id")
		return
	}
	post, err := h.service.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, post)
}

// CreatePost creates a new draft post.
func (h *PostsHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req fromscratch.CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(w, r, "title, content and category are required")
		return
	}

	post, err := h.service.CreatePost(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, post)
}

// UpdatePost patches a post. Absent fields are left unchanged.
func (h *PostsHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid post id")
		return
	}

	var req fromscratch.UpdatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	req.ID = id

	post, err := h.service.UpdatePost(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, post)
}

// DeletePost removes a post and its preview tokens.
func (h *PostsHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid post id")
		return
	}
	if err := h.service.DeletePost(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// PublishPost marks a draft as published.
func (h *PostsHandler) PublishPost(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid post id")
		return
	}
	post, err := h.service.PublishPost(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, post)
}

// ListProjects returns all portfolio projects.
func (h *PostsHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, projects)
}

// GetProject returns one project by id.
func (h *PostsHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid project id")
		return
	}
	project, err := h.service.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, project)
}

// CreateProject creates a new project.
func (h *PostsHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req fromscratch.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(w, r, "title is required")
		return
	}

	project, err := h.service.CreateProject(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, project)
}

// UpdateProject patches a project. Absent fields are left unchanged.
func (h *PostsHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid project id")
		return
	}

	var req fromscratch.UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	req.ID = id

	project, err := h.service.UpdateProject(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, project)
}

// DeleteProject removes a project.
func (h *PostsHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, r, "invalid project id")
		return
	}
	if err := h.service.DeleteProject(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

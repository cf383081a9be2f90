package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// AnalyticsHandler handles event ingestion and the dashboard queries.
type AnalyticsHandler struct {
	service  fromscratch.Service
	validate *validator.Validate
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(service fromscratch.Service) *AnalyticsHandler {
	return &AnalyticsHandler{
		service:  service,
		validate: validator.New(),
	}
}

// Routes returns the public ingestion routes.
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(SessionMiddleware)
	r.Post("/track", h.TrackEvent)
	return r
}

// AdminRoutes returns the dashboard query routes. The caller mounts them
// behind admin authentication.
func (h *AnalyticsHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Get("/events", h.ListEvents)
	return r
}

// TrackEventResponse is the body returned for an accepted event.
type TrackEventResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
}

// TrackEvent ingests one analytics event.
func (h *AnalyticsHandler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	var req fromscratch.TrackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}

	// Fall back to the cookie session when the client sent none.
	if req.SessionID == "" {
		req.SessionID = SessionIDFromContext(r.Context())
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(w, r, "event_type and session_id are required")
		return
	}

	req.ForwardedFor = r.Header.Get("X-Forwarded-For")
	req.RealIP = r.Header.Get("X-Real-IP")
	req.UserAgent = r.UserAgent()

	event, err := h.service.TrackEvent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, TrackEventResponse{Success: true, EventID: event.ID.String()})
}

// Stats returns the aggregated dashboard statistics.
func (h *AnalyticsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r.URL.Query().Get("startDate"))
	if err != nil {
		badRequest(w, r, "invalid startDate, want RFC 3339 or YYYY-MM-DD")
		return
	}
	end, err := parseTimeParam(r.URL.Query().Get("endDate"))
	if err != nil {
		badRequest(w, r, "invalid endDate, want RFC 3339 or YYYY-MM-DD")
		return
	}

	stats, err := h.service.AggregateStats(r.Context(), fromscratch.StatsRequest{Start: start, End: end})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

// ListEvents returns a page of raw events.
func (h *AnalyticsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseTimeParam(q.Get("startDate"))
	if err != nil {
		badRequest(w, r, "invalid startDate, want RFC 3339 or YYYY-MM-DD")
		return
	}
	end, err := parseTimeParam(q.Get("endDate"))
	if err != nil {
		badRequest(w, r, "invalid endDate, want RFC 3339 or YYYY-MM-DD")
		return
	}

	req := fromscratch.ListEventsRequest{
		Filter: fromscratch.EventFilter{
			Start:     start,
			End:       end,
			EventType: q.Get("event_type"),
			SessionID: q.Get("session_id"),
		},
	}
	if v := q.Get("limit"); v != "" {
		req.Limit, err = strconv.Atoi(v)
		if err != nil || req.Limit < 0 {
			badRequest(w, r, "invalid limit")
			return
		}
	}
	if v := q.Get("skip"); v != "" {
		req.Skip, err = strconv.Atoi(v)
		if err != nil || req.Skip < 0 {
			badRequest(w, r, "invalid skip")
			return
		}
	}

	page, err := h.service.ListEvents(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

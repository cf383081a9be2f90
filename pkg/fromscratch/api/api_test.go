package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
	memoryrepo "github.com/fromscratch/from-scratch/pkg/fromscratch/repo/memory"
	memorystorage "github.com/fromscratch/from-scratch/pkg/fromscratch/storage/memory"
)

func newTestService(t *testing.T, opts ...fromscratch.Option) fromscratch.Service {
	t.Helper()
	svc, err := fromscratch.New(append([]fromscratch.Option{
		fromscratch.WithRepository(memoryrepo.New()),
		fromscratch.WithEnvironment("production"),
	}, opts...)...)
	require.NoError(t, err)
	return svc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTrackEventEndpoint(t *testing.T) {
	handler := NewAnalyticsHandler(newTestService(t)).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/track", map[string]any{
		"event_type": "page_view",
		"session_id": "s1",
		"event_data": map[string]any{"path": "/about"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode[TrackEventResponse](t, rec)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.EventID)
}

func TestTrackEventEndpointFallsBackToCookieSession(t *testing.T) {
	handler := NewAnalyticsHandler(newTestService(t)).Routes()

	// No session_id in the body; the middleware-minted cookie session is
	// used instead.
	rec := doJSON(t, handler, http.MethodPost, "/track", map[string]any{
		"event_type": "page_view",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var sessionCookie bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			sessionCookie = true
		}
	}
	assert.True(t, sessionCookie)
}

func TestTrackEventEndpointStatuses(t *testing.T) {
	t.Run("rejects missing event type", func(t *testing.T) {
		handler := NewAnalyticsHandler(newTestService(t)).Routes()
		rec := doJSON(t, handler, http.MethodPost, "/track", map[string]any{"session_id": "s1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejected outside production", func(t *testing.T) {
		svc, err := fromscratch.New(
			fromscratch.WithRepository(memoryrepo.New()),
			fromscratch.WithEnvironment("development"),
		)
		require.NoError(t, err)
		handler := NewAnalyticsHandler(svc).Routes()

		rec := doJSON(t, handler, http.MethodPost, "/track", map[string]any{
			"event_type": "page_view",
			"session_id": "s1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		svc := newTestService(t, fromscratch.WithRateLimit(1, time.Hour))
		handler := NewAnalyticsHandler(svc).Routes()

		body := map[string]any{"event_type": "page_view", "session_id": "s1"}
		rec := doJSON(t, handler, http.MethodPost, "/track", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = doJSON(t, handler, http.MethodPost, "/track", body)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestStatsAndEventsEndpoints(t *testing.T) {
	svc := newTestService(t)
	h := NewAnalyticsHandler(svc)

	public := h.Routes()
	for i := 0; i < 3; i++ {
		rec := doJSON(t, public, http.MethodPost, "/track", map[string]any{
			"event_type": "page_view",
			"session_id": fmt.Sprintf("s%d", i),
			"event_data": map[string]any{"path": "/blog"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	admin := h.AdminRoutes()

	rec := doJSON(t, admin, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[fromscratch.AggregateStats](t, rec)
	assert.Equal(t, int64(3), stats.TotalEvents)
	require.Len(t, stats.TopPages, 1)
	assert.Equal(t, "/blog", stats.TopPages[0].Key)

	rec = doJSON(t, admin, http.MethodGet, "/events?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[fromscratch.EventPage](t, rec)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Events, 2)

	// Plain ISO dates and full RFC 3339 timestamps both work as bounds.
	rec = doJSON(t, admin, http.MethodGet, "/stats?startDate=2020-01-01&endDate=2020-12-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decode[fromscratch.AggregateStats](t, rec)
	assert.Zero(t, stats.TotalEvents)

	rec = doJSON(t, admin, http.MethodGet, "/events?startDate=2020-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[fromscratch.EventPage](t, rec)
	assert.Equal(t, int64(3), page.Total)

	rec = doJSON(t, admin, http.MethodGet, "/events?startDate=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEndpoints(t *testing.T) {
	svc := newTestService(t)
	h := NewPostsHandler(svc)
	admin := h.AdminRoutes()
	public := h.Routes()

	rec := doJSON(t, admin, http.MethodPost, "/posts", map[string]any{
		"title":    "Hello World",
		"content":  "body",
		"category": "tutorial",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	post := decode[fromscratch.Post](t, rec)
	assert.Equal(t, "hello-world", post.Slug)

	// Drafts are hidden from the public listing and slug route.
	rec = doJSON(t, public, http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
	rec = doJSON(t, public, http.MethodGet, "/posts/hello-world", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// But present on the admin listing.
	rec = doJSON(t, admin, http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]fromscratch.Post](t, rec), 1)

	rec = doJSON(t, admin, http.MethodPost, "/posts/"+post.ID.String()+"/publish", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, public, http.MethodGet, "/posts/hello-world", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Duplicate slug conflicts.
	rec = doJSON(t, admin, http.MethodPost, "/posts", map[string]any{
		"title":    "Hello World",
		"content":  "other body",
		"category": "tutorial",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, admin, http.MethodPost, "/posts", map[string]any{
		"title":    "Bad Category",
		"content":  "body",
		"category": "poetry",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, admin, http.MethodDelete, "/posts/"+post.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, admin, http.MethodGet, "/posts/"+post.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewEndpoints(t *testing.T) {
	svc := newTestService(t)
	posts := NewPostsHandler(svc).AdminRoutes()
	h := NewPreviewHandler(svc)
	admin := h.AdminRoutes()
	public := h.Routes()

	rec := doJSON(t, posts, http.MethodPost, "/posts", map[string]any{
		"title":    "Draft",
		"content":  "body",
		"category": "opinion",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	post := decode[fromscratch.Post](t, rec)

	rec = doJSON(t, admin, http.MethodPost, "/generate", map[string]any{"post_id": post.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code)
	issued := decode[fromscratch.IssuePreviewResult](t, rec)
	require.NotEmpty(t, issued.Token)

	rec = doJSON(t, public, http.MethodGet, "/"+issued.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolution := decode[fromscratch.PreviewResolution](t, rec)
	assert.Equal(t, post.ID, resolution.Post.ID)

	// Publishing yields 410 on resolve.
	rec = doJSON(t, posts, http.MethodPost, "/posts/"+post.ID.String()+"/publish", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, public, http.MethodGet, "/"+issued.Token, nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = doJSON(t, admin, http.MethodDelete, "/revoke/"+issued.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, public, http.MethodGet, "/"+issued.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	tokenAuth := jwtauth.New("HS256", []byte("test-secret"), nil)

	r := chi.NewRouter()
	r.Use(jwtauth.Verifier(tokenAuth))
	r.Use(AdminOnly("admin@example.com"))
	r.Get("/secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	get := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/secret", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, get(""))

	_, wrongToken, err := tokenAuth.Encode(map[string]interface{}{"email": "visitor@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(wrongToken))

	_, adminToken, err := tokenAuth.Encode(map[string]interface{}{"email": "admin@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(adminToken))
}

func TestMediaEndpoints(t *testing.T) {
	store := memorystorage.New("http://localhost:8080/media")
	h := NewMediaHandler(store)
	admin := h.AdminRoutes()
	public := h.Routes()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "banner.png")
	require.NoError(t, err)
	part.Write([]byte("png-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	uploaded := decode[UploadResponse](t, rec)
	assert.True(t, strings.HasSuffix(uploaded.Key, ".png"))
	assert.Equal(t, "http://localhost:8080/media/"+uploaded.Key, uploaded.URL)

	rec = doJSON(t, public, http.MethodGet, "/"+uploaded.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = doJSON(t, admin, http.MethodDelete, "/"+uploaded.Key, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, public, http.MethodGet, "/"+uploaded.Key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

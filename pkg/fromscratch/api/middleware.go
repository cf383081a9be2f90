package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

type contextKey string

const sessionIDKey contextKey = "session_id"

// SessionCookieName carries the visitor's session record.
const SessionCookieName = "fs_session"

// cookieSessionStore adapts one request/response pair to
// fromscratch.SessionStore, persisting the record as a base64 JSON cookie.
type cookieSessionStore struct {
	w http.ResponseWriter
	r *http.Request
}

func (s *cookieSessionStore) Load(ctx context.Context) (fromscratch.SessionRecord, bool, error) {
	cookie, err := s.r.Cookie(SessionCookieName)
	if err != nil {
		return fromscratch.SessionRecord{}, false, nil
	}

	raw, err := base64.URLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return fromscratch.SessionRecord{}, false, nil
	}
	var rec fromscratch.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
		return fromscratch.SessionRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *cookieSessionStore) Save(ctx context.Context, rec fromscratch.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    base64.URLEncoding.EncodeToString(raw),
		Path:     "/",
		Expires:  rec.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// SessionMiddleware resolves the visitor's session identifier from the
// session cookie, minting and setting one when absent or expired, and puts
// it on the request context.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := fromscratch.NewSessionProvider(&cookieSessionStore{w: w, r: r})
		id := provider.SessionID(r.Context())
		ctx := context.WithValue(r.Context(), sessionIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionIDFromContext returns the session identifier resolved by
// SessionMiddleware, or "" when the middleware did not run.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// AdminOnly requires a verified JWT whose email claim matches the
// configured admin. Mount after jwtauth.Verifier.
func AdminOnly(adminEmail string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, ErrorResponse{Error: "authentication required"})
				return
			}
			email, _ := claims["email"].(string)
			if adminEmail == "" || email != adminEmail {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, ErrorResponse{Error: "admin access required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseTimeParam parses an optional time query parameter, accepting a full
// RFC 3339 timestamp or a plain ISO date.
func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t, err = time.Parse("2006-01-02", value)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package fromscratch

import (
	"time"

	"github.com/google/uuid"
)

// TrackEventRequest contains parameters for ingesting one analytics event.
// EventType and SessionID come from the client body; the remaining fields
// are derived from the request by the HTTP layer and never client-supplied.
type TrackEventRequest struct {
	EventType string         `json:"event_type" validate:"required"`
	EventData map[string]any `json:"event_data,omitempty"`
	SessionID string         `json:"session_id" validate:"required"`

	// Server-derived context.
	UserID       string `json:"-"`
	ForwardedFor string `json:"-"`
	RealIP       string `json:"-"`
	UserAgent    string `json:"-"`
}

// EventFilter narrows event queries by time range, type and session.
// Nil/empty fields match everything.
type EventFilter struct {
	Start     *time.Time
	End       *time.Time
	EventType string
	SessionID string
}

// ListEventsRequest contains parameters for the raw event listing.
type ListEventsRequest struct {
	Filter EventFilter
	Limit  int
	Skip   int
}

// EventPage is one page of raw events plus the total match count.
type EventPage struct {
	Events []*AnalyticsEvent `json:"events"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Skip   int               `json:"skip"`
}

// StatsRequest contains the optional date window for dashboard aggregation.
type StatsRequest struct {
	Start *time.Time
	End   *time.Time
}

// IssuePreviewResult is returned when a preview token is created.
type IssuePreviewResult struct {
	Token      string    `json:"token"`
	PreviewURL string    `json:"preview_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PreviewResolution is returned when a preview token resolves to a draft.
type PreviewResolution struct {
	Post      *Post     `json:"post"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreatePostRequest contains parameters for creating a post. Slug is
// derived from Title when empty.
type CreatePostRequest struct {
	Title          string       `json:"title" validate:"required"`
	Slug           string       `json:"slug,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	Content        string       `json:"content" validate:"required"`
	Category       PostCategory `json:"category" validate:"required"`
	Tags           []string     `json:"tags,omitempty"`
	ProjectID      *uuid.UUID   `json:"project_id,omitempty"`
	BannerURL      string       `json:"banner_url,omitempty"`
	Author         string       `json:"author,omitempty"`
	SEOTitle       string       `json:"seo_title,omitempty"`
	SEODescription string       `json:"seo_description,omitempty"`
}

// UpdatePostRequest contains parameters for updating a post. Nil fields are
// left unchanged.
type UpdatePostRequest struct {
	ID             uuid.UUID
	Title          *string       `json:"title,omitempty"`
	Slug           *string       `json:"slug,omitempty"`
	Summary        *string       `json:"summary,omitempty"`
	Content        *string       `json:"content,omitempty"`
	Category       *PostCategory `json:"category,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	ProjectID      *uuid.UUID    `json:"project_id,omitempty"`
	BannerURL      *string       `json:"banner_url,omitempty"`
	Author         *string       `json:"author,omitempty"`
	SEOTitle       *string       `json:"seo_title,omitempty"`
	SEODescription *string       `json:"seo_description,omitempty"`
}

// PostFilter narrows post listings. IncludeDrafts is only honored on admin
// routes.
type PostFilter struct {
	Category      PostCategory
	Tag           string
	IncludeDrafts bool
}

// CreateProjectRequest contains parameters for creating a project.
type CreateProjectRequest struct {
	Title       string   `json:"title" validate:"required"`
	Slug        string   `json:"slug,omitempty"`
	Description string   `json:"description,omitempty"`
	Tech        []string `json:"tech,omitempty"`
	RepoURL     string   `json:"repo_url,omitempty"`
	DemoURL     string   `json:"demo_url,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Featured    bool     `json:"featured"`
	SortOrder   int      `json:"sort_order"`
}

// UpdateProjectRequest contains parameters for updating a project. Nil
// fields are left unchanged.
type UpdateProjectRequest struct {
	ID          uuid.UUID
	Title       *string  `json:"title,omitempty"`
	Slug        *string  `json:"slug,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tech        []string `json:"tech,omitempty"`
	RepoURL     *string  `json:"repo_url,omitempty"`
	DemoURL     *string  `json:"demo_url,omitempty"`
	ImageURL    *string  `json:"image_url,omitempty"`
	Featured    *bool    `json:"featured,omitempty"`
	SortOrder   *int     `json:"sort_order,omitempty"`
}

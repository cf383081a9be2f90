package fromscratch

import (
	"time"

	"github.com/google/uuid"
)

// Retention and limit policy for the analytics subsystem. Events and
// rate-limit windows also carry store-level TTL indexes where the backend
// supports them (see repo/mongo).
const (
	// EventRetention is how long analytics events are kept before the
	// store's expiry sweep removes them.
	EventRetention = 90 * 24 * time.Hour

	// RateLimitMax is the number of events accepted per session within one
	// rate-limit window.
	RateLimitMax = 100

	// RateLimitWindowDuration is the length of a rate-limit counting
	// window. The window resets once fully elapsed; it does not slide.
	RateLimitWindowDuration = time.Hour

	// PreviewTokenTTL is how long an issued preview token stays valid.
	PreviewTokenTTL = 7 * 24 * time.Hour

	// SessionTTL is the sliding expiry for anonymous session identifiers.
	SessionTTL = 30 * time.Minute
)

// AnalyticsEvent is one append-only behavioral fact captured from a site
// visitor. Events are never updated after ingestion and expire
// EventRetention after Timestamp.
type AnalyticsEvent struct {
	ID        uuid.UUID      `json:"id" bson:"_id"`
	EventType string         `json:"event_type" bson:"event_type"`
	EventData map[string]any `json:"event_data,omitempty" bson:"event_data,omitempty"`
	SessionID string         `json:"session_id" bson:"session_id"`
	UserID    string         `json:"user_id,omitempty" bson:"user_id,omitempty"`

	// Timestamp is always assigned server-side at ingestion.
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// Enrichment fields, populated best-effort.
	IPAddress string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	Country   string `json:"country,omitempty" bson:"country,omitempty"`
	City      string `json:"city,omitempty" bson:"city,omitempty"`
	Region    string `json:"region,omitempty" bson:"region,omitempty"`
	Timezone  string `json:"timezone,omitempty" bson:"timezone,omitempty"`

	// Coarse user-agent classification.
	Device  string `json:"device,omitempty" bson:"device,omitempty"`
	Browser string `json:"browser,omitempty" bson:"browser,omitempty"`
	OS      string `json:"os,omitempty" bson:"os,omitempty"`
}

// RateLimitWindow is the per-session counter backing the ingestion rate
// limit. A window is reset, not slid, once RateLimitWindowDuration has
// elapsed since WindowStart.
type RateLimitWindow struct {
	SessionID   string    `json:"session_id" bson:"_id"`
	EventCount  int       `json:"event_count" bson:"event_count"`
	WindowStart time.Time `json:"window_start" bson:"window_start"`
}

// Device classification values.
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
)

// Browser classification values.
const (
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"
	BrowserOther   = "Other"
)

// OS classification values.
const (
	OSWindows = "Windows"
	OSMacOS   = "macOS"
	OSLinux   = "Linux"
	OSAndroid = "Android"
	OSIOS     = "iOS"
	OSOther   = "Other"
)

// BucketCount is one row of a grouped aggregation (event type, page path,
// country, device, browser or OS), sorted by Count descending.
type BucketCount struct {
	Key   string `json:"key" bson:"_id"`
	Count int64  `json:"count" bson:"count"`
}

// DailyCount is the event count for one calendar day (server-local date).
type DailyCount struct {
	Date  string `json:"date" bson:"_id"`
	Count int64  `json:"count" bson:"count"`
}

// RetentionData describes how close the oldest stored event is to the
// retention horizon.
type RetentionData struct {
	OldestEvent       *time.Time `json:"oldest_event"`
	NewestEvent       time.Time  `json:"newest_event"`
	TotalDays         int        `json:"total_days"`
	DaysUntilDeletion int        `json:"days_until_deletion"`
}

// AggregateStats is the full dashboard statistics response. All fields are
// computed over the optional date filter except DailyEvents, which always
// covers the trailing 30 days from now.
type AggregateStats struct {
	TotalEvents           int64         `json:"total_events"`
	UniqueSessions        int64         `json:"unique_sessions"`
	UniqueVisitors        int64         `json:"unique_visitors"`
	EventTypeDistribution []BucketCount `json:"event_type_distribution"`
	TopPages              []BucketCount `json:"top_pages"`
	TopCountries          []BucketCount `json:"top_countries"`
	DeviceBreakdown       []BucketCount `json:"device_breakdown"`
	BrowserBreakdown      []BucketCount `json:"browser_breakdown"`
	OSBreakdown           []BucketCount `json:"os_breakdown"`
	DailyEvents           []DailyCount  `json:"daily_events"`
	Retention             RetentionData `json:"retention_data"`
}

// PostCategory is the closed category vocabulary for posts.
type PostCategory string

const (
	CategoryTutorial PostCategory = "tutorial"
	CategoryProject  PostCategory = "project"
	CategoryOpinion  PostCategory = "opinion"
	CategoryNews     PostCategory = "news"
	CategoryOther    PostCategory = "other"
)

// IsValid returns true if the category is one of the known values.
func (c PostCategory) IsValid() bool {
	switch c {
	case CategoryTutorial, CategoryProject, CategoryOpinion, CategoryNews, CategoryOther:
		return true
	}
	return false
}

// Post is a blog entry. Drafts (IsPublished false) are only reachable
// through admin routes or a valid preview token.
type Post struct {
	ID            uuid.UUID    `json:"id" bson:"_id"`
	Title         string       `json:"title" bson:"title"`
	Slug          string       `json:"slug" bson:"slug"`
	Summary       string       `json:"summary,omitempty" bson:"summary,omitempty"`
	Content       string       `json:"content" bson:"content"`
	Category      PostCategory `json:"category" bson:"category"`
	Tags          []string     `json:"tags,omitempty" bson:"tags,omitempty"`
	ProjectID     *uuid.UUID   `json:"project_id,omitempty" bson:"project_id,omitempty"`
	BannerURL     string       `json:"banner_url,omitempty" bson:"banner_url,omitempty"`
	Author        string       `json:"author,omitempty" bson:"author,omitempty"`
	SEOTitle      string       `json:"seo_title,omitempty" bson:"seo_title,omitempty"`
	SEODescription string      `json:"seo_description,omitempty" bson:"seo_description,omitempty"`
	IsPublished   bool         `json:"is_published" bson:"is_published"`
	PublishedDate *time.Time   `json:"published_date,omitempty" bson:"published_date,omitempty"`
	CreatedAt     time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" bson:"updated_at"`
}

// PreviewToken grants time-boxed unauthenticated read access to one
// unpublished post. Tokens live in their own collection keyed by the opaque
// token string, with a foreign key back to the post; expiry is enforced
// lazily at resolve time.
type PreviewToken struct {
	Token     string    `json:"token" bson:"_id"`
	PostID    uuid.UUID `json:"post_id" bson:"post_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *PreviewToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Project is a portfolio entry.
type Project struct {
	ID         uuid.UUID `json:"id" bson:"_id"`
	Title      string    `json:"title" bson:"title"`
	Slug       string    `json:"slug" bson:"slug"`
	Description string   `json:"description,omitempty" bson:"description,omitempty"`
	Tech       []string  `json:"tech,omitempty" bson:"tech,omitempty"`
	RepoURL    string    `json:"repo_url,omitempty" bson:"repo_url,omitempty"`
	DemoURL    string    `json:"demo_url,omitempty" bson:"demo_url,omitempty"`
	ImageURL   string    `json:"image_url,omitempty" bson:"image_url,omitempty"`
	Featured   bool      `json:"featured" bson:"featured"`
	SortOrder  int       `json:"sort_order" bson:"sort_order"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
}

// SessionRecord is the client-side session identifier together with its
// sliding expiry.
type SessionRecord struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// pagePathKeys is the priority order used to resolve a page path from an
// event's data bag. The order is part of the aggregation contract.
var pagePathKeys = [...]string{"path", "page", "pathname", "url"}

// ResolvePagePath returns the page path for an event, checking the data bag
// keys in priority order. It returns "" when no key holds a non-empty
// string. The memory repository uses it directly; the mongo and postgres
// repositories implement the identical priority list in their queries.
func ResolvePagePath(ev *AnalyticsEvent) string {
	for _, k := range pagePathKeys {
		if v, ok := ev.EventData[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

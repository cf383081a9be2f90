package fromscratch

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// EventField names an event dimension that can be grouped on. The values
// double as column/field names in the repository implementations.
type EventField string

const (
	FieldEventType EventField = "event_type"
	FieldCountry   EventField = "country"
	FieldDevice    EventField = "device"
	FieldBrowser   EventField = "browser"
	FieldOS        EventField = "os"
)

// Repository defines the interface for event, post, project and
// preview-token persistence.
type Repository interface {
	// Event operations. Events are append-only.
	CreateEvent(ctx context.Context, event *AnalyticsEvent) error
	ListEvents(ctx context.Context, filter EventFilter, limit, skip int) ([]*AnalyticsEvent, int64, error)
	CountEvents(ctx context.Context, filter EventFilter) (int64, error)
	CountDistinctSessions(ctx context.Context, filter EventFilter) (int64, error)
	CountDistinctIPs(ctx context.Context, filter EventFilter) (int64, error)
	// CountEventsByField groups events on one dimension, skipping events
	// where the dimension is unknown, sorted by count descending. limit <= 0
	// means no limit.
	CountEventsByField(ctx context.Context, field EventField, filter EventFilter, limit int) ([]BucketCount, error)
	// TopPages groups events by resolved page path (see ResolvePagePath),
	// excluding events with no resolvable path.
	TopPages(ctx context.Context, filter EventFilter, limit int) ([]BucketCount, error)
	// DailyEventCounts buckets events by calendar day since the given time,
	// ascending by date. Days without events are omitted.
	DailyEventCounts(ctx context.Context, since time.Time) ([]DailyCount, error)
	OldestEventTime(ctx context.Context) (*time.Time, error)

	// RegisterHit atomically increments the session's rate-limit counter,
	// resetting the window if it has fully elapsed, and reports whether
	// this hit is within the limit. Implementations must make the
	// increment-or-reset a single store-level operation.
	RegisterHit(ctx context.Context, sessionID string, max int, window time.Duration, now time.Time) (bool, error)

	// Post operations
	CreatePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, id uuid.UUID) (*Post, error)
	GetPostBySlug(ctx context.Context, slug string) (*Post, error)
	UpdatePost(ctx context.Context, post *Post) error
	DeletePost(ctx context.Context, id uuid.UUID) error
	ListPosts(ctx context.Context, filter PostFilter) ([]*Post, error)

	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error
	DeleteProject(ctx context.Context, id uuid.UUID) error
	ListProjects(ctx context.Context) ([]*Project, error)

	// Preview token operations. Tokens are their own records keyed by the
	// opaque token string with a foreign key to the owning post.
	CreatePreviewToken(ctx context.Context, token *PreviewToken) error
	GetPreviewToken(ctx context.Context, token string) (*PreviewToken, error)
	DeletePreviewToken(ctx context.Context, token string) error
	// DeleteExpiredPreviewTokens removes every token of the post whose
	// expiry is before now, returning the number removed.
	DeleteExpiredPreviewTokens(ctx context.Context, postID uuid.UUID, now time.Time) (int64, error)
	// DeletePreviewTokensForPost removes all tokens of the post.
	DeletePreviewTokensForPost(ctx context.Context, postID uuid.UUID) error
}

// RateLimiter decides whether one more event from the session is within
// the ingestion budget. Allow both counts the hit and reports the verdict.
type RateLimiter interface {
	Allow(ctx context.Context, sessionID string) (bool, error)
}

// Sink receives accepted analytics events after persistence, e.g. a Kafka
// topic feeding downstream consumers. Publishing is best-effort; a sink
// error never fails ingestion.
type Sink interface {
	Publish(ctx context.Context, event *AnalyticsEvent) error
}

// BlobStore defines the interface for media storage backends.
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the public URL for a stored object.
	URL(key string) string
}

// SessionStore is one client's session-record storage, e.g. a cookie.
// Load reports ok=false when no record is stored.
type SessionStore interface {
	Load(ctx context.Context) (rec SessionRecord, ok bool, err error)
	Save(ctx context.Context, rec SessionRecord) error
}

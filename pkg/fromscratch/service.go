package fromscratch

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the from-scratch backend.
type Service interface {
	// Analytics operations
	TrackEvent(ctx context.Context, req TrackEventRequest) (*AnalyticsEvent, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (*EventPage, error)
	AggregateStats(ctx context.Context, req StatsRequest) (*AggregateStats, error)

	// Preview token operations
	IssuePreviewToken(ctx context.Context, postID uuid.UUID) (*IssuePreviewResult, error)
	ResolvePreviewToken(ctx context.Context, token string) (*PreviewResolution, error)
	RevokePreviewToken(ctx context.Context, token string) error

	// Post operations
	CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error)
	GetPost(ctx context.Context, id uuid.UUID) (*Post, error)
	GetPostBySlug(ctx context.Context, slug string, includeDrafts bool) (*Post, error)
	UpdatePost(ctx context.Context, req UpdatePostRequest) (*Post, error)
	DeletePost(ctx context.Context, id uuid.UUID) error
	ListPosts(ctx context.Context, filter PostFilter) ([]*Post, error)
	PublishPost(ctx context.Context, id uuid.UUID) (*Post, error)

	// Project operations
	CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	UpdateProject(ctx context.Context, req UpdateProjectRequest) (*Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
	ListProjects(ctx context.Context) ([]*Project, error)
}

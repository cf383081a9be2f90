package fromscratch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fromscratch/from-scratch/pkg/fromscratch/geo"
	"github.com/fromscratch/from-scratch/pkg/fromscratch/metrics"
)

type service struct {
	repo        Repository
	geo         geo.Client
	limiter     RateLimiter
	sink        Sink
	environment string
	adminUser   string
	baseURL     string
	rateMax     int
	rateWindow  time.Duration
	now         func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithRepository sets the persistence backend. Required.
func WithRepository(repo Repository) Option {
	return func(s *service) { s.repo = repo }
}

// WithGeoClient sets the geolocation enricher. Defaults to geo.Noop.
func WithGeoClient(client geo.Client) Option {
	return func(s *service) { s.geo = client }
}

// WithRateLimiter overrides the repository-backed rate limiter, e.g. with
// a Redis-backed one.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(s *service) { s.limiter = limiter }
}

// WithSink sets an optional downstream event sink.
func WithSink(sink Sink) Option {
	return func(s *service) { s.sink = sink }
}

// WithEnvironment sets the deployment environment. Events are only
// accepted in "production".
func WithEnvironment(env string) Option {
	return func(s *service) { s.environment = env }
}

// WithAdminUser sets the admin identity whose own visits are excluded from
// analytics.
func WithAdminUser(id string) Option {
	return func(s *service) { s.adminUser = id }
}

// WithBaseURL sets the public base URL used to construct preview links.
func WithBaseURL(u string) Option {
	return func(s *service) { s.baseURL = strings.TrimSuffix(u, "/") }
}

// WithRateLimit overrides the default event budget per session window.
func WithRateLimit(max int, window time.Duration) Option {
	return func(s *service) {
		s.rateMax = max
		s.rateWindow = window
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// New creates a Service from the given options. A repository is required.
func New(opts ...Option) (Service, error) {
	s := &service{
		geo:         geo.Noop{},
		environment: "development",
		baseURL:     "http://localhost:8080",
		rateMax:     RateLimitMax,
		rateWindow:  RateLimitWindowDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if s.limiter == nil {
		s.limiter = &repoLimiter{s: s}
	}
	return s, nil
}

// repoLimiter delegates rate limiting to the repository's atomic
// increment-with-reset operation.
type repoLimiter struct {
	s *service
}

func (l *repoLimiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	return l.s.repo.RegisterHit(ctx, sessionID, l.s.rateMax, l.s.rateWindow, l.s.now())
}

// Analytics operations

func (s *service) TrackEvent(ctx context.Context, req TrackEventRequest) (*AnalyticsEvent, error) {
	if req.EventType == "" || req.SessionID == "" {
		return nil, ErrEventValidation
	}

	if s.environment != "production" {
		return nil, ErrTrackingDisabled
	}

	if s.adminUser != "" && req.UserID == s.adminUser {
		return nil, ErrAdminExcluded
	}

	allowed, err := s.limiter.Allow(ctx, req.SessionID)
	if err != nil {
		// Fail open: a limiter infrastructure error must not block ingestion.
		slog.Error("rate limiter failed, allowing event", "session_id", req.SessionID, "error", err)
		allowed = true
	}
	if !allowed {
		metrics.EventsRateLimited.Inc()
		return nil, ErrRateLimited
	}

	event := &AnalyticsEvent{
		ID:        uuid.New(),
		EventType: req.EventType,
		EventData: req.EventData,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Timestamp: s.now(),
		IPAddress: sourceIP(req.ForwardedFor, req.RealIP),
	}

	if event.IPAddress != "" {
		loc := s.geo.Lookup(ctx, event.IPAddress)
		event.Country = loc.Country
		event.City = loc.City
		event.Region = loc.Region
		event.Timezone = loc.Timezone
	}

	if req.UserAgent != "" {
		event.Device, event.Browser, event.OS = ClassifyUserAgent(req.UserAgent)
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return nil, &EventError{SessionID: req.SessionID, Op: "track", Err: err}
	}
	metrics.EventsIngested.Inc()

	if s.sink != nil {
		// Best effort, off the request path.
		ev := *event
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.sink.Publish(ctx, &ev); err != nil {
				metrics.SinkPublishFailures.Inc()
				slog.Warn("event sink publish failed", "event_id", ev.ID, "error", err)
			}
		}()
	}

	return event, nil
}

// sourceIP picks the client address from proxy headers: the first
// forwarded-for entry wins, then the real-ip header, else unknown.
func sourceIP(forwardedFor, realIP string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(realIP)
}

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 500
)

func (s *service) ListEvents(ctx context.Context, req ListEventsRequest) (*EventPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}
	skip := req.Skip
	if skip < 0 {
		skip = 0
	}

	events, total, err := s.repo.ListEvents(ctx, req.Filter, limit, skip)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*AnalyticsEvent{}
	}
	return &EventPage{Events: events, Total: total, Limit: limit, Skip: skip}, nil
}

const (
	topPagesLimit     = 10
	topCountriesLimit = 5
	dailyTrailingDays = 30
	retentionDays     = 90
)

func (s *service) AggregateStats(ctx context.Context, req StatsRequest) (*AggregateStats, error) {
	filter := EventFilter{Start: req.Start, End: req.End}
	now := s.now()

	stats := &AggregateStats{}
	var oldest *time.Time

	// Independent read-only queries, fanned out and joined. Any failure
	// fails the whole aggregation; no partial results.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		stats.TotalEvents, err = s.repo.CountEvents(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		stats.UniqueSessions, err = s.repo.CountDistinctSessions(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		stats.UniqueVisitors, err = s.repo.CountDistinctIPs(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		stats.EventTypeDistribution, err = s.repo.CountEventsByField(gctx, FieldEventType, filter, 0)
		return err
	})
	g.Go(func() (err error) {
		stats.TopPages, err = s.repo.TopPages(gctx, filter, topPagesLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.TopCountries, err = s.repo.CountEventsByField(gctx, FieldCountry, filter, topCountriesLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.DeviceBreakdown, err = s.repo.CountEventsByField(gctx, FieldDevice, filter, 0)
		return err
	})
	g.Go(func() (err error) {
		stats.BrowserBreakdown, err = s.repo.CountEventsByField(gctx, FieldBrowser, filter, 0)
		return err
	})
	g.Go(func() (err error) {
		stats.OSBreakdown, err = s.repo.CountEventsByField(gctx, FieldOS, filter, 0)
		return err
	})
	g.Go(func() (err error) {
		// Always the trailing 30 days, independent of the date filter.
		stats.DailyEvents, err = s.repo.DailyEventCounts(gctx, now.AddDate(0, 0, -dailyTrailingDays))
		return err
	})
	g.Go(func() (err error) {
		oldest, err = s.repo.OldestEventTime(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}

	stats.Retention = retentionData(oldest, now)
	return stats, nil
}

func retentionData(oldest *time.Time, now time.Time) RetentionData {
	rd := RetentionData{
		NewestEvent:       now,
		DaysUntilDeletion: retentionDays,
	}
	if oldest == nil {
		return rd
	}
	rd.OldestEvent = oldest
	rd.TotalDays = int(now.Sub(*oldest).Hours() / 24)
	rd.DaysUntilDeletion = retentionDays - rd.TotalDays
	if rd.DaysUntilDeletion < 0 {
		rd.DaysUntilDeletion = 0
	}
	return rd
}

// Preview token operations

// newPreviewToken returns a 256-bit random opaque token string.
func newPreviewToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate preview token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

func (s *service) IssuePreviewToken(ctx context.Context, postID uuid.UUID) (*IssuePreviewResult, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.IsPublished {
		return nil, ErrPostAlreadyPublished
	}

	raw, err := newPreviewToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	token := &PreviewToken{
		Token:     raw,
		PostID:    post.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(PreviewTokenTTL),
	}
	if err := s.repo.CreatePreviewToken(ctx, token); err != nil {
		return nil, &PostError{PostID: postID, Op: "issue preview token", Err: err}
	}

	return &IssuePreviewResult{
		Token:      raw,
		PreviewURL: fmt.Sprintf("%s/preview/%s", s.baseURL, raw),
		ExpiresAt:  token.ExpiresAt,
	}, nil
}

func (s *service) ResolvePreviewToken(ctx context.Context, raw string) (*PreviewResolution, error) {
	token, err := s.repo.GetPreviewToken(ctx, raw)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if token.Expired(now) {
		// Lazy reap: the expired token is removed as a side effect.
		if err := s.repo.DeletePreviewToken(ctx, raw); err != nil && !errors.Is(err, ErrPreviewTokenNotFound) {
			slog.Warn("failed to reap expired preview token", "post_id", token.PostID, "error", err)
		}
		return nil, ErrPreviewTokenExpired
	}

	post, err := s.repo.GetPost(ctx, token.PostID)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			// The post is gone; the token is dead weight.
			_ = s.repo.DeletePreviewToken(ctx, raw)
			return nil, ErrPreviewTokenNotFound
		}
		return nil, err
	}
	if post.IsPublished {
		// Publication supersedes preview access; the token record stays.
		return nil, ErrPreviewSuperseded
	}

	// Amortized cleanup of the post's other expired tokens.
	if n, err := s.repo.DeleteExpiredPreviewTokens(ctx, post.ID, now); err != nil {
		slog.Warn("expired preview token sweep failed", "post_id", post.ID, "error", err)
	} else if n > 0 {
		slog.Debug("swept expired preview tokens", "post_id", post.ID, "count", n)
	}

	return &PreviewResolution{Post: post, ExpiresAt: token.ExpiresAt}, nil
}

func (s *service) RevokePreviewToken(ctx context.Context, raw string) error {
	return s.repo.DeletePreviewToken(ctx, raw)
}

// Post operations

func (s *service) CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error) {
	if !req.Category.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}

	slug := req.Slug
	if slug == "" {
		slug = Slugify(req.Title)
	}
	if err := s.checkSlugFree(ctx, slug, uuid.Nil); err != nil {
		return nil, err
	}

	now := s.now()
	post := &Post{
		ID:             uuid.New(),
		Title:          req.Title,
		Slug:           slug,
		Summary:        req.Summary,
		Content:        req.Content,
		Category:       req.Category,
		Tags:           req.Tags,
		ProjectID:      req.ProjectID,
		BannerURL:      req.BannerURL,
		Author:         req.Author,
		SEOTitle:       req.SEOTitle,
		SEODescription: req.SEODescription,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, &PostError{PostID: post.ID, Op: "create", Err: err}
	}
	return post, nil
}

// checkSlugFree returns ErrSlugTaken if another post than self uses the slug.
func (s *service) checkSlugFree(ctx context.Context, slug string, self uuid.UUID) error {
	existing, err := s.repo.GetPostBySlug(ctx, slug)
	if errors.Is(err, ErrPostNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != self {
		return ErrSlugTaken
	}
	return nil
}

func (s *service) GetPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	return s.repo.GetPost(ctx, id)
}

func (s *service) GetPostBySlug(ctx context.Context, slug string, includeDrafts bool) (*Post, error) {
	post, err := s.repo.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !post.IsPublished && !includeDrafts {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (s *service) UpdatePost(ctx context.Context, req UpdatePostRequest) (*Post, error) {
	post, err := s.repo.GetPost(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Slug != nil && *req.Slug != post.Slug {
		if err := s.checkSlugFree(ctx, *req.Slug, post.ID); err != nil {
			return nil, err
		}
		post.Slug = *req.Slug
	}
	if req.Title != nil {
		post.Title = *req.Title
	}
	if req.Summary != nil {
		post.Summary = *req.Summary
	}
	if req.Content != nil {
		post.Content = *req.Content
	}
	if req.Category != nil {
		if !req.Category.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, *req.Category)
		}
		post.Category = *req.Category
	}
	if req.Tags != nil {
		post.Tags = req.Tags
	}
	if req.ProjectID != nil {
		post.ProjectID = req.ProjectID
	}
	if req.BannerURL != nil {
		post.BannerURL = *req.BannerURL
	}
	if req.Author != nil {
		post.Author = *req.Author
	}
	if req.SEOTitle != nil {
		post.SEOTitle = *req.SEOTitle
	}
	if req.SEODescription != nil {
		post.SEODescription = *req.SEODescription
	}
	post.UpdatedAt = s.now()

	if err := s.repo.UpdatePost(ctx, post); err != nil {
		return nil, &PostError{PostID: post.ID, Op: "update", Err: err}
	}
	return post, nil
}

func (s *service) DeletePost(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeletePost(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeletePreviewTokensForPost(ctx, id); err != nil {
		slog.Warn("failed to delete preview tokens of deleted post", "post_id", id, "error", err)
	}
	return nil
}

func (s *service) ListPosts(ctx context.Context, filter PostFilter) ([]*Post, error) {
	return s.repo.ListPosts(ctx, filter)
}

func (s *service) PublishPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.IsPublished {
		return post, nil
	}

	now := s.now()
	post.IsPublished = true
	if post.PublishedDate == nil {
		post.PublishedDate = &now
	}
	post.UpdatedAt = now

	if err := s.repo.UpdatePost(ctx, post); err != nil {
		return nil, &PostError{PostID: id, Op: "publish", Err: err}
	}
	// Outstanding preview tokens are deliberately left in place; resolution
	// rejects them with ErrPreviewSuperseded.
	return post, nil
}

// Project operations

func (s *service) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	slug := req.Slug
	if slug == "" {
		slug = Slugify(req.Title)
	}

	now := s.now()
	project := &Project{
		ID:          uuid.New(),
		Title:       req.Title,
		Slug:        slug,
		Description: req.Description,
		Tech:        req.Tech,
		RepoURL:     req.RepoURL,
		DemoURL:     req.DemoURL,
		ImageURL:    req.ImageURL,
		Featured:    req.Featured,
		SortOrder:   req.SortOrder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *service) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	return s.repo.GetProject(ctx, id)
}

func (s *service) UpdateProject(ctx context.Context, req UpdateProjectRequest) (*Project, error) {
	project, err := s.repo.GetProject(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		project.Title = *req.Title
	}
	if req.Slug != nil {
		project.Slug = *req.Slug
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Tech != nil {
		project.Tech = req.Tech
	}
	if req.RepoURL != nil {
		project.RepoURL = *req.RepoURL
	}
	if req.DemoURL != nil {
		project.DemoURL = *req.DemoURL
	}
	if req.ImageURL != nil {
		project.ImageURL = *req.ImageURL
	}
	if req.Featured != nil {
		project.Featured = *req.Featured
	}
	if req.SortOrder != nil {
		project.SortOrder = *req.SortOrder
	}
	project.UpdatedAt = s.now()

	if err := s.repo.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *service) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteProject(ctx, id)
}

func (s *service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

func newEvent(eventType, sessionID string, ts time.Time) *fromscratch.AnalyticsEvent {
	return &fromscratch.AnalyticsEvent{
		ID:        uuid.New(),
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: ts,
	}
}

func TestEventFilterAndPagination(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := newEvent("page_view", "s1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.CreateEvent(ctx, ev))
	}
	require.NoError(t, repo.CreateEvent(ctx, newEvent("click", "s2", base.Add(10*time.Minute))))

	events, total, err := repo.ListEvents(ctx, fromscratch.EventFilter{EventType: "page_view"}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, events, 2)
	// Newest first.
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))

	start := base.Add(2 * time.Minute)
	n, err := repo.CountEvents(ctx, fromscratch.EventFilter{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	sessions, err := repo.CountDistinctSessions(ctx, fromscratch.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sessions)
}

func TestCountDistinctIPsSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	repo := New()
	ts := time.Now()

	withIP := newEvent("page_view", "s1", ts)
	withIP.IPAddress = "203.0.113.7"
	require.NoError(t, repo.CreateEvent(ctx, withIP))

	dup := newEvent("page_view", "s2", ts)
	dup.IPAddress = "203.0.113.7"
	require.NoError(t, repo.CreateEvent(ctx, dup))

	require.NoError(t, repo.CreateEvent(ctx, newEvent("page_view", "s3", ts)))

	n, err := repo.CountDistinctIPs(ctx, fromscratch.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCountEventsByFieldOrdering(t *testing.T) {
	ctx := context.Background()
	repo := New()
	ts := time.Now()

	for i := 0; i < 3; i++ {
		ev := newEvent("page_view", "s1", ts)
		ev.Country = "Germany"
		require.NoError(t, repo.CreateEvent(ctx, ev))
	}
	for _, country := range []string{"Austria", "Belgium"} {
		ev := newEvent("page_view", "s1", ts)
		ev.Country = country
		require.NoError(t, repo.CreateEvent(ctx, ev))
	}
	// No country recorded; must not produce an empty bucket.
	require.NoError(t, repo.CreateEvent(ctx, newEvent("page_view", "s1", ts)))

	buckets, err := repo.CountEventsByField(ctx, fromscratch.FieldCountry, fromscratch.EventFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "Germany", buckets[0].Key)
	assert.Equal(t, int64(3), buckets[0].Count)
	// Ties break alphabetically.
	assert.Equal(t, "Austria", buckets[1].Key)
	assert.Equal(t, "Belgium", buckets[2].Key)
}

func TestTopPagesKeyPriority(t *testing.T) {
	ctx := context.Background()
	repo := New()
	ts := time.Now()

	ev := newEvent("page_view", "s1", ts)
	ev.EventData = map[string]any{"path": "/about", "url": "https://example.com/about"}
	require.NoError(t, repo.CreateEvent(ctx, ev))

	ev = newEvent("page_view", "s1", ts)
	ev.EventData = map[string]any{"page": "/blog"}
	require.NoError(t, repo.CreateEvent(ctx, ev))

	// No page information at all.
	require.NoError(t, repo.CreateEvent(ctx, newEvent("page_view", "s1", ts)))

	pages, err := repo.TopPages(ctx, fromscratch.EventFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	keys := []string{pages[0].Key, pages[1].Key}
	assert.Contains(t, keys, "/about")
	assert.Contains(t, keys, "/blog")
}

func TestDailyEventCounts(t *testing.T) {
	ctx := context.Background()
	repo := New()
	day1 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateEvent(ctx, newEvent("page_view", "s1", day1)))
	require.NoError(t, repo.CreateEvent(ctx, newEvent("page_view", "s1", day1.Add(time.Hour))))
	require.NoError(t, repo.CreateEvent(ctx, newEvent("page_view", "s1", day2)))

	days, err := repo.DailyEventCounts(ctx, day1.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-01", days[0].Date)
	assert.Equal(t, int64(2), days[0].Count)
	assert.Equal(t, "2026-03-02", days[1].Date)

	days, err = repo.DailyEventCounts(ctx, day2)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2026-03-02", days[0].Date)
}

func TestRegisterHitWindow(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		allowed, err := repo.RegisterHit(ctx, "s1", 3, time.Hour, now)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := repo.RegisterHit(ctx, "s1", 3, time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, allowed)

	// Rejected hits do not advance the counter.
	w, ok := repo.Window("s1")
	require.True(t, ok)
	assert.Equal(t, 3, w.EventCount)

	// Other sessions are unaffected.
	allowed, err = repo.RegisterHit(ctx, "s2", 3, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, allowed)

	// The window resets once fully elapsed.
	allowed, err = repo.RegisterHit(ctx, "s1", 3, time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, allowed)
	w, _ = repo.Window("s1")
	assert.Equal(t, 1, w.EventCount)
	assert.Equal(t, now.Add(time.Hour), w.WindowStart)
}

func TestPostSlugUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := New()

	first := &fromscratch.Post{ID: uuid.New(), Title: "Hello", Slug: "hello", Category: fromscratch.CategoryOther, CreatedAt: time.Now()}
	require.NoError(t, repo.CreatePost(ctx, first))

	dup := &fromscratch.Post{ID: uuid.New(), Title: "Hello Again", Slug: "hello", Category: fromscratch.CategoryOther}
	assert.ErrorIs(t, repo.CreatePost(ctx, dup), fromscratch.ErrSlugTaken)

	second := &fromscratch.Post{ID: uuid.New(), Title: "World", Slug: "world", Category: fromscratch.CategoryOther, CreatedAt: time.Now()}
	require.NoError(t, repo.CreatePost(ctx, second))

	// Renaming onto a taken slug fails, renaming to a free slug frees the old one.
	second.Slug = "hello"
	assert.ErrorIs(t, repo.UpdatePost(ctx, second), fromscratch.ErrSlugTaken)
	second.Slug = "world-2"
	require.NoError(t, repo.UpdatePost(ctx, second))

	_, err := repo.GetPostBySlug(ctx, "world")
	assert.ErrorIs(t, err, fromscratch.ErrPostNotFound)
	got, err := repo.GetPostBySlug(ctx, "world-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestListPostsFilters(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now()

	published := &fromscratch.Post{
		ID: uuid.New(), Title: "Live", Slug: "live",
		Category: fromscratch.CategoryTutorial, Tags: []string{"go"},
		IsPublished: true, PublishedDate: &now, CreatedAt: now.Add(-time.Hour),
	}
	draft := &fromscratch.Post{
		ID: uuid.New(), Title: "Draft", Slug: "draft",
		Category: fromscratch.CategoryTutorial, CreatedAt: now,
	}
	require.NoError(t, repo.CreatePost(ctx, published))
	require.NoError(t, repo.CreatePost(ctx, draft))

	posts, err := repo.ListPosts(ctx, fromscratch.PostFilter{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "live", posts[0].Slug)

	posts, err = repo.ListPosts(ctx, fromscratch.PostFilter{IncludeDrafts: true})
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	posts, err = repo.ListPosts(ctx, fromscratch.PostFilter{Tag: "GO"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "live", posts[0].Slug)

	posts, err = repo.ListPosts(ctx, fromscratch.PostFilter{Category: fromscratch.CategoryNews, IncludeDrafts: true})
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestPreviewTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now()
	postID := uuid.New()

	live := &fromscratch.PreviewToken{Token: "tok-live", PostID: postID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := &fromscratch.PreviewToken{Token: "tok-stale", PostID: postID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	other := &fromscratch.PreviewToken{Token: "tok-other", PostID: uuid.New(), CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, tok := range []*fromscratch.PreviewToken{live, stale, other} {
		require.NoError(t, repo.CreatePreviewToken(ctx, tok))
	}

	removed, err := repo.DeleteExpiredPreviewTokens(ctx, postID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetPreviewToken(ctx, "tok-stale")
	assert.ErrorIs(t, err, fromscratch.ErrPreviewTokenNotFound)

	// The other post's expired token is untouched by a scoped sweep.
	_, err = repo.GetPreviewToken(ctx, "tok-other")
	require.NoError(t, err)

	require.NoError(t, repo.DeletePreviewTokensForPost(ctx, postID))
	_, err = repo.GetPreviewToken(ctx, "tok-live")
	assert.ErrorIs(t, err, fromscratch.ErrPreviewTokenNotFound)
}

func TestProjectOrdering(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now()

	plain := &fromscratch.Project{ID: uuid.New(), Title: "Plain", SortOrder: 1, CreatedAt: now}
	featured := &fromscratch.Project{ID: uuid.New(), Title: "Featured", Featured: true, SortOrder: 5, CreatedAt: now}
	require.NoError(t, repo.CreateProject(ctx, plain))
	require.NoError(t, repo.CreateProject(ctx, featured))

	projects, err := repo.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Featured", projects[0].Title)
}

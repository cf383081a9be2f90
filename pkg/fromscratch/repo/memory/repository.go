// Package memory provides an in-memory repository for tests and
// development. Event retention is pruned lazily on writes; aggregation
// queries are computed in Go over the live event slice.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// Repository implements fromscratch.Repository using in-memory storage.
type Repository struct {
	mu          sync.RWMutex
	events      []*fromscratch.AnalyticsEvent
	rateWindows map[string]*fromscratch.RateLimitWindow
	posts       map[uuid.UUID]*fromscratch.Post
	postSlugs   map[string]uuid.UUID
	projects    map[uuid.UUID]*fromscratch.Project
	tokens      map[string]*fromscratch.PreviewToken
}

// New creates a new in-memory repository.
func New() *Repository {
	return &Repository{
		rateWindows: make(map[string]*fromscratch.RateLimitWindow),
		posts:       make(map[uuid.UUID]*fromscratch.Post),
		postSlugs:   make(map[string]uuid.UUID),
		projects:    make(map[uuid.UUID]*fromscratch.Project),
		tokens:      make(map[string]*fromscratch.PreviewToken),
	}
}

// Event operations

func (r *Repository) CreateEvent(ctx context.Context, event *fromscratch.AnalyticsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stand-in for the store-level TTL sweep.
	cutoff := time.Now().Add(-fromscratch.EventRetention)
	if len(r.events) > 0 && r.events[0].Timestamp.Before(cutoff) {
		kept := r.events[:0]
		for _, ev := range r.events {
			if !ev.Timestamp.Before(cutoff) {
				kept = append(kept, ev)
			}
		}
		r.events = kept
	}

	eventCopy := *event
	r.events = append(r.events, &eventCopy)
	return nil
}

func matches(ev *fromscratch.AnalyticsEvent, f fromscratch.EventFilter) bool {
	if f.Start != nil && ev.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && ev.Timestamp.After(*f.End) {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	return true
}

func (r *Repository) filtered(f fromscratch.EventFilter) []*fromscratch.AnalyticsEvent {
	var out []*fromscratch.AnalyticsEvent
	for _, ev := range r.events {
		if matches(ev, f) {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Repository) ListEvents(ctx context.Context, filter fromscratch.EventFilter, limit, skip int) ([]*fromscratch.AnalyticsEvent, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.filtered(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := int64(len(matched))

	if skip >= len(matched) {
		return nil, total, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*fromscratch.AnalyticsEvent, len(matched))
	for i, ev := range matched {
		evCopy := *ev
		out[i] = &evCopy
	}
	return out, total, nil
}

func (r *Repository) CountEvents(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *Repository) CountDistinctSessions(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, ev := range r.filtered(filter) {
		seen[ev.SessionID] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (r *Repository) CountDistinctIPs(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, ev := range r.filtered(filter) {
		if ev.IPAddress != "" {
			seen[ev.IPAddress] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func fieldValue(ev *fromscratch.AnalyticsEvent, field fromscratch.EventField) string {
	switch field {
	case fromscratch.FieldEventType:
		return ev.EventType
	case fromscratch.FieldCountry:
		return ev.Country
	case fromscratch.FieldDevice:
		return ev.Device
	case fromscratch.FieldBrowser:
		return ev.Browser
	case fromscratch.FieldOS:
		return ev.OS
	}
	return ""
}

func sortedBuckets(counts map[string]int64, limit int) []fromscratch.BucketCount {
	out := make([]fromscratch.BucketCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, fromscratch.BucketCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (r *Repository) CountEventsByField(ctx context.Context, field fromscratch.EventField, filter fromscratch.EventFilter, limit int) ([]fromscratch.BucketCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, ev := range r.filtered(filter) {
		if v := fieldValue(ev, field); v != "" {
			counts[v]++
		}
	}
	return sortedBuckets(counts, limit), nil
}

func (r *Repository) TopPages(ctx context.Context, filter fromscratch.EventFilter, limit int) ([]fromscratch.BucketCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, ev := range r.filtered(filter) {
		if path := fromscratch.ResolvePagePath(ev); path != "" {
			counts[path]++
		}
	}
	return sortedBuckets(counts, limit), nil
}

func (r *Repository) DailyEventCounts(ctx context.Context, since time.Time) ([]fromscratch.DailyCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, ev := range r.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		counts[ev.Timestamp.Format("2006-01-02")]++
	}

	out := make([]fromscratch.DailyCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, fromscratch.DailyCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *Repository) OldestEventTime(ctx context.Context) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *time.Time
	for _, ev := range r.events {
		if oldest == nil || ev.Timestamp.Before(*oldest) {
			t := ev.Timestamp
			oldest = &t
		}
	}
	return oldest, nil
}

// Rate limiting

func (r *Repository) RegisterHit(ctx context.Context, sessionID string, max int, window time.Duration, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.rateWindows[sessionID]
	switch {
	case !exists, now.Sub(w.WindowStart) >= window:
		r.rateWindows[sessionID] = &fromscratch.RateLimitWindow{
			SessionID:   sessionID,
			EventCount:  1,
			WindowStart: now,
		}
		return true, nil
	case w.EventCount < max:
		w.EventCount++
		return true, nil
	default:
		return false, nil
	}
}

// Window returns a copy of the session's rate-limit window, if any.
func (r *Repository) Window(sessionID string) (fromscratch.RateLimitWindow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.rateWindows[sessionID]
	if !ok {
		return fromscratch.RateLimitWindow{}, false
	}
	return *w, true
}

// Post operations

func (r *Repository) CreatePost(ctx context.Context, post *fromscratch.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.postSlugs[post.Slug]; taken {
		return fromscratch.ErrSlugTaken
	}
	postCopy := *post
	r.posts[post.ID] = &postCopy
	r.postSlugs[post.Slug] = post.ID
	return nil
}

func (r *Repository) GetPost(ctx context.Context, id uuid.UUID) (*fromscratch.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	post, exists := r.posts[id]
	if !exists {
		return nil, fromscratch.ErrPostNotFound
	}
	postCopy := *post
	return &postCopy, nil
}

func (r *Repository) GetPostBySlug(ctx context.Context, slug string) (*fromscratch.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.postSlugs[slug]
	if !exists {
		return nil, fromscratch.ErrPostNotFound
	}
	postCopy := *r.posts[id]
	return &postCopy, nil
}

func (r *Repository) UpdatePost(ctx context.Context, post *fromscratch.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.posts[post.ID]
	if !exists {
		return fromscratch.ErrPostNotFound
	}
	if old.Slug != post.Slug {
		if owner, taken := r.postSlugs[post.Slug]; taken && owner != post.ID {
			return fromscratch.ErrSlugTaken
		}
		delete(r.postSlugs, old.Slug)
		r.postSlugs[post.Slug] = post.ID
	}
	postCopy := *post
	r.posts[post.ID] = &postCopy
	return nil
}

func (r *Repository) DeletePost(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, exists := r.posts[id]
	if !exists {
		return fromscratch.ErrPostNotFound
	}
	delete(r.postSlugs, post.Slug)
	delete(r.posts, id)
	return nil
}

func (r *Repository) ListPosts(ctx context.Context, filter fromscratch.PostFilter) ([]*fromscratch.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*fromscratch.Post
	for _, post := range r.posts {
		if !filter.IncludeDrafts && !post.IsPublished {
			continue
		}
		if filter.Category != "" && post.Category != filter.Category {
			continue
		}
		if filter.Tag != "" && !hasTag(post.Tags, filter.Tag) {
			continue
		}
		postCopy := *post
		out = append(out, &postCopy)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := postSortTime(out[i]), postSortTime(out[j])
		return ti.After(tj)
	})
	return out, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Published posts sort by publication date, drafts by creation date.
func postSortTime(p *fromscratch.Post) time.Time {
	if p.PublishedDate != nil {
		return *p.PublishedDate
	}
	return p.CreatedAt
}

// Project operations

func (r *Repository) CreateProject(ctx context.Context, project *fromscratch.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	projectCopy := *project
	r.projects[project.ID] = &projectCopy
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (*fromscratch.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, exists := r.projects[id]
	if !exists {
		return nil, fromscratch.ErrProjectNotFound
	}
	projectCopy := *project
	return &projectCopy, nil
}

func (r *Repository) UpdateProject(ctx context.Context, project *fromscratch.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[project.ID]; !exists {
		return fromscratch.ErrProjectNotFound
	}
	projectCopy := *project
	r.projects[project.ID] = &projectCopy
	return nil
}

func (r *Repository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[id]; !exists {
		return fromscratch.ErrProjectNotFound
	}
	delete(r.projects, id)
	return nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]*fromscratch.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*fromscratch.Project, 0, len(r.projects))
	for _, project := range r.projects {
		projectCopy := *project
		out = append(out, &projectCopy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Featured != out[j].Featured {
			return out[i].Featured
		}
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Preview token operations

func (r *Repository) CreatePreviewToken(ctx context.Context, token *fromscratch.PreviewToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokenCopy := *token
	r.tokens[token.Token] = &tokenCopy
	return nil
}

func (r *Repository) GetPreviewToken(ctx context.Context, token string) (*fromscratch.PreviewToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tokens[token]
	if !exists {
		return nil, fromscratch.ErrPreviewTokenNotFound
	}
	tokenCopy := *t
	return &tokenCopy, nil
}

func (r *Repository) DeletePreviewToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token]; !exists {
		return fromscratch.ErrPreviewTokenNotFound
	}
	delete(r.tokens, token)
	return nil
}

func (r *Repository) DeleteExpiredPreviewTokens(ctx context.Context, postID uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for key, t := range r.tokens {
		if t.PostID == postID && t.Expired(now) {
			delete(r.tokens, key)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) DeletePreviewTokensForPost(ctx context.Context, postID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, t := range r.tokens {
		if t.PostID == postID {
			delete(r.tokens, key)
		}
	}
	return nil
}
